package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/logger"
	"github.com/orop-community/orop-server/internal/model"
)

// fakeResolver knows one account per key and per session token.
type fakeResolver struct {
	byKey     map[string]*model.Account
	bySession map[string]*model.Account
	scribes   RoleSet
	err       error
}

func (f *fakeResolver) ResolveByAPIKey(_ context.Context, key string) (*model.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	if acc, ok := f.byKey[key]; ok {
		return acc, nil
	}
	return nil, apperror.Unauthenticated("invalid api key")
}

func (f *fakeResolver) ResolveSession(_ context.Context, token string) (*model.Account, error) {
	if acc, ok := f.bySession[token]; ok {
		return acc, nil
	}
	return nil, apperror.Unauthenticated("invalid session")
}

func (f *fakeResolver) IsScribe(acc *model.Account) bool {
	return f.scribes.Intersects(acc.Roles())
}

var (
	member = &model.Account{UserID: "1", Type: model.AccountDiscord, Discord: &model.ProviderLink{ID: "1"}}
	scribe = &model.Account{UserID: "2", Type: model.AccountDiscord, Discord: &model.ProviderLink{ID: "2", Roles: []string{"r-scribe"}}}
	bot    = &model.Account{UserID: "svc", Type: model.AccountService}
)

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		byKey:     map[string]*model.Account{"k-member": member, "k-scribe": scribe, "k-bot": bot},
		bySession: map[string]*model.Account{"jwt-member": member},
		scribes:   NewRoleSet([]string{"r-scribe"}),
	}
}

// echoCaller writes the resolved userId.
var echoCaller = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	c, ok := CallerFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	_, _ = w.Write([]byte(c.Account.UserID))
})

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantBody   string
	}{
		{"api key", map[string]string{"apikey": "k-member"}, http.StatusOK, "1"},
		{"bearer session", map[string]string{"Authorization": "Bearer jwt-member"}, http.StatusOK, "1"},
		{"lowercase bearer", map[string]string{"Authorization": "bearer jwt-member"}, http.StatusOK, "1"},
		{"api key wins over session", map[string]string{"apikey": "k-bot", "Authorization": "Bearer jwt-member"}, http.StatusOK, "svc"},
		{"unknown key", map[string]string{"apikey": "nope"}, http.StatusUnauthorized, ""},
		{"unknown session", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, ""},
		{"no credential", nil, http.StatusUnauthorized, ""},
		{"basic auth ignored", map[string]string{"Authorization": "Basic Zm9vOmJhcg=="}, http.StatusUnauthorized, ""},
	}

	h := Authenticate(newFakeResolver(), logger.Discard())(echoCaller)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestAuthenticate_StoreFailureIs500(t *testing.T) {
	r := newFakeResolver()
	r.err = errors.New("sqlite: database is locked")
	h := Authenticate(r, logger.Discard())(echoCaller)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("apikey", "k-member")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRoleGuards(t *testing.T) {
	tests := []struct {
		name  string
		guard func(http.Handler) http.Handler
		key   string
		want  int
	}{
		{"service: bot", RequireService, "k-bot", http.StatusOK},
		{"service: scribe", RequireService, "k-scribe", http.StatusForbidden},
		{"scribe: scribe", RequireScribe, "k-scribe", http.StatusOK},
		{"scribe: bot", RequireScribe, "k-bot", http.StatusForbidden},
		{"scribe: member", RequireScribe, "k-member", http.StatusForbidden},
		{"either: bot", RequireServiceOrScribe, "k-bot", http.StatusOK},
		{"either: scribe", RequireServiceOrScribe, "k-scribe", http.StatusOK},
		{"either: member", RequireServiceOrScribe, "k-member", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Authenticate(newFakeResolver(), logger.Discard())(tt.guard(echoCaller))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("apikey", tt.key)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestActingUserID(t *testing.T) {
	svc := &Caller{Account: bot}
	if got := svc.ActingUserID("42"); got != "42" {
		t.Errorf("service ActingUserID = %q, want 42", got)
	}
	if got := svc.ActingUserID(""); got != "svc" {
		t.Errorf("service ActingUserID without override = %q, want svc", got)
	}

	m := &Caller{Account: member}
	if got := m.ActingUserID("42"); got != "1" {
		t.Errorf("member ActingUserID = %q, want own id 1", got)
	}
}

func TestRoleSet(t *testing.T) {
	set := NewRoleSet([]string{" a ", "", "b"})
	if !set.Intersects([]string{"x", "b"}) {
		t.Error("Intersects() = false, want true")
	}
	if set.Intersects([]string{"x"}) {
		t.Error("Intersects() = true for a role outside the set")
	}
	if NewRoleSet(nil).Intersects([]string{"a"}) {
		t.Error("empty set must grant nothing")
	}
}
