package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/model"
)

// contextKey keeps our context values out of reach of other packages.
type contextKey string

const callerKey contextKey = "caller"

// APIKeyHeader carries the opaque account key.
const APIKeyHeader = "apikey"

// Resolver maps a credential to an account. service.Directory implements it.
type Resolver interface {
	ResolveByAPIKey(ctx context.Context, key string) (*model.Account, error)
	ResolveSession(ctx context.Context, token string) (*model.Account, error)
	IsScribe(acc *model.Account) bool
}

// Caller is the authenticated account behind a request.
type Caller struct {
	Account *model.Account
	Scribe  bool
}

// IsService reports whether the caller is a non-human service account.
func (c *Caller) IsService() bool {
	return c != nil && c.Account != nil && c.Account.Type == model.AccountService
}

// ActingUserID is the userId a write is recorded under: the caller's own,
// unless a service caller names someone else.
func (c *Caller) ActingUserID(requested string) string {
	if c.IsService() && requested != "" {
		return requested
	}
	return c.Account.UserID
}

// Authenticate resolves the apikey header, or else a Bearer session token,
// into a Caller stored in the request context. Requests without a valid
// credential stop here with 401.
func Authenticate(resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc, err := resolve(r, resolver)
			if err != nil {
				if errors.Is(err, apperror.ErrUnauthenticated) {
					writeAuthError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
					return
				}
				logger.Error("resolving caller", slog.String("error", err.Error()))
				writeAuthError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
				return
			}

			caller := &Caller{Account: acc, Scribe: resolver.IsScribe(acc)}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// RequireService lets only service accounts through.
func RequireService(next http.Handler) http.Handler {
	return require(next, "service account required", func(c *Caller) bool {
		return c.IsService()
	})
}

// RequireScribe lets only accounts holding a scribe role through.
func RequireScribe(next http.Handler) http.Handler {
	return require(next, "scribe role required", func(c *Caller) bool {
		return c.Scribe
	})
}

// RequireServiceOrScribe lets service accounts and scribes through.
func RequireServiceOrScribe(next http.Handler) http.Handler {
	return require(next, "service account or scribe role required", func(c *Caller) bool {
		return c.IsService() || c.Scribe
	})
}

func require(next http.Handler, message string, allowed func(*Caller) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, "unauthenticated", "valid authentication required")
			return
		}
		if !allowed(caller) {
			writeAuthError(w, http.StatusForbidden, "forbidden", message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithCaller returns a copy of ctx carrying c.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext returns the caller set by Authenticate.
func CallerFromContext(ctx context.Context) (*Caller, bool) {
	c, ok := ctx.Value(callerKey).(*Caller)
	return c, ok && c != nil && c.Account != nil
}

func resolve(r *http.Request, resolver Resolver) (*model.Account, error) {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return resolver.ResolveByAPIKey(r.Context(), key)
	}
	if token, ok := bearerToken(r); ok {
		return resolver.ResolveSession(r.Context(), token)
	}
	return nil, apperror.Unauthenticated("valid authentication required")
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": kind, "message": message})
}
