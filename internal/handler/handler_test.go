package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/auth"
	"github.com/orop-community/orop-server/internal/cache"
	"github.com/orop-community/orop-server/internal/handler"
	"github.com/orop-community/orop-server/internal/logger"
	"github.com/orop-community/orop-server/internal/media"
	"github.com/orop-community/orop-server/internal/model"
	"github.com/orop-community/orop-server/internal/pagination"
	"github.com/orop-community/orop-server/internal/repository/sqlite"
	"github.com/orop-community/orop-server/internal/service"
)

// testEnv wires every handler on an in-memory database. Requests are made
// as `as`, injected straight into the context.
type testEnv struct {
	db     *sqlite.DB
	router chi.Router
	as     *auth.Caller
	finder *fakeFinder
	login  *fakeProvider
	dir    *service.Directory
}

type fakeFinder struct{ video *media.Video }

func (f *fakeFinder) Enabled() bool { return true }
func (f *fakeFinder) Find(context.Context, string) (*media.Video, error) {
	return f.video, nil
}

type fakeProvider struct {
	identity *model.ProviderIdentity
	err      error
}

func (f *fakeProvider) Exchange(context.Context, string) (*model.ProviderIdentity, error) {
	return f.identity, f.err
}

func newTestEnv(t *testing.T, frontURL string) *testEnv {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.Discard()
	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", "orop-test", time.Hour)
	require.NoError(t, err)

	env := &testEnv{
		db:     db,
		as:     &auth.Caller{Account: &model.Account{UserID: "u1", Type: model.AccountDiscord}},
		finder: &fakeFinder{},
		login:  &fakeProvider{},
	}
	enricher := service.NewEnricher(db.Accounts())
	catalog := service.NewCatalog(db, enricher, cache.Noop{}, log)
	discovery := service.NewDiscovery(db, env.finder, enricher, cache.Noop{}, log)
	env.dir = service.NewDirectory(db.Accounts(), tokens, auth.NewRoleSet([]string{"scribe"}), log)

	orop := handler.NewOropHandler(catalog, log)
	games := handler.NewBoardgameHandler(catalog, discovery, log)
	curator := handler.NewCuratorHandler(catalog, log)
	ratings := handler.NewRatingHandler(catalog, log)
	authH := handler.NewAuthHandler(env.dir, env.login, nil, frontURL, log)

	r := chi.NewRouter()
	r.Get("/discord/login", authH.HandleDiscordLogin)
	r.Post("/google/login", authH.HandleGoogleLogin)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(auth.WithCaller(req.Context(), env.as)))
			})
		})
		r.Get("/orop", orop.HandleGet)
		r.Get("/orop/all", orop.HandleList)
		r.Get("/orop/top/rated", orop.HandleTopRated)
		r.Post("/orop/ask", orop.HandleAsk)
		r.Post("/boardgame", games.HandleCreate)
		r.Put("/boardgame/{id}", games.HandleUpdate)
		r.Delete("/boardgame/{id}", games.HandleDelete)
		r.Get("/boardgame/{id}/youtube", games.HandleDiscover)
		r.Post("/fporop", curator.HandleUpsert)
		r.Post("/discordorop", ratings.HandleUpsert)
		r.Put("/discordorop/ratings/remove", ratings.HandleRemove)
		r.Get("/discordorop/ratings", ratings.HandleList)
		r.Get("/user/infos", authH.HandleMe)
	})
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

// =========================================================================
// QUERY HANDLERS
// =========================================================================

func TestOropHandler_Get(t *testing.T) {
	env := newTestEnv(t, "")

	t.Run("missing title", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/orop", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "validation_error", decode[handler.ErrorResponse](t, rr).Error)
	})

	t.Run("unknown title", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/orop?title=catan", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "not_found", decode[handler.ErrorResponse](t, rr).Error)
	})

	t.Run("bad boolean", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/orop?title=catan&skipSearchInc=maybe", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("found", func(t *testing.T) {
		require.NoError(t, env.db.Create(context.Background(), &model.Game{Titles: []string{"catan"}}))
		rr := env.do(t, http.MethodGet, "/orop?title=Catan", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		body := rr.Body.String()
		assert.Contains(t, body, `"communityRating":null`)

		var g model.Game
		require.NoError(t, json.Unmarshal([]byte(body), &g))
		assert.EqualValues(t, 1, g.SearchCount)
	})
}

func TestOropHandler_ListPaging(t *testing.T) {
	env := newTestEnv(t, "")
	for _, title := range []string{"a", "b", "c"} {
		require.NoError(t, env.db.Create(context.Background(), &model.Game{Titles: []string{title}}))
	}

	rr := env.do(t, http.MethodGet, "/orop/all?page=2&limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	res := decode[pagination.Result[model.Game]](t, rr)
	assert.Equal(t, 2, res.CurrentPage)
	assert.Equal(t, 2, res.TotalPages)
	assert.EqualValues(t, 3, res.TotalDocuments)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "c", res.Data[0].FirstTitle())
}

// =========================================================================
// RATING HANDLERS
// =========================================================================

func TestRatingHandler_Upsert(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(t, http.MethodPost, "/discordorop", map[string]any{"title": "Catan", "rating": 4})
	require.Equal(t, http.StatusCreated, rr.Code)
	res := decode[model.RatingUpsert](t, rr)
	assert.True(t, res.Created)
	assert.Equal(t, "u1", res.Game.CommunityRatings[0].UserID)

	rr = env.do(t, http.MethodPost, "/discordorop", map[string]any{"title": "catan", "rating": 2})
	require.Equal(t, http.StatusOK, rr.Code)
	res = decode[model.RatingUpsert](t, rr)
	assert.True(t, res.Updated)
	assert.Len(t, res.Game.CommunityRatings, 1)

	rr = env.do(t, http.MethodPost, "/discordorop", map[string]any{"title": "catan"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "rating is required", decode[handler.ErrorResponse](t, rr).Message)

	rr = env.do(t, http.MethodPost, "/discordorop", "{not json")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRatingHandler_UserIDOverride(t *testing.T) {
	env := newTestEnv(t, "")

	// a member cannot write for someone else
	rr := env.do(t, http.MethodPost, "/discordorop", map[string]any{"title": "catan", "rating": 4, "userId": "u9"})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "u1", decode[model.RatingUpsert](t, rr).Game.CommunityRatings[0].UserID)

	env.as = &auth.Caller{Account: &model.Account{UserID: "svc", Type: model.AccountService}}
	rr = env.do(t, http.MethodPost, "/discordorop", map[string]any{"title": "catan", "rating": 3, "userId": "u9"})
	require.Equal(t, http.StatusOK, rr.Code)
	g := decode[model.RatingUpsert](t, rr).Game
	require.Len(t, g.CommunityRatings, 2)
	assert.NotNil(t, g.RatingBy("u9"))

	rr = env.do(t, http.MethodGet, "/discordorop/ratings?userId=u9", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]model.Game](t, rr), 1)
}

func TestRatingHandler_Remove(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(t, http.MethodPost, "/discordorop", map[string]any{"title": "catan", "rating": 4})

	rr := env.do(t, http.MethodPut, "/discordorop/ratings/remove", map[string]any{"title": "catan"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPut, "/discordorop/ratings/remove", map[string]any{"title": "catan", "rating": true, "review": true})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[model.Game](t, rr).CommunityRatings)

	rr = env.do(t, http.MethodPut, "/discordorop/ratings/remove", map[string]any{"title": "catan", "rating": true})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// =========================================================================
// BOARDGAME AND CURATOR HANDLERS
// =========================================================================

func TestBoardgameHandler_Lifecycle(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(t, http.MethodPost, "/boardgame", map[string]any{"titles": []string{"Catan"}})
	require.Equal(t, http.StatusCreated, rr.Code)
	g := decode[model.Game](t, rr)
	assert.Equal(t, model.StatusPending, g.Status)

	rr = env.do(t, http.MethodPost, "/boardgame", map[string]any{"titles": []string{"catan"}})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPut, "/boardgame/"+g.ID, map[string]any{
		"titles": []string{"catan", "settlers"},
		"status": "validated",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	updated := decode[model.Game](t, rr)
	assert.Equal(t, model.StatusValidated, updated.Status)
	assert.Equal(t, "u1", updated.LastUpdatedBy)

	rr = env.do(t, http.MethodDelete, "/boardgame/"+g.ID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = env.do(t, http.MethodDelete, "/boardgame/"+g.ID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBoardgameHandler_Discover(t *testing.T) {
	env := newTestEnv(t, "")
	g := &model.Game{Titles: []string{"azul"}}
	require.NoError(t, env.db.Create(context.Background(), g))

	rr := env.do(t, http.MethodGet, "/boardgame/"+g.ID+"/youtube", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	env.finder.video = &media.Video{URL: "https://www.youtube.com/watch?v=a&list=PL", PublishedDate: "01/02/2024", VideoTitle: "v", Thumbnail: "t"}
	rr = env.do(t, http.MethodGet, "/boardgame/"+g.ID+"/youtube", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "https://www.youtube.com/watch?v=a&list=PL", decode[model.Game](t, rr).Curator.URL)

	rr = env.do(t, http.MethodGet, "/boardgame/"+g.ID+"/youtube", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	rr = env.do(t, http.MethodGet, "/boardgame/"+g.ID+"/youtube?force=true", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCuratorHandler_Upsert(t *testing.T) {
	env := newTestEnv(t, "")
	entry := map[string]any{
		"titles":        []string{"Catan"},
		"url":           "https://youtu.be/a",
		"publishedDate": "03/05/2023",
		"videoTitle":    "OROP",
		"thumbnail":     "https://img",
		"rating":        4,
	}

	rr := env.do(t, http.MethodPost, "/fporop", entry)
	require.Equal(t, http.StatusOK, rr.Code)
	first := decode[model.Game](t, rr)

	entry["titles"] = []string{"CATAN", "Settlers"}
	rr = env.do(t, http.MethodPost, "/fporop", entry)
	require.Equal(t, http.StatusOK, rr.Code)
	second := decode[model.Game](t, rr)
	assert.Equal(t, first.ID, second.ID)
	assert.ElementsMatch(t, []string{"catan", "settlers"}, second.Titles)

	delete(entry, "thumbnail")
	rr = env.do(t, http.MethodPost, "/fporop", entry)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =========================================================================
// AUTH HANDLERS
// =========================================================================

func TestAuthHandler_DiscordLogin(t *testing.T) {
	env := newTestEnv(t, "")
	env.login.identity = &model.ProviderIdentity{Provider: model.AccountDiscord, ProviderID: "42", Username: "meeple", Roles: []string{"scribe"}}

	rr := env.do(t, http.MethodGet, "/discord/login?code=abc", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	res := decode[service.LoginResult](t, rr)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "42", res.Account.UserID)

	env.as = &auth.Caller{Account: res.Account}
	rr = env.do(t, http.MethodGet, "/user/infos", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `"scribe":true`)
	assert.Contains(t, body, res.Account.APIKey)
	assert.NotContains(t, body, "accessToken")
}

func TestAuthHandler_RedirectsToFront(t *testing.T) {
	env := newTestEnv(t, "https://orop.example/login")
	env.login.identity = &model.ProviderIdentity{Provider: model.AccountDiscord, ProviderID: "42", Username: "meeple"}

	rr := env.do(t, http.MethodGet, "/discord/login?code=abc", nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(loc.String(), "https://orop.example/login?"))
	assert.NotEmpty(t, loc.Query().Get("jwt"))
}

func TestAuthHandler_Errors(t *testing.T) {
	env := newTestEnv(t, "")

	env.login.err = apperror.Unauthenticated("Discord rejected the authorization code")
	rr := env.do(t, http.MethodGet, "/discord/login?code=bad", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	env.login.err = apperror.Upstream("Discord", assert.AnError)
	rr = env.do(t, http.MethodGet, "/discord/login?code=abc", nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	msg := decode[handler.ErrorResponse](t, rr)
	assert.Equal(t, "upstream_error", msg.Error)
	assert.NotContains(t, msg.Message, assert.AnError.Error())

	// google is not configured in this env
	rr = env.do(t, http.MethodPost, "/google/login", map[string]string{"code": "abc"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
