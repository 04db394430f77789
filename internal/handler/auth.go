package handler

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/orop-community/orop-server/internal/auth"
	"github.com/orop-community/orop-server/internal/model"
	"github.com/orop-community/orop-server/internal/service"
)

// AuthHandler completes OAuth logins and serves the caller's own account.
//
// A successful login answers with the account and a session JWT, or, when a
// front URL is configured, redirects the browser to FRONT_URL?jwt=<token>.
type AuthHandler struct {
	directory *service.Directory
	discord   auth.Provider // nil when Discord login is not configured
	google    auth.Provider // nil when Google login is not configured
	frontURL  string
	logger    *slog.Logger
}

func NewAuthHandler(
	directory *service.Directory,
	discord auth.Provider,
	google auth.Provider,
	frontURL string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		directory: directory,
		discord:   discord,
		google:    google,
		frontURL:  frontURL,
		logger:    logger,
	}
}

// HandleDiscordLogin is the Discord OAuth redirect target.
//
// HTTP: GET /discord/login?code=xxx
func (h *AuthHandler) HandleDiscordLogin(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("discord login denied", slog.String("error", errParam))
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated", Message: "authorization denied"})
		return
	}
	h.login(w, r, h.discord, r.URL.Query().Get("code"))
}

type googleLoginRequest struct {
	Code string `json:"code"`
}

// HandleGoogleLogin exchanges the code obtained by the front end's Google
// sign-in.
//
// HTTP: POST /google/login
// REQUEST BODY: {"code": "4/0Ad..."}
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.login(w, r, h.google, req.Code)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, provider auth.Provider, code string) {
	if provider == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "login provider not configured"})
		return
	}

	res, err := h.directory.Login(r.Context(), provider, code)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if h.frontURL != "" {
		if target, err := url.Parse(h.frontURL); err == nil {
			q := target.Query()
			q.Set("jwt", res.Token)
			target.RawQuery = q.Encode()
			http.Redirect(w, r, target.String(), http.StatusSeeOther)
			return
		}
		h.logger.Warn("invalid front url, answering with JSON", slog.String("frontURL", h.frontURL))
	}
	writeJSON(w, http.StatusOK, res)
}

// userInfo is the caller's own account plus the rights it holds.
type userInfo struct {
	*model.Account
	Scribe bool `json:"scribe"`
}

// HandleMe returns the caller's account, API key included.
//
// HTTP: GET /user/infos
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}

	acc, err := h.directory.Me(r.Context(), caller.Account.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, userInfo{Account: acc, Scribe: h.directory.IsScribe(acc)})
}
