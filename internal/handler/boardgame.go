package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orop-community/orop-server/internal/model"
	"github.com/orop-community/orop-server/internal/service"
)

// BoardgameHandler lets members propose games and scribes edit them.
type BoardgameHandler struct {
	catalog   *service.Catalog
	discovery *service.Discovery
	logger    *slog.Logger
}

func NewBoardgameHandler(catalog *service.Catalog, discovery *service.Discovery, logger *slog.Logger) *BoardgameHandler {
	return &BoardgameHandler{catalog: catalog, discovery: discovery, logger: logger}
}

type createGameRequest struct {
	Titles []string `json:"titles"`
}

// HandleCreate adds a pending game.
//
// HTTP: POST /boardgame
// REQUEST BODY: {"titles": ["Catan", "Settlers of Catan"]}
func (h *BoardgameHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req createGameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	g, err := h.catalog.CreateGame(r.Context(), req.Titles, caller.Account.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

type updateGameRequest struct {
	Titles  []string            `json:"titles"`
	Status  model.Status        `json:"status"`
	Curator *model.CuratorEntry `json:"curator"`
}

// HandleUpdate replaces the titles, status and curator entry of a game.
// Scribes only.
//
// HTTP: PUT /boardgame/{id}
func (h *BoardgameHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req updateGameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	g, err := h.catalog.UpdateGame(r.Context(), chi.URLParam(r, "id"), service.GameUpdate{
		Titles:  req.Titles,
		Status:  req.Status,
		Curator: req.Curator,
	}, caller.Account.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// HandleDelete removes a game. Scribes only.
//
// HTTP: DELETE /boardgame/{id}
func (h *BoardgameHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	if err := h.catalog.DeleteGame(r.Context(), chi.URLParam(r, "id"), caller.Account.UserID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDiscover looks the game up in the curator's playlist.
//
// HTTP: GET /boardgame/{id}/youtube?force=true
func (h *BoardgameHandler) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	force, err := queryBool(r, "force")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	g, err := h.discovery.Discover(r.Context(), chi.URLParam(r, "id"), force, caller.Account.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
