package handler

import (
	"log/slog"
	"net/http"

	"github.com/orop-community/orop-server/internal/service"
)

// RatingHandler serves community ratings. Writes are recorded under the
// caller's own userId; service accounts may name another member.
type RatingHandler struct {
	catalog *service.Catalog
	logger  *slog.Logger
}

func NewRatingHandler(catalog *service.Catalog, logger *slog.Logger) *RatingHandler {
	return &RatingHandler{catalog: catalog, logger: logger}
}

type upsertRatingRequest struct {
	Title         string   `json:"title"`
	UserID        string   `json:"userId"`
	Rating        *float64 `json:"rating"`
	Review        *string  `json:"review"`
	SkipSearchInc bool     `json:"skipSearchInc"`
}

// HandleUpsert records a rating, replacing the member's previous one.
//
// HTTP: POST /discordorop
// REQUEST BODY: {"title": "catan", "rating": 4, "review": "...", "skipSearchInc": false}
//
// RESPONSE: {"orop": {...}, "updated": false, "created": true}
// 201 when the game was created by this rating, 200 otherwise.
func (h *RatingHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req upsertRatingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.catalog.UpsertRating(r.Context(), service.RatingInput{
		Title:         req.Title,
		UserID:        caller.ActingUserID(req.UserID),
		Rating:        req.Rating,
		Review:        req.Review,
		SkipSearchInc: req.SkipSearchInc,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

type removeRatingRequest struct {
	Title  string `json:"title"`
	UserID string `json:"userId"`
	Rating bool   `json:"rating"`
	Review bool   `json:"review"`
}

// HandleRemove clears the caller's rating and/or review of a game.
//
// HTTP: PUT /discordorop/ratings/remove
// REQUEST BODY: {"title": "catan", "rating": true, "review": false}
func (h *RatingHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req removeRatingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	g, err := h.catalog.RemoveRating(r.Context(), req.Title, caller.ActingUserID(req.UserID), req.Rating, req.Review)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// HandleList returns the games the caller rated, 24 at a time.
//
// HTTP: GET /discordorop/ratings?skip=24&noLimit=false
func (h *RatingHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	skip, err := queryInt(r, "skip")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	noLimit, err := queryBool(r, "noLimit")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	userID := caller.ActingUserID(r.URL.Query().Get("userId"))
	games, err := h.catalog.RatingsByUser(r.Context(), userID, skip, noLimit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}
