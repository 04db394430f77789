package handler

import (
	"log/slog"
	"net/http"

	"github.com/orop-community/orop-server/internal/service"
)

// CuratorHandler ingests the curator feed. Service accounts and scribes only.
type CuratorHandler struct {
	catalog *service.Catalog
	logger  *slog.Logger
}

func NewCuratorHandler(catalog *service.Catalog, logger *slog.Logger) *CuratorHandler {
	return &CuratorHandler{catalog: catalog, logger: logger}
}

type curatorEntryRequest struct {
	Titles        []string `json:"titles"`
	URL           string   `json:"url"`
	PublishedDate string   `json:"publishedDate"`
	VideoTitle    string   `json:"videoTitle"`
	Thumbnail     string   `json:"thumbnail"`
	Timestamp     *int     `json:"timestamp"`
	Rating        *float64 `json:"rating"`
	Review        *string  `json:"review"`
}

// HandleUpsert merges one curator entry.
//
// HTTP: POST /fporop
// REQUEST BODY:
//
//	{"titles": ["Catan"], "url": "https://...", "publishedDate": "03/05/2023",
//	 "videoTitle": "...", "thumbnail": "https://...", "rating": 4, "timestamp": 600}
func (h *CuratorHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req curatorEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	g, err := h.catalog.UpsertCurator(r.Context(), service.CuratorInput{
		Titles:        req.Titles,
		URL:           req.URL,
		PublishedDate: req.PublishedDate,
		VideoTitle:    req.VideoTitle,
		Thumbnail:     req.Thumbnail,
		Timestamp:     req.Timestamp,
		Rating:        req.Rating,
		Review:        req.Review,
	}, caller.Account.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type curatorRatingRequest struct {
	Title  string   `json:"title"`
	Rating *float64 `json:"rating"`
	Review *string  `json:"review"`
}

// HandleRating sets the curator's rating of a game.
//
// HTTP: POST /fporop/rating
// REQUEST BODY: {"title": "catan", "rating": 4, "review": "..."}
func (h *CuratorHandler) HandleRating(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}
	var req curatorRatingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	g, err := h.catalog.SetCuratorRating(r.Context(), req.Title, req.Rating, req.Review, caller.Account.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
