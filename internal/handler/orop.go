package handler

import (
	"log/slog"
	"net/http"

	"github.com/orop-community/orop-server/internal/service"
)

// OropHandler serves the game queries and the ask and daily-pick actions.
type OropHandler struct {
	catalog *service.Catalog
	logger  *slog.Logger
}

func NewOropHandler(catalog *service.Catalog, logger *slog.Logger) *OropHandler {
	return &OropHandler{catalog: catalog, logger: logger}
}

// HandleGet returns one game by exact title.
//
// HTTP: GET /orop?title=catan&skipSearchInc=true
func (h *OropHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	skip, err := queryBool(r, "skipSearchInc")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	g, err := h.catalog.GetByTitle(r.Context(), r.URL.Query().Get("title"), skip)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// HandleSearch returns games whose title contains the fragment.
//
// HTTP: GET /orop/search?title=cat&oropOnly=true
func (h *OropHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	curatedOnly, err := queryBool(r, "oropOnly")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	games, err := h.catalog.Search(r.Context(), r.URL.Query().Get("title"), curatedOnly)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

// HandleList returns one page of the catalog.
//
// HTTP: GET /orop/all?page=2&limit=10&oropOnly=false
//
// RESPONSE: {"data": [...], "currentPage": 2, "totalPages": 3, "totalDocuments": 30}
func (h *OropHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	curatedOnly, err := queryBool(r, "oropOnly")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.catalog.List(r.Context(), page, limit, curatedOnly)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleTopSearched returns the most searched games.
//
// HTTP: GET /orop/top/searched?limit=10&withVideo=true
func (h *OropHandler) HandleTopSearched(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	withVideo, err := queryBool(r, "withVideo")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	games, err := h.catalog.TopSearched(r.Context(), limit, withVideo)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

// HandleTopRated returns the best rated games. The window is applied after
// the limit.
//
// HTTP: GET /orop/top/rated?limit=10&onlyFP=true&sliceStart=0&sliceEnd=5
func (h *OropHandler) HandleTopRated(w http.ResponseWriter, r *http.Request) {
	var (
		win service.RankWindow
		err error
	)
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &win.Limit},
		{"sliceStart", &win.SliceStart},
		{"sliceEnd", &win.SliceEnd},
	} {
		if *p.dst, err = queryInt(r, p.name); err != nil {
			writeError(w, h.logger, err)
			return
		}
	}
	if win.CuratedOnly, err = queryBool(r, "onlyFP"); err != nil {
		writeError(w, h.logger, err)
		return
	}

	games, err := h.catalog.TopRated(r.Context(), win)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

// HandleTopAsked returns the games most asked for a review.
//
// HTTP: GET /orop/top/asked
func (h *OropHandler) HandleTopAsked(w http.ResponseWriter, r *http.Request) {
	games, err := h.catalog.TopAsked(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, games)
}

// HandleAsk records that the caller wants the curator to review a game.
//
// HTTP: POST /orop/ask?title=catan
func (h *OropHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerOf(w, r)
	if !ok {
		return
	}

	userID := caller.ActingUserID(r.URL.Query().Get("userId"))
	g, err := h.catalog.Ask(r.Context(), r.URL.Query().Get("title"), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// HandleDailyPick draws the game of the day. Service callers only.
//
// HTTP: GET /one-day-one-game
func (h *OropHandler) HandleDailyPick(w http.ResponseWriter, r *http.Request) {
	g, err := h.catalog.DailyPick(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
