// Package service holds the business rules of the server.
//
//	Handler (HTTP) → Catalog / Directory / Discovery → repository (SQLite or MongoDB)
//	                                                  ↘ Enricher, cache.Rankings
//
// Services validate and normalize input, run the upsert protocols on top of
// the single-write repository primitives, and enrich every game they return.
// They never touch HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/cache"
	"github.com/orop-community/orop-server/internal/model"
	"github.com/orop-community/orop-server/internal/pagination"
	"github.com/orop-community/orop-server/internal/rating"
	"github.com/orop-community/orop-server/internal/repository"
)

const (
	searchLimit     = 24
	rankingDefault  = 10
	rankingMax      = 24
	topAskedLimit   = 10
	ratingsPageSize = 24
	dailyPickMonths = 6
	dailyPickTries  = 3
	maxRating       = 5.0
)

// Catalog runs every game operation.
type Catalog struct {
	games    repository.GameRepository
	enricher *Enricher
	rankings cache.Rankings
	logger   *slog.Logger
	now      func() time.Time
}

// NewCatalog builds the catalog over games. rankings may be cache.Noop{}.
func NewCatalog(
	games repository.GameRepository,
	enricher *Enricher,
	rankings cache.Rankings,
	logger *slog.Logger,
) *Catalog {
	if rankings == nil {
		rankings = cache.Noop{}
	}
	return &Catalog{
		games:    games,
		enricher: enricher,
		rankings: rankings,
		logger:   logger,
		now:      time.Now,
	}
}

// =========================================================================
// QUERIES
// =========================================================================

// GetByTitle returns the game owning title, counting the lookup as a search
// unless skipSearchInc is set.
func (c *Catalog) GetByTitle(ctx context.Context, title string, skipSearchInc bool) (*model.Game, error) {
	title, err := requireTitle(title)
	if err != nil {
		return nil, err
	}
	g, err := c.games.GetByTitle(ctx, title, !skipSearchInc)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: getting %q: %w", title, err)
	}
	return c.one(ctx, g)
}

// Search returns up to 24 games with a title containing fragment.
func (c *Catalog) Search(ctx context.Context, fragment string, curatedOnly bool) ([]model.Game, error) {
	fragment, err := requireTitle(fragment)
	if err != nil {
		return nil, err
	}
	games, err := c.games.Search(ctx, fragment, repository.ListOptions{Limit: searchLimit, CuratedOnly: curatedOnly})
	if err != nil {
		return nil, fmt.Errorf("service/catalog: searching %q: %w", fragment, err)
	}
	return c.many(ctx, games)
}

// List returns one page of games sorted by first title.
func (c *Catalog) List(ctx context.Context, page, limit int, curatedOnly bool) (pagination.Result[model.Game], error) {
	p := pagination.New(page, limit)
	games, total, err := c.games.List(ctx, repository.ListOptions{
		Limit:       p.Limit,
		Offset:      p.Offset(),
		CuratedOnly: curatedOnly,
	})
	if err != nil {
		return pagination.Result[model.Game]{}, fmt.Errorf("service/catalog: listing page %d: %w", p.Number, err)
	}
	games, err = c.many(ctx, games)
	if err != nil {
		return pagination.Result[model.Game]{}, err
	}
	return pagination.NewResult(games, p, total), nil
}

// TopSearched returns the most searched games. limit defaults to 10, max 24.
func (c *Catalog) TopSearched(ctx context.Context, limit int, withVideo bool) ([]model.Game, error) {
	limit = pagination.Clamp(limit, rankingDefault, rankingMax)
	key := fmt.Sprintf("top-searched:%d:%t", limit, withVideo)

	return c.cached(ctx, key, func() ([]model.Game, error) {
		games, err := c.games.TopSearched(ctx, repository.ListOptions{Limit: limit, CuratedOnly: withVideo})
		if err != nil {
			return nil, fmt.Errorf("service/catalog: top searched: %w", err)
		}
		return c.many(ctx, games)
	})
}

// RankWindow selects part of the top-rated ranking: the first Limit games
// (default 10, max 24), then the [SliceStart, SliceEnd) window of those.
// SliceEnd 0 means up to the end.
type RankWindow struct {
	Limit       int
	CuratedOnly bool
	SliceStart  int
	SliceEnd    int
}

// TopRated ranks games by rounded community rating, then number of ratings,
// then first title.
func (c *Catalog) TopRated(ctx context.Context, w RankWindow) ([]model.Game, error) {
	w.Limit = pagination.Clamp(w.Limit, rankingDefault, rankingMax)
	key := fmt.Sprintf("top-rated:%d:%t:%d:%d", w.Limit, w.CuratedOnly, w.SliceStart, w.SliceEnd)

	return c.cached(ctx, key, func() ([]model.Game, error) {
		games, err := c.games.ListRated(ctx, repository.ListOptions{CuratedOnly: w.CuratedOnly})
		if err != nil {
			return nil, fmt.Errorf("service/catalog: top rated: %w", err)
		}
		rating.SortTopRated(games)
		if len(games) > w.Limit {
			games = games[:w.Limit]
		}
		return c.many(ctx, window(games, w.SliceStart, w.SliceEnd))
	})
}

// TopAsked returns up to 10 games without a curator video, most asked first.
func (c *Catalog) TopAsked(ctx context.Context) ([]model.Game, error) {
	return c.cached(ctx, "top-asked", func() ([]model.Game, error) {
		games, err := c.games.TopAsked(ctx, topAskedLimit)
		if err != nil {
			return nil, fmt.Errorf("service/catalog: top asked: %w", err)
		}
		return c.many(ctx, games)
	})
}

// RatingsByUser returns the games userID rated, 24 at a time after skip
// unless noLimit is set.
func (c *Catalog) RatingsByUser(ctx context.Context, userID string, skip int, noLimit bool) ([]model.Game, error) {
	opts := repository.ListOptions{Offset: max(skip, 0)}
	if !noLimit {
		opts.Limit = ratingsPageSize
	}
	games, err := c.games.ListRatedBy(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: ratings of %s: %w", userID, err)
	}
	return c.many(ctx, games)
}

// DailyPick draws a game not picked in the last six months and stamps it.
// A draw that loses a race against a concurrent pick is retried with a
// fresh sample.
func (c *Catalog) DailyPick(ctx context.Context) (*model.Game, error) {
	var err error
	for attempt := 0; attempt < dailyPickTries; attempt++ {
		now := c.now().UTC()
		var g *model.Game
		g, err = c.games.PickDaily(ctx, now.AddDate(0, -dailyPickMonths, 0), now)
		if err == nil {
			return c.one(ctx, g)
		}
		if !errors.Is(err, apperror.ErrConflict) {
			break
		}
		c.logger.Debug("daily pick lost a race, drawing again", slog.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("service/catalog: daily pick: %w", err)
}

// =========================================================================
// COMMUNITY WRITES
// =========================================================================

// Ask records that userID wants the curator to review title, creating a
// pending game when nobody knows it yet.
func (c *Catalog) Ask(ctx context.Context, title, userID string) (*model.Game, error) {
	title, err := requireTitle(title)
	if err != nil {
		return nil, err
	}

	g, err := c.games.AddAsker(ctx, title, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		g = &model.Game{
			Titles:        []string{title},
			AskedBy:       []string{userID},
			SearchCount:   1,
			Status:        model.StatusPending,
			LastUpdatedBy: userID,
		}
		err = c.games.Create(ctx, g)
		if errors.Is(err, apperror.ErrConflict) {
			// created concurrently
			g, err = c.games.AddAsker(ctx, title, userID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("service/catalog: asking for %q: %w", title, err)
	}

	c.invalidate(ctx)
	return c.one(ctx, g)
}

// CreateGame adds a pending game. Conflict when any title is already known.
func (c *Catalog) CreateGame(ctx context.Context, titles []string, userID string) (*model.Game, error) {
	titles = model.NormalizeTitles(titles)
	if len(titles) == 0 {
		return nil, apperror.ValidationFailed("titles", "at least one title is required")
	}

	g := &model.Game{
		Titles:        titles,
		SearchCount:   1,
		Status:        model.StatusPending,
		LastUpdatedBy: userID,
	}
	if err := c.games.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("service/catalog: creating game: %w", err)
	}

	c.logger.Info("game created", slog.String("gameID", g.ID), slog.String("title", g.FirstTitle()))
	c.invalidate(ctx)
	return c.one(ctx, g)
}

// RatingInput is a community rating write. Rating is required.
type RatingInput struct {
	Title         string
	UserID        string
	Rating        *float64
	Review        *string
	SkipSearchInc bool
}

// UpsertRating records userID's rating of title: it replaces their existing
// rating, else appends one to the game, else creates a pending game. Each
// step is a single conditional write; when a later step loses a race with a
// concurrent writer the whole sequence runs once more.
func (c *Catalog) UpsertRating(ctx context.Context, in RatingInput) (*model.RatingUpsert, error) {
	title, err := requireTitle(in.Title)
	if err != nil {
		return nil, err
	}
	if in.UserID == "" {
		return nil, apperror.ValidationFailed("userId", "userId is required")
	}
	if in.Rating == nil {
		return nil, apperror.ValidationFailed("rating", "rating is required")
	}
	if err := checkRating(*in.Rating); err != nil {
		return nil, err
	}

	r := model.CommunityRating{
		UserID:       in.UserID,
		Rating:       in.Rating,
		Review:       nonEmpty(in.Review),
		LastEditedAt: c.now().UTC(),
	}

	var res *model.RatingUpsert
	for attempt := 0; attempt < 2; attempt++ {
		res, err = c.upsertRatingOnce(ctx, title, r, !in.SkipSearchInc)
		if err == nil || !errors.Is(err, apperror.ErrConflict) {
			break
		}
		c.logger.Debug("rating upsert raced, retrying", slog.String("title", title), slog.String("userID", in.UserID))
	}
	if err != nil {
		return nil, fmt.Errorf("service/catalog: rating %q by %s: %w", title, in.UserID, err)
	}

	c.invalidate(ctx)
	if res.Game, err = c.one(ctx, res.Game); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Catalog) upsertRatingOnce(ctx context.Context, title string, r model.CommunityRating, incSearch bool) (*model.RatingUpsert, error) {
	g, err := c.games.ReplaceRating(ctx, title, r, incSearch)
	if err == nil {
		return &model.RatingUpsert{Game: g, Updated: true}, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	g, err = c.games.AppendRating(ctx, title, r)
	if err == nil {
		return &model.RatingUpsert{Game: g}, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	// Either nobody knows the title, or r.UserID rated it between the two
	// writes above. Create settles it: a title conflict means the game exists
	// and the caller retries from the top.
	g = &model.Game{
		Titles:           []string{title},
		CommunityRatings: []model.CommunityRating{r},
		SearchCount:      1,
		Status:           model.StatusPending,
		LastUpdatedBy:    r.UserID,
	}
	if err := c.games.Create(ctx, g); err != nil {
		return nil, err
	}
	return &model.RatingUpsert{Game: g, Created: true}, nil
}

// RemoveRating clears the rating and/or review userID left on title. The
// entry disappears once both are empty.
func (c *Catalog) RemoveRating(ctx context.Context, title, userID string, clearRating, clearReview bool) (*model.Game, error) {
	title, err := requireTitle(title)
	if err != nil {
		return nil, err
	}
	if !clearRating && !clearReview {
		return nil, apperror.ValidationFailed("rating", "rating or review must be selected for removal")
	}

	g, err := c.games.ClearRatingFields(ctx, title, userID, clearRating, clearReview)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: removing rating of %s on %q: %w", userID, title, err)
	}

	c.invalidate(ctx)
	return c.one(ctx, g)
}

// =========================================================================
// CURATOR AND SCRIBE WRITES
// =========================================================================

// CuratorInput is an entry of the curator feed.
type CuratorInput struct {
	Titles        []string
	URL           string
	PublishedDate string
	VideoTitle    string
	Thumbnail     string
	Timestamp     *int
	Rating        *float64
	Review        *string
}

// UpsertCurator merges a curator entry into the game carrying its url, else
// the game sharing a title with it, else a new pending game.
func (c *Catalog) UpsertCurator(ctx context.Context, in CuratorInput, by string) (*model.Game, error) {
	titles := model.NormalizeTitles(in.Titles)
	if len(titles) == 0 {
		return nil, apperror.ValidationFailed("titles", "at least one title is required")
	}
	for _, f := range []struct{ name, value string }{
		{"url", in.URL},
		{"publishedDate", in.PublishedDate},
		{"videoTitle", in.VideoTitle},
		{"thumbnail", in.Thumbnail},
	} {
		if strings.TrimSpace(f.value) == "" {
			return nil, apperror.ValidationFailed(f.name, f.name+" is required")
		}
	}
	if in.Rating != nil {
		if err := checkRating(*in.Rating); err != nil {
			return nil, err
		}
	}
	if in.Timestamp != nil && *in.Timestamp < 0 {
		return nil, apperror.ValidationFailed("timestamp", "timestamp must not be negative")
	}

	patch := repository.CuratorPatch{
		URL:           strings.TrimSpace(in.URL),
		PublishedDate: in.PublishedDate,
		VideoTitle:    in.VideoTitle,
		Thumbnail:     in.Thumbnail,
		Timestamp:     in.Timestamp,
		Rating:        in.Rating,
		Review:        nonEmpty(in.Review),
	}

	var (
		g       *model.Game
		created bool
		err     error
	)
	for attempt := 0; attempt < 2; attempt++ {
		g, created, err = c.games.UpsertCurator(ctx, titles, patch, by)
		if err == nil || !errors.Is(err, apperror.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("service/catalog: curator entry %s: %w", patch.URL, err)
	}

	c.logger.Info("curator entry merged",
		slog.String("gameID", g.ID),
		slog.String("url", patch.URL),
		slog.Bool("created", created),
	)
	c.invalidate(ctx)
	return c.one(ctx, g)
}

// SetCuratorRating sets the curator's rating and review of title.
func (c *Catalog) SetCuratorRating(ctx context.Context, title string, value *float64, review *string, by string) (*model.Game, error) {
	title, err := requireTitle(title)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, apperror.ValidationFailed("rating", "rating is required")
	}
	if err := checkRating(*value); err != nil {
		return nil, err
	}

	g, err := c.games.SetCuratorRating(ctx, title, value, nonEmpty(review), by)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: curator rating of %q: %w", title, err)
	}

	c.invalidate(ctx)
	return c.one(ctx, g)
}

// GameUpdate is a scribe edit. Titles replace the stored ones; an empty
// Status or a nil Curator keeps the stored value.
type GameUpdate struct {
	Titles  []string
	Status  model.Status
	Curator *model.CuratorEntry
}

// UpdateGame applies a scribe edit to the game with id and records by as
// the last editor.
func (c *Catalog) UpdateGame(ctx context.Context, id string, in GameUpdate, by string) (*model.Game, error) {
	titles := model.NormalizeTitles(in.Titles)
	if len(titles) == 0 {
		return nil, apperror.ValidationFailed("titles", "at least one title is required")
	}
	if in.Status != "" && !in.Status.Valid() {
		return nil, apperror.ValidationFailed("status", fmt.Sprintf("status must be %q or %q", model.StatusPending, model.StatusValidated))
	}
	if in.Curator != nil && in.Curator.Rating != nil {
		if err := checkRating(*in.Curator.Rating); err != nil {
			return nil, err
		}
	}

	g, err := c.games.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/catalog: loading game %s: %w", id, err)
	}

	g.Titles = titles
	if in.Status != "" {
		g.Status = in.Status
	}
	if in.Curator != nil {
		curator := *in.Curator
		curator.URL = strings.TrimSpace(curator.URL)
		curator.Review = nonEmpty(curator.Review)
		now := c.now().UTC()
		curator.LastEditedAt = &now
		g.Curator = &curator
	}
	g.LastUpdatedBy = by

	if err := c.games.Update(ctx, g); err != nil {
		return nil, fmt.Errorf("service/catalog: updating game %s: %w", id, err)
	}

	c.logger.Info("game updated", slog.String("gameID", id), slog.String("by", by))
	c.invalidate(ctx)
	return c.one(ctx, g)
}

// DeleteGame removes a game for good.
func (c *Catalog) DeleteGame(ctx context.Context, id, by string) error {
	if err := c.games.Delete(ctx, id); err != nil {
		return fmt.Errorf("service/catalog: deleting game %s: %w", id, err)
	}
	c.logger.Info("game deleted", slog.String("gameID", id), slog.String("by", by))
	c.invalidate(ctx)
	return nil
}

// =========================================================================
// HELPERS
// =========================================================================

func (c *Catalog) one(ctx context.Context, g *model.Game) (*model.Game, error) {
	if err := c.enricher.Game(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (c *Catalog) many(ctx context.Context, games []model.Game) ([]model.Game, error) {
	if games == nil {
		games = []model.Game{}
	}
	if err := c.enricher.Games(ctx, games); err != nil {
		return nil, err
	}
	return games, nil
}

// cached serves a ranking from the cache, computing and storing it on a
// miss. The fill goes to the key resolved by the lookup, so a ranking that
// raced a write is never stored under the version that write created.
// Cache failures only cost the shortcut.
func (c *Catalog) cached(ctx context.Context, name string, compute func() ([]model.Game, error)) ([]model.Game, error) {
	var games []model.Game
	key, hit, err := c.rankings.Get(ctx, name, &games)
	if err != nil {
		c.logger.Warn("ranking cache read failed", slog.String("name", name), slog.String("error", err.Error()))
	}
	if hit {
		return games, nil
	}

	games, err = compute()
	if err != nil {
		return nil, err
	}
	if err := c.rankings.Set(ctx, key, games); err != nil {
		c.logger.Warn("ranking cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return games, nil
}

func (c *Catalog) invalidate(ctx context.Context) {
	if err := c.rankings.Invalidate(ctx); err != nil {
		c.logger.Warn("ranking cache invalidation failed", slog.String("error", err.Error()))
	}
}

func requireTitle(title string) (string, error) {
	title = model.NormalizeTitle(title)
	if title == "" {
		return "", apperror.ValidationFailed("title", "title is required")
	}
	return title, nil
}

func checkRating(v float64) error {
	if v < 0 || v > maxRating {
		return apperror.ValidationFailed("rating", "rating must be between 0 and 5")
	}
	return nil
}

// nonEmpty turns a blank review into no review.
func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// window returns games[start:end] with both bounds clamped. end <= 0 means
// the end of the slice.
func window(games []model.Game, start, end int) []model.Game {
	if end <= 0 || end > len(games) {
		end = len(games)
	}
	start = max(start, 0)
	if start >= end {
		return []model.Game{}
	}
	return games[start:end]
}
