// Package repository declares the storage contracts of the server.
//
// Two backends implement them: repository/sqlite (embedded, default) and
// repository/mongo. Every write method is a single atomic operation against
// the store. Methods report missing records with apperror.ErrNotFound and
// unique-constraint violations (a title or curator url owned by another game,
// a duplicate account) with apperror.ErrConflict. Titles passed in are
// already normalized.
package repository

import (
	"context"
	"time"

	"github.com/orop-community/orop-server/internal/model"
)

type ListOptions struct {
	Limit       int // 0 means no limit
	Offset      int
	CuratedOnly bool // only games with a curator video
}

// CuratorPatch lists the curator fields to set. Zero values are left untouched.
type CuratorPatch struct {
	URL           string
	PublishedDate string
	VideoTitle    string
	Thumbnail     string
	Timestamp     *int
	Rating        *float64
	Review        *string
}

// GameRepository stores game entries.
type GameRepository interface {
	GetByID(ctx context.Context, id string) (*model.Game, error)
	// GetByTitle returns the game owning title, incrementing its search
	// counter in the same write when incSearch is set.
	GetByTitle(ctx context.Context, title string, incSearch bool) (*model.Game, error)

	// Search returns games with a title containing fragment, sorted by first title.
	Search(ctx context.Context, fragment string, opts ListOptions) ([]model.Game, error)
	// List returns one page of games sorted by first title, plus the total count.
	List(ctx context.Context, opts ListOptions) ([]model.Game, int64, error)
	TopSearched(ctx context.Context, opts ListOptions) ([]model.Game, error)
	// ListRated returns every game with at least one numeric community rating.
	ListRated(ctx context.Context, opts ListOptions) ([]model.Game, error)
	// TopAsked returns games without a curator video, asked for at least
	// once, most asked first.
	TopAsked(ctx context.Context, limit int) ([]model.Game, error)
	// ListRatedBy returns games userID has rated, sorted by first title.
	ListRatedBy(ctx context.Context, userID string, opts ListOptions) ([]model.Game, error)
	// ListStaleUncurated returns games without a curator video whose last
	// discovery attempt is missing or older than before, most asked first.
	ListStaleUncurated(ctx context.Context, before time.Time, limit int) ([]model.Game, error)

	// Create inserts g, assigning its ID and timestamps.
	Create(ctx context.Context, g *model.Game) error
	// Update overwrites titles, status, curator entry and lastUpdatedBy of an
	// existing game. Ratings, counters and askers are left alone.
	Update(ctx context.Context, g *model.Game) error
	Delete(ctx context.Context, id string) error

	// UpsertCurator merges a curator entry: it targets the game carrying
	// patch.URL, else the game owning any of titles, else creates a pending
	// game. Titles are added as a set, searchCount goes up by one and the
	// curator lastEditedAt is stamped. created reports the last branch.
	UpsertCurator(ctx context.Context, titles []string, patch CuratorPatch, by string) (g *model.Game, created bool, err error)
	// SetCuratorRating sets the curator rating and review on the game owning title.
	SetCuratorRating(ctx context.Context, title string, rating *float64, review *string, by string) (*model.Game, error)
	// SetCuratorVideo replaces the curator video fields of game id and stamps
	// the last discovery attempt.
	SetCuratorVideo(ctx context.Context, id string, patch CuratorPatch, by string, at time.Time) (*model.Game, error)
	// MarkCuratorScrape stamps a discovery attempt that found nothing.
	MarkCuratorScrape(ctx context.Context, id string, by string, at time.Time) (*model.Game, error)

	// ReplaceRating overwrites the rating r.UserID left on the game owning
	// title. ErrNotFound when there is no such game or no such rating.
	ReplaceRating(ctx context.Context, title string, r model.CommunityRating, incSearch bool) (*model.Game, error)
	// AppendRating adds r to the game owning title, provided r.UserID has not
	// rated it yet. ErrNotFound when no game qualifies.
	AppendRating(ctx context.Context, title string, r model.CommunityRating) (*model.Game, error)
	// ClearRatingFields clears the rating and/or review userID left on the
	// game owning title, pruning the entry once both are empty.
	ClearRatingFields(ctx context.Context, title, userID string, clearRating, clearReview bool) (*model.Game, error)

	// AddAsker adds userID to the askers of the game owning title.
	AddAsker(ctx context.Context, title, userID string) (*model.Game, error)

	// PickDaily stamps lastDailyPickAt=now on one random game not picked since
	// cutoff. ErrNotFound when none is eligible; ErrConflict when the sampled
	// game was picked concurrently.
	PickDaily(ctx context.Context, cutoff, now time.Time) (*model.Game, error)
}

// AccountRepository stores accounts.
type AccountRepository interface {
	GetByAPIKey(ctx context.Context, key string) (*model.Account, error)
	GetByUserID(ctx context.Context, userID string) (*model.Account, error)
	// UpsertByUserID updates the type, display fields and provider link of the
	// account with acc.UserID, or inserts acc. ID, APIKey and CreatedAt are
	// only used on insert. acc is refreshed with the stored record.
	UpsertByUserID(ctx context.Context, acc *model.Account) error
	Create(ctx context.Context, acc *model.Account) error
	// ProfilesByUserIDs fetches display data for all userIDs in one query.
	// Unknown ids are absent from the map.
	ProfilesByUserIDs(ctx context.Context, userIDs []string) (map[string]model.Profile, error)
}
