package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/cache"
	"github.com/orop-community/orop-server/internal/media"
	"github.com/orop-community/orop-server/internal/model"
	"github.com/orop-community/orop-server/internal/repository"
)

// SchedulerUser is recorded as lastUpdatedBy for scheduled discoveries.
const SchedulerUser = "scheduler"

// VideoFinder looks a title up in the curator's playlist. *media.YouTube
// implements it.
type VideoFinder interface {
	Enabled() bool
	Find(ctx context.Context, title string) (*media.Video, error)
}

// Discovery attaches the curator's video to games that lack one.
type Discovery struct {
	games    repository.GameRepository
	finder   VideoFinder
	enricher *Enricher
	rankings cache.Rankings
	logger   *slog.Logger
	now      func() time.Time
}

// NewDiscovery builds the video discovery over games using finder.
func NewDiscovery(
	games repository.GameRepository,
	finder VideoFinder,
	enricher *Enricher,
	rankings cache.Rankings,
	logger *slog.Logger,
) *Discovery {
	if rankings == nil {
		rankings = cache.Noop{}
	}
	return &Discovery{
		games:    games,
		finder:   finder,
		enricher: enricher,
		rankings: rankings,
		logger:   logger,
		now:      time.Now,
	}
}

// Discover searches the playlist for each title of game id, first match
// wins. A game that already has a video is left alone unless force is set.
// The attempt is stamped on the game whatever the outcome; NotFound when no
// video mentions the game.
func (d *Discovery) Discover(ctx context.Context, id string, force bool, by string) (*model.Game, error) {
	if d.finder == nil || !d.finder.Enabled() {
		return nil, apperror.Upstream("YouTube", errors.New("service/discovery: playlist search is not configured"))
	}

	g, err := d.games.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/discovery: loading game %s: %w", id, err)
	}
	if g.HasCuratorVideo() && !force {
		return nil, apperror.Conflict("curator video", "game", id)
	}

	var video *media.Video
	for _, title := range g.Titles {
		video, err = d.finder.Find(ctx, title)
		if err != nil {
			return nil, fmt.Errorf("service/discovery: searching %q: %w", title, err)
		}
		if video != nil {
			break
		}
	}

	now := d.now().UTC()
	if video == nil {
		if _, err := d.games.MarkCuratorScrape(ctx, id, by, now); err != nil {
			return nil, fmt.Errorf("service/discovery: stamping game %s: %w", id, err)
		}
		return nil, apperror.NotFound("curator video", "game", id)
	}

	g, err = d.games.SetCuratorVideo(ctx, id, repository.CuratorPatch{
		URL:           video.URL,
		PublishedDate: video.PublishedDate,
		VideoTitle:    video.VideoTitle,
		Thumbnail:     video.Thumbnail,
		Timestamp:     video.Timestamp,
	}, by, now)
	if err != nil {
		return nil, fmt.Errorf("service/discovery: attaching video to %s: %w", id, err)
	}

	d.logger.Info("curator video discovered",
		slog.String("gameID", id),
		slog.String("url", video.URL),
		slog.String("by", by),
	)
	if err := d.rankings.Invalidate(ctx); err != nil {
		d.logger.Warn("ranking cache invalidation failed", slog.String("error", err.Error()))
	}
	if err := d.enricher.Game(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// RefreshReport sums up one scheduled refresh run.
type RefreshReport struct {
	Checked int
	Found   int
}

// RefreshStale runs Discover over up to batch uncurated games whose last
// attempt is older than staleAfter, most asked first. It stops at the first
// upstream failure; other per-game failures are logged and skipped.
func (d *Discovery) RefreshStale(ctx context.Context, staleAfter time.Duration, batch int) (RefreshReport, error) {
	var report RefreshReport
	if d.finder == nil || !d.finder.Enabled() {
		return report, nil
	}

	games, err := d.games.ListStaleUncurated(ctx, d.now().UTC().Add(-staleAfter), batch)
	if err != nil {
		return report, fmt.Errorf("service/discovery: listing stale games: %w", err)
	}

	for _, g := range games {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		_, err := d.Discover(ctx, g.ID, false, SchedulerUser)
		switch {
		case err == nil:
			report.Found++
		case errors.Is(err, apperror.ErrNotFound), errors.Is(err, apperror.ErrConflict):
		case errors.Is(err, apperror.ErrUpstream):
			return report, err
		default:
			d.logger.Warn("curator refresh failed",
				slog.String("gameID", g.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return report, nil
}
