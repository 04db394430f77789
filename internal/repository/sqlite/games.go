package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/model"
	"github.com/orop-community/orop-server/internal/repository"
)

// compile-time check that *DB implements repository.GameRepository
var _ repository.GameRepository = (*DB)(nil)

// =========================================================================
// READS
// =========================================================================

// GetByID retrieves a single game by its ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Game, error) {
	return loadGame(ctx, db.conn, id)
}

// GetByTitle retrieves the game owning title. The counter increment and the
// read happen in the same transaction, so the returned searchCount already
// includes this lookup.
func (db *DB) GetByTitle(ctx context.Context, title string, incSearch bool) (*model.Game, error) {
	var game *model.Game
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := gameIDByTitle(ctx, tx, title)
		if err != nil {
			return err
		}
		if incSearch {
			if err := incSearchCount(ctx, tx, id); err != nil {
				return err
			}
		}
		game, err = loadGame(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

// Search returns games having a title that contains fragment.
func (db *DB) Search(ctx context.Context, fragment string, opts repository.ListOptions) ([]model.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games g
		WHERE EXISTS (SELECT 1 FROM game_titles t WHERE t.game_id = g.id AND t.title LIKE ? ESCAPE '\')`
	args := []any{"%" + escapeLike(fragment) + "%"}
	if opts.CuratedOnly {
		query += ` AND g.curator_url IS NOT NULL`
	}
	query += ` ORDER BY ` + firstTitle
	limit, limitArgs := limitClause(opts.Limit, opts.Offset)
	return queryGames(ctx, db.conn, query+limit, append(args, limitArgs...)...)
}

// List returns one page of games sorted by first title, and the number of
// games matching the filter.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Game, int64, error) {
	where := ``
	if opts.CuratedOnly {
		where = ` WHERE g.curator_url IS NOT NULL`
	}

	var total int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM games g`+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: counting games: %w", err)
	}

	limit, args := limitClause(opts.Limit, opts.Offset)
	games, err := queryGames(ctx, db.conn,
		`SELECT `+gameColumns+` FROM games g`+where+` ORDER BY `+firstTitle+limit, args...)
	if err != nil {
		return nil, 0, err
	}
	return games, total, nil
}

// TopSearched returns the most looked-up games.
func (db *DB) TopSearched(ctx context.Context, opts repository.ListOptions) ([]model.Game, error) {
	where := ``
	if opts.CuratedOnly {
		where = ` WHERE g.curator_url IS NOT NULL`
	}
	limit, args := limitClause(opts.Limit, opts.Offset)
	return queryGames(ctx, db.conn,
		`SELECT `+gameColumns+` FROM games g`+where+
			` ORDER BY g.search_count DESC, `+firstTitle+limit, args...)
}

// ListRated returns every game with at least one numeric community rating.
// Ordering by community rating is done by the caller.
func (db *DB) ListRated(ctx context.Context, opts repository.ListOptions) ([]model.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games g
		WHERE EXISTS (SELECT 1 FROM community_ratings r WHERE r.game_id = g.id AND r.rating IS NOT NULL)`
	if opts.CuratedOnly {
		query += ` AND g.curator_url IS NOT NULL`
	}
	return queryGames(ctx, db.conn, query+` ORDER BY `+firstTitle)
}

// TopAsked returns uncurated games ordered by number of askers.
func (db *DB) TopAsked(ctx context.Context, limit int) ([]model.Game, error) {
	clause, args := limitClause(limit, 0)
	return queryGames(ctx, db.conn, `SELECT `+gameColumns+` FROM games g
		WHERE g.curator_url IS NULL
		  AND EXISTS (SELECT 1 FROM game_askers a WHERE a.game_id = g.id)
		ORDER BY (SELECT COUNT(*) FROM game_askers a WHERE a.game_id = g.id) DESC, `+firstTitle+clause, args...)
}

// ListRatedBy returns the games userID has a rating entry on.
func (db *DB) ListRatedBy(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Game, error) {
	clause, args := limitClause(opts.Limit, opts.Offset)
	return queryGames(ctx, db.conn, `SELECT `+gameColumns+` FROM games g
		WHERE EXISTS (SELECT 1 FROM community_ratings r WHERE r.game_id = g.id AND r.user_id = ?)
		ORDER BY `+firstTitle+clause, append([]any{userID}, args...)...)
}

// ListStaleUncurated returns discovery candidates for the scheduler.
func (db *DB) ListStaleUncurated(ctx context.Context, before time.Time, limit int) ([]model.Game, error) {
	clause, args := limitClause(limit, 0)
	return queryGames(ctx, db.conn, `SELECT `+gameColumns+` FROM games g
		WHERE g.curator_url IS NULL
		  AND (g.last_curator_scrape_at IS NULL OR g.last_curator_scrape_at < ?)
		ORDER BY (SELECT COUNT(*) FROM game_askers a WHERE a.game_id = g.id) DESC,
		         g.search_count DESC, `+firstTitle+clause, append([]any{before.UTC()}, args...)...)
}

// =========================================================================
// CREATE / UPDATE / DELETE
// =========================================================================

// Create inserts g with its titles, ratings and askers. Returns a conflict
// when any title or the curator url already belongs to another game.
func (db *DB) Create(ctx context.Context, g *model.Game) error {
	now := time.Now().UTC()
	g.ID = xid.New().String()
	g.CreatedAt = now
	g.UpdatedAt = now
	if g.Status == "" {
		g.Status = model.StatusPending
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		owners, err := titleOwners(ctx, tx, g.Titles)
		if err != nil {
			return err
		}
		for _, t := range g.Titles {
			if _, taken := owners[t]; taken {
				return apperror.Conflict("game", "title", t)
			}
		}

		if err := insertGame(ctx, tx, g); err != nil {
			return err
		}
		if err := addTitles(ctx, tx, g.ID, g.Titles, owners); err != nil {
			return err
		}
		for _, r := range g.CommunityRatings {
			if err := insertRating(ctx, tx, g.ID, r); err != nil {
				return err
			}
		}
		for _, userID := range g.AskedBy {
			if err := insertAsker(ctx, tx, g.ID, userID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update overwrites the editable fields of an existing game.
func (db *DB) Update(ctx context.Context, g *model.Game) error {
	g.UpdatedAt = time.Now().UTC()

	return db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM games WHERE id = ?`, g.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("game", "id", g.ID)
		}
		if err != nil {
			return fmt.Errorf("sqlite: looking up game %s: %w", g.ID, err)
		}

		owners, err := titleOwners(ctx, tx, g.Titles)
		if err != nil {
			return err
		}
		for _, t := range g.Titles {
			if owner, taken := owners[t]; taken && owner != g.ID {
				return apperror.Conflict("game", "title", t)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM game_titles WHERE game_id = ?`, g.ID); err != nil {
			return fmt.Errorf("sqlite: clearing titles of %s: %w", g.ID, err)
		}
		if err := addTitles(ctx, tx, g.ID, g.Titles, nil); err != nil {
			return err
		}

		c := g.Curator
		if c == nil {
			c = &model.CuratorEntry{}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE games SET status = ?, has_curator = ?, curator_url = ?, curator_published_date = ?,
				curator_video_title = ?, curator_thumbnail = ?, curator_timestamp = ?, curator_rating = ?,
				curator_review = ?, curator_last_edited_at = ?, last_updated_by = ?, updated_at = ?
			 WHERE id = ?`,
			string(g.Status), g.Curator != nil, emptyToNull(c.URL), emptyToNull(c.PublishedDate),
			emptyToNull(c.VideoTitle), emptyToNull(c.Thumbnail), nullInt(c.Timestamp), nullFloat(c.Rating),
			nullString(c.Review), nullTime(c.LastEditedAt), g.LastUpdatedBy, g.UpdatedAt,
			g.ID,
		)
		if isUniqueViolation(err) {
			return apperror.Conflict("game", "curator url", c.URL)
		}
		if err != nil {
			return fmt.Errorf("sqlite: updating game %s: %w", g.ID, err)
		}
		return nil
	})
}

// Delete removes a game. Titles, ratings and askers go with it.
func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM games WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting game %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("game", "id", id)
	}
	return nil
}

// =========================================================================
// CURATOR
// =========================================================================

// UpsertCurator merges a curator entry into the matching game or creates one.
func (db *DB) UpsertCurator(ctx context.Context, titles []string, patch repository.CuratorPatch, by string) (*model.Game, bool, error) {
	var (
		game    *model.Game
		created bool
	)
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		owners, err := titleOwners(ctx, tx, titles)
		if err != nil {
			return err
		}

		var id string
		if patch.URL != "" {
			err := tx.QueryRowContext(ctx, `SELECT id FROM games WHERE curator_url = ?`, patch.URL).Scan(&id)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("sqlite: looking up curator url: %w", err)
			}
		}
		if id == "" {
			for _, t := range titles {
				owner, ok := owners[t]
				if !ok {
					continue
				}
				if id != "" && owner != id {
					return apperror.Conflict("game", "title", t)
				}
				id = owner
			}
		}
		for t, owner := range owners {
			if id != "" && owner != id {
				return apperror.Conflict("game", "title", t)
			}
		}

		if id == "" {
			g := &model.Game{
				ID:        xid.New().String(),
				Status:    model.StatusPending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := insertGame(ctx, tx, g); err != nil {
				return err
			}
			id = g.ID
			created = true
		}

		if err := addTitles(ctx, tx, id, titles, owners); err != nil {
			return err
		}
		if err := applyCuratorPatch(ctx, tx, id, patch, now); err != nil {
			return err
		}
		if err := incSearchCount(ctx, tx, id); err != nil {
			return err
		}
		if err := touch(ctx, tx, id, by, now); err != nil {
			return err
		}

		game, err = loadGame(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return game, created, nil
}

// SetCuratorRating sets the curator's own rating and review.
func (db *DB) SetCuratorRating(ctx context.Context, title string, rating *float64, review *string, by string) (*model.Game, error) {
	var game *model.Game
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := gameIDByTitle(ctx, tx, title)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx,
			`UPDATE games SET has_curator = 1, curator_rating = ?, curator_review = ?,
				curator_last_edited_at = ?, last_updated_by = ?, updated_at = ?
			 WHERE id = ?`,
			nullFloat(rating), nullString(review), now, by, now, id,
		)
		if err != nil {
			return fmt.Errorf("sqlite: setting curator rating on %s: %w", id, err)
		}
		game, err = loadGame(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

// SetCuratorVideo replaces the video fields found by curator discovery.
func (db *DB) SetCuratorVideo(ctx context.Context, id string, patch repository.CuratorPatch, by string, at time.Time) (*model.Game, error) {
	var game *model.Game
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		at := at.UTC()
		result, err := tx.ExecContext(ctx,
			`UPDATE games SET has_curator = 1, curator_url = ?, curator_published_date = ?,
				curator_video_title = ?, curator_thumbnail = ?, curator_timestamp = ?,
				curator_last_edited_at = ?, last_curator_scrape_at = ?, last_updated_by = ?, updated_at = ?
			 WHERE id = ?`,
			emptyToNull(patch.URL), emptyToNull(patch.PublishedDate), emptyToNull(patch.VideoTitle),
			emptyToNull(patch.Thumbnail), nullInt(patch.Timestamp), at, at, by, at, id,
		)
		if isUniqueViolation(err) {
			return apperror.Conflict("game", "curator url", patch.URL)
		}
		if err != nil {
			return fmt.Errorf("sqlite: setting curator video on %s: %w", id, err)
		}
		if err := expectRow(result, "id", id); err != nil {
			return err
		}
		game, err = loadGame(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

// MarkCuratorScrape records a discovery attempt that found no video.
func (db *DB) MarkCuratorScrape(ctx context.Context, id string, by string, at time.Time) (*model.Game, error) {
	var game *model.Game
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		at := at.UTC()
		result, err := tx.ExecContext(ctx,
			`UPDATE games SET last_curator_scrape_at = ?, last_updated_by = ?, updated_at = ? WHERE id = ?`,
			at, by, at, id,
		)
		if err != nil {
			return fmt.Errorf("sqlite: marking scrape on %s: %w", id, err)
		}
		if err := expectRow(result, "id", id); err != nil {
			return err
		}
		game, err = loadGame(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

// =========================================================================
// COMMUNITY RATINGS
// =========================================================================

// ReplaceRating overwrites an existing rating entry, addressed by user.
func (db *DB) ReplaceRating(ctx context.Context, title string, r model.CommunityRating, incSearch bool) (*model.Game, error) {
	var game *model.Game
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := gameIDByTitle(ctx, tx, title)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE community_ratings SET rating = ?, review = ?, last_edited_at = ?
			 WHERE game_id = ? AND user_id = ?`,
			nullFloat(r.Rating), nullString(r.Review), r.LastEditedAt.UTC(), id, r.UserID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: replacing rating on %s: %w", id, err)
		}
		if err := expectRating(result, r.UserID); err != nil {
			return err
		}
		if incSearch {
			if err := incSearchCount(ctx, tx, id); err != nil {
				return err
			}
		}
		if err := touch(ctx, tx, id, "", r.LastEditedAt.UTC()); err != nil {
			return err
		}
		game, err = loadGame(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

// AppendRating adds a first rating from r.UserID to the game owning title.
func (db *DB) AppendRating(ctx context.Context, title string, r model.CommunityRating) (*model.Game, error) {
	var game *model.Game
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := gameIDByTitle(ctx, tx, title)
		if err != nil {
			return err
		}
		err = insertRating(ctx, tx, id, r)
		if errors.Is(err, apperror.ErrConflict) {
			// the user already rated this game: same outcome as a filter miss
			return apperror.NotFound("rating", "user", r.UserID)
		}
		if err != nil {
			return err
		}
		if err := incSearchCount(ctx, tx, id); err != nil {
			return err
		}
		if err := touch(ctx, tx, id, "", r.LastEditedAt.UTC()); err != nil {
			return err
		}
		game, err = loadGame(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

// ClearRatingFields clears parts of a rating and prunes the entry once empty.
func (db *DB) ClearRatingFields(ctx context.Context, title, userID string, clearRating, clearReview bool) (*model.Game, error) {
	var game *model.Game
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := gameIDByTitle(ctx, tx, title)
		if err != nil {
			return err
		}

		sets := []string{}
		if clearRating {
			sets = append(sets, "rating = NULL")
		}
		if clearReview {
			sets = append(sets, "review = NULL")
		}
		if len(sets) > 0 {
			result, err := tx.ExecContext(ctx,
				`UPDATE community_ratings SET `+strings.Join(sets, ", ")+` WHERE game_id = ? AND user_id = ?`,
				id, userID,
			)
			if err != nil {
				return fmt.Errorf("sqlite: clearing rating on %s: %w", id, err)
			}
			if err := expectRating(result, userID); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`DELETE FROM community_ratings
			 WHERE game_id = ? AND user_id = ? AND rating IS NULL AND (review IS NULL OR review = '')`,
			id, userID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: pruning rating on %s: %w", id, err)
		}
		if err := touch(ctx, tx, id, "", time.Now().UTC()); err != nil {
			return err
		}
		game, err = loadGame(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

// =========================================================================
// ASKERS / DAILY PICK
// =========================================================================

// AddAsker records that userID asked for the game owning title to be curated.
func (db *DB) AddAsker(ctx context.Context, title, userID string) (*model.Game, error) {
	var game *model.Game
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		id, err := gameIDByTitle(ctx, tx, title)
		if err != nil {
			return err
		}
		if err := insertAsker(ctx, tx, id, userID); err != nil {
			return err
		}
		game, err = loadGame(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

// PickDaily picks a random eligible game and stamps it. Selection and stamp
// share a transaction, so two callers cannot both pick the same game.
func (db *DB) PickDaily(ctx context.Context, cutoff, now time.Time) (*model.Game, error) {
	var game *model.Game
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM games
			 WHERE last_daily_pick_at IS NULL OR last_daily_pick_at < ?
			 ORDER BY RANDOM() LIMIT 1`,
			cutoff.UTC(),
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperror.NotFound("game", "daily pick eligibility", "any")
		}
		if err != nil {
			return fmt.Errorf("sqlite: sampling daily pick: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE games SET last_daily_pick_at = ? WHERE id = ?`, now.UTC(), id,
		); err != nil {
			return fmt.Errorf("sqlite: stamping daily pick %s: %w", id, err)
		}
		game, err = loadGame(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return game, nil
}

// =========================================================================
// HELPERS
// =========================================================================

func gameIDByTitle(ctx context.Context, q querier, title string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT game_id FROM game_titles WHERE title = ?`, title).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperror.NotFound("game", "title", title)
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: looking up title %q: %w", title, err)
	}
	return id, nil
}

// titleOwners maps each already-stored title among titles to its game.
func titleOwners(ctx context.Context, q querier, titles []string) (map[string]string, error) {
	owners := make(map[string]string)
	if len(titles) == 0 {
		return owners, nil
	}
	args := make([]any, len(titles))
	for i, t := range titles {
		args[i] = t
	}
	rows, err := q.QueryContext(ctx,
		`SELECT title, game_id FROM game_titles WHERE title IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: looking up title owners: %w", err)
	}
	for rows.Next() {
		var title, gameID string
		if err := rows.Scan(&title, &gameID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning title owner: %w", err)
		}
		owners[title] = gameID
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return owners, nil
}

func insertGame(ctx context.Context, tx *sql.Tx, g *model.Game) error {
	c := g.Curator
	if c == nil {
		c = &model.CuratorEntry{}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO games (id, status, search_count, has_curator, curator_url, curator_published_date,
			curator_video_title, curator_thumbnail, curator_timestamp, curator_rating, curator_review,
			curator_last_edited_at, last_updated_by, last_curator_scrape_at, last_daily_pick_at,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, string(g.Status), g.SearchCount, g.Curator != nil, emptyToNull(c.URL), emptyToNull(c.PublishedDate),
		emptyToNull(c.VideoTitle), emptyToNull(c.Thumbnail), nullInt(c.Timestamp), nullFloat(c.Rating), nullString(c.Review),
		nullTime(c.LastEditedAt), g.LastUpdatedBy, nullTime(g.LastCuratorScrapeAt), nullTime(g.LastDailyPickAt),
		g.CreatedAt, g.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperror.Conflict("game", "curator url", c.URL)
	}
	if err != nil {
		return fmt.Errorf("sqlite: inserting game: %w", err)
	}
	return nil
}

// addTitles appends the titles gameID does not own yet. owners comes from
// titleOwners; nil means none of titles is stored.
func addTitles(ctx context.Context, tx *sql.Tx, gameID string, titles []string, owners map[string]string) error {
	for _, t := range titles {
		if owner, ok := owners[t]; ok {
			if owner == gameID {
				continue
			}
			return apperror.Conflict("game", "title", t)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO game_titles (title, game_id, position)
			 VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM game_titles WHERE game_id = ?))`,
			t, gameID, gameID,
		)
		if isUniqueViolation(err) {
			return apperror.Conflict("game", "title", t)
		}
		if err != nil {
			return fmt.Errorf("sqlite: adding title %q: %w", t, err)
		}
	}
	return nil
}

func insertRating(ctx context.Context, tx *sql.Tx, gameID string, r model.CommunityRating) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO community_ratings (game_id, user_id, rating, review, last_edited_at, reported, position)
		 VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM community_ratings WHERE game_id = ?))`,
		gameID, r.UserID, nullFloat(r.Rating), nullString(r.Review), r.LastEditedAt.UTC(), r.Reported, gameID,
	)
	if isUniqueViolation(err) {
		return apperror.Conflict("rating", "user", r.UserID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: inserting rating: %w", err)
	}
	return nil
}

func insertAsker(ctx context.Context, tx *sql.Tx, gameID, userID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO game_askers (game_id, user_id, position)
		 VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM game_askers WHERE game_id = ?))
		 ON CONFLICT (game_id, user_id) DO NOTHING`,
		gameID, userID, gameID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: adding asker: %w", err)
	}
	return nil
}

// applyCuratorPatch sets the provided curator fields, leaving the others.
func applyCuratorPatch(ctx context.Context, tx *sql.Tx, id string, p repository.CuratorPatch, now time.Time) error {
	sets := []string{"has_curator = 1", "curator_last_edited_at = ?"}
	args := []any{now}
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if p.URL != "" {
		add("curator_url", p.URL)
	}
	if p.PublishedDate != "" {
		add("curator_published_date", p.PublishedDate)
	}
	if p.VideoTitle != "" {
		add("curator_video_title", p.VideoTitle)
	}
	if p.Thumbnail != "" {
		add("curator_thumbnail", p.Thumbnail)
	}
	if p.Timestamp != nil {
		add("curator_timestamp", *p.Timestamp)
	}
	if p.Rating != nil {
		add("curator_rating", *p.Rating)
	}
	if p.Review != nil {
		add("curator_review", *p.Review)
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE games SET `+strings.Join(sets, ", ")+` WHERE id = ?`, append(args, id)...)
	if isUniqueViolation(err) {
		return apperror.Conflict("game", "curator url", p.URL)
	}
	if err != nil {
		return fmt.Errorf("sqlite: applying curator entry to %s: %w", id, err)
	}
	return nil
}

func incSearchCount(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE games SET search_count = search_count + 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: incrementing search count of %s: %w", id, err)
	}
	return nil
}

// touch bumps updated_at, and last_updated_by when by is set.
func touch(ctx context.Context, tx *sql.Tx, id, by string, now time.Time) error {
	var err error
	if by != "" {
		_, err = tx.ExecContext(ctx, `UPDATE games SET updated_at = ?, last_updated_by = ? WHERE id = ?`, now, by, id)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE games SET updated_at = ? WHERE id = ?`, now, id)
	}
	if err != nil {
		return fmt.Errorf("sqlite: touching game %s: %w", id, err)
	}
	return nil
}

func expectRow(result sql.Result, key, value string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("game", key, value)
	}
	return nil
}

func expectRating(result sql.Result, userID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("rating", "user", userID)
	}
	return nil
}

func emptyToNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
