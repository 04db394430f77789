package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/model"
)

const gameColumns = `g.id, g.status, g.search_count, g.has_curator, g.curator_url,
	g.curator_published_date, g.curator_video_title, g.curator_thumbnail, g.curator_timestamp,
	g.curator_rating, g.curator_review, g.curator_last_edited_at, g.last_updated_by,
	g.last_curator_scrape_at, g.last_daily_pick_at, g.created_at, g.updated_at`

// firstTitle is the sort key of a game: its earliest-added title.
const firstTitle = `(SELECT ft.title FROM game_titles ft WHERE ft.game_id = g.id ORDER BY ft.position LIMIT 1)`

// queryGames runs a SELECT over `games g` returning gameColumns and loads the
// titles, ratings and askers of every row.
//
// Rows are fully read and closed before the child tables are queried: the
// pool has a single connection.
func queryGames(ctx context.Context, q querier, query string, args ...any) ([]model.Game, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying games: %w", err)
	}

	games := []model.Game{}
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: iterating games: %w", err)
	}
	rows.Close()

	if err := hydrate(ctx, q, games); err != nil {
		return nil, err
	}
	return games, nil
}

// loadGame returns the game with the given id.
func loadGame(ctx context.Context, q querier, id string) (*model.Game, error) {
	games, err := queryGames(ctx, q, `SELECT `+gameColumns+` FROM games g WHERE g.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(games) == 0 {
		return nil, apperror.NotFound("game", "id", id)
	}
	return &games[0], nil
}

func scanGame(rows *sql.Rows) (model.Game, error) {
	var (
		g                                         model.Game
		status                                    string
		hasCurator                                bool
		url, published, videoTitle, thumb, review sql.NullString
		timestamp                                 sql.NullInt64
		curatorRating                             sql.NullFloat64
		curatorEdited, scrapedAt, pickedAt        sql.NullTime
	)
	err := rows.Scan(
		&g.ID, &status, &g.SearchCount, &hasCurator, &url,
		&published, &videoTitle, &thumb, &timestamp,
		&curatorRating, &review, &curatorEdited, &g.LastUpdatedBy,
		&scrapedAt, &pickedAt, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return g, fmt.Errorf("sqlite: scanning game: %w", err)
	}

	g.Status = model.Status(status)
	g.LastCuratorScrapeAt = timePtr(scrapedAt)
	g.LastDailyPickAt = timePtr(pickedAt)
	g.Titles = []string{}
	g.CommunityRatings = []model.CommunityRating{}
	g.AskedBy = []string{}

	if hasCurator {
		g.Curator = &model.CuratorEntry{
			URL:           url.String,
			PublishedDate: published.String,
			VideoTitle:    videoTitle.String,
			Thumbnail:     thumb.String,
			Review:        stringPtr(review),
			LastEditedAt:  timePtr(curatorEdited),
		}
		if timestamp.Valid {
			ts := int(timestamp.Int64)
			g.Curator.Timestamp = &ts
		}
		if curatorRating.Valid {
			r := curatorRating.Float64
			g.Curator.Rating = &r
		}
	}
	return g, nil
}

// hydrateBatch caps the ids bound in one IN list, well under SQLite's host
// parameter limit.
var hydrateBatch = 500

// hydrate loads the child rows of games with one query per child table and
// batch of ids.
func hydrate(ctx context.Context, q querier, games []model.Game) error {
	index := make(map[string]int, len(games))
	for i, g := range games {
		index[g.ID] = i
	}

	for start := 0; start < len(games); start += hydrateBatch {
		end := min(start+hydrateBatch, len(games))
		ids := make([]any, 0, end-start)
		for _, g := range games[start:end] {
			ids = append(ids, g.ID)
		}
		if err := hydrateBatchOf(ctx, q, games, index, ids); err != nil {
			return err
		}
	}
	return nil
}

func hydrateBatchOf(ctx context.Context, q querier, games []model.Game, index map[string]int, ids []any) error {
	in := placeholders(len(ids))

	rows, err := q.QueryContext(ctx,
		`SELECT game_id, title FROM game_titles WHERE game_id IN (`+in+`) ORDER BY position`, ids...)
	if err != nil {
		return fmt.Errorf("sqlite: loading titles: %w", err)
	}
	for rows.Next() {
		var gameID, title string
		if err := rows.Scan(&gameID, &title); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: scanning title: %w", err)
		}
		g := &games[index[gameID]]
		g.Titles = append(g.Titles, title)
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx,
		`SELECT game_id, user_id, rating, review, last_edited_at, reported
		 FROM community_ratings WHERE game_id IN (`+in+`) ORDER BY position`, ids...)
	if err != nil {
		return fmt.Errorf("sqlite: loading ratings: %w", err)
	}
	for rows.Next() {
		var (
			gameID string
			r      model.CommunityRating
			value  sql.NullFloat64
			review sql.NullString
		)
		if err := rows.Scan(&gameID, &r.UserID, &value, &review, &r.LastEditedAt, &r.Reported); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: scanning rating: %w", err)
		}
		if value.Valid {
			v := value.Float64
			r.Rating = &v
		}
		r.Review = stringPtr(review)
		g := &games[index[gameID]]
		g.CommunityRatings = append(g.CommunityRatings, r)
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx,
		`SELECT game_id, user_id FROM game_askers WHERE game_id IN (`+in+`) ORDER BY position`, ids...)
	if err != nil {
		return fmt.Errorf("sqlite: loading askers: %w", err)
	}
	for rows.Next() {
		var gameID, userID string
		if err := rows.Scan(&gameID, &userID); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite: scanning asker: %w", err)
		}
		g := &games[index[gameID]]
		g.AskedBy = append(g.AskedBy, userID)
	}
	return closeRows(rows)
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("sqlite: iterating rows: %w", err)
	}
	return rows.Close()
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY violation.
func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// escapeLike escapes LIKE wildcards; queries use ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// limitClause renders LIMIT/OFFSET; a zero limit means no limit.
func limitClause(limit, offset int) (string, []any) {
	if limit <= 0 {
		limit = -1
	}
	return ` LIMIT ? OFFSET ?`, []any{limit, offset}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
