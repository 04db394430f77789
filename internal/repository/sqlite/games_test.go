package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/model"
	"github.com/orop-community/orop-server/internal/repository"
)

// newTestDB returns a fresh in-memory database, closed when the test ends.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestGame(t *testing.T, db *DB, titles ...string) *model.Game {
	t.Helper()
	g := &model.Game{Titles: titles}
	if err := db.Create(context.Background(), g); err != nil {
		t.Fatalf("failed to create test game: %v", err)
	}
	return g
}

func floatPtr(v float64) *float64 { return &v }
func strPtr(s string) *string     { return &s }

// =========================================================================
// CREATE / GET TESTS
// =========================================================================

func TestCreate(t *testing.T) {
	db := newTestDB(t)

	g := &model.Game{
		Titles:  []string{"catan", "settlers of catan"},
		AskedBy: []string{"u1"},
		CommunityRatings: []model.CommunityRating{
			{UserID: "u1", Rating: floatPtr(4), LastEditedAt: time.Now()},
		},
	}
	if err := db.Create(context.Background(), g); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if g.ID == "" {
		t.Error("Create() did not set g.ID")
	}
	if g.Status != model.StatusPending {
		t.Errorf("Status = %q, want pending", g.Status)
	}

	got, err := db.GetByID(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(got.Titles) != 2 || got.Titles[0] != "catan" || got.Titles[1] != "settlers of catan" {
		t.Errorf("Titles = %v, want insertion order", got.Titles)
	}
	if len(got.CommunityRatings) != 1 || *got.CommunityRatings[0].Rating != 4 {
		t.Errorf("CommunityRatings = %+v", got.CommunityRatings)
	}
	if len(got.AskedBy) != 1 || got.AskedBy[0] != "u1" {
		t.Errorf("AskedBy = %v", got.AskedBy)
	}
	if got.Curator != nil {
		t.Errorf("Curator = %+v, want nil", got.Curator)
	}
}

func TestCreate_TitleTaken(t *testing.T) {
	db := newTestDB(t)
	createTestGame(t, db, "catan")

	err := db.Create(context.Background(), &model.Game{Titles: []string{"azul", "catan"}})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Create() error = %v, want ErrConflict", err)
	}

	// nothing of the rejected game was stored
	if _, err := db.GetByTitle(context.Background(), "azul", false); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByTitle(azul) error = %v, want ErrNotFound", err)
	}
}

func TestGetByTitle_IncrementsSearchCount(t *testing.T) {
	db := newTestDB(t)
	createTestGame(t, db, "catan")

	for i := 1; i <= 3; i++ {
		g, err := db.GetByTitle(context.Background(), "catan", true)
		if err != nil {
			t.Fatalf("GetByTitle() error = %v", err)
		}
		if g.SearchCount != int64(i) {
			t.Errorf("lookup %d: SearchCount = %d, want %d", i, g.SearchCount, i)
		}
	}

	g, err := db.GetByTitle(context.Background(), "catan", false)
	if err != nil {
		t.Fatalf("GetByTitle() error = %v", err)
	}
	if g.SearchCount != 3 {
		t.Errorf("SearchCount = %d after a read without increment, want 3", g.SearchCount)
	}
}

func TestGetByTitle_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetByTitle(context.Background(), "nope", true)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByTitle() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// LIST / SEARCH TESTS
// =========================================================================

func TestList_Pagination(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 30; i++ {
		createTestGame(t, db, fmt.Sprintf("game %02d", i))
	}

	games, total, err := db.List(context.Background(), repository.ListOptions{Limit: 10, Offset: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 30 {
		t.Errorf("total = %d, want 30", total)
	}
	if len(games) != 10 {
		t.Fatalf("len(games) = %d, want 10", len(games))
	}
	if games[0].FirstTitle() != "game 10" || games[9].FirstTitle() != "game 19" {
		t.Errorf("page 2 = %s..%s, want game 10..game 19", games[0].FirstTitle(), games[9].FirstTitle())
	}
}

func TestSearch(t *testing.T) {
	db := newTestDB(t)
	createTestGame(t, db, "catan")
	createTestGame(t, db, "catan: seafarers")
	createTestGame(t, db, "100% orange juice")
	createTestGame(t, db, "azul")

	tests := []struct {
		fragment string
		want     []string
	}{
		{"catan", []string{"catan", "catan: seafarers"}},
		{"sea", []string{"catan: seafarers"}},
		{"%", []string{"100% orange juice"}},
		{"_", nil},
		{"nothing", nil},
	}

	for _, tt := range tests {
		t.Run(tt.fragment, func(t *testing.T) {
			games, err := db.Search(context.Background(), tt.fragment, repository.ListOptions{})
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if len(games) != len(tt.want) {
				t.Fatalf("Search(%q) returned %d games, want %d", tt.fragment, len(games), len(tt.want))
			}
			for i, g := range games {
				if g.FirstTitle() != tt.want[i] {
					t.Errorf("games[%d] = %q, want %q", i, g.FirstTitle(), tt.want[i])
				}
			}
		})
	}
}

func TestSearch_CuratedOnly(t *testing.T) {
	db := newTestDB(t)
	createTestGame(t, db, "catan")
	_, _, err := db.UpsertCurator(context.Background(), []string{"catan junior"},
		repository.CuratorPatch{URL: "https://youtu.be/x"}, "bot")
	if err != nil {
		t.Fatalf("UpsertCurator() error = %v", err)
	}

	games, err := db.Search(context.Background(), "catan", repository.ListOptions{CuratedOnly: true})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(games) != 1 || games[0].FirstTitle() != "catan junior" {
		t.Errorf("Search(curated) = %v, want only catan junior", games)
	}
}

func TestTopSearched(t *testing.T) {
	db := newTestDB(t)
	createTestGame(t, db, "azul")
	createTestGame(t, db, "brass")
	for i := 0; i < 2; i++ {
		if _, err := db.GetByTitle(context.Background(), "brass", true); err != nil {
			t.Fatal(err)
		}
	}

	games, err := db.TopSearched(context.Background(), repository.ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("TopSearched() error = %v", err)
	}
	if len(games) != 1 || games[0].FirstTitle() != "brass" {
		t.Errorf("TopSearched() = %v, want brass first", games)
	}
}

func TestTopAsked_SkipsCuratedGames(t *testing.T) {
	db := newTestDB(t)
	createTestGame(t, db, "azul")
	createTestGame(t, db, "brass")
	createTestGame(t, db, "catan")
	ctx := context.Background()

	for _, user := range []string{"u1", "u2"} {
		if _, err := db.AddAsker(ctx, "brass", user); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.AddAsker(ctx, "azul", "u1"); err != nil {
		t.Fatal(err)
	}
	// asking twice does not count twice
	if _, err := db.AddAsker(ctx, "azul", "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddAsker(ctx, "catan", "u1"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.UpsertCurator(ctx, []string{"catan"}, repository.CuratorPatch{URL: "https://youtu.be/c"}, "bot"); err != nil {
		t.Fatal(err)
	}

	games, err := db.TopAsked(ctx, 10)
	if err != nil {
		t.Fatalf("TopAsked() error = %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("TopAsked() returned %d games, want 2", len(games))
	}
	if games[0].FirstTitle() != "brass" || games[1].FirstTitle() != "azul" {
		t.Errorf("TopAsked() = [%s %s], want [brass azul]", games[0].FirstTitle(), games[1].FirstTitle())
	}
	if len(games[1].AskedBy) != 1 {
		t.Errorf("azul AskedBy = %v, want one asker", games[1].AskedBy)
	}
}

func TestListStaleUncurated(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	fresh := createTestGame(t, db, "azul")
	createTestGame(t, db, "brass")

	if _, err := db.MarkCuratorScrape(ctx, fresh.ID, "scheduler", time.Now()); err != nil {
		t.Fatal(err)
	}

	games, err := db.ListStaleUncurated(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListStaleUncurated() error = %v", err)
	}
	if len(games) != 1 || games[0].FirstTitle() != "brass" {
		t.Errorf("ListStaleUncurated() = %v, want only brass", games)
	}
}

// =========================================================================
// UPDATE / DELETE TESTS
// =========================================================================

func TestUpdate(t *testing.T) {
	db := newTestDB(t)
	g := createTestGame(t, db, "catan")

	g.Titles = []string{"catan", "settlers"}
	g.Status = model.StatusValidated
	g.Curator = &model.CuratorEntry{URL: "https://youtu.be/a", Rating: floatPtr(4.5)}
	g.LastUpdatedBy = "scribe"
	if err := db.Update(context.Background(), g); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := db.GetByTitle(context.Background(), "settlers", false)
	if err != nil {
		t.Fatalf("GetByTitle() error = %v", err)
	}
	if got.ID != g.ID || got.Status != model.StatusValidated || got.LastUpdatedBy != "scribe" {
		t.Errorf("got %+v", got)
	}
	if !got.HasCuratorVideo() || *got.Curator.Rating != 4.5 {
		t.Errorf("Curator = %+v", got.Curator)
	}
}

func TestUpdate_Errors(t *testing.T) {
	db := newTestDB(t)
	createTestGame(t, db, "azul")
	g := createTestGame(t, db, "catan")

	g.Titles = []string{"catan", "azul"}
	if err := db.Update(context.Background(), g); !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("Update() with a title of another game error = %v, want ErrConflict", err)
	}

	missing := &model.Game{ID: "nope", Titles: []string{"brass"}}
	if err := db.Update(context.Background(), missing); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Update() missing game error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	db := newTestDB(t)
	g := createTestGame(t, db, "catan")

	if err := db.Delete(context.Background(), g.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	// the title is free again
	createTestGame(t, db, "catan")

	if err := db.Delete(context.Background(), g.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// CURATOR TESTS
// =========================================================================

func TestUpsertCurator_MergesTitles(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, created, err := db.UpsertCurator(ctx, []string{"catan"},
		repository.CuratorPatch{URL: "https://youtu.be/a", VideoTitle: "Catan review"}, "bot")
	if err != nil {
		t.Fatalf("UpsertCurator() error = %v", err)
	}
	if !created {
		t.Error("first UpsertCurator() created = false, want true")
	}
	if first.Status != model.StatusPending || first.SearchCount != 1 {
		t.Errorf("first = status %q searchCount %d, want pending 1", first.Status, first.SearchCount)
	}

	second, created, err := db.UpsertCurator(ctx, []string{"catan", "settlers"},
		repository.CuratorPatch{Rating: floatPtr(4)}, "bot")
	if err != nil {
		t.Fatalf("UpsertCurator() error = %v", err)
	}
	if created {
		t.Error("second UpsertCurator() created = true, want false")
	}
	if second.ID != first.ID {
		t.Fatalf("second upsert targeted %s, want %s", second.ID, first.ID)
	}
	if len(second.Titles) != 2 || second.Titles[1] != "settlers" {
		t.Errorf("Titles = %v, want [catan settlers]", second.Titles)
	}
	if second.SearchCount != 2 {
		t.Errorf("SearchCount = %d, want 2", second.SearchCount)
	}
	// fields absent from the second patch are kept
	if second.Curator.VideoTitle != "Catan review" || *second.Curator.Rating != 4 {
		t.Errorf("Curator = %+v", second.Curator)
	}

	_, total, err := db.List(ctx, repository.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Errorf("total games = %d, want 1", total)
	}
}

func TestUpsertCurator_MatchesByURL(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	patch := repository.CuratorPatch{URL: "https://youtu.be/a"}

	first, _, err := db.UpsertCurator(ctx, []string{"catan"}, patch, "bot")
	if err != nil {
		t.Fatal(err)
	}
	second, created, err := db.UpsertCurator(ctx, []string{"die siedler"}, patch, "bot")
	if err != nil {
		t.Fatalf("UpsertCurator() error = %v", err)
	}
	if created || second.ID != first.ID {
		t.Errorf("url match created=%v id=%s, want existing %s", created, second.ID, first.ID)
	}
}

func TestUpsertCurator_TitlesSpanningGames(t *testing.T) {
	db := newTestDB(t)
	createTestGame(t, db, "azul")
	createTestGame(t, db, "catan")

	_, _, err := db.UpsertCurator(context.Background(), []string{"azul", "catan"}, repository.CuratorPatch{}, "bot")
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("UpsertCurator() error = %v, want ErrConflict", err)
	}
}

func TestSetCuratorRating(t *testing.T) {
	db := newTestDB(t)
	createTestGame(t, db, "catan")

	g, err := db.SetCuratorRating(context.Background(), "catan", floatPtr(3.5), strPtr("solid"), "scribe")
	if err != nil {
		t.Fatalf("SetCuratorRating() error = %v", err)
	}
	if g.Curator == nil || *g.Curator.Rating != 3.5 || *g.Curator.Review != "solid" {
		t.Errorf("Curator = %+v", g.Curator)
	}
	if g.Curator.LastEditedAt == nil {
		t.Error("Curator.LastEditedAt not stamped")
	}
	if g.HasCuratorVideo() {
		t.Error("rating alone should not count as a video")
	}
}

func TestSetCuratorVideo(t *testing.T) {
	db := newTestDB(t)
	g := createTestGame(t, db, "catan")
	ts := 95

	got, err := db.SetCuratorVideo(context.Background(), g.ID, repository.CuratorPatch{
		URL:       "https://www.youtube.com/watch?v=x&list=p&t=95s",
		Thumbnail: "https://i.ytimg.com/x.jpg",
		Timestamp: &ts,
	}, "scribe", time.Now())
	if err != nil {
		t.Fatalf("SetCuratorVideo() error = %v", err)
	}
	if !got.HasCuratorVideo() || *got.Curator.Timestamp != 95 {
		t.Errorf("Curator = %+v", got.Curator)
	}
	if got.LastCuratorScrapeAt == nil || got.LastUpdatedBy != "scribe" {
		t.Errorf("scrape stamp = %v by %q", got.LastCuratorScrapeAt, got.LastUpdatedBy)
	}
}

// =========================================================================
// COMMUNITY RATING TESTS
// =========================================================================

func TestAppendThenReplaceRating(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestGame(t, db, "catan")

	r := model.CommunityRating{UserID: "u1", Rating: floatPtr(3), LastEditedAt: time.Now()}
	g, err := db.AppendRating(ctx, "catan", r)
	if err != nil {
		t.Fatalf("AppendRating() error = %v", err)
	}
	if len(g.CommunityRatings) != 1 || g.SearchCount != 1 {
		t.Fatalf("after append: %d ratings, searchCount %d", len(g.CommunityRatings), g.SearchCount)
	}

	// a second append from the same user finds no qualifying game
	if _, err := db.AppendRating(ctx, "catan", r); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("second AppendRating() error = %v, want ErrNotFound", err)
	}

	r.Rating = floatPtr(5)
	r.Review = strPtr("great")
	g, err = db.ReplaceRating(ctx, "catan", r, false)
	if err != nil {
		t.Fatalf("ReplaceRating() error = %v", err)
	}
	if len(g.CommunityRatings) != 1 {
		t.Fatalf("ratings = %d, want 1 (replaced, not appended)", len(g.CommunityRatings))
	}
	if *g.CommunityRatings[0].Rating != 5 || *g.CommunityRatings[0].Review != "great" {
		t.Errorf("rating = %+v", g.CommunityRatings[0])
	}
	if g.SearchCount != 1 {
		t.Errorf("SearchCount = %d, want 1 (increment skipped)", g.SearchCount)
	}
}

func TestReplaceRating_NoExistingEntry(t *testing.T) {
	db := newTestDB(t)
	createTestGame(t, db, "catan")

	_, err := db.ReplaceRating(context.Background(), "catan",
		model.CommunityRating{UserID: "u1", Rating: floatPtr(2), LastEditedAt: time.Now()}, true)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("ReplaceRating() error = %v, want ErrNotFound", err)
	}
}

func TestClearRatingFields(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestGame(t, db, "catan")

	_, err := db.AppendRating(ctx, "catan", model.CommunityRating{
		UserID: "u1", Rating: floatPtr(4), Review: strPtr("fun"), LastEditedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	g, err := db.ClearRatingFields(ctx, "catan", "u1", true, false)
	if err != nil {
		t.Fatalf("ClearRatingFields(rating) error = %v", err)
	}
	if len(g.CommunityRatings) != 1 || g.CommunityRatings[0].Rating != nil {
		t.Fatalf("after clearing the rating: %+v", g.CommunityRatings)
	}

	g, err = db.ClearRatingFields(ctx, "catan", "u1", false, true)
	if err != nil {
		t.Fatalf("ClearRatingFields(review) error = %v", err)
	}
	if len(g.CommunityRatings) != 0 {
		t.Errorf("empty entry not pruned: %+v", g.CommunityRatings)
	}

	if _, err := db.ClearRatingFields(ctx, "catan", "u1", true, true); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("ClearRatingFields() without entry error = %v, want ErrNotFound", err)
	}
}

func TestListRated_HydratesInBatches(t *testing.T) {
	old := hydrateBatch
	hydrateBatch = 2
	t.Cleanup(func() { hydrateBatch = old })

	db := newTestDB(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		userID := fmt.Sprintf("u%d", i)
		g := &model.Game{
			Titles:  []string{fmt.Sprintf("game %d", i), fmt.Sprintf("alias %d", i)},
			AskedBy: []string{userID},
			CommunityRatings: []model.CommunityRating{
				{UserID: userID, Rating: floatPtr(float64(i%5 + 1)), LastEditedAt: time.Now()},
			},
		}
		if err := db.Create(ctx, g); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	games, err := db.ListRated(ctx, repository.ListOptions{})
	if err != nil {
		t.Fatalf("ListRated() error = %v", err)
	}
	if len(games) != 5 {
		t.Fatalf("ListRated() = %d games, want 5", len(games))
	}
	for _, g := range games {
		if len(g.Titles) != 2 || len(g.CommunityRatings) != 1 || len(g.AskedBy) != 1 {
			t.Errorf("game %s hydrated as %d titles, %d ratings, %d askers",
				g.ID, len(g.Titles), len(g.CommunityRatings), len(g.AskedBy))
			continue
		}
		if g.CommunityRatings[0].UserID != g.AskedBy[0] {
			t.Errorf("game %s got rows of another game: rating by %s, asked by %s",
				g.FirstTitle(), g.CommunityRatings[0].UserID, g.AskedBy[0])
		}
	}
}

func TestListRatedBy(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestGame(t, db, "azul")
	createTestGame(t, db, "brass")

	if _, err := db.AppendRating(ctx, "brass", model.CommunityRating{UserID: "u1", Review: strPtr("ok"), LastEditedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	games, err := db.ListRatedBy(ctx, "u1", repository.ListOptions{})
	if err != nil {
		t.Fatalf("ListRatedBy() error = %v", err)
	}
	if len(games) != 1 || games[0].FirstTitle() != "brass" {
		t.Errorf("ListRatedBy() = %v, want brass", games)
	}

	// a review without a numeric rating does not make a game rated
	rated, err := db.ListRated(ctx, repository.ListOptions{})
	if err != nil {
		t.Fatalf("ListRated() error = %v", err)
	}
	if len(rated) != 0 {
		t.Errorf("ListRated() = %v, want none", rated)
	}
}

// =========================================================================
// DAILY PICK TESTS
// =========================================================================

func TestPickDaily(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	g := createTestGame(t, db, "catan")

	now := time.Now()
	cutoff := now.AddDate(0, -6, 0)

	picked, err := db.PickDaily(ctx, cutoff, now)
	if err != nil {
		t.Fatalf("PickDaily() error = %v", err)
	}
	if picked.ID != g.ID || picked.LastDailyPickAt == nil {
		t.Errorf("picked = %+v", picked)
	}

	if _, err := db.PickDaily(ctx, cutoff, now); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("PickDaily() with nothing eligible error = %v, want ErrNotFound", err)
	}

	// seven months later the game is eligible again
	later := now.AddDate(0, 7, 0)
	if _, err := db.PickDaily(ctx, later.AddDate(0, -6, 0), later); err != nil {
		t.Errorf("PickDaily() after the cutoff error = %v", err)
	}
}
