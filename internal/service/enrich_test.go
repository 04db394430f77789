package service

import (
	"context"
	"testing"

	"github.com/orop-community/orop-server/internal/model"
	"github.com/orop-community/orop-server/internal/repository"
)

// countingAccounts serves fixed profiles and counts bulk lookups.
type countingAccounts struct {
	repository.AccountRepository
	profiles map[string]model.Profile
	calls    int
	asked    []string
}

func (c *countingAccounts) ProfilesByUserIDs(_ context.Context, ids []string) (map[string]model.Profile, error) {
	c.calls++
	c.asked = ids
	out := make(map[string]model.Profile)
	for _, id := range ids {
		if p, ok := c.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func TestEnricher_OneLookupPerBatch(t *testing.T) {
	accounts := &countingAccounts{profiles: map[string]model.Profile{
		"u1": {UserID: "u1", Username: "alice", Avatar: "a.png"},
		"u2": {UserID: "u2", Username: "bob"},
	}}
	e := NewEnricher(accounts)

	games := []model.Game{
		{Titles: []string{"catan"}, CommunityRatings: []model.CommunityRating{
			{UserID: "u1", Rating: floatPtr(4)},
			{UserID: "u2", Rating: floatPtr(5)},
		}},
		{Titles: []string{"azul"}, CommunityRatings: []model.CommunityRating{
			{UserID: "u1", Rating: floatPtr(2)},
			{UserID: "gone"},
		}},
		{Titles: []string{"brass"}},
	}

	if err := e.Games(context.Background(), games); err != nil {
		t.Fatalf("Games() error = %v", err)
	}
	if accounts.calls != 1 {
		t.Errorf("ProfilesByUserIDs called %d times, want 1", accounts.calls)
	}
	if len(accounts.asked) != 3 {
		t.Errorf("asked for %v, want 3 distinct ids", accounts.asked)
	}

	if r := games[0].CommunityRatings[0]; r.Username == nil || *r.Username != "alice" || *r.Avatar != "a.png" {
		t.Errorf("u1 display = %v/%v", r.Username, r.Avatar)
	}
	if r := games[1].CommunityRatings[1]; r.Username != nil || r.Avatar != nil {
		t.Error("rating of a deleted account should have null username and avatar")
	}

	if games[0].CommunityRating == nil || *games[0].CommunityRating != 5 {
		t.Errorf("catan rating = %v, want 5", games[0].CommunityRating)
	}
	if games[2].CommunityRating != nil {
		t.Errorf("unrated game rating = %v, want nil", *games[2].CommunityRating)
	}
}

func TestEnricher_NoRatersNoLookup(t *testing.T) {
	accounts := &countingAccounts{}
	e := NewEnricher(accounts)

	g := &model.Game{Titles: []string{"catan"}}
	if err := e.Game(context.Background(), g); err != nil {
		t.Fatalf("Game() error = %v", err)
	}
	if accounts.calls != 0 {
		t.Errorf("ProfilesByUserIDs called %d times, want 0", accounts.calls)
	}
}
