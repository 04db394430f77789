package service

import (
	"context"
	"fmt"

	"github.com/orop-community/orop-server/internal/model"
	"github.com/orop-community/orop-server/internal/rating"
	"github.com/orop-community/orop-server/internal/repository"
)

// Enricher attaches the derived community rating and the raters' display
// data to games on their way out. Every read path goes through it.
type Enricher struct {
	accounts repository.AccountRepository
}

// NewEnricher resolves raters through accounts.
func NewEnricher(accounts repository.AccountRepository) *Enricher {
	return &Enricher{accounts: accounts}
}

// Games enriches a batch with a single directory lookup covering every
// distinct rater. Raters without an account get null username and avatar.
func (e *Enricher) Games(ctx context.Context, games []model.Game) error {
	rating.ApplyAll(games)

	seen := make(map[string]struct{})
	var userIDs []string
	for _, g := range games {
		for _, r := range g.CommunityRatings {
			if _, ok := seen[r.UserID]; !ok {
				seen[r.UserID] = struct{}{}
				userIDs = append(userIDs, r.UserID)
			}
		}
	}
	if len(userIDs) == 0 {
		return nil
	}

	profiles, err := e.accounts.ProfilesByUserIDs(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("service/enrich: loading %d profiles: %w", len(userIDs), err)
	}

	for i := range games {
		for j := range games[i].CommunityRatings {
			r := &games[i].CommunityRatings[j]
			r.Username, r.Avatar = nil, nil
			if p, ok := profiles[r.UserID]; ok {
				username, avatar := p.Username, p.Avatar
				r.Username, r.Avatar = &username, &avatar
			}
		}
	}
	return nil
}

// Game enriches a single game.
func (e *Enricher) Game(ctx context.Context, g *model.Game) error {
	if g == nil {
		return nil
	}
	batch := []model.Game{*g}
	if err := e.Games(ctx, batch); err != nil {
		return err
	}
	*g = batch[0]
	return nil
}
