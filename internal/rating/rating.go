// Package rating computes the community rating of a game.
//
// The community rating is derived data: it is recomputed from the list of
// individual ratings every time a game is surfaced and is never stored.
package rating

import (
	"math"
	"sort"

	"github.com/orop-community/orop-server/internal/model"
)

// Aggregate returns the mean of the present ratings rounded half away from
// zero, or nil when no entry carries a rating.
func Aggregate(ratings []model.CommunityRating) *int {
	sum, n := 0.0, 0
	for _, r := range ratings {
		if r.Rating == nil {
			continue
		}
		sum += *r.Rating
		n++
	}
	if n == 0 {
		return nil
	}
	v := int(math.Round(sum / float64(n)))
	return &v
}

// Count returns how many entries carry a rating.
func Count(ratings []model.CommunityRating) int {
	n := 0
	for _, r := range ratings {
		if r.Rating != nil {
			n++
		}
	}
	return n
}

// Apply fills in the derived community rating of g.
func Apply(g *model.Game) {
	if g == nil {
		return
	}
	g.CommunityRating = Aggregate(g.CommunityRatings)
}

// ApplyAll fills in the derived community rating of every game.
func ApplyAll(games []model.Game) {
	for i := range games {
		Apply(&games[i])
	}
}

// SortTopRated orders games best first: higher community rating, then more
// ratings, then first title. A lone 5 therefore ranks below several ratings
// that also round to 5. Games without a community rating go last.
func SortTopRated(games []model.Game) {
	ApplyAll(games)
	sort.SliceStable(games, func(i, j int) bool {
		a, b := games[i], games[j]
		switch {
		case a.CommunityRating == nil && b.CommunityRating == nil:
			return a.FirstTitle() < b.FirstTitle()
		case a.CommunityRating == nil:
			return false
		case b.CommunityRating == nil:
			return true
		case *a.CommunityRating != *b.CommunityRating:
			return *a.CommunityRating > *b.CommunityRating
		}
		ca, cb := Count(a.CommunityRatings), Count(b.CommunityRatings)
		if ca != cb {
			return ca > cb
		}
		return a.FirstTitle() < b.FirstTitle()
	})
}
