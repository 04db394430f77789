// Package model defines the data structures used throughout the application.
//
// Structs carry both json tags (HTTP responses) and bson tags (MongoDB store).
// Fields tagged bson:"-" are computed at read time and never persisted.
package model

import "time"

// Status is the lifecycle tag of a game entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusValidated Status = "validated"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusValidated
}

// Game is one OROP entry: a board game known under one or more titles.
//
// Titles are lowercased and unique across all games. A write that carries any
// title already stored on a game targets that game.
type Game struct {
	ID               string            `json:"id"                        bson:"_id"`
	Titles           []string          `json:"titles"                    bson:"titles"`
	Curator          *CuratorEntry     `json:"curator,omitempty"         bson:"curator,omitempty"`
	CommunityRatings []CommunityRating `json:"communityRatings"          bson:"communityRatings"`
	SearchCount      int64             `json:"searchCount"               bson:"searchCount"`
	AskedBy          []string          `json:"askedBy"                   bson:"askedBy"`
	Status           Status            `json:"status"                    bson:"status"`
	LastUpdatedBy    string            `json:"lastUpdatedBy,omitempty"   bson:"lastUpdatedBy,omitempty"`

	LastCuratorScrapeAt *time.Time `json:"lastCuratorScrapeAt,omitempty" bson:"lastCuratorScrapeAt,omitempty"`
	LastDailyPickAt     *time.Time `json:"lastDailyPickAt,omitempty"     bson:"lastDailyPickAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"                     bson:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"                     bson:"updatedAt"`

	// CommunityRating is the rounded mean of CommunityRatings, nil when no
	// rating carries a value. Filled in by the rating package on every read.
	CommunityRating *int `json:"communityRating" bson:"-"`
}

// CuratorEntry is the metadata of the curator's video review of a game.
type CuratorEntry struct {
	URL           string     `json:"url,omitempty"           bson:"url,omitempty"`
	PublishedDate string     `json:"publishedDate,omitempty" bson:"publishedDate,omitempty"`
	VideoTitle    string     `json:"videoTitle,omitempty"    bson:"videoTitle,omitempty"`
	Thumbnail     string     `json:"thumbnail,omitempty"     bson:"thumbnail,omitempty"`
	Timestamp     *int       `json:"timestamp,omitempty"     bson:"timestamp,omitempty"` // seconds into the video
	Rating        *float64   `json:"rating,omitempty"        bson:"rating,omitempty"`
	Review        *string    `json:"review,omitempty"        bson:"review,omitempty"`
	LastEditedAt  *time.Time `json:"lastEditedAt,omitempty"  bson:"lastEditedAt,omitempty"`
}

// CommunityRating is one member's rating of a game. A game holds at most one
// entry per UserID.
type CommunityRating struct {
	UserID       string    `json:"userId"           bson:"userId"`
	Rating       *float64  `json:"rating,omitempty" bson:"rating,omitempty"`
	Review       *string   `json:"review,omitempty" bson:"review,omitempty"`
	LastEditedAt time.Time `json:"lastEditedAt"     bson:"lastEditedAt"`
	Reported     bool      `json:"reported"         bson:"reported"`

	// Display fields attached by identity enrichment.
	Username *string `json:"username" bson:"-"`
	Avatar   *string `json:"avatar"   bson:"-"`
}

// FirstTitle returns the title used for sorting, or "" for a game without titles.
func (g *Game) FirstTitle() string {
	if len(g.Titles) == 0 {
		return ""
	}
	return g.Titles[0]
}

// RatingBy returns the rating left by userID, or nil.
func (g *Game) RatingBy(userID string) *CommunityRating {
	for i := range g.CommunityRatings {
		if g.CommunityRatings[i].UserID == userID {
			return &g.CommunityRatings[i]
		}
	}
	return nil
}

// HasTitle reports whether title (already normalized) is one of g's titles.
func (g *Game) HasTitle(title string) bool {
	for _, t := range g.Titles {
		if t == title {
			return true
		}
	}
	return false
}

// HasCuratorVideo reports whether a curator video has been attached.
func (g *Game) HasCuratorVideo() bool {
	return g.Curator != nil && g.Curator.URL != ""
}

// RatingUpsert is the outcome of a community rating write.
type RatingUpsert struct {
	Game    *Game `json:"orop"`
	Updated bool  `json:"updated"`
	Created bool  `json:"created,omitempty"`
}
