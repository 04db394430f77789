package model

import "time"

// AccountType identifies how an account authenticates.
type AccountType string

const (
	AccountDiscord AccountType = "discord"
	AccountGoogle  AccountType = "google"
	AccountService AccountType = "service"
)

// Account is a caller known to the directory: a community member linked to an
// OAuth provider, or a service caller such as a batch job.
//
// UserID is the provider-issued identifier (or a generated one for service
// accounts). It is unique and never changes. APIKey is the opaque bearer
// credential sent in the apikey header.
type Account struct {
	ID       string      `json:"id"       bson:"_id"`
	UserID   string      `json:"userId"   bson:"userId"`
	Type     AccountType `json:"type"     bson:"type"`
	APIKey   string      `json:"apikey"   bson:"apikey"`
	Username string      `json:"username" bson:"username"`
	Avatar   string      `json:"avatar"   bson:"avatar"`

	Discord *ProviderLink `json:"discord,omitempty" bson:"discord,omitempty"`
	Google  *ProviderLink `json:"google,omitempty"  bson:"google,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// ProviderLink holds what an OAuth provider told us at the last login.
// Tokens never leave the server.
type ProviderLink struct {
	ID           string    `json:"id"              bson:"id"`
	AccessToken  string    `json:"-"               bson:"accessToken"`
	RefreshToken string    `json:"-"               bson:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"       bson:"expiresAt"`
	Roles        []string  `json:"roles,omitempty" bson:"roles,omitempty"`
}

// Link returns the provider sub-document matching the account type.
func (a *Account) Link() *ProviderLink {
	switch a.Type {
	case AccountDiscord:
		return a.Discord
	case AccountGoogle:
		return a.Google
	}
	return nil
}

// Roles returns the provider-supplied roles of the account.
func (a *Account) Roles() []string {
	if l := a.Link(); l != nil {
		return l.Roles
	}
	return nil
}

// Profile is the public face of an account, attached to community ratings.
type Profile struct {
	UserID   string `json:"userId"   bson:"userId"`
	Username string `json:"username" bson:"username"`
	Avatar   string `json:"avatar"   bson:"avatar"`
}

// ProviderIdentity is what an OAuth exchange yields about the caller.
type ProviderIdentity struct {
	Provider     AccountType
	ProviderID   string
	Username     string
	Avatar       string
	Roles        []string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}
