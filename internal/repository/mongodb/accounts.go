package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/model"
	"github.com/orop-community/orop-server/internal/repository"
)

// compile-time check that *AccountStore implements repository.AccountRepository
var _ repository.AccountRepository = (*AccountStore)(nil)

// AccountStore is the "accounts" collection of a Store.
type AccountStore struct {
	s *Store
}

// Accounts returns the account repository of s.
func (s *Store) Accounts() *AccountStore {
	return &AccountStore{s: s}
}

func (a *AccountStore) GetByAPIKey(ctx context.Context, key string) (*model.Account, error) {
	return a.findOne(ctx, "apikey", key)
}

func (a *AccountStore) GetByUserID(ctx context.Context, userID string) (*model.Account, error) {
	return a.findOne(ctx, "userId", userID)
}

// UpsertByUserID refreshes the profile and provider link of the account with
// acc.UserID in one write, inserting acc when it does not exist yet.
func (a *AccountStore) UpsertByUserID(ctx context.Context, acc *model.Account) error {
	now := time.Now().UTC()
	if acc.ID == "" {
		acc.ID = xid.New().String()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}

	set := bson.M{
		"type":      acc.Type,
		"username":  acc.Username,
		"avatar":    acc.Avatar,
		"updatedAt": now,
	}
	if acc.Discord != nil {
		set["discord"] = acc.Discord
	}
	if acc.Google != nil {
		set["google"] = acc.Google
	}

	var stored model.Account
	err := a.s.accounts.FindOneAndUpdate(ctx,
		bson.M{"userId": acc.UserID},
		bson.M{
			"$set": set,
			"$setOnInsert": bson.M{
				"_id":       acc.ID,
				"apikey":    acc.APIKey,
				"createdAt": acc.CreatedAt,
			},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&stored)
	if err != nil {
		return mapError(err, "upserting account", nil, apperror.Conflict("account", "user id", acc.UserID))
	}
	*acc = stored
	return nil
}

func (a *AccountStore) Create(ctx context.Context, acc *model.Account) error {
	now := time.Now().UTC()
	if acc.ID == "" {
		acc.ID = xid.New().String()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	_, err := a.s.accounts.InsertOne(ctx, acc)
	return mapError(err, "inserting account", nil, apperror.Conflict("account", "user id", acc.UserID))
}

// ProfilesByUserIDs loads the display fields of userIDs with one $in query.
func (a *AccountStore) ProfilesByUserIDs(ctx context.Context, userIDs []string) (map[string]model.Profile, error) {
	profiles := make(map[string]model.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}

	cursor, err := a.s.accounts.Find(ctx,
		bson.M{"userId": bson.M{"$in": userIDs}},
		options.Find().SetProjection(bson.M{"_id": 0, "userId": 1, "username": 1, "avatar": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("mongodb: loading profiles: %w", err)
	}
	var found []model.Profile
	if err := cursor.All(ctx, &found); err != nil {
		return nil, fmt.Errorf("mongodb: decoding profiles: %w", err)
	}
	for _, p := range found {
		profiles[p.UserID] = p
	}
	return profiles, nil
}

func (a *AccountStore) findOne(ctx context.Context, field, value string) (*model.Account, error) {
	var acc model.Account
	err := a.s.accounts.FindOne(ctx, bson.M{field: value}).Decode(&acc)
	if err != nil {
		return nil, mapError(err, "getting account", apperror.NotFound("account", field, value), nil)
	}
	return &acc, nil
}
