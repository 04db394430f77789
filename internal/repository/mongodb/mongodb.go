// Package mongodb implements the repository interfaces on MongoDB.
//
// A game is one document in the "orops" collection with its titles, ratings
// and askers embedded. Title uniqueness is enforced by a unique multikey
// index on titles; curator urls by a partial unique index. Each repository
// method is a single atomic document write, using array filters to address
// one member's rating.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/orop-community/orop-server/internal/apperror"
)

const (
	gamesCollection    = "orops"
	accountsCollection = "accounts"
)

// Store wraps the client and implements repository.GameRepository.
// Accounts are reached through Store.Accounts.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	games    *mongo.Collection
	accounts *mongo.Collection
}

// New connects to uri, checks the server answers and makes sure the indexes
// the store relies on exist.
func New(ctx context.Context, uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb: connecting: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb: pinging: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{
		client:   client,
		db:       db,
		games:    db.Collection(gamesCollection),
		accounts: db.Collection(accountsCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Drop removes the whole database. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.games.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "titles", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "curator.url", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(
				bson.M{"curator.url": bson.M{"$type": "string"}},
			),
		},
		{Keys: bson.D{{Key: "searchCount", Value: -1}}},
		{Keys: bson.D{{Key: "communityRatings.userId", Value: 1}}},
		{Keys: bson.D{{Key: "lastDailyPickAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongodb: creating game indexes: %w", err)
	}

	_, err = s.accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "apikey", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("mongodb: creating account indexes: %w", err)
	}
	return nil
}

// mapError turns driver errors into apperror kinds. notFound is returned for
// mongo.ErrNoDocuments, conflict for duplicate key errors.
func mapError(err error, op string, notFound, conflict *apperror.AppError) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments) && notFound != nil:
		return notFound
	case mongo.IsDuplicateKeyError(err) && conflict != nil:
		return conflict
	}
	return fmt.Errorf("mongodb: %s: %w", op, err)
}
