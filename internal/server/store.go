package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/orop-community/orop-server/internal/config"
	"github.com/orop-community/orop-server/internal/repository"
	"github.com/orop-community/orop-server/internal/repository/mongodb"
	sqliteRepo "github.com/orop-community/orop-server/internal/repository/sqlite"
)

// Store is the backend picked by configuration.
type Store struct {
	Games    repository.GameRepository
	Accounts repository.AccountRepository

	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

func (s *Store) Ping(ctx context.Context) error { return s.ping(ctx) }

func (s *Store) Close(ctx context.Context) error { return s.close(ctx) }

// OpenStore opens the SQLite database or connects to MongoDB.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Store, error) {
	switch cfg.Driver {
	case "mongo":
		st, err := mongodb.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		logger.Info("store opened", slog.String("driver", "mongo"), slog.String("database", cfg.MongoDB))
		return &Store{
			Games:    st,
			Accounts: st.Accounts(),
			ping:     st.Ping,
			close:    st.Close,
		}, nil

	case "sqlite", "":
		if cfg.SQLitePath != ":memory:" {
			// created on first start, like `mkdir -p`
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("store opened", slog.String("driver", "sqlite"), slog.String("path", cfg.SQLitePath))
		return &Store{
			Games:    db,
			Accounts: db.Accounts(),
			ping:     db.Ping,
			close:    func(context.Context) error { return db.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
