package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/model"
	"github.com/orop-community/orop-server/internal/repository"
)

// compile-time check that *AccountDB implements repository.AccountRepository
var _ repository.AccountRepository = (*AccountDB)(nil)

// AccountDB is the account side of the database. It shares the connection of
// the DB it came from; it is a separate type because both repositories have a
// Create method.
type AccountDB struct {
	db *DB
}

// Accounts returns the account repository backed by db.
func (db *DB) Accounts() *AccountDB {
	return &AccountDB{db: db}
}

const accountColumns = `id, user_id, type, apikey, username, avatar, provider_id,
	provider_access_token, provider_refresh_token, provider_expires_at, created_at, updated_at`

// GetByAPIKey retrieves the account owning key.
// Returns apperror.ErrNotFound if no account carries it.
func (a *AccountDB) GetByAPIKey(ctx context.Context, key string) (*model.Account, error) {
	return getAccount(ctx, a.db.conn, "apikey", key)
}

// GetByUserID retrieves an account by its provider-issued user id.
func (a *AccountDB) GetByUserID(ctx context.Context, userID string) (*model.Account, error) {
	return getAccount(ctx, a.db.conn, "user_id", userID)
}

// UpsertByUserID updates the account matching acc.UserID, keeping its id,
// api key and creation time, or inserts acc when there is none.
func (a *AccountDB) UpsertByUserID(ctx context.Context, acc *model.Account) error {
	return a.db.withTx(ctx, func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM accounts WHERE user_id = ?`, acc.UserID).Scan(&existingID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlite: looking up account by user_id %s: %w", acc.UserID, err)
		}

		if existingID == "" {
			if err := insertAccount(ctx, tx, acc); err != nil {
				return err
			}
		} else {
			link := providerLink(acc)
			_, err = tx.ExecContext(ctx,
				`UPDATE accounts SET type = ?, username = ?, avatar = ?, provider_id = ?,
					provider_access_token = ?, provider_refresh_token = ?, provider_expires_at = ?, updated_at = ?
				 WHERE id = ?`,
				string(acc.Type), acc.Username, acc.Avatar, link.ID,
				link.AccessToken, link.RefreshToken, zeroToNull(link.ExpiresAt), time.Now().UTC(),
				existingID,
			)
			if err != nil {
				return fmt.Errorf("sqlite: updating account %s: %w", existingID, err)
			}
			if err := replaceRoles(ctx, tx, existingID, link.Roles); err != nil {
				return err
			}
		}

		stored, err := getAccount(ctx, tx, "user_id", acc.UserID)
		if err != nil {
			return err
		}
		*acc = *stored
		return nil
	})
}

// Create inserts a new account. Returns a conflict when the user id or api
// key is taken.
func (a *AccountDB) Create(ctx context.Context, acc *model.Account) error {
	return a.db.withTx(ctx, func(tx *sql.Tx) error {
		return insertAccount(ctx, tx, acc)
	})
}

// ProfilesByUserIDs returns display data for every known id among userIDs.
func (a *AccountDB) ProfilesByUserIDs(ctx context.Context, userIDs []string) (map[string]model.Profile, error) {
	profiles := make(map[string]model.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}

	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	rows, err := a.db.conn.QueryContext(ctx,
		`SELECT user_id, username, avatar FROM accounts WHERE user_id IN (`+placeholders(len(args))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading profiles: %w", err)
	}
	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.UserID, &p.Username, &p.Avatar); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning profile: %w", err)
		}
		profiles[p.UserID] = p
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return profiles, nil
}

func insertAccount(ctx context.Context, tx *sql.Tx, acc *model.Account) error {
	now := time.Now().UTC()
	if acc.ID == "" {
		acc.ID = xid.New().String()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	link := providerLink(acc)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acc.ID, acc.UserID, string(acc.Type), acc.APIKey, acc.Username, acc.Avatar, link.ID,
		link.AccessToken, link.RefreshToken, zeroToNull(link.ExpiresAt), acc.CreatedAt.UTC(), acc.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperror.Conflict("account", "user id", acc.UserID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: inserting account (userID=%s): %w", acc.UserID, err)
	}
	return replaceRoles(ctx, tx, acc.ID, link.Roles)
}

func replaceRoles(ctx context.Context, tx *sql.Tx, accountID string, roles []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM account_roles WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("sqlite: clearing roles of %s: %w", accountID, err)
	}
	for i, role := range roles {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO account_roles (account_id, role, position) VALUES (?, ?, ?)
			 ON CONFLICT (account_id, role) DO NOTHING`,
			accountID, role, i,
		)
		if err != nil {
			return fmt.Errorf("sqlite: adding role to %s: %w", accountID, err)
		}
	}
	return nil
}

func getAccount(ctx context.Context, q querier, column, value string) (*model.Account, error) {
	var (
		a                           model.Account
		accType                     string
		providerID, access, refresh string
		expires                     sql.NullTime
	)
	err := q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+column+` = ?`, value,
	).Scan(
		&a.ID, &a.UserID, &accType, &a.APIKey, &a.Username, &a.Avatar, &providerID,
		&access, &refresh, &expires, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("account", column, value)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting account by %s: %w", column, err)
	}
	a.Type = model.AccountType(accType)

	if providerID != "" {
		link := &model.ProviderLink{ID: providerID, AccessToken: access, RefreshToken: refresh}
		if expires.Valid {
			link.ExpiresAt = expires.Time
		}
		roles, err := loadRoles(ctx, q, a.ID)
		if err != nil {
			return nil, err
		}
		link.Roles = roles
		switch a.Type {
		case model.AccountDiscord:
			a.Discord = link
		case model.AccountGoogle:
			a.Google = link
		}
	}
	return &a, nil
}

func loadRoles(ctx context.Context, q querier, accountID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT role FROM account_roles WHERE account_id = ? ORDER BY position`, accountID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading roles: %w", err)
	}
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return roles, nil
}

// providerLink returns the link matching acc.Type, or an empty one.
func providerLink(acc *model.Account) model.ProviderLink {
	if l := acc.Link(); l != nil {
		return *l
	}
	return model.ProviderLink{}
}

func zeroToNull(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
