package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/auth"
	"github.com/orop-community/orop-server/internal/model"
	"github.com/orop-community/orop-server/internal/repository"
)

// compile-time check that *Directory can back the auth middleware
var _ auth.Resolver = (*Directory)(nil)

// Directory resolves credentials to accounts and links OAuth identities to
// accounts.
type Directory struct {
	accounts repository.AccountRepository
	tokens   *auth.TokenService
	scribes  auth.RoleSet
	logger   *slog.Logger
}

// NewDirectory builds the directory. tokens may be nil when no sessions are
// issued.
func NewDirectory(
	accounts repository.AccountRepository,
	tokens *auth.TokenService,
	scribes auth.RoleSet,
	logger *slog.Logger,
) *Directory {
	return &Directory{
		accounts: accounts,
		tokens:   tokens,
		scribes:  scribes,
		logger:   logger,
	}
}

// LoginResult bundles the account and the session token issued for it.
type LoginResult struct {
	Account *model.Account `json:"account"`
	Token   string         `json:"jwt"`
}

// ResolveByAPIKey returns the account owning key.
func (d *Directory) ResolveByAPIKey(ctx context.Context, key string) (*model.Account, error) {
	acc, err := d.accounts.GetByAPIKey(ctx, key)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Unauthenticated("invalid api key")
	}
	if err != nil {
		return nil, fmt.Errorf("service/directory: resolving api key: %w", err)
	}
	return acc, nil
}

// ResolveServiceKey reports whether key belongs to a service account.
func (d *Directory) ResolveServiceKey(ctx context.Context, key string) (bool, error) {
	acc, err := d.ResolveByAPIKey(ctx, key)
	if errors.Is(err, apperror.ErrUnauthenticated) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return acc.Type == model.AccountService, nil
}

// ResolveSession returns the account named by a session token.
func (d *Directory) ResolveSession(ctx context.Context, token string) (*model.Account, error) {
	userID, err := d.tokens.Validate(token)
	if err != nil {
		d.logger.Debug("rejected session token", slog.String("error", err.Error()))
		return nil, apperror.Unauthenticated("invalid or expired session")
	}

	acc, err := d.accounts.GetByUserID(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Unauthenticated("account no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("service/directory: resolving session of %s: %w", userID, err)
	}
	return acc, nil
}

// IsScribe reports whether the account holds one of the scribe roles.
func (d *Directory) IsScribe(acc *model.Account) bool {
	if acc == nil {
		return false
	}
	return d.scribes.Intersects(acc.Roles())
}

// FindOrCreateByProviderIdentity links id to its account, creating one with a
// fresh API key on first login. Display fields, tokens and roles are
// refreshed on every login.
func (d *Directory) FindOrCreateByProviderIdentity(ctx context.Context, id *model.ProviderIdentity) (*model.Account, error) {
	if id == nil || id.ProviderID == "" {
		return nil, fmt.Errorf("service/directory: provider identity must carry an id")
	}

	link := &model.ProviderLink{
		ID:           id.ProviderID,
		AccessToken:  id.AccessToken,
		RefreshToken: id.RefreshToken,
		ExpiresAt:    id.Expiry,
		Roles:        id.Roles,
	}
	acc := &model.Account{
		UserID:   id.ProviderID,
		Type:     id.Provider,
		APIKey:   uuid.NewString(),
		Username: id.Username,
		Avatar:   id.Avatar,
	}
	switch id.Provider {
	case model.AccountDiscord:
		acc.Discord = link
	case model.AccountGoogle:
		acc.Google = link
	default:
		return nil, fmt.Errorf("service/directory: unsupported provider %q", id.Provider)
	}

	if err := d.accounts.UpsertByUserID(ctx, acc); err != nil {
		return nil, fmt.Errorf("service/directory: linking %s account %s: %w", id.Provider, id.ProviderID, err)
	}
	return acc, nil
}

// Login exchanges an OAuth code with provider and returns the linked account
// and a new session token.
func (d *Directory) Login(ctx context.Context, provider auth.Provider, code string) (*LoginResult, error) {
	identity, err := provider.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}

	acc, err := d.FindOrCreateByProviderIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	token, err := d.tokens.Generate(acc.UserID)
	if err != nil {
		return nil, fmt.Errorf("service/directory: issuing session for %s: %w", acc.UserID, err)
	}

	d.logger.Info("account logged in",
		slog.String("userID", acc.UserID),
		slog.String("provider", string(acc.Type)),
		slog.Bool("scribe", d.IsScribe(acc)),
	)
	return &LoginResult{Account: acc, Token: token}, nil
}

// CreateServiceAccount provisions a non-human caller named name.
func (d *Directory) CreateServiceAccount(ctx context.Context, name string) (*model.Account, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperror.ValidationFailed("name", "name is required")
	}

	acc := &model.Account{
		UserID:   "service-" + xid.New().String(),
		Type:     model.AccountService,
		APIKey:   uuid.NewString(),
		Username: name,
	}
	if err := d.accounts.Create(ctx, acc); err != nil {
		return nil, fmt.Errorf("service/directory: creating service account %q: %w", name, err)
	}

	d.logger.Info("service account created", slog.String("userID", acc.UserID), slog.String("name", name))
	return acc, nil
}

// Me returns the account of userID.
func (d *Directory) Me(ctx context.Context, userID string) (*model.Account, error) {
	acc, err := d.accounts.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/directory: loading account %s: %w", userID, err)
	}
	return acc, nil
}
