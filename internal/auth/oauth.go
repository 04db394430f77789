package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/orop-community/orop-server/internal/apperror"
	"github.com/orop-community/orop-server/internal/config"
	"github.com/orop-community/orop-server/internal/model"
)

// Provider trades an OAuth authorization code for the caller's identity.
type Provider interface {
	Exchange(ctx context.Context, code string) (*model.ProviderIdentity, error)
}

// DiscordProvider runs the Discord Authorization Code flow. When a guild is
// configured the member's guild roles are fetched too; they decide scribe
// rights.
type DiscordProvider struct {
	config  *oauth2.Config
	client  *http.Client
	apiURL  string
	guildID string
}

func NewDiscordProvider(cfg config.DiscordConfig, timeout time.Duration) *DiscordProvider {
	scopes := []string{"identify"}
	if cfg.GuildID != "" {
		scopes = append(scopes, "guilds.members.read")
	}
	return &DiscordProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoints.Discord,
		},
		client:  &http.Client{Timeout: timeout},
		apiURL:  strings.TrimSuffix(cfg.APIURL, "/"),
		guildID: cfg.GuildID,
	}
}

// discordUser is the part of GET /users/@me we use.
type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
}

type discordMember struct {
	Roles []string `json:"roles"`
}

func (p *DiscordProvider) Exchange(ctx context.Context, code string) (*model.ProviderIdentity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := exchange(ctx, p.config, code, "Discord")
	if err != nil {
		return nil, err
	}
	client := p.config.Client(ctx, tok)

	var user discordUser
	if _, err := getJSON(ctx, client, p.apiURL+"/users/@me", &user); err != nil {
		return nil, apperror.Upstream("Discord", err)
	}
	if user.ID == "" {
		return nil, apperror.Upstream("Discord", errors.New("auth: discord returned a user without id"))
	}

	id := &model.ProviderIdentity{
		Provider:     model.AccountDiscord,
		ProviderID:   user.ID,
		Username:     user.Username,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Roles:        []string{},
	}
	if user.GlobalName != "" {
		id.Username = user.GlobalName
	}
	if user.Avatar != "" {
		id.Avatar = fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", user.ID, user.Avatar)
	}

	if p.guildID != "" {
		var member discordMember
		status, err := getJSON(ctx, client, p.apiURL+"/users/@me/guilds/"+p.guildID+"/member", &member)
		switch {
		case status == http.StatusNotFound:
			// not a member of the guild: no roles
		case err != nil:
			return nil, apperror.Upstream("Discord", err)
		default:
			id.Roles = member.Roles
		}
	}

	return id, nil
}

// GoogleProvider exchanges a code obtained by the front end's Google sign-in
// popup (redirect uri "postmessage").
type GoogleProvider struct {
	config      *oauth2.Config
	client      *http.Client
	userInfoURL string
}

func NewGoogleProvider(cfg config.GoogleConfig, timeout time.Duration) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     endpoints.Google,
		},
		client:      &http.Client{Timeout: timeout},
		userInfoURL: cfg.UserInfoURL,
	}
}

// googleUser is the OpenID userinfo response.
type googleUser struct {
	Sub     string `json:"sub"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*model.ProviderIdentity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := exchange(ctx, p.config, code, "Google")
	if err != nil {
		return nil, err
	}

	var user googleUser
	if _, err := getJSON(ctx, p.config.Client(ctx, tok), p.userInfoURL, &user); err != nil {
		return nil, apperror.Upstream("Google", err)
	}
	if user.Sub == "" {
		return nil, apperror.Upstream("Google", errors.New("auth: google returned a user without sub"))
	}

	return &model.ProviderIdentity{
		Provider:     model.AccountGoogle,
		ProviderID:   user.Sub,
		Username:     user.Name,
		Avatar:       user.Picture,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Roles:        []string{},
	}, nil
}

// exchange trades code for a token. A code the provider rejects is the
// caller's fault (401); anything else is an upstream failure.
func exchange(ctx context.Context, cfg *oauth2.Config, code, provider string) (*oauth2.Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperror.ValidationFailed("code", "code is required")
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			return nil, apperror.Unauthenticated(fmt.Sprintf("%s rejected the authorization code", provider))
		}
		return nil, apperror.Upstream(provider, fmt.Errorf("auth: exchanging %s code: %w", provider, err))
	}
	return tok, nil
}

// getJSON decodes a 200 response into dest. The status is returned so callers
// can treat some non-200 answers as data.
func getJSON(ctx context.Context, client *http.Client, url string, dest any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("auth: building request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("auth: calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("auth: %s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return resp.StatusCode, fmt.Errorf("auth: decoding %s: %w", url, err)
	}
	return resp.StatusCode, nil
}
