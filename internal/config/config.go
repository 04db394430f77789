// Package config loads the server configuration.
//
// Values come from, in increasing priority: the `default` struct tags, an
// optional YAML file (config/config.yml), and environment variables named in
// the `env` tags. cmd/server loads a .env file into the environment first.
//
// Durations are plain integers (seconds, minutes, days): configor parses env
// values as YAML, which has no duration type.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jinzhu/configor"
)

// DefaultFile is read when present.
const DefaultFile = "config/config.yml"

type Config struct {
	App       AppConfig
	Log       LogConfig
	Store     StoreConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Discord   DiscordConfig
	Google    GoogleConfig
	YouTube   YouTubeConfig
	Scheduler SchedulerConfig
}

type AppConfig struct {
	Port int `default:"8080" env:"PORT"`
	// FrontURL receives ?jwt=<token> after an OAuth login. Empty means the
	// login endpoints answer with JSON.
	FrontURL string `env:"FRONT_URL"`
	// HTTPTimeoutSeconds bounds every call to Discord, Google and YouTube.
	HTTPTimeoutSeconds int `default:"10" env:"HTTP_TIMEOUT_SECONDS"`
}

type LogConfig struct {
	Level     string `default:"info" env:"LOG_LEVEL"`
	Format    string `default:"text" env:"LOG_FORMAT"`
	Component string `default:"orop-server" env:"LOG_COMPONENT"`
	Source    bool   `env:"LOG_SOURCE"`
}

type StoreConfig struct {
	Driver     string `default:"sqlite" env:"STORE_DRIVER"` // sqlite | mongo
	SQLitePath string `default:"data/orop.db" env:"DB_PATH"`
	MongoURI   string `env:"MONGO_URI"`
	MongoDB    string `default:"orop" env:"MONGO_DB"`
}

type RedisConfig struct {
	// Addr enables the ranking cache. Empty disables it.
	Addr       string `env:"REDIS_ADDR"`
	Password   string `env:"REDIS_PASSWORD"`
	DB         int    `env:"REDIS_DB"`
	TTLSeconds int    `default:"300" env:"RANKING_CACHE_TTL_SECONDS"`
}

type AuthConfig struct {
	JWTSecret         string `env:"JWT_SECRET"`
	JWTIssuer         string `default:"orop-server" env:"JWT_ISSUER"`
	SessionTTLMinutes int    `default:"10080" env:"SESSION_TTL_MINUTES"`
	// AllowedScribeRolesString is a comma separated list of provider roles
	// that grant scribe rights. Split into AllowedScribeRoles by Load.
	AllowedScribeRolesString string `env:"ALLOWED_SCRIBE_ROLES"`
	AllowedScribeRoles       []string
}

type DiscordConfig struct {
	ClientID     string `env:"DISCORD_CLIENT_ID"`
	ClientSecret string `env:"DISCORD_CLIENT_SECRET"`
	RedirectURL  string `env:"DISCORD_REDIRECT_URL"`
	GuildID      string `env:"DISCORD_GUILD_ID"`
	APIURL       string `default:"https://discord.com/api" env:"DISCORD_API_URL"`
}

type GoogleConfig struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL  string `default:"postmessage" env:"GOOGLE_REDIRECT_URL"`
	UserInfoURL  string `default:"https://www.googleapis.com/oauth2/v3/userinfo" env:"GOOGLE_USERINFO_URL"`
}

type YouTubeConfig struct {
	APIURL     string `default:"https://www.googleapis.com/youtube/v3" env:"YOUTUBE_API_URL"`
	APIKey     string `env:"YOUTUBE_API_KEY"`
	PlaylistID string `env:"YOUTUBE_PLAYLIST_ID"`
	MaxPages   int    `default:"50" env:"YOUTUBE_MAX_PAGES"`
}

type SchedulerConfig struct {
	// CuratorRefreshSpec is a robfig/cron spec. Empty disables the job.
	CuratorRefreshSpec string `env:"CURATOR_REFRESH_CRON"`
	StaleAfterDays     int    `default:"30" env:"CURATOR_STALE_AFTER_DAYS"`
	BatchSize          int    `default:"10" env:"CURATOR_REFRESH_BATCH"`
}

// Load reads the configuration from files (DefaultFile when none are given
// and it exists) and the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if _, err := os.Stat(DefaultFile); err == nil {
			files = []string{DefaultFile}
		}
	}

	cfg := &Config{}
	loader := configor.New(&configor.Config{Silent: true})
	if err := loader.Load(cfg, files...); err != nil {
		return nil, fmt.Errorf("config: loading: %w", err)
	}

	cfg.Auth.AllowedScribeRoles = splitList(cfg.Auth.AllowedScribeRolesString)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that defaults cannot fix.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
	case "mongo":
		if c.Store.MongoURI == "" {
			return errors.New("config: MONGO_URI is required when STORE_DRIVER=mongo")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.App.Port <= 0 {
		return fmt.Errorf("config: invalid port %d", c.App.Port)
	}
	return nil
}

func (a AppConfig) HTTPTimeout() time.Duration {
	return time.Duration(a.HTTPTimeoutSeconds) * time.Second
}

func (a AuthConfig) SessionTTL() time.Duration {
	return time.Duration(a.SessionTTLMinutes) * time.Minute
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

func (s SchedulerConfig) StaleAfter() time.Duration {
	return time.Duration(s.StaleAfterDays) * 24 * time.Hour
}

// Enabled reports whether the Discord login can be offered.
func (d DiscordConfig) Enabled() bool {
	return d.ClientID != "" && d.ClientSecret != ""
}

func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// splitList turns "a, b,,c" into [a b c].
func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
