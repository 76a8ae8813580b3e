// Package config loads the service configuration from the environment.
//
// LOADING ORDER:
//  1. In development (ENVIRONMENT unset or "development") a .env file in the
//     working directory is loaded first, without overriding real env vars.
//  2. envconfig fills Config from the environment, applying defaults.
//  3. Validate checks cross-field rules and reports ALL problems at once.
//
// The resulting Config is immutable by convention: it is built once in
// cmd/server and passed by value into constructors.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/sakif/repoguard/internal/githubapp"
)

// Config is every tunable of the service.
type Config struct {
	Port        int    `envconfig:"PORT" default:"8080"`
	BaseURL     string `envconfig:"BASE_URL" default:"http://localhost:8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DBPath string `envconfig:"DB_PATH" default:"data/repoguard.db"`

	SessionSecret string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"168h"`
	CookieSecure  bool          `envconfig:"COOKIE_SECURE" default:"true"`

	GitHubClientID     string `envconfig:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `envconfig:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `envconfig:"GITHUB_CALLBACK_URL"`

	GitHubAppID             int64  `envconfig:"GITHUB_APP_ID"`
	GitHubAppSlug           string `envconfig:"GITHUB_APP_SLUG"`
	GitHubAppPrivateKey     string `envconfig:"GITHUB_APP_PRIVATE_KEY"`
	GitHubAppPrivateKeyFile string `envconfig:"GITHUB_APP_PRIVATE_KEY_FILE"`
	GitHubWebhookSecret     string `envconfig:"GITHUB_WEBHOOK_SECRET"`

	GitHubAPIURL      string        `envconfig:"GITHUB_API_URL" default:"https://api.github.com"`
	GitHubHTTPTimeout time.Duration `envconfig:"GITHUB_HTTP_TIMEOUT" default:"10s"`

	OAuthStateTTL          time.Duration `envconfig:"OAUTH_STATE_TTL" default:"10m"`
	OAuthStateReplayWindow time.Duration `envconfig:"OAUTH_STATE_REPLAY_WINDOW" default:"2m"`
	TokenCacheMargin       time.Duration `envconfig:"TOKEN_CACHE_MARGIN" default:"5m"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	PostLoginRedirect string `envconfig:"POST_LOGIN_REDIRECT" default:"/"`
}

// Load reads .env (development only), the environment, and validates.
func Load() (Config, error) {
	if isDev(os.Getenv("ENVIRONMENT")) {
		// A missing .env is normal outside a checkout.
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: loading environment: %w", err)
	}

	if cfg.GitHubCallbackURL == "" {
		cfg.GitHubCallbackURL = strings.TrimRight(cfg.BaseURL, "/") + "/auth/github/callback"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field rules and reports every failure together.
func (c Config) Validate() error {
	var problems []string

	if len(c.SessionSecret) < 32 {
		problems = append(problems, "SESSION_SECRET must be at least 32 characters")
	}
	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, "PORT must be between 1 and 65535")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		problems = append(problems, "BASE_URL must be a valid URL")
	}
	if _, err := url.ParseRequestURI(c.GitHubAPIURL); err != nil {
		problems = append(problems, "GITHUB_API_URL must be a valid URL")
	}
	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		problems = append(problems, "GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together")
	}
	if c.GitHubAppPrivateKey != "" && c.GitHubAppPrivateKeyFile != "" {
		problems = append(problems, "set only one of GITHUB_APP_PRIVATE_KEY and GITHUB_APP_PRIVATE_KEY_FILE")
	}
	if c.GitHubHTTPTimeout <= 0 {
		problems = append(problems, "GITHUB_HTTP_TIMEOUT must be positive")
	}
	if c.OAuthStateTTL <= 0 {
		problems = append(problems, "OAUTH_STATE_TTL must be positive")
	}
	if c.OAuthStateReplayWindow < 0 {
		problems = append(problems, "OAUTH_STATE_REPLAY_WINDOW must not be negative")
	}
	if c.SessionTTL <= 0 {
		problems = append(problems, "SESSION_TTL must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if !strings.HasPrefix(c.PostLoginRedirect, "/") || strings.HasPrefix(c.PostLoginRedirect, "//") {
		problems = append(problems, "POST_LOGIN_REDIRECT must be a local path")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// IsDev reports whether the service runs in development mode.
func (c Config) IsDev() bool { return isDev(c.Environment) }

func isDev(env string) bool {
	return env == "" || strings.EqualFold(env, "development")
}

// OAuthEnabled reports whether the OAuth client is registered.
func (c Config) OAuthEnabled() bool { return c.GitHubClientID != "" }

// AppIdentity builds the immutable App identity. Key material comes from
// the file when GITHUB_APP_PRIVATE_KEY_FILE is set, else from the env var,
// and is normalised either way.
//
// A missing App id or key yields the zero Identity (OAuth-only mode). So
// does an unreadable key file, with a WARN: a broken key disables App mode
// the same way a malformed one does, it never stops the server.
func (c Config) AppIdentity(logger *slog.Logger) githubapp.Identity {
	if c.GitHubAppID == 0 {
		return githubapp.Identity{}
	}

	raw := c.GitHubAppPrivateKey
	if c.GitHubAppPrivateKeyFile != "" {
		b, err := os.ReadFile(c.GitHubAppPrivateKeyFile)
		if err != nil {
			logger.Warn("GitHub App key file unreadable: App mode disabled",
				slog.Int64("appID", c.GitHubAppID),
				slog.String("file", c.GitHubAppPrivateKeyFile),
				slog.String("error", err.Error()),
			)
			return githubapp.Identity{}
		}
		raw = string(b)
	}

	if strings.TrimSpace(raw) == "" {
		logger.Warn("GITHUB_APP_ID is set without a private key: App mode disabled",
			slog.Int64("appID", c.GitHubAppID),
		)
		return githubapp.Identity{}
	}

	return githubapp.Identity{
		AppID:         c.GitHubAppID,
		PrivateKeyPEM: githubapp.NormalizePrivateKey(raw),
	}
}

// ParseLevel maps LOG_LEVEL to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
	return level, nil
}

// MaskSecret shows enough of a secret to recognise it in logs.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// LogSummary writes the effective configuration with secrets masked.
func (c Config) LogSummary(logger *slog.Logger) {
	keySource := "env"
	if c.GitHubAppPrivateKeyFile != "" {
		keySource = c.GitHubAppPrivateKeyFile
	}
	kvBackend := "memory"
	if c.RedisAddr != "" {
		kvBackend = "redis " + c.RedisAddr
	}

	logger.Info("configuration",
		slog.String("environment", c.Environment),
		slog.Int("port", c.Port),
		slog.String("baseURL", c.BaseURL),
		slog.String("database", c.DBPath),
		slog.String("sessions", kvBackend),
		slog.String("sessionSecret", MaskSecret(c.SessionSecret)),
		slog.Bool("oauth", c.OAuthEnabled()),
		slog.String("clientID", MaskSecret(c.GitHubClientID)),
		slog.Int64("appID", c.GitHubAppID),
		slog.String("appKeySource", keySource),
		slog.Bool("webhookSecret", c.GitHubWebhookSecret != ""),
		slog.String("githubAPI", c.GitHubAPIURL),
	)
}
