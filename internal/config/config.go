package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the Trunkline server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	HTTPPort      int
	DatabaseURL   string // PostgreSQL DSN
	RedisAddr     string // host:port of the primary cache/lock backend
	RedisPassword string
	PublicBaseURL string // externally reachable prefix for webhook callbacks
	WebhookRate   int    // per-tenant webhook requests per second
	LogLevel      string
	LogFormat     string // log output format: "text" or "json"
}

// defaults
const (
	defaultHTTPPort    = 8080
	defaultRedisAddr   = "localhost:6379"
	defaultWebhookRate = 20
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
)

// envPrefix is the prefix for all Trunkline environment variables.
const envPrefix = "TRUNKLINE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("trunkline", flag.ContinueOnError)

	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection string")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", defaultRedisAddr, "Redis address for caching and distributed locks")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password (empty for no auth)")
	fs.StringVar(&cfg.PublicBaseURL, "public-base-url", "", "externally reachable base URL for gather callbacks (e.g., https://pbx.example.com)")
	fs.IntVar(&cfg.WebhookRate, "webhook-rate", defaultWebhookRate, "per-tenant webhook requests per second before calls are rejected busy")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"http-port":       envPrefix + "HTTP_PORT",
		"database-url":    envPrefix + "DATABASE_URL",
		"redis-addr":      envPrefix + "REDIS_ADDR",
		"redis-password":  envPrefix + "REDIS_PASSWORD",
		"public-base-url": envPrefix + "PUBLIC_BASE_URL",
		"webhook-rate":    envPrefix + "WEBHOOK_RATE",
		"log-level":       envPrefix + "LOG_LEVEL",
		"log-format":      envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "database-url":
			cfg.DatabaseURL = val
		case "redis-addr":
			cfg.RedisAddr = val
		case "redis-password":
			cfg.RedisPassword = val
		case "public-base-url":
			cfg.PublicBaseURL = val
		case "webhook-rate":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.WebhookRate = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database-url is required")
	}
	if c.WebhookRate < 1 {
		return fmt.Errorf("webhook-rate must be at least 1, got %d", c.WebhookRate)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.PublicBaseURL != "" {
		u, err := url.Parse(c.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("public-base-url must be an absolute URL, got %q", c.PublicBaseURL)
		}
		c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	}

	return nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// BaseURL returns the configured public base URL, falling back to a
// localhost address on the listen port so gather callbacks stay valid
// in single-machine deployments.
func (c *Config) BaseURL() string {
	if c.PublicBaseURL != "" {
		return c.PublicBaseURL
	}
	return fmt.Sprintf("http://localhost:%d", c.HTTPPort)
}
