// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// AuthConfig holds the bearer-token settings for the API.
type AuthConfig struct {
	StaticToken string // shared bearer token; empty disables static auth
	JWTSecret   string // HS256 shared secret for JWT bearer auth
}

// Enabled returns true when any authentication mechanism is configured.
func (a *AuthConfig) Enabled() bool {
	return a.StaticToken != "" || a.JWTSecret != ""
}

// Config holds the configuration for the HTTP API, the plan model, and the
// semantic query engine.
type Config struct {
	ListenAddr string // HTTP listen address (default ":8080")
	LogLevel   string // log level: debug, info, warn, error (default "info")
	Env        string // environment: "development" (default) or "production"

	// Plan model
	LLMBaseURL  string        // model server base URL (default "http://localhost:11434")
	LLMModel    string        // model name (default "llama3.1")
	PlanTimeout time.Duration // model call deadline (default 90s)

	// Query engine subprocess
	EngineCommand    string        // engine CLI binary (default "mf")
	EngineProjectDir string        // working directory for engine invocations
	QueryTimeout     time.Duration // per-query wall-clock limit (default 60s)

	// Result shaping
	RowLimitDefault int // default row limit when a plan sets none (default 200)
	RowLimitMax     int // hard ceiling on row limits (default 1000)

	// Result cache
	CacheSize int           // LRU capacity (default 128)
	CacheTTL  time.Duration // entry lifetime (default 10m)

	// Rate limiting
	RateLimitPerMinute int // per-client minute budget (default 60)
	RateLimitPerHour   int // per-client hour budget (default 1000)

	// Query history metastore
	HistoryDBPath string // SQLite file path (default "metricgate.sqlite")

	// Catalog
	CatalogFile string // optional YAML catalog; empty means discover via the engine

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Auth holds bearer-token authentication configuration.
	Auth AuthConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:       os.Getenv("LISTEN_ADDR"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Env:              os.Getenv("ENV"),
		LLMBaseURL:       os.Getenv("LLM_BASE_URL"),
		LLMModel:         os.Getenv("LLM_MODEL"),
		EngineCommand:    os.Getenv("ENGINE_CMD"),
		EngineProjectDir: os.Getenv("ENGINE_PROJECT_DIR"),
		HistoryDBPath:    os.Getenv("HISTORY_DB_PATH"),
		CatalogFile:      os.Getenv("CATALOG_FILE"),
	}

	cfg.PlanTimeout = parseDurationEnv("PLAN_TIMEOUT", 90*time.Second)
	cfg.QueryTimeout = parseDurationEnv("QUERY_TIMEOUT", 60*time.Second)
	cfg.CacheTTL = parseDurationEnv("CACHE_TTL", 10*time.Minute)

	cfg.RowLimitDefault = parseIntEnv("ROW_LIMIT_DEFAULT", 200)
	cfg.RowLimitMax = parseIntEnv("ROW_LIMIT_MAX", 1000)
	cfg.CacheSize = parseIntEnv("CACHE_SIZE", 128)
	cfg.RateLimitPerMinute = parseIntEnv("RATE_LIMIT_PER_MINUTE", 60)
	cfg.RateLimitPerHour = parseIntEnv("RATE_LIMIT_PER_HOUR", 1000)

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	cfg.Auth = AuthConfig{
		StaticToken: os.Getenv("API_TOKEN"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LLMBaseURL == "" {
		cfg.LLMBaseURL = "http://localhost:11434"
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = "llama3.1"
	}
	if cfg.EngineCommand == "" {
		cfg.EngineCommand = "mf"
	}
	if cfg.HistoryDBPath == "" {
		cfg.HistoryDBPath = "metricgate.sqlite"
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	if cfg.RowLimitDefault < 1 || cfg.RowLimitDefault > cfg.RowLimitMax {
		return nil, fmt.Errorf("ROW_LIMIT_DEFAULT must be between 1 and ROW_LIMIT_MAX (%d)", cfg.RowLimitMax)
	}

	if !cfg.Auth.Enabled() {
		cfg.Warnings = append(cfg.Warnings, "no API_TOKEN or JWT_SECRET set — query endpoints are open")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if !cfg.Auth.Enabled() {
			return nil, fmt.Errorf("API_TOKEN or JWT_SECRET must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func parseIntEnv(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
