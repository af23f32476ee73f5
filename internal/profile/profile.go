package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultSessionTTL is the idle duration after which a chat session expires.
	DefaultSessionTTL = 1800 * time.Second
	// DefaultCleanupInterval is the interval between background session sweeps.
	DefaultCleanupInterval = 5 * time.Minute
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where construkt stores chat sessions and logs
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// Secret signs and verifies bearer tokens.
	Secret string // CONSTRUKT_SECRET (legacy: JWT_SECRET)

	// Session configuration
	SessionTTL      time.Duration // CONSTRUKT_SESSION_TTL, seconds (default: 1800)
	SessionBackend  string        // CONSTRUKT_SESSION_BACKEND: memory, file, redis, sql (default: memory)
	SessionDir      string        // CONSTRUKT_SESSION_DIR (default: <data>/sessions)
	CleanupInterval time.Duration // CONSTRUKT_SESSION_CLEANUP_INTERVAL (default: 5m)
	RedisAddr       string        // CONSTRUKT_REDIS_ADDR (default: localhost:6379)
	RedisPassword   string        // CONSTRUKT_REDIS_PASSWORD
	RedisDB         int           // CONSTRUKT_REDIS_DB

	// NLP collaborator configuration
	NLPProvider string // CONSTRUKT_NLP_PROVIDER: http or openai (default: http)
	NLPBaseURL  string // CONSTRUKT_NLP_URL (legacy: CHATBOT_API_URL, default: http://localhost:5000)
	NLPTimeout  time.Duration
	LLMAPIKey   string // CONSTRUKT_LLM_API_KEY
	LLMBaseURL  string // CONSTRUKT_LLM_BASE_URL (default: https://api.deepseek.com)
	LLMModel    string // CONSTRUKT_LLM_MODEL (default: deepseek-chat)

	// CatalogFile is an optional YAML seed for the in-process catalog.
	CatalogFile string // CONSTRUKT_CATALOG_FILE

	// Rate limiting per caller.
	RateLimitPerSecond float64 // CONSTRUKT_RATE_LIMIT (default: 10)
	RateLimitBurst     int     // CONSTRUKT_RATE_BURST (default: 20)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMEnabled returns true if the OpenAI-compatible collaborator is selected and keyed.
func (p *Profile) IsLLMEnabled() bool {
	return p.NLPProvider == "openai" && p.LLMAPIKey != ""
}

// FromEnv loads configuration from environment variables.
// Supports CONSTRUKT_* and the legacy JWT_SECRET / CHATBOT_API_URL names.
func (p *Profile) FromEnv() {
	getEnvWithDefault := func(newKey, legacyKey, defaultValue string) string {
		if val := os.Getenv(newKey); val != "" {
			return val
		}
		if legacyKey != "" {
			if val := os.Getenv(legacyKey); val != "" {
				return val
			}
		}
		return defaultValue
	}
	getDurationSeconds := func(key string, defaultValue time.Duration) time.Duration {
		raw := os.Getenv(key)
		if raw == "" {
			return defaultValue
		}
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			slog.Warn("ignoring invalid duration", slog.String("key", key), slog.String("value", raw))
			return defaultValue
		}
		return time.Duration(seconds) * time.Second
	}

	p.Secret = getEnvWithDefault("CONSTRUKT_SECRET", "JWT_SECRET", p.Secret)
	p.SessionTTL = getDurationSeconds("CONSTRUKT_SESSION_TTL", DefaultSessionTTL)
	p.SessionBackend = getEnvWithDefault("CONSTRUKT_SESSION_BACKEND", "", "memory")
	p.SessionDir = getEnvWithDefault("CONSTRUKT_SESSION_DIR", "", p.SessionDir)
	p.CleanupInterval = getDurationSeconds("CONSTRUKT_SESSION_CLEANUP_INTERVAL", DefaultCleanupInterval)
	p.RedisAddr = getEnvWithDefault("CONSTRUKT_REDIS_ADDR", "", "localhost:6379")
	p.RedisPassword = os.Getenv("CONSTRUKT_REDIS_PASSWORD")
	if db, err := strconv.Atoi(os.Getenv("CONSTRUKT_REDIS_DB")); err == nil {
		p.RedisDB = db
	}

	p.NLPProvider = getEnvWithDefault("CONSTRUKT_NLP_PROVIDER", "", "http")
	p.NLPBaseURL = getEnvWithDefault("CONSTRUKT_NLP_URL", "CHATBOT_API_URL", "http://localhost:5000")
	p.NLPTimeout = getDurationSeconds("CONSTRUKT_NLP_TIMEOUT", 10*time.Second)
	p.LLMAPIKey = os.Getenv("CONSTRUKT_LLM_API_KEY")
	p.LLMBaseURL = getEnvWithDefault("CONSTRUKT_LLM_BASE_URL", "", "https://api.deepseek.com")
	p.LLMModel = getEnvWithDefault("CONSTRUKT_LLM_MODEL", "", "deepseek-chat")

	p.CatalogFile = os.Getenv("CONSTRUKT_CATALOG_FILE")

	p.RateLimitPerSecond = 10
	if v, err := strconv.ParseFloat(os.Getenv("CONSTRUKT_RATE_LIMIT"), 64); err == nil && v > 0 {
		p.RateLimitPerSecond = v
	}
	p.RateLimitBurst = 20
	if v, err := strconv.Atoi(os.Getenv("CONSTRUKT_RATE_BURST")); err == nil && v > 0 {
		p.RateLimitBurst = v
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Secret == "" {
		if p.Mode == "prod" {
			return errors.New("a signing secret is required in prod mode")
		}
		p.Secret = "construkt-dev-secret"
		slog.Warn("no signing secret configured, using the development default")
	}

	if p.SessionTTL <= 0 {
		p.SessionTTL = DefaultSessionTTL
	}
	if p.CleanupInterval <= 0 {
		p.CleanupInterval = DefaultCleanupInterval
	}

	switch p.SessionBackend {
	case "", "memory":
		p.SessionBackend = "memory"
	case "file", "redis", "sql":
	default:
		return errors.Errorf("unknown session backend %q: use memory, file, redis or sql", p.SessionBackend)
	}

	if p.Data == "" {
		if p.SessionBackend != "file" && !(p.SessionBackend == "sql" && p.Driver == "sqlite") {
			return nil
		}
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.SessionBackend == "file" && p.SessionDir == "" {
		p.SessionDir = filepath.Join(dataDir, "sessions")
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("construkt_%s.db", p.Mode))
	}

	return nil
}
