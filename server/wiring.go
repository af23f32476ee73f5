package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hrygo/construkt/internal/profile"
	"github.com/hrygo/construkt/plugin/chatbot/cache"
	"github.com/hrygo/construkt/plugin/chatbot/catalog"
	"github.com/hrygo/construkt/plugin/chatbot/nlp"
	"github.com/hrygo/construkt/plugin/chatbot/session"
	"github.com/hrygo/construkt/store"
)

// sessionCacheSize bounds the read-through cache in front of remote backends.
const sessionCacheSize = 1024

// NewSessionStore opens the session backend named by the profile. The closer
// is nil when the backend holds no connections.
func NewSessionStore(ctx context.Context, profile *profile.Profile, storeInstance *store.Store, opts ...session.Option) (*session.Store, func() error, error) {
	repo, closer, err := newSessionRepository(ctx, profile, storeInstance)
	if err != nil {
		return nil, nil, err
	}
	opts = append([]session.Option{session.WithTTL(profile.SessionTTL)}, opts...)
	return session.NewStore(repo, opts...), closer, nil
}

// newSessionRepository selects the session backend named by the profile.
// Non-memory backends sit behind an LRU so repeated reads stay in process.
func newSessionRepository(ctx context.Context, profile *profile.Profile, storeInstance *store.Store) (session.Repository, func() error, error) {
	var backend session.Repository
	var closer func() error

	switch profile.SessionBackend {
	case "", "memory":
		return session.NewMemoryRepository(), nil, nil
	case "file":
		repo, err := session.NewFileRepository(profile.SessionDir)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to open file session backend")
		}
		backend = repo
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     profile.RedisAddr,
			Password: profile.RedisPassword,
			DB:       profile.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, errors.Wrapf(err, "failed to reach redis at %s", profile.RedisAddr)
		}
		backend = session.NewRedisRepository(rdb, profile.SessionTTL)
		closer = rdb.Close
	case "sql":
		if storeInstance == nil {
			return nil, nil, errors.New("sql session backend requires a database driver")
		}
		backend = session.NewSQLRepository(storeInstance)
	default:
		return nil, nil, errors.Errorf("unknown session backend %q", profile.SessionBackend)
	}

	slog.Info("session backend ready", slog.String("backend", profile.SessionBackend))
	lru := cache.NewLRU(sessionCacheSize, profile.SessionTTL)
	return session.NewCachedRepository(backend, lru, profile.SessionTTL), closer, nil
}

// newNLPClient picks the collaborator that answers free-text messages.
func newNLPClient(profile *profile.Profile) nlp.Client {
	if profile.IsLLMEnabled() {
		slog.Info("using OpenAI-compatible assistant", slog.String("model", profile.LLMModel))
		return nlp.NewOpenAIClient(nlp.OpenAIConfig{
			APIKey:  profile.LLMAPIKey,
			BaseURL: profile.LLMBaseURL,
			Model:   profile.LLMModel,
			Timeout: profile.NLPTimeout,
		})
	}
	if profile.NLPProvider == "openai" {
		slog.Warn("openai provider selected without an API key, falling back to the HTTP collaborator")
	}
	return nlp.NewHTTPClient(profile.NLPBaseURL, profile.NLPTimeout)
}

func newCatalog(profile *profile.Profile) (catalog.Catalog, error) {
	if profile.CatalogFile == "" {
		return catalog.Default()
	}
	cat, err := catalog.Load(profile.CatalogFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load catalog %s", profile.CatalogFile)
	}
	return cat, nil
}
