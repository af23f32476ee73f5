package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// ErrSweepThrottled is returned by TriggerSweep when manual sweeps arrive
// faster than the configured limit.
var ErrSweepThrottled = errors.New("session sweep throttled")

// Store implements owner-scoped session operations over a Repository.
// Read-modify-write for one owner is serialized; different owners proceed
// in parallel.
type Store struct {
	repo       Repository
	ttl        time.Duration
	maxHistory int
	now        func() time.Time
	locks      *keyedLocks
	sweeps     *rate.Limiter
	eagerSweep bool
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the idle expiry. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxHistory sets the conversation history cap.
func WithMaxHistory(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithSweepLimit bounds how often TriggerSweep may run.
func WithSweepLimit(every time.Duration, burst int) Option {
	return func(s *Store) {
		s.sweeps = rate.NewLimiter(rate.Every(every), burst)
	}
}

// WithEagerSweep purges every expired record when the store is created.
func WithEagerSweep() Option {
	return func(s *Store) {
		s.eagerSweep = true
	}
}

// NewStore creates a store over repo.
func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{
		repo:       repo,
		ttl:        DefaultTTL,
		maxHistory: DefaultMaxHistory,
		now:        time.Now,
		locks:      newKeyedLocks(),
		sweeps:     rate.NewLimiter(rate.Every(time.Minute), 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.eagerSweep {
		if n, err := s.SweepExpired(context.Background()); err != nil {
			slog.Warn("initial session sweep failed", "error", err)
		} else if n > 0 {
			slog.Info("initial session sweep completed", "purged", n)
		}
	}
	return s
}

// TTL returns the configured idle expiry.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the owner's session data, refreshing its last access time.
// A missing or expired session yields an empty map and no error.
func (s *Store) Get(ctx context.Context, ownerID string) (map[string]any, error) {
	key, release, err := s.lock(ctx, ownerID)
	if err != nil {
		return map[string]any{}, err
	}
	defer release()

	rec, err := s.loadLive(ctx, key)
	if err != nil {
		return map[string]any{}, err
	}
	if rec == nil {
		return map[string]any{}, nil
	}

	rec.LastAccessAt = s.now()
	if err := s.repo.Save(ctx, key, rec); err != nil {
		slog.Warn("failed to refresh session access time", "owner_id", key, "error", err)
	}
	return maps.Clone(rec.Data), nil
}

// Set replaces the owner's session data.
func (s *Store) Set(ctx context.Context, ownerID string, data map[string]any) error {
	key, release, err := s.lock(ctx, ownerID)
	if err != nil {
		return err
	}
	defer release()

	rec, err := s.loadOrCreate(ctx, key, ownerID)
	if err != nil {
		return err
	}
	rec.Data = maps.Clone(data)
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	return s.save(ctx, key, rec)
}

// Update shallow-merges partial into the owner's session data, creating the
// session when absent.
func (s *Store) Update(ctx context.Context, ownerID string, partial map[string]any) error {
	key, release, err := s.lock(ctx, ownerID)
	if err != nil {
		return err
	}
	defer release()

	rec, err := s.loadOrCreate(ctx, key, ownerID)
	if err != nil {
		return err
	}
	maps.Copy(rec.Data, partial)
	return s.save(ctx, key, rec)
}

// AddMessage appends one message to the owner's history, evicting the oldest
// entries beyond the cap.
func (s *Store) AddMessage(ctx context.Context, ownerID, text string, isUser bool, metadata map[string]any) error {
	key, release, err := s.lock(ctx, ownerID)
	if err != nil {
		return err
	}
	defer release()

	rec, err := s.loadOrCreate(ctx, key, ownerID)
	if err != nil {
		return err
	}

	now := s.now()
	if metadata == nil {
		metadata = map[string]any{}
	}
	history := append(decodeHistory(rec.Data[HistoryKey]), Message{
		Message:   text,
		IsUser:    isUser,
		Timestamp: now.Unix(),
		Metadata:  metadata,
	})
	if len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}
	rec.Data[HistoryKey] = history
	rec.Data[LastMessageTimeKey] = now.Unix()
	return s.save(ctx, key, rec)
}

// GetHistory returns the most recent limit messages oldest-first. A
// non-positive limit returns the whole history.
func (s *Store) GetHistory(ctx context.Context, ownerID string, limit int) ([]Message, error) {
	data, err := s.Get(ctx, ownerID)
	if err != nil {
		return []Message{}, err
	}
	history := decodeHistory(data[HistoryKey])
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}

// Delete removes the owner's session.
func (s *Store) Delete(ctx context.Context, ownerID string) error {
	key, release, err := s.lock(ctx, ownerID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.repo.Delete(ctx, key); err != nil {
		return errors.Wrapf(err, "failed to delete session %s", key)
	}
	return nil
}

// SweepExpired purges every record idle for longer than the TTL and returns
// how many were removed.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ttl)
	if bulk, ok := s.repo.(IdleDeleter); ok {
		n, err := bulk.DeleteIdleBefore(ctx, cutoff)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, ErrBulkUnsupported) {
			return n, errors.Wrap(err, "failed to sweep sessions")
		}
	}

	keys, err := s.repo.List(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list sessions")
	}

	purged := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		expired, err := s.sweepOne(ctx, key)
		if err != nil {
			slog.Warn("failed to sweep session", "owner_id", key, "error", err)
			continue
		}
		if expired {
			purged++
		}
	}
	return purged, nil
}

// TriggerSweep runs SweepExpired unless a manual sweep ran too recently.
func (s *Store) TriggerSweep(ctx context.Context) (int, error) {
	if !s.sweeps.Allow() {
		return 0, ErrSweepThrottled
	}
	return s.SweepExpired(ctx)
}

func (s *Store) sweepOne(ctx context.Context, key string) (bool, error) {
	release, err := s.locks.acquire(ctx, key)
	if err != nil {
		return false, err
	}
	defer release()

	rec, err := s.repo.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !s.expired(rec) {
		return false, nil
	}
	return true, s.repo.Delete(ctx, key)
}

func (s *Store) lock(ctx context.Context, ownerID string) (string, func(), error) {
	key := SanitizeKey(ownerID)
	if key == "" {
		return "", nil, ErrInvalidOwner
	}
	release, err := s.locks.acquire(ctx, key)
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to lock session")
	}
	return key, release, nil
}

// loadLive returns the record for key, or nil when it is absent or expired.
// Expired records are purged on the way.
func (s *Store) loadLive(ctx context.Context, key string) (*Record, error) {
	rec, err := s.repo.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load session %s", key)
	}
	if s.expired(rec) {
		if err := s.repo.Delete(ctx, key); err != nil {
			slog.Warn("failed to purge expired session", "owner_id", key, "error", err)
		}
		return nil, nil
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	return rec, nil
}

func (s *Store) loadOrCreate(ctx context.Context, key, ownerID string) (*Record, error) {
	rec, err := s.loadLive(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		now := s.now()
		rec = &Record{
			OwnerID:      ownerID,
			Data:         map[string]any{},
			CreatedAt:    now,
			LastAccessAt: now,
		}
	}
	return rec, nil
}

func (s *Store) save(ctx context.Context, key string, rec *Record) error {
	rec.LastAccessAt = s.now()
	if err := s.repo.Save(ctx, key, rec); err != nil {
		return errors.Wrapf(err, "failed to save session %s", key)
	}
	return nil
}

func (s *Store) expired(rec *Record) bool {
	return s.now().Sub(rec.LastAccessAt) > s.ttl
}

// decodeHistory accepts the history either as typed messages or in the
// generic form produced by decoding persisted JSON.
func decodeHistory(v any) []Message {
	switch h := v.(type) {
	case nil:
		return []Message{}
	case []Message:
		return append([]Message(nil), h...)
	default:
		raw, err := json.Marshal(h)
		if err != nil {
			return []Message{}
		}
		var history []Message
		if err := json.Unmarshal(raw, &history); err != nil {
			slog.Warn("discarding malformed conversation history", "error", err)
			return []Message{}
		}
		return history
	}
}
