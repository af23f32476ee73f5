package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "chatbot:session:"

// RedisRepository stores records as JSON strings. Keys also carry a redis
// expiry so abandoned sessions disappear even if no sweep runs.
type RedisRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisRepository wraps rdb. A non-positive ttl disables the redis expiry.
func NewRedisRepository(rdb *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{rdb: rdb, ttl: ttl}
}

func (r *RedisRepository) Load(ctx context.Context, key string) (*Record, error) {
	data, err := r.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal session")
	}
	return &rec, nil
}

func (r *RedisRepository) Save(ctx context.Context, key string, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal session")
	}
	if err := r.rdb.Set(ctx, redisKeyPrefix+key, data, r.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to save session")
	}
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}

func (r *RedisRepository) List(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), redisKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to scan sessions")
	}
	return keys, nil
}

var _ Repository = (*RedisRepository)(nil)
