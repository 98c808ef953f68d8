package pricecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "quote:"

// RedisStore pushes JSON encoded entries onto a list per symbol, newest
// first. Lists are not trimmed here, retention belongs to the operator.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL parses a redis:// URL and connects lazily
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts)), nil
}

func (s *RedisStore) Latest(ctx context.Context, symbol string) (*Entry, error) {
	raw, err := s.client.LIndex(ctx, redisKeyPrefix+symbol, 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis read %s: %w", symbol, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode cached quote %s: %w", symbol, err)
	}
	return &e, nil
}

func (s *RedisStore) Append(ctx context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode quote %s: %w", e.Symbol, err)
	}
	if err := s.client.LPush(ctx, redisKeyPrefix+e.Symbol, raw).Err(); err != nil {
		return fmt.Errorf("redis write %s: %w", e.Symbol, err)
	}
	return nil
}

// Close releases the underlying connection pool
func (s *RedisStore) Close() error {
	return s.client.Close()
}
