package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps challenges under webauthn:<namespace>:<subject> with a
// per-key expiry, so abandoned ceremonies vanish on their own.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore parses redisURL and pings the server before returning.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func redisKey(ns Namespace, subjectKey string) string {
	return fmt.Sprintf("webauthn:%s:%s", ns, subjectKey)
}

func (s *RedisStore) Put(ctx context.Context, ns Namespace, subjectKey string, rec Record, ttl time.Duration) error {
	if err := validate(ns, subjectKey); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling challenge: %w", err)
	}
	if err := s.rdb.Set(ctx, redisKey(ns, subjectKey), payload, ttl).Err(); err != nil {
		return fmt.Errorf("storing challenge: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, ns Namespace, subjectKey string) (*Record, error) {
	if err := validate(ns, subjectKey); err != nil {
		return nil, err
	}

	raw, err := s.rdb.Get(ctx, redisKey(ns, subjectKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching challenge: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parsing challenge: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, ns Namespace, subjectKey string) error {
	if err := validate(ns, subjectKey); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, redisKey(ns, subjectKey)).Err(); err != nil {
		return fmt.Errorf("deleting challenge: %w", err)
	}
	return nil
}
