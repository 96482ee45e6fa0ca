package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

const keyPrefix = "weather:handoff:"

// RedisStore keeps one run's handoff values in Redis under
// weather:handoff:<runID>:<key>, expiring after ttl.
type RedisStore struct {
	client *redisv9.Client
	runID  string
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore scoped to runID. A ttl <= 0 keeps keys forever.
func NewRedisStore(client *redisv9.Client, runID string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		runID:  runID,
		ttl:    ttl,
	}
}

// NewRedisFactory returns a Factory sharing one client across runs.
func NewRedisFactory(client *redisv9.Client, ttl time.Duration) Factory {
	return func(runID string) Store {
		return NewRedisStore(client, runID, ttl)
	}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redisv9.Client, error) {
	client := redisv9.NewClient(&redisv9.Options{
		Addr: addr,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) key(k string) string {
	return keyPrefix + s.runID + ":" + k
}

// Put stores value under key for this run.
func (s *RedisStore) Put(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.key(key), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get decodes the value stored under key for this run into dst.
func (s *RedisStore) Get(ctx context.Context, key string, dst any) error {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Clear removes every key of this run.
func (s *RedisStore) Clear(ctx context.Context) error {
	var keys []string
	iter := s.client.Scan(ctx, 0, keyPrefix+s.runID+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
