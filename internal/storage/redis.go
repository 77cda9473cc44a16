package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session hashes.
const DefaultRedisPrefix = "8track"

// RedisBackend keeps each session in a hash at "<prefix>:session:<id>".
//
// Every write refreshes the hash TTL, so a session expires after ttl of inactivity.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisBackend wraps a connected client. A zero ttl keeps sessions until they are ended.
func NewRedisBackend(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix, ttl: ttl}
}

func (b *RedisBackend) key(id string) string {
	return b.prefix + ":session:" + id
}

func (b *RedisBackend) Session(id string) Store {
	return &redisStore{backend: b, key: b.key(id)}
}

func (b *RedisBackend) End(ctx context.Context, id string) error {
	if err := b.client.Del(ctx, b.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

type redisStore struct {
	backend *RedisBackend
	key     string
}

func (s *redisStore) Get(ctx context.Context, field string) (string, error) {
	v, err := s.backend.client.HGet(ctx, s.key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session value: %w", err)
	}
	return v, nil
}

func (s *redisStore) Set(ctx context.Context, field, value string) error {
	_, err := s.backend.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key, field, value)
		if s.backend.ttl > 0 {
			pipe.Expire(ctx, s.key, s.backend.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write session value: %w", err)
	}
	return nil
}

func (s *redisStore) Remove(ctx context.Context, field string) error {
	if err := s.backend.client.HDel(ctx, s.key, field).Err(); err != nil {
		return fmt.Errorf("failed to delete session value: %w", err)
	}
	return nil
}
