// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is the slice of the key/value protocol the task store is built on.
// The production implementation is Redis; tests use the in-memory variant.
type KV interface {
	// Keys returns every key matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Get returns the value for key and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes a key with a TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// MSet writes every pair without touching TTLs.
	MSet(ctx context.Context, pairs map[string]string) error

	// Append appends to an existing value, preserving its TTL.
	Append(ctx context.Context, key, value string) error

	// Expire resets the TTL on a key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes the given keys.
	Delete(ctx context.Context, keys ...string) error

	// Close releases the underlying connection.
	Close() error
}

// RedisConfig carries the connection parameters of the backing Redis.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DBIndex  int
}

// Addr returns the host:port dial address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// redisKV adapts a go-redis client to the KV interface.
type redisKV struct {
	client *redis.Client
}

// NewRedisKV dials Redis and returns the production KV.
func NewRedisKV(cfg *RedisConfig) KV {
	return &redisKV{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DBIndex,
		}),
	}
}

func (r *redisKV) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.client.Keys(ctx, pattern).Result()
}

func (r *redisKV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisKV) MSet(ctx context.Context, pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}
	flat := make([]interface{}, 0, 2*len(pairs))
	for key, value := range pairs {
		flat = append(flat, key, value)
	}
	return r.client.MSet(ctx, flat...).Err()
}

func (r *redisKV) Append(ctx context.Context, key, value string) error {
	return r.client.Append(ctx, key, value).Err()
}

func (r *redisKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

func (r *redisKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *redisKV) Close() error {
	return r.client.Close()
}
