/*
Copyright 2025 The KCP Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package redisstore is the distributed cache.Store, backed by
// redis/go-redis/v9. Unlike lrustore, its TTL is per-call, so multiple
// bindings with different enqueue windows can share one Redis instance.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/etlify/etlify-go/internal/cache"
)

// Store wraps a *redis.Client.
type Store struct {
	client *redis.Client
	prefix string
}

// New wraps client. Every key is namespaced under prefix (e.g. "etlify:")
// so the engine can share a Redis instance with other applications.
func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) namespaced(key string) string {
	return s.prefix + key
}

func (s *Store) SetIfAbsent(ctx context.Context, key string, ttlSeconds int) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.namespaced(key), "1", time.Duration(ttlSeconds)*time.Second).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: setnx: %w", err)
	}
	return ok, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.namespaced(key)).Err(); err != nil {
		return fmt.Errorf("redisstore: del: %w", err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	count, err := s.client.Exists(ctx, s.namespaced(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: exists: %w", err)
	}
	return count > 0, nil
}

var _ cache.Store = (*Store)(nil)
