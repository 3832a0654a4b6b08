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

// Package memstore is an in-memory store.Store, used by unit tests across
// the dependency, synchronizer, deleter, and engine packages in place of a
// live Postgres instance.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/etlify/etlify-go"
	"github.com/etlify/etlify-go/internal/store"
)

type stateKey struct {
	resourceType string
	resourceID   int64
	crm          string
}

func keyFor(ref etlify.RecordRef, crm string) stateKey {
	return stateKey{resourceType: ref.ResourceType, resourceID: ref.ResourceID, crm: crm}
}

// Store is a map-backed store.Store. All operations hold a single mutex;
// it is not meant to model real contention, only to give tests a
// deterministic, inspectable backend.
type Store struct {
	mu sync.Mutex

	states map[stateKey]store.SyncState
	locks  map[stateKey]*sync.Mutex

	pending []store.PendingDependency

	attempts []attemptRecord
}

type attemptRecord struct {
	ref      etlify.RecordRef
	crm      string
	outcome  store.AttemptOutcome
	err      string
	duration time.Duration
	at       time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		states: make(map[stateKey]store.SyncState),
		locks:  make(map[stateKey]*sync.Mutex),
	}
}

func (s *Store) GetSyncState(_ context.Context, ref etlify.RecordRef, crmName string) (*store.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[keyFor(ref, crmName)]
	if !ok {
		return nil, nil
	}
	copied := state
	return &copied, nil
}

func (s *Store) SaveSyncState(_ context.Context, state store.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[keyFor(state.Ref(), state.CRMName)] = state
	return nil
}

func (s *Store) ResetForSkip(_ context.Context, ref etlify.RecordRef, crmName string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyFor(ref, crmName)
	state := s.states[k]
	state.ResourceType = ref.ResourceType
	state.ResourceID = ref.ResourceID
	state.CRMName = crmName
	state.LastError = ""
	state.ErrorCount = 0
	state.LastSyncedAt = &now
	s.states[k] = state
	return nil
}

func (s *Store) TouchSyncedAt(_ context.Context, ref etlify.RecordRef, crmName string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyFor(ref, crmName)
	state := s.states[k]
	state.ResourceType = ref.ResourceType
	state.ResourceID = ref.ResourceID
	state.CRMName = crmName
	state.LastSyncedAt = &now
	s.states[k] = state
	return nil
}

func (s *Store) MarkError(_ context.Context, ref etlify.RecordRef, crmName, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyFor(ref, crmName)
	state := s.states[k]
	state.ResourceType = ref.ResourceType
	state.ResourceID = ref.ResourceID
	state.CRMName = crmName
	state.LastError = message
	state.ErrorCount++
	s.states[k] = state
	return nil
}

func (s *Store) WithRecordLock(ctx context.Context, ref etlify.RecordRef, crmName string, fn func(ctx context.Context) error) error {
	k := keyFor(ref, crmName)

	s.mu.Lock()
	if _, ok := s.states[k]; !ok {
		s.states[k] = store.SyncState{ResourceType: ref.ResourceType, ResourceID: ref.ResourceID, CRMName: crmName}
	}
	lock, ok := s.locks[k]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[k] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	return fn(ctx)
}

func (s *Store) InsertPendingDependency(_ context.Context, dep store.PendingDependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.pending {
		if existing == dep {
			return nil
		}
	}
	s.pending = append(s.pending, dep)
	return nil
}

func (s *Store) ExistsPendingDependency(_ context.Context, dep store.PendingDependency) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.pending {
		if existing == dep {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountPendingForChild(_ context.Context, child etlify.RecordRef, crmName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, existing := range s.pending {
		if existing.Child == child && existing.CRM == crmName {
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteForChild(_ context.Context, child etlify.RecordRef, crmName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pending[:0]
	for _, existing := range s.pending {
		if existing.Child == child && existing.CRM == crmName {
			continue
		}
		kept = append(kept, existing)
	}
	s.pending = kept
	return nil
}

func (s *Store) ResolveDependents(_ context.Context, parent etlify.RecordRef, crmName string) ([]etlify.RecordRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[etlify.RecordRef]bool)
	kept := s.pending[:0]
	for _, existing := range s.pending {
		if existing.Parent == parent && existing.CRM == crmName {
			seen[existing.Child] = true
			continue
		}
		kept = append(kept, existing)
	}
	s.pending = kept

	children := make([]etlify.RecordRef, 0, len(seen))
	for child := range seen {
		children = append(children, child)
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].ResourceType != children[j].ResourceType {
			return children[i].ResourceType < children[j].ResourceType
		}
		return children[i].ResourceID < children[j].ResourceID
	})
	return children, nil
}

// attemptsRetainedPerResource mirrors pgstore's pruning bound, so tests
// against memstore observe the same truncating behavior as production.
const attemptsRetainedPerResource = 20

func (s *Store) RecordAttempt(_ context.Context, ref etlify.RecordRef, crmName string, outcome store.AttemptOutcome, errMessage string, duration time.Duration, attemptedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, attemptRecord{ref: ref, crm: crmName, outcome: outcome, err: errMessage, duration: duration, at: attemptedAt})
	s.pruneAttemptsLocked(ref, crmName)
	return nil
}

// pruneAttemptsLocked keeps only the attemptsRetainedPerResource most
// recent rows for (ref, crmName), mirroring the lazy DELETE pgstore runs
// on every write. Must be called with s.mu held.
func (s *Store) pruneAttemptsLocked(ref etlify.RecordRef, crmName string) {
	kept := 0
	cutoff := -1
	for i := len(s.attempts) - 1; i >= 0; i-- {
		a := s.attempts[i]
		if a.ref.ResourceType != ref.ResourceType || a.ref.ResourceID != ref.ResourceID || a.crm != crmName {
			continue
		}
		kept++
		if kept > attemptsRetainedPerResource {
			cutoff = i
			break
		}
	}
	if cutoff < 0 {
		return
	}

	filtered := s.attempts[:0]
	for i, a := range s.attempts {
		if i <= cutoff && a.ref.ResourceType == ref.ResourceType && a.ref.ResourceID == ref.ResourceID && a.crm == crmName {
			continue
		}
		filtered = append(filtered, a)
	}
	s.attempts = filtered
}

// Attempts returns every recorded attempt, for test assertions.
func (s *Store) Attempts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.attempts))
	for _, a := range s.attempts {
		out = append(out, fmt.Sprintf("%s/%d@%s=%s", a.ref.ResourceType, a.ref.ResourceID, a.crm, a.outcome))
	}
	return out
}

var _ store.Store = (*Store)(nil)
