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

// Package store defines the persistence contract for SyncState and
// PendingDependency rows. The Synchronizer, Dependency
// Resolver and Deleter all depend on this interface, not on a concrete
// database driver, so they can be exercised against the in-memory fake in
// internal/store/memstore during tests and against internal/store/pgstore
// (backed by jackc/pgx/v5) in production.
package store

import (
	"context"
	"time"

	"github.com/etlify/etlify-go"
)

// SyncState mirrors the crm_synchronisations row.
type SyncState struct {
	ResourceType string
	ResourceID   int64
	CRMName      string

	CRMID        string
	LastDigest   string
	LastSyncedAt *time.Time
	LastError    string
	ErrorCount   int
}

// Ref returns the RecordRef this state describes.
func (s SyncState) Ref() etlify.RecordRef {
	return etlify.RecordRef{ResourceType: s.ResourceType, ResourceID: s.ResourceID}
}

// PendingDependency mirrors the etlify_pending_syncs row.
type PendingDependency struct {
	Child  etlify.RecordRef
	Parent etlify.RecordRef
	CRM    string
}

// AttemptOutcome is recorded alongside each SyncAttempt audit row
// (SPEC_FULL.md §3 supplemental entity); it deliberately reuses the same
// string vocabulary as the Synchronizer's Outcome so log lines and
// audit rows agree without a translation layer.
type AttemptOutcome string

// Store is the full persistence surface the engine needs.
type Store interface {
	// GetSyncState returns the state row for (ref, crmName), or nil (with
	// a nil error) if one hasn't been created yet -- SyncState rows are
	// created lazily on first attempt.
	GetSyncState(ctx context.Context, ref etlify.RecordRef, crmName string) (*SyncState, error)

	// SaveSyncState upserts the full row. Callers (the Synchronizer) are
	// responsible for the "crm_id never overwritten by a blank result"
	// rule -- the store persists whatever CRMID it is given.
	SaveSyncState(ctx context.Context, state SyncState) error

	// ResetForSkip clears last_error/error_count and touches
	// last_synced_at, for the Skipped outcome.
	ResetForSkip(ctx context.Context, ref etlify.RecordRef, crmName string, now time.Time) error

	// TouchSyncedAt updates only last_synced_at, for the NotModified
	// outcome, creating the row if it didn't exist yet.
	TouchSyncedAt(ctx context.Context, ref etlify.RecordRef, crmName string, now time.Time) error

	// MarkError increments error_count and sets last_error, creating the
	// row if it didn't exist yet.
	MarkError(ctx context.Context, ref etlify.RecordRef, crmName, message string) error

	// WithRecordLock ensures a SyncState row exists for (ref, crmName),
	// acquires the store's per-record lock on it (a transactional
	// `SELECT ... FOR UPDATE` against pgstore), and runs fn while holding
	// it. The lock is released when fn returns, regardless of outcome.
	WithRecordLock(ctx context.Context, ref etlify.RecordRef, crmName string, fn func(ctx context.Context) error) error

	// InsertPendingDependency is an idempotent insert of one
	// PendingDependency row; a duplicate is a no-op, not an error.
	InsertPendingDependency(ctx context.Context, dep PendingDependency) error

	// ExistsPendingDependency reports whether exactly the given
	// (child, parent, crm) tuple is recorded -- used for sync_dependencies
	// cycle detection on the sync_dependencies path.
	ExistsPendingDependency(ctx context.Context, dep PendingDependency) (bool, error)

	// CountPendingForChild returns how many PendingDependency rows remain
	// for (child, crmName), across all parents.
	CountPendingForChild(ctx context.Context, child etlify.RecordRef, crmName string) (int, error)

	// DeleteForChild unconditionally deletes every PendingDependency row
	// for (child, crmName) -- stale-row cleanup after a successful sync.
	DeleteForChild(ctx context.Context, child etlify.RecordRef, crmName string) error

	// ResolveDependents deletes every PendingDependency row whose parent
	// is (parent, crmName) and returns the distinct set of children that
	// were waiting on it, so the caller (Dependency Resolver) can check
	// each one's remaining pending count and decide whether to re-enqueue.
	ResolveDependents(ctx context.Context, parent etlify.RecordRef, crmName string) ([]etlify.RecordRef, error)

	// RecordAttempt appends to the supplemental crm_sync_attempts audit
	// log (SPEC_FULL.md §3). Its absence or failure must never affect
	// Synchronizer semantics; callers ignore its error and continue.
	RecordAttempt(ctx context.Context, ref etlify.RecordRef, crmName string, outcome AttemptOutcome, errMessage string, duration time.Duration, attemptedAt time.Time) error
}
