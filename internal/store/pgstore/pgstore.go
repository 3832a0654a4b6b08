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

// Package pgstore implements store.Store against Postgres via jackc/pgx/v5.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/etlify/etlify-go"
	"github.com/etlify/etlify-go/internal/store"
)

// Store is a pgxpool-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool. Migrate must have been run (or the
// schema applied by other means) before any method is called.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS crm_synchronisations (
	resource_type  text        NOT NULL,
	resource_id    bigint      NOT NULL,
	crm_name       text        NOT NULL,
	crm_id         text        NOT NULL DEFAULT '',
	last_digest    text        NOT NULL DEFAULT '',
	last_synced_at timestamptz,
	last_error     text        NOT NULL DEFAULT '',
	error_count    integer     NOT NULL DEFAULT 0,
	PRIMARY KEY (resource_type, resource_id, crm_name)
);

CREATE TABLE IF NOT EXISTS etlify_pending_syncs (
	id                    bigserial PRIMARY KEY,
	child_resource_type   text NOT NULL,
	child_resource_id     bigint NOT NULL,
	parent_resource_type  text NOT NULL,
	parent_resource_id    bigint NOT NULL,
	crm_name              text NOT NULL,
	UNIQUE (child_resource_type, child_resource_id, parent_resource_type, parent_resource_id, crm_name)
);

CREATE INDEX IF NOT EXISTS etlify_pending_syncs_child_idx
	ON etlify_pending_syncs (child_resource_type, child_resource_id, crm_name);
CREATE INDEX IF NOT EXISTS etlify_pending_syncs_parent_idx
	ON etlify_pending_syncs (parent_resource_type, parent_resource_id, crm_name);

CREATE TABLE IF NOT EXISTS crm_sync_attempts (
	id             bigserial PRIMARY KEY,
	resource_type  text        NOT NULL,
	resource_id    bigint      NOT NULL,
	crm_name       text        NOT NULL,
	outcome        text        NOT NULL,
	error_message  text        NOT NULL DEFAULT '',
	duration_ms    bigint      NOT NULL DEFAULT 0,
	attempted_at   timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS crm_sync_attempts_resource_idx
	ON crm_sync_attempts (resource_type, resource_id, crm_name);
`

// Migrate creates the schema this Store needs if it doesn't already exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

func (s *Store) GetSyncState(ctx context.Context, ref etlify.RecordRef, crmName string) (*store.SyncState, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT resource_type, resource_id, crm_name, crm_id, last_digest, last_synced_at, last_error, error_count
		FROM crm_synchronisations
		WHERE resource_type = $1 AND resource_id = $2 AND crm_name = $3`,
		ref.ResourceType, ref.ResourceID, crmName)

	var state store.SyncState
	err := row.Scan(&state.ResourceType, &state.ResourceID, &state.CRMName, &state.CRMID, &state.LastDigest, &state.LastSyncedAt, &state.LastError, &state.ErrorCount)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get sync state: %w", err)
	}
	return &state, nil
}

func (s *Store) SaveSyncState(ctx context.Context, state store.SyncState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crm_synchronisations (resource_type, resource_id, crm_name, crm_id, last_digest, last_synced_at, last_error, error_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (resource_type, resource_id, crm_name) DO UPDATE SET
			crm_id         = EXCLUDED.crm_id,
			last_digest    = EXCLUDED.last_digest,
			last_synced_at = EXCLUDED.last_synced_at,
			last_error     = EXCLUDED.last_error,
			error_count    = EXCLUDED.error_count`,
		state.ResourceType, state.ResourceID, state.CRMName, state.CRMID, state.LastDigest, state.LastSyncedAt, state.LastError, state.ErrorCount)
	if err != nil {
		return fmt.Errorf("pgstore: save sync state: %w", err)
	}
	return nil
}

func (s *Store) ResetForSkip(ctx context.Context, ref etlify.RecordRef, crmName string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crm_synchronisations (resource_type, resource_id, crm_name, last_synced_at, last_error, error_count)
		VALUES ($1, $2, $3, $4, '', 0)
		ON CONFLICT (resource_type, resource_id, crm_name) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at,
			last_error     = '',
			error_count    = 0`,
		ref.ResourceType, ref.ResourceID, crmName, now)
	if err != nil {
		return fmt.Errorf("pgstore: reset for skip: %w", err)
	}
	return nil
}

func (s *Store) TouchSyncedAt(ctx context.Context, ref etlify.RecordRef, crmName string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crm_synchronisations (resource_type, resource_id, crm_name, last_synced_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (resource_type, resource_id, crm_name) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at`,
		ref.ResourceType, ref.ResourceID, crmName, now)
	if err != nil {
		return fmt.Errorf("pgstore: touch synced at: %w", err)
	}
	return nil
}

func (s *Store) MarkError(ctx context.Context, ref etlify.RecordRef, crmName, message string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crm_synchronisations (resource_type, resource_id, crm_name, last_error, error_count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (resource_type, resource_id, crm_name) DO UPDATE SET
			last_error  = EXCLUDED.last_error,
			error_count = crm_synchronisations.error_count + 1`,
		ref.ResourceType, ref.ResourceID, crmName, message)
	if err != nil {
		return fmt.Errorf("pgstore: mark error: %w", err)
	}
	return nil
}

// WithRecordLock runs fn inside a transaction that holds a row lock on the
// (ref, crmName) crm_synchronisations row, acquired via `SELECT ... FOR
// UPDATE`. The row is created first (if missing) so the lock always has
// something to hold even on a record's first-ever sync attempt.
func (s *Store) WithRecordLock(ctx context.Context, ref etlify.RecordRef, crmName string, fn func(ctx context.Context) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin lock transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO crm_synchronisations (resource_type, resource_id, crm_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource_type, resource_id, crm_name) DO NOTHING`,
		ref.ResourceType, ref.ResourceID, crmName)
	if err != nil {
		return fmt.Errorf("pgstore: ensure sync state row: %w", err)
	}

	_, err = tx.Exec(ctx, `
		SELECT 1 FROM crm_synchronisations
		WHERE resource_type = $1 AND resource_id = $2 AND crm_name = $3
		FOR UPDATE`,
		ref.ResourceType, ref.ResourceID, crmName)
	if err != nil {
		return fmt.Errorf("pgstore: acquire record lock: %w", err)
	}

	if err := fn(ctx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit lock transaction: %w", err)
	}
	return nil
}

func (s *Store) InsertPendingDependency(ctx context.Context, dep store.PendingDependency) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO etlify_pending_syncs (child_resource_type, child_resource_id, parent_resource_type, parent_resource_id, crm_name)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`,
		dep.Child.ResourceType, dep.Child.ResourceID, dep.Parent.ResourceType, dep.Parent.ResourceID, dep.CRM)
	if err != nil {
		return fmt.Errorf("pgstore: insert pending dependency: %w", err)
	}
	return nil
}

func (s *Store) ExistsPendingDependency(ctx context.Context, dep store.PendingDependency) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM etlify_pending_syncs
			WHERE child_resource_type = $1 AND child_resource_id = $2
			  AND parent_resource_type = $3 AND parent_resource_id = $4
			  AND crm_name = $5
		)`,
		dep.Child.ResourceType, dep.Child.ResourceID, dep.Parent.ResourceType, dep.Parent.ResourceID, dep.CRM,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("pgstore: exists pending dependency: %w", err)
	}
	return exists, nil
}

func (s *Store) CountPendingForChild(ctx context.Context, child etlify.RecordRef, crmName string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM etlify_pending_syncs
		WHERE child_resource_type = $1 AND child_resource_id = $2 AND crm_name = $3`,
		child.ResourceType, child.ResourceID, crmName,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pgstore: count pending for child: %w", err)
	}
	return count, nil
}

func (s *Store) DeleteForChild(ctx context.Context, child etlify.RecordRef, crmName string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM etlify_pending_syncs
		WHERE child_resource_type = $1 AND child_resource_id = $2 AND crm_name = $3`,
		child.ResourceType, child.ResourceID, crmName)
	if err != nil {
		return fmt.Errorf("pgstore: delete for child: %w", err)
	}
	return nil
}

func (s *Store) ResolveDependents(ctx context.Context, parent etlify.RecordRef, crmName string) ([]etlify.RecordRef, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgstore: begin resolve dependents: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		DELETE FROM etlify_pending_syncs
		WHERE parent_resource_type = $1 AND parent_resource_id = $2 AND crm_name = $3
		RETURNING child_resource_type, child_resource_id`,
		parent.ResourceType, parent.ResourceID, crmName)
	if err != nil {
		return nil, fmt.Errorf("pgstore: resolve dependents: %w", err)
	}

	seen := make(map[etlify.RecordRef]bool)
	for rows.Next() {
		var ref etlify.RecordRef
		if err := rows.Scan(&ref.ResourceType, &ref.ResourceID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("pgstore: scan resolved dependent: %w", err)
		}
		seen[ref] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate resolved dependents: %w", err)
	}

	// Every deleted row shares this one parent and CRM, so the unique
	// (child, parent, crm) constraint already keeps the returned children
	// distinct; seen dedups them regardless.
	children := make([]etlify.RecordRef, 0, len(seen))
	for ref := range seen {
		children = append(children, ref)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("pgstore: commit resolve dependents: %w", err)
	}
	return children, nil
}

// attemptsRetainedPerResource bounds crm_sync_attempts to the most recent
// N rows per (resource_type, resource_id, crm_name); older rows are
// pruned opportunistically by the same write that adds a new one, rather
// than by any background job.
const attemptsRetainedPerResource = 20

func (s *Store) RecordAttempt(ctx context.Context, ref etlify.RecordRef, crmName string, outcome store.AttemptOutcome, errMessage string, duration time.Duration, attemptedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO crm_sync_attempts (resource_type, resource_id, crm_name, outcome, error_message, duration_ms, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ref.ResourceType, ref.ResourceID, crmName, string(outcome), errMessage, duration.Milliseconds(), attemptedAt)
	if err != nil {
		return fmt.Errorf("pgstore: record attempt: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `
		DELETE FROM crm_sync_attempts
		WHERE resource_type = $1 AND resource_id = $2 AND crm_name = $3
		AND id NOT IN (
			SELECT id FROM crm_sync_attempts
			WHERE resource_type = $1 AND resource_id = $2 AND crm_name = $3
			ORDER BY attempted_at DESC
			LIMIT $4
		)`,
		ref.ResourceType, ref.ResourceID, crmName, attemptsRetainedPerResource); err != nil {
		return fmt.Errorf("pgstore: prune attempts: %w", err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
