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

// Package synchronizer drives a single sync attempt through its full
// state machine: guard, dependency checks, the per-record lock, digest
// compare, adapter upsert, and the dependent-waking post-hooks. Named
// synchronizer rather than sync to avoid colliding with the standard
// library's sync package, which the rest of this module imports for
// mutexes and wait groups.
package synchronizer

import (
	"context"
	"fmt"
	"time"

	"github.com/etlify/etlify-go"
	"github.com/etlify/etlify-go/internal/binding"
	"github.com/etlify/etlify-go/internal/dependency"
	"github.com/etlify/etlify-go/internal/digest"
	"github.com/etlify/etlify-go/internal/job"
	"github.com/etlify/etlify-go/internal/registry"
	"github.com/etlify/etlify-go/internal/store"
)

// Outcome is the closed set of terminal results a sync attempt can reach.
type Outcome string

const (
	Skipped     Outcome = "skipped"
	Deferred    Outcome = "deferred"
	Buffered    Outcome = "buffered"
	NotModified Outcome = "not_modified"
	Synced      Outcome = "synced"
	Errored     Outcome = "errored"
)

// Enqueuer is the subset of job.Runner the Synchronizer needs to wake
// parents and dependents. Declared locally so this package depends on
// job.Task's shape, not on any particular queue backend or worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, task job.Task) (bool, error)
}

// Synchronizer wires the Model Binding, Registry, Store, and Dependency
// Resolver together into the single Sync entrypoint.
type Synchronizer struct {
	Bindings   *binding.Set
	Registry   *registry.Registry
	Store      store.Store
	Dependency *dependency.Resolver
	Jobs       Enqueuer
	Digest     digest.Strategy

	// JobMaxAttempts bounds the Tasks this Synchronizer enqueues for
	// deferred/buffered parents and woken dependents.
	JobMaxAttempts int

	// Now defaults to time.Now; overridable for deterministic tests.
	Now func() time.Time
}

func (s *Synchronizer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Synchronizer) maxAttempts() int {
	if s.JobMaxAttempts <= 0 {
		return 3
	}
	return s.JobMaxAttempts
}

// Sync runs one attempt for ref against crmName and returns its terminal
// outcome. A non-nil error is always returned with Errored, whether it
// arose before the record was loaded (missing binding or Loader, a load
// failure) or later in the attempt.
//
// Every terminal outcome -- reached here or deeper in syncLocked -- is
// appended to the Store's crm_sync_attempts audit log via the deferred
// recordAttempt below, so the single exit path covers all of them without
// a call at each return statement.
func (s *Synchronizer) Sync(ctx context.Context, ref etlify.RecordRef, crmName string) (outcome Outcome, err error) {
	started := s.now()
	defer func() {
		s.recordAttempt(ctx, ref, crmName, outcome, err, started)
	}()

	b, err := s.Bindings.MustGet(ref.ResourceType, crmName)
	if err != nil {
		return Errored, err
	}
	if b.Loader == nil {
		return Errored, fmt.Errorf("synchronizer: binding %s/%s has no Loader", ref.ResourceType, crmName)
	}

	record, err := b.Loader(ctx, ref.ResourceID)
	if err != nil {
		return Errored, fmt.Errorf("synchronizer: load %s: %w", ref, err)
	}

	if b.Guard != nil && !b.Guard(record) {
		if err := s.Store.ResetForSkip(ctx, ref, crmName, s.now()); err != nil {
			return Errored, fmt.Errorf("synchronizer: reset for skip %s: %w", ref, err)
		}
		return Skipped, nil
	}

	missingCRMParents, err := s.Dependency.Check(ctx, record, b.CRMDependencies, crmName)
	if err != nil {
		return Errored, fmt.Errorf("synchronizer: check crm_dependencies for %s: %w", ref, err)
	}
	if len(missingCRMParents) > 0 {
		if err := s.deferOn(ctx, ref, crmName, missingCRMParents); err != nil {
			return Errored, err
		}
		return Deferred, nil
	}

	lockErr := s.Store.WithRecordLock(ctx, ref, crmName, func(ctx context.Context) error {
		outcome, err = s.syncLocked(ctx, ref, crmName, b, record)
		return err
	})
	if lockErr != nil {
		if outcome == Errored {
			if markErr := s.Store.MarkError(ctx, ref, crmName, lockErr.Error()); markErr != nil {
				return Errored, fmt.Errorf("synchronizer: mark error for %s: %w (original: %v)", ref, markErr, lockErr)
			}
		}
		return Errored, lockErr
	}

	return outcome, nil
}

// syncLocked runs everything from the sync_dependencies check through the
// post-hooks, under the caller's per-record lock. Any error it returns is
// attributed to Outcome Errored by the caller.
func (s *Synchronizer) syncLocked(ctx context.Context, ref etlify.RecordRef, crmName string, b binding.Binding, record any) (Outcome, error) {
	buffered, err := s.checkSyncDependencies(ctx, ref, crmName, b, record)
	if err != nil {
		return Errored, err
	}
	if buffered {
		return Buffered, nil
	}

	payload, err := b.Serializer.BuildPayload(record)
	if err != nil {
		return Errored, fmt.Errorf("build payload for %s: %w", ref, err)
	}

	fingerprint, err := s.digest()(payload)
	if err != nil {
		return Errored, fmt.Errorf("digest payload for %s: %w", ref, err)
	}

	existing, err := s.Store.GetSyncState(ctx, ref, crmName)
	if err != nil {
		return Errored, fmt.Errorf("get sync state for %s: %w", ref, err)
	}

	if existing != nil && existing.LastDigest == fingerprint {
		if err := s.Store.TouchSyncedAt(ctx, ref, crmName, s.now()); err != nil {
			return Errored, fmt.Errorf("touch synced_at for %s: %w", ref, err)
		}
		if err := s.fireDependentHooks(ctx, ref, crmName); err != nil {
			return Errored, err
		}
		return NotModified, nil
	}

	adapterInstance, _, err := s.Registry.Fetch(crmName)
	if err != nil {
		return Errored, fmt.Errorf("fetch adapter for %s: %w", crmName, err)
	}

	crmID, err := adapterInstance.Upsert(ctx, payload, b.IDProperty, b.CRMObjectType)
	if err != nil {
		return Errored, fmt.Errorf("upsert %s: %w", ref, err)
	}

	finalCRMID := crmID
	if existing != nil && existing.CRMID != "" {
		finalCRMID = existing.CRMID
	}

	now := s.now()
	if err := s.Store.SaveSyncState(ctx, store.SyncState{
		ResourceType: ref.ResourceType,
		ResourceID:   ref.ResourceID,
		CRMName:      crmName,
		CRMID:        finalCRMID,
		LastDigest:   fingerprint,
		LastSyncedAt: &now,
		LastError:    "",
		ErrorCount:   0,
	}); err != nil {
		return Errored, fmt.Errorf("save sync state for %s: %w", ref, err)
	}

	if err := s.fireDependentHooks(ctx, ref, crmName); err != nil {
		return Errored, err
	}
	return Synced, nil
}

// checkSyncDependencies evaluates b.SyncDependencies and buffers ref on
// whichever unsatisfied parents are not themselves already waiting on
// ref (the cycle-detection exemption).
func (s *Synchronizer) checkSyncDependencies(ctx context.Context, ref etlify.RecordRef, crmName string, b binding.Binding, record any) (bool, error) {
	missing, err := s.Dependency.Check(ctx, record, b.SyncDependencies, crmName)
	if err != nil {
		return false, fmt.Errorf("check sync_dependencies for %s: %w", ref, err)
	}
	if len(missing) == 0 {
		return false, nil
	}

	var toBuffer []etlify.RecordRef
	for _, parent := range missing {
		cyclic, err := s.Dependency.HasCycle(ctx, ref, parent, crmName)
		if err != nil {
			return false, fmt.Errorf("cycle check %s -> %s: %w", ref, parent, err)
		}
		if !cyclic {
			toBuffer = append(toBuffer, parent)
		}
	}
	if len(toBuffer) == 0 {
		return false, nil
	}

	if err := s.Dependency.RegisterPending(ctx, ref, crmName, toBuffer); err != nil {
		return false, err
	}
	if err := s.enqueueAll(ctx, toBuffer, crmName); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Synchronizer) deferOn(ctx context.Context, child etlify.RecordRef, crmName string, missingParents []etlify.RecordRef) error {
	if err := s.Dependency.RegisterPending(ctx, child, crmName, missingParents); err != nil {
		return err
	}
	return s.enqueueAll(ctx, missingParents, crmName)
}

// fireDependentHooks is the synced/not_modified post-hook pair: drop
// ref's own pending rows, then wake and enqueue whichever of ref's
// dependents have no pending rows left.
func (s *Synchronizer) fireDependentHooks(ctx context.Context, ref etlify.RecordRef, crmName string) error {
	if err := s.Dependency.CleanupForChild(ctx, ref, crmName); err != nil {
		return err
	}

	toEnqueue, err := s.Dependency.ResolveDependents(ctx, ref, crmName)
	if err != nil {
		return fmt.Errorf("resolve dependents of %s: %w", ref, err)
	}
	return s.enqueueAll(ctx, toEnqueue, crmName)
}

func (s *Synchronizer) enqueueAll(ctx context.Context, refs []etlify.RecordRef, crmName string) error {
	if s.Jobs == nil {
		return nil
	}
	for _, ref := range refs {
		task := job.NewTask(ref, crmName, s.maxAttempts())
		if _, err := s.Jobs.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("enqueue %s: %w", ref, err)
		}
	}
	return nil
}

func (s *Synchronizer) digest() digest.Strategy {
	if s.Digest != nil {
		return s.Digest
	}
	return digest.SHA256Canonical
}

// recordAttempt appends one row to the Store's supplemental
// crm_sync_attempts audit log. Its own failure is swallowed rather than
// propagated: the log exists for operators inspecting why a record is
// stuck, and must never itself turn a successful or already-errored Sync
// into a different outcome.
func (s *Synchronizer) recordAttempt(ctx context.Context, ref etlify.RecordRef, crmName string, outcome Outcome, syncErr error, started time.Time) {
	errMessage := ""
	if syncErr != nil {
		errMessage = syncErr.Error()
	}
	_ = s.Store.RecordAttempt(ctx, ref, crmName, store.AttemptOutcome(outcome), errMessage, s.now().Sub(started), started)
}
