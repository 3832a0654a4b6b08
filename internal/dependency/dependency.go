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

// Package dependency implements the deferred/pending dependency graph:
// checking whether a record's declared parents have synced yet, recording
// pending rows when they haven't, and waking dependents once a parent
// succeeds.
package dependency

import (
	"context"
	"fmt"

	"github.com/etlify/etlify-go"
	"github.com/etlify/etlify-go/internal/binding"
	"github.com/etlify/etlify-go/internal/store"
)

// Resolver is the Dependency Resolver.
type Resolver struct {
	Store store.Store
}

// New returns a Resolver backed by s.
func New(s store.Store) *Resolver {
	return &Resolver{Store: s}
}

// Check evaluates deps against record and returns the parent RecordRefs
// that are not yet satisfied, in declaration order.
func (r *Resolver) Check(ctx context.Context, record any, deps []binding.Dependency, crmName string) ([]etlify.RecordRef, error) {
	var missing []etlify.RecordRef

	for _, dep := range deps {
		parentIDs, err := dep.Resolve(record)
		if err != nil {
			return nil, fmt.Errorf("dependency: resolve parents for %q: %w", dep.ParentResourceType, err)
		}

		for _, id := range parentIDs {
			ref := etlify.RecordRef{ResourceType: dep.ParentResourceType, ResourceID: id}

			satisfied, err := r.satisfied(ctx, ref, crmName, dep)
			if err != nil {
				return nil, err
			}
			if !satisfied {
				missing = append(missing, ref)
			}
		}
	}

	return missing, nil
}

func (r *Resolver) satisfied(ctx context.Context, parent etlify.RecordRef, crmName string, dep binding.Dependency) (bool, error) {
	state, err := r.Store.GetSyncState(ctx, parent, crmName)
	if err != nil {
		return false, fmt.Errorf("dependency: get sync state for %s: %w", parent, err)
	}
	if state != nil && state.CRMID != "" {
		return true, nil
	}

	if dep.LegacyCRMIDLookup == nil {
		return false, nil
	}

	crmID, ok, err := dep.LegacyCRMIDLookup(parent)
	if err != nil {
		return false, fmt.Errorf("dependency: legacy crm id lookup for %s: %w", parent, err)
	}
	return ok && crmID != "", nil
}

// RegisterPending idempotently writes one PendingDependency row per
// (child, parent, crmName) in missingParents.
func (r *Resolver) RegisterPending(ctx context.Context, child etlify.RecordRef, crmName string, missingParents []etlify.RecordRef) error {
	for _, parent := range missingParents {
		dep := store.PendingDependency{Child: child, Parent: parent, CRM: crmName}
		if err := r.Store.InsertPendingDependency(ctx, dep); err != nil {
			return fmt.Errorf("dependency: register pending %s -> %s: %w", child, parent, err)
		}
	}
	return nil
}

// HasCycle reports whether parent is already waiting on child for crmName
// -- the reverse-direction check that exempts sync_dependencies from
// buffering when doing so would deadlock two records waiting on each
// other.
func (r *Resolver) HasCycle(ctx context.Context, child, parent etlify.RecordRef, crmName string) (bool, error) {
	exists, err := r.Store.ExistsPendingDependency(ctx, store.PendingDependency{Child: parent, Parent: child, CRM: crmName})
	if err != nil {
		return false, fmt.Errorf("dependency: cycle check %s <-> %s: %w", child, parent, err)
	}
	return exists, nil
}

// ResolveDependents deletes every PendingDependency row waiting on parent
// for crmName and returns the children whose last pending row for that
// CRM was just removed -- these are the ones the caller must enqueue.
func (r *Resolver) ResolveDependents(ctx context.Context, parent etlify.RecordRef, crmName string) ([]etlify.RecordRef, error) {
	freed, err := r.Store.ResolveDependents(ctx, parent, crmName)
	if err != nil {
		return nil, fmt.Errorf("dependency: resolve dependents of %s: %w", parent, err)
	}

	var toEnqueue []etlify.RecordRef
	for _, child := range freed {
		remaining, err := r.Store.CountPendingForChild(ctx, child, crmName)
		if err != nil {
			return nil, fmt.Errorf("dependency: count pending for child %s: %w", child, err)
		}
		if remaining == 0 {
			toEnqueue = append(toEnqueue, child)
		}
	}
	return toEnqueue, nil
}

// CleanupForChild unconditionally clears child's pending rows for crmName,
// the bookkeeping a successful (or not_modified) attempt performs on
// itself before firing its own dependents.
func (r *Resolver) CleanupForChild(ctx context.Context, child etlify.RecordRef, crmName string) error {
	if err := r.Store.DeleteForChild(ctx, child, crmName); err != nil {
		return fmt.Errorf("dependency: cleanup for child %s: %w", child, err)
	}
	return nil
}
