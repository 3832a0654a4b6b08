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

// Package deleter removes a record's remote mirror: a thin wrapper
// around adapter.Delete that handles the already-gone and never-synced
// cases without involving the Synchronizer's locking or digest machinery.
package deleter

import (
	"context"
	"fmt"

	"github.com/etlify/etlify-go"
	"github.com/etlify/etlify-go/internal/binding"
	"github.com/etlify/etlify-go/internal/registry"
	"github.com/etlify/etlify-go/internal/store"
)

// Outcome is the closed result set of a Delete call.
type Outcome string

const (
	// Noop means there was nothing to delete: no SyncState row, or one
	// with a blank crm_id.
	Noop    Outcome = "noop"
	Deleted Outcome = "deleted"
	Errored Outcome = "errored"
)

// Deleter wires the Model Binding, Registry, and Store needed to remove
// a record's remote mirror.
type Deleter struct {
	Bindings *binding.Set
	Registry *registry.Registry
	Store    store.Store
}

// Delete removes ref's remote mirror in crmName, if one exists.
func (d *Deleter) Delete(ctx context.Context, ref etlify.RecordRef, crmName string) (Outcome, error) {
	state, err := d.Store.GetSyncState(ctx, ref, crmName)
	if err != nil {
		return Errored, fmt.Errorf("deleter: get sync state for %s: %w", ref, err)
	}
	if state == nil || state.CRMID == "" {
		return Noop, nil
	}

	b, err := d.Bindings.MustGet(ref.ResourceType, crmName)
	if err != nil {
		return Errored, err
	}

	adapterInstance, _, err := d.Registry.Fetch(crmName)
	if err != nil {
		return Errored, fmt.Errorf("deleter: fetch adapter for %s: %w", crmName, err)
	}

	if _, err := adapterInstance.Delete(ctx, state.CRMID, b.CRMObjectType); err != nil {
		wrapped := fmt.Errorf("deleter: delete %s: %w", ref, err)
		if markErr := d.Store.MarkError(ctx, ref, crmName, wrapped.Error()); markErr != nil {
			return Errored, fmt.Errorf("deleter: mark error for %s: %w (original: %v)", ref, markErr, wrapped)
		}
		return Errored, wrapped
	}

	return Deleted, nil
}
