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

package deleter

import (
	"context"
	"errors"
	"testing"

	"github.com/etlify/etlify-go"
	"github.com/etlify/etlify-go/internal/binding"
	"github.com/etlify/etlify-go/internal/registry"
	"github.com/etlify/etlify-go/internal/store"
	"github.com/etlify/etlify-go/internal/store/memstore"
)

type fakeAdapter struct {
	deletes   int
	deleteErr error
}

func (f *fakeAdapter) Upsert(ctx context.Context, payload map[string]any, idProperty, objectType string) (string, error) {
	return "", nil
}

func (f *fakeAdapter) Delete(ctx context.Context, crmID, objectType string) (bool, error) {
	f.deletes++
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	return true, nil
}

func newFixture(t *testing.T) (*Deleter, *memstore.Store, *fakeAdapter) {
	t.Helper()

	s := memstore.New()
	reg := registry.New()
	adapter := &fakeAdapter{}
	if err := reg.Register("hubspot", adapter, registry.Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bindings := binding.NewSet()
	bindings.Register("Contact", "hubspot", binding.Binding{CRMObjectType: "contacts"})

	return &Deleter{Bindings: bindings, Registry: reg, Store: s}, s, adapter
}

func TestDeleteIsNoopWithNoSyncState(t *testing.T) {
	d, _, adapter := newFixture(t)

	ref := etlify.RecordRef{ResourceType: "Contact", ResourceID: 1}
	outcome, err := d.Delete(context.Background(), ref, "hubspot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Noop {
		t.Fatalf("expected Noop, got %v", outcome)
	}
	if adapter.deletes != 0 {
		t.Fatalf("expected no adapter call")
	}
}

func TestDeleteIsNoopWithBlankCRMID(t *testing.T) {
	d, s, adapter := newFixture(t)

	ref := etlify.RecordRef{ResourceType: "Contact", ResourceID: 1}
	if err := s.SaveSyncState(context.Background(), store.SyncState{
		ResourceType: ref.ResourceType,
		ResourceID:   ref.ResourceID,
		CRMName:      "hubspot",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := d.Delete(context.Background(), ref, "hubspot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Noop {
		t.Fatalf("expected Noop with a blank crm_id, got %v", outcome)
	}
	if adapter.deletes != 0 {
		t.Fatalf("expected no adapter call")
	}
}

func TestDeleteCallsAdapterWhenCRMIDPresent(t *testing.T) {
	d, s, adapter := newFixture(t)

	ref := etlify.RecordRef{ResourceType: "Contact", ResourceID: 1}
	if err := s.SaveSyncState(context.Background(), store.SyncState{
		ResourceType: ref.ResourceType,
		ResourceID:   ref.ResourceID,
		CRMName:      "hubspot",
		CRMID:        "crm-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := d.Delete(context.Background(), ref, "hubspot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Deleted {
		t.Fatalf("expected Deleted, got %v", outcome)
	}
	if adapter.deletes != 1 {
		t.Fatalf("expected exactly one adapter call, got %d", adapter.deletes)
	}
}

func TestDeleteWrapsAdapterErrorAndMarksState(t *testing.T) {
	d, s, adapter := newFixture(t)
	adapter.deleteErr = errors.New("remote failure")

	ref := etlify.RecordRef{ResourceType: "Contact", ResourceID: 1}
	if err := s.SaveSyncState(context.Background(), store.SyncState{
		ResourceType: ref.ResourceType,
		ResourceID:   ref.ResourceID,
		CRMName:      "hubspot",
		CRMID:        "crm-1",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcome, err := d.Delete(context.Background(), ref, "hubspot")
	if err == nil {
		t.Fatalf("expected an error")
	}
	if outcome != Errored {
		t.Fatalf("expected Errored, got %v", outcome)
	}

	state, getErr := s.GetSyncState(context.Background(), ref, "hubspot")
	if getErr != nil {
		t.Fatalf("unexpected error: %v", getErr)
	}
	if state.ErrorCount != 1 {
		t.Fatalf("expected error_count incremented, got %d", state.ErrorCount)
	}
}
