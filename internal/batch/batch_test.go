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

package batch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/etlify/etlify-go"
	"github.com/etlify/etlify-go/internal/binding"
	"github.com/etlify/etlify-go/internal/job"
	"github.com/etlify/etlify-go/internal/registry"
	"github.com/etlify/etlify-go/internal/synchronizer"
)

type fakeStaleFinder struct {
	ids map[binding.Key][]int64
}

func (f *fakeStaleFinder) IDs(ctx context.Context, b binding.Binding, maxSyncErrors, batchSize int, fn func(ids []int64) error) error {
	all := f.ids[binding.Key{ModelName: b.ModelName, CRMName: b.CRMName}]
	for i := 0; i < len(all); i += batchSize {
		end := i + batchSize
		if end > len(all) {
			end = len(all)
		}
		if err := fn(all[i:end]); err != nil {
			return err
		}
	}
	return nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []job.Task
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, task job.Task) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return true, nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

type fakeSynchronizer struct {
	mu      sync.Mutex
	calls   []etlify.RecordRef
	failIDs map[int64]bool
}

func (f *fakeSynchronizer) Sync(ctx context.Context, ref etlify.RecordRef, crmName string) (synchronizer.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ref)
	if f.failIDs[ref.ResourceID] {
		return synchronizer.Errored, errors.New("boom")
	}
	return synchronizer.Synced, nil
}

func newFixture(t *testing.T) (*BatchSync, *binding.Set, *fakeStaleFinder) {
	t.Helper()

	bindings := binding.NewSet()
	bindings.Register("Contact", "hubspot", binding.Binding{})
	bindings.Register("Account", "hubspot", binding.Binding{})

	reg := registry.New()
	if err := reg.Register("hubspot", noopAdapter{}, registry.Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	finder := &fakeStaleFinder{ids: map[binding.Key][]int64{
		{ModelName: "Contact", CRMName: "hubspot"}: {1, 2, 3},
		{ModelName: "Account", CRMName: "hubspot"}: {10},
	}}

	b := &BatchSync{
		Bindings: bindings,
		Registry: reg,
		Stale:    finder,
	}

	return b, bindings, finder
}

type noopAdapter struct{}

func (noopAdapter) Upsert(ctx context.Context, payload map[string]any, idProperty, objectType string) (string, error) {
	return "", nil
}

func (noopAdapter) Delete(ctx context.Context, crmID, objectType string) (bool, error) {
	return true, nil
}

func TestRunAsyncEnqueuesOneJobPerID(t *testing.T) {
	b, _, _ := newFixture(t)
	enq := &fakeEnqueuer{}
	b.Jobs = enq

	stats, err := b.Run(context.Background(), Options{Async: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 4 {
		t.Fatalf("expected 4 total stale ids, got %d", stats.Total)
	}
	if stats.PerModel["Contact"] != 3 || stats.PerModel["Account"] != 1 {
		t.Fatalf("unexpected per-model counts: %+v", stats.PerModel)
	}
	if enq.count() != 4 {
		t.Fatalf("expected 4 enqueued jobs, got %d", enq.count())
	}
}

func TestRunInlineCallsSynchronizerAndCountsErrorsWithoutAborting(t *testing.T) {
	b, _, _ := newFixture(t)
	sync := &fakeSynchronizer{failIDs: map[int64]bool{2: true}}
	b.Synchronizer = sync

	stats, err := b.Run(context.Background(), Options{Async: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 4 {
		t.Fatalf("expected 4 total stale ids, got %d", stats.Total)
	}
	if stats.Errors != 1 {
		t.Fatalf("expected exactly one counted error, got %d", stats.Errors)
	}
	if len(sync.calls) != 4 {
		t.Fatalf("expected all 4 ids to be attempted despite the one failure, got %d calls", len(sync.calls))
	}
}

func TestRunFiltersByModelAndCRM(t *testing.T) {
	b, _, _ := newFixture(t)
	enq := &fakeEnqueuer{}
	b.Jobs = enq

	stats, err := b.Run(context.Background(), Options{Async: true, Models: []string{"Account"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("expected only the Account model's single stale id, got %d", stats.Total)
	}
	if _, ok := stats.PerModel["Contact"]; ok {
		t.Fatalf("expected Contact to be filtered out entirely, got %+v", stats.PerModel)
	}

	stats, err = b.Run(context.Background(), Options{Async: true, CRMName: "airtable"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("expected no stale ids for a CRM with no bindings, got %d", stats.Total)
	}
}

func TestRunWithNoQualifyingModelReturnsZeroedStats(t *testing.T) {
	b, _, _ := newFixture(t)
	enq := &fakeEnqueuer{}
	b.Jobs = enq

	stats, err := b.Run(context.Background(), Options{Async: true, Models: []string{"NoSuchModel"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 0 || len(stats.PerModel) != 0 {
		t.Fatalf("expected zeroed stats when no model qualifies, got %+v", stats)
	}
}
