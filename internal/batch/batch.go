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

// Package batch walks every stale (Model, CRM) pair and drives a sync
// attempt for each id the Stale Finder surfaces, either by enqueueing a
// job or by calling the Synchronizer in-process.
package batch

import (
	"context"
	"fmt"
	"strings"

	"github.com/etlify/etlify-go"
	"github.com/etlify/etlify-go/internal/binding"
	"github.com/etlify/etlify-go/internal/job"
	"github.com/etlify/etlify-go/internal/registry"
	"github.com/etlify/etlify-go/internal/stale"
	"github.com/etlify/etlify-go/internal/synchronizer"
)

// DefaultBatchSize is used when Options.BatchSize is zero.
const DefaultBatchSize = 500

// Enqueuer is the job-submission surface BatchSync needs in async mode.
type Enqueuer interface {
	Enqueue(ctx context.Context, task job.Task) (bool, error)
}

// StaleFinder is the subset of stale.Finder BatchSync depends on,
// declared locally so tests can supply a fake instead of a live
// pgxpool-backed Finder.
type StaleFinder interface {
	IDs(ctx context.Context, b binding.Binding, maxSyncErrors, batchSize int, fn func(ids []int64) error) error
}

// SyncRunner is the subset of synchronizer.Synchronizer BatchSync needs
// for its inline (non-async) mode.
type SyncRunner interface {
	Sync(ctx context.Context, ref etlify.RecordRef, crmName string) (synchronizer.Outcome, error)
}

// Options configures one BatchSync run.
type Options struct {
	// Models restricts the run to these model names; empty means every
	// registered model.
	Models []string
	// CRMName restricts the run to this CRM; empty means every
	// registered CRM.
	CRMName string
	// BatchSize overrides DefaultBatchSize.
	BatchSize int
	// Async enqueues one job per id via Jobs when true; when false (the
	// zero value), each id is synced inline on the caller's goroutine.
	Async bool
}

// Stats aggregates one BatchSync run's results.
type Stats struct {
	Total    int
	PerModel map[string]int
	Errors   int
}

// BatchSync wires the Stale Finder, Model Bindings, Registry, and
// Synchronizer together for periodic or on-demand bulk reconciliation.
type BatchSync struct {
	Bindings       *binding.Set
	Registry       *registry.Registry
	Stale          StaleFinder
	Synchronizer   SyncRunner
	Jobs           Enqueuer
	MaxSyncErrors  int
	JobMaxAttempts int
}

func (b *BatchSync) maxSyncErrors(crmName string) int {
	if _, opts, err := b.Registry.Fetch(crmName); err == nil && opts.MaxSyncErrors != nil {
		return *opts.MaxSyncErrors
	}
	if b.MaxSyncErrors > 0 {
		return b.MaxSyncErrors
	}
	return stale.DefaultMaxSyncErrors
}

func (b *BatchSync) maxAttempts() int {
	if b.JobMaxAttempts <= 0 {
		return 3
	}
	return b.JobMaxAttempts
}

// Run walks every (Model, CRM) pair matching opts and drives a sync
// attempt for each stale id found.
func (b *BatchSync) Run(ctx context.Context, opts Options) (Stats, error) {
	stats := Stats{PerModel: make(map[string]int)}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for _, pair := range b.Bindings.Pairs() {
		if !matches(pair.ModelName, opts.Models) {
			continue
		}
		if opts.CRMName != "" && !sameCRM(pair.CRMName, opts.CRMName) {
			continue
		}

		bnd, err := b.Bindings.MustGet(pair.ModelName, pair.CRMName)
		if err != nil {
			return stats, err
		}

		maxErrs := b.maxSyncErrors(pair.CRMName)

		err = b.Stale.IDs(ctx, bnd, maxErrs, batchSize, func(ids []int64) error {
			stats.Total += len(ids)
			stats.PerModel[pair.ModelName] += len(ids)

			for _, id := range ids {
				ref := etlify.RecordRef{ResourceType: pair.ModelName, ResourceID: id}

				if opts.Async {
					if b.Jobs == nil {
						return fmt.Errorf("batch: async run requires an Enqueuer")
					}
					task := job.NewTask(ref, pair.CRMName, b.maxAttempts())
					if _, err := b.Jobs.Enqueue(ctx, task); err != nil {
						return fmt.Errorf("batch: enqueue %s: %w", ref, err)
					}
					continue
				}

				if _, err := b.Synchronizer.Sync(ctx, ref, pair.CRMName); err != nil {
					stats.Errors++
				}
			}
			return nil
		})
		if err != nil {
			return stats, fmt.Errorf("batch: walk %s/%s: %w", pair.ModelName, pair.CRMName, err)
		}
	}

	return stats, nil
}

func matches(modelName string, allow []string) bool {
	if len(allow) == 0 {
		return true
	}
	for _, m := range allow {
		if m == modelName {
			return true
		}
	}
	return false
}

func sameCRM(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
