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

// Package engine assembles every other internal package into the single
// object an embedding application holds: a Registry, a Model Binding
// Set, a Store, and the Synchronizer/BatchSync/Deleter/JobRunner built
// on top of them. There is no package-global state anywhere in this
// module; Engine is the explicit "engine context" struct Go substitutes
// for it, passed to callers instead of reached for through a singleton.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/etlify/etlify-go"
	"github.com/etlify/etlify-go/internal/batch"
	"github.com/etlify/etlify-go/internal/binding"
	"github.com/etlify/etlify-go/internal/cache"
	"github.com/etlify/etlify-go/internal/dependency"
	"github.com/etlify/etlify-go/internal/deleter"
	"github.com/etlify/etlify-go/internal/digest"
	"github.com/etlify/etlify-go/internal/job"
	"github.com/etlify/etlify-go/internal/registry"
	"github.com/etlify/etlify-go/internal/stale"
	"github.com/etlify/etlify-go/internal/store"
	"github.com/etlify/etlify-go/internal/synchronizer"
)

// Config are the knobs an embedder sets once at startup. Zero values
// fall back to the same defaults each wrapped package already applies.
type Config struct {
	MaxSyncErrors  int
	JobMaxAttempts int
	JobLockTTL     time.Duration
	JobRetryDelay  time.Duration
	JobWorkers     int
	BatchSize      int
	Digest         digest.Strategy
	Logger         *zap.SugaredLogger
}

// Engine is the explicit, caller-held context every public operation
// runs against -- in place of the package-global config/registry the
// source relies on.
type Engine struct {
	Registry   *registry.Registry
	Bindings   *binding.Set
	Store      store.Store
	Dependency *dependency.Resolver
	Stale      *stale.Finder
	Sync       *synchronizer.Synchronizer
	Delete     *deleter.Deleter
	Batch      *batch.BatchSync
	Jobs       *job.Runner

	logger *zap.SugaredLogger
}

// New assembles an Engine from its storage, cache, and job queue
// backends plus the shared Config. staleFinder may be nil when the
// embedder never runs BatchSync (e.g. a worker that only drains jobs).
func New(s store.Store, c cache.Store, q job.Queue, staleFinder *stale.Finder, cfg Config) *Engine {
	reg := registry.New()
	bindings := binding.NewSet()
	dep := dependency.New(s)

	sync := &synchronizer.Synchronizer{
		Bindings:       bindings,
		Registry:       reg,
		Store:          s,
		Dependency:     dep,
		Digest:         cfg.Digest,
		JobMaxAttempts: cfg.JobMaxAttempts,
	}

	del := &deleter.Deleter{
		Bindings: bindings,
		Registry: reg,
		Store:    s,
	}

	e := &Engine{
		Registry:   reg,
		Bindings:   bindings,
		Store:      s,
		Dependency: dep,
		Stale:      staleFinder,
		Sync:       sync,
		Delete:     del,
		logger:     cfg.Logger,
	}

	runner := &job.Runner{
		Queue:      q,
		Cache:      c,
		Handler:    e.handleTask,
		Workers:    cfg.JobWorkers,
		LockTTL:    lockTTLOrDefault(cfg.JobLockTTL),
		RetryDelay: retryDelayOrDefault(cfg.JobRetryDelay),
		Logger:     cfg.Logger,
	}
	e.Jobs = runner
	sync.Jobs = runner

	if staleFinder != nil {
		e.Batch = &batch.BatchSync{
			Bindings:       bindings,
			Registry:       reg,
			Stale:          staleFinder,
			Synchronizer:   sync,
			Jobs:           runner,
			MaxSyncErrors:  cfg.MaxSyncErrors,
			JobMaxAttempts: cfg.JobMaxAttempts,
		}
	}

	return e
}

func lockTTLOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 15 * time.Minute
	}
	return d
}

func retryDelayOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Minute
	}
	return d
}

// handleTask adapts a job.Task into a Synchronizer.Sync call for the
// JobRunner's Handler. Any error -- including a record the Loader can no
// longer find -- is returned as-is, so the Runner's fixed-delay retry
// applies uniformly regardless of failure cause.
func (e *Engine) handleTask(ctx context.Context, task job.Task) error {
	_, err := e.Sync.Sync(ctx, task.Ref, task.CRMName)
	return err
}

// RegisterAdapter registers a CRM adapter and its options.
func (e *Engine) RegisterAdapter(name string, adapterInstance etlify.Adapter, opts registry.Options) error {
	return e.Registry.Register(name, adapterInstance, opts)
}

// RegisterBinding declares the (model, CRM) configuration.
func (e *Engine) RegisterBinding(modelName, crmName string, b binding.Binding) {
	e.Bindings.Register(modelName, crmName, b)
}

// SyncOne is a convenience wrapper over Sync.Sync for a single record.
func (e *Engine) SyncOne(ctx context.Context, ref etlify.RecordRef, crmName string) (synchronizer.Outcome, error) {
	return e.Sync.Sync(ctx, ref, crmName)
}

// Enqueue submits a single (ref, crmName) sync as an asynchronous job.
func (e *Engine) Enqueue(ctx context.Context, ref etlify.RecordRef, crmName string, maxAttempts int) (bool, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return e.Jobs.Enqueue(ctx, job.NewTask(ref, crmName, maxAttempts))
}

// RunBatch runs one BatchSync pass. It errors if the Engine was built
// without a Stale Finder.
func (e *Engine) RunBatch(ctx context.Context, opts batch.Options) (batch.Stats, error) {
	if e.Batch == nil {
		return batch.Stats{}, fmt.Errorf("engine: BatchSync requires a non-nil Stale Finder")
	}
	return e.Batch.Run(ctx, opts)
}

// DeleteOne removes a single record's remote mirror.
func (e *Engine) DeleteOne(ctx context.Context, ref etlify.RecordRef, crmName string) (deleter.Outcome, error) {
	return e.Delete.Delete(ctx, ref, crmName)
}

// Run blocks, draining the JobRunner's queue until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.Jobs.Run(ctx)
}
