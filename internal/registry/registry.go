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

// Package registry holds the process-wide, write-once-at-init mapping of
// CRM name to adapter instance and options: a small, explicit,
// concurrency-safe map in place of a dynamic per-class registration DSL.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/etlify/etlify-go"
)

// Options are the per-CRM knobs: job class and error-count ceiling.
type Options struct {
	// JobClass, when set, names an alternate job handler for this CRM.
	// The engine ships a single handler, so this is informational unless
	// the embedder wires its own dispatch on top.
	JobClass string
	// MaxSyncErrors overrides the global max_sync_errors for this CRM
	// only when non-nil; nil means "inherit the global default".
	MaxSyncErrors *int
}

type entry struct {
	adapter etlify.Adapter
	options Options
}

// Registry maps CRM name to its adapter and options. The zero value is
// ready to use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register binds name to adapterInstance and options, replacing any
// existing entry for the same (normalized) name. adapterInstance must be
// non-nil -- the contract requires an instance, not a type.
func (r *Registry) Register(name string, adapterInstance etlify.Adapter, options Options) error {
	if adapterInstance == nil {
		return fmt.Errorf("registry: adapter for CRM %q must be a non-nil instance", name)
	}

	normalized := normalize(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries == nil {
		r.entries = make(map[string]entry)
	}

	// defensive copy so later mutation of the caller's Options doesn't
	// leak into the registry.
	optsCopy := options
	if options.MaxSyncErrors != nil {
		v := *options.MaxSyncErrors
		optsCopy.MaxSyncErrors = &v
	}

	r.entries[normalized] = entry{adapter: adapterInstance, options: optsCopy}

	return nil
}

// Fetch returns the adapter and options registered for name.
func (r *Registry) Fetch(name string) (etlify.Adapter, Options, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[normalize(name)]
	if !ok {
		return nil, Options{}, fmt.Errorf("registry: no CRM registered under name %q", name)
	}

	return e.adapter, e.options, nil
}

// Names returns the registered CRM names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
