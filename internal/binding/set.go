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

package binding

import (
	"fmt"
	"sort"
	"sync"
)

// Set holds every registered Binding, keyed by (model, CRM). It is
// write-once-at-init / read-many under load, matching the Registry's
// concurrency contract the Registry follows: safe for concurrent reads once
// populated at startup.
type Set struct {
	mu       sync.RWMutex
	bindings map[Key]Binding
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{bindings: make(map[Key]Binding)}
}

// Register declares the binding for (modelName, crmName), replacing any
// prior declaration for the same pair.
//
// STI note: if modelName identifies a single-table-inheritance subclass,
// callers must register it independently -- a Set never derives one
// model's binding from another's -- a subclass only participates once it
// independently declares its own binding.
func (s *Set) Register(modelName, crmName string, b Binding) {
	b.ModelName = modelName
	b.CRMName = crmName

	key := normalizedKey(modelName, crmName)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bindings == nil {
		s.bindings = make(map[Key]Binding)
	}

	s.bindings[key] = b
}

// Get returns the binding for (modelName, crmName).
func (s *Set) Get(modelName, crmName string) (Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bindings[normalizedKey(modelName, crmName)]
	return b, ok
}

// MustGet is Get but returns a misconfiguration error instead of a bool,
// a missing binding is a misconfiguration raised synchronously to the
// caller, never retried.
func (s *Set) MustGet(modelName, crmName string) (Binding, error) {
	b, ok := s.Get(modelName, crmName)
	if !ok {
		return Binding{}, fmt.Errorf("binding: no binding registered for model %q and CRM %q", modelName, crmName)
	}
	return b, nil
}

// Pairs returns every registered (model, CRM) key, sorted for determinism.
func (s *Set) Pairs() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0, len(s.bindings))
	for k := range s.bindings {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ModelName != keys[j].ModelName {
			return keys[i].ModelName < keys[j].ModelName
		}
		return keys[i].CRMName < keys[j].CRMName
	})

	return keys
}

// ModelsForCRM returns the sorted list of model names bound to crmName.
func (s *Set) ModelsForCRM(crmName string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var models []string
	for k := range s.bindings {
		if k.CRMName == normalizedKey("", crmName).CRMName {
			models = append(models, k.ModelName)
		}
	}
	sort.Strings(models)

	return models
}
