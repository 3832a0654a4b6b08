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

// Package etlify is the public API of the synchronization engine: it
// synchronizes records held in an application's own relational store into
// one or more external CRM back-ends, with digest-based idempotence,
// per-record locking, dependency ordering and bounded retry.
//
// Embedding applications implement Serializer and Adapter, declare
// Bindings and register CRMs; everything else (locking, digesting,
// dependency resolution, staleness discovery, job dispatch) is provided
// by the internal packages this package fronts.
package etlify

import "fmt"

// RecordRef identifies a single local record by its model's resource
// type name and its primary key.
type RecordRef struct {
	ResourceType string
	ResourceID   int64
}

func (r RecordRef) String() string {
	return fmt.Sprintf("%s/%d", r.ResourceType, r.ResourceID)
}

// Record is the minimal surface the engine needs from a local domain
// object: its identity. Embedding applications typically satisfy this
// with their existing model structs.
type Record interface {
	SyncRef() RecordRef
}
