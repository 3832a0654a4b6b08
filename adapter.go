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

package etlify

import "context"

// Adapter is the wire contract the Synchronizer drives against one CRM.
//
// Upsert finds-or-creates the remote object for payload. If idProperty is
// non-empty and payload carries a value for it, implementations MUST
// first attempt a lookup by that property; on a hit they patch the
// existing remote record, on a miss they create one. The idProperty value
// MUST remain present on the created/patched remote record even if the
// implementation strips it before issuing the lookup query.
//
// Delete removes the remote object identified by crmID. It returns
// (true, nil) on a 2xx response, (false, nil) when the remote object is
// already gone (404), and a non-nil error for anything else.
type Adapter interface {
	Upsert(ctx context.Context, payload map[string]any, idProperty, objectType string) (crmID string, err error)
	Delete(ctx context.Context, crmID, objectType string) (bool, error)
}
