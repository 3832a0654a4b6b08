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

// Package binding implements the per-(model, CRM) configuration: serializer,
// guard, dependency declarations, and adapter handle. Rather than a dynamic
// per-class DSL, bindings are declared once, up front, into a statically
// typed, immutable-after-registration Set.
package binding

import (
	"context"
	"strings"

	"github.com/gobuffalo/flect"

	"github.com/etlify/etlify-go"
)

// AssociationKind classifies how an association contributes a timestamp
// to the Stale Finder's threshold computation.
type AssociationKind int

const (
	BelongsTo AssociationKind = iota
	HasOne
	HasMany
	HasManyThrough
	HasManyThroughThrough
	HasAndBelongsToMany
	PolymorphicBelongsTo
	Unknown
)

// Association describes one edge in a model's dependency graph, in terms
// the Stale Finder can turn directly into a correlated SQL subquery. It is
// deliberately table/column-shaped rather than reflection-driven: Go has
// no ActiveRecord-style association registry to introspect, so the
// association graph is declared explicitly once, at binding time.
type Association struct {
	// Name is a human-readable identifier used only in error messages and
	// generated SQL comments.
	Name string
	Kind AssociationKind

	// TargetTable is the table the association points at ("" for
	// PolymorphicBelongsTo/Unknown, which are always treated as epoch).
	TargetTable string
	// TargetKey is the target table's primary key column; defaults to "id".
	TargetKey string
	// OwnerKey is the owning table's key the association is correlated
	// against; defaults to "id".
	OwnerKey string
	// ForeignKey is the column (on the owner's table for BelongsTo, on
	// TargetTable for HasOne/HasMany) that links the two rows.
	ForeignKey string

	// PolymorphicTypeColumn/PolymorphicTypeValue restrict a HasOne/HasMany
	// /HasManyThrough association whose target table is shared by several
	// owner kinds (the "if polymorphic-inverse, add type predicate" rule).
	PolymorphicTypeColumn string
	PolymorphicTypeValue  string

	// Through describes a one-hop has_many :through association: Through
	// is the join table, ThroughOwnerKey/ThroughTargetKey are its two
	// foreign keys.
	Through          string
	ThroughOwnerKey  string
	ThroughTargetKey string

	// NestedThrough, when non-nil, describes a has_many :through of
	// :through (two hops). Its own Through/ThroughOwnerKey/ThroughTargetKey
	// describe the second join, correlated against the first hop's result.
	NestedThrough *Association

	// JoinTable/JoinOwnerKey/JoinTargetKey describe a
	// has_and_belongs_to_many association's join table and its two keys.
	JoinTable     string
	JoinOwnerKey  string
	JoinTargetKey string
}

func (a Association) targetKeyOrDefault() string {
	if a.TargetKey == "" {
		return "id"
	}
	return a.TargetKey
}

func (a Association) ownerKeyOrDefault() string {
	if a.OwnerKey == "" {
		return "id"
	}
	return a.OwnerKey
}

// Dependency is a runtime (not SQL-level) parent lookup used by the
// Dependency Resolver and the Synchronizer's crm_dependencies /
// sync_dependencies checks. Rather than a reflection-driven association
// object, it is the explicit function Go favors: given the already-loaded
// child record, return the parent RecordRefs (usually zero or one) that
// must exist in the CRM before the child can sync.
type Dependency struct {
	// ParentResourceType identifies which model's SyncState rows this
	// dependency is checked against.
	ParentResourceType string
	// Resolve extracts the parent id(s) referenced by record. A record
	// with no parent (nil foreign key) returns an empty slice, not an
	// error.
	Resolve func(record any) ([]int64, error)

	// LegacyCRMIDLookup is an optional fallback satisfied-check: some
	// embedders stamp a "<crm_name>_id"-shaped column directly on the
	// parent's own table rather than relying solely on this engine's
	// SyncState rows (pre-existing integrations migrating onto it). When
	// set, the Dependency Resolver treats the dependency as satisfied if
	// either a SyncState row has a non-empty crm_id OR this returns a
	// non-empty id. Go has no generic "read arbitrary column by name"
	// accessor, so this is the explicit callback that stands in for it;
	// leave nil to rely on SyncState alone.
	LegacyCRMIDLookup func(parent etlify.RecordRef) (crmID string, ok bool, err error)
}

// StaleScope optionally restricts the Stale Finder's candidate set to a
// caller-provided SQL predicate, e.g. `email LIKE '%market%'`. It is
// intersected at the SQL level, never materialized in Go.
type StaleScope struct {
	// SQL is a boolean expression over the model's own table, referenced
	// by its default alias (see stale.Finder).
	SQL string
	// Args are positional parameters referenced by the SQL expression.
	Args []any
}

// Binding is the immutable-after-registration configuration for one
// (model, CRM) pair.
type Binding struct {
	ModelName string
	CRMName   string

	// TableName is the SQL table backing ModelName. When empty it is
	// derived via flect.Tableize(ModelName) (e.g. "User" -> "users").
	TableName string

	// Loader fetches the record identified by id so the Synchronizer has
	// something to hand to Serializer, Guard, and each Dependency.Resolve.
	// There is no universal "ActiveRecord.find(id)" in Go, so this is the
	// explicit substitute: a nil Loader is a misconfiguration, caught the
	// first time the binding is used.
	Loader func(ctx context.Context, id int64) (any, error)

	Serializer    etlify.Serializer
	CRMObjectType string
	IDProperty    string

	// Guard is sync_if: when it returns false the attempt short-circuits
	// as Skipped. A nil Guard always allows the sync.
	Guard func(record any) bool

	// Dependencies feed the Stale Finder's threshold propagation.
	Dependencies []Association

	// CRMDependencies are checked before the per-record lock is acquired
	// (an unsatisfied one yields Deferred).
	CRMDependencies []Dependency

	// SyncDependencies are checked after the lock is acquired, subject to
	// cycle detection (an unsatisfied one yields Buffered).
	SyncDependencies []Dependency

	StaleScope *StaleScope

	// JobClass names an alternate job handler for this binding; the
	// engine ships one handler and treats this as informational.
	JobClass string
}

// EffectiveTableName returns TableName, or its flect-derived default.
func (b Binding) EffectiveTableName() string {
	if b.TableName != "" {
		return b.TableName
	}
	return flect.Tableize(b.ModelName)
}

// Key identifies one (model, CRM) binding.
type Key struct {
	ModelName string
	CRMName   string
}

func normalizedKey(modelName, crmName string) Key {
	return Key{
		ModelName: modelName,
		CRMName:   strings.ToLower(strings.TrimSpace(crmName)),
	}
}
