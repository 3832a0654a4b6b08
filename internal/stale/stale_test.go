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

package stale

import (
	"strings"
	"testing"

	"github.com/etlify/etlify-go/internal/binding"
)

func TestBuildQueryNoAssociationsUsesOwnUpdatedAt(t *testing.T) {
	b := binding.Binding{ModelName: "User", CRMName: "hubspot"}

	sql := buildQuery(b)

	if !strings.Contains(sql, "FROM users t") {
		t.Fatalf("expected flect-derived table name \"users\", got: %s", sql)
	}
	if !strings.Contains(sql, "COALESCE(t.updated_at,") {
		t.Fatalf("expected threshold to reference the owner's own updated_at, got: %s", sql)
	}
	if strings.Contains(sql, "GREATEST(") {
		t.Fatalf("expected no GREATEST() with zero dependency associations, got: %s", sql)
	}
	if !strings.Contains(sql, "sync_state.error_count < $2") {
		t.Fatalf("expected error_count exclusion clause, got: %s", sql)
	}
}

func TestBuildQueryBelongsToAddsScalarSubquery(t *testing.T) {
	b := binding.Binding{
		ModelName: "Contact",
		CRMName:   "hubspot",
		Dependencies: []binding.Association{
			{
				Kind:        binding.BelongsTo,
				TargetTable: "accounts",
				ForeignKey:  "account_id",
			},
		},
	}

	sql := buildQuery(b)

	if !strings.Contains(sql, "GREATEST(") {
		t.Fatalf("expected GREATEST() once a dependency association is present, got: %s", sql)
	}
	if !strings.Contains(sql, "FROM accounts dep0") {
		t.Fatalf("expected correlated subquery against accounts, got: %s", sql)
	}
	if !strings.Contains(sql, "dep0.id = t.account_id") {
		t.Fatalf("expected belongs_to correlation on the owner's foreign key, got: %s", sql)
	}
}

func TestBuildQueryHasManyAddsMaxSubquery(t *testing.T) {
	b := binding.Binding{
		ModelName: "Account",
		CRMName:   "hubspot",
		Dependencies: []binding.Association{
			{
				Kind:        binding.HasMany,
				TargetTable: "contacts",
				ForeignKey:  "account_id",
			},
		},
	}

	sql := buildQuery(b)

	if !strings.Contains(sql, "MAX(dep0.updated_at)") {
		t.Fatalf("expected a MAX() subquery for has_many, got: %s", sql)
	}
	if !strings.Contains(sql, "dep0.account_id = t.id") {
		t.Fatalf("expected has_many correlation on the owner's primary key, got: %s", sql)
	}
}

func TestBuildQueryPolymorphicBelongsToIsEpoch(t *testing.T) {
	b := binding.Binding{
		ModelName: "Comment",
		CRMName:   "hubspot",
		Dependencies: []binding.Association{
			{Kind: binding.PolymorphicBelongsTo},
		},
	}

	sql := buildQuery(b)

	if strings.Count(sql, epochLiteral) < 2 {
		t.Fatalf("expected the polymorphic belongs_to to fall back to the epoch literal, got: %s", sql)
	}
}

func TestBuildQueryStaleScopeIntersectsAtSQLLevel(t *testing.T) {
	b := binding.Binding{
		ModelName: "User",
		CRMName:   "hubspot",
		StaleScope: &binding.StaleScope{
			SQL:  "t.email LIKE $3",
			Args: []any{"%@example.com"},
		},
	}

	sql, args := New(nil).Build(b, DefaultMaxSyncErrors)

	if !strings.Contains(sql, "AND (t.email LIKE $3)") {
		t.Fatalf("expected stale_scope predicate appended, got: %s", sql)
	}
	if len(args) != 3 || args[2] != "%@example.com" {
		t.Fatalf("expected stale_scope args appended after crm_name/max_sync_errors, got: %v", args)
	}
}

// TestS4_StaleScope: with stale_scope restricting the candidate set to
// records matching an email pattern, the generated query intersects that
// predicate (rather than OR-ing it) with both the staleness threshold and
// the error_count ceiling, so of two otherwise-stale records only the one
// matching stale_scope is ever selected.
func TestS4_StaleScope(t *testing.T) {
	b := binding.Binding{
		ModelName: "User",
		CRMName:   "hubspot",
		StaleScope: &binding.StaleScope{
			SQL:  "t.email LIKE $3",
			Args: []any{"%market%"},
		},
	}

	sql, args := New(nil).Build(b, 5)

	if !strings.Contains(sql, "AND (t.email LIKE $3)") {
		t.Fatalf("expected stale_scope ANDed onto the staleness/error_count predicate, got: %s", sql)
	}
	if !strings.Contains(sql, "error_count < $2") {
		t.Fatalf("expected the error_count ceiling to still apply alongside stale_scope, got: %s", sql)
	}
	if len(args) != 3 || args[0] != "hubspot" || args[1] != 5 || args[2] != "%market%" {
		t.Fatalf("expected args (crm_name, max_sync_errors, scope args...), got: %v", args)
	}
}

func TestBuildCachesGeneratedSQLPerBinding(t *testing.T) {
	b := binding.Binding{ModelName: "User", CRMName: "hubspot"}
	f := New(nil)

	first, _ := f.Build(b, DefaultMaxSyncErrors)
	second, _ := f.Build(b, DefaultMaxSyncErrors)

	if first != second {
		t.Fatalf("expected identical cached SQL across calls")
	}
	if len(f.cache) != 1 {
		t.Fatalf("expected exactly one cached entry, got %d", len(f.cache))
	}
}

func TestBuildQuerySTIIndependentBindingDoesNotInheritTableName(t *testing.T) {
	parent := binding.Binding{ModelName: "Vehicle", CRMName: "hubspot"}
	child := binding.Binding{ModelName: "Car", CRMName: "hubspot", TableName: "vehicles"}

	parentSQL := buildQuery(parent)
	childSQL := buildQuery(child)

	if !strings.Contains(parentSQL, "FROM vehicles t") {
		t.Fatalf("expected parent to use its own flect-derived table, got: %s", parentSQL)
	}
	if !strings.Contains(childSQL, "FROM vehicles t") {
		t.Fatalf("expected STI child to use its explicitly declared table override, got: %s", childSQL)
	}
	if !strings.Contains(childSQL, "'Car'") {
		t.Fatalf("expected STI child's resource_type literal to be its own model name, not its parent's, got: %s", childSQL)
	}
}
