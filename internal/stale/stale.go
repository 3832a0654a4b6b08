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

// Package stale builds and runs the query that finds records whose CRM
// mirror is behind: no SyncState row yet, or last_synced_at older than
// the record's own (and its dependencies') updated_at. There is no
// ActiveRecord-style lazy relation to lean on here, so the Finder builds
// parameterized SQL text once per (model, CRM) binding and caches it --
// bindings are immutable after registration, so the query never changes
// underneath a cached plan.
package stale

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/etlify/etlify-go/internal/binding"
)

// DefaultMaxSyncErrors excludes a record once its error_count reaches
// this many consecutive failures, unless the CRM's registry options or the
// global setting override it.
const DefaultMaxSyncErrors = 5

// Finder builds and executes the stale-id query for one (model, CRM)
// binding against a Postgres-family pool.
type Finder struct {
	Pool *pgxpool.Pool

	mu    sync.Mutex
	cache map[binding.Key]string
}

// New returns a Finder backed by pool.
func New(pool *pgxpool.Pool) *Finder {
	return &Finder{Pool: pool, cache: make(map[binding.Key]string)}
}

// Build returns the parameterized SQL for b, generating and caching it on
// first use. maxSyncErrors is the error_count ceiling to apply; callers
// resolve the per-CRM-or-global default before calling Build.
func (f *Finder) Build(b binding.Binding, maxSyncErrors int) (string, []any) {
	key := binding.Key{ModelName: b.ModelName, CRMName: b.CRMName}

	f.mu.Lock()
	cached, ok := f.cache[key]
	f.mu.Unlock()

	if ok {
		return cached, buildArgs(b, maxSyncErrors)
	}

	sql := buildQuery(b)

	f.mu.Lock()
	f.cache[key] = sql
	f.mu.Unlock()

	return sql, buildArgs(b, maxSyncErrors)
}

func buildArgs(b binding.Binding, maxSyncErrors int) []any {
	args := []any{b.CRMName, maxSyncErrors}
	if b.StaleScope != nil {
		args = append(args, b.StaleScope.Args...)
	}
	return args
}

// IDs executes the built query and streams the resulting ids, one batch
// of size batchSize at a time, via fn. fn returning an error stops the
// scan and IDs returns that error.
func (f *Finder) IDs(ctx context.Context, b binding.Binding, maxSyncErrors, batchSize int, fn func(ids []int64) error) error {
	sql, args := f.Build(b, maxSyncErrors)

	rows, err := f.Pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("stale: query %s/%s: %w", b.ModelName, b.CRMName, err)
	}
	defer rows.Close()

	batch := make([]int64, 0, batchSize)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("stale: scan %s/%s: %w", b.ModelName, b.CRMName, err)
		}
		batch = append(batch, id)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("stale: rows %s/%s: %w", b.ModelName, b.CRMName, err)
	}
	if len(batch) > 0 {
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

const epochLiteral = "TIMESTAMP '1970-01-01 00:00:00'"

func buildQuery(b binding.Binding) string {
	table := b.EffectiveTableName()
	alias := "t"

	thresholds := []string{fmt.Sprintf("%s.updated_at", alias)}
	var joins []string
	for i, assoc := range b.Dependencies {
		expr, join := associationExpr(assoc, alias, fmt.Sprintf("dep%d", i))
		thresholds = append(thresholds, expr)
		if join != "" {
			joins = append(joins, join)
		}
	}

	var threshold string
	if len(thresholds) == 1 {
		threshold = fmt.Sprintf("COALESCE(%s, %s)", thresholds[0], epochLiteral)
	} else {
		wrapped := make([]string, len(thresholds))
		for i, t := range thresholds {
			wrapped[i] = fmt.Sprintf("COALESCE(%s, %s)", t, epochLiteral)
		}
		threshold = fmt.Sprintf("GREATEST(%s)", strings.Join(wrapped, ", "))
	}

	var b2 strings.Builder
	fmt.Fprintf(&b2, "SELECT %s.id AS id\n", alias)
	fmt.Fprintf(&b2, "FROM %s %s\n", table, alias)
	for _, j := range joins {
		b2.WriteString(j)
		b2.WriteString("\n")
	}
	fmt.Fprintf(&b2, "LEFT JOIN crm_synchronisations sync_state\n")
	fmt.Fprintf(&b2, "  ON sync_state.resource_type = %s AND sync_state.resource_id = %s.id AND sync_state.crm_name = $1\n", quoteLiteral(b.ModelName), alias)
	b2.WriteString("WHERE (\n")
	fmt.Fprintf(&b2, "  sync_state.resource_id IS NULL\n")
	fmt.Fprintf(&b2, "  OR COALESCE(sync_state.last_synced_at, %s) < %s\n", epochLiteral, threshold)
	b2.WriteString(")\n")
	b2.WriteString("AND (sync_state.resource_id IS NULL OR sync_state.error_count < $2)\n")
	if b.StaleScope != nil {
		fmt.Fprintf(&b2, "AND (%s)\n", b.StaleScope.SQL)
	}
	fmt.Fprintf(&b2, "ORDER BY %s.id ASC", alias)

	return b2.String()
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// associationExpr returns the threshold expression and an optional JOIN
// clause for assoc, correlated against the owner alias ownerAlias. depAlias
// is a unique alias for this dependency's own subquery/join.
func associationExpr(assoc binding.Association, ownerAlias, depAlias string) (expr string, join string) {
	switch assoc.Kind {
	case binding.BelongsTo:
		if assoc.TargetTable == "" {
			return epochLiteral, ""
		}
		sub := fmt.Sprintf(
			"(SELECT %s.updated_at FROM %s %s WHERE %s.%s = %s.%s)",
			depAlias, assoc.TargetTable, depAlias,
			depAlias, assoc.targetKeyOrDefault(), ownerAlias, assoc.ForeignKey,
		)
		return sub, ""

	case binding.HasOne, binding.HasMany:
		if assoc.TargetTable == "" {
			return epochLiteral, ""
		}
		predicate := fmt.Sprintf("%s.%s = %s.%s", depAlias, assoc.ForeignKey, ownerAlias, assoc.ownerKeyOrDefault())
		if assoc.PolymorphicTypeColumn != "" {
			predicate += fmt.Sprintf(" AND %s.%s = %s", depAlias, assoc.PolymorphicTypeColumn, quoteLiteral(assoc.PolymorphicTypeValue))
		}
		sub := fmt.Sprintf(
			"(SELECT MAX(%s.updated_at) FROM %s %s WHERE %s)",
			depAlias, assoc.TargetTable, depAlias, predicate,
		)
		return sub, ""

	case binding.HasManyThrough:
		if assoc.TargetTable == "" || assoc.Through == "" {
			return epochLiteral, ""
		}
		throughAlias := depAlias + "_thr"
		predicate := fmt.Sprintf("%s.%s = %s.%s", throughAlias, assoc.ThroughOwnerKey, ownerAlias, assoc.ownerKeyOrDefault())
		if assoc.PolymorphicTypeColumn != "" {
			predicate += fmt.Sprintf(" AND %s.%s = %s", throughAlias, assoc.PolymorphicTypeColumn, quoteLiteral(assoc.PolymorphicTypeValue))
		}
		sub := fmt.Sprintf(
			"(SELECT MAX(%s.updated_at) FROM %s %s JOIN %s %s ON %s.%s = %s.%s WHERE %s)",
			depAlias, assoc.TargetTable, depAlias,
			assoc.Through, throughAlias,
			throughAlias, assoc.ThroughTargetKey, depAlias, assoc.targetKeyOrDefault(),
			predicate,
		)
		return sub, ""

	case binding.HasManyThroughThrough:
		if assoc.NestedThrough == nil {
			return epochLiteral, ""
		}
		return nestedThroughExpr(assoc, ownerAlias, depAlias)

	case binding.HasAndBelongsToMany:
		if assoc.TargetTable == "" || assoc.JoinTable == "" {
			return epochLiteral, ""
		}
		joinAlias := depAlias + "_join"
		sub := fmt.Sprintf(
			"(SELECT MAX(%s.updated_at) FROM %s %s JOIN %s %s ON %s.%s = %s.%s WHERE %s.%s = %s.%s)",
			depAlias, assoc.TargetTable, depAlias,
			assoc.JoinTable, joinAlias,
			joinAlias, assoc.JoinTargetKey, depAlias, assoc.targetKeyOrDefault(),
			joinAlias, assoc.JoinOwnerKey, ownerAlias, assoc.ownerKeyOrDefault(),
		)
		return sub, ""

	default: // PolymorphicBelongsTo, Unknown
		return epochLiteral, ""
	}
}

// nestedThroughExpr builds a two-hop has_many :through of :through
// subquery: the outer hop joins assoc's own Through/Target against the
// inner hop described by assoc.NestedThrough, correlated against the
// owner via the inner hop's owner key. This is the one shape the rest of
// the association table doesn't reduce to a single join, so it gets its
// own small join-plan instead of being squeezed into associationExpr's
// single-join cases.
func nestedThroughExpr(assoc binding.Association, ownerAlias, depAlias string) (string, string) {
	inner := assoc.NestedThrough
	if inner.TargetTable == "" || inner.Through == "" || assoc.TargetTable == "" || assoc.Through == "" {
		return epochLiteral, ""
	}

	innerThroughAlias := depAlias + "_inner_thr"
	outerThroughAlias := depAlias + "_outer_thr"

	sub := fmt.Sprintf(
		"(SELECT MAX(%s.updated_at) FROM %s %s "+
			"JOIN %s %s ON %s.%s = %s.%s "+
			"JOIN %s %s ON %s.%s = %s.%s "+
			"WHERE %s.%s = %s.%s)",
		depAlias, assoc.TargetTable, depAlias,
		assoc.Through, outerThroughAlias, outerThroughAlias, assoc.ThroughTargetKey, depAlias, assoc.targetKeyOrDefault(),
		inner.Through, innerThroughAlias, innerThroughAlias, inner.ThroughTargetKey, outerThroughAlias, assoc.ThroughOwnerKey,
		innerThroughAlias, inner.ThroughOwnerKey, ownerAlias, inner.ownerKeyOrDefault(),
	)
	return sub, ""
}
