// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query implements the delta query engine (spec.md §4.5): a
// DeltaFilter whose indexed fields combine conjunctively (disjunctively
// within a field), narrowed through internal/index's candidate planner
// when possible, with residue filters (explicit ids, predicate, negation
// exclusion) applied after deltas are loaded.
package query

import (
	"context"
	"time"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/index"
	"github.com/rhizomedb/rhizomedb/internal/negation"
	"github.com/rhizomedb/rhizomedb/internal/storage"
)

// TimestampRange bounds a query by delta timestamp, inclusive on both ends
// when set.
type TimestampRange struct {
	From *int64
	To   *int64
}

// DeltaFilter is the query engine's input, per spec.md §4.5.
type DeltaFilter struct {
	IDs            []string
	Authors        []string
	Systems        []string
	TargetIDs      []string
	TargetContexts []string
	TimestampRange *TimestampRange
	IncludeNegated bool
	Predicate      func(delta.Delta) bool
}

func (f DeltaFilter) indexFilter() index.Filter {
	var ts *index.TimestampRange
	if f.TimestampRange != nil {
		ts = &index.TimestampRange{From: f.TimestampRange.From, To: f.TimestampRange.To}
	}
	return index.Filter{
		Authors:        f.Authors,
		Systems:        f.Systems,
		TargetIDs:      f.TargetIDs,
		TargetContexts: f.TargetContexts,
		Timestamps:     ts,
	}
}

func (f DeltaFilter) storageFilter() *storage.Filter {
	return &storage.Filter{
		Authors:        f.Authors,
		Systems:        f.Systems,
		TargetIDs:      f.TargetIDs,
		TargetContexts: f.TargetContexts,
		TimestampFrom:  timestampFromOf(f.TimestampRange),
		TimestampTo:    timestampToOf(f.TimestampRange),
	}
}

// Matches reports whether d satisfies f's structural fields (ids,
// authors, systems, timestamp range, target ids/contexts, predicate),
// without consulting any index or negation state. This is the same
// matcher the subscription hub uses to test a freshly-written delta
// against each subscription's filter (spec.md §4.9: "the subscription's
// matcher replicates §4.5 filter logic, minus index lookups").
func (f DeltaFilter) Matches(d delta.Delta) bool {
	sf := storage.Filter{
		IDs: f.IDs, Authors: f.Authors, Systems: f.Systems,
		TargetIDs: f.TargetIDs, TargetContexts: f.TargetContexts,
		TimestampFrom: timestampFromOf(f.TimestampRange),
		TimestampTo:   timestampToOf(f.TimestampRange),
	}
	if !sf.Matches(d) {
		return false
	}
	if f.Predicate != nil && !f.Predicate(d) {
		return false
	}
	return true
}

func timestampFromOf(r *TimestampRange) *int64 {
	if r == nil {
		return nil
	}
	return r.From
}

func timestampToOf(r *TimestampRange) *int64 {
	if r == nil {
		return nil
	}
	return r.To
}

// Engine evaluates DeltaFilter queries against a storage.Adapter, using an
// index.Set to plan candidate sets and internal/negation to exclude
// negated deltas by default.
type Engine struct {
	Storage storage.Adapter
	Index   *index.Set
	// Clock returns "now" for as_of_ts = now negation exclusion. Defaults
	// to the wall clock; tests may override for determinism.
	Clock func() int64
}

// New returns an Engine over adapter and idx, using the wall clock.
func New(adapter storage.Adapter, idx *index.Set) *Engine {
	return &Engine{Storage: adapter, Index: idx, Clock: func() int64 { return time.Now().UnixMilli() }}
}

// Query evaluates filter and returns the matching deltas. Result order
// follows the adapter's Scan order when a full scan is used, and
// MultiGet's storage-defined order otherwise; spec.md leaves order
// unspecified unless the caller sorts.
func (e *Engine) Query(ctx context.Context, filter DeltaFilter) ([]delta.Delta, error) {
	candidateIDs, ok := e.Index.CandidateIDs(ctx, filter.indexFilter())

	var deltas []delta.Delta
	if ok {
		loaded, err := e.Storage.MultiGet(ctx, candidateIDs)
		if err != nil {
			return nil, err
		}
		deltas = loaded
	} else {
		scanned, err := e.scanAll(ctx, filter.storageFilter())
		if err != nil {
			return nil, err
		}
		deltas = scanned
	}

	if len(filter.IDs) > 0 {
		deltas = filterByIDs(deltas, filter.IDs)
	}
	if filter.Predicate != nil {
		deltas = filterByPredicate(deltas, filter.Predicate)
	}
	if !filter.IncludeNegated {
		deltas, err := e.excludeNegated(ctx, deltas)
		if err != nil {
			return nil, err
		}
		return deltas, nil
	}
	return deltas, nil
}

func (e *Engine) excludeNegated(ctx context.Context, deltas []delta.Delta) ([]delta.Delta, error) {
	log, err := e.scanAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	now := e.Clock()
	negated := negation.EffectiveSet(log, &now)

	out := make([]delta.Delta, 0, len(deltas))
	for _, d := range deltas {
		if !negated[d.ID] {
			out = append(out, d)
		}
	}
	return out, nil
}

// scanAll pages through the adapter's full Scan, applying filter at the
// storage layer, until the cursor is exhausted.
func (e *Engine) scanAll(ctx context.Context, filter *storage.Filter) ([]delta.Delta, error) {
	var out []delta.Delta
	cursor := storage.Cursor{}
	for {
		res, err := e.Storage.Scan(ctx, filter, cursor, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, res.Deltas...)
		if res.Next.String() == "" {
			break
		}
		cursor = res.Next
	}
	return out, nil
}

func filterByIDs(deltas []delta.Delta, ids []string) []delta.Delta {
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	out := make([]delta.Delta, 0, len(deltas))
	for _, d := range deltas {
		if _, ok := allowed[d.ID]; ok {
			out = append(out, d)
		}
	}
	return out
}

func filterByPredicate(deltas []delta.Delta, pred func(delta.Delta) bool) []delta.Delta {
	out := make([]delta.Delta, 0, len(deltas))
	for _, d := range deltas {
		if pred(d) {
			out = append(out, d)
		}
	}
	return out
}
