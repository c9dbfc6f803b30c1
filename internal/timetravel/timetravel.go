// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timetravel is a thin façade (spec.md §4.10) over
// internal/negation and internal/hyperview: entity history, replay, and
// point-in-time comparison, all expressed in terms of an in-memory delta
// log slice handed in by the caller (the engine façade is expected to
// supply the full log, or a query-engine-scanned subset).
package timetravel

import (
	"sort"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/hyperview"
	"github.com/rhizomedb/rhizomedb/internal/negation"
	"github.com/rhizomedb/rhizomedb/internal/schema"
)

// Snapshot summarizes the log's state at a point in time.
type Snapshot struct {
	Timestamp    int64
	DeltaCount   int
	NegatedCount int
}

// Comparison describes how an entity's projection differs between two
// timestamps.
type Comparison struct {
	PropertyNames []string // union of properties present at either timestamp
	DeltaCountAt1 int
	DeltaCountAt2 int
	DeltaCountDelta int
}

// QueryAt projects entityID under s as of ts, per spec.md's
// query_at(entity, schema, ts).
func QueryAt(entityID string, s schema.HyperSchema, log []delta.Delta, registry hyperview.Registry, ts int64) (*hyperview.View, error) {
	return hyperview.Project(entityID, s, log, registry, ts)
}

// TakeSnapshot counts deltas at or before ts and the ids effectively
// negated as of ts.
func TakeSnapshot(log []delta.Delta, ts int64) Snapshot {
	count := 0
	for _, d := range log {
		if d.Timestamp <= ts {
			count++
		}
	}
	negated := negation.EffectiveSet(log, &ts)
	return Snapshot{Timestamp: ts, DeltaCount: count, NegatedCount: len(negated)}
}

// Timeline returns the sorted, distinct timestamps of deltas whose
// pointers reference entityID (as a target, including the entity itself
// appearing as a delta's implicit subject via its pointers).
func Timeline(entityID string, log []delta.Delta) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, d := range log {
		if !referencesEntity(d, entityID) {
			continue
		}
		if !seen[d.Timestamp] {
			seen[d.Timestamp] = true
			out = append(out, d.Timestamp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func referencesEntity(d delta.Delta, entityID string) bool {
	for _, p := range d.Pointers {
		if p.Target.IsEntity() && p.Target.EntityID == entityID {
			return true
		}
	}
	return false
}

// Replay samples entityID's timeline between from and to inclusive,
// evenly striding down to at most maxSnapshots samples when the
// timeline is longer, and projects entityID under s at each sampled
// timestamp.
func Replay(entityID string, s schema.HyperSchema, log []delta.Delta, registry hyperview.Registry, from, to int64, maxSnapshots int) ([]*hyperview.View, error) {
	var inRange []int64
	for _, ts := range Timeline(entityID, log) {
		if ts >= from && ts <= to {
			inRange = append(inRange, ts)
		}
	}

	samples := sampleStride(inRange, maxSnapshots)

	views := make([]*hyperview.View, 0, len(samples))
	for _, ts := range samples {
		view, err := hyperview.Project(entityID, s, log, registry, ts)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// sampleStride returns at most max evenly-spaced elements of sorted,
// preserving the first and last element when max >= 2.
func sampleStride(sorted []int64, max int) []int64 {
	if max <= 0 || len(sorted) <= max {
		return sorted
	}
	if max == 1 {
		return sorted[len(sorted)-1:]
	}

	out := make([]int64, 0, max)
	stride := float64(len(sorted)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(float64(i) * stride)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		out = append(out, sorted[idx])
	}
	return out
}

// TrackChanges returns the deltas for entityID whose target_context
// equals property, sorted by timestamp.
func TrackChanges(entityID, property string, log []delta.Delta) []delta.Delta {
	var out []delta.Delta
	for _, d := range log {
		for _, p := range d.Pointers {
			if p.Target.IsEntity() && p.Target.EntityID == entityID && p.TargetContext != nil && *p.TargetContext == property {
				out = append(out, d)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// Compare projects entityID under s at t1 and t2 and summarizes the
// difference: the union of property names present in either projection,
// and the change in delta count.
func Compare(entityID string, s schema.HyperSchema, log []delta.Delta, registry hyperview.Registry, t1, t2 int64) (*Comparison, error) {
	v1, err := hyperview.Project(entityID, s, log, registry, t1)
	if err != nil {
		return nil, err
	}
	v2, err := hyperview.Project(entityID, s, log, registry, t2)
	if err != nil {
		return nil, err
	}

	names := make(map[string]bool)
	count1, count2 := 0, 0
	for prop, deltas := range v1.Properties {
		names[prop] = true
		count1 += len(deltas)
	}
	for prop, deltas := range v2.Properties {
		names[prop] = true
		count2 += len(deltas)
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	return &Comparison{
		PropertyNames: sorted, DeltaCountAt1: count1, DeltaCountAt2: count2,
		DeltaCountDelta: count2 - count1,
	}, nil
}

// Origin returns the earliest-timestamp delta referencing entityID, or
// false if none exists.
func Origin(entityID string, log []delta.Delta) (delta.Delta, bool) {
	var (
		earliest delta.Delta
		found    bool
	)
	for _, d := range log {
		if !referencesEntity(d, entityID) {
			continue
		}
		if !found || d.Timestamp < earliest.Timestamp {
			earliest = d
			found = true
		}
	}
	return earliest, found
}
