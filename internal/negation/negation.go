// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package negation computes the effective negation status of deltas in a
// log, per spec.md §4.4: a delta is negated iff an odd number of its
// incoming negators are themselves un-negated (double-negation re-asserts
// the original).
package negation

import "github.com/rhizomedb/rhizomedb/internal/delta"

// maxIterations bounds the fixed-point loop against pathological negation
// chains (spec.md §4.4 step 3).
const maxIterations = 100

// EffectiveSet computes the set of delta ids whose effective status is
// "negated" within log, restricted to timestamp ≤ asOfTs when asOfTs is
// non-nil.
func EffectiveSet(log []delta.Delta, asOfTs *int64) map[string]bool {
	restricted := log
	if asOfTs != nil {
		restricted = make([]delta.Delta, 0, len(log))
		for _, d := range log {
			if d.Timestamp <= *asOfTs {
				restricted = append(restricted, d)
			}
		}
	}

	incoming := make(map[string][]string) // target id -> negating delta ids
	for _, d := range restricted {
		for _, p := range d.Pointers {
			if p.LocalContext == delta.LocalContextNegates && p.Target.IsEntity() {
				incoming[p.Target.EntityID] = append(incoming[p.Target.EntityID], d.ID)
			}
		}
	}

	negated := make(map[string]bool, len(incoming))

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for id, negators := range incoming {
			unnegatedCount := 0
			for _, negatorID := range negators {
				if !negated[negatorID] {
					unnegatedCount++
				}
			}
			next := unnegatedCount%2 == 1
			if negated[id] != next {
				negated[id] = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	out := make(map[string]bool)
	for id, isNegated := range negated {
		if isNegated {
			out[id] = true
		}
	}
	return out
}

// IsNegated reports whether id is in the effective negation set.
func IsNegated(log []delta.Delta, asOfTs *int64, id string) bool {
	return EffectiveSet(log, asOfTs)[id]
}
