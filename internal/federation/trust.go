// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package federation

import "github.com/rhizomedb/rhizomedb/internal/delta"

// TrustPredicate is a host-supplied verification clause.
type TrustPredicate func(delta.Delta) bool

// TrustPolicy gates whether a received delta is accepted from a link.
// Every present clause must pass; clauses combine conjunctively
// (spec.md §4.12: "Verification applies each present clause
// conjunctively").
type TrustPolicy struct {
	TrustedAuthors []string
	TrustedSystems []string
	Predicate      TrustPredicate
}

// Verify reports whether d satisfies every clause p carries. A policy
// with no clauses accepts everything.
func (p TrustPolicy) Verify(d delta.Delta) bool {
	if len(p.TrustedAuthors) > 0 && !containsStr(p.TrustedAuthors, d.Author) {
		return false
	}
	if len(p.TrustedSystems) > 0 && !containsStr(p.TrustedSystems, d.System) {
		return false
	}
	if p.Predicate != nil && !p.Predicate(d) {
		return false
	}
	return true
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
