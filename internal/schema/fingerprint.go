// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type canonicalRule struct {
	LocalContext string `json:"local_context"`
	SchemaID     string `json:"schema_id"`
	PredicateTag string `json:"predicate_tag,omitempty"`
}

type canonicalSchema struct {
	SelectorKind SelectorKind    `json:"selector_kind"`
	SelectorTag  string          `json:"selector_tag,omitempty"`
	Rules        []canonicalRule `json:"rules"`
}

// Fingerprint computes a stable content hash over s's selector identity
// and transformation rules, deterministic and independent of map
// iteration order (spec.md §4.7, §4.11).
func Fingerprint(s HyperSchema) string {
	rules := make([]canonicalRule, 0, len(s.Transform))
	for localContext, rule := range s.Transform {
		rules = append(rules, canonicalRule{
			LocalContext: localContext,
			SchemaID:     rule.SchemaID,
			PredicateTag: rule.PredicateTag,
		})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].LocalContext < rules[j].LocalContext })

	canonical := canonicalSchema{
		SelectorKind: s.Selector.Kind,
		SelectorTag:  s.Selector.Tag,
		Rules:        rules,
	}

	// json.Marshal is deterministic for this shape: struct fields in
	// declaration order, and Rules is already sorted above.
	payload, err := json.Marshal(canonical)
	if err != nil {
		// canonicalSchema contains no cyclic or unsupported types; a
		// marshal failure here would be a programming error, not a
		// runtime condition callers can act on.
		panic("schema: fingerprint encoding failed: " + err.Error())
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
