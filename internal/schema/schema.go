// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema defines HyperSchema — the selector + transformation-rule
// description a HyperView projection runs against — and a Registry that
// stores schemas by id, optionally validating the transformation graph as
// a DAG (internal/hyperview depends on this package for projection).
package schema

import "github.com/rhizomedb/rhizomedb/internal/delta"

// Decision is a selector's verdict for a given (entity_id, delta) pair.
type Decision int

const (
	// Exclude omits the delta from the projection entirely.
	Exclude Decision = iota
	// IncludeDefault places the delta under the "_default" property.
	IncludeDefault
	// IncludeAs places the delta under each named property.
	IncludeAs
)

// DefaultProperty is the property name used for IncludeDefault decisions.
const DefaultProperty = "_default"

// SelectorResult is a selector's output for one delta.
type SelectorResult struct {
	Decision   Decision
	Properties []string // populated when Decision == IncludeAs
}

// SelectorKind distinguishes the selector sum type described in DESIGN.md:
// the common "select by target context" case is inlined as the zero value
// so schemas needn't construct it explicitly.
type SelectorKind int

const (
	// SelectorByTargetContext is the standard selector (spec.md §4.6):
	// includes any delta whose pointers target entity_id with a
	// target_context, placing it under every named target_context.
	SelectorByTargetContext SelectorKind = iota
	// SelectorByPredicate runs an arbitrary host function.
	SelectorByPredicate
)

// PredicateFunc is a selector's decision function for SelectorByPredicate.
type PredicateFunc func(entityID string, d delta.Delta) SelectorResult

// Selector is the sum type backing HyperSchema.Selector. Tag is a stable
// identity string for fingerprinting when Kind is SelectorByPredicate,
// since a closure cannot otherwise be hashed deterministically.
type Selector struct {
	Kind      SelectorKind
	Tag       string
	Predicate PredicateFunc
}

// StandardSelector returns the "select by target context" selector.
func StandardSelector() Selector {
	return Selector{Kind: SelectorByTargetContext}
}

// ByPredicate returns a selector running fn, identified by tag for
// fingerprinting purposes.
func ByPredicate(tag string, fn PredicateFunc) Selector {
	return Selector{Kind: SelectorByPredicate, Tag: tag, Predicate: fn}
}

// Evaluate runs the selector against (entityID, d).
func (s Selector) Evaluate(entityID string, d delta.Delta) SelectorResult {
	if s.Kind == SelectorByPredicate && s.Predicate != nil {
		return s.Predicate(entityID, d)
	}
	return evaluateStandard(entityID, d)
}

func evaluateStandard(entityID string, d delta.Delta) SelectorResult {
	var props []string
	for _, p := range d.Pointers {
		if p.Target.IsEntity() && p.Target.EntityID == entityID && p.TargetContext != nil {
			props = append(props, *p.TargetContext)
		}
	}
	if len(props) == 0 {
		return SelectorResult{Decision: Exclude}
	}
	return SelectorResult{Decision: IncludeAs, Properties: props}
}

// TransformPredicate gates whether a TransformRule applies to a given
// pointer. Tag identifies it for fingerprinting, same rationale as
// Selector.Tag.
type TransformPredicate func(p delta.Pointer, d delta.Delta) bool

// TransformRule names the schema a pointer's EntityReference target should
// be recursively projected under, when its gating predicate (if any)
// passes.
type TransformRule struct {
	SchemaID     string
	PredicateTag string
	Predicate    TransformPredicate
}

// Passes reports whether the rule applies to pointer p of delta d.
func (r TransformRule) Passes(p delta.Pointer, d delta.Delta) bool {
	if r.Predicate == nil {
		return true
	}
	return r.Predicate(p, d)
}

// Primitive is a sentinel schema id for terminal, non-projecting
// transformation targets (spec.md §4.6: "primitive-typed rules
// short-circuit — no nesting occurs").
const Primitive = ""

// HyperSchema is the selector + transformation-rule description a
// HyperView projection runs against (spec.md §3).
type HyperSchema struct {
	ID   string
	Name string
	// Version is an optional monotonic counter for cache staleness
	// checks alongside the fingerprint (spec.md §4.7).
	Version   int
	Selector  Selector
	Transform map[string]TransformRule // keyed by local_context
}

// IsPrimitive reports whether id names the primitive terminal schema.
func IsPrimitive(id string) bool { return id == Primitive }
