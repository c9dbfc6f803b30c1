// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hyperview projects an entity's HyperView from the delta log, per
// spec.md §4.6: a recursive, cycle-safe walk that replaces EntityReference
// pointer targets with nested sub-projections according to a HyperSchema's
// transformation rules.
package hyperview

import (
	"fmt"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/negation"
	"github.com/rhizomedb/rhizomedb/internal/schema"
)

// View is an entity projection: id plus property → ordered delta list.
// A delta inside a property list may have had one of its pointer targets
// replaced by a nested *View (see ResolvedTarget).
type View struct {
	ID         string
	Properties map[string][]ProjectedDelta
}

// ProjectedDelta is a delta as it appears inside a View: the original
// delta plus, for each pointer, an optional nested projection that
// replaces an EntityReference target.
type ProjectedDelta struct {
	Delta delta.Delta
	// Nested maps pointer index -> the recursive projection that replaced
	// that pointer's EntityReference target, when the schema's
	// transformation rule fired for it.
	Nested map[int]*View
}

// ResolvedTarget returns the nested projection that replaced pointer i's
// target, or nil if pointer i's target was not transformed.
func (pd ProjectedDelta) ResolvedTarget(pointerIndex int) *View {
	return pd.Nested[pointerIndex]
}

// Registry is the subset of schema.Registry's read surface the projector
// needs, kept narrow so callers can substitute a test double.
type Registry interface {
	Get(id string) (schema.HyperSchema, error)
}

// Project computes entityID's HyperView under s, reading log and
// dereferencing nested schemas from registry, as of asOfTs.
func Project(entityID string, s schema.HyperSchema, log []delta.Delta, registry Registry, asOfTs int64) (*View, error) {
	negated := negation.EffectiveSet(log, &asOfTs)
	return project(entityID, s, log, registry, asOfTs, negated, map[string]bool{})
}

// inProgress guards against cyclic *schema* recursion in addition to the
// spec's target.id != entity_id data-cycle guard: a pathological
// transformation graph that somehow bypasses DAG validation (e.g. a
// registry mutated after validation) cannot recurse forever.
func project(
	entityID string,
	s schema.HyperSchema,
	log []delta.Delta,
	registry Registry,
	asOfTs int64,
	negated map[string]bool,
	inProgress map[string]bool,
) (*View, error) {
	key := entityID + "\x00" + s.ID
	if inProgress[key] {
		return &View{ID: entityID, Properties: map[string][]ProjectedDelta{}}, nil
	}
	inProgress[key] = true
	defer delete(inProgress, key)

	view := &View{ID: entityID, Properties: make(map[string][]ProjectedDelta)}

	for _, d := range log {
		if d.Timestamp > asOfTs || negated[d.ID] {
			continue
		}

		result := s.Selector.Evaluate(entityID, d)
		var properties []string
		switch result.Decision {
		case schema.Exclude:
			continue
		case schema.IncludeDefault:
			properties = []string{schema.DefaultProperty}
		case schema.IncludeAs:
			properties = result.Properties
		default:
			continue
		}
		if len(properties) == 0 {
			continue
		}

		projected, err := transformPointers(entityID, s, d, log, registry, asOfTs, negated, inProgress)
		if err != nil {
			return nil, err
		}

		for _, prop := range properties {
			view.Properties[prop] = append(view.Properties[prop], projected)
		}
	}

	return view, nil
}

func transformPointers(
	entityID string,
	s schema.HyperSchema,
	d delta.Delta,
	log []delta.Delta,
	registry Registry,
	asOfTs int64,
	negated map[string]bool,
	inProgress map[string]bool,
) (ProjectedDelta, error) {
	pd := ProjectedDelta{Delta: d}

	for i, p := range d.Pointers {
		rule, hasRule := s.Transform[p.LocalContext]
		if !hasRule {
			continue
		}
		if !rule.Passes(p, d) {
			continue
		}
		if !p.Target.IsEntity() {
			continue // primitive targets short-circuit: no nesting
		}
		if schema.IsPrimitive(rule.SchemaID) {
			continue // primitive-typed rule: no nesting
		}
		if p.Target.EntityID == entityID {
			continue // cycle guard: target.id == entity_id
		}

		subSchema, err := registry.Get(rule.SchemaID)
		if err != nil {
			return ProjectedDelta{}, fmt.Errorf("hyperview: resolving schema %q for local_context %q: %w", rule.SchemaID, p.LocalContext, err)
		}

		nested, err := project(p.Target.EntityID, subSchema, log, registry, asOfTs, negated, inProgress)
		if err != nil {
			return ProjectedDelta{}, err
		}

		if pd.Nested == nil {
			pd.Nested = make(map[int]*View)
		}
		pd.Nested[i] = nested
	}

	return pd, nil
}
