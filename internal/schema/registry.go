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
	"sort"
	"sync"
)

// Registry stores HyperSchemas by id, with optional DAG validation of the
// transformation graph on register (spec.md §4.11).
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]HyperSchema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]HyperSchema)}
}

// Register adds s to the registry. If validateDAG is true, registration
// is rejected — leaving the registry unchanged — if adding s would
// introduce a self-reference or a cycle in the transformation graph
// across every currently-registered schema plus s.
func (r *Registry) Register(s HyperSchema, validateDAG bool) error {
	if s.ID == "" {
		return ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if validateDAG {
		trial := make(map[string]HyperSchema, len(r.schemas)+1)
		for id, existing := range r.schemas {
			trial[id] = existing
		}
		trial[s.ID] = s
		if err := detectCycles(trial); err != nil {
			return err
		}
	}

	r.schemas[s.ID] = s
	return nil
}

// Get returns the schema registered under id.
func (r *Registry) Get(id string) (HyperSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[id]
	if !ok {
		return HyperSchema{}, ErrUnknownSchema
	}
	return s, nil
}

// AllIDs lists every registered schema id, for callers that need to sweep
// all schemas (e.g. the engine's cache invalidation on write).
func (r *Registry) AllIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.schemas))
	for id := range r.schemas {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// DependentsOf lists every schema id whose transformation rules reference
// id, directly.
func (r *Registry) DependentsOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for candidateID, s := range r.schemas {
		for _, rule := range s.Transform {
			if rule.SchemaID == id {
				out = append(out, candidateID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// TopologicalSort orders ids such that every schema appears after every
// schema it transitively depends on. ids must already be present in the
// registry; order among unrelated schemas is lexicographic for
// determinism.
func (r *Registry) TopologicalSort(ids []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subset := make(map[string]HyperSchema, len(ids))
	for _, id := range ids {
		s, ok := r.schemas[id]
		if !ok {
			return nil, ErrUnknownSchema
		}
		subset[id] = s
	}
	if err := detectCycles(subset); err != nil {
		return nil, err
	}

	visited := make(map[string]bool, len(subset))
	var order []string

	sortedIDs := make([]string, 0, len(subset))
	for id := range subset {
		sortedIDs = append(sortedIDs, id)
	}
	sort.Strings(sortedIDs)

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		s, ok := subset[id]
		if !ok {
			return
		}
		deps := dependencyIDs(s)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, inSubset := subset[dep]; inSubset {
				visit(dep)
			}
		}
		order = append(order, id)
	}
	for _, id := range sortedIDs {
		visit(id)
	}
	return order, nil
}

func dependencyIDs(s HyperSchema) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rule := range s.Transform {
		if IsPrimitive(rule.SchemaID) || seen[rule.SchemaID] {
			continue
		}
		seen[rule.SchemaID] = true
		out = append(out, rule.SchemaID)
	}
	return out
}

// detectCycles runs a DFS with a recursion-stack to find cycles in the
// transformation graph over schemas, grounded on the teacher's DAG
// cycle-detection pattern (services/trace/dag.Builder.detectCycles).
func detectCycles(schemas map[string]HyperSchema) error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var path []string

	var dfs func(id string) error
	dfs = func(id string) error {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		s, ok := schemas[id]
		if ok {
			for _, dep := range dependencyIDs(s) {
				if _, inScope := schemas[dep]; !inScope {
					continue // dependency outside the validated set: not this call's concern
				}
				if !visited[dep] {
					if err := dfs(dep); err != nil {
						return err
					}
				} else if recStack[dep] {
					cycleStart := -1
					for i, n := range path {
						if n == dep {
							cycleStart = i
							break
						}
					}
					cyclePath := append(append([]string{}, path[cycleStart:]...), dep)
					return NewCircularSchemaError(cyclePath)
				}
			}
		}

		path = path[:len(path)-1]
		recStack[id] = false
		return nil
	}

	ids := make([]string, 0, len(schemas))
	for id := range schemas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if !visited[id] {
			if err := dfs(id); err != nil {
				return err
			}
		}
	}
	return nil
}
