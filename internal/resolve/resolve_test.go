// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/hyperview"
)

func pd(id string, ts int64, author, system string, value any) hyperview.ProjectedDelta {
	return hyperview.ProjectedDelta{Delta: delta.Delta{
		ID: id, Timestamp: ts, Author: author, System: system,
		Pointers: []delta.Pointer{{LocalContext: "name", Target: delta.Primitive(value)}},
	}}
}

func hv(prop string, deltas ...hyperview.ProjectedDelta) *hyperview.View {
	return &hyperview.View{ID: "e1", Properties: map[string][]hyperview.ProjectedDelta{prop: deltas}}
}

func TestResolve_MostRecent(t *testing.T) {
	h := hv("name", pd("d1", 1, "a", "s", "Alice"), pd("d2", 2, "a", "s", "Bob"))
	vs := ViewSchema{Properties: map[string]PropertyRule{"name": {SourceProperty: "name", Strategy: MostRecent}}}
	v, err := Resolve(h, vs)
	require.NoError(t, err)
	assert.Equal(t, "Bob", v.Values["name"])
}

func TestResolve_FirstWrite(t *testing.T) {
	h := hv("name", pd("d1", 1, "a", "s", "Alice"), pd("d2", 2, "a", "s", "Bob"))
	vs := ViewSchema{Properties: map[string]PropertyRule{"name": {SourceProperty: "name", Strategy: FirstWrite}}}
	v, err := Resolve(h, vs)
	require.NoError(t, err)
	assert.Equal(t, "Alice", v.Values["name"])
}

func TestResolve_TrustedAuthorFallsBackToMostRecent(t *testing.T) {
	h := hv("name", pd("d1", 1, "untrusted", "s", "Alice"), pd("d2", 2, "untrusted", "s", "Bob"))
	vs := ViewSchema{Properties: map[string]PropertyRule{
		"name": {SourceProperty: "name", Strategy: TrustedAuthor, TrustedAuthors: []string{"trusted"}},
	}}
	v, err := Resolve(h, vs)
	require.NoError(t, err)
	assert.Equal(t, "Bob", v.Values["name"])
}

func TestResolve_TrustedAuthorPicksTrusted(t *testing.T) {
	h := hv("name", pd("d1", 1, "untrusted", "s", "Alice"), pd("d2", 2, "trusted", "s", "Bob"))
	vs := ViewSchema{Properties: map[string]PropertyRule{
		"name": {SourceProperty: "name", Strategy: TrustedAuthor, TrustedAuthors: []string{"trusted"}},
	}}
	v, err := Resolve(h, vs)
	require.NoError(t, err)
	assert.Equal(t, "Bob", v.Values["name"])
}

func TestResolve_Majority(t *testing.T) {
	h := hv("name",
		pd("d1", 1, "a", "s", "Alice"),
		pd("d2", 2, "b", "s", "Alice"),
		pd("d3", 3, "c", "s", "Bob"),
	)
	vs := ViewSchema{Properties: map[string]PropertyRule{"name": {SourceProperty: "name", Strategy: Majority}}}
	v, err := Resolve(h, vs)
	require.NoError(t, err)
	assert.Equal(t, "Alice", v.Values["name"])
}

func TestResolve_AllValues(t *testing.T) {
	h := hv("name", pd("d1", 1, "a", "s", "Alice"), pd("d2", 2, "a", "s", "Bob"))
	vs := ViewSchema{Properties: map[string]PropertyRule{"name": {SourceProperty: "name", Strategy: AllValues}}}
	v, err := Resolve(h, vs)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"Alice", "Bob"}, v.Values["name"])
}

func TestResolve_NumericAggregates(t *testing.T) {
	h := hv("score", pd("d1", 1, "a", "s", 10.0), pd("d2", 2, "a", "s", 20.0), pd("d3", 3, "a", "s", 30.0))

	min := ViewSchema{Properties: map[string]PropertyRule{"score": {SourceProperty: "score", Strategy: Min}}}
	v, err := Resolve(h, min)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v.Values["score"])

	max := ViewSchema{Properties: map[string]PropertyRule{"score": {SourceProperty: "score", Strategy: Max}}}
	v, err = Resolve(h, max)
	require.NoError(t, err)
	assert.Equal(t, 30.0, v.Values["score"])

	mean := ViewSchema{Properties: map[string]PropertyRule{"score": {SourceProperty: "score", Strategy: Mean}}}
	v, err = Resolve(h, mean)
	require.NoError(t, err)
	assert.Equal(t, 20.0, v.Values["score"])
}

func TestResolve_MissingSourcePropertyOmitted(t *testing.T) {
	h := hv("name", pd("d1", 1, "a", "s", "Alice"))
	vs := ViewSchema{Properties: map[string]PropertyRule{"age": {SourceProperty: "age", Strategy: MostRecent}}}
	v, err := Resolve(h, vs)
	require.NoError(t, err)
	_, ok := v.Values["age"]
	assert.False(t, ok)
}

func TestResolve_CustomStrategy(t *testing.T) {
	h := hv("name", pd("d1", 1, "a", "s", "Alice"), pd("d2", 2, "a", "s", "Bob"))
	vs := ViewSchema{Properties: map[string]PropertyRule{
		"name": {
			SourceProperty: "name", Strategy: Custom,
			Resolve: func(candidates []hyperview.ProjectedDelta) []hyperview.ProjectedDelta {
				return candidates[:1] // always pick the first, regardless of timestamp
			},
		},
	}}
	v, err := Resolve(h, vs)
	require.NoError(t, err)
	assert.Equal(t, "Alice", v.Values["name"])
}

func TestResolve_IsIdempotent(t *testing.T) {
	h := hv("name", pd("d1", 1, "a", "s", "Alice"), pd("d2", 2, "a", "s", "Bob"))
	vs := ViewSchema{Properties: map[string]PropertyRule{"name": {SourceProperty: "name", Strategy: MostRecent}}}

	v1, err := Resolve(h, vs)
	require.NoError(t, err)
	v2, err := Resolve(h, vs)
	require.NoError(t, err)
	assert.Equal(t, v1.Values, v2.Values)
}
