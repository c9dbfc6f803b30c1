// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hyperview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/schema"
)

func strPtr(s string) *string { return &s }

type fakeRegistry struct {
	schemas map[string]schema.HyperSchema
}

func (r *fakeRegistry) Get(id string) (schema.HyperSchema, error) {
	s, ok := r.schemas[id]
	if !ok {
		return schema.HyperSchema{}, schema.ErrUnknownSchema
	}
	return s, nil
}

// TestProject_SingleProperty grounds spec.md §8 scenario S1.
func TestProject_SingleProperty(t *testing.T) {
	d1 := delta.Delta{
		ID: "D1", Timestamp: 1, Author: "a", System: "s",
		Pointers: []delta.Pointer{
			{LocalContext: "named", Target: delta.EntityRef("e1"), TargetContext: strPtr("name")},
			{LocalContext: "name", Target: delta.Primitive("Alice")},
		},
	}

	s := schema.HyperSchema{ID: "person", Selector: schema.StandardSelector()}
	reg := &fakeRegistry{schemas: map[string]schema.HyperSchema{"person": s}}

	view, err := Project("e1", s, []delta.Delta{d1}, reg, 100)
	require.NoError(t, err)
	assert.Equal(t, "e1", view.ID)
	require.Len(t, view.Properties["name"], 1)
	assert.Equal(t, "D1", view.Properties["name"][0].Delta.ID)
}

// TestProject_NestedProjection grounds spec.md §8 scenario S4.
func TestProject_NestedProjection(t *testing.T) {
	personSchema := schema.HyperSchema{ID: "Person", Selector: schema.StandardSelector()}
	postSchema := schema.HyperSchema{
		ID: "Post", Selector: schema.StandardSelector(),
		Transform: map[string]schema.TransformRule{
			"author": {SchemaID: "Person"},
		},
	}
	reg := &fakeRegistry{schemas: map[string]schema.HyperSchema{"Person": personSchema, "Post": postSchema}}

	log := []delta.Delta{
		{
			ID: "d_title", Timestamp: 1, Author: "a", System: "s",
			Pointers: []delta.Pointer{{LocalContext: "named", Target: delta.EntityRef("post_1"), TargetContext: strPtr("title")}},
		},
		{
			ID: "d_author", Timestamp: 2, Author: "a", System: "s",
			Pointers: []delta.Pointer{
				{LocalContext: "author", Target: delta.EntityRef("person_A"), TargetContext: strPtr("author")},
				{LocalContext: "post", Target: delta.EntityRef("post_1"), TargetContext: strPtr("author")},
			},
		},
		{
			ID: "d_name", Timestamp: 3, Author: "a", System: "s",
			Pointers: []delta.Pointer{
				{LocalContext: "named", Target: delta.EntityRef("person_A"), TargetContext: strPtr("name")},
				{LocalContext: "name", Target: delta.Primitive("Alice")},
			},
		},
	}

	view, err := Project("post_1", postSchema, log, reg, 100)
	require.NoError(t, err)
	require.Len(t, view.Properties["title"], 1)
	require.Len(t, view.Properties["author"], 1)

	nested := view.Properties["author"][0].ResolvedTarget(0)
	require.NotNil(t, nested)
	assert.Equal(t, "person_A", nested.ID)
	require.Len(t, nested.Properties["name"], 1)
}

func TestProject_CycleGuardPreventsInfiniteRecursion(t *testing.T) {
	s := schema.HyperSchema{
		ID: "Person", Selector: schema.StandardSelector(),
		Transform: map[string]schema.TransformRule{"friend": {SchemaID: "Person"}},
	}
	reg := &fakeRegistry{schemas: map[string]schema.HyperSchema{"Person": s}}

	log := []delta.Delta{
		{
			ID: "d1", Timestamp: 1, Author: "a", System: "s",
			Pointers: []delta.Pointer{{LocalContext: "friend", Target: delta.EntityRef("person_A"), TargetContext: strPtr("friend")}},
		},
	}

	view, err := Project("person_A", s, log, reg, 100)
	require.NoError(t, err)
	// target.id == entity_id, so no nesting should have occurred.
	require.Len(t, view.Properties["friend"], 1)
	assert.Nil(t, view.Properties["friend"][0].ResolvedTarget(0))
}

func TestProject_ExcludesNegatedDeltas(t *testing.T) {
	d1 := delta.Delta{
		ID: "D1", Timestamp: 1, Author: "a", System: "s",
		Pointers: []delta.Pointer{{LocalContext: "named", Target: delta.EntityRef("e1"), TargetContext: strPtr("name")}},
	}
	negation := delta.Delta{
		ID: "N1", Timestamp: 2, Author: "a", System: "s",
		Pointers: []delta.Pointer{{LocalContext: delta.LocalContextNegates, Target: delta.EntityRef("D1")}},
	}

	s := schema.HyperSchema{ID: "person", Selector: schema.StandardSelector()}
	reg := &fakeRegistry{schemas: map[string]schema.HyperSchema{"person": s}}

	view, err := Project("e1", s, []delta.Delta{d1, negation}, reg, 100)
	require.NoError(t, err)
	assert.Empty(t, view.Properties["name"])
}

func TestProject_ExcludesDeltasAfterAsOfTs(t *testing.T) {
	d1 := delta.Delta{
		ID: "D1", Timestamp: 50, Author: "a", System: "s",
		Pointers: []delta.Pointer{{LocalContext: "named", Target: delta.EntityRef("e1"), TargetContext: strPtr("name")}},
	}

	s := schema.HyperSchema{ID: "person", Selector: schema.StandardSelector()}
	reg := &fakeRegistry{schemas: map[string]schema.HyperSchema{"person": s}}

	view, err := Project("e1", s, []delta.Delta{d1}, reg, 10)
	require.NoError(t, err)
	assert.Empty(t, view.Properties["name"])
}

func TestProject_IsPureAcrossCalls(t *testing.T) {
	d1 := delta.Delta{
		ID: "D1", Timestamp: 1, Author: "a", System: "s",
		Pointers: []delta.Pointer{{LocalContext: "named", Target: delta.EntityRef("e1"), TargetContext: strPtr("name")}},
	}
	s := schema.HyperSchema{ID: "person", Selector: schema.StandardSelector()}
	reg := &fakeRegistry{schemas: map[string]schema.HyperSchema{"person": s}}

	v1, err := Project("e1", s, []delta.Delta{d1}, reg, 100)
	require.NoError(t, err)
	v2, err := Project("e1", s, []delta.Delta{d1}, reg, 100)
	require.NoError(t, err)

	assert.Equal(t, v1.ID, v2.ID)
	assert.Equal(t, len(v1.Properties["name"]), len(v2.Properties["name"]))
	assert.Equal(t, v1.Properties["name"][0].Delta.ID, v2.Properties["name"][0].Delta.ID)
}
