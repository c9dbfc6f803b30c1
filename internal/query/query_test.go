// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/index"
	"github.com/rhizomedb/rhizomedb/internal/storage/memory"
)

func mkDelta(id string, ts int64, author, system string) delta.Delta {
	return delta.Delta{
		ID: id, Timestamp: ts, Author: author, System: system,
		Pointers: []delta.Pointer{{LocalContext: "named", Target: delta.EntityRef("e1")}},
	}
}

func newTestEngine(t *testing.T) (*Engine, *memory.Adapter) {
	t.Helper()
	adapter := memory.New()
	idx := index.New()
	e := New(adapter, idx)
	e.Clock = func() int64 { return 1000 }
	return e, adapter
}

func put(t *testing.T, e *Engine, a *memory.Adapter, d delta.Delta) {
	t.Helper()
	require.NoError(t, a.Put(context.Background(), d))
	e.Index.Add(d)
}

func TestEngine_Query_IndexedField(t *testing.T) {
	e, a := newTestEngine(t)
	put(t, e, a, mkDelta("d1", 1, "alice", "sys-a"))
	put(t, e, a, mkDelta("d2", 2, "bob", "sys-a"))

	res, err := e.Query(context.Background(), DeltaFilter{Authors: []string{"alice"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d1", res[0].ID)
}

func TestEngine_Query_FullScanFallback(t *testing.T) {
	e, a := newTestEngine(t)
	put(t, e, a, mkDelta("d1", 1, "alice", "sys-a"))
	put(t, e, a, mkDelta("d2", 2, "bob", "sys-a"))

	res, err := e.Query(context.Background(), DeltaFilter{})
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestEngine_Query_ExplicitIDsResidue(t *testing.T) {
	e, a := newTestEngine(t)
	put(t, e, a, mkDelta("d1", 1, "alice", "sys-a"))
	put(t, e, a, mkDelta("d2", 2, "alice", "sys-a"))

	res, err := e.Query(context.Background(), DeltaFilter{Authors: []string{"alice"}, IDs: []string{"d2"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d2", res[0].ID)
}

func TestEngine_Query_PredicateResidue(t *testing.T) {
	e, a := newTestEngine(t)
	put(t, e, a, mkDelta("d1", 1, "alice", "sys-a"))
	put(t, e, a, mkDelta("d2", 2, "alice", "sys-a"))

	res, err := e.Query(context.Background(), DeltaFilter{
		Authors:   []string{"alice"},
		Predicate: func(d delta.Delta) bool { return d.Timestamp > 1 },
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "d2", res[0].ID)
}

func TestEngine_Query_ExcludesNegatedByDefault(t *testing.T) {
	e, a := newTestEngine(t)
	put(t, e, a, mkDelta("d1", 1, "alice", "sys-a"))
	negation := delta.Delta{
		ID: "n1", Timestamp: 2, Author: "alice", System: "sys-a",
		Pointers: []delta.Pointer{{LocalContext: delta.LocalContextNegates, Target: delta.EntityRef("d1")}},
	}
	put(t, e, a, negation)

	res, err := e.Query(context.Background(), DeltaFilter{Authors: []string{"alice"}})
	require.NoError(t, err)
	var ids []string
	for _, d := range res {
		ids = append(ids, d.ID)
	}
	assert.NotContains(t, ids, "d1")
	assert.Contains(t, ids, "n1")
}

func TestEngine_Query_IncludeNegatedKeepsThem(t *testing.T) {
	e, a := newTestEngine(t)
	put(t, e, a, mkDelta("d1", 1, "alice", "sys-a"))
	negation := delta.Delta{
		ID: "n1", Timestamp: 2, Author: "alice", System: "sys-a",
		Pointers: []delta.Pointer{{LocalContext: delta.LocalContextNegates, Target: delta.EntityRef("d1")}},
	}
	put(t, e, a, negation)

	res, err := e.Query(context.Background(), DeltaFilter{Authors: []string{"alice"}, IncludeNegated: true})
	require.NoError(t, err)
	assert.Len(t, res, 2)
}
