// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhizomedb/rhizomedb/internal/delta"
)

func ctxStr(s string) *string { return &s }

func mkDelta(id string, ts int64, author, system, targetID, targetContext string) delta.Delta {
	p := delta.Pointer{LocalContext: "named", Target: delta.EntityRef(targetID)}
	if targetContext != "" {
		p.TargetContext = ctxStr(targetContext)
	}
	return delta.Delta{ID: id, Timestamp: ts, Author: author, System: system, Pointers: []delta.Pointer{p}}
}

func TestSet_CandidateIDs_EmptyFilterReportsFullScan(t *testing.T) {
	s := New()
	s.Add(mkDelta("d1", 1, "alice", "sys-a", "e1", "name"))

	ids, ok := s.CandidateIDs(context.Background(), Filter{})
	assert.False(t, ok)
	assert.Nil(t, ids)
}

func TestSet_CandidateIDs_SingleField(t *testing.T) {
	s := New()
	s.Add(mkDelta("d1", 1, "alice", "sys-a", "e1", "name"))
	s.Add(mkDelta("d2", 2, "bob", "sys-a", "e1", "name"))

	ids, ok := s.CandidateIDs(context.Background(), Filter{Authors: []string{"alice"}})
	require.True(t, ok)
	assert.Equal(t, []string{"d1"}, ids)
}

func TestSet_CandidateIDs_IntersectsAcrossFields(t *testing.T) {
	s := New()
	s.Add(mkDelta("d1", 1, "alice", "sys-a", "e1", "name"))
	s.Add(mkDelta("d2", 2, "alice", "sys-b", "e1", "name"))
	s.Add(mkDelta("d3", 3, "bob", "sys-a", "e1", "name"))

	ids, ok := s.CandidateIDs(context.Background(), Filter{
		Authors: []string{"alice"},
		Systems: []string{"sys-a"},
	})
	require.True(t, ok)
	assert.Equal(t, []string{"d1"}, ids)
}

func TestSet_CandidateIDs_TimestampRange(t *testing.T) {
	s := New()
	s.Add(mkDelta("d1", 10, "alice", "sys-a", "e1", "name"))
	s.Add(mkDelta("d2", 20, "alice", "sys-a", "e1", "name"))
	s.Add(mkDelta("d3", 30, "alice", "sys-a", "e1", "name"))

	from := int64(15)
	to := int64(25)
	ids, ok := s.CandidateIDs(context.Background(), Filter{Timestamps: &TimestampRange{From: &from, To: &to}})
	require.True(t, ok)
	assert.Equal(t, []string{"d2"}, ids)
}

func TestSet_CandidateIDs_TargetContext(t *testing.T) {
	s := New()
	s.Add(mkDelta("d1", 1, "alice", "sys-a", "e1", "name"))
	s.Add(mkDelta("d2", 2, "alice", "sys-a", "e1", "age"))

	ids, ok := s.CandidateIDs(context.Background(), Filter{TargetContexts: []string{"age"}})
	require.True(t, ok)
	assert.Equal(t, []string{"d2"}, ids)
}

func TestSet_RemoveTearsDownAllBuckets(t *testing.T) {
	s := New()
	d := mkDelta("d1", 1, "alice", "sys-a", "e1", "name")
	s.Add(d)
	s.Remove(d)

	ids, ok := s.CandidateIDs(context.Background(), Filter{Authors: []string{"alice"}})
	require.True(t, ok)
	assert.Empty(t, ids)
}

func TestSet_AddIsIdempotent(t *testing.T) {
	s := New()
	d := mkDelta("d1", 1, "alice", "sys-a", "e1", "name")
	s.Add(d)
	s.Add(d)

	ids, ok := s.CandidateIDs(context.Background(), Filter{Authors: []string{"alice"}})
	require.True(t, ok)
	assert.Equal(t, []string{"d1"}, ids)
}
