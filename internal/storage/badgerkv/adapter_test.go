// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badgerkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/storage"
)

func openTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func mkDelta(id string, ts int64, author, system string) delta.Delta {
	return delta.Delta{
		ID: id, Timestamp: ts, Author: author, System: system,
		Pointers: []delta.Pointer{{LocalContext: "named", Target: delta.EntityRef("e1")}},
	}
}

func TestAdapter_PutGet(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	d := mkDelta("d1", 1, "alice", "sys-a")
	require.NoError(t, a.Put(ctx, d))

	got, err := a.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestAdapter_PutIsIdempotent(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	d := mkDelta("d1", 1, "alice", "sys-a")
	require.NoError(t, a.Put(ctx, d))
	require.NoError(t, a.Put(ctx, d))

	res, err := a.Scan(ctx, nil, storage.Cursor{}, 0)
	require.NoError(t, err)
	assert.Len(t, res.Deltas, 1)
}

func TestAdapter_GetUnknownReturnsErrNotFound(t *testing.T) {
	a := openTestAdapter(t)
	_, err := a.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAdapter_MultiGetSkipsUnknown(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	require.NoError(t, a.Put(ctx, mkDelta("d1", 1, "alice", "sys-a")))

	got, err := a.MultiGet(ctx, []string{"d1", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "d1", got[0].ID)
}

func TestAdapter_ScanChronologicalOrder(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, mkDelta("d3", 30, "alice", "sys-a")))
	require.NoError(t, a.Put(ctx, mkDelta("d1", 10, "alice", "sys-a")))
	require.NoError(t, a.Put(ctx, mkDelta("d2", 20, "alice", "sys-a")))

	res, err := a.Scan(ctx, nil, storage.Cursor{}, 0)
	require.NoError(t, err)
	require.Len(t, res.Deltas, 3)
	assert.Equal(t, []string{"d1", "d2", "d3"}, []string{res.Deltas[0].ID, res.Deltas[1].ID, res.Deltas[2].ID})
}

func TestAdapter_ScanPagination(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	for i, id := range []string{"d1", "d2", "d3"} {
		require.NoError(t, a.Put(ctx, mkDelta(id, int64(i+1), "alice", "sys-a")))
	}

	page1, err := a.Scan(ctx, nil, storage.Cursor{}, 2)
	require.NoError(t, err)
	require.Len(t, page1.Deltas, 2)
	assert.NotEmpty(t, page1.Next.String())

	page2, err := a.Scan(ctx, nil, page1.Next, 2)
	require.NoError(t, err)
	require.Len(t, page2.Deltas, 1)
	assert.Equal(t, "d3", page2.Deltas[0].ID)
	assert.Empty(t, page2.Next.String())
}

func TestAdapter_ScanWithFilter(t *testing.T) {
	a := openTestAdapter(t)
	ctx := context.Background()
	require.NoError(t, a.Put(ctx, mkDelta("d1", 1, "alice", "sys-a")))
	require.NoError(t, a.Put(ctx, mkDelta("d2", 2, "bob", "sys-b")))

	res, err := a.Scan(ctx, &storage.Filter{Systems: []string{"sys-b"}}, storage.Cursor{}, 0)
	require.NoError(t, err)
	require.Len(t, res.Deltas, 1)
	assert.Equal(t, "d2", res.Deltas[0].ID)
}

func TestAdapter_PersistsAcrossReopen(t *testing.T) {
	dir, err := TempDir("rhizomedb-adapter-test-")
	require.NoError(t, err)
	defer CleanupDir(dir)

	cfg := DefaultConfig()
	cfg.Path = dir

	a, err := Open(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, a.Put(ctx, mkDelta("d1", 1, "alice", "sys-a")))
	require.NoError(t, a.Close())

	a2, err := Open(cfg)
	require.NoError(t, err)
	defer a2.Close()

	got, err := a2.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Author)
}
