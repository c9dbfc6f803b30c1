// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory is the in-memory storage.Adapter: an ordered slice plus an
// id→delta map. Scan yields deltas in insertion order, matching spec.md
// §4.2's "ordered list + id→delta map" reference implementation.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/storage"
)

// Adapter is a storage.Adapter backed by process memory. Safe for
// concurrent use; state is lost on process exit.
type Adapter struct {
	mu     sync.RWMutex
	order  []string
	byID   map[string]delta.Delta
	closed bool
}

// New returns an empty in-memory adapter.
func New() *Adapter {
	return &Adapter{byID: make(map[string]delta.Delta)}
}

// Put inserts d if its id is new; re-putting a known id is a no-op.
func (a *Adapter) Put(_ context.Context, d delta.Delta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrClosed
	}
	if _, exists := a.byID[d.ID]; exists {
		return nil
	}
	a.byID[d.ID] = d
	a.order = append(a.order, d.ID)
	return nil
}

// Get returns the delta with the given id.
func (a *Adapter) Get(_ context.Context, id string) (delta.Delta, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return delta.Delta{}, storage.ErrClosed
	}
	d, ok := a.byID[id]
	if !ok {
		return delta.Delta{}, storage.ErrNotFound
	}
	return d, nil
}

// MultiGet returns every delta found among ids, silently skipping unknown
// ids (callers wanting strictness should diff len(ids) against the result).
func (a *Adapter) MultiGet(_ context.Context, ids []string) ([]delta.Delta, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.ErrClosed
	}
	out := make([]delta.Delta, 0, len(ids))
	for _, id := range ids {
		if d, ok := a.byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// Scan walks the insertion-ordered slice, applying filter and resuming
// from cursor. The cursor token is the insertion index to resume at.
func (a *Adapter) Scan(_ context.Context, filter *storage.Filter, cursor storage.Cursor, limit int) (storage.ScanResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return storage.ScanResult{}, storage.ErrClosed
	}

	start := 0
	if tok := cursor.String(); tok != "" {
		n, err := strconv.Atoi(tok)
		if err == nil && n >= 0 {
			start = n
		}
	}

	var out []delta.Delta
	i := start
	for ; i < len(a.order); i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		d := a.byID[a.order[i]]
		if filter == nil || filter.Matches(d) {
			out = append(out, d)
		}
	}

	next := storage.Cursor{}
	if i < len(a.order) {
		next = storage.CursorFromString(strconv.Itoa(i))
	}
	return storage.ScanResult{Deltas: out, Next: next}, nil
}

// Close marks the adapter closed; subsequent operations return
// storage.ErrClosed. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}
