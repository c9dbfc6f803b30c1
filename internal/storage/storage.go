// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the pluggable persistence contract for the delta
// log: put/get/scan behind an Adapter interface, with in-memory
// (storage/memory) and on-disk (storage/badgerkv) implementations.
package storage

import (
	"context"
	"errors"

	"github.com/rhizomedb/rhizomedb/internal/delta"
)

// ErrNotFound is returned by Get when a delta id is unknown to the
// adapter. MultiGet does not return it; it skips unknown ids.
var ErrNotFound = errors.New("storage: delta not found")

// ErrClosed is returned by any adapter operation invoked after Close.
var ErrClosed = errors.New("storage: adapter is closed")

// Filter narrows a Scan to deltas matching every populated field. Nil/zero
// fields are unconstrained. It mirrors the index set's Filter
// (internal/index) but storage.Adapter implementations are never required
// to use an index to satisfy it — a full scan with client-side filtering is
// always a correct, if slower, fallback.
type Filter struct {
	IDs             []string
	Authors         []string
	Systems         []string
	TargetIDs       []string
	TargetContexts  []string
	TimestampFrom   *int64
	TimestampTo     *int64
}

// Matches reports whether d satisfies every populated constraint in f.
func (f Filter) Matches(d delta.Delta) bool {
	if len(f.IDs) > 0 && !containsStr(f.IDs, d.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsStr(f.Authors, d.Author) {
		return false
	}
	if len(f.Systems) > 0 && !containsStr(f.Systems, d.System) {
		return false
	}
	if f.TimestampFrom != nil && d.Timestamp < *f.TimestampFrom {
		return false
	}
	if f.TimestampTo != nil && d.Timestamp > *f.TimestampTo {
		return false
	}
	if len(f.TargetIDs) > 0 && !anyPointerTargetIn(d, f.TargetIDs) {
		return false
	}
	if len(f.TargetContexts) > 0 && !anyPointerContextIn(d, f.TargetContexts) {
		return false
	}
	return true
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func anyPointerTargetIn(d delta.Delta, ids []string) bool {
	for _, p := range d.Pointers {
		if p.Target.IsEntity() && containsStr(ids, p.Target.EntityID) {
			return true
		}
	}
	return false
}

func anyPointerContextIn(d delta.Delta, contexts []string) bool {
	for _, p := range d.Pointers {
		if p.TargetContext != nil && containsStr(contexts, *p.TargetContext) {
			return true
		}
	}
	return false
}

// Cursor resumes a Scan after the last delta returned by a prior call.
// Opaque to callers; adapters encode whatever positional state they need.
type Cursor struct {
	token string
}

// String renders the cursor as an opaque resumable token.
func (c Cursor) String() string { return c.token }

// CursorFromString reconstructs a Cursor previously rendered with String.
func CursorFromString(token string) Cursor { return Cursor{token: token} }

// ScanResult is one page of a Scan: the deltas found, in the adapter's
// scan order, and the cursor to resume from (empty Cursor if exhausted).
type ScanResult struct {
	Deltas []delta.Delta
	Next   Cursor
}

// Adapter is the persistence contract every storage backend implements.
// Put must be idempotent on delta id: re-putting an already-stored delta
// with the same id is a no-op success, not an error (deltas are immutable
// once validated, so a duplicate put can only ever be the same payload).
type Adapter interface {
	Put(ctx context.Context, d delta.Delta) error
	Get(ctx context.Context, id string) (delta.Delta, error)
	MultiGet(ctx context.Context, ids []string) ([]delta.Delta, error)
	// Scan iterates matching deltas in the adapter's order (timestamp
	// order for badgerkv, insertion order for memory), honoring filter if
	// non-nil, resuming after cursor if non-zero, and returning at most
	// limit deltas per call (0 means no limit).
	Scan(ctx context.Context, filter *Filter, cursor Cursor, limit int) (ScanResult, error)
	Close() error
}
