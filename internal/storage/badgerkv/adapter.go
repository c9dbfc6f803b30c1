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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/storage"
)

// Five key families, per spec.md §4.2/§6. D holds the payload; T, A, S, and
// X are secondary-index-shaped pointers back to D, letting a chronological
// scan (the common case) walk T directly without touching D until a hit.
const (
	prefixDelta       = "D:"
	prefixByTimestamp = "T:"
	prefixByAuthor    = "A:"
	prefixBySystem    = "S:"
	prefixByTargetID  = "X:"
	timestampPadWidth = 20
)

// Adapter is the on-disk storage.Adapter backed by badgerkv.DB.
type Adapter struct {
	db *DB
}

// NewAdapter wraps an already-opened DB as a storage.Adapter.
func NewAdapter(db *DB) *Adapter {
	return &Adapter{db: db}
}

// Open opens a badger database per cfg and returns it as a storage.Adapter.
func Open(cfg Config) (*Adapter, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	return NewAdapter(db), nil
}

func paddedTimestamp(ts int64) string {
	return fmt.Sprintf("%0*d", timestampPadWidth, ts)
}

func deltaKey(id string) []byte { return []byte(prefixDelta + id) }

func timestampKey(ts int64, id string) []byte {
	return []byte(prefixByTimestamp + paddedTimestamp(ts) + ":" + id)
}

func authorKey(author, id string) []byte { return []byte(prefixByAuthor + author + ":" + id) }
func systemKey(system, id string) []byte { return []byte(prefixBySystem + system + ":" + id) }
func targetKey(targetID, id string) []byte {
	return []byte(prefixByTargetID + targetID + ":" + id)
}

// Put persists d across all five key families in a single transaction, and
// is a no-op if d.ID already exists (Put is idempotent on id, per
// storage.Adapter).
func (a *Adapter) Put(ctx context.Context, d delta.Delta) error {
	return a.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(deltaKey(d.ID)); err == nil {
			return nil
		} else if err != badger.ErrKeyNotFound {
			return fmt.Errorf("badgerkv: checking existing delta: %w", err)
		}

		payload, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("badgerkv: encoding delta: %w", err)
		}
		if err := txn.Set(deltaKey(d.ID), payload); err != nil {
			return err
		}
		if err := txn.Set(timestampKey(d.Timestamp, d.ID), []byte(d.ID)); err != nil {
			return err
		}
		if err := txn.Set(authorKey(d.Author, d.ID), []byte(d.ID)); err != nil {
			return err
		}
		if err := txn.Set(systemKey(d.System, d.ID), []byte(d.ID)); err != nil {
			return err
		}

		seenTargets := make(map[string]bool)
		for _, p := range d.Pointers {
			if !p.Target.IsEntity() {
				continue
			}
			if seenTargets[p.Target.EntityID] {
				continue
			}
			seenTargets[p.Target.EntityID] = true
			if err := txn.Set(targetKey(p.Target.EntityID, d.ID), []byte(d.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get loads the delta stored under id.
func (a *Adapter) Get(ctx context.Context, id string) (delta.Delta, error) {
	var d delta.Delta
	err := a.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(deltaKey(id))
		if err == badger.ErrKeyNotFound {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &d)
		})
	})
	if err != nil {
		return delta.Delta{}, err
	}
	return d, nil
}

// MultiGet loads every delta found among ids, skipping unknown ids.
func (a *Adapter) MultiGet(ctx context.Context, ids []string) ([]delta.Delta, error) {
	out := make([]delta.Delta, 0, len(ids))
	err := a.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(deltaKey(id))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var d delta.Delta
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &d) }); err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Scan walks the T: family in chronological order, resuming after cursor
// (the last T: key examined) and decoding each referenced delta from D:.
func (a *Adapter) Scan(ctx context.Context, filter *storage.Filter, cursor storage.Cursor, limit int) (storage.ScanResult, error) {
	var result storage.ScanResult
	err := a.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixByTimestamp)
		it := txn.NewIterator(opts)
		defer it.Close()

		seekKey := []byte(prefixByTimestamp)
		if tok := cursor.String(); tok != "" {
			seekKey = append(seekKey, []byte(tok)...)
			it.Seek(seekKey)
			if it.ValidForPrefix(opts.Prefix) {
				if string(it.Item().Key()) == string(seekKey) {
					it.Next()
				}
			}
		} else {
			it.Seek(seekKey)
		}

		var lastKey []byte
		for ; it.ValidForPrefix(opts.Prefix); it.Next() {
			if limit > 0 && len(result.Deltas) >= limit {
				result.Next = storage.CursorFromString(strings.TrimPrefix(string(lastKey), prefixByTimestamp))
				return nil
			}
			lastKey = it.Item().KeyCopy(nil)

			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}

			item, err := txn.Get(deltaKey(id))
			if err != nil {
				return fmt.Errorf("badgerkv: dangling timestamp index entry for %q: %w", id, err)
			}
			var d delta.Delta
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &d) }); err != nil {
				return err
			}
			if filter == nil || filter.Matches(d) {
				result.Deltas = append(result.Deltas, d)
			}
		}
		return nil
	})
	if err != nil {
		return storage.ScanResult{}, err
	}
	return result, nil
}

// Close closes the underlying database.
func (a *Adapter) Close() error {
	return a.db.Close()
}
