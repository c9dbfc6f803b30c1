// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerkv provides the on-disk storage.Adapter, built on
// github.com/dgraph-io/badger/v4. It exposes both the raw *badger.DB for
// callers who need direct transaction control and a managed DB wrapper with
// context-aware transaction helpers and a background GC runner.
package badgerkv

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config controls how the underlying badger.DB is opened.
type Config struct {
	// InMemory opens a memory-only database; Path is ignored.
	InMemory bool
	// Path is the on-disk directory. Required unless InMemory is true.
	Path string
	// SyncWrites forces an fsync after every write batch.
	SyncWrites bool
	// NumVersionsToKeep bounds how many historical versions badger retains
	// per key. rhizomedb never overwrites a key (deltas are immutable), so
	// this is mostly cosmetic but still forwarded to badger's options.
	NumVersionsToKeep int
	// GCInterval is a value-log GC period. Nothing in this package reads
	// it: a GCRunner takes its interval as a NewGCRunner argument, and
	// NewGCRunner rejects a non-positive interval.
	GCInterval time.Duration
}

// DefaultConfig returns the persistent-mode default: synchronous writes, a
// single retained version, and GC every five minutes.
func DefaultConfig() Config {
	return Config{
		InMemory:          false,
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
	}
}

// InMemoryConfig returns the in-memory default: no fsync cost to pay, and
// GC disabled since an in-memory value log never accumulates on disk.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0,
	}
}

// openBadger opens a *badger.DB per cfg. Persistent mode requires a
// non-empty Path.
func openBadger(cfg Config) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badgerkv: path is required in persistent mode")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)
	if cfg.NumVersionsToKeep > 0 {
		opts = opts.WithNumVersionsToKeep(cfg.NumVersionsToKeep)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerkv: opening database: %w", err)
	}
	return db, nil
}

// OpenInMemory opens a memory-only database.
func OpenInMemory() (*badger.DB, error) {
	return openBadger(InMemoryConfig())
}

// OpenWithPath opens a persistent database at dir with default settings.
func OpenWithPath(dir string) (*badger.DB, error) {
	cfg := DefaultConfig()
	cfg.Path = dir
	return openBadger(cfg)
}

// DB wraps a *badger.DB with context-aware transaction helpers.
type DB struct {
	db  *badger.DB
	cfg Config
}

// OpenDB opens a database per cfg and returns the managed wrapper.
func OpenDB(cfg Config) (*DB, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	return &DB{db: db, cfg: cfg}, nil
}

// Raw exposes the underlying *badger.DB for callers needing direct
// transaction or iterator access (the storage.Adapter in adapter.go).
func (d *DB) Raw() *badger.DB { return d.db }

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

// WithTxn runs fn in a read-write transaction, aborting before it starts if
// ctx is already cancelled.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("badgerkv: context cancelled: %w", err)
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn in a read-only transaction, aborting before it starts
// if ctx is already cancelled.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("badgerkv: context cancelled: %w", err)
	}
	return d.db.View(fn)
}

// TempDir creates a temporary directory for persistent-mode tests.
func TempDir(prefix string) (string, error) {
	return os.MkdirTemp("", prefix)
}

// CleanupDir removes a directory created by TempDir. A no-op for an empty
// path.
func CleanupDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}
