// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine wires storage, indexing, negation, query, schema,
// hyperview, cache, resolve, subscription and time-travel into one
// façade, per spec.md §5's concurrency model: writes take a single
// exclusive lock across the log, indexes and cache as one unit, while
// reads take a shared lock over the same state.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rhizomedb/rhizomedb/internal/cache"
	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/hyperview"
	"github.com/rhizomedb/rhizomedb/internal/index"
	"github.com/rhizomedb/rhizomedb/internal/query"
	"github.com/rhizomedb/rhizomedb/internal/resolve"
	"github.com/rhizomedb/rhizomedb/internal/schema"
	"github.com/rhizomedb/rhizomedb/internal/storage"
	"github.com/rhizomedb/rhizomedb/internal/subscription"
	"github.com/rhizomedb/rhizomedb/internal/timetravel"

	"github.com/google/uuid"
	"github.com/rhizomedb/rhizomedb/pkg/logging"
)

// Config configures a new Engine. Storage and Registry must be supplied by
// the caller; everything else defaults to a sensible in-process value.
type Config struct {
	// Storage is the durable adapter every accepted delta is persisted
	// to. Required.
	Storage storage.Adapter
	// Registry holds the HyperSchemas projections run against. Required.
	Registry *schema.Registry
	// Log logs engine activity. A nil Log gets a default logger.
	Log *logging.Logger
	// ViewCacheCapacity bounds the materialized-view LRU. Zero uses a
	// small built-in default.
	ViewCacheCapacity int
	// Clock returns "now" in epoch milliseconds, for negation
	// as-of-now evaluation and cache timestamps. Defaults to the wall
	// clock; tests may override for determinism.
	Clock func() int64
}

// Engine is rhizomedb's top-level façade: the single entry point a host
// process uses to submit deltas and run queries/projections/subscriptions
// against them.
//
// Thread-safety: every exported method is safe for concurrent use. Put
// takes Engine's single write lock across the log, index and cache;
// every read method takes the paired read lock, so reads never observe a
// torn write but never block each other either.
type Engine struct {
	mu sync.RWMutex

	storage  storage.Adapter
	idx      *index.Set
	registry *schema.Registry
	views    *cache.Store
	hub      *subscription.Hub
	qe       *query.Engine
	log      *logging.Logger
	clock    func() int64

	// deltaLog mirrors storage in append order; negation, hyperview
	// projection and timetravel all operate over a plain in-memory
	// []delta.Delta rather than re-scanning storage for every call, since
	// rhizomedb is local-first and a full history is expected to fit in
	// process memory (spec.md §1, §9).
	deltaLog []delta.Delta
}

// New constructs an Engine from cfg. It does not load any existing
// deltas from cfg.Storage; callers restoring from a prior run should
// Scan cfg.Storage themselves and feed the results through Put, or
// construct the Engine directly against an already-populated adapter and
// call Restore.
func New(cfg Config) (*Engine, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("engine: Storage is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine: Registry is required")
	}
	log := cfg.Log
	if log == nil {
		log = logging.New(logging.Config{Service: "engine"})
	}
	clock := cfg.Clock
	if clock == nil {
		clock = defaultClock
	}
	capacity := cfg.ViewCacheCapacity
	if capacity <= 0 {
		capacity = 1024
	}

	idx := index.New()
	qe := query.New(cfg.Storage, idx)
	qe.Clock = clock
	return &Engine{
		storage:  cfg.Storage,
		idx:      idx,
		registry: cfg.Registry,
		views:    cache.NewStore(capacity, clock),
		hub:      subscription.NewHub(log),
		qe:       qe,
		log:      log,
		clock:    clock,
	}, nil
}

// Restore replays every delta already in storage into the in-memory log
// and index without re-persisting it, for resuming against a prior run's
// adapter. It should be called once, before any Put.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var cursor storage.Cursor
	for {
		res, err := e.storage.Scan(ctx, nil, cursor, 0)
		if err != nil {
			return fmt.Errorf("engine: restoring from storage: %w", err)
		}
		for _, d := range res.Deltas {
			e.deltaLog = append(e.deltaLog, d)
			e.idx.Add(d)
		}
		if res.Next.String() == "" {
			return nil
		}
		cursor = res.Next
	}
}

// Put validates, persists and indexes d, then notifies every matching
// subscription. Per spec.md §5, this is the single write operation:
// it holds the engine's exclusive lock across the log, index and cache
// together, invalidating any materialized view the new delta could have
// made stale.
func (e *Engine) Put(ctx context.Context, d delta.Delta) error {
	if err := delta.Validate(d); err != nil {
		return fmt.Errorf("engine: validating delta %q: %w", d.ID, err)
	}

	e.mu.Lock()
	if err := e.storage.Put(ctx, d); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: persisting delta %q: %w", d.ID, err)
	}
	e.deltaLog = append(e.deltaLog, d)
	e.idx.Add(d)
	e.invalidateAffected(d)
	e.mu.Unlock()

	e.log.Info("delta accepted", "id", d.ID, "author", d.Author, "system", d.System)

	for subID, err := range e.hub.Offer(d) {
		if err != nil {
			e.log.Warn("subscription delivery failed", "subscription_id", subID, "error", err.Error())
		}
	}
	return nil
}

// invalidateAffected drops any cached view that d's pointers could have
// touched. Called with the write lock already held. A materialized view
// is keyed by (entity_id, schema_id); since d may target several
// entities and any registered schema might project it, every schema
// registered against an affected entity id is invalidated, per spec.md
// §4.7's "a write invalidates every cache entry keyed by an entity it
// touches" rule.
func (e *Engine) invalidateAffected(d delta.Delta) {
	seen := map[string]bool{}
	for _, p := range d.Pointers {
		if !p.Target.IsEntity() || seen[p.Target.EntityID] {
			continue
		}
		seen[p.Target.EntityID] = true
		for _, schemaID := range e.registry.AllIDs() {
			e.views.Invalidate(p.Target.EntityID, schemaID)
		}
	}
}

// NewDeltaID returns a fresh, host-unsupplied delta id, mirroring the
// teacher's use of uuid.New().String() for session identifiers.
func NewDeltaID() string {
	return uuid.New().String()
}

// Query evaluates filter against the engine's indexed log.
func (e *Engine) Query(ctx context.Context, filter query.DeltaFilter) ([]delta.Delta, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.qe.Query(ctx, filter)
}

// Project computes entityID's HyperView under schemaID as of asOfTs,
// going through the materialized-view cache.
func (e *Engine) Project(ctx context.Context, entityID, schemaID string, asOfTs int64) (*hyperview.View, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, err := e.views.GetOrRebuild(ctx, entityID, schemaID, e.deltaLog, e.registry, asOfTs)
	if err != nil {
		return nil, err
	}
	return entry.View, nil
}

// Resolve flattens entityID's HyperView under schemaID into a plain View
// per vs, as of asOfTs.
func (e *Engine) Resolve(ctx context.Context, entityID, schemaID string, asOfTs int64, vs resolve.ViewSchema) (*resolve.View, error) {
	hv, err := e.Project(ctx, entityID, schemaID, asOfTs)
	if err != nil {
		return nil, err
	}
	return resolve.Resolve(hv, vs)
}

// Subscribe registers cfg's handler against every future Put matching
// cfg.Filter (translated to the subscription hub's structural matcher).
func (e *Engine) Subscribe(cfg subscription.Config) *subscription.Subscription {
	return e.hub.Subscribe(cfg)
}

// Unsubscribe removes a previously-registered subscription.
func (e *Engine) Unsubscribe(id string) bool {
	return e.hub.Unsubscribe(id)
}

// QueryAt, Timeline, Replay, TrackChanges, Compare and Origin expose
// internal/timetravel's façade over the engine's in-memory log, taking
// the read lock for a consistent snapshot per call.

func (e *Engine) QueryAt(entityID string, s schema.HyperSchema, ts int64) (*hyperview.View, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return timetravel.QueryAt(entityID, s, e.deltaLog, e.registry, ts)
}

func (e *Engine) Timeline(entityID string) []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return timetravel.Timeline(entityID, e.deltaLog)
}

func (e *Engine) Replay(entityID string, s schema.HyperSchema, from, to int64, maxSnapshots int) ([]*hyperview.View, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return timetravel.Replay(entityID, s, e.deltaLog, e.registry, from, to, maxSnapshots)
}

func (e *Engine) TrackChanges(entityID, property string) []delta.Delta {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return timetravel.TrackChanges(entityID, property, e.deltaLog)
}

func (e *Engine) Compare(entityID string, s schema.HyperSchema, t1, t2 int64) (*timetravel.Comparison, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return timetravel.Compare(entityID, s, e.deltaLog, e.registry, t1, t2)
}

func (e *Engine) Origin(entityID string) (delta.Delta, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return timetravel.Origin(entityID, e.deltaLog)
}

// ViewCacheStats reports the materialized-view cache's hit/miss/eviction
// counters.
func (e *Engine) ViewCacheStats() (hits, misses, evictions int64) {
	return e.views.Stats()
}

// LogLen reports how many deltas the engine has accepted, for
// diagnostics and tests.
func (e *Engine) LogLen() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.deltaLog)
}

func defaultClock() int64 {
	return time.Now().UnixMilli()
}
