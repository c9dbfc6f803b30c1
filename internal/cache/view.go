// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/hyperview"
	"github.com/rhizomedb/rhizomedb/internal/schema"
)

// StalenessReason indicates why a materialized view entry is no longer
// trustworthy as-is, per spec.md §4.7.
type StalenessReason string

const (
	// StalenessNone indicates the entry is current.
	StalenessNone StalenessReason = ""
	// StalenessOrphanSchema indicates schema_id is no longer registered.
	StalenessOrphanSchema StalenessReason = "orphan_schema"
	// StalenessFingerprintDrift indicates the registry's current schema
	// fingerprint no longer matches the one stored on the entry.
	StalenessFingerprintDrift StalenessReason = "fingerprint_drift"
	// StalenessVersionExceeded indicates the registry's schema version
	// is newer than the one stored on the entry.
	StalenessVersionExceeded StalenessReason = "version_exceeded"
)

var (
	viewCacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rhizomedb_view_cache_requests_total",
		Help: "Materialized HyperView cache lookups by outcome",
	}, []string{"outcome"})

	viewCacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rhizomedb_view_cache_evictions_total",
		Help: "Materialized HyperView cache entries evicted by LRU pressure",
	})

	viewCacheStaleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rhizomedb_view_cache_stale_total",
		Help: "Materialized HyperView cache entries found stale by reason",
	}, []string{"reason"})
)

// Key identifies a materialized view cache entry, per spec.md §4.7: a
// bounded LRU keyed by (entity_id, schema_id).
type Key struct {
	EntityID string
	SchemaID string
}

// MaterializedHyperView is a HyperView plus the metadata spec.md §3 uses
// to decide whether the entry is still trustworthy without recomputing it.
type MaterializedHyperView struct {
	View              *hyperview.View
	SchemaID          string
	SchemaFingerprint string
	SchemaVersion     int
	LastUpdated       int64
	DeltaCount        int
}

// Registry is the read surface get_or_rebuild needs from a schema registry.
type Registry interface {
	Get(id string) (schema.HyperSchema, error)
}

// Store is a materialized-view LRU cache. It wraps LRUCache[Key,
// *MaterializedHyperView] with the staleness check and rebuild-on-miss
// logic from spec.md §4.7.
type Store struct {
	cache *LRUCache[Key, *MaterializedHyperView]
	clock func() int64
}

// NewStore returns a Store backed by an LRU of the given capacity. clock
// supplies LastUpdated timestamps; callers should normally pass
// time.Now().UnixMilli. A nil clock stamps every entry with 0, which is
// fine for tests that don't assert on LastUpdated.
func NewStore(capacity int, clock func() int64) *Store {
	return &Store{cache: NewLRUCache[Key, *MaterializedHyperView](capacity), clock: clock}
}

// checkStaleness reports why entry is no longer valid against registry's
// current view of its schema, or StalenessNone if it is still valid.
func checkStaleness(entry *MaterializedHyperView, registry Registry) (StalenessReason, error) {
	s, err := registry.Get(entry.SchemaID)
	if err != nil {
		return StalenessOrphanSchema, nil
	}

	if s.Version > entry.SchemaVersion {
		return StalenessVersionExceeded, nil
	}

	currentFingerprint := schema.Fingerprint(s)
	if currentFingerprint != entry.SchemaFingerprint {
		return StalenessFingerprintDrift, nil
	}

	return StalenessNone, nil
}

// GetOrRebuild returns the cached view for (entityID, schemaID) if one
// exists and is not stale, otherwise projects a fresh HyperView, caches
// it, and returns it. asOfTs is the as-of timestamp passed to the
// projector; log is the delta log to project over.
func (s *Store) GetOrRebuild(
	ctx context.Context,
	entityID, schemaID string,
	log []delta.Delta,
	registry Registry,
	asOfTs int64,
) (*MaterializedHyperView, error) {
	key := Key{EntityID: entityID, SchemaID: schemaID}

	if entry, ok := s.cache.Get(key); ok {
		reason, err := checkStaleness(entry, registry)
		if err != nil {
			return nil, err
		}
		if reason == StalenessNone {
			viewCacheRequestsTotal.WithLabelValues("hit").Inc()
			return entry, nil
		}
		viewCacheStaleTotal.WithLabelValues(string(reason)).Inc()
	}

	viewCacheRequestsTotal.WithLabelValues("miss").Inc()

	sc, err := registry.Get(schemaID)
	if err != nil {
		return nil, fmt.Errorf("cache: resolving schema %q: %w", schemaID, err)
	}

	view, err := hyperview.Project(entityID, sc, log, registry, asOfTs)
	if err != nil {
		return nil, fmt.Errorf("cache: projecting (%q, %q): %w", entityID, schemaID, err)
	}

	entry := &MaterializedHyperView{
		View:              view,
		SchemaID:          schemaID,
		SchemaFingerprint: schema.Fingerprint(sc),
		SchemaVersion:     sc.Version,
		LastUpdated:       s.now(),
		DeltaCount:        len(log),
	}

	before := s.cache.Evictions()
	s.cache.Set(key, entry)
	if after := s.cache.Evictions(); after > before {
		viewCacheEvictionsTotal.Add(float64(after - before))
	}

	return entry, nil
}

// Invalidate drops the cache entry for (entityID, schemaID), if present.
func (s *Store) Invalidate(entityID, schemaID string) bool {
	return s.cache.Delete(Key{EntityID: entityID, SchemaID: schemaID})
}

// Stats returns cumulative hit/miss/eviction counters for the store.
func (s *Store) Stats() (hits, misses, evictions int64) {
	hits, misses = s.cache.Stats()
	return hits, misses, s.cache.Evictions()
}

func (s *Store) now() int64 {
	if s.clock != nil {
		return s.clock()
	}
	return 0
}
