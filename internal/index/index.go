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
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rhizomedb/rhizomedb/internal/delta"
)

type idSet map[string]struct{}

func newIDSet(ids ...string) idSet {
	s := make(idSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s idSet) slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func intersect(sets []idSet) idSet {
	if len(sets) == 0 {
		return nil
	}
	smallest := sets[0]
	for _, s := range sets[1:] {
		if len(s) < len(smallest) {
			smallest = s
		}
	}
	out := make(idSet, len(smallest))
	for id := range smallest {
		inAll := true
		for _, s := range sets {
			if _, ok := s[id]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			out[id] = struct{}{}
		}
	}
	return out
}

type timestampEntry struct {
	timestamp int64
	id        string
}

// Set maintains the five secondary indexes described in spec.md §4.3.
type Set struct {
	mu sync.RWMutex

	byTargetID      map[string]idSet
	byTargetContext map[string]idSet
	byAuthor        map[string]idSet
	bySystem        map[string]idSet
	byTimestamp     []timestampEntry // kept sorted by timestamp
}

// New returns an empty index set.
func New() *Set {
	return &Set{
		byTargetID:      make(map[string]idSet),
		byTargetContext: make(map[string]idSet),
		byAuthor:        make(map[string]idSet),
		bySystem:        make(map[string]idSet),
	}
}

// Add indexes d under every bucket it touches. Idempotent: adding the same
// delta twice leaves the indexes unchanged beyond the first insertion.
func (s *Set) Add(d delta.Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addTo(s.byAuthor, d.Author, d.ID)
	addTo(s.bySystem, d.System, d.ID)

	seenTargets := make(map[string]bool)
	for _, p := range d.Pointers {
		if p.Target.IsEntity() && !seenTargets[p.Target.EntityID] {
			seenTargets[p.Target.EntityID] = true
			addTo(s.byTargetID, p.Target.EntityID, d.ID)
		}
		if p.TargetContext != nil {
			addTo(s.byTargetContext, *p.TargetContext, d.ID)
		}
	}

	s.insertTimestamp(d.Timestamp, d.ID)
}

func addTo(m map[string]idSet, key, id string) {
	if key == "" {
		return
	}
	set, ok := m[key]
	if !ok {
		set = make(idSet)
		m[key] = set
	}
	set[id] = struct{}{}
}

func (s *Set) insertTimestamp(ts int64, id string) {
	i := sort.Search(len(s.byTimestamp), func(i int) bool {
		return s.byTimestamp[i].timestamp >= ts
	})
	for j := i; j < len(s.byTimestamp) && s.byTimestamp[j].timestamp == ts; j++ {
		if s.byTimestamp[j].id == id {
			return
		}
	}
	entry := timestampEntry{timestamp: ts, id: id}
	s.byTimestamp = append(s.byTimestamp, timestampEntry{})
	copy(s.byTimestamp[i+1:], s.byTimestamp[i:])
	s.byTimestamp[i] = entry
}

// Remove tears down every index entry d contributed. Used when a delta is
// evicted from the log (compaction, GC) rather than on ordinary teardown,
// since deltas are otherwise immutable and permanent.
func (s *Set) Remove(d delta.Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removeFrom(s.byAuthor, d.Author, d.ID)
	removeFrom(s.bySystem, d.System, d.ID)

	for _, p := range d.Pointers {
		if p.Target.IsEntity() {
			removeFrom(s.byTargetID, p.Target.EntityID, d.ID)
		}
		if p.TargetContext != nil {
			removeFrom(s.byTargetContext, *p.TargetContext, d.ID)
		}
	}

	for i, entry := range s.byTimestamp {
		if entry.id == d.ID && entry.timestamp == d.Timestamp {
			s.byTimestamp = append(s.byTimestamp[:i], s.byTimestamp[i+1:]...)
			break
		}
	}
}

func removeFrom(m map[string]idSet, key, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}

// TimestampRange bounds a CandidateIDs query by delta timestamp, inclusive
// on both ends when set.
type TimestampRange struct {
	From *int64
	To   *int64
}

// Filter narrows CandidateIDs to ids satisfying every populated field.
// A zero Filter matches nothing special — CandidateIDs reports !ok for it,
// signaling a full scan is required.
type Filter struct {
	Authors        []string
	Systems        []string
	TargetIDs      []string
	TargetContexts []string
	Timestamps     *TimestampRange
}

func (f Filter) empty() bool {
	return len(f.Authors) == 0 && len(f.Systems) == 0 && len(f.TargetIDs) == 0 &&
		len(f.TargetContexts) == 0 && f.Timestamps == nil
}

// CandidateIDs returns the set of delta ids satisfying every indexed field
// named in filter, or ok=false if filter names no indexed field (spec.md:
// "None if no indexed field appears in the filter — caller must
// full-scan"). Per-field candidate sets are built concurrently via
// errgroup when more than one field is named.
func (s *Set) CandidateIDs(ctx context.Context, filter Filter) (ids []string, ok bool) {
	start := time.Now()
	defer func() {
		recordCandidateQuery(ctx, time.Since(start), len(ids), ok)
	}()

	if filter.empty() {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type fieldResult struct {
		set idSet
	}
	var jobs []func() (idSet, error)

	if len(filter.Authors) > 0 {
		jobs = append(jobs, func() (idSet, error) { return s.unionMulti(s.byAuthor, filter.Authors), nil })
	}
	if len(filter.Systems) > 0 {
		jobs = append(jobs, func() (idSet, error) { return s.unionMulti(s.bySystem, filter.Systems), nil })
	}
	if len(filter.TargetIDs) > 0 {
		jobs = append(jobs, func() (idSet, error) { return s.unionMulti(s.byTargetID, filter.TargetIDs), nil })
	}
	if len(filter.TargetContexts) > 0 {
		jobs = append(jobs, func() (idSet, error) { return s.unionMulti(s.byTargetContext, filter.TargetContexts), nil })
	}
	if filter.Timestamps != nil {
		jobs = append(jobs, func() (idSet, error) { return s.rangeTimestamps(*filter.Timestamps), nil })
	}

	results := make([]fieldResult, len(jobs))
	g, _ := errgroup.WithContext(ctx)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			set, err := job()
			results[i] = fieldResult{set: set}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false
	}

	sets := make([]idSet, len(results))
	for i, r := range results {
		sets[i] = r.set
	}
	return intersect(sets).slice(), true
}

func (s *Set) unionMulti(m map[string]idSet, keys []string) idSet {
	out := make(idSet)
	for _, k := range keys {
		for id := range m[k] {
			out[id] = struct{}{}
		}
	}
	return out
}

func (s *Set) rangeTimestamps(r TimestampRange) idSet {
	out := make(idSet)
	for _, entry := range s.byTimestamp {
		if r.From != nil && entry.timestamp < *r.From {
			continue
		}
		if r.To != nil && entry.timestamp > *r.To {
			continue
		}
		out[entry.id] = struct{}{}
	}
	return out
}
