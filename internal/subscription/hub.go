// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package subscription

import (
	"sync"
	"sync/atomic"

	"strconv"

	"github.com/rhizomedb/rhizomedb/internal/delta"
	"github.com/rhizomedb/rhizomedb/internal/query"
	"github.com/rhizomedb/rhizomedb/pkg/logging"
)

// Handler processes one delivered delta. A panic or error inside Handler
// is captured and logged; it never disrupts other subscribers or the
// write path (spec.md Errors: propagation policy).
type Handler func(delta.Delta) error

// Config configures one subscription at creation.
type Config struct {
	Filter        query.DeltaFilter
	Handler       Handler
	Capacity      int
	Policy        OverflowPolicy
	WarnThreshold float64 // fraction of capacity that triggers OnWarn; 0 disables
	OnWarn        func(Stats)
}

// Subscription is one registered filtered delivery stream.
type Subscription struct {
	id     string
	filter query.DeltaFilter
	handler Handler
	policy OverflowPolicy
	buf    *buffer

	paused atomic.Bool
	closed atomic.Bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// ID returns the subscription's id.
func (s *Subscription) ID() string { return s.id }

// Pause stops the drain loop from invoking Handler. Deltas continue to be
// accepted into the buffer while paused (spec.md §4.9).
func (s *Subscription) Pause() { s.paused.Store(true) }

// Resume resumes draining the buffer.
func (s *Subscription) Resume() {
	s.paused.Store(false)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Paused reports whether the subscription is currently paused.
func (s *Subscription) Paused() bool { return s.paused.Load() }

// Stats returns the subscription's buffer statistics.
func (s *Subscription) Stats() Stats { return s.buf.stats() }

func (s *Subscription) offer(d delta.Delta) error {
	if s.closed.Load() {
		return nil
	}
	err := s.buf.push(d, s.policy)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return err
}

func (s *Subscription) runLoop(log *logging.Logger) {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			if s.closed.Load() {
				return
			}
			if s.paused.Load() {
				break
			}
			d, ok := s.buf.pop()
			if !ok {
				break
			}
			if err := safeInvoke(s.handler, d); err != nil && log != nil {
				log.Warn("subscription handler error", "subscription_id", s.id, "error", err)
			}
		}
	}
}

func safeInvoke(h Handler, d delta.Delta) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return h(d)
}

type panicError struct{ v any }

func (p panicError) Error() string { return "subscription handler panicked" }

// Hub fans out newly-written deltas to every matching subscription, per
// spec.md §4.9; a paused subscription keeps buffering them. Delivery order across subscriptions is
// unspecified; within one subscription it is enqueue order.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
	next atomic.Int64
	log  *logging.Logger
}

// NewHub returns an empty hub. log may be nil to disable handler-error
// logging.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{subs: make(map[string]*Subscription), log: log}
}

// Subscribe registers a new subscription and starts its drain loop.
func (h *Hub) Subscribe(cfg Config) *Subscription {
	id := h.nextID()
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 256
	}
	sub := &Subscription{
		id: id, filter: cfg.Filter, handler: cfg.Handler, policy: cfg.Policy,
		buf:  newBuffer(capacity, cfg.Policy, cfg.WarnThreshold, cfg.OnWarn),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	go sub.runLoop(h.log)
	return sub
}

// Unsubscribe removes sub, stopping its drain loop and dropping its
// buffer.
func (h *Hub) Unsubscribe(id string) bool {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	h.mu.Unlock()

	if !ok {
		return false
	}
	sub.closed.Store(true)
	sub.once.Do(func() { close(sub.done) })
	return true
}

// Offer presents d to every current subscription whose filter matches
// it, enqueueing onto each match's buffer under its overflow policy.
// Per-subscription push errors (ErrorPolicy overflow) are returned keyed
// by subscription id; a push error for one subscription never prevents
// offering to the others.
func (h *Hub) Offer(d delta.Delta) map[string]error {
	h.mu.RLock()
	matched := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.filter.Matches(d) {
			matched = append(matched, sub)
		}
	}
	h.mu.RUnlock()

	var errs map[string]error
	for _, sub := range matched {
		if err := sub.offer(d); err != nil {
			if errs == nil {
				errs = make(map[string]error)
			}
			errs[sub.id] = err
		}
	}
	return errs
}

// Get returns the subscription registered under id, if any.
func (h *Hub) Get(id string) (*Subscription, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sub, ok := h.subs[id]
	return sub, ok
}

// Len returns the number of currently registered subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) nextID() string {
	n := h.next.Add(1)
	return "sub_" + strconv.FormatInt(n, 10)
}
