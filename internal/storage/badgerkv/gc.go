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
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/rhizomedb/rhizomedb/pkg/logging"
)

// GCRunner periodically invokes badger's value-log garbage collection on a
// ticker. Badger's RunValueLogGC is a no-op (returning badger.ErrNoRewrite)
// when there is nothing to reclaim, so the runner simply ignores that
// error and keeps ticking.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	log      *logging.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewGCRunner validates its arguments and returns a runner for db. logger
// may be nil, in which case logging.Default() is used.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *logging.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("badgerkv: db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("badgerkv: interval must be positive")
	}
	if ratio <= 0 || ratio > 1 {
		return nil, errors.New("badgerkv: ratio must be between 0 and 1")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		log:      logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins the background GC loop. Safe to call at most once.
func (r *GCRunner) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.runOnce()
			}
		}
	}()
}

func (r *GCRunner) runOnce() {
	// Badger recommends looping until it reports no further rewrite is
	// possible, to reclaim as much of the value log as one cycle can.
	for {
		err := r.db.RunValueLogGC(r.ratio)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) {
			r.log.Warn("badger value log gc failed", "error", err)
		}
		return
	}
}

// Stop halts the background loop and waits for it to exit. Idempotent.
func (r *GCRunner) Stop() {
	r.once.Do(func() {
		close(r.stop)
	})
	<-r.done
}
