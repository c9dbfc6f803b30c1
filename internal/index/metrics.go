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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("rhizomedb.index")

var (
	candidateLatency metric.Float64Histogram
	candidateResults metric.Int64Histogram
	fullScanFallback metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		candidateLatency, err = meter.Float64Histogram(
			"index_candidate_duration_seconds",
			metric.WithDescription("Duration of CandidateIDs planning"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		candidateResults, err = meter.Int64Histogram(
			"index_candidate_results",
			metric.WithDescription("Number of candidate ids returned per CandidateIDs call"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fullScanFallback, err = meter.Int64Counter(
			"index_full_scan_fallback_total",
			metric.WithDescription("Count of filters with no indexed field, forcing a full scan"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordCandidateQuery records planner latency and result cardinality for
// observability. Never returns an error: metrics failures must not affect
// query correctness.
func recordCandidateQuery(ctx context.Context, duration time.Duration, resultCount int, ok bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("indexed", ok))
	candidateLatency.Record(ctx, duration.Seconds(), attrs)
	if ok {
		candidateResults.Record(ctx, int64(resultCount), attrs)
	} else {
		fullScanFallback.Add(ctx, 1)
	}
}
