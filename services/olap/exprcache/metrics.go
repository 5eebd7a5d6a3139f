// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package exprcache

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for expression cache operations.
var meter = otel.Meter("aleutian.olap.exprcache")

// Metrics for expression cache operations.
var (
	cacheHits            metric.Int64Counter
	cacheMisses          metric.Int64Counter
	cacheProvisionalPuts metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// cacheEntries is refreshed whenever a cache is cleared.
var cacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "olap_expr_cache_entries",
	Help: "Entries held by the most recently cleared expression cache, by tier",
}, []string{"tier"})

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"olap_expr_cache_hits_total",
			metric.WithDescription("Total number of expression cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"olap_expr_cache_misses_total",
			metric.WithDescription("Total number of expression cache misses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheProvisionalPuts, err = meter.Int64Counter(
			"olap_expr_cache_provisional_puts_total",
			metric.WithDescription("Entries written while the aggregate source missed"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHits.Add(ctx, 1)
}

func recordMiss(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(ctx, 1)
}

func recordProvisionalPut(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheProvisionalPuts.Add(ctx, 1)
}

func recordEntries(c *Cache) {
	s := c.Stats()
	cacheEntries.WithLabelValues("valid").Set(float64(s.Valid))
	cacheEntries.WithLabelValues("provisional").Set(float64(s.Provisional))
}
