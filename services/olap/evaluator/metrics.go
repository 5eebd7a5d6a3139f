// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// Tracer for root context lifecycle and parallel evaluation.
var tracer = otel.Tracer("aleutian.olap.evaluator")

// Prometheus metrics for statement evaluation. Counters are published once
// per statement from RootContext.Close so the per-cell path stays free of
// shared metric updates.
var (
	expansionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "olap_eval_expansions_total",
		Help: "Calculated member and tuple expansions",
	})

	cellReadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "olap_eval_cell_reads_total",
		Help: "Raw cell reads delegated to the cell reader",
	})

	pushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "olap_eval_pushes_total",
		Help: "Child evaluation contexts created",
	})

	recursionChecksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "olap_eval_recursion_checks_total",
		Help: "Recursion guard scans performed",
	})

	recursionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "olap_eval_recursion_failures_total",
		Help: "Statements failed by the recursion guard",
	})

	statementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "olap_eval_statement_duration_seconds",
		Help:    "Lifetime of root evaluation contexts",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})
)

// publishOnce guards against double publication when Close is called twice.
type publishOnce struct {
	once sync.Once
}

func (p *publishOnce) publish(s Stats, lifetime time.Duration) {
	p.once.Do(func() {
		expansionsTotal.Add(float64(s.Expansions))
		cellReadsTotal.Add(float64(s.CellReads))
		pushesTotal.Add(float64(s.Pushes))
		recursionChecksTotal.Add(float64(s.RecursionChecks))
		recursionFailuresTotal.Add(float64(s.RecursionFailures))
		statementDuration.Observe(lifetime.Seconds())
	})
}
