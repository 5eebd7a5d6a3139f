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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
	"github.com/AleutianAI/AleutianOLAP/services/olap/exprcache"
	"github.com/AleutianAI/AleutianOLAP/services/olap/resolve"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config configures a statement's evaluation.
type Config struct {
	// Policy selects solve-order resolution. Default: absolute.
	Policy resolve.Policy

	// RecursionCheckMultiplier sets how often the recursion guard scans:
	// once every hierarchy-count times this many log entries. Default: 8.
	RecursionCheckMultiplier int

	// VerifyCheckpoints records a checksum at every savepoint and checks it
	// on restore. Costs a hash per savepoint. Default: false.
	VerifyCheckpoints bool

	// NonEmpty is the initial non-empty flag of the root evaluator.
	NonEmpty bool

	// NativeEnabled is the initial native-evaluation flag.
	NativeEnabled bool

	// CacheEnabled turns the expression result cache on. Default: true.
	CacheEnabled bool

	// Workers bounds EvaluateCells parallelism. Default: 4.
	Workers int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Policy:                   resolve.PolicyAbsolute,
		RecursionCheckMultiplier: 8,
		NativeEnabled:            true,
		CacheEnabled:             true,
		Workers:                  4,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.RecursionCheckMultiplier <= 0 {
		return errors.New("recursion_check_multiplier must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.Policy != resolve.PolicyAbsolute && c.Policy != resolve.PolicyScoped {
		return fmt.Errorf("unknown solve order policy %d", int(c.Policy))
	}
	return nil
}

// Option customizes a RootContext.
type Option func(*RootContext)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *RootContext) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithCache shares an existing expression cache, for example one that lives
// as long as a connection. It overrides Config.CacheEnabled.
func WithCache(c *exprcache.Cache) Option {
	return func(r *RootContext) { r.cache = c }
}

// WithQueryID sets the statement id used in logs. Default: a random UUID.
func WithQueryID(id string) Option {
	return func(r *RootContext) {
		if id != "" {
			r.queryID = id
		}
	}
}

// -----------------------------------------------------------------------------
// Statistics
// -----------------------------------------------------------------------------

// Stats counts work done on behalf of one statement.
type Stats struct {
	Expansions        int64
	CellReads         int64
	Pushes            int64
	RecursionChecks   int64
	RecursionFailures int64
	ProvisionalClears int64
}

type rootStats struct {
	expansions        atomic.Int64
	cellReads         atomic.Int64
	pushes            atomic.Int64
	recursionChecks   atomic.Int64
	recursionFailures atomic.Int64
	provisionalClears atomic.Int64
}

func (s *rootStats) snapshot() Stats {
	return Stats{
		Expansions:        s.expansions.Load(),
		CellReads:         s.cellReads.Load(),
		Pushes:            s.pushes.Load(),
		RecursionChecks:   s.recursionChecks.Load(),
		RecursionFailures: s.recursionFailures.Load(),
		ProvisionalClears: s.provisionalClears.Load(),
	}
}

// -----------------------------------------------------------------------------
// RootContext
// -----------------------------------------------------------------------------

// RootContext is the per-statement state shared by every evaluator of that
// statement.
//
// Thread Safety: Safe for concurrent use by the evaluators of one statement.
// The evaluators themselves are not.
type RootContext struct {
	ctx     context.Context
	cfg     Config
	queryID string

	hierarchies []*dim.Hierarchy
	defaults    []*dim.Member
	nonAll      []int
	stride      int

	resolver resolve.Resolver
	reader   CellReader
	cache    *exprcache.Cache
	logger   *slog.Logger

	evaluator *Evaluator
	stats     rootStats
	published publishOnce
	started   time.Time
}

// NewRootContext bootstraps a statement.
//
// Description:
//
//	Reads the default member of every hierarchy from the catalog, records
//	which defaults are not All members, creates or attaches the expression
//	cache and builds the root evaluator positioned on the defaults.
//
// Inputs:
//
//	ctx - Cancellation for the whole statement. Checked cooperatively.
//	catalog - Hierarchies of the cube. Ordinals must be dense.
//	reader - Source of raw cell values.
//	cfg - Evaluation settings.
//	opts - Optional overrides.
//
// Outputs:
//
//	*RootContext - The statement context. Call Close when done.
//	error - Non-nil for a nil catalog or reader, invalid config, or a
//	        hierarchy without a default member.
func NewRootContext(ctx context.Context, catalog dim.Catalog, reader CellReader, cfg Config, opts ...Option) (*RootContext, error) {
	if ctx == nil {
		return nil, errors.New("context must not be nil")
	}
	if catalog == nil {
		return nil, ErrNilCatalog
	}
	if reader == nil {
		return nil, ErrNilReader
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, span := tracer.Start(ctx, "evaluator.NewRootContext")
	defer span.End()

	hierarchies := catalog.Hierarchies()
	if len(hierarchies) == 0 {
		err := errors.New("catalog has no hierarchies")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	r := &RootContext{
		ctx:         ctx,
		cfg:         cfg,
		queryID:     uuid.NewString(),
		hierarchies: hierarchies,
		defaults:    make([]*dim.Member, len(hierarchies)),
		resolver:    resolve.New(cfg.Policy),
		reader:      reader,
		logger:      slog.Default(),
		started:     time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil && cfg.CacheEnabled {
		r.cache = exprcache.New(exprcache.WithLogger(r.logger))
	}

	for i, h := range hierarchies {
		if h.Ordinal() != i {
			err := fmt.Errorf("hierarchy %s has ordinal %d at position %d", h.Name(), h.Ordinal(), i)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		def := h.DefaultMember()
		if def == nil {
			err := fmt.Errorf("hierarchy %s has no default member", h.Name())
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		r.defaults[i] = def
		if !def.IsAll() {
			r.nonAll = append(r.nonAll, i)
		}
	}
	r.stride = len(hierarchies) * cfg.RecursionCheckMultiplier
	r.evaluator = newRootEvaluator(r)

	span.SetAttributes(
		attribute.String("olap.query_id", r.queryID),
		attribute.Int("olap.hierarchies", len(hierarchies)),
		attribute.Int("olap.non_all_defaults", len(r.nonAll)),
		attribute.String("olap.solve_order_policy", cfg.Policy.String()),
	)
	r.logger.Debug("root context created",
		slog.String("query_id", r.queryID),
		slog.Int("hierarchies", len(hierarchies)),
		slog.Int("non_all_defaults", len(r.nonAll)),
		slog.String("solve_order_policy", cfg.Policy.String()))
	return r, nil
}

// Evaluator returns the root evaluator.
func (r *RootContext) Evaluator() *Evaluator { return r.evaluator }

// QueryID returns the statement id.
func (r *RootContext) QueryID() string { return r.queryID }

// Context returns the statement's cancellation context.
func (r *RootContext) Context() context.Context { return r.ctx }

// Config returns the evaluation settings.
func (r *RootContext) Config() Config { return r.cfg }

// Cache returns the expression cache, or nil when caching is off.
func (r *RootContext) Cache() *exprcache.Cache { return r.cache }

// DefaultMember returns the default member of the hierarchy at ordinal.
func (r *RootContext) DefaultMember(ordinal int) *dim.Member { return r.defaults[ordinal] }

// NonAllOrdinals returns the ordinals whose default member is not the All
// member. The result must not be modified.
func (r *RootContext) NonAllOrdinals() []int { return r.nonAll }

// HierarchyCount returns the number of hierarchies.
func (r *RootContext) HierarchyCount() int { return len(r.hierarchies) }

// Stats returns the statement's counters so far.
func (r *RootContext) Stats() Stats { return r.stats.snapshot() }

// NextPass ends an evaluation pass.
//
// Description:
//
//	If the cell reader used placeholder data during the pass, the cache's
//	provisional entries are dropped so the next pass recomputes them, and
//	a reader that implements BatchLoader loads what it deferred. Valid
//	entries are kept.
//
// Outputs:
//
//	bool - True if the reader was dirty and another pass is needed.
//	error - The loader's error, or ErrCancelled.
func (r *RootContext) NextPass() (bool, error) {
	if !r.reader.IsDirty() {
		return false, nil
	}
	if err := r.ctx.Err(); err != nil {
		return false, cancelled(err)
	}
	if r.cache != nil {
		dropped := r.cache.ClearProvisional(r.ctx)
		r.stats.provisionalClears.Add(1)
		r.logger.Warn("provisional cache entries dropped",
			slog.String("query_id", r.queryID),
			slog.Int("dropped", dropped))
	}
	if loader, ok := r.reader.(BatchLoader); ok {
		if err := loader.LoadPending(r.ctx); err != nil {
			return false, fmt.Errorf("loading pending cells: %w", err)
		}
	}
	return true, nil
}

// Guard runs fn and converts an *InvariantError panic into an error.
//
// Description:
//
//	For the statement executor: a programming-invariant violation aborts
//	the statement with a clear message instead of crashing the process.
//	Other panics are re-raised. Nothing is retried.
func (r *RootContext) Guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			ie, ok := p.(*InvariantError)
			if !ok {
				panic(p)
			}
			r.logger.Error("evaluation invariant violated",
				slog.String("query_id", r.queryID),
				slog.String("error", ie.Msg))
			err = ie
		}
	}()
	return fn()
}

// EvaluateCells evaluates independent coordinates in parallel branches.
//
// Description:
//
//	Each cell gets its own child of the root evaluator, positioned on the
//	cell's members. Branches share the expression cache. The first failure
//	cancels branches that have not yet reached a cancellation check.
//	The root evaluator must not be mutated while this runs.
//
// Inputs:
//
//	cells - Coordinates; each entry lists the members to set.
//	workers - Maximum concurrent branches. Zero uses Config.Workers.
//
// Outputs:
//
//	[]any - Values in cells order; nil for empty cells.
//	error - The first failure.
func (r *RootContext) EvaluateCells(cells []dim.Tuple, workers int) ([]any, error) {
	if workers <= 0 {
		workers = r.cfg.Workers
	}
	ctx, span := tracer.Start(r.ctx, "evaluator.EvaluateCells")
	defer span.End()
	span.SetAttributes(
		attribute.String("olap.query_id", r.queryID),
		attribute.Int("olap.cells", len(cells)),
		attribute.Int("olap.workers", workers),
	)

	results := make([]any, len(cells))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, cell := range cells {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return cancelled(err)
			}
			branch := r.evaluator.PushWithContext(gctx)
			branch.SetContextTuple(cell)
			return r.Guard(func() error {
				v, err := branch.EvaluateCurrent()
				if err != nil {
					return fmt.Errorf("cell %d %s: %w", i, cell, err)
				}
				results[i] = v
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return results, nil
}

// Close publishes the statement's statistics and logs a summary. Safe to
// call more than once.
func (r *RootContext) Close() Stats {
	s := r.stats.snapshot()
	lifetime := time.Since(r.started)
	r.published.publish(s, lifetime)

	attrs := []any{
		slog.String("query_id", r.queryID),
		slog.Int64("expansions", s.Expansions),
		slog.Int64("cell_reads", s.CellReads),
		slog.Int64("pushes", s.Pushes),
		slog.Int64("recursion_checks", s.RecursionChecks),
		slog.Duration("duration", lifetime),
	}
	if r.cache != nil {
		cs := r.cache.Stats()
		attrs = append(attrs,
			slog.Int("cache_valid", cs.Valid),
			slog.Int("cache_provisional", cs.Provisional),
			slog.Int64("cache_hits", cs.Hits),
			slog.Int64("cache_misses", cs.Misses))
	}
	r.logger.Info("statement evaluation finished", attrs...)
	return s
}
