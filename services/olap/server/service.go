// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianOLAP/services/olap/config"
	"github.com/AleutianAI/AleutianOLAP/services/olap/cube"
	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
	"github.com/AleutianAI/AleutianOLAP/services/olap/evaluator"
	"github.com/AleutianAI/AleutianOLAP/services/olap/exprcache"
	"github.com/AleutianAI/AleutianOLAP/services/olap/storage/badger"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilCube is returned when a Service is created without a cube.
	ErrNilCube = errors.New("cube must not be nil")

	// ErrInvalidCell is returned when a requested cell cannot be resolved.
	ErrInvalidCell = errors.New("invalid cell")

	// ErrUnknownCalculation is returned when a statement names a calculated
	// tuple the cube does not declare.
	ErrUnknownCalculation = errors.New("unknown calculated tuple")

	// ErrNoCells is returned for a statement with nothing to evaluate.
	ErrNoCells = errors.New("no cells requested")

	// ErrTooManyPasses is returned when the reader keeps deferring cells
	// after MaxPasses passes.
	ErrTooManyPasses = errors.New("too many evaluation passes")

	// ErrClosed is returned by Evaluate after Close.
	ErrClosed = errors.New("service closed")
)

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

// DefaultMaxPasses bounds the multi-pass loop of one statement.
const DefaultMaxPasses = 8

// Options configures a Service.
type Options struct {
	// Logger receives statement events. Default: slog.Default().
	Logger *slog.Logger

	// MaxPasses bounds evaluation passes per statement. Zero uses
	// DefaultMaxPasses.
	MaxPasses int
}

// Statement is one evaluation request.
type Statement struct {
	// QueryID labels the statement in logs and metrics. Empty generates one.
	QueryID string

	// Cells lists coordinates as member unique names.
	Cells [][]string

	// Workers bounds parallel cell branches. Zero uses the configured value.
	Workers int

	// Calculations names calculated tuples of the cube to activate for
	// every cell of the statement, in activation order.
	Calculations []string
}

// Result is the outcome of one statement.
type Result struct {
	QueryID string
	Values  []any
	Passes  int
	Stats   evaluator.Stats
	Cache   *exprcache.Stats
}

// Service runs statements against one cube.
//
// Thread Safety: Safe for concurrent use. Statements run independently and
// share only the cube's reader and, when configured, the expression cache.
type Service struct {
	cube      *cube.Cube
	cfg       config.Config
	evalCfg   evaluator.Config
	maxPasses int
	logger    *slog.Logger

	db     *badger.DB
	store  exprcache.Store
	shared *exprcache.Cache

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewService creates a Service.
//
// Description:
//
//	Converts the evaluation settings, opens the persistent cache tier when
//	cfg.Cache.PersistPath is set, and creates the shared cache when
//	cfg.Cache.Shared is set. Without a shared cache every statement gets a
//	fresh cache, still backed by the persistent tier if there is one.
//
// Inputs:
//
//	c - The cube. Must not be nil.
//	cfg - Validated configuration.
//	opts - Service options.
//
// Outputs:
//
//	*Service - The service. Caller must call Close().
//	error - ErrNilCube, a configuration error, or a Badger open failure.
func NewService(c *cube.Cube, cfg config.Config, opts Options) (*Service, error) {
	if c == nil {
		return nil, ErrNilCube
	}
	evalCfg, err := cfg.EvaluatorConfig()
	if err != nil {
		return nil, fmt.Errorf("evaluator config: %w", err)
	}
	if err := evalCfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cube:      c,
		cfg:       cfg,
		evalCfg:   evalCfg,
		maxPasses: opts.MaxPasses,
		logger:    logger.With(slog.String("cube", c.Name)),
	}
	if s.maxPasses <= 0 {
		s.maxPasses = DefaultMaxPasses
	}

	if cfg.Cache.Enabled && cfg.Cache.PersistPath != "" {
		bcfg := badger.DefaultConfig(cfg.Cache.PersistPath)
		bcfg.Logger = s.logger
		db, err := badger.Open(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open cache store: %w", err)
		}
		store, err := exprcache.NewBadgerStore(db, cfg.Cache.Namespace, cfg.Cache.TTL)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.db = db
		s.store = store
		s.logger.Info("persistent cache tier opened",
			slog.String("path", cfg.Cache.PersistPath),
			slog.Duration("ttl", cfg.Cache.TTL))
	}
	if cfg.Cache.Enabled && cfg.Cache.Shared {
		s.shared = s.newCache()
	}
	return s, nil
}

func (s *Service) newCache() *exprcache.Cache {
	opts := []exprcache.Option{exprcache.WithLogger(s.logger)}
	if s.store != nil {
		opts = append(opts, exprcache.WithStore(s.store))
	}
	return exprcache.New(opts...)
}

// Cube returns the served cube.
func (s *Service) Cube() *cube.Cube { return s.cube }

// SharedCache returns the cross-statement cache, or nil.
func (s *Service) SharedCache() *exprcache.Cache { return s.shared }

// Evaluate runs one statement.
//
// Description:
//
//	Resolves every cell and named calculated tuple, activates the tuples on
//	a fresh root context, then evaluates all cells in parallel branches. When the reader deferred cells during a pass,
//	provisional cache entries are dropped and the whole statement runs
//	again, up to MaxPasses times. The configured evaluation timeout bounds
//	the statement.
//
// Inputs:
//
//	ctx - Request context.
//	st - The statement.
//
// Outputs:
//
//	*Result - Values in cell order (nil for empty cells) and statistics.
//	error - ErrNoCells, ErrInvalidCell, ErrUnknownCalculation,
//	        ErrTooManyPasses, ErrClosed, or an
//	        evaluation error (evaluator.ErrInfiniteRecursion,
//	        evaluator.ErrResourceLimit, evaluator.ErrCancelled,
//	        *evaluator.InvariantError).
func (s *Service) Evaluate(ctx context.Context, st Statement) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(st.Cells) == 0 {
		return nil, ErrNoCells
	}

	cells := make([]dim.Tuple, len(st.Cells))
	for i, names := range st.Cells {
		t, err := s.cube.ParseTuple(names)
		if err != nil {
			return nil, fmt.Errorf("%w %d: %w", ErrInvalidCell, i, err)
		}
		cells[i] = t
	}
	calcs := make([]*dim.Calculation, len(st.Calculations))
	for i, name := range st.Calculations {
		ct, ok := s.cube.CalculatedTuple(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCalculation, name)
		}
		calcs[i] = ct.Calculation
	}

	if timeout := s.cfg.Evaluation.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	queryID := st.QueryID
	if queryID == "" {
		queryID = uuid.NewString()
	}
	logger := s.logger.With(slog.String("query_id", queryID))

	opts := []evaluator.Option{
		evaluator.WithLogger(logger),
		evaluator.WithQueryID(queryID),
	}
	if s.shared != nil {
		opts = append(opts, evaluator.WithCache(s.shared))
	} else if s.cfg.Cache.Enabled {
		opts = append(opts, evaluator.WithCache(s.newCache()))
	}

	root, err := evaluator.NewRootContext(ctx, s.cube.Catalog, s.cube.Reader, s.evalCfg, opts...)
	if err != nil {
		return nil, err
	}

	for _, c := range calcs {
		root.Evaluator().AddCalculation(c)
	}

	res := &Result{QueryID: queryID}
	for {
		res.Passes++
		values, err := root.EvaluateCells(cells, st.Workers)
		if err != nil {
			root.Close()
			return nil, err
		}
		more, err := root.NextPass()
		if err != nil {
			root.Close()
			return nil, err
		}
		if !more {
			res.Values = values
			break
		}
		if res.Passes >= s.maxPasses {
			root.Close()
			return nil, fmt.Errorf("%w: %d", ErrTooManyPasses, res.Passes)
		}
		logger.Debug("statement needs another pass", slog.Int("pass", res.Passes))
	}

	res.Stats = root.Close()
	if c := root.Cache(); c != nil {
		cs := c.Stats()
		res.Cache = &cs
	}
	return res, nil
}

// Close waits for running statements and releases the persistent tier.
// Safe to call more than once.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.db != nil {
			err = s.db.Close()
		}
	})
	return err
}
