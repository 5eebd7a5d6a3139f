// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cellreader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
	"github.com/AleutianAI/AleutianOLAP/services/olap/evaluator"
)

var (
	// ErrIncompleteFact is returned when a fact does not name one member per
	// hierarchy.
	ErrIncompleteFact = errors.New("fact must name one member per hierarchy")

	// ErrAggregateFact is returned when a fact is placed on an All member or a
	// calculated member.
	ErrAggregateFact = errors.New("fact must be placed on stored leaf members")
)

// Config configures a MapReader.
type Config struct {
	// Hierarchies is the number of hierarchies in the cube. Required.
	Hierarchies int

	// MaxRows caps the number of facts one aggregated read may scan.
	// Zero means no limit.
	MaxRows int

	// Logger receives pass-level events. Default: slog.Default().
	Logger *slog.Logger
}

type fact struct {
	members []*dim.Member
	value   float64
}

// MapReader is an in-memory evaluator.CellReader.
//
// Thread Safety: Safe for concurrent use.
type MapReader struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	facts   []fact
	index   map[string]int
	pending map[*dim.Member]bool

	reads  atomic.Int64
	misses atomic.Int64
	dirty  atomic.Bool
}

// New creates an empty reader.
func New(cfg Config) (*MapReader, error) {
	if cfg.Hierarchies <= 0 {
		return nil, fmt.Errorf("hierarchies must be positive, got %d", cfg.Hierarchies)
	}
	if cfg.MaxRows < 0 {
		return nil, fmt.Errorf("max rows must not be negative, got %d", cfg.MaxRows)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MapReader{
		cfg:     cfg,
		logger:  logger,
		index:   make(map[string]int),
		pending: make(map[*dim.Member]bool),
	}, nil
}

// Put stores value at the coordinate given by members, one per hierarchy in
// any order. A second Put on the same coordinate replaces the value.
func (r *MapReader) Put(value float64, members ...*dim.Member) error {
	if len(members) != r.cfg.Hierarchies {
		return fmt.Errorf("%w: got %d of %d", ErrIncompleteFact, len(members), r.cfg.Hierarchies)
	}
	coord := make([]*dim.Member, r.cfg.Hierarchies)
	for _, m := range members {
		if m == nil {
			return fmt.Errorf("%w: nil member", ErrIncompleteFact)
		}
		if m.IsAll() || m.IsCalculated() {
			return fmt.Errorf("%w: %s", ErrAggregateFact, m)
		}
		o := m.Ordinal()
		if o >= len(coord) || coord[o] != nil {
			return fmt.Errorf("%w: duplicate or unknown hierarchy for %s", ErrIncompleteFact, m)
		}
		coord[o] = m
	}

	key := coordKey(coord)
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[key]; ok {
		r.facts[i].value = value
		return nil
	}
	r.index[key] = len(r.facts)
	r.facts = append(r.facts, fact{members: coord, value: value})
	return nil
}

// Defer makes aggregated reads of measure return no data and count as a
// miss until LoadPending runs.
func (r *MapReader) Defer(measure *dim.Member) {
	r.mu.Lock()
	r.pending[measure] = true
	r.mu.Unlock()
}

// Len returns the number of facts.
func (r *MapReader) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.facts)
}

// Reads returns the number of Get calls so far.
func (r *MapReader) Reads() int64 { return r.reads.Load() }

// MissCount implements evaluator.CellReader.
func (r *MapReader) MissCount() int64 { return r.misses.Load() }

// IsDirty implements evaluator.CellReader.
func (r *MapReader) IsDirty() bool { return r.dirty.Load() }

// LoadPending implements evaluator.BatchLoader. Deferred measures become
// readable and the dirty flag is reset.
func (r *MapReader) LoadPending(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	n := len(r.pending)
	clear(r.pending)
	r.mu.Unlock()
	r.dirty.Store(false)
	r.logger.Debug("deferred cells loaded", slog.Int("measures", n))
	return nil
}

// Get implements evaluator.CellReader.
//
// Description:
//
//	A coordinate made of stored leaf members with no aggregation list is an
//	index lookup. Otherwise the facts are scanned: All members match any
//	member of their hierarchy, and each aggregation list matches a fact if
//	any of its tuples does. An empty list matches every fact. Matching
//	values are summed.
//
// Outputs:
//
//	any - float64 sum, or nil when nothing matched.
//	bool - False when no fact matched or the read was deferred.
//	error - Wraps evaluator.ErrResourceLimit when MaxRows is exceeded.
func (r *MapReader) Get(cell *evaluator.Evaluator) (any, bool, error) {
	r.reads.Add(1)
	coord := cell.Members()
	lists := cell.AggregationLists()

	if len(lists) == 0 && isLeaf(coord) {
		r.mu.RLock()
		i, ok := r.index[coordKey(coord)]
		var v float64
		if ok {
			v = r.facts[i].value
		}
		r.mu.RUnlock()
		if !ok {
			return nil, false, nil
		}
		return v, true, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.pending[coord[dim.MeasuresOrdinal]] {
		r.misses.Add(1)
		r.dirty.Store(true)
		return nil, false, nil
	}
	if r.cfg.MaxRows > 0 && len(r.facts) > r.cfg.MaxRows {
		return nil, false, fmt.Errorf("%w: aggregating %s would scan %d rows, limit %d",
			evaluator.ErrResourceLimit, dim.Tuple(coord), len(r.facts), r.cfg.MaxRows)
	}

	var (
		sum   float64
		found bool
	)
	for i := range r.facts {
		f := &r.facts[i]
		if matches(f.members, coord, lists) {
			sum += f.value
			found = true
		}
	}
	if !found {
		return nil, false, nil
	}
	return sum, true, nil
}

func isLeaf(coord []*dim.Member) bool {
	for _, m := range coord {
		if m.IsAll() {
			return false
		}
	}
	return true
}

func matches(fm, coord []*dim.Member, lists [][]dim.Tuple) bool {
	for o, m := range coord {
		if !m.IsAll() && fm[o] != m {
			return false
		}
	}
	for _, list := range lists {
		if len(list) > 0 && !matchesAny(fm, list) {
			return false
		}
	}
	return true
}

func matchesAny(fm []*dim.Member, list []dim.Tuple) bool {
	for _, t := range list {
		ok := true
		for _, m := range t {
			if !m.IsAll() && fm[m.Ordinal()] != m {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func coordKey(coord []*dim.Member) string {
	var b strings.Builder
	b.Grow(len(coord) * 8)
	for i, m := range coord {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.FormatUint(m.ID(), 36))
	}
	return b.String()
}
