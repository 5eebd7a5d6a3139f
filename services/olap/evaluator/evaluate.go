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
	"errors"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
	"github.com/AleutianAI/AleutianOLAP/services/olap/exprcache"
)

// EvaluateCurrent computes the cell at the current coordinates.
//
// Description:
//
//	With no active calculation the value comes from the CellReader and a
//	no-data answer becomes nil. Otherwise the resolver picks the governing
//	calculation; the evaluator takes a savepoint, lets the calculation set
//	up its context, logs the expansion (running the recursion guard),
//	evaluates the expression, restores the savepoint and maps dim.Null to
//	nil. A calculated tuple is deactivated while its own formula runs, so
//	the formula sees the cell as it would be without the override.
//
// Outputs:
//
//	any - The value, or nil for an empty cell.
//	error - *RecursionError, *ResourceLimitError, ErrCancelled, or an error
//	        from an expression. Nothing is retried.
//
// Thread Safety: Not safe for concurrent use.
func (e *Evaluator) EvaluateCurrent() (any, error) {
	if e.calcCount == 0 && len(e.extraCalcs) == 0 {
		return e.ReadCell()
	}
	calc := e.root.resolver.Resolve(e.activeCalculations())

	token := e.Savepoint()
	calc.SetupContext(e)
	switch calc.Kind() {
	case dim.KindCalculatedTuple:
		// The tuple's formula reads the cell it overrides without it.
		e.RemoveCalculation(calc)
		fallthrough
	case dim.KindCalculatedMember:
		if err := e.setExpanding(calc); err != nil {
			e.Restore(token)
			return nil, err
		}
	}
	e.root.stats.expansions.Add(1)
	v, err := calc.Expression().Evaluate(e)
	e.Restore(token)
	if err != nil {
		return nil, err
	}
	if dim.IsNull(v) {
		return nil, nil
	}
	return v, nil
}

// ReadCell reads the raw value at the current coordinates, bypassing the
// resolver.
//
// Outputs:
//
//	any - The raw value, or nil when the reader has no data.
//	error - *ResourceLimitError for capacity failures, else the reader's error.
func (e *Evaluator) ReadCell() (any, error) {
	e.root.stats.cellReads.Add(1)
	v, ok, err := e.root.reader.Get(e)
	if err != nil {
		var rl *ResourceLimitError
		if errors.Is(err, ErrResourceLimit) && !errors.As(err, &rl) {
			return nil, &ResourceLimitError{Err: err}
		}
		return nil, err
	}
	if !ok || dim.IsNull(v) {
		return nil, nil
	}
	return v, nil
}

// CachedResult evaluates d.Expr through the statement's expression cache.
//
// Description:
//
//	The key covers the hierarchies d depends on, or the whole vector in
//	non-empty mode, plus any aggregation lists and explicitly activated
//	calculations. On a miss the expression is
//	evaluated between a savepoint and its restore, and the result is stored
//	as valid only if the cell reader's miss count did not move meanwhile.
//	A failed evaluation stores nothing.
//
// Inputs:
//
//	d - The cacheable expression. d.Dependencies must hold valid ordinals.
//
// Outputs:
//
//	any - The value, or nil for an empty result.
//	error - Any error from evaluating d.Expr.
func (e *Evaluator) CachedResult(d *dim.CacheDescriptor) (any, error) {
	cache := e.root.cache
	if cache == nil {
		v, err := e.evaluateIsolated(d.Expr)
		if err != nil || dim.IsNull(v) {
			return nil, err
		}
		return v, nil
	}
	key := exprcache.NewKey(d.ID, e.members, d.Dependencies, e.nonEmpty, e.aggregationLists).
		WithCalculations(e.extraCalcs)
	if v, ok := cache.Get(e.ctx, key); ok {
		if dim.IsNull(v) {
			return nil, nil
		}
		return v, nil
	}

	misses := e.root.reader.MissCount()
	v, err := e.evaluateIsolated(d.Expr)
	if err != nil {
		return nil, err
	}
	cache.Put(e.ctx, key, v, e.root.reader.MissCount() == misses)
	if dim.IsNull(v) {
		return nil, nil
	}
	return v, nil
}

func (e *Evaluator) evaluateIsolated(expr dim.Expression) (any, error) {
	token := e.Savepoint()
	v, err := expr.Evaluate(e)
	e.Restore(token)
	return v, err
}
