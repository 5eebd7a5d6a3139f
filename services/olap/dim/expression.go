// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dim

// Expression is a compiled formula, opaque to the evaluation core.
type Expression interface {
	// Evaluate computes the expression in ctx. It may mutate ctx freely; the
	// caller restores the context afterwards. A result of Null means the cell
	// is empty.
	Evaluate(ctx Context) (any, error)
}

// ExpressionFunc adapts a function to the Expression interface.
type ExpressionFunc func(ctx Context) (any, error)

// Evaluate calls f(ctx).
func (f ExpressionFunc) Evaluate(ctx Context) (any, error) { return f(ctx) }

// Context is the surface of an evaluation context that expressions see.
//
// Thread Safety: A Context is used by one goroutine at a time. Branch a new
// context to hand work to another goroutine.
type Context interface {
	// Member returns the current member for a hierarchy ordinal.
	Member(ordinal int) *Member

	// SetContext makes m the current member of its hierarchy.
	SetContext(m *Member)

	// Savepoint marks the current state and returns a restore token.
	Savepoint() int

	// Restore returns to the state captured by token.
	Restore(token int)

	// EvaluateCurrent computes the cell at the current coordinates.
	EvaluateCurrent() (any, error)

	// ReadCell reads the raw stored value at the current coordinates,
	// bypassing calculation.
	ReadCell() (any, error)

	// Branch returns an isolated child context.
	Branch() Context

	// BranchAggregation returns a child context aggregating over tuples.
	BranchAggregation(tuples []Tuple) Context

	// CachedResult evaluates d.Expr through the expression result cache.
	CachedResult(d *CacheDescriptor) (any, error)
}

// CacheDescriptor identifies a cacheable expression.
type CacheDescriptor struct {
	// ID is the expression identity; equal IDs must mean equal expressions.
	ID string

	// Expr is the expression to evaluate on a miss.
	Expr Expression

	// Dependencies lists the hierarchy ordinals the expression's value can
	// depend on. Other hierarchies are left out of the cache key.
	Dependencies []int
}

// nullValue is the type of Null.
type nullValue struct{}

func (nullValue) String() string { return "#null" }

// Null is the internal empty-cell sentinel. It is distinct from a Go nil so
// that a cache can tell "computed and empty" from "not computed".
var Null any = nullValue{}

// IsNull reports whether v is nil or the Null sentinel.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	_, ok := v.(nullValue)
	return ok
}
