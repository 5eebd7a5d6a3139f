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

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// calcSeq hands out process-unique calculation ids.
var calcSeq atomic.Uint64

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilExpression is returned when a formula has no compiled expression.
	ErrNilExpression = errors.New("formula expression must not be nil")

	// ErrEmptyTuple is returned when a tuple calculation has no members.
	ErrEmptyTuple = errors.New("tuple must not be empty")
)

// -----------------------------------------------------------------------------
// Enums
// -----------------------------------------------------------------------------

// Scope is the level at which a calculation was defined.
type Scope int

const (
	// ScopeCube is a calculation defined in the cube schema.
	ScopeCube Scope = iota

	// ScopeSession is a calculation created for the connection's session.
	ScopeSession

	// ScopeQuery is a calculation defined by the query itself (WITH MEMBER).
	ScopeQuery
)

// String returns the string representation of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeCube:
		return "cube"
	case ScopeSession:
		return "session"
	case ScopeQuery:
		return "query"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

// ParseScope converts a configuration string into a Scope.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "", "cube":
		return ScopeCube, nil
	case "session":
		return ScopeSession, nil
	case "query":
		return ScopeQuery, nil
	default:
		return ScopeCube, fmt.Errorf("unknown scope %q", s)
	}
}

// ResolutionClass is the precomputed classification used by the scoped
// solve-order policy.
type ResolutionClass int

const (
	// ClassCubeScoped covers cube and session calculations without aggregates.
	ClassCubeScoped ResolutionClass = iota

	// ClassQueryScoped covers query calculations without aggregates.
	ClassQueryScoped

	// ClassAggregateContaining covers any calculation whose formula calls an
	// aggregate function, whatever its scope.
	ClassAggregateContaining
)

// String returns the string representation of the class.
func (c ResolutionClass) String() string {
	switch c {
	case ClassCubeScoped:
		return "cube_scoped"
	case ClassQueryScoped:
		return "query_scoped"
	case ClassAggregateContaining:
		return "aggregate_containing"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// classify derives the resolution class. Session calculations resolve with
// cube ones: only a query definition outranks the schema.
func classify(scope Scope, containsAggregate bool) ResolutionClass {
	switch {
	case containsAggregate:
		return ClassAggregateContaining
	case scope == ScopeQuery:
		return ClassQueryScoped
	default:
		return ClassCubeScoped
	}
}

// CalculationKind distinguishes the calculation variants.
type CalculationKind int

const (
	// KindStoredValue reads the raw cell through the cell reader.
	KindStoredValue CalculationKind = iota

	// KindCalculatedMember evaluates a calculated member's formula.
	KindCalculatedMember

	// KindCalculatedTuple evaluates a formula bound to a whole tuple.
	KindCalculatedTuple
)

// String returns the string representation of the kind.
func (k CalculationKind) String() string {
	switch k {
	case KindStoredValue:
		return "stored_value"
	case KindCalculatedMember:
		return "calculated_member"
	case KindCalculatedTuple:
		return "calculated_tuple"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// -----------------------------------------------------------------------------
// Formula
// -----------------------------------------------------------------------------

// Formula is what a catalog knows about a calculated member's definition.
type Formula struct {
	// Expr is the compiled expression. Required.
	Expr Expression

	// SolveOrder is the explicit solve order. Ignored unless HasSolveOrder.
	SolveOrder int

	// HasSolveOrder is false when the definition left solve order implicit.
	HasSolveOrder bool

	// Scope is where the calculation was defined.
	Scope Scope

	// ContainsAggregate is true if the formula calls an aggregate function.
	ContainsAggregate bool
}

// DefaultSolveOrder is the solve order of a calculation that does not state one.
const DefaultSolveOrder = 0

func (f Formula) solveOrder() int {
	if f.HasSolveOrder {
		return f.SolveOrder
	}
	return DefaultSolveOrder
}

// -----------------------------------------------------------------------------
// Calculation
// -----------------------------------------------------------------------------

// Calculation is the immutable description of one governing formula.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Calculation struct {
	id                uint64
	kind              CalculationKind
	member            *Member
	tuple             Tuple
	expr              Expression
	solveOrder        int
	implicitOrder     bool
	ordinal           int
	scope             Scope
	containsAggregate bool
	class             ResolutionClass
}

func newMemberCalculation(m *Member, f Formula) *Calculation {
	return &Calculation{
		id:                calcSeq.Add(1),
		kind:              KindCalculatedMember,
		member:            m,
		expr:              f.Expr,
		solveOrder:        f.solveOrder(),
		implicitOrder:     !f.HasSolveOrder,
		ordinal:           m.hierarchy.ordinal,
		scope:             f.Scope,
		containsAggregate: f.ContainsAggregate,
		class:             classify(f.Scope, f.ContainsAggregate),
	}
}

// NewTupleCalculation creates a calculation bound to a tuple.
//
// Description:
//
//	A tuple calculation sets every member of its tuple before its expression
//	runs. Its owning ordinal is the lowest ordinal among the tuple members.
//
// Inputs:
//
//	tuple - Members to set. Must not be empty.
//	f - Formula. f.Expr must not be nil.
//
// Outputs:
//
//	*Calculation - The calculation.
//	error - Non-nil if the tuple is empty or the expression is missing.
func NewTupleCalculation(tuple Tuple, f Formula) (*Calculation, error) {
	if len(tuple) == 0 {
		return nil, ErrEmptyTuple
	}
	if f.Expr == nil {
		return nil, ErrNilExpression
	}
	ordinal := tuple[0].Ordinal()
	for _, m := range tuple[1:] {
		if o := m.Ordinal(); o < ordinal {
			ordinal = o
		}
	}
	t := make(Tuple, len(tuple))
	copy(t, tuple)
	return &Calculation{
		id:                calcSeq.Add(1),
		kind:              KindCalculatedTuple,
		tuple:             t,
		expr:              f.Expr,
		solveOrder:        f.solveOrder(),
		implicitOrder:     !f.HasSolveOrder,
		ordinal:           ordinal,
		scope:             f.Scope,
		containsAggregate: f.ContainsAggregate,
		class:             classify(f.Scope, f.ContainsAggregate),
	}, nil
}

// NewStoredValueCalculation creates a calculation that reads the raw cell for
// the hierarchy at ordinal. It is used to pin a stored value into an
// aggregation context at a chosen solve order.
func NewStoredValueCalculation(ordinal, solveOrder int) *Calculation {
	return &Calculation{
		id:         calcSeq.Add(1),
		kind:       KindStoredValue,
		expr:       storedValue{},
		solveOrder: solveOrder,
		ordinal:    ordinal,
		scope:      ScopeCube,
		class:      ClassCubeScoped,
	}
}

// ID returns the process-unique calculation id.
func (c *Calculation) ID() uint64 { return c.id }

// Kind returns the calculation variant.
func (c *Calculation) Kind() CalculationKind { return c.kind }

// Member returns the calculated member, or nil for other variants.
func (c *Calculation) Member() *Member { return c.member }

// Tuple returns the tuple of a tuple calculation. Must not be modified.
func (c *Calculation) Tuple() Tuple { return c.tuple }

// Expression returns the compiled expression.
func (c *Calculation) Expression() Expression { return c.expr }

// SolveOrder returns the effective solve order.
func (c *Calculation) SolveOrder() int { return c.solveOrder }

// HasImplicitSolveOrder reports whether the solve order was defaulted.
func (c *Calculation) HasImplicitSolveOrder() bool { return c.implicitOrder }

// HierarchyOrdinal returns the owning hierarchy ordinal.
func (c *Calculation) HierarchyOrdinal() int { return c.ordinal }

// Scope returns where the calculation was defined.
func (c *Calculation) Scope() Scope { return c.scope }

// ContainsAggregate reports whether the formula calls an aggregate function.
func (c *Calculation) ContainsAggregate() bool { return c.containsAggregate }

// Class returns the precomputed resolution class.
func (c *Calculation) Class() ResolutionClass { return c.class }

// SetupContext lets the calculation push the context it needs before its
// expression runs. A calculated member sets itself as current so its own
// formula sees itself; a tuple calculation sets each of its members.
func (c *Calculation) SetupContext(ctx Context) {
	switch c.kind {
	case KindCalculatedMember:
		ctx.SetContext(c.member)
	case KindCalculatedTuple:
		for _, m := range c.tuple {
			ctx.SetContext(m)
		}
	}
}

// String implements fmt.Stringer.
func (c *Calculation) String() string {
	switch c.kind {
	case KindCalculatedMember:
		return fmt.Sprintf("%s[solve_order=%d]", c.member, c.solveOrder)
	case KindCalculatedTuple:
		return fmt.Sprintf("%s[solve_order=%d]", c.tuple, c.solveOrder)
	default:
		return fmt.Sprintf("stored_value#%d[solve_order=%d]", c.ordinal, c.solveOrder)
	}
}

// storedValue is the expression of a stored-value calculation.
type storedValue struct{}

func (storedValue) Evaluate(ctx Context) (any, error) {
	return ctx.ReadCell()
}
