// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package formula

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
)

var (
	// ErrNotNumeric is returned when arithmetic meets a non-numeric operand.
	ErrNotNumeric = errors.New("operand is not numeric")

	// ErrUnknownOperator is returned by NewBinary for an unsupported operator.
	ErrUnknownOperator = errors.New("unknown operator")
)

// Node is an expression that can describe itself and its dependencies.
type Node interface {
	dim.Expression
	fmt.Stringer

	// deps records the hierarchies whose current member the node reads.
	deps(d *depSet)
}

// -----------------------------------------------------------------------------
// Leaves
// -----------------------------------------------------------------------------

type constant struct {
	v any
}

// Const returns an expression with a fixed value. A nil v is the empty cell.
func Const(v any) Node {
	if v == nil {
		v = dim.Null
	}
	return constant{v: v}
}

func (c constant) Evaluate(dim.Context) (any, error) { return c.v, nil }
func (c constant) String() string                    { return fmt.Sprint(c.v) }
func (c constant) deps(*depSet)                      {}

type ref struct {
	tuple dim.Tuple
}

// Ref returns an expression that evaluates the cell at the current context
// with the given members substituted.
func Ref(members ...*dim.Member) Node {
	return ref{tuple: append(dim.Tuple(nil), members...)}
}

func (r ref) Evaluate(ctx dim.Context) (any, error) {
	token := ctx.Savepoint()
	defer ctx.Restore(token)
	for _, m := range r.tuple {
		ctx.SetContext(m)
	}
	return ctx.EvaluateCurrent()
}

func (r ref) String() string {
	if len(r.tuple) == 1 {
		return r.tuple[0].UniqueName()
	}
	return r.tuple.String()
}

func (r ref) deps(d *depSet) {
	d.readAllExcept(r.tuple)
}

type current struct{}

// Current returns an expression that evaluates the cell at the current
// context unchanged. Inside a calculated member's own formula this re-enters
// the member.
func Current() Node { return current{} }

func (current) Evaluate(ctx dim.Context) (any, error) { return ctx.EvaluateCurrent() }
func (current) String() string                        { return "CurrentValue()" }
func (current) deps(d *depSet)                        { d.readAllExcept(nil) }

// -----------------------------------------------------------------------------
// Arithmetic
// -----------------------------------------------------------------------------

// Op is a binary arithmetic operator.
type Op byte

const (
	Add Op = '+'
	Sub Op = '-'
	Mul Op = '*'
	Div Op = '/'
)

// ParseOp converts "+", "-", "*" or "/" to an Op.
func ParseOp(s string) (Op, error) {
	if len(s) == 1 {
		switch op := Op(s[0]); op {
		case Add, Sub, Mul, Div:
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOperator, s)
}

type binary struct {
	op          Op
	left, right Node
}

// NewBinary combines two expressions.
//
// Empty operands follow the usual cube rules: both empty gives empty, one
// empty counts as zero for + and -, and * or / with an empty operand or a
// zero divisor gives empty.
func NewBinary(op Op, left, right Node) (Node, error) {
	switch op {
	case Add, Sub, Mul, Div:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, string(rune(op)))
	}
	return binary{op: op, left: left, right: right}, nil
}

// Binary is NewBinary for operators known to be valid. It panics otherwise.
func Binary(op Op, left, right Node) Node {
	n, err := NewBinary(op, left, right)
	if err != nil {
		panic(err)
	}
	return n
}

func (b binary) Evaluate(ctx dim.Context) (any, error) {
	lv, err := b.left.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	rv, err := b.right.Evaluate(ctx)
	if err != nil {
		return nil, err
	}
	lnull, rnull := dim.IsNull(lv), dim.IsNull(rv)
	if lnull && rnull {
		return dim.Null, nil
	}
	var l, r float64
	if !lnull {
		if l, err = ToFloat(lv); err != nil {
			return nil, err
		}
	}
	if !rnull {
		if r, err = ToFloat(rv); err != nil {
			return nil, err
		}
	}
	switch b.op {
	case Add:
		return l + r, nil
	case Sub:
		return l - r, nil
	case Mul:
		if lnull || rnull {
			return dim.Null, nil
		}
		return l * r, nil
	default:
		if lnull || rnull || r == 0 {
			return dim.Null, nil
		}
		return l / r, nil
	}
}

func (b binary) String() string {
	return fmt.Sprintf("(%s %c %s)", b.left, b.op, b.right)
}

func (b binary) deps(d *depSet) {
	b.left.deps(d)
	b.right.deps(d)
}

// ToFloat converts a numeric cell value to float64.
func ToFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumeric, v)
	}
}

// -----------------------------------------------------------------------------
// Set functions
// -----------------------------------------------------------------------------

type sum struct {
	set  []dim.Tuple
	expr Node
}

// Sum evaluates expr at each tuple of set in its own branch and adds the
// results. A nil expr evaluates the current cell. Empty results are skipped;
// if all are empty so is the sum.
func Sum(set []dim.Tuple, expr Node) Node {
	if expr == nil {
		expr = Current()
	}
	return sum{set: set, expr: expr}
}

func (s sum) Evaluate(ctx dim.Context) (any, error) {
	var (
		total float64
		found bool
	)
	for _, t := range s.set {
		branch := ctx.Branch()
		for _, m := range t {
			branch.SetContext(m)
		}
		v, err := s.expr.Evaluate(branch)
		if err != nil {
			return nil, err
		}
		if dim.IsNull(v) {
			continue
		}
		f, err := ToFloat(v)
		if err != nil {
			return nil, err
		}
		total += f
		found = true
	}
	if !found {
		return dim.Null, nil
	}
	return total, nil
}

func (s sum) String() string {
	return fmt.Sprintf("Sum(%s, %s)", setString(s.set), s.expr)
}

func (s sum) deps(d *depSet) {
	inner := d.child()
	s.expr.deps(inner)
	d.merge(inner, commonOrdinals(s.set))
}

type aggregate struct {
	set []dim.Tuple
}

// Aggregate evaluates the current cell in a child context that aggregates
// over set, letting the cell reader roll the tuples up in one read.
func Aggregate(set []dim.Tuple) Node {
	return aggregate{set: set}
}

func (a aggregate) Evaluate(ctx dim.Context) (any, error) {
	return ctx.BranchAggregation(a.set).EvaluateCurrent()
}

func (a aggregate) String() string {
	return fmt.Sprintf("Aggregate(%s)", setString(a.set))
}

func (a aggregate) deps(d *depSet) {
	inner := d.child()
	inner.readAllExcept(nil)
	d.merge(inner, touchedOrdinals(a.set))
}

// ContainsAggregate reports whether n uses Aggregate anywhere.
func ContainsAggregate(n Node) bool {
	switch x := n.(type) {
	case aggregate:
		return true
	case binary:
		return ContainsAggregate(x.left) || ContainsAggregate(x.right)
	case sum:
		return ContainsAggregate(x.expr)
	case cached:
		return ContainsAggregate(x.expr)
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Caching
// -----------------------------------------------------------------------------

type cached struct {
	desc *dim.CacheDescriptor
	expr Node
}

// Cached wraps expr so that its result is looked up in, and stored to, the
// statement's expression cache. hierarchies is the cube's hierarchy count,
// used to compute the dependencies. Equal ids must denote equal expressions.
func Cached(id string, expr Node, hierarchies int) Node {
	return cached{
		desc: &dim.CacheDescriptor{
			ID:           id,
			Expr:         expr,
			Dependencies: Dependencies(expr, hierarchies),
		},
		expr: expr,
	}
}

func (c cached) Evaluate(ctx dim.Context) (any, error) {
	v, err := ctx.CachedResult(c.desc)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return dim.Null, nil
	}
	return v, nil
}

func (c cached) String() string { return fmt.Sprintf("Cache(%s)", c.expr) }
func (c cached) deps(d *depSet) { c.expr.deps(d) }

// Descriptor returns the cache descriptor of a node built by Cached, or nil.
func Descriptor(n Node) *dim.CacheDescriptor {
	if c, ok := n.(cached); ok {
		return c.desc
	}
	return nil
}

// -----------------------------------------------------------------------------
// Dependency analysis
// -----------------------------------------------------------------------------

// depSet accumulates the hierarchies an expression reads.
type depSet struct {
	n    int
	read []bool
}

func (d *depSet) child() *depSet {
	return &depSet{n: d.n, read: make([]bool, d.n)}
}

// readAllExcept marks every hierarchy not overridden by t as read.
func (d *depSet) readAllExcept(t dim.Tuple) {
	for o := 0; o < d.n; o++ {
		overridden := false
		for _, m := range t {
			if m.Ordinal() == o {
				overridden = true
				break
			}
		}
		if !overridden {
			d.read[o] = true
		}
	}
}

// merge adds inner's reads, except for the ordinals in overridden.
func (d *depSet) merge(inner *depSet, overridden map[int]bool) {
	for o, r := range inner.read {
		if r && !overridden[o] {
			d.read[o] = true
		}
	}
}

// Dependencies returns the sorted hierarchy ordinals whose current member
// can influence n's value in a cube with the given number of hierarchies.
// Expressions that are not Nodes depend on everything.
func Dependencies(e dim.Expression, hierarchies int) []int {
	d := &depSet{n: hierarchies, read: make([]bool, hierarchies)}
	if n, ok := e.(Node); ok {
		n.deps(d)
	} else {
		d.readAllExcept(nil)
	}
	out := make([]int, 0, hierarchies)
	for o, r := range d.read {
		if r {
			out = append(out, o)
		}
	}
	return out
}

// commonOrdinals returns the ordinals set by every tuple of set.
func commonOrdinals(set []dim.Tuple) map[int]bool {
	if len(set) == 0 {
		return nil
	}
	counts := make(map[int]int)
	for _, t := range set {
		seen := make(map[int]bool, len(t))
		for _, m := range t {
			if o := m.Ordinal(); !seen[o] {
				seen[o] = true
				counts[o]++
			}
		}
	}
	out := make(map[int]bool, len(counts))
	for o, c := range counts {
		if c == len(set) {
			out[o] = true
		}
	}
	return out
}

// touchedOrdinals returns the ordinals set by any tuple of set.
func touchedOrdinals(set []dim.Tuple) map[int]bool {
	out := make(map[int]bool)
	for _, t := range set {
		for _, m := range t {
			out[m.Ordinal()] = true
		}
	}
	return out
}

func setString(set []dim.Tuple) string {
	parts := make([]string, len(set))
	for i, t := range set {
		parts[i] = t.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
