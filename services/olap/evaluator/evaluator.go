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

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
)

// Evaluator is one node of a statement's evaluation context tree.
//
// Description:
//
//	Owns its context vector exclusively; children get a copy. The active
//	calculation set has two parts: the calculations of calculated members in
//	the vector, kept in a slot per ordinal, and calculations added explicitly
//	through AddCalculation, kept in activation order.
//
// Thread Safety: Not safe for concurrent use. Use Push to hand a context to
// another goroutine.
type Evaluator struct {
	root   *RootContext
	parent *Evaluator
	ctx    context.Context

	members     []*dim.Member
	memberCalcs []*dim.Calculation
	calcCount   int
	extraCalcs  []*dim.Calculation
	activeBuf   []*dim.Calculation

	nonEmpty      bool
	nativeEnabled bool
	evalAxes      bool
	expanding     *dim.Calculation

	aggregationLists [][]dim.Tuple
	aggregationSig   uint64

	log []logEntry

	// Recursion bookkeeping: the parent's log length when this evaluator
	// was pushed, and the summed log lengths of all ancestors at that time.
	parentLogLen   int
	ancestorLogLen int
	nextCheck      int
	depth          int
}

func newRootEvaluator(r *RootContext) *Evaluator {
	n := len(r.defaults)
	e := &Evaluator{
		root:          r,
		ctx:           r.ctx,
		members:       make([]*dim.Member, n),
		memberCalcs:   make([]*dim.Calculation, n),
		nonEmpty:      r.cfg.NonEmpty,
		nativeEnabled: r.cfg.NativeEnabled,
		log:           make([]logEntry, 0, 4*n+1),
	}
	for ordinal, m := range r.defaults {
		e.assign(ordinal, m)
	}
	e.log = append(e.log, e.savepointEntry())
	return e
}

// Root returns the statement's root context.
func (e *Evaluator) Root() *RootContext { return e.root }

// Parent returns the evaluator this one was pushed from, or nil for the root.
func (e *Evaluator) Parent() *Evaluator { return e.parent }

// Depth returns the number of pushes between the root evaluator and e.
func (e *Evaluator) Depth() int { return e.depth }

// Context returns the cancellation context consulted by e.
func (e *Evaluator) Context() context.Context { return e.ctx }

// -----------------------------------------------------------------------------
// Context vector
// -----------------------------------------------------------------------------

// Member returns the current member of the hierarchy at ordinal in O(1).
//
// An ordinal outside the catalog is a programming error and panics with
// *InvariantError.
func (e *Evaluator) Member(ordinal int) *dim.Member {
	if ordinal < 0 || ordinal >= len(e.members) {
		invariant("hierarchy ordinal %d is not populated (cube has %d hierarchies)", ordinal, len(e.members))
	}
	return e.members[ordinal]
}

// Members returns a copy of the context vector.
func (e *Evaluator) Members() []*dim.Member {
	out := make([]*dim.Member, len(e.members))
	copy(out, e.members)
	return out
}

// Tuple returns the context vector as a tuple.
func (e *Evaluator) Tuple() dim.Tuple {
	return dim.Tuple(e.Members())
}

// SetContext makes m the current member of its hierarchy.
//
// Description:
//
//	A no-op if m is already current; identity, not name, decides. The
//	previous occupant is logged unless this hierarchy was already logged
//	since the most recent savepoint, which bounds the log by the number of
//	distinct hierarchies touched between checkpoints.
//
// Inputs:
//
//	m - The new member. Must not be nil and must belong to a populated
//	    hierarchy.
//
// Thread Safety: Not safe for concurrent use.
func (e *Evaluator) SetContext(m *dim.Member) {
	e.setContext(m, false)
}

// SetContextTrusted is SetContext without the backward scan. The caller
// guarantees that m's hierarchy has not been changed since the most recent
// savepoint; if it has, the log only grows by one redundant entry.
func (e *Evaluator) SetContextTrusted(m *dim.Member) {
	e.setContext(m, true)
}

// SetContextTuple sets every member of t.
func (e *Evaluator) SetContextTuple(t dim.Tuple) {
	for _, m := range t {
		e.setContext(m, false)
	}
}

func (e *Evaluator) setContext(m *dim.Member, trusted bool) {
	if m == nil {
		invariant("cannot set a nil member into the context")
	}
	ordinal := m.Ordinal()
	prev := e.Member(ordinal)
	if prev == m {
		return
	}
	if trusted || !e.loggedSinceSavepoint(ordinal) {
		e.log = append(e.log, logEntry{kind: entrySetContext, ordinal: ordinal, member: prev})
	}
	e.assign(ordinal, m)
}

// loggedSinceSavepoint scans back to the nearest savepoint for a
// SET_CONTEXT entry on ordinal.
func (e *Evaluator) loggedSinceSavepoint(ordinal int) bool {
	for i := len(e.log) - 1; i >= 0; i-- {
		le := &e.log[i]
		switch le.kind {
		case entrySavepoint:
			return false
		case entrySetContext:
			if le.ordinal == ordinal {
				return true
			}
		}
	}
	return false
}

// assign writes the slot and keeps the member-calculation slots in step.
func (e *Evaluator) assign(ordinal int, m *dim.Member) {
	e.members[ordinal] = m
	if e.memberCalcs[ordinal] != nil {
		e.calcCount--
	}
	c := m.Calculation()
	e.memberCalcs[ordinal] = c
	if c != nil {
		e.calcCount++
	}
}

// -----------------------------------------------------------------------------
// Active calculations
// -----------------------------------------------------------------------------

// ActiveCalculations returns the active set: member calculations in ordinal
// order followed by explicit calculations in activation order.
func (e *Evaluator) ActiveCalculations() []*dim.Calculation {
	return append([]*dim.Calculation(nil), e.activeCalculations()...)
}

// activeCalculations fills the reusable buffer. The result is only valid
// until the next call.
func (e *Evaluator) activeCalculations() []*dim.Calculation {
	buf := e.activeBuf[:0]
	if e.calcCount > 0 {
		for _, c := range e.memberCalcs {
			if c != nil {
				buf = append(buf, c)
			}
		}
	}
	buf = append(buf, e.extraCalcs...)
	e.activeBuf = buf
	return buf
}

// AddCalculation activates c independently of the context vector, for
// example a tuple calculation of an aggregation context.
func (e *Evaluator) AddCalculation(c *dim.Calculation) {
	e.extraCalcs = append(e.extraCalcs, c)
	e.log = append(e.log, logEntry{kind: entryAddCalculation, calc: c})
}

// RemoveCalculation deactivates an explicitly added calculation. It is a
// no-op if c is not in the explicit set.
func (e *Evaluator) RemoveCalculation(c *dim.Calculation) {
	for i, x := range e.extraCalcs {
		if x != c {
			continue
		}
		copy(e.extraCalcs[i:], e.extraCalcs[i+1:])
		e.extraCalcs[len(e.extraCalcs)-1] = nil
		e.extraCalcs = e.extraCalcs[:len(e.extraCalcs)-1]
		e.log = append(e.log, logEntry{kind: entryRemoveCalculation, calc: c, index: i})
		return
	}
}

// -----------------------------------------------------------------------------
// Flags
// -----------------------------------------------------------------------------

// NonEmpty reports whether empty cells are being suppressed. In this mode
// cache keys cover the whole context vector.
func (e *Evaluator) NonEmpty() bool { return e.nonEmpty }

// SetNonEmpty sets the non-empty flag.
func (e *Evaluator) SetNonEmpty(v bool) {
	if e.nonEmpty == v {
		return
	}
	e.log = append(e.log, logEntry{kind: entrySetNonEmpty, flag: e.nonEmpty})
	e.nonEmpty = v
}

// NativeEnabled reports whether set operations may be pushed to the source.
func (e *Evaluator) NativeEnabled() bool { return e.nativeEnabled }

// SetNativeEnabled sets the native-evaluation flag.
func (e *Evaluator) SetNativeEnabled(v bool) {
	if e.nativeEnabled == v {
		return
	}
	e.log = append(e.log, logEntry{kind: entrySetNativeEnabled, flag: e.nativeEnabled})
	e.nativeEnabled = v
}

// EvalAxes reports whether axes are being evaluated rather than cells.
func (e *Evaluator) EvalAxes() bool { return e.evalAxes }

// SetEvalAxes sets the evaluating-axes flag.
func (e *Evaluator) SetEvalAxes(v bool) {
	if e.evalAxes == v {
		return
	}
	e.log = append(e.log, logEntry{kind: entrySetEvalAxes, flag: e.evalAxes})
	e.evalAxes = v
}

// Expanding returns the calculated member currently being expanded, if any.
// It is nil while a calculated tuple is the innermost expansion.
func (e *Evaluator) Expanding() *dim.Member {
	if e.expanding == nil {
		return nil
	}
	return e.expanding.Member()
}

// ExpandingCalculation returns the calculation currently being expanded, if
// any.
func (e *Evaluator) ExpandingCalculation() *dim.Calculation { return e.expanding }

// AggregationLists returns the explicit aggregation lists, outermost first.
// The result must not be modified.
func (e *Evaluator) AggregationLists() [][]dim.Tuple { return e.aggregationLists }

// -----------------------------------------------------------------------------
// Checkpoints
// -----------------------------------------------------------------------------

// Savepoint marks the current state and returns a token for Restore.
//
// Description:
//
//	Appends a savepoint unless the log already ends in one, so two calls
//	without an intervening mutation return the same token. With checkpoint
//	verification on, a structural checksum is recorded.
//
// Outputs:
//
//	int - The token: the log length after the savepoint.
func (e *Evaluator) Savepoint() int {
	if n := len(e.log); n > 0 && e.log[n-1].kind == entrySavepoint {
		return n
	}
	e.log = append(e.log, e.savepointEntry())
	return len(e.log)
}

func (e *Evaluator) savepointEntry() logEntry {
	le := logEntry{kind: entrySavepoint}
	if e.root.cfg.VerifyCheckpoints {
		le.checksum = e.checksum()
	}
	return le
}

// Restore unwinds the log to token.
//
// Description:
//
//	Pops entries and undoes them one by one in reverse order until the log
//	length equals token. A token that is larger than the log or does not
//	point at a savepoint was never issued by this evaluator and panics with
//	*InvariantError, as does a checksum mismatch when verification is on.
//
// Inputs:
//
//	token - A value returned by Savepoint on this evaluator.
func (e *Evaluator) Restore(token int) {
	if token < 1 || token > len(e.log) || e.log[token-1].kind != entrySavepoint {
		invariant("restore token %d was never issued (log length %d)", token, len(e.log))
	}
	for i := len(e.log) - 1; i >= token; i-- {
		le := e.log[i]
		e.log[i] = logEntry{}
		e.log = e.log[:i]
		le.undo(e)
	}
	if e.root.cfg.VerifyCheckpoints {
		if got, want := e.checksum(), e.log[token-1].checksum; got != want {
			invariant("context checksum %x does not match savepoint checksum %x", got, want)
		}
	}
}

// LogLength returns the number of undo log entries.
func (e *Evaluator) LogLength() int { return len(e.log) }

// -----------------------------------------------------------------------------
// Branching
// -----------------------------------------------------------------------------

// Push returns a child evaluator.
//
// Description:
//
//	The child shares the root context and starts from a copy of e's vector,
//	active set and flags. Its log starts with a single savepoint. Changes to
//	the child never reach e, so the child stays valid even if the code that
//	created it never restores anything.
//
// Outputs:
//
//	*Evaluator - The child.
func (e *Evaluator) Push() *Evaluator {
	n := len(e.members)
	child := &Evaluator{
		root:             e.root,
		parent:           e,
		ctx:              e.ctx,
		members:          append(make([]*dim.Member, 0, n), e.members...),
		memberCalcs:      append(make([]*dim.Calculation, 0, n), e.memberCalcs...),
		calcCount:        e.calcCount,
		nonEmpty:         e.nonEmpty,
		nativeEnabled:    e.nativeEnabled,
		evalAxes:         e.evalAxes,
		expanding:        e.expanding,
		aggregationLists: e.aggregationLists,
		aggregationSig:   e.aggregationSig,
		parentLogLen:     len(e.log),
		ancestorLogLen:   e.ancestorLogLen + len(e.log),
		nextCheck:        e.nextCheck,
		depth:            e.depth + 1,
		log:              make([]logEntry, 0, 8),
	}
	if len(e.extraCalcs) > 0 {
		child.extraCalcs = append([]*dim.Calculation(nil), e.extraCalcs...)
	}
	child.log = append(child.log, child.savepointEntry())
	e.root.stats.pushes.Add(1)
	return child
}

// PushWithContext is Push with a different cancellation context, used when
// a branch runs under a narrower scope than its parent.
func (e *Evaluator) PushWithContext(ctx context.Context) *Evaluator {
	child := e.Push()
	child.ctx = ctx
	return child
}

// PushAggregation returns a child evaluator aggregating over tuples.
//
// Description:
//
//	Every hierarchy touched by tuples is set to its All member, or to its
//	default member when it has no All member, and tuples is recorded as an
//	explicit aggregation list. The cell reader consults the lists instead of
//	the per-hierarchy members, and cache keys include them. An empty tuples
//	list restricts nothing: the child is a plain Push.
//
// Inputs:
//
//	tuples - The tuples to aggregate over. Not retained by reference.
//
// Outputs:
//
//	*Evaluator - The child.
func (e *Evaluator) PushAggregation(tuples []dim.Tuple) *Evaluator {
	child := e.Push()
	touched := make([]bool, len(e.members))
	for _, t := range tuples {
		for _, m := range t {
			o := m.Ordinal()
			if touched[o] {
				continue
			}
			touched[o] = true
			h := m.Hierarchy()
			target := h.AllMember()
			if target == nil {
				target = h.DefaultMember()
			}
			child.SetContext(target)
		}
	}
	if len(tuples) == 0 {
		return child
	}
	list := make([]dim.Tuple, len(tuples))
	copy(list, tuples)
	lists := make([][]dim.Tuple, 0, len(e.aggregationLists)+1)
	lists = append(lists, e.aggregationLists...)
	child.aggregationLists = append(lists, list)
	child.aggregationSig = extendAggregationSig(e.aggregationSig, list)
	return child
}

// Branch implements dim.Context.
func (e *Evaluator) Branch() dim.Context { return e.Push() }

// BranchAggregation implements dim.Context.
func (e *Evaluator) BranchAggregation(tuples []dim.Tuple) dim.Context {
	return e.PushAggregation(tuples)
}
