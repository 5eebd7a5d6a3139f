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
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
)

// maxTraceFrames caps the context trace carried by a RecursionError.
const maxTraceFrames = 64

// setExpanding logs the start of c's expansion and runs the amortized
// recursion check.
//
// Description:
//
//	The check runs when the total log length of this evaluator and its
//	ancestors passes a threshold, after which the threshold moves forward by
//	the root's stride (hierarchy count times the configured multiplier). A
//	genuine cycle therefore adds at most one stride of log entries before it
//	is caught. Cancellation is checked at the same points. Calculated members
//	and calculated tuples are tracked alike, by calculation identity.
//
// Outputs:
//
//	error - ErrCancelled or *RecursionError. The caller restores its
//	        savepoint either way.
func (e *Evaluator) setExpanding(c *dim.Calculation) error {
	e.log = append(e.log, logEntry{kind: entrySetExpanding, calc: c, prevCalc: e.expanding})
	e.expanding = c

	total := len(e.log) + e.ancestorLogLen
	if total <= e.nextCheck {
		return nil
	}
	e.nextCheck = total + e.root.stride
	if err := e.ctx.Err(); err != nil {
		return cancelled(err)
	}
	e.root.stats.recursionChecks.Add(1)
	if rerr := e.checkRecursion(c); rerr != nil {
		e.root.stats.recursionFailures.Add(1)
		e.root.logger.Warn("infinite recursion detected",
			slog.String("query_id", e.root.queryID),
			slog.String("calculation", rerr.Member),
			slog.String("kind", c.Kind().String()),
			slog.Int("depth", e.depth),
			slog.Int("log_length", total))
		span := trace.SpanFromContext(e.ctx)
		span.RecordError(rerr, trace.WithAttributes(
			attribute.String("olap.calculation", rerr.Member),
			attribute.Int("olap.depth", e.depth),
		))
		return rerr
	}
	return nil
}

// checkRecursion looks for an earlier expansion of c under the current
// context in this evaluator's log and in every ancestor's log.
//
// Description:
//
//	Walks each log backwards while undoing SET_CONTEXT entries on a scratch
//	copy of the vector, so that at every SET_EXPANDING entry the scratch
//	vector equals the context at the time of that expansion. Crossing into
//	the parent rebuilds the parent's vector as it was when the child was
//	pushed. Signatures are compared first; an exact comparison confirms.
//
// Inputs:
//
//	c - The calculation whose expansion was just logged as the last entry.
//
// Outputs:
//
//	*RecursionError - Non-nil if a cycle was found.
func (e *Evaluator) checkRecursion(c *dim.Calculation) *RecursionError {
	target := e.members
	targetSig := vectorSignature(target)
	scratch := append(make([]*dim.Member, 0, len(target)), target...)

	// Contexts of the expansions passed on the way, innermost first.
	frames := []string{dim.Tuple(target).String()}
	last := append([]*dim.Member(nil), target...)

	frame := e
	end := len(e.log) - 1
	for {
		sameAgg := frame.aggregationSig == e.aggregationSig &&
			sameAggregations(frame.aggregationLists, e.aggregationLists)
		for i := end - 1; i >= 0; i-- {
			le := &frame.log[i]
			switch le.kind {
			case entrySetContext:
				scratch[le.ordinal] = le.member
			case entrySetExpanding:
				if !sameVector(scratch, last) && len(frames) < maxTraceFrames {
					frames = append(frames, dim.Tuple(scratch).String())
					last = append(last[:0], scratch...)
				}
				if le.calc == c && sameAgg &&
					vectorSignature(scratch) == targetSig && sameVector(scratch, target) {
					return newRecursionError(c, frames)
				}
			}
		}

		parent := frame.parent
		if parent == nil {
			return nil
		}
		copy(scratch, parent.members)
		for i := len(parent.log) - 1; i >= frame.parentLogLen; i-- {
			if le := &parent.log[i]; le.kind == entrySetContext {
				scratch[le.ordinal] = le.member
			}
		}
		end = frame.parentLogLen
		frame = parent
	}
}

func newRecursionError(c *dim.Calculation, innermostFirst []string) *RecursionError {
	contexts := make([]string, len(innermostFirst))
	for i, s := range innermostFirst {
		contexts[len(innermostFirst)-1-i] = s
	}
	rerr := &RecursionError{Kind: c.Kind(), Contexts: contexts}
	if m := c.Member(); m != nil {
		rerr.Member = m.UniqueName()
	} else {
		rerr.Member = c.Tuple().String()
	}
	return rerr
}
