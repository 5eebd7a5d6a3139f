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
	"fmt"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
)

// entryKind identifies the type of undo log entry.
type entryKind uint8

const (
	// entrySavepoint marks a position Restore can unwind to.
	entrySavepoint entryKind = iota + 1

	// entrySetContext records the member a hierarchy held before a change.
	entrySetContext

	// entryAddCalculation records an explicitly activated calculation.
	entryAddCalculation

	// entryRemoveCalculation records an explicitly deactivated calculation
	// and the position it held.
	entryRemoveCalculation

	// entrySetExpanding records the start of a calculation's expansion.
	entrySetExpanding

	// entrySetNonEmpty records the previous non-empty flag.
	entrySetNonEmpty

	// entrySetNativeEnabled records the previous native-evaluation flag.
	entrySetNativeEnabled

	// entrySetEvalAxes records the previous evaluating-axes flag.
	entrySetEvalAxes
)

// entryKindStrings maps entry kinds to their string representations.
var entryKindStrings = map[entryKind]string{
	entrySavepoint:         "SAVEPOINT",
	entrySetContext:        "SET_CONTEXT",
	entryAddCalculation:    "ADD_CALCULATION",
	entryRemoveCalculation: "REMOVE_CALCULATION",
	entrySetExpanding:      "SET_EXPANDING",
	entrySetNonEmpty:       "SET_NON_EMPTY",
	entrySetNativeEnabled:  "SET_NATIVE_ENABLED",
	entrySetEvalAxes:       "SET_EVAL_AXES",
}

// String returns the string representation of an entry kind.
func (k entryKind) String() string {
	if s, ok := entryKindStrings[k]; ok {
		return s
	}
	return fmt.Sprintf("entry(%d)", uint8(k))
}

// logEntry is one reversible mutation. Fields are used per kind:
//
//	SAVEPOINT           checksum (when verification is on)
//	SET_CONTEXT         ordinal, member = previous occupant
//	ADD_CALCULATION     calc
//	REMOVE_CALCULATION  calc, index
//	SET_EXPANDING       calc = calculation being expanded, prevCalc = previous one
//	SET_* flags         flag = previous value
type logEntry struct {
	kind     entryKind
	flag     bool
	ordinal  int
	index    int
	member   *dim.Member
	calc     *dim.Calculation
	prevCalc *dim.Calculation
	checksum uint64
}

// undo reverses the entry's mutation on e without logging.
func (le *logEntry) undo(e *Evaluator) {
	switch le.kind {
	case entrySavepoint:
	case entrySetContext:
		e.assign(le.ordinal, le.member)
	case entryAddCalculation:
		n := len(e.extraCalcs)
		if n == 0 || e.extraCalcs[n-1] != le.calc {
			invariant("undo of %s does not match the active set", le.calc)
		}
		e.extraCalcs[n-1] = nil
		e.extraCalcs = e.extraCalcs[:n-1]
	case entryRemoveCalculation:
		e.extraCalcs = append(e.extraCalcs, nil)
		copy(e.extraCalcs[le.index+1:], e.extraCalcs[le.index:])
		e.extraCalcs[le.index] = le.calc
	case entrySetExpanding:
		e.expanding = le.prevCalc
	case entrySetNonEmpty:
		e.nonEmpty = le.flag
	case entrySetNativeEnabled:
		e.nativeEnabled = le.flag
	case entrySetEvalAxes:
		e.evalAxes = le.flag
	default:
		invariant("unknown undo log entry %s", le.kind)
	}
}
