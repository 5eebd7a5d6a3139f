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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInfiniteRecursion is matched by every *RecursionError.
	ErrInfiniteRecursion = errors.New("infinite recursion")

	// ErrResourceLimit is wrapped by cell readers that hit a capacity ceiling,
	// such as a maximum row count.
	ErrResourceLimit = errors.New("resource limit exceeded")

	// ErrCancelled is returned when the statement's context is cancelled or
	// its deadline passes.
	ErrCancelled = errors.New("evaluation cancelled")

	// ErrNilCatalog is returned when a root context has no catalog.
	ErrNilCatalog = errors.New("catalog must not be nil")

	// ErrNilReader is returned when a root context has no cell reader.
	ErrNilReader = errors.New("cell reader must not be nil")
)

// RecursionError reports a calculated member or calculated tuple that
// re-entered itself under an unchanged context.
type RecursionError struct {
	// Member is the unique name of the member being expanded, or the tuple
	// of a calculated tuple.
	Member string

	// Kind is the variant of the calculation that recursed.
	Kind dim.CalculationKind

	// Contexts lists the dimensional context of each expansion frame, from
	// outermost to innermost, keeping only frames where the context changed.
	Contexts []string
}

// Error implements error.
func (e *RecursionError) Error() string {
	what := "calculated member"
	if e.Kind == dim.KindCalculatedTuple {
		what = "calculated tuple"
	}
	return fmt.Sprintf("infinite loop while evaluating %s '%s'; context stack is {%s}",
		what, e.Member, strings.Join(e.Contexts, ", "))
}

// Is makes errors.Is(err, ErrInfiniteRecursion) succeed.
func (e *RecursionError) Is(target error) bool {
	return target == ErrInfiniteRecursion
}

// ResourceLimitError marks a capacity failure raised by the cell reader, so
// that it can be reported as such rather than as a bug.
type ResourceLimitError struct {
	Err error
}

// Error implements error.
func (e *ResourceLimitError) Error() string {
	return "cell reader: " + e.Err.Error()
}

// Unwrap returns the reader's error.
func (e *ResourceLimitError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrResourceLimit) succeed.
func (e *ResourceLimitError) Is(target error) bool {
	return target == ErrResourceLimit
}

// InvariantError is the panic value for programming errors: an unpopulated
// hierarchy slot, a restore token that was never issued, or a checkpoint
// checksum mismatch. It is never recovered inside this package.
type InvariantError struct {
	Msg string
}

// Error implements error.
func (e *InvariantError) Error() string {
	return "evaluation invariant violated: " + e.Msg
}

func invariant(format string, args ...any) {
	panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
