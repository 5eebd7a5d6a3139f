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

import "context"

// CellReader supplies raw values for coordinates no calculation governs.
//
// Description:
//
//	Get receives the evaluator itself so that it can read the vector and any
//	aggregation lists. It must not mutate the evaluator. A reader that only
//	has a placeholder for a cell (for example because the aggregate is still
//	being loaded) returns the placeholder and increments MissCount; the
//	statement executor then runs another pass once IsDirty reports true.
//
// Thread Safety: Must be safe for concurrent use when a statement evaluates
// branches in parallel.
type CellReader interface {
	// Get returns the raw value at cell's coordinates. ok is false when the
	// source has no data for the cell. A capacity failure wraps
	// ErrResourceLimit.
	Get(cell *Evaluator) (value any, ok bool, err error)

	// IsDirty reports whether any Get since the last pass used placeholder data.
	IsDirty() bool

	// MissCount returns the number of placeholder reads so far.
	MissCount() int64
}

// BatchLoader is implemented by cell readers that defer expensive reads to
// the end of a pass. NextPass calls LoadPending after clearing provisional
// cache entries.
type BatchLoader interface {
	LoadPending(ctx context.Context) error
}
