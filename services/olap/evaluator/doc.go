// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evaluator implements the dimensional evaluation context.
//
// # Overview
//
// An Evaluator holds the current member of every hierarchy (the context
// vector), the calculations that are active because a calculated member sits
// in their hierarchy's slot, a few evaluation flags, and an append-only undo
// log. Expressions mutate the context freely; a caller that needs the old
// state back takes a Savepoint and later calls Restore.
//
//	RootContext (one per statement)
//	│  defaults, resolver, cell reader, expression cache
//	│
//	└── Evaluator (root)
//	    ├── Evaluator (Push: cloned vector, own log)
//	    │   └── Evaluator (PushAggregation: All members + aggregation list)
//	    └── ...
//
// # Undo Log
//
// Every reversible mutation appends one typed entry that knows how to undo
// itself. SetContext only logs the first change of a hierarchy after the most
// recent savepoint, so the log grows with the number of distinct hierarchies
// touched rather than the number of calls. Restore pops entries strictly in
// reverse order.
//
// # Cell Evaluation
//
// EvaluateCurrent asks the resolver for the governing calculation. With
// none active the raw value comes straight from the CellReader. Otherwise the
// calculation sets up its context, its expression runs, and the context is
// restored.
//
// # Recursion Guard
//
// Expanding a calculated member appends an EXPANDING entry. Periodically the
// evaluator walks its own log and its ancestors' logs, rebuilding the context
// at each earlier expansion, and fails with ErrInfiniteRecursion if the same
// member was already being expanded under an identical context.
//
// # Thread Safety
//
// An Evaluator and its children are confined to one goroutine at a time. A
// RootContext's cache, statistics and read-only bootstrap data are shared by
// all branches and are safe for concurrent use.
package evaluator
