// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dim holds the dimensional model consumed by the evaluation core.
//
// # Overview
//
// A cube exposes a dense, stable list of hierarchies. Ordinal 0 is always the
// measures hierarchy. Every hierarchy owns its members; a member is either a
// plain (stored) member, the hierarchy's All member, or a calculated member
// whose value is produced by a compiled Expression.
//
// # Identity
//
// Members compare by pointer identity, never by name. Two members may share a
// unique name and still be distinct, for example when a visual-total stand-in
// replaces a real member. Each member also carries a process-unique numeric id
// which cache keys and context signatures are built from.
//
// # Calculations
//
// A Calculation is the immutable, precomputed description of one formula:
// its solve order, owning hierarchy ordinal, scope, aggregate-function flag
// and ResolutionClass. The class is derived once at construction so the
// solve-order resolver never recomputes it on the hot path.
//
// # Thread Safety
//
// Hierarchies and members are built single-threaded by a catalog loader and are
// read-only afterwards. Everything in this package is then safe to share
// between goroutines.
package dim
