// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package formula is a small library of compiled expressions.
//
// It stands in for an expression-language compiler: constants, member
// references, arithmetic, per-tuple sums, aggregation over a set and cached
// sub-expressions, plus a static dependency analysis that tells the
// expression cache which hierarchies a formula can depend on.
package formula
