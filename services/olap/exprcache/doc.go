// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package exprcache caches expression results for the duration of a
// statement, or longer when a cache is shared between statements.
//
// # Keys
//
// A Key is the expression identity plus the members of the context that the
// expression can depend on. In non-empty evaluation mode the whole context
// vector is used, because whether a cell is empty can depend on any
// hierarchy. An explicit aggregation list, when one is active, is appended so
// that two contexts that differ only by their aggregation list never share an
// entry.
//
// # Validity
//
// An entry computed while the aggregate source reported a miss may rest on a
// placeholder value. Such entries are kept in a provisional tier: they are
// served for the rest of the current aggregate-cache generation and dropped by
// ClearProvisional when the generation changes. Entries computed without a
// miss are valid until Clear.
//
// # Thread Safety
//
// Cache is safe for concurrent use. Each Put is a single atomic insert under
// the cache lock, so a cancelled evaluation never leaves a partial entry.
package exprcache
