// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cellreader provides an in-memory CellReader over a table of facts.
//
// MapReader answers leaf coordinates from an index and aggregated
// coordinates (All members or explicit aggregation lists) by summing the
// matching facts. It can defer aggregated reads for chosen measures to the
// end of a pass, which lets tests and fixtures exercise the evaluator's
// multi-pass protocol without a database.
package cellreader
