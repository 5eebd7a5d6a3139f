// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the evaluation core over HTTP.
//
// A Service owns one loaded cube and runs statements against it: each
// statement gets its own RootContext, is evaluated pass by pass until the
// cell reader stops deferring, and is closed so its statistics are
// published. The HTTP layer is a thin gin router over Service.
//
// Endpoints:
//
//	GET  /health   - Liveness
//	GET  /metrics  - Prometheus exposition
//	GET  /v1/cube  - Cube outline
//	POST /v1/eval  - Evaluate cells
package server
