// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

// EvalRequest is the body of POST /v1/eval.
type EvalRequest struct {
	// Cells lists coordinates, each a list of member unique names such as
	// "[Time].[2024]". Hierarchies not named keep their default member.
	Cells [][]string `json:"cells" binding:"required,min=1,max=10000,dive,min=1"`

	// Workers bounds parallel branches. Zero uses the configured value.
	Workers int `json:"workers" binding:"gte=0,lte=256"`

	// Calculations names calculated tuples of the cube to activate for the
	// whole statement.
	Calculations []string `json:"calculations" binding:"omitempty,max=32,dive,required"`
}

// EvalResponse is the body of a successful POST /v1/eval.
type EvalResponse struct {
	QueryID string         `json:"query_id"`
	Values  []any          `json:"values"`
	Passes  int            `json:"passes"`
	Stats   StatsResponse  `json:"stats"`
	Cache   *CacheResponse `json:"cache,omitempty"`
}

// StatsResponse mirrors evaluator.Stats.
type StatsResponse struct {
	Expansions        int64 `json:"expansions"`
	CellReads         int64 `json:"cell_reads"`
	Pushes            int64 `json:"pushes"`
	RecursionChecks   int64 `json:"recursion_checks"`
	ProvisionalClears int64 `json:"provisional_clears"`
}

// CacheResponse mirrors exprcache.Stats.
type CacheResponse struct {
	Valid       int   `json:"valid"`
	Provisional int   `json:"provisional"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	StoreHits   int64 `json:"store_hits"`
}

// CubeResponse is the body of GET /v1/cube.
type CubeResponse struct {
	Name             string                    `json:"name"`
	Hierarchies      []HierarchyResponse       `json:"hierarchies"`
	CalculatedTuples []CalculatedTupleResponse `json:"calculated_tuples,omitempty"`
}

// CalculatedTupleResponse describes one calculated tuple.
type CalculatedTupleResponse struct {
	Name       string   `json:"name"`
	At         []string `json:"at"`
	SolveOrder int      `json:"solve_order"`
}

// HierarchyResponse describes one hierarchy.
type HierarchyResponse struct {
	Name    string           `json:"name"`
	Ordinal int              `json:"ordinal"`
	Default string           `json:"default"`
	Members []MemberResponse `json:"members"`
}

// MemberResponse describes one member.
type MemberResponse struct {
	UniqueName string `json:"unique_name"`
	All        bool   `json:"all,omitempty"`
	Calculated bool   `json:"calculated,omitempty"`
	SolveOrder int    `json:"solve_order,omitempty"`
}

// ErrorResponse is returned for failed requests.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}
