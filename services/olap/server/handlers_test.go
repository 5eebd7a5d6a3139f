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

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOLAP/services/olap/cube"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, c *cube.Cube) *gin.Engine {
	t.Helper()
	svc := newService(t, c, nil)
	return NewRouter(NewHandlers(svc, nil), "olap-test")
}

func postEval(t *testing.T, router http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, "/v1/eval", &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Health and metrics
// =============================================================================

func TestHandleHealth(t *testing.T) {
	router := newTestRouter(t, loadSales(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "Sales", resp["cube"])
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, loadSales(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// =============================================================================
// Cube outline
// =============================================================================

func TestHandleCube(t *testing.T) {
	router := newTestRouter(t, loadSales(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/cube", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp CubeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Sales", resp.Name)
	require.Len(t, resp.Hierarchies, 3)
	assert.Equal(t, "Measures", resp.Hierarchies[0].Name)
	assert.Equal(t, 1, resp.Hierarchies[1].Ordinal)

	var margin *MemberResponse
	for i, m := range resp.Hierarchies[0].Members {
		if m.UniqueName == "[Measures].[Margin]" {
			margin = &resp.Hierarchies[0].Members[i]
		}
	}
	require.NotNil(t, margin)
	assert.True(t, margin.Calculated)
	assert.Equal(t, 20, margin.SolveOrder)

	require.Len(t, resp.CalculatedTuples, 1)
	assert.Equal(t, "WestSlice", resp.CalculatedTuples[0].Name)
	assert.Equal(t, []string{"[Geography].[All Geography]"}, resp.CalculatedTuples[0].At)
}

// =============================================================================
// Evaluation
// =============================================================================

func TestHandleEval_Success(t *testing.T) {
	router := newTestRouter(t, loadSales(t))

	w := postEval(t, router, EvalRequest{Cells: [][]string{
		{"[Measures].[Margin]", "[Time].[Growth]", "[Geography].[US]"},
		{"[Time].[2023]", "[Geography].[APAC]"},
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp EvalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Values, 2)
	assert.InDelta(t, 0.6, resp.Values[0].(float64), 1e-9)
	assert.Nil(t, resp.Values[1])
	assert.Equal(t, 1, resp.Passes)
	assert.Positive(t, resp.Stats.Expansions)
	require.NotNil(t, resp.Cache)
}

func TestHandleEval_CalculatedTuple(t *testing.T) {
	router := newTestRouter(t, loadSales(t))

	w := postEval(t, router, EvalRequest{
		Cells:        [][]string{{"[Measures].[Profit]", "[Time].[2024]", "[Geography].[US]"}},
		Calculations: []string{"WestSlice"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp EvalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Values, 1)
	assert.InDelta(t, 42.0, resp.Values[0].(float64), 1e-9)
}

func TestHandleEval_UsesRequestID(t *testing.T) {
	router := newTestRouter(t, loadSales(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/eval",
		bytes.NewBufferString(`{"cells":[["[Measures].[Sales]"]]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp EvalResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "req-42", resp.QueryID)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestHandleEval_Errors(t *testing.T) {
	loop, err := cube.Parse([]byte(loopCube), cube.Options{})
	require.NoError(t, err)
	limited, err := cube.Load(salesFixture, cube.Options{MaxRows: 1})
	require.NoError(t, err)

	tests := []struct {
		name     string
		cube     *cube.Cube
		body     any
		wantCode int
		wantErr  string
	}{
		{name: "malformed body", cube: loadSales(t), body: "cells", wantCode: http.StatusBadRequest, wantErr: "INVALID_REQUEST"},
		{name: "no cells", cube: loadSales(t), body: EvalRequest{}, wantCode: http.StatusBadRequest, wantErr: "INVALID_REQUEST"},
		{name: "empty cell", cube: loadSales(t), body: EvalRequest{Cells: [][]string{{}}}, wantCode: http.StatusBadRequest, wantErr: "INVALID_REQUEST"},
		{name: "too many workers", cube: loadSales(t), body: EvalRequest{Cells: [][]string{{"[Measures].[Sales]"}}, Workers: 1000}, wantCode: http.StatusBadRequest, wantErr: "INVALID_REQUEST"},
		{name: "unknown member", cube: loadSales(t), body: EvalRequest{Cells: [][]string{{"[Time].[1999]"}}}, wantCode: http.StatusBadRequest, wantErr: "INVALID_CELL"},
		{name: "unknown calculated tuple", cube: loadSales(t), body: EvalRequest{Cells: [][]string{{"[Measures].[Sales]"}}, Calculations: []string{"Nope"}}, wantCode: http.StatusBadRequest, wantErr: "UNKNOWN_CALCULATION"},
		{name: "blank calculated tuple", cube: loadSales(t), body: EvalRequest{Cells: [][]string{{"[Measures].[Sales]"}}, Calculations: []string{""}}, wantCode: http.StatusBadRequest, wantErr: "INVALID_REQUEST"},
		{name: "recursion", cube: loop, body: EvalRequest{Cells: [][]string{{"[Measures].[Self]"}}}, wantCode: http.StatusUnprocessableEntity, wantErr: "INFINITE_RECURSION"},
		{name: "resource limit", cube: limited, body: EvalRequest{Cells: [][]string{{"[Measures].[Sales]"}}}, wantCode: http.StatusUnprocessableEntity, wantErr: "RESOURCE_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, tt.cube)
			w := postEval(t, router, tt.body)

			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantErr, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestClassify(t *testing.T) {
	status, code := classify(ErrTooManyPasses)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "TOO_MANY_PASSES", code)

	status, code = classify(ErrClosed)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "UNAVAILABLE", code)

	status, code = classify(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "EVAL_FAILED", code)
}
