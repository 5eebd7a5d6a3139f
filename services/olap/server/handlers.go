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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianOLAP/services/olap/evaluator"
	"github.com/AleutianAI/AleutianOLAP/services/olap/telemetry"
)

// Handlers serves the HTTP endpoints.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates handlers over svc.
func NewHandlers(svc *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "cube": h.svc.Cube().Name})
}

// HandleCube handles GET /v1/cube.
func (h *Handlers) HandleCube(c *gin.Context) {
	cb := h.svc.Cube()
	resp := CubeResponse{Name: cb.Name}
	for _, hier := range cb.Catalog.Hierarchies() {
		hr := HierarchyResponse{
			Name:    hier.Name(),
			Ordinal: hier.Ordinal(),
			Default: hier.DefaultMember().UniqueName(),
		}
		for _, m := range hier.Members() {
			mr := MemberResponse{
				UniqueName: m.UniqueName(),
				All:        m.IsAll(),
				Calculated: m.IsCalculated(),
			}
			if m.IsCalculated() {
				mr.SolveOrder = m.SolveOrder()
			}
			hr.Members = append(hr.Members, mr)
		}
		resp.Hierarchies = append(resp.Hierarchies, hr)
	}
	for _, ct := range cb.Tuples {
		tr := CalculatedTupleResponse{Name: ct.Name, SolveOrder: ct.Calculation.SolveOrder()}
		for _, m := range ct.Calculation.Tuple() {
			tr.At = append(tr.At, m.UniqueName())
		}
		resp.CalculatedTuples = append(resp.CalculatedTuples, tr)
	}
	c.JSON(http.StatusOK, resp)
}

// HandleEval handles POST /v1/eval.
//
// Description:
//
//	Evaluates the requested cells as one statement, with the named
//	calculated tuples active.
//
// Request Body:
//
//	EvalRequest
//
// Response:
//
//	200 OK: EvalResponse
//	400 Bad Request: Malformed body, unknown member or calculated tuple
//	422 Unprocessable Entity: Infinite recursion or resource limit
//	504 Gateway Timeout: Evaluation timeout or cancellation
//	500 Internal Server Error: Evaluation failure
func (h *Handlers) HandleEval(c *gin.Context) {
	queryID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).
		With(slog.String("query_id", queryID), slog.String("handler", "HandleEval"))

	var req EvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	res, err := h.svc.Evaluate(c.Request.Context(), Statement{
		QueryID:      queryID,
		Cells:        req.Cells,
		Workers:      req.Workers,
		Calculations: req.Calculations,
	})
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			logger.Error("Evaluation failed", slog.String("error", err.Error()), slog.String("code", code))
		} else {
			logger.Warn("Evaluation rejected", slog.String("error", err.Error()), slog.String("code", code))
		}
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	resp := EvalResponse{
		QueryID: res.QueryID,
		Values:  res.Values,
		Passes:  res.Passes,
		Stats: StatsResponse{
			Expansions:        res.Stats.Expansions,
			CellReads:         res.Stats.CellReads,
			Pushes:            res.Stats.Pushes,
			RecursionChecks:   res.Stats.RecursionChecks,
			ProvisionalClears: res.Stats.ProvisionalClears,
		},
	}
	if res.Cache != nil {
		resp.Cache = &CacheResponse{
			Valid:       res.Cache.Valid,
			Provisional: res.Cache.Provisional,
			Hits:        res.Cache.Hits,
			Misses:      res.Cache.Misses,
			StoreHits:   res.Cache.StoreHits,
		}
	}
	logger.Info("Statement evaluated",
		slog.Int("cells", len(req.Cells)),
		slog.Int("passes", res.Passes),
		slog.Int64("expansions", res.Stats.Expansions))
	c.JSON(http.StatusOK, resp)
}

// classify maps an evaluation error to an HTTP status and error code.
func classify(err error) (int, string) {
	var invariant *evaluator.InvariantError
	switch {
	case errors.Is(err, ErrNoCells), errors.Is(err, ErrInvalidCell):
		return http.StatusBadRequest, "INVALID_CELL"
	case errors.Is(err, ErrUnknownCalculation):
		return http.StatusBadRequest, "UNKNOWN_CALCULATION"
	case errors.Is(err, evaluator.ErrInfiniteRecursion):
		return http.StatusUnprocessableEntity, "INFINITE_RECURSION"
	case errors.Is(err, evaluator.ErrResourceLimit):
		return http.StatusUnprocessableEntity, "RESOURCE_LIMIT"
	case errors.Is(err, ErrTooManyPasses):
		return http.StatusUnprocessableEntity, "TOO_MANY_PASSES"
	case errors.Is(err, evaluator.ErrCancelled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	case errors.As(err, &invariant):
		return http.StatusInternalServerError, "INVARIANT_VIOLATION"
	default:
		return http.StatusInternalServerError, "EVAL_FAILED"
	}
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
