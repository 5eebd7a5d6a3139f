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
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianOLAP/services/olap/telemetry"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// NewRouter builds the gin engine with tracing middleware and all routes.
func NewRouter(h *Handlers, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	router.GET("/health", h.HandleHealth)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	v1 := router.Group("/v1")
	v1.GET("/cube", h.HandleCube)
	v1.POST("/eval", h.HandleEval)
	return router
}

// Server is the HTTP front end of a Service.
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// New creates a server listening on addr.
func New(svc *Service, addr, serviceName string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(NewHandlers(svc, logger), serviceName),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
//
// Outputs:
//
//	error - A listen failure, or the shutdown error. Nil after a clean stop.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("olap server listening", slog.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("olap server shutting down")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
