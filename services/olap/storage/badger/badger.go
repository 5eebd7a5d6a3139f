// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens the BadgerDB instances used by the evaluation core.
//
// The only consumer today is the persistent expression cache tier, which
// spills valid expression results out of the Go heap so that statements
// sharing a cube can reuse them:
//
//	Statement cache (RAM) → Shared tier (BadgerDB, in-memory or on disk)
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Cache tiers default to this.
	InMemory bool

	// SyncWrites fsyncs every write. Cache data is disposable, so the
	// default is false.
	SyncWrites bool

	// Logger receives BadgerDB's own log lines. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Zero disables it. Ignored for in-memory databases.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable ratio before GC rewrites a file.
	GCDiscardRatio float64
}

// DefaultConfig returns the configuration for an on-disk cache tier at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns the configuration for an in-memory cache tier.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB wraps a BadgerDB instance with its GC loop.
type DB struct {
	*badger.DB
	stopCh chan struct{}
	doneCh chan struct{}
}

// Open opens a database.
//
// Description:
//
//	Opens BadgerDB at cfg.Path, creating the directory if needed, or in
//	memory. Starts a value-log GC loop when GCInterval is set for an on-disk
//	database.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*DB - The opened database. Caller must call Close().
//	error - Non-nil if the path is missing or the database cannot be opened.
//
// Thread Safety: The returned *DB is safe for concurrent use.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	d := &DB{DB: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		d.stopCh = make(chan struct{})
		d.doneCh = make(chan struct{})
		go d.runGC(cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return d, nil
}

// OpenInMemory opens an in-memory database.
func OpenInMemory() (*DB, error) {
	return Open(InMemoryConfig())
}

// Close stops the GC loop and closes the database.
func (d *DB) Close() error {
	if d.stopCh != nil {
		close(d.stopCh)
		<-d.doneCh
		d.stopCh = nil
	}
	return d.DB.Close()
}

func (d *DB) runGC(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(d.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing was worth collecting.
			err := d.DB.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}
