// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the engine configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML or JSON
// file, then OLAP_* environment variables. The result is validated before
// use.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianOLAP/services/olap/evaluator"
	"github.com/AleutianAI/AleutianOLAP/services/olap/resolve"
)

// validate is the shared validator instance.
var validate = validator.New()

// Config is the full engine configuration.
type Config struct {
	// Evaluation contains per-statement evaluation settings.
	Evaluation EvaluationConfig `json:"evaluation" yaml:"evaluation"`

	// Cache contains expression cache settings.
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Observability contains logging and tracing settings.
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`

	// Server contains HTTP surface settings.
	Server ServerConfig `json:"server" yaml:"server"`
}

// EvaluationConfig configures statement evaluation.
type EvaluationConfig struct {
	SolveOrder               string        `json:"solve_order" yaml:"solve_order" validate:"oneof=absolute scoped"`
	RecursionCheckMultiplier int           `json:"recursion_check_multiplier" yaml:"recursion_check_multiplier" validate:"gte=1,lte=1024"`
	VerifyCheckpoints        bool          `json:"verify_checkpoints" yaml:"verify_checkpoints"`
	NonEmpty                 bool          `json:"non_empty" yaml:"non_empty"`
	NativeEnabled            bool          `json:"native_enabled" yaml:"native_enabled"`
	Workers                  int           `json:"workers" yaml:"workers" validate:"gte=1,lte=256"`
	MaxRows                  int           `json:"max_rows" yaml:"max_rows" validate:"gte=0"`
	Timeout                  time.Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`
}

// CacheConfig configures the expression result cache.
type CacheConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Shared keeps one cache across statements instead of one per statement.
	Shared bool `json:"shared" yaml:"shared"`

	// PersistPath enables the persistent tier in a Badger directory.
	PersistPath string `json:"persist_path" yaml:"persist_path"`

	// Namespace prefixes persistent keys, normally the cube name.
	Namespace string `json:"namespace" yaml:"namespace" validate:"required,max=64,excludes=/"`

	// TTL expires persistent entries. Zero keeps them.
	TTL time.Duration `json:"ttl" yaml:"ttl" validate:"gte=0"`
}

// ObservabilityConfig configures logging and tracing.
type ObservabilityConfig struct {
	LogLevel       string `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogDir         string `json:"log_dir" yaml:"log_dir"`
	ServiceName    string `json:"service_name" yaml:"service_name" validate:"required"`
	TraceExporter  string `json:"trace_exporter" yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `json:"otlp_endpoint" yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" validate:"required,hostname_port"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Evaluation: EvaluationConfig{
			SolveOrder:               "absolute",
			RecursionCheckMultiplier: 8,
			NativeEnabled:            true,
			Workers:                  4,
			Timeout:                  time.Minute,
		},
		Cache: CacheConfig{
			Enabled:   true,
			Namespace: "olap",
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			ServiceName:    "aleutian-olap",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8090",
		},
	}
}

// Load builds the configuration from defaults, the file at path (if path is
// non-empty and the file exists) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := loadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return nil
}

// loadEnv applies OLAP_* overrides. Unlike the file, a malformed variable is
// an error rather than being ignored.
func loadEnv(cfg *Config) error {
	if v := os.Getenv("OLAP_SOLVE_ORDER"); v != "" {
		cfg.Evaluation.SolveOrder = strings.ToLower(v)
	}
	if v := os.Getenv("OLAP_RECURSION_MULTIPLIER"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OLAP_RECURSION_MULTIPLIER: %w", err)
		}
		cfg.Evaluation.RecursionCheckMultiplier = i
	}
	if v := os.Getenv("OLAP_VERIFY_CHECKPOINTS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OLAP_VERIFY_CHECKPOINTS: %w", err)
		}
		cfg.Evaluation.VerifyCheckpoints = b
	}
	if v := os.Getenv("OLAP_WORKERS"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OLAP_WORKERS: %w", err)
		}
		cfg.Evaluation.Workers = i
	}
	if v := os.Getenv("OLAP_CACHE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OLAP_CACHE_ENABLED: %w", err)
		}
		cfg.Cache.Enabled = b
	}
	if v := os.Getenv("OLAP_CACHE_PERSIST_PATH"); v != "" {
		cfg.Cache.PersistPath = v
	}
	if v := os.Getenv("OLAP_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("OLAP_TRACE_EXPORTER"); v != "" {
		cfg.Observability.TraceExporter = strings.ToLower(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.OTLPEndpoint = v
	}
	if v := os.Getenv("OLAP_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// EvaluatorConfig converts the evaluation and cache settings for
// evaluator.NewRootContext.
func (c *Config) EvaluatorConfig() (evaluator.Config, error) {
	policy, err := resolve.ParsePolicy(c.Evaluation.SolveOrder)
	if err != nil {
		return evaluator.Config{}, err
	}
	return evaluator.Config{
		Policy:                   policy,
		RecursionCheckMultiplier: c.Evaluation.RecursionCheckMultiplier,
		VerifyCheckpoints:        c.Evaluation.VerifyCheckpoints,
		NonEmpty:                 c.Evaluation.NonEmpty,
		NativeEnabled:            c.Evaluation.NativeEnabled,
		CacheEnabled:             c.Cache.Enabled,
		Workers:                  c.Evaluation.Workers,
	}, nil
}
