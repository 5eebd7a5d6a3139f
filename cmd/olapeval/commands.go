// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianOLAP/pkg/logging"
	"github.com/AleutianAI/AleutianOLAP/services/olap/config"
	"github.com/AleutianAI/AleutianOLAP/services/olap/cube"
	"github.com/AleutianAI/AleutianOLAP/services/olap/server"
	"github.com/AleutianAI/AleutianOLAP/services/olap/telemetry"
)

// errNoCubePath is returned when a command needs a cube and --cube is empty.
var errNoCubePath = errors.New("--cube is required")

// options holds the persistent flags.
type options struct {
	configPath string
	cubePath   string
	logLevel   string
	solveOrder string
}

// env is what every command works with after flag parsing.
type env struct {
	cfg    config.Config
	cube   *cube.Cube
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "olapeval",
		Short:         "Evaluate cells of a dimensional cube",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "engine config file (YAML or JSON)")
	root.PersistentFlags().StringVar(&opts.cubePath, "cube", "", "cube definition file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override observability.log_level")
	root.PersistentFlags().StringVar(&opts.solveOrder, "solve-order", "", "override evaluation.solve_order (absolute|scoped)")

	root.AddCommand(newCheckCmd(opts), newEvalCmd(opts), newServeCmd(opts))
	return root
}

// setup loads configuration, the logger and the cube.
func setup(cmd *cobra.Command, opts *options) (*env, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Observability.LogLevel = strings.ToLower(opts.logLevel)
	}
	if opts.solveOrder != "" {
		cfg.Evaluation.SolveOrder = strings.ToLower(opts.solveOrder)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Observability.LogDir,
		Service: cfg.Observability.ServiceName,
		Output:  cmd.ErrOrStderr(),
	})

	if opts.cubePath == "" {
		_ = logger.Close()
		return nil, errNoCubePath
	}
	c, err := cube.Load(opts.cubePath, cube.Options{
		MaxRows: cfg.Evaluation.MaxRows,
		Logger:  logger.Slog(),
	})
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	return &env{cfg: cfg, cube: c, logger: logger}, nil
}

func telemetryConfig(cfg config.Config, metrics bool) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceName = cfg.Observability.ServiceName
	tc.TraceExporter = cfg.Observability.TraceExporter
	tc.OTLPEndpoint = cfg.Observability.OTLPEndpoint
	tc.MetricExporter = "none"
	if metrics {
		tc.MetricExporter = cfg.Observability.MetricExporter
	}
	return tc
}

// -----------------------------------------------------------------------------
// check
// -----------------------------------------------------------------------------

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and cube and print an outline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.logger.Close()
			if _, err := e.cfg.EvaluatorConfig(); err != nil {
				return err
			}
			printOutline(cmd.OutOrStdout(), e)
			return nil
		},
	}
}

func printOutline(w io.Writer, e *env) {
	c := e.cube
	fmt.Fprintf(w, "cube %s: %d hierarchies, %d calculated members, %d facts\n",
		c.Name, len(c.Catalog.Hierarchies()), len(c.Calculated), c.Reader.Len())
	for _, h := range c.Catalog.Hierarchies() {
		fmt.Fprintf(w, "  [%d] %s (default %s, %d members)\n",
			h.Ordinal(), h.Name(), h.DefaultMember().UniqueName(), len(h.Members()))
	}
	for _, m := range c.Calculated {
		calc := m.Calculation()
		fmt.Fprintf(w, "  calc %s solve_order=%d scope=%s class=%s\n",
			m.UniqueName(), calc.SolveOrder(), calc.Scope(), calc.Class())
	}
	for _, ct := range c.Tuples {
		calc := ct.Calculation
		fmt.Fprintf(w, "  tuple %s at %s solve_order=%d scope=%s class=%s\n",
			ct.Name, calc.Tuple(), calc.SolveOrder(), calc.Scope(), calc.Class())
	}
	fmt.Fprintf(w, "solve order policy: %s\n", e.cfg.Evaluation.SolveOrder)
}

// -----------------------------------------------------------------------------
// eval
// -----------------------------------------------------------------------------

func newEvalCmd(opts *options) *cobra.Command {
	var (
		cells   []string
		with    []string
		workers int
		output  string
	)
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate one or more cells",
		Long: `Evaluate cells given as comma-separated member unique names.
Hierarchies a cell does not name keep their default member.
--with activates a calculated tuple of the cube for every cell.

  olapeval eval --cube sales.yaml \
    --cell "[Measures].[Profit],[Time].[2024],[Geography].[West]" \
    --cell "[Measures].[Margin],[Time].[Growth]"

  olapeval eval --cube sales.yaml --with WestSlice \
    --cell "[Measures].[Sales],[Time].[2024]"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(cells) == 0 {
				return errors.New("at least one --cell is required")
			}
			if output != "text" && output != "json" {
				return fmt.Errorf("unknown output format %q", output)
			}
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.logger.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			shutdown, err := telemetry.Init(ctx, telemetryConfig(e.cfg, false))
			if err != nil {
				return err
			}
			defer func() { _ = shutdown(context.Background()) }()

			svc, err := server.NewService(e.cube, e.cfg, server.Options{Logger: e.logger.Slog()})
			if err != nil {
				return err
			}
			defer svc.Close()

			st := server.Statement{Workers: workers, Calculations: with}
			for _, cell := range cells {
				st.Cells = append(st.Cells, splitCell(cell))
			}
			res, err := svc.Evaluate(ctx, st)
			if err != nil {
				return err
			}
			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), cells, res)
			}
			return writeText(cmd.OutOrStdout(), cells, res)
		},
	}
	cmd.Flags().StringArrayVar(&cells, "cell", nil, "cell to evaluate (repeatable)")
	cmd.Flags().StringArrayVar(&with, "with", nil, "calculated tuple to activate (repeatable)")
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel branches (0 uses evaluation.workers)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text|json")
	return cmd
}

// splitCell splits "[A].[x],[B].[y]" on commas outside brackets.
func splitCell(s string) []string {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if last := strings.TrimSpace(s[start:]); last != "" {
		parts = append(parts, last)
	}
	return parts
}

func formatValue(v any) string {
	if v == nil {
		return "(empty)"
	}
	return fmt.Sprint(v)
}

var (
	colorTeal  = lipgloss.Color("#20B9B4")
	colorSlate = lipgloss.Color("#2C4A54")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorTeal).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	emptyStyle  = cellStyle.Foreground(colorSlate)
	footerStyle = lipgloss.NewStyle().Foreground(colorSlate)
)

func writeText(w io.Writer, cells []string, res *server.Result) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorSlate)).
		Headers("CELL", "VALUE").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 1 && row >= 0 && row < len(res.Values) && res.Values[row] == nil:
				return emptyStyle
			default:
				return cellStyle
			}
		})
	for i, cell := range cells {
		t.Row(cell, formatValue(res.Values[i]))
	}
	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, footerStyle.Render(fmt.Sprintf(
		"query %s: %d pass(es), %d expansions, %d cell reads",
		res.QueryID, res.Passes, res.Stats.Expansions, res.Stats.CellReads)))
	return err
}

type jsonCell struct {
	Cell  string `json:"cell"`
	Value any    `json:"value"`
}

func writeJSON(w io.Writer, cells []string, res *server.Result) error {
	out := struct {
		QueryID string     `json:"query_id"`
		Passes  int        `json:"passes"`
		Cells   []jsonCell `json:"cells"`
	}{QueryID: res.QueryID, Passes: res.Passes}
	for i, cell := range cells {
		out.Cells = append(out.Cells, jsonCell{Cell: cell, Value: res.Values[i]})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// -----------------------------------------------------------------------------
// serve
// -----------------------------------------------------------------------------

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cube over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer e.logger.Close()
			if addr != "" {
				e.cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Init(ctx, telemetryConfig(e.cfg, true))
			if err != nil {
				return err
			}
			defer func() { _ = shutdown(context.Background()) }()

			svc, err := server.NewService(e.cube, e.cfg, server.Options{Logger: e.logger.Slog()})
			if err != nil {
				return err
			}
			defer svc.Close()

			srv := server.New(svc, e.cfg.Server.Addr, e.cfg.Observability.ServiceName, e.logger.Slog())
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
