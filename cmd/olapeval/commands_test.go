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
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salesCube = "../../services/olap/cube/testdata/sales.yaml"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestSplitCell(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "[Measures].[Sales]", want: []string{"[Measures].[Sales]"}},
		{in: "[Measures].[Sales], [Time].[2024]", want: []string{"[Measures].[Sales]", "[Time].[2024]"}},
		{in: "[Geography].[North, East],[Time].[2024],", want: []string{"[Geography].[North, East]", "[Time].[2024]"}},
		{in: "", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, splitCell(tt.in))
		})
	}
}

func TestCheckCmd(t *testing.T) {
	out, err := run(t, "check", "--cube", salesCube)
	require.NoError(t, err)
	assert.Contains(t, out, "cube Sales: 3 hierarchies, 5 calculated members, 10 facts")
	assert.Contains(t, out, "calc [Measures].[Margin] solve_order=20")
	assert.Contains(t, out, "tuple WestSlice at ([Geography].[All Geography]) solve_order=0")
	assert.Contains(t, out, "solve order policy: absolute")
}

func TestEvalCmd_Text(t *testing.T) {
	out, err := run(t, "eval", "--cube", salesCube,
		"--cell", "[Measures].[Profit],[Time].[2024],[Geography].[West]",
		"--cell", "[Time].[2023],[Geography].[APAC]")
	require.NoError(t, err)
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "(empty)")
	assert.Contains(t, out, "1 pass(es)")
}

func TestEvalCmd_WithCalculatedTuple(t *testing.T) {
	out, err := run(t, "eval", "--cube", salesCube, "-o", "json", "--with", "WestSlice",
		"--cell", "[Measures].[Sales],[Time].[2024],[Geography].[APAC]")
	require.NoError(t, err)

	var got struct {
		Cells []struct {
			Value float64 `json:"value"`
		} `json:"cells"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Cells, 1)
	assert.InDelta(t, 70.0, got.Cells[0].Value, 1e-9)
}

func TestEvalCmd_JSON(t *testing.T) {
	for _, policy := range []string{"absolute", "scoped"} {
		t.Run(policy, func(t *testing.T) {
			out, err := run(t, "eval", "--cube", salesCube, "--solve-order", policy, "-o", "json",
				"--cell", "[Measures].[RegionSales],[Time].[2024]")
			require.NoError(t, err)

			var got struct {
				Passes int `json:"passes"`
				Cells  []struct {
					Cell  string  `json:"cell"`
					Value float64 `json:"value"`
				} `json:"cells"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.Equal(t, 1, got.Passes)
			require.Len(t, got.Cells, 1)
			assert.InDelta(t, 75.0, got.Cells[0].Value, 1e-9)
		})
	}
}

func TestCommand_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing cube", args: []string{"check"}, wantErr: "--cube is required"},
		{name: "no cells", args: []string{"eval", "--cube", salesCube}, wantErr: "at least one --cell"},
		{name: "bad output", args: []string{"eval", "--cube", salesCube, "--cell", "[Measures].[Sales]", "-o", "xml"}, wantErr: "unknown output format"},
		{name: "bad solve order", args: []string{"check", "--cube", salesCube, "--solve-order", "sideways"}, wantErr: "SolveOrder"},
		{name: "unknown member", args: []string{"eval", "--cube", salesCube, "--cell", "[Time].[1999]"}, wantErr: "invalid cell"},
		{name: "unknown calculated tuple", args: []string{"eval", "--cube", salesCube, "--cell", "[Measures].[Sales]", "--with", "Nope"}, wantErr: "unknown calculated tuple"},
		{name: "missing cube file", args: []string{"check", "--cube", "testdata/none.yaml"}, wantErr: "read cube file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
