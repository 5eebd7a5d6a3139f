// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cube

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
	"github.com/AleutianAI/AleutianOLAP/services/olap/evaluator"
	"github.com/AleutianAI/AleutianOLAP/services/olap/resolve"
)

func loadSales(t *testing.T) *Cube {
	t.Helper()
	c, err := Load("testdata/sales.yaml", Options{})
	require.NoError(t, err)
	return c
}

func TestLoad_SalesFixture(t *testing.T) {
	c := loadSales(t)

	assert.Equal(t, "Sales", c.Name)
	require.Len(t, c.Catalog.Hierarchies(), 3)
	assert.Len(t, c.Calculated, 5)
	assert.Equal(t, 10, c.Reader.Len())

	measures := c.Catalog.Hierarchies()[0]
	assert.Equal(t, "Sales", measures.DefaultMember().Name())

	west, err := c.Catalog.Resolve("[Geography].[West]")
	require.NoError(t, err)
	assert.Equal(t, dim.ClassAggregateContaining, west.Calculation().Class())

	regionSales, err := c.Catalog.Resolve("[Measures].[RegionSales]")
	require.NoError(t, err)
	assert.Equal(t, dim.ClassQueryScoped, regionSales.Calculation().Class())

	margin, err := c.Catalog.Resolve("[Measures].[Margin]")
	require.NoError(t, err)
	assert.Equal(t, 20, margin.SolveOrder())

	require.Len(t, c.Tuples, 1)
	ws, ok := c.CalculatedTuple("WestSlice")
	require.True(t, ok)
	assert.Equal(t, dim.KindCalculatedTuple, ws.Calculation.Kind())
	assert.Equal(t, dim.ClassAggregateContaining, ws.Calculation.Class())
	assert.Equal(t, "[Geography].[All Geography]", ws.Calculation.Tuple()[0].UniqueName())
	_, ok = c.CalculatedTuple("Nope")
	assert.False(t, ok)
}

func TestLoad_EvaluatesCalculatedTuple(t *testing.T) {
	c := loadSales(t)
	ws, ok := c.CalculatedTuple("WestSlice")
	require.True(t, ok)

	tests := []struct {
		name string
		at   []string
		want float64
	}{
		{name: "overrides the requested region", at: []string{"[Measures].[Sales]", "[Time].[2024]", "[Geography].[APAC]"}, want: 70},
		{name: "other year", at: []string{"[Measures].[Cost]", "[Time].[2023]"}, want: 12},
		{name: "calculated measure over the slice", at: []string{"[Measures].[Profit]", "[Time].[2024]", "[Geography].[US]"}, want: 42},
	}
	for _, policy := range []resolve.Policy{resolve.PolicyAbsolute, resolve.PolicyScoped} {
		cfg := evaluator.DefaultConfig()
		cfg.Policy = policy
		root, err := evaluator.NewRootContext(context.Background(), c.Catalog, c.Reader, cfg)
		require.NoError(t, err)
		root.Evaluator().AddCalculation(ws.Calculation)

		for _, tt := range tests {
			t.Run(policy.String()+"/"+tt.name, func(t *testing.T) {
				tuple, err := c.ParseTuple(tt.at)
				require.NoError(t, err)

				got, err := root.EvaluateCells([]dim.Tuple{tuple}, 1)
				require.NoError(t, err)
				require.IsType(t, float64(0), got[0])
				assert.InDelta(t, tt.want, got[0].(float64), 1e-9)
			})
		}
		root.Close()
	}
}

func TestLoad_EvaluatesFixture(t *testing.T) {
	c := loadSales(t)

	tests := []struct {
		name string
		at   []string
		want any
	}{
		{name: "stored", at: []string{"[Measures].[Cost]", "[Time].[2024]", "[Geography].[EU]"}, want: 16.0},
		{name: "profit over an aggregated member", at: []string{"[Measures].[Profit]", "[Time].[2024]", "[Geography].[West]"}, want: 42.0},
		{name: "cached query-scoped sum", at: []string{"[Measures].[RegionSales]", "[Time].[2024]"}, want: 75.0},
		{name: "margin of growth", at: []string{"[Measures].[Margin]", "[Time].[Growth]", "[Geography].[US]"}, want: 0.6},
		{name: "growth with a missing year", at: []string{"[Time].[Growth]", "[Geography].[APAC]"}, want: 5.0},
		{name: "empty cell", at: []string{"[Time].[2023]", "[Geography].[APAC]"}, want: nil},
	}
	for _, policy := range []resolve.Policy{resolve.PolicyAbsolute, resolve.PolicyScoped} {
		cfg := evaluator.DefaultConfig()
		cfg.Policy = policy
		root, err := evaluator.NewRootContext(context.Background(), c.Catalog, c.Reader, cfg)
		require.NoError(t, err)

		for _, tt := range tests {
			t.Run(policy.String()+"/"+tt.name, func(t *testing.T) {
				tuple, err := c.ParseTuple(tt.at)
				require.NoError(t, err)

				got, err := root.EvaluateCells([]dim.Tuple{tuple}, 1)
				require.NoError(t, err)
				if want, ok := tt.want.(float64); ok {
					require.IsType(t, float64(0), got[0])
					assert.InDelta(t, want, got[0].(float64), 1e-9)
				} else {
					assert.Nil(t, got[0])
				}
			})
		}
		root.Close()
	}
}

func TestParse_ForwardReference(t *testing.T) {
	doc := `
name: Forward
hierarchies:
  - name: Measures
    members: [Units]
calculated:
  - hierarchy: Measures
    name: Double
    formula:
      op: "*"
      args:
        - ref: ["[Measures].[Base]"]
        - const: 2
  - hierarchy: Measures
    name: Base
    formula:
      ref: ["[Measures].[Units]"]
facts:
  - {at: ["[Measures].[Units]"], value: 21}
`
	c, err := Parse([]byte(doc), Options{})
	require.NoError(t, err)

	root, err := evaluator.NewRootContext(context.Background(), c.Catalog, c.Reader, evaluator.DefaultConfig())
	require.NoError(t, err)
	defer root.Close()

	tuple, err := c.ParseTuple([]string{"[Measures].[Double]"})
	require.NoError(t, err)
	got, err := root.EvaluateCells([]dim.Tuple{tuple}, 1)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got[0])
}

func TestParse_Errors(t *testing.T) {
	const header = `
name: Broken
hierarchies:
  - name: Measures
    members: [Units]
  - name: Time
    all: All
    members: ["2024"]
`
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "not yaml", doc: "name: [", wantErr: "parse cube"},
		{name: "missing name", doc: "hierarchies:\n  - name: Measures\n    members: [Units]\n", wantErr: "validate cube"},
		{name: "duplicate members", doc: "name: X\nhierarchies:\n  - name: Measures\n    members: [A, A]\n", wantErr: "validate cube"},
		{name: "unknown default", doc: "name: X\nhierarchies:\n  - name: Measures\n    members: [A]\n    default: B\n", wantErr: "default member"},
		{name: "unknown hierarchy", doc: header + `
calculated:
  - {hierarchy: Geography, name: X, formula: {const: 1}}
`, wantErr: "unknown hierarchy"},
		{name: "unknown member", doc: header + `
calculated:
  - {hierarchy: Measures, name: X, formula: {ref: ["[Measures].[Nope]"]}}
`, wantErr: "member not found"},
		{name: "two forms", doc: header + `
calculated:
  - {hierarchy: Measures, name: X, formula: {const: 1, current: true}}
`, wantErr: "invalid formula"},
		{name: "no form", doc: header + `
calculated:
  - {hierarchy: Measures, name: X, formula: {}}
`, wantErr: "invalid formula"},
		{name: "bad operator", doc: header + `
calculated:
  - {hierarchy: Measures, name: X, formula: {op: "%", args: [{const: 1}, {const: 2}]}}
`, wantErr: "unknown operator"},
		{name: "fact on all member", doc: header + `
facts:
  - {at: ["[Measures].[Units]", "[Time].[All]"], value: 1}
`, wantErr: "stored leaf members"},
		{name: "tuple with unknown member", doc: header + `
calculated_tuples:
  - {name: T, at: ["[Time].[1999]"], formula: {const: 1}}
`, wantErr: "member not found"},
		{name: "tuple on a calculated member", doc: header + `
calculated:
  - {hierarchy: Measures, name: C, formula: {const: 1}}
calculated_tuples:
  - {name: T, at: ["[Measures].[C]"], formula: {const: 1}}
`, wantErr: "invalid calculated tuple"},
		{name: "tuple with two members of one hierarchy", doc: header + `
calculated_tuples:
  - {name: T, at: ["[Time].[All]", "[Time].[2024]"], formula: {const: 1}}
`, wantErr: "invalid calculated tuple"},
		{name: "duplicate tuple names", doc: header + `
calculated_tuples:
  - {name: T, at: ["[Time].[2024]"], formula: {const: 1}}
  - {name: T, at: ["[Time].[All]"], formula: {const: 2}}
`, wantErr: "validate cube"},
		{name: "tuple formula", doc: header + `
calculated_tuples:
  - {name: T, at: ["[Time].[2024]"], formula: {}}
`, wantErr: "invalid formula"},
		{name: "incomplete fact", doc: header + `
facts:
  - {at: ["[Measures].[Units]"], value: 1}
`, wantErr: "one member per hierarchy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/absent.yaml", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read cube file")
}
