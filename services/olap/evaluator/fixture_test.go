// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluator_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOLAP/services/olap/cellreader"
	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
	"github.com/AleutianAI/AleutianOLAP/services/olap/evaluator"
)

// testCube is Measures x Time x Geography with four facts per measure.
type testCube struct {
	measures, time, geo *dim.Hierarchy

	sales, cost           *dim.Member
	allTime, y2023, y2024 *dim.Member
	allGeo, us, eu        *dim.Member

	catalog *dim.StaticCatalog
	reader  *cellreader.MapReader
}

func newTestCube(t *testing.T) *testCube {
	t.Helper()
	c := &testCube{
		measures: dim.NewHierarchy(0, "Measures"),
		time:     dim.NewHierarchy(1, "Time"),
		geo:      dim.NewHierarchy(2, "Geography"),
	}
	c.sales = c.measures.AddMember("Sales")
	c.cost = c.measures.AddMember("Cost")
	c.allTime = c.time.AddAllMember("All Time")
	c.y2023 = c.time.AddMember("2023")
	c.y2024 = c.time.AddMember("2024")
	c.allGeo = c.geo.AddAllMember("All Geography")
	c.us = c.geo.AddMember("US")
	c.eu = c.geo.AddMember("EU")

	var err error
	c.catalog, err = dim.NewStaticCatalog(c.measures, c.time, c.geo)
	require.NoError(t, err)

	c.reader, err = cellreader.New(cellreader.Config{Hierarchies: 3})
	require.NoError(t, err)
	facts := []struct {
		m     *dim.Member
		y     *dim.Member
		g     *dim.Member
		value float64
	}{
		{c.sales, c.y2023, c.us, 10},
		{c.sales, c.y2023, c.eu, 20},
		{c.sales, c.y2024, c.us, 30},
		{c.sales, c.y2024, c.eu, 40},
		{c.cost, c.y2023, c.us, 4},
		{c.cost, c.y2023, c.eu, 8},
		{c.cost, c.y2024, c.us, 12},
		{c.cost, c.y2024, c.eu, 16},
	}
	for _, f := range facts {
		require.NoError(t, c.reader.Put(f.value, f.m, f.y, f.g))
	}
	return c
}

func (c *testCube) calc(t *testing.T, h *dim.Hierarchy, name string, f dim.Formula) *dim.Member {
	t.Helper()
	m, err := h.AddCalculatedMember(name, f)
	require.NoError(t, err)
	return m
}

func newRoot(t *testing.T, catalog dim.Catalog, reader evaluator.CellReader, mutate func(*evaluator.Config)) *evaluator.RootContext {
	t.Helper()
	cfg := evaluator.DefaultConfig()
	cfg.VerifyCheckpoints = true
	if mutate != nil {
		mutate(&cfg)
	}
	root, err := evaluator.NewRootContext(context.Background(), catalog, reader, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { root.Close() })
	return root
}

func requireSameMembers(t *testing.T, want, got []*dim.Member) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Samef(t, want[i], got[i], "ordinal %d: want %s, got %s", i, want[i], got[i])
	}
}

func requireSameCalcs(t *testing.T, want, got []*dim.Calculation) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Samef(t, want[i], got[i], "position %d: want %s, got %s", i, want[i], got[i])
	}
}

// recordingReader returns a fixed value and remembers the coordinates it was
// asked for.
type recordingReader struct {
	mu    sync.Mutex
	value any
	calls [][]*dim.Member
}

func (r *recordingReader) Get(cell *evaluator.Evaluator) (any, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cell.Members())
	return r.value, true, nil
}

func (r *recordingReader) IsDirty() bool    { return false }
func (r *recordingReader) MissCount() int64 { return 0 }

func constExpr(v any) dim.Expression {
	return dim.ExpressionFunc(func(dim.Context) (any, error) { return v, nil })
}

func invariantPanic(t *testing.T, fn func()) *evaluator.InvariantError {
	t.Helper()
	var got any
	func() {
		defer func() { got = recover() }()
		fn()
	}()
	require.NotNil(t, got, "expected a panic")
	ie, ok := got.(*evaluator.InvariantError)
	require.Truef(t, ok, "panic value %T is not *InvariantError", got)
	return ie
}
