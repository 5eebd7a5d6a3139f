// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constExpr(v any) Expression {
	return ExpressionFunc(func(Context) (any, error) { return v, nil })
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		scope Scope
		agg   bool
		want  ResolutionClass
	}{
		{name: "cube", scope: ScopeCube, want: ClassCubeScoped},
		{name: "session resolves as cube", scope: ScopeSession, want: ClassCubeScoped},
		{name: "query", scope: ScopeQuery, want: ClassQueryScoped},
		{name: "aggregate wins over query", scope: ScopeQuery, agg: true, want: ClassAggregateContaining},
		{name: "aggregate wins over cube", scope: ScopeCube, agg: true, want: ClassAggregateContaining},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.scope, tt.agg))
		})
	}
}

func TestAddCalculatedMember(t *testing.T) {
	h := NewHierarchy(0, "Measures")
	m, err := h.AddCalculatedMember("Profit", Formula{Expr: constExpr(1.0), SolveOrder: 7, HasSolveOrder: true, Scope: ScopeQuery})
	require.NoError(t, err)

	c := m.Calculation()
	require.NotNil(t, c)
	assert.True(t, m.IsCalculated())
	assert.Equal(t, KindCalculatedMember, c.Kind())
	assert.Equal(t, 7, c.SolveOrder())
	assert.False(t, c.HasImplicitSolveOrder())
	assert.Equal(t, 0, c.HierarchyOrdinal())
	assert.Equal(t, ClassQueryScoped, c.Class())
	assert.Same(t, m, c.Member())
	assert.Equal(t, "[Measures].[Profit]", m.UniqueName())

	implicit, err := h.AddCalculatedMember("Margin", Formula{Expr: constExpr(2.0)})
	require.NoError(t, err)
	assert.Equal(t, DefaultSolveOrder, implicit.SolveOrder())
	assert.True(t, implicit.Calculation().HasImplicitSolveOrder())

	_, err = h.AddCalculatedMember("Broken", Formula{})
	assert.ErrorIs(t, err, ErrNilExpression)
}

func TestNewTupleCalculation(t *testing.T) {
	measures := NewHierarchy(0, "Measures")
	tm := NewHierarchy(1, "Time")
	geo := NewHierarchy(2, "Geography")
	sales := measures.AddMember("Sales")
	y := tm.AddMember("2024")
	fr := geo.AddMember("France")

	c, err := NewTupleCalculation(Tuple{fr, y}, Formula{Expr: constExpr(3.0), Scope: ScopeCube, ContainsAggregate: true})
	require.NoError(t, err)
	assert.Equal(t, KindCalculatedTuple, c.Kind())
	assert.Equal(t, 1, c.HierarchyOrdinal())
	assert.Equal(t, ClassAggregateContaining, c.Class())

	_, err = NewTupleCalculation(nil, Formula{Expr: constExpr(1)})
	assert.ErrorIs(t, err, ErrEmptyTuple)
	_, err = NewTupleCalculation(Tuple{sales}, Formula{})
	assert.ErrorIs(t, err, ErrNilExpression)
}

func TestStandInIsDistinctIdentity(t *testing.T) {
	h := NewHierarchy(1, "Geography")
	fr := h.AddMember("France")
	standIn := h.NewStandIn(fr)

	assert.Equal(t, fr.UniqueName(), standIn.UniqueName())
	assert.NotSame(t, fr, standIn)
	assert.NotEqual(t, fr.ID(), standIn.ID())
	assert.Len(t, h.Members(), 1)
}

func TestDefaultMember(t *testing.T) {
	h := NewHierarchy(1, "Time")
	assert.Nil(t, h.DefaultMember())

	y := h.AddMember("2024")
	assert.Same(t, y, h.DefaultMember())

	all := h.AddAllMember("All Time")
	assert.Same(t, all, h.DefaultMember())
	assert.Same(t, all, h.AddAllMember("again"))

	require.NoError(t, h.SetDefaultMember(y))
	assert.Same(t, y, h.DefaultMember())

	other := NewHierarchy(2, "Geography").AddMember("France")
	assert.Error(t, h.SetDefaultMember(other))
	assert.Error(t, h.SetDefaultMember(nil))
}

func TestNewStaticCatalog(t *testing.T) {
	measures := NewHierarchy(0, "Measures")
	measures.AddMember("Sales")
	tm := NewHierarchy(1, "Time")
	tm.AddAllMember("All")
	y := tm.AddMember("2024")

	cat, err := NewStaticCatalog(measures, tm)
	require.NoError(t, err)
	assert.Len(t, cat.Hierarchies(), 2)

	got, err := cat.Resolve("[Time].[2024]")
	require.NoError(t, err)
	assert.Same(t, y, got)

	_, err = cat.Resolve("[Time].[1999]")
	assert.ErrorIs(t, err, ErrMemberNotFound)

	h, ok := cat.Hierarchy("Time")
	assert.True(t, ok)
	assert.Same(t, tm, h)

	_, err = NewStaticCatalog(tm)
	assert.Error(t, err, "ordinal 1 at slot 0")

	_, err = NewStaticCatalog(measures, NewHierarchy(1, "Empty"))
	assert.Error(t, err, "no default member")

	_, err = NewStaticCatalog()
	assert.Error(t, err)
}

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(nil))
	assert.True(t, IsNull(Null))
	assert.False(t, IsNull(0.0))
	assert.Equal(t, "#null", Null.(interface{ String() string }).String())
}
