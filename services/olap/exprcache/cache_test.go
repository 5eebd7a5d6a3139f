// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package exprcache

import (
	"context"
	"fmt"
	"sync"
	"testing"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
	"github.com/AleutianAI/AleutianOLAP/services/olap/storage/badger"
)

type fixture struct {
	sales, cost     *dim.Member
	y2023, y2024    *dim.Member
	france, germany *dim.Member
	franceStandIn   *dim.Member
}

func newFixture() fixture {
	measures := dim.NewHierarchy(0, "Measures")
	tm := dim.NewHierarchy(1, "Time")
	geo := dim.NewHierarchy(2, "Geography")
	f := fixture{
		sales:   measures.AddMember("Sales"),
		cost:    measures.AddMember("Cost"),
		y2023:   tm.AddMember("2023"),
		y2024:   tm.AddMember("2024"),
		france:  geo.AddMember("France"),
		germany: geo.AddMember("Germany"),
	}
	f.franceStandIn = geo.NewStandIn(f.france)
	return f
}

func TestNewKey_IgnoresIndependentHierarchies(t *testing.T) {
	f := newFixture()
	deps := []int{0, 1}

	a := NewKey("e", []*dim.Member{f.sales, f.y2024, f.france}, deps, false, nil)
	b := NewKey("e", []*dim.Member{f.sales, f.y2024, f.germany}, deps, false, nil)
	assert.Equal(t, a, b)

	c := NewKey("e", []*dim.Member{f.sales, f.y2023, f.france}, deps, false, nil)
	assert.NotEqual(t, a, c)

	d := NewKey("other", []*dim.Member{f.sales, f.y2024, f.france}, deps, false, nil)
	assert.NotEqual(t, a, d)
}

func TestNewKey_FullContextInNonEmptyMode(t *testing.T) {
	f := newFixture()
	deps := []int{0}

	a := NewKey("e", []*dim.Member{f.sales, f.y2024, f.france}, deps, true, nil)
	b := NewKey("e", []*dim.Member{f.sales, f.y2024, f.germany}, deps, true, nil)
	assert.NotEqual(t, a, b)
}

func TestNewKey_UsesIdentityNotName(t *testing.T) {
	f := newFixture()
	deps := []int{2}

	a := NewKey("e", []*dim.Member{f.sales, f.y2024, f.france}, deps, false, nil)
	b := NewKey("e", []*dim.Member{f.sales, f.y2024, f.franceStandIn}, deps, false, nil)
	assert.NotEqual(t, a, b)
}

func TestNewKey_AggregationListIsPartOfKey(t *testing.T) {
	f := newFixture()
	members := []*dim.Member{f.sales, f.y2024, f.france}
	deps := []int{0}

	plain := NewKey("e", members, deps, false, nil)
	noLists := NewKey("e", members, deps, false, [][]dim.Tuple{})
	assert.Equal(t, plain, noLists)

	one := NewKey("e", members, deps, false, [][]dim.Tuple{{{f.france}}})
	two := NewKey("e", members, deps, false, [][]dim.Tuple{{{f.france}, {f.germany}}})
	merged := NewKey("e", members, deps, false, [][]dim.Tuple{{{f.france, f.germany}}})
	nested := NewKey("e", members, deps, false, [][]dim.Tuple{{{f.france}}, {{f.germany}}})
	assert.NotEqual(t, plain, one)
	assert.NotEqual(t, one, two)
	assert.NotEqual(t, two, merged)
	assert.NotEqual(t, two, nested)
}

func TestNewKey_EmptyAggregationListIsIgnored(t *testing.T) {
	f := newFixture()
	members := []*dim.Member{f.sales, f.y2024, f.france}
	deps := []int{0}

	plain := NewKey("e", members, deps, false, nil)
	assert.Equal(t, plain, NewKey("e", members, deps, false, [][]dim.Tuple{{}}))

	one := NewKey("e", members, deps, false, [][]dim.Tuple{{{f.france}}})
	assert.Equal(t, one, NewKey("e", members, deps, false, [][]dim.Tuple{{}, {{f.france}}, nil}))
}

func TestKey_WithCalculations(t *testing.T) {
	f := newFixture()
	members := []*dim.Member{f.sales, f.y2024, f.france}
	deps := []int{0}
	calc := func() *dim.Calculation {
		c, err := dim.NewTupleCalculation(dim.Tuple{f.france}, dim.Formula{Expr: dim.ExpressionFunc(
			func(dim.Context) (any, error) { return 1.0, nil })})
		require.NoError(t, err)
		return c
	}
	c1, c2 := calc(), calc()

	plain := NewKey("e", members, deps, false, nil)
	assert.Equal(t, plain, plain.WithCalculations(nil))

	one := plain.WithCalculations([]*dim.Calculation{c1})
	assert.NotEqual(t, plain, one)
	assert.Equal(t, one, NewKey("e", members, deps, false, nil).WithCalculations([]*dim.Calculation{c1}))
	assert.NotEqual(t, one, plain.WithCalculations([]*dim.Calculation{c2}))

	ordered := plain.WithCalculations([]*dim.Calculation{c1, c2})
	assert.NotEqual(t, ordered, plain.WithCalculations([]*dim.Calculation{c2, c1}))
	assert.Equal(t, "e", ordered.Expr())
}

func TestCache_GetPut(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := New()
	k := NewKey("e", []*dim.Member{f.sales, f.y2024, f.france}, []int{0}, false, nil)

	_, ok := c.Get(ctx, k)
	assert.False(t, ok)

	c.Put(ctx, k, 42.0, true)
	v, ok := c.Get(ctx, k)
	require.True(t, ok)
	assert.Equal(t, 42.0, v)

	s := c.Stats()
	assert.Equal(t, 1, s.Valid)
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
}

func TestCache_NilStoredAsNull(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := New()
	k := NewKey("e", []*dim.Member{f.sales, f.y2024, f.france}, nil, false, nil)

	c.Put(ctx, k, nil, true)
	v, ok := c.Get(ctx, k)
	require.True(t, ok)
	assert.Equal(t, dim.Null, v)
}

func TestCache_ProvisionalEntriesLiveForOneGeneration(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := New()
	valid := NewKey("valid", []*dim.Member{f.sales, f.y2024, f.france}, []int{0}, false, nil)
	prov := NewKey("prov", []*dim.Member{f.sales, f.y2024, f.france}, []int{0}, false, nil)

	c.Put(ctx, valid, 1.0, true)
	c.Put(ctx, prov, 2.0, false)

	v, ok := c.Get(ctx, prov)
	require.True(t, ok, "provisional entries are served within the generation")
	assert.Equal(t, 2.0, v)

	assert.Equal(t, 1, c.ClearProvisional(ctx))
	assert.Equal(t, uint64(1), c.Generation())

	_, ok = c.Get(ctx, prov)
	assert.False(t, ok)
	_, ok = c.Get(ctx, valid)
	assert.True(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(2), c.Generation())
}

func TestCache_ValidPutReplacesProvisional(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := New()
	k := NewKey("e", []*dim.Member{f.sales, f.y2024, f.france}, []int{0}, false, nil)

	c.Put(ctx, k, 1.0, false)
	c.Put(ctx, k, 5.0, true)
	s := c.Stats()
	assert.Equal(t, 1, s.Valid)
	assert.Equal(t, 0, s.Provisional)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := New()
	members := []*dim.Member{f.sales, f.y2024, f.france}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := NewKey(fmt.Sprintf("e%d", i%20), members, []int{0}, false, nil)
				if _, ok := c.Get(ctx, k); !ok {
					c.Put(ctx, k, float64(i%20), g%2 == 0)
				}
			}
		}(g)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		v, ok := c.Get(ctx, NewKey(fmt.Sprintf("e%d", i), members, []int{0}, false, nil))
		require.True(t, ok)
		assert.Equal(t, float64(i), v)
	}
}

func TestCache_BadgerStoreTier(t *testing.T) {
	ctx := context.Background()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewBadgerStore(db, "sales", 0)
	require.NoError(t, err)

	f := newFixture()
	k := NewKey("e", []*dim.Member{f.sales, f.y2024, f.france}, []int{0, 1}, false, nil)
	skipped := NewKey("s", []*dim.Member{f.sales, f.y2024, f.france}, []int{0, 1}, false, nil)
	prov := NewKey("p", []*dim.Member{f.sales, f.y2024, f.france}, []int{0, 1}, false, nil)

	first := New(WithStore(store))
	first.Put(ctx, k, 12.5, true)
	first.Put(ctx, skipped, struct{ X int }{1}, true)
	first.Put(ctx, prov, 9.0, false)

	// A second statement sharing the store sees only valid scalar entries.
	second := New(WithStore(store))
	v, ok := second.Get(ctx, k)
	require.True(t, ok)
	assert.Equal(t, 12.5, v)
	assert.Equal(t, int64(1), second.Stats().StoreHits)
	assert.Equal(t, 1, second.Stats().Valid, "store hits are promoted")

	_, ok = second.Get(ctx, skipped)
	assert.False(t, ok)
	_, ok = second.Get(ctx, prov)
	assert.False(t, ok)

	// A store over the same database with a fresh instance id starts empty.
	other, err := NewBadgerStore(db, "sales", 0)
	require.NoError(t, err)
	_, ok = New(WithStore(other)).Get(ctx, k)
	assert.False(t, ok)
}

func TestBadgerStore_NullAndIntegers(t *testing.T) {
	ctx := context.Background()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	store, err := NewBadgerStore(db, "ns", 0)
	require.NoError(t, err)

	f := newFixture()
	nullKey := NewKey("null", []*dim.Member{f.sales}, []int{0}, false, nil)
	intKey := NewKey("int", []*dim.Member{f.sales}, []int{0}, false, nil)
	require.NoError(t, store.Save(ctx, nullKey, dim.Null))
	require.NoError(t, store.Save(ctx, intKey, 7))

	v, ok, err := store.Load(ctx, nullKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, dim.IsNull(v))

	v, ok, err = store.Load(ctx, intKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, err = NewBadgerStore(nil, "ns", 0)
	assert.Error(t, err)
	_, err = NewBadgerStore(db, "a/b", 0)
	assert.Error(t, err)
}

func TestBadgerStore_ScalarTypesSurvive(t *testing.T) {
	ctx := context.Background()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	store, err := NewBadgerStore(db, "ns", 0)
	require.NoError(t, err)

	f := newFixture()
	tests := []struct {
		name  string
		value any
	}{
		{name: "float64", value: 1.5},
		{name: "float32", value: float32(2.5)},
		{name: "int", value: 7},
		{name: "int64", value: int64(8)},
		{name: "string", value: "x"},
		{name: "bool", value: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := NewKey(tt.name, []*dim.Member{f.sales}, []int{0}, false, nil)
			require.NoError(t, store.Save(ctx, k, tt.value))
			v, ok, err := store.Load(ctx, k)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.value, v)
		})
	}
}

func TestBadgerStore_ReopenDropsEarlierEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	f := newFixture()
	k := NewKey("e", []*dim.Member{f.sales}, []int{0}, false, nil)

	countPrefix := func(db *badger.DB, prefix string) int {
		n := 0
		require.NoError(t, db.View(func(txn *dgbadger.Txn) error {
			opts := dgbadger.DefaultIteratorOptions
			opts.Prefix = []byte(prefix)
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Rewind(); it.Valid(); it.Next() {
				n++
			}
			return nil
		}))
		return n
	}

	db, err := badger.Open(badger.Config{Path: dir})
	require.NoError(t, err)
	first, err := NewBadgerStore(db, "sales", 0)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, k, 1.0))
	kept, err := NewBadgerStore(db, "budget", 0)
	require.NoError(t, err)
	require.NoError(t, kept.Save(ctx, k, 2.0))
	require.NoError(t, db.Close())

	db, err = badger.Open(badger.Config{Path: dir})
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, 1, countPrefix(db, "sales/"), "entries survive the restart on disk")

	second, err := NewBadgerStore(db, "sales", 0)
	require.NoError(t, err)
	assert.Zero(t, countPrefix(db, "sales/"), "opening the namespace drops the earlier instance")
	assert.Equal(t, 1, countPrefix(db, "budget/"), "other namespaces are untouched")

	_, ok, err := second.Load(ctx, k)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, second.Save(ctx, k, 3.0))
	assert.Equal(t, 1, countPrefix(db, "sales/"))
}
