// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
)

type nopReader struct{}

func (nopReader) Get(*Evaluator) (any, bool, error) { return nil, false, nil }
func (nopReader) IsDirty() bool                     { return false }
func (nopReader) MissCount() int64                  { return 0 }

func newInternalRoot(t *testing.T, verify bool) (*RootContext, *dim.Hierarchy) {
	t.Helper()
	measures := dim.NewHierarchy(0, "Measures")
	measures.AddMember("Sales")
	geo := dim.NewHierarchy(1, "Geography")
	geo.AddAllMember("All")
	geo.AddMember("US")
	geo.AddMember("EU")
	catalog, err := dim.NewStaticCatalog(measures, geo)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.VerifyCheckpoints = verify
	root, err := NewRootContext(context.Background(), catalog, nopReader{}, cfg)
	require.NoError(t, err)
	return root, geo
}

func TestRestore_ChecksumDetectsUnloggedMutation(t *testing.T) {
	root, geo := newInternalRoot(t, true)
	ev := root.Evaluator()
	us, _ := geo.Lookup("US")

	token := ev.Savepoint()
	ev.members[1] = us

	err := root.Guard(func() error {
		ev.Restore(token)
		return nil
	})
	var ie *InvariantError
	require.ErrorAs(t, err, &ie)
	assert.Contains(t, ie.Msg, "does not match savepoint checksum")
}

func TestRestore_NoChecksumWhenDisabled(t *testing.T) {
	root, geo := newInternalRoot(t, false)
	ev := root.Evaluator()
	us, _ := geo.Lookup("US")

	token := ev.Savepoint()
	assert.Zero(t, ev.log[token-1].checksum)
	ev.members[1] = us
	assert.NotPanics(t, func() { ev.Restore(token) })
}

func TestChecksum_CoversState(t *testing.T) {
	root, geo := newInternalRoot(t, true)
	ev := root.Evaluator()
	base := ev.checksum()
	eu, _ := geo.Lookup("EU")

	mutations := []struct {
		name string
		fn   func(e *Evaluator)
	}{
		{name: "member", fn: func(e *Evaluator) { e.SetContext(eu) }},
		{name: "non-empty", fn: func(e *Evaluator) { e.SetNonEmpty(true) }},
		{name: "native", fn: func(e *Evaluator) { e.SetNativeEnabled(false) }},
		{name: "axes", fn: func(e *Evaluator) { e.SetEvalAxes(true) }},
		{name: "aggregation", fn: func(e *Evaluator) {
			e.aggregationSig = extendAggregationSig(e.aggregationSig, []dim.Tuple{{eu}})
		}},
	}
	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			child := ev.Push()
			tt.fn(child)
			assert.NotEqual(t, base, child.checksum())
		})
	}
	assert.Equal(t, base, ev.checksum())
}

func TestEntryKindString(t *testing.T) {
	assert.Equal(t, "SET_CONTEXT", entrySetContext.String())
	assert.Equal(t, "SAVEPOINT", entrySavepoint.String())
	assert.Equal(t, "entry(200)", entryKind(200).String())
}

func TestStride(t *testing.T) {
	root, _ := newInternalRoot(t, false)
	assert.Equal(t, 2*8, root.stride)
}
