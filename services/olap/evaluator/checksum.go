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
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
)

// hasher accumulates fixed-width words into an xxhash digest without
// allocating per word.
type hasher struct {
	d   *xxhash.Digest
	buf [8]byte
}

func newHasher() *hasher {
	return &hasher{d: xxhash.New()}
}

func (h *hasher) word(v uint64) {
	binary.LittleEndian.PutUint64(h.buf[:], v)
	_, _ = h.d.Write(h.buf[:])
}

func (h *hasher) member(m *dim.Member) {
	if m == nil {
		h.word(0)
		return
	}
	h.word(m.ID())
}

func (h *hasher) sum() uint64 { return h.d.Sum64() }

// checksum covers everything Restore must bring back: the vector, the
// explicit calculations in order, the flags, the expanding calculation and the
// aggregation lists. Member calculations follow from the vector.
func (e *Evaluator) checksum() uint64 {
	h := newHasher()
	for _, m := range e.members {
		h.member(m)
	}
	h.word(uint64(len(e.extraCalcs)))
	for _, c := range e.extraCalcs {
		h.word(c.ID())
	}
	var flags uint64
	if e.nonEmpty {
		flags |= 1
	}
	if e.nativeEnabled {
		flags |= 2
	}
	if e.evalAxes {
		flags |= 4
	}
	h.word(flags)
	if e.expanding != nil {
		h.word(e.expanding.ID())
	} else {
		h.word(0)
	}
	h.word(e.aggregationSig)
	return h.sum()
}

// vectorSignature is the cheap content signature compared by the recursion
// guard before an exact comparison.
func vectorSignature(members []*dim.Member) uint64 {
	h := newHasher()
	for _, m := range members {
		h.member(m)
	}
	return h.sum()
}

// extendAggregationSig folds one more aggregation list into a signature.
func extendAggregationSig(sig uint64, list []dim.Tuple) uint64 {
	h := newHasher()
	h.word(sig)
	h.word(uint64(len(list)))
	for _, t := range list {
		h.word(uint64(len(t)))
		for _, m := range t {
			h.member(m)
		}
	}
	return h.sum()
}

func sameVector(a, b []*dim.Member) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameAggregations(a, b [][]dim.Tuple) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if !sameVector(a[i][j], b[i][j]) {
				return false
			}
		}
	}
	return true
}
