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
	"encoding/binary"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
)

// Key identifies one cached expression result.
//
// Coordinates are packed as fixed-width member ids with length prefixes, so
// two different coordinate lists never encode to the same string.
type Key struct {
	expr   string
	coords string
}

// Expr returns the expression identity part of the key.
func (k Key) Expr() string { return k.expr }

// Bytes returns a stable binary form of the key, used by persistent stores.
func (k Key) Bytes() []byte {
	b := make([]byte, 0, len(k.expr)+len(k.coords)+binary.MaxVarintLen64)
	b = binary.AppendUvarint(b, uint64(len(k.expr)))
	b = append(b, k.expr...)
	return append(b, k.coords...)
}

// NewKey builds the cache key for an expression evaluated at members.
//
// Description:
//
//	With fullContext the whole vector is part of the key. Otherwise only the
//	members at the dependency ordinals are, in the order given. Non-empty
//	aggregation lists are appended after the coordinates, each with its own
//	length prefix so that nested lists never flatten into the same key. An
//	empty list restricts nothing and is left out.
//
// Inputs:
//
//	exprID - Expression identity.
//	members - Context vector indexed by hierarchy ordinal.
//	deps - Ordinals the expression depends on. Every ordinal must be in range.
//	fullContext - True in non-empty evaluation mode.
//	aggregations - Active aggregation lists, outermost first, or nil.
//
// Outputs:
//
//	Key - The key.
func NewKey(exprID string, members []*dim.Member, deps []int, fullContext bool, aggregations [][]dim.Tuple) Key {
	n := len(deps)
	if fullContext {
		n = len(members)
	}
	b := make([]byte, 0, 8*(n+1)+2)
	b = binary.AppendUvarint(b, uint64(n))
	if fullContext {
		for _, m := range members {
			b = binary.LittleEndian.AppendUint64(b, m.ID())
		}
	} else {
		for _, ordinal := range deps {
			b = binary.LittleEndian.AppendUint64(b, members[ordinal].ID())
		}
	}
	lists := 0
	for _, list := range aggregations {
		if len(list) > 0 {
			lists++
		}
	}
	b = binary.AppendUvarint(b, uint64(lists))
	for _, list := range aggregations {
		if len(list) == 0 {
			continue
		}
		b = binary.AppendUvarint(b, uint64(len(list)))
		for _, t := range list {
			b = binary.AppendUvarint(b, uint64(len(t)))
			for _, m := range t {
				b = binary.LittleEndian.AppendUint64(b, m.ID())
			}
		}
	}
	return Key{expr: exprID, coords: string(b)}
}

// WithCalculations returns k extended with the ids of explicitly activated
// calculations, in activation order. Contexts that differ only in their
// explicit calculations get different keys. An empty list returns k.
func (k Key) WithCalculations(calcs []*dim.Calculation) Key {
	if len(calcs) == 0 {
		return k
	}
	b := make([]byte, 0, len(k.coords)+8*(len(calcs)+1))
	b = append(b, k.coords...)
	b = binary.AppendUvarint(b, uint64(len(calcs)))
	for _, c := range calcs {
		b = binary.LittleEndian.AppendUint64(b, c.ID())
	}
	return Key{expr: k.expr, coords: string(b)}
}
