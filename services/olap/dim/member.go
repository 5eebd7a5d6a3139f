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
	"fmt"
	"strings"
	"sync/atomic"
)

// memberSeq hands out process-unique member ids.
var memberSeq atomic.Uint64

// MeasuresOrdinal is the ordinal reserved for the measures hierarchy.
const MeasuresOrdinal = 0

// -----------------------------------------------------------------------------
// Hierarchy
// -----------------------------------------------------------------------------

// Hierarchy is one dimension axis of a cube.
//
// Description:
//
//	A hierarchy has a stable ordinal, an optional All member and a default
//	member. The default member seeds the root context vector of every query.
//
// Thread Safety: Not safe for concurrent construction. Read-only use after
// the owning catalog is built is safe.
type Hierarchy struct {
	ordinal int
	name    string
	all     *Member
	def     *Member
	members []*Member
}

// NewHierarchy creates an empty hierarchy.
//
// Inputs:
//
//	ordinal - Dense slot index. 0 is reserved for measures.
//	name - Display name, used to build member unique names.
//
// Outputs:
//
//	*Hierarchy - The hierarchy. Never nil.
func NewHierarchy(ordinal int, name string) *Hierarchy {
	return &Hierarchy{ordinal: ordinal, name: name}
}

// Ordinal returns the hierarchy's slot in a context vector.
func (h *Hierarchy) Ordinal() int { return h.ordinal }

// Name returns the hierarchy name.
func (h *Hierarchy) Name() string { return h.name }

// IsMeasures reports whether this is the measures hierarchy.
func (h *Hierarchy) IsMeasures() bool { return h.ordinal == MeasuresOrdinal }

// AllMember returns the All member, or nil if the hierarchy has none.
func (h *Hierarchy) AllMember() *Member { return h.all }

// DefaultMember returns the member a fresh context starts with.
//
// When no default was set explicitly the All member is used, then the
// first member added.
func (h *Hierarchy) DefaultMember() *Member {
	if h.def != nil {
		return h.def
	}
	if h.all != nil {
		return h.all
	}
	if len(h.members) > 0 {
		return h.members[0]
	}
	return nil
}

// SetDefaultMember overrides the default member.
//
// Outputs:
//
//	error - Non-nil if m is nil or belongs to another hierarchy.
func (h *Hierarchy) SetDefaultMember(m *Member) error {
	if m == nil {
		return fmt.Errorf("hierarchy %s: default member must not be nil", h.name)
	}
	if m.hierarchy != h {
		return fmt.Errorf("hierarchy %s: member %s belongs to %s", h.name, m.uniqueName, m.hierarchy.name)
	}
	h.def = m
	return nil
}

// Members returns the members in creation order. The slice must not be modified.
func (h *Hierarchy) Members() []*Member { return h.members }

// Lookup returns the first member whose name or unique name matches.
func (h *Hierarchy) Lookup(name string) (*Member, bool) {
	for _, m := range h.members {
		if m.name == name || m.uniqueName == name {
			return m, true
		}
	}
	return nil, false
}

// AddMember creates a stored member.
func (h *Hierarchy) AddMember(name string) *Member {
	return h.add(name, false)
}

// AddAllMember creates the hierarchy's All member. A second call returns the
// existing one.
func (h *Hierarchy) AddAllMember(name string) *Member {
	if h.all != nil {
		return h.all
	}
	h.all = h.add(name, true)
	return h.all
}

// AddCalculatedMember creates a calculated member governed by formula.
//
// Description:
//
//	Builds the member and its Calculation in one step so that the
//	calculation's resolution class is fixed before any query sees it.
//
// Inputs:
//
//	name - Member name.
//	formula - Compiled formula. Formula.Expr must not be nil.
//
// Outputs:
//
//	*Member - The calculated member.
//	error - Non-nil if the formula has no expression.
func (h *Hierarchy) AddCalculatedMember(name string, formula Formula) (*Member, error) {
	if formula.Expr == nil {
		return nil, fmt.Errorf("calculated member %s: %w", name, ErrNilExpression)
	}
	m := h.add(name, false)
	m.calc = newMemberCalculation(m, formula)
	return m, nil
}

// NewStandIn creates a member that is not registered with the hierarchy but
// occupies the same slot as base, for example a visual-total substitute. It
// shares base's names and is a distinct identity.
func (h *Hierarchy) NewStandIn(base *Member) *Member {
	return &Member{
		id:         memberSeq.Add(1),
		name:       base.name,
		uniqueName: base.uniqueName,
		hierarchy:  h,
		all:        base.all,
		calc:       base.calc,
	}
}

func (h *Hierarchy) add(name string, all bool) *Member {
	m := &Member{
		id:         memberSeq.Add(1),
		name:       name,
		uniqueName: "[" + h.name + "].[" + name + "]",
		hierarchy:  h,
		all:        all,
	}
	h.members = append(h.members, m)
	return m
}

// -----------------------------------------------------------------------------
// Member
// -----------------------------------------------------------------------------

// Member is one position on a hierarchy.
type Member struct {
	id         uint64
	name       string
	uniqueName string
	hierarchy  *Hierarchy
	all        bool
	calc       *Calculation
}

// ID returns the process-unique member id.
func (m *Member) ID() uint64 { return m.id }

// Name returns the member name.
func (m *Member) Name() string { return m.name }

// UniqueName returns the bracketed unique name, e.g. "[Time].[2024]".
func (m *Member) UniqueName() string { return m.uniqueName }

// Hierarchy returns the owning hierarchy.
func (m *Member) Hierarchy() *Hierarchy { return m.hierarchy }

// Ordinal returns the owning hierarchy's ordinal.
func (m *Member) Ordinal() int { return m.hierarchy.ordinal }

// IsAll reports whether m is its hierarchy's All member.
func (m *Member) IsAll() bool { return m.all }

// IsCalculated reports whether m is governed by a formula.
func (m *Member) IsCalculated() bool { return m.calc != nil }

// Calculation returns m's calculation, or nil for stored members.
func (m *Member) Calculation() *Calculation { return m.calc }

// SolveOrder returns the calculation's solve order, or 0 for stored members.
func (m *Member) SolveOrder() int {
	if m.calc == nil {
		return 0
	}
	return m.calc.solveOrder
}

// String implements fmt.Stringer.
func (m *Member) String() string {
	if m == nil {
		return "<nil>"
	}
	return m.uniqueName
}

// -----------------------------------------------------------------------------
// Tuple
// -----------------------------------------------------------------------------

// Tuple is an ordered list of members from distinct hierarchies.
type Tuple []*Member

// String renders the tuple as "(m1, m2, ...)".
func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, m := range t {
		parts[i] = m.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
