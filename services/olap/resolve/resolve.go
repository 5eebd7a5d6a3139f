// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve picks the governing calculation among those active in an
// evaluation context.
//
// Two policies are supported. Absolute compares solve orders only. Scoped
// first ranks calculations by where they were defined, so a calculation from
// the query always beats one from the cube, and only then compares solve
// orders. Both break ties by the lowest hierarchy ordinal.
package resolve

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
)

// Policy selects the solve-order resolution algorithm.
type Policy int

const (
	// PolicyAbsolute picks the highest solve order.
	PolicyAbsolute Policy = iota

	// PolicyScoped ranks by scope before solve order.
	PolicyScoped
)

// String returns the string representation of the policy.
func (p Policy) String() string {
	switch p {
	case PolicyAbsolute:
		return "absolute"
	case PolicyScoped:
		return "scoped"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "absolute":
		return PolicyAbsolute, nil
	case "scoped":
		return PolicyScoped, nil
	default:
		return PolicyAbsolute, fmt.Errorf("unknown solve order policy %q", s)
	}
}

// scopeState is the state of the scoped resolution machine. It only moves
// forward: START -> AGG -> CUBE -> QUERY, skipping states as needed.
type scopeState int

const (
	stateStart scopeState = iota
	stateAggScope
	stateCubeScope
	stateQueryScope
)

// Resolver selects the governing calculation.
//
// Thread Safety: Stateless; safe for concurrent use.
type Resolver struct {
	policy Policy
}

// New creates a resolver for policy.
func New(policy Policy) Resolver {
	return Resolver{policy: policy}
}

// Policy returns the resolver's policy.
func (r Resolver) Policy() Policy { return r.policy }

// Resolve returns the governing calculation, or nil if active is empty.
//
// Description:
//
//	When several calculations have identical solve order and hierarchy
//	ordinal, the one that appears first in active is kept. The evaluator
//	keeps active in activation order, so that is the earliest activated.
//
// Inputs:
//
//	active - Active calculations in activation order. Not modified.
//
// Outputs:
//
//	*dim.Calculation - The winner, or nil when nothing is active.
func (r Resolver) Resolve(active []*dim.Calculation) *dim.Calculation {
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}
	if r.policy == PolicyScoped {
		return resolveScoped(active)
	}
	return resolveAbsolute(active)
}

// ExpandsBefore reports whether a takes precedence over b under the absolute
// rule: higher solve order first, then lower hierarchy ordinal.
func ExpandsBefore(a, b *dim.Calculation) bool {
	if a.SolveOrder() != b.SolveOrder() {
		return a.SolveOrder() > b.SolveOrder()
	}
	return a.HierarchyOrdinal() < b.HierarchyOrdinal()
}

func resolveAbsolute(active []*dim.Calculation) *dim.Calculation {
	best := active[0]
	for _, c := range active[1:] {
		if ExpandsBefore(c, best) {
			best = c
		}
	}
	return best
}

func resolveScoped(active []*dim.Calculation) *dim.Calculation {
	state := stateStart
	var best *dim.Calculation
	for _, c := range active {
		class := c.Class()
		switch state {
		case stateStart:
			best = c
			state = stateFor(class)
		case stateAggScope:
			switch class {
			case dim.ClassAggregateContaining:
				if ExpandsBefore(c, best) {
					best = c
				}
			default:
				best = c
				state = stateFor(class)
			}
		case stateCubeScope:
			switch class {
			case dim.ClassQueryScoped:
				best = c
				state = stateQueryScope
			case dim.ClassCubeScoped:
				if ExpandsBefore(c, best) {
					best = c
				}
			}
		case stateQueryScope:
			if class == dim.ClassQueryScoped && ExpandsBefore(c, best) {
				best = c
			}
		}
	}
	return best
}

func stateFor(class dim.ResolutionClass) scopeState {
	switch class {
	case dim.ClassAggregateContaining:
		return stateAggScope
	case dim.ClassQueryScoped:
		return stateQueryScope
	default:
		return stateCubeScope
	}
}
