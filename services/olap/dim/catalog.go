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
	"errors"
	"fmt"
)

// ErrMemberNotFound is returned when a unique name does not resolve.
var ErrMemberNotFound = errors.New("member not found")

// Catalog supplies the hierarchies of a cube.
type Catalog interface {
	// Hierarchies returns the hierarchies indexed by ordinal.
	Hierarchies() []*Hierarchy
}

// StaticCatalog is an in-memory Catalog.
//
// Thread Safety: Read-only after construction; safe for concurrent use.
type StaticCatalog struct {
	hierarchies []*Hierarchy
	byName      map[string]*Hierarchy
}

// NewStaticCatalog validates and wraps a list of hierarchies.
//
// Description:
//
//	The hierarchies must have dense ordinals 0..n-1 in slice order and each
//	must have a default member. Ordinal 0 is the measures hierarchy.
//
// Inputs:
//
//	hierarchies - Hierarchies indexed by ordinal. Must not be empty.
//
// Outputs:
//
//	*StaticCatalog - The catalog.
//	error - Non-nil if ordinals are not dense or a default member is missing.
func NewStaticCatalog(hierarchies ...*Hierarchy) (*StaticCatalog, error) {
	if len(hierarchies) == 0 {
		return nil, errors.New("catalog needs at least the measures hierarchy")
	}
	byName := make(map[string]*Hierarchy, len(hierarchies))
	for i, h := range hierarchies {
		if h == nil {
			return nil, fmt.Errorf("hierarchy at ordinal %d is nil", i)
		}
		if h.ordinal != i {
			return nil, fmt.Errorf("hierarchy %s has ordinal %d, expected %d", h.name, h.ordinal, i)
		}
		if h.DefaultMember() == nil {
			return nil, fmt.Errorf("hierarchy %s has no default member", h.name)
		}
		if _, dup := byName[h.name]; dup {
			return nil, fmt.Errorf("duplicate hierarchy name %s", h.name)
		}
		byName[h.name] = h
	}
	return &StaticCatalog{hierarchies: hierarchies, byName: byName}, nil
}

// Hierarchies implements Catalog.
func (c *StaticCatalog) Hierarchies() []*Hierarchy { return c.hierarchies }

// Hierarchy returns a hierarchy by name.
func (c *StaticCatalog) Hierarchy(name string) (*Hierarchy, bool) {
	h, ok := c.byName[name]
	return h, ok
}

// Resolve finds a member by its unique name, e.g. "[Time].[2024]".
func (c *StaticCatalog) Resolve(uniqueName string) (*Member, error) {
	for _, h := range c.hierarchies {
		for _, m := range h.members {
			if m.uniqueName == uniqueName {
				return m, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, uniqueName)
}
