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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianOLAP/services/olap/cellreader"
	"github.com/AleutianAI/AleutianOLAP/services/olap/dim"
	"github.com/AleutianAI/AleutianOLAP/services/olap/formula"
)

var (
	// ErrInvalidFormula is returned for a formula node that is not exactly
	// one of the supported forms.
	ErrInvalidFormula = errors.New("invalid formula")

	// ErrInvalidTuple is returned for a calculated tuple that names a
	// calculated member or two members of one hierarchy.
	ErrInvalidTuple = errors.New("invalid calculated tuple")
)

var validate = validator.New()

// -----------------------------------------------------------------------------
// File schema
// -----------------------------------------------------------------------------

// File is the YAML document.
type File struct {
	Name        string           `yaml:"name" validate:"required"`
	Hierarchies []HierarchySpec  `yaml:"hierarchies" validate:"required,min=1,dive"`
	Calculated  []CalculatedSpec `yaml:"calculated" validate:"dive"`
	Tuples      []TupleSpec      `yaml:"calculated_tuples" validate:"unique=Name,dive"`
	Facts       []FactSpec       `yaml:"facts" validate:"dive"`
}

// HierarchySpec declares one hierarchy.
type HierarchySpec struct {
	Name    string   `yaml:"name" validate:"required"`
	All     string   `yaml:"all"`
	Members []string `yaml:"members" validate:"required,min=1,unique,dive,required"`
	Default string   `yaml:"default"`
}

// CalculatedSpec declares a calculated member.
type CalculatedSpec struct {
	Hierarchy  string      `yaml:"hierarchy" validate:"required"`
	Name       string      `yaml:"name" validate:"required"`
	SolveOrder *int        `yaml:"solve_order"`
	Scope      string      `yaml:"scope" validate:"omitempty,oneof=cube session query"`
	Formula    FormulaSpec `yaml:"formula"`
}

// TupleSpec declares a named calculated tuple. A statement activates it by
// name; it then governs every cell of the statement by setting its members
// and evaluating its formula, subject to solve order.
type TupleSpec struct {
	Name       string      `yaml:"name" validate:"required"`
	At         []string    `yaml:"at" validate:"required,min=1,dive,required"`
	SolveOrder *int        `yaml:"solve_order"`
	Scope      string      `yaml:"scope" validate:"omitempty,oneof=cube session query"`
	Formula    FormulaSpec `yaml:"formula"`
}

// FactSpec places a value at a coordinate of stored members.
type FactSpec struct {
	At    []string `yaml:"at" validate:"required,min=1"`
	Value float64  `yaml:"value"`
}

// FormulaSpec is one formula node. Exactly one form must be set.
type FormulaSpec struct {
	Const     *float64      `yaml:"const"`
	Null      bool          `yaml:"null"`
	Ref       []string      `yaml:"ref"`
	Current   bool          `yaml:"current"`
	Op        string        `yaml:"op"`
	Args      []FormulaSpec `yaml:"args"`
	Sum       *SumSpec      `yaml:"sum"`
	Aggregate [][]string    `yaml:"aggregate"`
	Cache     *CacheSpec    `yaml:"cache"`
}

// SumSpec sums an expression over a set of tuples.
type SumSpec struct {
	Set  [][]string   `yaml:"set"`
	Expr *FormulaSpec `yaml:"expr"`
}

// CacheSpec routes an expression through the expression cache.
type CacheSpec struct {
	ID   string      `yaml:"id"`
	Expr FormulaSpec `yaml:"expr"`
}

// -----------------------------------------------------------------------------
// Cube
// -----------------------------------------------------------------------------

// Cube is a loaded fixture.
type Cube struct {
	Name       string
	Catalog    *dim.StaticCatalog
	Reader     *cellreader.MapReader
	Calculated []*dim.Member
	Tuples     []*CalculatedTuple
}

// CalculatedTuple is a named tuple calculation declared by the cube.
type CalculatedTuple struct {
	Name        string
	Calculation *dim.Calculation
}

// CalculatedTuple returns the calculated tuple declared under name.
func (c *Cube) CalculatedTuple(name string) (*CalculatedTuple, bool) {
	for _, ct := range c.Tuples {
		if ct.Name == name {
			return ct, true
		}
	}
	return nil, false
}

// Options configures loading.
type Options struct {
	// MaxRows is passed to the cell reader.
	MaxRows int

	// Logger receives load events. Default: slog.Default().
	Logger *slog.Logger
}

// Load reads and builds the fixture at path.
func Load(path string, opts Options) (*Cube, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cube file: %w", err)
	}
	c, err := Parse(data, opts)
	if err != nil {
		return nil, fmt.Errorf("cube %s: %w", path, err)
	}
	return c, nil
}

// Parse builds a cube from a YAML document.
//
// Description:
//
//	Hierarchies get ordinals in file order. Calculated members are created
//	before any formula is compiled, so formulas may refer to calculated
//	members declared later in the file.
//
// Outputs:
//
//	*Cube - The cube.
//	error - Non-nil for schema violations, unknown members, or facts on
//	        All or calculated members.
func Parse(data []byte, opts Options) (*Cube, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cube: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("validate cube: %w", err)
	}

	hierarchies := make([]*dim.Hierarchy, len(f.Hierarchies))
	for i, hs := range f.Hierarchies {
		h := dim.NewHierarchy(i, hs.Name)
		if hs.All != "" {
			h.AddAllMember(hs.All)
		}
		for _, name := range hs.Members {
			h.AddMember(name)
		}
		if hs.Default != "" {
			m, ok := h.Lookup(hs.Default)
			if !ok {
				return nil, fmt.Errorf("hierarchy %s: default member %q not found", hs.Name, hs.Default)
			}
			if err := h.SetDefaultMember(m); err != nil {
				return nil, err
			}
		}
		hierarchies[i] = h
	}
	catalog, err := dim.NewStaticCatalog(hierarchies...)
	if err != nil {
		return nil, err
	}

	c := &Cube{Name: f.Name, Catalog: catalog}
	b := &builder{catalog: catalog, hierarchies: len(hierarchies)}

	// Members first, formulas second.
	bodies := make([]*deferred, len(f.Calculated))
	for i, cs := range f.Calculated {
		h, ok := catalog.Hierarchy(cs.Hierarchy)
		if !ok {
			return nil, fmt.Errorf("calculated member %s: unknown hierarchy %q", cs.Name, cs.Hierarchy)
		}
		scope, err := dim.ParseScope(cs.Scope)
		if err != nil {
			return nil, fmt.Errorf("calculated member %s: %w", cs.Name, err)
		}
		bodies[i] = &deferred{}
		fm := dim.Formula{
			Expr:              bodies[i],
			Scope:             scope,
			ContainsAggregate: cs.Formula.containsAggregate(),
		}
		if cs.SolveOrder != nil {
			fm.SolveOrder = *cs.SolveOrder
			fm.HasSolveOrder = true
		}
		m, err := h.AddCalculatedMember(cs.Name, fm)
		if err != nil {
			return nil, err
		}
		c.Calculated = append(c.Calculated, m)
	}
	tupleBodies := make([]*deferred, len(f.Tuples))
	for i, ts := range f.Tuples {
		tupleBodies[i] = &deferred{}
		ct, err := c.newCalculatedTuple(ts, tupleBodies[i])
		if err != nil {
			return nil, fmt.Errorf("calculated tuple %s: %w", ts.Name, err)
		}
		c.Tuples = append(c.Tuples, ct)
	}
	for i, cs := range f.Calculated {
		node, err := b.compile(&cs.Formula)
		if err != nil {
			return nil, fmt.Errorf("calculated member %s: %w", cs.Name, err)
		}
		bodies[i].node = node
	}
	for i, ts := range f.Tuples {
		node, err := b.compile(&ts.Formula)
		if err != nil {
			return nil, fmt.Errorf("calculated tuple %s: %w", ts.Name, err)
		}
		tupleBodies[i].node = node
	}

	c.Reader, err = cellreader.New(cellreader.Config{
		Hierarchies: len(hierarchies),
		MaxRows:     opts.MaxRows,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	for i, fs := range f.Facts {
		t, err := c.ParseTuple(fs.At)
		if err != nil {
			return nil, fmt.Errorf("fact %d: %w", i, err)
		}
		if err := c.Reader.Put(fs.Value, t...); err != nil {
			return nil, fmt.Errorf("fact %d: %w", i, err)
		}
	}

	logger.Debug("cube loaded",
		slog.String("cube", c.Name),
		slog.Int("hierarchies", len(hierarchies)),
		slog.Int("calculated", len(c.Calculated)),
		slog.Int("calculated_tuples", len(c.Tuples)),
		slog.Int("facts", c.Reader.Len()))
	return c, nil
}

// ParseTuple resolves unique names such as "[Time].[2024]" to members.
func (c *Cube) ParseTuple(names []string) (dim.Tuple, error) {
	t := make(dim.Tuple, 0, len(names))
	for _, n := range names {
		m, err := c.Catalog.Resolve(strings.TrimSpace(n))
		if err != nil {
			return nil, err
		}
		t = append(t, m)
	}
	return t, nil
}

func (c *Cube) newCalculatedTuple(ts TupleSpec, body *deferred) (*CalculatedTuple, error) {
	t, err := c.ParseTuple(ts.At)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(t))
	for _, m := range t {
		if m.IsCalculated() {
			return nil, fmt.Errorf("%w: %s is a calculated member", ErrInvalidTuple, m)
		}
		if seen[m.Ordinal()] {
			return nil, fmt.Errorf("%w: two members of hierarchy %s", ErrInvalidTuple, m.Hierarchy().Name())
		}
		seen[m.Ordinal()] = true
	}
	scope, err := dim.ParseScope(ts.Scope)
	if err != nil {
		return nil, err
	}
	fm := dim.Formula{
		Expr:              body,
		Scope:             scope,
		ContainsAggregate: ts.Formula.containsAggregate(),
	}
	if ts.SolveOrder != nil {
		fm.SolveOrder = *ts.SolveOrder
		fm.HasSolveOrder = true
	}
	calc, err := dim.NewTupleCalculation(t, fm)
	if err != nil {
		return nil, err
	}
	return &CalculatedTuple{Name: ts.Name, Calculation: calc}, nil
}

// deferred is the body of a calculated member or tuple whose formula is
// compiled after every member exists.
type deferred struct {
	node formula.Node
}

func (d *deferred) Evaluate(ctx dim.Context) (any, error) {
	return d.node.Evaluate(ctx)
}

func (d *deferred) String() string {
	if d.node == nil {
		return "<uncompiled>"
	}
	return d.node.String()
}

// -----------------------------------------------------------------------------
// Formula compilation
// -----------------------------------------------------------------------------

type builder struct {
	catalog     *dim.StaticCatalog
	hierarchies int
}

func (b *builder) compile(fs *FormulaSpec) (formula.Node, error) {
	if n := fs.forms(); n != 1 {
		return nil, fmt.Errorf("%w: node sets %d forms, want exactly one", ErrInvalidFormula, n)
	}
	switch {
	case fs.Const != nil:
		return formula.Const(*fs.Const), nil
	case fs.Null:
		return formula.Const(nil), nil
	case fs.Current:
		return formula.Current(), nil
	case len(fs.Ref) > 0:
		t, err := b.tuple(fs.Ref)
		if err != nil {
			return nil, err
		}
		return formula.Ref(t...), nil
	case fs.Op != "":
		op, err := formula.ParseOp(fs.Op)
		if err != nil {
			return nil, err
		}
		if len(fs.Args) != 2 {
			return nil, fmt.Errorf("%w: operator %s needs 2 arguments, got %d", ErrInvalidFormula, fs.Op, len(fs.Args))
		}
		l, err := b.compile(&fs.Args[0])
		if err != nil {
			return nil, err
		}
		r, err := b.compile(&fs.Args[1])
		if err != nil {
			return nil, err
		}
		return formula.NewBinary(op, l, r)
	case fs.Sum != nil:
		set, err := b.set(fs.Sum.Set)
		if err != nil {
			return nil, err
		}
		var expr formula.Node
		if fs.Sum.Expr != nil {
			if expr, err = b.compile(fs.Sum.Expr); err != nil {
				return nil, err
			}
		}
		return formula.Sum(set, expr), nil
	case len(fs.Aggregate) > 0:
		set, err := b.set(fs.Aggregate)
		if err != nil {
			return nil, err
		}
		return formula.Aggregate(set), nil
	default:
		if fs.Cache.ID == "" {
			return nil, fmt.Errorf("%w: cache needs an id", ErrInvalidFormula)
		}
		inner, err := b.compile(&fs.Cache.Expr)
		if err != nil {
			return nil, err
		}
		return formula.Cached(fs.Cache.ID, inner, b.hierarchies), nil
	}
}

func (b *builder) tuple(names []string) (dim.Tuple, error) {
	t := make(dim.Tuple, 0, len(names))
	for _, n := range names {
		m, err := b.catalog.Resolve(n)
		if err != nil {
			return nil, err
		}
		t = append(t, m)
	}
	return t, nil
}

func (b *builder) set(tuples [][]string) ([]dim.Tuple, error) {
	if len(tuples) == 0 {
		return nil, fmt.Errorf("%w: empty set", ErrInvalidFormula)
	}
	out := make([]dim.Tuple, 0, len(tuples))
	for _, names := range tuples {
		t, err := b.tuple(names)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (fs *FormulaSpec) forms() int {
	n := 0
	for _, set := range []bool{
		fs.Const != nil, fs.Null, fs.Current, len(fs.Ref) > 0, fs.Op != "",
		fs.Sum != nil, len(fs.Aggregate) > 0, fs.Cache != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func (fs *FormulaSpec) containsAggregate() bool {
	switch {
	case len(fs.Aggregate) > 0:
		return true
	case fs.Sum != nil && fs.Sum.Expr != nil:
		return fs.Sum.Expr.containsAggregate()
	case fs.Cache != nil:
		return fs.Cache.Expr.containsAggregate()
	}
	for i := range fs.Args {
		if fs.Args[i].containsAggregate() {
			return true
		}
	}
	return false
}
