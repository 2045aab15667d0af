// Package udf implements the registry of function types.
//
// A function type is defined by a formula such as
//
//	Gaussian(height, center, hwhm) = height*exp(-ln(2)*((x-center)/hwhm)^2)
//
// The right-hand side is either a custom formula, which is differentiated
// symbolically, a compound of other function types joined by '+', or a
// split that selects one of two function types depending on x.
package udf

import (
	"strconv"
	"strings"

	"src.xyfit.dev/pkg/deriv"
	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/logutil"
	"src.xyfit.dev/pkg/must"
)

var logger = logutil.GetLogger("[udf] ")

// Kind is the classification of a formula.
type Kind uint8

// Kinds of formulas.
const (
	Custom Kind = iota
	Compound
	Split
)

func (k Kind) String() string {
	switch k {
	case Custom:
		return "custom"
	case Compound:
		return "compound"
	case Split:
		return "split"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Param is a declared parameter of a function type.
type Param struct {
	Name       string
	Default    float64
	HasDefault bool
}

// Definition is a function type. It is immutable once defined.
type Definition struct {
	Name    string
	Params  []Param
	RHS     string
	Kind    Kind
	Builtin bool

	// Custom.
	program *deriv.Program
	// Compound: the terms. Split: the two sides.
	calls []*call
	// Split only: the value of the condition, x < cond selects calls[0].
	cond *deriv.Program
}

// A use of another function type inside a compound or split formula. Each
// argument is a program of the parameters of the using definition.
type call struct {
	def  *Definition
	args []*deriv.Program
}

// ParamNames returns the names of the parameters, in order.
func (d *Definition) ParamNames() []string {
	names := make([]string, len(d.Params))
	for i, p := range d.Params {
		names[i] = p.Name
	}
	return names
}

// Program returns the value and derivatives program of a custom formula, and
// nil for other kinds.
func (d *Definition) Program() *deriv.Program { return d.program }

// Components returns the names of the function types a compound or split
// formula uses.
func (d *Definition) Components() []string {
	var names []string
	for _, c := range d.calls {
		names = append(names, c.def.Name)
	}
	return names
}

func (d *Definition) uses(name string) bool {
	for _, c := range d.calls {
		if c.def.Name == name {
			return true
		}
	}
	return false
}

// Signature returns the left-hand side of the definition.
func (d *Definition) Signature() string {
	var sb strings.Builder
	sb.WriteString(d.Name)
	sb.WriteByte('(')
	for i, p := range d.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Name)
		if p.HasDefault {
			sb.WriteByte('=')
			sb.WriteString(strconv.FormatFloat(p.Default, 'g', -1, 64))
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

// String returns the formula of the definition.
func (d *Definition) String() string {
	return d.Signature() + " = " + d.RHS
}

// Registry holds function types. Definitions must not be changed while
// functions of the registry are being evaluated; this is not checked.
type Registry struct {
	defs  map[string]*Definition
	order []*Definition
}

// NewRegistry returns a registry with the built-in function types.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]*Definition)}
	for _, formula := range builtins {
		d := must.OK1(r.parse(formula))
		d.Builtin = true
		r.add(d)
	}
	return r
}

// Define parses a formula, with or without the leading "define", and adds
// the function type it defines.
func (r *Registry) Define(formula string) (*Definition, error) {
	d, err := r.parse(formula)
	if err != nil {
		return nil, err
	}
	r.add(d)
	logger.Printf("defined %s function %s", d.Kind, d.Signature())
	return d, nil
}

// Check parses a formula like Define, but does not add the type.
func (r *Registry) Check(formula string) error {
	_, err := r.parse(formula)
	return err
}

func (r *Registry) add(d *Definition) {
	r.defs[d.Name] = d
	r.order = append(r.order, d)
}

// Undefine removes function types. Built-in types and types used by
// definitions that are not removed with them can not be removed. Either all
// the names are removed or, on error, none.
func (r *Registry) Undefine(names ...string) error {
	removed := make(map[string]bool, len(names))
	for _, name := range names {
		d, ok := r.defs[name]
		if !ok {
			return diag.Executef("undefined function type %s", name)
		}
		if d.Builtin {
			return diag.Executef("can not undefine built-in function %s", name)
		}
		removed[name] = true
	}
	for _, name := range names {
		for _, other := range r.order {
			if !removed[other.Name] && other.uses(name) {
				return diag.Executef("can not undefine %s: %s depends on it", name, other.Name)
			}
		}
	}
	for name := range removed {
		delete(r.defs, name)
	}
	kept := r.order[:0:0]
	for _, d := range r.order {
		if !removed[d.Name] {
			kept = append(kept, d)
		}
	}
	r.order = kept
	logger.Printf("undefined %v", names)
	return nil
}

// Lookup returns the function type with the given name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Definitions returns all function types in definition order.
func (r *Registry) Definitions() []*Definition {
	return append([]*Definition(nil), r.order...)
}

// Instantiate creates a function of the named type. Parameter values are
// taken from args in order, then from named; parameters without a value
// take their defaults.
func (r *Registry) Instantiate(name string, args []float64, named map[string]float64) (*Func, error) {
	d, ok := r.defs[name]
	if !ok {
		return nil, diag.Executef("undefined function type %s", name)
	}
	if len(args) > len(d.Params) {
		return nil, diag.Executef("%s takes at most %d parameters, got %d",
			name, len(d.Params), len(args))
	}
	values := make([]float64, len(d.Params))
	given := make([]bool, len(d.Params))
	copy(values, args)
	for i := range args {
		given[i] = true
	}
	for pname, v := range named {
		i := d.paramIndex(pname)
		if i < 0 {
			return nil, diag.Executef("%s has no parameter %s", name, pname)
		}
		if given[i] {
			return nil, diag.Executef("parameter %s of %s given twice", pname, name)
		}
		values[i], given[i] = v, true
	}
	for i, p := range d.Params {
		if given[i] {
			continue
		}
		if !p.HasDefault {
			return nil, diag.Executef("missing value for parameter %s of %s", p.Name, name)
		}
		values[i] = p.Default
	}
	return &Func{Def: d, Values: values}, nil
}

func (d *Definition) paramIndex(name string) int {
	for i, p := range d.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}
