// Package session runs xyfit scripts.
//
// A Session holds everything a script can refer to: function types,
// $variables, %functions and @datasets. Sessions are independent of each
// other and are not safe for concurrent use.
package session

import (
	"errors"
	"io"

	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/logutil"
	"src.xyfit.dev/pkg/store/storedefs"
	"src.xyfit.dev/pkg/udf"
	"src.xyfit.dev/pkg/vm"
)

var logger = logutil.GetLogger("[session] ")

// Config keeps configuration for New.
type Config struct {
	Options vm.Options
	// Where print and info write; discarded if nil.
	Out io.Writer
	// If not nil, definitions are replayed from and recorded to it.
	Store storedefs.Store
	// Width to wrap info output to; 80 if 0.
	Width int

	// Initial $variables.
	Variables map[string]float64
	// Formulas defined before the ones in Store. They are not recorded.
	Definitions []string
}

// Session is the state of a script.
type Session struct {
	reg      *udf.Registry
	vars     map[string]float64
	funcs    map[string]*udf.Func
	evals    map[string]*udf.Evaluator
	datasets [][]vm.Point

	opt   vm.Options
	out   io.Writer
	store storedefs.Store
	width int
}

// New creates a Session with one empty dataset, @0. The definitions of cfg
// and then those in the store are defined; the ones that fail are skipped
// and reported in the returned error, which does not prevent the Session
// from being used.
func New(cfg Config) (*Session, error) {
	s := &Session{
		reg:      udf.NewRegistry(),
		vars:     make(map[string]float64),
		funcs:    make(map[string]*udf.Func),
		evals:    make(map[string]*udf.Evaluator),
		datasets: [][]vm.Point{nil},
		opt:      cfg.Options,
		out:      cfg.Out,
		store:    cfg.Store,
		width:    cfg.Width,
	}
	if s.out == nil {
		s.out = io.Discard
	}
	if s.width <= 0 {
		s.width = 80
	}
	for name, v := range cfg.Variables {
		s.vars[name] = v
	}
	var errs []error
	for _, formula := range cfg.Definitions {
		if _, err := s.reg.Define(formula); err != nil {
			errs = append(errs, diag.Executef("definition %q: %s", formula, errMessage(err)))
		}
	}
	if s.store == nil {
		return s, errors.Join(errs...)
	}
	defs, err := s.store.Definitions()
	if err != nil {
		return s, errors.Join(append(errs, err)...)
	}
	replayed := 0
	for _, d := range defs {
		if _, err := s.reg.Define(d.Formula); err != nil {
			logger.Printf("stored definition %s: %v", d.Name, err)
			errs = append(errs, diag.Executef("stored definition of %s: %s", d.Name, errMessage(err)))
			continue
		}
		replayed++
	}
	logger.Printf("replayed %d of %d stored definitions", replayed, len(defs))
	return s, errors.Join(errs...)
}

func errMessage(err error) string {
	var se *diag.SyntaxError
	var ee *diag.ExecuteError
	switch {
	case errors.As(err, &se):
		return se.Message
	case errors.As(err, &ee):
		return ee.Message
	}
	return err.Error()
}

// Registry returns the function types of the session.
func (s *Session) Registry() *udf.Registry { return s.reg }

// Var returns the value of a $variable.
func (s *Session) Var(name string) (float64, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// SetVar sets a $variable.
func (s *Session) SetVar(name string, v float64) { s.vars[name] = v }

// Func evaluates the %function name at x.
func (s *Session) Func(name string, x float64) (float64, error) {
	ev, ok := s.evals[name]
	if !ok {
		f, ok := s.funcs[name]
		if !ok {
			return 0, diag.Executef("undefined function %%%s", name)
		}
		ev = f.NewEvaluator()
		s.evals[name] = ev
	}
	return ev.EvalAt(x)[0], nil
}

// Function returns the %function with the given name.
func (s *Session) Function(name string) (*udf.Func, bool) {
	f, ok := s.funcs[name]
	return f, ok
}

func (s *Session) setFunc(name string, f *udf.Func) {
	s.funcs[name] = f
	delete(s.evals, name)
}

// HasVar reports whether a $variable is defined.
func (s *Session) HasVar(name string) bool {
	_, ok := s.vars[name]
	return ok
}

// HasFunc reports whether a %function is defined.
func (s *Session) HasFunc(name string) bool {
	_, ok := s.funcs[name]
	return ok
}

// NumDatasets returns the number of datasets.
func (s *Session) NumDatasets() int { return len(s.datasets) }

// Dataset returns the points of dataset i. The slice must not be modified.
func (s *Session) Dataset(i int) []vm.Point {
	if i < 0 || i >= len(s.datasets) {
		return nil
	}
	return s.datasets[i]
}

// SetDataset replaces dataset i, or adds a dataset if i is the number of
// datasets.
func (s *Session) SetDataset(i int, points []vm.Point) error {
	switch {
	case i >= 0 && i < len(s.datasets):
		s.datasets[i] = points
	case i == len(s.datasets):
		s.datasets = append(s.datasets, points)
	default:
		return diag.Executef("no dataset @%d", i)
	}
	return nil
}
