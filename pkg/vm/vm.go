// Package vm executes compiled programs: data transformations against point
// arrays and expressions evaluated to a single value.
package vm

import (
	"math/rand"
	"time"

	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/expr"
	"src.xyfit.dev/pkg/logutil"
)

var logger = logutil.GetLogger("[vm] ")

// StackSize is the capacity of the operand stack. Programs that need more
// fail with an ExecuteError.
const StackSize = 128

// DefaultEpsilon is the comparison tolerance used when Options.Epsilon is 0.
const DefaultEpsilon = 1e-9

// Options keeps options for running programs.
type Options struct {
	// Tolerance of comparisons; DefaultEpsilon if 0.
	Epsilon float64
	// If true, reading or writing a point outside the dataset is an error
	// instead of reading 0 and ignoring the write.
	Strict bool
	// Source of randnormal and randuniform; seeded from the time if nil.
	Rand *rand.Rand
}

func (opt Options) epsilon() float64 {
	if opt.Epsilon == 0 {
		return DefaultEpsilon
	}
	return opt.Epsilon
}

// Env gives programs access to $variables and %functions.
type Env interface {
	// Var returns the value of a variable and whether it exists.
	Var(name string) (float64, bool)
	// Func evaluates a function instance at x.
	Func(name string, x float64) (float64, error)
}

// RunTransform runs a transform program against a dataset and returns the
// transformed points. The points passed in are not modified.
//
// Aggregates are resolved first. Then statements of the once pass run in
// order, followed by the per-point statements for every point, followed by
// the deletion of the points marked by delete(cond).
func RunTransform(old []Point, p *expr.Program, env Env, opt Options) ([]Point, error) {
	if p.Mode != expr.ModeTransform {
		return nil, diag.Executef("can not run %s as a transform", p.Mode)
	}
	m := newMachine(p, env, opt)
	m.old = clonePoints(old)
	m.new = clonePoints(old)
	err := catch(func() {
		m.resolveAggregates(m.old)
		m.mode = modeOnce
		m.runBlocks(expr.OpOnceBlock)
		m.mode = modePerPoint
		for m.n = 0; m.n < len(m.new); m.n++ {
			m.runBlocks(expr.OpPointBlock)
		}
		m.compact()
	})
	if err != nil {
		return nil, err
	}
	logger.Printf("transform %q: %d -> %d points", p.Source.Code, len(old), len(m.new))
	return m.new, nil
}

// EvalScalar evaluates an expression that does not depend on a dataset.
// Point data, n, M and aggregates are errors.
func EvalScalar(p *expr.Program, env Env, opt Options) (float64, error) {
	if p.Mode != expr.ModeExpr {
		return 0, diag.Executef("can not evaluate %s as an expression", p.Mode)
	}
	m := newMachine(p, env, opt)
	m.mode = modeScalar
	return m.eval()
}

// EvalOnDataset evaluates an expression against a dataset without a current
// point. Aggregates are computed over the points; n evaluates to M, so point
// data must be indexed explicitly.
func EvalOnDataset(points []Point, p *expr.Program, env Env, opt Options) (float64, error) {
	return evalWithPoints(points, -1, p, env, opt)
}

// EvalAt evaluates an expression at point n of a dataset.
func EvalAt(points []Point, n int, p *expr.Program, env Env, opt Options) (float64, error) {
	if n < 0 || n >= len(points) {
		return 0, diag.Executef("point %d out of range [0, %d)", n, len(points))
	}
	return evalWithPoints(points, n, p, env, opt)
}

func evalWithPoints(points []Point, n int, p *expr.Program, env Env, opt Options) (float64, error) {
	if p.Mode != expr.ModeExpr {
		return 0, diag.Executef("can not evaluate %s as an expression", p.Mode)
	}
	m := newMachine(p, env, opt)
	m.old = points
	// Expressions never write point data, so both arrays can share storage.
	m.new = points
	if n < 0 {
		m.mode = modeOnce
	} else {
		m.mode = modePerPoint
		m.n = n
	}
	return m.eval()
}

// catch runs f, converting a panic with an ExecuteError into a returned
// error.
func catch(f func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		} else if e, ok := r.(*diag.ExecuteError); ok {
			err = e
		} else {
			panic(r)
		}
	}()
	f()
	return nil
}

func newRand(opt Options) *rand.Rand {
	if opt.Rand != nil {
		return opt.Rand
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
