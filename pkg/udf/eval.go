package udf

import (
	"context"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"src.xyfit.dev/pkg/deriv"
)

// Func is a function: a function type with values for its parameters.
type Func struct {
	Def    *Definition
	Values []float64
}

func (f *Func) String() string {
	var sb strings.Builder
	sb.WriteString(f.Def.Name)
	sb.WriteByte('(')
	for i, p := range f.Def.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.Name)
		sb.WriteByte('=')
		sb.WriteString(strconv.FormatFloat(f.Values[i], 'g', -1, 64))
	}
	sb.WriteByte(')')
	return sb.String()
}

// Value returns the value of the function at x.
func (f *Func) Value(x float64) float64 {
	return f.NewEvaluator().EvalAt(x)[0]
}

// Evaluator computes the value and derivatives of a Func. It owns the
// buffers it needs and must not be shared between goroutines; several
// evaluators of one Func may run concurrently.
type Evaluator struct {
	values []float64
	root   evalNode
	out    []float64
}

// NewEvaluator creates an Evaluator. It uses the parameter values of f at
// the time of each EvalAt call.
func (f *Func) NewEvaluator() *Evaluator {
	return &Evaluator{
		values: f.Values,
		root:   newEvalNode(f.Def),
		out:    make([]float64, len(f.Def.Params)+2),
	}
}

// EvalAt returns [value, d/dp1, ..., d/dpk, d/dx] at x. The returned slice
// is overwritten by the next call.
func (e *Evaluator) EvalAt(x float64) []float64 {
	e.root.eval(x, e.values, e.out)
	return e.out
}

// An evalNode writes [value, d/dp..., d/dx] of a definition into out.
type evalNode interface {
	eval(x float64, params, out []float64)
}

func newEvalNode(d *Definition) evalNode {
	switch d.Kind {
	case Compound:
		n := &compoundNode{}
		for _, c := range d.calls {
			n.terms = append(n.terms, newCallNode(c))
		}
		return n
	case Split:
		return &splitNode{
			cond:        d.cond,
			condOut:     make([]float64, d.cond.NumOutputs()),
			condScratch: make([]float64, d.cond.NumRegisters()),
			left:        newCallNode(d.calls[0]),
			right:       newCallNode(d.calls[1]),
		}
	}
	return &customNode{d.program, make([]float64, d.program.NumRegisters())}
}

type customNode struct {
	dp      *deriv.Program
	scratch []float64
}

func (n *customNode) eval(x float64, params, out []float64) {
	n.dp.Eval(x, params, out, n.scratch)
}

type compoundNode struct {
	terms []*callNode
}

func (n *compoundNode) eval(x float64, params, out []float64) {
	clear(out)
	for _, t := range n.terms {
		t.addTo(x, params, out)
	}
}

type splitNode struct {
	cond        *deriv.Program
	condOut     []float64
	condScratch []float64
	left, right *callNode
}

func (n *splitNode) eval(x float64, params, out []float64) {
	n.cond.Eval(x, params, n.condOut, n.condScratch)
	clear(out)
	if x < n.condOut[0] {
		n.left.addTo(x, params, out)
	} else {
		n.right.addTo(x, params, out)
	}
}

// callNode evaluates a function type whose parameters are given by argument
// programs, and applies the chain rule to get derivatives with respect to
// the parameters of the caller.
type callNode struct {
	args    []*deriv.Program
	argOut  [][]float64
	argVals []float64
	scratch []float64
	sub     evalNode
	subOut  []float64
}

func newCallNode(c *call) *callNode {
	n := &callNode{
		args:    c.args,
		argVals: make([]float64, len(c.args)),
		sub:     newEvalNode(c.def),
		subOut:  make([]float64, len(c.def.Params)+2),
	}
	regs := 0
	for _, a := range c.args {
		n.argOut = append(n.argOut, make([]float64, a.NumOutputs()))
		regs = max(regs, a.NumRegisters())
	}
	n.scratch = make([]float64, regs)
	return n
}

func (n *callNode) addTo(x float64, params, out []float64) {
	for i, a := range n.args {
		a.Eval(x, params, n.argOut[i], n.scratch)
		n.argVals[i] = n.argOut[i][0]
	}
	n.sub.eval(x, n.argVals, n.subOut)
	k := len(params)
	out[0] += n.subOut[0]
	for i := range n.args {
		dv := n.subOut[1+i]
		if dv == 0 {
			continue
		}
		for j := 0; j < k; j++ {
			out[1+j] += dv * n.argOut[i][1+j]
		}
	}
	// Arguments do not depend on x.
	out[k+1] += n.subOut[len(n.args)+1]
}

// EvalMany evaluates f at every x of xs, returning [value, d/dp..., d/dx]
// for each. The points are split between workers goroutines, each with its
// own Evaluator; if workers < 1, GOMAXPROCS is used.
func EvalMany(ctx context.Context, f *Func, xs []float64, workers int) ([][]float64, error) {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	width := len(f.Values) + 2
	flat := make([]float64, len(xs)*width)
	res := make([][]float64, len(xs))
	for i := range res {
		res[i] = flat[i*width : (i+1)*width : (i+1)*width]
	}

	g, ctx := errgroup.WithContext(ctx)
	chunk := (len(xs) + workers - 1) / workers
	for lo := 0; lo < len(xs); lo += chunk {
		lo := lo
		hi := min(lo+chunk, len(xs))
		g.Go(func() error {
			ev := f.NewEvaluator()
			for i := lo; i < hi; i++ {
				if (i-lo)%1024 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				copy(res[i], ev.EvalAt(xs[i]))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
