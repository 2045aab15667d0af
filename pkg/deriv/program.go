package deriv

import (
	"fmt"
	"strings"

	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/expr"
	"src.xyfit.dev/pkg/logutil"
	"src.xyfit.dev/pkg/vm"
)

var logger = logutil.GetLogger("[deriv] ")

// Options keeps options for Compile.
type Options struct {
	// If true, the formula must not use x.
	NoX bool
}

// Program computes the value of a formula and its partial derivatives. It
// writes [value, d/dp1, ..., d/dpk, d/dx] for the k parameters.
//
// A Program is immutable and can be used from several goroutines, as long
// as each uses its own output and scratch buffers.
type Program struct {
	params  []string
	code    []instr
	init    []float64
	outputs []int32

	tree  *Tree
	roots []NodeID
}

// One instruction computes the register dst from the registers a, b and c.
type instr struct {
	op      expr.Op
	dst     int32
	a, b, c int32
}

// Compile differentiates a formula program with respect to each of the
// declared params and to x, and compiles the value and the derivatives into
// one Program.
func Compile(p *expr.Program, params []string, opt Options) (*Program, error) {
	if p.Mode != expr.ModeFormula {
		return nil, diag.Executef("can not differentiate %s", p.Mode)
	}
	if opt.NoX && p.Uses(expr.OpX) {
		return nil, diag.Executef("x can not be used in %q", p.Source.Code)
	}
	t, root, err := BuildTree(p, params)
	if err != nil {
		return nil, err
	}
	roots := []NodeID{root}
	for v := 0; v <= len(params); v++ {
		d, err := t.Diff(root, v)
		if err != nil {
			return nil, err
		}
		roots = append(roots, d)
	}
	dp := t.Compile(roots)
	logger.Printf("compiled %q with %d parameters: %d nodes, %d instructions",
		p.Source.Code, len(params), t.Len(), len(dp.code))
	return dp, nil
}

// Compile generates a program writing the values of the given nodes, in
// order. Every node needed is computed once.
func (t *Tree) Compile(roots []NodeID) *Program {
	needed := make([]bool, t.Len())
	var mark func(id NodeID)
	mark = func(id NodeID) {
		if needed[id] {
			return
		}
		needed[id] = true
		n := t.node(id)
		for i := 0; i < int(n.nargs); i++ {
			mark(n.args[i])
		}
	}
	for _, id := range roots {
		mark(id)
	}

	dp := &Program{params: t.params, tree: t, roots: roots}
	reg := make([]int32, t.Len())
	// Arguments have smaller ids, so visiting nodes in id order computes
	// arguments first.
	for id, n := range t.nodes {
		if !needed[id] {
			continue
		}
		r := int32(len(dp.init))
		reg[id] = r
		dp.init = append(dp.init, 0)
		switch n.op {
		case expr.OpNumber:
			dp.init[r] = n.value()
		case expr.OpParam:
			dp.code = append(dp.code, instr{op: n.op, dst: r, a: n.param})
		case expr.OpX:
			dp.code = append(dp.code, instr{op: n.op, dst: r})
		default:
			in := instr{op: n.op, dst: r}
			args := []*int32{&in.a, &in.b, &in.c}
			for i := 0; i < int(n.nargs); i++ {
				*args[i] = reg[n.args[i]]
			}
			dp.code = append(dp.code, in)
		}
	}
	for _, id := range roots {
		dp.outputs = append(dp.outputs, reg[id])
	}
	return dp
}

// Params returns the parameter names, in the order of the derivatives.
func (dp *Program) Params() []string { return dp.params }

// NumOutputs returns the length of the output vector.
func (dp *Program) NumOutputs() int { return len(dp.outputs) }

// NumRegisters returns the length of the scratch buffer Eval needs.
func (dp *Program) NumRegisters() int { return len(dp.init) }

// Eval evaluates the program at x. The params slice holds the parameter
// values, out receives NumOutputs values and scratch must have room for
// NumRegisters values.
func (dp *Program) Eval(x float64, params, out, scratch []float64) {
	r := scratch[:len(dp.init)]
	copy(r, dp.init)
	for _, in := range dp.code {
		switch {
		case in.op == expr.OpParam:
			r[in.dst] = params[in.a]
		case in.op == expr.OpX:
			r[in.dst] = x
		case in.op == expr.OpTernary:
			if vm.Truthy(r[in.a]) {
				r[in.dst] = r[in.b]
			} else {
				r[in.dst] = r[in.c]
			}
		case in.op == expr.OpAnd:
			r[in.dst] = boolValue(vm.Truthy(r[in.a]) && vm.Truthy(r[in.b]))
		case in.op == expr.OpOr:
			r[in.dst] = boolValue(vm.Truthy(r[in.a]) || vm.Truthy(r[in.b]))
		case expr.OpNeg <= in.op && in.op <= expr.OpRound:
			r[in.dst] = vm.Unary(in.op, r[in.a])
		default:
			r[in.dst] = vm.Binary(in.op, r[in.a], r[in.b], vm.DefaultEpsilon)
		}
	}
	for i, reg := range dp.outputs {
		out[i] = r[reg]
	}
}

// String shows the formulas computed by the program, one per line.
func (dp *Program) String() string {
	var sb strings.Builder
	for i, id := range dp.roots {
		var label string
		switch {
		case i == 0:
			label = "value"
		case i <= len(dp.params):
			label = "d/d" + dp.params[i-1]
		case i == len(dp.params)+1:
			label = "d/dx"
		default:
			label = fmt.Sprintf("#%d", i)
		}
		fmt.Fprintf(&sb, "%s = %s\n", label, dp.tree.Format(id))
	}
	return sb.String()
}

// Evaluator evaluates a Program with its own buffers. It must not be used
// from several goroutines at the same time.
type Evaluator struct {
	dp      *Program
	out     []float64
	scratch []float64
}

// NewEvaluator creates an Evaluator for the program.
func (dp *Program) NewEvaluator() *Evaluator {
	return &Evaluator{dp, make([]float64, len(dp.outputs)), make([]float64, len(dp.init))}
}

// EvalAt evaluates the program at x and returns [value, d/dp1, ..., d/dx].
// The returned slice is overwritten by the next call.
func (e *Evaluator) EvalAt(x float64, params []float64) []float64 {
	e.dp.Eval(x, params, e.out, e.scratch)
	return e.out
}
