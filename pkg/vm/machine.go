package vm

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/expr"
)

// Execution mode of a machine.
type mode uint8

const (
	// No dataset: point data, n, M and aggregates are errors.
	modeScalar mode = iota
	// Dataset without a current point: n is M. Structural statements (M=,
	// order=, indexed assignment and deletion) run in this mode.
	modeOnce
	// Dataset with a current point n.
	modePerPoint
)

func (md mode) String() string {
	switch md {
	case modeScalar:
		return "scalar"
	case modeOnce:
		return "once"
	default:
		return "per-point"
	}
}

// Upper bound of M=.
const maxPoints = 1 << 24

// machine is the state of one run of a program.
type machine struct {
	code   []int32
	consts []float64
	names  []string
	slots  []float64

	env  Env
	opt  Options
	eps  float64
	rand *rand.Rand

	mode     mode
	old, new []Point
	n        int
	// Points marked by delete(cond), in increasing order.
	deleted []int

	stack [StackSize]float64
	sp    int
}

func newMachine(p *expr.Program, env Env, opt Options) *machine {
	return &machine{
		code: p.Code, consts: p.Consts, names: p.Names,
		slots: make([]float64, p.Slots),
		env:   env, opt: opt, eps: opt.epsilon(),
	}
}

// fail aborts the run with an ExecuteError.
func (m *machine) fail(format string, args ...any) {
	panic(diag.Executef(format, args...))
}

func (m *machine) push(v float64) {
	if m.sp >= StackSize {
		m.fail("stack overflow: expression needs more than %d values", StackSize)
	}
	m.stack[m.sp] = v
	m.sp++
}

func (m *machine) pop() float64 {
	if m.sp == 0 {
		panic("stack underflow")
	}
	m.sp--
	return m.stack[m.sp]
}

func (m *machine) top() *float64 {
	if m.sp == 0 {
		panic("stack underflow")
	}
	return &m.stack[m.sp-1]
}

func (m *machine) random() *rand.Rand {
	if m.rand == nil {
		m.rand = newRand(m.opt)
	}
	return m.rand
}

// eval runs the whole code of an expression and returns its value.
func (m *machine) eval() (v float64, err error) {
	err = catch(func() {
		if m.mode != modeScalar {
			m.resolveAggregates(m.old)
		}
		m.run(0, len(m.code))
		if m.sp != 1 {
			panic(fmt.Sprintf("%d values on the stack after evaluation", m.sp))
		}
		v = m.pop()
	})
	return v, err
}

// runBlocks runs the bodies of the top-level statement blocks of the given
// kind.
func (m *machine) runBlocks(kind expr.Op) {
	for pc := 0; pc < len(m.code); {
		op := expr.Op(m.code[pc])
		if op != expr.OpOnceBlock && op != expr.OpPointBlock {
			m.fail("%s outside of a statement", op)
		}
		end := pc + int(m.code[pc+1])
		if op == kind {
			m.run(pc+2, end)
			if m.sp != 0 {
				panic(fmt.Sprintf("%d values on the stack after a statement", m.sp))
			}
		}
		pc = end
	}
}

// run interprets the code in [pc, end).
func (m *machine) run(pc, end int) {
	code := m.code
	for pc < end {
		op := expr.Op(code[pc])
		switch {
		case op == expr.OpNumber:
			m.push(m.consts[code[pc+1]])
		case op == expr.OpVar:
			m.push(m.variable(m.names[code[pc+1]]))
		case op == expr.OpParam || op == expr.OpX:
			m.fail("%s can only be used in a function formula", op)

		case expr.OpOldX <= op && op <= expr.OpOldA:
			t := m.top()
			*t = m.read(m.old, op, *t)
		case expr.OpNewX <= op && op <= expr.OpNewA:
			t := m.top()
			*t = m.read(m.new, op, *t)
		case op == expr.OpN:
			// A bare array name compiles to n followed by the read.
			if next := pc + 1; next < end && isArrayRead(expr.Op(code[next])) {
				m.needDataset(expr.Op(code[next]))
			}
			m.needDataset(op)
			if m.mode == modePerPoint {
				m.push(float64(m.n))
			} else {
				m.push(float64(len(m.new)))
			}
		case op == expr.OpM:
			m.needDataset(op)
			m.push(float64(len(m.new)))

		case expr.OpNeg <= op && op <= expr.OpRound:
			t := m.top()
			*t = Unary(op, *t)
		case op == expr.OpRandNormal:
			sigma := m.pop()
			t := m.top()
			*t += sigma * m.random().NormFloat64()
		case op == expr.OpRandUniform:
			hi := m.pop()
			t := m.top()
			*t += (hi - *t) * m.random().Float64()
		case expr.OpAdd <= op && op <= expr.OpNe:
			b := m.pop()
			t := m.top()
			*t = Binary(op, *t, b, m.eps)

		case op == expr.OpAnd:
			if t := m.top(); !Truthy(*t) {
				*t = 0
				pc += int(code[pc+1])
				continue
			}
			m.pop()
		case op == expr.OpOr:
			if t := m.top(); Truthy(*t) {
				*t = 1
				pc += int(code[pc+1])
				continue
			}
			m.pop()
		case op == expr.OpTernary:
			if !Truthy(m.pop()) {
				pc += int(code[pc+1])
				continue
			}
		case op == expr.OpElse:
			pc += int(code[pc+1])
			continue

		case op == expr.OpCall:
			t := m.top()
			*t = m.call(m.names[code[pc+1]], *t)

		case op == expr.OpAggregate:
			m.fail("aggregate %s can not be used without a dataset", expr.Aggregate(code[pc+1]))
		case op == expr.OpAggregateEnd:
		case op == expr.OpAggregateValue:
			m.push(m.consts[code[pc+1]])
			pc += int(code[pc+2])
			continue

		case op == expr.OpStoreSlot:
			m.slots[code[pc+1]] = m.pop()
		case op == expr.OpLoadSlot:
			m.push(m.slots[code[pc+1]])

		case expr.OpAssignX <= op && op <= expr.OpAssignA:
			m.needMode(op, modePerPoint)
			m.new[m.n].set(op.Column(), m.pop())
		case expr.OpAssignIndexX <= op && op <= expr.OpAssignIndexA:
			v := m.pop()
			if i, ok := m.index(op, m.pop(), len(m.new)); ok {
				m.new[i].set(op.Column(), v)
			}
		case expr.OpAssignRangeX <= op && op <= expr.OpAssignRangeA:
			m.needMode(op, modePerPoint)
			v := m.pop()
			upper := m.pop()
			lo, hi := m.bounds(m.pop(), upper)
			if lo <= m.n && m.n < hi {
				m.new[m.n].set(op.Column(), v)
			}

		case op == expr.OpResize:
			m.needMode(op, modeOnce)
			m.resize(m.pop())
		case op == expr.OpOrder:
			m.needMode(op, modeOnce)
			m.order(code[pc+1])
		case op == expr.OpDeleteIndex:
			m.needMode(op, modeOnce)
			if i, ok := m.index(op, m.pop(), len(m.new)); ok {
				m.erase(i, i+1)
			}
		case op == expr.OpDeleteRange:
			m.needMode(op, modeOnce)
			upper := m.pop()
			lo, hi := m.bounds(m.pop(), upper)
			m.erase(lo, hi)
		case op == expr.OpDeleteIf:
			m.needMode(op, modePerPoint)
			if Truthy(m.pop()) {
				m.deleted = append(m.deleted, m.n)
			}

		default:
			m.fail("%s can not be executed in %s mode", op, m.mode)
		}
		pc += 1 + op.Operands()
	}
}

func (m *machine) needDataset(op expr.Op) {
	if m.mode == modeScalar {
		m.fail("%s can not be used without a dataset", strings.TrimSuffix(op.String(), "[]"))
	}
}

func isArrayRead(op expr.Op) bool { return expr.OpOldX <= op && op <= expr.OpNewA }

func (m *machine) needMode(op expr.Op, md mode) {
	if m.mode != md {
		m.fail("%s can not be executed in %s mode", op, m.mode)
	}
}

func (m *machine) variable(name string) float64 {
	if m.env != nil {
		if v, ok := m.env.Var(name); ok {
			return v
		}
	}
	m.fail("undefined variable $%s", name)
	return 0
}

func (m *machine) call(name string, x float64) float64 {
	if m.env == nil {
		m.fail("undefined function %%%s", name)
	}
	v, err := m.env.Func(name, x)
	if err != nil {
		if e, ok := err.(*diag.ExecuteError); ok {
			panic(e)
		}
		m.fail("%%%s: %v", name, err)
	}
	return v
}

// read reads the column addressed by op from points[idx]. Out-of-range reads
// give 0, or fail in strict mode.
func (m *machine) read(points []Point, op expr.Op, idx float64) float64 {
	m.needDataset(op)
	if i, ok := m.index(op, idx, len(points)); ok {
		return points[i].get(op.Column())
	}
	return 0
}

// index converts an index value to an integer, rounding half up and counting
// negative indices from the end. If the result is outside [0, size) it
// returns false, or fails in strict mode.
func (m *machine) index(op expr.Op, v float64, size int) (int, bool) {
	if !math.IsNaN(v) && math.Abs(v) < maxPoints*2 {
		i := int(Round(v))
		if i < 0 {
			i += size
		}
		if 0 <= i && i < size {
			return i, true
		}
	}
	if m.opt.Strict {
		m.fail("%s: index %g out of range [0, %d)", op, v, size)
	}
	return 0, false
}

// bounds converts the ends of a half-open range, clamping them to [0, M].
func (m *machine) bounds(lo, hi float64) (int, int) {
	size := len(m.new)
	end := func(v float64) int {
		if math.IsNaN(v) {
			return 0
		}
		r := Round(v)
		if r < 0 {
			r += float64(size)
		}
		return int(math.Max(0, math.Min(r, float64(size))))
	}
	return end(lo), end(hi)
}

func (m *machine) resize(v float64) {
	if math.IsNaN(v) || v < 0 || v > maxPoints {
		m.fail("can not set M to %g", v)
	}
	size := int(Round(v))
	if size <= len(m.new) {
		m.new = m.new[:size]
		return
	}
	for len(m.new) < size {
		m.new = append(m.new, NewPoint)
	}
}

// erase removes the points in [lo, hi) from both the new and the old array.
func (m *machine) erase(lo, hi int) {
	if lo >= hi {
		return
	}
	m.new = append(m.new[:lo], m.new[hi:]...)
	if lo < len(m.old) {
		m.old = append(m.old[:lo], m.old[min(hi, len(m.old)):]...)
	}
}

// order sorts the new array by a column, stably. The old array follows the
// points it belongs to: after the sort old[i] holds the old values of the
// point now at i. Points added by M have no old values and get a zero Point;
// old entries past the end of the new array stay where they are.
func (m *machine) order(key int32) {
	col, desc := int(key/2), key%2 == 1
	perm := make([]int, len(m.new))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool {
		a, b := m.new[perm[i]].get(col), m.new[perm[j]].get(col)
		if desc {
			return a > b
		}
		return a < b
	})
	if len(m.old) > 0 {
		old := make([]Point, max(len(m.old), len(perm)))
		for i, j := range perm {
			if j < len(m.old) {
				old[i] = m.old[j]
			}
		}
		if len(m.old) > len(perm) {
			copy(old[len(perm):], m.old[len(perm):])
		}
		m.old = old
	}
	m.new = permute(m.new, perm)
}

func permute(points []Point, perm []int) []Point {
	sorted := make([]Point, len(points))
	for i, j := range perm {
		sorted[i] = points[j]
	}
	return sorted
}

// compact removes the points marked by delete(cond).
func (m *machine) compact() {
	if len(m.deleted) == 0 {
		return
	}
	marked := make([]bool, len(m.new))
	for _, i := range m.deleted {
		marked[i] = true
	}
	kept := m.new[:0]
	for i, p := range m.new {
		if !marked[i] {
			kept = append(kept, p)
		}
	}
	m.new = kept
}
