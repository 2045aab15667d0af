// Package deriv differentiates function formulas symbolically and compiles
// the value and all partial derivatives into one program.
//
// Formulas are converted from bytecode into a Tree, an arena of nodes in
// which identical subtrees are stored once. Derivative trees are built in the
// same arena, so subexpressions shared between the value and the derivatives
// are computed once by the generated program.
package deriv

import (
	"math"
	"strconv"
	"strings"

	"src.xyfit.dev/pkg/expr"
	"src.xyfit.dev/pkg/vm"
)

// NodeID identifies a node in a Tree.
type NodeID int32

// A node. Leaves use OpNumber, OpParam and OpX; OpTernary has three
// arguments (condition, then, else); OpAnd and OpOr have two.
type node struct {
	op    expr.Op
	args  [3]NodeID
	nargs int8
	bits  uint64 // constant value, as from math.Float64bits
	param int32
}

func (n *node) value() float64 { return math.Float64frombits(n.bits) }

// Tree is an arena of expression nodes. Nodes are immutable and
// hash-consed: constructing a node equal to an existing one returns the
// existing id. Arguments always have smaller ids than the nodes using them.
type Tree struct {
	params []string
	nodes  []node
	index  map[node]NodeID
}

// NewTree creates an empty tree whose parameter nodes refer to params.
func NewTree(params []string) *Tree {
	return &Tree{params: params, index: make(map[node]NodeID)}
}

// Params returns the parameter names of the tree.
func (t *Tree) Params() []string { return t.params }

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) intern(n node) NodeID {
	if id, ok := t.index[n]; ok {
		return id
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, n)
	t.index[n] = id
	return id
}

func (t *Tree) node(id NodeID) *node { return &t.nodes[id] }

// IsConst reports whether id is a constant node, and its value.
func (t *Tree) IsConst(id NodeID) (float64, bool) {
	n := t.node(id)
	if n.op != expr.OpNumber {
		return 0, false
	}
	return n.value(), true
}

func (t *Tree) isValue(id NodeID, v float64) bool {
	c, ok := t.IsConst(id)
	return ok && c == v
}

// Const returns a constant node.
func (t *Tree) Const(v float64) NodeID {
	return t.intern(node{op: expr.OpNumber, bits: math.Float64bits(v)})
}

// Param returns the node of the i-th parameter.
func (t *Tree) Param(i int) NodeID {
	return t.intern(node{op: expr.OpParam, param: int32(i)})
}

// X returns the node of the function variable.
func (t *Tree) X() NodeID {
	return t.intern(node{op: expr.OpX})
}

// Unary returns the node applying a unary opcode, folding constants.
func (t *Tree) Unary(op expr.Op, a NodeID) NodeID {
	if c, ok := t.IsConst(a); ok {
		return t.Const(vm.Unary(op, c))
	}
	an := t.node(a)
	switch {
	case op == expr.OpNeg && an.op == expr.OpNeg:
		return an.args[0]
	case op == expr.OpBool && isBoolean(an.op):
		return a
	}
	return t.intern(node{op: op, args: [3]NodeID{a}, nargs: 1})
}

func isBoolean(op expr.Op) bool {
	switch op {
	case expr.OpLt, expr.OpLe, expr.OpGt, expr.OpGe, expr.OpEq, expr.OpNe,
		expr.OpNot, expr.OpBool, expr.OpAnd, expr.OpOr:
		return true
	}
	return false
}

// Binary returns the node applying a binary opcode, folding constants and
// dropping identity operations.
func (t *Tree) Binary(op expr.Op, a, b NodeID) NodeID {
	ca, aConst := t.IsConst(a)
	cb, bConst := t.IsConst(b)
	if aConst && bConst {
		return t.Const(vm.Binary(op, ca, cb, vm.DefaultEpsilon))
	}
	switch op {
	case expr.OpAdd:
		switch {
		case t.isValue(a, 0):
			return b
		case t.isValue(b, 0):
			return a
		case t.node(b).op == expr.OpNeg:
			return t.Binary(expr.OpSub, a, t.node(b).args[0])
		}
	case expr.OpSub:
		switch {
		case t.isValue(b, 0):
			return a
		case t.isValue(a, 0):
			return t.Unary(expr.OpNeg, b)
		case a == b:
			return t.Const(0)
		}
	case expr.OpMul:
		switch {
		case t.isValue(a, 0) || t.isValue(b, 0):
			return t.Const(0)
		case t.isValue(a, 1):
			return b
		case t.isValue(b, 1):
			return a
		case t.isValue(a, -1):
			return t.Unary(expr.OpNeg, b)
		case t.isValue(b, -1):
			return t.Unary(expr.OpNeg, a)
		}
	case expr.OpDiv:
		switch {
		case t.isValue(a, 0):
			return t.Const(0)
		case t.isValue(b, 1):
			return a
		}
	case expr.OpPow:
		switch {
		case t.isValue(b, 0) || t.isValue(a, 1):
			return t.Const(1)
		case t.isValue(b, 1):
			return a
		}
	}
	return t.intern(node{op: op, args: [3]NodeID{a, b}, nargs: 2})
}

// Logical returns the node of "a and b" or "a or b".
func (t *Tree) Logical(op expr.Op, a, b NodeID) NodeID {
	a, b = t.unbool(a), t.unbool(b)
	ca, aConst := t.IsConst(a)
	cb, bConst := t.IsConst(b)
	if aConst && bConst {
		if op == expr.OpAnd {
			return t.Const(boolValue(ca != 0 && cb != 0))
		}
		return t.Const(boolValue(ca != 0 || cb != 0))
	}
	return t.intern(node{op: op, args: [3]NodeID{a, b}, nargs: 2})
}

func (t *Tree) unbool(a NodeID) NodeID {
	if n := t.node(a); n.op == expr.OpBool {
		return n.args[0]
	}
	return a
}

// Cond returns the node of "c ? a : b".
func (t *Tree) Cond(c, a, b NodeID) NodeID {
	if cv, ok := t.IsConst(c); ok {
		if cv != 0 {
			return a
		}
		return b
	}
	if a == b {
		return a
	}
	return t.intern(node{op: expr.OpTernary, args: [3]NodeID{c, a, b}, nargs: 3})
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Format renders the subtree at id in the expression syntax.
func (t *Tree) Format(id NodeID) string {
	var sb strings.Builder
	t.format(&sb, id)
	return sb.String()
}

const (
	prioAtom = 100
	prioNeg  = 8
)

var binaryPrio = map[expr.Op]int{
	expr.OpOr: 2, expr.OpAnd: 3,
	expr.OpLt: 5, expr.OpLe: 5, expr.OpGt: 5, expr.OpGe: 5, expr.OpEq: 5, expr.OpNe: 5,
	expr.OpAdd: 6, expr.OpSub: 6, expr.OpMul: 7, expr.OpDiv: 7, expr.OpMod: 7, expr.OpPow: 9,
}

func (t *Tree) prio(id NodeID) int {
	n := t.node(id)
	switch n.op {
	case expr.OpNumber:
		if n.value() < 0 {
			return prioNeg
		}
	case expr.OpNeg:
		return prioNeg
	case expr.OpNot:
		return 4
	case expr.OpTernary:
		return 1
	}
	if p, ok := binaryPrio[n.op]; ok {
		return p
	}
	return prioAtom
}

func (t *Tree) formatChild(sb *strings.Builder, id NodeID, paren bool) {
	if paren {
		sb.WriteByte('(')
	}
	t.format(sb, id)
	if paren {
		sb.WriteByte(')')
	}
}

func (t *Tree) format(sb *strings.Builder, id NodeID) {
	n := t.node(id)
	switch n.op {
	case expr.OpNumber:
		sb.WriteString(strconv.FormatFloat(n.value(), 'g', -1, 64))
	case expr.OpParam:
		sb.WriteString(t.params[n.param])
	case expr.OpX:
		sb.WriteString("x")
	case expr.OpNeg:
		sb.WriteByte('-')
		t.formatChild(sb, n.args[0], t.prio(n.args[0]) < prioNeg)
	case expr.OpNot:
		sb.WriteString("not ")
		t.formatChild(sb, n.args[0], t.prio(n.args[0]) < 4)
	case expr.OpTernary:
		t.formatChild(sb, n.args[0], t.prio(n.args[0]) <= 1)
		sb.WriteString(" ? ")
		t.formatChild(sb, n.args[1], t.prio(n.args[1]) <= 1)
		sb.WriteString(" : ")
		t.format(sb, n.args[2])
	default:
		if p, ok := binaryPrio[n.op]; ok {
			pa, pb := t.prio(n.args[0]), t.prio(n.args[1])
			commutes := n.op == expr.OpAdd || n.op == expr.OpMul
			t.formatChild(sb, n.args[0], pa < p || (n.op == expr.OpPow && pa <= p))
			if p >= 7 {
				sb.WriteString(n.op.String())
			} else {
				sb.WriteString(" " + opText(n.op) + " ")
			}
			t.formatChild(sb, n.args[1], pb < p || (pb == p && !commutes && n.op != expr.OpPow))
			return
		}
		// Function call.
		sb.WriteString(n.op.String())
		sb.WriteByte('(')
		for i := 0; i < int(n.nargs); i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			t.format(sb, n.args[i])
		}
		sb.WriteByte(')')
	}
}

func opText(op expr.Op) string {
	switch op {
	case expr.OpAnd:
		return "and"
	case expr.OpOr:
		return "or"
	}
	return op.String()
}
