package deriv

import (
	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/expr"
)

// BuildTree converts a formula program into a tree whose parameters are
// params, and returns the tree and its root. Parameters used by the formula
// must be in params.
func BuildTree(p *expr.Program, params []string) (*Tree, NodeID, error) {
	t := NewTree(params)
	root, err := t.Build(p)
	if err != nil {
		return nil, 0, err
	}
	return t, root, nil
}

// Build adds the nodes of a formula program to the tree and returns the id
// of its root.
func (t *Tree) Build(p *expr.Program) (NodeID, error) {
	if p.Mode != expr.ModeFormula {
		return 0, diag.Executef("can not differentiate %s", p.Mode)
	}
	paramIndex := make(map[string]int, len(t.params))
	for i, name := range t.params {
		paramIndex[name] = i
	}

	var stack []NodeID
	pop := func() NodeID {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return id
	}
	// Jumps whose targets have not been reached yet. Targets of later jumps
	// are never beyond targets of earlier ones, so they are resolved in LIFO
	// order.
	type pendingJump struct {
		op     expr.Op
		target int
	}
	var pending []pendingJump
	resolve := func(pc int) {
		for len(pending) > 0 && pending[len(pending)-1].target == pc {
			j := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			switch j.op {
			case expr.OpAnd, expr.OpOr:
				b := pop()
				a := pop()
				stack = append(stack, t.Logical(j.op, a, b))
			case expr.OpElse:
				f := pop()
				a := pop()
				c := pop()
				stack = append(stack, t.Cond(c, a, f))
			}
		}
	}

	var err error
	p.Walk(func(pc int, op expr.Op, args []int32) {
		if err != nil {
			return
		}
		resolve(pc)
		switch {
		case op == expr.OpNumber:
			stack = append(stack, t.Const(p.Consts[args[0]]))
		case op == expr.OpParam:
			name := p.Names[args[0]]
			i, ok := paramIndex[name]
			if !ok {
				err = diag.Executef("undeclared parameter %s", name)
				return
			}
			stack = append(stack, t.Param(i))
		case op == expr.OpX:
			stack = append(stack, t.X())
		case expr.OpNeg <= op && op <= expr.OpRound:
			stack = append(stack, t.Unary(op, pop()))
		case expr.OpAdd <= op && op <= expr.OpNe && op != expr.OpRandNormal && op != expr.OpRandUniform:
			b := pop()
			a := pop()
			stack = append(stack, t.Binary(op, a, b))
		case op == expr.OpAnd || op == expr.OpOr || op == expr.OpElse:
			pending = append(pending, pendingJump{op, pc + int(args[0])})
		case op == expr.OpTernary:
			// The condition stays on the stack until the matching else
			// branch ends.
		default:
			err = diag.Executef("%s can not be used in a function formula", op)
		}
	})
	if err != nil {
		return 0, err
	}
	resolve(len(p.Code))
	if len(stack) != 1 || len(pending) != 0 {
		return 0, diag.Executef("malformed formula program")
	}
	return stack[0], nil
}
