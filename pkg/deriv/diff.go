package deriv

import (
	"math"

	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/expr"
)

// Diff returns the derivative of the subtree at id with respect to the
// variable v: the v-th parameter if v < len(params), x if v == len(params).
func (t *Tree) Diff(id NodeID, v int) (d NodeID, err error) {
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
	df := differ{t: t, v: v, memo: make(map[NodeID]NodeID)}
	return df.diff(id), nil
}

type differ struct {
	t    *Tree
	v    int
	memo map[NodeID]NodeID
}

func (df *differ) diff(id NodeID) NodeID {
	if d, ok := df.memo[id]; ok {
		return d
	}
	d := df.rule(id)
	df.memo[id] = d
	return d
}

func (df *differ) rule(id NodeID) NodeID {
	t := df.t
	n := *t.node(id)
	zero, one := t.Const(0), t.Const(1)
	add := func(a, b NodeID) NodeID { return t.Binary(expr.OpAdd, a, b) }
	sub := func(a, b NodeID) NodeID { return t.Binary(expr.OpSub, a, b) }
	mul := func(a, b NodeID) NodeID { return t.Binary(expr.OpMul, a, b) }
	div := func(a, b NodeID) NodeID { return t.Binary(expr.OpDiv, a, b) }
	neg := func(a NodeID) NodeID { return t.Unary(expr.OpNeg, a) }

	switch n.op {
	case expr.OpNumber:
		return zero
	case expr.OpParam:
		if int(n.param) == df.v {
			return one
		}
		return zero
	case expr.OpX:
		if df.v == len(t.params) {
			return one
		}
		return zero
	case expr.OpTernary:
		return t.Cond(n.args[0], df.diff(n.args[1]), df.diff(n.args[2]))
	}

	if isBoolean(n.op) || n.op == expr.OpRound {
		return zero
	}

	a := n.args[0]
	da := df.diff(a)
	if n.nargs == 1 {
		if t.isValue(da, 0) {
			return zero
		}
		var g NodeID // derivative of the function at a
		switch n.op {
		case expr.OpNeg:
			return neg(da)
		case expr.OpSqrt:
			g = div(t.Const(0.5), id)
		case expr.OpExp:
			g = id
		case expr.OpLn:
			g = div(one, a)
		case expr.OpLog10:
			g = div(t.Const(1/math.Ln10), a)
		case expr.OpSin:
			g = t.Unary(expr.OpCos, a)
		case expr.OpCos:
			g = neg(t.Unary(expr.OpSin, a))
		case expr.OpTan:
			g = add(one, mul(id, id))
		case expr.OpSinh:
			g = t.Unary(expr.OpCosh, a)
		case expr.OpCosh:
			g = t.Unary(expr.OpSinh, a)
		case expr.OpTanh:
			g = sub(one, mul(id, id))
		case expr.OpAtan:
			g = div(one, add(one, mul(a, a)))
		case expr.OpAsin:
			g = div(one, t.Unary(expr.OpSqrt, sub(one, mul(a, a))))
		case expr.OpAcos:
			g = neg(div(one, t.Unary(expr.OpSqrt, sub(one, mul(a, a)))))
		case expr.OpErf:
			g = mul(t.Const(2/math.SqrtPi), t.Unary(expr.OpExp, neg(mul(a, a))))
		case expr.OpErfc:
			g = mul(t.Const(-2/math.SqrtPi), t.Unary(expr.OpExp, neg(mul(a, a))))
		case expr.OpGamma:
			g = mul(id, t.Unary(expr.OpDigamma, a))
		case expr.OpLgamma:
			g = t.Unary(expr.OpDigamma, a)
		case expr.OpAbs:
			return t.Cond(t.Binary(expr.OpLt, a, zero), neg(da), da)
		case expr.OpDigamma:
			panic(diag.Executef("derivative of digamma is not supported"))
		default:
			panic(diag.Executef("can not differentiate %s", n.op))
		}
		return mul(g, da)
	}

	b := n.args[1]
	db := df.diff(b)
	switch n.op {
	case expr.OpAdd:
		return add(da, db)
	case expr.OpSub:
		return sub(da, db)
	case expr.OpMul:
		return add(mul(da, b), mul(a, db))
	case expr.OpDiv:
		return sub(div(da, b), div(mul(a, db), mul(b, b)))
	case expr.OpPow:
		switch {
		case t.isValue(db, 0):
			return mul(mul(b, t.Binary(expr.OpPow, a, sub(b, one))), da)
		case t.isValue(da, 0):
			return mul(mul(id, t.Unary(expr.OpLn, a)), db)
		}
		return mul(id, add(mul(db, t.Unary(expr.OpLn, a)), div(mul(b, da), a)))
	case expr.OpMod:
		// a % b = a - b*floor(a/b); floor(a/b) has zero derivative.
		if t.isValue(db, 0) {
			return da
		}
		return sub(da, mul(div(sub(a, id), b), db))
	case expr.OpMin2:
		return t.Cond(t.Binary(expr.OpLe, a, b), da, db)
	case expr.OpMax2:
		return t.Cond(t.Binary(expr.OpGe, a, b), da, db)
	}
	panic(diag.Executef("can not differentiate %s", n.op))
}
