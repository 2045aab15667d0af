package vm

import (
	"math"

	"src.xyfit.dev/pkg/expr"
)

// Unary applies the function of a unary opcode to x. It panics if op is not
// a unary opcode.
func Unary(op expr.Op, x float64) float64 {
	switch op {
	case expr.OpNeg:
		return -x
	case expr.OpNot:
		return boolValue(x == 0)
	case expr.OpBool:
		return boolValue(x != 0)
	case expr.OpSqrt:
		return math.Sqrt(x)
	case expr.OpExp:
		return math.Exp(x)
	case expr.OpErf:
		return math.Erf(x)
	case expr.OpErfc:
		return math.Erfc(x)
	case expr.OpLog10:
		return math.Log10(x)
	case expr.OpLn:
		return math.Log(x)
	case expr.OpSin:
		return math.Sin(x)
	case expr.OpCos:
		return math.Cos(x)
	case expr.OpTan:
		return math.Tan(x)
	case expr.OpSinh:
		return math.Sinh(x)
	case expr.OpCosh:
		return math.Cosh(x)
	case expr.OpTanh:
		return math.Tanh(x)
	case expr.OpAtan:
		return math.Atan(x)
	case expr.OpAsin:
		return math.Asin(x)
	case expr.OpAcos:
		return math.Acos(x)
	case expr.OpGamma:
		return math.Gamma(x)
	case expr.OpLgamma:
		lg, _ := math.Lgamma(x)
		return lg
	case expr.OpDigamma:
		return Digamma(x)
	case expr.OpAbs:
		return math.Abs(x)
	case expr.OpRound:
		return Round(x)
	}
	panic("vm.Unary called with " + op.String())
}

// Binary applies the operator of a binary opcode. Comparisons treat values
// closer than eps as equal. It panics if op is not a deterministic binary
// opcode.
func Binary(op expr.Op, a, b, eps float64) float64 {
	switch op {
	case expr.OpAdd:
		return a + b
	case expr.OpSub:
		return a - b
	case expr.OpMul:
		return a * b
	case expr.OpDiv:
		return a / b
	case expr.OpMod:
		return Mod(a, b)
	case expr.OpPow:
		return math.Pow(a, b)
	case expr.OpMin2:
		return math.Min(a, b)
	case expr.OpMax2:
		return math.Max(a, b)
	case expr.OpLt:
		return boolValue(a < b-eps)
	case expr.OpLe:
		return boolValue(a <= b+eps)
	case expr.OpGt:
		return boolValue(a > b+eps)
	case expr.OpGe:
		return boolValue(a >= b-eps)
	case expr.OpEq:
		return boolValue(math.Abs(a-b) < eps)
	case expr.OpNe:
		return boolValue(math.Abs(a-b) >= eps)
	}
	panic("vm.Binary called with " + op.String())
}

// Mod is the floored modulo: the result has the sign of b.
func Mod(a, b float64) float64 {
	return a - b*math.Floor(a/b)
}

// Round rounds half up.
func Round(x float64) float64 {
	return math.Floor(x + 0.5)
}

// Digamma is the logarithmic derivative of the gamma function.
func Digamma(x float64) float64 {
	if x <= 0 && x == math.Floor(x) {
		return math.NaN()
	}
	if x < 0 {
		// Reflection: ψ(1-x) - ψ(x) = π cot(πx).
		return Digamma(1-x) - math.Pi/math.Tan(math.Pi*x)
	}
	result := 0.0
	for x < 6 {
		result -= 1 / x
		x++
	}
	f := 1 / (x * x)
	return result + math.Log(x) - 0.5/x -
		f*(1.0/12-f*(1.0/120-f*(1.0/252-f*(1.0/240-f/132))))
}

// Truthy reports whether a value counts as true.
func Truthy(v float64) bool { return v != 0 }

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
