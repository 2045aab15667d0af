package deriv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/expr"
	. "src.xyfit.dev/pkg/tt"
)

func formula(t *testing.T, code string) *expr.Program {
	t.Helper()
	p, err := expr.Compile(expr.Source{Name: "[test]", Code: code}, expr.Config{Mode: expr.ModeFormula})
	require.NoError(t, err)
	return p
}

func valueAt(dp *Program, x float64, params []float64) float64 {
	out := make([]float64, dp.NumOutputs())
	dp.Eval(x, params, out, make([]float64, dp.NumRegisters()))
	return out[0]
}

// checkNumeric compares the derivatives computed by the program with
// central differences of its value.
func checkNumeric(t *testing.T, dp *Program, x float64, params []float64) {
	t.Helper()
	got := append([]float64(nil), dp.NewEvaluator().EvalAt(x, params)...)
	require.Len(t, got, len(params)+2)

	central := func(f func(h float64) float64, scale float64) float64 {
		h := 1e-6 * math.Max(1, math.Abs(scale))
		return (f(h) - f(-h)) / (2 * h)
	}
	for i := range params {
		num := central(func(h float64) float64 {
			shifted := append([]float64(nil), params...)
			shifted[i] += h
			return valueAt(dp, x, shifted)
		}, params[i])
		assert.InDelta(t, num, got[1+i], 1e-6*math.Max(1, math.Abs(num)),
			"d/d%s at x=%v", dp.Params()[i], x)
	}
	num := central(func(h float64) float64 { return valueAt(dp, x+h, params) }, x)
	assert.InDelta(t, num, got[len(params)+1], 1e-6*math.Max(1, math.Abs(num)), "d/dx at x=%v", x)
}

func TestGaussianDerivatives(t *testing.T) {
	params := []string{"height", "center", "hwhm"}
	dp, err := Compile(formula(t, "height*exp(-ln(2)*((x-center)/hwhm)^2)"), params, Options{})
	require.NoError(t, err)

	for _, values := range [][]float64{{1, 0, 1}, {3.5, 2, 0.7}, {-2, -1, 4}} {
		for _, x := range []float64{-3, -0.5, 0, 0.3, 1.9, 2, 5} {
			h, c, w := values[0], values[1], values[2]
			want := h * math.Exp(-math.Ln2*((x-c)/w)*((x-c)/w))
			assert.InDelta(t, want, valueAt(dp, x, values), 1e-12)
			checkNumeric(t, dp, x, values)
		}
	}
}

func TestDerivativeRules(t *testing.T) {
	params := []string{"a", "b"}
	values := []float64{1.3, 0.7}
	for _, code := range []string{
		"a*sin(x) + cos(a*x) - b",
		"tan(a*x) / (b + x)",
		"sqrt(a + x^2)",
		"ln(a*x) + log10(b*x)",
		"exp(a)/x",
		"a^x + x^a + b^2",
		"(a*x)^(b*x)",
		"sinh(a*x) + cosh(b) + tanh(x*a)",
		"atan(a*x) + asin(a*x/10) + acos(b*x/10)",
		"erf(a*x) + erfc(b - x)",
		"gamma(a + x) + lgamma(b*x)",
		"abs(a - x)",
		"min2(a, x) + max2(a*x, b)",
		"x < a ? a*x : b*x^2",
		"a % x + round(a*x) + b",
		"(a > 1 and x > 1) + (b < 1 or x < 0) * a",
		"-(-a) * -(-x)",
	} {
		dp, err := Compile(formula(t, code), params, Options{})
		if !assert.NoError(t, err, code) {
			continue
		}
		for _, x := range []float64{0.4, 2.1} {
			checkNumeric(t, dp, x, values)
		}
	}
}

func programString(code string, params ...string) (string, error) {
	p, err := expr.Compile(expr.Source{Name: "[test]", Code: code}, expr.Config{Mode: expr.ModeFormula})
	if err != nil {
		return "", err
	}
	dp, err := Compile(p, params, Options{})
	if err != nil {
		return "", err
	}
	return dp.String(), nil
}

func TestProgramString(t *testing.T) {
	Test(t, Fn("programString", programString), Table{
		Args("a*x + b", "a", "b").Rets(
			"value = a*x + b\nd/da = x\nd/db = 1\nd/dx = a\n", nil),
		Args("a*x^2", "a").Rets(
			"value = a*x^2\nd/da = x^2\nd/dx = a*2*x\n", nil),
		Args("a - (x - 1)", "a").Rets(
			"value = a - (x - 1)\nd/da = 1\nd/dx = -1\n", nil),
		Args("x < c ? a : 2", "a", "c").Rets(
			"value = x < c ? a : 2\nd/da = x < c ? 1 : 0\nd/dc = 0\nd/dx = 0\n", nil),
		// Constants are folded.
		Args("a*(2 + 3) + 0*x", "a").Rets("value = a*5\nd/da = 5\nd/dx = 0\n", nil),
	})
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile(formula(t, "a*x"), []string{"b"}, Options{})
	assert.ErrorContains(t, err, "undeclared parameter a")
	assert.True(t, diag.IsExecuteError(err))

	_, err = Compile(formula(t, "a*x"), []string{"a"}, Options{NoX: true})
	assert.ErrorContains(t, err, "x can not be used")

	_, err = Compile(formula(t, "digamma(a*x)"), []string{"a"}, Options{})
	assert.ErrorContains(t, err, "derivative of digamma is not supported")

	// A constant argument needs no derivative.
	dp, err := Compile(formula(t, "a*digamma(2)"), []string{"a"}, Options{})
	require.NoError(t, err)
	assert.InDelta(t, 3*(1-0.5772156649015329), valueAt(dp, 0, []float64{3}), 1e-9)

	p, err := expr.Compile(expr.Source{Name: "[test]", Code: "1"}, expr.Config{})
	require.NoError(t, err)
	_, err = Compile(p, nil, Options{})
	assert.ErrorContains(t, err, "can not differentiate expression")
}

func TestNoXOutputs(t *testing.T) {
	dp, err := Compile(formula(t, "a/b"), []string{"a", "b"}, Options{NoX: true})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, -4, 0}, dp.NewEvaluator().EvalAt(7, []float64{1, 0.5}))
}

func TestHashConsing(t *testing.T) {
	tr := NewTree([]string{"a"})
	a := tr.Param(0)
	assert.Equal(t, tr.Const(1.5), tr.Const(1.5))
	assert.Equal(t, tr.Binary(expr.OpMul, a, tr.X()), tr.Binary(expr.OpMul, a, tr.X()))
	assert.Equal(t, a, tr.Unary(expr.OpNeg, tr.Unary(expr.OpNeg, a)))
	n := tr.Len()
	tr.Binary(expr.OpAdd, tr.Binary(expr.OpMul, a, tr.X()), tr.Const(1.5))
	assert.Equal(t, n+1, tr.Len(), "only the sum should be a new node")
}

func TestSharedSubexpressions(t *testing.T) {
	dp, err := Compile(formula(t, "height*exp(-ln(2)*((x-center)/hwhm)^2)"),
		[]string{"height", "center", "hwhm"}, Options{})
	require.NoError(t, err)
	exps := 0
	for _, in := range dp.code {
		if in.op == expr.OpExp {
			exps++
		}
	}
	assert.Equal(t, 1, exps, "exp should be computed once for the value and all derivatives")
}

func TestBuildTree(t *testing.T) {
	tr, root, err := BuildTree(formula(t, "a > 0 and (x < 1 or x > 2) ? -a : a^2"), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, "a > 0 and (x < 1 or x > 2) ? -a : a^2", tr.Format(root))
}
