package udf

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"src.xyfit.dev/pkg/diag"
	. "src.xyfit.dev/pkg/tt"
)

func TestBuiltins(t *testing.T) {
	r := NewRegistry()
	kinds := map[string]Kind{
		"Constant": Custom, "Gaussian": Custom, "LogNormal": Custom,
		"GaussianA": Compound, "LorentzianA": Compound,
		"SplitGaussian": Split, "SplitLorentzian": Split,
	}
	for name, kind := range kinds {
		d, ok := r.Lookup(name)
		if assert.True(t, ok, name) {
			assert.Equal(t, kind, d.Kind, name)
			assert.True(t, d.Builtin, name)
		}
	}
	defs := r.Definitions()
	assert.Equal(t, "Constant", defs[0].Name)
	assert.Len(t, defs, len(builtins))

	d, _ := r.Lookup("Pearson7")
	assert.Equal(t, "Pearson7(height, center, hwhm, shape=2)", d.Signature())
	d, _ = r.Lookup("SplitGaussian")
	assert.Equal(t, []string{"Gaussian", "Gaussian"}, d.Components())
}

func TestDefineAndInstantiate(t *testing.T) {
	r := NewRegistry()
	d, err := r.Define("define F(a=1) = a*x")
	require.NoError(t, err)
	assert.Equal(t, Custom, d.Kind)
	assert.Equal(t, "F(a=1) = a*x", d.String())

	f, err := r.Instantiate("F", []float64{2}, nil)
	require.NoError(t, err)
	for _, x := range []float64{-1, 0, 0.5, 3} {
		assert.Equal(t, []float64{2 * x, x, 2}, f.NewEvaluator().EvalAt(x))
	}

	f, err = r.Instantiate("F", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "F(a=1)", f.String())
	assert.Equal(t, 3.0, f.Value(3))
}

func TestCompound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Define("F(a=1) = a*x")
	require.NoError(t, err)
	d, err := r.Define("G(c) = F(c) + F(2*c)")
	require.NoError(t, err)
	assert.Equal(t, Compound, d.Kind)

	f, err := r.Instantiate("G", []float64{1.5}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 6, 4.5}, f.NewEvaluator().EvalAt(2))
}

func TestUndefine(t *testing.T) {
	r := NewRegistry()
	_, err := r.Define("F(a=1) = a*x")
	require.NoError(t, err)
	_, err = r.Define("G(c, w) = x < w ? F(c) : Constant(c)")
	require.NoError(t, err)

	err = r.Undefine("F")
	assert.ErrorContains(t, err, "can not undefine F: G depends on it")
	assert.True(t, diag.IsExecuteError(err))
	_, ok := r.Lookup("F")
	assert.True(t, ok)

	assert.ErrorContains(t, r.Undefine("Gaussian"), "can not undefine built-in function Gaussian")
	assert.ErrorContains(t, r.Undefine("Nope"), "undefined function type Nope")

	require.NoError(t, r.Undefine("G"))
	require.NoError(t, r.Undefine("F"))
	_, ok = r.Lookup("F")
	assert.False(t, ok)
	assert.Len(t, r.Definitions(), len(builtins))

	// The name can be reused.
	_, err = r.Define("F(b) = b")
	assert.NoError(t, err)
}

func TestUndefine_Several(t *testing.T) {
	r := NewRegistry()
	for _, formula := range []string{"F(a) = a*x", "G(b) = F(b) + F(2*b)", "K(c) = c"} {
		_, err := r.Define(formula)
		require.NoError(t, err)
	}

	// Nothing is removed when one of the names fails.
	assert.ErrorContains(t, r.Undefine("K", "Gaussian"), "can not undefine built-in function Gaussian")
	assert.ErrorContains(t, r.Undefine("K", "F"), "can not undefine F: G depends on it")
	_, ok := r.Lookup("K")
	assert.True(t, ok)

	// A type can go together with the types that use it, in any order.
	require.NoError(t, r.Undefine("F", "G"))
	for _, name := range []string{"F", "G"} {
		_, ok := r.Lookup(name)
		assert.False(t, ok, name)
	}
	assert.Equal(t, "K", r.Definitions()[len(r.Definitions())-1].Name)
}

func define(r *Registry) func(string) error {
	return func(formula string) error {
		_, err := r.Define(formula)
		return err
	}
}

func TestDefineErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Define("F(a) = a*x")
	require.NoError(t, err)

	Test(t, Fn("define", define(r)), Table{
		Args("H(a) = a*b").Rets(ErrorContaining("undeclared parameter b")),
		Args("H(a, b) = a*x").Rets(ErrorContaining("unused parameter b")),
		Args("H(a, a) = a*x").Rets(ErrorContaining("duplicate parameter a")),
		Args("H(pi) = pi").Rets(ErrorContaining("pi can not be used as a parameter name")),
		Args("Gaussian(a) = a").Rets(ErrorContaining("can not redefine built-in function Gaussian")),
		Args("F(a) = a").Rets(ErrorContaining("function F is already defined")),
		Args("h(a) = a").Rets(ErrorContaining("must start with an uppercase letter")),
		Args("Y(a) = a").Rets(ErrorContaining("Y can not be used as a function type name")),
		Args("H(a) = Gaussian(a, 1)").Rets(ErrorContaining("Gaussian takes 3 parameters, got 2")),
		Args("H(a) = Gaussian(a, x, 1)").Rets(ErrorContaining("x can not be used in arguments of Gaussian")),
		Args("H(a) = Foo(a)").Rets(ErrorContaining("undefined function type Foo")),
		Args("H(a) = F(a) * 2").Rets(ErrorContaining("expecting '+' or end of formula")),
		Args("H(a, b) = x < a*x ? F(b) : F(a)").Rets(
			ErrorContaining("x can not be used in the condition of a split function")),
		Args("H(a) = digamma(a*x)").Rets(ErrorContaining("derivative of digamma is not supported")),
		Args("H(a) = a +").Rets(ErrorContaining("unexpected end of input")),
		Args("H(a) a").Rets(ErrorContaining("expecting '='")),
		Args("H(a) =").Rets(ErrorContaining("expecting formula")),
		Args("H(a=$v) = a").Rets(ErrorContaining("undefined variable $v")),
	})

	_, err = r.Define("H(a) = a +")
	assert.True(t, diag.IsSyntaxError(err), "syntax problems in the formula are syntax errors")
	_, err = r.Define("H(a, b) = a*x")
	assert.True(t, diag.IsExecuteError(err))
}

func TestInstantiateErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Instantiate("Nope", nil, nil)
	assert.ErrorContains(t, err, "undefined function type Nope")
	_, err = r.Instantiate("Gaussian", []float64{1, 2}, nil)
	assert.ErrorContains(t, err, "missing value for parameter hwhm of Gaussian")
	_, err = r.Instantiate("Gaussian", []float64{1, 2, 3, 4}, nil)
	assert.ErrorContains(t, err, "Gaussian takes at most 3 parameters, got 4")
	_, err = r.Instantiate("Gaussian", []float64{1, 2}, map[string]float64{"width": 1})
	assert.ErrorContains(t, err, "Gaussian has no parameter width")
	_, err = r.Instantiate("Gaussian", []float64{1, 2, 3}, map[string]float64{"center": 1})
	assert.ErrorContains(t, err, "parameter center of Gaussian given twice")

	f, err := r.Instantiate("Pearson7", []float64{1}, map[string]float64{"hwhm": 3, "center": 2})
	require.NoError(t, err)
	if diff := cmp.Diff([]float64{1, 2, 3, 2}, f.Values); diff != "" {
		t.Errorf("Values (-want +got):\n%s", diff)
	}
}

// checkDerivatives compares the derivatives of f with central differences
// of its value.
func checkDerivatives(t *testing.T, f *Func, x float64) {
	t.Helper()
	got := append([]float64(nil), f.NewEvaluator().EvalAt(x)...)
	value := func(values []float64, x float64) float64 {
		return (&Func{Def: f.Def, Values: values}).Value(x)
	}
	assert.InDelta(t, value(f.Values, x), got[0], 1e-12)

	for i, p := range f.Def.Params {
		h := 1e-6 * math.Max(1, math.Abs(f.Values[i]))
		plus := append([]float64(nil), f.Values...)
		minus := append([]float64(nil), f.Values...)
		plus[i] += h
		minus[i] -= h
		num := (value(plus, x) - value(minus, x)) / (2 * h)
		assert.InDelta(t, num, got[1+i], 1e-6*math.Max(1, math.Abs(num)),
			"%s: d/d%s at x=%v", f, p.Name, x)
	}
	h := 1e-6 * math.Max(1, math.Abs(x))
	num := (value(f.Values, x+h) - value(f.Values, x-h)) / (2 * h)
	assert.InDelta(t, num, got[len(got)-1], 1e-6*math.Max(1, math.Abs(num)), "%s: d/dx at x=%v", f, x)
}

func TestDerivatives(t *testing.T) {
	r := NewRegistry()
	for _, tc := range []struct {
		name   string
		values []float64
	}{
		{"Gaussian", []float64{2, 0.5, 0.8}},
		{"Lorentzian", []float64{2, 0.5, 0.8}},
		{"Pearson7", []float64{2, 0.5, 0.8, 1.7}},
		{"PseudoVoigt", []float64{2, 0.5, 0.8, 0.3}},
		{"ExpDecay", []float64{3, 1.5}},
		{"Sigmoid", []float64{-1, 2, 0.3, 0.6}},
		{"LogNormal", []float64{2, 0.5, 1.2, 0.2}},
		{"Quadratic", []float64{1, -2, 0.5}},
		{"GaussianA", []float64{2, 0.5, 0.8}},
		{"LorentzianA", []float64{2, 0.5, 0.8}},
		{"SplitGaussian", []float64{2, 0.5, 0.8, 1.3}},
		{"SplitLorentzian", []float64{2, 0.5, 0.8, 1.3}},
	} {
		f, err := r.Instantiate(tc.name, tc.values, nil)
		require.NoError(t, err, tc.name)
		for _, x := range []float64{-0.7, 0.1, 0.9, 2.2} {
			checkDerivatives(t, f, x)
		}
	}
}

func TestSplitSelectsSide(t *testing.T) {
	r := NewRegistry()
	f, err := r.Instantiate("SplitGaussian", []float64{1, 0, 1, 2}, nil)
	require.NoError(t, err)
	left, _ := r.Instantiate("Gaussian", []float64{1, 0, 1}, nil)
	right, _ := r.Instantiate("Gaussian", []float64{1, 0, 2}, nil)
	assert.Equal(t, left.Value(-1), f.Value(-1))
	assert.Equal(t, right.Value(1), f.Value(1))
	assert.Equal(t, right.Value(0), f.Value(0))
	assert.InDelta(t, 0.5, f.Value(-1), 1e-12)
	assert.InDelta(t, 0.5, f.Value(2), 1e-12)
}

func TestGaussianAArea(t *testing.T) {
	r := NewRegistry()
	f, err := r.Instantiate("GaussianA", []float64{3, 1, 0.5}, nil)
	require.NoError(t, err)
	area := 0.0
	const step = 1e-3
	for x := -10.0; x < 10; x += step {
		area += f.Value(x) * step
	}
	assert.InDelta(t, 3, area, 1e-6)
}

func TestEvalMany(t *testing.T) {
	r := NewRegistry()
	f, err := r.Instantiate("GaussianA", []float64{3, 1, 0.5}, nil)
	require.NoError(t, err)
	var xs []float64
	for i := 0; i < 5000; i++ {
		xs = append(xs, float64(i)/1000-2)
	}

	got, err := EvalMany(context.Background(), f, xs, 4)
	require.NoError(t, err)
	require.Len(t, got, len(xs))
	ev := f.NewEvaluator()
	for i, x := range xs {
		if diff := cmp.Diff(ev.EvalAt(x), got[i]); diff != "" {
			t.Fatalf("point %d (-want +got):\n%s", i, diff)
		}
	}

	got, err = EvalMany(context.Background(), f, nil, 0)
	assert.NoError(t, err)
	assert.Empty(t, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EvalMany(ctx, f, xs, 2)
	assert.ErrorIs(t, err, context.Canceled)
}
