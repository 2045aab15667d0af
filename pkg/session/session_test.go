package session

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/expr"
	"src.xyfit.dev/pkg/store"
	. "src.xyfit.dev/pkg/tt"
	"src.xyfit.dev/pkg/vm"
)

func newSession(t *testing.T) (*Session, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	s, err := New(Config{Out: &out})
	require.NoError(t, err)
	return s, &out
}

func script(code string) expr.Source {
	return expr.Source{Name: "[test]", Code: code}
}

func TestExec_FunctionsAndPrint(t *testing.T) {
	s, out := newSession(t)
	err := s.Exec(script(`
define F(a=1) = a*x
%f = F(2)
print %f(3)
%g = F(); print 'g:', %g(3), %f(1) + %g(1)
`))
	require.NoError(t, err)
	assert.Equal(t, "6\ng: 3 3\n", out.String())

	f, ok := s.Function("f")
	require.True(t, ok)
	assert.Equal(t, "F(a=2)", f.String())
}

func TestExec_Variables(t *testing.T) {
	s, out := newSession(t)
	require.NoError(t, s.Exec(script("$a = 2; $b = $a^3 + 1; print $b")))
	assert.Equal(t, "9\n", out.String())
	v, ok := s.Var("b")
	assert.True(t, ok)
	assert.Equal(t, 9.0, v)
}

func TestExec_NamedArguments(t *testing.T) {
	s, _ := newSession(t)
	require.NoError(t, s.Exec(script("$h = 4\n%p = Pearson7($h, hwhm=3, center=2)")))
	f, ok := s.Function("p")
	require.True(t, ok)
	assert.Equal(t, []float64{4, 2, 3, 2}, f.Values)
}

func TestExec_Datasets(t *testing.T) {
	s, out := newSession(t)
	require.NoError(t, s.Exec(script(`
@+: M=5 & X=n & Y=2*n
print @1: sum(y), count(x > 1)
@1: delete(x > 2)
@1: $s = sum(y)
print $s
`)))
	assert.Equal(t, "20 3\n6\n", out.String())
	assert.Equal(t, 2, s.NumDatasets())
	assert.Empty(t, s.Dataset(0))
	assert.Equal(t, []vm.Point{
		{X: 0, Y: 0, Sigma: 1, Active: true},
		{X: 1, Y: 2, Sigma: 1, Active: true},
		{X: 2, Y: 4, Sigma: 1, Active: true},
	}, s.Dataset(1))

	require.NoError(t, s.Exec(script("@*: Y = y + 1")))
	assert.Equal(t, 5.0, s.Dataset(1)[2].Y)
}

func TestExec_TransformUsesFunctions(t *testing.T) {
	s, _ := newSession(t)
	require.NoError(t, s.SetDataset(0, []vm.Point{
		{X: 1, Y: 0, Sigma: 1, Active: true},
		{X: 2, Y: 0, Sigma: 1, Active: true},
	}))
	require.NoError(t, s.Exec(script("%l = Linear(1, 10)\nY = %l(x)")))
	assert.Equal(t, 11.0, s.Dataset(0)[0].Y)
	assert.Equal(t, 21.0, s.Dataset(0)[1].Y)

	assert.ErrorContains(t, s.SetDataset(5, nil), "no dataset @5")
}

func exec(s *Session) func(string) error {
	return func(code string) error { return s.Exec(script(code)) }
}

func TestExec_Errors(t *testing.T) {
	s, _ := newSession(t)
	require.NoError(t, s.Exec(script("define F(a) = a*x\ndefine G(b) = F(b) + F(2*b)")))

	Test(t, Fn("exec", exec(s)), Table{
		Args("!ls").Rets(ErrorContaining("shell commands are not supported")),
		Args("@0: define H(a) = a").Rets(ErrorContaining("define can not be used with a dataset prefix")),
		Args("undefine F").Rets(ErrorContaining("can not undefine F: G depends on it")),
		Args("undefine Gaussian").Rets(ErrorContaining("can not undefine built-in function Gaussian")),
		Args("print $nope").Rets(ErrorContaining("undefined variable $nope")),
		Args("print @3: 1").Rets(ErrorContaining("no dataset @3")),
		Args("%f = Gaussian(1, 2)").Rets(ErrorContaining("missing value for parameter hwhm of Gaussian")),
		Args("%f = Gaussian(height=1, 2, 3)").Rets(ErrorContaining("positional argument after named argument")),
		Args("%f = Nope(1)").Rets(ErrorContaining("undefined function type Nope")),
		Args("info Nope").Rets(ErrorContaining("undefined function type Nope")),
		Args("info $nope").Rets(ErrorContaining("undefined variable $nope")),
		Args("$x = sum(y)").Rets(ErrorContaining("aggregate sum can not be used without a dataset")),
		Args("print 1 2").Rets(ErrorContaining(`unexpected number "2" after print`)),
		Args("foo = 1").Rets(ErrorContaining("expecting assignment, order or delete")),
	})
}

func TestExec_FailedCommandChangesNothing(t *testing.T) {
	s, err := New(Config{Options: vm.Options{Strict: true}})
	require.NoError(t, err)
	require.NoError(t, s.Exec(script("@0: M=10 & X=n\n@+: M=3")))

	// The transform fails on @1, after @0 has been transformed.
	assert.ErrorContains(t, s.Exec(script("@*: Y = 7 & X[5] = 1")), "out of range")
	assert.Equal(t, vm.Point{X: 5, Sigma: 1, Active: true}, s.Dataset(0)[5])

	assert.ErrorContains(t, s.Exec(script("@+, @7: M = 1")), "no dataset @7")
	assert.Error(t, s.Exec(script("@+: M = 1 & X[3] = 1")))
	assert.Equal(t, 2, s.NumDatasets())

	require.NoError(t, s.Exec(script("define F(a) = a*x\ndefine G(b) = F(b)\ndefine K(c) = c")))
	assert.ErrorContains(t, s.Exec(script("undefine K, F")), "can not undefine F: G depends on it")
	_, ok := s.Registry().Lookup("K")
	assert.True(t, ok)
	require.NoError(t, s.Exec(script("undefine F, G")))
	_, ok = s.Registry().Lookup("F")
	assert.False(t, ok)
}

func TestExec_StopsAtFirstError(t *testing.T) {
	s, out := newSession(t)
	err := s.Exec(script("print 1\nprint $nope\nprint 3"))
	assert.Error(t, err)
	assert.Equal(t, "1\n", out.String())
}

func TestExec_ErrorContext(t *testing.T) {
	s, _ := newSession(t)
	code := "$a = 1\n!ls"
	err := s.Exec(script(code))
	var ee *diag.ExecuteError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "[test]", ee.Context.Name)
	assert.Equal(t, "!ls", code[ee.Range().From:ee.Range().To])

	// Errors inside a formula point into the script.
	code = "$a = 1\ndefine H(a, b) = a*x"
	err = s.Exec(script(code))
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Message, "unused parameter b")
	assert.Equal(t, "b", code[ee.Range().From:ee.Range().To])
}

func TestCheck(t *testing.T) {
	s, _ := newSession(t)
	code := "define H(a) = a +\n$v = $undefined\n!ls\nprint (1"
	err := s.Check(script(code))
	errs := diag.UnpackErrors[diag.SyntaxTag](err)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Message, "unexpected end of input")
	assert.Equal(t, len("define H(a) = a +"), errs[0].Range().From)
	assert.Contains(t, errs[1].Message, "unexpected end of input")

	assert.NoError(t, s.Check(script("define H(a) = a*x\n%h = H(1)\nprint %h(2)")))
	// Nothing was run.
	_, ok := s.Registry().Lookup("H")
	assert.False(t, ok)
}

func TestInfo(t *testing.T) {
	var out bytes.Buffer
	s, err := New(Config{Out: &out, Width: 30})
	require.NoError(t, err)

	require.NoError(t, s.Exec(script("info Constant")))
	assert.Equal(t, "Constant(a) = a\n  value = a\n  d/da = 1\n  d/dx = 0\n", out.String())

	out.Reset()
	require.NoError(t, s.Exec(script("info GaussianA")))
	assert.Contains(t, out.String(), "  compound of Gaussian\n")

	out.Reset()
	require.NoError(t, s.Exec(script("info")))
	for _, line := range strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n") {
		assert.LessOrEqual(t, len(line), 30, line)
	}
	assert.True(t, strings.HasPrefix(out.String(), "Constant, Linear,"))

	out.Reset()
	require.NoError(t, s.Exec(script("$v = 1.5; %c = Constant(2); @0: M=1 & A=0\ninfo $v; info %c; info @0")))
	assert.Equal(t, "$v = 1.5\n%c = Constant(a=2)\n@0: 1 points\n  0 0 1 (inactive)\n", out.String())
}

func TestWrapList(t *testing.T) {
	Test(t, Fn("wrapList", wrapList), Table{
		Args([]string{"a", "b", "c"}, 80).Rets([]string{"a, b, c"}),
		Args([]string{"aaa", "bbb", "ccc"}, 9).Rets([]string{"aaa, bbb,", "ccc"}),
		Args([]string{"toolongitem"}, 4).Rets([]string{"toolongitem"}),
	})
}

func TestStoreReplay(t *testing.T) {
	st := store.MustTempStore(t)
	s, err := New(Config{Store: st})
	require.NoError(t, err)
	require.NoError(t, s.Exec(script("define F(a=1) = a*x\ndefine G(b) = F(b) + F(2*b)\ndefine K(c) = c")))
	require.NoError(t, s.Exec(script("undefine K")))

	s2, err := New(Config{Store: st})
	require.NoError(t, err)
	_, ok := s2.Registry().Lookup("G")
	assert.True(t, ok)
	_, ok = s2.Registry().Lookup("K")
	assert.False(t, ok)

	// A stored definition that no longer works is reported, not fatal.
	require.NoError(t, st.AddDefinition("Bad", "Bad(a) = Nope(a)"))
	s3, err := New(Config{Store: st})
	assert.ErrorContains(t, err, "stored definition of Bad: undefined function type Nope")
	require.NotNil(t, s3)
	_, ok = s3.Registry().Lookup("F")
	assert.True(t, ok)
}

func TestNew_InitialState(t *testing.T) {
	var out bytes.Buffer
	s, err := New(Config{
		Out:         &out,
		Variables:   map[string]float64{"w": 0.5},
		Definitions: []string{"Half(a) = a*x/2", "Bad(a) = a*b"},
	})
	assert.ErrorContains(t, err, `definition "Bad(a) = a*b": undeclared parameter b`)
	require.NotNil(t, s)
	require.NoError(t, s.Exec(script("%h = Half($w)\nprint %h(4)")))
	assert.Equal(t, "1\n", out.String())
}
