package udf

import (
	"fmt"
	"strings"

	"src.xyfit.dev/pkg/deriv"
	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/expr"
	"src.xyfit.dev/pkg/lex"
	"src.xyfit.dev/pkg/vm"
)

// parser parses and checks one definition against the types of a registry.
// Errors abort parsing by panicking with a *diag.SyntaxError or a
// *diag.ExecuteError.
type parser struct {
	reg  *Registry
	src  expr.Source
	toks []lex.Token
	pos  int
	def  *Definition
	used map[string]bool
}

func (r *Registry) parse(formula string) (d *Definition, err error) {
	src := expr.Source{Name: "[define]", Code: formula}
	toks, err := lex.Tokenize(src.Name, src.Code)
	if err != nil {
		return nil, err
	}
	ps := &parser{reg: r, src: src, toks: toks, used: make(map[string]bool)}
	defer func() {
		rec := recover()
		switch e := rec.(type) {
		case nil:
		case *diag.SyntaxError:
			d, err = nil, e
		case *diag.ExecuteError:
			d, err = nil, e
		default:
			panic(rec)
		}
	}()
	return ps.definition(), nil
}

func (ps *parser) errorf(r diag.Ranger, format string, args ...any) {
	panic(diag.NewSyntaxError(ps.src.Name, ps.src.Code, r, format, args...))
}

func (ps *parser) executef(r diag.Ranger, format string, args ...any) {
	panic(&diag.ExecuteError{
		Message: fmt.Sprintf(format, args...),
		Context: *diag.NewContext(ps.src.Name, ps.src.Code, r),
	})
}

func (ps *parser) unexpected(t lex.Token, expecting string) {
	ps.errorf(t, "unexpected %s; expecting %s", t.Describe(), expecting)
}

func (ps *parser) peekAt(i int) lex.Token {
	if ps.pos+i < len(ps.toks) {
		return ps.toks[ps.pos+i]
	}
	return ps.toks[len(ps.toks)-1]
}

func (ps *parser) peek() lex.Token { return ps.peekAt(0) }

func (ps *parser) next() lex.Token {
	t := ps.peek()
	if t.Kind != lex.EOF {
		ps.pos++
	}
	return t
}

func (ps *parser) expect(k lex.Kind) lex.Token {
	t := ps.peek()
	if t.Kind != k {
		ps.unexpected(t, k.String())
	}
	return ps.next()
}

var arrayNames = map[string]bool{"X": true, "Y": true, "S": true, "A": true}

func isTypeName(name string) bool {
	return name != "" && 'A' <= name[0] && name[0] <= 'Z'
}

func (ps *parser) definition() *Definition {
	if ps.peek().Is("define") {
		ps.next()
	}
	name := ps.next()
	switch {
	case name.Kind != lex.Name:
		ps.unexpected(name, "function type name")
	case !isTypeName(name.Text):
		ps.errorf(name, "function type name %s must start with an uppercase letter", name.Text)
	case expr.IsReserved(name.Text) || arrayNames[name.Text]:
		ps.errorf(name, "%s can not be used as a function type name", name.Text)
	}
	if old, ok := ps.reg.defs[name.Text]; ok {
		if old.Builtin {
			ps.executef(name, "can not redefine built-in function %s", name.Text)
		}
		ps.executef(name, "function %s is already defined; undefine it first", name.Text)
	}

	d := &Definition{Name: name.Text}
	ps.def = d
	ps.expect(lex.Open)
	var paramToks []lex.Token
	if ps.peek().Kind != lex.Close {
		for {
			paramToks = append(paramToks, ps.peek())
			d.Params = append(d.Params, ps.param())
			if ps.peek().Kind != lex.Comma {
				break
			}
			ps.next()
		}
	}
	ps.expect(lex.Close)
	ps.expect(lex.Assign)

	rhs := ps.peek()
	if rhs.Kind == lex.EOF {
		ps.unexpected(rhs, "formula")
	}
	d.RHS = strings.TrimSpace(ps.src.Code[rhs.From:])
	if q := ps.splitMark(); q > 0 {
		ps.split(q)
	} else if ps.isCall(0) {
		ps.compound()
	} else {
		ps.custom()
	}

	for i, p := range d.Params {
		if !ps.used[p.Name] {
			ps.executef(paramToks[i], "unused parameter %s", p.Name)
		}
	}
	return d
}

func (ps *parser) param() Param {
	t := ps.next()
	if t.Kind != lex.Name {
		ps.unexpected(t, "parameter name")
	}
	if expr.IsReserved(t.Text) {
		ps.errorf(t, "%s can not be used as a parameter name", t.Text)
	}
	if ps.def.paramIndex(t.Text) >= 0 {
		ps.errorf(t, "duplicate parameter %s", t.Text)
	}
	p := Param{Name: t.Text}
	if ps.peek().Kind != lex.Assign {
		return p
	}
	ps.next()
	prog, next, err := expr.CompileTokens(ps.src, ps.toks, ps.pos, expr.Config{Mode: expr.ModeExpr})
	if err != nil {
		panic(err)
	}
	ps.pos = next
	v, err := vm.EvalScalar(prog, nil, vm.Options{})
	if err != nil {
		panic(err)
	}
	p.Default, p.HasDefault = v, true
	return p
}

// isCall reports whether the tokens at the current position plus i start a
// use of a function type.
func (ps *parser) isCall(i int) bool {
	t := ps.peekAt(i)
	return t.Kind == lex.Name && isTypeName(t.Text) && ps.peekAt(i+1).Kind == lex.Open
}

// splitMark returns the offset of the '?' if the formula has the form
// "x < cond ? Type(...) : Type(...)", and 0 otherwise.
func (ps *parser) splitMark() int {
	if !ps.peek().Is("x") || ps.peekAt(1).Kind != lex.Lt {
		return 0
	}
	depth := 0
	for i := 2; ps.peekAt(i).Kind != lex.EOF; i++ {
		switch ps.peekAt(i).Kind {
		case lex.Open, lex.LSquare:
			depth++
		case lex.Close, lex.RSquare:
			depth--
		case lex.QMark:
			if depth == 0 {
				if i > 2 && ps.isCall(i+1) {
					return i
				}
				return 0
			}
		}
	}
	return 0
}

// formula compiles the formula starting at the current token, stopping at
// the first token that can not continue it. Compilation sees only toks,
// which must be a prefix of the tokens of the definition. Parameters used by
// the formula are recorded.
func (ps *parser) formula(toks []lex.Token) (*expr.Program, diag.Ranging) {
	start := ps.peek()
	p, next, err := expr.CompileTokens(ps.src, toks, ps.pos, expr.Config{Mode: expr.ModeFormula})
	if err != nil {
		panic(err)
	}
	ps.pos = next
	r := diag.Ranging{From: start.From, To: ps.toks[next-1].To}
	for _, name := range p.Params() {
		if ps.def.paramIndex(name) < 0 {
			ps.executef(r, "undeclared parameter %s", name)
		}
		ps.used[name] = true
	}
	return p, r
}

// argument compiles a formula that must not depend on x.
func (ps *parser) argument(toks []lex.Token, what string) *deriv.Program {
	p, r := ps.formula(toks)
	if p.Uses(expr.OpX) {
		ps.executef(r, "x can not be used in %s", what)
	}
	dp, err := deriv.Compile(p, ps.def.ParamNames(), deriv.Options{NoX: true})
	if err != nil {
		panic(err)
	}
	return dp
}

func (ps *parser) custom() {
	p, _ := ps.formula(ps.toks)
	if t := ps.peek(); t.Kind != lex.EOF {
		ps.unexpected(t, "end of formula")
	}
	dp, err := deriv.Compile(p, ps.def.ParamNames(), deriv.Options{})
	if err != nil {
		panic(err)
	}
	ps.def.Kind = Custom
	ps.def.program = dp
}

func (ps *parser) compound() {
	ps.def.Kind = Compound
	for {
		ps.def.calls = append(ps.def.calls, ps.call())
		t := ps.next()
		if t.Kind == lex.EOF {
			return
		}
		if t.Kind != lex.Plus {
			ps.unexpected(t, "'+' or end of formula")
		}
	}
}

func (ps *parser) split(q int) {
	ps.def.Kind = Split
	ps.pos += 2
	cond := ps.argument(ps.toks[:ps.pos+q-2], "the condition of a split function")
	if t := ps.peek(); t.Kind != lex.QMark {
		ps.unexpected(t, "'?'")
	}
	ps.next()
	left := ps.call()
	ps.expect(lex.Colon)
	right := ps.call()
	ps.expect(lex.EOF)
	ps.def.cond = cond
	ps.def.calls = []*call{left, right}
}

func (ps *parser) call() *call {
	t := ps.next()
	if t.Kind != lex.Name || !isTypeName(t.Text) {
		ps.unexpected(t, "function type")
	}
	def, ok := ps.reg.defs[t.Text]
	if !ok {
		ps.executef(t, "undefined function type %s", t.Text)
	}
	ps.expect(lex.Open)
	c := &call{def: def}
	if ps.peek().Kind != lex.Close {
		for {
			c.args = append(c.args, ps.argument(ps.toks, "arguments of "+def.Name))
			if ps.peek().Kind != lex.Comma {
				break
			}
			ps.next()
		}
	}
	end := ps.expect(lex.Close)
	if len(c.args) != len(def.Params) {
		ps.executef(diag.MixedRanging(t, end), "%s takes %d parameters, got %d",
			def.Name, len(def.Params), len(c.args))
	}
	return c
}
