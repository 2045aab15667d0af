package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/expr"
	"src.xyfit.dev/pkg/lex"
	"src.xyfit.dev/pkg/store/storedefs"
	"src.xyfit.dev/pkg/vm"
)

// Exec runs a script. Commands are separated by newlines or ';' and run in
// order; the first error stops the script and is returned.
func (s *Session) Exec(src expr.Source) error {
	cmds, err := splitCommands(src)
	if err != nil {
		return err
	}
	for _, toks := range cmds {
		if err := s.run(src, toks, false); err != nil {
			return err
		}
	}
	return nil
}

// Check compiles every command of a script without running any of them.
// It returns the syntax errors found, joined with errors.Join. Names of
// $variables and %functions are not checked.
func (s *Session) Check(src expr.Source) error {
	cmds, err := splitCommands(src)
	if err != nil {
		return err
	}
	var errs []error
	for _, toks := range cmds {
		if err := s.run(src, toks, true); diag.IsSyntaxError(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// splitCommands tokenizes src and splits the tokens into commands. Each
// command ends with an EOF token placed right after its last token.
func splitCommands(src expr.Source) ([][]lex.Token, error) {
	toks, err := lex.Tokenize(src.Name, src.Code)
	if err != nil {
		return nil, err
	}
	var cmds [][]lex.Token
	var cur []lex.Token
	flush := func(at int) {
		if len(cur) > 0 {
			cur = append(cur, lex.Token{Kind: lex.EOF, Ranging: diag.PointRanging(at)})
			cmds = append(cmds, cur)
			cur = nil
		}
	}
	for i, t := range toks {
		switch {
		case t.Kind == lex.EOF:
			flush(t.From)
		case t.Kind == lex.Semicolon:
			flush(t.From)
		default:
			if len(cur) > 0 && strings.Contains(src.Code[toks[i-1].To:t.From], "\n") {
				flush(toks[i-1].To)
			}
			cur = append(cur, t)
		}
	}
	return cmds, nil
}

// command is one command being run. Errors abort it by panicking.
type command struct {
	s     *Session
	src   expr.Source
	toks  []lex.Token
	pos   int
	check bool
}

func (s *Session) run(src expr.Source, toks []lex.Token, check bool) (err error) {
	c := &command{s: s, src: src, toks: toks, check: check}
	whole := diag.MixedRanging(toks[0], toks[len(toks)-2])
	defer func() {
		rec := recover()
		switch e := rec.(type) {
		case nil:
		case *diag.SyntaxError:
			err = e
		case *diag.ExecuteError:
			if e.Context.Name == "" && e.Context.Source == "" {
				e = &diag.ExecuteError{
					Message: e.Message,
					Context: *diag.NewContext(src.Name, src.Code, whole),
				}
			}
			err = e
		case error:
			err = e
		default:
			panic(rec)
		}
	}()
	c.run()
	return nil
}

func (c *command) errorf(r diag.Ranger, format string, args ...any) {
	panic(diag.NewSyntaxError(c.src.Name, c.src.Code, r, format, args...))
}

func (c *command) executef(r diag.Ranger, format string, args ...any) {
	panic(&diag.ExecuteError{
		Message: fmt.Sprintf(format, args...),
		Context: *diag.NewContext(c.src.Name, c.src.Code, r),
	})
}

func (c *command) must(err error) {
	if err != nil {
		panic(err)
	}
}

func (c *command) unexpected(t lex.Token, expecting string) {
	c.errorf(t, "unexpected %s; expecting %s", t.Describe(), expecting)
}

func (c *command) peekAt(i int) lex.Token {
	if c.pos+i < len(c.toks) {
		return c.toks[c.pos+i]
	}
	return c.toks[len(c.toks)-1]
}

func (c *command) peek() lex.Token { return c.peekAt(0) }

func (c *command) next() lex.Token {
	t := c.peek()
	if t.Kind != lex.EOF {
		c.pos++
	}
	return t
}

func (c *command) expect(k lex.Kind) lex.Token {
	t := c.peek()
	if t.Kind != k {
		c.unexpected(t, k.String())
	}
	return c.next()
}

// end checks that the command has no tokens left after what.
func (c *command) end(what string) {
	if t := c.peek(); t.Kind != lex.EOF {
		c.errorf(t, "unexpected %s after %s", t.Describe(), what)
	}
}

func (c *command) compile(mode expr.Mode) *expr.Program {
	cfg := expr.Config{Mode: mode}
	if !c.check {
		cfg.Resolver = c.s
	}
	p, next, err := expr.CompileTokens(c.src, c.toks, c.pos, cfg)
	c.must(err)
	c.pos = next
	return p
}

func (c *command) run() {
	prefix := c.prefix()
	t := c.peek()
	noPrefix := func() {
		if prefix != nil {
			c.errorf(diag.MixedRanging(prefix[0], prefix[len(prefix)-1]),
				"%s can not be used with a dataset prefix", t.Text)
		}
	}
	switch {
	case t.Kind == lex.Shell:
		c.executef(t, "shell commands are not supported")
	case t.Is("define"):
		noPrefix()
		c.define()
	case t.Is("undefine"):
		noPrefix()
		c.undefine()
	case t.Is("info"):
		noPrefix()
		c.info()
	case t.Is("print"):
		c.print(prefix)
	case t.Kind == lex.Var:
		c.assignVar(prefix)
	case t.Kind == lex.Func:
		noPrefix()
		c.assignFunc()
	default:
		c.transform(prefix)
	}
}

// prefix parses an optional list of datasets followed by ':'.
func (c *command) prefix() []lex.Token {
	if c.peek().Kind != lex.Dataset {
		return nil
	}
	var ds []lex.Token
	for {
		ds = append(ds, c.expect(lex.Dataset))
		if c.peek().Kind != lex.Comma {
			break
		}
		c.next()
	}
	c.expect(lex.Colon)
	return ds
}

// datasets resolves dataset tokens to indices; @0 if there are none. Each
// @+ adds an empty dataset, once all the other tokens are known to be valid.
func (c *command) datasets(ds []lex.Token) []int {
	if ds == nil {
		return []int{0}
	}
	for _, t := range ds {
		if t.Str == "*" || t.Str == "+" {
			continue
		}
		if i, err := strconv.Atoi(t.Str); err != nil || i >= len(c.s.datasets) {
			c.executef(t, "no dataset %s", t.Text)
		}
	}
	var idx []int
	for _, t := range ds {
		switch t.Str {
		case "*":
			for i := range c.s.datasets {
				idx = append(idx, i)
			}
		case "+":
			c.s.datasets = append(c.s.datasets, nil)
			idx = append(idx, len(c.s.datasets)-1)
		default:
			i, _ := strconv.Atoi(t.Str)
			idx = append(idx, i)
		}
	}
	return idx
}

// dataset resolves dataset tokens that must name exactly one dataset, or
// returns -1 if there are none.
func (c *command) dataset(ds []lex.Token) int {
	if ds == nil {
		return -1
	}
	idx := c.datasets(ds)
	if len(idx) != 1 {
		c.executef(diag.MixedRanging(ds[0], ds[len(ds)-1]), "expecting one dataset, got %d", len(idx))
	}
	return idx[0]
}

// eval evaluates an expression, against dataset i if i >= 0.
func (c *command) eval(p *expr.Program, i int) float64 {
	var v float64
	var err error
	if i < 0 {
		v, err = vm.EvalScalar(p, c.s, c.s.opt)
	} else {
		v, err = vm.EvalOnDataset(c.s.datasets[i], p, c.s, c.s.opt)
	}
	c.must(err)
	return v
}

func (c *command) transform(prefix []lex.Token) {
	p := c.compile(expr.ModeTransform)
	c.end("transform")
	if c.check {
		return
	}
	// Every dataset is transformed from its state before the command, and
	// none is changed if one of them fails.
	n := len(c.s.datasets)
	idx := c.datasets(prefix)
	results := make([][]vm.Point, len(idx))
	for j, i := range idx {
		points, err := vm.RunTransform(c.s.datasets[i], p, c.s, c.s.opt)
		if err != nil {
			c.s.datasets = c.s.datasets[:n]
			c.must(err)
		}
		results[j] = points
	}
	for j, i := range idx {
		logger.Printf("@%d: %d points -> %d points", i, len(c.s.datasets[i]), len(results[j]))
		c.s.datasets[i] = results[j]
	}
}

func (c *command) assignVar(prefix []lex.Token) {
	v := c.next()
	c.expect(lex.Assign)
	p := c.compile(expr.ModeExpr)
	c.end("expression")
	if c.check {
		return
	}
	c.s.vars[v.Str] = c.eval(p, c.dataset(prefix))
}

func (c *command) assignFunc() {
	f := c.next()
	c.expect(lex.Assign)
	typ := c.next()
	if typ.Kind != lex.Name {
		c.unexpected(typ, "function type")
	}
	c.expect(lex.Open)
	var args []*expr.Program
	named := make(map[string]*expr.Program)
	if c.peek().Kind != lex.Close {
		for {
			t := c.peek()
			if t.Kind == lex.Name && c.peekAt(1).Kind == lex.Assign {
				c.next()
				c.next()
				if _, dup := named[t.Text]; dup {
					c.errorf(t, "parameter %s given twice", t.Text)
				}
				named[t.Text] = c.compile(expr.ModeExpr)
			} else {
				if len(named) > 0 {
					c.errorf(t, "positional argument after named argument")
				}
				args = append(args, c.compile(expr.ModeExpr))
			}
			if c.peek().Kind != lex.Comma {
				break
			}
			c.next()
		}
	}
	c.expect(lex.Close)
	c.end("function")
	if c.check {
		return
	}

	values := make([]float64, len(args))
	for i, p := range args {
		values[i] = c.eval(p, -1)
	}
	namedValues := make(map[string]float64, len(named))
	for name, p := range named {
		namedValues[name] = c.eval(p, -1)
	}
	fn, err := c.s.reg.Instantiate(typ.Text, values, namedValues)
	c.must(err)
	c.s.setFunc(f.Str, fn)
	logger.Printf("%%%s = %s", f.Str, fn)
}

func (c *command) define() {
	c.next()
	first := c.peek()
	if first.Kind == lex.EOF {
		c.unexpected(first, "formula")
	}
	from, to := first.From, c.toks[len(c.toks)-2].To
	formula := c.src.Code[from:to]
	c.pos = len(c.toks) - 1
	if c.check {
		if err := c.s.reg.Check(formula); diag.IsSyntaxError(err) {
			panic(c.relocate(err, from))
		}
		return
	}
	d, err := c.s.reg.Define(formula)
	if err != nil {
		panic(c.relocate(err, from))
	}
	if c.s.store != nil {
		c.must(c.s.store.AddDefinition(d.Name, formula))
	}
}

// relocate moves the context of an error found in a formula starting at
// offset into the script.
func (c *command) relocate(err error, offset int) error {
	switch e := err.(type) {
	case *diag.SyntaxError:
		return &diag.SyntaxError{
			Message: e.Message,
			Context: *diag.NewContext(c.src.Name, c.src.Code, e.Range().Shift(offset)),
			Partial: e.Partial,
		}
	case *diag.ExecuteError:
		if e.Context.Source != "" {
			return &diag.ExecuteError{
				Message: e.Message,
				Context: *diag.NewContext(c.src.Name, c.src.Code, e.Range().Shift(offset)),
			}
		}
	}
	return err
}

func (c *command) undefine() {
	c.next()
	var names []lex.Token
	for {
		t := c.next()
		if t.Kind != lex.Name {
			c.unexpected(t, "function type name")
		}
		names = append(names, t)
		if c.peek().Kind != lex.Comma {
			break
		}
		c.next()
	}
	c.end("undefine")
	if c.check {
		return
	}
	text := make([]string, len(names))
	for i, t := range names {
		text[i] = t.Text
	}
	if err := c.s.reg.Undefine(text...); err != nil {
		c.executef(diag.MixedRanging(names[0], names[len(names)-1]), "%s", errMessage(err))
	}
	if c.s.store != nil {
		for _, name := range text {
			err := c.s.store.DelDefinition(name)
			if err != nil && !errors.Is(err, storedefs.ErrNoDefinition) {
				panic(err)
			}
		}
	}
}

func (c *command) print(prefix []lex.Token) {
	c.next()
	if prefix == nil && c.peek().Kind == lex.Dataset {
		prefix = c.prefix()
	}
	type item struct {
		text string
		p    *expr.Program
	}
	var items []item
	for {
		if t := c.peek(); t.Kind == lex.String {
			c.next()
			items = append(items, item{text: t.Str})
		} else {
			items = append(items, item{p: c.compile(expr.ModeExpr)})
		}
		if c.peek().Kind != lex.Comma {
			break
		}
		c.next()
	}
	c.end("print")
	if c.check {
		return
	}
	i := c.dataset(prefix)
	fields := make([]string, len(items))
	for j, it := range items {
		if it.p == nil {
			fields[j] = it.text
		} else {
			fields[j] = formatNum(c.eval(it.p, i))
		}
	}
	fmt.Fprintln(c.s.out, strings.Join(fields, " "))
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
