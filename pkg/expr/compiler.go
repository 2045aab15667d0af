package expr

import (
	"math"
	"sort"
	"strconv"

	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/lex"
	"src.xyfit.dev/pkg/logutil"
)

var logger = logutil.GetLogger("[expr] ")

// Config keeps configuration options when compiling.
type Config struct {
	Mode Mode
	// If not nil, references to $variables and %functions are checked
	// against it.
	Resolver Resolver
}

// Resolver reports which $variables and %functions are defined.
type Resolver interface {
	HasVar(name string) bool
	HasFunc(name string) bool
}

// Operator priorities, from the loosest to the tightest binding.
const (
	prioTernary = 1 + iota
	prioOr
	prioAnd
	prioNot
	prioCmp
	prioAdd
	prioMul
	prioNeg
	prioPow
)

var unaryFuncs = map[string]Op{
	"sqrt": OpSqrt, "exp": OpExp, "erf": OpErf, "erfc": OpErfc,
	"log10": OpLog10, "ln": OpLn, "sin": OpSin, "cos": OpCos, "tan": OpTan,
	"sinh": OpSinh, "cosh": OpCosh, "tanh": OpTanh, "atan": OpAtan,
	"asin": OpAsin, "acos": OpAcos, "gamma": OpGamma, "lgamma": OpLgamma,
	"digamma": OpDigamma, "abs": OpAbs, "round": OpRound,
}

var binaryFuncs = map[string]Op{
	"min2": OpMin2, "max2": OpMax2,
	"randnormal": OpRandNormal, "randuniform": OpRandUniform,
}

var aggregateFuncs = map[string]Aggregate{
	"sum": AggSum, "count": AggCount, "min": AggMin, "max": AggMax,
	"avg": AggAvg, "stddev": AggStddev,
}

var oldArrays = map[string]Op{"x": OpOldX, "y": OpOldY, "s": OpOldS, "a": OpOldA}

var newArrays = map[string]Op{"X": OpNewX, "Y": OpNewY, "S": OpNewS, "A": OpNewA}

var constants = map[string]float64{"pi": math.Pi, "true": 1, "false": 0}

// Keywords returns the names with a fixed meaning in expressions, sorted.
func Keywords() []string {
	names := []string{"and", "or", "not", "n", "M", "order", "delete"}
	for name := range constants {
		names = append(names, name)
	}
	for name := range oldArrays {
		names = append(names, name)
	}
	for name := range newArrays {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Functions returns the names of the built-in functions and aggregates,
// sorted.
func Functions() []string {
	var names []string
	for name := range unaryFuncs {
		names = append(names, name)
	}
	for name := range binaryFuncs {
		names = append(names, name)
	}
	for name := range aggregateFuncs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsReserved reports whether name can not be used as a formula parameter.
// Array names other than x are allowed, since a formula has no point data.
func IsReserved(name string) bool {
	_, unary := unaryFuncs[name]
	_, binary := binaryFuncs[name]
	_, agg := aggregateFuncs[name]
	_, c := constants[name]
	switch name {
	case "x", "and", "or", "not", "n", "M":
		return true
	}
	return unary || binary || agg || c
}

// Compile compiles a whole source. It is an error if the source does not
// end after what the mode accepts.
func Compile(src Source, cfg Config) (*Program, error) {
	toks, err := lex.Tokenize(src.Name, src.Code)
	if err != nil {
		return nil, err
	}
	p, next, err := CompileTokens(src, toks, 0, cfg)
	if err != nil {
		return nil, err
	}
	if t := toks[next]; t.Kind != lex.EOF {
		return nil, diag.NewSyntaxError(src.Name, src.Code, t,
			"unexpected %s after end of %s", t.Describe(), cfg.Mode)
	}
	return p, nil
}

// CompileTokens compiles from toks[pos], which must have been produced from
// src, and stops at the first token that can not continue the source at
// nesting depth 0. It returns the position of that token.
func CompileTokens(src Source, toks []lex.Token, pos int, cfg Config) (p *Program, next int, err error) {
	cp := &compiler{
		src: src, cfg: cfg, pos: pos,
		// The compiler may rewrite tokens in place.
		toks:   append([]lex.Token(nil), toks...),
		consts: make(map[uint64]int32),
		names:  make(map[string]int32),
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		} else if e, ok := r.(*diag.SyntaxError); ok {
			p, next, err = nil, pos, e
		} else {
			panic(r)
		}
	}()

	if cfg.Mode == ModeTransform {
		cp.statements()
	} else {
		cp.expression()
	}
	p = &Program{
		Mode: cfg.Mode, Code: cp.code, Consts: cp.constPool, Names: cp.namePool,
		Slots: cp.slots, Source: src,
	}
	logger.Printf("compiled %s %q to %d code words", cfg.Mode, src.Code, len(p.Code))
	return p, cp.pos, nil
}

type compiler struct {
	src  Source
	cfg  Config
	toks []lex.Token
	pos  int

	code      []int32
	constPool []float64
	consts    map[uint64]int32
	namePool  []string
	names     map[string]int32
	slots     int
}

func (cp *compiler) errorf(r diag.Ranger, format string, args ...any) {
	panic(diag.NewSyntaxError(cp.src.Name, cp.src.Code, r, format, args...))
}

func (cp *compiler) unexpected(t lex.Token, expecting string) {
	if expecting == "" {
		cp.errorf(t, "unexpected %s", t.Describe())
	}
	cp.errorf(t, "unexpected %s; expecting %s", t.Describe(), expecting)
}

func (cp *compiler) peek() lex.Token {
	return cp.peekAt(0)
}

func (cp *compiler) peekAt(i int) lex.Token {
	if cp.pos+i < len(cp.toks) {
		return cp.toks[cp.pos+i]
	}
	return lex.Token{Kind: lex.EOF, Ranging: diag.PointRanging(len(cp.src.Code))}
}

func (cp *compiler) next() lex.Token {
	t := cp.peek()
	if t.Kind != lex.EOF {
		cp.pos++
	}
	return t
}

func (cp *compiler) expect(k lex.Kind) lex.Token {
	t := cp.peek()
	if t.Kind != k {
		cp.unexpected(t, k.String())
	}
	return cp.next()
}

// emit appends an instruction and returns its position.
func (cp *compiler) emit(op Op, operands ...int32) int {
	pc := len(cp.code)
	cp.code = append(cp.code, int32(op))
	cp.code = append(cp.code, operands...)
	return pc
}

// patch sets the operand at pc+1+i so that it points at the current end of
// the code, relative to pc.
func (cp *compiler) patch(pc, i int) {
	cp.code[pc+1+i] = int32(len(cp.code) - pc)
}

func (cp *compiler) constIndex(v float64) int32 {
	bits := math.Float64bits(v)
	if i, ok := cp.consts[bits]; ok {
		return i
	}
	i := int32(len(cp.constPool))
	cp.constPool = append(cp.constPool, v)
	cp.consts[bits] = i
	return i
}

func (cp *compiler) nameIndex(name string) int32 {
	if i, ok := cp.names[name]; ok {
		return i
	}
	i := int32(len(cp.namePool))
	cp.namePool = append(cp.namePool, name)
	cp.names[name] = i
	return i
}

func (cp *compiler) emitConst(v float64) {
	cp.emit(OpNumber, cp.constIndex(v))
}

// capture runs f and returns the code it emitted, removing it from the
// output.
func (cp *compiler) capture(f func()) []int32 {
	saved := cp.code
	cp.code = nil
	f()
	chunk := cp.code
	cp.code = saved
	return chunk
}

func (cp *compiler) block(op Op, chunk []int32) {
	cp.code = append(cp.code, int32(op), int32(len(chunk)+2))
	cp.code = append(cp.code, chunk...)
}

func (cp *compiler) newSlot() int32 {
	cp.slots++
	return int32(cp.slots - 1)
}

// Statements.

func (cp *compiler) statements() {
	for {
		cp.statement()
		if cp.peek().Kind != lex.And {
			return
		}
		cp.next()
	}
}

var assignOps = map[string]Op{"X": OpAssignX, "Y": OpAssignY, "S": OpAssignS, "A": OpAssignA}

func (cp *compiler) statement() {
	t := cp.peek()
	if t.Kind != lex.Name {
		cp.unexpected(t, "assignment, order or delete")
	}
	if assign, ok := assignOps[t.Text]; ok {
		cp.next()
		if cp.peek().Kind == lex.LSquare {
			cp.next()
			lo, hi, isRange := cp.indexSpec()
			cp.expect(lex.Assign)
			col := assign - OpAssignX
			if isRange {
				s0, s1 := cp.newSlot(), cp.newSlot()
				cp.block(OpOnceBlock, cp.capture(func() {
					cp.code = append(cp.code, lo...)
					cp.emit(OpStoreSlot, s0)
					cp.code = append(cp.code, hi...)
					cp.emit(OpStoreSlot, s1)
				}))
				cp.block(OpPointBlock, cp.capture(func() {
					cp.emit(OpLoadSlot, s0)
					cp.emit(OpLoadSlot, s1)
					cp.expression()
					cp.emit(OpAssignRangeX + col)
				}))
			} else {
				cp.block(OpOnceBlock, cp.capture(func() {
					cp.code = append(cp.code, lo...)
					cp.expression()
					cp.emit(OpAssignIndexX + col)
				}))
			}
			return
		}
		cp.expect(lex.Assign)
		cp.block(OpPointBlock, cp.capture(func() {
			cp.expression()
			cp.emit(assign)
		}))
		return
	}
	switch t.Text {
	case "M":
		cp.next()
		cp.expect(lex.Assign)
		cp.block(OpOnceBlock, cp.capture(func() {
			cp.expression()
			cp.emit(OpResize)
		}))
	case "order":
		cp.next()
		cp.expect(lex.Assign)
		desc := int32(0)
		if cp.peek().Kind == lex.Minus {
			cp.next()
			desc = 1
		}
		keyTok := cp.peek()
		key, ok := orderKeys[keyTok.Text]
		if keyTok.Kind != lex.Name || !ok {
			cp.unexpected(keyTok, "x, y or s")
		}
		cp.next()
		cp.block(OpOnceBlock, cp.capture(func() {
			cp.emit(OpOrder, 2*key+desc)
		}))
	case "delete":
		cp.next()
		switch cp.peek().Kind {
		case lex.LSquare:
			cp.next()
			lo, hi, isRange := cp.indexSpec()
			cp.block(OpOnceBlock, cp.capture(func() {
				cp.code = append(cp.code, lo...)
				if isRange {
					cp.code = append(cp.code, hi...)
					cp.emit(OpDeleteRange)
				} else {
					cp.emit(OpDeleteIndex)
				}
			}))
		case lex.Open:
			cp.next()
			cp.block(OpPointBlock, cp.capture(func() {
				cp.expression()
				cp.expect(lex.Close)
				cp.emit(OpDeleteIf)
			}))
		default:
			cp.unexpected(cp.peek(), "'[' or '('")
		}
	case "x", "y", "s", "a":
		cp.errorf(t, "can not assign to %s, which holds the values before the transformation", t.Text)
	default:
		cp.unexpected(t, "assignment, order or delete")
	}
}

// indexSpec compiles the inside of [i] or [lo...hi], after the '['. Missing
// range ends default to 0 and M.
func (cp *compiler) indexSpec() (lo, hi []int32, isRange bool) {
	if cp.peek().Kind == lex.Dots {
		lo = cp.capture(func() { cp.emitConst(0) })
	} else {
		lo = cp.capture(cp.expression)
	}
	if cp.peek().Kind == lex.Dots {
		cp.next()
		isRange = true
		if cp.peek().Kind == lex.RSquare {
			hi = cp.capture(func() { cp.emit(OpM) })
		} else {
			hi = cp.capture(cp.expression)
		}
	}
	cp.expect(lex.RSquare)
	return lo, hi, isRange
}

// Expressions.

type entryKind uint8

const (
	entOp        entryKind = iota // operator; emits op
	entAnd                        // and; patches the jump
	entOr                         // or; patches the jump
	entTernary                    // '?' waiting for its ':'
	entElse                       // ':'; patches the jump
	entParen                      // '(' marker
	entBracket                    // '[' marker
	entCall                       // function waiting for its arguments
	entAggregate                  // aggregate waiting for its argument
	entIndex                      // array waiting for its index
)

type entry struct {
	kind entryKind
	op   Op
	prio int
	// Position of the instruction to patch.
	pc int
	// Name operand of OpCall.
	name  int32
	arity int
	// For parens: whether they delimit call arguments, how many arguments
	// have been completed and where the first argument starts.
	call  bool
	args  int
	start int
	tok   lex.Token
}

type exprState struct {
	stack []entry
	depth int
}

func (st *exprState) push(e entry) {
	if e.kind == entParen || e.kind == entBracket {
		st.depth++
	}
	st.stack = append(st.stack, e)
}

func (st *exprState) top() *entry {
	if len(st.stack) == 0 {
		return nil
	}
	return &st.stack[len(st.stack)-1]
}

func (st *exprState) pop() entry {
	e := st.stack[len(st.stack)-1]
	st.stack = st.stack[:len(st.stack)-1]
	if e.kind == entParen || e.kind == entBracket {
		st.depth--
	}
	return e
}

// popWhile pops and emits operators while the top of the stack is an
// operator satisfying f.
func (cp *compiler) popWhile(st *exprState, f func(e *entry) bool) {
	for {
		e := st.top()
		if e == nil || e.prio == 0 || !f(e) {
			return
		}
		cp.emitEntry(st.pop())
	}
}

func (cp *compiler) emitEntry(e entry) {
	switch e.kind {
	case entOp:
		cp.emit(e.op)
	case entAnd, entOr:
		cp.emit(OpBool)
		cp.patch(e.pc, 0)
	case entElse:
		cp.patch(e.pc, 0)
	case entTernary:
		cp.errorf(e.tok, "'?' without matching ':'")
	default:
		panic("emitEntry called with a marker")
	}
}

func (cp *compiler) binary(st *exprState, t lex.Token, op Op, prio int, rightAssoc bool) {
	cp.popWhile(st, func(e *entry) bool {
		return e.prio > prio || (!rightAssoc && e.prio == prio)
	})
	st.push(entry{kind: entOp, op: op, prio: prio, tok: t})
}

func (cp *compiler) expression() {
	st := &exprState{}
	wantOperand := true
	for {
		if wantOperand {
			wantOperand = !cp.operand(st)
			continue
		}
		end, operand := cp.operator(st)
		if end {
			cp.popWhile(st, func(*entry) bool { return true })
			return
		}
		wantOperand = operand
	}
}

// operand compiles what can start an operand. It returns whether a complete
// operand value was compiled, as opposed to a prefix operator.
func (cp *compiler) operand(st *exprState) bool {
	t := cp.peek()
	switch t.Kind {
	case lex.Number:
		cp.next()
		cp.emitConst(t.Num)
		return true
	case lex.Minus:
		cp.next()
		st.push(entry{kind: entOp, op: OpNeg, prio: prioNeg, tok: t})
		return false
	case lex.Plus:
		cp.next()
		return false
	case lex.Open:
		cp.next()
		st.push(entry{kind: entParen, tok: t, start: cp.pos})
		return false
	case lex.Close:
		// Only valid for a call without arguments.
		if e := st.top(); e != nil && e.kind == entParen && e.call && e.start == cp.pos {
			cp.next()
			cp.closeParen(st, t, 0)
			return true
		}
	case lex.Var:
		if cp.cfg.Mode == ModeFormula {
			cp.errorf(t, "variable %s not allowed in a formula", t.Text)
		}
		if r := cp.cfg.Resolver; r != nil && !r.HasVar(t.Str) {
			cp.errorf(t, "undefined variable %s", t.Text)
		}
		cp.next()
		cp.emit(OpVar, cp.nameIndex(t.Str))
		return true
	case lex.Func:
		if cp.cfg.Mode == ModeFormula {
			cp.errorf(t, "function %s not allowed in a formula", t.Text)
		}
		if r := cp.cfg.Resolver; r != nil && !r.HasFunc(t.Str) {
			cp.errorf(t, "undefined function %s", t.Text)
		}
		cp.next()
		cp.callParen(st, entry{kind: entCall, op: OpCall, name: cp.nameIndex(t.Str), arity: 1, tok: t})
		return false
	case lex.Name:
		return cp.operandName(st, t)
	}
	cp.unexpected(t, "operand")
	return false
}

// callParen pushes a callable entry and consumes the '(' that must follow.
func (cp *compiler) callParen(st *exprState, fn entry) {
	open := cp.peek()
	if open.Kind != lex.Open {
		cp.errorf(open, "expecting '(' after %s", fn.tok.Text)
	}
	cp.next()
	st.push(fn)
	st.push(entry{kind: entParen, call: true, tok: open, start: cp.pos})
}

func (cp *compiler) operandName(st *exprState, t lex.Token) bool {
	name := t.Text
	formula := cp.cfg.Mode == ModeFormula
	if v, ok := constants[name]; ok {
		cp.next()
		cp.emitConst(v)
		return true
	}
	if name == "not" {
		cp.next()
		st.push(entry{kind: entOp, op: OpNot, prio: prioNot, tok: t})
		return false
	}
	if op, ok := unaryFuncs[name]; ok {
		cp.next()
		cp.callParen(st, entry{kind: entCall, op: op, arity: 1, tok: t})
		return false
	}
	if op, ok := binaryFuncs[name]; ok {
		if formula && (op == OpRandNormal || op == OpRandUniform) {
			cp.errorf(t, "%s not allowed in a formula", name)
		}
		cp.next()
		cp.callParen(st, entry{kind: entCall, op: op, arity: 2, tok: t})
		return false
	}
	if agg, ok := aggregateFuncs[name]; ok {
		if formula {
			cp.errorf(t, "aggregate %s not allowed in a formula", name)
		}
		cp.next()
		pc := cp.emit(OpAggregate, int32(agg), 0)
		cp.callParen(st, entry{kind: entAggregate, pc: pc, arity: 1, tok: t})
		return false
	}
	switch name {
	case "and", "or":
		cp.unexpected(t, "operand")
	}
	if formula {
		switch {
		case name == "x":
			cp.next()
			cp.emit(OpX)
			return true
		case IsReserved(name):
			cp.errorf(t, "%s not allowed in a formula", name)
		case cp.peekAt(1).Kind == lex.Open:
			cp.errorf(t, "unknown function %s", name)
		}
		cp.next()
		cp.emit(OpParam, cp.nameIndex(name))
		return true
	}
	op, isArray := oldArrays[name]
	if !isArray {
		op, isArray = newArrays[name]
	}
	if isArray {
		cp.next()
		if cp.peek().Kind == lex.LSquare {
			open := cp.next()
			st.push(entry{kind: entIndex, op: op, tok: t})
			st.push(entry{kind: entBracket, tok: open, start: cp.pos})
			return false
		}
		cp.emit(OpN)
		cp.emit(op)
		return true
	}
	switch name {
	case "n":
		cp.next()
		cp.emit(OpN)
		return true
	case "M":
		cp.next()
		cp.emit(OpM)
		return true
	}
	if cp.peekAt(1).Kind == lex.Open {
		cp.errorf(t, "unknown function %s", name)
	}
	cp.errorf(t, "unknown name %s", name)
	return false
}

// operator compiles what can follow an operand. It returns whether the
// expression has ended and whether an operand is expected next.
func (cp *compiler) operator(st *exprState) (end, operand bool) {
	t := cp.peek()
	switch t.Kind {
	case lex.Plus, lex.Minus, lex.Mult, lex.Divide, lex.Percent, lex.Power,
		lex.Lt, lex.Le, lex.Gt, lex.Ge, lex.Eq, lex.Ne:
		cp.next()
		b := binaryOps[t.Kind]
		cp.binary(st, t, b.op, b.prio, b.op == OpPow)
		return false, true
	case lex.Func:
		// "a%b" is lexed as a followed by the function name %b. Split it
		// back into a modulo and a name.
		cp.toks[cp.pos] = lex.Token{Kind: lex.Name, Text: t.Str, Str: t.Str,
			Ranging: diag.Ranging{From: t.From + 1, To: t.To}}
		cp.binary(st, t, OpMod, prioMul, false)
		return false, true
	case lex.Name:
		switch t.Text {
		case "and":
			cp.next()
			cp.popWhile(st, func(e *entry) bool { return e.prio >= prioAnd })
			pc := cp.emit(OpAnd, 0)
			st.push(entry{kind: entAnd, prio: prioAnd, pc: pc, tok: t})
			return false, true
		case "or":
			cp.next()
			cp.popWhile(st, func(e *entry) bool { return e.prio >= prioOr })
			pc := cp.emit(OpOr, 0)
			st.push(entry{kind: entOr, prio: prioOr, pc: pc, tok: t})
			return false, true
		}
	case lex.QMark:
		cp.next()
		cp.popWhile(st, func(e *entry) bool { return e.prio > prioTernary })
		pc := cp.emit(OpTernary, 0)
		st.push(entry{kind: entTernary, prio: prioTernary, pc: pc, tok: t})
		return false, true
	case lex.Colon:
		cp.popWhile(st, func(e *entry) bool { return e.kind != entTernary })
		if e := st.top(); e != nil && e.kind == entTernary {
			cp.next()
			q := st.pop()
			pc := cp.emit(OpElse, 0)
			cp.patch(q.pc, 0)
			st.push(entry{kind: entElse, prio: prioTernary, pc: pc, tok: t})
			return false, true
		}
	case lex.Close:
		if st.depth > 0 {
			cp.next()
			cp.closeParen(st, t, -1)
			return false, false
		}
	case lex.RSquare:
		if st.depth > 0 {
			cp.next()
			cp.popWhile(st, func(*entry) bool { return true })
			if e := st.top(); e.kind != entBracket {
				cp.errorf(t, "unexpected ']'; expecting ')' to close %s", e.tok.Describe())
			}
			st.pop()
			cp.emit(st.pop().op)
			return false, false
		}
	case lex.Comma:
		if st.depth > 0 {
			cp.popWhile(st, func(*entry) bool { return true })
			e := st.top()
			if e.kind != entParen || !e.call {
				cp.unexpected(t, "")
			}
			cp.next()
			e.args++
			return false, true
		}
	case lex.LSquare:
		cp.errorf(t, "index operator applied to non-array value; only x, y, s, a, X, Y, S and A can be indexed")
	}
	if st.depth > 0 {
		cp.unexpected(t, "operator or closing bracket")
	}
	return true, false
}

var binaryOps = map[lex.Kind]struct {
	op   Op
	prio int
}{
	lex.Plus: {OpAdd, prioAdd}, lex.Minus: {OpSub, prioAdd},
	lex.Mult: {OpMul, prioMul}, lex.Divide: {OpDiv, prioMul}, lex.Percent: {OpMod, prioMul},
	lex.Power: {OpPow, prioPow},
	lex.Lt:    {OpLt, prioCmp}, lex.Le: {OpLe, prioCmp}, lex.Gt: {OpGt, prioCmp},
	lex.Ge: {OpGe, prioCmp}, lex.Eq: {OpEq, prioCmp}, lex.Ne: {OpNe, prioCmp},
}

// closeParen handles a ')' that has been consumed. If nargs is negative, the
// argument count is derived from the commas seen.
func (cp *compiler) closeParen(st *exprState, t lex.Token, nargs int) {
	cp.popWhile(st, func(*entry) bool { return true })
	paren := st.top()
	if paren.kind != entParen {
		cp.errorf(t, "unexpected ')'; expecting ']' to close %s", paren.tok.Describe())
	}
	if nargs < 0 {
		nargs = paren.args + 1
	}
	if !paren.call {
		st.pop()
		return
	}
	st.pop()
	fn := st.pop()
	if nargs != fn.arity {
		cp.errorf(fn.tok, "%s takes %s, got %d", fn.tok.Text, plural(fn.arity, "argument"), nargs)
	}
	switch fn.kind {
	case entCall:
		if fn.op == OpCall {
			cp.emit(OpCall, fn.name)
		} else {
			cp.emit(fn.op)
		}
	case entAggregate:
		cp.emit(OpAggregateEnd)
		cp.patch(fn.pc, 1)
	}
}

func plural(n int, s string) string {
	if n == 1 {
		return "1 " + s
	}
	return strconv.Itoa(n) + " " + s + "s"
}
