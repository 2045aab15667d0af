package lex

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"src.xyfit.dev/pkg/diag"
)

// Next returns the first token of src at or after the byte offset pos,
// skipping whitespace and comments. The source name is only used in errors.
// The end of the returned token (its To field) is where lexing should
// continue. Next does not depend on any state and can be restarted at any
// token boundary.
func Next(name, src string, pos int) (Token, error) {
	pos = skipSpace(src, pos)
	if pos >= len(src) {
		return Token{Kind: EOF, Ranging: diag.PointRanging(len(src))}, nil
	}
	c := src[pos]
	switch {
	case isDigit(c) || (c == '.' && pos+1 < len(src) && isDigit(src[pos+1])):
		return lexNumber(name, src, pos)
	case isNameStart(c):
		end := scanName(src, pos)
		text := src[pos:end]
		return Token{Kind: Name, Text: text, Str: text, Ranging: diag.Ranging{From: pos, To: end}}, nil
	case c == '$':
		return lexSigil(name, src, pos, Var)
	case c == '%':
		if pos+1 < len(src) && isNameStart(src[pos+1]) {
			return lexSigil(name, src, pos, Func)
		}
		return punct(src, pos, 1, Percent), nil
	case c == '@':
		return lexDataset(name, src, pos)
	case c == '\'':
		end := strings.IndexByte(src[pos+1:], '\'')
		if end == -1 {
			return Token{}, diag.NewSyntaxError(name, src, diag.Ranging{From: pos, To: len(src)},
				"unterminated string")
		}
		end += pos + 1
		return Token{Kind: String, Text: src[pos : end+1], Str: src[pos+1 : end],
			Ranging: diag.Ranging{From: pos, To: end + 1}}, nil
	case c == '!':
		if strings.HasPrefix(src[pos:], "!=") {
			return punct(src, pos, 2, Ne), nil
		}
		end := strings.IndexByte(src[pos:], '\n')
		if end == -1 {
			end = len(src)
		} else {
			end += pos
		}
		return Token{Kind: Shell, Text: src[pos:end], Str: strings.TrimSpace(src[pos+1 : end]),
			Ranging: diag.Ranging{From: pos, To: end}}, nil
	}
	for _, op := range multiCharOps {
		if strings.HasPrefix(src[pos:], op.text) {
			return punct(src, pos, len(op.text), op.kind), nil
		}
	}
	if k, ok := singleCharOps[c]; ok {
		return punct(src, pos, 1, k), nil
	}
	return Token{}, badChar(name, src, pos)
}

// Longer operators come first so that they are matched greedily.
var multiCharOps = []struct {
	text string
	kind Kind
}{
	{"...", Dots}, {"..", Dots},
	{"<=", Le}, {">=", Ge}, {"==", Eq}, {"<>", Ne}, {">>", Append},
}

var singleCharOps = map[byte]Kind{
	'(': Open, ')': Close, '[': LSquare, ']': RSquare, '{': LCurly, '}': RCurly,
	'+': Plus, '-': Minus, '*': Mult, '/': Divide, '^': Power,
	'<': Lt, '>': Gt, '=': Assign, ',': Comma, ';': Semicolon, ':': Colon,
	'&': And, '?': QMark, '~': Tilde, '.': Dot, '|': Pipe,
}

func punct(src string, pos, n int, k Kind) Token {
	return Token{Kind: k, Text: src[pos : pos+n], Ranging: diag.Ranging{From: pos, To: pos + n}}
}

func badChar(name, src string, pos int) error {
	r, size := utf8.DecodeRuneInString(src[pos:])
	return diag.NewSyntaxError(name, src, diag.Ranging{From: pos, To: pos + size},
		"unexpected character %q at offset %d", r, pos)
}

func skipSpace(src string, pos int) int {
	for pos < len(src) {
		switch src[pos] {
		case ' ', '\t', '\r', '\n':
			pos++
		case '#':
			for pos < len(src) && src[pos] != '\n' {
				pos++
			}
		default:
			return pos
		}
	}
	return pos
}

func lexNumber(name, src string, pos int) (Token, error) {
	i := pos
	for i < len(src) && isDigit(src[i]) {
		i++
	}
	// A dot followed by another dot starts a range operator, as in "2...7".
	if i < len(src) && src[i] == '.' && !strings.HasPrefix(src[i:], "..") {
		i++
		for i < len(src) && isDigit(src[i]) {
			i++
		}
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && isDigit(src[j]) {
			for j < len(src) && isDigit(src[j]) {
				j++
			}
			i = j
		}
	}
	text := src[pos:i]
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return Token{}, diag.NewSyntaxError(name, src, diag.Ranging{From: pos, To: i},
			"bad number %q", text)
	}
	return Token{Kind: Number, Text: text, Str: text, Num: v, Ranging: diag.Ranging{From: pos, To: i}}, nil
}

func lexSigil(name, src string, pos int, k Kind) (Token, error) {
	if pos+1 >= len(src) || !isNameStart(src[pos+1]) {
		return Token{}, diag.NewSyntaxError(name, src, diag.Ranging{From: pos, To: pos + 1},
			"%q must be followed by a name (at offset %d)", src[pos], pos)
	}
	end := scanName(src, pos+1)
	return Token{Kind: k, Text: src[pos:end], Str: src[pos+1 : end],
		Ranging: diag.Ranging{From: pos, To: end}}, nil
}

func lexDataset(name, src string, pos int) (Token, error) {
	end := pos + 1
	if end < len(src) && (src[end] == '*' || src[end] == '+') {
		end++
	} else {
		for end < len(src) && isDigit(src[end]) {
			end++
		}
	}
	if end == pos+1 {
		return Token{}, diag.NewSyntaxError(name, src, diag.Ranging{From: pos, To: pos + 1},
			"'@' must be followed by a dataset number, '*' or '+' (at offset %d)", pos)
	}
	return Token{Kind: Dataset, Text: src[pos:end], Str: src[pos+1 : end],
		Ranging: diag.Ranging{From: pos, To: end}}, nil
}

func scanName(src string, pos int) int {
	for pos < len(src) && isNameChar(src[pos]) {
		pos++
	}
	return pos
}

func isDigit(c byte) bool { return '0' <= c && c <= '9' }

func isNameStart(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || c == '_'
}

func isNameChar(c byte) bool { return isNameStart(c) || isDigit(c) }

// IsName reports whether s is a valid name.
func IsName(s string) bool {
	return s != "" && isNameStart(s[0]) && scanName(s, 0) == len(s)
}

// Lexer walks over a source one token at a time.
type Lexer struct {
	name, src string
	pos       int
	peeked    *Token
}

// New creates a Lexer for the given source.
func New(name, src string) *Lexer {
	return &Lexer{name: name, src: src}
}

// Peek returns the next token without consuming it.
func (lx *Lexer) Peek() (Token, error) {
	if lx.peeked != nil {
		return *lx.peeked, nil
	}
	t, err := Next(lx.name, lx.src, lx.pos)
	if err != nil {
		return t, err
	}
	lx.peeked = &t
	return t, nil
}

// Next consumes and returns the next token.
func (lx *Lexer) Next() (Token, error) {
	t, err := lx.Peek()
	if err != nil {
		return t, err
	}
	lx.peeked = nil
	lx.pos = t.To
	return t, nil
}

// Rest returns the part of the source that has not been consumed yet.
func (lx *Lexer) Rest() string {
	return lx.src[lx.pos:]
}

// Tokenize splits the whole source into tokens. The last token is always an
// EOF token.
func Tokenize(name, src string) ([]Token, error) {
	var toks []Token
	pos := 0
	for {
		t, err := Next(name, src, pos)
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
		if t.Kind == EOF {
			return toks, nil
		}
		pos = t.To
	}
}
