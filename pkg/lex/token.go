// Package lex splits xyfit source text into tokens.
//
// Keywords are not distinguished from other names at this level; the
// compiler decides what a name means from its position.
package lex

import (
	"fmt"

	"src.xyfit.dev/pkg/diag"
)

// Kind is the kind of a Token.
type Kind uint8

// Token kinds.
const (
	EOF Kind = iota

	Number    // 1.5e3
	Name      // foo
	String    // 'quoted'
	Var       // $name
	Func      // %name
	Dataset   // @0, @*, @+
	Shell     // !command to end of line
	Open      // (
	Close     // )
	LSquare   // [
	RSquare   // ]
	LCurly    // {
	RCurly    // }
	Plus      // +
	Minus     // -
	Mult      // *
	Divide    // /
	Percent   // %
	Power     // ^
	Lt        // <
	Gt        // >
	Le        // <=
	Ge        // >=
	Eq        // ==
	Ne        // != or <>
	Append    // >>
	Dots      // .. or ...
	Assign    // =
	Comma     // ,
	Semicolon // ;
	Colon     // :
	And       // &
	QMark     // ?
	Tilde     // ~
	Dot       // .
	Pipe      // |
)

var kindNames = [...]string{
	EOF:       "end of input",
	Number:    "number",
	Name:      "name",
	String:    "string",
	Var:       "$variable",
	Func:      "%function",
	Dataset:   "@dataset",
	Shell:     "shell command",
	Open:      "'('",
	Close:     "')'",
	LSquare:   "'['",
	RSquare:   "']'",
	LCurly:    "'{'",
	RCurly:    "'}'",
	Plus:      "'+'",
	Minus:     "'-'",
	Mult:      "'*'",
	Divide:    "'/'",
	Percent:   "'%'",
	Power:     "'^'",
	Lt:        "'<'",
	Gt:        "'>'",
	Le:        "'<='",
	Ge:        "'>='",
	Eq:        "'=='",
	Ne:        "'!='",
	Append:    "'>>'",
	Dots:      "'...'",
	Assign:    "'='",
	Comma:     "','",
	Semicolon: "';'",
	Colon:     "':'",
	And:       "'&'",
	QMark:     "'?'",
	Tilde:     "'~'",
	Dot:       "'.'",
	Pipe:      "'|'",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Token is a lexical unit. Tokens are immutable once produced.
type Token struct {
	Kind Kind
	// Text is the source text of the token, including sigils and quotes.
	Text string
	// Str is the decoded content: the body of a string, the name after a
	// sigil, the command of a shell escape, or the name itself.
	Str string
	// Num is the value of a Number token.
	Num float64
	diag.Ranging
}

// Is reports whether the token is a Name with the given text.
func (t Token) Is(name string) bool {
	return t.Kind == Name && t.Text == name
}

// Describe returns a short human-readable description of the token, used in
// error messages.
func (t Token) Describe() string {
	switch t.Kind {
	case EOF:
		return "end of input"
	case Number, Name, Var, Func, Dataset:
		return fmt.Sprintf("%s %q", t.Kind, t.Text)
	case String:
		return "string " + t.Text
	case Shell:
		return "shell command"
	case Ne:
		return "'" + t.Text + "'"
	case Dots:
		return "'" + t.Text + "'"
	}
	return t.Kind.String()
}
