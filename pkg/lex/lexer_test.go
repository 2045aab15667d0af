package lex

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"src.xyfit.dev/pkg/diag"
	. "src.xyfit.dev/pkg/tt"
)

// kinds tokenizes src and returns the kinds and texts of the tokens, without
// the final EOF.
func kinds(src string) ([]Kind, []string, error) {
	toks, err := Tokenize("[test]", src)
	if err != nil {
		return nil, nil, err
	}
	var ks []Kind
	var texts []string
	for _, t := range toks[:len(toks)-1] {
		ks = append(ks, t.Kind)
		texts = append(texts, t.Text)
	}
	return ks, texts, nil
}

func TestTokenize(t *testing.T) {
	Test(t, Fn("kinds", kinds), Table{
		Args("Y = y*2").Rets(
			[]Kind{Name, Assign, Name, Mult, Number},
			[]string{"Y", "=", "y", "*", "2"}, nil),
		Args("x[2...7]").Rets(
			[]Kind{Name, LSquare, Number, Dots, Number, RSquare},
			[]string{"x", "[", "2", "...", "7", "]"}, nil),
		Args("x[2..7]").Rets(
			[]Kind{Name, LSquare, Number, Dots, Number, RSquare},
			[]string{"x", "[", "2", "..", "7", "]"}, nil),
		Args("a<=b>=c==d!=e<>f>>g<h>i").Rets(
			[]Kind{Name, Le, Name, Ge, Name, Eq, Name, Ne, Name, Ne, Name, Append, Name, Lt, Name, Gt, Name},
			[]string{"a", "<=", "b", ">=", "c", "==", "d", "!=", "e", "<>", "f", ">>", "g", "<", "h", ">", "i"}, nil),
		Args("$foo %bar @0 @* @+").Rets(
			[]Kind{Var, Func, Dataset, Dataset, Dataset},
			[]string{"$foo", "%bar", "@0", "@*", "@+"}, nil),
		Args("n%2 + n % M").Rets(
			[]Kind{Name, Percent, Number, Plus, Name, Percent, Name},
			[]string{"n", "%", "2", "+", "n", "%", "M"}, nil),
		Args("print 'a b' # comment\n!ls -l").Rets(
			[]Kind{Name, String, Shell},
			[]string{"print", "'a b'", "!ls -l"}, nil),
		Args("c ? t : f & M=1; (.5)").Rets(
			[]Kind{Name, QMark, Name, Colon, Name, And, Name, Assign, Number, Semicolon, Open, Number, Close},
			[]string{"c", "?", "t", ":", "f", "&", "M", "=", "1", ";", "(", ".5", ")"}, nil),
	})
}

func TestNumbers(t *testing.T) {
	for _, test := range []struct {
		src  string
		want float64
		end  int
	}{
		{"12", 12, 2},
		{"1.5", 1.5, 3},
		{".25", 0.25, 3},
		{"2.", 2, 2},
		{"1e3", 1000, 3},
		{"1.5E-2", 0.015, 6},
		{"3e", 3, 1},
		{"4...", 4, 1},
	} {
		tok, err := Next("[test]", test.src, 0)
		if err != nil {
			t.Errorf("Next(%q) -> error %v", test.src, err)
			continue
		}
		if tok.Kind != Number || tok.Num != test.want || tok.To != test.end {
			t.Errorf("Next(%q) -> %v %v ending at %d, want number %v ending at %d",
				test.src, tok.Kind, tok.Num, tok.To, test.want, test.end)
		}
	}
}

func TestTokenFields(t *testing.T) {
	toks, err := Tokenize("[test]", " $abc 'q' @12")
	if err != nil {
		t.Fatal(err)
	}
	want := []Token{
		{Kind: Var, Text: "$abc", Str: "abc", Ranging: diag.Ranging{From: 1, To: 5}},
		{Kind: String, Text: "'q'", Str: "q", Ranging: diag.Ranging{From: 6, To: 9}},
		{Kind: Dataset, Text: "@12", Str: "12", Ranging: diag.Ranging{From: 10, To: 13}},
		{Kind: EOF, Ranging: diag.Ranging{From: 13, To: 13}},
	}
	if diff := cmp.Diff(want, toks); diff != "" {
		t.Errorf("Tokenize (-want +got):\n%s", diff)
	}
}

func TestLexErrors(t *testing.T) {
	for _, test := range []struct {
		src     string
		wantMsg string
		from    int
	}{
		{"Y = y \" 2", `unexpected character '"' at offset 6`, 6},
		{"print 'abc", "unterminated string", 6},
		{"$ = 1", `'$' must be followed by a name (at offset 0)`, 0},
		{"x + $1", `'$' must be followed by a name (at offset 4)`, 4},
		{"@x", `'@' must be followed by a dataset number, '*' or '+' (at offset 0)`, 0},
		{"Y = y ` 2", "unexpected character '`' at offset 6", 6},
	} {
		_, err := Tokenize("[test]", test.src)
		errs := diag.UnpackErrors[diag.SyntaxTag](err)
		if len(errs) != 1 {
			t.Errorf("Tokenize(%q) -> %v, want one syntax error", test.src, err)
			continue
		}
		if errs[0].Message != test.wantMsg || errs[0].Context.From != test.from {
			t.Errorf("Tokenize(%q) -> error %q at %d, want %q at %d",
				test.src, errs[0].Message, errs[0].Context.From, test.wantMsg, test.from)
		}
	}
}

func TestLexErrors_RangeCoversOneCharacter(t *testing.T) {
	for _, test := range []struct {
		src      string
		from, to int
	}{
		{"1 + \xff", 4, 5},
		{"1 + \xff\xfe", 4, 5},
		{"1 + é", 4, 6},
	} {
		_, err := Tokenize("[test]", test.src)
		errs := diag.UnpackErrors[diag.SyntaxTag](err)
		if len(errs) != 1 {
			t.Errorf("Tokenize(%q) -> %v, want one syntax error", test.src, err)
			continue
		}
		if r := errs[0].Range(); r.From != test.from || r.To != test.to {
			t.Errorf("Tokenize(%q) -> error at %d-%d, want %d-%d",
				test.src, r.From, r.To, test.from, test.to)
		}
	}
}

func TestLexer_PeekDoesNotConsume(t *testing.T) {
	lx := New("[test]", "M = 3")
	p1, _ := lx.Peek()
	p2, _ := lx.Peek()
	n, _ := lx.Next()
	if p1 != p2 || p1 != n || n.Text != "M" {
		t.Errorf("Peek/Next -> %v %v %v, want the same token M", p1, p2, n)
	}
	n, _ = lx.Next()
	if n.Kind != Assign || lx.Rest() != " 3" {
		t.Errorf("second Next -> %v, rest %q", n, lx.Rest())
	}
}

func TestIsName(t *testing.T) {
	Test(t, Fn("IsName", IsName), Table{
		Args("Gaussian").Rets(true),
		Args("_a1").Rets(true),
		Args("1a").Rets(false),
		Args("").Rets(false),
		Args("a-b").Rets(false),
	})
}
