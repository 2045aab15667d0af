// Package progtest contains utilities for testing [prog.Program] instances.
//
// A test is a list of cases, each running the program once with given
// arguments and standard input and checking what it writes and its exit
// status:
//
//	progtest.Test(t, program,
//		progtest.ThatXyfit("-c", "print 1").WritesStdout("1\n"),
//		progtest.ThatXyfit("-bad").ExitsWith(2),
//	)
package progtest

import (
	"os"
	"strings"
	"testing"

	"src.xyfit.dev/pkg/must"
	"src.xyfit.dev/pkg/prog"
)

// Case is one invocation of a program and the expected results.
type Case struct {
	args  []string
	stdin string
	want  result
}

type result struct {
	exit           int
	stdout, stderr output
}

type output struct {
	content   string
	partial   bool
	unchecked bool
}

func (o output) matches(s string) bool {
	switch {
	case o.unchecked:
		return true
	case o.partial:
		return strings.Contains(s, o.content)
	}
	return s == o.content
}

// ThatXyfit returns a new Case with the given arguments, not including the
// program name. By default the case expects no output and exit status 0.
func ThatXyfit(args ...string) Case {
	return Case{args: args}
}

// WithStdin returns an altered Case that feeds the given string to the
// standard input of the program.
func (c Case) WithStdin(s string) Case {
	c.stdin = s
	return c
}

// DoesNothing returns c itself; it only makes tests read better.
func (c Case) DoesNothing() Case { return c }

// ExitsWith returns an altered Case that expects the given exit status.
func (c Case) ExitsWith(exit int) Case {
	c.want.exit = exit
	return c
}

// WritesStdout returns an altered Case that expects exactly the given
// standard output.
func (c Case) WritesStdout(s string) Case {
	c.want.stdout = output{content: s}
	return c
}

// WritesStdoutContaining returns an altered Case that expects standard output
// to contain s.
func (c Case) WritesStdoutContaining(s string) Case {
	c.want.stdout = output{content: s, partial: true}
	return c
}

// WritesStderr returns an altered Case that expects exactly the given
// standard error.
func (c Case) WritesStderr(s string) Case {
	c.want.stderr = output{content: s}
	return c
}

// WritesStderrContaining returns an altered Case that expects standard error
// to contain s.
func (c Case) WritesStderrContaining(s string) Case {
	c.want.stderr = output{content: s, partial: true}
	return c
}

// IgnoresStderr returns an altered Case that does not check standard error.
func (c Case) IgnoresStderr() Case {
	c.want.stderr = output{unchecked: true}
	return c
}

// Test runs every case against p.
func Test(t *testing.T, p prog.Program, cases ...Case) {
	t.Helper()
	for _, c := range cases {
		t.Run(strings.Join(c.args, " "), func(t *testing.T) {
			t.Helper()
			exit, stdout, stderr := Run(p, c.stdin, c.args...)
			if exit != c.want.exit {
				t.Errorf("got exit %v, want %v", exit, c.want.exit)
			}
			if !c.want.stdout.matches(stdout) {
				t.Errorf("got stdout %q, want %s", stdout, describe(c.want.stdout))
			}
			if !c.want.stderr.matches(stderr) {
				t.Errorf("got stderr %q, want %s", stderr, describe(c.want.stderr))
			}
		})
	}
}

func describe(o output) string {
	if o.partial {
		return "containing " + quote(o.content)
	}
	return quote(o.content)
}

func quote(s string) string { return `"` + strings.ReplaceAll(s, "\n", `\n`) + `"` }

// Run runs p with the given standard input and arguments, and returns its
// exit status, standard output and standard error.
func Run(p prog.Program, stdin string, args ...string) (exit int, stdout, stderr string) {
	r0, w0 := must.Pipe()
	r1, w1 := must.Pipe()
	r2, w2 := must.Pipe()
	go func() {
		w0.WriteString(stdin)
		w0.Close()
	}()
	outCh := readAllAsync(r1)
	errCh := readAllAsync(r2)

	exit = prog.Run([3]*os.File{r0, w1, w2}, append([]string{"xyfit"}, args...), p)
	r0.Close()
	w1.Close()
	w2.Close()
	return exit, <-outCh, <-errCh
}

func readAllAsync(r *os.File) <-chan string {
	ch := make(chan string, 1)
	go func() { ch <- string(must.ReadAllAndClose(r)) }()
	return ch
}
