package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/expr"
	"src.xyfit.dev/pkg/prog"
	"src.xyfit.dev/pkg/session"
)

// readScript finds the script to run: the argument of -c, the file named by
// the only argument, or standard input.
func readScript(stdin *os.File, f *prog.Flags, args []string) (expr.Source, error) {
	switch {
	case f.CodeInArg:
		if len(args) != 1 {
			return expr.Source{}, prog.BadUsage("-c requires exactly one argument")
		}
		return expr.Source{Name: "code from -c", Code: args[0]}, nil
	case len(args) > 1:
		return expr.Source{}, prog.BadUsage("at most one script can be given")
	case len(args) == 0:
		code, err := readUTF8(stdin)
		if err != nil {
			return expr.Source{}, fmt.Errorf("cannot read standard input: %w", err)
		}
		return expr.Source{Name: "[stdin]", Code: code}, nil
	}
	name, err := filepath.Abs(args[0])
	if err != nil {
		return expr.Source{}, fmt.Errorf("cannot get full path of script %q: %w", args[0], err)
	}
	file, err := os.Open(name)
	if err != nil {
		return expr.Source{}, fmt.Errorf("cannot read script %q: %w", name, err)
	}
	defer file.Close()
	code, err := readUTF8(file)
	if err != nil {
		return expr.Source{}, fmt.Errorf("cannot read script %q: %w", name, err)
	}
	return expr.Source{Name: name, Code: code}, nil
}

var errSourceNotUTF8 = errors.New("source is not UTF-8")

func readUTF8(r io.Reader) (string, error) {
	bytes, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(bytes) {
		return "", errSourceNotUTF8
	}
	return string(bytes), nil
}

// checkScript reports the syntax errors of a script without running it, and
// returns the exit status.
func checkScript(fds [3]*os.File, src expr.Source, json, color bool) int {
	sess, _ := session.New(session.Config{})
	err := sess.Check(src)
	if json {
		fmt.Fprintf(fds[1], "%s\n", errorsToJSON(err))
	} else if err != nil {
		diag.ShowError(fds[2], err, color)
	}
	if err != nil {
		return 2
	}
	return 0
}
