// Package sys provides terminal utilities with the same API across OSes.
package sys

import (
	"os"

	"github.com/mattn/go-isatty"
)

// WinSize queries the size of the terminal referenced by the given file. It
// returns -1, -1 if the file is not a terminal.
func WinSize(file *os.File) (row, col int) { return winSize(file) }

// IsATTY determines whether the given file is a terminal.
func IsATTY(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Width returns the number of columns of the terminal file refers to, or def
// if it is not a terminal.
func Width(file *os.File, def int) int {
	if !IsATTY(file.Fd()) {
		return def
	}
	if _, col := WinSize(file); col > 0 {
		return col
	}
	return def
}
