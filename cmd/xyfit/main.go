// Xyfit runs scripts that define function types, create functions from them
// and transform datasets of (x, y, sigma) points. With -lsp it serves the
// language server protocol instead.
package main

import (
	"os"

	"src.xyfit.dev/pkg/lsp"
	"src.xyfit.dev/pkg/prog"
	"src.xyfit.dev/pkg/shell"
)

func main() {
	os.Exit(prog.Run(
		[3]*os.File{os.Stdin, os.Stdout, os.Stderr}, os.Args,
		lsp.Program{}, shell.Program{}))
}
