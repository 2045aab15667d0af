//go:build unix

package shell

import (
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"src.xyfit.dev/pkg/env"
	"src.xyfit.dev/pkg/must"
	"src.xyfit.dev/pkg/prog"
	"src.xyfit.dev/pkg/testutil"
)

// runInPTY runs the program with stdout or stderr connected to a new
// pseudo-terminal of the given width, and returns what was written to it.
func runInPTY(t *testing.T, cols uint16, stderr bool, args ...string) (int, string) {
	t.Helper()
	ptmx, tty, err := pty.Open()
	require.NoError(t, err)
	defer ptmx.Close()
	require.NoError(t, pty.Setsize(tty, &pty.Winsize{Rows: 24, Cols: cols}))

	ch := make(chan string, 1)
	go func() {
		// Reading fails with EIO once tty is closed.
		b, _ := io.ReadAll(ptmx)
		ch <- string(b)
	}()

	r0, w0 := must.Pipe()
	w0.Close()
	defer r0.Close()
	r1, w1 := must.Pipe()
	go io.Copy(io.Discard, r1)

	fds := [3]*os.File{r0, tty, w1}
	if stderr {
		fds = [3]*os.File{r0, w1, tty}
	}
	exit := prog.Run(fds, append([]string{"xyfit"}, args...), Program{})
	tty.Close()
	w1.Close()

	select {
	case out := <-ch:
		return exit, strings.ReplaceAll(out, "\r\n", "\n")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out reading the terminal")
		return 0, ""
	}
}

func TestErrorsAreColoredOnTerminal(t *testing.T) {
	setupCleanConfig(t)
	exit, out := runInPTY(t, 80, true, "-c", "!ls")
	assert.Equal(t, 2, exit)
	assert.Contains(t, out, "\033[31;1mshell commands are not supported\033[m")
	assert.Contains(t, out, "code from -c:1:1:")

	testutil.Setenv(t, env.NO_COLOR, "1")
	_, out = runInPTY(t, 80, true, "-c", "!ls")
	assert.NotContains(t, out, "\033[")
	assert.Contains(t, out, "execute error: code from -c:1:1: shell commands are not supported")
}

func TestInfoWrapsToTerminalWidth(t *testing.T) {
	setupCleanConfig(t)
	exit, out := runInPTY(t, 40, false, "-c", "info")
	assert.Equal(t, 0, exit)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	assert.Greater(t, len(lines), 1)
	for _, line := range lines {
		assert.LessOrEqual(t, len(line), 40, line)
	}
	assert.True(t, strings.HasPrefix(out, "Constant, Linear,"), out)
}
