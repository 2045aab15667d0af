// Package shell is the entry point for running xyfit scripts.
package shell

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"src.xyfit.dev/pkg/diag"
	"src.xyfit.dev/pkg/env"
	"src.xyfit.dev/pkg/logutil"
	"src.xyfit.dev/pkg/prog"
	"src.xyfit.dev/pkg/rc"
	"src.xyfit.dev/pkg/session"
	"src.xyfit.dev/pkg/store"
	"src.xyfit.dev/pkg/sys"
)

var logger = logutil.GetLogger("[shell] ")

// Program is the shell subprogram.
type Program struct{}

func (Program) Run(fds [3]*os.File, f *prog.Flags, args []string) error {
	src, err := readScript(fds[0], f, args)
	if err != nil {
		return err
	}
	color := useColor(fds[2])

	if f.CompileOnly {
		return prog.Exit(checkScript(fds, src, f.JSON, color))
	}

	cfg := session.Config{Out: fds[1], Width: sys.Width(fds[1], 80)}
	conf, err := loadRC(f)
	if err != nil {
		warn(fds[2], err, color)
	}
	dbPath := f.DB
	if conf != nil {
		cfg.Options = conf.Options()
		cfg.Variables = conf.Variables
		cfg.Definitions = conf.Definitions
		if dbPath == "" {
			dbPath = conf.DB
		}
	}
	if f.Strict {
		cfg.Options.Strict = true
	}
	if dbPath != "" {
		st, err := store.NewStore(dbPath)
		if err != nil {
			warn(fds[2], fmt.Errorf("can not open database %s: %w", dbPath, err), color)
		} else {
			defer st.Close()
			cfg.Store = st
		}
	}

	sess, err := session.New(cfg)
	if err != nil {
		warn(fds[2], err, color)
	}
	logger.Printf("running %s", src.Name)
	if err := sess.Exec(src); err != nil {
		diag.ShowError(fds[2], err, color)
		return prog.Exit(2)
	}
	return nil
}

// Errors are colored when stderr is a terminal, unless NO_COLOR is set.
func useColor(stderr *os.File) bool {
	return sys.IsATTY(stderr.Fd()) && os.Getenv(env.NO_COLOR) == ""
}

func warn(w *os.File, err error, color bool) {
	fmt.Fprintln(w, "Warning:")
	diag.ShowError(w, err, color)
}

// loadRC loads the configuration file named by -rc, or the default one if
// it exists. It returns nil if there is none or -norc is given.
func loadRC(f *prog.Flags) (*rc.Config, error) {
	if f.NoRc {
		return nil, nil
	}
	path := f.RC
	if path == "" {
		p, err := rc.DefaultPath()
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		path = p
	}
	logger.Printf("loading %s", path)
	return rc.LoadFile(path)
}
