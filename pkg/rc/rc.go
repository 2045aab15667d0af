// Package rc reads the xyfit configuration file.
//
// The file is YAML, for example:
//
//	epsilon: 1e-12
//	strict: true
//	seed: 42
//	db: ~/.local/share/xyfit/definitions.db
//	variables:
//	  ln2: 0.6931471805599453
//	definitions:
//	  - Step(a, b) = x < b ? Constant(0) : Constant(a)
//
// Unknown keys are errors.
package rc

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
	"src.xyfit.dev/pkg/env"
	"src.xyfit.dev/pkg/vm"
)

// Config is the content of a configuration file.
type Config struct {
	Epsilon float64 `yaml:"epsilon"`
	Strict  bool    `yaml:"strict"`
	// Seed of randnormal and randuniform; seeded from the time if nil.
	Seed *int64 `yaml:"seed"`
	// Path of the definition store. A leading "~/" is the home directory.
	DB          string             `yaml:"db"`
	Variables   map[string]float64 `yaml:"variables"`
	Definitions []string           `yaml:"definitions"`
}

// Load reads a Config. An empty input is an empty Config.
func Load(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if cfg.Epsilon < 0 {
		return nil, fmt.Errorf("epsilon must not be negative, got %v", cfg.Epsilon)
	}
	for name := range cfg.Variables {
		if name == "" || strings.HasPrefix(name, "$") {
			return nil, fmt.Errorf("bad variable name %q; names are written without $", name)
		}
	}
	if cfg.DB != "" {
		db, err := expandHome(cfg.DB)
		if err != nil {
			return nil, err
		}
		cfg.DB = db
	}
	return &cfg, nil
}

// LoadFile reads a Config from a file.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// DefaultPath returns $XDG_CONFIG_HOME/xyfit/rc.yaml, or
// ~/.config/xyfit/rc.yaml if XDG_CONFIG_HOME is not set.
func DefaultPath() (string, error) {
	if dir := os.Getenv(env.XDG_CONFIG_HOME); dir != "" {
		return filepath.Join(dir, "xyfit", "rc.yaml"), nil
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "xyfit", "rc.yaml"), nil
}

// Options returns the VM options the Config asks for.
func (c *Config) Options() vm.Options {
	opt := vm.Options{Epsilon: c.Epsilon, Strict: c.Strict}
	if c.Seed != nil {
		opt.Rand = rand.New(rand.NewSource(*c.Seed))
	}
	return opt
}

func homeDir() (string, error) {
	if home := os.Getenv(env.HOME); home != "" {
		return home, nil
	}
	return os.UserHomeDir()
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := homeDir()
	if err != nil {
		return "", fmt.Errorf("can not expand %s: %w", path, err)
	}
	return filepath.Join(home, path[1:]), nil
}
