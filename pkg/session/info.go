package session

import (
	"fmt"
	"strings"

	"src.xyfit.dev/pkg/lex"
)

func (c *command) info() {
	c.next()
	t := c.next()
	switch t.Kind {
	case lex.EOF, lex.Name, lex.Dataset, lex.Var, lex.Func:
	default:
		c.unexpected(t, "function type, @dataset, $variable or %function")
	}
	c.end("info")
	if c.check {
		return
	}

	var lines []string
	switch t.Kind {
	case lex.EOF:
		var names []string
		for _, d := range c.s.reg.Definitions() {
			names = append(names, d.Name)
		}
		lines = wrapList(names, c.s.width)
	case lex.Name:
		d, ok := c.s.reg.Lookup(t.Text)
		if !ok {
			c.executef(t, "undefined function type %s", t.Text)
		}
		lines = append(lines, d.String())
		if dp := d.Program(); dp != nil {
			for _, l := range strings.Split(strings.TrimSuffix(dp.String(), "\n"), "\n") {
				lines = append(lines, "  "+l)
			}
		} else {
			lines = append(lines, fmt.Sprintf("  %s of %s", d.Kind, strings.Join(d.Components(), ", ")))
		}
	case lex.Dataset:
		i := c.dataset([]lex.Token{t})
		points := c.s.datasets[i]
		lines = append(lines, fmt.Sprintf("@%d: %d points", i, len(points)))
		for _, p := range points {
			lines = append(lines, "  "+p.String())
		}
	case lex.Var:
		v, ok := c.s.vars[t.Str]
		if !ok {
			c.executef(t, "undefined variable $%s", t.Str)
		}
		lines = append(lines, fmt.Sprintf("$%s = %s", t.Str, formatNum(v)))
	case lex.Func:
		f, ok := c.s.funcs[t.Str]
		if !ok {
			c.executef(t, "undefined function %%%s", t.Str)
		}
		lines = append(lines, fmt.Sprintf("%%%s = %s", t.Str, f))
	}
	for _, l := range lines {
		fmt.Fprintln(c.s.out, l)
	}
}

// wrapList joins items with ", ", breaking lines so that they are no longer
// than width unless a single item is.
func wrapList(items []string, width int) []string {
	var lines []string
	line := ""
	for i, item := range items {
		if i < len(items)-1 {
			item += ","
		}
		switch {
		case line == "":
			line = item
		case len(line)+1+len(item) > width:
			lines = append(lines, line)
			line = item
		default:
			line += " " + item
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}
