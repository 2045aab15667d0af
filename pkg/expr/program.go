package expr

import (
	"fmt"
	"strconv"
	"strings"

	"src.xyfit.dev/pkg/diag"
)

// Mode selects what kind of source a compiler accepts.
type Mode uint8

// Compilation modes.
const (
	// ModeExpr accepts a single expression.
	ModeExpr Mode = iota
	// ModeTransform accepts data transformation statements joined by '&'.
	ModeTransform
	// ModeFormula accepts the right-hand side of a function formula. The name
	// x is the function variable and unknown names are parameters.
	ModeFormula
)

func (m Mode) String() string {
	switch m {
	case ModeExpr:
		return "expression"
	case ModeTransform:
		return "transform"
	case ModeFormula:
		return "formula"
	}
	return fmt.Sprintf("Mode(%d)", m)
}

// Program is a compiled piece of source: a flat code array of opcodes
// interleaved with their operands, and the tables the operands index into.
// A Program is not modified after compilation and may be executed any number
// of times.
type Program struct {
	Mode   Mode
	Code   []int32
	Consts []float64
	Names  []string
	// Number of value slots written in the once pass.
	Slots int
	// The source the program was compiled from.
	Source Source
}

// Source describes a piece of source code.
type Source struct {
	Name string
	Code string
}

// Params returns the names of formula parameters referenced by the program,
// in order of first reference.
func (p *Program) Params() []string {
	var params []string
	seen := make(map[int32]bool)
	p.Walk(func(pc int, op Op, args []int32) {
		if op == OpParam && !seen[args[0]] {
			seen[args[0]] = true
			params = append(params, p.Names[args[0]])
		}
	})
	return params
}

// Uses reports whether the program contains any of the given opcodes.
func (p *Program) Uses(ops ...Op) bool {
	found := false
	p.Walk(func(pc int, op Op, args []int32) {
		for _, o := range ops {
			if op == o {
				found = true
			}
		}
	})
	return found
}

// Walk calls f for every instruction, in code order.
func (p *Program) Walk(f func(pc int, op Op, args []int32)) {
	for pc := 0; pc < len(p.Code); {
		op := Op(p.Code[pc])
		n := op.Operands()
		f(pc, op, p.Code[pc+1:pc+1+n])
		pc += 1 + n
	}
}

// Validate checks the structural invariants of the program: opcodes are
// known, operands are complete, constant, name and slot indices are in range
// and jumps land on instruction boundaries inside the code.
func (p *Program) Validate() error {
	starts := make(map[int]bool)
	for pc := 0; pc < len(p.Code); {
		op := Op(p.Code[pc])
		if !op.Valid() {
			return diag.Executef("invalid opcode %d at %d", p.Code[pc], pc)
		}
		starts[pc] = true
		pc += 1 + op.Operands()
		if pc > len(p.Code) {
			return diag.Executef("truncated %s instruction", op)
		}
	}
	starts[len(p.Code)] = true
	var err error
	p.Walk(func(pc int, op Op, args []int32) {
		if err != nil {
			return
		}
		switch op {
		case OpNumber:
			if int(args[0]) >= len(p.Consts) || args[0] < 0 {
				err = diag.Executef("constant index %d out of range at %d", args[0], pc)
			}
		case OpAggregateValue:
			if int(args[0]) >= len(p.Consts) || args[0] < 0 {
				err = diag.Executef("constant index %d out of range at %d", args[0], pc)
			} else if !starts[pc+int(args[1])] {
				err = diag.Executef("bad aggregate length at %d", pc)
			}
		case OpVar, OpParam, OpCall:
			if int(args[0]) >= len(p.Names) || args[0] < 0 {
				err = diag.Executef("name index %d out of range at %d", args[0], pc)
			}
		case OpStoreSlot, OpLoadSlot:
			if int(args[0]) >= p.Slots || args[0] < 0 {
				err = diag.Executef("slot %d out of range at %d", args[0], pc)
			}
		case OpAggregate:
			end := pc + int(args[1])
			if !starts[end] || end <= pc || Op(p.Code[end-1]) != OpAggregateEnd {
				err = diag.Executef("bad aggregate length at %d", pc)
			}
		case OpOrder:
			if args[0] < 0 || args[0] > 2*OrderS+1 {
				err = diag.Executef("bad order key %d at %d", args[0], pc)
			}
		}
		if op.IsJump() {
			if target := pc + int(args[0]); target <= pc || !starts[target] {
				err = diag.Executef("bad jump offset %d at %d", args[0], pc)
			}
		}
	})
	return err
}

// Disassemble returns a textual listing of the program, one instruction per
// line.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	p.Walk(func(pc int, op Op, args []int32) {
		fmt.Fprintf(&sb, "%d: %s", pc, op)
		switch op {
		case OpNumber:
			sb.WriteString(" " + formatNum(p.Consts[args[0]]))
		case OpVar:
			sb.WriteString(" $" + p.Names[args[0]])
		case OpParam:
			sb.WriteString(" " + p.Names[args[0]])
		case OpCall:
			sb.WriteString(" %" + p.Names[args[0]])
		case OpAggregate:
			fmt.Fprintf(&sb, " %s ->%d", Aggregate(args[0]), pc+int(args[1]))
		case OpAggregateValue:
			fmt.Fprintf(&sb, " %s ->%d", formatNum(p.Consts[args[0]]), pc+int(args[1]))
		case OpStoreSlot, OpLoadSlot:
			fmt.Fprintf(&sb, " %d", args[0])
		case OpOrder:
			if args[0]%2 == 1 {
				sb.WriteString(" -")
			} else {
				sb.WriteString(" ")
			}
			sb.WriteByte(columnNames[args[0]/2])
		default:
			if op.IsJump() {
				fmt.Fprintf(&sb, " ->%d", pc+int(args[0]))
			}
		}
		sb.WriteByte('\n')
	})
	return sb.String()
}

// Listing is like Disassemble, but returns the instructions as a list of
// strings without the program counters. It is mostly useful in tests.
func (p *Program) Listing() []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimSuffix(p.Disassemble(), "\n"), "\n") {
		if line == "" {
			continue
		}
		lines = append(lines, line[strings.IndexByte(line, ' ')+1:])
	}
	return lines
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
