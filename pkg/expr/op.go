package expr

import "fmt"

// Op is an opcode. Each opcode is followed in the code by a fixed number of
// operands, given by Operands.
type Op int32

// Opcodes. Jump and block operands are offsets relative to the position of
// the opcode that carries them.
const (
	OpNumber Op = iota // [const] push constant
	OpVar              // [name] push $variable
	OpParam            // [name] push formula parameter
	OpX                // push the formula variable x

	// Point data. The index is popped from the stack.
	OpOldX
	OpOldY
	OpOldS
	OpOldA
	OpNewX
	OpNewY
	OpNewS
	OpNewA
	OpN // current point index
	OpM // current point count

	// Unary operators and functions.
	OpNeg
	OpNot
	OpBool // normalizes the top of the stack to 0 or 1
	OpSqrt
	OpExp
	OpErf
	OpErfc
	OpLog10
	OpLn
	OpSin
	OpCos
	OpTan
	OpSinh
	OpCosh
	OpTanh
	OpAtan
	OpAsin
	OpAcos
	OpGamma
	OpLgamma
	OpDigamma
	OpAbs
	OpRound

	// Binary operators and functions.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpMin2
	OpMax2
	OpRandNormal
	OpRandUniform
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpNe

	OpAnd     // [offset] if top is false, replace it with 0 and jump; else pop
	OpOr      // [offset] if top is true, replace it with 1 and jump; else pop
	OpTernary // [offset] pop; if false, jump to the else branch
	OpElse    // [offset] jump over the else branch

	OpCall // [name] pop x, push %name(x)

	OpAggregate      // [kind offset] start of an aggregate body; offset points past OpAggregateEnd
	OpAggregateEnd   // end of an aggregate body
	OpAggregateValue // [const offset] push a resolved aggregate and skip its body

	OpOnceBlock  // [offset] statement executed in the once pass
	OpPointBlock // [offset] statement executed for every point
	OpStoreSlot  // [slot] pop into a slot
	OpLoadSlot   // [slot] push from a slot

	OpAssignX // pop value, write new[n]
	OpAssignY
	OpAssignS
	OpAssignA
	OpAssignIndexX // pop value and index, write new[index]
	OpAssignIndexY
	OpAssignIndexS
	OpAssignIndexA
	OpAssignRangeX // pop value, hi and lo, write new[n] if lo <= n < hi
	OpAssignRangeY
	OpAssignRangeS
	OpAssignRangeA
	OpResize      // pop count
	OpOrder       // [key] sort the points
	OpDeleteIndex // pop index
	OpDeleteRange // pop hi and lo
	OpDeleteIf    // pop condition, record n for deletion

	numOps
)

type opInfo struct {
	name     string
	operands int
}

var opInfos = [numOps]opInfo{
	OpNumber: {"number", 1}, OpVar: {"var", 1}, OpParam: {"param", 1}, OpX: {"x", 0},

	OpOldX: {"x[]", 0}, OpOldY: {"y[]", 0}, OpOldS: {"s[]", 0}, OpOldA: {"a[]", 0},
	OpNewX: {"X[]", 0}, OpNewY: {"Y[]", 0}, OpNewS: {"S[]", 0}, OpNewA: {"A[]", 0},
	OpN: {"n", 0}, OpM: {"M", 0},

	OpNeg: {"neg", 0}, OpNot: {"not", 0}, OpBool: {"bool", 0},
	OpSqrt: {"sqrt", 0}, OpExp: {"exp", 0}, OpErf: {"erf", 0}, OpErfc: {"erfc", 0},
	OpLog10: {"log10", 0}, OpLn: {"ln", 0}, OpSin: {"sin", 0}, OpCos: {"cos", 0},
	OpTan: {"tan", 0}, OpSinh: {"sinh", 0}, OpCosh: {"cosh", 0}, OpTanh: {"tanh", 0},
	OpAtan: {"atan", 0}, OpAsin: {"asin", 0}, OpAcos: {"acos", 0},
	OpGamma: {"gamma", 0}, OpLgamma: {"lgamma", 0}, OpDigamma: {"digamma", 0},
	OpAbs: {"abs", 0}, OpRound: {"round", 0},

	OpAdd: {"+", 0}, OpSub: {"-", 0}, OpMul: {"*", 0}, OpDiv: {"/", 0},
	OpMod: {"%", 0}, OpPow: {"^", 0}, OpMin2: {"min2", 0}, OpMax2: {"max2", 0},
	OpRandNormal: {"randnormal", 0}, OpRandUniform: {"randuniform", 0},
	OpLt: {"<", 0}, OpLe: {"<=", 0}, OpGt: {">", 0}, OpGe: {">=", 0},
	OpEq: {"==", 0}, OpNe: {"!=", 0},

	OpAnd: {"and", 1}, OpOr: {"or", 1}, OpTernary: {"?", 1}, OpElse: {":", 1},
	OpCall: {"call", 1},

	OpAggregate: {"aggregate", 2}, OpAggregateEnd: {"end-aggregate", 0},
	OpAggregateValue: {"aggregate-value", 2},

	OpOnceBlock: {"once", 1}, OpPointBlock: {"per-point", 1},
	OpStoreSlot: {"store", 1}, OpLoadSlot: {"load", 1},

	OpAssignX: {"X=", 0}, OpAssignY: {"Y=", 0}, OpAssignS: {"S=", 0}, OpAssignA: {"A=", 0},
	OpAssignIndexX: {"X[]=", 0}, OpAssignIndexY: {"Y[]=", 0},
	OpAssignIndexS: {"S[]=", 0}, OpAssignIndexA: {"A[]=", 0},
	OpAssignRangeX: {"X[...]=", 0}, OpAssignRangeY: {"Y[...]=", 0},
	OpAssignRangeS: {"S[...]=", 0}, OpAssignRangeA: {"A[...]=", 0},
	OpResize: {"M=", 0}, OpOrder: {"order=", 1},
	OpDeleteIndex: {"delete[]", 0}, OpDeleteRange: {"delete[...]", 0},
	OpDeleteIf: {"delete()", 0},
}

func (op Op) String() string {
	if 0 <= op && op < numOps {
		return opInfos[op].name
	}
	return fmt.Sprintf("Op(%d)", int32(op))
}

// Operands returns the number of operands following the opcode.
func (op Op) Operands() int {
	return opInfos[op].operands
}

// Valid reports whether op is a known opcode.
func (op Op) Valid() bool {
	return 0 <= op && op < numOps
}

// IsJump reports whether the first operand of op is a relative offset.
func (op Op) IsJump() bool {
	switch op {
	case OpAnd, OpOr, OpTernary, OpElse, OpOnceBlock, OpPointBlock:
		return true
	}
	return false
}

// Aggregate is the kind of an aggregate function.
type Aggregate int32

// Aggregate kinds.
const (
	AggSum Aggregate = iota
	AggCount
	AggMin
	AggMax
	AggAvg
	AggStddev
	numAggregates
)

var aggregateNames = [numAggregates]string{"sum", "count", "min", "max", "avg", "stddev"}

func (a Aggregate) String() string {
	if 0 <= a && a < numAggregates {
		return aggregateNames[a]
	}
	return fmt.Sprintf("Aggregate(%d)", int32(a))
}

// Order keys, stored as the operand of OpOrder as 2*key+desc.
const (
	OrderX int32 = iota
	OrderY
	OrderS
)

// Sortable columns for the order statement.
var orderKeys = map[string]int32{"x": OrderX, "y": OrderY, "s": OrderS}

// Columns of the point arrays, in the order of the X/Y/S/A opcode groups.
const (
	ColX = iota
	ColY
	ColS
	ColA
)

// Column returns the column (ColX etc.) addressed by a point data or
// assignment opcode, and -1 for other opcodes.
func (op Op) Column() int {
	switch {
	case OpOldX <= op && op <= OpOldA:
		return int(op - OpOldX)
	case OpNewX <= op && op <= OpNewA:
		return int(op - OpNewX)
	case OpAssignX <= op && op <= OpAssignA:
		return int(op - OpAssignX)
	case OpAssignIndexX <= op && op <= OpAssignIndexA:
		return int(op - OpAssignIndexX)
	case OpAssignRangeX <= op && op <= OpAssignRangeA:
		return int(op - OpAssignRangeX)
	}
	return -1
}

const columnNames = "xysa"
