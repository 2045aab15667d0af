package vm

import (
	"math"

	"src.xyfit.dev/pkg/expr"
)

// resolveAggregates replaces every aggregate in the code with its value over
// the given points. Nested aggregates are resolved innermost first, so the
// body of an aggregate never contains an unresolved one when it runs. The
// code and constants are copied before the first replacement; the program
// itself is never modified.
func (m *machine) resolveAggregates(points []Point) {
	copied := false
	for {
		start, end := innermostAggregate(m.code)
		if start < 0 {
			return
		}
		if !copied {
			m.code = append([]int32(nil), m.code...)
			m.consts = append([]float64(nil), m.consts...)
			copied = true
		}
		kind := expr.Aggregate(m.code[start+1])
		v := reduce(kind, m.aggregateValues(start+3, end-1, points))
		logger.Printf("aggregate %s at %d = %g", kind, start, v)
		// OpAggregateValue has the same operands as OpAggregate, and its
		// offset still points past the body.
		m.code[start] = int32(expr.OpAggregateValue)
		m.code[start+1] = int32(len(m.consts))
		m.consts = append(m.consts, v)
	}
}

// innermostAggregate returns the positions of the first unresolved aggregate
// whose body contains no unresolved aggregate, and of the end of its
// OpAggregateEnd. It returns -1, -1 if there is none.
func innermostAggregate(code []int32) (start, end int) {
	last := -1
	for pc := 0; pc < len(code); {
		op := expr.Op(code[pc])
		switch op {
		case expr.OpAggregate:
			last = pc
		case expr.OpAggregateEnd:
			return last, pc + 1
		case expr.OpAggregateValue:
			pc += int(code[pc+2])
			continue
		}
		pc += 1 + op.Operands()
	}
	return -1, -1
}

// aggregateValues evaluates the body in [start, end) at every point. The body
// sees a private copy of the points as the new array.
func (m *machine) aggregateValues(start, end int, points []Point) []float64 {
	sub := &machine{
		code: m.code, consts: m.consts, names: m.names, slots: m.slots,
		env: m.env, opt: m.opt, eps: m.eps, rand: m.rand,
		mode: modePerPoint, old: points, new: clonePoints(points),
	}
	values := make([]float64, len(points))
	for i := range points {
		sub.n = i
		sub.run(start, end)
		values[i] = sub.pop()
		if sub.sp != 0 {
			panic("stack not empty after aggregate body")
		}
	}
	m.rand = sub.rand
	return values
}

func reduce(kind expr.Aggregate, values []float64) float64 {
	switch kind {
	case expr.AggSum:
		return sum(values)
	case expr.AggCount:
		count := 0
		for _, v := range values {
			if Truthy(v) {
				count++
			}
		}
		return float64(count)
	case expr.AggMin, expr.AggMax:
		if len(values) == 0 {
			return 0
		}
		r := values[0]
		for _, v := range values[1:] {
			if kind == expr.AggMin {
				r = math.Min(r, v)
			} else {
				r = math.Max(r, v)
			}
		}
		return r
	case expr.AggAvg:
		if len(values) == 0 {
			return 0
		}
		return sum(values) / float64(len(values))
	case expr.AggStddev:
		if len(values) < 2 {
			return 0
		}
		mean := sum(values) / float64(len(values))
		ss := 0.0
		for _, v := range values {
			ss += (v - mean) * (v - mean)
		}
		return math.Sqrt(ss / float64(len(values)-1))
	}
	panic("unknown aggregate " + kind.String())
}

func sum(values []float64) float64 {
	s := 0.0
	for _, v := range values {
		s += v
	}
	return s
}
