package vm

import (
	"fmt"
	"math"

	"src.xyfit.dev/pkg/expr"
)

// Point is one data point.
type Point struct {
	X, Y, Sigma float64
	Active      bool
}

// NewPoint is the point created when a dataset grows.
var NewPoint = Point{X: 0, Y: 0, Sigma: 1, Active: true}

// Values with an absolute value below this are false when assigned to A.
const activeThreshold = 1e-9

func (p Point) String() string {
	active := ""
	if !p.Active {
		active = " (inactive)"
	}
	return fmt.Sprintf("%g %g %g%s", p.X, p.Y, p.Sigma, active)
}

func (p *Point) get(col int) float64 {
	switch col {
	case expr.ColX:
		return p.X
	case expr.ColY:
		return p.Y
	case expr.ColS:
		return p.Sigma
	default:
		if p.Active {
			return 1
		}
		return 0
	}
}

func (p *Point) set(col int, v float64) {
	switch col {
	case expr.ColX:
		p.X = v
	case expr.ColY:
		p.Y = v
	case expr.ColS:
		p.Sigma = v
	default:
		p.Active = math.Abs(v) >= activeThreshold
	}
}

func clonePoints(points []Point) []Point {
	return append([]Point(nil), points...)
}
