// internal/policy/kconvexity.go
package policy

import (
	"slices"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
)

// Point is one sample (x, G(x)) of a cost function.
type Point struct {
	X float64 `json:"x"`
	G float64 `json:"g"`
}

// Violation is a triple x < y < z breaking K-convexity.
type Violation struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Slack float64 `json:"slack"`
}

const convexityTolerance = 1e-9

// CheckKConvexity reports every triple of points where
// K + G(z) - G(y) - (z-y)/(y-x) * (G(y)-G(x)) is negative. An empty result means
// G is K-convex on the sampled points.
func CheckKConvexity(points []Point, k float64) []Violation {
	pts := slices.Clone(points)
	slices.SortFunc(pts, func(a, b Point) int {
		switch {
		case a.X < b.X:
			return -1
		case a.X > b.X:
			return 1
		}
		return 0
	})

	var out []Violation
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			x, y := pts[i], pts[j]
			if y.X == x.X {
				continue
			}
			slope := (y.G - x.G) / (y.X - x.X)
			for l := j + 1; l < len(pts); l++ {
				z := pts[l]
				slack := k + z.G - y.G - (z.X-y.X)*slope
				if slack < -convexityTolerance {
					out = append(out, Violation{X: x.X, Y: y.X, Z: z.X, Slack: slack})
				}
			}
		}
	}
	return out
}

// CostCurve turns the optimal values of period-1 roots into G(x) = -V(x) for
// a maximisation, so that K-convexity is checked on a cost.
func CostCurve(roots []domain.DecisionState, values []float64, dir domain.Direction) []Point {
	pts := make([]Point, len(roots))
	for i, st := range roots {
		g := values[i]
		if dir == domain.Maximize {
			g = -g
		}
		pts[i] = Point{X: st.Inventory, G: g}
	}
	return pts
}
