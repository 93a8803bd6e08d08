package geometry

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Bounds is an axis-aligned bounding box with its center.
type Bounds struct {
	Min    [3]float64 `json:"min"`
	Max    [3]float64 `json:"max"`
	Center [3]float64 `json:"center"`
}

// ComputeBounds returns the bounds of a flat xyz position buffer.
// Empty input yields all-zero bounds. A trailing partial triple is ignored.
func ComputeBounds(positions []float64) Bounds {
	n := len(positions) / 3
	if n == 0 {
		return Bounds{}
	}

	lo := mgl64.Vec3{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := mgl64.Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			v := positions[i*3+j]
			lo[j] = math.Min(lo[j], v)
			hi[j] = math.Max(hi[j], v)
		}
	}
	center := lo.Add(hi).Mul(0.5)

	return Bounds{
		Min:    roundVec(lo),
		Max:    roundVec(hi),
		Center: roundVec(center),
	}
}

func roundVec(v mgl64.Vec3) [3]float64 {
	return [3]float64{Round(v[0], 6), Round(v[1], 6), Round(v[2], 6)}
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	r := math.Round(v*p) / p
	if r == 0 {
		return 0 // drop negative zero
	}
	return r
}

// RoundAll rounds every element of vs in place and returns it.
func RoundAll(vs []float64, places int) []float64 {
	for i, v := range vs {
		vs[i] = Round(v, places)
	}
	return vs
}
