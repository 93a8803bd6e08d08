package geometry

import (
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// SampleIndices picks which of n keyframes to keep so that at most limit remain.
// Sampling uses a uniform stride and always keeps the first and last key.
func SampleIndices(n, limit int) []int {
	if n <= 0 {
		return nil
	}
	if limit < 2 {
		limit = 2
	}
	if n <= limit {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}

	step := (n - 1 + limit - 2) / (limit - 1) // ceil((n-1)/(limit-1))
	idx := make([]int, 0, limit)
	for i := 0; i < n-1; i += step {
		idx = append(idx, i)
	}
	return append(idx, n-1)
}

// Influence is one bone's weight on a vertex.
type Influence struct {
	Bone   int
	Weight float64
}

// MaxInfluences is the number of bone influences kept per vertex.
const MaxInfluences = 4

// PackInfluences keeps the strongest four influences of every vertex,
// renormalizes them to sum to one and flattens them into parallel index and
// weight streams. Vertices without influences get all-zero quadruples.
func PackInfluences(perVertex [][]Influence) (indices []int, weights []float64) {
	indices = make([]int, 0, len(perVertex)*MaxInfluences)
	weights = make([]float64, 0, len(perVertex)*MaxInfluences)

	for _, inf := range perVertex {
		sort.SliceStable(inf, func(i, j int) bool {
			return inf[i].Weight > inf[j].Weight
		})
		if len(inf) > MaxInfluences {
			inf = inf[:MaxInfluences]
		}

		var total float64
		for _, in := range inf {
			total += in.Weight
		}

		var bi [MaxInfluences]int
		var bw [MaxInfluences]float64
		for k, in := range inf {
			bi[k] = in.Bone
			if total > 0 {
				bw[k] = Round(in.Weight/total, 6)
			}
		}
		indices = append(indices, bi[:]...)
		weights = append(weights, bw[:]...)
	}
	return indices, weights
}

// IdentityMatrix returns a flat 4x4 identity matrix.
func IdentityMatrix() []float64 {
	m := mgl64.Ident4()
	out := make([]float64, len(m))
	copy(out, m[:])
	return out
}
