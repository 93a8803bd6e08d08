package geometry

import "fmt"

// Vertex is one output vertex. HasNormal and HasUV mark whether the source
// supplied those attributes for this vertex.
type Vertex struct {
	Position  [3]float64
	Normal    [3]float64
	UV        [2]float64
	HasNormal bool
	HasUV     bool
}

// Builder accumulates vertices and triangles across every mesh of a file and
// enforces the vertex ceiling. Vertices without a normal or UV are padded with
// zeros so the attribute streams stay aligned; streams nobody filled are
// dropped by Build.
type Builder struct {
	limit     int
	positions []float64
	normals   []float64
	uvs       []float64
	indices   []uint32
	faces     int
	anyNormal bool
	anyUV     bool
	truncated bool
	warnings  []string
}

// NewBuilder returns a builder that accepts at most maxVertices vertices.
func NewBuilder(maxVertices int) *Builder {
	return &Builder{limit: maxVertices}
}

// VertexCount returns the number of vertices added so far.
func (b *Builder) VertexCount() int {
	return len(b.positions) / 3
}

// Truncated reports whether the vertex ceiling has been reached.
func (b *Builder) Truncated() bool {
	return b.truncated
}

// TryAppend reserves room for n new vertices and returns how many of them
// fit. When fewer than n fit, overflowed is true and a single truncation
// warning is recorded for the whole file.
func (b *Builder) TryAppend(n int) (granted int, overflowed bool) {
	if n <= 0 {
		return 0, false
	}
	remaining := b.limit - b.VertexCount()
	if remaining < 0 {
		remaining = 0
	}
	if n <= remaining && !b.truncated {
		return n, false
	}
	if b.truncated {
		return 0, true
	}
	b.truncated = true
	b.warnings = append(b.warnings, fmt.Sprintf("Model exceeds %d vertices, truncated", b.limit))
	return remaining, true
}

// Add appends a vertex and returns its index. Callers reserve room with
// TryAppend first.
func (b *Builder) Add(v Vertex) uint32 {
	idx := uint32(b.VertexCount())
	b.positions = append(b.positions, v.Position[0], v.Position[1], v.Position[2])
	b.normals = append(b.normals, v.Normal[0], v.Normal[1], v.Normal[2])
	b.uvs = append(b.uvs, v.UV[0], v.UV[1])
	b.anyNormal = b.anyNormal || v.HasNormal
	b.anyUV = b.anyUV || v.HasUV
	return idx
}

// Triangle appends one face.
func (b *Builder) Triangle(i0, i1, i2 uint32) {
	b.indices = append(b.indices, i0, i1, i2)
	b.faces++
}

// Fan triangulates a polygon from its first corner.
func (b *Builder) Fan(corners []uint32) {
	for i := 1; i+1 < len(corners); i++ {
		b.Triangle(corners[0], corners[i], corners[i+1])
	}
}

// Warn records a non-fatal warning.
func (b *Builder) Warn(msg string) {
	b.warnings = append(b.warnings, msg)
}

// Build produces the geometry document. Attribute values are rounded to six
// decimals.
func (b *Builder) Build() *Geometry {
	g := &Geometry{
		VertexCount: b.VertexCount(),
		FaceCount:   b.faces,
		Positions:   RoundAll(nonNil(b.positions), 6),
		Normals:     []float64{},
		UVs:         []float64{},
		Indices:     b.indices,
		Warnings:    b.warnings,
	}
	if g.Indices == nil {
		g.Indices = []uint32{}
	}
	if b.anyNormal {
		g.Normals = RoundAll(b.normals, 6)
	}
	if b.anyUV {
		g.UVs = RoundAll(b.uvs, 6)
	}
	g.HasNormals = len(g.Normals) > 0
	g.HasUVs = len(g.UVs) > 0
	g.Bounds = ComputeBounds(g.Positions)
	return g
}

func nonNil(vs []float64) []float64 {
	if vs == nil {
		return []float64{}
	}
	return vs
}
