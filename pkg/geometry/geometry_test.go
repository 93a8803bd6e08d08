package geometry

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestComputeBounds(t *testing.T) {
	tests := []struct {
		name      string
		positions []float64
		want      Bounds
	}{
		{
			name:      "empty",
			positions: nil,
			want:      Bounds{},
		},
		{
			name:      "three points",
			positions: []float64{0, 0, 0, 1, 2, 3, -1, 0, 5},
			want: Bounds{
				Min:    [3]float64{-1, 0, 0},
				Max:    [3]float64{1, 2, 5},
				Center: [3]float64{0, 1, 2.5},
			},
		},
		{
			name:      "trailing partial triple ignored",
			positions: []float64{1, 1, 1, 9, 9},
			want: Bounds{
				Min:    [3]float64{1, 1, 1},
				Max:    [3]float64{1, 1, 1},
				Center: [3]float64{1, 1, 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeBounds(tt.positions); got != tt.want {
				t.Errorf("ComputeBounds() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		v      float64
		places int
		want   float64
	}{
		{1.23456789, 6, 1.234568},
		{0.00004, 4, 0},
		{-0.0000001, 6, 0},
		{2.5, 0, 3},
	}
	for _, tt := range tests {
		if got := Round(tt.v, tt.places); got != tt.want {
			t.Errorf("Round(%v, %d) = %v, want %v", tt.v, tt.places, got, tt.want)
		}
		if math.Signbit(Round(tt.v, tt.places)) && tt.want == 0 {
			t.Errorf("Round(%v, %d) returned negative zero", tt.v, tt.places)
		}
	}
}

func TestBuilder_FanAndCounts(t *testing.T) {
	b := NewBuilder(100)
	if n, over := b.TryAppend(4); n != 4 || over {
		t.Fatalf("TryAppend(4) = %d, %v", n, over)
	}
	var corners []uint32
	for i := 0; i < 4; i++ {
		corners = append(corners, b.Add(Vertex{Position: [3]float64{float64(i), 0, 0}}))
	}
	b.Fan(corners)

	g := b.Build()
	if g.VertexCount != 4 || g.FaceCount != 2 {
		t.Fatalf("counts = %d/%d, want 4/2", g.VertexCount, g.FaceCount)
	}
	want := []uint32{0, 1, 2, 0, 2, 3}
	for i, v := range want {
		if g.Indices[i] != v {
			t.Fatalf("Indices = %v, want %v", g.Indices, want)
		}
	}
	if g.HasNormals || g.HasUVs {
		t.Error("expected no normals/uvs")
	}
	if len(g.Normals) != 0 || g.Normals == nil {
		t.Errorf("Normals should be empty non-nil, got %v", g.Normals)
	}
}

func TestBuilder_PadsMissingAttributes(t *testing.T) {
	b := NewBuilder(10)
	b.TryAppend(2)
	b.Add(Vertex{Position: [3]float64{1, 2, 3}})
	b.Add(Vertex{Position: [3]float64{4, 5, 6}, Normal: [3]float64{0, 1, 0}, HasNormal: true})

	g := b.Build()
	if len(g.Normals) != 6 {
		t.Fatalf("len(Normals) = %d, want 6", len(g.Normals))
	}
	if g.Normals[0] != 0 || g.Normals[4] != 1 {
		t.Errorf("Normals = %v", g.Normals)
	}
	if len(g.UVs) != 0 {
		t.Errorf("UVs should be dropped, got %v", g.UVs)
	}
}

func TestBuilder_TryAppendTruncation(t *testing.T) {
	b := NewBuilder(5)

	if n, over := b.TryAppend(3); n != 3 || over {
		t.Fatalf("first reserve = %d, %v", n, over)
	}
	for i := 0; i < 3; i++ {
		b.Add(Vertex{})
	}
	if n, over := b.TryAppend(4); n != 2 || !over {
		t.Fatalf("second reserve = %d, %v; want 2, true", n, over)
	}
	b.Add(Vertex{})
	b.Add(Vertex{})
	if n, over := b.TryAppend(1); n != 0 || !over {
		t.Fatalf("third reserve = %d, %v; want 0, true", n, over)
	}

	g := b.Build()
	if g.VertexCount != 5 {
		t.Errorf("VertexCount = %d, want 5", g.VertexCount)
	}
	if len(g.Warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", g.Warnings)
	}
	if !strings.Contains(g.Warnings[0], "5 vertices") {
		t.Errorf("warning = %q", g.Warnings[0])
	}
}

func TestBuilder_ExactFitNoWarning(t *testing.T) {
	b := NewBuilder(3)
	if n, over := b.TryAppend(3); n != 3 || over {
		t.Fatalf("TryAppend(3) = %d, %v", n, over)
	}
	if b.Truncated() {
		t.Error("exact fit should not truncate")
	}
}

func TestSampleIndices(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		limit int
	}{
		{"under limit", 10, 500},
		{"at limit", 500, 500},
		{"just over", 501, 500},
		{"double", 1000, 500},
		{"odd", 999, 500},
		{"large", 123457, 500},
		{"tiny limit", 10, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := SampleIndices(tt.n, tt.limit)
			if len(idx) > tt.limit {
				t.Errorf("got %d samples, limit %d", len(idx), tt.limit)
			}
			if idx[0] != 0 || idx[len(idx)-1] != tt.n-1 {
				t.Errorf("first/last = %d/%d, want 0/%d", idx[0], idx[len(idx)-1], tt.n-1)
			}
			for i := 1; i < len(idx); i++ {
				if idx[i] <= idx[i-1] {
					t.Fatalf("indices not increasing at %d: %v", i, idx[i-1:i+1])
				}
			}
			if tt.n <= tt.limit && len(idx) != tt.n {
				t.Errorf("expected all %d samples, got %d", tt.n, len(idx))
			}
		})
	}

	if SampleIndices(0, 10) != nil {
		t.Error("SampleIndices(0) should be nil")
	}
}

func TestPackInfluences(t *testing.T) {
	perVertex := [][]Influence{
		{{Bone: 1, Weight: 0.5}, {Bone: 2, Weight: 0.5}},
		{},
		{
			{Bone: 0, Weight: 0.1}, {Bone: 1, Weight: 0.4}, {Bone: 2, Weight: 0.2},
			{Bone: 3, Weight: 0.3}, {Bone: 4, Weight: 0.05},
		},
		{{Bone: 7, Weight: 2}},
	}

	indices, weights := PackInfluences(perVertex)
	if len(indices) != 16 || len(weights) != 16 {
		t.Fatalf("lengths = %d/%d, want 16/16", len(indices), len(weights))
	}

	for v := 0; v < 4; v++ {
		var sum float64
		for k := 0; k < 4; k++ {
			sum += weights[v*4+k]
		}
		if v == 1 {
			if sum != 0 {
				t.Errorf("vertex 1 weights = %v, want zeros", weights[4:8])
			}
			continue
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Errorf("vertex %d weights sum to %v", v, sum)
		}
	}

	// strongest four of vertex 2, in descending order
	wantBones := []int{1, 3, 2, 0}
	for k, b := range wantBones {
		if indices[8+k] != b {
			t.Errorf("vertex 2 bones = %v, want %v", indices[8:12], wantBones)
			break
		}
	}
	if weights[12] != 1 {
		t.Errorf("single influence should normalize to 1, got %v", weights[12])
	}
}

func TestIdentityMatrix(t *testing.T) {
	m := IdentityMatrix()
	if len(m) != 16 {
		t.Fatalf("len = %d", len(m))
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if m[i*4+j] != want {
				t.Fatalf("m[%d][%d] = %v", i, j, m[i*4+j])
			}
		}
	}
}

func TestGeometry_JSONKeys(t *testing.T) {
	g := NewBuilder(10).Build()
	g.Warn("side channel")
	g.TextureFiles = []string{"texture_0.png"}

	data, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	for _, key := range []string{
		`"vertex_count":0`, `"face_count":0`, `"has_normals":false`, `"has_uvs":false`,
		`"bounds":{"min":[0,0,0],"max":[0,0,0],"center":[0,0,0]}`,
		`"positions":[]`, `"normals":[]`, `"uvs":[]`, `"indices":[]`,
	} {
		if !strings.Contains(s, key) {
			t.Errorf("JSON missing %s: %s", key, s)
		}
	}
	for _, absent := range []string{"materials", "skeleton", "animations", "side channel", "texture_0"} {
		if strings.Contains(s, absent) {
			t.Errorf("JSON should not contain %q: %s", absent, s)
		}
	}
}
