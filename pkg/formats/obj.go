package formats

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Faultbox/modelprep/pkg/encoding"
	"github.com/Faultbox/modelprep/pkg/geometry"
)

// objKey identifies a position/uv/normal reference triple. Missing
// components are -1.
type objKey [3]int

// ParseOBJ parses Wavefront OBJ text. Identical vertex references are
// welded; polygons are fan-triangulated. Once the vertex ceiling is reached
// the remaining faces are dropped and one warning is recorded.
func ParseOBJ(data []byte, limits geometry.Limits) (*geometry.Geometry, error) {
	var positions, normals [][3]float64
	var uvs [][2]float64

	b := geometry.NewBuilder(limits.MaxVertices)
	welded := make(map[objKey]uint32)

	text := encoding.DecodeUTF8(data)
	for lineNo, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)

		switch parts[0] {
		case "v":
			if len(parts) < 4 {
				continue
			}
			v, err := parseFloats(parts[1:4])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			positions = append(positions, [3]float64{v[0], v[1], v[2]})
		case "vn":
			if len(parts) < 4 {
				continue
			}
			v, err := parseFloats(parts[1:4])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			normals = append(normals, [3]float64{v[0], v[1], v[2]})
		case "vt":
			if len(parts) < 3 {
				continue
			}
			v, err := parseFloats(parts[1:3])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			uvs = append(uvs, [2]float64{v[0], v[1]})
		case "f":
			if b.Truncated() {
				continue
			}
			corners := make([]uint32, 0, len(parts)-1)
			for _, ref := range parts[1:] {
				key, err := parseFaceRef(ref, len(positions), len(uvs), len(normals))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
				}
				idx, ok := welded[key]
				if !ok {
					if n, _ := b.TryAppend(1); n == 0 {
						break
					}
					idx = b.Add(objVertex(key, positions, uvs, normals))
					welded[key] = idx
				}
				corners = append(corners, idx)
			}
			if b.Truncated() {
				continue
			}
			b.Fan(corners)
		}
	}

	return b.Build(), nil
}

// ParseOBJFile parses an OBJ file from disk.
func ParseOBJFile(path string, limits geometry.Limits) (*geometry.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading OBJ file: %w", err)
	}
	return ParseOBJ(data, limits)
}

func objVertex(key objKey, positions [][3]float64, uvs [][2]float64, normals [][3]float64) geometry.Vertex {
	var v geometry.Vertex
	if key[0] >= 0 && key[0] < len(positions) {
		v.Position = positions[key[0]]
	}
	if key[1] >= 0 && key[1] < len(uvs) {
		v.UV = uvs[key[1]]
		v.HasUV = true
	}
	if key[2] >= 0 && key[2] < len(normals) {
		v.Normal = normals[key[2]]
		v.HasNormal = true
	}
	return v
}

// parseFaceRef parses "v", "v/vt", "v//vn" or "v/vt/vn" into zero-based
// indices. Negative references count back from the current list end.
func parseFaceRef(ref string, nPos, nUV, nNorm int) (objKey, error) {
	key := objKey{-1, -1, -1}
	counts := [3]int{nPos, nUV, nNorm}
	for i, field := range strings.SplitN(ref, "/", 3) {
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return key, fmt.Errorf("%w: face reference %q", ErrMalformedNumber, ref)
		}
		if n < 0 {
			key[i] = counts[i] + n
		} else {
			key[i] = n - 1
		}
	}
	return key, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedNumber, f)
		}
		out[i] = v
	}
	return out, nil
}
