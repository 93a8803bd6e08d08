// Package geometry defines the normalized geometry document produced by the
// model decoders, plus the shared building blocks every decoder uses:
// bounds, the truncating vertex builder, keyframe decimation and skin weights.
package geometry

// Default limits applied when decoding a model.
const (
	DefaultMaxVertices  = 100_000
	DefaultMaxBones     = 128
	DefaultMaxKeyframes = 500
)

// Limits caps the size of a decoded model.
type Limits struct {
	MaxVertices  int
	MaxBones     int
	MaxKeyframes int
}

// DefaultLimits returns the standard decode limits.
func DefaultLimits() Limits {
	return Limits{
		MaxVertices:  DefaultMaxVertices,
		MaxBones:     DefaultMaxBones,
		MaxKeyframes: DefaultMaxKeyframes,
	}
}

// Track property names.
const (
	PropertyTranslation = "translation"
	PropertyRotation    = "rotation"
	PropertyScale       = "scale"
)

// Geometry is the single output document written to geometry.json.
type Geometry struct {
	VertexCount int         `json:"vertex_count"`
	FaceCount   int         `json:"face_count"`
	HasNormals  bool        `json:"has_normals"`
	HasUVs      bool        `json:"has_uvs"`
	Bounds      Bounds      `json:"bounds"`
	Positions   []float64   `json:"positions"`
	Normals     []float64   `json:"normals"`
	UVs         []float64   `json:"uvs"`
	Indices     []uint32    `json:"indices"`
	Materials   []Material  `json:"materials,omitempty"`
	Skeleton    *Skeleton   `json:"skeleton,omitempty"`
	Animations  []Animation `json:"animations,omitempty"`

	// Side channels, never serialized.
	Warnings     []string `json:"-"`
	TextureFiles []string `json:"-"`
}

// Material is a flattened surface description.
type Material struct {
	Name           string    `json:"name"`
	DiffuseColor   []float64 `json:"diffuse_color,omitempty"`
	SpecularColor  []float64 `json:"specular_color,omitempty"`
	EmissiveColor  []float64 `json:"emissive_color,omitempty"`
	Opacity        *float64  `json:"opacity,omitempty"`
	Shininess      *float64  `json:"shininess,omitempty"`
	DiffuseTexture string    `json:"diffuse_texture,omitempty"`
	NormalTexture  string    `json:"normal_texture,omitempty"`
}

// Bone is one joint of a skeleton. Parent is an index into the same bone
// list, or -1 for a root.
type Bone struct {
	Name              string    `json:"name"`
	Parent            int       `json:"parent"`
	InverseBindMatrix []float64 `json:"inverse_bind_matrix"`
}

// Skeleton holds bones and four influences per vertex.
type Skeleton struct {
	Bones       []Bone    `json:"bones"`
	BoneIndices []int     `json:"bone_indices"`
	BoneWeights []float64 `json:"bone_weights"`
}

// Track is one animated property of one bone.
type Track struct {
	BoneIndex int       `json:"bone_index"`
	Property  string    `json:"property"`
	Times     []float64 `json:"times"`
	Values    []float64 `json:"values"`
}

// Animation is a named clip.
type Animation struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
	Tracks   []Track `json:"tracks"`
}

// Warn appends a non-fatal warning.
func (g *Geometry) Warn(msg string) {
	g.Warnings = append(g.Warnings, msg)
}
