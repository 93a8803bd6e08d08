package fbx

import "fmt"

// PropertyKind is the single-byte type code that prefixes every property.
type PropertyKind byte

// Property type codes.
const (
	KindInt16        PropertyKind = 'Y'
	KindBool         PropertyKind = 'C'
	KindInt32        PropertyKind = 'I'
	KindFloat32      PropertyKind = 'F'
	KindFloat64      PropertyKind = 'D'
	KindInt64        PropertyKind = 'L'
	KindInt32Array   PropertyKind = 'i'
	KindInt64Array   PropertyKind = 'l'
	KindFloat32Array PropertyKind = 'f'
	KindFloat64Array PropertyKind = 'd'
	KindBoolArray    PropertyKind = 'b'
	KindString       PropertyKind = 'S'
	KindRaw          PropertyKind = 'R'
)

// String returns a human-readable kind name.
func (k PropertyKind) String() string {
	switch k {
	case KindInt16:
		return "int16"
	case KindBool:
		return "bool"
	case KindInt32:
		return "int32"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindInt64:
		return "int64"
	case KindInt32Array:
		return "[]int32"
	case KindInt64Array:
		return "[]int64"
	case KindFloat32Array:
		return "[]float32"
	case KindFloat64Array:
		return "[]float64"
	case KindBoolArray:
		return "[]bool"
	case KindString:
		return "string"
	case KindRaw:
		return "raw"
	default:
		return fmt.Sprintf("Unknown(%q)", byte(k))
	}
}

// IsArray reports whether the kind uses the array header encoding.
func (k PropertyKind) IsArray() bool {
	switch k {
	case KindInt32Array, KindInt64Array, KindFloat32Array, KindFloat64Array, KindBoolArray:
		return true
	}
	return false
}

// elemSize returns the byte width of one array element.
func (k PropertyKind) elemSize() int {
	switch k {
	case KindInt32Array, KindFloat32Array:
		return 4
	case KindInt64Array, KindFloat64Array:
		return 8
	case KindBoolArray:
		return 1
	}
	return 0
}

// Property is one decoded node property. Which field is populated depends on
// Kind: integer and bool scalars use Int, float scalars use Float, strings use
// Str, raw blobs use Bytes, integer and bool arrays use Ints and float arrays
// use Floats.
type Property struct {
	Kind   PropertyKind
	Int    int64
	Float  float64
	Str    string
	Bytes  []byte
	Ints   []int64
	Floats []float64
}

// Int64 returns the property as an integer if it is an integer or bool scalar.
func (p Property) Int64() (int64, bool) {
	switch p.Kind {
	case KindInt16, KindBool, KindInt32, KindInt64:
		return p.Int, true
	}
	return 0, false
}

// Float64 returns the property as a float if it is any numeric scalar.
func (p Property) Float64() (float64, bool) {
	switch p.Kind {
	case KindFloat32, KindFloat64:
		return p.Float, true
	case KindInt16, KindBool, KindInt32, KindInt64:
		return float64(p.Int), true
	}
	return 0, false
}

// AsString returns the property as a string if it is a string.
func (p Property) AsString() (string, bool) {
	if p.Kind == KindString {
		return p.Str, true
	}
	return "", false
}

// Int64s returns an integer array property. Float arrays are truncated.
func (p Property) Int64s() []int64 {
	switch p.Kind {
	case KindInt32Array, KindInt64Array, KindBoolArray:
		return p.Ints
	case KindFloat32Array, KindFloat64Array:
		out := make([]int64, len(p.Floats))
		for i, v := range p.Floats {
			out[i] = int64(v)
		}
		return out
	}
	return nil
}

// Float64s returns a numeric array property as floats.
func (p Property) Float64s() []float64 {
	switch p.Kind {
	case KindFloat32Array, KindFloat64Array:
		return p.Floats
	case KindInt32Array, KindInt64Array, KindBoolArray:
		out := make([]float64, len(p.Ints))
		for i, v := range p.Ints {
			out[i] = float64(v)
		}
		return out
	}
	return nil
}

// Summary returns a short description used by node dumps.
func (p Property) Summary() string {
	switch p.Kind {
	case KindInt16, KindBool, KindInt32, KindInt64:
		return fmt.Sprintf("%s(%d)", p.Kind, p.Int)
	case KindFloat32, KindFloat64:
		return fmt.Sprintf("%s(%g)", p.Kind, p.Float)
	case KindString:
		return fmt.Sprintf("%q", p.Str)
	case KindRaw:
		return fmt.Sprintf("raw[%d bytes]", len(p.Bytes))
	case KindInt32Array, KindInt64Array, KindBoolArray:
		return fmt.Sprintf("%s[%d]", p.Kind, len(p.Ints))
	case KindFloat32Array, KindFloat64Array:
		return fmt.Sprintf("%s[%d]", p.Kind, len(p.Floats))
	}
	return p.Kind.String()
}
