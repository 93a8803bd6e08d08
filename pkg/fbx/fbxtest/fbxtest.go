// Package fbxtest builds binary FBX files in memory for tests.
package fbxtest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"

	"github.com/Faultbox/modelprep/pkg/fbx"
)

// Encoder serializes node trees to the binary FBX layout.
type Encoder struct {
	Version uint32
	// Compress stores array properties zlib-compressed.
	Compress bool
}

// Encode writes the header followed by the given top-level nodes.
func (e Encoder) Encode(nodes ...*fbx.Node) []byte {
	var buf bytes.Buffer
	buf.WriteString(fbx.Magic)
	buf.Write([]byte{0x1A, 0x00})
	binary.Write(&buf, binary.LittleEndian, e.Version)

	for _, n := range nodes {
		e.writeNode(&buf, n)
	}
	buf.Write(make([]byte, e.headerLen()))
	return buf.Bytes()
}

func (e Encoder) headerLen() int {
	if e.Version >= fbx.Version64 {
		return 25
	}
	return 13
}

func (e Encoder) writeNode(buf *bytes.Buffer, n *fbx.Node) {
	start := buf.Len()
	buf.Write(make([]byte, e.headerLen()-1))
	buf.WriteByte(byte(len(n.Name)))
	buf.WriteString(n.Name)

	propStart := buf.Len()
	for _, p := range n.Properties {
		e.writeProperty(buf, p)
	}
	propLen := buf.Len() - propStart

	if len(n.Children) > 0 {
		for _, c := range n.Children {
			e.writeNode(buf, c)
		}
		buf.Write(make([]byte, e.headerLen()))
	}

	out := buf.Bytes()
	if e.Version >= fbx.Version64 {
		binary.LittleEndian.PutUint64(out[start:], uint64(buf.Len()))
		binary.LittleEndian.PutUint64(out[start+8:], uint64(len(n.Properties)))
		binary.LittleEndian.PutUint64(out[start+16:], uint64(propLen))
	} else {
		binary.LittleEndian.PutUint32(out[start:], uint32(buf.Len()))
		binary.LittleEndian.PutUint32(out[start+4:], uint32(len(n.Properties)))
		binary.LittleEndian.PutUint32(out[start+8:], uint32(propLen))
	}
}

func (e Encoder) writeProperty(buf *bytes.Buffer, p fbx.Property) {
	buf.WriteByte(byte(p.Kind))
	le := binary.LittleEndian
	switch p.Kind {
	case fbx.KindInt16:
		binary.Write(buf, le, int16(p.Int))
	case fbx.KindBool:
		buf.WriteByte(byte(p.Int))
	case fbx.KindInt32:
		binary.Write(buf, le, int32(p.Int))
	case fbx.KindFloat32:
		binary.Write(buf, le, float32(p.Float))
	case fbx.KindFloat64:
		binary.Write(buf, le, p.Float)
	case fbx.KindInt64:
		binary.Write(buf, le, p.Int)
	case fbx.KindString:
		binary.Write(buf, le, uint32(len(p.Str)))
		buf.WriteString(p.Str)
	case fbx.KindRaw:
		binary.Write(buf, le, uint32(len(p.Bytes)))
		buf.Write(p.Bytes)
	default:
		e.writeArray(buf, p)
	}
}

func (e Encoder) writeArray(buf *bytes.Buffer, p fbx.Property) {
	var payload bytes.Buffer
	le := binary.LittleEndian
	count := 0
	switch p.Kind {
	case fbx.KindInt32Array:
		count = len(p.Ints)
		for _, v := range p.Ints {
			binary.Write(&payload, le, int32(v))
		}
	case fbx.KindInt64Array:
		count = len(p.Ints)
		for _, v := range p.Ints {
			binary.Write(&payload, le, v)
		}
	case fbx.KindBoolArray:
		count = len(p.Ints)
		for _, v := range p.Ints {
			payload.WriteByte(byte(v))
		}
	case fbx.KindFloat32Array:
		count = len(p.Floats)
		for _, v := range p.Floats {
			binary.Write(&payload, le, math.Float32bits(float32(v)))
		}
	case fbx.KindFloat64Array:
		count = len(p.Floats)
		for _, v := range p.Floats {
			binary.Write(&payload, le, v)
		}
	}

	data := payload.Bytes()
	var enc uint32
	if e.Compress {
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		zw.Write(data)
		zw.Close()
		data = z.Bytes()
		enc = 1
	}
	binary.Write(buf, le, uint32(count))
	binary.Write(buf, le, enc)
	binary.Write(buf, le, uint32(len(data)))
	buf.Write(data)
}

// Int64 returns an int64 scalar property.
func Int64(v int64) fbx.Property { return fbx.Property{Kind: fbx.KindInt64, Int: v} }

// Int32 returns an int32 scalar property.
func Int32(v int32) fbx.Property { return fbx.Property{Kind: fbx.KindInt32, Int: int64(v)} }

// Float64 returns a float64 scalar property.
func Float64(v float64) fbx.Property { return fbx.Property{Kind: fbx.KindFloat64, Float: v} }

// String returns a string property.
func String(s string) fbx.Property { return fbx.Property{Kind: fbx.KindString, Str: s} }

// Raw returns a raw blob property.
func Raw(b []byte) fbx.Property { return fbx.Property{Kind: fbx.KindRaw, Bytes: b} }

// Int32s returns an int32 array property.
func Int32s(vs ...int64) fbx.Property { return fbx.Property{Kind: fbx.KindInt32Array, Ints: vs} }

// Int64s returns an int64 array property.
func Int64s(vs ...int64) fbx.Property { return fbx.Property{Kind: fbx.KindInt64Array, Ints: vs} }

// Float64s returns a float64 array property.
func Float64s(vs ...float64) fbx.Property { return fbx.Property{Kind: fbx.KindFloat64Array, Floats: vs} }

// Float32s returns a float32 array property.
func Float32s(vs ...float64) fbx.Property { return fbx.Property{Kind: fbx.KindFloat32Array, Floats: vs} }

// Node builds a node with children.
func Node(name string, props []fbx.Property, children ...*fbx.Node) *fbx.Node {
	n := fbx.NewNode(name, props...)
	for _, c := range children {
		n.Add(c)
	}
	return n
}

// Props is shorthand for a property list.
func Props(ps ...fbx.Property) []fbx.Property { return ps }

// P builds a Properties70 "P" record: name, type, label, flags, values.
func P(name, typ string, values ...fbx.Property) *fbx.Node {
	props := append([]fbx.Property{String(name), String(typ), String(""), String("A")}, values...)
	return fbx.NewNode("P", props...)
}

// Connection builds a "C" record linking child to parent, optionally on a
// named property.
func Connection(child, parent int64, propName string) *fbx.Node {
	kind := "OO"
	props := []fbx.Property{String(kind), Int64(child), Int64(parent)}
	if propName != "" {
		props[0] = String("OP")
		props = append(props, String(propName))
	}
	return fbx.NewNode("C", props...)
}
