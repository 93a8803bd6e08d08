// Package fbx decodes the node tree of binary FBX files without interpreting
// it. Semantic extraction (meshes, materials, skins) lives in pkg/formats.
package fbx

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/Faultbox/modelprep/pkg/encoding"
)

// Magic is the signature at the start of every binary FBX file.
const Magic = "Kaydara FBX Binary  \x00"

// HeaderSize is the size of the fixed file header. The version is stored as
// a little-endian uint32 at VersionOffset.
const (
	HeaderSize    = 27
	VersionOffset = 23
)

// Version64 is the first version using 64-bit node record framing.
const Version64 = 7500

// FBX format errors.
var (
	ErrInvalidHeader       = errors.New("invalid FBX header: expected 'Kaydara FBX Binary'")
	ErrUnknownPropertyType = errors.New("unknown FBX property type")
	ErrInflate             = errors.New("inflating FBX array property")
	ErrArrayTooLarge       = errors.New("FBX array property too large")
)

// MaxArrayBytes caps the decoded size of a single array property.
const MaxArrayBytes = 256 << 20

// errTruncated stops consumption without failing the parse.
var errTruncated = errors.New("truncated FBX data")

// Document is a parsed binary FBX file. Root is a synthetic node holding the
// top-level records.
type Document struct {
	Version uint32
	Root    *Node
}

// Is64 reports whether the file uses 64-bit record framing.
func (d *Document) Is64() bool {
	return d.Version >= Version64
}

// Parse decodes a binary FBX file held in memory. Records that run past the
// end of the buffer end the walk; everything read up to that point is kept.
func Parse(data []byte) (*Document, error) {
	if len(data) < HeaderSize || string(data[:len(Magic)]) != Magic {
		return nil, ErrInvalidHeader
	}

	r := &reader{data: data}
	doc := &Document{
		Version: binary.LittleEndian.Uint32(data[VersionOffset:]),
		Root:    &Node{},
	}
	if doc.Is64() {
		r.headerLen = 25
	} else {
		r.headerLen = 13
	}

	offset := HeaderSize
	for offset < len(data)-r.headerLen {
		node, next, err := r.readNode(offset)
		if err != nil {
			return nil, err
		}
		if node == nil {
			break
		}
		doc.Root.Add(node)
		offset = next
	}

	return doc, nil
}

// ParseFile parses a binary FBX file from disk.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading FBX file: %w", err)
	}
	return Parse(data)
}

// Child returns the first top-level record with the given name.
func (d *Document) Child(name string) *Node {
	return d.Root.Child(name)
}

type reader struct {
	data []byte
	// headerLen is the record header size, which is also the size of the
	// all-zero null record that closes a child list.
	headerLen int
}

func (r *reader) is64() bool {
	return r.headerLen == 25
}

// readNode decodes the record at offset. A nil node with no error means the
// walk should stop: a null record, or framing past the end of the buffer.
func (r *reader) readNode(offset int) (*Node, int, error) {
	data := r.data
	if offset < 0 || offset+r.headerLen > len(data) {
		return nil, len(data), nil
	}

	var endOffset, numProps, propListLen uint64
	if r.is64() {
		endOffset = binary.LittleEndian.Uint64(data[offset:])
		numProps = binary.LittleEndian.Uint64(data[offset+8:])
		propListLen = binary.LittleEndian.Uint64(data[offset+16:])
	} else {
		endOffset = uint64(binary.LittleEndian.Uint32(data[offset:]))
		numProps = uint64(binary.LittleEndian.Uint32(data[offset+4:]))
		propListLen = uint64(binary.LittleEndian.Uint32(data[offset+8:]))
	}
	nameLen := int(data[offset+r.headerLen-1])

	if endOffset == 0 {
		return nil, offset + r.headerLen, nil
	}
	if endOffset > uint64(len(data)) || endOffset <= uint64(offset) {
		return nil, len(data), nil
	}
	end := int(endOffset)

	nameStart := offset + r.headerLen
	propStart := nameStart + nameLen
	if propStart > end {
		return nil, len(data), nil
	}
	node := &Node{Name: string(data[nameStart:propStart])}

	po := propStart
	for i := uint64(0); i < numProps; i++ {
		prop, next, err := r.readProperty(po)
		if errors.Is(err, errTruncated) {
			return nil, len(data), nil
		}
		if err != nil {
			return nil, 0, fmt.Errorf("node %q property %d: %w", node.Name, i, err)
		}
		node.Properties = append(node.Properties, prop)
		po = next
	}

	if propListLen > uint64(end-propStart) {
		return node, end, nil
	}
	childOffset := propStart + int(propListLen)
	for childOffset < end-r.headerLen {
		child, next, err := r.readNode(childOffset)
		if err != nil {
			return nil, 0, err
		}
		if child == nil {
			break
		}
		node.Add(child)
		childOffset = next
	}

	return node, end, nil
}

// readProperty decodes one type-prefixed property at offset.
func (r *reader) readProperty(offset int) (Property, int, error) {
	data := r.data
	if offset >= len(data) {
		return Property{}, 0, errTruncated
	}
	kind := PropertyKind(data[offset])
	offset++

	need := func(n int) error {
		if n < 0 || offset+n > len(data) {
			return errTruncated
		}
		return nil
	}

	if kind.IsArray() {
		return r.readArray(kind, offset)
	}
	switch kind {
	case KindInt16:
		if err := need(2); err != nil {
			return Property{}, 0, err
		}
		v := int16(binary.LittleEndian.Uint16(data[offset:]))
		return Property{Kind: kind, Int: int64(v)}, offset + 2, nil
	case KindBool:
		if err := need(1); err != nil {
			return Property{}, 0, err
		}
		var v int64
		if data[offset] != 0 {
			v = 1
		}
		return Property{Kind: kind, Int: v}, offset + 1, nil
	case KindInt32:
		if err := need(4); err != nil {
			return Property{}, 0, err
		}
		v := int32(binary.LittleEndian.Uint32(data[offset:]))
		return Property{Kind: kind, Int: int64(v)}, offset + 4, nil
	case KindFloat32:
		if err := need(4); err != nil {
			return Property{}, 0, err
		}
		v := math.Float32frombits(binary.LittleEndian.Uint32(data[offset:]))
		return Property{Kind: kind, Float: float64(v)}, offset + 4, nil
	case KindFloat64:
		if err := need(8); err != nil {
			return Property{}, 0, err
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
		return Property{Kind: kind, Float: v}, offset + 8, nil
	case KindInt64:
		if err := need(8); err != nil {
			return Property{}, 0, err
		}
		v := int64(binary.LittleEndian.Uint64(data[offset:]))
		return Property{Kind: kind, Int: v}, offset + 8, nil
	case KindString, KindRaw:
		if err := need(4); err != nil {
			return Property{}, 0, err
		}
		n := int(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
		if err := need(n); err != nil {
			return Property{}, 0, err
		}
		raw := data[offset : offset+n]
		if kind == KindString {
			return Property{Kind: kind, Str: encoding.DecodeUTF8(raw)}, offset + n, nil
		}
		blob := make([]byte, n)
		copy(blob, raw)
		return Property{Kind: kind, Bytes: blob}, offset + n, nil
	default:
		return Property{}, 0, fmt.Errorf("%w: %q", ErrUnknownPropertyType, byte(kind))
	}
}

// readArray decodes an array property: [length][encoding][byte length] then
// the payload, zlib-compressed when encoding is 1.
func (r *reader) readArray(kind PropertyKind, offset int) (Property, int, error) {
	data := r.data
	if offset+12 > len(data) {
		return Property{}, 0, errTruncated
	}
	count := int(binary.LittleEndian.Uint32(data[offset:]))
	enc := binary.LittleEndian.Uint32(data[offset+4:])
	byteLen := int(binary.LittleEndian.Uint32(data[offset+8:]))
	offset += 12
	if byteLen < 0 || offset+byteLen > len(data) {
		return Property{}, 0, errTruncated
	}
	raw := data[offset : offset+byteLen]
	next := offset + byteLen

	size := kind.elemSize()
	if want := int64(count) * int64(size); want > MaxArrayBytes {
		return Property{}, 0, fmt.Errorf("%w: %d bytes declared", ErrArrayTooLarge, want)
	}
	if enc == 1 {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return Property{}, 0, fmt.Errorf("%w: %v", ErrInflate, err)
		}
		inflated, err := io.ReadAll(io.LimitReader(zr, int64(count)*int64(size)))
		zr.Close()
		if err != nil {
			return Property{}, 0, fmt.Errorf("%w: %v", ErrInflate, err)
		}
		raw = inflated
	}
	if len(raw) < count*size {
		return Property{}, 0, errTruncated
	}

	prop := Property{Kind: kind}
	switch kind {
	case KindInt32Array:
		prop.Ints = make([]int64, count)
		for i := range prop.Ints {
			prop.Ints[i] = int64(int32(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	case KindInt64Array:
		prop.Ints = make([]int64, count)
		for i := range prop.Ints {
			prop.Ints[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	case KindBoolArray:
		prop.Ints = make([]int64, count)
		for i := range prop.Ints {
			prop.Ints[i] = int64(raw[i])
		}
	case KindFloat32Array:
		prop.Floats = make([]float64, count)
		for i := range prop.Floats {
			prop.Floats[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		}
	case KindFloat64Array:
		prop.Floats = make([]float64, count)
		for i := range prop.Floats {
			prop.Floats[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		}
	}
	return prop, next, nil
}
