package formats

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/binary"

	"github.com/Faultbox/modelprep/pkg/geometry"
)

// GLB container constants.
const (
	GLBMagic      = 0x46546C67 // "glTF"
	GLBHeaderSize = 12
	GLBChunkJSON  = 0x4E4F534A
	GLBChunkBIN   = 0x004E4942
)

// ParseGLTF decodes a .gltf JSON document. Relative buffer and image URIs
// are resolved against baseDir; an empty baseDir disables external files.
func ParseGLTF(data []byte, baseDir string, sink TextureSink, limits geometry.Limits) (*geometry.Geometry, error) {
	var doc gltf.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding glTF JSON: %w", err)
	}
	return extractGLTF(&doc, baseDir, sink, limits), nil
}

// ParseGLTFFile parses a .gltf file from disk.
func ParseGLTFFile(path string, sink TextureSink, limits geometry.Limits) (*geometry.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading glTF file: %w", err)
	}
	return ParseGLTF(data, filepath.Dir(path), sink, limits)
}

// ParseGLB decodes a binary glTF container. The JSON chunk is required; the
// BIN chunk backs the first buffer when present.
func ParseGLB(data []byte, sink TextureSink, limits geometry.Limits) (*geometry.Geometry, error) {
	if err := checkGLB(data); err != nil {
		return nil, err
	}
	var doc gltf.Document
	if err := gltf.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGLB, err)
	}
	return extractGLTF(&doc, "", sink, limits), nil
}

// ParseGLBFile parses a .glb file from disk.
func ParseGLBFile(path string, sink TextureSink, limits geometry.Limits) (*geometry.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading GLB file: %w", err)
	}
	return ParseGLB(data, sink, limits)
}

// checkGLB validates the container header. The JSON chunk must come first
// and a BIN chunk may not claim more bytes than the file holds.
func checkGLB(data []byte) error {
	if len(data) < GLBHeaderSize {
		return fmt.Errorf("%w: file too small", ErrInvalidGLB)
	}
	if binary.Uint.Scalar(data) != GLBMagic {
		return ErrInvalidGLB
	}
	if len(data) < GLBHeaderSize+8 || binary.Uint.Scalar(data[GLBHeaderSize+4:]) != GLBChunkJSON {
		return ErrMissingJSONChunk
	}
	binStart := GLBHeaderSize + 8 + int(binary.Uint.Scalar(data[GLBHeaderSize:]))
	if binStart+8 <= len(data) {
		if n := int(binary.Uint.Scalar(data[binStart:])); n > len(data)-binStart-8 {
			return fmt.Errorf("%w: BIN chunk exceeds file size", ErrInvalidGLB)
		}
	}
	return nil
}

// gltfScene holds a document with its resolved buffers.
type gltfScene struct {
	doc     *gltf.Document
	baseDir string
	buffers [][]byte
	b       *geometry.Builder
	g       *geometry.Geometry
}

// warn records a warning on the geometry once it is built, on the builder
// before that.
func (s *gltfScene) warn(msg string) {
	if s.g != nil {
		s.g.Warn(msg)
		return
	}
	s.b.Warn(msg)
}

func extractGLTF(doc *gltf.Document, baseDir string, sink TextureSink, limits geometry.Limits) *geometry.Geometry {
	s := &gltfScene{doc: doc, baseDir: baseDir, b: geometry.NewBuilder(limits.MaxVertices)}

	s.buffers = make([][]byte, len(doc.Buffers))
	for i, buf := range doc.Buffers {
		if buf.Data != nil {
			s.buffers[i] = buf.Data
			continue
		}
		data, err := s.loadBuffer(buf.URI)
		if err != nil {
			s.warn(fmt.Sprintf("Buffer %d: %v", i, err))
		}
		s.buffers[i] = data
	}

	joints, weights, skinned := s.extractPrimitives(s.b)
	g := s.b.Build()
	s.g = g

	tw := &textureWriter{sink: sink}
	runStage(g, "glTF material", func() error {
		mats, err := s.extractMaterials(tw)
		if len(mats) > 0 {
			g.Materials = mats
		}
		return err
	})
	g.TextureFiles = tw.files

	var jointToBone map[int]int
	runStage(g, "glTF skeleton", func() error {
		if !skinned || len(doc.Skins) == 0 {
			return nil
		}
		var bones []geometry.Bone
		bones, jointToBone = s.extractBones(limits.MaxBones)
		dropUnplacedJoints(joints, weights, len(bones))
		g.Skeleton = &geometry.Skeleton{
			Bones:       bones,
			BoneIndices: joints,
			BoneWeights: geometry.RoundAll(weights, 6),
		}
		return nil
	})

	runStage(g, "glTF animation", func() error {
		g.Animations = s.extractAnimations(jointToBone, limits.MaxKeyframes)
		return nil
	})

	return g
}

// dropUnplacedJoints clears influences on joints past the bone cap and
// renormalizes the remaining weights of the affected vertices.
func dropUnplacedJoints(joints []int, weights []float64, bones int) {
	for v := 0; v+geometry.MaxInfluences <= len(joints); v += geometry.MaxInfluences {
		dropped := false
		var sum float64
		for k := v; k < v+geometry.MaxInfluences; k++ {
			if joints[k] < 0 || joints[k] >= bones {
				joints[k], weights[k] = 0, 0
				dropped = true
			}
			sum += weights[k]
		}
		if !dropped || sum <= 0 {
			continue
		}
		for k := v; k < v+geometry.MaxInfluences; k++ {
			weights[k] /= sum
		}
	}
}

// loadBuffer resolves a buffer the decoder left empty: a data URI or a file
// next to the document.
func (s *gltfScene) loadBuffer(uri string) ([]byte, error) {
	switch {
	case uri == "":
		return nil, nil
	case strings.HasPrefix(uri, "data:"):
		return decodeDataURI(uri)
	default:
		return s.readExternal(uri)
	}
}

func decodeDataURI(uri string) ([]byte, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, fmt.Errorf("malformed data URI")
	}
	if !strings.HasSuffix(uri[:comma], ";base64") {
		text, err := url.PathUnescape(uri[comma+1:])
		return []byte(text), err
	}
	data, err := base64.StdEncoding.DecodeString(uri[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("decoding data URI: %w", err)
	}
	return data, nil
}

// readExternal reads a relative URI. Paths that leave baseDir are refused.
func (s *gltfScene) readExternal(uri string) ([]byte, error) {
	if s.baseDir == "" {
		return nil, fmt.Errorf("external resource %q not available", uri)
	}
	rel, err := url.PathUnescape(uri)
	if err != nil {
		rel = uri
	}
	base, err := filepath.Abs(s.baseDir)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(base, filepath.FromSlash(rel))
	if r, err := filepath.Rel(base, path); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("resource %q escapes the model directory", uri)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resource %q not found", uri)
	}
	return data, nil
}

// accessorData is a decoded accessor of n elements with comps values each.
// values may be shorter than n*comps; missing values read as zero.
type accessorData struct {
	values []float64
	comps  int
	n      int
}

func (a accessorData) count() int {
	return a.n
}

// at returns component k of element i, or 0 when out of range.
func (a accessorData) at(i, k int) float64 {
	if k >= a.comps {
		return 0
	}
	j := i*a.comps + k
	if j < 0 || j >= len(a.values) {
		return 0
	}
	return a.values[j]
}

func accessorComponents(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	case gltf.AccessorMat4:
		return 16
	default:
		return 1
	}
}

func componentSize(c gltf.ComponentType) int {
	switch c {
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	default:
		return 4
	}
}

// readComponent decodes one component. Normalized integers are mapped to
// [0,1] or [-1,1].
func readComponent(b []byte, c gltf.ComponentType, normalized bool) float64 {
	switch c {
	case gltf.ComponentByte:
		v := float64(binary.Byte.Scalar(b))
		if normalized {
			return math.Max(v/127, -1)
		}
		return v
	case gltf.ComponentUbyte:
		v := float64(binary.Ubyte.Scalar(b))
		if normalized {
			return v / 255
		}
		return v
	case gltf.ComponentShort:
		v := float64(binary.Short.Scalar(b))
		if normalized {
			return math.Max(v/32767, -1)
		}
		return v
	case gltf.ComponentUshort:
		v := float64(binary.Ushort.Scalar(b))
		if normalized {
			return v / 65535
		}
		return v
	case gltf.ComponentUint:
		return float64(binary.Uint.Scalar(b))
	default:
		return float64(binary.Float.Scalar(b))
	}
}

// elementsWithin returns how many elements of elemSize bytes, stride bytes
// apart, fit in span bytes.
func elementsWithin(span, elemSize, stride int) int {
	if span < elemSize {
		return 0
	}
	return (span-elemSize)/stride + 1
}

// readAccessor resolves accessor -> bufferView -> buffer and decodes every
// element, honoring byteStride. An accessor without backing bytes reads as
// zeros; one whose count overruns its bufferView is cut to what fits.
func (s *gltfScene) readAccessor(index int) accessorData {
	if index < 0 || index >= len(s.doc.Accessors) {
		return accessorData{}
	}
	acc := s.doc.Accessors[index]
	if acc.Count < 0 {
		s.warn(fmt.Sprintf("Accessor %d: invalid count %d", index, acc.Count))
		return accessorData{}
	}
	comps := accessorComponents(acc.Type)
	zeros := accessorData{comps: comps, n: acc.Count}

	if acc.BufferView == nil || *acc.BufferView < 0 || *acc.BufferView >= len(s.doc.BufferViews) {
		return zeros
	}
	bv := s.doc.BufferViews[*acc.BufferView]
	if bv.Buffer < 0 || bv.Buffer >= len(s.buffers) || s.buffers[bv.Buffer] == nil {
		return zeros
	}
	buf := s.buffers[bv.Buffer]

	size := componentSize(acc.ComponentType)
	elemSize := size * comps
	stride := bv.ByteStride
	if stride <= 0 {
		stride = elemSize
	}
	limit := len(buf)
	if end := bv.ByteOffset + bv.ByteLength; bv.ByteLength > 0 && end < limit {
		limit = end
	}
	base := bv.ByteOffset + acc.ByteOffset

	n := acc.Count
	avail := 0
	if base >= 0 {
		avail = elementsWithin(limit-base, elemSize, stride)
	}
	if n > avail {
		s.warn(fmt.Sprintf("Accessor %d: count %d exceeds its buffer view, reading %d", index, n, avail))
		n = avail
	}

	out := accessorData{values: make([]float64, n*comps), comps: comps, n: n}
	for i := 0; i < n; i++ {
		for k := 0; k < comps; k++ {
			o := base + i*stride + k*size
			out.values[i*comps+k] = readComponent(buf[o:o+size], acc.ComponentType, acc.Normalized)
		}
	}
	return out
}

// attribute reads a named primitive attribute, or an empty accessor.
func (s *gltfScene) attribute(attrs map[string]int, name string) accessorData {
	idx, ok := attrs[name]
	if !ok {
		return accessorData{}
	}
	return s.readAccessor(idx)
}

// extractPrimitives appends every mesh primitive to b and gathers the skin
// streams, four entries per vertex. skinned reports whether any primitive
// carried JOINTS_0.
func (s *gltfScene) extractPrimitives(b *geometry.Builder) (joints []int, weights []float64, skinned bool) {
	joints = []int{}
	weights = []float64{}

	for _, mesh := range s.doc.Meshes {
		for _, prim := range mesh.Primitives {
			pos := s.attribute(prim.Attributes, gltf.POSITION)
			n := pos.count()
			if n == 0 {
				continue
			}
			norm := s.attribute(prim.Attributes, gltf.NORMAL)
			uv := s.attribute(prim.Attributes, gltf.TEXCOORD_0)
			jnt := s.attribute(prim.Attributes, gltf.JOINTS_0)
			wgt := s.attribute(prim.Attributes, gltf.WEIGHTS_0)
			skinned = skinned || jnt.count() > 0

			granted, overflowed := b.TryAppend(n)
			base := uint32(b.VertexCount())
			for i := 0; i < granted; i++ {
				v := geometry.Vertex{
					Position:  [3]float64{pos.at(i, 0), pos.at(i, 1), pos.at(i, 2)},
					HasNormal: norm.count() > 0,
					HasUV:     uv.count() > 0,
				}
				if v.HasNormal {
					v.Normal = [3]float64{norm.at(i, 0), norm.at(i, 1), norm.at(i, 2)}
				}
				if v.HasUV {
					v.UV = [2]float64{uv.at(i, 0), uv.at(i, 1)}
				}
				b.Add(v)
				for k := 0; k < geometry.MaxInfluences; k++ {
					joints = append(joints, int(jnt.at(i, k)))
					weights = append(weights, wgt.at(i, k))
				}
			}

			if prim.Indices != nil {
				idx := s.readAccessor(*prim.Indices)
				for t := 0; t+2 < len(idx.values); t += 3 {
					i0, i1, i2 := int(idx.values[t]), int(idx.values[t+1]), int(idx.values[t+2])
					if i0 >= granted || i1 >= granted || i2 >= granted {
						continue
					}
					b.Triangle(base+uint32(i0), base+uint32(i1), base+uint32(i2))
				}
			} else {
				for i := 0; i+2 < granted; i += 3 {
					b.Triangle(base+uint32(i), base+uint32(i+1), base+uint32(i+2))
				}
			}

			if overflowed {
				return joints, weights, skinned
			}
		}
	}
	return joints, weights, skinned
}

// extractMaterials reads PBR base color, emissive factor and the base color
// and normal textures.
func (s *gltfScene) extractMaterials(tw *textureWriter) ([]geometry.Material, error) {
	var materials []geometry.Material
	for _, mat := range s.doc.Materials {
		m := geometry.Material{Name: mat.Name}
		if m.Name == "" {
			m.Name = "Material"
		}

		if pbr := mat.PBRMetallicRoughness; pbr != nil {
			if bc := pbr.BaseColorFactor; bc != nil {
				m.DiffuseColor = []float64{
					geometry.Round(float64(bc[0]), 4),
					geometry.Round(float64(bc[1]), 4),
					geometry.Round(float64(bc[2]), 4),
				}
				opacity := geometry.Round(float64(bc[3]), 4)
				m.Opacity = &opacity
			}
			if pbr.BaseColorTexture != nil {
				name, err := s.writeTexture(tw, pbr.BaseColorTexture.Index)
				if err != nil {
					return materials, err
				}
				m.DiffuseTexture = name
			}
		}

		em := mat.EmissiveFactor
		if em[0] != 0 || em[1] != 0 || em[2] != 0 {
			m.EmissiveColor = []float64{
				geometry.Round(float64(em[0]), 4),
				geometry.Round(float64(em[1]), 4),
				geometry.Round(float64(em[2]), 4),
			}
		}

		if nt := mat.NormalTexture; nt != nil && nt.Index != nil {
			name, err := s.writeTexture(tw, *nt.Index)
			if err != nil {
				return materials, err
			}
			m.NormalTexture = name
		}
		materials = append(materials, m)
	}
	return materials, nil
}

// writeTexture resolves texture -> image and writes the image bytes. It
// returns "" when the image has no retrievable data.
func (s *gltfScene) writeTexture(tw *textureWriter, texIndex int) (string, error) {
	if texIndex < 0 || texIndex >= len(s.doc.Textures) {
		return "", nil
	}
	src := s.doc.Textures[texIndex].Source
	if src == nil || *src < 0 || *src >= len(s.doc.Images) {
		return "", nil
	}
	img := s.doc.Images[*src]

	hint := ".png"
	if strings.Contains(img.MimeType, "jpeg") || strings.Contains(img.MimeType, "jpg") {
		hint = ".jpg"
	}

	var data []byte
	switch {
	case img.BufferView != nil:
		data = s.bufferViewBytes(*img.BufferView)
	case strings.HasPrefix(img.URI, "data:"):
		d, err := decodeDataURI(img.URI)
		if err != nil {
			s.warn(fmt.Sprintf("Image %d: %v", *src, err))
			return "", nil
		}
		data = d
	case img.URI != "":
		d, err := s.readExternal(img.URI)
		if err != nil {
			s.warn(fmt.Sprintf("Image %d: %v", *src, err))
			return "", nil
		}
		data = d
		if ext := strings.ToLower(filepath.Ext(img.URI)); fbxTextureExts[ext] {
			hint = ext
		}
	}

	name, warning, err := tw.write(data, hint)
	if err != nil {
		return "", err
	}
	if warning != "" {
		s.warn(warning)
	}
	return name, nil
}

func (s *gltfScene) bufferViewBytes(index int) []byte {
	if index < 0 || index >= len(s.doc.BufferViews) {
		return nil
	}
	bv := s.doc.BufferViews[index]
	if bv.Buffer < 0 || bv.Buffer >= len(s.buffers) {
		return nil
	}
	buf := s.buffers[bv.Buffer]
	start, end := bv.ByteOffset, bv.ByteOffset+bv.ByteLength
	if start < 0 || start > len(buf) {
		return nil
	}
	if end > len(buf) {
		end = len(buf)
	}
	return buf[start:end]
}

// extractBones emits the joints of the first skin in joint order. A bone's
// parent is its nearest ancestor node that is also a placed joint.
func (s *gltfScene) extractBones(maxBones int) ([]geometry.Bone, map[int]int) {
	skin := s.doc.Skins[0]

	nodeParent := make(map[int]int)
	for i, node := range s.doc.Nodes {
		for _, c := range node.Children {
			nodeParent[c] = i
		}
	}

	var ibm accessorData
	if skin.InverseBindMatrices != nil {
		ibm = s.readAccessor(*skin.InverseBindMatrices)
	}

	jointToBone := make(map[int]int)
	for i, j := range skin.Joints {
		if i >= maxBones {
			break
		}
		if _, dup := jointToBone[j]; !dup {
			jointToBone[j] = i
		}
	}

	var bones []geometry.Bone
	for i, j := range skin.Joints {
		if i >= maxBones {
			break
		}
		name := fmt.Sprintf("bone_%d", i)
		if j >= 0 && j < len(s.doc.Nodes) && s.doc.Nodes[j].Name != "" {
			name = s.doc.Nodes[j].Name
		}

		parent := -1
		seen := map[int]bool{j: true}
		for p, ok := nodeParent[j]; ok && !seen[p]; p, ok = nodeParent[p] {
			seen[p] = true
			if bi, isJoint := jointToBone[p]; isJoint {
				parent = bi
				break
			}
		}

		matrix := geometry.IdentityMatrix()
		if ibm.comps == 16 && i < ibm.count() {
			matrix = make([]float64, 16)
			for k := range matrix {
				matrix[k] = geometry.Round(ibm.at(i, k), 6)
			}
		}
		bones = append(bones, geometry.Bone{Name: name, Parent: parent, InverseBindMatrix: matrix})
	}
	return bones, jointToBone
}

// extractAnimations keeps channels that target a skin joint. The component
// count per key is derived from the output length.
func (s *gltfScene) extractAnimations(jointToBone map[int]int, maxKeyframes int) []geometry.Animation {
	if len(jointToBone) == 0 {
		return nil
	}

	var anims []geometry.Animation
	for _, anim := range s.doc.Animations {
		var tracks []geometry.Track
		var maxTime float64

		for _, ch := range anim.Channels {
			if ch.Target.Node == nil {
				continue
			}
			bone, ok := jointToBone[*ch.Target.Node]
			if !ok {
				continue
			}
			var property string
			switch ch.Target.Path {
			case gltf.TRSTranslation:
				property = geometry.PropertyTranslation
			case gltf.TRSRotation:
				property = geometry.PropertyRotation
			case gltf.TRSScale:
				property = geometry.PropertyScale
			default:
				continue
			}
			if ch.Sampler < 0 || ch.Sampler >= len(anim.Samplers) {
				continue
			}
			sampler := anim.Samplers[ch.Sampler]
			times := s.readAccessor(sampler.Input).values
			values := s.readAccessor(sampler.Output).values
			if len(times) == 0 || len(values) == 0 {
				continue
			}

			comps := len(values) / len(times)
			track := geometry.Track{BoneIndex: bone, Property: property}
			for _, i := range geometry.SampleIndices(len(times), maxKeyframes) {
				track.Times = append(track.Times, geometry.Round(times[i], 6))
				for c := 0; c < comps; c++ {
					var v float64
					if j := i*comps + c; j < len(values) {
						v = geometry.Round(values[j], 6)
					}
					track.Values = append(track.Values, v)
				}
			}
			if last := track.Times[len(track.Times)-1]; last > maxTime {
				maxTime = last
			}
			tracks = append(tracks, track)
		}

		if len(tracks) == 0 {
			continue
		}
		name := anim.Name
		if name == "" {
			name = "Animation"
		}
		anims = append(anims, geometry.Animation{
			Name:     name,
			Duration: geometry.Round(maxTime, 4),
			Tracks:   tracks,
		})
	}
	return anims
}
