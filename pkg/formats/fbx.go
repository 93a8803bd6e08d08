package formats

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Faultbox/modelprep/pkg/encoding"
	"github.com/Faultbox/modelprep/pkg/fbx"
	"github.com/Faultbox/modelprep/pkg/geometry"
)

// FBXTicksPerSecond is the KTime resolution used by animation curves.
const FBXTicksPerSecond = 46186158000

// boneTypes are the Model subtypes treated as skeleton joints.
var boneTypes = map[string]bool{
	"LimbNode": true,
	"Root":     true,
	"Null":     true,
	"Limb":     true,
}

// fbxLink is one side of a "C" connection record.
type fbxLink struct {
	id   int64
	prop string
}

// fbxScene indexes the Objects section and the connection graph.
type fbxScene struct {
	objects  *fbx.Node
	byID     map[int64]*fbx.Node
	children map[int64][]fbxLink
	parents  map[int64][]fbxLink
}

func newFBXScene(doc *fbx.Document) *fbxScene {
	s := &fbxScene{
		objects:  doc.Child("Objects"),
		byID:     make(map[int64]*fbx.Node),
		children: make(map[int64][]fbxLink),
		parents:  make(map[int64][]fbxLink),
	}
	if s.objects != nil {
		for _, obj := range s.objects.Children {
			if id, ok := obj.ID(); ok {
				s.byID[id] = obj
			}
		}
	}
	for _, c := range doc.Child("Connections").All("C") {
		if len(c.Properties) < 3 {
			continue
		}
		child, ok1 := c.Properties[1].Int64()
		parent, ok2 := c.Properties[2].Int64()
		if !ok1 || !ok2 {
			continue
		}
		prop := c.StringProp(3)
		s.children[parent] = append(s.children[parent], fbxLink{id: child, prop: prop})
		s.parents[child] = append(s.parents[child], fbxLink{id: parent, prop: prop})
	}
	return s
}

// childObjects returns the connected children of id whose record is named kind.
func (s *fbxScene) childObjects(id int64, kind string) []int64 {
	var out []int64
	for _, l := range s.children[id] {
		if n := s.byID[l.id]; n != nil && n.Name == kind {
			out = append(out, l.id)
		}
	}
	return out
}

// properties70 collects the values of every P record under node's
// Properties70 child, keyed by property name.
func properties70(node *fbx.Node) map[string][]fbx.Property {
	out := make(map[string][]fbx.Property)
	for _, p := range node.Child("Properties70").All("P") {
		if len(p.Properties) < 5 {
			continue
		}
		out[p.StringProp(0)] = p.Properties[4:]
	}
	return out
}

func objectName(n *fbx.Node, fallback string) string {
	if name := encoding.ObjectName(n.StringProp(1)); name != "" {
		return name
	}
	return fallback
}

// firstArray returns the array held by the first property of the named child.
func firstArray(n *fbx.Node, name string) fbx.Property {
	p, _ := n.Child(name).Prop(0)
	return p
}

// ParseFBX extracts geometry, materials, skeleton and animations from a
// binary FBX file. Embedded textures are written to sink, which may be nil.
func ParseFBX(data []byte, sink TextureSink, limits geometry.Limits) (*geometry.Geometry, error) {
	doc, err := fbx.Parse(data)
	if err != nil {
		return nil, err
	}
	s := newFBXScene(doc)
	if s.objects == nil {
		return nil, ErrNoObjects
	}
	if len(s.objects.All("Geometry")) == 0 {
		return nil, ErrNoGeometry
	}

	b := geometry.NewBuilder(limits.MaxVertices)
	expanded := s.extractMeshes(b)
	g := b.Build()

	tw := &textureWriter{sink: sink}
	runStage(g, "FBX material", func() error {
		mats, err := s.extractMaterials(g, tw)
		if len(mats) > 0 {
			g.Materials = mats
		}
		return err
	})
	g.TextureFiles = tw.files

	var boneIndex map[int64]int
	runStage(g, "FBX skeleton", func() error {
		var skel *geometry.Skeleton
		skel, boneIndex = s.extractSkeleton(g.VertexCount, expanded, limits.MaxBones)
		g.Skeleton = skel
		return nil
	})

	runStage(g, "FBX animation", func() error {
		g.Animations = s.extractAnimations(boneIndex, limits.MaxKeyframes)
		return nil
	})

	return g, nil
}

// ParseFBXFile parses a binary FBX file from disk.
func ParseFBXFile(path string, sink TextureSink, limits geometry.Limits) (*geometry.Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading FBX file: %w", err)
	}
	return ParseFBX(data, sink, limits)
}

// fbxLayer is a LayerElementNormal or LayerElementUV block.
type fbxLayer struct {
	values   []float64
	width    int
	mapping  string
	indirect bool
	index    []int64
}

func readLayer(n *fbx.Node, dataName, indexName string, width int) *fbxLayer {
	if n == nil {
		return nil
	}
	values := firstArray(n, dataName).Float64s()
	if len(values) == 0 {
		return nil
	}
	l := &fbxLayer{
		values:  values,
		width:   width,
		mapping: "ByPolygonVertex",
		index:   firstArray(n, indexName).Int64s(),
	}
	if m := n.Child("MappingInformationType").StringProp(0); m != "" {
		l.mapping = m
	}
	l.indirect = n.Child("ReferenceInformationType").StringProp(0) == "IndexToDirect"
	return l
}

// lookup returns the attribute for one polygon corner. Out-of-range
// references produce zeros.
func (l *fbxLayer) lookup(corner, polygon, vertex int) []float64 {
	var i int
	switch l.mapping {
	case "ByVertex", "ByVertice":
		i = vertex
	case "ByPolygon":
		i = polygon
	case "AllSame":
		i = 0
	default:
		i = corner
	}
	if l.indirect && i >= 0 && i < len(l.index) {
		i = int(l.index[i])
	}
	out := make([]float64, l.width)
	if i >= 0 && (i+1)*l.width <= len(l.values) {
		copy(out, l.values[i*l.width:])
	}
	return out
}

// extractMeshes expands every Mesh geometry into per-corner vertices. The
// returned map links each geometry ID and original vertex index to the output
// vertices it produced.
func (s *fbxScene) extractMeshes(b *geometry.Builder) map[int64]map[int][]uint32 {
	expanded := make(map[int64]map[int][]uint32)

	for _, geom := range s.objects.All("Geometry") {
		if b.Truncated() {
			break
		}
		if len(geom.Properties) >= 3 && geom.StringProp(2) != "Mesh" {
			continue
		}
		positions := firstArray(geom, "Vertices").Float64s()
		pvi := firstArray(geom, "PolygonVertexIndex").Int64s()
		if positions == nil || pvi == nil {
			continue
		}
		normals := readLayer(geom.Child("LayerElementNormal"), "Normals", "NormalsIndex", 3)
		uvs := readLayer(geom.Child("LayerElementUV"), "UV", "UVIndex", 2)

		origToOut := make(map[int][]uint32)
		corner, polygon := 0, 0
		var poly []int
		for _, raw := range pvi {
			if raw >= 0 {
				poly = append(poly, int(raw))
				continue
			}
			poly = append(poly, int(^raw))

			granted, overflowed := b.TryAppend(len(poly))
			out := make([]uint32, 0, granted)
			for k, vi := range poly[:granted] {
				v := geometry.Vertex{}
				if vi >= 0 && vi*3+2 < len(positions) {
					copy(v.Position[:], positions[vi*3:vi*3+3])
				}
				if normals != nil {
					copy(v.Normal[:], normals.lookup(corner+k, polygon, vi))
					v.HasNormal = true
				}
				if uvs != nil {
					copy(v.UV[:], uvs.lookup(corner+k, polygon, vi))
					v.HasUV = true
				}
				idx := b.Add(v)
				origToOut[vi] = append(origToOut[vi], idx)
				out = append(out, idx)
			}
			if overflowed {
				break
			}
			b.Fan(out)

			corner += len(poly)
			polygon++
			poly = poly[:0]
		}

		if id, ok := geom.ID(); ok {
			expanded[id] = origToOut
		}
	}
	return expanded
}

// extractMaterials reads Material objects and writes their embedded textures.
func (s *fbxScene) extractMaterials(g *geometry.Geometry, tw *textureWriter) ([]geometry.Material, error) {
	var materials []geometry.Material

	for _, node := range s.objects.All("Material") {
		m := geometry.Material{Name: objectName(node, "Material")}
		p70 := properties70(node)
		m.DiffuseColor = colorProp(p70["DiffuseColor"])
		m.SpecularColor = colorProp(p70["SpecularColor"])
		m.EmissiveColor = colorProp(p70["EmissiveColor"])
		m.Opacity = scalarProp(p70["Opacity"])
		m.Shininess = scalarProp(p70["Shininess"])

		matID, ok := node.ID()
		if ok {
			for _, texID := range s.childObjects(matID, "Texture") {
				name, err := s.writeTexture(s.byID[texID], texID, g, tw)
				if err != nil {
					return materials, err
				}
				if name == "" {
					continue
				}
				s.assignTexture(&m, matID, texID, name)
			}
		}
		materials = append(materials, m)
	}
	return materials, nil
}

// assignTexture places a texture on the material slot named by the
// connection that links it to the material.
func (s *fbxScene) assignTexture(m *geometry.Material, matID, texID int64, name string) {
	for _, l := range s.parents[texID] {
		if l.id != matID {
			continue
		}
		switch {
		case strings.Contains(l.prop, "Diffuse"):
			m.DiffuseTexture = name
		case strings.Contains(l.prop, "Normal"), strings.Contains(l.prop, "Bump"):
			m.NormalTexture = name
		case m.DiffuseTexture == "":
			m.DiffuseTexture = name
		}
		return
	}
	if m.DiffuseTexture == "" {
		m.DiffuseTexture = name
	}
}

// writeTexture writes the Content blob of the first Video connected to a
// Texture object. It returns "" when the texture has no embedded data.
func (s *fbxScene) writeTexture(tex *fbx.Node, texID int64, g *geometry.Geometry, tw *textureWriter) (string, error) {
	orig := tex.Child("FileName").StringProp(0)
	if orig == "" {
		orig = tex.Child("RelativeFilename").StringProp(0)
	}
	ext := strings.ToLower(filepath.Ext(strings.ReplaceAll(orig, "\\", "/")))
	if !fbxTextureExts[ext] {
		ext = ".png"
	}

	for _, videoID := range s.childObjects(texID, "Video") {
		content, ok := s.byID[videoID].Child("Content").Prop(0)
		if !ok || content.Kind != fbx.KindRaw || len(content.Bytes) == 0 {
			continue
		}
		name, warning, err := tw.write(content.Bytes, ext)
		if err != nil {
			return "", err
		}
		if warning != "" {
			g.Warn(warning)
		}
		return name, nil
	}
	return "", nil
}

func colorProp(values []fbx.Property) []float64 {
	if len(values) < 3 {
		return nil
	}
	out := make([]float64, 3)
	for i := range out {
		v, ok := values[i].Float64()
		if !ok {
			return nil
		}
		out[i] = geometry.Round(v, 4)
	}
	return out
}

func scalarProp(values []fbx.Property) *float64 {
	if len(values) == 0 {
		return nil
	}
	v, ok := values[0].Float64()
	if !ok {
		return nil
	}
	v = geometry.Round(v, 4)
	return &v
}

// fbxCluster is one bone's skin weights on one geometry.
type fbxCluster struct {
	bone    int
	geomID  int64
	hasGeom bool
	indexes []int64
	weights []float64
}

// extractSkeleton orders the bone hierarchy breadth-first and distributes
// cluster weights to the expanded vertices. The returned map resolves bone
// object IDs to bone indices even when no cluster binds them.
func (s *fbxScene) extractSkeleton(vertexCount int, expanded map[int64]map[int][]uint32, maxBones int) (*geometry.Skeleton, map[int64]int) {
	var candidates []int64
	names := make(map[int64]string)
	for _, model := range s.objects.All("Model") {
		if len(model.Properties) < 3 || !boneTypes[model.StringProp(2)] {
			continue
		}
		id, ok := model.ID()
		if !ok {
			continue
		}
		if _, dup := names[id]; dup {
			continue
		}
		candidates = append(candidates, id)
		names[id] = objectName(model, fmt.Sprintf("bone_%d", id))
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	parentOf := make(map[int64]int64)
	kids := make(map[int64][]int64)
	var queue []int64
	for _, id := range candidates {
		found := false
		for _, l := range s.parents[id] {
			if _, ok := names[l.id]; ok {
				parentOf[id] = l.id
				kids[l.id] = append(kids[l.id], id)
				found = true
				break
			}
		}
		if !found {
			queue = append(queue, id)
		}
	}

	index := make(map[int64]int)
	var bones []geometry.Bone
	for len(queue) > 0 && len(bones) < maxBones {
		id := queue[0]
		queue = queue[1:]
		parent := -1
		if p, ok := parentOf[id]; ok {
			if pi, ok := index[p]; ok {
				parent = pi
			}
		}
		index[id] = len(bones)
		bones = append(bones, geometry.Bone{
			Name:              names[id],
			Parent:            parent,
			InverseBindMatrix: geometry.IdentityMatrix(),
		})
		queue = append(queue, kids[id]...)
	}

	clusters := s.readClusters(bones, index)
	if len(clusters) == 0 {
		return nil, index
	}

	influences := make([][]geometry.Influence, vertexCount)
	for _, c := range clusters {
		if !c.hasGeom {
			continue
		}
		origToOut := expanded[c.geomID]
		for i, orig := range c.indexes {
			var w float64
			if i < len(c.weights) {
				w = c.weights[i]
			}
			if w <= 0 {
				continue
			}
			for _, out := range origToOut[int(orig)] {
				if int(out) < vertexCount {
					influences[out] = append(influences[out], geometry.Influence{Bone: c.bone, Weight: w})
				}
			}
		}
	}

	skel := &geometry.Skeleton{Bones: bones}
	skel.BoneIndices, skel.BoneWeights = geometry.PackInfluences(influences)
	return skel, index
}

// readClusters reads every Cluster deformer bound to a placed bone and
// stores its TransformLink on that bone.
func (s *fbxScene) readClusters(bones []geometry.Bone, index map[int64]int) []fbxCluster {
	var clusters []fbxCluster
	for _, def := range s.objects.All("Deformer") {
		if len(def.Properties) < 3 || def.StringProp(2) != "Cluster" {
			continue
		}
		defID, ok := def.ID()
		if !ok {
			continue
		}
		idx := def.Child("Indexes")
		wt := def.Child("Weights")
		if idx == nil || wt == nil {
			continue
		}

		c := fbxCluster{
			bone:    -1,
			indexes: firstArray(def, "Indexes").Int64s(),
			weights: firstArray(def, "Weights").Float64s(),
		}
		for _, l := range s.children[defID] {
			if bi, ok := index[l.id]; ok {
				c.bone = bi
				break
			}
		}
		if c.bone < 0 {
			continue
		}
		if link := firstArray(def, "TransformLink").Float64s(); len(link) >= 16 {
			bones[c.bone].InverseBindMatrix = geometry.RoundAll(append([]float64(nil), link[:16]...), 6)
		}
		c.geomID, c.hasGeom = s.clusterGeometry(defID)
		clusters = append(clusters, c)
	}
	return clusters
}

// clusterGeometry walks cluster -> Skin deformer -> Geometry.
func (s *fbxScene) clusterGeometry(clusterID int64) (int64, bool) {
	for _, l := range s.parents[clusterID] {
		skin := s.byID[l.id]
		if skin == nil || skin.Name != "Deformer" || skin.StringProp(2) != "Skin" {
			continue
		}
		for _, gl := range s.parents[l.id] {
			if g := s.byID[gl.id]; g != nil && g.Name == "Geometry" {
				return gl.id, true
			}
		}
		return 0, false
	}
	return 0, false
}

// fbxCurve is one decoded AnimationCurve.
type fbxCurve struct {
	times  []float64
	values []float64
}

// extractAnimations turns each AnimationStack into a clip of bone tracks.
func (s *fbxScene) extractAnimations(boneIndex map[int64]int, maxKeyframes int) []geometry.Animation {
	if len(boneIndex) == 0 {
		return nil
	}

	var anims []geometry.Animation
	for _, stack := range s.objects.All("AnimationStack") {
		stackID, ok := stack.ID()
		if !ok {
			continue
		}
		layers := s.childObjects(stackID, "AnimationLayer")
		if len(layers) == 0 {
			continue
		}

		var tracks []geometry.Track
		var maxTime float64
		for _, layerID := range layers {
			for _, cnID := range s.childObjects(layerID, "AnimationCurveNode") {
				track, ok := s.curveNodeTrack(cnID, boneIndex, maxKeyframes)
				if !ok {
					continue
				}
				if last := track.Times[len(track.Times)-1]; last > maxTime {
					maxTime = last
				}
				tracks = append(tracks, track)
			}
		}
		if len(tracks) == 0 {
			continue
		}

		duration := maxTime
		if stop := properties70(stack)["LocalStop"]; len(stop) > 0 {
			if ticks, ok := stop[0].Float64(); ok && ticks/FBXTicksPerSecond > duration {
				duration = ticks / FBXTicksPerSecond
			}
		}
		anims = append(anims, geometry.Animation{
			Name:     objectName(stack, "Animation"),
			Duration: geometry.Round(duration, 4),
			Tracks:   tracks,
		})
	}
	return anims
}

// curveNodeTrack merges the X/Y/Z curves of one AnimationCurveNode into a
// track. The channel with the most keys supplies the timeline.
func (s *fbxScene) curveNodeTrack(cnID int64, boneIndex map[int64]int, maxKeyframes int) (geometry.Track, bool) {
	track := geometry.Track{BoneIndex: -1}
	for _, l := range s.parents[cnID] {
		bi, ok := boneIndex[l.id]
		if !ok {
			continue
		}
		track.BoneIndex = bi
		switch {
		case strings.Contains(l.prop, "Translation"):
			track.Property = geometry.PropertyTranslation
		case strings.Contains(l.prop, "Rotation"):
			track.Property = geometry.PropertyRotation
		case strings.Contains(l.prop, "Scaling"):
			track.Property = geometry.PropertyScale
		}
		break
	}
	if track.BoneIndex < 0 || track.Property == "" {
		return track, false
	}

	curves := make(map[string]fbxCurve)
	for _, curveID := range s.childObjects(cnID, "AnimationCurve") {
		var channel string
		for _, l := range s.parents[curveID] {
			if l.id == cnID {
				channel = l.prop
				break
			}
		}
		curve := s.byID[curveID]
		keys := firstArray(curve, "KeyTime").Int64s()
		values := firstArray(curve, "KeyValueFloat").Float64s()
		if len(keys) == 0 || len(values) == 0 {
			continue
		}
		times := make([]float64, len(keys))
		for i, k := range keys {
			times[i] = float64(k) / FBXTicksPerSecond
		}
		curves[channel] = fbxCurve{times: times, values: values}
	}

	axes := [3]fbxCurve{curves["d|X"], curves["d|Y"], curves["d|Z"]}
	var master []float64
	for _, c := range axes {
		if len(c.times) > len(master) {
			master = c.times
		}
	}
	if len(master) == 0 {
		return track, false
	}

	for _, i := range geometry.SampleIndices(len(master), maxKeyframes) {
		track.Times = append(track.Times, geometry.Round(master[i], 6))
		for _, c := range axes {
			var v float64
			if i < len(c.values) {
				v = geometry.Round(c.values[i], 6)
			}
			track.Values = append(track.Values, v)
		}
	}
	return track, true
}
