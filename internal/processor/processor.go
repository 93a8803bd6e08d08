// Package processor turns an uploaded model file into geometry.json plus any
// extracted textures, and reports the outcome as a Result.
package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/modelprep/internal/logger"
	"github.com/Faultbox/modelprep/pkg/formats"
	"github.com/Faultbox/modelprep/pkg/geometry"
)

// Name is reported as processor_name in every result.
const Name = "3D Model Processor"

// GeometryFile is the default name of the geometry document.
const GeometryFile = "geometry.json"

// ErrUnsupportedFormat is returned for file extensions with no decoder.
var ErrUnsupportedFormat = errors.New("unsupported format")

// Status is the outcome of processing one file.
type Status string

// Result statuses.
const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusError   Status = "error"
)

// Output describes one file written to the output directory.
type Output struct {
	Filename    string `json:"filename"`
	Description string `json:"description"`
	MimeType    string `json:"mime_type"`
	Size        int64  `json:"size"`
}

// Metadata summarizes the decoded model.
type Metadata struct {
	VertexCount    int  `json:"vertex_count"`
	FaceCount      int  `json:"face_count"`
	HasNormals     bool `json:"has_normals"`
	HasUVs         bool `json:"has_uvs"`
	HasMaterials   bool `json:"has_materials"`
	HasSkeleton    bool `json:"has_skeleton"`
	HasAnimations  bool `json:"has_animations"`
	BoneCount      *int `json:"bone_count,omitempty"`
	AnimationCount *int `json:"animation_count,omitempty"`
}

// Result is the report for one processed file.
type Result struct {
	SourceFilename string    `json:"source_filename"`
	ProcessorName  string    `json:"processor_name"`
	Status         Status    `json:"status"`
	Outputs        []Output  `json:"outputs"`
	Metadata       *Metadata `json:"metadata,omitempty"`
	Warnings       []string  `json:"warnings"`
	Error          string    `json:"error,omitempty"`

	// Err is the underlying error for StatusError results.
	Err error `json:"-"`
}

// Decoder reads one model file. Textures are handed to sink.
type Decoder func(path string, sink formats.TextureSink, limits geometry.Limits) (*geometry.Geometry, error)

func decodeOBJ(path string, _ formats.TextureSink, limits geometry.Limits) (*geometry.Geometry, error) {
	return formats.ParseOBJFile(path, limits)
}

// decoders maps lowercased file extensions to their decoder.
var decoders = map[string]Decoder{
	".obj":  decodeOBJ,
	".fbx":  formats.ParseFBXFile,
	".gltf": formats.ParseGLTFFile,
	".glb":  formats.ParseGLBFile,
}

// Extensions returns the supported file extensions, sorted.
func Extensions() []string {
	exts := make([]string, 0, len(decoders))
	for ext := range decoders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supports reports whether filename has a supported extension.
func Supports(filename string) bool {
	_, ok := decoders[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Processor decodes models with fixed limits.
type Processor struct {
	Limits       geometry.Limits
	GeometryName string
}

// New creates a processor with the given limits.
func New(limits geometry.Limits) *Processor {
	return &Processor{
		Limits:       limits,
		GeometryName: GeometryFile,
	}
}

// Process decodes sourcePath into outputDir. filename is the user-facing
// name reported in the result. Process never panics; every failure is
// reported through the result.
func (p *Processor) Process(sourcePath, outputDir, filename string) (res *Result) {
	log := logger.Named("processor")

	ext := strings.ToLower(filepath.Ext(sourcePath))
	decode, ok := decoders[ext]
	if !ok {
		return newErrorResult(filename, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext),
			fmt.Sprintf("Unsupported format: %s", ext))
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("decoder panicked", zap.String("file", filename), zap.Any("panic", r))
			err := fmt.Errorf("%v", r)
			res = newErrorResult(filename, err, fmt.Sprintf("Parse error: %v", err))
		}
	}()

	g, err := decode(sourcePath, formats.DirSink(outputDir), p.Limits)
	if err != nil {
		log.Debug("decode failed", zap.String("file", filename), zap.Error(err))
		return newErrorResult(filename, err, fmt.Sprintf("Parse error: %v", err))
	}

	geometryName := p.GeometryName
	if geometryName == "" {
		geometryName = GeometryFile
	}
	if err := writeJSON(filepath.Join(outputDir, geometryName), g); err != nil {
		return newErrorResult(filename, err, fmt.Sprintf("Write error: %v", err))
	}

	log.Debug("decoded model",
		zap.String("file", filename),
		zap.String("format", ext),
		zap.Int("vertices", g.VertexCount),
		zap.Int("faces", g.FaceCount),
		zap.Int("textures", len(g.TextureFiles)))
	for _, w := range g.Warnings {
		log.Warn("degraded decode", zap.String("file", filename), zap.String("warning", w))
	}

	res = &Result{
		SourceFilename: filename,
		ProcessorName:  Name,
		Status:         StatusSuccess,
		Metadata:       metadataFor(g),
		Warnings:       []string{},
	}
	if len(g.Warnings) > 0 {
		res.Status = StatusPartial
		res.Warnings = append(res.Warnings, g.Warnings...)
	}

	res.Outputs = append(res.Outputs, Output{
		Filename:    geometryName,
		Description: fmt.Sprintf("Geometry (%d vertices, %d faces)", g.VertexCount, g.FaceCount),
		MimeType:    formats.MimeType(geometryName),
	})
	for _, tf := range g.TextureFiles {
		res.Outputs = append(res.Outputs, Output{
			Filename:    tf,
			Description: "Texture: " + tf,
			MimeType:    formats.MimeType(tf),
		})
	}
	return res
}

func newErrorResult(filename string, err error, msg string) *Result {
	return &Result{
		SourceFilename: filename,
		ProcessorName:  Name,
		Status:         StatusError,
		Outputs:        []Output{},
		Warnings:       []string{},
		Error:          msg,
		Err:            err,
	}
}

func metadataFor(g *geometry.Geometry) *Metadata {
	md := &Metadata{
		VertexCount:   g.VertexCount,
		FaceCount:     g.FaceCount,
		HasNormals:    g.HasNormals,
		HasUVs:        g.HasUVs,
		HasMaterials:  len(g.Materials) > 0,
		HasSkeleton:   g.Skeleton != nil,
		HasAnimations: len(g.Animations) > 0,
	}
	if g.Skeleton != nil {
		n := len(g.Skeleton.Bones)
		md.BoneCount = &n
	}
	if len(g.Animations) > 0 {
		n := len(g.Animations)
		md.AnimationCount = &n
	}
	return md
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0644)
}
