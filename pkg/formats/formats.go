// Package formats decodes 3D model files (Wavefront OBJ, binary FBX, glTF and
// GLB) into the normalized geometry document.
package formats

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Faultbox/modelprep/pkg/geometry"
)

// Decode errors.
var (
	ErrMalformedNumber  = errors.New("malformed number")
	ErrNoObjects        = errors.New("FBX file has no Objects section")
	ErrNoGeometry       = errors.New("FBX file has no Geometry nodes")
	ErrInvalidGLB       = errors.New("not a valid GLB file")
	ErrMissingJSONChunk = errors.New("no JSON chunk in GLB")
)

// TextureSink receives texture files extracted from a model.
type TextureSink interface {
	WriteTexture(name string, data []byte) error
}

// DirSink writes textures into a directory.
type DirSink string

// WriteTexture writes data to name inside the directory.
func (d DirSink) WriteTexture(name string, data []byte) error {
	return os.WriteFile(filepath.Join(string(d), name), data, 0644)
}

// runStage runs an optional extraction step. A failure, returned or
// panicked, becomes a warning on g instead of failing the decode.
func runStage(g *geometry.Geometry, what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			g.Warn(fmt.Sprintf("%s extraction failed: %v", what, r))
		}
	}()
	if err := fn(); err != nil {
		g.Warn(fmt.Sprintf("%s extraction failed: %v", what, err))
	}
}
