package formats

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

// fbxTextureExts lists the extensions kept from an FBX texture's file name.
var fbxTextureExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tga":  true,
	".bmp":  true,
}

// textureWriter numbers and writes texture files for one decode.
type textureWriter struct {
	sink  TextureSink
	files []string
}

// write stores data as texture_<N><ext>. The extension comes from the image
// signature when recognizable, otherwise from hint. A non-decodable payload
// is still written verbatim; the returned warning says so.
func (w *textureWriter) write(data []byte, hint string) (name string, warning string, err error) {
	if w.sink == nil || len(data) == 0 {
		return "", "", nil
	}
	ext := textureExtension(data, hint)
	name = fmt.Sprintf("texture_%d%s", len(w.files), ext)
	if err := w.sink.WriteTexture(name, data); err != nil {
		return "", "", fmt.Errorf("writing %s: %w", name, err)
	}
	w.files = append(w.files, name)

	if _, err := decodeImageConfig(data, ext); err != nil {
		warning = fmt.Sprintf("Texture %s could not be decoded as %s: %v", name, strings.TrimPrefix(ext, "."), err)
	}
	return name, warning, nil
}

// textureExtension picks the output extension for an image payload.
func textureExtension(data []byte, hint string) string {
	hint = strings.ToLower(hint)
	detected := detectImageExtension(data)
	switch {
	case detected == "":
		if hint == "" {
			return ".png"
		}
		return hint
	case detected == ".jpg" && hint == ".jpeg":
		return hint
	default:
		return detected
	}
}

// detectImageExtension recognizes common image signatures.
func detectImageExtension(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return ".png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return ".jpg"
	case bytes.HasPrefix(data, []byte("GIF8")):
		return ".gif"
	case bytes.HasPrefix(data, []byte("BM")):
		return ".bmp"
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return ".tiff"
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return ".webp"
	}
	return ""
}

// decodeImageConfig reads the image header with the decoder for ext.
func decodeImageConfig(data []byte, ext string) (image.Config, error) {
	r := bytes.NewReader(data)
	switch ext {
	case ".png":
		return png.DecodeConfig(r)
	case ".jpg", ".jpeg":
		return jpeg.DecodeConfig(r)
	case ".gif":
		return gif.DecodeConfig(r)
	case ".bmp":
		return bmp.DecodeConfig(r)
	case ".tiff":
		return tiff.DecodeConfig(r)
	case ".webp":
		return webp.DecodeConfig(r)
	case ".tga":
		return tga.DecodeConfig(r)
	default:
		return image.Config{}, fmt.Errorf("unsupported image extension %q", ext)
	}
}

// MimeType returns the MIME type for an output file name.
func MimeType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return "application/json"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tiff":
		return "image/tiff"
	case ".webp":
		return "image/webp"
	case ".tga":
		return "image/x-tga"
	default:
		return "application/octet-stream"
	}
}
