package obscure

import (
	"bytes"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/disintegration/imaging"

	// Decoders for uploads in formats the standard library lacks.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// FormatFor resolves an output format from an extension such as ".JPG" or
// "png".
func FormatFor(ext string) (imaging.Format, error) {
	name := strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if name == "" {
		return 0, types.Errorf(types.KindUnsupportedFormat, nil, "no output format given")
	}
	f, err := imaging.FormatFromExtension(name)
	if err != nil {
		return 0, types.Errorf(types.KindUnsupportedFormat, err, "output format %q", ext)
	}
	return f, nil
}

// FormatName is the lower-case short name of f, e.g. "jpeg".
func FormatName(f imaging.Format) string {
	return strings.ToLower(f.String())
}

// MimeType returns the media type of f.
func MimeType(f imaging.Format) string {
	return "image/" + FormatName(f)
}

// Decode reads an image into a mutable buffer, applying any EXIF orientation.
// The returned name is the decoder that recognized the data ("jpeg", "png", ...).
func Decode(r io.Reader) (*image.NRGBA, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", types.Errorf(types.KindInvalidInput, err, "read image")
	}
	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", types.Errorf(types.KindUnsupportedFormat, err, "unrecognized image data")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", types.Errorf(types.KindInvalidInput, err, "decode %s image", name)
	}
	return imaging.Clone(img), name, nil
}

// Open decodes the image file at path.
func Open(path string) (*image.NRGBA, string, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", types.Errorf(types.KindInvalidInput, err, "open %s", path)
	}
	return imaging.Clone(img), strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."), nil
}
