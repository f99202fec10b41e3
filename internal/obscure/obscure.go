// Package obscure hides face regions of a still image by blurring them or by
// pasting a smiley over them.
package obscure

import (
	"bytes"
	"image"
	"image/draw"
	"math"
	"strings"

	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// Style is how a region gets obscured.
type Style string

const (
	Blur  Style = "blur"
	Smile Style = "smile"
)

// Styles lists the supported styles.
var Styles = []Style{Blur, Smile}

// StyleNames joins Styles for help and error text.
func StyleNames() string {
	names := make([]string, len(Styles))
	for i, st := range Styles {
		names[i] = string(st)
	}
	return strings.Join(names, ", ")
}

// ParseStyle rejects anything that is not a known style.
func ParseStyle(s string) (Style, error) {
	for _, st := range Styles {
		if Style(s) == st {
			return st, nil
		}
	}
	return "", types.Errorf(types.KindInvalidStyle, nil, "unknown style %q (want one of: %s)", s, StyleNames())
}

// Result is an encoded obscured image.
type Result struct {
	Data     []byte
	Width    int
	Height   int
	Format   string
	Rejected []types.BoundingBox
}

// Engine applies styles to images. It keeps no per-call state and may be
// shared between goroutines as long as each call gets its own image.
type Engine struct {
	overlay *overlay
	logger  *zap.Logger
}

// New builds an engine. overlayPath replaces the built-in smiley when set.
func New(overlayPath string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{overlay: &overlay{path: overlayPath}, logger: logger}
}

// Preload decodes the overlay now instead of on the first Smile call.
func (e *Engine) Preload() error {
	_, err := e.overlay.get()
	return err
}

// Obscure applies style to every box of img in order and encodes the whole
// image as format. img is modified in place. Style, format and overlay are
// checked before any pixel is touched. Boxes with a negative size are skipped
// and listed in Result.Rejected.
func (e *Engine) Obscure(style string, img draw.Image, boxes []types.BoundingBox, format string) (*Result, error) {
	st, err := ParseStyle(style)
	if err != nil {
		return nil, err
	}
	f, err := FormatFor(format)
	if err != nil {
		return nil, err
	}
	var ov *image.NRGBA
	if st == Smile {
		if ov, err = e.overlay.get(); err != nil {
			return nil, err
		}
	}

	res := &Result{Format: FormatName(f)}
	for _, box := range boxes {
		if err := box.Validate(); err != nil {
			e.logger.Warn("skipping bounding box", zap.Stringer("box", box), zap.Error(err))
			res.Rejected = append(res.Rejected, box)
			continue
		}
		region := box.Clamp(img.Bounds())
		if region.Empty() {
			continue
		}
		switch st {
		case Blur:
			blurRegion(img, region, KernelSize(box))
		case Smile:
			smileRegion(img, region, ov)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, f); err != nil {
		return nil, types.Errorf(types.KindUnsupportedFormat, err, "encode %s", res.Format)
	}
	res.Data = buf.Bytes()
	res.Width = img.Bounds().Dx()
	res.Height = img.Bounds().Dy()
	return res, nil
}

// KernelSize is the odd Gaussian kernel size for box, taken from the box as
// given rather than its clamped part. Boxes under 5 pixels get 1, which
// leaves them untouched.
//
// k only picks the standard deviation through Sigma. imaging.Blur sizes its
// own kernel to a radius of ceil(3*sigma), so the applied kernel is wider than
// k (radius 6 for k=9, where k spans a radius of 4).
func KernelSize(box types.BoundingBox) int {
	return 2*(min(box.Width, box.Height)/5) + 1
}

// Sigma is the standard deviation OpenCV derives for a kernel of size k when
// none is given.
func Sigma(k int) float64 {
	return 0.3*((float64(k)-1)*0.5-1) + 0.8
}

// blurRegion blurs only the pixels inside region; nothing outside it is read.
func blurRegion(img draw.Image, region image.Rectangle, k int) {
	if k <= 1 {
		return
	}
	blurred := imaging.Blur(imaging.Crop(img, region), Sigma(k))
	draw.Draw(img, region, blurred, image.Point{}, draw.Src)
}

// smileRegion composites the overlay, scaled to region, with the overlay's
// alpha: out = a*overlay + (1-a)*base. The base alpha is kept.
func smileRegion(img draw.Image, region image.Rectangle, ov *image.NRGBA) {
	scaled := scaleOverlay(ov, region.Dx(), region.Dy())
	base := imaging.Crop(img, region)

	for i := 0; i+3 < len(base.Pix); i += 4 {
		a := float64(scaled.Pix[i+3]) / 255
		for c := 0; c < 3; c++ {
			v := a*float64(scaled.Pix[i+c]) + (1-a)*float64(base.Pix[i+c])
			base.Pix[i+c] = uint8(math.Round(v))
		}
	}
	draw.Draw(img, region, base, image.Point{}, draw.Src)
}
