package obscure

import (
	"bytes"
	_ "embed"
	"image"
	"os"
	"sync"

	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

//go:embed assets/smiley.png
var smileyPNG []byte

// overlay is decoded once and only read afterwards.
type overlay struct {
	path string

	once sync.Once
	img  *image.NRGBA
	err  error
}

func (o *overlay) get() (*image.NRGBA, error) {
	o.once.Do(func() {
		data := smileyPNG
		if o.path != "" {
			b, err := os.ReadFile(o.path)
			if err != nil {
				o.err = types.Errorf(types.KindBackendUnavailable, err, "read overlay")
				return
			}
			data = b
		}
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			o.err = types.Errorf(types.KindBackendUnavailable, err, "decode overlay")
			return
		}
		o.img = imaging.Clone(img)
	})
	return o.img, o.err
}

// scaleOverlay returns a new w x h copy of ov.
func scaleOverlay(ov *image.NRGBA, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), ov, ov.Bounds(), xdraw.Src, nil)
	return dst
}
