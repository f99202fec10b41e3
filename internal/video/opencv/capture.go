// Package opencv reads video frames through OpenCV.
package opencv

import (
	"fmt"
	"image"
	"io"
	"math"

	"github.com/alexdivadi/faceblur/internal/types"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// Capture reads frames through OpenCV's VideoCapture.
type Capture struct {
	vc     *gocv.VideoCapture
	frame  gocv.Mat
	fps    float64
	frames int
	closed bool
}

// OpenCapture opens path and reads its native frame rate. A file OpenCV cannot
// open, or one without a usable frame rate, is reported as VideoUnavailable.
func OpenCapture(path string) (*Capture, error) {
	vc, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, unavailable(path, err, "cannot open video")
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, unavailable(path, nil, "cannot open video")
	}

	fps := vc.Get(gocv.VideoCaptureFPS)
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		vc.Close()
		return nil, unavailable(path, nil, "frame rate unavailable")
	}

	frames := int(vc.Get(gocv.VideoCaptureFrameCount))
	if frames < 0 {
		frames = 0
	}

	return &Capture{vc: vc, frame: gocv.NewMat(), fps: fps, frames: frames}, nil
}

func (c *Capture) FPS() float64    { return c.fps }
func (c *Capture) FrameCount() int { return c.frames }

func (c *Capture) Next() (image.Image, error) {
	if c.closed || !c.vc.Read(&c.frame) || c.frame.Empty() {
		return nil, io.EOF
	}
	img, err := c.frame.ToImage()
	if err != nil {
		return nil, types.Errorf(types.KindFrameProcessing, err, "convert frame")
	}
	return img, nil
}

// Skip still decodes: OpenCV has no cheaper way to step a container by one
// frame and detect the end of the stream. The conversion to image.Image is the
// part that is avoided.
func (c *Capture) Skip() error {
	if c.closed || !c.vc.Read(&c.frame) || c.frame.Empty() {
		return io.EOF
	}
	return nil
}

func (c *Capture) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return multierr.Combine(c.frame.Close(), c.vc.Close())
}

func unavailable(path string, err error, format string, args ...any) error {
	return types.Errorf(types.KindVideoUnavailable, err, "%s: %s", path, fmt.Sprintf(format, args...))
}
