// Package video opens video files as sequential frame sources for tracking.
package video

import (
	"fmt"
	"image"

	"github.com/alexdivadi/faceblur/internal/types"
)

// Source yields the frames of one video in order. Next and Skip return io.EOF
// once the stream is exhausted. Close releases the underlying decoder and is
// safe to call more than once.
type Source interface {
	FPS() float64
	// FrameCount is a best-effort estimate; 0 means unknown.
	FrameCount() int
	Next() (image.Image, error)
	// Skip advances past one frame without handing it out.
	Skip() error
	Close() error
}

// Decoder backends selectable from the command line.
const (
	BackendOpenCV = "opencv"
	BackendFFmpeg = "ffmpeg"
)

func unavailable(path string, err error, format string, args ...any) error {
	return types.Errorf(types.KindVideoUnavailable, err, "%s: %s", path, fmt.Sprintf(format, args...))
}
