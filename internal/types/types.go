package types

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// BoundingBox is a face region in pixel coordinates with the origin at the top-left.
// Position is unconstrained (a box may hang off the image); consumers clamp.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BoxFromFloats truncates detector output toward zero.
func BoxFromFloats(x, y, w, h float32) BoundingBox {
	return BoundingBox{X: int(x), Y: int(y), Width: int(w), Height: int(h)}
}

// BoxFromSlice builds a box from the [x, y, w, h] wire form.
func BoxFromSlice(v []int) (BoundingBox, error) {
	if len(v) != 4 {
		return BoundingBox{}, Errorf(KindMalformedBoundingBox, nil, "expected 4 values [x, y, w, h], got %d", len(v))
	}
	return BoundingBox{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

// ParseBox parses "x,y,w,h" as typed on the command line.
func ParseBox(s string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	vals := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return BoundingBox{}, Errorf(KindMalformedBoundingBox, err, "invalid box %q", s)
		}
		vals = append(vals, n)
	}
	return BoxFromSlice(vals)
}

// Slice returns the [x, y, w, h] wire form.
func (b BoundingBox) Slice() []int {
	return []int{b.X, b.Y, b.Width, b.Height}
}

// Validate rejects negative dimensions.
func (b BoundingBox) Validate() error {
	if b.Width < 0 || b.Height < 0 {
		return Errorf(KindMalformedBoundingBox, nil, "box %v has negative size", b.Slice())
	}
	return nil
}

// Clamp returns the part of the box that lies inside bounds. The result is empty
// when the box does not overlap the image at all.
func (b BoundingBox) Clamp(bounds image.Rectangle) image.Rectangle {
	x1 := max(b.X, bounds.Min.X)
	y1 := max(b.Y, bounds.Min.Y)
	x2 := min(b.X+b.Width, bounds.Max.X)
	y2 := min(b.Y+b.Height, bounds.Max.Y)
	if x2 <= x1 || y2 <= y1 {
		return image.Rectangle{}
	}
	return image.Rect(x1, y1, x2, y2)
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%d %d %d %d]", b.X, b.Y, b.Width, b.Height)
}

// Region is one raw detector hit: a box, its confidence and the five alignment
// landmarks (x0, y0, ... x4, y4) the recognizer uses to crop the face.
type Region struct {
	Box        BoundingBox
	Confidence float32
	Landmarks  [10]float32
}

// Detection is a Region observed in a specific video frame. It keeps the whole
// frame so later frames can be compared against it.
type Detection struct {
	Region
	FrameIndex int
	Frame      image.Image
}

// FaceSummary is the upward-facing view of a tracked face.
type FaceSummary struct {
	Label          string `json:"label"`
	DetectionCount int    `json:"detection_count"`
	FirstFrame     int    `json:"first_frame"`
	LastFrame      int    `json:"last_frame"`
}
