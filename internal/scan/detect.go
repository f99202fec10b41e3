package scan

import (
	"image"

	"github.com/alexdivadi/faceblur/internal/types"
)

// DetectFaces returns the face boxes in img. det should be the low-confidence
// detector; the adapter sizes itself to img before inferring.
func DetectFaces(det Detector, img image.Image) ([]types.BoundingBox, error) {
	regions, err := det.Detect(img)
	if err != nil {
		return nil, err
	}
	boxes := make([]types.BoundingBox, 0, len(regions))
	for _, r := range regions {
		boxes = append(boxes, r.Box)
	}
	return boxes, nil
}
