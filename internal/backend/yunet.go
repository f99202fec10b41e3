package backend

import (
	"errors"
	"image"
	"sync"

	"github.com/alexdivadi/faceblur/internal/types"
	"gocv.io/x/gocv"
)

// yunetRowLen is the width of one YuNet output row:
// x, y, w, h, five landmark pairs, score.
const yunetRowLen = 15

// YuNet is one configured YuNet detector. The input size is instance state that
// every call rewrites, so calls are serialized.
type YuNet struct {
	mu     sync.Mutex
	net    gocv.FaceDetectorYN
	closed bool
}

func NewYuNet(modelPath string, inputSize image.Point, confidence, nms float32, topK int) (*YuNet, error) {
	if modelPath == "" {
		return nil, types.Errorf(types.KindBackendUnavailable, nil, "detection model path is empty")
	}
	net := gocv.NewFaceDetectorYNWithParams(modelPath, "", inputSize, confidence, nms, topK,
		int(gocv.NetBackendDefault), int(gocv.NetTargetCPU))
	return &YuNet{net: net}, nil
}

// Detect resizes the detector to img and runs it once.
func (y *YuNet) Detect(img image.Image) ([]types.Region, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, types.Errorf(types.KindFrameProcessing, err, "convert image")
	}
	defer src.Close()
	if src.Empty() {
		return nil, types.Errorf(types.KindFrameProcessing, nil, "empty image")
	}

	faces := gocv.NewMat()
	defer faces.Close()

	y.mu.Lock()
	if y.closed {
		y.mu.Unlock()
		return nil, types.Errorf(types.KindBackendUnavailable, errors.New("detector closed"), "detect")
	}
	y.net.SetInputSize(image.Pt(src.Cols(), src.Rows()))
	y.net.Detect(src, &faces)
	y.mu.Unlock()

	if faces.Empty() {
		return nil, nil
	}
	if faces.Cols() < yunetRowLen {
		return nil, types.Errorf(types.KindFrameProcessing, nil, "unexpected detector output width %d", faces.Cols())
	}

	regions := make([]types.Region, 0, faces.Rows())
	row := make([]float32, yunetRowLen)
	for i := 0; i < faces.Rows(); i++ {
		for j := range row {
			row[j] = faces.GetFloatAt(i, j)
		}
		regions = append(regions, regionFromRow(row))
	}
	return regions, nil
}

func (y *YuNet) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.closed {
		return nil
	}
	y.closed = true
	y.net.Close()
	return nil
}

func regionFromRow(row []float32) types.Region {
	r := types.Region{
		Box:        types.BoxFromFloats(row[0], row[1], row[2], row[3]),
		Confidence: row[14],
	}
	copy(r.Landmarks[:], row[4:14])
	return r
}

// faceRow rebuilds the 1x15 row the recognizer expects for alignment.
func faceRow(r types.Region) gocv.Mat {
	m := gocv.NewMatWithSize(1, yunetRowLen, gocv.MatTypeCV32F)
	m.SetFloatAt(0, 0, float32(r.Box.X))
	m.SetFloatAt(0, 1, float32(r.Box.Y))
	m.SetFloatAt(0, 2, float32(r.Box.Width))
	m.SetFloatAt(0, 3, float32(r.Box.Height))
	for i, v := range r.Landmarks {
		m.SetFloatAt(0, 4+i, v)
	}
	m.SetFloatAt(0, 14, r.Confidence)
	return m
}
