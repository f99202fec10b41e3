package backend

import (
	"errors"
	"image"
	"strings"
	"sync"

	"github.com/alexdivadi/faceblur/internal/types"
	"gocv.io/x/gocv"
)

// Distance selects how SFace compares two face features.
type Distance string

const (
	Cosine Distance = "cosine"
	NormL2 Distance = "l2"
)

// Match thresholds published with the SFace model.
const (
	cosineThreshold = 0.363
	l2Threshold     = 1.128
)

func ParseDistance(s string) (Distance, error) {
	switch d := Distance(strings.ToLower(s)); d {
	case Cosine, NormL2:
		return d, nil
	default:
		return "", types.Errorf(types.KindInvalidInput, nil, "unknown distance %q (want cosine or l2)", s)
	}
}

// SFace decides whether two face regions show the same person.
type SFace struct {
	mu       sync.Mutex
	rec      gocv.FaceRecognizerSF
	distance Distance
	closed   bool
}

func NewSFace(modelPath string, distance Distance) (*SFace, error) {
	if modelPath == "" {
		return nil, types.Errorf(types.KindBackendUnavailable, nil, "recognition model path is empty")
	}
	if distance == "" {
		distance = Cosine
	}
	return &SFace{rec: gocv.NewFaceRecognizerSF(modelPath, ""), distance: distance}, nil
}

// Match compares region a of frameA with region b of frameB. The verdict uses
// the model's published threshold for the configured distance.
func (s *SFace) Match(frameA image.Image, a types.Region, frameB image.Image, b types.Region) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false, types.Errorf(types.KindBackendUnavailable, errors.New("recognizer closed"), "match")
	}

	fa, err := s.feature(frameA, a)
	if err != nil {
		return 0, false, err
	}
	defer fa.Close()
	fb, err := s.feature(frameB, b)
	if err != nil {
		return 0, false, err
	}
	defer fb.Close()

	if s.distance == NormL2 {
		score := float64(s.rec.MatchWithParams(fa, fb, gocv.FaceRecognizerSFDisTypeNormL2))
		return score, score <= l2Threshold, nil
	}
	score := float64(s.rec.MatchWithParams(fa, fb, gocv.FaceRecognizerSFDisTypeCosine))
	return score, score >= cosineThreshold, nil
}

func (s *SFace) feature(frame image.Image, r types.Region) (gocv.Mat, error) {
	src, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return gocv.Mat{}, types.Errorf(types.KindFrameProcessing, err, "convert frame")
	}
	defer src.Close()

	box := faceRow(r)
	defer box.Close()

	aligned := gocv.NewMat()
	defer aligned.Close()
	s.rec.AlignCrop(src, box, &aligned)
	if aligned.Empty() {
		return gocv.Mat{}, types.Errorf(types.KindFrameProcessing, nil, "align crop for box %v failed", r.Box)
	}

	feat := gocv.NewMat()
	defer feat.Close()
	s.rec.Feature(aligned, &feat)
	if feat.Empty() {
		return gocv.Mat{}, types.Errorf(types.KindFrameProcessing, nil, "no feature for box %v", r.Box)
	}
	// The output aliases the network's buffer until the next call.
	return feat.Clone(), nil
}

func (s *SFace) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.rec.Close()
	return nil
}
