// Package backend adapts OpenCV's YuNet face detector and SFace face recognizer
// to the detector and matcher contracts used by the tracking engine.
package backend

import (
	"image"
	"os"
	"path/filepath"

	"github.com/alexdivadi/faceblur/internal/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultDetectionModel   = "face_detection_yunet_2023mar.onnx"
	DefaultRecognitionModel = "face_recognition_sface_2021dec.onnx"
)

// Config describes both detector tiers and the recognizer.
type Config struct {
	DetectionModel   string
	RecognitionModel string

	// InputSize is only the initial size; every inference resizes the
	// detector to the frame it is given.
	InputSize image.Point
	// LowConfidence is used for single-image detection where recall matters.
	LowConfidence float32
	// HighConfidence is used for video sampling. Low-confidence hits there
	// would split one person into several tracked faces.
	HighConfidence float32
	NMSThreshold   float32
	TopK           int

	Distance Distance
}

// DefaultConfig returns the stock thresholds with model files under modelDir.
func DefaultConfig(modelDir string) Config {
	return Config{
		DetectionModel:   filepath.Join(modelDir, DefaultDetectionModel),
		RecognitionModel: filepath.Join(modelDir, DefaultRecognitionModel),
		InputSize:        image.Pt(320, 320),
		LowConfidence:    0.7,
		HighConfidence:   0.9,
		NMSThreshold:     0.3,
		TopK:             5000,
		Distance:         Cosine,
	}
}

// Backends owns the two detector tiers and the recognizer. It is built once by
// the hosting process and handed to whoever needs it.
type Backends struct {
	Low        *YuNet
	High       *YuNet
	Recognizer *SFace
}

// Open loads the models. Any failure is BackendUnavailable: nothing can be
// detected or tracked without them.
func Open(cfg Config, logger *zap.Logger) (*Backends, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var missing error
	for _, p := range []string{cfg.DetectionModel, cfg.RecognitionModel} {
		if _, err := os.Stat(p); err != nil {
			missing = multierr.Append(missing, err)
		}
	}
	if missing != nil {
		return nil, types.Errorf(types.KindBackendUnavailable, missing, "model files missing")
	}

	low, err := NewYuNet(cfg.DetectionModel, cfg.InputSize, cfg.LowConfidence, cfg.NMSThreshold, cfg.TopK)
	if err != nil {
		return nil, err
	}
	high, err := NewYuNet(cfg.DetectionModel, cfg.InputSize, cfg.HighConfidence, cfg.NMSThreshold, cfg.TopK)
	if err != nil {
		low.Close()
		return nil, err
	}
	rec, err := NewSFace(cfg.RecognitionModel, cfg.Distance)
	if err != nil {
		low.Close()
		high.Close()
		return nil, err
	}

	logger.Info("face models loaded",
		zap.String("detector", cfg.DetectionModel),
		zap.String("recognizer", cfg.RecognitionModel),
		zap.Float32("low_confidence", cfg.LowConfidence),
		zap.Float32("high_confidence", cfg.HighConfidence),
	)
	return &Backends{Low: low, High: high, Recognizer: rec}, nil
}

// Close releases all models.
func (b *Backends) Close() error {
	return multierr.Combine(b.Low.Close(), b.High.Close(), b.Recognizer.Close())
}
