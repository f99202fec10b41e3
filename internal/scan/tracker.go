// Package scan finds faces in still images and tracks distinct faces through videos.
package scan

import (
	"context"
	"errors"
	"image"
	"io"
	"math"
	"time"

	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/alexdivadi/faceblur/internal/video"
	"go.uber.org/zap"
)

// Detector finds face regions in one image.
type Detector interface {
	Detect(img image.Image) ([]types.Region, error)
}

// Matcher decides whether two face regions belong to the same person. The
// verdict is final; the tracker never looks at the score itself.
type Matcher interface {
	Match(frameA image.Image, a types.Region, frameB image.Image, b types.Region) (score float64, isMatch bool, err error)
}

// Tracker builds a registry of distinct faces from a video. It processes one
// frame at a time and is not safe for concurrent Track calls.
type Tracker struct {
	detector Detector
	matcher  Matcher
	logger   *zap.Logger

	// OnFrame, when set, is called for every frame read from the source,
	// sampled or not.
	OnFrame func(index int)
}

// Stats describes one tracking run.
type Stats struct {
	Stride        int
	FramesRead    int
	FramesSampled int
	StableSkips   int
	FrameErrors   int
	Elapsed       time.Duration
}

// NewTracker uses det for sampling (it should be the high-confidence
// detector) and m to compare faces.
func NewTracker(det Detector, m Matcher, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{detector: det, matcher: m, logger: logger}
}

// SampleStride is the number of frames between two sampled frames.
func SampleStride(fps, minSeconds float64) int {
	stride := math.Floor(fps * minSeconds)
	if stride < 1 || math.IsNaN(stride) {
		return 1
	}
	return int(stride)
}

// Track reads src to the end, sampling one frame every minSeconds, and returns
// the faces it found. Failures on individual frames are logged and the frame
// is dropped. src is always closed. On cancellation, or when the source itself
// fails with KindVideoUnavailable, the faces found so far are returned with
// the error.
func (t *Tracker) Track(ctx context.Context, src video.Source, minSeconds float64) (*types.Registry, Stats, error) {
	defer func() {
		if err := src.Close(); err != nil {
			t.logger.Warn("failed to release video", zap.Error(err))
		}
	}()

	reg := types.NewRegistry()
	if minSeconds <= 0 || math.IsNaN(minSeconds) {
		return reg, Stats{}, types.Errorf(types.KindInvalidInput, nil, "min seconds must be positive, got %v", minSeconds)
	}

	stats := Stats{Stride: SampleStride(src.FPS(), minSeconds)}
	start := time.Now()
	t.logger.Info("detecting significant faces in video",
		zap.Float64("fps", src.FPS()),
		zap.Int("stride", stats.Stride),
	)

	// Detection count of the last committed sampled frame.
	lastCount := 0

	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			stats.Elapsed = time.Since(start)
			return reg, stats, err
		}

		if index%stats.Stride != 0 {
			err := src.Skip()
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, types.ErrVideoUnavailable) {
				return reg, t.sourceFailed(stats, start, index, err), err
			}
			stats.FramesRead++
			t.frameRead(index)
			if err != nil {
				t.logger.Warn("failed to skip frame", zap.Int("frame", index), zap.Error(err))
			}
			continue
		}

		img, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, types.ErrVideoUnavailable) {
			return reg, t.sourceFailed(stats, start, index, err), err
		}
		stats.FramesRead++
		stats.FramesSampled++
		t.frameRead(index)
		if err != nil {
			t.frameFailed(&stats, index, err)
			continue
		}

		count, stable, err := t.processFrame(reg, lastCount, index, img)
		if err != nil {
			t.frameFailed(&stats, index, err)
			continue
		}
		if stable {
			stats.StableSkips++
			continue
		}
		lastCount = count
	}

	stats.Elapsed = time.Since(start)
	t.logger.Info("video tracking finished",
		zap.Int("faces", reg.Len()),
		zap.Int("frames", stats.FramesRead),
		zap.Int("sampled", stats.FramesSampled),
		zap.Int("frame_errors", stats.FrameErrors),
		zap.Duration("elapsed", stats.Elapsed),
	)
	return reg, stats, nil
}

// processFrame detects faces in one sampled frame and folds them into reg.
// When the frame has as many faces as the last processed one it is assumed
// nobody new appeared and matching is skipped; this can miss two people
// swapping places.
func (t *Tracker) processFrame(reg *types.Registry, lastCount, index int, img image.Image) (count int, stable bool, err error) {
	regions, err := t.detector.Detect(img)
	if err != nil {
		return 0, false, err
	}
	if len(regions) == lastCount {
		return lastCount, true, nil
	}

	tx := reg.Begin()
	var created []*types.Face
	for _, r := range regions {
		d := types.Detection{Region: r, FrameIndex: index, Frame: img}

		// First match wins. Only each face's most recent sighting is compared.
		var match *types.Face
		for _, f := range tx.Candidates() {
			last := tx.Last(f)
			_, ok, err := t.matcher.Match(img, r, last.Frame, last.Region)
			if err != nil {
				tx.Discard()
				return 0, false, err
			}
			if ok {
				match = f
				break
			}
		}

		if match != nil {
			tx.Append(match, d)
			continue
		}
		created = append(created, tx.Create(d))
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	for _, f := range created {
		t.logger.Info("new face detected", zap.String("label", f.Label), zap.Int("frame", index))
	}
	return len(regions), false, nil
}

func (t *Tracker) frameRead(index int) {
	if t.OnFrame != nil {
		t.OnFrame(index)
	}
}

func (t *Tracker) sourceFailed(stats Stats, start time.Time, index int, err error) Stats {
	stats.Elapsed = time.Since(start)
	t.logger.Error("video source failed, stopping",
		zap.Int("frame", index),
		zap.Int("frames", stats.FramesRead),
		zap.Error(err),
	)
	return stats
}

func (t *Tracker) frameFailed(stats *Stats, index int, err error) {
	stats.FrameErrors++
	if types.KindOf(err) == "" {
		err = types.Errorf(types.KindFrameProcessing, err, "frame %d", index)
	}
	t.logger.Warn("error detecting faces in frame", zap.Int("frame", index), zap.Error(err))
}
