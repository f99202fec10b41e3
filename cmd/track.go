package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alexdivadi/faceblur/internal/backend"
	"github.com/alexdivadi/faceblur/internal/scan"
	"github.com/alexdivadi/faceblur/internal/store"
	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/alexdivadi/faceblur/internal/utils"
	"github.com/alexdivadi/faceblur/internal/video"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type trackOptions struct {
	InputPath  string
	MinSeconds float64
	Source     string
	Save       bool
}

var trackOpts trackOptions

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Find the distinct faces in a video",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := trackOpts
		if !cmd.Flags().Changed("min-seconds") {
			opts.MinSeconds = cfg.Tracking.MinSeconds
		}
		if !cmd.Flags().Changed("source") {
			opts.Source = cfg.Tracking.Source
		}
		return runTrack(cmd.Context(), opts)
	},
}

func init() {
	trackCmd.Flags().StringVarP(&trackOpts.InputPath, "input", "i", "", "Path to input video")
	trackCmd.Flags().Float64Var(&trackOpts.MinSeconds, "min-seconds", 0.5, "Seconds between sampled frames")
	trackCmd.Flags().StringVar(&trackOpts.Source, "source", "opencv", "Video decoder: opencv or ffmpeg")
	trackCmd.Flags().BoolVar(&trackOpts.Save, "save", false, "Store the run in PostgreSQL")
	trackCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(trackCmd)
}

// trackResult is one finished or interrupted tracking pass over a file.
type trackResult struct {
	Path       string
	FPS        float64
	MinSeconds float64
	Faces      []types.FaceSummary
	Stats      scan.Stats
	Started    time.Time
	Finished   time.Time
}

func runTrack(ctx context.Context, opts trackOptions) error {
	if err := validateTrackFlags(&opts); err != nil {
		return fail("Invalid track options", err)
	}

	fmt.Fprintln(os.Stderr, "🚀 Loading face models...")
	backends, err := openBackends()
	if err != nil {
		return fail("Failed to load face models", err)
	}
	defer backends.Close()

	var bar *progressbar.ProgressBar
	res, err := trackFile(ctx, backends, opts, func(total int) func(int) {
		if total <= 0 {
			total = -1
		}
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("🔍 Tracking faces"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		return func(int) { bar.Add(1) }
	})
	if bar != nil {
		bar.Finish()
	}
	if res == nil {
		return fail("Failed to track video", err)
	}

	interrupted := errors.Is(err, context.Canceled)
	if err != nil && !interrupted {
		return fail("Failed to track video", err)
	}
	if interrupted {
		fmt.Fprintln(os.Stderr, "\n🛑 Interrupted. Showing the faces found so far.")
	} else {
		fmt.Fprintf(os.Stderr, "\n🏁 Tracking Complete. Sampled %d frames out of %d.\n", res.Stats.FramesSampled, res.Stats.FramesRead)
	}
	printTrackSummary(os.Stdout, res)

	if opts.Save && !interrupted {
		db, err := openStore(ctx, true)
		if err != nil {
			return fail("Failed to open run history", err)
		}
		id, err := saveRun(ctx, db, res)
		if err != nil {
			return fail("Failed to save run", err)
		}
		fmt.Fprintf(os.Stderr, "💾 Saved run %s\n", id)
	}
	if interrupted {
		return reported{err}
	}
	return nil
}

// trackFile opens the video with the chosen decoder and tracks it with the
// high-confidence detector. progress, when set, is called once with the
// frame count (0 if unknown) and returns the per-frame callback.
func trackFile(ctx context.Context, b *backend.Backends, opts trackOptions, progress func(total int) func(int)) (*trackResult, error) {
	src, err := openVideo(ctx, opts.Source, opts.InputPath)
	if err != nil {
		return nil, err
	}

	res := &trackResult{Path: opts.InputPath, FPS: src.FPS(), MinSeconds: opts.MinSeconds, Started: time.Now()}
	logger.Debug("video opened",
		zap.String("path", opts.InputPath),
		zap.String("source", opts.Source),
		zap.Float64("fps", res.FPS),
		zap.Int("frames", src.FrameCount()),
	)

	tracker := scan.NewTracker(b.High, b.Recognizer, logger)
	if progress != nil {
		tracker.OnFrame = progress(src.FrameCount())
	}

	reg, stats, err := tracker.Track(ctx, src, opts.MinSeconds)
	res.Faces = reg.Summary()
	res.Stats = stats
	res.Finished = time.Now()
	return res, err
}

// saveRun stores res under the video's content ID.
func saveRun(ctx context.Context, db *store.Store, res *trackResult) (uuid.UUID, error) {
	videoID, err := utils.GenerateVideoID(res.Path)
	if err != nil {
		return uuid.Nil, err
	}
	if err := db.EnsureVideoMetadata(ctx, videoID, res.Path, res.FPS); err != nil {
		return uuid.Nil, err
	}
	return db.SaveRun(ctx, store.Run{
		VideoID:       videoID,
		Path:          res.Path,
		MinSeconds:    res.MinSeconds,
		Stride:        res.Stats.Stride,
		FramesRead:    res.Stats.FramesRead,
		FramesSampled: res.Stats.FramesSampled,
		FrameErrors:   res.Stats.FrameErrors,
		StartedAt:     res.Started,
		FinishedAt:    res.Finished,
	}, res.Faces)
}

func printTrackSummary(w io.Writer, res *trackResult) {
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 TRACK SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "👤 Distinct Faces:   %d\n", len(res.Faces))
	fmt.Fprintf(w, "🎞️  Frames Read:      %d (every %d sampled)\n", res.Stats.FramesRead, res.Stats.Stride)
	fmt.Fprintf(w, "⏭️  Stable Frames:    %d\n", res.Stats.StableSkips)
	fmt.Fprintf(w, "⚠️  Frame Errors:     %d\n", res.Stats.FrameErrors)
	fmt.Fprintf(w, "⏱️  Elapsed:          %s\n", res.Stats.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	if len(res.Faces) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tDETECTIONS\tFIRST SEEN\tLAST SEEN")
	fmt.Fprintln(tw, "-----\t----------\t----------\t---------")
	for _, f := range res.Faces {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", f.Label, f.DetectionCount,
			fmtFrame(f.FirstFrame, res.FPS), fmtFrame(f.LastFrame, res.FPS))
	}
	tw.Flush()
}

func validateTrackFlags(opts *trackOptions) error {
	info, err := os.Stat(opts.InputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return types.Errorf(types.KindInvalidInput, err, "input file does not exist")
		}
		return types.Errorf(types.KindInvalidInput, err, "unable to access input file")
	}
	if info.IsDir() {
		return types.Errorf(types.KindInvalidInput, nil, "input path %s is a directory, expected a video file", opts.InputPath)
	}
	if opts.MinSeconds <= 0 {
		return types.Errorf(types.KindInvalidInput, nil, "min-seconds must be positive, got %v", opts.MinSeconds)
	}
	if opts.Source == "" {
		opts.Source = video.BackendOpenCV
	}
	return nil
}

// fmtFrame renders a frame index as its timestamp.
func fmtFrame(frame int, fps float64) string {
	if fps <= 0 {
		return fmt.Sprintf("frame %d", frame)
	}
	return fmt.Sprintf("%s (frame %d)", fmtTime(float64(frame)/fps), frame)
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
