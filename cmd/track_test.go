package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexdivadi/faceblur/internal/config"
	"github.com/alexdivadi/faceblur/internal/scan"
	"github.com/alexdivadi/faceblur/internal/store"
	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/alexdivadi/faceblur/internal/utils"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestFmtTime(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{65, "00:01:05"},
		{3661, "01:01:01"},
	}

	for _, tt := range tests {
		if got := fmtTime(tt.seconds); got != tt.want {
			t.Errorf("fmtTime(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestFmtFrame(t *testing.T) {
	if got := fmtFrame(90, 30); got != "00:00:03 (frame 90)" {
		t.Errorf("fmtFrame(90, 30) = %q", got)
	}
	if got := fmtFrame(7, 0); got != "frame 7" {
		t.Errorf("fmtFrame without fps = %q", got)
	}
}

func TestValidateTrackFlags(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "video.mp4")
	if err := os.WriteFile(tmpFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		opts    trackOptions
		wantErr bool
	}{
		{"Valid options", trackOptions{InputPath: tmpFile, MinSeconds: 0.5, Source: "ffmpeg"}, false},
		{"Input file does not exist", trackOptions{InputPath: "nonexistent.mp4", MinSeconds: 0.5}, true},
		{"Input is directory", trackOptions{InputPath: t.TempDir(), MinSeconds: 0.5}, true},
		{"Zero interval", trackOptions{InputPath: tmpFile, MinSeconds: 0}, true},
		{"Negative interval", trackOptions{InputPath: tmpFile, MinSeconds: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTrackFlags(&tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateTrackFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, types.ErrInvalidInput) {
				t.Errorf("expected InvalidInput, got %v", err)
			}
		})
	}
}

func TestValidateTrackFlagsDefaultsSource(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "video.mp4")
	os.WriteFile(tmpFile, []byte("x"), 0o644)

	opts := trackOptions{InputPath: tmpFile, MinSeconds: 1}
	if err := validateTrackFlags(&opts); err != nil {
		t.Fatal(err)
	}
	if opts.Source != "opencv" {
		t.Errorf("source = %q, want opencv", opts.Source)
	}
}

func TestOpenVideoUnknownSource(t *testing.T) {
	_, err := openVideo(context.Background(), "gstreamer", "clip.mp4")
	if !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("expected InvalidInput, got %v", err)
	}
}

func TestValidateObscureFlags(t *testing.T) {
	tests := []struct {
		name     string
		opts     obscureOptions
		wantKind types.Kind
		want     []types.BoundingBox
	}{
		{
			name: "boxes",
			opts: obscureOptions{InputPath: "in.png", OutputPath: "out.jpg", Style: "blur", Boxes: []string{"1,2,3,4", " 5, 6, 7, 8"}},
			want: []types.BoundingBox{{X: 1, Y: 2, Width: 3, Height: 4}, {X: 5, Y: 6, Width: 7, Height: 8}},
		},
		{
			name: "detect only",
			opts: obscureOptions{InputPath: "in.png", OutputPath: "out.png", Style: "smile", Detect: true},
			want: []types.BoundingBox{},
		},
		{
			name:     "bad style",
			opts:     obscureOptions{InputPath: "in.png", OutputPath: "out.png", Style: "pixelate", Detect: true},
			wantKind: types.KindInvalidStyle,
		},
		{
			name:     "bad output format",
			opts:     obscureOptions{InputPath: "in.png", OutputPath: "out.heic", Style: "blur", Detect: true},
			wantKind: types.KindUnsupportedFormat,
		},
		{
			name:     "nothing to do",
			opts:     obscureOptions{InputPath: "in.png", OutputPath: "out.png", Style: "blur"},
			wantKind: types.KindInvalidInput,
		},
		{
			name:     "overwrite input",
			opts:     obscureOptions{InputPath: "dir/in.png", OutputPath: "dir/./in.png", Style: "blur", Detect: true},
			wantKind: types.KindInvalidInput,
		},
		{
			name:     "short box",
			opts:     obscureOptions{InputPath: "in.png", OutputPath: "out.png", Style: "blur", Boxes: []string{"1,2,3"}},
			wantKind: types.KindMalformedBoundingBox,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateObscureFlags(tt.opts)
			if kind := types.KindOf(err); kind != tt.wantKind {
				t.Fatalf("error kind = %q, want %q (err: %v)", kind, tt.wantKind, err)
			}
			if tt.wantKind != "" {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("boxes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPrintTrackSummary(t *testing.T) {
	var buf bytes.Buffer
	printTrackSummary(&buf, &trackResult{
		FPS: 30,
		Faces: []types.FaceSummary{
			{Label: "face_1", DetectionCount: 3, FirstFrame: 0, LastFrame: 60},
			{Label: "face_2", DetectionCount: 1, FirstFrame: 1800, LastFrame: 1800},
		},
		Stats: scan.Stats{Stride: 15, FramesRead: 1801, FramesSampled: 121, StableSkips: 100},
	})

	out := buf.String()
	for _, want := range []string{
		"Distinct Faces:   2",
		"1801 (every 15 sampled)",
		"face_1",
		"00:00:02 (frame 60)",
		"00:01:00 (frame 1800)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary is missing %q:\n%s", want, out)
		}
	}
}

func TestPrintBoxes(t *testing.T) {
	var buf bytes.Buffer
	if err := printBoxesJSON(&buf, []types.BoundingBox{{X: 1, Y: 2, Width: 3, Height: 4}}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "[[1,2,3,4]]\n" {
		t.Errorf("json = %q", buf.String())
	}

	buf.Reset()
	if err := printBoxesJSON(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "[]\n" {
		t.Errorf("empty json = %q", buf.String())
	}

	buf.Reset()
	printBoxes(&buf, nil)
	if !strings.Contains(buf.String(), "No faces found.") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestFailMarksReported(t *testing.T) {
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	err := fail("Something broke", types.Errorf(types.KindBackendUnavailable, nil, "no model"))
	w.Close()
	os.Stderr = oldStderr
	r.Close()

	var rep reported
	if !errors.As(err, &rep) {
		t.Fatalf("expected a reported error, got %T", err)
	}
	if !errors.Is(err, types.ErrBackendUnavailable) {
		t.Errorf("reported error should keep its kind: %v", err)
	}
}

// TestSaveRunPersistence runs the --save path of the track command against a
// real Postgres container.
func TestSaveRunPersistence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("faceblur_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer pgContainer.Terminate(ctx)

	connStr, _ := pgContainer.ConnectionString(ctx, "sslmode=disable")

	cfg = &config.Config{Database: config.DatabaseConfig{URL: connStr}}
	DB = nil
	db, err := openStore(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		db.Close()
		DB = nil
	}()

	videoPath := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(videoPath, []byte("not really a video"), 0o644); err != nil {
		t.Fatal(err)
	}

	started := time.Now().Add(-2 * time.Second)
	res := &trackResult{
		Path:       videoPath,
		FPS:        30,
		MinSeconds: 0.5,
		Faces: []types.FaceSummary{
			{Label: "face_1", DetectionCount: 4, FirstFrame: 0, LastFrame: 45},
			{Label: "face_2", DetectionCount: 2, FirstFrame: 15, LastFrame: 30},
		},
		Stats:    scan.Stats{Stride: 15, FramesRead: 60, FramesSampled: 4},
		Started:  started,
		Finished: started.Add(time.Second),
	}

	id, err := saveRun(ctx, db, res)
	if err != nil {
		t.Fatalf("saveRun failed: %v", err)
	}

	videoID, _ := utils.GenerateVideoID(videoPath)
	if got := resolveVideoID(videoPath); got != videoID {
		t.Errorf("resolveVideoID(path) = %q, want %q", got, videoID)
	}

	runs, err := db.ListRuns(ctx, videoID)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != id || runs[0].FaceCount != 2 || runs[0].Stride != 15 {
		t.Fatalf("unexpected runs %+v", runs)
	}

	faces, err := db.RunFaces(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(res.Faces, faces); diff != "" {
		t.Errorf("faces mismatch (-want +got):\n%s", diff)
	}

	var buf bytes.Buffer
	printRuns(&buf, runs)
	if !strings.Contains(buf.String(), id.String()) {
		t.Errorf("run table is missing the run ID:\n%s", buf.String())
	}

	_, err = db.RunFaces(ctx, uuid.New())
	if !errors.Is(err, store.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}
