package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/alexdivadi/faceblur/internal/types"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/multierr"
)

const megabyte = 1024 * 1024

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// FFmpeg decodes a video by piping it through ffmpeg as a stream of MJPEG frames.
// Skipped frames are never JPEG-decoded in Go.
type FFmpeg struct {
	path    string
	fps     float64
	frames  int
	out     *io.PipeReader
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	done    chan error
	closed  bool

	// failed is set once the decoder error has been handed out. The stream
	// reads as exhausted after that.
	failed bool
}

// OpenFFmpeg probes path for its frame rate and starts the decoder.
func OpenFFmpeg(ctx context.Context, path string) (*FFmpeg, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, unavailable(path, err, "ffmpeg not found")
	}

	info, err := Probe(path)
	if err != nil {
		return nil, unavailable(path, err, "ffprobe failed")
	}
	if info.FPS <= 0 {
		return nil, unavailable(path, nil, "frame rate unavailable")
	}

	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()

	stream := ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{"format": "image2pipe", "vcodec": "mjpeg"}).
		GlobalArgs("-hide_banner", "-loglevel", "error").
		WithOutput(pw)
	stream.Context = ctx

	done := make(chan error, 1)
	go func() {
		err := stream.Run()
		pw.CloseWithError(err)
		done <- err
	}()

	return newFFmpeg(path, info, pr, cancel, done), nil
}

// newFFmpeg reads frames from out. done receives the decoder's exit status.
func newFFmpeg(path string, info StreamInfo, out *io.PipeReader, cancel context.CancelFunc, done chan error) *FFmpeg {
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(SplitJpeg)

	return &FFmpeg{
		path:    path,
		fps:     info.FPS,
		frames:  info.Frames,
		out:     out,
		scanner: scanner,
		cancel:  cancel,
		done:    done,
	}
}

func (f *FFmpeg) FPS() float64    { return f.fps }
func (f *FFmpeg) FrameCount() int { return f.frames }

// next returns the raw bytes of the next frame. A decoder failure is
// returned once as KindVideoUnavailable; the scanner keeps its error, so
// every later call reports io.EOF instead.
func (f *FFmpeg) next() ([]byte, error) {
	if f.closed || f.failed {
		return nil, io.EOF
	}
	if !f.scanner.Scan() {
		if err := f.scanner.Err(); err != nil {
			f.failed = true
			return nil, unavailable(f.path, err, "decoder stopped")
		}
		return nil, io.EOF
	}
	return f.scanner.Bytes(), nil
}

func (f *FFmpeg) Next() (image.Image, error) {
	data, err := f.next()
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, types.Errorf(types.KindFrameProcessing, err, "decode mjpeg frame")
	}
	return img, nil
}

func (f *FFmpeg) Skip() error {
	_, err := f.next()
	return err
}

// Close stops ffmpeg if it is still running and waits for it to exit.
func (f *FFmpeg) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.cancel()
	closeErr := f.out.Close()
	runErr := <-f.done
	if runErr != nil && (errors.Is(runErr, io.ErrClosedPipe) || strings.Contains(runErr.Error(), "signal: killed")) {
		// Expected when we stop reading before the end of the stream.
		runErr = nil
	}
	if f.failed {
		// Already reported by Next or Skip.
		runErr = nil
	}
	return multierr.Combine(closeErr, runErr)
}

// SplitJpeg is the custom splitter for bufio.Scanner
// It locates the Start Of Image (FFD8) and End Of Image (FFD9) markers to extract full JPEG frames.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// StreamInfo is what the tracker needs to know about a video before decoding it.
type StreamInfo struct {
	FPS    float64
	Frames int
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
}

// Probe asks ffprobe for the first video stream's frame rate and frame count.
func Probe(path string) (StreamInfo, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return StreamInfo{}, err
	}
	return parseProbe([]byte(out))
}

func parseProbe(data []byte) (StreamInfo, error) {
	var res probeOutput
	if err := json.Unmarshal(data, &res); err != nil {
		return StreamInfo{}, err
	}
	for _, s := range res.Streams {
		if s.CodecType != "video" {
			continue
		}
		fps := parseRate(s.AvgFrameRate)
		if fps <= 0 {
			fps = parseRate(s.RFrameRate)
		}
		frames, _ := strconv.Atoi(s.NbFrames) // "N/A" for some containers
		return StreamInfo{FPS: fps, Frames: frames}, nil
	}
	return StreamInfo{}, errors.New("no video stream")
}

// parseRate turns ffprobe's "30000/1001" into frames per second.
func parseRate(rate string) float64 {
	num, den, ok := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
