package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/alexdivadi/faceblur/internal/config"
	"github.com/alexdivadi/faceblur/internal/obscure"
	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"
)

// testServer wires the handlers to the given fakes and a temp upload dir.
func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Obscurer == nil {
		deps.Obscurer = obscure.New("", nil)
	}
	cfg := config.ServerConfig{
		Host:           "127.0.0.1",
		Port:           0,
		UploadDir:      t.TempDir(),
		AllowedOrigins: []string{"*"},
		MaxUploadBytes: 8 << 20,
	}
	return NewServer(cfg, deps, zaptest.NewLogger(t))
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type formFile struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files ...formFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(f.data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body map[string]errorDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

func TestHealth(t *testing.T) {
	s := testServer(t, Deps{})
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "{\"status\":\"ok\"}\n" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestDetectImage(t *testing.T) {
	var gotSize image.Point
	s := testServer(t, Deps{
		Detector: FaceDetectorFunc(func(img image.Image) ([]types.BoundingBox, error) {
			gotSize = img.Bounds().Size()
			return []types.BoundingBox{{X: 1, Y: 2, Width: 3, Height: 4}, {X: 5, Y: 6, Width: 7, Height: 8}}, nil
		}),
	})

	req := multipartRequest(t, "/detect", map[string]string{"type": "image"}, formFile{"image", "face.png", pngBytes(t, 20, 10)})
	rec := serve(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp detectImageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	want := detectImageResponse{Faces: [][]int{{1, 2, 3, 4}, {5, 6, 7, 8}}, NumOfFaces: 2}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
	if gotSize != image.Pt(20, 10) {
		t.Errorf("detector saw %v, want 20x10", gotSize)
	}
}

func TestDetectImageNoFaces(t *testing.T) {
	s := testServer(t, Deps{
		Detector: FaceDetectorFunc(func(img image.Image) ([]types.BoundingBox, error) { return nil, nil }),
	})
	req := multipartRequest(t, "/detect", map[string]string{"type": "image"}, formFile{"image", "x.png", pngBytes(t, 4, 4)})
	rec := serve(s, req)
	if rec.Body.String() != "{\"faces\":[],\"num_of_faces\":0}\n" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestDetectVideo(t *testing.T) {
	var seenPath string
	s := testServer(t, Deps{
		Tracker: VideoTrackerFunc(func(ctx context.Context, path string) ([]types.FaceSummary, error) {
			seenPath = path
			data, err := os.ReadFile(path)
			if err != nil || string(data) != "fake mp4" {
				t.Errorf("upload not saved correctly: %q, %v", data, err)
			}
			return []types.FaceSummary{{Label: "face_1"}, {Label: "face_2"}}, nil
		}),
	})

	req := multipartRequest(t, "/detect", map[string]string{"type": "video"}, formFile{"video", "../../clip.mp4", []byte("fake mp4")})
	rec := serve(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "{\"faces\":[\"face_1\",\"face_2\"],\"num_of_faces\":2}\n" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if _, err := os.Stat(seenPath); !os.IsNotExist(err) {
		t.Errorf("upload %s should be removed after tracking", seenPath)
	}
}

func TestDetectVideoUnavailable(t *testing.T) {
	s := testServer(t, Deps{
		Tracker: VideoTrackerFunc(func(ctx context.Context, path string) ([]types.FaceSummary, error) {
			return nil, types.Errorf(types.KindBackendUnavailable, errors.New("no model"), "load")
		}),
	})
	req := multipartRequest(t, "/detect", map[string]string{"type": "video"}, formFile{"video", "clip.mp4", []byte("x")})
	rec := serve(s, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Kind != "BackendUnavailable" || e.Code != 503 {
		t.Errorf("unexpected error body %+v", e)
	}
}

func TestDetectBadRequests(t *testing.T) {
	s := testServer(t, Deps{})
	tests := []struct {
		name string
		req  *http.Request
	}{
		{"unknown type", multipartRequest(t, "/detect", map[string]string{"type": "audio"})},
		{"missing file", multipartRequest(t, "/detect", map[string]string{"type": "image"})},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/detect", bytes.NewBufferString("{}"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, tt.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if e := decodeError(t, rec); e.Kind != "InvalidInput" || len(e.Args) != 1 {
				t.Errorf("unexpected error body %+v", e)
			}
		})
	}
}

func TestBlurImage(t *testing.T) {
	s := testServer(t, Deps{})
	req := multipartRequest(t, "/blur",
		map[string]string{"type": "image", "detections": "[[0,0,10,10],[5,5,-1,4]]"},
		formFile{"image", "photo.png", pngBytes(t, 30, 20)})

	rec := serve(s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp blurResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Size != [2]int{30, 20} {
		t.Errorf("size = %v, want [30 20]", resp.Size)
	}
	if resp.Mimetype != "image/png" {
		t.Errorf("mimetype = %q, want image/png", resp.Mimetype)
	}
	if diff := cmp.Diff([][]int{{5, 5, -1, 4}}, resp.Rejected); diff != "" {
		t.Errorf("rejected mismatch (-want +got):\n%s", diff)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Img)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("img is not a png: %v", err)
	}
	if img.Bounds().Dx() != 30 || img.Bounds().Dy() != 20 {
		t.Errorf("decoded size %v", img.Bounds())
	}
}

func TestBlurErrors(t *testing.T) {
	s := testServer(t, Deps{})
	img := formFile{"image", "photo.png", pngBytes(t, 8, 8)}
	tests := []struct {
		name   string
		fields map[string]string
		file   formFile
		status int
		kind   string
	}{
		{"invalid style", map[string]string{"type": "image", "detections": "[]", "style": "pixel"}, img, http.StatusBadRequest, "InvalidStyle"},
		{"short box", map[string]string{"type": "image", "detections": "[[1,2,3]]"}, img, http.StatusBadRequest, "MalformedBoundingBox"},
		{"bad json", map[string]string{"type": "image", "detections": "nope"}, img, http.StatusBadRequest, "InvalidInput"},
		{"unsupported output", map[string]string{"type": "image", "detections": "[]"}, formFile{"image", "photo.heic", img.data}, http.StatusBadRequest, "UnsupportedFormat"},
		{"video", map[string]string{"type": "video"}, img, http.StatusNotImplemented, "NotImplemented"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, multipartRequest(t, "/blur", tt.fields, tt.file))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if e := decodeError(t, rec); e.Kind != tt.kind || e.Code != tt.status {
				t.Errorf("unexpected error body %+v", e)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	s := testServer(t, Deps{})
	req := httptest.NewRequest(http.MethodOptions, "/detect", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := serve(s, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{types.Errorf(types.KindInvalidStyle, nil, "x"), http.StatusBadRequest},
		{types.Errorf(types.KindUnsupportedFormat, nil, "x"), http.StatusBadRequest},
		{types.Errorf(types.KindBackendUnavailable, nil, "x"), http.StatusServiceUnavailable},
		{types.Errorf(types.KindFrameProcessing, nil, "x"), http.StatusInternalServerError},
		{types.Errorf(types.KindInvalidInput, &http.MaxBytesError{Limit: 1}, "x"), http.StatusRequestEntityTooLarge},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
