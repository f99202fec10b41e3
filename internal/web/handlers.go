package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/draw"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/alexdivadi/faceblur/internal/obscure"
	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FaceDetector finds faces in one still image.
type FaceDetector interface {
	DetectFaces(img image.Image) ([]types.BoundingBox, error)
}

// FaceDetectorFunc adapts a function to FaceDetector.
type FaceDetectorFunc func(img image.Image) ([]types.BoundingBox, error)

func (f FaceDetectorFunc) DetectFaces(img image.Image) ([]types.BoundingBox, error) { return f(img) }

// VideoTracker tracks the distinct faces of a video file on disk.
type VideoTracker interface {
	TrackVideo(ctx context.Context, path string) ([]types.FaceSummary, error)
}

// VideoTrackerFunc adapts a function to VideoTracker.
type VideoTrackerFunc func(ctx context.Context, path string) ([]types.FaceSummary, error)

func (f VideoTrackerFunc) TrackVideo(ctx context.Context, path string) ([]types.FaceSummary, error) {
	return f(ctx, path)
}

// Obscurer hides regions of an image and encodes the result.
type Obscurer interface {
	Obscure(style string, img draw.Image, boxes []types.BoundingBox, format string) (*obscure.Result, error)
}

const maxFormMemory = 32 << 20

type detectImageResponse struct {
	Faces      [][]int `json:"faces"`
	NumOfFaces int     `json:"num_of_faces"`
}

type detectVideoResponse struct {
	Faces      []string `json:"faces"`
	NumOfFaces int      `json:"num_of_faces"`
}

type blurResponse struct {
	Img      string  `json:"img"`
	Size     [2]int  `json:"size"`
	Mimetype string  `json:"mimetype"`
	Rejected [][]int `json:"rejected"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// detect handles POST /detect for type=image and type=video uploads.
func (s *Server) detect(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.respondError(w, r, err)
		return
	}

	switch r.FormValue("type") {
	case "image":
		img, _, err := readImage(r, "image")
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		boxes, err := s.deps.Detector.DetectFaces(img)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		resp := detectImageResponse{Faces: make([][]int, 0, len(boxes)), NumOfFaces: len(boxes)}
		for _, b := range boxes {
			resp.Faces = append(resp.Faces, b.Slice())
		}
		respondJSON(w, http.StatusOK, resp)

	case "video":
		path, err := s.saveUpload(r, "video")
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		defer func() {
			if err := os.Remove(path); err != nil {
				s.logger.Warn("failed to remove upload", zap.String("path", path), zap.Error(err))
			}
		}()

		faces, err := s.deps.Tracker.TrackVideo(r.Context(), path)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		resp := detectVideoResponse{Faces: make([]string, 0, len(faces)), NumOfFaces: len(faces)}
		for _, f := range faces {
			resp.Faces = append(resp.Faces, f.Label)
		}
		respondJSON(w, http.StatusOK, resp)

	default:
		s.respondError(w, r, invalidType(r.FormValue("type")))
	}
}

// blur handles POST /blur. Only images can be obscured.
func (s *Server) blur(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.respondError(w, r, err)
		return
	}

	switch r.FormValue("type") {
	case "image":
	case "video":
		respondJSON(w, http.StatusNotImplemented, errorBody(http.StatusNotImplemented, "NotImplemented", "video obscuring is not supported"))
		return
	default:
		s.respondError(w, r, invalidType(r.FormValue("type")))
		return
	}

	boxes, err := parseDetections(r.FormValue("detections"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	style := r.FormValue("style")
	if style == "" {
		style = string(obscure.Blur)
	}

	img, header, err := readImage(r, "image")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	// The output keeps the upload's format, taken from its file name.
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.filename)), ".")
	if format == "" {
		format = header.decoded
	}

	res, err := s.deps.Obscurer.Obscure(style, img, boxes, format)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	mimetype := header.contentType
	if mimetype == "" || mimetype == "application/octet-stream" {
		if f, err := obscure.FormatFor(res.Format); err == nil {
			mimetype = obscure.MimeType(f)
		}
	}
	resp := blurResponse{
		Img:      base64.StdEncoding.EncodeToString(res.Data),
		Size:     [2]int{res.Width, res.Height},
		Mimetype: mimetype,
		Rejected: make([][]int, 0, len(res.Rejected)),
	}
	for _, b := range res.Rejected {
		resp.Rejected = append(resp.Rejected, b.Slice())
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		return types.Errorf(types.KindInvalidInput, err, "expected a multipart form")
	}
	return nil
}

type uploadInfo struct {
	filename    string
	contentType string
	decoded     string
}

func readImage(r *http.Request, field string) (*image.NRGBA, uploadInfo, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, uploadInfo{}, types.Errorf(types.KindInvalidInput, err, "missing %q file", field)
	}
	defer file.Close()

	img, decoded, err := obscure.Decode(file)
	if err != nil {
		return nil, uploadInfo{}, err
	}
	return img, uploadInfo{
		filename:    header.Filename,
		contentType: header.Header.Get("Content-Type"),
		decoded:     decoded,
	}, nil
}

var safeExt = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,8}$`)

// saveUpload copies the uploaded file into the upload dir under a random name
// and returns its path.
func (s *Server) saveUpload(r *http.Request, field string) (string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", types.Errorf(types.KindInvalidInput, err, "missing %q file", field)
	}
	defer file.Close()

	ext := filepath.Ext(filepath.Base(header.Filename))
	if !safeExt.MatchString(ext) {
		ext = ""
	}
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.cfg.UploadDir, "upload-"+uuid.NewString()+ext)

	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	return path, out.Close()
}

// parseDetections reads the [[x, y, w, h], ...] form field.
func parseDetections(raw string) ([]types.BoundingBox, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, types.Errorf(types.KindInvalidInput, nil, "missing detections")
	}
	var rows [][]int
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, types.Errorf(types.KindInvalidInput, err, "detections must be a JSON list of [x, y, w, h]")
	}
	boxes := make([]types.BoundingBox, 0, len(rows))
	for _, row := range rows {
		b, err := types.BoxFromSlice(row)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, b)
	}
	return boxes, nil
}

func invalidType(t string) error {
	return types.Errorf(types.KindInvalidInput, nil, "type must be image or video, got %q", t)
}

type errorDetail struct {
	Code int      `json:"code"`
	Kind string   `json:"kind"`
	Args []string `json:"args"`
}

func errorBody(code int, kind, msg string) map[string]errorDetail {
	return map[string]errorDetail{"error": {Code: code, Kind: kind, Args: []string{msg}}}
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}
	switch types.KindOf(err) {
	case types.KindInvalidStyle, types.KindInvalidInput, types.KindUnsupportedFormat, types.KindMalformedBoundingBox:
		return http.StatusBadRequest
	case types.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := string(types.KindOf(err))
	if kind == "" {
		kind = "InternalError"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	respondJSON(w, status, errorBody(status, kind, err.Error()))
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
