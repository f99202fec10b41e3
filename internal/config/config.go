package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// DefaultDatabaseURL is used by commands that need a database when nothing
// else is configured.
const DefaultDatabaseURL = "postgres://localhost:5432/faceblur"

type Config struct {
	Models   ModelsConfig
	Tracking TrackingConfig
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
}

type ModelsConfig struct {
	Dir         string
	Detection   string // file name or path; relative names resolve against Dir
	Recognition string
	Overlay     string // empty uses the built-in smiley

	LowConfidence  float64 // single-image detection
	HighConfidence float64 // video sampling
	Distance       string  // cosine or l2
}

type TrackingConfig struct {
	MinSeconds float64
	Source     string // opencv or ffmpeg
}

type ServerConfig struct {
	Host           string
	Port           int
	UploadDir      string
	AllowedOrigins []string
	RequestTimeout time.Duration
	MaxUploadBytes int64
}

type LogConfig struct {
	Debug bool
	File  string // optional rotating JSON log
}

type DatabaseConfig struct {
	URL string // empty disables run history for commands that treat it as optional
}

// DetectionPath returns the detection model path.
func (m ModelsConfig) DetectionPath() string {
	return m.resolve(m.Detection)
}

// RecognitionPath returns the recognition model path.
func (m ModelsConfig) RecognitionPath() string {
	return m.resolve(m.Recognition)
}

func (m ModelsConfig) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	return filepath.Join(m.Dir, name)
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat is envInt for positive floats.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envList(key, defaultVal string) []string {
	var out []string
	for _, s := range strings.Split(envString(key, defaultVal), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Load reads the configuration from the environment.
func Load() *Config {
	return &Config{
		Models: ModelsConfig{
			Dir:            envString("FACEBLUR_MODEL_DIR", "model"),
			Detection:      envString("FACEBLUR_DETECTION_MODEL", "face_detection_yunet_2023mar.onnx"),
			Recognition:    envString("FACEBLUR_RECOGNITION_MODEL", "face_recognition_sface_2021dec.onnx"),
			Overlay:        os.Getenv("FACEBLUR_OVERLAY"),
			LowConfidence:  envFloat("FACEBLUR_LOW_CONFIDENCE", 0.7),
			HighConfidence: envFloat("FACEBLUR_HIGH_CONFIDENCE", 0.9),
			Distance:       envString("FACEBLUR_DISTANCE", "cosine"),
		},
		Tracking: TrackingConfig{
			MinSeconds: envFloat("FACEBLUR_MIN_SECONDS", 0.5),
			Source:     envString("FACEBLUR_VIDEO_SOURCE", "opencv"),
		},
		Server: ServerConfig{
			Host:           envString("HOST", "0.0.0.0"),
			Port:           envInt("PORT", 5000),
			UploadDir:      envString("FACEBLUR_UPLOAD_DIR", "uploads"),
			AllowedOrigins: envList("FACEBLUR_ALLOWED_ORIGINS", "*"),
			RequestTimeout: envDuration("FACEBLUR_REQUEST_TIMEOUT", 10*time.Minute),
			MaxUploadBytes: int64(envInt("FACEBLUR_MAX_UPLOAD_MB", 512)) << 20,
		},
		Log: LogConfig{
			Debug: envBool("FACEBLUR_DEBUG"),
			File:  os.Getenv("FACEBLUR_LOG_FILE"),
		},
		Database: DatabaseConfig{
			URL: DatabaseURLFromEnv(),
		},
	}
}

// DatabaseURLFromEnv returns DATABASE_URL, or a URL built from the POSTGRES_*
// variables when POSTGRES_HOST is set, or "".
func DatabaseURLFromEnv() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var err error
	if c.Models.LowConfidence <= 0 || c.Models.LowConfidence > 1 {
		err = multierr.Append(err, fmt.Errorf("low confidence must be in (0, 1], got %v", c.Models.LowConfidence))
	}
	if c.Models.HighConfidence <= 0 || c.Models.HighConfidence > 1 {
		err = multierr.Append(err, fmt.Errorf("high confidence must be in (0, 1], got %v", c.Models.HighConfidence))
	}
	if d := strings.ToLower(c.Models.Distance); d != "cosine" && d != "l2" {
		err = multierr.Append(err, fmt.Errorf("distance must be cosine or l2, got %q", c.Models.Distance))
	}
	if c.Tracking.MinSeconds <= 0 {
		err = multierr.Append(err, fmt.Errorf("min seconds must be positive, got %v", c.Tracking.MinSeconds))
	}
	if c.Tracking.Source != "opencv" && c.Tracking.Source != "ffmpeg" {
		err = multierr.Append(err, fmt.Errorf("video source must be opencv or ffmpeg, got %q", c.Tracking.Source))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("port must be in 1-65535, got %d", c.Server.Port))
	}
	return err
}
