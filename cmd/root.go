package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexdivadi/faceblur/internal/backend"
	"github.com/alexdivadi/faceblur/internal/config"
	"github.com/alexdivadi/faceblur/internal/logging"
	"github.com/alexdivadi/faceblur/internal/store"
	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/alexdivadi/faceblur/internal/utils"
	"github.com/alexdivadi/faceblur/internal/video"
	"github.com/alexdivadi/faceblur/internal/video/opencv"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// cfg is loaded once per invocation, after .env and before any command runs.
	cfg *config.Config
	// logger is the process-wide structured logger.
	logger = zap.NewNop()
	// DB is opened lazily by the commands that keep run history.
	DB *store.Store

	closeLogger func() error

	dbURL    string
	debug    bool
	logFile  string
	modelDir string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "faceblur",
	Short:         "Face tracking and obscuring for videos and images",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if cmd.Flags().Changed("db") {
			cfg.Database.URL = dbURL
		}
		if debug {
			cfg.Log.Debug = true
		}
		if logFile != "" {
			cfg.Log.File = logFile
		}
		if modelDir != "" {
			cfg.Models.Dir = modelDir
		}
		if err := cfg.Validate(); err != nil {
			return fail("Invalid configuration", err)
		}

		logger, closeLogger = logging.New(logging.Options{Debug: cfg.Log.Debug, File: cfg.Log.File})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			DB.Close()
		}
		if closeLogger != nil {
			closeLogger()
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var r reported
		if !errors.As(err, &r) {
			utils.ShowError("Command failed", err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadDotEnv)

	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: DATABASE_URL, POSTGRES_* or "+config.DefaultDatabaseURL+")")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file (rotated)")
	rootCmd.PersistentFlags().StringVar(&modelDir, "model-dir", "", "Directory holding the ONNX face models")
}

func loadDotEnv() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
}

// reported marks an error whose box was already printed.
type reported struct{ error }

func (r reported) Unwrap() error { return r.error }

// fail prints the error box and returns err marked as reported.
func fail(context string, err error) error {
	utils.ShowError(context, err)
	if err == nil {
		err = errors.New(context)
	}
	return reported{err}
}

// openStore connects DB. When required is false and no database is
// configured it returns nil without error.
func openStore(ctx context.Context, required bool) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	url := cfg.Database.URL
	if url == "" {
		if !required {
			return nil, nil
		}
		url = config.DefaultDatabaseURL
	}

	db, err := store.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = db
	return DB, nil
}

// openBackends loads the face models described by cfg.
func openBackends() (*backend.Backends, error) {
	bc := backend.DefaultConfig(cfg.Models.Dir)
	bc.DetectionModel = cfg.Models.DetectionPath()
	bc.RecognitionModel = cfg.Models.RecognitionPath()
	bc.LowConfidence = float32(cfg.Models.LowConfidence)
	bc.HighConfidence = float32(cfg.Models.HighConfidence)

	dist, err := backend.ParseDistance(cfg.Models.Distance)
	if err != nil {
		return nil, err
	}
	bc.Distance = dist
	return backend.Open(bc, logger)
}

// openVideo opens path with the named decoder.
func openVideo(ctx context.Context, source, path string) (video.Source, error) {
	switch source {
	case video.BackendOpenCV:
		c, err := opencv.OpenCapture(path)
		if err != nil {
			return nil, err
		}
		return c, nil
	case video.BackendFFmpeg:
		f, err := video.OpenFFmpeg(ctx, path)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, types.Errorf(types.KindInvalidInput, nil, "unknown video source %q (use %s or %s)", source, video.BackendOpenCV, video.BackendFFmpeg)
	}
}
