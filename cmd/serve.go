package cmd

import (
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/alexdivadi/faceblur/internal/backend"
	"github.com/alexdivadi/faceblur/internal/obscure"
	"github.com/alexdivadi/faceblur/internal/scan"
	"github.com/alexdivadi/faceblur/internal/store"
	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/alexdivadi/faceblur/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the /detect and /blur HTTP endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0", "Listen host (default: HOST)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 5000, "Listen port (default: PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	fmt.Fprintln(os.Stderr, "🚀 Loading face models...")
	backends, err := openBackends()
	if err != nil {
		return fail("Failed to load face models", err)
	}
	defer backends.Close()

	engine := obscure.New(cfg.Models.Overlay, logger)
	if err := engine.Preload(); err != nil {
		return fail("Failed to load overlay image", err)
	}

	// Run history is optional here.
	db, err := openStore(ctx, false)
	if err != nil {
		return fail("Failed to open run history", err)
	}
	if db == nil {
		logger.Info("no database configured, tracking runs will not be stored")
	}

	srv := web.NewServer(cfg.Server, web.Deps{
		Detector: web.FaceDetectorFunc(func(img image.Image) ([]types.BoundingBox, error) {
			return scan.DetectFaces(backends.Low, img)
		}),
		Tracker:  videoTracker(backends, db),
		Obscurer: engine,
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	fmt.Fprintf(os.Stderr, "🌐 Listening on http://%s\n", cfg.Server.Addr())

	select {
	case err := <-errCh:
		if err != nil {
			return fail("Server stopped", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fail("Failed to shut down cleanly", err)
	}
	return <-errCh
}

// videoTracker tracks uploads with the configured decoder and interval and,
// when db is set, stores each finished run.
func videoTracker(b *backend.Backends, db *store.Store) web.VideoTrackerFunc {
	return func(ctx context.Context, path string) ([]types.FaceSummary, error) {
		res, err := trackFile(ctx, b, trackOptions{
			InputPath:  path,
			MinSeconds: cfg.Tracking.MinSeconds,
			Source:     cfg.Tracking.Source,
		}, nil)
		if err != nil {
			return nil, err
		}
		if db != nil {
			if id, err := saveRun(ctx, db, res); err != nil {
				logger.Warn("failed to save tracking run", zap.String("path", path), zap.Error(err))
			} else {
				logger.Info("tracking run saved", zap.Stringer("run_id", id))
			}
		}
		return res.Faces, nil
	}
}
