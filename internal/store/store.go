package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store keeps the history of tracking runs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Run is one stored tracking run.
type Run struct {
	ID            uuid.UUID
	VideoID       string
	Path          string
	MinSeconds    float64
	Stride        int
	FramesRead    int
	FramesSampled int
	FrameErrors   int
	StartedAt     time.Time
	FinishedAt    time.Time
	// FaceCount is filled in by ListRuns.
	FaceCount int
}

// New connects to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			fps DOUBLE PRECISION NOT NULL DEFAULT 0,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS tracking_runs (
			id UUID PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES video_metadata(id),
			min_seconds DOUBLE PRECISION NOT NULL,
			stride INT NOT NULL,
			frames_read INT NOT NULL,
			frames_sampled INT NOT NULL,
			frame_errors INT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tracked_faces (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES tracking_runs(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			detection_count INT NOT NULL,
			first_frame INT NOT NULL,
			last_frame INT NOT NULL,
			UNIQUE (run_id, label)
		);
		CREATE INDEX IF NOT EXISTS tracking_runs_video_id_idx ON tracking_runs (video_id);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureVideoMetadata registers the video. If it exists, the path, fps and
// timestamp are refreshed.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID, path string, fps float64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO video_metadata (id, path, fps, indexed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path, fps = EXCLUDED.fps
	`, videoID, path, fps)
	return err
}

// SaveRun stores a run and the faces it found in one transaction. A zero
// run.ID is replaced by a fresh one; the stored ID is returned.
func (s *Store) SaveRun(ctx context.Context, run Run, faces []types.FaceSummary) (uuid.UUID, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO tracking_runs (id, video_id, min_seconds, stride, frames_read, frames_sampled, frame_errors, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, run.ID, run.VideoID, run.MinSeconds, run.Stride, run.FramesRead, run.FramesSampled, run.FrameErrors, run.StartedAt, run.FinishedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for _, f := range faces {
		batch.Queue(`
			INSERT INTO tracked_faces (run_id, label, detection_count, first_frame, last_frame)
			VALUES ($1, $2, $3, $4, $5)
		`, run.ID, f.Label, f.DetectionCount, f.FirstFrame, f.LastFrame)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return uuid.Nil, fmt.Errorf("insert faces: %w", err)
	}

	return run.ID, tx.Commit(ctx)
}

// ListRuns returns stored runs, newest first. An empty videoID lists all.
func (s *Store) ListRuns(ctx context.Context, videoID string) ([]Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.video_id, v.path, r.min_seconds, r.stride, r.frames_read, r.frames_sampled,
		       r.frame_errors, r.started_at, r.finished_at,
		       (SELECT COUNT(*) FROM tracked_faces f WHERE f.run_id = r.id)
		FROM tracking_runs r
		JOIN video_metadata v ON v.id = r.video_id
		WHERE $1 = '' OR r.video_id = $1
		ORDER BY r.started_at DESC
	`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.VideoID, &r.Path, &r.MinSeconds, &r.Stride, &r.FramesRead, &r.FramesSampled,
			&r.FrameErrors, &r.StartedAt, &r.FinishedAt, &r.FaceCount); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ErrRunNotFound is returned by RunFaces for an unknown run.
var ErrRunNotFound = errors.New("run not found")

// RunFaces returns the faces of one run in label order of first sighting.
func (s *Store) RunFaces(ctx context.Context, runID uuid.UUID) ([]types.FaceSummary, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM tracking_runs WHERE id = $1)", runID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRunNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT label, detection_count, first_frame, last_frame
		FROM tracked_faces
		WHERE run_id = $1
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	faces := []types.FaceSummary{}
	for rows.Next() {
		var f types.FaceSummary
		if err := rows.Scan(&f.Label, &f.DetectionCount, &f.FirstFrame, &f.LastFrame); err != nil {
			return nil, err
		}
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS tracked_faces CASCADE;
		DROP TABLE IF EXISTS tracking_runs CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}
