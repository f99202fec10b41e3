package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alexdivadi/faceblur/internal/store"
	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/alexdivadi/faceblur/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var runsRunID string

var runsCmd = &cobra.Command{
	Use:   "runs [video_path|video_id]",
	Short: "List stored tracking runs",
	Long:  "Lists the stored tracking runs, newest first, optionally for one video. With --run, prints the faces of that run.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context(), true)
		if err != nil {
			return fail("Failed to open run history", err)
		}

		if runsRunID != "" {
			id, err := uuid.Parse(runsRunID)
			if err != nil {
				return fail("Invalid run ID", types.Errorf(types.KindInvalidInput, err, "%q is not a run ID", runsRunID))
			}
			faces, err := db.RunFaces(cmd.Context(), id)
			if errors.Is(err, store.ErrRunNotFound) {
				return fail("Run not found", err)
			}
			if err != nil {
				return fail("Failed to load run", err)
			}
			printRunFaces(os.Stdout, faces)
			return nil
		}

		var videoID string
		if len(args) == 1 {
			videoID = resolveVideoID(args[0])
		}
		runs, err := db.ListRuns(cmd.Context(), videoID)
		if err != nil {
			return fail("Failed to list runs", err)
		}
		printRuns(os.Stdout, runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsRunID, "run", "", "Show the faces found by this run")
	rootCmd.AddCommand(runsCmd)
}

// resolveVideoID accepts either a video file on disk or a stored video ID.
func resolveVideoID(arg string) string {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		if id, err := utils.GenerateVideoID(arg); err == nil {
			return id
		}
	}
	return arg
}

func printRuns(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No tracking runs found in database.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "RUN\tVIDEO\tFACES\tSAMPLED\tERRORS\tDURATION\tSTARTED")
	fmt.Fprintln(tw, "---\t-----\t-----\t-------\t------\t--------\t-------")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d/%d\t%d\t%s\t%s\n",
			r.ID, r.Path, r.FaceCount, r.FramesSampled, r.FramesRead, r.FrameErrors,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
			r.StartedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func printRunFaces(w io.Writer, faces []types.FaceSummary) {
	if len(faces) == 0 {
		fmt.Fprintln(w, "No faces were found in this run.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tDETECTIONS\tFIRST FRAME\tLAST FRAME")
	fmt.Fprintln(tw, "-----\t----------\t-----------\t----------")
	for _, f := range faces {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", f.Label, f.DetectionCount, f.FirstFrame, f.LastFrame)
	}
	tw.Flush()
}
