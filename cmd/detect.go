package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/alexdivadi/faceblur/internal/obscure"
	"github.com/alexdivadi/faceblur/internal/scan"
	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/spf13/cobra"
)

var detectJSON bool

var detectCmd = &cobra.Command{
	Use:   "detect <image_path>",
	Short: "Print the face bounding boxes found in an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDetect(args[0], detectJSON)
	},
}

func init() {
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "Print [[x, y, w, h], ...] instead of a table")
	rootCmd.AddCommand(detectCmd)
}

func runDetect(imagePath string, asJSON bool) error {
	img, _, err := obscure.Open(imagePath)
	if err != nil {
		return fail("Failed to read image", err)
	}

	backends, err := openBackends()
	if err != nil {
		return fail("Failed to load face models", err)
	}
	defer backends.Close()

	boxes, err := scan.DetectFaces(backends.Low, img)
	if err != nil {
		return fail("Failed to detect faces", err)
	}

	if asJSON {
		return printBoxesJSON(os.Stdout, boxes)
	}
	printBoxes(os.Stdout, boxes)
	return nil
}

func printBoxesJSON(w io.Writer, boxes []types.BoundingBox) error {
	rows := make([][]int, 0, len(boxes))
	for _, b := range boxes {
		rows = append(rows, b.Slice())
	}
	return json.NewEncoder(w).Encode(rows)
}

func printBoxes(w io.Writer, boxes []types.BoundingBox) {
	if len(boxes) == 0 {
		fmt.Fprintln(w, "No faces found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "#\tX\tY\tWIDTH\tHEIGHT")
	fmt.Fprintln(tw, "-\t-\t-\t-----\t------")
	for i, b := range boxes {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\n", i+1, b.X, b.Y, b.Width, b.Height)
	}
	tw.Flush()
}
