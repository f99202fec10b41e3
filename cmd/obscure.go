package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexdivadi/faceblur/internal/obscure"
	"github.com/alexdivadi/faceblur/internal/scan"
	"github.com/alexdivadi/faceblur/internal/types"
	"github.com/spf13/cobra"
)

type obscureOptions struct {
	InputPath  string
	OutputPath string
	Style      string
	Boxes      []string
	Detect     bool
}

var obscureOpts obscureOptions

var obscureCmd = &cobra.Command{
	Use:   "obscure",
	Short: "Blur or cover regions of an image",
	Long:  "Obscures the given boxes (or every detected face with --detect) and writes the result. The output format follows the -o extension.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runObscure(obscureOpts)
	},
}

func init() {
	obscureCmd.Flags().StringVarP(&obscureOpts.InputPath, "input", "i", "", "Path to input image")
	obscureCmd.Flags().StringVarP(&obscureOpts.OutputPath, "output", "o", "", "Path to output image")
	obscureCmd.Flags().StringVar(&obscureOpts.Style, "style", string(obscure.Blur), "Obscuring style: "+obscure.StyleNames())
	obscureCmd.Flags().StringArrayVar(&obscureOpts.Boxes, "box", nil, "Region as x,y,w,h (repeatable)")
	obscureCmd.Flags().BoolVar(&obscureOpts.Detect, "detect", false, "Obscure every face found in the image")
	obscureCmd.MarkFlagRequired("input")
	obscureCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(obscureCmd)
}

func runObscure(opts obscureOptions) error {
	boxes, err := validateObscureFlags(opts)
	if err != nil {
		return fail("Invalid obscure options", err)
	}

	img, _, err := obscure.Open(opts.InputPath)
	if err != nil {
		return fail("Failed to read image", err)
	}

	if opts.Detect {
		backends, err := openBackends()
		if err != nil {
			return fail("Failed to load face models", err)
		}
		found, err := scan.DetectFaces(backends.Low, img)
		backends.Close()
		if err != nil {
			return fail("Failed to detect faces", err)
		}
		fmt.Fprintf(os.Stderr, "🔍 Found %d faces\n", len(found))
		boxes = append(boxes, found...)
	}

	engine := obscure.New(cfg.Models.Overlay, logger)
	res, err := engine.Obscure(opts.Style, img, boxes, outputFormat(opts.OutputPath))
	if err != nil {
		return fail("Failed to obscure image", err)
	}
	if err := os.WriteFile(opts.OutputPath, res.Data, 0o644); err != nil {
		return fail("Failed to write output", err)
	}

	for _, b := range res.Rejected {
		fmt.Fprintf(os.Stderr, "⚠️  Skipped malformed box %v\n", b)
	}
	fmt.Fprintf(os.Stderr, "✨ Wrote %s (%dx%d, %d regions)\n", opts.OutputPath, res.Width, res.Height, len(boxes)-len(res.Rejected))
	return nil
}

// validateObscureFlags checks the flags that can be checked without touching
// the image and parses the --box values.
func validateObscureFlags(opts obscureOptions) ([]types.BoundingBox, error) {
	if _, err := obscure.ParseStyle(opts.Style); err != nil {
		return nil, err
	}
	if _, err := obscure.FormatFor(outputFormat(opts.OutputPath)); err != nil {
		return nil, err
	}
	if len(opts.Boxes) == 0 && !opts.Detect {
		return nil, types.Errorf(types.KindInvalidInput, nil, "nothing to obscure: pass --box or --detect")
	}
	if filepath.Clean(opts.InputPath) == filepath.Clean(opts.OutputPath) {
		return nil, types.Errorf(types.KindInvalidInput, nil, "output would overwrite the input")
	}

	boxes := make([]types.BoundingBox, 0, len(opts.Boxes))
	for _, s := range opts.Boxes {
		b, err := types.ParseBox(s)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, b)
	}
	return boxes, nil
}

func outputFormat(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
