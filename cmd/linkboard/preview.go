package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/linkboard/pkg/client"
	"github.com/Veraticus/linkboard/pkg/diagram"
	"github.com/Veraticus/linkboard/pkg/render"
)

var (
	previewInput  string
	previewOutput string
	previewWidth  int
	previewHeight int

	previewCmd = &cobra.Command{
		Use:   "preview",
		Short: "Render the document to a PNG",
		Long: `Render a document to a PNG image, the same way saved previews are made.

By default the running node's document is exported and rendered. Use
--input to render an exported JSON file instead; no node is needed then.

Examples:
  linkboard preview --output board.png
  linkboard preview --input roadmap.json --output roadmap.png --width 1280 --height 800`,
		RunE: runPreview,
		Args: cobra.NoArgs,
	}
)

func init() {
	defaults := render.DefaultOptions()
	previewCmd.Flags().StringVarP(&previewInput, "input", "i", "", "Render this JSON export instead of the running node's document")
	previewCmd.Flags().StringVarP(&previewOutput, "output", "o", "board.png", "PNG file to write (- for stdout)")
	previewCmd.Flags().IntVar(&previewWidth, "width", defaults.Width, "Image width in pixels")
	previewCmd.Flags().IntVar(&previewHeight, "height", defaults.Height, "Image height in pixels")
}

func runPreview(cmd *cobra.Command, _ []string) error {
	var data []byte
	var err error
	if previewInput != "" {
		data, err = readInput(previewInput, cmd.InOrStdin())
	} else {
		data, err = client.New(&client.Config{SocketPath: socketPath}).Export()
	}
	if err != nil {
		return err
	}

	snap, err := diagram.ParseSnapshot(data)
	if err != nil {
		return err
	}

	opts := render.DefaultOptions()
	opts.Width, opts.Height = previewWidth, previewHeight
	png, err := render.Preview(snap, opts)
	if err != nil {
		return fmt.Errorf("failed to render preview: %w", err)
	}

	return writeOutput(previewOutput, png, cmd.OutOrStdout())
}
