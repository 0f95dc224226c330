package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/linkboard/pkg/client"
)

var (
	exportOutput string
	exportPretty bool

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export the open document as JSON",
		Long: `Write the node's document as JSON to stdout or a file.

The local user needs the EXPORT permission.

Examples:
  # Print the document
  linkboard export

  # Save an indented copy
  linkboard export --pretty --output roadmap.json`,
		RunE: runExport,
		Args: cobra.NoArgs,
	}
)

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")
	exportCmd.Flags().BoolVar(&exportPretty, "pretty", false, "Indent the JSON")
}

func runExport(cmd *cobra.Command, _ []string) error {
	c := client.New(&client.Config{SocketPath: socketPath})

	data, err := c.Export()
	if err != nil {
		return err
	}

	if exportPretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return fmt.Errorf("failed to format document: %w", err)
		}
		data = buf.Bytes()
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}

	return writeOutput(exportOutput, data, cmd.OutOrStdout())
}
