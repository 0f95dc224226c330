package main

import (
	"github.com/spf13/cobra"

	"github.com/Veraticus/linkboard/pkg/client"
	"github.com/Veraticus/linkboard/pkg/diagram"
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Replace the open document",
	Long: `Replace the node's document with a JSON export and broadcast it to
every participant. Undo history is cleared.

The document is read from file, or from stdin when no file (or "-") is
given. It is checked locally before it is sent. The local user needs the
UPDATE permission.

Examples:
  linkboard import roadmap.json
  linkboard export | linkboard --socket /tmp/other.sock import`,
	RunE: runImport,
	Args: cobra.MaximumNArgs(1),
}

func runImport(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) > 0 {
		path = args[0]
	}

	data, err := readInput(path, cmd.InOrStdin())
	if err != nil {
		return err
	}

	if _, err := diagram.ParseSnapshot(data); err != nil {
		return err
	}

	c := client.New(&client.Config{SocketPath: socketPath})
	return c.Import(data)
}
