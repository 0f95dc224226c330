package main

import (
	"github.com/spf13/cobra"

	"github.com/Veraticus/linkboard/pkg/client"
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the open document now",
	Long: `Ask the node to save its document and preview through the configured
storage, and wait until the save completes. Nodes also save when they stop.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		c := client.New(&client.Config{SocketPath: socketPath})
		return c.Save()
	},
	Args: cobra.NoArgs,
}
