// Package main implements the linkboard CLI: a node for collaborative
// diagram editing and the commands that talk to it.
//
// # Overview
//
// A linkboard node opens one document and keeps it in sync with every other
// participant editing the same document. Nodes run in one of three modes:
//
//   - Local: edits in-process; nothing is shared
//   - Client: joins a hub over a websocket
//   - Hub: serves the websocket relay and the selection lock arbiter, and
//     takes part in editing itself
//
// Each node serves a Unix socket API. The status, export, import, save and
// preview commands use it to inspect and script the running node.
//
// # Startup Sequence
//
//  1. Load .env, environment variables and flags (flags win)
//  2. Validate configuration
//  3. Start the hub listener (hub nodes) and connect to the hub
//  4. Open the storage gateway
//  5. Open the session: restore the saved document, subscribe, start syncing
//  6. Start the socket API
//
// # Graceful Shutdown
//
// On SIGINT or SIGTERM the node stops the socket API, ends any gesture in
// progress, saves the document, releases its selection locks and closes the
// hub connection, within a 10-second timeout.
//
// # Example Usage
//
//	# Edit a document locally, saving under ~/.config/linkboard/boards
//	linkboard run --document roadmap
//
//	# Host a shared board
//	linkboard run --secret mysecret --listen :9437 --document roadmap
//
//	# Join it from another machine
//	linkboard run --secret mysecret --hub ws://host:9437/ws --document roadmap
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/linkboard/pkg/client"
)

var (
	// Version information (set by build flags)
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// socketPath is the node's API socket, shared by every command.
	socketPath string

	rootCmd = &cobra.Command{
		Use:   "linkboard",
		Short: "Collaborative diagram canvas",
		Long: `linkboard keeps a diagram document in sync between participants.

Start a node with "linkboard run", then use the other commands to
inspect, export, import or save the document it has open.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", client.DefaultSocketPath(), "Path to the node's API socket")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
