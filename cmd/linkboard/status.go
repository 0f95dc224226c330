package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/linkboard/pkg/api"
	"github.com/Veraticus/linkboard/pkg/client"
)

var (
	statusJSON bool

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Check node status",
		Long: `Display the current status of the linkboard node.

Shows information about:
- Node ID, mode and hub
- The open document: layers, edges, selection, undo state and saves
- Synchronization statistics

Examples:
  # Show status in human-readable format
  linkboard status

  # Show status as JSON
  linkboard status --json`,
		RunE: runStatus,
		Args: cobra.NoArgs,
	}
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	c := client.New(&client.Config{
		SocketPath: socketPath,
	})

	status, err := c.Status()
	if err != nil {
		return err
	}

	if statusJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(status); err != nil {
			return fmt.Errorf("failed to encode status: %w", err)
		}
		return nil
	}

	printHumanStatus(cmd.OutOrStdout(), status, time.Now())
	return nil
}

// printHumanStatus prints status in a human-readable format.
func printHumanStatus(out io.Writer, status *api.StatusResponse, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintf(w, "Node ID:\t%s\n", status.NodeID)
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", status.Mode)
	_, _ = fmt.Fprintf(w, "Version:\t%s\n", status.Version)
	_, _ = fmt.Fprintf(w, "Uptime:\t%s\n", formatDuration(now.Sub(status.Uptime)))
	if status.ListenAddr != "" {
		_, _ = fmt.Fprintf(w, "Listen Address:\t%s\n", status.ListenAddr)
	}
	if status.HubURL != "" {
		_, _ = fmt.Fprintf(w, "Hub:\t%s\n", status.HubURL)
	}
	_, _ = fmt.Fprintf(w, "Permissions:\t%s\n", orNone(status.Permissions))

	b := status.Board
	_, _ = fmt.Fprintf(w, "\nDocument:\n")
	_, _ = fmt.Fprintf(w, "  Name:\t%s\n", b.Document)
	_, _ = fmt.Fprintf(w, "  Canvas Mode:\t%s\n", b.CanvasMode)
	_, _ = fmt.Fprintf(w, "  Layers:\t%d\n", b.Layers)
	_, _ = fmt.Fprintf(w, "  Edges:\t%d\n", b.Edges)
	_, _ = fmt.Fprintf(w, "  Selection:\t%s\n", orNone(strings.Join(b.Selection, ", ")))
	_, _ = fmt.Fprintf(w, "  Undo / Redo:\t%s / %s\n", yesNo(b.CanUndo), yesNo(b.CanRedo))
	_, _ = fmt.Fprintf(w, "  Saves:\t%d\n", b.Saves)
	if ago, ok := since(b.LastSave, now); ok {
		_, _ = fmt.Fprintf(w, "  Last Save:\t%s ago\n", ago)
	}

	s := status.Stats
	_, _ = fmt.Fprintf(w, "\nSynchronization:\n")
	_, _ = fmt.Fprintf(w, "  Messages Sent:\t%d\n", s.MessagesSent)
	_, _ = fmt.Fprintf(w, "  Messages Received:\t%d\n", s.MessagesReceived)
	_, _ = fmt.Fprintf(w, "  Applied / Ignored:\t%d / %d\n", s.MessagesApplied, s.MessagesIgnored)
	if s.Duplicates > 0 {
		_, _ = fmt.Fprintf(w, "  Duplicates:\t%d\n", s.Duplicates)
	}
	if s.SendErrors+s.ReceiveErrors > 0 {
		_, _ = fmt.Fprintf(w, "  Errors (send / receive):\t%d / %d\n", s.SendErrors, s.ReceiveErrors)
	}
	if ago, ok := since(s.LastApplied, now); ok {
		_, _ = fmt.Fprintf(w, "  Last Remote Change:\t%s ago\n", ago)
	}
}

// since parses an RFC3339 timestamp and formats the time elapsed.
func since(ts string, now time.Time) (string, bool) {
	if ts == "" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "", false
	}
	return formatDuration(now.Sub(t)), true
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd%dh", days, hours)
}
