// Package api provides the local Unix socket API of a running linkboard
// node. Scripts and the CLI use it to inspect the open document, export or
// replace it, and force a save.
//
// The protocol is line based. A request is a command line, optionally
// followed by a payload whose byte length is given on the line:
//
//	STATUS
//	EXPORT
//	IMPORT <size>\n<json>
//	SAVE
//
// Responses are "OK\n", "OK <size>\n<data>", "STATUS <json>\n" or
// "ERROR <message>\n".
package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// Command represents the type of command sent by the client.
type Command string

// Command constants define the available commands in the protocol.
const (
	CommandStatus Command = "STATUS"
	CommandExport Command = "EXPORT"
	CommandImport Command = "IMPORT"
	CommandSave   Command = "SAVE"
)

// Response represents the type of response sent by the server.
type Response string

// Response constants define the possible response types.
const (
	ResponseOK    Response = "OK"
	ResponseError Response = "ERROR"
)

// MaxContentSize bounds IMPORT payloads.
const MaxContentSize = 10 * 1024 * 1024

// Request represents a client request with command-specific data.
type Request struct {
	Command Command
	Content []byte
	Size    int
}

// StatusResponse describes the node and its open document.
type StatusResponse struct {
	Uptime      time.Time  `json:"uptime"`
	NodeID      string     `json:"node_id"`
	Mode        string     `json:"mode"`
	Version     string     `json:"version"`
	ListenAddr  string     `json:"listen_addr,omitempty"`
	HubURL      string     `json:"hub_url,omitempty"`
	Permissions string     `json:"permissions"`
	Board       BoardStats `json:"board"`
	Stats       SyncStats  `json:"sync_stats"`
}

// BoardStats describes the open document.
type BoardStats struct {
	Document   string   `json:"document"`
	CanvasMode string   `json:"canvas_mode"`
	Layers     int      `json:"layers"`
	Edges      int      `json:"edges"`
	Selection  []string `json:"selection"`
	CanUndo    bool     `json:"can_undo"`
	CanRedo    bool     `json:"can_redo"`
	Saves      int64    `json:"saves"`
	LastSave   string   `json:"last_save,omitempty"`
}

// SyncStats contains synchronization statistics.
type SyncStats struct {
	LastSent         string `json:"last_sent,omitempty"`
	LastApplied      string `json:"last_applied,omitempty"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesApplied  uint64 `json:"messages_applied"`
	MessagesIgnored  uint64 `json:"messages_ignored"`
	Duplicates       uint64 `json:"duplicates"`
	SendErrors       uint64 `json:"send_errors"`
	ReceiveErrors    uint64 `json:"receive_errors"`
}

// ParseRequest parses a command line into a Request.
// Expected format: "COMMAND [size]".
func ParseRequest(line string) (*Request, error) {
	if line == "" {
		return nil, fmt.Errorf("empty command")
	}

	var cmd string
	var size int
	n, _ := fmt.Sscanf(line, "%s %d", &cmd, &size)
	if n < 1 {
		return nil, fmt.Errorf("invalid command format")
	}

	command := Command(cmd)
	switch command {
	case CommandImport:
		if n < 2 || size < 0 {
			return nil, fmt.Errorf("%s requires size parameter", command)
		}
		if size > MaxContentSize {
			return nil, fmt.Errorf("content too large: %d bytes (max: %d)", size, MaxContentSize)
		}
		return &Request{Command: command, Size: size}, nil
	case CommandStatus, CommandExport, CommandSave:
		return &Request{Command: command}, nil
	default:
		return nil, fmt.Errorf("unknown command: %s", cmd)
	}
}

// FormatResponse formats a response for transmission.
func FormatResponse(resp Response, data any) ([]byte, error) {
	switch resp {
	case ResponseOK:
		switch v := data.(type) {
		case string:
			return []byte(fmt.Sprintf("OK %d\n%s", len(v), v)), nil
		case []byte:
			return []byte(fmt.Sprintf("OK %d\n%s", len(v), v)), nil
		case *StatusResponse:
			jsonData, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal status: %w", err)
			}
			return []byte(fmt.Sprintf("STATUS %s\n", jsonData)), nil
		case nil:
			return []byte("OK\n"), nil
		default:
			return nil, fmt.Errorf("unsupported response data type: %T", v)
		}
	case ResponseError:
		if msg, ok := data.(string); ok {
			return []byte(fmt.Sprintf("ERROR %s\n", msg)), nil
		}
		return []byte("ERROR unknown error\n"), nil
	default:
		return nil, fmt.Errorf("unknown response type: %s", resp)
	}
}

// ValidateContent checks an IMPORT payload against MaxContentSize.
func ValidateContent(content []byte) error {
	if len(content) > MaxContentSize {
		return fmt.Errorf("content too large: %d bytes (max: %d)", len(content), MaxContentSize)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
