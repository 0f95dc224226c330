package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/linkboard/pkg/api"
	"github.com/Veraticus/linkboard/pkg/config"
)

// TestRootCommand tests that every subcommand is registered.
func TestRootCommand(t *testing.T) {
	want := []string{"run", "status", "export", "import", "save", "preview", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil {
			t.Errorf("Find(%q) error = %v", name, err)
			continue
		}
		if cmd.Name() != name {
			t.Errorf("Find(%q) = %q", name, cmd.Name())
		}
	}

	flag := rootCmd.PersistentFlags().Lookup("socket")
	if flag == nil {
		t.Fatal("missing --socket flag")
	}
	if flag.DefValue == "" {
		t.Error("--socket has no default")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	defer versionCmd.SetOut(nil)

	versionCmd.Run(versionCmd, nil)

	for _, want := range []string{"linkboard version", "commit:", "built:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("version output missing %q\nGot:\n%s", want, out.String())
		}
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
		errMsg  string
	}{
		{addr: "localhost:9437"},
		{addr: "192.168.1.1:9437"},
		{addr: "[::1]:9437"},
		{addr: ":9437"},
		{addr: "host:"}, // port is checked when listening
		{addr: "", wantErr: true, errMsg: "empty address"},
		{addr: "no-port", wantErr: true, errMsg: "address should be in format host:port or :port"},
		{addr: "  ", wantErr: true, errMsg: "address should be in format host:port or :port"},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := validateAddress(tt.addr)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateAddress(%q) error = %v, wantErr %v", tt.addr, err, tt.wantErr)
				return
			}
			if err != nil && err.Error() != tt.errMsg {
				t.Errorf("validateAddress(%q) error message = %q, want %q", tt.addr, err.Error(), tt.errMsg)
			}
		})
	}
}

// TestFlagPrecedence tests that flags win over the environment, which wins
// over defaults.
func TestFlagPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		env      map[string]string
		document string
		nodeID   string
	}{
		{
			name:     "defaults",
			document: "default",
			nodeID:   "default-node",
		},
		{
			name:     "environment overrides defaults",
			env:      map[string]string{"LINKBOARD_DOCUMENT": "env-doc"},
			document: "env-doc",
			nodeID:   "default-node",
		},
		{
			name:     "flags override environment",
			args:     []string{"--document", "flag-doc"},
			env:      map[string]string{"LINKBOARD_DOCUMENT": "env-doc", "LINKBOARD_NODE_ID": "env-node"},
			document: "flag-doc",
			nodeID:   "env-node",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg := config.NewConfig()
			cfg.NodeID = "default-node"
			cmd := &cobra.Command{Use: "test"}
			cmd.Flags().StringVar(&cfg.Document, "document", cfg.Document, "")
			cmd.Flags().StringVar(&cfg.NodeID, "node-id", cfg.NodeID, "")
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags() error = %v", err)
			}

			if err := reapplyFlags(cmd, cfg.LoadFromEnv); err != nil {
				t.Fatalf("reapplyFlags() error = %v", err)
			}

			if cfg.Document != tt.document {
				t.Errorf("document = %q, want %q", cfg.Document, tt.document)
			}
			if cfg.NodeID != tt.nodeID {
				t.Errorf("node ID = %q, want %q", cfg.NodeID, tt.nodeID)
			}
		})
	}
}

func TestReadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.json")
	if err := os.WriteFile(path, []byte("from file"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "empty path reads stdin", path: "", want: "from stdin"},
		{name: "dash reads stdin", path: "-", want: "from stdin"},
		{name: "file", path: path, want: "from file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readInput(tt.path, strings.NewReader("from stdin"))
			if err != nil {
				t.Fatalf("readInput() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("readInput() = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := readInput(filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteOutput(t *testing.T) {
	var stdout bytes.Buffer
	if err := writeOutput("-", []byte("hello"), &stdout); err != nil {
		t.Fatalf("writeOutput(-) error = %v", err)
	}
	if stdout.String() != "hello" {
		t.Errorf("stdout = %q, want %q", stdout.String(), "hello")
	}

	path := filepath.Join(t.TempDir(), "out.png")
	if err := writeOutput(path, []byte("png"), &stdout); err != nil {
		t.Fatalf("writeOutput(file) error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("file mode = %v, want 0600", info.Mode().Perm())
	}
	if stdout.String() != "hello" {
		t.Error("file output also went to stdout")
	}
}

func TestLoopbackURL(t *testing.T) {
	tests := []struct {
		name string
		addr net.Addr
		want string
	}{
		{
			name: "unspecified IPv4",
			addr: &net.TCPAddr{IP: net.IPv4zero, Port: 9437},
			want: "ws://127.0.0.1:9437/ws",
		},
		{
			name: "unspecified IPv6",
			addr: &net.TCPAddr{IP: net.IPv6unspecified, Port: 9437},
			want: "ws://127.0.0.1:9437/ws",
		},
		{
			name: "no IP",
			addr: &net.TCPAddr{Port: 9437},
			want: "ws://127.0.0.1:9437/ws",
		},
		{
			name: "specific IPv4",
			addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 80},
			want: "ws://10.0.0.5:80/ws",
		},
		{
			name: "specific IPv6",
			addr: &net.TCPAddr{IP: net.ParseIP("::1"), Port: 80},
			want: "ws://[::1]:80/ws",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := loopbackURL(tt.addr); got != tt.want {
				t.Errorf("loopbackURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		want string
		d    time.Duration
	}{
		{d: 30 * time.Second, want: "30s"},
		{d: 1500 * time.Millisecond, want: "2s"},
		{d: 5*time.Minute + 30*time.Second, want: "5m30s"},
		{d: 2*time.Hour + 15*time.Minute, want: "2h15m"},
		{d: 50 * time.Hour, want: "2d2h"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestPrintHumanStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	status := &api.StatusResponse{
		Uptime:      now.Add(-90 * time.Second),
		NodeID:      "alice",
		Mode:        "client",
		Version:     "1.2.3",
		HubURL:      "ws://hub:9437/ws",
		Permissions: "UPDATE,EXPORT",
		Board: api.BoardStats{
			Document:   "roadmap",
			CanvasMode: "None",
			Layers:     3,
			Edges:      1,
			Selection:  []string{"a", "b"},
			CanUndo:    true,
			Saves:      2,
			LastSave:   now.Add(-5 * time.Minute).Format(time.RFC3339),
		},
		Stats: api.SyncStats{
			MessagesSent:     4,
			MessagesReceived: 7,
			MessagesApplied:  6,
			MessagesIgnored:  1,
			SendErrors:       1,
		},
	}

	var out bytes.Buffer
	printHumanStatus(&out, status, now)
	got := out.String()

	for _, want := range []string{
		"alice",
		"ws://hub:9437/ws",
		"UPDATE,EXPORT",
		"1m30s",
		"roadmap",
		"a, b",
		"yes / no",
		"5m0s ago",
		"6 / 1",
		"1 / 0",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("status output missing %q\nGot:\n%s", want, got)
		}
	}

	for _, absent := range []string{"Listen Address", "Duplicates", "Last Remote Change"} {
		if strings.Contains(got, absent) {
			t.Errorf("status output should not contain %q\nGot:\n%s", absent, got)
		}
	}
}

func TestPrintHumanStatusEmpty(t *testing.T) {
	var out bytes.Buffer
	printHumanStatus(&out, &api.StatusResponse{Uptime: time.Now()}, time.Now())

	if strings.Count(out.String(), "(none)") != 2 {
		t.Errorf("expected permissions and selection to print (none)\nGot:\n%s", out.String())
	}
}
