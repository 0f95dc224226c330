package main

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"

	"github.com/Veraticus/linkboard/pkg/lock"
	"github.com/Veraticus/linkboard/pkg/persistence"
	"github.com/Veraticus/linkboard/pkg/session"
	"github.com/Veraticus/linkboard/pkg/transport"
)

// One logger serves every package.
var (
	_ session.Logger     = (*logger)(nil)
	_ transport.Logger   = (*logger)(nil)
	_ lock.Logger        = (*logger)(nil)
	_ persistence.Logger = (*logger)(nil)
)

func withPlainOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		color.NoColor = noColor
	})
	return &buf
}

func TestNewLogger(t *testing.T) {
	for _, verbose := range []bool{true, false} {
		got := newLogger(verbose)
		if got.verbose != verbose {
			t.Errorf("verbose = %v, want %v", got.verbose, verbose)
		}
		if got.prefix != "" {
			t.Errorf("prefix = %q, want empty", got.prefix)
		}
	}
}

func TestWithPrefix(t *testing.T) {
	tests := []struct {
		baseLogger *logger
		want       *logger
		name       string
		prefix     string
	}{
		{
			name:       "add prefix to base logger",
			baseLogger: &logger{verbose: true},
			prefix:     "transport",
			want:       &logger{verbose: true, prefix: "transport"},
		},
		{
			name:       "replace existing prefix",
			baseLogger: &logger{prefix: "session"},
			prefix:     "locks",
			want:       &logger{prefix: "locks"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.baseLogger.withPrefix(tt.prefix)
			if *got != *tt.want {
				t.Errorf("withPrefix() = %+v, want %+v", got, tt.want)
			}
			if got == tt.baseLogger {
				t.Error("withPrefix should return a new logger instance")
			}
		})
	}
}

func TestFormatMessage(t *testing.T) {
	withPlainOutput(t)

	tests := []struct {
		logger        *logger
		name          string
		level         string
		msg           string
		keysAndValues []any
		wantContains  []string
	}{
		{
			name:         "basic message",
			logger:       &logger{},
			level:        "INFO",
			msg:          "node started",
			wantContains: []string{"INFO ", "node started"},
		},
		{
			name:          "key-value pairs",
			logger:        &logger{},
			level:         "ERROR",
			msg:           "save failed",
			keysAndValues: []any{"document", "roadmap", "layers", 12},
			wantContains:  []string{"ERROR", "save failed", "document=roadmap", "layers=12"},
		},
		{
			name:          "prefix",
			logger:        &logger{prefix: "sync"},
			level:         "DEBUG",
			msg:           "applied",
			keysAndValues: []any{"from", "bob"},
			wantContains:  []string{"DEBUG", "[sync]", "applied", "from=bob"},
		},
		{
			name:          "odd number of key-value pairs",
			logger:        &logger{},
			level:         "INFO",
			msg:           "odd pairs",
			keysAndValues: []any{"key1", "value1", "key2"},
			wantContains:  []string{"key1=value1", "key2=<nil>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.logger.formatMessage(tt.level, tt.msg, tt.keysAndValues...)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("formatMessage() missing %q\nGot: %q", want, got)
				}
			}
			if ts := strings.SplitN(got, " ", 2)[0]; !strings.Contains(ts, "T") {
				t.Errorf("invalid timestamp format: %q", ts)
			}
		})
	}
}

func TestFormatMessageColor(t *testing.T) {
	noColor := color.NoColor
	defer func() { color.NoColor = noColor }()

	color.NoColor = false
	colored := (&logger{}).formatMessage("ERROR", "boom")
	if !strings.Contains(colored, "\x1b[") {
		t.Errorf("expected ANSI color sequence, got %q", colored)
	}

	color.NoColor = true
	plain := (&logger{}).formatMessage("ERROR", "boom")
	if strings.Contains(plain, "\x1b[") {
		t.Errorf("expected no color sequence, got %q", plain)
	}
}

func TestLoggerMethods(t *testing.T) {
	tests := []struct {
		call    func(*logger)
		name    string
		level   string
		verbose bool
		wantLog bool
	}{
		{name: "Debug verbose", call: func(l *logger) { l.Debug("test message", "key", "value") }, level: "DEBUG", verbose: true, wantLog: true},
		{name: "Debug quiet", call: func(l *logger) { l.Debug("test message", "key", "value") }, level: "DEBUG"},
		{name: "Info", call: func(l *logger) { l.Info("test message", "key", "value") }, level: "INFO", wantLog: true},
		{name: "Error", call: func(l *logger) { l.Error("test message", "key", "value") }, level: "ERROR", wantLog: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := withPlainOutput(t)
			tt.call(newLogger(tt.verbose))

			output := buf.String()
			if got := output != ""; got != tt.wantLog {
				t.Fatalf("logged = %v, want %v\nOutput: %q", got, tt.wantLog, output)
			}
			if !tt.wantLog {
				return
			}
			for _, want := range []string{tt.level, "test message", "key=value"} {
				if !strings.Contains(output, want) {
					t.Errorf("output missing %q: %q", want, output)
				}
			}
		})
	}
}

func TestLoggerWarn(t *testing.T) {
	buf := withPlainOutput(t)
	newLogger(false).withPrefix("canvas").warn("layer limit reached")

	output := buf.String()
	if !strings.Contains(output, "[canvas] WARNING: layer limit reached") {
		t.Errorf("warn() output = %q", output)
	}
}

func TestLoggerConcurrency(t *testing.T) {
	buf := withPlainOutput(t)
	l := newLogger(true)

	const numGoroutines, numLogs = 10, 50
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			sub := l.withPrefix(fmt.Sprintf("worker-%d", id))
			for j := 0; j < numLogs; j++ {
				sub.Info("message", "iteration", j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != numGoroutines*numLogs {
		t.Errorf("expected %d log lines, got %d", numGoroutines*numLogs, len(lines))
	}
}

func TestNewSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	newSlogLogger(&buf, false).Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug logged without verbose: %q", buf.String())
	}

	newSlogLogger(&buf, true).Debug("shown", "component", "api")
	if !strings.Contains(buf.String(), "msg=shown") || !strings.Contains(buf.String(), "component=api") {
		t.Errorf("unexpected slog output: %q", buf.String())
	}
}

func TestLoggerInit(t *testing.T) {
	if flags := log.Flags(); flags != 0 {
		t.Errorf("log.Flags() = %d, want 0", flags)
	}
}

func BenchmarkFormatMessage(b *testing.B) {
	l := newLogger(true).withPrefix("component")
	kv := []any{"key1", "value1", "key2", 123, "key3", true}
	for i := 0; i < b.N; i++ {
		_ = l.formatMessage("INFO", "benchmark message", kv...)
	}
}
