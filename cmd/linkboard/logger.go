// Package main - logger.go implements structured logging for linkboard.
//
// Lines look like:
//
//	2024-01-15T10:30:45.123Z INFO  [session] Session opened document=roadmap user=alice
//
// The level is colored when stderr is a terminal. Every linkboard package
// declares the same Debug/Info/Error logger interface, so one *logger (or a
// prefixed copy of it) is handed to all of them without adapters.
package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

var levelColors = map[string]*color.Color{
	"DEBUG": color.New(color.FgHiBlack),
	"INFO":  color.New(color.FgCyan),
	"ERROR": color.New(color.FgRed),
	"FATAL": color.New(color.FgRed, color.Bold),
}

// logger provides structured logging for the application
type logger struct {
	verbose bool
	prefix  string
}

func newLogger(verbose bool) *logger {
	return &logger{verbose: verbose}
}

// withPrefix creates a new logger with a component prefix
func (l *logger) withPrefix(prefix string) *logger {
	return &logger{
		verbose: l.verbose,
		prefix:  prefix,
	}
}

// formatMessage formats a log message with key-value pairs
func (l *logger) formatMessage(level, msg string, keysAndValues ...any) string {
	var sb strings.Builder

	sb.WriteString(time.Now().Format("2006-01-02T15:04:05.000Z07:00"))
	sb.WriteString(" ")

	padded := fmt.Sprintf("%-5s", level)
	if c, ok := levelColors[level]; ok {
		padded = c.Sprint(padded)
	}
	sb.WriteString(padded)
	sb.WriteString(" ")

	if l.prefix != "" {
		sb.WriteString("[")
		sb.WriteString(l.prefix)
		sb.WriteString("] ")
	}

	sb.WriteString(msg)

	for i := 0; i < len(keysAndValues); i += 2 {
		sb.WriteString(" ")
		var value any
		if i+1 < len(keysAndValues) {
			value = keysAndValues[i+1]
		}
		sb.WriteString(fmt.Sprintf("%v=%v", keysAndValues[i], value))
	}

	return sb.String()
}

// Debug logs a debug message (only in verbose mode)
func (l *logger) Debug(msg string, keysAndValues ...any) {
	if l.verbose {
		log.Println(l.formatMessage("DEBUG", msg, keysAndValues...))
	}
}

// Info logs an info message
func (l *logger) Info(msg string, keysAndValues ...any) {
	log.Println(l.formatMessage("INFO", msg, keysAndValues...))
}

// Error logs an error message
func (l *logger) Error(msg string, keysAndValues ...any) {
	log.Println(l.formatMessage("ERROR", msg, keysAndValues...))
}

// Fatal logs a fatal message and exits
func (l *logger) Fatal(msg string, keysAndValues ...any) {
	log.Println(l.formatMessage("FATAL", msg, keysAndValues...))
	os.Exit(1)
}

// warn is handed to the canvas for user-facing warnings such as the layer
// limit.
func (l *logger) warn(msg string) {
	l.Info("WARNING: " + msg)
}

// newSlogLogger builds the logger used by the socket API server.
func newSlogLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func init() {
	// Timestamps are part of formatMessage.
	log.SetFlags(0)
}
