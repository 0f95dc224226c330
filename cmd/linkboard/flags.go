// Package main - flags.go holds flag validation and the file-or-stdio
// helpers shared by the export, import and preview commands.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// validateAddress performs basic validation on network addresses
func validateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("empty address")
	}

	// Full validation happens when we listen
	if !strings.Contains(addr, ":") {
		return fmt.Errorf("address should be in format host:port or :port")
	}

	return nil
}

// reapplyFlags restores explicitly set flags after environment variables
// were loaded, so flags take precedence over the environment.
func reapplyFlags(cmd *cobra.Command, loadEnv func()) error {
	changed := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})

	loadEnv()

	for name, value := range changed {
		if err := cmd.Flags().Set(name, value); err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
	}
	return nil
}

// readInput reads path, or stdin when path is empty or "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// writeOutput writes data to path, or stdout when path is empty or "-".
func writeOutput(path string, data []byte, stdout io.Writer) error {
	if path == "" || path == "-" {
		if _, err := stdout.Write(data); err != nil {
			return fmt.Errorf("failed to write to stdout: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
