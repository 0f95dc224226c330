// Package testutil provides test helpers shared by linkboard packages.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// SocketPath returns a short, unique Unix socket path under /tmp and removes
// it when the test ends. Socket paths are limited to 104 bytes on macOS and
// 108 on Linux, which t.TempDir paths with long test names can exceed.
func SocketPath(t *testing.T) string {
	t.Helper()

	name := fmt.Sprintf("lb-%d-%d.sock", os.Getpid(), time.Now().UnixNano()%100000)
	path := filepath.Join("/tmp", name)

	t.Cleanup(func() {
		_ = os.Remove(path)
	})

	return path
}
