// Package client talks to a running linkboard node over its Unix socket API.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/Veraticus/linkboard/pkg/api"
)

// Client provides methods to interact with a running linkboard node.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// Config contains configuration for the client.
type Config struct {
	// SocketPath is the path to the Unix domain socket.
	// If empty, uses the default socket path.
	SocketPath string

	// Timeout for operations. Default is 5 seconds.
	Timeout time.Duration
}

// DefaultSocketPath returns the default socket path based on XDG standards.
func DefaultSocketPath() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return xdg + "/linkboard/linkboard.sock"
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = "~"
	}
	return home + "/.linkboard/linkboard.sock"
}

// New creates a new client with the given configuration.
func New(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}

	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Export returns the node's document as JSON.
func (c *Client) Export() ([]byte, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, c.handleDialError(err)
	}
	defer func() { _ = conn.Close() }()

	if _, writeErr := fmt.Fprintln(conn, api.CommandExport); writeErr != nil {
		return nil, fmt.Errorf("failed to send export command: %w", writeErr)
	}

	reader := bufio.NewReader(conn)
	response, err := readLine(reader)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(response, "ERROR") {
		return nil, fmt.Errorf("export failed: %s", response)
	}

	var size int
	if _, err := fmt.Sscanf(response, "OK %d", &size); err != nil {
		return nil, fmt.Errorf("invalid response format: %s", response)
	}
	if size < 0 || size > api.MaxContentSize {
		return nil, fmt.Errorf("invalid response size: %d", size)
	}

	content := make([]byte, size)
	if _, err := io.ReadFull(reader, content); err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	return content, nil
}

// Import replaces the node's document with data and broadcasts it to the
// other participants.
func (c *Client) Import(data []byte) error {
	if err := api.ValidateContent(data); err != nil {
		return fmt.Errorf("content validation failed: %w", err)
	}

	conn, err := c.dial()
	if err != nil {
		return c.handleDialError(err)
	}
	defer func() { _ = conn.Close() }()

	if _, writeErr := fmt.Fprintf(conn, "%s %d\n%s", api.CommandImport, len(data), data); writeErr != nil {
		return fmt.Errorf("failed to send import command: %w", writeErr)
	}

	response, err := readLine(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(response, "OK") {
		return fmt.Errorf("import failed: %s", response)
	}
	return nil
}

// Save asks the node to write its document to storage now.
func (c *Client) Save() error {
	conn, err := c.dial()
	if err != nil {
		return c.handleDialError(err)
	}
	defer func() { _ = conn.Close() }()

	if _, writeErr := fmt.Fprintln(conn, api.CommandSave); writeErr != nil {
		return fmt.Errorf("failed to send save command: %w", writeErr)
	}

	response, err := readLine(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	if !strings.HasPrefix(response, "OK") {
		return fmt.Errorf("save failed: %s", response)
	}
	return nil
}

// Status retrieves the node's current status.
func (c *Client) Status() (*api.StatusResponse, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, c.handleDialError(err)
	}
	defer func() { _ = conn.Close() }()

	if _, writeErr := fmt.Fprintln(conn, api.CommandStatus); writeErr != nil {
		return nil, fmt.Errorf("failed to send status command: %w", writeErr)
	}

	response, err := readLine(bufio.NewReader(conn))
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(response, "ERROR") {
		return nil, fmt.Errorf("status failed: %s", response)
	}

	if !strings.HasPrefix(response, "STATUS ") {
		return nil, fmt.Errorf("invalid status response: %s", response)
	}

	var status api.StatusResponse
	if err := json.Unmarshal([]byte(strings.TrimPrefix(response, "STATUS ")), &status); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w", err)
	}

	return &status, nil
}

// IsRunning checks if the node is running and responsive.
func (c *Client) IsRunning() bool {
	conn, err := c.dial()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string {
	return c.socketPath
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, err
	}

	// Set deadline for all operations
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}

	return conn, nil
}

// readLine reads a single response line.
func readLine(reader *bufio.Reader) (string, error) {
	response, err := reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("no response from node")
		}
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return strings.TrimSpace(response), nil
}

// handleDialError provides appropriate error messages for connection failures.
func (c *Client) handleDialError(err error) error {
	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no such file") {
		return fmt.Errorf("linkboard node not running (socket: %s)", c.socketPath)
	}

	return fmt.Errorf("failed to connect to node: %w", err)
}
