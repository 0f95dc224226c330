// Package config provides configuration management for linkboard nodes.
// It handles loading, validation, and display of every node setting:
// how the node reaches other participants, which document it edits, what
// the local user may do, and where documents are saved.
//
// Configuration Sources:
//
// Configuration can be loaded from multiple sources with the following precedence:
//  1. Command-line flags (highest priority)
//  2. Environment variables, including those from a .env file
//  3. Default values (lowest priority)
//
// Environment Variables:
//
//   - LINKBOARD_SECRET: Shared secret for hub authentication
//   - LINKBOARD_SECRET_FILE: Path to file containing the shared secret
//   - LINKBOARD_NODE_ID: Participant identifier, also the lock holder name
//   - LINKBOARD_MODE: local, client or hub
//   - LINKBOARD_LISTEN: Hub listen address (hub nodes only)
//   - LINKBOARD_HUB: Hub websocket URL (client nodes only)
//   - LINKBOARD_DOCUMENT: Document to open
//   - LINKBOARD_PERMISSIONS: Comma-separated permissions (update,delete,export)
//   - LINKBOARD_STORAGE: none, file or datastore
//   - LINKBOARD_STORE_DIR: Directory used by file storage
//   - LINKBOARD_DATASTORE_PROJECT: Google Cloud project used by datastore storage
//   - LINKBOARD_MAX_LAYERS: Layer limit per document
//   - LINKBOARD_LOCK_TTL: Lease lifetime for selection locks
//   - LINKBOARD_SAVE_TIMEOUT: Upper bound for one save
//   - LINKBOARD_RECONNECT_BACKOFF: Initial delay between hub reconnects
//   - LINKBOARD_METRICS: Address serving Prometheus metrics
//   - LINKBOARD_VERBOSE: Enable verbose logging
//
// Node Modes:
//
//  1. Local: edits the document in-process. Nothing is shared and no
//     secret is needed.
//
//  2. Client: joins a hub run by another node.
//
//  3. Hub: serves the relay and lock arbiter and takes part through it.
//
// The secret is never logged or displayed in configuration output.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Veraticus/linkboard/pkg/canvas"
	"github.com/Veraticus/linkboard/pkg/diagram"
	"github.com/Veraticus/linkboard/pkg/persistence"
)

// NodeMode represents the operational mode of a linkboard node.
type NodeMode string

const (
	// LocalNode edits in-process without a hub.
	LocalNode NodeMode = "local"
	// ClientNode joins a hub.
	ClientNode NodeMode = "client"
	// HubNode serves the hub and participates through it.
	HubNode NodeMode = "hub"
)

// StorageKind selects the save gateway.
type StorageKind string

const (
	// NoStorage disables saving.
	NoStorage StorageKind = "none"
	// FileStorage saves to a local directory.
	FileStorage StorageKind = "file"
	// DatastoreStorage saves to Cloud Datastore.
	DatastoreStorage StorageKind = "datastore"
)

// Config holds all configuration for linkboard nodes.
type Config struct {
	// Core settings
	Secret     string   `env:"LINKBOARD_SECRET"`
	SecretFile string   `env:"LINKBOARD_SECRET_FILE"`
	NodeID     string   `env:"LINKBOARD_NODE_ID"`
	Mode       NodeMode `env:"LINKBOARD_MODE"`

	// Network settings
	Listen  string `env:"LINKBOARD_LISTEN"`
	Hub     string `env:"LINKBOARD_HUB"`
	Metrics string `env:"LINKBOARD_METRICS"`

	// Document
	Document    string `env:"LINKBOARD_DOCUMENT"`
	Permissions string `env:"LINKBOARD_PERMISSIONS"`
	MaxLayers   int    `env:"LINKBOARD_MAX_LAYERS"`

	// Storage
	Storage          StorageKind `env:"LINKBOARD_STORAGE"`
	StoreDir         string      `env:"LINKBOARD_STORE_DIR"`
	DatastoreProject string      `env:"LINKBOARD_DATASTORE_PROJECT"`

	// Behavior
	LockTTL          time.Duration `env:"LINKBOARD_LOCK_TTL"`
	SaveTimeout      time.Duration `env:"LINKBOARD_SAVE_TIMEOUT"`
	ReconnectBackoff time.Duration `env:"LINKBOARD_RECONNECT_BACKOFF"`
	Verbose          bool          `env:"LINKBOARD_VERBOSE"`
}

// NewConfig creates a config with defaults for a local node editing the
// "default" document with every permission and file storage under the
// user's home directory.
func NewConfig() *Config {
	return &Config{
		NodeID:           generateNodeID(),
		Mode:             LocalNode,
		Document:         "default",
		Permissions:      canvas.AllPermissions.String(),
		MaxLayers:        diagram.DefaultMaxLayers,
		Storage:          FileStorage,
		StoreDir:         defaultStoreDir(),
		LockTTL:          time.Minute,
		SaveTimeout:      10 * time.Second,
		ReconnectBackoff: time.Second,
	}
}

// LoadDotEnv loads environment files without overriding variables that are
// already set. With no paths it reads .env in the working directory and a
// missing file is not an error; explicitly named files must exist.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Validate ensures the configuration is valid and internally consistent.
//
// Validation rules:
//   - NodeID and Document are required
//   - Client and hub nodes need a secret (--secret, LINKBOARD_SECRET or --secret-file)
//   - Hub nodes need a listen address, client nodes need a hub URL
//   - Permissions must name known permissions
//   - File storage needs a directory, datastore storage a project
//
// If Listen is set the mode becomes HubNode; if only Hub is set a local
// node becomes a ClientNode. If SecretFile is set the secret is read from
// it.
func (c *Config) Validate() error {
	if c.SecretFile != "" {
		if c.Secret != "" {
			return fmt.Errorf("cannot specify both --secret and --secret-file")
		}

		content, err := os.ReadFile(c.SecretFile)
		if err != nil {
			return fmt.Errorf("failed to read secret file: %w", err)
		}

		c.Secret = strings.TrimSpace(string(content))
	}

	if c.NodeID == "" {
		return fmt.Errorf("node ID is required")
	}

	if err := persistence.ValidateID(c.Document); err != nil {
		return fmt.Errorf("document: %w", err)
	}

	if c.Mode == "" {
		c.Mode = LocalNode
	}
	if c.Listen != "" {
		c.Mode = HubNode
	} else if c.Hub != "" && c.Mode == LocalNode {
		c.Mode = ClientNode
	}

	switch c.Mode {
	case LocalNode:
	case HubNode:
		if c.Listen == "" {
			return fmt.Errorf("hub nodes must specify a listen address")
		}
		if c.Hub != "" {
			return fmt.Errorf("hub nodes should not specify a hub URL")
		}
	case ClientNode:
		if c.Hub == "" {
			return fmt.Errorf("client nodes must specify a hub URL")
		}
		u, err := url.Parse(c.Hub)
		if err != nil {
			return fmt.Errorf("invalid hub URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("hub URL must use ws or wss, got %q", u.Scheme)
		}
	default:
		return fmt.Errorf("invalid node mode: %s", c.Mode)
	}

	if c.Mode != LocalNode && c.Secret == "" {
		return fmt.Errorf("secret is required (use --secret, LINKBOARD_SECRET, or --secret-file)")
	}

	if _, err := c.ParsedPermissions(); err != nil {
		return err
	}

	if c.MaxLayers < 0 {
		return fmt.Errorf("max layers cannot be negative")
	}

	if c.Storage == "" {
		c.Storage = NoStorage
	}
	switch c.Storage {
	case NoStorage:
	case FileStorage:
		if c.StoreDir == "" {
			return fmt.Errorf("file storage requires a store directory")
		}
	case DatastoreStorage:
		if c.DatastoreProject == "" {
			return fmt.Errorf("datastore storage requires a project")
		}
	default:
		return fmt.Errorf("invalid storage: %s", c.Storage)
	}

	if c.LockTTL < 0 || c.SaveTimeout < 0 || c.ReconnectBackoff < 0 {
		return fmt.Errorf("durations cannot be negative")
	}

	return nil
}

// ParsedPermissions returns the permission set of the local user.
func (c *Config) ParsedPermissions() (canvas.Permissions, error) {
	perms, err := canvas.ParsePermissions(c.Permissions)
	if err != nil {
		return nil, fmt.Errorf("invalid permissions: %w", err)
	}
	return perms, nil
}

// HubURL returns the websocket URL the node's sync traffic goes through:
// the configured hub for client nodes and the node's own listener for hub
// nodes.
func (c *Config) HubURL() string {
	if c.Mode != HubNode {
		return c.Hub
	}
	host := c.Listen
	if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	return "ws://" + host + "/ws"
}

// LoadFromEnv loads configuration from environment variables, overriding
// any existing values. Invalid numbers, durations and booleans are ignored
// and keep the existing value.
func (c *Config) LoadFromEnv() {
	if secret := os.Getenv("LINKBOARD_SECRET"); secret != "" {
		c.Secret = secret
	}

	if secretFile := os.Getenv("LINKBOARD_SECRET_FILE"); secretFile != "" {
		c.SecretFile = secretFile
	}

	if nodeID := os.Getenv("LINKBOARD_NODE_ID"); nodeID != "" {
		c.NodeID = nodeID
	}

	if mode := os.Getenv("LINKBOARD_MODE"); mode != "" {
		c.Mode = NodeMode(strings.ToLower(mode))
	}

	if listen := os.Getenv("LINKBOARD_LISTEN"); listen != "" {
		c.Listen = listen
	}

	if hub := os.Getenv("LINKBOARD_HUB"); hub != "" {
		c.Hub = strings.TrimSpace(hub)
	}

	if metrics := os.Getenv("LINKBOARD_METRICS"); metrics != "" {
		c.Metrics = metrics
	}

	if doc := os.Getenv("LINKBOARD_DOCUMENT"); doc != "" {
		c.Document = doc
	}

	if perms, ok := os.LookupEnv("LINKBOARD_PERMISSIONS"); ok {
		c.Permissions = perms
	}

	if maxLayers := os.Getenv("LINKBOARD_MAX_LAYERS"); maxLayers != "" {
		if n, err := strconv.Atoi(maxLayers); err == nil {
			c.MaxLayers = n
		}
	}

	if storage := os.Getenv("LINKBOARD_STORAGE"); storage != "" {
		c.Storage = StorageKind(strings.ToLower(storage))
	}

	if dir := os.Getenv("LINKBOARD_STORE_DIR"); dir != "" {
		c.StoreDir = dir
	}

	if project := os.Getenv("LINKBOARD_DATASTORE_PROJECT"); project != "" {
		c.DatastoreProject = project
	}

	loadDuration("LINKBOARD_LOCK_TTL", &c.LockTTL)
	loadDuration("LINKBOARD_SAVE_TIMEOUT", &c.SaveTimeout)
	loadDuration("LINKBOARD_RECONNECT_BACKOFF", &c.ReconnectBackoff)

	if verbose := os.Getenv("LINKBOARD_VERBOSE"); verbose != "" {
		if v, err := strconv.ParseBool(verbose); err == nil {
			c.Verbose = v
		}
	}
}

func loadDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// generateNodeID creates a participant identifier from the hostname and a
// nanosecond timestamp. If the hostname cannot be determined, "unknown" is
// used.
func generateNodeID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
}

func defaultStoreDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "linkboard", "boards")
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".linkboard", "boards")
}

// String returns the config for logs. The secret is shown as "[hidden]"
// when set and "[not set]" otherwise.
func (c *Config) String() string {
	secretDisplay := "[hidden]"
	if c.Secret == "" {
		secretDisplay = "[not set]"
	}

	network := "[none]"
	switch c.Mode {
	case HubNode:
		network = "listen " + c.Listen
	case ClientNode:
		network = "hub " + c.Hub
	}

	return fmt.Sprintf(
		"Config{NodeID: %s, Mode: %s, Secret: %s, Network: %s, Document: %s, Permissions: %s, Storage: %s, Verbose: %v}",
		c.NodeID, c.Mode, secretDisplay, network, c.Document, c.Permissions, c.Storage, c.Verbose,
	)
}
