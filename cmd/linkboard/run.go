package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Veraticus/linkboard/pkg/api"
	"github.com/Veraticus/linkboard/pkg/config"
	"github.com/Veraticus/linkboard/pkg/diagram"
	"github.com/Veraticus/linkboard/pkg/lock"
	"github.com/Veraticus/linkboard/pkg/persistence"
	"github.com/Veraticus/linkboard/pkg/render"
	"github.com/Veraticus/linkboard/pkg/session"
	boardsync "github.com/Veraticus/linkboard/pkg/sync"
	"github.com/Veraticus/linkboard/pkg/transport"
)

var (
	// Run command flags.
	runCfg config.Config

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a linkboard node",
		Long: `Run a linkboard node with one document open.

The node:
- Loads the last saved version of the document (if storage is enabled)
- Keeps it in sync with the other participants
- Saves it again when the node stops or on "linkboard save"
- Provides a local API for the status, export, import and preview commands

Without --listen or --hub the node edits locally. With --listen it hosts a
hub other nodes join with --hub; both sides need the same secret.

Examples:
  # Edit locally
  linkboard run --document roadmap

  # Host a shared board
  linkboard run --secret mysecret --listen :9437 --document roadmap

  # Join it
  linkboard run --secret mysecret --hub ws://host:9437/ws --document roadmap

  # Save to Cloud Datastore instead of local files
  linkboard run --storage datastore --datastore-project my-project`,
		RunE: runNodeCmd,
		Args: cobra.NoArgs,
	}
)

func init() {
	runCfg = *config.NewConfig()

	f := runCmd.Flags()
	f.StringVar(&runCfg.Secret, "secret", "", "Shared secret for hub authentication")
	f.StringVar(&runCfg.SecretFile, "secret-file", "", "Path to file containing the shared secret")
	f.StringVar(&runCfg.NodeID, "node-id", runCfg.NodeID, "Participant identifier (auto-generated if not set)")
	f.StringVar((*string)(&runCfg.Mode), "mode", string(runCfg.Mode), "Node mode: local, client or hub (inferred from --listen and --hub)")
	f.StringVar(&runCfg.Listen, "listen", "", "Hub listen address, e.g. :9437")
	f.StringVar(&runCfg.Hub, "hub", "", "Hub websocket URL, e.g. ws://host:9437/ws")
	f.StringVar(&runCfg.Metrics, "metrics", "", "Address serving Prometheus metrics on /metrics")
	f.StringVar(&runCfg.Document, "document", runCfg.Document, "Document to open")
	f.StringVar(&runCfg.Permissions, "permissions", runCfg.Permissions, "Comma-separated permissions of the local user (UPDATE,DELETE,EXPORT)")
	f.IntVar(&runCfg.MaxLayers, "max-layers", runCfg.MaxLayers, "Maximum number of layers per document")
	f.StringVar((*string)(&runCfg.Storage), "storage", string(runCfg.Storage), "Where documents are saved: none, file or datastore")
	f.StringVar(&runCfg.StoreDir, "store-dir", runCfg.StoreDir, "Directory used by file storage")
	f.StringVar(&runCfg.DatastoreProject, "datastore-project", "", "Google Cloud project used by datastore storage")
	f.DurationVar(&runCfg.LockTTL, "lock-ttl", runCfg.LockTTL, "Lifetime of selection locks")
	f.DurationVar(&runCfg.SaveTimeout, "save-timeout", runCfg.SaveTimeout, "Upper bound for one save")
	f.DurationVar(&runCfg.ReconnectBackoff, "reconnect-backoff", runCfg.ReconnectBackoff, "Initial hub reconnection backoff")
	f.BoolVarP(&runCfg.Verbose, "verbose", "v", false, "Enable verbose logging")
}

func runNodeCmd(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	if err := reapplyFlags(cmd, runCfg.LoadFromEnv); err != nil {
		return err
	}

	if err := runCfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if runCfg.Mode == config.HubNode {
		if err := validateAddress(runCfg.Listen); err != nil {
			return fmt.Errorf("configuration error: listen: %w", err)
		}
	}
	if runCfg.Metrics != "" {
		if err := validateAddress(runCfg.Metrics); err != nil {
			return fmt.Errorf("configuration error: metrics: %w", err)
		}
	}

	log := newLogger(runCfg.Verbose)

	log.Info("starting linkboard node",
		"version", version,
		"node_id", runCfg.NodeID,
		"mode", runCfg.Mode,
		"document", runCfg.Document,
		"socket", socketPath,
	)

	if runCfg.Verbose {
		// Log configuration (without secret)
		log.Debug("configuration", "config", runCfg.String())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runNode(ctx, &runCfg, socketPath, log)
}

// runNode runs a validated node until ctx is done or the sync engine
// fails.
func runNode(ctx context.Context, cfg *config.Config, socket string, log *logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	log.Info("connecting", "mode", cfg.Mode)
	nw, err := connect(ctx, cfg, reg, log)
	if err != nil {
		return err
	}
	defer nw.close(log)

	if cfg.Metrics != "" {
		stopMetrics, err := serveMetrics(cfg.Metrics, reg, log)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	gw, closeGateway, err := createGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeGateway()

	perms, err := cfg.ParsedPermissions()
	if err != nil {
		return err
	}

	log.Info("opening document", "document", cfg.Document)
	sess, err := session.Open(ctx, &session.Config{
		DocumentID:  cfg.Document,
		User:        cfg.NodeID,
		Bus:         nw.bus,
		Locks:       nw.locks,
		Gateway:     gw,
		Render:      renderPreview,
		Logger:      log.withPrefix("session"),
		Metrics:     boardsync.NewMetrics(reg),
		Warn:        log.withPrefix("canvas").warn,
		MaxLayers:   cfg.MaxLayers,
		LockTTL:     cfg.LockTTL,
		SaveTimeout: cfg.SaveTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to open document: %w", err)
	}

	shutdownCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), 10*time.Second)
	}

	log.Info("initializing API server", "socket", socket)
	apiServer, err := api.NewServer(&api.ServerConfig{
		SocketPath:  socket,
		Board:       sess,
		Permissions: perms,
		NodeID:      cfg.NodeID,
		Mode:        string(cfg.Mode),
		Version:     version,
		ListenAddr:  nw.listenAddr,
		HubURL:      nw.hubURL,
		Logger:      newSlogLogger(os.Stderr, cfg.Verbose),
	})
	if err == nil {
		err = apiServer.Start()
	}
	if err != nil {
		sctx, cancel := shutdownCtx()
		defer cancel()
		_ = sess.Close(sctx)
		return fmt.Errorf("failed to start API server: %w", err)
	}

	log.Info("linkboard node is running",
		"mode", cfg.Mode,
		"document", cfg.Document,
		"listen", nw.listenAddr,
		"hub", nw.hubURL,
		"socket", socket,
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case <-sess.Done():
		if err := sess.Err(); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("sync engine error", "error", err)
			runErr = err
		} else {
			log.Info("sync engine stopped")
		}
	}

	if err := apiServer.Stop(); err != nil {
		log.Error("failed to stop API server", "error", err)
	}

	sctx, cancel := shutdownCtx()
	defer cancel()
	if err := sess.Close(sctx); err != nil {
		log.Error("failed to close document", "error", err)
	}

	logFinalStats(log, sess.Status())
	log.Info("linkboard node stopped")
	return runErr
}

// renderPreview is the preview stored with every save.
func renderPreview(snap *diagram.Snapshot) ([]byte, error) {
	return render.Preview(snap, render.DefaultOptions())
}

func logFinalStats(log *logger, st session.Status) {
	kv := []any{
		"layers", st.Layers,
		"edges", st.Edges,
		"saves", st.Saves,
	}
	if s := st.Sync; s != nil {
		kv = append(kv,
			"messages_sent", s.MessagesSent,
			"messages_received", s.MessagesReceived,
			"messages_applied", s.MessagesApplied,
			"uptime", time.Since(s.StartTime).Round(time.Second),
		)
	}
	log.Info("final statistics", kv...)
}

// network is how the node reaches the other participants.
type network struct {
	bus        transport.Bus
	locks      lock.Service
	listenAddr string
	hubURL     string
	// closers run in reverse order.
	closers []func() error
}

func connect(ctx context.Context, cfg *config.Config, reg *prometheus.Registry, log *logger) (*network, error) {
	metrics := transport.NewMetrics(reg)

	switch cfg.Mode {
	case config.LocalNode:
		bus := transport.NewMemoryBus(256, metrics)
		return &network{
			bus:     bus.Endpoint(cfg.NodeID),
			locks:   lock.NewMemoryService(lock.MemoryConfig{TTL: cfg.LockTTL}),
			closers: []func() error{bus.Close},
		}, nil

	case config.HubNode:
		nw, err := startHub(cfg, reg, metrics, log)
		if err != nil {
			return nil, err
		}
		if err := nw.join(ctx, cfg, metrics, log); err != nil {
			nw.close(log)
			return nil, err
		}
		return nw, nil

	case config.ClientNode:
		nw := &network{hubURL: cfg.HubURL()}
		if err := nw.join(ctx, cfg, metrics, log); err != nil {
			nw.close(log)
			return nil, err
		}
		return nw, nil

	default:
		return nil, fmt.Errorf("unsupported mode: %s", cfg.Mode)
	}
}

// startHub serves the relay and the lock arbiter on cfg.Listen.
func startHub(cfg *config.Config, reg *prometheus.Registry, metrics *transport.Metrics, log *logger) (*network, error) {
	hub, err := transport.NewHub(&transport.HubConfig{
		Secret:  cfg.Secret,
		Logger:  log.withPrefix("hub"),
		Metrics: metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create hub: %w", err)
	}
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	lock.Serve(sweepCtx, hub, lock.NewMemoryService(lock.MemoryConfig{TTL: cfg.LockTTL}), &lock.ServeConfig{
		Logger: log.withPrefix("locks"),
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	if cfg.Metrics == "" {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		stopSweep()
		_ = hub.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("hub server failed", "error", err)
		}
	}()
	log.Info("hub listening", "addr", ln.Addr().String())

	return &network{
		listenAddr: ln.Addr().String(),
		hubURL:     loopbackURL(ln.Addr()),
		closers: []func() error{
			func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			},
			hub.Close,
			func() error {
				stopSweep()
				return nil
			},
		},
	}, nil
}

// join connects to the hub at n.hubURL and uses it for sync and locks.
func (n *network) join(ctx context.Context, cfg *config.Config, metrics *transport.Metrics, log *logger) error {
	c, err := transport.Dial(ctx, &transport.ClientConfig{
		URL:     n.hubURL,
		NodeID:  cfg.NodeID,
		Secret:  cfg.Secret,
		Logger:  log.withPrefix("transport"),
		Metrics: metrics,
		Backoff: transport.NewExponentialBackoff(cfg.ReconnectBackoff, cfg.ReconnectBackoff*300, 2, 0.1),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to hub %s: %w", n.hubURL, err)
	}
	n.closers = append(n.closers, c.Close)

	remote := lock.NewRemoteService(c, log.withPrefix("locks"))
	if err := remote.Watch(ctx, cfg.Document); err != nil {
		return fmt.Errorf("failed to watch locks: %w", err)
	}

	log.Info("joined hub", "url", n.hubURL)
	n.bus, n.locks = c, remote
	return nil
}

func (n *network) close(log *logger) {
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			log.Error("failed to close connection", "error", err)
		}
	}
	n.closers = nil
}

// loopbackURL is the websocket URL a hub node uses to reach its own
// listener.
func loopbackURL(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return "ws://" + addr.String() + "/ws"
	}
	host := "127.0.0.1"
	if tcp.IP != nil && !tcp.IP.IsUnspecified() {
		host = tcp.IP.String()
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(tcp.Port)) + "/ws"
}

// serveMetrics serves /metrics on addr and returns its shutdown function.
func serveMetrics(addr string, reg *prometheus.Registry, log *logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	log.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// createGateway opens the configured storage. The returned function
// releases it.
func createGateway(ctx context.Context, cfg *config.Config, log *logger) (persistence.Gateway, func(), error) {
	switch cfg.Storage {
	case config.NoStorage:
		log.Info("saving disabled")
		return nil, func() {}, nil

	case config.FileStorage:
		gw, err := persistence.NewFileGateway(cfg.StoreDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open store directory: %w", err)
		}
		log.Info("saving to directory", "dir", gw.Dir())
		return gw, func() {}, nil

	case config.DatastoreStorage:
		gw, client, err := persistence.NewDatastoreGateway(ctx, persistence.DatastoreConfig{
			ProjectID: cfg.DatastoreProject,
			Logger:    log.withPrefix("datastore"),
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("saving to datastore", "project", cfg.DatastoreProject)
		return gw, func() {
			if err := client.Close(); err != nil {
				log.Error("failed to close datastore client", "error", err)
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("invalid storage: %s", cfg.Storage)
	}
}
