package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/linkboard/pkg/canvas"
	"github.com/Veraticus/linkboard/pkg/persistence"
	"github.com/Veraticus/linkboard/pkg/session"
)

// Board is the open document the server exposes. session.Session
// implements it.
type Board interface {
	Status() session.Status
	Export(ctx context.Context, perms canvas.Permissions) ([]byte, error)
	Import(ctx context.Context, perms canvas.Permissions, data []byte) error
	Save(ctx context.Context, reason persistence.Reason) error
}

// Server implements the local Unix socket API server for linkboard.
type Server struct {
	uptime      time.Time
	board       Board
	permissions canvas.Permissions
	listener    net.Listener
	ctx         context.Context
	logger      *slog.Logger
	cancel      context.CancelFunc
	socketPath  string
	mode        string
	version     string
	nodeID      string
	listenAddr  string
	hubURL      string
	wg          sync.WaitGroup
	mu          sync.RWMutex
}

// ServerConfig contains configuration for the API server.
type ServerConfig struct {
	Board Board
	// Permissions are those of the local user; API callers act as that
	// user.
	Permissions canvas.Permissions
	Logger      *slog.Logger
	SocketPath  string
	NodeID      string
	Mode        string
	Version     string
	ListenAddr  string
	HubURL      string
}

// NewServer creates a new API server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if cfg.Board == nil {
		return nil, fmt.Errorf("board is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:  cfg.SocketPath,
		board:       cfg.Board,
		permissions: cfg.Permissions,
		nodeID:      cfg.NodeID,
		mode:        cfg.Mode,
		version:     cfg.Version,
		listenAddr:  cfg.ListenAddr,
		hubURL:      cfg.HubURL,
		logger:      logger.With("component", "api"),
		uptime:      time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins listening on the Unix domain socket.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	socketDir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(socketDir, 0700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Remove old socket if it exists
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", s.socketPath, err)
	}

	// User read/write only
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	s.cancel()

	if listener != nil {
		if err := listener.Close(); err != nil && !isClosedNetworkError(err) {
			return fmt.Errorf("failed to close listener: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("server shutdown timeout")
	}

	_ = os.Remove(s.socketPath)

	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if !isClosedNetworkError(err) {
					s.logger.Error("failed to accept connection", "error", err)
					continue
				}
				return
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection processes a single client connection.
func (s *Server) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		s.sendError(conn, "failed to set deadline")
		return
	}

	reader := bufio.NewReader(conn)

	line, err := reader.ReadString('\n')
	if err != nil {
		s.sendError(conn, fmt.Sprintf("failed to read command: %v", err))
		return
	}

	req, parseErr := ParseRequest(strings.TrimSpace(line))
	if parseErr != nil {
		s.sendError(conn, parseErr.Error())
		return
	}

	s.logger.Debug("handling request", "command", req.Command, "size", req.Size)

	switch req.Command {
	case CommandStatus:
		s.handleStatus(conn)
	case CommandExport:
		s.handleExport(conn)
	case CommandImport:
		s.handleImport(conn, req, reader)
	case CommandSave:
		s.handleSave(conn)
	default:
		s.sendError(conn, fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

func (s *Server) handleExport(conn net.Conn) {
	data, err := s.board.Export(s.ctx, s.permissions)
	if err != nil {
		s.sendError(conn, fmt.Sprintf("export failed: %v", err))
		return
	}
	s.sendOK(conn, data)
}

func (s *Server) handleImport(conn net.Conn, req *Request, reader *bufio.Reader) {
	content := make([]byte, req.Size)
	if _, err := io.ReadFull(reader, content); err != nil {
		s.sendError(conn, fmt.Sprintf("failed to read content: %v", err))
		return
	}

	if err := ValidateContent(content); err != nil {
		s.sendError(conn, err.Error())
		return
	}

	// Import reports its own failures; do not wrap them twice.
	if err := s.board.Import(s.ctx, s.permissions, content); err != nil {
		s.sendError(conn, err.Error())
		return
	}

	s.logger.Info("document imported", "bytes", len(content))
	s.sendOK(conn, nil)
}

func (s *Server) handleSave(conn net.Conn) {
	if err := s.board.Save(s.ctx, persistence.Manual); err != nil {
		if errors.Is(err, session.ErrNoStorage) {
			s.sendError(conn, err.Error())
			return
		}
		s.sendError(conn, fmt.Sprintf("save failed: %v", err))
		return
	}
	s.sendOK(conn, nil)
}

func (s *Server) handleStatus(conn net.Conn) {
	s.mu.RLock()
	uptime := s.uptime
	s.mu.RUnlock()

	st := s.board.Status()
	status := &StatusResponse{
		NodeID:      s.nodeID,
		Mode:        s.mode,
		Version:     s.version,
		Uptime:      uptime,
		ListenAddr:  s.listenAddr,
		HubURL:      s.hubURL,
		Permissions: s.permissions.String(),
		Board: BoardStats{
			Document:   st.Document,
			CanvasMode: st.Mode.String(),
			Layers:     st.Layers,
			Edges:      st.Edges,
			Selection:  st.Selection,
			CanUndo:    st.CanUndo,
			CanRedo:    st.CanRedo,
			Saves:      st.Saves,
			LastSave:   formatTime(st.LastSave),
		},
	}
	if st.Selection == nil {
		status.Board.Selection = []string{}
	}
	if sync := st.Sync; sync != nil {
		status.Stats = SyncStats{
			LastSent:         formatTime(sync.LastSent),
			LastApplied:      formatTime(sync.LastApplied),
			MessagesSent:     sync.MessagesSent,
			MessagesReceived: sync.MessagesReceived,
			MessagesApplied:  sync.MessagesApplied,
			MessagesIgnored:  sync.MessagesIgnored,
			Duplicates:       sync.Duplicates,
			SendErrors:       sync.SendErrors,
			ReceiveErrors:    sync.ReceiveErrors,
		}
	}

	jsonData, err := json.Marshal(status)
	if err != nil {
		s.sendError(conn, fmt.Sprintf("failed to marshal status: %v", err))
		return
	}

	if _, err := fmt.Fprintf(conn, "STATUS %s\n", jsonData); err != nil {
		// Connection error, can't send error response
		return
	}
}

func (s *Server) sendOK(conn net.Conn, data any) {
	resp, err := FormatResponse(ResponseOK, data)
	if err != nil {
		s.sendError(conn, err.Error())
		return
	}
	_, _ = conn.Write(resp)
}

func (s *Server) sendError(conn net.Conn, msg string) {
	// Messages are single line.
	msg = strings.ReplaceAll(msg, "\n", " ")
	resp, _ := FormatResponse(ResponseError, msg)
	_, _ = conn.Write(resp)
}

// isClosedNetworkError checks if an error is due to a closed network connection.
func isClosedNetworkError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed)
}
