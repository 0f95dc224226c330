package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HubNode is the From value of payloads broadcast by the hub itself.
const HubNode = "hub"

// HandlerFunc serves a request frame. The returned value is JSON encoded into
// the response payload.
type HandlerFunc func(ctx context.Context, from string, payload json.RawMessage) (any, error)

// HubConfig configures a Hub.
type HubConfig struct {
	// Secret enables token authentication when non-empty.
	Secret string

	Logger  Logger
	Metrics *Metrics

	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int

	// PingInterval defaults to KeepAliveInterval.
	PingInterval time.Duration

	// Now is the clock used to verify tokens.
	Now func() time.Time
}

// Validate fills defaults.
func (c *HubConfig) Validate() error {
	if c.Logger == nil {
		c.Logger = DefaultLogger()
	}
	if c.SendBuffer < 0 {
		return fmt.Errorf("send buffer must be non-negative")
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = defaultSubscriberBuffer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = KeepAliveInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Hub relays topic broadcasts between websocket clients and serves
// registered request methods.
type Hub struct {
	config   HubConfig
	logger   Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	conns    map[*hubConn]struct{}
	topics   map[string]map[*hubConn]struct{}
	handlers map[string]HandlerFunc
	leaving  []func(node string)
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub.
func NewHub(config *HubConfig) (*Hub, error) {
	if config == nil {
		config = &HubConfig{}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config: *config,
		logger: config.Logger,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: HandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		conns:    make(map[*hubConn]struct{}),
		topics:   make(map[string]map[*hubConn]struct{}),
		handlers: make(map[string]HandlerFunc),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Handle registers fn for method, replacing any previous handler.
func (h *Hub) Handle(method string, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[method] = fn
}

// OnDisconnect registers fn to run when the last connection of a node goes
// away. It is not called for connections dropped by Close.
func (h *Hub) OnDisconnect(fn func(node string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaving = append(h.leaving, fn)
}

// Broadcast delivers data to every subscriber of topic.
func (h *Hub) Broadcast(topic string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("%w: payload is not JSON", ErrInvalidMessage)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	h.fanOutLocked(nil, Frame{Type: FrameDeliver, Topic: topic, From: HubNode, Payload: data})
	return nil
}

// Subscribers returns the number of connections subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Connections returns the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conns := make([]*hubConn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	h.cancel()
	for _, c := range conns {
		c.close()
	}
	return nil
}

// ServeHTTP authenticates and upgrades a client connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	node, err := authenticate(r, h.config.Secret, h.config.Now())
	if err != nil {
		h.logger.Info("Rejected connection", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "hub closed", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &hubConn{
		hub:  h,
		node: node,
		ws:   ws,
		send: make(chan Frame, h.config.SendBuffer),
		done: make(chan struct{}),
	}
	if !h.register(c) {
		c.close()
		return
	}
	h.logger.Info("Client connected", "node", node, "remote", r.RemoteAddr)

	go c.writeLoop()
	c.readLoop()

	gone, hooks := h.unregister(c)
	c.close()
	h.logger.Info("Client disconnected", "node", node)
	if gone {
		for _, fn := range hooks {
			fn(node)
		}
	}
}

func (h *Hub) register(c *hubConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	h.config.Metrics.connected(1)
	return true
}

// unregister drops c and reports whether it was the node's last connection,
// along with the disconnect hooks to run.
func (h *Hub) unregister(c *hubConn) (bool, []func(string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return false, nil
	}
	delete(h.conns, c)
	for topic, set := range h.topics {
		delete(set, c)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
	h.config.Metrics.connected(-1)

	if h.closed {
		return false, nil
	}
	for other := range h.conns {
		if other.node == c.node {
			return false, nil
		}
	}
	return true, append(([]func(string))(nil), h.leaving...)
}

func (h *Hub) subscribe(c *hubConn, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*hubConn]struct{})
	}
	h.topics[topic][c] = struct{}{}
}

func (h *Hub) unsubscribe(c *hubConn, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.topics[topic], c)
	if len(h.topics[topic]) == 0 {
		delete(h.topics, topic)
	}
}

// fanOutLocked queues f on every subscriber of its topic except skip.
func (h *Hub) fanOutLocked(skip *hubConn, f Frame) {
	for c := range h.topics[f.Topic] {
		if c == skip {
			continue
		}
		c.queue(f)
	}
}

func (h *Hub) handleFrame(c *hubConn, f Frame) {
	h.config.Metrics.frameIn(f.Type)

	switch f.Type {
	case FrameSubscribe:
		h.subscribe(c, f.Topic)
	case FrameUnsubscribe:
		h.unsubscribe(c, f.Topic)
	case FramePublish:
		f.Type = FrameDeliver
		f.From = c.node
		h.mu.RLock()
		h.fanOutLocked(c, f)
		h.mu.RUnlock()
	case FrameRequest:
		c.queue(h.serveRequest(c, f))
	default:
		h.logger.Debug("Ignoring frame", "node", c.node, "type", f.Type)
	}
}

func (h *Hub) serveRequest(c *hubConn, f Frame) Frame {
	resp := Frame{Type: FrameResponse, ID: f.ID, Method: f.Method}

	h.mu.RLock()
	fn, ok := h.handlers[f.Method]
	h.mu.RUnlock()
	if !ok {
		resp.Error = &RemoteError{Code: CodeUnknownMethod, Message: f.Method}
		return resp
	}

	result, err := fn(h.ctx, c.node, f.Payload)
	if err != nil {
		var re *RemoteError
		if !errors.As(err, &re) {
			re = &RemoteError{Code: CodeInternal, Message: err.Error()}
		}
		resp.Error = re
		return resp
	}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			resp.Error = &RemoteError{Code: CodeInternal, Message: err.Error()}
			return resp
		}
		resp.Payload = data
	}
	return resp
}

type hubConn struct {
	hub  *Hub
	node string
	ws   *websocket.Conn
	send chan Frame
	done chan struct{}
	once sync.Once
}

func (c *hubConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// queue never blocks; a full queue drops the frame.
func (c *hubConn) queue(f Frame) {
	select {
	case <-c.done:
	case c.send <- f:
	default:
		c.hub.config.Metrics.drop()
		c.hub.logger.Debug("Dropping frame for slow client", "node", c.node, "type", f.Type)
	}
}

func (c *hubConn) readLoop() {
	interval := c.hub.config.PingInterval
	c.ws.SetReadLimit(MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * interval))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(2 * interval))
	})

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Debug("Read failed", "node", c.node, "error", err)
			}
			return
		}
		if err := f.Validate(); err != nil {
			c.hub.logger.Debug("Invalid frame", "node", c.node, "error", err)
			continue
		}
		c.hub.handleFrame(c, f)
	}
}

func (c *hubConn) writeLoop() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(HandshakeTimeout))
			if err := c.ws.WriteJSON(f); err != nil {
				c.hub.logger.Debug("Write failed", "node", c.node, "error", err)
				c.close()
				return
			}
			c.hub.config.Metrics.frameOut(f.Type)
		case <-ticker.C:
			deadline := time.Now().Add(HandshakeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close()
				return
			}
		}
	}
}
