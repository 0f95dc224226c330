package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// URL is the hub websocket address (ws:// or wss://).
	URL string

	// NodeID identifies this participant to the hub and to other peers.
	NodeID string

	// Secret must match the hub secret when the hub authenticates.
	Secret string

	Logger  Logger
	Metrics *Metrics
	Backoff *ExponentialBackoff

	DialTimeout    time.Duration
	RequestTimeout time.Duration
	SubBuffer      int
}

// Validate checks required fields and fills defaults.
func (c *ClientConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.NodeID == "" {
		return fmt.Errorf("node id is required")
	}
	if c.Logger == nil {
		c.Logger = DefaultLogger()
	}
	if c.Backoff == nil {
		c.Backoff = DefaultBackoff()
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = HandshakeTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.SubBuffer <= 0 {
		c.SubBuffer = defaultSubscriberBuffer
	}
	return nil
}

// Client is a hub participant. It implements Bus and Requester and
// reconnects on its own until closed.
type Client struct {
	config ClientConfig
	logger Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	subs    map[string]map[*clientSub]struct{}
	pending map[string]chan Frame
	closed  bool

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type clientSub struct {
	ch chan Delivery
}

// Dial connects to the hub. The first connection attempt is synchronous so
// configuration mistakes surface immediately; later disconnects are retried
// in the background.
func Dial(ctx context.Context, config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config:  *config,
		logger:  config.Logger,
		subs:    make(map[string]map[*clientSub]struct{}),
		pending: make(map[string]chan Frame),
		ctx:     cctx,
		cancel:  cancel,
	}

	ws, err := c.connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	c.wg.Add(1)
	go c.run(ws)
	return c, nil
}

// NodeID returns the participant id.
func (c *Client) NodeID() string { return c.config.NodeID }

// Connected reports whether a hub connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	header, err := authHeaders(c.config.Secret, c.config.NodeID)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.config.DialTimeout}
	ws, resp, err := dialer.DialContext(ctx, c.config.URL, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil && resp.StatusCode == 401 {
			return nil, fmt.Errorf("dial %s: %w", c.config.URL, ErrAuthFailed)
		}
		return nil, fmt.Errorf("dial %s: %w", c.config.URL, err)
	}
	ws.SetReadLimit(MaxMessageSize)

	c.mu.Lock()
	c.ws = ws
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	for _, topic := range topics {
		if err := c.write(Frame{Type: FrameSubscribe, Topic: topic}); err != nil {
			c.logger.Error("Failed to resubscribe", "topic", topic, "error", err)
		}
	}
	c.config.Metrics.connected(1)
	c.logger.Info("Connected to hub", "url", c.config.URL, "node", c.config.NodeID)
	return ws, nil
}

func (c *Client) run(ws *websocket.Conn) {
	defer c.wg.Done()

	for {
		c.readLoop(ws)
		c.detach(ws)
		if c.ctx.Err() != nil {
			return
		}

		c.logger.Info("Disconnected from hub, reconnecting", "url", c.config.URL)
		err := retry(c.ctx, c.config.Backoff, func() error {
			c.config.Metrics.reconnect()
			var err error
			ws, err = c.connect(c.ctx)
			if err != nil {
				c.logger.Debug("Reconnect failed", "error", err)
			}
			return err
		})
		if err != nil {
			return
		}
	}
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("Read failed", "error", err)
			}
			return
		}
		if err := f.Validate(); err != nil {
			c.logger.Debug("Invalid frame", "error", err)
			continue
		}
		c.config.Metrics.frameIn(f.Type)

		switch f.Type {
		case FrameDeliver:
			c.deliver(f)
		case FrameResponse:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		default:
			c.logger.Debug("Ignoring frame", "type", f.Type)
		}
	}
}

func (c *Client) deliver(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs[f.Topic] {
		d := Delivery{Topic: f.Topic, From: f.From, Data: []byte(f.Payload)}
		select {
		case sub.ch <- d:
		default:
			c.config.Metrics.drop()
		}
	}
}

// detach forgets ws and fails every request waiting on it.
func (c *Client) detach(ws *websocket.Conn) {
	_ = ws.Close()

	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
		c.config.Metrics.connected(-1)
	}
	pending := c.pending
	c.pending = make(map[string]chan Frame)
	c.mu.Unlock()

	for id, ch := range pending {
		ch <- Frame{Type: FrameResponse, ID: id, Error: &RemoteError{Code: CodeUnavailable, Message: ErrNotConnected.Error()}}
	}
}

func (c *Client) write(f Frame) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.config.DialTimeout))
	if err := ws.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	c.config.Metrics.frameOut(f.Type)
	return nil
}

// Publish implements Bus. It fails with ErrNotConnected while the client is
// between connections; callers decide whether that matters.
func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidMessage)
	}
	if !json.Valid(data) {
		return fmt.Errorf("%w: payload is not JSON", ErrInvalidMessage)
	}
	if c.isClosed() {
		return ErrClosed
	}
	return c.write(Frame{Type: FramePublish, Topic: topic, Payload: data})
}

// Subscribe implements Bus. The subscription survives reconnects.
func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan Delivery, error) {
	if topic == "" {
		return nil, fmt.Errorf("%w: empty topic", ErrInvalidMessage)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	sub := &clientSub{ch: make(chan Delivery, c.config.SubBuffer)}
	first := len(c.subs[topic]) == 0
	if first {
		c.subs[topic] = make(map[*clientSub]struct{})
	}
	c.subs[topic][sub] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	if first {
		if err := c.write(Frame{Type: FrameSubscribe, Topic: topic}); err != nil && !errors.Is(err, ErrNotConnected) {
			c.logger.Error("Failed to subscribe", "topic", topic, "error", err)
		}
	}

	go func() {
		defer c.wg.Done()
		select {
		case <-ctx.Done():
		case <-c.ctx.Done():
		}

		c.mu.Lock()
		delete(c.subs[topic], sub)
		last := len(c.subs[topic]) == 0
		if last {
			delete(c.subs, topic)
		}
		close(sub.ch)
		c.mu.Unlock()

		if last && c.ctx.Err() == nil {
			_ = c.write(Frame{Type: FrameUnsubscribe, Topic: topic})
		}
	}()

	return sub.ch, nil
}

// Request implements Requester.
func (c *Client) Request(ctx context.Context, method string, payload, out any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", method, err)
		}
		raw = data
	}

	id := uuid.NewString()
	ch := make(chan Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.write(Frame{Type: FrameRequest, ID: id, Method: method, Payload: raw}); err != nil {
		forget()
		return err
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		forget()
		return ctx.Err()
	case <-c.ctx.Done():
		forget()
		return ErrClosed
	case <-timer.C:
		forget()
		return fmt.Errorf("%s: %w", method, ErrTimeout)
	case resp := <-ch:
		if resp.Error != nil {
			if resp.Error.Code == CodeUnavailable {
				return ErrNotConnected
			}
			return resp.Error
		}
		if out != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, out); err != nil {
				return fmt.Errorf("decode %s response: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close disconnects and stops reconnecting. Subscription channels are
// closed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = ws.Close()
	}
	c.wg.Wait()
	return nil
}
