// Package kitchannel is a Socket.IO (Engine.IO v4, websocket transport)
// client for the kit server's command channel.
package kitchannel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by Emit while the channel is down.
var ErrNotConnected = errors.New("kit channel not connected")

// Handler receives inbound events. It is called from the read loop and
// must not block.
type Handler func(ctx context.Context, event string, data json.RawMessage)

// Config configures a Client.
type Config struct {
	// ServerURL is the kit server base URL (http, https, ws or wss).
	ServerURL string

	// ReconnectDelay is the delay between reconnection attempts (default 2s).
	ReconnectDelay time.Duration

	// OnConnect runs on its own goroutine after every successful namespace
	// connect.
	OnConnect func(ctx context.Context)

	// OnDisconnect runs after the connection is lost.
	OnDisconnect func(err error)

	Handler Handler
}

// Client maintains one connection to the kit server and reconnects on loss.
type Client struct {
	cfg Config

	writeMu   sync.Mutex
	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

// New creates a client. Nothing is dialed until Run.
func New(cfg Config) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &Client{cfg: cfg}
}

// Connected reports whether the Socket.IO namespace is connected.
func (c *Client) Connected() bool { return c.connected.Load() }

// Run connects and serves the channel until ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Printf("kitchannel: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// Emit sends a Socket.IO event with one JSON payload.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	data, err := json.Marshal([]any{event, payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	return c.write(ctx, "42"+string(data))
}

func (c *Client) write(ctx context.Context, packet string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(packet)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// openPacket is the Engine.IO handshake payload.
type openPacket struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

// connectAndRead dials, performs the handshake and reads until disconnect.
func (c *Client) connectAndRead(ctx context.Context) (err error) {
	wsURL, err := WebsocketURL(c.cfg.ServerURL)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// close the socket when ctx is canceled so ReadMessage returns
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	defer func() {
		close(stop)
		wasConnected := c.connected.Swap(false)
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		if wasConnected && c.cfg.OnDisconnect != nil {
			c.cfg.OnDisconnect(err)
		}
	}()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	if len(msg) == 0 || msg[0] != '0' {
		err = fmt.Errorf("unexpected handshake packet %q", truncate(msg))
		return err
	}
	var open openPacket
	if err = json.Unmarshal(msg[1:], &open); err != nil {
		return fmt.Errorf("parse handshake: %w", err)
	}
	liveness := time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond

	if err = c.write(ctx, "40"); err != nil {
		return err
	}

	for {
		if liveness > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(liveness))
		}
		_, msg, err = conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err = c.handlePacket(ctx, msg); err != nil {
			return err
		}
	}
}

// handlePacket processes one Engine.IO packet.
func (c *Client) handlePacket(ctx context.Context, msg []byte) error {
	if len(msg) == 0 {
		return nil
	}
	switch msg[0] {
	case '1':
		return errors.New("server closed the session")
	case '2':
		return c.write(ctx, "3"+string(msg[1:]))
	case '4':
		return c.handleSocketPacket(ctx, msg[1:])
	}
	return nil
}

// handleSocketPacket processes one Socket.IO packet on the default namespace.
func (c *Client) handleSocketPacket(ctx context.Context, msg []byte) error {
	if len(msg) == 0 {
		return nil
	}
	kind, body := msg[0], skipNamespace(msg[1:])

	switch kind {
	case '0':
		c.connected.Store(true)
		log.Printf("kitchannel: connected to %s", c.cfg.ServerURL)
		if c.cfg.OnConnect != nil {
			go c.cfg.OnConnect(ctx)
		}
	case '1':
		return errors.New("server disconnected the namespace")
	case '2':
		event, data, err := parseEvent(body)
		if err != nil {
			log.Printf("kitchannel: dropping malformed event: %v", err)
			return nil
		}
		if c.cfg.Handler != nil {
			c.cfg.Handler(ctx, event, data)
		}
	case '4':
		return fmt.Errorf("connect error: %s", truncate(body))
	}
	return nil
}

// skipNamespace drops an optional "/nsp," prefix and an ack id.
func skipNamespace(b []byte) []byte {
	if len(b) > 0 && b[0] == '/' {
		if i := strings.IndexByte(string(b), ','); i >= 0 {
			b = b[i+1:]
		} else {
			return nil
		}
	}
	for len(b) > 0 && b[0] >= '0' && b[0] <= '9' {
		b = b[1:]
	}
	return b
}

// parseEvent decodes `["name", payload]`.
func parseEvent(b []byte) (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return "", nil, err
	}
	if len(parts) == 0 {
		return "", nil, errors.New("empty event")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("event name: %w", err)
	}
	if len(parts) < 2 {
		return name, nil, nil
	}
	return name, parts[1], nil
}

// WebsocketURL converts a kit server URL to its Socket.IO websocket endpoint.
func WebsocketURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already correct
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Path = "/socket.io/"
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func truncate(b []byte) string {
	if len(b) > 120 {
		return string(b[:120]) + "..."
	}
	return string(b)
}
