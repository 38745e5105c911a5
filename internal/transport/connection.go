// Package transport owns the real-time WebSocket connection: dialing,
// reconnect with a fixed delay, outbound queueing while offline, and frame
// decoding.
package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gammazero/deque"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/minichat/internal/logging"
)

var (
	ErrDisconnected = errors.New("transport: disconnected")
	ErrClosed       = errors.New("transport: connection closed")
)

const (
	defaultReconnectDelay   = 3 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultEventBuffer      = 256
)

// Config controls the connection.
type Config struct {
	URL   string
	Token string

	// ReconnectDelay is the fixed wait between reconnect attempts. Default: 3s.
	ReconnectDelay time.Duration

	// HandshakeTimeout bounds one dial attempt. Default: 10s.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds one frame write. Default: 10s.
	WriteTimeout time.Duration

	// EventBuffer is the capacity of the Events channel. Default: 256.
	EventBuffer int
}

// Option configures a Connection.
type Option func(*Connection)

// WithDialer overrides the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Connection) {
		c.dialer = d
	}
}

// WithClock sets the clock used for reconnect timers.
func WithClock(clk clock.Clock) Option {
	return func(c *Connection) {
		c.clock = clk
	}
}

// WithHeader adds handshake headers.
func WithHeader(h http.Header) Option {
	return func(c *Connection) {
		for k, vs := range h {
			for _, v := range vs {
				c.header.Add(k, v)
			}
		}
	}
}

// Connection is one logical real-time session to the server. It survives
// socket drops by reconnecting indefinitely until Disconnect or Close.
type Connection struct {
	cfg    Config
	log    *logging.Logger
	dialer *websocket.Dialer
	header http.Header
	clock  clock.Clock
	events *emitter

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	gen      uint64 // bumped whenever in-flight dials and read loops become stale
	timer    *clock.Timer
	queue    deque.Deque[Frame]
	ctx      context.Context
	stopCtx  func() bool
	disposed bool
}

// New creates a disconnected Connection.
func New(cfg Config, log *logging.Logger, opts ...Option) *Connection {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	c := &Connection{
		cfg: cfg,
		log: log.Sub("transport"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		header: make(http.Header),
		clock:  clock.New(),
		events: newEmitter(cfg.EventBuffer),
	}
	if cfg.Token != "" {
		c.header.Set("Authorization", "Bearer "+cfg.Token)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the single ordered channel of frames, state changes and
// diagnostics. It is closed by Close.
func (c *Connection) Events() <-chan Event {
	return c.events.out
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of queued outbound frames.
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Connect starts connecting in the background and returns immediately.
// Progress is reported through state events. Cancelling ctx disconnects.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return ErrClosed
	}
	if c.state != Disconnected {
		return nil
	}

	c.ctx = ctx
	c.stopCtx = context.AfterFunc(ctx, c.Disconnect)
	c.gen++
	c.setStateLocked(Connecting)

	c.log.Info().Str("url", c.cfg.URL).Msg("connecting")
	go c.dial(c.gen)
	return nil
}

// Disconnect closes the socket and cancels any pending reconnect. It is
// idempotent; queued frames are discarded.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

// Close disconnects and releases the event channel. The connection cannot
// be reused afterwards.
func (c *Connection) Close() {
	c.mu.Lock()
	c.disconnectLocked()
	c.disposed = true
	c.mu.Unlock()

	c.events.close()
}

// Send writes a frame when connected, or queues it in FIFO order while
// connecting or reconnecting.
func (c *Connection) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Disconnected:
		if c.disposed {
			return ErrClosed
		}
		return ErrDisconnected
	case Connected:
		if c.queue.Len() > 0 {
			c.queue.PushBack(f)
			c.flushLocked()
			return nil
		}
		if err := c.writeLocked(f); err != nil {
			c.queue.PushFront(f)
			c.dropLocked(err)
		}
		return nil
	default:
		c.queue.PushBack(f)
		c.log.Debug().
			Str("type", string(f.Type)).
			Int("pending", c.queue.Len()).
			Msg("queued frame while offline")
		return nil
	}
}

func (c *Connection) dial(gen uint64) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.header)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Str("url", c.cfg.URL).Msg("dial failed")
		c.events.push(Event{Type: EventDiagnostic, Err: err})
		c.scheduleReconnectLocked()
		return
	}

	c.conn = conn
	c.setStateLocked(Connected)
	c.log.Info().Str("url", c.cfg.URL).Int("pending", c.queue.Len()).Msg("connected")

	go c.readLoop(conn, gen)
	c.flushLocked()
}

func (c *Connection) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(gen, err)
			return
		}

		f, err := ParseFrame(data)

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		if err != nil {
			c.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
			c.events.push(Event{Type: EventDiagnostic, Err: err})
		} else {
			c.events.push(Event{Type: EventFrame, Frame: f})
		}
		c.mu.Unlock()
	}
}

func (c *Connection) handleDrop(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return
	}
	c.dropLocked(err)
}

// dropLocked tears down the current socket after an abnormal close and
// schedules a reconnect.
func (c *Connection) dropLocked(err error) {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.log.Warn().Err(err).Dur("retryIn", c.cfg.ReconnectDelay).Msg("connection lost")
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the single reconnect timer, replacing any
// previous one.
func (c *Connection) scheduleReconnectLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.retry(gen)
	})
	c.setStateLocked(Reconnecting)
}

func (c *Connection) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Reconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	c.dial(gen)
}

func (c *Connection) flushLocked() {
	for c.queue.Len() > 0 {
		if err := c.writeLocked(c.queue.Front()); err != nil {
			c.dropLocked(err)
			return
		}
		c.queue.PopFront()
	}
}

func (c *Connection) writeLocked(f Frame) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(f)
}

func (c *Connection) disconnectLocked() {
	if c.state == Disconnected {
		return
	}

	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.conn.Close()
		c.conn = nil
	}
	if n := c.queue.Len(); n > 0 {
		c.log.Warn().Int("dropped", n).Msg("discarding queued frames on disconnect")
		c.queue.Clear()
	}
	if c.stopCtx != nil {
		c.stopCtx()
		c.stopCtx = nil
	}
	c.setStateLocked(Disconnected)
	c.log.Info().Msg("disconnected")
}

func (c *Connection) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.events.push(Event{Type: EventState, State: s})
}
