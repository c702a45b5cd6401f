package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a single connection to the feed provider. The session
// drives it through Connect/Send and consumes Messages/Errors.
type Transport interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Messages returns a channel of all raw frames with receive timestamps.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// TransportFactory builds a fresh Transport per connection attempt.
type TransportFactory func() Transport

// TransportConfig configures a WebSocket transport.
type TransportConfig struct {
	URL          string        // WebSocket URL (e.g. wss://stream.data.example.com/v1/news)
	PingTimeout  time.Duration // Max time without ping/pong before the connection is stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Frame channel buffer size
}

// wsTransport implements Transport over gorilla/websocket.
type wsTransport struct {
	cfg    TransportConfig
	logger *slog.Logger

	conn     *websocket.Conn
	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	writeMu sync.Mutex

	connected atomic.Bool
	closed    atomic.Bool
	lastBeat  atomic.Int64 // unix nanos of the last ping or pong seen
}

// NewTransport creates a WebSocket transport.
func NewTransport(cfg TransportConfig, logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1024
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	return &wsTransport{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect dials the feed and starts the read and heartbeat loops.
func (t *wsTransport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return ErrAlreadyClosed
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return err
	}

	t.conn = conn
	t.connected.Store(true)
	t.touchHeartbeat()

	// Keepalive traffic in either direction counts as liveness.
	conn.SetPingHandler(func(payload string) error {
		t.touchHeartbeat()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(payload),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		t.touchHeartbeat()
		return nil
	})

	go t.readLoop(conn)
	go t.heartbeatLoop(conn)

	t.logger.Debug("feed connected", "url", t.cfg.URL)
	return nil
}

// Close gracefully closes the connection. Safe to call twice.
func (t *wsTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.connected.Store(false)
	close(t.done)

	if t.conn == nil {
		return nil
	}
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return t.conn.Close()
}

// Send writes raw bytes to the connection.
func (t *wsTransport) Send(data []byte) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Messages() <-chan TimestampedMessage { return t.messages }

func (t *wsTransport) Errors() <-chan error { return t.errors }

func (t *wsTransport) IsConnected() bool { return t.connected.Load() }

// readLoop pumps frames into the messages channel, stamping each with
// its receive time before anything else touches it.
func (t *wsTransport) readLoop(conn *websocket.Conn) {
	defer t.connected.Store(false)

	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			if !t.closed.Load() {
				t.reportError(err)
			}
			return
		}

		select {
		case t.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-t.done:
			return
		default:
			t.logger.Warn("frame buffer full, dropping frame")
		}
	}
}

// heartbeatLoop pings the server and declares the connection stale when
// no keepalive traffic arrives within PingTimeout.
func (t *wsTransport) heartbeatLoop(conn *websocket.Conn) {
	interval := t.cfg.PingTimeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.logger.Debug("ping write failed", "error", err)
			}

			if idle := t.sinceHeartbeat(); idle > t.cfg.PingTimeout {
				t.logger.Warn("connection stale, no heartbeat",
					"idle", idle,
					"timeout", t.cfg.PingTimeout,
				)
				t.reportError(ErrStaleConnection)
				return
			}
		}
	}
}

func (t *wsTransport) touchHeartbeat() {
	t.lastBeat.Store(time.Now().UnixNano())
}

func (t *wsTransport) sinceHeartbeat() time.Duration {
	return time.Since(time.Unix(0, t.lastBeat.Load()))
}

// reportError surfaces one error without ever blocking the loops.
func (t *wsTransport) reportError(err error) {
	select {
	case t.errors <- err:
	default:
	}
}
