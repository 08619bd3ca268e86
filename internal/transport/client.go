// Package transport owns the push-channel connection: one WebSocket per
// authenticated session, an explicit lifecycle state machine, and an
// automatic bounded-retry reconnect loop.
//
// Every connection attempt gets a fresh generation number. Inbound frames
// are delivered tagged with the generation that read them, so consumers can
// reject deliveries from a superseded connection instead of trusting ambient
// state.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatterd/chatterd/internal/bus"
	"github.com/chatterd/chatterd/internal/status"
)

// ErrNotConnected is returned by Send unless the connection is Open. It is
// reported to the caller and does not alter connection state.
var ErrNotConnected = errors.New("push channel not connected")

// Inbound pairs a raw frame with the generation of the connection that
// read it.
type Inbound struct {
	Gen  uint64
	Data []byte
}

// Options tunes the retry policy and, in tests, the dial function.
type Options struct {
	// RetryDelay is the fixed wait between reconnect attempts. Default 5s.
	RetryDelay time.Duration
	// MaxAttempts caps consecutive failed attempts before the client goes
	// Down and waits for a manual Reconnect. Default 60.
	MaxAttempts int
	// Dial overrides the WebSocket dialer.
	Dial Dialer
}

const (
	defaultRetryDelay  = 5 * time.Second
	defaultMaxAttempts = 60
)

// Client maintains at most one live connection at a time. A new connection
// supersedes and invalidates frames from any prior one via the generation
// counter.
type Client struct {
	deriveURL   func() string
	dial        Dialer
	machine     *status.Machine
	bus         *bus.Bus
	logger      *zap.Logger
	retryDelay  time.Duration
	maxAttempts int

	frames    chan Inbound
	reconnect chan struct{}

	mu      sync.Mutex
	gen     uint64
	conn    Conn
	closed  bool
	running bool
	cancel  context.CancelFunc
}

// NewClient creates a transport client. deriveURL is invoked on every dial so
// the connection URL is re-derived, never cached across session changes.
func NewClient(deriveURL func() string, machine *status.Machine, b *bus.Bus, logger *zap.Logger, opts Options) *Client {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Dial == nil {
		opts.Dial = dialWebSocket
	}
	return &Client{
		deriveURL:   deriveURL,
		dial:        opts.Dial,
		machine:     machine,
		bus:         b,
		logger:      logger,
		retryDelay:  opts.RetryDelay,
		maxAttempts: opts.MaxAttempts,
		frames:      make(chan Inbound, 256),
		reconnect:   make(chan struct{}, 1),
	}
}

// Frames returns the inbound frame stream. Frames from superseded
// connections may still be buffered here; consumers must check Inbound.Gen.
func (c *Client) Frames() <-chan Inbound {
	return c.frames
}

// Generation returns the generation of the most recent connection attempt
// that reached Open.
func (c *Client) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// State returns the current lifecycle state.
func (c *Client) State() status.State {
	return c.machine.Current()
}

// Open starts the connect/retry loop. It returns immediately; lifecycle
// progress is observable through the state machine and bus events.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("transport closed")
	}
	if c.running {
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	go c.run(ctx)
	return nil
}

// Send transmits one frame. The Open check happens immediately before the
// write because state can change between a caller's decision to send and the
// send itself.
func (c *Client) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || c.machine.Current() != status.Open {
		return ErrNotConnected
	}
	return conn.Write(ctx, data)
}

// Reconnect re-arms the retry loop: it skips the current retry wait, and is
// the only way out of the Down state. Safe to call at any time.
func (c *Client) Reconnect() {
	select {
	case c.reconnect <- struct{}{}:
	default:
	}
}

// Close shuts the transport down for good. Idempotent. The retry loop stops
// and the live connection, if any, is torn down.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) run(ctx context.Context) {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		_ = c.machine.Transition(status.Connecting)

		url := c.deriveURL()
		conn, err := c.dial(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempts++
			c.logger.Warn("push channel dial failed",
				zap.Error(err), zap.Int("attempt", attempts))
			_ = c.machine.Transition(status.Closed)
			c.bus.Emit(bus.ConnDown, bus.ConnInfo{Reason: err.Error()})

			if attempts >= c.maxAttempts {
				_ = c.machine.Transition(status.Down)
				c.bus.Emit(bus.ConnRetriesExhausted, attempts)
				c.logger.Error("reconnect ceiling reached, waiting for manual reconnect",
					zap.Int("attempts", attempts))
				select {
				case <-c.reconnect:
					attempts = 0
					continue
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-time.After(c.retryDelay):
			case <-c.reconnect:
			case <-ctx.Done():
				return
			}
			continue
		}

		attempts = 0
		c.mu.Lock()
		c.gen++
		gen := c.gen
		c.conn = conn
		c.mu.Unlock()

		connID := uuid.NewString()
		c.logger.Info("push channel open",
			zap.Uint64("generation", gen), zap.String("conn_id", connID))
		_ = c.machine.Transition(status.Open)
		c.bus.Emit(bus.ConnUp, bus.ConnInfo{Generation: gen})

		readErr := c.readLoop(ctx, conn, gen)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		closed := c.closed
		c.mu.Unlock()

		_ = conn.Close()
		if closed || ctx.Err() != nil {
			return
		}

		reason := "connection closed"
		if readErr != nil {
			reason = readErr.Error()
		}
		c.logger.Warn("push channel lost",
			zap.Uint64("generation", gen), zap.String("conn_id", connID), zap.String("reason", reason))
		_ = c.machine.Transition(status.Closed)
		c.bus.Emit(bus.ConnDown, bus.ConnInfo{Generation: gen, Reason: reason})
		c.bus.Emit(bus.ConnTransientError, reason)

		select {
		case <-time.After(c.retryDelay):
		case <-c.reconnect:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn Conn, gen uint64) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		select {
		case c.frames <- Inbound{Gen: gen, Data: data}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
