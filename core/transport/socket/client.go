// Package socket keeps a persistent websocket to the backend. Segments are
// written as binary frames while the connection is open and dropped
// otherwise. A lost connection is redialed with exponential backoff until
// the attempt budget runs out.
package socket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-island/core/audio"
	"github.com/koscakluka/ema-island/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultBaseDelay   = 1000 * time.Millisecond
	DefaultMaxAttempts = 3

	EndpointAudio = "/Response/ws/audio"
)

type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "closed"
	StateFailed     ConnectionState = "failed"
)

var _ transport.Channel = (*Client)(nil)

type Client struct {
	url         string
	header      http.Header
	dialer      *websocket.Dialer
	baseDelay   time.Duration
	maxAttempts int

	events *transport.EventQueue

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	conn       *websocket.Conn
	generation int
	state      ConnectionState
	attempts   int
	closed     bool
	redial     *time.Timer

	writeMu sync.Mutex
}

type Option func(*Client)

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		if delay > 0 {
			c.baseDelay = delay
		}
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts >= 0 {
			c.maxAttempts = attempts
		}
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

func WithHeader(header http.Header) Option {
	return func(c *Client) { c.header = header.Clone() }
}

// New creates a client for the given ws:// or wss:// URL. Nothing is dialed
// until Connect.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		dialer:      websocket.DefaultDialer,
		baseDelay:   DefaultBaseDelay,
		maxAttempts: DefaultMaxAttempts,
		events:      transport.NewEventQueue(transport.DefaultEventQueueSize),
		state:       StateClosed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReconnectDelay is the wait before the given reconnect attempt, starting at
// 1: base, 2·base, 4·base and so on.
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts is the number of consecutive failed connection attempts since
// the last successful open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) Events() <-chan transport.Event { return c.events.C() }

// Connect dials the first connection. A failed dial is not returned; it
// goes through the same reconnect path as a dropped connection and is
// reported on Events.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("socket channel closed")
	}
	if c.ctx != nil {
		c.mu.Unlock()
		return fmt.Errorf("socket channel already connecting")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.dial()
	return nil
}

func (c *Client) dial() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.state = StateConnecting
	c.redial = nil
	c.mu.Unlock()

	ctx, span := tracer.Start(ctx, "dial socket")
	defer span.End()

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.handleFailure(-1, fmt.Errorf("failed to open socket connection: %w", err))
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.generation++
	generation := c.generation
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	logger.Info("socket connection open", "url", c.url)
	c.events.Emit(transport.Event{Kind: transport.EventOpened})

	go c.readMessages(conn, generation)
}

// handleFailure is the only place a reconnect is scheduled. generation -1
// marks a failed dial; otherwise failures from connections that are no
// longer current are ignored.
func (c *Client) handleFailure(generation int, cause error) {
	c.mu.Lock()
	if c.closed || (generation >= 0 && generation != c.generation) {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	// Invalidate the read loop of the connection that just failed.
	c.generation++

	c.attempts++
	attempt := c.attempts
	if attempt > c.maxAttempts {
		c.state = StateFailed
		c.mu.Unlock()

		logger.Error("giving up on socket connection", "attempts", attempt-1, "error", cause)
		c.events.Emit(transport.Event{
			Kind: transport.EventFailed,
			Err:  &transport.ConnectivityError{Attempts: attempt - 1, Err: cause},
		})
		return
	}

	delay := ReconnectDelay(c.baseDelay, attempt)
	c.state = StateConnecting
	c.redial = time.AfterFunc(delay, c.dial)
	ctx := c.ctx
	c.mu.Unlock()

	reconnectAttempts.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", attempt)))
	logger.Warn("socket connection lost, reconnecting", "attempt", attempt, "delay", delay, "error", cause)
	c.events.Emit(transport.Event{
		Kind:    transport.EventReconnecting,
		Attempt: attempt,
		Delay:   delay,
		Err:     cause,
	})
}

// Send writes the segment as one binary frame. While the connection is not
// open the segment is dropped and Send reports false without error.
func (c *Client) Send(ctx context.Context, segment audio.Segment) (bool, error) {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen && conn != nil && !c.closed
	c.mu.Unlock()
	if !open {
		logger.DebugContext(ctx, "socket not open, dropping segment", "bytes", len(segment.Data))
		return false, nil
	}

	segment = segment.AsWAV()

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	err := conn.WriteMessage(websocket.BinaryMessage, segment.Data)
	c.writeMu.Unlock()

	if err != nil {
		// Closing the connection ends the read loop, which schedules the
		// reconnect.
		conn.Close()
		return false, &transport.UploadError{Err: fmt.Errorf("failed to write to socket: %w", err)}
	}
	return true, nil
}

// Close stops reconnecting, closes the connection and the event stream. It
// is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosed
	if c.redial != nil {
		c.redial.Stop()
		c.redial = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
	}
	c.events.Close()
	return err
}
