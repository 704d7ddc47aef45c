// Package transport connects to the relay over WebSocket. It reconnects with
// exponential backoff, keeps the connection alive with pings, rate limits
// outbound frames, and reports lifecycle changes as protocol events.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cortexuvula/roomchat/internal/config"
	"github.com/cortexuvula/roomchat/internal/metrics"
	"github.com/cortexuvula/roomchat/internal/protocol"
)

var (
	// ErrNotConnected is returned by Emit while no connection is up.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrQueueFull is returned by Emit when the send queue is saturated.
	ErrQueueFull = errors.New("transport: send queue full")
	// ErrClosed is returned by Emit after Close.
	ErrClosed = errors.New("transport: closed")
)

// ClientIDHeader carries a per-process identifier so relay logs can tell
// clients apart.
const ClientIDHeader = "X-Roomchat-Client"

type outbound struct {
	event string
	frame []byte
}

// link is the state of one live connection.
type link struct {
	conn       *websocket.Conn
	sendq      chan outbound
	cancel     context.CancelFunc
	writerDone chan struct{}
}

// Client is a relay connection. Events are delivered to the handler from a
// single goroutine, in order.
type Client struct {
	cfg     config.RelayConfig
	handler func(protocol.Event)
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
	id      string

	mu      sync.Mutex
	link    *link
	closed  bool
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records transport activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger overrides slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client. Nothing happens until Start.
func New(cfg config.RelayConfig, handler func(protocol.Event), opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		handler: handler,
		limiter: rate.NewLimiter(limitFor(cfg.MessagesPerSecond), burstFor(cfg.MessagesPerSecond)),
		logger:  slog.Default(),
		id:      uuid.NewString(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.SendQueueSize <= 0 {
		c.cfg.SendQueueSize = 64
	}
	if c.cfg.DialTimeout <= 0 {
		c.cfg.DialTimeout = 10 * time.Second
	}
	if c.cfg.WriteTimeout <= 0 {
		c.cfg.WriteTimeout = 10 * time.Second
	}
	if c.cfg.PongTimeout <= 0 {
		c.cfg.PongTimeout = 10 * time.Second
	}
	return c
}

func limitFor(perSecond int) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

func burstFor(perSecond int) int {
	if perSecond <= 0 {
		return 1
	}
	return perSecond
}

// ID returns the identifier sent in ClientIDHeader.
func (c *Client) ID() string { return c.id }

// SetMessagesPerSecond changes the outbound rate limit.
func (c *Client) SetMessagesPerSecond(n int) {
	c.limiter.SetLimit(limitFor(n))
	c.limiter.SetBurst(burstFor(n))
}

// Start begins connecting in the background. It returns immediately.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run(ctx)
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// Emit queues event for the relay without blocking.
func (c *Client) Emit(event string, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.dropped("closed")
		return ErrClosed
	}
	if c.link == nil {
		c.dropped("not_connected")
		return ErrNotConnected
	}
	select {
	case c.link.sendq <- outbound{event: event, frame: frame}:
		return nil
	default:
		c.dropped("queue_full")
		return ErrQueueFull
	}
}

// Close flushes queued frames for up to the write timeout, closes the
// connection and stops reconnecting. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	l := c.link
	started := c.started
	cancel := c.cancel
	if l != nil {
		close(l.sendq)
	}
	c.mu.Unlock()

	if l != nil {
		select {
		case <-l.writerDone:
		case <-time.After(c.cfg.WriteTimeout):
			c.logger.Warn("send queue not flushed before close", "client_id", c.id)
		}
		l.conn.Close(websocket.StatusNormalClosure, "client close")
	}
	if cancel != nil {
		cancel()
	}
	if started {
		<-c.done
	}
	return nil
}

func (c *Client) dropped(reason string) {
	if c.metrics != nil {
		c.metrics.SendsDropped.WithLabelValues(reason).Inc()
	}
}

func (c *Client) deliver(ev protocol.Event) {
	if c.metrics != nil && protocol.IsLifecycle(ev.Name) {
		c.metrics.EventsReceived.WithLabelValues(ev.Name).Inc()
	}
	c.handler(ev)
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	conn := c.connectInitial(ctx)
	if conn == nil {
		return
	}
	next := protocol.EventConnect

	for {
		err := c.serve(ctx, conn, next)
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		c.logger.Warn("relay connection lost", "client_id", c.id, "error", err)
		c.deliver(protocol.Event{Name: protocol.EventDisconnect, Err: err})

		conn = c.reconnect(ctx)
		if conn == nil {
			return
		}
		next = protocol.EventReconnect
	}
}

// connectInitial dials until it succeeds or ctx ends. Each failure is
// reported as connect_error.
func (c *Client) connectInitial(ctx context.Context) *websocket.Conn {
	for attempt := 0; ; attempt++ {
		conn, err := c.dial(ctx)
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("relay connect failed", "client_id", c.id, "url", c.url(), "attempt", attempt+1, "error", err)
		c.deliver(protocol.Event{Name: protocol.EventConnectError, Err: err, Attempt: attempt + 1})
		if !sleep(ctx, c.backoff(attempt)) {
			return nil
		}
	}
}

// reconnect retries after a drop. It reports reconnect_failed and returns
// nil once max_reconnect_attempts is exhausted (0 means unlimited).
func (c *Client) reconnect(ctx context.Context) *websocket.Conn {
	limit := c.cfg.MaxReconnectAttempts
	for attempt := 1; limit == 0 || attempt <= limit; attempt++ {
		if !sleep(ctx, c.backoff(attempt-1)) {
			return nil
		}
		if c.metrics != nil {
			c.metrics.ReconnectAttempts.Inc()
		}
		c.deliver(protocol.Event{Name: protocol.EventReconnectAttempt, Attempt: attempt})

		conn, err := c.dial(ctx)
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Debug("reconnect attempt failed", "client_id", c.id, "attempt", attempt, "error", err)
		c.deliver(protocol.Event{Name: protocol.EventConnectError, Err: err, Attempt: attempt})
	}
	c.logger.Error("giving up on relay", "client_id", c.id, "attempts", limit)
	c.deliver(protocol.Event{Name: protocol.EventReconnectFailed, Attempt: limit})
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.ReconnectInterval
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if c.cfg.MaxReconnectDelay > 0 && d >= c.cfg.MaxReconnectDelay {
			return c.cfg.MaxReconnectDelay
		}
	}
	if c.cfg.MaxReconnectDelay > 0 && d > c.cfg.MaxReconnectDelay {
		return c.cfg.MaxReconnectDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) url() string { return httpToWS(c.cfg.URL) }

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	header := http.Header{ClientIDHeader: {c.id}}
	if c.cfg.Origin != "" {
		header.Set("Origin", c.cfg.Origin)
	}
	conn, _, err := websocket.Dial(dialCtx, c.url(), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	if c.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	return conn, nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// serve attaches conn, announces it with event, and reads until the
// connection drops.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, event string) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	l := &link{
		conn:       conn,
		sendq:      make(chan outbound, c.cfg.SendQueueSize),
		cancel:     cancel,
		writerDone: make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.CloseNow()
		return ErrClosed
	}
	c.link = l
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.link == l {
			c.link = nil
		}
		c.mu.Unlock()
		conn.CloseNow()
	}()

	go c.writeLoop(connCtx, l)
	if c.cfg.PingInterval > 0 {
		go c.keepAlive(connCtx, conn, cancel)
	}

	c.logger.Info("relay connected", "client_id", c.id, "url", c.url())
	c.deliver(protocol.Event{Name: event})

	return c.readLoop(connCtx, conn)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		env, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "client_id", c.id, "error", err)
			if c.metrics != nil {
				c.metrics.MalformedPayloads.WithLabelValues("envelope").Inc()
			}
			continue
		}
		if protocol.IsLifecycle(env.Event) {
			c.logger.Warn("relay sent a reserved event name", "event", env.Event)
			continue
		}
		if c.metrics != nil {
			c.metrics.EventsReceived.WithLabelValues(metricLabel(env.Event)).Inc()
		}
		c.deliver(protocol.Event{Name: env.Event, Data: env.Data})
	}
}

func (c *Client) writeLoop(ctx context.Context, l *link) {
	defer close(l.writerDone)
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-l.sendq:
			if !ok {
				return
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			err := l.conn.Write(writeCtx, websocket.MessageText, out.frame)
			cancel()
			if err != nil {
				c.logger.Debug("write failed", "client_id", c.id, "event", out.event, "error", err)
				l.cancel()
				return
			}
			if c.metrics != nil {
				c.metrics.EventsSent.WithLabelValues(out.event).Inc()
			}
		}
	}
}

// keepAlive pings the relay. A failed ping drops the connection so the
// reconnect loop takes over.
func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn, onFail context.CancelFunc) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, c.cfg.PongTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				c.logger.Debug("keepalive ping failed, closing connection", "client_id", c.id, "error", err)
				conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				onFail()
				return
			}
		}
	}
}

func metricLabel(event string) string {
	switch event {
	case protocol.EventJoin, protocol.EventMessage, protocol.EventFindAllMessages,
		protocol.EventUserJoined, protocol.EventUserLeft, protocol.EventTyping:
		return event
	}
	return "other"
}

// httpToWS converts http:// to ws:// and https:// to wss://.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}
