// Package channel implements the client side of the session pub/sub channel:
// connect, subscribe, publish, reconnect with capped backoff, and an outbox
// for events accepted while disconnected.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/inklive/collab/internal/models"
)

// Errors surfaced by the client.
var (
	// ErrNotConnected reports a publish that was queued to the outbox instead
	// of sent. Callers should treat it as "accepted for later delivery".
	ErrNotConnected = errors.New("channel: not connected, event queued")
	// ErrReconnectFailed is the terminal connectivity fault after the retry
	// cap is exhausted. Manual intervention is required.
	ErrReconnectFailed = errors.New("channel: could not reconnect after maximum attempts")
	// ErrClosed reports use after Disconnect.
	ErrClosed = errors.New("channel: client closed")
)

// State is the connectivity state exposed to observers.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

// Conn is the minimal transport surface the client needs. The default
// implementation wraps *websocket.Conn; tests inject fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// Dialer opens a Conn to the relay.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

type wsDialer struct {
	timeout time.Duration
}

func (d wsDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.timeout}
	conn, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}
	return conn, nil
}

// Handler receives the raw payload of a named event.
type Handler func(data json.RawMessage)

// Options tunes connection behavior. Zero values fall back to defaults
// matching the production relay.
type Options struct {
	WSURL             string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PingInterval      time.Duration
	OutboxBatchSize   int
	OutboxBatchDelay  time.Duration
	Dialer            Dialer
	OnStateChange     func(State)
}

func (o *Options) defaults() {
	if o.ReconnectAttempts == 0 {
		o.ReconnectAttempts = 5
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.OutboxBatchSize == 0 {
		o.OutboxBatchSize = 5
	}
	if o.OutboxBatchDelay == 0 {
		o.OutboxBatchDelay = 500 * time.Millisecond
	}
	if o.Dialer == nil {
		o.Dialer = wsDialer{timeout: o.ConnectTimeout}
	}
}

// Client is one session's channel connection. Each session instance owns its
// own Client; there are no ambient singletons.
type Client struct {
	opts          Options
	sessionID     string
	participantID string
	token         string
	logger        *zap.Logger

	// writeMu serializes writes to the connection; gorilla/websocket
	// supports at most one concurrent writer per Conn.
	writeMu sync.Mutex

	mu         sync.Mutex
	conn       Conn
	state      State
	draining   bool
	attempts   int
	generation int
	closed     bool
	listeners  map[models.EventType][]Handler
	outbox     *Outbox
}

// NewClient creates a channel client for one session. The token is the signed
// join token from the session's join URL; the participant id stays opaque.
func NewClient(sessionID, participantID, token string, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.defaults()
	return &Client{
		opts:          opts,
		sessionID:     sessionID,
		participantID: participantID,
		token:         token,
		logger:        logger,
		state:         StateDisconnected,
		listeners:     make(map[models.EventType][]Handler),
		outbox:        NewOutbox(),
	}
}

// Subscribe registers a handler for a named event. Handlers are kept by the
// client, not the underlying connection, so they survive reconnects: every
// new connection dispatches into the same registry.
func (c *Client) Subscribe(event models.EventType, h func(data json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[event] = append(c.listeners[event], Handler(h))
}

// State returns the current connectivity state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Outbox exposes the pending outbox (read mostly by tests and diagnostics).
func (c *Client) Outbox() *Outbox { return c.outbox }

// Connect opens the transport-level subscription scoped to the session topic
// and starts the read and liveness loops. It blocks only for the initial dial.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		// First dial failing enters the same reconnect path as a drop.
		c.logger.Warn("initial connect failed", zap.Error(err))
		go c.reconnect()
		return nil
	}
	return nil
}

// topicURL builds the relay URL for this session's topic.
func (c *Client) topicURL() string {
	u := c.opts.WSURL
	sep := "?"
	if parsed, err := url.Parse(u); err == nil && parsed.RawQuery != "" {
		sep = "&"
	}
	return fmt.Sprintf("%s%ssession_id=%s&token=%s", u, sep,
		url.QueryEscape(c.sessionID), url.QueryEscape(c.token))
}

// dial opens a new connection and performs the on-connect protocol: join
// event, outbox drain, loops.
func (c *Client) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	conn, err := c.opts.Dialer.Dial(dialCtx, c.topicURL())
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.generation++
	gen := c.generation
	c.attempts = 0
	c.draining = c.outbox.Len() > 0
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("channel connected", zap.String("session_id", c.sessionID))

	// Join carries the participant id and a display name derived from it.
	join, _ := json.Marshal(models.JoinPayload{
		ParticipantID: c.participantID,
		Name:          models.DisplayName(c.participantID),
	})
	if err := c.write(models.EventJoin, join); err != nil {
		c.logger.Warn("join publish failed", zap.Error(err))
	}

	go c.drainOutbox(gen)
	go c.readLoop(conn, gen)
	go c.pingLoop(gen)
	return nil
}

// Publish sends a named event, or queues it when the socket is not open.
// The queued case returns ErrNotConnected; the payload is never dropped.
// While the outbox is draining after a reconnect, new events are appended
// behind it so relative submission order per client is preserved.
func (c *Client) Publish(event models.EventType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateConnected || c.draining {
		c.mu.Unlock()
		c.outbox.Append(OutboxEntry{Event: event, Payload: data, EnqueuedAt: time.Now()})
		return ErrNotConnected
	}
	c.mu.Unlock()

	if err := c.write(event, data); err != nil {
		c.outbox.Append(OutboxEntry{Event: event, Payload: data, EnqueuedAt: time.Now()})
		c.connectionLost()
		return ErrNotConnected
	}
	return nil
}

func (c *Client) write(event models.EventType, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteJSON(models.Envelope{Event: event, Data: data})
}

// drainOutbox sends pending entries in small batches with an inter-batch
// delay to avoid saturating a freshly opened connection.
func (c *Client) drainOutbox(gen int) {
	for {
		c.mu.Lock()
		if c.closed || c.generation != gen || c.state != StateConnected {
			c.draining = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		batch := c.outbox.NextBatch(c.opts.OutboxBatchSize)
		if len(batch) == 0 {
			c.mu.Lock()
			c.draining = false
			c.mu.Unlock()
			return
		}
		for i, entry := range batch {
			if err := c.write(entry.Event, entry.Payload); err != nil {
				c.outbox.Requeue(batch[i:])
				c.connectionLost()
				return
			}
		}
		if c.outbox.Len() == 0 {
			c.mu.Lock()
			c.draining = false
			c.mu.Unlock()
			return
		}
		time.Sleep(c.opts.OutboxBatchDelay)
	}
}

func (c *Client) readLoop(conn Conn, gen int) {
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			stale := c.generation != gen || c.closed
			c.mu.Unlock()
			if !stale {
				c.logger.Warn("channel read failed", zap.Error(err))
				c.connectionLost()
			}
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env models.Envelope) {
	if !env.Event.Known() {
		c.logger.Debug("unknown event dropped", zap.String("event", string(env.Event)))
		return
	}
	c.mu.Lock()
	handlers := append([]Handler(nil), c.listeners[env.Event]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(env.Data)
	}
}

// pingLoop publishes an application-level ping as a liveness probe. A failed
// probe is treated as a connectivity loss.
func (c *Client) pingLoop(gen int) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		if c.closed || c.generation != gen || c.state != StateConnected {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		data, _ := json.Marshal(map[string]int64{"timestamp": time.Now().UnixMilli()})
		if err := c.write(models.EventPing, data); err != nil {
			c.logger.Warn("liveness probe failed", zap.Error(err))
			c.connectionLost()
			return
		}
	}
}

// connectionLost transitions to disconnected and kicks off the reconnect
// loop. Safe to call from multiple goroutines; only the first caller for a
// given connection generation starts the loop.
func (c *Client) connectionLost() {
	c.mu.Lock()
	if c.closed || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.generation++
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	go c.reconnect()
}

// reconnect retries with a fixed base delay up to the attempt cap, then
// surfaces the terminal fault. It never backs off forever silently.
func (c *Client) reconnect() {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.attempts++
		attempt := c.attempts
		if attempt > c.opts.ReconnectAttempts {
			c.setStateLocked(StateFailed)
			c.mu.Unlock()
			c.logger.Error("reconnect attempts exhausted", zap.Int("attempts", attempt-1))
			return
		}
		c.setStateLocked(StateConnecting)
		c.mu.Unlock()

		time.Sleep(c.opts.ReconnectDelay)
		c.logger.Info("reconnecting", zap.Int("attempt", attempt))
		if err := c.dial(context.Background()); err == nil {
			return
		} else {
			c.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
		}
	}
}

// Err returns the terminal fault, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateFailed {
		return ErrReconnectFailed
	}
	return nil
}

// Disconnect closes the transport subscription and stops all loops. The
// client cannot be reused afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	c.logger.Info("channel disconnected", zap.String("session_id", c.sessionID))
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.opts.OnStateChange != nil {
		go c.opts.OnStateChange(s)
	}
}
