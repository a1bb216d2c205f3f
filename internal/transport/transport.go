// Package transport owns the connection to the marketplace realtime server:
// connect and authenticate, channel negotiation with a polling fallback,
// capped reconnection, acknowledgment correlation and health checks.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradewire/internal/events"
	"tradewire/internal/models"
)

// Outbound event names (acknowledgment-carrying).
const (
	EventSendMessage          = "sendMessage"
	EventMarkNotificationRead = "mark_notification_read"
	EventMarkAllRead          = "mark_all_notifications_read"
	EventGetUnreadCount       = "get_unread_count"
	EventTestNotification     = "test_notification"
	EventPing                 = "ping"
)

// Outbound event names (fire-and-forget).
const (
	EventJoinUserRoom      = "join_user_room"
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
	EventTyping            = "typing"
)

const (
	DefaultMaxConnectionAttempts = 3
	DefaultAckTimeout            = 10 * time.Second
	DefaultHealthTimeout         = 5 * time.Second
	DefaultConnectRetryBase      = 1 * time.Second
)

type Config struct {
	// MaxConnectionAttempts caps dial attempts within one Connect call
	// before the client enters the error state.
	MaxConnectionAttempts int
	AckTimeout            time.Duration
	HealthTimeout         time.Duration
	// ConnectRetryBase is the first delay between attempts within one
	// Connect call; it doubles per attempt up to the 30s ceiling.
	ConnectRetryBase time.Duration
}

func (c *Config) defaults() {
	if c.MaxConnectionAttempts == 0 {
		c.MaxConnectionAttempts = DefaultMaxConnectionAttempts
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.HealthTimeout == 0 {
		c.HealthTimeout = DefaultHealthTimeout
	}
	if c.ConnectRetryBase == 0 {
		c.ConnectRetryBase = DefaultConnectRetryBase
	}
}

// Session describes an established connection.
type Session struct {
	ID          string
	Channel     ChannelKind
	ConnectedAt time.Time
}

// Health is the result of a health check.
type Health struct {
	Healthy bool
	Status  string
	Latency time.Duration
}

// Client is the connection manager. It is constructed once at the
// composition root and threaded through; there is no package-level instance.
type Client struct {
	cfg      Config
	dialers  []Dialer
	registry *events.Registry
	log      *slog.Logger

	connectMu sync.Mutex

	mu       sync.Mutex
	state    models.ConnectionState
	conn     Conn
	session  *Session
	attempts int
	closing  bool

	ackMu    sync.Mutex
	nextAck  uint64
	pending  map[uint64]chan Frame
}

// NewClient builds a connection manager over the given dialers, tried in
// preference order on every connect (stream first, polling fallback).
func NewClient(cfg Config, registry *events.Registry, log *slog.Logger, dialers ...Dialer) *Client {
	cfg.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg:      cfg,
		dialers:  dialers,
		registry: registry,
		log:      log,
		state:    models.StateDisconnected,
		pending:  make(map[uint64]chan Frame),
	}
}

// State returns the current connection state.
func (c *Client) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active session, or nil when not connected.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Registry exposes the listener registry so consumers subscribe without
// holding the transport connection itself.
func (c *Client) Registry() *events.Registry {
	return c.registry
}

// Connect establishes and authenticates a connection. It is idempotent:
// when already connected it returns the existing session. Each failed dial
// increments the attempt counter and once the counter reaches the cap the
// client enters the error state, terminal until Reconnect.
func (c *Client) Connect(ctx context.Context, credential string) (*Session, error) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case models.StateConnected:
		s := c.session
		c.mu.Unlock()
		return s, nil
	case models.StateError:
		c.mu.Unlock()
		return nil, models.ErrAttemptsExhausted
	}
	// Tear down any stale socket before dialing fresh.
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = models.StateConnecting
	c.mu.Unlock()

	var lastErr error
	retry := Backoff{Base: c.cfg.ConnectRetryBase}
	for {
		c.mu.Lock()
		if c.attempts >= c.cfg.MaxConnectionAttempts {
			c.state = models.StateError
			c.mu.Unlock()
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %v", models.ErrAttemptsExhausted, lastErr)
			}
			return nil, models.ErrAttemptsExhausted
		}
		c.attempts++
		c.mu.Unlock()

		conn, session, err := c.negotiate(ctx, credential)
		if err != nil {
			lastErr = err
			c.log.Warn("connect attempt failed", "error", err)
			c.dispatchError(err)
			if ctx.Err() != nil {
				c.mu.Lock()
				c.state = models.StateDisconnected
				c.mu.Unlock()
				return nil, ctx.Err()
			}

			c.mu.Lock()
			exhausted := c.attempts >= c.cfg.MaxConnectionAttempts
			c.mu.Unlock()
			if !exhausted {
				// Attempts within one call back off too, not just the
				// supervisor's outer cycles.
				select {
				case <-time.After(retry.Next()):
				case <-ctx.Done():
					c.mu.Lock()
					c.state = models.StateDisconnected
					c.mu.Unlock()
					return nil, ctx.Err()
				}
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.session = session
		c.state = models.StateConnected
		c.attempts = 0
		c.closing = false
		c.mu.Unlock()

		go c.readLoop(conn)

		c.log.Info("connected", "channel", session.Channel, "session", session.ID)
		c.registry.Dispatch(events.Event{Kind: events.KindConnect})
		return session, nil
	}
}

// Reconnect clears the terminal error state and connects again.
func (c *Client) Reconnect(ctx context.Context, credential string) (*Session, error) {
	c.mu.Lock()
	if c.state == models.StateError {
		c.state = models.StateDisconnected
	}
	c.attempts = 0
	c.mu.Unlock()
	return c.Connect(ctx, credential)
}

// negotiate tries each dialer in order and runs the auth handshake on the
// first channel that opens.
func (c *Client) negotiate(ctx context.Context, credential string) (Conn, *Session, error) {
	var lastErr error
	for _, d := range c.dialers {
		conn, err := d.Dial(ctx)
		if err != nil {
			lastErr = err
			c.log.Debug("channel dial failed, trying next", "channel", d.Kind(), "error", err)
			continue
		}

		session, err := c.handshake(ctx, conn, credential)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return conn, session, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no dialers configured")
	}
	return nil, nil, lastErr
}

// handshake sends the credential as an auth payload and waits for the
// server's connect acknowledgment or connect_error.
func (c *Client) handshake(ctx context.Context, conn Conn, credential string) (*Session, error) {
	authPayload, _ := json.Marshal(map[string]string{"token": credential})
	if err := conn.WriteFrame(ctx, Frame{Event: "auth", Payload: authPayload}); err != nil {
		return nil, fmt.Errorf("auth frame: %w", err)
	}

	// A stalled handshake is unblocked by closing the channel.
	watchdog := time.AfterFunc(c.cfg.AckTimeout, func() { _ = conn.Close() })
	f, err := conn.ReadFrame(ctx)
	watchdog.Stop()
	if err != nil {
		return nil, fmt.Errorf("handshake read: %w", err)
	}

	switch events.Kind(f.Event) {
	case events.KindConnect:
		var payload struct {
			SID string `json:"sid"`
		}
		_ = json.Unmarshal(f.Payload, &payload)
		return &Session{
			ID:          payload.SID,
			Channel:     conn.Kind(),
			ConnectedAt: time.Now(),
		}, nil
	case events.KindConnectError:
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(f.Payload, &payload)
		if payload.Error == "" {
			payload.Error = "connect_error"
		}
		return nil, errors.New(payload.Error)
	default:
		return nil, fmt.Errorf("unexpected handshake frame %q", f.Event)
	}
}

// Disconnect removes all registered listeners, closes the channel and
// resets counters. Calling it while already disconnected is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.session = nil
	c.state = models.StateDisconnected
	c.attempts = 0
	c.closing = true
	c.mu.Unlock()

	c.registry.RemoveAll()
	c.failPending()

	if conn != nil {
		_ = conn.Close()
	}
}

// readLoop pumps inbound frames into the registry until the channel drops.
func (c *Client) readLoop(conn Conn) {
	for {
		f, err := conn.ReadFrame(context.Background())
		if err != nil {
			c.mu.Lock()
			intentional := c.closing || c.conn != conn
			if !intentional {
				c.conn = nil
				c.session = nil
				c.state = models.StateDisconnected
			}
			c.mu.Unlock()

			if intentional {
				return
			}

			c.failPending()
			c.log.Warn("transport dropped", "error", err)
			reason, _ := json.Marshal(map[string]string{"reason": err.Error()})
			c.registry.Dispatch(events.Event{Kind: events.KindDisconnect, Payload: reason})
			return
		}

		if f.Event == ackEvent {
			c.resolveAck(f)
			continue
		}
		c.registry.Dispatch(events.Event{Kind: events.Kind(f.Event), Payload: f.Payload})
	}
}

// Emit sends a fire-and-forget event.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return models.ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteFrame(ctx, Frame{Event: event, Payload: data})
}

// EmitWithAck sends an event and waits for the server's acknowledgment. The
// returned payload is the raw ack body; a rejected ack surfaces as
// models.ErrAckRejected with the server-provided reason.
func (c *Client) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, models.ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	c.ackMu.Lock()
	c.nextAck++
	id := c.nextAck
	ch := make(chan Frame, 1)
	c.pending[id] = ch
	c.ackMu.Unlock()

	if err := conn.WriteFrame(ctx, Frame{Event: event, Payload: data, AckID: id}); err != nil {
		c.dropAck(id)
		return nil, err
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case f, ok := <-ch:
		if !ok {
			return nil, models.ErrNotConnected
		}
		var ack models.Ack
		if err := json.Unmarshal(f.Payload, &ack); err != nil {
			return f.Payload, fmt.Errorf("malformed ack: %w", err)
		}
		if !ack.Success {
			return f.Payload, fmt.Errorf("%w: %s", models.ErrAckRejected, ack.Error)
		}
		return f.Payload, nil
	case <-timer.C:
		c.dropAck(id)
		return nil, fmt.Errorf("ack timeout for %q", event)
	case <-ctx.Done():
		c.dropAck(id)
		return nil, ctx.Err()
	}
}

// HealthCheck pings the server, racing the acknowledgment against a fixed
// timer. It resolves rather than errors: unhealthy states are data.
func (c *Client) HealthCheck(ctx context.Context) Health {
	if c.State() != models.StateConnected {
		return Health{Healthy: false, Status: "disconnected"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	start := time.Now()
	_, err := c.EmitWithAck(ctx, EventPing, map[string]int64{"timestamp": start.UnixMilli()})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Health{Healthy: false, Status: "timeout"}
		}
		return Health{Healthy: false, Status: err.Error()}
	}
	return Health{Healthy: true, Status: "connected", Latency: time.Since(start)}
}

// Named fire-and-forget emits for the room and typing surface.

func (c *Client) JoinUserRoom(ctx context.Context, userID string) error {
	return c.Emit(ctx, EventJoinUserRoom, map[string]string{"userId": userID})
}

func (c *Client) JoinConversation(ctx context.Context, conversationID string) error {
	return c.Emit(ctx, EventJoinConversation, map[string]string{"conversationId": conversationID})
}

func (c *Client) LeaveConversation(ctx context.Context, conversationID string) error {
	return c.Emit(ctx, EventLeaveConversation, map[string]string{"conversationId": conversationID})
}

func (c *Client) Typing(ctx context.Context, conversationID string, isTyping bool) error {
	return c.Emit(ctx, EventTyping, map[string]any{
		"conversationId": conversationID,
		"isTyping":       isTyping,
	})
}

func (c *Client) resolveAck(f Frame) {
	c.ackMu.Lock()
	ch, ok := c.pending[f.AckID]
	if ok {
		delete(c.pending, f.AckID)
	}
	c.ackMu.Unlock()
	if ok {
		ch <- f
	}
}

func (c *Client) dropAck(id uint64) {
	c.ackMu.Lock()
	delete(c.pending, id)
	c.ackMu.Unlock()
}

func (c *Client) failPending() {
	c.ackMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.ackMu.Unlock()
}

func (c *Client) dispatchError(err error) {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	c.registry.Dispatch(events.Event{Kind: events.KindConnectError, Payload: payload})
}
