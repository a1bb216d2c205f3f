package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Frame is one event frame on the wire. AckID is non-zero on
// acknowledgment-carrying emits and on the matching "ack" reply.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	AckID   uint64          `json:"ackId,omitempty"`
}

const ackEvent = "ack"

// ChannelKind identifies the negotiated transport channel.
type ChannelKind string

const (
	ChannelWebsocket ChannelKind = "websocket"
	ChannelPolling   ChannelKind = "polling"
)

// Conn is a negotiated bidirectional frame channel. ReadFrame blocks until a
// frame arrives, the connection drops, or Close is called.
type Conn interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(ctx context.Context, f Frame) error
	Close() error
	Kind() ChannelKind
}

// Dialer opens one kind of channel against the server.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
	Kind() ChannelKind
}

// WebsocketDialer opens the preferred persistent stream using gorilla.
type WebsocketDialer struct {
	URL    string
	Dialer *websocket.Dialer
}

func (d *WebsocketDialer) Kind() ChannelKind { return ChannelWebsocket }

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	url := strings.Replace(d.URL, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)

	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) Kind() ChannelKind { return ChannelWebsocket }

func (c *wsConn) ReadFrame(ctx context.Context) (Frame, error) {
	// gorilla reads have no context; Close unblocks a pending read.
	var f Frame
	if err := c.ws.ReadJSON(&f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (c *wsConn) WriteFrame(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(f)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

// PollingDialer opens the request/response fallback channel. The server
// assigns a session id on handshake; reads long-poll against it.
type PollingDialer struct {
	URL    string
	Client *http.Client
}

func (d *PollingDialer) Kind() ChannelKind { return ChannelPolling }

func (d *PollingDialer) Dial(ctx context.Context) (Conn, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL+"/poll", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling handshake: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polling handshake: HTTP %d", resp.StatusCode)
	}

	var handshake struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&handshake); err != nil {
		return nil, fmt.Errorf("polling handshake: %w", err)
	}
	if handshake.SID == "" {
		return nil, fmt.Errorf("polling handshake: empty session id")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &pollConn{
		url:    d.URL,
		sid:    handshake.SID,
		client: client,
		cancel: cancel,
		done:   ctx,
	}, nil
}

type pollConn struct {
	url    string
	sid    string
	client *http.Client
	cancel context.CancelFunc
	done   context.Context

	mu      sync.Mutex
	pending []Frame
}

func (c *pollConn) Kind() ChannelKind { return ChannelPolling }

func (c *pollConn) ReadFrame(ctx context.Context) (Frame, error) {
	for {
		c.mu.Lock()
		if len(c.pending) > 0 {
			f := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()
			return f, nil
		}
		c.mu.Unlock()

		if err := c.done.Err(); err != nil {
			return Frame{}, io.EOF
		}

		// The poll is bound to the connection's lifetime so Close unblocks
		// a pending read.
		req, err := http.NewRequestWithContext(c.done, http.MethodGet, c.url+"/poll?sid="+c.sid, nil)
		if err != nil {
			return Frame{}, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			if c.done.Err() != nil {
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return Frame{}, fmt.Errorf("poll: HTTP %d", resp.StatusCode)
		}

		var frames []Frame
		err = json.NewDecoder(resp.Body).Decode(&frames)
		resp.Body.Close()
		if err != nil {
			return Frame{}, fmt.Errorf("poll: %w", err)
		}

		// Empty batch means the long poll timed out server-side; poll again.
		c.mu.Lock()
		c.pending = append(c.pending, frames...)
		c.mu.Unlock()
	}
}

func (c *pollConn) WriteFrame(ctx context.Context, f Frame) error {
	if err := c.done.Err(); err != nil {
		return io.EOF
	}

	body, err := json.Marshal(f)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/poll/emit?sid="+c.sid, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poll emit: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *pollConn) Close() error {
	c.cancel()
	return nil
}
