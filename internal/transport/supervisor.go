package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"tradewire/internal/events"
)

// Supervisor is the caller-side retry loop around the client's capped
// Connect. The client itself never retries past its attempt cap; the
// supervisor schedules each fresh Connect with exponential backoff and
// resets the backoff after a successful connect.
type Supervisor struct {
	client  *Client
	backoff Backoff
	log     *slog.Logger

	// OnConnected runs after every successful (re)connect, before the next
	// supervision cycle. Used to rejoin rooms and replay the offline queue.
	OnConnected func(ctx context.Context)
}

func NewSupervisor(client *Client, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{client: client, log: log}
}

// Run keeps the client connected until the context is cancelled. Each cycle
// connects (through the client's attempt cap), then waits for the transport
// to drop before scheduling the next connect.
func (s *Supervisor) Run(ctx context.Context, credential string) error {
	for {
		// Subscribed before connecting: a drop while OnConnected is still
		// running (queue replay is exactly that window) must not slip past
		// the supervisor.
		dropped := make(chan struct{}, 1)
		s.client.Registry().On(events.KindDisconnect, "supervisor", func(events.Event) {
			select {
			case dropped <- struct{}{}:
			default:
			}
		})

		if err := s.connectWithBackoff(ctx, credential); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			s.client.Disconnect()
			return ctx.Err()
		case <-dropped:
			// Registry survived the drop; the reconnect cycle resubscribes.
		}
	}
}

func (s *Supervisor) connectWithBackoff(ctx context.Context, credential string) error {
	for {
		_, err := s.client.Reconnect(ctx, credential)
		if err == nil {
			s.backoff.Reset()
			if s.OnConnected != nil {
				s.OnConnected(ctx)
			}
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		delay := s.backoff.Next()
		s.log.Warn("connect failed, backing off", "attempt", s.backoff.Attempts(), "delay", delay, "error", err)

		payload, _ := json.Marshal(map[string]any{"attempt": s.backoff.Attempts()})
		s.client.Registry().Dispatch(events.Event{Kind: events.KindReconnect, Payload: payload})

		select {
		case <-ctx.Done():
			s.client.Registry().Dispatch(events.Event{Kind: events.KindReconnectFailed})
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
