// Package outbox is the offline message queue and its synchronizer. Sends
// never block on connectivity: while disconnected they land in the durable
// queue and are replayed, strictly in order, once the transport returns.
package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"tradewire/internal/events"
	"tradewire/internal/models"
	"tradewire/internal/transport"

	"github.com/google/uuid"
)

// Queue is the durable store behind the synchronizer.
type Queue interface {
	LoadQueue() ([]models.QueuedMessage, error)
	AppendQueued(models.QueuedMessage) error
	ReplaceQueue([]models.QueuedMessage) error
}

// Emitter is the transport surface the synchronizer needs.
type Emitter interface {
	State() models.ConnectionState
	EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error)
}

// Synchronizer routes outbound messages: straight to the transport while
// connected, into the durable queue otherwise. It is the queue's single
// writer.
type Synchronizer struct {
	queue    Queue
	conn     Emitter
	registry *events.Registry
	log      *slog.Logger
	now      func() time.Time
}

func NewSynchronizer(queue Queue, conn Emitter, registry *events.Registry, log *slog.Logger) *Synchronizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer{
		queue:    queue,
		conn:     conn,
		registry: registry,
		log:      log,
		now:      time.Now,
	}
}

// Send delivers a message if connected, queueing it durably otherwise. The
// offline path resolves immediately with Offline set; it never reaches the
// network.
func (s *Synchronizer) Send(ctx context.Context, msg models.Message) (models.SendResult, error) {
	if s.conn.State() != models.StateConnected {
		qm := models.QueuedMessage{
			LocalID:  uuid.NewString(),
			Message:  msg,
			QueuedAt: s.now(),
		}
		qm.Message.Status = models.StatusQueued

		if err := s.queue.AppendQueued(qm); err != nil {
			return models.SendResult{}, err
		}
		s.log.Debug("message queued offline", "localId", qm.LocalID, "conversation", msg.ConversationID)
		return models.SendResult{Success: true, Offline: true, Queued: &qm}, nil
	}

	confirmed, err := s.emit(ctx, msg)
	if err != nil {
		return models.SendResult{}, err
	}
	return models.SendResult{Success: true, Message: confirmed}, nil
}

// SyncPending replays the queue in submission order. Replay is strictly
// sequential: entry N+1 is not attempted until N's outcome is known. After
// the pass the durable store holds exactly the entries whose send failed;
// those wait for a future pass and are never retried within this one.
func (s *Synchronizer) SyncPending(ctx context.Context) error {
	if s.conn.State() != models.StateConnected {
		return nil
	}

	pending, err := s.queue.LoadQueue()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	var failed []models.QueuedMessage
	sent := 0
	for _, qm := range pending {
		confirmed, err := s.emit(ctx, qm.Message)
		if err != nil {
			s.log.Warn("queued message replay failed", "localId", qm.LocalID, "error", err)
			failed = append(failed, qm)
			continue
		}
		sent++
		s.announce(*confirmed)
	}

	if err := s.queue.ReplaceQueue(failed); err != nil {
		return err
	}
	s.log.Info("offline queue replayed", "sent", sent, "remaining", len(failed))
	return nil
}

// emit sends one message over the acknowledged sendMessage event and decodes
// the confirmed copy out of the ack payload when present.
func (s *Synchronizer) emit(ctx context.Context, msg models.Message) (*models.Message, error) {
	payload, err := s.conn.EmitWithAck(ctx, transport.EventSendMessage, msg)
	if err != nil {
		return nil, err
	}

	var body struct {
		Message *models.Message `json:"message"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			s.log.Debug("ack carried no message body", "error", err)
		}
	}
	if body.Message == nil {
		confirmed := msg
		confirmed.Status = models.StatusSent
		return &confirmed, nil
	}
	if body.Message.Status == "" {
		body.Message.Status = models.StatusSent
	}
	return body.Message, nil
}

// announce re-dispatches a replayed confirmation as a message event so the
// owning conversation controller observes the queued entry turning sent,
// without the synchronizer knowing who that is.
func (s *Synchronizer) announce(confirmed models.Message) {
	if s.registry == nil {
		return
	}
	payload, err := json.Marshal(confirmed)
	if err != nil {
		return
	}
	s.registry.Dispatch(events.Event{Kind: events.KindMessage, Payload: payload})
}
