// Package session turns the transport, queue and registry primitives into
// the per-conversation message lifecycle a user actually observes:
// composed, queued or pending, then sent or failed with retry.
package session

import (
	"context"
	"log/slog"
	"time"

	"tradewire/internal/events"
	"tradewire/internal/models"

	"github.com/google/uuid"
)

// Roomer is the transport surface for conversation rooms and typing.
type Roomer interface {
	JoinConversation(ctx context.Context, conversationID string) error
	LeaveConversation(ctx context.Context, conversationID string) error
	Typing(ctx context.Context, conversationID string, isTyping bool) error
}

// Sender routes outbound messages through the offline-aware synchronizer.
type Sender interface {
	Send(ctx context.Context, msg models.Message) (models.SendResult, error)
}

// Controller drives one conversation. Construct with NewController, call
// Attach once, Close when the conversation view goes away.
type Controller struct {
	conversationID string
	selfID         string
	room           Roomer
	sender         Sender
	registry       *events.Registry
	transcript     *Transcript
	log            *slog.Logger
	now            func() time.Time
}

func NewController(conversationID, selfID string, room Roomer, sender Sender, registry *events.Registry, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		conversationID: conversationID,
		selfID:         selfID,
		room:           room,
		sender:         sender,
		registry:       registry,
		transcript:     NewTranscript(200),
		log:            log,
		now:            time.Now,
	}
}

// Transcript exposes the conversation history.
func (c *Controller) Transcript() *Transcript {
	return c.transcript
}

// Attach joins the conversation room and subscribes to its inbound pushes.
// The subscription key is stable, so repeated Attach calls never stack
// duplicate handlers.
func (c *Controller) Attach(ctx context.Context) error {
	key := "session:" + c.conversationID

	c.registry.On(events.KindMessage, key, func(ev events.Event) {
		var msg models.Message
		if ev.Decode(&msg) != nil {
			return
		}
		if msg.ConversationID != c.conversationID {
			return
		}
		if msg.Status == "" {
			msg.Status = models.StatusSent
		}
		c.transcript.Merge(msg)
	})

	// Rooms are per-connection server state; rejoin after every reconnect.
	c.registry.On(events.KindConnect, key, func(events.Event) {
		if err := c.room.JoinConversation(context.Background(), c.conversationID); err != nil {
			c.log.Warn("rejoin failed", "conversation", c.conversationID, "error", err)
		}
	})

	if err := c.room.JoinConversation(ctx, c.conversationID); err != nil && err != models.ErrNotConnected {
		return err
	}
	return nil
}

// Close leaves the room and detaches the controller's subscriptions.
func (c *Controller) Close(ctx context.Context) {
	key := "session:" + c.conversationID
	c.registry.Off(events.KindMessage, key)
	c.registry.Off(events.KindConnect, key)

	if err := c.room.LeaveConversation(ctx, c.conversationID); err != nil && err != models.ErrNotConnected {
		c.log.Debug("leave failed", "conversation", c.conversationID, "error", err)
	}
}

// Send composes an optimistic message, renders it immediately, and routes
// it through the synchronizer. The returned message reflects the outcome:
// sent, queued for replay, or failed (retryable).
func (c *Controller) Send(ctx context.Context, content string, msgType models.MessageType, attachments []models.Attachment) (models.Message, error) {
	msg := models.Message{
		TempID:         uuid.NewString(),
		ConversationID: c.conversationID,
		SenderID:       c.selfID,
		Content:        content,
		Type:           msgType,
		Status:         models.StatusPending,
		CreatedAt:      c.now(),
		Attachments:    attachments,
	}
	c.transcript.Append(msg)

	return c.dispatch(ctx, msg)
}

// Retry re-sends a failed message, moving it back through pending.
func (c *Controller) Retry(ctx context.Context, tempID string) (models.Message, error) {
	msg, ok := c.transcript.Get(tempID)
	if !ok {
		return models.Message{}, models.ErrNotFound
	}
	if err := c.transcript.SetStatus(tempID, models.StatusPending); err != nil {
		return msg, err
	}
	msg.Status = models.StatusPending
	return c.dispatch(ctx, msg)
}

func (c *Controller) dispatch(ctx context.Context, msg models.Message) (models.Message, error) {
	result, err := c.sender.Send(ctx, msg)
	if err != nil {
		if serr := c.transcript.SetStatus(msg.TempID, models.StatusFailed); serr != nil {
			c.log.Warn("failed to mark message failed", "tempId", msg.TempID, "error", serr)
		}
		failed, _ := c.transcript.Get(msg.TempID)
		return failed, err
	}

	if result.Offline {
		if serr := c.transcript.SetStatus(msg.TempID, models.StatusQueued); serr != nil {
			c.log.Warn("failed to mark message queued", "tempId", msg.TempID, "error", serr)
		}
		queued, _ := c.transcript.Get(msg.TempID)
		return queued, nil
	}

	confirmed := msg
	if result.Message != nil {
		confirmed = *result.Message
		if confirmed.ConversationID == "" {
			confirmed.ConversationID = msg.ConversationID
		}
	}
	confirmed.Status = models.StatusSent
	c.transcript.Confirm(msg.TempID, confirmed)
	sent, _ := c.transcript.Get(confirmed.TranscriptKey())
	return sent, nil
}

// SetTyping reports the local user's typing state to the room.
func (c *Controller) SetTyping(ctx context.Context, isTyping bool) error {
	err := c.room.Typing(ctx, c.conversationID, isTyping)
	if err == models.ErrNotConnected {
		// Typing is ephemeral; offline it simply goes nowhere.
		return nil
	}
	return err
}
