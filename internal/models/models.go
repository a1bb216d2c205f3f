package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNotConnected      = errors.New("not connected")
	ErrAckRejected       = errors.New("server rejected acknowledgment")
	ErrAttemptsExhausted = errors.New("connection attempts exhausted")
	ErrHealthTimeout     = errors.New("health check timed out")
)

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

type MessageStatus string

const (
	StatusQueued  MessageStatus = "queued"
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// statusTransitions is the closed set of allowed message status moves.
// Sent is terminal; Pending drops back to Queued when a send resolves
// offline; Failed re-enters Pending on user retry.
var statusTransitions = map[MessageStatus][]MessageStatus{
	StatusQueued:  {StatusPending, StatusSent, StatusFailed},
	StatusPending: {StatusQueued, StatusSent, StatusFailed},
	StatusFailed:  {StatusPending},
	StatusSent:    {},
}

// CanTransition reports whether a message status may move from one value to another.
func (s MessageStatus) CanTransition(to MessageStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Message is a single chat message as the transcript sees it. Exactly one of
// ID (server-assigned) and TempID (client-assigned, optimistic) is the
// transcript key at any time: TempID until the server confirms, ID after.
type Message struct {
	ID             string        `json:"id,omitempty"`
	TempID         string        `json:"tempId,omitempty"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
}

// TranscriptKey returns the stable identity of the message within a
// transcript: the server id once assigned, the temp id before that.
func (m *Message) TranscriptKey() string {
	if m.ID != "" {
		return m.ID
	}
	return m.TempID
}

// SetStatus validates the transition before applying it.
func (m *Message) SetStatus(to MessageStatus) error {
	if !m.Status.CanTransition(to) {
		return fmt.Errorf("invalid message status transition %s -> %s", m.Status, to)
	}
	m.Status = to
	return nil
}

// QueuedMessage is a Message captured while offline, persisted until a
// replay attempt for it succeeds.
type QueuedMessage struct {
	LocalID  string    `json:"localId"`
	Message  Message   `json:"message"`
	QueuedAt time.Time `json:"queuedAt"`
}

type AttachmentType string

const (
	AttachmentTypeImage AttachmentType = "image"
	AttachmentTypeFile  AttachmentType = "file"
)

type Attachment struct {
	Type     AttachmentType `json:"type"`
	Name     string         `json:"name"`
	MimeType string         `json:"mimeType"`
	FileID   string         `json:"fileId"`
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Notification is one entry of the bounded notification feed.
type Notification struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Priority Priority  `json:"priority"`
	Read     bool      `json:"read"`
	ReadAt   time.Time `json:"readAt,omitzero"`
}

// Order is the summary carried by order lifecycle pushes.
type Order struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	BuyerID  string `json:"buyerId,omitempty"`
	SellerID string `json:"sellerId,omitempty"`
	Total    string `json:"total,omitempty"`
}

// Ack is the server's reply on an acknowledgment-carrying emit.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type UserStatusChange struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// SendResult is what a caller of Synchronizer.Send observes. Offline sends
// succeed immediately with Offline set and the queued copy attached.
type SendResult struct {
	Success bool           `json:"success"`
	Offline bool           `json:"offline,omitempty"`
	Queued  *QueuedMessage `json:"queuedMessage,omitempty"`
	Message *Message       `json:"message,omitempty"`
}
