package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBQueuedMessage is the on-disk shape of one offline queue entry:
// the message fields plus the local id, queue timestamp and status.
type DBQueuedMessage struct {
	LocalID        string         `msgpack:"id"`
	MessageID      string         `msgpack:"messageId"`
	TempID         string         `msgpack:"tempId"`
	ConversationID string         `msgpack:"conversationId"`
	SenderID       string         `msgpack:"senderId"`
	Content        string         `msgpack:"content"`
	Type           string         `msgpack:"type"`
	Status         string         `msgpack:"status"`
	CreatedAt      int64          `msgpack:"createdAt"`
	QueuedAt       int64          `msgpack:"queuedAt"`
	Attachments    []DBAttachment `msgpack:"attachments,omitempty"`
}

type DBAttachment struct {
	Type     string `msgpack:"type"`
	Name     string `msgpack:"name"`
	MimeType string `msgpack:"mimeType"`
	FileID   string `msgpack:"fileId"`
}

// DBQueue is the whole offline queue, stored as one ordered list under a
// single storage key. Replacement is whole-value, never in-place.
type DBQueue struct {
	Entries []DBQueuedMessage `msgpack:"entries"`
}

func (q *DBQueue) Key() []byte {
	return []byte("pending")
}

func (q *DBQueue) MarshalBinary() (data []byte, err error) {
	type alias DBQueue
	return msgpack.Marshal((*alias)(q))
}

func (q *DBQueue) UnmarshalBinary(data []byte) error {
	type alias DBQueue
	return msgpack.Unmarshal(data, (*alias)(q))
}

// DBCredential is a stored auth credential. The key is a digest of the
// credential, never the raw value.
type DBCredential struct {
	Digest    string `msgpack:"digest"`
	UserID    string `msgpack:"userId"`
	Raw       []byte `msgpack:"raw"`
	UpdatedAt int64  `msgpack:"updatedAt"`
}

func (c *DBCredential) Key() []byte {
	return []byte(c.Digest)
}

func (c *DBCredential) MarshalBinary() (data []byte, err error) {
	type alias DBCredential
	return msgpack.Marshal((*alias)(c))
}

func (c *DBCredential) UnmarshalBinary(data []byte) error {
	type alias DBCredential
	return msgpack.Unmarshal(data, (*alias)(c))
}

// DBSnapshot is a cached REST snapshot (conversation list, supplier
// directory) spilled to disk so a cold start can render stale data.
type DBSnapshot struct {
	SnapshotKey string `msgpack:"key"`
	Body        []byte `msgpack:"body"`
	FetchedAt   int64  `msgpack:"fetchedAt"`
}

func (s *DBSnapshot) Key() []byte {
	return []byte(s.SnapshotKey)
}

func (s *DBSnapshot) MarshalBinary() (data []byte, err error) {
	type alias DBSnapshot
	return msgpack.Marshal((*alias)(s))
}

func (s *DBSnapshot) UnmarshalBinary(data []byte) error {
	type alias DBSnapshot
	return msgpack.Unmarshal(data, (*alias)(s))
}
