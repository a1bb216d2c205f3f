package storage

import (
	"fmt"
	"log/slog"
	"time"

	"tradewire/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketQueue       = []byte("queue")
	bucketCredentials = []byte("credentials")
	bucketSnapshots   = []byte("snapshots")
)

// BboltStorage is the client's durable local store: the offline message
// queue, cached credentials and REST snapshots.
type BboltStorage struct {
	db  *bbolt.DB
	log *slog.Logger
}

func NewBboltStorage(path string, log *slog.Logger) (*BboltStorage, error) {
	if log == nil {
		log = slog.Default()
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketQueue); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketCredentials); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, log: log}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// LoadQueue returns the offline queue in submission order. An unparseable
// queue value is treated as empty and logged, never propagated.
func (s *BboltStorage) LoadQueue() ([]models.QueuedMessage, error) {
	var queue DBQueue
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		data := b.Get(queue.Key())
		if data == nil {
			return nil
		}
		if err := queue.UnmarshalBinary(data); err != nil {
			s.log.Warn("corrupt offline queue, treating as empty", "error", err)
			queue.Entries = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.QueuedMessage, 0, len(queue.Entries))
	for _, e := range queue.Entries {
		out = append(out, toQueuedMessage(e))
	}
	return out, nil
}

// AppendQueued pushes one entry to the tail of the durable queue
// (read-modify-write of the single queue key).
func (s *BboltStorage) AppendQueued(qm models.QueuedMessage) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketQueue)

		var queue DBQueue
		if data := b.Get(queue.Key()); data != nil {
			if err := queue.UnmarshalBinary(data); err != nil {
				s.log.Warn("corrupt offline queue, treating as empty", "error", err)
				queue.Entries = nil
			}
		}

		queue.Entries = append(queue.Entries, toDBQueuedMessage(qm))
		data, err := queue.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal queue: %w", err)
		}
		return b.Put(queue.Key(), data)
	})
}

// ReplaceQueue rewrites the durable queue wholesale. The synchronizer calls
// this after a replay pass with the subset that still needs sending.
func (s *BboltStorage) ReplaceQueue(entries []models.QueuedMessage) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketQueue)

		queue := DBQueue{Entries: make([]DBQueuedMessage, 0, len(entries))}
		for _, e := range entries {
			queue.Entries = append(queue.Entries, toDBQueuedMessage(e))
		}
		data, err := queue.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal queue: %w", err)
		}
		return b.Put(queue.Key(), data)
	})
}

// UpsertCredential stores a credential record keyed by its digest.
func (s *BboltStorage) UpsertCredential(cred DBCredential) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		data, err := cred.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(cred.Key(), data)
	})
}

// GetCredential looks up a credential record by digest.
func (s *BboltStorage) GetCredential(digest string) (DBCredential, error) {
	var cred DBCredential
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		data := b.Get([]byte(digest))
		if data == nil {
			return models.ErrNotFound
		}
		return cred.UnmarshalBinary(data)
	})
	return cred, err
}

// LatestCredential returns the most recently updated credential record, if
// any. Used by the composition root as the token lookup contract.
func (s *BboltStorage) LatestCredential() (DBCredential, error) {
	var latest DBCredential
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		return b.ForEach(func(k, v []byte) error {
			var cred DBCredential
			if err := cred.UnmarshalBinary(v); err != nil {
				s.log.Warn("corrupt credential record, skipping", "error", err)
				return nil
			}
			if !found || cred.UpdatedAt > latest.UpdatedAt {
				latest = cred
				found = true
			}
			return nil
		})
	})
	if err != nil {
		return DBCredential{}, err
	}
	if !found {
		return DBCredential{}, models.ErrNotFound
	}
	return latest, nil
}

// DeleteCredential removes a credential record by digest.
func (s *BboltStorage) DeleteCredential(digest string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCredentials)
		return b.Delete([]byte(digest))
	})
}

// PutSnapshot replaces the persisted snapshot under key wholesale.
func (s *BboltStorage) PutSnapshot(key string, body []byte, fetchedAt time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		snap := DBSnapshot{
			SnapshotKey: key,
			Body:        body,
			FetchedAt:   fetchedAt.Unix(),
		}
		data, err := snap.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(snap.Key(), data)
	})
}

// GetSnapshot returns the persisted snapshot under key. A corrupt record is
// a miss, not an error.
func (s *BboltStorage) GetSnapshot(key string) (DBSnapshot, error) {
	var snap DBSnapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		data := b.Get([]byte(key))
		if data == nil {
			return models.ErrNotFound
		}
		if err := snap.UnmarshalBinary(data); err != nil {
			s.log.Warn("corrupt snapshot record, treating as missing", "key", key, "error", err)
			return models.ErrNotFound
		}
		return nil
	})
	return snap, err
}

func toDBQueuedMessage(qm models.QueuedMessage) DBQueuedMessage {
	db := DBQueuedMessage{
		LocalID:        qm.LocalID,
		MessageID:      qm.Message.ID,
		TempID:         qm.Message.TempID,
		ConversationID: qm.Message.ConversationID,
		SenderID:       qm.Message.SenderID,
		Content:        qm.Message.Content,
		Type:           string(qm.Message.Type),
		Status:         string(qm.Message.Status),
		CreatedAt:      qm.Message.CreatedAt.Unix(),
		QueuedAt:       qm.QueuedAt.Unix(),
	}
	if len(qm.Message.Attachments) > 0 {
		db.Attachments = make([]DBAttachment, len(qm.Message.Attachments))
		for i, a := range qm.Message.Attachments {
			db.Attachments[i] = DBAttachment{
				Type:     string(a.Type),
				Name:     a.Name,
				MimeType: a.MimeType,
				FileID:   a.FileID,
			}
		}
	}
	return db
}

func toQueuedMessage(db DBQueuedMessage) models.QueuedMessage {
	qm := models.QueuedMessage{
		LocalID: db.LocalID,
		Message: models.Message{
			ID:             db.MessageID,
			TempID:         db.TempID,
			ConversationID: db.ConversationID,
			SenderID:       db.SenderID,
			Content:        db.Content,
			Type:           models.MessageType(db.Type),
			Status:         models.MessageStatus(db.Status),
			CreatedAt:      time.Unix(db.CreatedAt, 0),
		},
		QueuedAt: time.Unix(db.QueuedAt, 0),
	}
	if len(db.Attachments) > 0 {
		qm.Message.Attachments = make([]models.Attachment, len(db.Attachments))
		for i, a := range db.Attachments {
			qm.Message.Attachments[i] = models.Attachment{
				Type:     models.AttachmentType(a.Type),
				Name:     a.Name,
				MimeType: a.MimeType,
				FileID:   a.FileID,
			}
		}
	}
	return qm
}
