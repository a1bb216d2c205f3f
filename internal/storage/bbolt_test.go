package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradewire/internal/models"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openStorage(t *testing.T, path string) *BboltStorage {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s, err := NewBboltStorage(path, logger)
	require.NoError(t, err)
	return s
}

func queued(localID, content string) models.QueuedMessage {
	return models.QueuedMessage{
		LocalID: localID,
		Message: models.Message{
			TempID:         "tmp-" + localID,
			ConversationID: "conv-1",
			SenderID:       "buyer-7",
			Content:        content,
			Type:           models.MessageTypeText,
			Status:         models.StatusQueued,
			CreatedAt:      time.Unix(1700000000, 0),
		},
		QueuedAt: time.Unix(1700000100, 0),
	}
}

func TestQueue_AppendLoadPreservesOrder(t *testing.T) {
	s := openStorage(t, filepath.Join(t.TempDir(), "q.db"))
	defer s.Close()

	require.NoError(t, s.AppendQueued(queued("l1", "first")))
	require.NoError(t, s.AppendQueued(queued("l2", "second")))
	require.NoError(t, s.AppendQueued(queued("l3", "third")))

	entries, err := s.LoadQueue()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "l1", entries[0].LocalID)
	require.Equal(t, "l3", entries[2].LocalID)
	require.Equal(t, "second", entries[1].Message.Content)
	require.Equal(t, models.StatusQueued, entries[0].Message.Status)
	require.Equal(t, int64(1700000100), entries[0].QueuedAt.Unix())
}

func TestQueue_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.db")

	s := openStorage(t, path)
	require.NoError(t, s.AppendQueued(queued("l1", "durable")))
	require.NoError(t, s.Close())

	s = openStorage(t, path)
	defer s.Close()
	entries, err := s.LoadQueue()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "durable", entries[0].Message.Content)
}

func TestQueue_ReplaceRewritesWholesale(t *testing.T) {
	s := openStorage(t, filepath.Join(t.TempDir(), "q.db"))
	defer s.Close()

	for _, id := range []string{"l1", "l2", "l3"} {
		require.NoError(t, s.AppendQueued(queued(id, id)))
	}

	survivors, err := s.LoadQueue()
	require.NoError(t, err)
	require.NoError(t, s.ReplaceQueue(survivors[1:2]))

	entries, err := s.LoadQueue()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "l2", entries[0].LocalID)

	require.NoError(t, s.ReplaceQueue(nil))
	entries, err = s.LoadQueue()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestQueue_CorruptValueTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.db")

	s := openStorage(t, path)
	require.NoError(t, s.AppendQueued(queued("l1", "doomed")))
	require.NoError(t, s.Close())

	// Clobber the queue value under the hood.
	db, err := bbolt.Open(path, 0600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		var q DBQueue
		return tx.Bucket([]byte("queue")).Put(q.Key(), []byte("not msgpack at all"))
	}))
	require.NoError(t, db.Close())

	s = openStorage(t, path)
	defer s.Close()

	entries, err := s.LoadQueue()
	require.NoError(t, err, "corruption is logged, not propagated")
	require.Empty(t, entries)

	// The store stays writable afterwards.
	require.NoError(t, s.AppendQueued(queued("l2", "fresh start")))
	entries, err = s.LoadQueue()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestQueue_AttachmentsRoundTrip(t *testing.T) {
	s := openStorage(t, filepath.Join(t.TempDir(), "q.db"))
	defer s.Close()

	qm := queued("l1", "with file")
	qm.Message.Attachments = []models.Attachment{{
		Type:     models.AttachmentTypeImage,
		Name:     "invoice.png",
		MimeType: "image/png",
		FileID:   "f-9",
	}}
	require.NoError(t, s.AppendQueued(qm))

	entries, err := s.LoadQueue()
	require.NoError(t, err)
	require.Len(t, entries[0].Message.Attachments, 1)
	require.Equal(t, models.AttachmentTypeImage, entries[0].Message.Attachments[0].Type)
	require.Equal(t, "f-9", entries[0].Message.Attachments[0].FileID)
}

func TestCredentials(t *testing.T) {
	s := openStorage(t, filepath.Join(t.TempDir(), "c.db"))
	defer s.Close()

	_, err := s.GetCredential("missing")
	require.ErrorIs(t, err, models.ErrNotFound)

	cred := DBCredential{Digest: "d1", UserID: "u1", Raw: []byte("tok"), UpdatedAt: 100}
	require.NoError(t, s.UpsertCredential(cred))

	got, err := s.GetCredential("d1")
	require.NoError(t, err)
	require.Equal(t, cred, got)

	// Upsert with the same digest replaces.
	cred.UpdatedAt = 200
	require.NoError(t, s.UpsertCredential(cred))
	got, err = s.GetCredential("d1")
	require.NoError(t, err)
	require.Equal(t, int64(200), got.UpdatedAt)

	require.NoError(t, s.DeleteCredential("d1"))
	_, err = s.GetCredential("d1")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestLatestCredentialSkipsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	s := openStorage(t, path)
	require.NoError(t, s.UpsertCredential(DBCredential{Digest: "good", Raw: []byte("tok"), UpdatedAt: 100}))
	require.NoError(t, s.Close())

	db, err := bbolt.Open(path, 0600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("credentials")).Put([]byte("bad"), []byte("garbage"))
	}))
	require.NoError(t, db.Close())

	s = openStorage(t, path)
	defer s.Close()

	latest, err := s.LatestCredential()
	require.NoError(t, err)
	require.Equal(t, "good", latest.Digest)
}

func TestSnapshots(t *testing.T) {
	s := openStorage(t, filepath.Join(t.TempDir(), "s.db"))
	defer s.Close()

	_, err := s.GetSnapshot("conversations")
	require.ErrorIs(t, err, models.ErrNotFound)

	fetchedAt := time.Unix(1700000000, 0)
	require.NoError(t, s.PutSnapshot("conversations", []byte(`[{"id":"conv-1"}]`), fetchedAt))

	snap, err := s.GetSnapshot("conversations")
	require.NoError(t, err)
	require.Equal(t, "conversations", snap.SnapshotKey)
	require.Equal(t, []byte(`[{"id":"conv-1"}]`), snap.Body)
	require.Equal(t, fetchedAt.Unix(), snap.FetchedAt)

	// Whole-value replacement.
	require.NoError(t, s.PutSnapshot("conversations", []byte(`[]`), fetchedAt.Add(time.Hour)))
	snap, err = s.GetSnapshot("conversations")
	require.NoError(t, err)
	require.Equal(t, []byte(`[]`), snap.Body)
}

func TestSnapshotCorruptIsAMiss(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.db")
	s := openStorage(t, path)
	require.NoError(t, s.PutSnapshot("dir", []byte("body"), time.Now()))
	require.NoError(t, s.Close())

	db, err := bbolt.Open(path, 0600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("snapshots")).Put([]byte("dir"), []byte("garbage"))
	}))
	require.NoError(t, db.Close())

	s = openStorage(t, path)
	defer s.Close()

	_, err = s.GetSnapshot("dir")
	require.ErrorIs(t, err, models.ErrNotFound)
}
