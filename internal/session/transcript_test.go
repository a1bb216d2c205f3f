package session

import (
	"fmt"
	"testing"

	"tradewire/internal/models"

	"github.com/stretchr/testify/require"
)

func optimistic(tempID, content string) models.Message {
	return models.Message{
		TempID:         tempID,
		ConversationID: "conv-1",
		Content:        content,
		Type:           models.MessageTypeText,
		Status:         models.StatusPending,
	}
}

func serverMsg(id, content string) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: "conv-1",
		Content:        content,
		Type:           models.MessageTypeText,
		Status:         models.StatusSent,
	}
}

func TestTranscript_AppendRejectsDuplicateKey(t *testing.T) {
	tr := NewTranscript(10)

	require.True(t, tr.Append(serverMsg("m-1", "hello")))
	require.False(t, tr.Append(serverMsg("m-1", "hello again")))
	require.Equal(t, 1, tr.Len())

	got, ok := tr.Get("m-1")
	require.True(t, ok)
	require.Equal(t, "hello", got.Content, "duplicate append must not overwrite")
}

func TestTranscript_AppendDropsOldestPastCap(t *testing.T) {
	tr := NewTranscript(3)
	for i := 1; i <= 5; i++ {
		require.True(t, tr.Append(serverMsg(fmt.Sprintf("m-%d", i), fmt.Sprintf("msg %d", i))))
	}

	require.Equal(t, 3, tr.Len())
	msgs := tr.Messages()
	require.Equal(t, "m-3", msgs[0].ID)
	require.Equal(t, "m-5", msgs[2].ID)

	// Evicted keys are gone, surviving keys still resolve.
	_, ok := tr.Get("m-1")
	require.False(t, ok)
	got, ok := tr.Get("m-4")
	require.True(t, ok)
	require.Equal(t, "msg 4", got.Content)
}

func TestTranscript_ConfirmSwapsKey(t *testing.T) {
	tr := NewTranscript(10)
	require.True(t, tr.Append(optimistic("tmp-1", "hi")))

	confirmed := serverMsg("m-1", "hi")
	require.True(t, tr.Confirm("tmp-1", confirmed))
	require.Equal(t, 1, tr.Len())

	_, ok := tr.Get("tmp-1")
	require.False(t, ok, "temp key retired after confirmation")

	got, ok := tr.Get("m-1")
	require.True(t, ok)
	require.Empty(t, got.TempID)
	require.Equal(t, models.StatusSent, got.Status)

	require.False(t, tr.Confirm("tmp-1", confirmed), "second confirm is a no-op")
}

func TestTranscript_MergeUpdatesByStableID(t *testing.T) {
	tr := NewTranscript(10)
	tr.Append(serverMsg("m-1", "original"))

	edited := serverMsg("m-1", "edited")
	require.False(t, tr.Merge(edited), "same id updates in place, no new entry")
	require.Equal(t, 1, tr.Len())

	got, _ := tr.Get("m-1")
	require.Equal(t, "edited", got.Content)
}

func TestTranscript_MergeConfirmsByTempID(t *testing.T) {
	tr := NewTranscript(10)
	tr.Append(optimistic("tmp-1", "hi"))

	// Replayed confirmation still carries the temp id alongside the server id.
	confirmed := serverMsg("m-1", "hi")
	confirmed.TempID = "tmp-1"
	require.False(t, tr.Merge(confirmed))
	require.Equal(t, 1, tr.Len(), "confirmation must not duplicate the optimistic entry")

	got, ok := tr.Get("m-1")
	require.True(t, ok)
	require.Equal(t, models.StatusSent, got.Status)
	_, ok = tr.Get("tmp-1")
	require.False(t, ok)
}

func TestTranscript_MergeAppendsUnknown(t *testing.T) {
	tr := NewTranscript(10)
	require.True(t, tr.Merge(serverMsg("m-1", "from someone else")))
	require.Equal(t, 1, tr.Len())
}

func TestTranscript_SetStatusValidatesTransition(t *testing.T) {
	tr := NewTranscript(10)
	tr.Append(optimistic("tmp-1", "hi"))

	require.NoError(t, tr.SetStatus("tmp-1", models.StatusFailed))
	require.NoError(t, tr.SetStatus("tmp-1", models.StatusPending))
	require.NoError(t, tr.SetStatus("tmp-1", models.StatusSent))

	// Sent is terminal.
	require.Error(t, tr.SetStatus("tmp-1", models.StatusPending))

	require.ErrorIs(t, tr.SetStatus("nope", models.StatusSent), models.ErrNotFound)
}
