package presence

import (
	"encoding/json"
	"testing"

	"tradewire/internal/events"

	"github.com/stretchr/testify/require"
)

func TestTracker_SnapshotReplacesWholesale(t *testing.T) {
	tr := NewTracker()
	tr.ReplaceOnline([]string{"alice", "bob"})
	require.True(t, tr.IsOnline("alice"))
	require.True(t, tr.IsOnline("bob"))

	tr.ReplaceOnline([]string{"carol"})
	require.False(t, tr.IsOnline("alice"), "snapshot must drop users absent from it")
	require.False(t, tr.IsOnline("bob"))
	require.Equal(t, []string{"carol"}, tr.OnlineUsers())
}

func TestTracker_IncrementalStatusIdempotent(t *testing.T) {
	tr := NewTracker()

	tr.SetStatus("alice", true)
	tr.SetStatus("alice", true)
	require.Equal(t, []string{"alice"}, tr.OnlineUsers())

	tr.SetStatus("alice", false)
	tr.SetStatus("alice", false)
	require.Empty(t, tr.OnlineUsers())
	require.False(t, tr.IsOnline("alice"))
}

func TestTracker_TypingSets(t *testing.T) {
	tr := NewTracker()

	tr.SetTyping("conv-1", "alice", true)
	tr.SetTyping("conv-1", "bob", true)
	tr.SetTyping("conv-2", "alice", true)
	require.Equal(t, []string{"alice", "bob"}, tr.TypingUsers("conv-1"))
	require.Equal(t, []string{"alice"}, tr.TypingUsers("conv-2"))

	tr.SetTyping("conv-1", "alice", false)
	require.Equal(t, []string{"bob"}, tr.TypingUsers("conv-1"))

	// Last typist stopping leaves an empty set, not an error.
	tr.SetTyping("conv-1", "bob", false)
	require.Empty(t, tr.TypingUsers("conv-1"))

	// Unknown conversation reads as nobody typing.
	require.Empty(t, tr.TypingUsers("conv-404"))
}

func TestTracker_AttachRoutesPushes(t *testing.T) {
	tr := NewTracker()
	registry := events.NewRegistry()
	tr.Attach(registry)

	registry.Dispatch(events.Event{
		Kind:    events.KindOnlineUsers,
		Payload: json.RawMessage(`["alice","bob"]`),
	})
	require.Equal(t, []string{"alice", "bob"}, tr.OnlineUsers())

	registry.Dispatch(events.Event{
		Kind:    events.KindUserStatusChanged,
		Payload: json.RawMessage(`{"userId":"bob","isOnline":false}`),
	})
	require.Equal(t, []string{"alice"}, tr.OnlineUsers())

	registry.Dispatch(events.Event{
		Kind:    events.KindTyping,
		Payload: json.RawMessage(`{"conversationId":"conv-1","userId":"alice","isTyping":true}`),
	})
	require.Equal(t, []string{"alice"}, tr.TypingUsers("conv-1"))

	// Malformed payloads are dropped, state stays intact.
	registry.Dispatch(events.Event{Kind: events.KindOnlineUsers, Payload: json.RawMessage(`{"not":"a list"}`)})
	require.Equal(t, []string{"alice"}, tr.OnlineUsers())
}
