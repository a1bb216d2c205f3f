package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to MessageStatus
		ok       bool
	}{
		{StatusQueued, StatusPending, true},
		{StatusQueued, StatusSent, true},
		{StatusQueued, StatusFailed, true},
		{StatusPending, StatusQueued, true},
		{StatusPending, StatusSent, true},
		{StatusPending, StatusFailed, true},
		{StatusFailed, StatusPending, true},
		{StatusFailed, StatusSent, false},
		{StatusFailed, StatusQueued, false},
		{StatusSent, StatusPending, false},
		{StatusSent, StatusFailed, false},
		{StatusSent, StatusQueued, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestMessageSetStatus(t *testing.T) {
	msg := Message{Status: StatusPending}
	require.NoError(t, msg.SetStatus(StatusSent))
	require.Equal(t, StatusSent, msg.Status)

	err := msg.SetStatus(StatusPending)
	require.Error(t, err)
	require.Equal(t, StatusSent, msg.Status, "rejected transition leaves status untouched")
}

func TestTranscriptKey(t *testing.T) {
	msg := Message{TempID: "tmp-1"}
	require.Equal(t, "tmp-1", msg.TranscriptKey())

	msg.ID = "m-1"
	require.Equal(t, "m-1", msg.TranscriptKey(), "stable id wins once assigned")

	require.Empty(t, (&Message{}).TranscriptKey())
}
