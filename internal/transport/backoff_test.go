package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffSequence(t *testing.T) {
	var b Backoff

	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for i, w := range want {
		require.Equal(t, w, b.Next(), "attempt %d", i)
	}
	require.Equal(t, len(want), b.Attempts())
}

func TestBackoffReset(t *testing.T) {
	var b Backoff
	for i := 0; i < 5; i++ {
		b.Next()
	}
	b.Reset()
	require.Equal(t, 0, b.Attempts())
	require.Equal(t, time.Second, b.Next())
}

func TestBackoffCustomBase(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond}
	require.Equal(t, 10*time.Millisecond, b.Next())
	require.Equal(t, 20*time.Millisecond, b.Next())
	require.Equal(t, 40*time.Millisecond, b.Next())
}

func TestBackoffNeverOverflows(t *testing.T) {
	var b Backoff
	for i := 0; i < 100; i++ {
		d := b.Next()
		require.True(t, d > 0 && d <= 30*time.Second, "attempt %d yielded %v", i, d)
	}
}
