package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8080/rt", cfg.ServerURL)
	require.Equal(t, "tradewire.db", cfg.DBFile)
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 10*time.Second, cfg.AckTimeout)
	require.Equal(t, 5*time.Second, cfg.HealthTimeout)
	require.Equal(t, time.Minute, cfg.SnapshotTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_URL", "https://rt.tradewire.example")
	t.Setenv("MAX_CONNECTION_ATTEMPTS", "5")
	t.Setenv("ACK_TIMEOUT", "3s")
	t.Setenv("USER_ID", "buyer-7")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://rt.tradewire.example", cfg.ServerURL)
	require.Equal(t, 5, cfg.MaxAttempts)
	require.Equal(t, 3*time.Second, cfg.AckTimeout)
	require.Equal(t, "buyer-7", cfg.UserID)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("non-integer attempts", func(t *testing.T) {
		t.Setenv("MAX_CONNECTION_ATTEMPTS", "many")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("unparseable duration", func(t *testing.T) {
		t.Setenv("ACK_TIMEOUT", "soon")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := Config{ServerURL: "http://x", MaxAttempts: 3, AckTimeout: time.Second, HealthTimeout: time.Second}
	require.NoError(t, valid.Validate())

	noURL := valid
	noURL.ServerURL = ""
	require.Error(t, noURL.Validate())

	zeroAttempts := valid
	zeroAttempts.MaxAttempts = 0
	require.Error(t, zeroAttempts.Validate())

	badTimeout := valid
	badTimeout.HealthTimeout = 0
	require.Error(t, badTimeout.Validate())
}
