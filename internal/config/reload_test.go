package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "infoLogger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("infoLoggerServer:\n  serverPortRx: 6006\n"), 0o644))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, 20*time.Millisecond, testLogger(), func(c *Config) {
		reloaded <- c
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("infoLoggerServer:\n  serverPortRx: 9999\n"), 0o644))

	select {
	case cfg := <-reloaded:
		require.Equal(t, 9999, cfg.Server.ServerPortRx)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
