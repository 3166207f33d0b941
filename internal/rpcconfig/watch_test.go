package rpcconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWatcherRejectsMissingConfigPath(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), "", nil, nil)
	assert.Error(t, err)
}

func TestWatcherReloadsOnConfigWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rpcrt.yaml")
	cfg := Default()
	require.NoError(t, SaveConfig(cfg, path))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, "", func(c *Config) { reloaded <- c }, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	updated := Default()
	updated.Server.ListenAddress = "0.0.0.0:1234"
	require.NoError(t, SaveConfig(updated, path))

	select {
	case got := <-reloaded:
		assert.Equal(t, "0.0.0.0:1234", got.Server.ListenAddress)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}

	cancel()
	<-done
}

func TestWatcherKeytabCallback(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "rpcrt.yaml")
	require.NoError(t, SaveConfig(Default(), configPath))

	keytabPath := filepath.Join(dir, "keytab")
	require.NoError(t, os.WriteFile(keytabPath, []byte("initial"), 0o600))

	keytabReloaded := make(chan struct{}, 1)
	w, err := NewWatcher(configPath, keytabPath, nil, func() { keytabReloaded <- struct{}{} })
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(keytabPath, []byte("rotated"), 0o600))

	select {
	case <-keytabReloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for keytab reload callback")
	}

	cancel()
	<-done
}
