package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_MissingConfig(t *testing.T) {
	opts := Opts{Config: "nonexistent.yml"}
	err := run(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(path, []byte("metube:\n  base_url: ''\n"), 0o600))

	opts := Opts{Config: path}
	err := run(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metube.base_url is required")
}

func TestRun_StartsAndShutsDown(t *testing.T) {
	t.Setenv("TUBEFEED_TEST_DSN", "file:"+filepath.Join(t.TempDir(), "test.db")+"?cache=shared&mode=rwc")

	ctx, cancel := context.WithCancel(context.Background())
	opts := Opts{Config: "testdata/test_config.yml", Listen: "127.0.0.1:0"}

	done := make(chan error, 1)
	go func() { done <- run(ctx, opts) }()

	// give the server a moment to come up, then trigger shutdown
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after context cancellation")
	}
}

func TestSetupLog(t *testing.T) {
	// must not panic in either mode
	setupLog(false)
	setupLog(true, "secret-value")
}
