package filewatch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "commands.yaml")
	require.NoError(t, os.WriteFile(p, []byte("a"), 0o644))
	h1, err := HashFile(p)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte("b"), 0o644))
	h2, err := HashFile(p)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestWatcher_ReportsContentChanges(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "commands.yaml")
	require.NoError(t, os.WriteFile(p, []byte("v1"), 0o644))

	var calls atomic.Int32
	w := New(p, func(context.Context) { calls.Add(1) }, WithDebounce(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte("v2"), 0o644))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
