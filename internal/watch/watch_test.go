package watch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestNew_WatchesParentDirsOfFiles(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	file := filepath.Join(sub, "main.py")
	require.NoError(t, os.WriteFile(file, []byte("print('hi')\n"), 0o644))

	w, err := New(testLogger(), []string{file, dir})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, []string{dir, sub}, w.Dirs())
}

func TestNew_RejectsEmpty(t *testing.T) {
	_, err := New(testLogger(), nil)
	require.Error(t, err)
}

func TestRun_DebouncesBurstIntoOneTrigger(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "boot.py")
	require.NoError(t, os.WriteFile(file, []byte("a"), 0o644))

	w, err := New(testLogger(), []string{file})
	require.NoError(t, err)
	defer w.Close()
	w.Debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	triggered := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context) {
			triggered <- struct{}{}
		})
	}()

	// A burst of writes inside the debounce window.
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(file, []byte{byte('a' + i)}, 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-triggered:
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger after writes")
	}

	// The burst must have been coalesced.
	select {
	case <-triggered:
		t.Fatal("burst produced more than one trigger")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	w, err := New(testLogger(), []string{dir})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = w.Run(ctx, func(context.Context) { t.Error("unexpected trigger") })
	assert.ErrorIs(t, err, context.Canceled)
}
