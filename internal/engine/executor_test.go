package engine

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellExecutor_CapturesOutputAndExitCode(t *testing.T) {
	e := &ShellExecutor{}
	res, err := e.Execute(context.Background(), Spec{
		Name:    "hello",
		Command: "echo out; echo err 1>&2; exit 3",
		Dir:     t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", string(res.Stdout))
	assert.Equal(t, "err\n", string(res.Stderr))
}

func TestShellExecutor_EnvIsPassedThrough(t *testing.T) {
	e := &ShellExecutor{}
	res, err := e.Execute(context.Background(), Spec{
		Name:    "env",
		Command: "echo $firmware_bin",
		Dir:     t.TempDir(),
		Env:     []string{"firmware_bin=firmware/esp32.bin", "PATH=/usr/bin:/bin"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "firmware/esp32.bin\n", string(res.Stdout))
}

func TestShellExecutor_StreamsWithTaskPrefix(t *testing.T) {
	var stream bytes.Buffer
	e := &ShellExecutor{Stdout: &stream}
	_, err := e.Execute(context.Background(), Spec{
		Name:    "create_littlefs",
		Command: "printf 'one\\ntwo\\n'; printf 'tail-without-newline'",
		Dir:     t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t,
		"[create_littlefs] one\n[create_littlefs] two\n[create_littlefs] tail-without-newline\n",
		stream.String())
}

func TestShellExecutor_CancellationKillsProcess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	e := &ShellExecutor{}
	start := time.Now()
	_, err := e.Execute(ctx, Spec{Name: "sleeper", Command: "sleep 30", Dir: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestShellExecutor_EmptyCommand(t *testing.T) {
	e := &ShellExecutor{}
	_, err := e.Execute(context.Background(), Spec{Name: "noop"})
	require.Error(t, err)
}

func TestPrefixWriter_SplitsAcrossWrites(t *testing.T) {
	var out bytes.Buffer
	pw := &prefixWriter{w: &out, prefix: "[t] "}

	_, err := pw.Write([]byte("par"))
	require.NoError(t, err)
	_, err = pw.Write([]byte("tial\nnext\n"))
	require.NoError(t, err)
	require.NoError(t, pw.Flush())

	assert.Equal(t, "[t] partial\n[t] next\n", out.String())

	out.Reset()
	require.NoError(t, pw.Flush()) // nothing buffered
	assert.Zero(t, out.Len())
}
