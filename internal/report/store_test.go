package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firmforge/internal/engine"
	"firmforge/internal/graph"
)

func TestFingerprints_RoundTripAndMerge(t *testing.T) {
	ws := t.TempDir()
	store, err := NewStore(ws)
	require.NoError(t, err)

	// No state yet.
	fps, err := store.LoadFingerprints()
	require.NoError(t, err)
	assert.Nil(t, fps)

	require.NoError(t, store.SaveFingerprints(map[string]string{
		"create_littlefs": "aaa",
		"merge_firmware":  "bbb",
	}))

	// A later run touching only one task keeps the other fingerprint.
	require.NoError(t, store.SaveFingerprints(map[string]string{
		"merge_firmware": "ccc",
	}))

	fps, err = store.LoadFingerprints()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"create_littlefs": "aaa",
		"merge_firmware":  "ccc",
	}, fps)
}

func TestLoadFingerprints_RejectsUnknownVersion(t *testing.T) {
	ws := t.TempDir()
	store, err := NewStore(ws)
	require.NoError(t, err)

	dir := filepath.Join(ws, StateDirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"),
		[]byte(`{"version":"99","fingerprints":{}}`+"\n"), 0o644))

	_, err = store.LoadFingerprints()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported state version")
}

func TestReport_RoundTrip(t *testing.T) {
	ws := t.TempDir()
	store, err := NewStore(ws)
	require.NoError(t, err)

	started := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	sum := &engine.Summary{
		Results: []engine.TaskResult{
			{Name: "create_littlefs", State: graph.TaskCompleted, Attempts: 1, Duration: 120 * time.Millisecond},
			{Name: "merge_firmware", State: graph.TaskFailed, ExitCode: 2, Attempts: 3, Duration: 40 * time.Millisecond},
			{Name: "start_emulator", State: graph.TaskSkipped, Reason: "dependency failed"},
		},
		Failed: true,
	}
	rep := FromSummary(NewRunID(), []string{"start_emulator"}, 1, started, started.Add(time.Second), sum)

	require.NoError(t, store.WriteReport(rep))

	got, err := store.LoadReport(rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, rep, got)
	assert.True(t, got.Failed)
	require.Len(t, got.Tasks, 3)
	assert.Equal(t, int64(120), got.Tasks[0].DurationMS)
	assert.Equal(t, "dependency failed", got.Tasks[2].Reason)

	ids, err := store.ListRunIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{rep.RunID}, ids)
}

func TestWriteReport_RejectsInvalid(t *testing.T) {
	ws := t.TempDir()
	store, err := NewStore(ws)
	require.NoError(t, err)

	rep := Report{RunID: "", StartedAt: time.Now(), FinishedAt: time.Now()}
	err = store.WriteReport(rep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run_id is required")
}

func TestReportValidate_DuplicateTask(t *testing.T) {
	now := time.Now().UTC()
	rep := Report{
		RunID:      NewRunID(),
		StartedAt:  now,
		FinishedAt: now,
		Targets:    []string{},
		Tasks: []TaskReport{
			{Name: "merge_firmware", State: "COMPLETED"},
			{Name: "merge_firmware", State: "FAILED"},
		},
	}
	err := rep.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task")
}
