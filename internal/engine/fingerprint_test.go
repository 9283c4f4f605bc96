package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firmforge/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFingerprint_NoInputsIsEmpty(t *testing.T) {
	fp := &Fingerprinter{Workspace: t.TempDir(), GOOS: "linux"}
	got, err := fp.Fingerprint(&config.Task{Name: "emu", Command: "wokwi-cli ."})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFingerprint_StableAndContentSensitive(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "src/main.py", "print('boot')\n")
	writeFile(t, ws, "src/lib.py", "x = 1\n")

	task := &config.Task{
		Name:    "create_littlefs",
		Command: "python tools/filesystem_generate.py",
		Inputs:  []string{"src/*.py"},
	}
	fp := &Fingerprinter{Workspace: ws, GOOS: "linux"}

	first, err := fp.Fingerprint(task)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	again, err := fp.Fingerprint(task)
	require.NoError(t, err)
	assert.Equal(t, first, again, "fingerprint must be stable across runs")

	// Content change produces a new fingerprint.
	writeFile(t, ws, "src/main.py", "print('patched')\n")
	changed, err := fp.Fingerprint(task)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)

	// Command change produces a new fingerprint even with identical inputs.
	other := *task
	other.Command = "python3 tools/filesystem_generate.py"
	cmdChanged, err := fp.Fingerprint(&other)
	require.NoError(t, err)
	assert.NotEqual(t, changed, cmdChanged)
}

func TestFingerprint_LargeInputSets(t *testing.T) {
	ws := t.TempDir()
	for i := 0; i < 300; i++ {
		writeFile(t, ws, filepath.Join("src", fmt.Sprintf("mod%03d.py", i)), "pass\n")
	}

	task := &config.Task{
		Name:    "create_littlefs",
		Command: "python tools/filesystem_generate.py",
		Inputs:  []string{"src/*.py"},
	}
	fp := &Fingerprinter{Workspace: ws, GOOS: "linux"}

	first, err := fp.Fingerprint(task)
	require.NoError(t, err)

	again, err := fp.Fingerprint(task)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// A 301st input still changes the fingerprint.
	writeFile(t, ws, "src/mod300.py", "pass\n")
	grown, err := fp.Fingerprint(task)
	require.NoError(t, err)
	assert.NotEqual(t, first, grown)
}

func TestFingerprint_LiteralPathWithoutGlob(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "firmware/esp32.bin", "\xe9binary")

	task := &config.Task{Name: "merge", Command: "merge", Inputs: []string{"firmware/esp32.bin"}}
	fp := &Fingerprinter{Workspace: ws, GOOS: "linux"}
	got, err := fp.Fingerprint(task)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestOutputsExist(t *testing.T) {
	ws := t.TempDir()
	fp := &Fingerprinter{Workspace: ws, GOOS: "linux"}

	task := &config.Task{Name: "t", Outputs: []string{"build/littlefs.img"}}
	assert.False(t, fp.OutputsExist(task))

	writeFile(t, ws, "build/littlefs.img", "img")
	assert.True(t, fp.OutputsExist(task))

	globTask := &config.Task{Name: "t", Outputs: []string{"build/*.img"}}
	assert.True(t, fp.OutputsExist(globTask))

	emptyGlob := &config.Task{Name: "t", Outputs: []string{"build/*.uf2"}}
	assert.False(t, fp.OutputsExist(emptyGlob))

	noOutputs := &config.Task{Name: "t"}
	assert.True(t, fp.OutputsExist(noOutputs))
}
