package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store persists run artifacts under <workspace>/.firmforge/:
//
//	.firmforge/state.json          fingerprints from the last run
//	.firmforge/runs/<run-id>.json  one report per run
//
// All writes are atomic and durable (file sync + rename + dir sync), so a
// crash mid-write never leaves a truncated state file behind.
type Store struct {
	workspace string
}

// StateDirName is the workspace-relative directory the store writes into.
const StateDirName = ".firmforge"

func NewStore(workspace string) (*Store, error) {
	if strings.TrimSpace(workspace) == "" {
		return nil, errors.New("workspace is required")
	}
	return &Store{workspace: workspace}, nil
}

func (s *Store) stateDir() string {
	return filepath.Join(s.workspace, StateDirName)
}

func (s *Store) statePath() string {
	return filepath.Join(s.stateDir(), "state.json")
}

func (s *Store) runsDir() string {
	return filepath.Join(s.stateDir(), "runs")
}

func (s *Store) reportPath(runID string) string {
	return filepath.Join(s.runsDir(), runID+".json")
}

// stateFile is the on-disk shape of state.json.
type stateFile struct {
	Version      string            `json:"version"`
	Fingerprints map[string]string `json:"fingerprints"`
}

const stateVersion = "1"

// LoadFingerprints reads the fingerprints persisted by the previous run.
// A missing state file is not an error; nil is returned.
func (s *Store) LoadFingerprints() (map[string]string, error) {
	var st stateFile
	if err := readJSONStrict(s.statePath(), &st); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	if st.Version != stateVersion {
		return nil, fmt.Errorf("unsupported state version %q", st.Version)
	}
	return st.Fingerprints, nil
}

// SaveFingerprints merges the given fingerprints into the persisted state
// and writes it back atomically. Merging keeps fingerprints of tasks the
// current run did not touch.
func (s *Store) SaveFingerprints(updated map[string]string) error {
	existing, err := s.LoadFingerprints()
	if err != nil {
		return err
	}
	merged := make(map[string]string, len(existing)+len(updated))
	for name, fp := range existing {
		merged[name] = fp
	}
	for name, fp := range updated {
		merged[name] = fp
	}

	if err := ensureDirDurable(s.stateDir(), 0o755); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}
	data, err := jsonMarshalStable(stateFile{Version: stateVersion, Fingerprints: merged})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := writeFileAtomicDurable(s.statePath(), data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// WriteReport persists a run report under runs/<run-id>.json.
func (s *Store) WriteReport(r Report) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid report: %w", err)
	}
	if err := ensureDirDurable(s.runsDir(), 0o755); err != nil {
		return fmt.Errorf("ensure runs dir: %w", err)
	}
	data, err := jsonMarshalStable(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := writeFileAtomicDurable(s.reportPath(r.RunID), data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// LoadReport reads one run report back.
func (s *Store) LoadReport(runID string) (Report, error) {
	var r Report
	if strings.TrimSpace(runID) == "" {
		return Report{}, errors.New("runID is required")
	}
	if err := readJSONStrict(s.reportPath(runID), &r); err != nil {
		return Report{}, err
	}
	if err := r.Validate(); err != nil {
		return Report{}, fmt.Errorf("invalid report on disk: %w", err)
	}
	return r, nil
}

// ListRunIDs returns the run IDs present on disk, sorted lexicographically
// by os.ReadDir.
func (s *Store) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.runsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	return ids, nil
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}
	parent := filepath.Dir(dir)
	if parent != dir {
		if err := fsyncDir(parent); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
