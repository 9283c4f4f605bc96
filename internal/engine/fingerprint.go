package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"firmforge/internal/config"
)

// Fingerprinter computes content-based fingerprints for tasks that declare
// inputs. A fingerprint covers the effective command and the sorted resolved
// input files (path and content), so it is stable across runs and machines
// regardless of filesystem enumeration order.
type Fingerprinter struct {
	// Workspace is the base directory for resolving relative patterns.
	Workspace string

	// GOOS selects the effective command variant; empty means the host OS.
	GOOS string
}

// Fingerprint returns the task's input fingerprint, or "" when the task
// declares no inputs (such tasks always run).
func (f *Fingerprinter) Fingerprint(task *config.Task) (string, error) {
	if len(task.Inputs) == 0 {
		return "", nil
	}

	paths, err := f.resolve(task.Inputs)
	if err != nil {
		return "", fmt.Errorf("task %q: %w", task.Name, err)
	}

	h := sha256.New()
	writeField := func(data []byte) {
		length := uint64(len(data))
		h.Write([]byte{
			byte(length >> 56), byte(length >> 48), byte(length >> 40), byte(length >> 32),
			byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length),
		})
		h.Write(data)
	}

	count := uint64(len(paths))
	writeField([]byte(task.EffectiveCommand(f.goos())))
	writeField([]byte{
		byte(count >> 56), byte(count >> 48), byte(count >> 40), byte(count >> 32),
		byte(count >> 24), byte(count >> 16), byte(count >> 8), byte(count),
	})
	for _, p := range paths {
		content, err := os.ReadFile(filepath.Join(f.Workspace, filepath.FromSlash(p)))
		if err != nil {
			return "", fmt.Errorf("task %q: reading input %q: %w", task.Name, p, err)
		}
		writeField([]byte(p))
		writeField(content)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// OutputsExist reports whether every declared output resolves to at least
// one existing file. A task with no declared outputs trivially satisfies it.
func (f *Fingerprinter) OutputsExist(task *config.Task) bool {
	for _, pattern := range task.Outputs {
		full := pattern
		if !filepath.IsAbs(full) {
			full = filepath.Join(f.Workspace, full)
		}
		if containsGlobChar(pattern) {
			matches, err := filepath.Glob(full)
			if err != nil || len(matches) == 0 {
				return false
			}
			continue
		}
		if _, err := os.Stat(full); err != nil {
			return false
		}
	}
	return true
}

func (f *Fingerprinter) goos() string {
	if f.GOOS != "" {
		return f.GOOS
	}
	return runtime.GOOS
}

// resolve expands input patterns into a strictly sorted, deduplicated list
// of workspace-relative slash paths. Directories are skipped; only file
// content contributes to task identity.
func (f *Fingerprinter) resolve(patterns []string) ([]string, error) {
	pathSet := make(map[string]struct{})

	for _, pattern := range patterns {
		full := pattern
		if !filepath.IsAbs(full) {
			full = filepath.Join(f.Workspace, full)
		}

		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 && !containsGlobChar(pattern) {
			if _, err := os.Stat(full); err == nil {
				matches = []string{full}
			}
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, fmt.Errorf("stat %q: %w", match, err)
			}
			if info.IsDir() {
				continue
			}
			rel, err := filepath.Rel(f.Workspace, match)
			if err != nil {
				rel = match
			}
			pathSet[filepath.ToSlash(rel)] = struct{}{}
		}
	}

	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func containsGlobChar(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', ']':
			return true
		}
	}
	return false
}
