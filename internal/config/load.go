package config

import (
	"bytes"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Load reads, validates, and expands a tasks file.
//
// Expansion replaces every ${name} and ${env:NAME} reference in commands,
// platform variants, task env values, cwd, inputs, and outputs with its
// resolved value. Loading never mutates the host environment.
func Load(path string) (*File, error) {
	return load(path, runtime.GOOS, osEnv{})
}

// Environment abstracts host environment lookup so tests do not depend on
// the process environment.
type Environment interface {
	Lookup(name string) (string, bool)
}

type osEnv struct{}

func (osEnv) Lookup(name string) (string, bool) { return os.LookupEnv(name) }

func load(path string, goos string, host Environment) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tasks file: %w", err)
	}

	var f File
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := f.validate(goos); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if err := f.expand(host); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}
