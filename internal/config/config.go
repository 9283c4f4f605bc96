// Package config defines the tasks file model for a firmforge workspace.
//
// A tasks file is a declarative description of the build pipeline: named
// tasks with shell commands, per-OS command variants, dependency edges, and
// a workspace-level variable block that is substituted into command strings
// before anything executes.
package config

import "fmt"

// DefaultFileName is the tasks file firmforge looks for in the workspace root.
const DefaultFileName = "firmforge.yaml"

// Task groups, mirroring the classification the tasks file exposes to users.
const (
	GroupNone  = "none"
	GroupBuild = "build"
	GroupTest  = "test"
)

// File is the top-level tasks file.
//
// Env holds workspace variables (for example firmware_bin, littlefs_image,
// wokwi_bin). Values may reference other entries with ${name}; references
// must not form a cycle.
type File struct {
	Version string            `yaml:"version"`
	Env     map[string]string `yaml:"env,omitempty"`
	Tasks   []Task            `yaml:"tasks"`
}

// Task is a single invocable unit of work.
//
// Command is the default command line. Windows, Linux and OSX override it on
// the matching platform. A task is valid as long as it has an effective
// command for the OS it is loaded on.
type Task struct {
	Name      string            `yaml:"name"`
	Detail    string            `yaml:"detail,omitempty"`
	Command   string            `yaml:"command,omitempty"`
	Windows   string            `yaml:"windows,omitempty"`
	Linux     string            `yaml:"linux,omitempty"`
	OSX       string            `yaml:"osx,omitempty"`
	DependsOn []string          `yaml:"dependsOn,omitempty"`
	Group     string            `yaml:"group,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Cwd       string            `yaml:"cwd,omitempty"`

	// Inputs and Outputs are glob patterns relative to the workspace.
	// Declaring inputs enables up-to-date skipping: a task whose resolved
	// input fingerprint is unchanged since the last successful run, and
	// whose outputs all exist, is not re-executed.
	Inputs  []string `yaml:"inputs,omitempty"`
	Outputs []string `yaml:"outputs,omitempty"`

	// Retry is the number of additional attempts after a non-zero exit.
	Retry int `yaml:"retry,omitempty"`
}

// EffectiveCommand returns the command line for the given GOOS, falling back
// to the default Command when no platform variant is set.
func (t *Task) EffectiveCommand(goos string) string {
	switch goos {
	case "windows":
		if t.Windows != "" {
			return t.Windows
		}
	case "darwin":
		if t.OSX != "" {
			return t.OSX
		}
	default:
		if t.Linux != "" {
			return t.Linux
		}
	}
	return t.Command
}

// EffectiveGroup returns the task's group, defaulting to GroupNone.
func (t *Task) EffectiveGroup() string {
	if t.Group == "" {
		return GroupNone
	}
	return t.Group
}

func (f *File) validate(goos string) error {
	if f.Version != "1" {
		return fmt.Errorf("unsupported tasks file version %q (expected \"1\")", f.Version)
	}
	if len(f.Tasks) == 0 {
		return fmt.Errorf("tasks file defines no tasks")
	}

	byName := make(map[string]struct{}, len(f.Tasks))
	for i := range f.Tasks {
		t := &f.Tasks[i]
		if t.Name == "" {
			return fmt.Errorf("task #%d: name is required", i+1)
		}
		if _, dup := byName[t.Name]; dup {
			return fmt.Errorf("duplicate task name %q", t.Name)
		}
		byName[t.Name] = struct{}{}

		if t.EffectiveCommand(goos) == "" {
			return fmt.Errorf("task %q: no command for %s", t.Name, goos)
		}
		switch t.Group {
		case "", GroupNone, GroupBuild, GroupTest:
		default:
			return fmt.Errorf("task %q: unknown group %q", t.Name, t.Group)
		}
		if t.Retry < 0 {
			return fmt.Errorf("task %q: retry must not be negative", t.Name)
		}
	}

	for i := range f.Tasks {
		t := &f.Tasks[i]
		for _, dep := range t.DependsOn {
			if dep == t.Name {
				return fmt.Errorf("task %q depends on itself", t.Name)
			}
			if _, ok := byName[dep]; !ok {
				return fmt.Errorf("task %q depends on unknown task %q", t.Name, dep)
			}
		}
	}
	return nil
}

// TaskByName returns the task with the given name.
func (f *File) TaskByName(name string) (*Task, bool) {
	for i := range f.Tasks {
		if f.Tasks[i].Name == name {
			return &f.Tasks[i], true
		}
	}
	return nil, false
}
