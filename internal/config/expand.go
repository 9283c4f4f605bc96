package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownVariable is wrapped by expansion errors so callers can branch on
// missing-variable failures without string matching.
var ErrUnknownVariable = errors.New("unknown variable")

// expand resolves the file env block and substitutes variable references in
// every task field that reaches the shell or the filesystem.
//
// Resolution order for ${name}: file env first, then the host environment.
// ${env:NAME} consults the host environment only. A reference that resolves
// nowhere is an error naming the variable; silent empty expansion hides
// typos in flash offsets and paths.
func (f *File) expand(host Environment) error {
	res := &envResolver{file: f.Env, host: host, resolved: make(map[string]string, len(f.Env))}

	// Resolve the env block up front so reference cycles surface as a load
	// error rather than as runaway recursion during task expansion.
	for name := range f.Env {
		if _, err := res.resolve(name); err != nil {
			return err
		}
	}
	f.Env = res.resolved

	for i := range f.Tasks {
		t := &f.Tasks[i]
		where := fmt.Sprintf("task %q", t.Name)

		fields := []*string{&t.Command, &t.Windows, &t.Linux, &t.OSX, &t.Cwd}
		for _, field := range fields {
			expanded, err := res.substitute(*field)
			if err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
			*field = expanded
		}
		for k, v := range t.Env {
			expanded, err := res.substitute(v)
			if err != nil {
				return fmt.Errorf("%s env %q: %w", where, k, err)
			}
			t.Env[k] = expanded
		}
		for j, p := range t.Inputs {
			expanded, err := res.substitute(p)
			if err != nil {
				return fmt.Errorf("%s inputs: %w", where, err)
			}
			t.Inputs[j] = expanded
		}
		for j, p := range t.Outputs {
			expanded, err := res.substitute(p)
			if err != nil {
				return fmt.Errorf("%s outputs: %w", where, err)
			}
			t.Outputs[j] = expanded
		}
	}
	return nil
}

type envResolver struct {
	file     map[string]string
	host     Environment
	resolved map[string]string
	visiting map[string]bool
}

// resolve returns the fully expanded value of a file env entry, following
// references into other entries and the host environment.
func (r *envResolver) resolve(name string) (string, error) {
	if v, ok := r.resolved[name]; ok {
		return v, nil
	}
	raw, ok := r.file[name]
	if !ok {
		if v, ok := r.host.Lookup(name); ok {
			return v, nil
		}
		return "", fmt.Errorf("%w: ${%s}", ErrUnknownVariable, name)
	}

	if r.visiting == nil {
		r.visiting = make(map[string]bool)
	}
	if r.visiting[name] {
		return "", fmt.Errorf("env variable reference cycle through %q", name)
	}
	r.visiting[name] = true
	defer delete(r.visiting, name)

	v, err := r.substitute(raw)
	if err != nil {
		return "", err
	}
	r.resolved[name] = v
	return v, nil
}

// substitute replaces ${name} and ${env:NAME} references in s.
func (r *envResolver) substitute(s string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var out strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		out.WriteString(rest[:start])
		rest = rest[start+2:]

		end := strings.Index(rest, "}")
		if end < 0 {
			return "", fmt.Errorf("unterminated variable reference in %q", s)
		}
		ref := rest[:end]
		rest = rest[end+1:]

		if ref == "" {
			return "", fmt.Errorf("empty variable reference in %q", s)
		}

		if name, isHost := strings.CutPrefix(ref, "env:"); isHost {
			v, ok := r.host.Lookup(name)
			if !ok {
				return "", fmt.Errorf("%w: ${env:%s}", ErrUnknownVariable, name)
			}
			out.WriteString(v)
			continue
		}

		v, err := r.resolve(ref)
		if err != nil {
			return "", err
		}
		out.WriteString(v)
	}
}
