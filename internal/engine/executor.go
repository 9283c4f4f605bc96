// Package engine executes the task graph: it runs shell commands with merged
// environments, streams their output, retries flaky tools, and skips tasks
// whose inputs have not changed since the last successful run.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// Spec is a fully resolved single execution: the effective command line for
// this OS, the working directory, and the complete environment.
type Spec struct {
	Name    string
	Command string
	Dir     string
	Env     []string
}

// ExecResult contains the outcome of one command execution.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ShellExecutor runs a command line through the platform shell
// (sh -c, or cmd /C on Windows).
//
// Output is captured and, when Stdout/Stderr are set, also streamed line by
// line prefixed with the task name so interleaved parallel output stays
// attributable.
type ShellExecutor struct {
	Stdout io.Writer
	Stderr io.Writer

	// GOOS overrides the platform shell selection; empty means runtime.GOOS.
	GOOS string
}

func (e *ShellExecutor) shell(command string) (string, []string) {
	goos := e.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	if goos == "windows" {
		return "cmd", []string{"/C", command}
	}
	return "sh", []string{"-c", command}
}

// Execute runs the spec's command and waits for it to finish.
//
// On context cancellation the whole process group is killed, not just the
// shell, so child processes (emulators, flashing tools) do not outlive the
// run.
func (e *ShellExecutor) Execute(ctx context.Context, spec Spec) (*ExecResult, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("task %q: empty command", spec.Name)
	}

	shell, args := e.shell(spec.Command)
	cmd := exec.CommandContext(ctx, shell, args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	setProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	outW, outPW := teeWithPrefix(&stdout, e.Stdout, spec.Name)
	errW, errPW := teeWithPrefix(&stderr, e.Stderr, spec.Name)
	cmd.Stdout = outW
	cmd.Stderr = errW

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("task %q: starting %s: %w", spec.Name, shell, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			killProcessGroup(cmd)
		}
		<-done // wait for the process to actually exit
		flushPrefixed(outPW, errPW)
		return nil, fmt.Errorf("task %q cancelled: %w", spec.Name, ctx.Err())
	case waitErr = <-done:
	}
	flushPrefixed(outPW, errPW)

	exitCode := 0
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("task %q: %w", spec.Name, waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	return &ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}

// teeWithPrefix captures everything into buf and mirrors complete lines,
// prefixed with the task name, to stream (when non-nil).
func teeWithPrefix(buf *bytes.Buffer, stream io.Writer, name string) (io.Writer, *prefixWriter) {
	if stream == nil {
		return buf, nil
	}
	pw := &prefixWriter{w: stream, prefix: "[" + name + "] "}
	return io.MultiWriter(buf, pw), pw
}

func flushPrefixed(writers ...*prefixWriter) {
	for _, pw := range writers {
		if pw != nil {
			_ = pw.Flush()
		}
	}
}

// prefixWriter emits whole lines prefixed with the task name. Partial lines
// are buffered until a newline (or a final flush) arrives, keeping parallel
// task output readable.
type prefixWriter struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	buf    bytes.Buffer
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := len(b)
	for {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			p.buf.Write(b)
			return total, nil
		}
		line := b[:i+1]
		if p.buf.Len() > 0 {
			p.buf.Write(line)
			line = p.buf.Bytes()
		}
		if _, err := io.WriteString(p.w, p.prefix); err != nil {
			return total, err
		}
		if _, err := p.w.Write(line); err != nil {
			return total, err
		}
		p.buf.Reset()
		b = b[i+1:]
	}
}

// Flush writes any buffered partial line, terminating it with a newline.
func (p *prefixWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf.Len() == 0 {
		return nil
	}
	if _, err := io.WriteString(p.w, p.prefix); err != nil {
		return err
	}
	p.buf.WriteByte('\n')
	_, err := p.w.Write(p.buf.Bytes())
	p.buf.Reset()
	return err
}
