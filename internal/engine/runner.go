package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"firmforge/internal/config"
	"firmforge/internal/graph"
)

// TaskResult is the outcome of one task within a run.
type TaskResult struct {
	Name     string
	State    graph.TaskState
	ExitCode int
	Attempts int
	Duration time.Duration
	// Reason explains non-executed outcomes ("up-to-date", "dependency failed").
	Reason string
}

// Summary aggregates a whole run.
type Summary struct {
	// Results in deterministic topological order, restricted to the tasks
	// the run actually considered.
	Results []TaskResult

	// Fingerprints holds the updated fingerprint per task name after the
	// run, ready to persist for the next invocation.
	Fingerprints map[string]string

	Failed bool
}

// PlannedStep is one entry of a dry-run plan.
type PlannedStep struct {
	Name    string
	Command string
}

// Runner executes a task graph.
//
// Serial execution polls the scheduler and always runs the first ready task,
// so ordering is fully deterministic. With Jobs > 1 ready tasks are
// dispatched to a bounded worker pool; all state mutations stay behind a
// single mutex and failure propagation is identical to the serial path.
type Runner struct {
	Graph     *graph.Graph
	File      *config.File
	Workspace string

	Exec *ShellExecutor
	Log  *log.Logger

	// Jobs is the maximum number of concurrently running tasks; values
	// below 2 select the serial path.
	Jobs int

	// Force disables up-to-date skipping.
	Force bool

	// Fingerprints from the previous run, keyed by task name.
	Fingerprints map[string]string

	// GOOS overrides platform selection for command variants and shell.
	GOOS string
}

func (r *Runner) goos() string {
	if r.GOOS != "" {
		return r.GOOS
	}
	return runtime.GOOS
}

// Plan returns the effective commands in execution order without running
// anything. targets restrict the plan to the named tasks and their
// dependencies; empty targets plan the whole graph.
func (r *Runner) Plan(targets []string) ([]PlannedStep, error) {
	include, err := r.closure(targets)
	if err != nil {
		return nil, err
	}

	steps := make([]PlannedStep, 0, len(include))
	for _, name := range r.Graph.TopologicalOrder() {
		if !include[name] {
			continue
		}
		node, _ := r.Graph.Node(name)
		steps = append(steps, PlannedStep{Name: name, Command: node.Task.EffectiveCommand(r.goos())})
	}
	return steps, nil
}

// Run executes the targets (or the whole graph) and returns a summary.
//
// A task failure is reported through Summary.Failed, not through the error
// return; the error is reserved for infrastructure problems (unreadable
// inputs, a shell that cannot start, internal invariant violations).
func (r *Runner) Run(ctx context.Context, targets []string) (*Summary, error) {
	include, err := r.closure(targets)
	if err != nil {
		return nil, err
	}

	state := make(graph.State, len(include))
	for name := range include {
		state[name] = graph.TaskPending
	}

	run := &runState{
		runner:  r,
		state:   state,
		results: make(map[string]TaskResult, len(include)),
		fp:      &Fingerprinter{Workspace: r.Workspace, GOOS: r.goos()},
		newFPs:  make(map[string]string),
	}

	if r.Jobs > 1 {
		err = run.runParallel(ctx, r.Jobs)
	} else {
		err = run.runSerial(ctx)
	}
	if err != nil {
		return nil, err
	}
	return run.summary(), nil
}

func (r *Runner) closure(targets []string) (map[string]bool, error) {
	if len(targets) == 0 {
		include := make(map[string]bool)
		for _, n := range r.Graph.Nodes() {
			include[n.Name] = true
		}
		return include, nil
	}
	return r.Graph.Closure(targets)
}

// mergedEnv builds the task environment: host environment overlaid with the
// tasks file env block, overlaid with the task's own env. Later layers win.
// Keys are emitted in sorted order so process spawning is reproducible.
func (r *Runner) mergedEnv(task *config.Task) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range r.File.Env {
		merged[k] = v
	}
	for k, v := range task.Env {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

func (r *Runner) taskDir(task *config.Task) string {
	if task.Cwd == "" {
		return r.Workspace
	}
	if filepath.IsAbs(task.Cwd) {
		return task.Cwd
	}
	return filepath.Join(r.Workspace, task.Cwd)
}

// runState is the mutable bookkeeping for one Run invocation. All fields are
// guarded by mu on the parallel path; the serial path is single-goroutine.
type runState struct {
	runner *Runner

	mu      sync.Mutex
	state   graph.State
	results map[string]TaskResult
	fp      *Fingerprinter
	newFPs  map[string]string
}

func (rs *runState) summary() *Summary {
	s := &Summary{Fingerprints: rs.newFPs}
	for _, name := range rs.runner.Graph.TopologicalOrder() {
		res, ok := rs.results[name]
		if !ok {
			continue
		}
		s.Results = append(s.Results, res)
		if res.State == graph.TaskFailed || res.State == graph.TaskSkipped {
			s.Failed = true
		}
	}
	return s
}

func (rs *runState) allTerminal() bool {
	for _, st := range rs.state {
		if !graph.IsTerminal(st) {
			return false
		}
	}
	return true
}

// recordSkipped fills results for tasks FailAndPropagate marked SKIPPED.
func (rs *runState) recordSkipped() {
	for name, st := range rs.state {
		if st != graph.TaskSkipped {
			continue
		}
		if _, done := rs.results[name]; !done {
			rs.results[name] = TaskResult{Name: name, State: graph.TaskSkipped, Reason: "dependency failed"}
		}
	}
}

// checkUpToDate decides whether the task can be skipped, and returns the
// fresh fingerprint to persist on success (empty when the task declares no
// inputs).
func (rs *runState) checkUpToDate(task *config.Task) (skip bool, fingerprint string, err error) {
	fingerprint, err = rs.fp.Fingerprint(task)
	if err != nil {
		return false, "", err
	}
	if fingerprint == "" || rs.runner.Force {
		return false, fingerprint, nil
	}
	prev, ok := rs.runner.Fingerprints[task.Name]
	if !ok || prev != fingerprint {
		return false, fingerprint, nil
	}
	if !rs.fp.OutputsExist(task) {
		return false, fingerprint, nil
	}
	return true, fingerprint, nil
}

// execWithRetry runs the task command, re-executing on non-zero exit up to
// task.Retry additional times with exponential backoff. Infrastructure
// errors are permanent.
func (rs *runState) execWithRetry(ctx context.Context, task *config.Task) (*ExecResult, int, error) {
	r := rs.runner
	spec := Spec{
		Name:    task.Name,
		Command: task.EffectiveCommand(r.goos()),
		Dir:     r.taskDir(task),
		Env:     r.mergedEnv(task),
	}

	var result *ExecResult
	attempts := 0

	op := func() error {
		attempts++
		res, err := r.Exec.Execute(ctx, spec)
		if err != nil {
			return backoff.Permanent(err)
		}
		result = res
		if res.ExitCode != 0 {
			return fmt.Errorf("task %q exited with code %d", task.Name, res.ExitCode)
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(task.Retry))
	retryErr := backoff.Retry(op, backoff.WithContext(policy, ctx))
	if retryErr != nil && result == nil {
		// Never produced a result: the command could not be executed at all.
		return nil, attempts, retryErr
	}
	return result, attempts, nil
}

// runOne executes a single ready task whose state is already RUNNING.
// It returns the result to record; infra errors abort the run.
func (rs *runState) runOne(ctx context.Context, task *config.Task) (TaskResult, error) {
	r := rs.runner
	r.Log.Debug("running task", "task", task.Name, "command", task.EffectiveCommand(r.goos()))

	result, attempts, err := rs.execWithRetry(ctx, task)
	if err != nil {
		return TaskResult{}, err
	}
	return TaskResult{
		Name:     task.Name,
		ExitCode: result.ExitCode,
		Attempts: attempts,
		Duration: result.Duration,
	}, nil
}

// settle applies a finished task's result to the shared state. Caller must
// hold mu (or be on the serial path).
func (rs *runState) settle(res TaskResult, fingerprint string) error {
	r := rs.runner
	if res.ExitCode == 0 {
		if err := graph.Transition(rs.state, res.Name, graph.TaskRunning, graph.TaskCompleted); err != nil {
			return err
		}
		res.State = graph.TaskCompleted
		if fingerprint != "" {
			rs.newFPs[res.Name] = fingerprint
		}
		r.Log.Info("task completed", "task", res.Name, "duration", res.Duration)
	} else {
		if err := graph.FailAndPropagate(r.Graph, rs.state, res.Name); err != nil {
			return err
		}
		res.State = graph.TaskFailed
		rs.recordSkipped()
		r.Log.Error("task failed", "task", res.Name, "exit", res.ExitCode, "attempts", res.Attempts)
	}
	rs.results[res.Name] = res
	return nil
}

func (rs *runState) markUpToDate(name string) error {
	if err := graph.Transition(rs.state, name, graph.TaskPending, graph.TaskUpToDate); err != nil {
		return err
	}
	rs.results[name] = TaskResult{Name: name, State: graph.TaskUpToDate, Reason: "up-to-date"}
	rs.runner.Log.Info("task up-to-date", "task", name)
	return nil
}

func (rs *runState) runSerial(ctx context.Context) error {
	r := rs.runner
	for {
		ready := graph.Ready(r.Graph, rs.state)
		if len(ready) == 0 {
			if rs.allTerminal() {
				return nil
			}
			return fmt.Errorf("no ready tasks but run not finished")
		}

		name := ready[0]
		node, _ := r.Graph.Node(name)
		task := &node.Task

		skip, fingerprint, err := rs.checkUpToDate(task)
		if err != nil {
			return err
		}
		if skip {
			if err := rs.markUpToDate(name); err != nil {
				return err
			}
			continue
		}

		if err := graph.Transition(rs.state, name, graph.TaskPending, graph.TaskRunning); err != nil {
			return err
		}
		res, err := rs.runOne(ctx, task)
		if err != nil {
			return err
		}
		if err := rs.settle(res, fingerprint); err != nil {
			return err
		}
	}
}

func (rs *runState) runParallel(ctx context.Context, jobs int) error {
	r := rs.runner

	var eg errgroup.Group
	doneCh := make(chan struct{}, len(rs.state))
	inflight := 0

	rs.mu.Lock()
	for {
		dispatched := false
		for _, name := range graph.Ready(r.Graph, rs.state) {
			if inflight >= jobs {
				break
			}
			node, _ := r.Graph.Node(name)
			task := &node.Task

			skip, fingerprint, err := rs.checkUpToDate(task)
			if err != nil {
				rs.mu.Unlock()
				eg.Wait() //nolint:errcheck // first error already captured
				return err
			}
			if skip {
				if err := rs.markUpToDate(name); err != nil {
					rs.mu.Unlock()
					return err
				}
				dispatched = true
				continue
			}

			if err := graph.Transition(rs.state, name, graph.TaskPending, graph.TaskRunning); err != nil {
				rs.mu.Unlock()
				return err
			}
			inflight++
			dispatched = true

			eg.Go(func() error {
				res, err := rs.runOne(ctx, task)

				rs.mu.Lock()
				defer func() {
					rs.mu.Unlock()
					doneCh <- struct{}{}
				}()
				if err != nil {
					// Mark failed so the dispatcher can terminate; the
					// infra error itself surfaces through eg.Wait.
					if ferr := graph.FailAndPropagate(r.Graph, rs.state, task.Name); ferr == nil {
						rs.recordSkipped()
						rs.results[task.Name] = TaskResult{Name: task.Name, State: graph.TaskFailed, ExitCode: -1, Reason: err.Error()}
					}
					return err
				}
				return rs.settle(res, fingerprint)
			})
		}

		if inflight == 0 {
			if rs.allTerminal() {
				rs.mu.Unlock()
				return eg.Wait()
			}
			if !dispatched {
				rs.mu.Unlock()
				_ = eg.Wait()
				return fmt.Errorf("no ready tasks but run not finished")
			}
			continue
		}

		rs.mu.Unlock()
		<-doneCh
		rs.mu.Lock()
		inflight--
	}
}
