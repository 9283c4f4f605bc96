package cli

import (
	"context"
	"errors"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"firmforge/internal/config"
	"firmforge/internal/engine"
	"firmforge/internal/report"
	"firmforge/internal/watch"
)

func (a *app) watchCmd() *cobra.Command {
	var jobs int

	cmd := &cobra.Command{
		Use:   "watch [task...]",
		Short: "Re-run tasks whenever their inputs change",
		Long: "watch runs the named tasks (or the whole pipeline), then watches the\n" +
			"declared inputs of every task in scope and re-runs on each change.\n" +
			"Up-to-date skipping keeps the re-runs incremental.",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, g, workspace, err := a.loadProject()
			if err != nil {
				return err
			}
			jobs = a.v.GetInt("jobs")

			var closure map[string]bool
			if len(args) == 0 {
				closure = make(map[string]bool)
				for _, n := range g.Nodes() {
					closure[n.Name] = true
				}
			} else if closure, err = g.Closure(args); err != nil {
				return invalidf("%v", err)
			}
			paths := watchPaths(workspace, closure, file)
			if len(paths) == 0 {
				return invalidf("no task in scope declares inputs; nothing to watch")
			}

			store, err := report.NewStore(workspace)
			if err != nil {
				return internalErr(err)
			}

			rerun := func(ctx context.Context) {
				fps, err := store.LoadFingerprints()
				if err != nil {
					a.log.Warn("ignoring unreadable run state", "err", err)
					fps = nil
				}
				runner := &engine.Runner{
					Graph:        g,
					File:         file,
					Workspace:    workspace,
					Exec:         &engine.ShellExecutor{Stdout: a.stdout, Stderr: a.stderr},
					Log:          a.log,
					Jobs:         jobs,
					Fingerprints: fps,
				}
				sum, err := runner.Run(ctx, args)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						a.log.Error("run aborted", "err", err)
					}
					return
				}
				if err := store.SaveFingerprints(sum.Fingerprints); err != nil {
					a.log.Warn("could not persist run state", "err", err)
				}
				if sum.Failed {
					a.log.Error("run failed, watching for changes")
				} else {
					a.log.Info("run finished, watching for changes")
				}
			}

			w, err := watch.New(a.log, paths)
			if err != nil {
				return internalErr(err)
			}
			defer w.Close()
			a.log.Info("watching", "dirs", len(w.Dirs()))

			rerun(cmd.Context())
			if err := w.Run(cmd.Context(), rerun); !errors.Is(err, context.Canceled) {
				return internalErr(err)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", 1, "maximum number of concurrently running tasks")
	return cmd
}

// watchPaths resolves the declared inputs of every task in the closure to
// workspace paths. Unmatched glob patterns are kept literally so their
// parent directory is still watched and file creation is noticed.
func watchPaths(workspace string, closure map[string]bool, file *config.File) []string {
	seen := make(map[string]struct{})
	for _, t := range file.Tasks {
		if !closure[t.Name] {
			continue
		}
		for _, pattern := range t.Inputs {
			abs := pattern
			if !filepath.IsAbs(abs) {
				abs = filepath.Join(workspace, pattern)
			}
			matches, err := filepath.Glob(abs)
			if err != nil || len(matches) == 0 {
				matches = []string{abs}
			}
			for _, m := range matches {
				seen[m] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
