package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"firmforge/internal/engine"
	"firmforge/internal/graph"
	"firmforge/internal/report"
)

func (a *app) runCmd() *cobra.Command {
	var jobs int
	var force, dryRun, noSave bool

	cmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Run tasks and everything they depend on",
		Long: "run executes the named tasks and their transitive dependencies in\n" +
			"dependency order. Without arguments the whole pipeline runs. Tasks with\n" +
			"declared inputs are skipped when nothing changed since the last run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, g, workspace, err := a.loadProject()
			if err != nil {
				return err
			}
			jobs = a.v.GetInt("jobs")
			force = a.v.GetBool("force")

			runner := &engine.Runner{
				Graph:     g,
				File:      file,
				Workspace: workspace,
				Exec:      &engine.ShellExecutor{Stdout: a.stdout, Stderr: a.stderr},
				Log:       a.log,
				Jobs:      jobs,
				Force:     force,
			}

			if dryRun {
				steps, err := runner.Plan(args)
				if err != nil {
					return mapRunErr(err)
				}
				for i, s := range steps {
					fmt.Fprintf(a.stdout, "%2d. %-24s %s\n", i+1, s.Name, a.styles.Dim.Render(s.Command))
				}
				return nil
			}

			store, err := report.NewStore(workspace)
			if err != nil {
				return internalErr(err)
			}
			fps, err := store.LoadFingerprints()
			if err != nil {
				a.log.Warn("ignoring unreadable run state", "err", err)
				fps = nil
			}
			runner.Fingerprints = fps

			runID := report.NewRunID()
			started := time.Now()
			sum, err := runner.Run(cmd.Context(), args)
			if err != nil {
				return mapRunErr(err)
			}
			finished := time.Now()

			fmt.Fprintln(a.stdout, a.summaryTable(sum))

			if !noSave {
				if err := store.SaveFingerprints(sum.Fingerprints); err != nil {
					a.log.Warn("could not persist run state", "err", err)
				}
				rep := report.FromSummary(runID, args, jobs, started, finished, sum)
				if err := store.WriteReport(rep); err != nil {
					a.log.Warn("could not write run report", "err", err)
				} else {
					a.log.Debug("run report written", "run_id", runID)
				}
			}

			if sum.Failed {
				return exitErrorf(ExitTaskFailure, "run failed")
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", 1, "maximum number of concurrently running tasks")
	cmd.Flags().BoolVar(&force, "force", false, "run tasks even when up-to-date")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the execution plan without running anything")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not persist fingerprints or a run report")
	return cmd
}

// mapRunErr classifies engine errors: bad target names are invocation
// errors, an interrupt is a task failure, anything else is internal.
func mapRunErr(err error) error {
	switch {
	case errors.Is(err, graph.ErrInvalidGraph):
		return invalidf("%v", err)
	case errors.Is(err, context.Canceled):
		return exitErrorf(ExitTaskFailure, "run interrupted")
	default:
		return internalErr(err)
	}
}

func (a *app) summaryTable(sum *engine.Summary) string {
	rows := make([][]string, 0, len(sum.Results))
	for _, res := range sum.Results {
		dur := ""
		if res.Duration > 0 {
			dur = res.Duration.Round(time.Millisecond).String()
		}
		attempts := ""
		if res.Attempts > 0 {
			attempts = strconv.Itoa(res.Attempts)
		}
		rows = append(rows, []string{
			a.stateLabel(res.State),
			res.Name,
			dur,
			attempts,
			res.Reason,
		})
	}
	return a.renderTable([]string{"STATE", "TASK", "DURATION", "ATTEMPTS", "NOTE"}, rows)
}

func (a *app) stateLabel(s graph.TaskState) string {
	switch s {
	case graph.TaskCompleted:
		return a.styles.OK.Render(string(s))
	case graph.TaskFailed:
		return a.styles.Fail.Render(string(s))
	default:
		return a.styles.Dim.Render(string(s))
	}
}
