// Package cli implements the firmforge command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"firmforge/internal/config"
	"firmforge/internal/graph"
)

// envPrefix makes every flag overridable from the environment, e.g.
// FIRMFORGE_JOBS=4 or FIRMFORGE_NO_COLOR=1.
const envPrefix = "FIRMFORGE"

// app holds the state shared by all commands.
type app struct {
	v   *viper.Viper
	log *log.Logger

	stdout io.Writer
	stderr io.Writer

	styles styles

	cfgFile   string
	workspace string
	verbose   bool
	noColor   bool
}

type styles struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	Cell   lipgloss.Style
	Border lipgloss.Style
	OK     lipgloss.Style
	Fail   lipgloss.Style
	Dim    lipgloss.Style
}

func newStyles(noColor bool) styles {
	plain := lipgloss.NewStyle()
	padded := plain.Padding(0, 1)
	if noColor {
		return styles{
			Title:  plain,
			Header: padded,
			Cell:   padded,
			Border: plain,
			OK:     plain,
			Fail:   plain,
			Dim:    plain,
		}
	}
	return styles{
		Title:  plain.Bold(true),
		Header: padded.Bold(true).Foreground(lipgloss.Color("99")),
		Cell:   padded,
		Border: plain.Foreground(lipgloss.Color("240")),
		OK:     plain.Foreground(lipgloss.Color("42")),
		Fail:   plain.Bold(true).Foreground(lipgloss.Color("196")),
		Dim:    plain.Foreground(lipgloss.Color("245")),
	}
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		v:      viper.New(),
		stdout: stdout,
		stderr: stderr,
	}
}

// Execute runs the command tree and maps errors to process exit codes.
func Execute(ctx context.Context) int {
	a := newApp(os.Stdout, os.Stderr)
	root := a.rootCmd()

	if err := root.ExecuteContext(ctx); err != nil {
		var xe *ExitError
		if errors.As(err, &xe) {
			if xe.Message != "" {
				fmt.Fprintln(os.Stderr, "firmforge:", xe.Message)
			}
			return xe.Code
		}
		// cobra's own errors are all invocation problems (unknown flag,
		// unknown subcommand, bad arg count).
		fmt.Fprintln(os.Stderr, "firmforge:", err)
		return ExitInvalidInvocation
	}
	return ExitSuccess
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "firmforge",
		Short: "Firmware build task runner",
		Long: "firmforge runs the task pipeline described by a firmforge.yaml file:\n" +
			"filesystem image creation, firmware merging, and emulator startup,\n" +
			"in dependency order with up-to-date skipping.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "file", "f", "", "tasks file (default <workspace>/"+config.DefaultFileName+")")
	pf.StringVarP(&a.workspace, "workspace", "C", "", "workspace directory (default cwd, or the tasks file's directory)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&a.noColor, "no-color", false, "disable styled output")

	root.AddCommand(
		a.runCmd(),
		a.watchCmd(),
		a.listCmd(),
		a.graphCmd(),
		a.initCmd(),
		a.mergeCmd(),
		a.uf2Cmd(),
		a.portsCmd(),
	)
	return root
}

// setup binds the executing command's flags into viper (so FIRMFORGE_* env
// vars override defaults but not explicit flags) and configures logging.
func (a *app) setup(cmd *cobra.Command) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return internalErr(err)
	}
	if err := a.v.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return internalErr(err)
	}

	a.cfgFile = a.v.GetString("file")
	a.workspace = a.v.GetString("workspace")
	a.verbose = a.v.GetBool("verbose")
	a.noColor = a.v.GetBool("no-color")
	a.styles = newStyles(a.noColor)

	a.log = log.NewWithOptions(a.stderr, log.Options{
		ReportTimestamp: false,
		Prefix:          "firmforge",
	})
	if a.verbose {
		a.log.SetLevel(log.DebugLevel)
	}
	return nil
}

// resolvePaths returns the tasks file path and the workspace directory.
// The workspace defaults to the tasks file's directory when --file is given,
// otherwise to the current directory.
func (a *app) resolvePaths() (cfgPath, workspace string, err error) {
	cfgPath = a.cfgFile
	workspace = a.workspace

	switch {
	case workspace == "" && cfgPath == "":
		workspace, err = os.Getwd()
		if err != nil {
			return "", "", internalErr(err)
		}
		cfgPath = filepath.Join(workspace, config.DefaultFileName)
	case workspace == "":
		cfgPath, err = filepath.Abs(cfgPath)
		if err != nil {
			return "", "", internalErr(err)
		}
		workspace = filepath.Dir(cfgPath)
	case cfgPath == "":
		cfgPath = filepath.Join(workspace, config.DefaultFileName)
	default:
		if !filepath.IsAbs(cfgPath) {
			cfgPath = filepath.Join(workspace, cfgPath)
		}
	}
	return cfgPath, workspace, nil
}

// loadProject loads and validates the tasks file and builds its graph.
func (a *app) loadProject() (*config.File, *graph.Graph, string, error) {
	cfgPath, workspace, err := a.resolvePaths()
	if err != nil {
		return nil, nil, "", err
	}
	a.log.Debug("loading tasks file", "path", cfgPath, "workspace", workspace)

	file, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, "", configErr(err)
	}
	g, err := graph.New(file.Tasks)
	if err != nil {
		return nil, nil, "", configErr(err)
	}
	return file, g, workspace, nil
}

func (a *app) renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(a.styles.Border).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return a.styles.Header
			}
			return a.styles.Cell
		}).
		Headers(headers...)
	for _, r := range rows {
		t.Row(r...)
	}
	return t.Render()
}
