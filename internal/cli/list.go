package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tasks defined in the tasks file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, g, _, err := a.loadProject()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(file.Tasks))
			for _, node := range g.Nodes() {
				t := node.Task
				rows = append(rows, []string{
					t.Name,
					t.EffectiveGroup(),
					strings.Join(t.DependsOn, ", "),
					t.Detail,
				})
			}
			fmt.Fprintln(a.stdout, a.renderTable([]string{"TASK", "GROUP", "DEPENDS ON", "DETAIL"}, rows))
			return nil
		},
	}
}
