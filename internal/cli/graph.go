package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"firmforge/internal/graph"
)

func (a *app) graphCmd() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the task dependency graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, g, _, err := a.loadProject()
			if err != nil {
				return err
			}
			if dot {
				fmt.Fprint(a.stdout, dotGraph(g))
				return nil
			}

			// Topological listing with per-task dependencies.
			for _, name := range g.TopologicalOrder() {
				node, _ := g.Node(name)
				deps := node.Task.DependsOn
				if len(deps) == 0 {
					fmt.Fprintln(a.stdout, name)
					continue
				}
				fmt.Fprintf(a.stdout, "%s %s %s\n", name,
					a.styles.Dim.Render("<-"), strings.Join(deps, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "emit Graphviz dot instead of text")
	return cmd
}

func dotGraph(g *graph.Graph) string {
	var b strings.Builder
	b.WriteString("digraph firmforge {\n")
	b.WriteString("  rankdir=LR;\n")
	for _, name := range g.TopologicalOrder() {
		fmt.Fprintf(&b, "  %q;\n", name)
	}
	for _, e := range g.Edges() {
		fmt.Fprintf(&b, "  %q -> %q;\n", e.From, e.To)
	}
	b.WriteString("}\n")
	return b.String()
}
