package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"firmforge/internal/firmware"
)

func (a *app) uf2Cmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uf2",
		Short: "Inspect UF2 firmware files",
	}
	cmd.AddCommand(a.uf2InfoCmd())
	return cmd
}

func (a *app) uf2InfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file.uf2>",
		Short: "Describe a UF2 file: families, address ranges, embedded filesystems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := firmware.ReadUF2File(args[0])
			if err != nil {
				return exitErrorf(ExitTaskFailure, "%v", err)
			}
			fmt.Fprint(a.stdout, f.Summary())
			return nil
		},
	}
}
