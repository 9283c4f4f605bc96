package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"firmforge/internal/firmware"
)

func (a *app) portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports [name]",
		Short: "List known boards and their filesystem geometry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				p, ok := firmware.Lookup(args[0])
				if !ok {
					return invalidf("unknown port %q", args[0])
				}
				fmt.Fprintln(a.stdout, a.portsTable([]firmware.PortInfo{p}))
				return nil
			}
			fmt.Fprintln(a.stdout, a.portsTable(firmware.Ports()))
			return nil
		},
	}
}

func (a *app) portsTable(ports []firmware.PortInfo) string {
	rows := make([][]string, 0, len(ports))
	for _, p := range ports {
		base := ""
		if p.DriveBase != 0 {
			base = fmt.Sprintf("0x%08X", p.DriveBase)
		}
		rows = append(rows, []string{
			p.Name,
			strconv.Itoa(p.BlockSize),
			strconv.Itoa(p.BlockCount),
			fmt.Sprintf("%d KiB", p.ImageSize/1024),
			base,
		})
	}
	return a.renderTable([]string{"PORT", "BLOCK SIZE", "BLOCKS", "FS SIZE", "DRIVE BASE"}, rows)
}
