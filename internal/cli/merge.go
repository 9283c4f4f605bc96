package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"firmforge/internal/firmware"
)

func (a *app) mergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge firmware and filesystem images",
	}
	cmd.AddCommand(a.mergeBinCmd(), a.mergeUF2Cmd())
	return cmd
}

func (a *app) mergeBinCmd() *cobra.Command {
	var output, flashSize string

	cmd := &cobra.Command{
		Use:   "bin <offset> <file> [<offset> <file>...]",
		Short: "Merge binaries into one flash image at fixed offsets",
		Long: "bin places each input file at its flash offset and pads the gaps\n" +
			"with 0xFF, producing a single image flashable at offset 0, e.g.:\n\n" +
			"  firmforge merge bin -o merged.bin 0x1000 firmware.bin 0x200000 littlefs.img",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return invalidf("expected <offset> <file> pairs, got %d arguments", len(args))
			}
			segments := make([]firmware.Segment, 0, len(args)/2)
			for i := 0; i < len(args); i += 2 {
				off, err := firmware.ParseOffset(args[i])
				if err != nil {
					return invalidf("%v", err)
				}
				segments = append(segments, firmware.Segment{Offset: off, Path: args[i+1]})
			}
			limit, err := firmware.ParseFlashSize(flashSize)
			if err != nil {
				return invalidf("%v", err)
			}

			stats, err := firmware.MergeBin(output, segments, limit)
			if err != nil {
				return exitErrorf(ExitTaskFailure, "%v", err)
			}
			fmt.Fprintf(a.stdout, "wrote %s: %d segments, %d bytes (%d bytes padding)\n",
				output, stats.Segments, stats.ImageSize, stats.PadBytes)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output image path")
	cmd.Flags().StringVar(&flashSize, "flash-size", "", `flash capacity limit, e.g. "4MB" (no limit when empty)`)
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) mergeUF2Cmd() *cobra.Command {
	var output, base, family string
	var chunk int

	cmd := &cobra.Command{
		Use:   "uf2 <firmware.uf2> <littlefs.img>",
		Short: "Append a filesystem image to a UF2 firmware file",
		Long: "uf2 converts the filesystem image into UF2 blocks at the board's\n" +
			"embedded-drive address and appends them to the firmware, producing one\n" +
			"file to drop onto the board's USB drive. The address is derived from\n" +
			"the port inferred from the firmware filename; pass --base to override.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts firmware.MergeOptions
			var err error
			if base != "" {
				if opts.BaseAddr, err = firmware.ParseOffset(base); err != nil {
					return invalidf("%v", err)
				}
			}
			if family != "" {
				if opts.FamilyID, err = firmware.ParseOffset(family); err != nil {
					return invalidf("%v", err)
				}
			}
			opts.ChunkSize = chunk

			f, err := firmware.MergeUF2(args[0], args[1], output, opts)
			if err != nil {
				return exitErrorf(ExitTaskFailure, "%v", err)
			}
			fmt.Fprintf(a.stdout, "wrote %s\n%s", output, f.Summary())
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output UF2 path")
	cmd.Flags().StringVar(&base, "base", "", "filesystem base address (default from the inferred port)")
	cmd.Flags().StringVar(&family, "family", "", "UF2 family ID for filesystem blocks (default inherited from the firmware)")
	cmd.Flags().IntVar(&chunk, "chunk", firmware.DefaultChunkSize, "payload bytes per UF2 block")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
