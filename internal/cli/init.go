package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"firmforge/internal/config"
)

// starterFile is the pipeline `firmforge init` writes: pack a littlefs
// image, merge it with the firmware at the esp32 flash offsets, boot the
// result in the Wokwi simulator.
const starterFile = `version: "1"

# Workspace variables. ${name} references another entry; ${env:NAME} reads
# the host environment.
env:
  firmware_bin: firmware/esp32-20220618-v1.19.1.bin
  littlefs_image: build/littlefs.img
  merged_image: build/merged-firmware.bin
  wokwi_bin: wokwi-cli

tasks:
  - name: create_littlefs
    detail: Pack the src directory into a littlefs image
    command: mklittlefs -c src -b 4096 -p 256 -s 0x200000 ${littlefs_image}
    group: build
    inputs:
      - src/*.py
    outputs:
      - ${littlefs_image}

  - name: merge_littlefs_esp32
    detail: Merge firmware and filesystem into one flashable image
    command: >-
      firmforge merge bin -o ${merged_image} --flash-size 4MB
      0x1000 ${firmware_bin} 0x200000 ${littlefs_image}
    dependsOn:
      - create_littlefs
    group: build
    inputs:
      - ${firmware_bin}
      - ${littlefs_image}
    outputs:
      - ${merged_image}

  - name: start_emulator
    detail: Boot the merged image in the Wokwi simulator
    command: ${wokwi_bin} --timeout 0
    dependsOn:
      - merge_littlefs_esp32
    group: test
`

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter " + config.DefaultFileName,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, workspace, err := a.resolvePaths()
			if err != nil {
				return err
			}
			path := filepath.Join(workspace, config.DefaultFileName)

			f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
			if err != nil {
				if os.IsExist(err) {
					return invalidf("%s already exists, not overwriting", path)
				}
				return internalErr(err)
			}
			defer f.Close()

			if _, err := f.WriteString(starterFile); err != nil {
				return internalErr(err)
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", path)
			return nil
		},
	}
}
