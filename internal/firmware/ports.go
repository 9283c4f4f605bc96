package firmware

import (
	"path/filepath"
	"strings"
)

// littlefs on-disk format versions as MicroPython names them; builds from
// v1.20.0 onward need VFS_LFS2.
const (
	VFSLFS1 uint32 = 0x00010000
	VFSLFS2 uint32 = 0x00020000
)

// Flash geometry shared by the supported ports: 256-byte pages, 4096-byte
// sectors (one sector per littlefs block).
const (
	FlashPageSize   = 256
	FlashSectorSize = 4096
)

// PortInfo describes the filesystem geometry of one MicroPython port/board.
type PortInfo struct {
	Name       string
	PageSize   int
	BlockSize  int
	BlockCount int

	// ImageSize is the littlefs image size in bytes (BlockSize*BlockCount).
	ImageSize int

	FSVersion uint32

	// DriveBase is the flash address of the embedded filesystem drive for
	// UF2 ports; zero for ports flashed by offset (esp32 family).
	DriveBase uint32
}

func newPort(name string, pageSize, blockSize, blockCount int, driveBase uint32) PortInfo {
	return PortInfo{
		Name:       name,
		PageSize:   pageSize,
		BlockSize:  blockSize,
		BlockCount: blockCount,
		ImageSize:  blockSize * blockCount,
		FSVersion:  VFSLFS2,
		DriveBase:  driveBase,
	}
}

// ports is the geometry registry.
//
// esp32:  2MB filesystem at flash offset 0x200000
// pico:   drive 0x100A0000-0x10200000 (1408K)
// pico-w: drive 0x1012C000-0x10200000 (848K)
var ports = []PortInfo{
	newPort("esp32-generic", FlashPageSize, FlashSectorSize, 512, 0),
	newPort("esp8266-generic", FlashPageSize, FlashSectorSize, 512, 0),
	newPort("rp2-pico", FlashPageSize, FlashSectorSize, 352, 0x100A0000),
	newPort("rp2-pico-w", FlashPageSize, FlashSectorSize, 208, 0x1012C000),
}

// Ports returns the registry in declaration order.
func Ports() []PortInfo {
	out := make([]PortInfo, len(ports))
	copy(out, ports)
	return out
}

// Lookup finds a port by exact name, falling back to "<name>-generic".
func Lookup(name string) (PortInfo, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}
	generic := name + "-generic"
	for _, p := range ports {
		if p.Name == generic {
			return p, true
		}
	}
	return PortInfo{}, false
}

// InferPort derives the port name from a firmware filename, e.g.
// "esp32-20220618-v1.19.1.bin" -> "esp32" and
// "rp2-pico-w-20230426-v1.20.0.uf2" -> "rp2-pico-w".
//
// The longest dash-joined prefix matching a registry entry wins; otherwise
// the first dash field is returned (a trailing "spiram" variant suffix is
// stripped first).
func InferPort(firmwarePath string) string {
	stem := filepath.Base(firmwarePath)
	if ext := filepath.Ext(stem); ext != "" {
		stem = strings.TrimSuffix(stem, ext)
	}
	fields := strings.Split(strings.ToLower(stem), "-")
	if len(fields) == 0 || fields[0] == "" {
		return ""
	}

	for n := len(fields); n > 0; n-- {
		candidate := strings.Join(fields[:n], "-")
		if _, ok := Lookup(candidate); ok {
			return candidate
		}
	}

	port := fields[0]
	port = strings.TrimSuffix(port, "spiram")
	return port
}
