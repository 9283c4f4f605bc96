// Package firmware implements the binary plumbing of the build pipeline:
// merging firmware and filesystem images at fixed flash offsets (the
// esptool merge_bin behavior), the UF2 block format used by RP2 boards, and
// the per-port flash geometry table.
package firmware

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// FillByte pads gaps between merged segments. Erased NOR flash reads as
// all-ones, so padding with 0xFF leaves untouched regions erased.
const FillByte = 0xFF

// Segment is one input to a flash image merge: a blob placed at a fixed
// flash offset.
type Segment struct {
	Offset uint32
	Path   string
}

// MergeStats describes a completed merge.
type MergeStats struct {
	Segments  int
	ImageSize int
	PadBytes  int
}

// ParseOffset parses a flash offset, accepting decimal and 0x-prefixed hex
// (the forms the flashing tools accept, e.g. 0x1000, 0x200000).
func ParseOffset(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid flash offset %q: %w", s, err)
	}
	return uint32(v), nil
}

// ParseFlashSize parses sizes like "4MB" or "512KB" into bytes.
// An empty string means no size limit.
func ParseFlashSize(s string) (uint32, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}

	var multiplier uint64
	var digits string
	switch {
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		digits = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		digits = strings.TrimSuffix(s, "KB")
	default:
		return 0, fmt.Errorf("invalid flash size %q (expected e.g. 4MB, 512KB)", s)
	}

	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid flash size %q", s)
	}
	total := n * multiplier
	if total > 1<<32-1 {
		return 0, fmt.Errorf("flash size %q out of range", s)
	}
	return uint32(total), nil
}

// MergeBin merges the segments into a single flashable image at outPath.
//
// The output covers offset 0 through the end of the highest segment; every
// gap, including the region before the first segment, is filled with 0xFF.
// Segments must not overlap and the result must fit flashSize (when
// non-zero). This mirrors the merge_bin operation of the ESP flashing tool
// used with: 0x1000 firmware.bin 0x200000 littlefs.img.
func MergeBin(outPath string, segments []Segment, flashSize uint32) (*MergeStats, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("no input segments")
	}

	type loaded struct {
		offset uint32
		data   []byte
		path   string
	}
	parts := make([]loaded, 0, len(segments))
	for _, seg := range segments {
		data, err := os.ReadFile(seg.Path)
		if err != nil {
			return nil, fmt.Errorf("reading segment: %w", err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("segment %s is empty", seg.Path)
		}
		parts = append(parts, loaded{offset: seg.Offset, data: data, path: seg.Path})
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].offset < parts[j].offset })

	var end uint64
	for _, p := range parts {
		if uint64(p.offset) < end {
			return nil, fmt.Errorf("segment %s at 0x%X overlaps previous segment ending at 0x%X", p.path, p.offset, end)
		}
		end = uint64(p.offset) + uint64(len(p.data))
	}
	if flashSize != 0 && end > uint64(flashSize) {
		return nil, fmt.Errorf("merged image ends at 0x%X, beyond flash size 0x%X", end, flashSize)
	}

	image := make([]byte, end)
	for i := range image {
		image[i] = FillByte
	}
	pad := len(image)
	for _, p := range parts {
		copy(image[p.offset:], p.data)
		pad -= len(p.data)
	}

	if err := os.WriteFile(outPath, image, 0o644); err != nil {
		return nil, fmt.Errorf("writing merged image: %w", err)
	}
	return &MergeStats{Segments: len(parts), ImageSize: len(image), PadBytes: pad}, nil
}
