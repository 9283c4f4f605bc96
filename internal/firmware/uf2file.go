package firmware

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// AddrRange is a contiguous run of flashed addresses.
type AddrRange struct {
	Start uint32
	End   uint32
}

// UF2File is a decoded UF2 container plus the scan results derived from it:
// board families, contiguous address ranges, and littlefs superblock
// locations.
type UF2File struct {
	Blocks []Block

	// Families maps family ID to the lowest target address seen for it.
	Families map[uint32]uint32

	// Ranges are the contiguous flashed address runs, in file order.
	Ranges []AddrRange

	// LittleFSSuperblocks holds indexes of blocks carrying a littlefs
	// superblock marker at a 4096-aligned address.
	LittleFSSuperblocks []int

	// SkippedBlocks counts 512-byte chunks dropped for bad magic.
	SkippedBlocks int
}

// ReadUF2File decodes a UF2 file from disk and scans it.
func ReadUF2File(path string) (*UF2File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading UF2 file: %w", err)
	}
	return DecodeUF2(raw)
}

// DecodeUF2 decodes raw UF2 bytes and scans them. Blocks with bad magic are
// skipped and counted rather than failing the whole file, matching the
// tolerant behavior of the reference tooling.
func DecodeUF2(raw []byte) (*UF2File, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty UF2 data")
	}
	if len(raw)%UF2BlockSize != 0 {
		return nil, fmt.Errorf("UF2 data length %d is not a multiple of %d", len(raw), UF2BlockSize)
	}

	f := &UF2File{}
	for off := 0; off < len(raw); off += UF2BlockSize {
		block, ok := decodeBlock(raw[off : off+UF2BlockSize])
		if !ok {
			f.SkippedBlocks++
			continue
		}
		f.Blocks = append(f.Blocks, block)
	}
	if len(f.Blocks) == 0 {
		return nil, fmt.Errorf("no valid UF2 blocks found")
	}
	f.Scan()
	return f, nil
}

// Scan recomputes families, address ranges, and littlefs superblocks.
func (f *UF2File) Scan() {
	f.scanFamilies()
	f.scanRanges()
	f.scanLittleFS()
}

func (f *UF2File) scanFamilies() {
	f.Families = make(map[uint32]uint32)
	for i := range f.Blocks {
		b := &f.Blocks[i]
		if !b.HasFamilyID() {
			continue
		}
		addr, seen := f.Families[b.FamilyID]
		if !seen || b.TargetAddr < addr {
			f.Families[b.FamilyID] = b.TargetAddr
		}
	}
}

// scanRanges walks the blocks in file order; a gap in target addresses or an
// all-zero payload terminates the current range.
func (f *UF2File) scanRanges() {
	f.Ranges = nil

	var lastEnd uint32
	var start uint32
	started := false
	for i := range f.Blocks {
		b := &f.Blocks[i]
		if !started {
			start = b.TargetAddr
			started = true
		} else if lastEnd != b.TargetAddr || allZero(b.Data[:b.PayloadSize]) {
			f.Ranges = append(f.Ranges, AddrRange{Start: start, End: lastEnd})
			start = b.TargetAddr
		}
		lastEnd = b.TargetAddr + b.PayloadSize
	}
	if started {
		f.Ranges = append(f.Ranges, AddrRange{Start: start, End: lastEnd})
	}
}

func (f *UF2File) scanLittleFS() {
	f.LittleFSSuperblocks = nil
	for i := range f.Blocks {
		b := &f.Blocks[i]
		if b.TargetAddr%4096 == 0 && bytes.Contains(b.Data[:], littlefsMarker) {
			f.LittleFSSuperblocks = append(f.LittleFSSuperblocks, i)
		}
	}
}

func allZero(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, c := range data {
		if c != 0 {
			return false
		}
	}
	return true
}

// FirstFamily returns the lowest-addressed family in the file.
func (f *UF2File) FirstFamily() (uint32, bool) {
	if len(f.Families) == 0 {
		return 0, false
	}
	ids := make([]uint32, 0, len(f.Families))
	for id := range f.Families {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return f.Families[ids[i]] < f.Families[ids[j]] })
	return ids[0], true
}

// EndAddr returns the address just past the last block's payload.
func (f *UF2File) EndAddr() uint32 {
	if len(f.Blocks) == 0 {
		return 0
	}
	last := &f.Blocks[len(f.Blocks)-1]
	return last.TargetAddr + last.PayloadSize
}

// Append adds a block after the existing ones. Blocks must stay in strictly
// ascending address order; flashing tools reject files that rewind.
func (f *UF2File) Append(b Block) error {
	if end := f.EndAddr(); len(f.Blocks) > 0 && b.TargetAddr < end {
		return fmt.Errorf("block at 0x%08X is before end of previous block (0x%08X)", b.TargetAddr, end)
	}
	b.BlockNo = uint32(len(f.Blocks))
	f.Blocks = append(f.Blocks, b)
	return nil
}

// Extend appends every block of other, enforcing the ordering invariant.
func (f *UF2File) Extend(other *UF2File) error {
	for _, b := range other.Blocks {
		if err := f.Append(b); err != nil {
			return err
		}
	}
	return nil
}

// Renumber rewrites BlockNo/NumBlocks across the whole file. Required after
// Extend so the bootloader sees one consistent container.
func (f *UF2File) Renumber() {
	total := uint32(len(f.Blocks))
	for i := range f.Blocks {
		f.Blocks[i].BlockNo = uint32(i)
		f.Blocks[i].NumBlocks = total
	}
}

// EncodeTo writes the file in wire form.
func (f *UF2File) EncodeTo(w io.Writer) error {
	for i := range f.Blocks {
		raw := f.Blocks[i].encode()
		if _, err := w.Write(raw[:]); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes the file to disk.
func (f *UF2File) WriteFile(path string) error {
	var buf bytes.Buffer
	buf.Grow(len(f.Blocks) * UF2BlockSize)
	if err := f.EncodeTo(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// FromImage wraps a raw binary image into UF2 blocks starting at baseAddr.
// chunkSize must be 1..476; 0 selects DefaultChunkSize. When familyID is
// non-zero, every block carries it.
func FromImage(img []byte, baseAddr uint32, familyID uint32, chunkSize int) (*UF2File, error) {
	if len(img) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < 1 || chunkSize > UF2DataSize {
		return nil, fmt.Errorf("chunk size %d out of range 1..%d", chunkSize, UF2DataSize)
	}

	f := &UF2File{}
	for i := 0; i < len(img); i += chunkSize {
		end := i + chunkSize
		if end > len(img) {
			end = len(img)
		}
		b, err := NewBlock(img[i:end])
		if err != nil {
			return nil, err
		}
		if familyID != 0 {
			b.Flags |= UF2FlagFamilyIDPresent
			b.FamilyID = familyID
		}
		b.TargetAddr = baseAddr + uint32(i)
		if err := f.Append(b); err != nil {
			return nil, err
		}
	}
	f.Renumber()
	f.Scan()
	return f, nil
}

// MergeOptions configure MergeUF2.
type MergeOptions struct {
	// BaseAddr places the filesystem image; zero derives it from the port
	// inferred from the firmware filename.
	BaseAddr uint32

	// FamilyID tags the filesystem blocks; zero inherits the firmware's
	// first family.
	FamilyID uint32

	// ChunkSize is the payload bytes per filesystem block; zero selects
	// DefaultChunkSize.
	ChunkSize int
}

// MergeUF2 appends a littlefs image to a firmware UF2 file and writes the
// combined container to outPath.
func MergeUF2(firmwarePath, imagePath, outPath string, opts MergeOptions) (*UF2File, error) {
	fw, err := ReadUF2File(firmwarePath)
	if err != nil {
		return nil, err
	}

	img, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("reading filesystem image: %w", err)
	}

	base := opts.BaseAddr
	if base == 0 {
		port, ok := Lookup(InferPort(firmwarePath))
		if !ok || port.DriveBase == 0 {
			return nil, fmt.Errorf("cannot derive filesystem base address from %q; pass it explicitly", firmwarePath)
		}
		base = port.DriveBase
	}

	family := opts.FamilyID
	if family == 0 {
		family, _ = fw.FirstFamily()
	}

	fsBlocks, err := FromImage(img, base, family, opts.ChunkSize)
	if err != nil {
		return nil, err
	}
	if err := fw.Extend(fsBlocks); err != nil {
		return nil, err
	}
	fw.Renumber()
	fw.Scan()

	if err := fw.WriteFile(outPath); err != nil {
		return nil, fmt.Errorf("writing merged UF2: %w", err)
	}
	return fw, nil
}

// Summary renders a human-readable description of the file, in the shape
// the inspection tooling prints.
func (f *UF2File) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Blocks: %d", len(f.Blocks))
	if f.SkippedBlocks > 0 {
		fmt.Fprintf(&sb, " (%d skipped, bad magic)", f.SkippedBlocks)
	}
	sb.WriteByte('\n')

	fmt.Fprintf(&sb, "Families: %d\n", len(f.Families))
	ids := make([]uint32, 0, len(f.Families))
	for id := range f.Families {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(&sb, "  - %s (0x%08X) at 0x%08X\n", FamilyName(id), id, f.Families[id])
	}

	fmt.Fprintf(&sb, "Ranges: %d\n", len(f.Ranges))
	for i, r := range f.Ranges {
		fmt.Fprintf(&sb, "  - range %d: 0x%08X - 0x%08X\n", i, r.Start, r.End)
	}

	fmt.Fprintf(&sb, "LittleFS superblocks: %d\n", len(f.LittleFSSuperblocks))
	for i, idx := range f.LittleFSSuperblocks {
		fmt.Fprintf(&sb, "  - superblock %d: block %d at 0x%08X\n", i, idx, f.Blocks[idx].TargetAddr)
	}
	return sb.String()
}
