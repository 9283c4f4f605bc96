package firmware

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFirmwareUF2 fabricates a small firmware container: contiguous blocks
// at base, tagged RP2040.
func buildFirmwareUF2(t *testing.T, base uint32, payloads int) *UF2File {
	t.Helper()
	img := make([]byte, payloads*DefaultChunkSize)
	for i := range img {
		img[i] = byte(i%255 + 1) // non-zero so ranges do not split
	}
	f, err := FromImage(img, base, FamilyRP2040, DefaultChunkSize)
	require.NoError(t, err)
	return f
}

func TestFromImage_BlockLayout(t *testing.T) {
	img := bytes.Repeat([]byte{0x5A}, 600) // 2 full chunks + 88-byte tail
	f, err := FromImage(img, 0x10000000, FamilyRP2040, DefaultChunkSize)
	require.NoError(t, err)
	require.Len(t, f.Blocks, 3)

	for i, b := range f.Blocks {
		assert.Equal(t, uint32(i), b.BlockNo)
		assert.Equal(t, uint32(3), b.NumBlocks)
		assert.True(t, b.HasFamilyID())
		assert.Equal(t, uint32(FamilyRP2040), b.FamilyID)
		assert.Equal(t, uint32(0x10000000+i*DefaultChunkSize), b.TargetAddr)
	}
	assert.Equal(t, uint32(DefaultChunkSize), f.Blocks[0].PayloadSize)
	assert.Equal(t, uint32(600-2*DefaultChunkSize), f.Blocks[2].PayloadSize)
}

func TestDecodeUF2_RoundTripAndScan(t *testing.T) {
	fw := buildFirmwareUF2(t, 0x10000000, 4)

	var buf bytes.Buffer
	require.NoError(t, fw.EncodeTo(&buf))
	assert.Equal(t, 4*UF2BlockSize, buf.Len())

	decoded, err := DecodeUF2(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, decoded.Blocks, 4)
	assert.Zero(t, decoded.SkippedBlocks)

	require.Len(t, decoded.Ranges, 1)
	assert.Equal(t, uint32(0x10000000), decoded.Ranges[0].Start)
	assert.Equal(t, uint32(0x10000000+4*DefaultChunkSize), decoded.Ranges[0].End)

	require.Contains(t, decoded.Families, uint32(FamilyRP2040))
	assert.Equal(t, uint32(0x10000000), decoded.Families[FamilyRP2040])

	family, ok := decoded.FirstFamily()
	require.True(t, ok)
	assert.Equal(t, uint32(FamilyRP2040), family)
}

func TestDecodeUF2_SkipsBadMagic(t *testing.T) {
	fw := buildFirmwareUF2(t, 0x10000000, 2)
	var buf bytes.Buffer
	require.NoError(t, fw.EncodeTo(&buf))

	garbage := bytes.Repeat([]byte{0xDE}, UF2BlockSize)
	raw := append(buf.Bytes(), garbage...)

	decoded, err := DecodeUF2(raw)
	require.NoError(t, err)
	assert.Len(t, decoded.Blocks, 2)
	assert.Equal(t, 1, decoded.SkippedBlocks)
}

func TestDecodeUF2_Rejects(t *testing.T) {
	_, err := DecodeUF2(nil)
	require.Error(t, err)

	_, err = DecodeUF2(make([]byte, UF2BlockSize+1))
	require.Error(t, err)

	// Correct length but nothing decodable.
	_, err = DecodeUF2(make([]byte, UF2BlockSize))
	require.Error(t, err)
}

func TestScanRanges_GapSplits(t *testing.T) {
	f := &UF2File{}
	low, err := NewBlock(bytes.Repeat([]byte{1}, DefaultChunkSize))
	require.NoError(t, err)
	low.TargetAddr = 0x1000
	require.NoError(t, f.Append(low))

	high, err := NewBlock(bytes.Repeat([]byte{2}, DefaultChunkSize))
	require.NoError(t, err)
	high.TargetAddr = 0x9000
	require.NoError(t, f.Append(high))

	f.Scan()
	require.Len(t, f.Ranges, 2)
	assert.Equal(t, AddrRange{Start: 0x1000, End: 0x1000 + DefaultChunkSize}, f.Ranges[0])
	assert.Equal(t, AddrRange{Start: 0x9000, End: 0x9000 + DefaultChunkSize}, f.Ranges[1])
}

func TestScanLittleFS_FindsAlignedSuperblocks(t *testing.T) {
	// A littlefs image begins with the superblock in blocks 0 and 1.
	img := make([]byte, 3*FlashSectorSize)
	copy(img[16:], littlefsMarker)
	copy(img[FlashSectorSize+16:], littlefsMarker)

	// With 256-byte chunks the marker lands inside the first 4096-aligned
	// block of each filesystem block.
	f, err := FromImage(img, 0x100A0000, FamilyRP2040, DefaultChunkSize)
	require.NoError(t, err)
	require.Len(t, f.LittleFSSuperblocks, 2)
	assert.Equal(t, uint32(0x100A0000), f.Blocks[f.LittleFSSuperblocks[0]].TargetAddr)
	assert.Equal(t, uint32(0x100A1000), f.Blocks[f.LittleFSSuperblocks[1]].TargetAddr)
}

func TestAppend_RejectsRewindingAddress(t *testing.T) {
	f := buildFirmwareUF2(t, 0x10000000, 2)

	b, err := NewBlock([]byte{1})
	require.NoError(t, err)
	b.TargetAddr = 0x10000000 // before EndAddr
	require.Error(t, f.Append(b))
}

func TestMergeUF2_AppendsFilesystemAfterFirmware(t *testing.T) {
	dir := t.TempDir()

	fw := buildFirmwareUF2(t, 0x10000000, 4)
	fwPath := filepath.Join(dir, "rp2-pico-20230426-v1.20.0.uf2")
	require.NoError(t, fw.WriteFile(fwPath))

	img := make([]byte, 2*FlashSectorSize)
	copy(img[16:], littlefsMarker)
	for i := FlashSectorSize + len(littlefsMarker) + 16; i < len(img); i++ {
		img[i] = 0xA5
	}
	copy(img[FlashSectorSize+16:], littlefsMarker)
	imgPath := filepath.Join(dir, "littlefs.img")
	require.NoError(t, os.WriteFile(imgPath, img, 0o644))

	outPath := filepath.Join(dir, "pico_src.uf2")
	merged, err := MergeUF2(fwPath, imgPath, outPath, MergeOptions{})
	require.NoError(t, err)

	// Base address derived from the rp2-pico registry entry.
	wantBlocks := 4 + len(img)/DefaultChunkSize
	require.Len(t, merged.Blocks, wantBlocks)
	assert.Equal(t, uint32(0x100A0000), merged.Blocks[4].TargetAddr)

	// Filesystem blocks inherit the firmware family.
	assert.Equal(t, uint32(FamilyRP2040), merged.Blocks[4].FamilyID)
	assert.True(t, merged.Blocks[4].HasFamilyID())

	// Numbering spans the combined container.
	for i, b := range merged.Blocks {
		assert.Equal(t, uint32(i), b.BlockNo)
		assert.Equal(t, uint32(wantBlocks), b.NumBlocks)
	}

	// The merged file on disk decodes and still shows the superblocks.
	reread, err := ReadUF2File(outPath)
	require.NoError(t, err)
	assert.Len(t, reread.LittleFSSuperblocks, 2)

	sum := reread.Summary()
	assert.Contains(t, sum, "RP2040")
	assert.Contains(t, sum, "LittleFS superblocks: 2")
}

func TestMergeUF2_UnknownPortNeedsExplicitBase(t *testing.T) {
	dir := t.TempDir()

	fw := buildFirmwareUF2(t, 0x10000000, 1)
	fwPath := filepath.Join(dir, "mystery-board.uf2")
	require.NoError(t, fw.WriteFile(fwPath))
	imgPath := writeBlob(t, dir, "littlefs.img", bytes.Repeat([]byte{0xA5}, 512))

	_, err := MergeUF2(fwPath, imgPath, filepath.Join(dir, "out.uf2"), MergeOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base address")

	merged, err := MergeUF2(fwPath, imgPath, filepath.Join(dir, "out.uf2"), MergeOptions{BaseAddr: 0x10100000})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x10100000), merged.Blocks[1].TargetAddr)
}

func TestFamilyName(t *testing.T) {
	assert.Equal(t, "RP2040", FamilyName(FamilyRP2040))
	assert.Equal(t, "ESP32", FamilyName(0x1C5F21B0))
	assert.Equal(t, "unknown", FamilyName(0xDEADBEEF))
}
