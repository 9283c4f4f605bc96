package firmware

import (
	"encoding/binary"
	"fmt"
)

// UF2 block layout: 512 bytes, little-endian, 32-byte header, 476-byte data
// area, 4-byte trailing magic.
const (
	UF2MagicStart0 = 0x0A324655 // "UF2\n"
	UF2MagicStart1 = 0x9E5D5157
	UF2MagicEnd    = 0x0AB16F30

	UF2BlockSize = 512
	UF2DataSize  = 476

	// DefaultChunkSize is the payload size the MicroPython tooling writes
	// per block; bootloaders flash in 256-byte pages.
	DefaultChunkSize = 256
)

// UF2 block flags.
const (
	UF2FlagNoFlash         = 0x00000001
	UF2FlagFileContainer   = 0x00001000
	UF2FlagFamilyIDPresent = 0x00002000
	UF2FlagMD5Present      = 0x00004000
	UF2FlagExtensionTags   = 0x00008000
)

// FamilyRP2040 is the board family of the Raspberry Pi Pico line.
const FamilyRP2040 = 0xE48BFF56

// knownFamilies maps UF2 family IDs to short names. Only the families the
// supported ports use are listed; everything else renders as unknown.
var knownFamilies = map[uint32]string{
	FamilyRP2040: "RP2040",
	0xE48BFF59:   "RP2350_ARM_S",
	0x1C5F21B0:   "ESP32",
	0xBFDD4EEE:   "ESP32S2",
	0xC47E5767:   "ESP32S3",
	0xD42BA06C:   "ESP32C3",
	0x68ED2B88:   "SAMD21",
	0x55114460:   "SAMD51",
}

// FamilyName returns the short name for a UF2 family ID.
func FamilyName(id uint32) string {
	if name, ok := knownFamilies[id]; ok {
		return name
	}
	return "unknown"
}

// littlefsMarker identifies a littlefs superblock inside a flash-aligned
// UF2 block. The superblock lives in blocks 0 and 1 of the filesystem, so a
// valid image shows the marker at two 4096-aligned addresses.
var littlefsMarker = []byte{0xF0, 0x0F, 0xFF, 0xF7, 'l', 'i', 't', 't', 'l', 'e', 'f', 's', '/', 0xE0, 0x00, 0x10}

// Block is a single decoded UF2 block.
type Block struct {
	Flags       uint32
	TargetAddr  uint32
	PayloadSize uint32
	BlockNo     uint32
	NumBlocks   uint32
	// FamilyID doubles as file size when UF2FlagFamilyIDPresent is unset.
	FamilyID uint32
	Data     [UF2DataSize]byte
}

// NewBlock creates a data block carrying the given payload.
func NewBlock(payload []byte) (Block, error) {
	if len(payload) > UF2DataSize {
		return Block{}, fmt.Errorf("payload too long: %d bytes (max %d)", len(payload), UF2DataSize)
	}
	var b Block
	b.PayloadSize = uint32(len(payload))
	copy(b.Data[:], payload)
	return b, nil
}

// HasFamilyID reports whether the family ID field is meaningful.
func (b *Block) HasFamilyID() bool {
	return b.Flags&UF2FlagFamilyIDPresent != 0
}

// decodeBlock parses one 512-byte block, reporting false on bad magic.
func decodeBlock(raw []byte) (Block, bool) {
	if len(raw) < UF2BlockSize {
		return Block{}, false
	}
	if binary.LittleEndian.Uint32(raw[0:]) != UF2MagicStart0 ||
		binary.LittleEndian.Uint32(raw[4:]) != UF2MagicStart1 ||
		binary.LittleEndian.Uint32(raw[508:]) != UF2MagicEnd {
		return Block{}, false
	}

	var b Block
	b.Flags = binary.LittleEndian.Uint32(raw[8:])
	b.TargetAddr = binary.LittleEndian.Uint32(raw[12:])
	b.PayloadSize = binary.LittleEndian.Uint32(raw[16:])
	b.BlockNo = binary.LittleEndian.Uint32(raw[20:])
	b.NumBlocks = binary.LittleEndian.Uint32(raw[24:])
	b.FamilyID = binary.LittleEndian.Uint32(raw[28:])
	copy(b.Data[:], raw[32:32+UF2DataSize])
	return b, true
}

// encode serializes the block into its 512-byte wire form.
func (b *Block) encode() [UF2BlockSize]byte {
	var raw [UF2BlockSize]byte
	binary.LittleEndian.PutUint32(raw[0:], UF2MagicStart0)
	binary.LittleEndian.PutUint32(raw[4:], UF2MagicStart1)
	binary.LittleEndian.PutUint32(raw[8:], b.Flags)
	binary.LittleEndian.PutUint32(raw[12:], b.TargetAddr)
	binary.LittleEndian.PutUint32(raw[16:], b.PayloadSize)
	binary.LittleEndian.PutUint32(raw[20:], b.BlockNo)
	binary.LittleEndian.PutUint32(raw[24:], b.NumBlocks)
	binary.LittleEndian.PutUint32(raw[28:], b.FamilyID)
	copy(raw[32:], b.Data[:])
	binary.LittleEndian.PutUint32(raw[508:], UF2MagicEnd)
	return raw
}
