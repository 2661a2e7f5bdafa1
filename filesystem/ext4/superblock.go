package ext4

import (
	"encoding/binary"

	"github.com/google/uuid"
)

const (
	superblockOffset     = 1024
	superblockSize       = 1024
	superblockSignature  uint16 = 0xEF53
	rootInodeIndex       uint32 = 2
)

type hashAlgorithm byte

const (
	hashLegacy          hashAlgorithm = 0x0
	hashHalfMD4         hashAlgorithm = 0x1
	hashTea             hashAlgorithm = 0x2
	hashLegacyUnsigned  hashAlgorithm = 0x3
	hashHalfMD4Unsigned hashAlgorithm = 0x4
	hashTeaUnsigned     hashAlgorithm = 0x5
)

// superblock holds the parsed, validated fields of the 1024-byte ext4
// superblock that the rest of the package needs to navigate the image.
// Once loaded it is immutable.
type superblock struct {
	inodeCount          uint32
	blockCount          uint64
	firstDataBlock      uint32
	freeBlocks          uint64
	freeInodes          uint32
	blockSize           uint32
	blocksPerGroup       uint32
	inodesPerGroup       uint32
	inodeSize            uint16
	features             featureFlags
	uuid                 uuid.UUID
	volumeLabel          string
	hashVersion          hashAlgorithm
	hashTreeSeed         [4]uint32
	groupDescriptorSize  uint16
	checksumSeed         uint32
	journalInode         uint32
	blockGroupCount      uint64
}

// gdtChecksumType reports whether block group descriptor checksums use the
// CRC32C-over-entity-and-group scheme (METADATA_CHECKSUMS) or the legacy
// CRC16 scheme (GDT_CSUM). This implementation only validates the former;
// a BGD checksum under the legacy scheme is accepted unverified.
func (sb *superblock) gdtChecksumType() string {
	switch {
	case sb.features.metadataChecksums():
		return "crc32c"
	case sb.features.gdtChecksum():
		return "crc16"
	default:
		return "none"
	}
}

// superblockFromBytes parses and validates the 1024-byte superblock region.
// Validation order: magic, block size, feature gates, filesystem UUID, then
// the checksum seed is read or derived from the UUID, then the self-checksum
// is verified (if advertised). Seed derivation does not fail on any input,
// so it never preempts a checksum error.
func superblockFromBytes(b []byte) (*superblock, error) {
	if len(b) != superblockSize {
		return nil, newErr(KindCorrupt, "superblock must be exactly %d bytes, got %d", superblockSize, len(b))
	}

	magic := binary.LittleEndian.Uint16(b[0x38:0x3a])
	if magic != superblockSignature {
		return nil, corruptErr(CorruptSuperblockMagic, "got %#x, want %#x", magic, superblockSignature)
	}

	logBlockSize := binary.LittleEndian.Uint32(b[0x18:0x1c])
	if logBlockSize+10 > 31 {
		return nil, corruptErr(CorruptBlockSizeOutOfRange, "log_block_size=%d", logBlockSize)
	}
	blockSize := uint32(1024) << logBlockSize

	compat := binary.LittleEndian.Uint32(b[0x5c:0x60])
	incompat := binary.LittleEndian.Uint32(b[0x60:0x64])
	roCompat := binary.LittleEndian.Uint32(b[0x64:0x68])
	features := featureFlags{compat: feature(compat), incompat: feature(incompat), roCompat: feature(roCompat)}
	if err := features.validate(); err != nil {
		return nil, err
	}

	fsUUID, err := uuid.FromBytes(b[0x68:0x78])
	if err != nil {
		return nil, corruptErr(CorruptSuperblockMagic, "invalid filesystem UUID: %v", err)
	}

	var checksumSeed uint32
	if features.hasIncompat(incompatChecksumSeedInSB) {
		checksumSeed = binary.LittleEndian.Uint32(b[0x270:0x274])
	} else {
		seedBytes, err := fsUUID.MarshalBinary()
		if err != nil {
			return nil, ioErr(err)
		}
		checksumSeed = crc32c(defaultChecksumSeed, seedBytes)
	}

	if features.metadataChecksums() {
		checksumBytes := make([]byte, 4)
		copy(checksumBytes, b[0x3fc:0x400])
		scratch := make([]byte, 1020)
		copy(scratch, b[:1020])
		actual := crc32c(defaultChecksumSeed, scratch)
		want := binary.LittleEndian.Uint32(checksumBytes)
		if actual != want {
			return nil, corruptErr(CorruptSuperblockChecksum, "got %#x, want %#x", actual, want)
		}
	}

	blockCountLow := binary.LittleEndian.Uint32(b[0x4:0x8])
	blockCountHigh := binary.LittleEndian.Uint32(b[0x150:0x154])
	var blockCount uint64 = uint64(blockCountLow)
	if features.is64Bit() {
		blockCount |= uint64(blockCountHigh) << 32
	}

	freeBlocksLow := binary.LittleEndian.Uint32(b[0xc:0x10])
	freeBlocksHigh := binary.LittleEndian.Uint32(b[0x158:0x15c])
	var freeBlocks uint64 = uint64(freeBlocksLow)
	if features.is64Bit() {
		freeBlocks |= uint64(freeBlocksHigh) << 32
	}

	inodesPerGroup := binary.LittleEndian.Uint32(b[0x28:0x2c])
	blocksPerGroup := binary.LittleEndian.Uint32(b[0x20:0x24])
	firstDataBlock := binary.LittleEndian.Uint32(b[0x14:0x18])

	groupDescriptorSize := uint16(32)
	if features.is64Bit() {
		groupDescriptorSize = binary.LittleEndian.Uint16(b[0xfe:0x100])
		if groupDescriptorSize < 64 {
			groupDescriptorSize = 64
		}
	}

	blockGroupCount := ceilDiv64(blockCount-uint64(firstDataBlock), uint64(blocksPerGroup))
	if blockGroupCount > 1<<32-1 {
		return nil, corruptErr(CorruptTooManyBlockGroups, "%d block groups overflows 32 bits", blockGroupCount)
	}

	var seed [4]uint32
	for i := 0; i < 4; i++ {
		seed[i] = binary.LittleEndian.Uint32(b[0xec+4*i : 0xf0+4*i])
	}

	sb := &superblock{
		inodeCount:          binary.LittleEndian.Uint32(b[0x0:0x4]),
		blockCount:          blockCount,
		firstDataBlock:      firstDataBlock,
		freeBlocks:          freeBlocks,
		freeInodes:          binary.LittleEndian.Uint32(b[0x10:0x14]),
		blockSize:           blockSize,
		blocksPerGroup:      blocksPerGroup,
		inodesPerGroup:      inodesPerGroup,
		inodeSize:           binary.LittleEndian.Uint16(b[0x58:0x5a]),
		features:            features,
		uuid:                fsUUID,
		volumeLabel:         nullTerminatedString(b[0x78:0x88]),
		hashVersion:         hashAlgorithm(b[0xfc]),
		hashTreeSeed:        seed,
		groupDescriptorSize: groupDescriptorSize,
		checksumSeed:        checksumSeed,
		journalInode:        binary.LittleEndian.Uint32(b[0xe0:0xe4]),
		blockGroupCount:     blockGroupCount,
	}
	if sb.inodeSize == 0 {
		sb.inodeSize = minInodeSize
	}

	return sb, nil
}

func ceilDiv64(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// calculateBackupSuperblockGroups returns the block groups (besides group 0)
// that carry a backup superblock+GDT: group 1 always, plus every group
// whose number is a power of 3, 5 or 7, when SPARSE_SUPER is set.
func calculateBackupSuperblockGroups(bgs int64) []int64 {
	if bgs <= 1 {
		return nil
	}
	groups := []int64{1}
	for _, base := range []int64{3, 5, 7} {
		for p := base; p < bgs; p *= base {
			if p == 1 {
				continue
			}
			groups = append(groups, p)
		}
	}
	// dedupe and sort
	seen := map[int64]bool{}
	out := groups[:0]
	for _, g := range groups {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
