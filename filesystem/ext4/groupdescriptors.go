package ext4

import "encoding/binary"

// groupDescriptor is the parsed form of one block group descriptor: where
// its inode table starts, used by the inode reader to locate an inode's
// block, plus enough metadata to validate its own checksum.
type groupDescriptor struct {
	number               uint32
	inodeTableFirstBlock uint64
	blockBitmapBlock     uint64
	inodeBitmapBlock     uint64
	freeBlocks           uint32
	freeInodes           uint32
	usedDirectories      uint32
	checksum             uint16
}

// groupDescriptorFromBytes parses a single block group descriptor record
// (32 or 64 bytes depending on the 64BIT feature) and, when
// METADATA_CHECKSUMS is set, validates its checksum: CRC32C seeded with the
// filesystem checksum seed, then the group index (LE32), over the
// descriptor bytes with the checksum field zeroed.
func groupDescriptorFromBytes(b []byte, size uint16, number uint32, checksumSeed uint32, verifyChecksum bool) (*groupDescriptor, error) {
	if len(b) < int(size) {
		return nil, corruptErr(CorruptBGDChecksum, "descriptor %d: got %d bytes, want %d", number, len(b), size)
	}
	rec := make([]byte, size)
	copy(rec, b[:size])

	checksum := binary.LittleEndian.Uint16(rec[0x1e:0x20])

	if verifyChecksum {
		scratch := make([]byte, size)
		copy(scratch, rec)
		scratch[0x1e] = 0
		scratch[0x1f] = 0
		c := NewChecksum(checksumSeed).UpdateUint32LE(number).Update(scratch)
		actual := uint16(c.Finalize())
		if actual != checksum {
			return nil, corruptErr(CorruptBGDChecksum, "group %d: got %#x, want %#x", number, checksum, actual)
		}
	}

	blockBitmapLow := binary.LittleEndian.Uint32(rec[0x0:0x4])
	inodeBitmapLow := binary.LittleEndian.Uint32(rec[0x4:0x8])
	inodeTableLow := binary.LittleEndian.Uint32(rec[0x8:0xc])
	freeBlocksLow := binary.LittleEndian.Uint16(rec[0xc:0xe])
	freeInodesLow := binary.LittleEndian.Uint16(rec[0xe:0x10])
	usedDirLow := binary.LittleEndian.Uint16(rec[0x10:0x12])

	var blockBitmap, inodeBitmap, inodeTable uint64 = uint64(blockBitmapLow), uint64(inodeBitmapLow), uint64(inodeTableLow)
	var freeBlocks, freeInodes, usedDir uint32 = uint32(freeBlocksLow), uint32(freeInodesLow), uint32(usedDirLow)

	if size >= 64 {
		blockBitmap |= uint64(binary.LittleEndian.Uint32(rec[0x20:0x24])) << 32
		inodeBitmap |= uint64(binary.LittleEndian.Uint32(rec[0x24:0x28])) << 32
		inodeTable |= uint64(binary.LittleEndian.Uint32(rec[0x28:0x2c])) << 32
		freeBlocks |= uint32(binary.LittleEndian.Uint16(rec[0x2c:0x2e])) << 16
		freeInodes |= uint32(binary.LittleEndian.Uint16(rec[0x2e:0x30])) << 16
		usedDir |= uint32(binary.LittleEndian.Uint16(rec[0x30:0x32])) << 16
	}

	return &groupDescriptor{
		number:               number,
		inodeTableFirstBlock: inodeTable,
		blockBitmapBlock:     blockBitmap,
		inodeBitmapBlock:     inodeBitmap,
		freeBlocks:           freeBlocks,
		freeInodes:           freeInodes,
		usedDirectories:      usedDir,
		checksum:             checksum,
	}, nil
}

// groupDescriptorTable is the full, ordered array of block group
// descriptors read immediately after the superblock.
type groupDescriptorTable struct {
	descriptors []*groupDescriptor
}

// groupDescriptorTableFromBytes parses count consecutive descriptors of the
// given per-entry size out of b.
func groupDescriptorTableFromBytes(b []byte, size uint16, count uint64, checksumSeed uint32, verifyChecksum bool) (*groupDescriptorTable, error) {
	gdt := &groupDescriptorTable{descriptors: make([]*groupDescriptor, 0, count)}
	for i := uint64(0); i < count; i++ {
		start := i * uint64(size)
		end := start + uint64(size)
		if end > uint64(len(b)) {
			return nil, corruptErr(CorruptBGDChecksum, "group descriptor table truncated at group %d", i)
		}
		gd, err := groupDescriptorFromBytes(b[start:end], size, uint32(i), checksumSeed, verifyChecksum)
		if err != nil {
			return nil, err
		}
		gdt.descriptors = append(gdt.descriptors, gd)
	}
	return gdt, nil
}

func (gdt *groupDescriptorTable) get(group uint64) (*groupDescriptor, error) {
	if group >= uint64(len(gdt.descriptors)) {
		return nil, corruptErr(CorruptBGDChecksum, "block group %d out of range (have %d)", group, len(gdt.descriptors))
	}
	return gdt.descriptors[group], nil
}
