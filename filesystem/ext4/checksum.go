package ext4

import (
	"encoding/binary"
	"hash/crc32"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum is a stateful CRC32C (Castagnoli, the "iSCSI" polynomial) digest,
// matching the checksum used throughout the on-disk format: superblock,
// block group descriptors, inodes, extent nodes, directory blocks and the
// journal all derive their checksum from an instance of this type seeded
// differently per entity.
//
// Checksum is a value type; Update returns a new value rather than mutating
// in place, so cloning a base digest to branch into several downstream
// checksums is just an assignment.
type Checksum struct {
	reg uint32
}

// defaultChecksumSeed is used when a filesystem predates explicit checksum
// seeds and none can be derived.
const defaultChecksumSeed uint32 = 0xFFFFFFFF

// NewChecksum starts a digest with the given seed. The seed is stored
// complemented as the initial register value and Finalize complements the
// register back, so the result is CRC32C started from the raw seed with no
// final inversion, the form the on-disk checksums use. For seed 0xFFFFFFFF
// this is the bitwise complement of the standard CRC-32C value ("123456789"
// gives 0x1cf96d7c, where the standard check value is 0xe3069283).
func NewChecksum(seed uint32) Checksum {
	return Checksum{reg: ^seed}
}

// Clone returns an independent copy of c; since Checksum is a value type
// this is just c itself, but named to document the intent at call sites
// that branch a base digest into several downstream checksums.
func (c Checksum) Clone() Checksum {
	return c
}

// Update folds b into the digest and returns the new state.
func (c Checksum) Update(b []byte) Checksum {
	c.reg = crc32.Update(c.reg, crc32cTable, b)
	return c
}

func (c Checksum) UpdateUint16LE(v uint16) Checksum {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return c.Update(b[:])
}

func (c Checksum) UpdateUint32LE(v uint32) Checksum {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return c.Update(b[:])
}

func (c Checksum) UpdateUint16BE(v uint16) Checksum {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return c.Update(b[:])
}

func (c Checksum) UpdateUint32BE(v uint32) Checksum {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return c.Update(b[:])
}

// Finalize consumes the digest and returns the checksum value.
func (c Checksum) Finalize() uint32 {
	return ^c.reg
}

// crc32c is a one-shot convenience wrapper for the common case of hashing a
// single byte slice under a given seed.
func crc32c(seed uint32, data []byte) uint32 {
	return NewChecksum(seed).Update(data).Finalize()
}

// inodeChecksumBase computes the checksum seed that downstream per-block
// checksums for data belonging to inode number/generation are derived from:
// the filesystem's checksum seed, updated with the inode index and
// generation, both little-endian 32-bit.
func inodeChecksumBase(fsChecksumSeed uint32, inodeNumber, generation uint32) uint32 {
	c := NewChecksum(fsChecksumSeed).UpdateUint32LE(inodeNumber).UpdateUint32LE(generation)
	return c.Finalize()
}
