package ext4

import "encoding/binary"

const (
	blockMapDirectCount   = 12
	blockMapIndirectIndex = 12
	blockMapDoubleIndex   = 13
	blockMapTripleIndex   = 14
	blockMapPointerCount  = 15
)

// blockMap resolves file block indices through the legacy ext2/ext3 4-level
// block pointer scheme: 12 direct pointers, then one indirect, one
// double-indirect and one triple-indirect pointer, each block of pointers
// holding blockSize/4 little-endian uint32 entries. A zero pointer at any
// level means a hole: a run of fileBlockIndex positions with no backing
// disk block, read back as zeroes.
type blockMap struct {
	src       blockSource
	blockSize uint32
	pointers  [blockMapPointerCount]uint32
}

// newBlockMap parses the 15 direct/indirect/double/triple pointers out of
// root (the inode's 60-byte inline payload).
func newBlockMap(root []byte, src blockSource, blockSize uint32) (*blockMap, error) {
	if len(root) < blockMapPointerCount*4 {
		return nil, corruptErr(CorruptExtentShort, "block map root is %d bytes, need %d", len(root), blockMapPointerCount*4)
	}
	bm := &blockMap{src: src, blockSize: blockSize}
	for i := 0; i < blockMapPointerCount; i++ {
		bm.pointers[i] = binary.LittleEndian.Uint32(root[i*4 : i*4+4])
	}
	return bm, nil
}

// blockAt resolves a single file block index to a disk block index. A
// disk block index of 0 with hole=true means the file block is a hole.
func (bm *blockMap) blockAt(fileBlockIndex uint64) (diskBlock uint64, hole bool, err error) {
	if fileBlockIndex < blockMapDirectCount {
		p := bm.pointers[fileBlockIndex]
		return uint64(p), p == 0, nil
	}
	remaining := fileBlockIndex - blockMapDirectCount
	pointersPerBlock := uint64(bm.blockSize / 4)
	if pointersPerBlock == 0 {
		return 0, false, corruptErr(CorruptBlockSizeOutOfRange, "block size %d too small for a block map", bm.blockSize)
	}

	if remaining < pointersPerBlock {
		return bm.resolveIndirect(bm.pointers[blockMapIndirectIndex], remaining)
	}
	remaining -= pointersPerBlock

	doubleCapacity := pointersPerBlock * pointersPerBlock
	if remaining < doubleCapacity {
		outer := remaining / pointersPerBlock
		inner := remaining % pointersPerBlock
		mid, hole, err := bm.resolveIndirect(bm.pointers[blockMapDoubleIndex], outer)
		if err != nil || hole {
			return 0, hole, err
		}
		return bm.resolveIndirect(uint32(mid), inner)
	}
	remaining -= doubleCapacity

	tripleCapacity := doubleCapacity * pointersPerBlock
	if remaining >= tripleCapacity {
		return 0, false, corruptErr(CorruptExtentBadBlock, "file block %d exceeds triple-indirect capacity", fileBlockIndex)
	}
	outer := remaining / doubleCapacity
	rest := remaining % doubleCapacity
	mid := rest / pointersPerBlock
	inner := rest % pointersPerBlock

	level2, hole, err := bm.resolveIndirect(bm.pointers[blockMapTripleIndex], outer)
	if err != nil || hole {
		return 0, hole, err
	}
	level1, hole, err := bm.resolveIndirect(uint32(level2), mid)
	if err != nil || hole {
		return 0, hole, err
	}
	return bm.resolveIndirect(uint32(level1), inner)
}

// resolveIndirect reads pointer block blockPtr (if non-zero) and returns
// the pointer at the given index within it. A zero blockPtr means every
// entry the block would have held is a hole, without needing a read.
func (bm *blockMap) resolveIndirect(blockPtr uint32, index uint64) (uint64, bool, error) {
	if blockPtr == 0 {
		return 0, true, nil
	}
	data, err := bm.src.get(uint64(blockPtr))
	if err != nil {
		return 0, false, err
	}
	off := index * 4
	if off+4 > uint64(len(data)) {
		return 0, false, corruptErr(CorruptExtentBadBlock, "indirect pointer index %d out of range", index)
	}
	p := binary.LittleEndian.Uint32(data[off : off+4])
	return uint64(p), p == 0, nil
}
