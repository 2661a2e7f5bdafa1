package ext4

import "sort"

// fileBlocks resolves a file's logical block indices to disk block
// indices, dispatching at construction to whichever addressing scheme the
// inode actually uses: the extent tree when the EXTENTS flag is set, the
// legacy 4-level block map otherwise. Either way the rest of the package
// sees the same resolve interface.
type fileBlocks struct {
	ranges []extentRange // sorted by fileBlock, only set when useExtents
	bm     *blockMap     // only set when !useExtents
}

// newFileBlocks builds the addressing structure for one inode. root is the
// inode's 60-byte inline payload; src supplies block reads for any
// indirect/double/triple or non-root extent nodes the tree references.
func newFileBlocks(in *inode, src blockSource, blockSize uint32, checksumBase uint32, verifyChecksum bool) (*fileBlocks, error) {
	if in.flags.usesExtents {
		it, err := newExtentIterator(in.inlinePayload[:], src, blockSize, checksumBase, verifyChecksum)
		if err != nil {
			return nil, err
		}
		var ranges []extentRange
		for {
			r, ok, err := it.next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			ranges = append(ranges, r)
		}
		return &fileBlocks{ranges: ranges}, nil
	}

	bm, err := newBlockMap(in.inlinePayload[:], src, blockSize)
	if err != nil {
		return nil, err
	}
	return &fileBlocks{bm: bm}, nil
}

// resolve maps a logical file block index to its disk block index. hole is
// true when the file block has no backing disk block (a sparse gap), which
// callers must fill with zeroes rather than mistaking for an error.
func (fb *fileBlocks) resolve(fileBlockIndex uint64) (diskBlock uint64, hole bool, err error) {
	if fb.bm != nil {
		return fb.bm.blockAt(fileBlockIndex)
	}

	i := sort.Search(len(fb.ranges), func(i int) bool {
		return uint64(fb.ranges[i].fileBlock)+uint64(fb.ranges[i].count) > fileBlockIndex
	})
	if i == len(fb.ranges) || uint64(fb.ranges[i].fileBlock) > fileBlockIndex {
		return 0, true, nil
	}
	r := fb.ranges[i]
	offset := fileBlockIndex - uint64(r.fileBlock)
	return r.startingBlock + offset, false, nil
}
