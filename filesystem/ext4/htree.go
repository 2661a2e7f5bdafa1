package ext4

import "encoding/binary"

// htreeEntrySize is the on-disk size of one {hash, block} pair in an HTree
// index node.
const htreeEntrySize = 8

// htreeEntry is one routing entry in an HTree index node: names whose hash
// falls in this entry's range live under block, a block number within the
// directory inode's own logical addressing (resolved through fileBlocks
// exactly like any other directory data block).
type htreeEntry struct {
	hash  uint32
	block uint32
}

// htreeNode holds an index node's entries, already trimmed to exactly the
// node's count (its on-disk limit, the node's unused capacity, is not kept
// once parsed).
type htreeNode struct {
	entries []htreeEntry
}

// newHTreeRootNode parses the root HTree block: two fake "." and ".."
// directory entries (12 bytes each) and an 8-byte dx_root_info occupy the
// first 0x20 bytes, with the entry array starting immediately after.
// indirectLevels reports how many additional internal-node hops lie
// between the root and the directory's leaf blocks.
func newHTreeRootNode(block []byte) (root htreeNode, indirectLevels byte, err error) {
	if len(block) < 0x20 {
		return htreeNode{}, 0, corruptErr(CorruptDirectoryEntry, "htree root block is %d bytes, too short", len(block))
	}
	indirectLevels = block[0x1e]
	root, err = newHTreeNode(block[0x20:])
	return root, indirectLevels, err
}

// newHTreeInternalNode parses a non-root HTree index block: a single fake
// directory entry spanning the whole block occupies the first 8 bytes.
func newHTreeInternalNode(block []byte) (htreeNode, error) {
	if len(block) < 0x8 {
		return htreeNode{}, corruptErr(CorruptDirectoryEntry, "htree index block is %d bytes, too short", len(block))
	}
	return newHTreeNode(block[0x8:])
}

// newHTreeNode reads the node's {limit, count, zero_block} 8-byte header
// and exactly count entries. Entry 0's hash is always implicit zero; its
// block comes from the header's zero_block field rather than a stored slot.
func newHTreeNode(b []byte) (htreeNode, error) {
	if len(b) < htreeEntrySize {
		return htreeNode{}, corruptErr(CorruptDirectoryEntry, "htree node has no header")
	}
	count := binary.LittleEndian.Uint16(b[0x2:0x4])
	zeroBlock := binary.LittleEndian.Uint32(b[0x4:0x8])

	need := int(count) * htreeEntrySize
	if need > len(b) {
		return htreeNode{}, corruptErr(CorruptDirectoryEntry, "htree node declares %d entries, only %d bytes available", count, len(b))
	}
	b = b[:need]

	entries := make([]htreeEntry, count)
	entries[0] = htreeEntry{hash: 0, block: zeroBlock}
	for i := 1; i < int(count); i++ {
		off := i * htreeEntrySize
		entries[i] = htreeEntry{
			hash:  binary.LittleEndian.Uint32(b[off : off+4]),
			block: binary.LittleEndian.Uint32(b[off+4 : off+8]),
		}
	}
	return htreeNode{entries: entries}, nil
}

// lookupBlockByHash returns the child block lookupHash routes to: a binary
// search for the rightmost entry whose hash is <= lookupHash.
func (n htreeNode) lookupBlockByHash(lookupHash uint32) uint32 {
	left, right := 0, len(n.entries)-1
	for left <= right {
		mid := (left + right) / 2
		if n.entries[mid].hash <= lookupHash {
			left = mid + 1
		} else {
			right = mid - 1
		}
	}
	return n.entries[left-1].block
}

// readDirLogicalBlock reads the directory data block at logicalBlock,
// resolving it through fb exactly like any other directory block (HTree
// nodes live inside the directory's own data, addressed the same way).
func readDirLogicalBlock(fb *fileBlocks, src blockSource, logicalBlock uint64) ([]byte, error) {
	diskBlock, hole, err := fb.resolve(logicalBlock)
	if err != nil {
		return nil, err
	}
	if hole {
		return nil, corruptErr(CorruptDirectoryEntry, "directory logical block %d is unexpectedly a hole", logicalBlock)
	}
	return src.get(diskBlock)
}

// htreeLookup attempts to find name via the directory's HTree index,
// reporting found=false (not an error) whenever the fast path doesn't
// resolve the name, so the caller can fall back to a full linear scan.
func htreeLookup(in *inode, fb *fileBlocks, src blockSource, sb *superblock, checksumBase uint32, name string) (entry dirEntry, found bool, err error) {
	rootBlock, err := readDirLogicalBlock(fb, src, 0)
	if err != nil {
		return dirEntry{}, false, err
	}

	major, _, err := dirHash(name, sb.hashVersion, sb.hashTreeSeed)
	if err != nil {
		return dirEntry{}, false, err
	}

	root, indirectLevels, err := newHTreeRootNode(rootBlock)
	if err != nil {
		return dirEntry{}, false, err
	}
	logicalBlock := uint64(root.lookupBlockByHash(major))

	for level := byte(0); level < indirectLevels; level++ {
		nodeBlock, err := readDirLogicalBlock(fb, src, logicalBlock)
		if err != nil {
			return dirEntry{}, false, err
		}
		node, err := newHTreeInternalNode(nodeBlock)
		if err != nil {
			return dirEntry{}, false, err
		}
		logicalBlock = uint64(node.lookupBlockByHash(major))
	}

	leafBlock, err := readDirLogicalBlock(fb, src, logicalBlock)
	if err != nil {
		return dirEntry{}, false, err
	}
	entries, err := parseDirBlockEntries(leafBlock, sb.blockSize, sb.features.metadataChecksums(), checksumBase)
	if err != nil {
		return dirEntry{}, false, err
	}
	for _, e := range entries {
		if e.name == name {
			return e, true, nil
		}
	}
	return dirEntry{}, false, nil
}

// lookupDirEntryByName finds name among in's directory entries. When the
// directory advertises an HTree index this tries the indexed lookup first,
// but a full linear scan is always the fallback (and the only path for
// directories without an index), so hash-algorithm or index corruption
// never causes a lookup to incorrectly report "not found".
func lookupDirEntryByName(in *inode, fb *fileBlocks, src blockSource, sb *superblock, checksumBase uint32, name string) (*dirEntry, error) {
	if in.flags.hashedDirectoryIndexes {
		if entry, found, err := htreeLookup(in, fb, src, sb, checksumBase, name); err == nil && found {
			return &entry, nil
		}
	}

	entries, err := readDirectory(in, fb, src, sb, checksumBase)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].name == name {
			return &entries[i], nil
		}
	}
	return nil, ErrNotFound
}
