package ext4

// readDirectory returns every live entry across all of a directory inode's
// data blocks, in on-disk block order. Each block is resolved through fb
// exactly like file data, sparse blocks contribute no entries (a directory
// should never actually have holes, but nothing here depends on that), and
// leaf block tail checksums are verified when the filesystem carries
// METADATA_CHECKSUMS.
func readDirectory(in *inode, fb *fileBlocks, src blockSource, sb *superblock, checksumBase uint32) ([]dirEntry, error) {
	blockSize := sb.blockSize
	totalBlocks := (in.size + uint64(blockSize) - 1) / uint64(blockSize)

	var all []dirEntry
	for i := uint64(0); i < totalBlocks; i++ {
		diskBlock, hole, err := fb.resolve(i)
		if err != nil {
			return nil, err
		}
		if hole {
			continue
		}
		data, err := src.get(diskBlock)
		if err != nil {
			return nil, err
		}
		entries, err := parseDirBlockEntries(data, blockSize, sb.features.metadataChecksums(), checksumBase)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}
