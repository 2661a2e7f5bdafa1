package ext4

// readInode locates inode number within the inode tables described by gdt
// and returns its decoded form. The locate formula is purely arithmetic:
// group = (number-1)/inodesPerGroup selects the block group descriptor,
// and the remainder selects the inode's byte offset within that group's
// inode table.
func readInode(number uint32, sb *superblock, gdt *groupDescriptorTable, src blockSource) (*inode, error) {
	if number == 0 {
		return nil, corruptErr(CorruptInodeInvalid, "inode number 0 does not exist")
	}

	group := uint64(number-1) / uint64(sb.inodesPerGroup)
	indexInGroup := uint64(number-1) % uint64(sb.inodesPerGroup)

	gd, err := gdt.get(group)
	if err != nil {
		return nil, err
	}

	byteOffset := indexInGroup * uint64(sb.inodeSize)
	diskBlock := gd.inodeTableFirstBlock + byteOffset/uint64(sb.blockSize)
	offsetInBlock := byteOffset % uint64(sb.blockSize)

	rec := make([]byte, sb.inodeSize)
	n := uint64(0)
	for n < uint64(sb.inodeSize) {
		block, err := src.get(diskBlock)
		if err != nil {
			return nil, err
		}
		avail := uint64(sb.blockSize) - offsetInBlock
		take := uint64(sb.inodeSize) - n
		if take > avail {
			take = avail
		}
		copy(rec[n:n+take], block[offsetInBlock:offsetInBlock+take])
		n += take
		diskBlock++
		offsetInBlock = 0
	}

	return inodeFromBytes(rec, sb, number)
}
