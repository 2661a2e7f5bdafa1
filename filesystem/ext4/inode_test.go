package ext4

import "testing"

func makeTestSuperblock() *superblock {
	return &superblock{
		blockSize:    1024,
		checksumSeed: 0xFFFFFFFF,
		features:     featureFlags{incompat: incompatFileType | incompatExtents},
	}
}

func TestInodeFromBytesRejectsShortRecord(t *testing.T) {
	sb := makeTestSuperblock()
	if _, err := inodeFromBytes(make([]byte, 32), sb, 2); err == nil {
		t.Fatal("expected error for undersized inode record")
	}
}

func TestInodeFromBytesParsesModeAndType(t *testing.T) {
	sb := makeTestSuperblock()
	b := make([]byte, minInodeSize)
	b[0] = 0o644 & 0xff
	b[1] = (0o644 >> 8) | 0x80 // regular file, mode low byte already set above
	inode, err := inodeFromBytes(b, sb, 12)
	if err != nil {
		t.Fatal(err)
	}
	if inode.fileType != fileTypeRegularFile {
		t.Errorf("fileType = %#x, want %#x", inode.fileType, fileTypeRegularFile)
	}
	if !inode.permissionsOwner.read || !inode.permissionsOwner.write {
		t.Errorf("owner permissions not parsed: %+v", inode.permissionsOwner)
	}
}

func TestInodeSizeInBlocksUsesSectorsWhenNotHugeFile(t *testing.T) {
	sb := makeTestSuperblock()
	i := &inode{blocks512: 8}
	if got := i.sizeInBlocks(sb); got != 4 {
		t.Errorf("sizeInBlocks = %d, want 4", got)
	}
}

func TestInodeSizeInBlocksUsesFilesystemBlocksWhenHugeFile(t *testing.T) {
	sb := makeTestSuperblock()
	sb.features.roCompat |= roCompatHugeFile
	i := &inode{blocks512: 4, flags: inodeFlags{hugeFile: true}}
	if got := i.sizeInBlocks(sb); got != 4 {
		t.Errorf("sizeInBlocks = %d, want 4", got)
	}
}
