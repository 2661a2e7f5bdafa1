package ext4

import (
	"encoding/binary"
	"os"
	"time"
)

type inodeFlag uint32
type fileType uint16

func (i inodeFlag) included(a uint32) bool {
	return a&uint32(i) == uint32(i)
}

const (
	ext2InodeSize uint16 = 128
	// minInodeExtraSize is the minimum extra size ext4 adds atop the ext2
	// 128-byte inode record.
	minInodeExtraSize     uint16 = 32
	minInodeSize          uint16 = ext2InodeSize + minInodeExtraSize
	inlinePayloadSize      int    = 60

	inodeFlagSecureDeletion          inodeFlag = 0x1
	inodeFlagPreserveForUndeletion   inodeFlag = 0x2
	inodeFlagCompressed              inodeFlag = 0x4
	inodeFlagSynchronous             inodeFlag = 0x8
	inodeFlagImmutable               inodeFlag = 0x10
	inodeFlagAppendOnly              inodeFlag = 0x20
	inodeFlagNoDump                  inodeFlag = 0x40
	inodeFlagNoAccessTimeUpdate      inodeFlag = 0x80
	inodeFlagDirtyCompressed         inodeFlag = 0x100
	inodeFlagCompressedClusters      inodeFlag = 0x200
	inodeFlagNoCompress              inodeFlag = 0x400
	inodeFlagEncryptedInode          inodeFlag = 0x800
	inodeFlagHashedDirectoryIndexes  inodeFlag = 0x1000
	inodeFlagAFSMagicDirectory       inodeFlag = 0x2000
	inodeFlagAlwaysJournal           inodeFlag = 0x4000
	inodeFlagNoMergeTail             inodeFlag = 0x8000
	inodeFlagSyncDirectoryData       inodeFlag = 0x10000
	inodeFlagTopDirectory            inodeFlag = 0x20000
	inodeFlagHugeFile                inodeFlag = 0x40000
	inodeFlagUsesExtents             inodeFlag = 0x80000
	inodeFlagExtendedAttributes      inodeFlag = 0x200000
	inodeFlagBlocksPastEOF           inodeFlag = 0x400000
	inodeFlagSnapshot                inodeFlag = 0x1000000
	inodeFlagDeletingSnapshot        inodeFlag = 0x4000000
	inodeFlagCompletedSnapshotShrink inodeFlag = 0x8000000
	inodeFlagInlineData              inodeFlag = 0x10000000
	inodeFlagInheritProject          inodeFlag = 0x20000000

	fileTypeFifo            fileType = 0x1000
	fileTypeCharacterDevice fileType = 0x2000
	fileTypeDirectory       fileType = 0x4000
	fileTypeBlockDevice     fileType = 0x6000
	fileTypeRegularFile     fileType = 0x8000
	fileTypeSymbolicLink    fileType = 0xA000
	fileTypeSocket          fileType = 0xC000

	filePermissionsOwnerExecute uint16 = 0x40
	filePermissionsOwnerWrite   uint16 = 0x80
	filePermissionsOwnerRead    uint16 = 0x100
	filePermissionsGroupExecute uint16 = 0x8
	filePermissionsGroupWrite   uint16 = 0x10
	filePermissionsGroupRead    uint16 = 0x20
	filePermissionsOtherExecute uint16 = 0x1
	filePermissionsOtherWrite   uint16 = 0x2
	filePermissionsOtherRead    uint16 = 0x4
	filePermissionsSticky       uint16 = 0x200
	filePermissionsGroupSetgid  uint16 = 0x400
	filePermissionsOwnerSetuid  uint16 = 0x800
)

// inodeFlags holds the decoded bit flags from an inode's i_flags field.
type inodeFlags struct {
	secureDeletion          bool
	preserveForUndeletion   bool
	compressed              bool
	synchronous             bool
	immutable               bool
	appendOnly              bool
	noDump                  bool
	noAccessTimeUpdate      bool
	dirtyCompressed         bool
	compressedClusters      bool
	noCompress              bool
	encryptedInode          bool
	hashedDirectoryIndexes  bool
	AFSMagicDirectory       bool
	alwaysJournal           bool
	noMergeTail             bool
	syncDirectoryData       bool
	topDirectory            bool
	hugeFile                bool
	usesExtents             bool
	extendedAttributes      bool
	blocksPastEOF           bool
	snapshot                bool
	deletingSnapshot        bool
	completedSnapshotShrink bool
	inlineData              bool
	inheritProject          bool
}

type filePermissions struct {
	read    bool
	write   bool
	execute bool
	special bool
}

// inode is the decoded form of one on-disk inode record. extents and
// blockmap roots are not walked here: inlinePayload is the raw 60-byte
// region at offset 0x28, interpreted by the Extents or BlockMap component
// depending on flags.usesExtents, or as a symlink target when fileType is
// a symbolic link and size is small enough to be stored inline.
type inode struct {
	number                 uint32
	permissionsOther       filePermissions
	permissionsGroup       filePermissions
	permissionsOwner       filePermissions
	fileType               fileType
	owner                  uint32
	group                  uint32
	size                   uint64
	accessTime             time.Time
	changeTime             time.Time
	modifyTime             time.Time
	createTime             time.Time
	deletionTime           uint32
	hardLinks              uint16
	blocks512              uint64
	flags                  inodeFlags
	generation             uint32
	extendedAttributeBlock uint64
	inodeSize              uint16
	project                uint32
	inlinePayload          [inlinePayloadSize]byte
	linkTarget             string
}

// inodeFromBytes parses and checksum-validates one inode record. b must be
// exactly sb.inodeSize bytes, already sliced out of the inode table at the
// record's offset.
func inodeFromBytes(b []byte, sb *superblock, number uint32) (*inode, error) {
	if len(b) < int(minInodeSize) {
		return nil, corruptErr(CorruptInodeInvalid, "inode %d: record is %d bytes, minimum is %d", number, len(b), minInodeSize)
	}

	scratch := make([]byte, len(b))
	copy(scratch, b)
	onDiskChecksumLow := binary.LittleEndian.Uint16(scratch[0x7c:0x7e])
	var onDiskChecksumHigh uint16
	if len(scratch) >= 0x84 {
		onDiskChecksumHigh = binary.LittleEndian.Uint16(scratch[0x82:0x84])
		scratch[0x82] = 0
		scratch[0x83] = 0
	}
	scratch[0x7c] = 0
	scratch[0x7d] = 0

	mode := binary.LittleEndian.Uint16(scratch[0x0:0x2])
	generation := binary.LittleEndian.Uint32(scratch[0x64:0x68])

	if sb.features.metadataChecksums() {
		want := uint32(onDiskChecksumLow) | uint32(onDiskChecksumHigh)<<16
		base := inodeChecksumBase(sb.checksumSeed, number, generation)
		actual32 := NewChecksum(base).Update(scratch).Finalize()
		var actual uint32
		if len(scratch) >= 0x84 {
			actual = actual32
		} else {
			actual = uint32(uint16(actual32))
		}
		if actual != want {
			return nil, corruptErr(CorruptInodeChecksum, "inode %d: got %#x, want %#x", number, actual, want)
		}
	}

	ownerLow := binary.LittleEndian.Uint16(scratch[0x2:0x4])
	ownerHigh := binary.LittleEndian.Uint16(scratch[0x78:0x7a])
	groupLow := binary.LittleEndian.Uint16(scratch[0x18:0x1a])
	groupHigh := binary.LittleEndian.Uint16(scratch[0x7a:0x7c])

	fileSizeLow := binary.LittleEndian.Uint32(scratch[0x4:0x8])
	fileSizeHigh := binary.LittleEndian.Uint32(scratch[0x6c:0x70])
	fileSize := uint64(fileSizeLow) | uint64(fileSizeHigh)<<32

	accessTimeSeconds := int32(binary.LittleEndian.Uint32(scratch[0x8:0xc]))
	changeTimeSeconds := int32(binary.LittleEndian.Uint32(scratch[0xc:0x10]))
	modifyTimeSeconds := int32(binary.LittleEndian.Uint32(scratch[0x10:0x14]))

	flagsNum := binary.LittleEndian.Uint32(scratch[0x20:0x24])
	flags := parseInodeFlags(flagsNum)

	blocksLow := binary.LittleEndian.Uint32(scratch[0x1c:0x20])
	blocksHigh := binary.LittleEndian.Uint16(scratch[0x74:0x76])
	blocks512 := uint64(blocksHigh)<<32 | uint64(blocksLow)

	fType := parseFileType(mode)

	var (
		createTimeSeconds int32
		accessExtra       uint32
		changeExtra       uint32
		modifyExtra       uint32
		createExtra       uint32
		extendedAttrBlock uint64
		project           uint32
		inodeSize         = ext2InodeSize
	)
	if len(scratch) >= int(minInodeSize) {
		inodeSize = binary.LittleEndian.Uint16(scratch[0x80:0x82]) + ext2InodeSize
	}
	if len(scratch) >= 0x98 {
		createTimeSeconds = int32(binary.LittleEndian.Uint32(scratch[0x90:0x94]))
		accessExtra = binary.LittleEndian.Uint32(scratch[0x8c:0x90])
		changeExtra = binary.LittleEndian.Uint32(scratch[0x84:0x88])
		modifyExtra = binary.LittleEndian.Uint32(scratch[0x88:0x8c])
		createExtra = binary.LittleEndian.Uint32(scratch[0x94:0x98])
	}
	if len(scratch) >= 0x8c {
		eaLow := binary.LittleEndian.Uint32(scratch[0x88:0x8c])
		eaHigh := binary.LittleEndian.Uint16(scratch[0x76:0x78])
		extendedAttrBlock = uint64(eaHigh)<<32 | uint64(eaLow)
	}
	if len(scratch) >= 0x100 {
		project = binary.LittleEndian.Uint32(scratch[0x9c:0xa0])
	}

	decodeTimestamp := func(seconds int32, extra uint32) time.Time {
		sec := int64(seconds) + int64(extra&0x3)<<32
		nsec := int64(extra >> 2)
		return time.Unix(sec, nsec).UTC()
	}

	var inlinePayload [inlinePayloadSize]byte
	copy(inlinePayload[:], scratch[0x28:0x28+inlinePayloadSize])

	var linkTarget string
	if fType == fileTypeSymbolicLink && fileSize < uint64(inlinePayloadSize) && blocks512 == 0 {
		linkTarget = string(inlinePayload[:fileSize])
	}

	i := &inode{
		number:                 number,
		permissionsOwner:       parseOwnerPermissions(mode),
		permissionsGroup:       parseGroupPermissions(mode),
		permissionsOther:       parseOtherPermissions(mode),
		fileType:               fType,
		owner:                  uint32(ownerLow) | uint32(ownerHigh)<<16,
		group:                  uint32(groupLow) | uint32(groupHigh)<<16,
		size:                   fileSize,
		hardLinks:              binary.LittleEndian.Uint16(scratch[0x1a:0x1c]),
		blocks512:              blocks512,
		flags:                  flags,
		generation:             generation,
		inodeSize:              inodeSize,
		deletionTime:           binary.LittleEndian.Uint32(scratch[0x14:0x18]),
		accessTime:             decodeTimestamp(accessTimeSeconds, accessExtra),
		changeTime:             decodeTimestamp(changeTimeSeconds, changeExtra),
		modifyTime:             decodeTimestamp(modifyTimeSeconds, modifyExtra),
		createTime:             decodeTimestamp(createTimeSeconds, createExtra),
		extendedAttributeBlock: extendedAttrBlock,
		project:                project,
		inlinePayload:          inlinePayload,
		linkTarget:             linkTarget,
	}

	return i, nil
}

// sizeInBlocks returns blocks512 converted from 512-byte sector units to
// filesystem blocks, per the HUGE_FILE feature: when set and the inode's
// own huge-file flag is also set, blocks512 already counts filesystem
// blocks rather than 512-byte sectors.
func (i *inode) sizeInBlocks(sb *superblock) uint64 {
	if sb.features.hugeFile() && i.flags.hugeFile {
		return i.blocks512
	}
	sectorsPerBlock := uint64(sb.blockSize / 512)
	if sectorsPerBlock == 0 {
		sectorsPerBlock = 1
	}
	return (i.blocks512 + sectorsPerBlock - 1) / sectorsPerBlock
}

func (i *inode) permissionsToMode() os.FileMode {
	var mode os.FileMode

	switch i.fileType {
	case fileTypeRegularFile:
	case fileTypeDirectory:
		mode |= os.ModeDir
	case fileTypeSymbolicLink:
		mode |= os.ModeSymlink
	case fileTypeCharacterDevice:
		mode |= os.ModeDevice | os.ModeCharDevice
	case fileTypeBlockDevice:
		mode |= os.ModeDevice
	case fileTypeFifo:
		mode |= os.ModeNamedPipe
	case fileTypeSocket:
		mode |= os.ModeSocket
	}

	if i.permissionsOwner.read {
		mode |= 0o400
	}
	if i.permissionsOwner.write {
		mode |= 0o200
	}
	if i.permissionsOwner.execute {
		mode |= 0o100
	}
	if i.permissionsOwner.special {
		mode |= os.ModeSetuid
	}
	if i.permissionsGroup.read {
		mode |= 0o040
	}
	if i.permissionsGroup.write {
		mode |= 0o020
	}
	if i.permissionsGroup.execute {
		mode |= 0o010
	}
	if i.permissionsGroup.special {
		mode |= os.ModeSetgid
	}
	if i.permissionsOther.read {
		mode |= 0o004
	}
	if i.permissionsOther.write {
		mode |= 0o002
	}
	if i.permissionsOther.execute {
		mode |= 0o001
	}
	if i.permissionsOther.special {
		mode |= os.ModeSticky
	}

	return mode
}

func parseOwnerPermissions(mode uint16) filePermissions {
	return filePermissions{
		execute: mode&filePermissionsOwnerExecute == filePermissionsOwnerExecute,
		write:   mode&filePermissionsOwnerWrite == filePermissionsOwnerWrite,
		read:    mode&filePermissionsOwnerRead == filePermissionsOwnerRead,
		special: mode&filePermissionsOwnerSetuid == filePermissionsOwnerSetuid,
	}
}

func parseGroupPermissions(mode uint16) filePermissions {
	return filePermissions{
		execute: mode&filePermissionsGroupExecute == filePermissionsGroupExecute,
		write:   mode&filePermissionsGroupWrite == filePermissionsGroupWrite,
		read:    mode&filePermissionsGroupRead == filePermissionsGroupRead,
		special: mode&filePermissionsGroupSetgid == filePermissionsGroupSetgid,
	}
}

func parseOtherPermissions(mode uint16) filePermissions {
	return filePermissions{
		execute: mode&filePermissionsOtherExecute == filePermissionsOtherExecute,
		write:   mode&filePermissionsOtherWrite == filePermissionsOtherWrite,
		read:    mode&filePermissionsOtherRead == filePermissionsOtherRead,
		special: mode&filePermissionsSticky == filePermissionsSticky,
	}
}

// parseFileType extracts the top 4 bits of i_mode, which the on-disk format
// uses to hold exactly one of the file type constants.
func parseFileType(mode uint16) fileType {
	return fileType(mode & 0xF000)
}

func parseInodeFlags(flags uint32) inodeFlags {
	return inodeFlags{
		secureDeletion:          inodeFlagSecureDeletion.included(flags),
		preserveForUndeletion:   inodeFlagPreserveForUndeletion.included(flags),
		compressed:              inodeFlagCompressed.included(flags),
		synchronous:             inodeFlagSynchronous.included(flags),
		immutable:               inodeFlagImmutable.included(flags),
		appendOnly:              inodeFlagAppendOnly.included(flags),
		noDump:                  inodeFlagNoDump.included(flags),
		noAccessTimeUpdate:      inodeFlagNoAccessTimeUpdate.included(flags),
		dirtyCompressed:         inodeFlagDirtyCompressed.included(flags),
		compressedClusters:      inodeFlagCompressedClusters.included(flags),
		noCompress:              inodeFlagNoCompress.included(flags),
		encryptedInode:          inodeFlagEncryptedInode.included(flags),
		hashedDirectoryIndexes:  inodeFlagHashedDirectoryIndexes.included(flags),
		AFSMagicDirectory:       inodeFlagAFSMagicDirectory.included(flags),
		alwaysJournal:           inodeFlagAlwaysJournal.included(flags),
		noMergeTail:             inodeFlagNoMergeTail.included(flags),
		syncDirectoryData:       inodeFlagSyncDirectoryData.included(flags),
		topDirectory:            inodeFlagTopDirectory.included(flags),
		hugeFile:                inodeFlagHugeFile.included(flags),
		usesExtents:             inodeFlagUsesExtents.included(flags),
		extendedAttributes:      inodeFlagExtendedAttributes.included(flags),
		blocksPastEOF:           inodeFlagBlocksPastEOF.included(flags),
		snapshot:                inodeFlagSnapshot.included(flags),
		deletingSnapshot:        inodeFlagDeletingSnapshot.included(flags),
		completedSnapshotShrink: inodeFlagCompletedSnapshotShrink.included(flags),
		inlineData:              inodeFlagInlineData.included(flags),
		inheritProject:          inodeFlagInheritProject.included(flags),
	}
}
