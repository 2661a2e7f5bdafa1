package ext4

type feature uint32

const (
	compatDirPreallocate          feature = 0x1
	compatImagicInodes            feature = 0x2
	compatHasJournal               feature = 0x4
	compatExtendedAttributes       feature = 0x8
	compatResizeInode              feature = 0x10
	compatDirIndex                 feature = 0x20
	compatLazyBlockGroup           feature = 0x40
	compatSparseSuperV2            feature = 0x200

	incompatCompression            feature = 0x1
	incompatFileType                feature = 0x2
	incompatRecoveryNeeded          feature = 0x4
	incompatSeparateJournalDevice   feature = 0x8
	incompatMetaBlockGroups         feature = 0x10
	incompatExtents                 feature = 0x40
	incompat64Bit                   feature = 0x80
	incompatMultipleMountProtection feature = 0x100
	incompatFlexBlockGroups         feature = 0x200
	incompatExtendedAttributeInodes feature = 0x400
	incompatDataInDirEntry          feature = 0x1000
	incompatChecksumSeedInSB        feature = 0x2000
	incompatLargeDirectory          feature = 0x4000
	incompatDataInInode             feature = 0x8000
	incompatEncryptedInodes         feature = 0x10000

	roCompatSparseSuper      feature = 0x1
	roCompatLargeFile        feature = 0x2
	roCompatHugeFile         feature = 0x8
	roCompatGDTChecksum      feature = 0x10
	roCompatLargeInodes      feature = 0x40
	roCompatMetadataChecksums feature = 0x400
	roCompatReadOnly         feature = 0x1000
	roCompatProjectQuotas    feature = 0x2000
)

// knownIncompatFeatures lists every INCOMPAT_* bit this implementation
// understands. Any bit outside this set is Incompatible, per the
// superblock's "all incompatible bits must be known" invariant.
const knownIncompatFeatures = incompatCompression | incompatFileType | incompatRecoveryNeeded |
	incompatSeparateJournalDevice | incompatMetaBlockGroups | incompatExtents | incompat64Bit |
	incompatMultipleMountProtection | incompatFlexBlockGroups | incompatExtendedAttributeInodes |
	incompatDataInDirEntry | incompatChecksumSeedInSB | incompatLargeDirectory | incompatDataInInode |
	incompatEncryptedInodes

// disallowedIncompatFeatures is the short disallow-list this read-only
// implementation refuses to load against, even though the bits are
// individually "known": compression, the recovery flag (a dirty journal
// this implementation does not write back), a separate journal device,
// meta block groups, multiple-mount protection, large xattrs in inodes,
// data-in-directory-entries, oversize directories and inline inode data.
const disallowedIncompatFeatures = incompatCompression | incompatRecoveryNeeded |
	incompatSeparateJournalDevice | incompatMetaBlockGroups | incompatMultipleMountProtection |
	incompatExtendedAttributeInodes | incompatDataInDirEntry | incompatLargeDirectory | incompatDataInInode

type featureFlags struct {
	compat, incompat, roCompat feature
}

func (f featureFlags) hasIncompat(bits feature) bool {
	return f.incompat&bits == bits
}

func (f featureFlags) hasRoCompat(bits feature) bool {
	return f.roCompat&bits == bits
}

func (f featureFlags) hasCompat(bits feature) bool {
	return f.compat&bits == bits
}

func (f featureFlags) usesExtents() bool      { return f.hasIncompat(incompatExtents) }
func (f featureFlags) is64Bit() bool          { return f.hasIncompat(incompat64Bit) }
func (f featureFlags) hasJournal() bool       { return f.hasCompat(compatHasJournal) }
func (f featureFlags) metadataChecksums() bool { return f.hasRoCompat(roCompatMetadataChecksums) }
func (f featureFlags) hugeFile() bool         { return f.hasRoCompat(roCompatHugeFile) }
func (f featureFlags) gdtChecksum() bool      { return f.hasRoCompat(roCompatGDTChecksum) }

// validate enforces the superblock feature invariants: every incompatible
// bit must be recognized, FILE_TYPE_IN_DIR_ENTRY must be present, and the
// disallow-list must be absent.
func (f featureFlags) validate() error {
	if unknown := f.incompat &^ knownIncompatFeatures; unknown != 0 {
		return newErr(KindIncompatible, "unknown incompatible feature bits %#x", unknown)
	}
	if !f.hasIncompat(incompatFileType) {
		return newErr(KindIncompatible, "FILE_TYPE_IN_DIR_ENTRY is required but absent")
	}
	if disallowed := f.incompat & disallowedIncompatFeatures; disallowed != 0 {
		return newErr(KindIncompatible, "disallowed incompatible feature bits %#x", disallowed)
	}
	return nil
}
