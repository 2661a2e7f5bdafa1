package ext4

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// journalBlockType is the h_blocktype field of a jbd2 block header. Only
// the block types this read-only implementation needs to replay are named;
// anything else is an unsupported format.
type journalBlockType uint32

const (
	journalBlockTypeDescriptor   journalBlockType = 1
	journalBlockTypeCommit       journalBlockType = 2
	journalBlockTypeSuperblockV2 journalBlockType = 4
	journalBlockTypeRevocation   journalBlockType = 5
)

const journalMagic uint32 = 0xC03B3998

// journalIncompatFeature bits, per jbd2.
type journalIncompatFeature uint32

const (
	journalIncompatBlockRevocations journalIncompatFeature = 0x1
	journalIncompat64Bit            journalIncompatFeature = 0x2
	journalIncompatAsyncCommit      journalIncompatFeature = 0x4
	journalIncompatChecksumV2       journalIncompatFeature = 0x8
	journalIncompatChecksumV3       journalIncompatFeature = 0x10
	journalIncompatFastCommit       journalIncompatFeature = 0x20
)

// requiredJournalIncompatFeatures is the exact feature set this
// implementation supports: a journal advertising any other combination,
// including a superset, is Incompatible. Only CHECKSUM_V3 journals use the
// fixed-size descriptor tag layout this package decodes.
const requiredJournalIncompatFeatures = journalIncompat64Bit | journalIncompatChecksumV3

const journalChecksumTypeCRC32C = 4

// journalHeader is the common 12-byte header for every jbd2 block.
type journalHeader struct {
	blockType journalBlockType
	sequence  uint32
}

// journalHeaderFromBytes reads the 12-byte jbd2 block header. A magic
// mismatch is not an error: it is how a reader recognizes the end of the
// written log, so it is reported via ok rather than an *Error.
func journalHeaderFromBytes(b []byte) (h journalHeader, ok bool) {
	if len(b) < 12 {
		return journalHeader{}, false
	}
	if binary.BigEndian.Uint32(b[0x0:0x4]) != journalMagic {
		return journalHeader{}, false
	}
	return journalHeader{
		blockType: journalBlockType(binary.BigEndian.Uint32(b[0x4:0x8])),
		sequence:  binary.BigEndian.Uint32(b[0x8:0xc]),
	}, true
}

// journalSuperblock holds the fields of the jbd2 superblock this package
// needs to replay the log: nothing else (quota/user-id tables, the dynamic
// v2-only feature bits this implementation treats as required rather than
// optional) is retained once loaded.
type journalSuperblock struct {
	blockSize  uint32
	sequence   uint32
	startBlock uint32
	uuid       uuid.UUID
}

const journalSuperblockSize = 1024

// journalSuperblockFromBytes parses and validates the 1024-byte jbd2
// superblock region. Only the V2 layout is accepted: a V1 superblock lacks
// the incompatible-feature and UUID fields this implementation relies on to
// decide whether it understands the log at all.
func journalSuperblockFromBytes(b []byte) (*journalSuperblock, error) {
	if len(b) != journalSuperblockSize {
		return nil, corruptErr(CorruptJournalSize, "journal superblock must be exactly %d bytes, got %d", journalSuperblockSize, len(b))
	}

	header, ok := journalHeaderFromBytes(b[0x0:0xc])
	if !ok {
		return nil, corruptErr(CorruptJournalMagic, "journal superblock: bad magic")
	}
	if header.blockType != journalBlockTypeSuperblockV2 {
		return nil, newErr(KindIncompatible, "journal superblock type %d is not supported, only v2", header.blockType)
	}

	incompat := journalIncompatFeature(binary.BigEndian.Uint32(b[0x28:0x2c]))
	if incompat != requiredJournalIncompatFeatures {
		return nil, newErr(KindIncompatible, "journal requires incompatible feature set %#x, image has %#x", requiredJournalIncompatFeatures, incompat)
	}

	checksumType := b[0x50]
	if checksumType != journalChecksumTypeCRC32C {
		return nil, newErr(KindIncompatible, "journal checksum type %d is not supported, only CRC32C", checksumType)
	}

	fsUUID, err := uuid.FromBytes(b[0x30:0x40])
	if err != nil {
		return nil, corruptErr(CorruptJournalMagic, "invalid journal UUID: %v", err)
	}

	// The superblock checksum seeds with the default seed directly (not the
	// journal UUID, unlike every other jbd2 block type) and folds the
	// checksum field in little-endian, the one place this big-endian format
	// departs from that convention.
	want := binary.BigEndian.Uint32(b[0xfc:0x100])
	c := NewChecksum(defaultChecksumSeed).Update(b[:0xfc]).UpdateUint32LE(0).Update(b[0x100:journalSuperblockSize])
	if actual := c.Finalize(); actual != want {
		return nil, corruptErr(CorruptJournalSuperblockChecksum, "got %#x, want %#x", actual, want)
	}

	return &journalSuperblock{
		blockSize:  binary.BigEndian.Uint32(b[0xc:0x10]),
		sequence:   binary.BigEndian.Uint32(b[0x18:0x1c]),
		startBlock: binary.BigEndian.Uint32(b[0x1c:0x20]),
		uuid:       fsUUID,
	}, nil
}

// descriptorTagFlag bits, per jbd2_journal_block_tag3_t.t_flags.
type descriptorTagFlag uint32

const (
	descriptorTagEscaped    descriptorTagFlag = 0x1
	descriptorTagUUIDOmitted descriptorTagFlag = 0x2
	descriptorTagDeleted    descriptorTagFlag = 0x4
	descriptorTagLast       descriptorTagFlag = 0x8
)

const (
	descriptorTagSizeWithoutUUID = 16
	descriptorTagSizeWithUUID    = 32
)

// descriptorBlockTag is one entry of a CHECKSUM_V3 descriptor block: which
// fs block the paired data block belongs to, plus its expected checksum.
type descriptorBlockTag struct {
	fsBlockIndex uint64
	checksum     uint32
	flags        descriptorTagFlag
}

// descriptorBlockTagFromBytes reads one fixed-size (16- or 32-byte,
// depending on whether the per-tag UUID is present) CHECKSUM_V3 tag and
// reports how many bytes it consumed.
func descriptorBlockTagFromBytes(b []byte) (tag descriptorBlockTag, size int, err error) {
	if len(b) < descriptorTagSizeWithoutUUID {
		return descriptorBlockTag{}, 0, corruptErr(CorruptJournalDescriptorChecksum, "descriptor block truncated mid-tag")
	}
	blockLow := binary.BigEndian.Uint32(b[0x0:0x4])
	flags := descriptorTagFlag(binary.BigEndian.Uint32(b[0x4:0x8]))
	blockHigh := binary.BigEndian.Uint32(b[0x8:0xc])
	checksum := binary.BigEndian.Uint32(b[0xc:0x10])

	size = descriptorTagSizeWithoutUUID
	if flags&descriptorTagUUIDOmitted == 0 {
		size = descriptorTagSizeWithUUID
		if len(b) < size {
			return descriptorBlockTag{}, 0, corruptErr(CorruptJournalDescriptorChecksum, "descriptor block truncated mid-tag UUID")
		}
	}

	return descriptorBlockTag{
		fsBlockIndex: uint64(blockHigh)<<32 | uint64(blockLow),
		checksum:     checksum,
		flags:        flags,
	}, size, nil
}

// descriptorBlockTags walks every tag in a descriptor block's payload
// (everything after the 12-byte header), stopping at the tag marked
// descriptorTagLast or when the payload is exhausted.
func descriptorBlockTags(payload []byte) ([]descriptorBlockTag, error) {
	var tags []descriptorBlockTag
	for offset := 0; offset < len(payload); {
		tag, size, err := descriptorBlockTagFromBytes(payload[offset:])
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
		offset += size
		if tag.flags&descriptorTagLast != 0 {
			break
		}
	}
	return tags, nil
}

// dataBlockChecksum computes the checksum a CHECKSUM_V3 descriptor tag
// promises for its paired data block: CRC32C seeded by the journal UUID,
// folding the transaction sequence number (big-endian) and then the block's
// raw bytes.
func dataBlockChecksum(journalUUID uuid.UUID, sequence uint32, data []byte) uint32 {
	seedBytes, _ := journalUUID.MarshalBinary()
	return NewChecksum(crc32c(defaultChecksumSeed, seedBytes)).UpdateUint32BE(sequence).Update(data).Finalize()
}

// validateCommitBlockChecksum checks a commit block's CRC32C field at
// offset 0x10: seeded by the journal UUID, covering the whole block with
// that field zeroed. The kernel header describes bytes 0xc/0xd as a
// checksum type/size pair, but under CHECKSUM_V3 both are always zero.
func validateCommitBlockChecksum(journalUUID uuid.UUID, block []byte) error {
	const checksumOffset = 0x10
	if len(block) < checksumOffset+4 {
		return corruptErr(CorruptJournalCommitChecksum, "commit block is %d bytes, too short for a checksum field", len(block))
	}
	want := binary.BigEndian.Uint32(block[checksumOffset : checksumOffset+4])
	seedBytes, _ := journalUUID.MarshalBinary()
	c := NewChecksum(crc32c(defaultChecksumSeed, seedBytes)).
		Update(block[:checksumOffset]).
		Update([]byte{0, 0, 0, 0}).
		Update(block[checksumOffset+4:])
	if actual := c.Finalize(); actual != want {
		return corruptErr(CorruptJournalCommitChecksum, "got %#x, want %#x", actual, want)
	}
	return nil
}

const revocationBlockTableSizeFieldLen = 4

// validateRevocationBlockChecksum checks a revocation block's trailing
// 4-byte CRC32C field: seeded by the journal UUID, covering everything
// before that field plus a zeroed 4-byte placeholder standing in for it.
func validateRevocationBlockChecksum(journalUUID uuid.UUID, block []byte) error {
	if len(block) < 4 {
		return corruptErr(CorruptJournalRevocationChecksum, "revocation block is %d bytes, too short for a checksum field", len(block))
	}
	checksumOffset := len(block) - 4
	want := binary.BigEndian.Uint32(block[checksumOffset:])
	seedBytes, _ := journalUUID.MarshalBinary()
	c := NewChecksum(crc32c(defaultChecksumSeed, seedBytes)).Update(block[:checksumOffset]).UpdateUint32BE(0)
	if actual := c.Finalize(); actual != want {
		return corruptErr(CorruptJournalRevocationChecksum, "got %#x, want %#x", actual, want)
	}
	return nil
}

// revocationBlockTable decodes the revoked-block list out of a revocation
// block: the 12-byte block header, a 4-byte table byte-length, then that
// many bytes of consecutive big-endian 64-bit block indices; the block's
// last 4 bytes (its checksum tail) are never part of the table. This format is
// 64-bit-only, matching requiredJournalIncompatFeatures always including
// IS_64BIT.
func revocationBlockTable(block []byte) ([]uint64, error) {
	const blockIndexSize = 8
	data := block[12 : len(block)-4]
	if len(data) < revocationBlockTableSizeFieldLen {
		return nil, corruptErr(CorruptJournalRevocationTableSize, "revocation block has no table size field")
	}
	numBytes := binary.BigEndian.Uint32(data[:revocationBlockTableSizeFieldLen])
	if numBytes%blockIndexSize != 0 {
		return nil, corruptErr(CorruptJournalRevocationTableSize, "revocation table size %d is not a multiple of %d", numBytes, blockIndexSize)
	}
	table := data[revocationBlockTableSizeFieldLen:]
	if uint64(numBytes) > uint64(len(table)) {
		return nil, corruptErr(CorruptJournalRevocationTableSize, "revocation table claims %d bytes, block has %d", numBytes, len(table))
	}
	table = table[:numBytes]

	out := make([]uint64, 0, numBytes/blockIndexSize)
	for offset := 0; offset < len(table); offset += blockIndexSize {
		out = append(out, binary.BigEndian.Uint64(table[offset:offset+blockIndexSize]))
	}
	return out, nil
}

// journal maps fs block indices that lie within the committed journal log
// onto the block they were last written to, standing in for any of those
// blocks' originally-assigned locations elsewhere on disk. An empty journal
// (no journal inode, or a clean log with nothing to replay) maps every
// block to itself.
type journal struct {
	committed map[uint64]uint64
}

// emptyJournal returns a journal with no remaps, used when the filesystem
// has no journal inode at all.
func emptyJournal() *journal {
	return &journal{}
}

// remap reports the fs block index that should actually be read in place
// of fsBlockIndex. Blocks the journal never touched map to themselves.
func (j *journal) remap(fsBlockIndex uint64) uint64 {
	if j == nil || j.committed == nil {
		return fsBlockIndex
	}
	if mapped, ok := j.committed[fsBlockIndex]; ok {
		return mapped
	}
	return fsBlockIndex
}

// journalBlockCursor walks the journal inode's data blocks in logical
// order, starting at the superblock's declared start block, reporting each
// one's absolute fs block index. A hole (which a well-formed journal never
// produces) or running off the end of the inode's allocated blocks both end
// the walk the same way a missing jbd2 magic does: quietly.
type journalBlockCursor struct {
	fb         *fileBlocks
	src        blockSource
	pos        uint64
	totalBlocks uint64
}

func newJournalBlockCursor(fb *fileBlocks, src blockSource, startBlock uint32, totalBlocks uint64) *journalBlockCursor {
	return &journalBlockCursor{fb: fb, src: src, pos: uint64(startBlock), totalBlocks: totalBlocks}
}

func (c *journalBlockCursor) next() (block []byte, fsBlockIndex uint64, ok bool, err error) {
	if c.pos >= c.totalBlocks {
		return nil, 0, false, nil
	}
	diskBlock, hole, err := c.fb.resolve(c.pos)
	c.pos++
	if err != nil {
		return nil, 0, false, err
	}
	if hole {
		return nil, 0, false, nil
	}
	block, err = c.src.get(diskBlock)
	if err != nil {
		return nil, 0, false, err
	}
	return block, diskBlock, true, nil
}

// blockMapLoader replays a jbd2 log into a committed fs-block remap table,
// mirroring the descriptor/revocation/commit block dance the kernel's
// journal replay performs at mount time: stage each transaction's writes in
// an uncommitted map, drop anything a later revocation block named, then
// fold the survivors into the final map only once that transaction's commit
// block is seen and its sequence number matches.
type blockMapLoader struct {
	cursor      *journalBlockCursor
	journalUUID uuid.UUID
	sequence    uint32

	committed   map[uint64]uint64
	uncommitted map[uint64]uint64
	revoked     *bitset.BitSet
}

func newBlockMapLoader(cursor *journalBlockCursor, journalUUID uuid.UUID, startSequence uint32, fsBlockCount uint64) *blockMapLoader {
	return &blockMapLoader{
		cursor:      cursor,
		journalUUID: journalUUID,
		sequence:    startSequence,
		committed:   make(map[uint64]uint64),
		uncommitted: make(map[uint64]uint64),
		revoked:     bitset.New(uint(fsBlockCount)),
	}
}

// run replays the entire log, returning the final committed remap table.
// Per the replay policy, a Corrupt error during replay terminates the walk
// quietly, keeping whatever was committed so far; any other error (an I/O
// failure, or an Incompatible block type) propagates to the caller.
func (l *blockMapLoader) run() map[uint64]uint64 {
	blocksReplayed := 0
	for {
		block, _, ok, err := l.cursor.next()
		if err != nil {
			if IsKind(err, KindCorrupt) {
				break
			}
			logrus.WithError(err).Debug("ext4: journal replay stopped on error")
			break
		}
		if !ok {
			break
		}

		header, ok := journalHeaderFromBytes(block[:12])
		if !ok {
			logrus.WithField("blocks_replayed", blocksReplayed).Debug("ext4: journal replay reached clean end of log")
			break
		}
		if header.sequence != l.sequence {
			break
		}

		var stepErr error
		switch header.blockType {
		case journalBlockTypeDescriptor:
			stepErr = l.processDescriptorBlock(block)
		case journalBlockTypeRevocation:
			stepErr = l.processRevocationBlock(block)
		case journalBlockTypeCommit:
			stepErr = l.processCommitBlock(block)
		default:
			logrus.WithField("block_type", header.blockType).Trace("ext4: journal replay stopped on unsupported block type")
			stepErr = nil
			ok = false
		}
		if !ok {
			break
		}
		if stepErr != nil {
			if IsKind(stepErr, KindCorrupt) {
				break
			}
			logrus.WithError(stepErr).Debug("ext4: journal replay stopped on error")
			break
		}
		blocksReplayed++
	}
	logrus.WithField("blocks_replayed", blocksReplayed).Trace("ext4: journal replay finished")
	return l.committed
}

func (l *blockMapLoader) processDescriptorBlock(block []byte) error {
	tags, err := descriptorBlockTags(block[12:])
	if err != nil {
		return err
	}
	for _, tag := range tags {
		data, journalBlockIndex, ok, err := l.cursor.next()
		if err != nil {
			return err
		}
		if !ok {
			return corruptErr(CorruptJournalDescriptorTagChecksum, "journal truncated mid-transaction")
		}
		want := dataBlockChecksum(l.journalUUID, l.sequence, data)
		if tag.checksum != want {
			return corruptErr(CorruptJournalDescriptorTagChecksum, "fs block %d: got %#x, want %#x", tag.fsBlockIndex, tag.checksum, want)
		}
		l.uncommitted[tag.fsBlockIndex] = journalBlockIndex
	}
	return nil
}

func (l *blockMapLoader) processRevocationBlock(block []byte) error {
	if err := validateRevocationBlockChecksum(l.journalUUID, block); err != nil {
		return err
	}
	table, err := revocationBlockTable(block)
	if err != nil {
		return err
	}
	for _, fsBlockIndex := range table {
		if fsBlockIndex < uint64(l.revoked.Len()) {
			l.revoked.Set(uint(fsBlockIndex))
		}
	}
	return nil
}

func (l *blockMapLoader) processCommitBlock(block []byte) error {
	if err := validateCommitBlockChecksum(l.journalUUID, block); err != nil {
		return err
	}
	for fsBlockIndex, journalBlockIndex := range l.uncommitted {
		if fsBlockIndex < uint64(l.revoked.Len()) && l.revoked.Test(uint(fsBlockIndex)) {
			continue
		}
		l.committed[fsBlockIndex] = journalBlockIndex
	}
	l.uncommitted = make(map[uint64]uint64)
	l.revoked.ClearAll()

	if l.sequence == ^uint32(0) {
		return corruptErr(CorruptJournalSequenceOverflow, "journal sequence number overflowed")
	}
	l.sequence++
	return nil
}

// loadJournal reads the journal inode's superblock and replays its log,
// producing a journal ready to remap fs block reads. sb.journalInode == 0
// means the filesystem was never built with a journal.
func loadJournal(sb *superblock, gdt *groupDescriptorTable, src blockSource) (*journal, error) {
	if sb.journalInode == 0 {
		return emptyJournal(), nil
	}

	in, err := readInode(sb.journalInode, sb, gdt, src)
	if err != nil {
		return nil, err
	}
	checksumBase := inodeChecksumBase(sb.checksumSeed, sb.journalInode, in.generation)
	fb, err := newFileBlocks(in, src, sb.blockSize, checksumBase, sb.features.metadataChecksums())
	if err != nil {
		return nil, err
	}
	totalBlocks := ceilDiv64(in.size, uint64(sb.blockSize))

	firstBlockIndex, hole, err := fb.resolve(0)
	if err != nil {
		return nil, err
	}
	if hole {
		return nil, corruptErr(CorruptJournalSize, "journal inode has no first block")
	}
	firstBlock, err := src.get(firstBlockIndex)
	if err != nil {
		return nil, err
	}
	jsb, err := journalSuperblockFromBytes(firstBlock[:journalSuperblockSize])
	if err != nil {
		return nil, err
	}
	if jsb.blockSize != sb.blockSize {
		return nil, corruptErr(CorruptJournalSize, "journal block size %d does not match filesystem block size %d", jsb.blockSize, sb.blockSize)
	}

	logrus.WithFields(logrus.Fields{
		"sequence":    jsb.sequence,
		"start_block": jsb.startBlock,
	}).Debug("ext4: loading journal")

	cursor := newJournalBlockCursor(fb, src, jsb.startBlock, totalBlocks)
	loader := newBlockMapLoader(cursor, jsb.uuid, jsb.sequence, sb.blockCount)
	return &journal{committed: loader.run()}, nil
}
