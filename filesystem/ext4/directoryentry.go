package ext4

import "encoding/binary"

const (
	dirEntryHeaderSize = 8
	dirEntryTailMarker = 0xDE
)

type dirFileType byte

const (
	dirFileTypeUnknown         dirFileType = 0
	dirFileTypeRegularFile     dirFileType = 1
	dirFileTypeDirectory       dirFileType = 2
	dirFileTypeCharacterDevice dirFileType = 3
	dirFileTypeBlockDevice     dirFileType = 4
	dirFileTypeFifo            dirFileType = 5
	dirFileTypeSocket          dirFileType = 6
	dirFileTypeSymlink         dirFileType = 7
)

// dirEntry is one live directory record: an inode number, the file type
// ext4 stores inline (avoiding an inode read to answer readdir's type
// question), and the entry's name.
type dirEntry struct {
	inode    uint32
	fileType dirFileType
	name     string
}

// parseDirBlockEntries walks one directory data block's variable-length
// records in order. Freed records (inode 0) are skipped rather than
// yielded; this also transparently passes over an HTree root or internal
// index block's root-info/dx_entry payload, since those live inside a
// dotdot or fake record's rec_len span rather than being walked as entries
// themselves. When verifyChecksum is set and the last 12 bytes of the
// block look like the METADATA_CHECKSUMS tail record (inode 0, rec_len 12,
// name_len 0, file_type the tail marker), its checksum is validated against
// checksumBase folded with the block's own bytes.
func parseDirBlockEntries(block []byte, blockSize uint32, verifyChecksum bool, checksumBase uint32) ([]dirEntry, error) {
	if uint32(len(block)) != blockSize {
		return nil, corruptErr(CorruptDirectoryEntry, "directory block is %d bytes, want %d", len(block), blockSize)
	}

	hasTail := verifyChecksum && blockSize >= 12
	dataEnd := blockSize
	if hasTail {
		dataEnd -= 12
	}

	var entries []dirEntry
	var pos uint32
	for pos < dataEnd {
		if pos+dirEntryHeaderSize > blockSize {
			return nil, corruptErr(CorruptDirectoryEntry, "entry header runs past end of block at offset %d", pos)
		}
		rec := block[pos:]
		inodeNum := binary.LittleEndian.Uint32(rec[0:4])
		recLen := binary.LittleEndian.Uint16(rec[4:6])
		nameLen := rec[6]
		fType := dirFileType(rec[7])

		if recLen < dirEntryHeaderSize || uint32(pos)+uint32(recLen) > blockSize {
			return nil, corruptErr(CorruptDirectoryEntry, "entry rec_len %d invalid at offset %d", recLen, pos)
		}
		if nameLen > 255 {
			return nil, corruptErr(CorruptDirectoryEntry, "name_len %d exceeds 255", nameLen)
		}
		if uint32(dirEntryHeaderSize)+uint32(nameLen) > uint32(recLen) {
			return nil, corruptErr(CorruptDirectoryEntry, "name_len %d does not fit in rec_len %d", nameLen, recLen)
		}

		if inodeNum != 0 {
			name := string(rec[dirEntryHeaderSize : dirEntryHeaderSize+int(nameLen)])
			entries = append(entries, dirEntry{inode: inodeNum, fileType: fType, name: name})
		}

		pos += uint32(recLen)
	}

	if hasTail {
		tail := block[blockSize-12:]
		inodeNum := binary.LittleEndian.Uint32(tail[0:4])
		recLen := binary.LittleEndian.Uint16(tail[4:6])
		nameLen := tail[6]
		fType := tail[7]
		if inodeNum == 0 && recLen == 12 && nameLen == 0 && fType == dirEntryTailMarker {
			want := binary.LittleEndian.Uint32(tail[8:12])
			actual := NewChecksum(checksumBase).Update(block[:blockSize-4]).Finalize()
			if actual != want {
				return nil, corruptErr(CorruptDirectoryBlockChecksum, "got %#x, want %#x", actual, want)
			}
		}
	}

	return entries, nil
}
