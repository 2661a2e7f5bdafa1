package ext4

import "io"

// fileReader presents byte-addressable reads over a file's blocks,
// resolving each block through fileBlocks and filling sparse holes with
// zeroes rather than skipping them, so offsets in the returned bytes always
// line up with offsets in the file regardless of how the underlying blocks
// are allocated. Reads that start at or past size return io.EOF; reads
// that only partially overlap the end of the file are clipped and return
// fewer bytes than requested, matching io.ReaderAt.
type fileReader struct {
	fb        *fileBlocks
	blockSize uint32
	size      uint64
}

func newFileReader(fb *fileBlocks, blockSize uint32, size uint64) *fileReader {
	return &fileReader{fb: fb, blockSize: blockSize, size: size}
}

// readAt fills buf with the file's bytes starting at offset, against src
// for any non-hole block reads it needs. Its signature matches
// io.ReaderAt's contract.
func (r *fileReader) readAt(src blockSource, buf []byte, offset uint64) (int, error) {
	if offset >= r.size {
		return 0, io.EOF
	}
	want := uint64(len(buf))
	if offset+want > r.size {
		want = r.size - offset
	}

	var n uint64
	for n < want {
		pos := offset + n
		blockIndex := pos / uint64(r.blockSize)
		inBlockOffset := pos % uint64(r.blockSize)
		chunk := uint64(r.blockSize) - inBlockOffset
		if remaining := want - n; chunk > remaining {
			chunk = remaining
		}

		diskBlock, hole, err := r.fb.resolve(blockIndex)
		if err != nil {
			return int(n), err
		}
		if hole {
			// A gap in the block-within-file sequence: no extent or block
			// map entry covers this logical block, so its bytes read back
			// as zero without touching src.
			for i := uint64(0); i < chunk; i++ {
				buf[n+i] = 0
			}
		} else {
			data, err := src.get(diskBlock)
			if err != nil {
				return int(n), err
			}
			copy(buf[n:n+chunk], data[inBlockOffset:inBlockOffset+chunk])
		}
		n += chunk
	}

	if n < uint64(len(buf)) {
		return int(n), io.EOF
	}
	return int(n), nil
}
