package ext4

import (
	"io"
	"testing"
)

func TestFileReaderFillsHolesWithZero(t *testing.T) {
	blockSize := uint32(8)
	data := map[uint64][]byte{
		0: {1, 1, 1, 1, 1, 1, 1, 1},
		2: {3, 3, 3, 3, 3, 3, 3, 3},
	}
	fb := &fileBlocks{ranges: []extentRange{
		{fileBlock: 0, startingBlock: 0, count: 1},
		{fileBlock: 2, startingBlock: 2, count: 1},
	}}
	r := newFileReader(fb, blockSize, 24)
	src := fakeBlockSource{blocks: data}

	buf := make([]byte, 24)
	n, err := r.readAt(src, buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 24 {
		t.Fatalf("n = %d, want 24", n)
	}
	for i := 0; i < 8; i++ {
		if buf[i] != 1 {
			t.Fatalf("byte %d = %d, want 1", i, buf[i])
		}
	}
	for i := 8; i < 16; i++ {
		if buf[i] != 0 {
			t.Fatalf("hole byte %d = %d, want 0", i, buf[i])
		}
	}
	for i := 16; i < 24; i++ {
		if buf[i] != 3 {
			t.Fatalf("byte %d = %d, want 3", i, buf[i])
		}
	}
}

func TestFileReaderEOFAtSize(t *testing.T) {
	fb := &fileBlocks{ranges: nil}
	r := newFileReader(fb, 8, 4)
	buf := make([]byte, 8)
	n, err := r.readAt(fakeBlockSource{}, buf, 4)
	if err != io.EOF || n != 0 {
		t.Fatalf("readAt at EOF = %d, %v", n, err)
	}
}

func TestFileReaderClipsPartialTail(t *testing.T) {
	fb := &fileBlocks{ranges: []extentRange{{fileBlock: 0, startingBlock: 0, count: 1}}}
	src := fakeBlockSource{blocks: map[uint64][]byte{0: {9, 9, 9, 9, 9, 9, 9, 9}}}
	r := newFileReader(fb, 8, 5)
	buf := make([]byte, 8)
	n, err := r.readAt(src, buf, 0)
	if err != io.EOF || n != 5 {
		t.Fatalf("readAt clipped tail = %d, %v", n, err)
	}
}
