package ext4

import "testing"

func TestFileBlocksExtentModeResolvesAndHoles(t *testing.T) {
	root := buildExtentLeafRoot([]extentRange{
		{fileBlock: 0, startingBlock: 1000, count: 4},
		{fileBlock: 10, startingBlock: 2000, count: 2},
	})
	var in inode
	in.flags.usesExtents = true
	copy(in.inlinePayload[:], root)

	fb, err := newFileBlocks(&in, fakeBlockSource{}, 1024, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if blk, hole, err := fb.resolve(2); err != nil || hole || blk != 1002 {
		t.Fatalf("resolve(2) = %d, %v, %v", blk, hole, err)
	}
	if _, hole, err := fb.resolve(5); err != nil || !hole {
		t.Fatalf("resolve(5) expected hole, got hole=%v err=%v", hole, err)
	}
	if blk, hole, err := fb.resolve(11); err != nil || hole || blk != 2001 {
		t.Fatalf("resolve(11) = %d, %v, %v", blk, hole, err)
	}
	if _, hole, err := fb.resolve(99); err != nil || !hole {
		t.Fatalf("resolve(99) expected hole past end of tree")
	}
}

func TestFileBlocksBlockMapModeDelegates(t *testing.T) {
	var in inode
	in.flags.usesExtents = false
	payload := make([]byte, inlinePayloadSize)
	copy(in.inlinePayload[:], payload)

	fb, err := newFileBlocks(&in, fakeBlockSource{}, 1024, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, hole, err := fb.resolve(0); err != nil || !hole {
		t.Fatalf("resolve(0) expected hole on all-zero block map, got hole=%v err=%v", hole, err)
	}
}
