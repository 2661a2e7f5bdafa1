package ext4

import (
	"encoding/binary"
	"testing"
)

func buildHTreeRootBlock(indirectLevels byte, entries []htreeEntry) []byte {
	b := make([]byte, 0x20+len(entries)*htreeEntrySize)
	b[0x1e] = indirectLevels
	binary.LittleEndian.PutUint16(b[0x20+0x2:0x20+0x4], uint16(len(entries)))
	binary.LittleEndian.PutUint32(b[0x20+0x4:0x20+0x8], entries[0].block)
	for i := 1; i < len(entries); i++ {
		off := 0x20 + i*htreeEntrySize
		binary.LittleEndian.PutUint32(b[off:off+4], entries[i].hash)
		binary.LittleEndian.PutUint32(b[off+4:off+8], entries[i].block)
	}
	return b
}

func TestNewHTreeRootNodeParsesEntriesAndLevels(t *testing.T) {
	entries := []htreeEntry{
		{hash: 0, block: 10},
		{hash: 100, block: 11},
		{hash: 200, block: 12},
	}
	b := buildHTreeRootBlock(1, entries)
	root, levels, err := newHTreeRootNode(b)
	if err != nil {
		t.Fatal(err)
	}
	if levels != 1 {
		t.Errorf("indirectLevels = %d, want 1", levels)
	}
	if len(root.entries) != 3 || root.entries[1].hash != 100 || root.entries[2].block != 12 {
		t.Errorf("entries = %+v", root.entries)
	}
}

func TestNewHTreeRootNodeRejectsShortBlock(t *testing.T) {
	if _, _, err := newHTreeRootNode(make([]byte, 10)); err == nil {
		t.Fatal("expected error for undersized root block")
	}
}

func TestNewHTreeNodeRejectsOverclaimedEntryCount(t *testing.T) {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint16(b[0x2:0x4], 50)
	if _, err := newHTreeNode(b); err == nil {
		t.Fatal("expected error when declared count exceeds available bytes")
	}
}

func TestHTreeNodeLookupBlockByHashFindsRightmostLE(t *testing.T) {
	n := htreeNode{entries: []htreeEntry{
		{hash: 0, block: 1},
		{hash: 100, block: 2},
		{hash: 200, block: 3},
	}}
	cases := []struct {
		hash uint32
		want uint32
	}{
		{0, 1},
		{50, 1},
		{100, 2},
		{150, 2},
		{200, 3},
		{999, 3},
	}
	for _, c := range cases {
		if got := n.lookupBlockByHash(c.hash); got != c.want {
			t.Errorf("lookupBlockByHash(%d) = %d, want %d", c.hash, got, c.want)
		}
	}
}

func TestNewHTreeInternalNodeSkipsFakeDirEntry(t *testing.T) {
	entries := []htreeEntry{{hash: 0, block: 5}, {hash: 42, block: 6}}
	b := make([]byte, 8+len(entries)*htreeEntrySize)
	binary.LittleEndian.PutUint16(b[0x8+0x2:0x8+0x4], uint16(len(entries)))
	binary.LittleEndian.PutUint32(b[0x8+0x4:0x8+0x8], entries[0].block)
	binary.LittleEndian.PutUint32(b[0x8+0x8:0x8+0xc], entries[1].hash)
	binary.LittleEndian.PutUint32(b[0x8+0xc:0x8+0x10], entries[1].block)
	node, err := newHTreeInternalNode(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(node.entries) != 2 || node.entries[1].hash != 42 {
		t.Errorf("entries = %+v", node.entries)
	}
}
