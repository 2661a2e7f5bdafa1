package ext4

import (
	"container/list"

	"github.com/ext4view/ext4view/source"
)

// blockCache is a fixed-capacity LRU of whole filesystem blocks, sized from
// the block size so that a single fill reads up to 32KiB at a time. All
// entry buffers are allocated once at construction; get never allocates or
// frees an entry afterward, it only refills and re-promotes them.
type blockCache struct {
	reader    source.PositionedReader
	blockSize uint32
	totalBlocks uint64

	maxBlocksPerRead uint32
	entries          *list.List // of *cacheEntry, front = MRU
	byIndex          map[uint64]*list.Element
	scratch          []byte
}

type cacheEntry struct {
	blockIndex uint64
	valid      bool
	data       []byte
}

func newBlockCache(r source.PositionedReader, blockSize uint32, totalBlocks uint64) *blockCache {
	maxBlocksPerRead := uint32(32768 / blockSize)
	if maxBlocksPerRead < 1 {
		maxBlocksPerRead = 1
	}
	numEntries := 8 * maxBlocksPerRead

	c := &blockCache{
		reader:           r,
		blockSize:        blockSize,
		totalBlocks:      totalBlocks,
		maxBlocksPerRead: maxBlocksPerRead,
		entries:          list.New(),
		byIndex:          make(map[uint64]*list.Element, numEntries),
		scratch:          make([]byte, uint64(maxBlocksPerRead)*uint64(blockSize)),
	}
	for i := uint32(0); i < numEntries; i++ {
		c.entries.PushBack(&cacheEntry{data: make([]byte, blockSize)})
	}
	return c
}

// get returns the B bytes of block blockIndex, fetching and caching a
// batch of up to maxBlocksPerRead contiguous blocks on a miss.
func (c *blockCache) get(blockIndex uint64) ([]byte, error) {
	if blockIndex >= c.totalBlocks {
		return nil, corruptErr(CorruptBlockRead, "block %d out of range (have %d blocks)", blockIndex, c.totalBlocks)
	}

	if el, ok := c.byIndex[blockIndex]; ok {
		c.entries.MoveToFront(el)
		return el.Value.(*cacheEntry).data, nil
	}

	n := c.maxBlocksPerRead
	if remaining := c.totalBlocks - blockIndex; uint64(n) > remaining {
		n = uint32(remaining)
	}
	fillLen := uint64(n) * uint64(c.blockSize)
	scratch := c.scratch[:fillLen]
	offset := int64(blockIndex) * int64(c.blockSize)
	if err := c.reader.ReadAt(offset, scratch); err != nil {
		return nil, ioErr(err)
	}

	// Insert blocks in reverse, so the requested one ends up most-recently-used.
	var result []byte
	for i := int(n) - 1; i >= 0; i-- {
		idx := blockIndex + uint64(i)
		el := c.evictOne()
		entry := el.Value.(*cacheEntry)
		entry.blockIndex = idx
		entry.valid = true
		copy(entry.data, scratch[uint64(i)*uint64(c.blockSize):uint64(i+1)*uint64(c.blockSize)])
		c.byIndex[idx] = c.entries.PushFront(entry)
		if idx == blockIndex {
			result = entry.data
		}
	}
	return result, nil
}

// evictOne removes and returns the LRU element (the back of the list),
// clearing its old index from byIndex. The element's allocation is reused
// by the caller.
func (c *blockCache) evictOne() *list.Element {
	el := c.entries.Back()
	entry := el.Value.(*cacheEntry)
	if entry.valid {
		delete(c.byIndex, entry.blockIndex)
	}
	c.entries.Remove(el)
	return el
}
