package ext4

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/ext4view/ext4view/source"
)

// A synthetic single-block-group, no-journal, no-checksum ext4 image,
// hand-laid-out the way the teacher's own fixture files were generated by
// debugfs, but built in Go so the test carries no binary blob. Block
// layout:
//
//	1  superblock
//	2  block group descriptor table
//	3..10 inode table (32 inodes * 256 bytes)
//	11 root directory data
//	12 "small_file" data ("hello, world!")
//	13 "subdir" directory data
//	14 "nested" file data (under subdir)
const (
	synthBlockSize     = 1024
	synthBlockCount     = 32
	synthInodesPerGroup = 32
	synthInodeSize      = 256
	synthInodeTableBlk  = 3
	synthRootDirBlk     = 11
	synthSmallFileBlk   = 12
	synthSubdirBlk      = 13
	synthNestedBlk      = 14

	inoRoot     uint32 = 2
	inoSmall    uint32 = 11
	inoLink     uint32 = 12
	inoSubdir   uint32 = 13
	inoNested   uint32 = 14
	inoLoop     uint32 = 15
)

type synthDirEntry struct {
	inode uint32
	ftype dirFileType
	name  string
}

func buildSynthDirBlock(entries []synthDirEntry) []byte {
	buf := make([]byte, synthBlockSize)
	pos := 0
	for i, e := range entries {
		nameLen := len(e.name)
		recLen := 8 + nameLen
		if i == len(entries)-1 {
			recLen = synthBlockSize - pos
		} else {
			recLen = ((recLen + 3) / 4) * 4
		}
		binary.LittleEndian.PutUint32(buf[pos:pos+4], e.inode)
		binary.LittleEndian.PutUint16(buf[pos+4:pos+6], uint16(recLen))
		buf[pos+6] = byte(nameLen)
		buf[pos+7] = byte(e.ftype)
		copy(buf[pos+8:pos+8+nameLen], e.name)
		pos += recLen
	}
	return buf
}

func synthExtentRoot(dataBlock uint64, numBlocks uint16) []byte {
	b := make([]byte, inlinePayloadSize)
	binary.LittleEndian.PutUint16(b[0:2], extentHeaderSignature)
	binary.LittleEndian.PutUint16(b[2:4], 1)
	binary.LittleEndian.PutUint16(b[4:6], 4)
	binary.LittleEndian.PutUint16(b[6:8], 0)
	off := extentTreeHeaderLength
	binary.LittleEndian.PutUint32(b[off:off+4], 0)
	binary.LittleEndian.PutUint16(b[off+4:off+6], numBlocks)
	binary.LittleEndian.PutUint16(b[off+6:off+8], uint16(dataBlock>>32))
	binary.LittleEndian.PutUint32(b[off+8:off+12], uint32(dataBlock))
	return b
}

func writeSynthInode(img []byte, number uint32, mode uint16, size uint32, flags uint32, payload []byte) {
	off := synthInodeTableBlk*synthBlockSize + int(number-1)*synthInodeSize
	rec := img[off : off+synthInodeSize]
	binary.LittleEndian.PutUint16(rec[0x0:0x2], mode)
	binary.LittleEndian.PutUint16(rec[0x1a:0x1c], 1)
	binary.LittleEndian.PutUint32(rec[0x4:0x8], size)
	binary.LittleEndian.PutUint32(rec[0x20:0x24], flags)
	copy(rec[0x28:0x28+inlinePayloadSize], payload)
	binary.LittleEndian.PutUint16(rec[0x80:0x82], uint16(synthInodeSize-int(ext2InodeSize)))
}

// buildSynthImage assembles the full byte image described above.
func buildSynthImage(t *testing.T) []byte {
	t.Helper()
	img := make([]byte, synthBlockCount*synthBlockSize)

	sb := img[1024 : 1024+1024]
	binary.LittleEndian.PutUint16(sb[0x38:0x3a], superblockSignature)
	binary.LittleEndian.PutUint32(sb[0x0:0x4], synthInodesPerGroup)
	binary.LittleEndian.PutUint32(sb[0x4:0x8], synthBlockCount)
	binary.LittleEndian.PutUint32(sb[0x14:0x18], 1) // first_data_block
	binary.LittleEndian.PutUint32(sb[0x18:0x1c], 0) // log_block_size -> 1024
	binary.LittleEndian.PutUint32(sb[0x20:0x24], synthBlockCount-1) // blocks_per_group
	binary.LittleEndian.PutUint32(sb[0x28:0x2c], synthInodesPerGroup)
	binary.LittleEndian.PutUint16(sb[0x58:0x5a], synthInodeSize)
	binary.LittleEndian.PutUint32(sb[0x60:0x64], uint32(incompatFileType|incompatExtents))
	copy(sb[0x68:0x78], []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00})
	copy(sb[0x78:0x88], []byte("synthtest"))

	gd := img[2*synthBlockSize : 2*synthBlockSize+32]
	binary.LittleEndian.PutUint32(gd[0x8:0xc], synthInodeTableBlk)

	writeSynthInode(img, inoRoot, uint16(fileTypeDirectory|0o755), synthBlockSize, uint32(inodeFlagUsesExtents), synthExtentRoot(synthRootDirBlk, 1))
	writeSynthInode(img, inoSmall, uint16(fileTypeRegularFile|0o644), 13, uint32(inodeFlagUsesExtents), synthExtentRoot(synthSmallFileBlk, 1))
	linkTarget := "/small_file"
	var linkPayload [inlinePayloadSize]byte
	copy(linkPayload[:], linkTarget)
	writeSynthInode(img, inoLink, uint16(fileTypeSymbolicLink|0o777), uint32(len(linkTarget)), 0, linkPayload[:])
	writeSynthInode(img, inoSubdir, uint16(fileTypeDirectory|0o755), synthBlockSize, uint32(inodeFlagUsesExtents), synthExtentRoot(synthSubdirBlk, 1))
	nestedContent := "nested-content"
	writeSynthInode(img, inoNested, uint16(fileTypeRegularFile|0o644), uint32(len(nestedContent)), uint32(inodeFlagUsesExtents), synthExtentRoot(synthNestedBlk, 1))
	loopTarget := "/sym_loop_a"
	var loopPayload [inlinePayloadSize]byte
	copy(loopPayload[:], loopTarget)
	writeSynthInode(img, inoLoop, uint16(fileTypeSymbolicLink|0o777), uint32(len(loopTarget)), 0, loopPayload[:])

	rootBlock := buildSynthDirBlock([]synthDirEntry{
		{inoRoot, dirFileTypeDirectory, "."},
		{inoRoot, dirFileTypeDirectory, ".."},
		{inoSmall, dirFileTypeRegularFile, "small_file"},
		{inoLink, dirFileTypeSymlink, "linkfile"},
		{inoSubdir, dirFileTypeDirectory, "subdir"},
		{inoLoop, dirFileTypeSymlink, "sym_loop_a"},
	})
	copy(img[synthRootDirBlk*synthBlockSize:], rootBlock)

	copy(img[synthSmallFileBlk*synthBlockSize:], []byte("hello, world!"))

	subdirBlock := buildSynthDirBlock([]synthDirEntry{
		{inoSubdir, dirFileTypeDirectory, "."},
		{inoRoot, dirFileTypeDirectory, ".."},
		{inoNested, dirFileTypeRegularFile, "nested"},
	})
	copy(img[synthSubdirBlk*synthBlockSize:], subdirBlock)

	copy(img[synthNestedBlk*synthBlockSize:], []byte(nestedContent))

	return img
}

func loadSynthFS(t *testing.T) *Filesystem {
	t.Helper()
	img := buildSynthImage(t)
	fs, err := Load(source.NewMemory(img))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return fs
}

func TestFilesystemReadsSmallExtentBackedFile(t *testing.T) {
	fs := loadSynthFS(t)
	b, err := fs.Read("/small_file")
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello, world!" {
		t.Fatalf("Read(/small_file) = %q", b)
	}
	md, err := fs.Metadata("/small_file")
	if err != nil {
		t.Fatal(err)
	}
	if !md.IsRegular() || md.Size() != 13 {
		t.Fatalf("Metadata = %+v", md)
	}
}

func TestFilesystemOpenReadsIncrementally(t *testing.T) {
	fs := loadSynthFS(t)
	f, err := fs.Open("/small_file")
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 5)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatal(err)
	}
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("first Read = %q, %d", buf[:n], n)
	}
}

func TestFilesystemReadDirListsRootEntries(t *testing.T) {
	fs := loadSynthFS(t)
	entries, err := fs.ReadDir("/")
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]FileType{}
	for _, e := range entries {
		names[e.Name] = e.Type
	}
	want := map[string]FileType{
		".":          FileTypeDirectory,
		"..":         FileTypeDirectory,
		"small_file": FileTypeRegular,
		"linkfile":   FileTypeSymlink,
		"subdir":     FileTypeDirectory,
		"sym_loop_a": FileTypeSymlink,
	}
	for name, ft := range want {
		got, ok := names[name]
		if !ok {
			t.Fatalf("missing entry %q in %v", name, names)
		}
		if got != ft {
			t.Errorf("entry %q type = %v, want %v", name, got, ft)
		}
	}
}

func TestFilesystemReadLinkReturnsRawTarget(t *testing.T) {
	fs := loadSynthFS(t)
	target, err := fs.ReadLink("/linkfile")
	if err != nil {
		t.Fatal(err)
	}
	if target != "/small_file" {
		t.Fatalf("ReadLink = %q, want /small_file", target)
	}
}

func TestFilesystemSymlinkFollowedByRead(t *testing.T) {
	fs := loadSynthFS(t)
	b, err := fs.Read("/linkfile")
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello, world!" {
		t.Fatalf("Read(/linkfile) = %q", b)
	}
}

func TestFilesystemSymlinkLoopFails(t *testing.T) {
	fs := loadSynthFS(t)
	if _, err := fs.Read("/sym_loop_a"); !IsKind(err, KindPathShape) {
		t.Fatalf("Read(/sym_loop_a) err = %v, want TooManySymlinks", err)
	}
}

func TestFilesystemParentTraversalReachesRoot(t *testing.T) {
	fs := loadSynthFS(t)
	for _, p := range []string{"/", "/.", "/..", "/../..", "/subdir/.."} {
		canon, err := fs.Canonicalize(p)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", p, err)
		}
		if canon != "/" {
			t.Errorf("Canonicalize(%q) = %q, want /", p, canon)
		}
	}
}

func TestFilesystemNestedFileUnderSubdir(t *testing.T) {
	fs := loadSynthFS(t)
	b, err := fs.Read("/subdir/nested")
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "nested-content" {
		t.Fatalf("Read(/subdir/nested) = %q", b)
	}
}

func TestFilesystemExists(t *testing.T) {
	fs := loadSynthFS(t)
	ok, err := fs.Exists("/small_file")
	if err != nil || !ok {
		t.Fatalf("Exists(/small_file) = %v, %v", ok, err)
	}
	ok, err = fs.Exists("/nope")
	if err != nil || ok {
		t.Fatalf("Exists(/nope) = %v, %v, want false, nil", ok, err)
	}
}

func TestFilesystemOpenRejectsDirectory(t *testing.T) {
	fs := loadSynthFS(t)
	if _, err := fs.Open("/subdir"); !IsKind(err, KindLookup) {
		t.Fatalf("Open(/subdir) err = %v, want lookup error", err)
	}
}

func TestFilesystemLabelAndUUID(t *testing.T) {
	fs := loadSynthFS(t)
	if fs.Label() != "synthtest" {
		t.Errorf("Label() = %q", fs.Label())
	}
	if fs.UUID().String() == "" {
		t.Errorf("UUID() is empty")
	}
}

func TestFilesystemReadToStringValidatesUTF8(t *testing.T) {
	fs := loadSynthFS(t)
	s, err := fs.ReadToString("/small_file")
	if err != nil {
		t.Fatal(err)
	}
	if s != "hello, world!" {
		t.Fatalf("ReadToString = %q", s)
	}
}
