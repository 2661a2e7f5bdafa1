package ext4

import (
	"io"
	"sync/atomic"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ext4view/ext4view/source"
)

// FileType is the exported, package-stable classification of an inode's
// on-disk mode, used by Metadata and DirEntry so callers never need this
// package's internal fileType/dirFileType representations.
type FileType int

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	FileTypeSymlink
	FileTypeBlockDevice
	FileTypeCharDevice
	FileTypeFIFO
	FileTypeSocket
	FileTypeUnknown
)

func fileTypeFromInode(t fileType) FileType {
	switch t {
	case fileTypeRegularFile:
		return FileTypeRegular
	case fileTypeDirectory:
		return FileTypeDirectory
	case fileTypeSymbolicLink:
		return FileTypeSymlink
	case fileTypeBlockDevice:
		return FileTypeBlockDevice
	case fileTypeCharacterDevice:
		return FileTypeCharDevice
	case fileTypeFifo:
		return FileTypeFIFO
	case fileTypeSocket:
		return FileTypeSocket
	default:
		return FileTypeUnknown
	}
}

func fileTypeFromDirEntry(t dirFileType) FileType {
	switch t {
	case dirFileTypeRegularFile:
		return FileTypeRegular
	case dirFileTypeDirectory:
		return FileTypeDirectory
	case dirFileTypeSymlink:
		return FileTypeSymlink
	case dirFileTypeBlockDevice:
		return FileTypeBlockDevice
	case dirFileTypeCharacterDevice:
		return FileTypeCharDevice
	case dirFileTypeFifo:
		return FileTypeFIFO
	case dirFileTypeSocket:
		return FileTypeSocket
	default:
		return FileTypeUnknown
	}
}

// Metadata is the information Filesystem.Metadata and
// Filesystem.SymlinkMetadata report about a path: enough to answer "how big, what kind, what mode"
// without handing out the internal inode representation.
type Metadata struct {
	size  uint64
	mode  uint32
	ftype FileType
}

func metadataFromInode(in *inode) *Metadata {
	return &Metadata{
		size:  in.size,
		mode:  uint32(in.permissionsToMode()),
		ftype: fileTypeFromInode(in.fileType),
	}
}

// Size is the file's length in bytes, as recorded in the inode.
func (m *Metadata) Size() uint64 { return m.size }

// Mode is the Go-native permission bits plus type bits, matching
// os.FileMode's bit layout.
func (m *Metadata) Mode() uint32 { return m.mode }

// Type classifies the entry.
func (m *Metadata) Type() FileType { return m.ftype }

func (m *Metadata) IsDir() bool       { return m.ftype == FileTypeDirectory }
func (m *Metadata) IsRegular() bool   { return m.ftype == FileTypeRegular }
func (m *Metadata) IsSymlink() bool   { return m.ftype == FileTypeSymlink }
func (m *Metadata) IsSpecial() bool {
	switch m.ftype {
	case FileTypeRegular, FileTypeDirectory, FileTypeSymlink:
		return false
	default:
		return true
	}
}

// DirEntry is one entry yielded by Filesystem.ReadDir: the synthetic "."
// and ".." records are included, exactly as readDirectory produces them: callers
// that want only "real" children filter those two names themselves.
type DirEntry struct {
	Name  string
	Type  FileType
	Inode uint32
}

// cacheSource reads blocks straight off the block cache with no journal
// remap: used only while computing the journal's own remap table, since
// the table obviously cannot depend on itself.
type cacheSource struct {
	cache *blockCache
}

func (s cacheSource) get(blockIndex uint64) ([]byte, error) {
	return s.cache.get(blockIndex)
}

// remappedSource is every other block read in the package: journal remap
// first, then the cache, then (on a miss) the reader.
type remappedSource struct {
	jrn   *journal
	cache *blockCache
}

func (s remappedSource) get(blockIndex uint64) ([]byte, error) {
	return s.cache.get(s.jrn.remap(blockIndex))
}

// Filesystem is the read-only facade over one ext2/ext3/ext4 image: the
// single entry point consumers use once Load has parsed the superblock,
// block group descriptors and journal remap table. Everything it holds is
// immutable except the block cache and the underlying reader's implicit
// read position, per the data model's lifecycle note.
type Filesystem struct {
	sb     *superblock
	gdt    *groupDescriptorTable
	jrn    *journal
	cache  *blockCache
	src    blockSource
	reader source.PositionedReader

	// busy implements the "second entrant to the reader must be prevented
	// or must panic deterministically" invariant: every public operation
	// holds it for the duration of its block reads, since the reader and
	// cache are dynamically borrowed rather than statically partitioned.
	busy int32
}

// enter claims the facade's single logical borrow of the reader/cache, and
// returns a function that releases it. A second, overlapping call (the
// facade used concurrently, or reentrantly from within a callback) panics
// rather than silently corrupting cache state.
func (fs *Filesystem) enter() func() {
	if !atomic.CompareAndSwapInt32(&fs.busy, 0, 1) {
		panic("ext4: Filesystem used concurrently or reentrantly")
	}
	return func() { atomic.StoreInt32(&fs.busy, 0) }
}

// readBlockRange fills dst by reading consecutive blocks of blockSize
// starting at startBlock, used for multi-block regions read before any
// inode/extent machinery exists to do it for us (the superblock's
// immediately-following block group descriptor table).
func readBlockRange(src blockSource, blockSize uint32, startBlock uint64, dst []byte) error {
	var n int
	block := startBlock
	for n < len(dst) {
		data, err := src.get(block)
		if err != nil {
			return err
		}
		take := int(blockSize)
		if n+take > len(dst) {
			take = len(dst) - n
		}
		copy(dst[n:n+take], data[:take])
		n += take
		block++
	}
	return nil
}

// Load parses reader's superblock, block group descriptor table and
// journal (if any), returning a Filesystem ready to serve path lookups.
// Per the data model, everything constructed here is immutable afterward;
// only the cache and reader mutate as later operations run.
func Load(reader source.PositionedReader) (*Filesystem, error) {
	sbBuf := make([]byte, superblockSize)
	if err := reader.ReadAt(superblockOffset, sbBuf); err != nil {
		return nil, ioErr(err)
	}
	sb, err := superblockFromBytes(sbBuf)
	if err != nil {
		return nil, err
	}

	cache := newBlockCache(reader, sb.blockSize, sb.blockCount)
	rawSrc := cacheSource{cache: cache}

	gdtBlock := uint64(sb.firstDataBlock) + 1
	gdtBytes := make([]byte, uint64(sb.groupDescriptorSize)*sb.blockGroupCount)
	if err := readBlockRange(rawSrc, sb.blockSize, gdtBlock, gdtBytes); err != nil {
		return nil, err
	}
	gdt, err := groupDescriptorTableFromBytes(gdtBytes, sb.groupDescriptorSize, sb.blockGroupCount, sb.checksumSeed, sb.features.metadataChecksums())
	if err != nil {
		return nil, err
	}

	jrn, err := loadJournal(sb, gdt, rawSrc)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"block_size":   sb.blockSize,
		"block_groups": sb.blockGroupCount,
		"incompat":     sb.features.incompat,
		"ro_compat":    sb.features.roCompat,
	}).Debug("ext4: loaded filesystem")

	fs := &Filesystem{
		sb:     sb,
		gdt:    gdt,
		jrn:    jrn,
		cache:  cache,
		reader: reader,
	}
	fs.src = remappedSource{jrn: jrn, cache: cache}
	return fs, nil
}

// Label returns the filesystem's volume label.
func (fs *Filesystem) Label() string { return fs.sb.volumeLabel }

// UUID returns the filesystem's UUID.
func (fs *Filesystem) UUID() uuid.UUID { return fs.sb.uuid }

// resolve is the shared path-resolution entry point every public operation
// funnels through; it must be called with fs.busy already held.
func (fs *Filesystem) resolve(path string, follow FollowSymlinks) (*inode, string, error) {
	return resolvePath(fs.sb, fs.gdt, fs.src, path, follow)
}

// Canonicalize resolves path and returns its fully-dereferenced canonical
// form without reading any file content.
func (fs *Filesystem) Canonicalize(path string) (string, error) {
	defer fs.enter()()
	_, canonical, err := fs.resolve(path, FollowAll)
	if err != nil {
		return "", err
	}
	return canonical, nil
}

// Exists reports whether path resolves to something, treating a lookup
// failure as false rather than an error; any other class of error (I/O,
// corruption, an unsupported feature) still propagates, since those are
// not "it doesn't exist" answers.
func (fs *Filesystem) Exists(path string) (bool, error) {
	defer fs.enter()()
	_, _, err := fs.resolve(path, FollowAll)
	if err == nil {
		return true, nil
	}
	if IsKind(err, KindLookup) {
		return false, nil
	}
	return false, err
}

// Metadata resolves path, following a trailing symlink, and returns its
// size/mode/type.
func (fs *Filesystem) Metadata(path string) (*Metadata, error) {
	defer fs.enter()()
	in, _, err := fs.resolve(path, FollowAll)
	if err != nil {
		return nil, err
	}
	return metadataFromInode(in), nil
}

// SymlinkMetadata is like Metadata but reports on a symlink itself rather
// than its target when path's last component is a symlink.
func (fs *Filesystem) SymlinkMetadata(path string) (*Metadata, error) {
	defer fs.enter()()
	in, _, err := fs.resolve(path, FollowExcludeFinalComponent)
	if err != nil {
		return nil, err
	}
	return metadataFromInode(in), nil
}

// ReadLink resolves path without following a trailing symlink and returns
// the symlink's target text exactly as stored, which may be relative or
// absolute and is not itself further resolved.
func (fs *Filesystem) ReadLink(path string) (string, error) {
	defer fs.enter()()
	in, _, err := fs.resolve(path, FollowExcludeFinalComponent)
	if err != nil {
		return "", err
	}
	if in.fileType != fileTypeSymbolicLink {
		return "", newErr(KindLookup, "not a symbolic link")
	}
	return symlinkTarget(in, fs.src, fs.sb)
}

// ReadDir resolves path, requires it to be a directory, and returns every
// entry across its data blocks in on-disk order, including the synthetic
// "." and ".." records.
func (fs *Filesystem) ReadDir(path string) ([]DirEntry, error) {
	defer fs.enter()()
	in, _, err := fs.resolve(path, FollowAll)
	if err != nil {
		return nil, err
	}
	if in.fileType != fileTypeDirectory {
		return nil, ErrNotADirectory
	}
	checksumBase := inodeChecksumBase(fs.sb.checksumSeed, in.number, in.generation)
	fb, err := newFileBlocks(in, fs.src, fs.sb.blockSize, checksumBase, fs.sb.features.metadataChecksums())
	if err != nil {
		return nil, err
	}
	entries, err := readDirectory(in, fb, fs.src, fs.sb, checksumBase)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, len(entries))
	for i, e := range entries {
		out[i] = DirEntry{Name: e.name, Type: fileTypeFromDirEntry(e.fileType), Inode: e.inode}
	}
	return out, nil
}

// File is an open handle to a regular file's contents, returned by Open.
// It implements io.Reader and io.ReaderAt over the file's data blocks,
// filling holes with zeroes exactly as fileReader does.
type File struct {
	fs   *Filesystem
	in   *inode
	fr   *fileReader
	pos  uint64
}

// Open resolves path and returns a File open on it. Opening a directory or
// a special file is an error; use ReadDir or Metadata for those instead.
func (fs *Filesystem) Open(path string) (*File, error) {
	defer fs.enter()()
	in, _, err := fs.resolve(path, FollowAll)
	if err != nil {
		return nil, err
	}
	return fs.openInode(in)
}

func (fs *Filesystem) openInode(in *inode) (*File, error) {
	if in.fileType == fileTypeDirectory {
		return nil, ErrIsADirectory
	}
	if in.fileType != fileTypeRegularFile {
		return nil, ErrIsSpecialFile
	}
	checksumBase := inodeChecksumBase(fs.sb.checksumSeed, in.number, in.generation)
	fb, err := newFileBlocks(in, fs.src, fs.sb.blockSize, checksumBase, fs.sb.features.metadataChecksums())
	if err != nil {
		return nil, err
	}
	return &File{fs: fs, in: in, fr: newFileReader(fb, fs.sb.blockSize, in.size)}, nil
}

// Read fills p from the file's current position, advancing it, matching
// io.Reader.
func (f *File) Read(p []byte) (int, error) {
	defer f.fs.enter()()
	n, err := f.fr.readAt(f.fs.src, p, f.pos)
	f.pos += uint64(n)
	return n, err
}

// ReadAt fills p from offset off without disturbing the file's current
// position, matching io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, newErr(KindPathShape, "negative ReadAt offset")
	}
	defer f.fs.enter()()
	return f.fr.readAt(f.fs.src, p, uint64(off))
}

// Size returns the file's length in bytes.
func (f *File) Size() uint64 { return f.in.size }

// Close is a no-op: a File holds no resource beyond the Filesystem it was
// opened from.
func (f *File) Close() error { return nil }

// maxInt is the largest value a native int can hold, used to reject a file
// whose size cannot be materialized into a single Go slice.
const maxInt = int64(^uint(0) >> 1)

// Read resolves path and returns its entire contents as a single slice.
// Reading a directory or special file is an error. A file whose size does
// not fit a native int returns ErrFileTooLarge rather than attempting a
// partial read.
func (fs *Filesystem) Read(path string) ([]byte, error) {
	defer fs.enter()()
	in, _, err := fs.resolve(path, FollowAll)
	if err != nil {
		return nil, err
	}
	if in.fileType == fileTypeDirectory {
		return nil, ErrIsADirectory
	}
	if in.fileType != fileTypeRegularFile {
		return nil, ErrIsSpecialFile
	}
	if in.size > uint64(maxInt) {
		return nil, ErrFileTooLarge
	}

	f, err := fs.openInode(in)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, in.size)
	var n uint64
	for n < in.size {
		read, err := f.fr.readAt(fs.src, buf[n:], n)
		n += uint64(read)
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if read == 0 {
			break
		}
	}
	return buf[:n], nil
}

// ReadToString is Read with a UTF-8 validity check, for callers that know
// the file holds text.
func (fs *Filesystem) ReadToString(path string) (string, error) {
	b, err := fs.Read(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", newErr(KindCapacity, "content is not valid UTF-8")
	}
	return string(b), nil
}
