// Package source provides the PositionedReader capability that the ext4
// packages read a filesystem image through, plus two concrete backends: a
// byte slice held in memory and a seekable OS file.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// ErrShortRead is returned when a backend could not fill the requested
// number of bytes, whether because of EOF or a partial underlying read.
var ErrShortRead = errors.New("short read")

// PositionedReader is the only capability the ext4 packages require of a
// byte source: read exactly len(into) bytes starting at offset. Callers
// never request a read starting inside [0, 1024), since that range holds
// the boot sector and offset 0 doubles as a null-block guard.
type PositionedReader interface {
	ReadAt(offset int64, into []byte) error
}

// Memory is a PositionedReader over a byte slice already resident in
// memory, e.g. a filesystem image loaded whole or memory-mapped.
type Memory struct {
	data []byte
}

// NewMemory wraps b. The slice is not copied; callers must not mutate it
// for the lifetime of the reader.
func NewMemory(b []byte) *Memory {
	return &Memory{data: b}
}

func (m *Memory) ReadAt(offset int64, into []byte) error {
	if offset < 0 {
		return fmt.Errorf("source: negative offset %d", offset)
	}
	end := offset + int64(len(into))
	if end > int64(len(m.data)) {
		return fmt.Errorf("%w: offset %d len %d exceeds %d bytes available", ErrShortRead, offset, len(into), len(m.data))
	}
	copy(into, m.data[offset:end])
	return nil
}

// File is a PositionedReader backed by a seekable, positioned-read capable
// os.File (or anything implementing io.ReaderAt), such as a disk image or
// block device opened read-only.
type File struct {
	f io.ReaderAt
}

// NewFile wraps an already-open ReaderAt. The caller retains ownership and
// is responsible for closing it.
func NewFile(f io.ReaderAt) *File {
	return &File{f: f}
}

// OpenFile opens pathName read-only and wraps it. The returned File owns
// the os.File and closes it via Close.
func OpenFile(pathName string) (*fileHandle, error) {
	f, err := os.Open(pathName)
	if err != nil {
		return nil, fmt.Errorf("source: opening %s: %w", pathName, err)
	}
	if sectorSize, err := deviceSectorSize(f); err == nil {
		logrus.WithFields(logrus.Fields{
			"path":        pathName,
			"sector_size": sectorSize,
		}).Debug("source: opened block device")
	}
	return &fileHandle{File: File{f: f}, underlying: f}, nil
}

type fileHandle struct {
	File
	underlying *os.File
}

func (h *fileHandle) Close() error {
	return h.underlying.Close()
}

func (f *File) ReadAt(offset int64, into []byte) error {
	n, err := f.f.ReadAt(into, offset)
	if err != nil && !(err == io.EOF && n == len(into)) {
		return fmt.Errorf("%w: %v", ErrShortRead, err)
	}
	if n != len(into) {
		return fmt.Errorf("%w: read %d of %d bytes at offset %d", ErrShortRead, n, len(into), offset)
	}
	return nil
}
