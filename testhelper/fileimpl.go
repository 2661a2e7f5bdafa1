// Package testhelper provides stand-ins for source.PositionedReader so
// tests can simulate I/O failures (short reads, ReadAt errors) without a
// real file backing them.
package testhelper

type reader func(into []byte, offset int64) error

// FileImpl implements github.com/ext4view/ext4view/source.PositionedReader
// used for testing to enable stubbing out the backing reader.
type FileImpl struct {
	Reader reader
}

// ReadAt reads at a particular offset by delegating to Reader.
func (f *FileImpl) ReadAt(offset int64, into []byte) error {
	return f.Reader(into, offset)
}
