//go:build !linux

package source

import (
	"errors"
	"os"
)

// deviceSectorSize is only meaningful on platforms with a BLKSSZGET-style
// ioctl; elsewhere OpenFile simply has nothing to log.
func deviceSectorSize(f *os.File) (int, error) {
	return 0, errors.New("source: device sector size query not supported on this platform")
}
