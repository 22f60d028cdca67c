//go:build unix

package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDevice is a BlockDevice backed by a host file (a real disk image),
// used when cmd/kernel is started with --image pointing at a persisted
// easy-fs image instead of the default in-memory one. It uses
// unix.Pread/Pwrite rather than (*os.File).Seek+Read so concurrent block
// I/O from different tasks never races on the file's shared offset.
type FileDevice struct {
	f *os.File
}

// OpenFileDevice opens path for reading and writing as a block device.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	return &FileDevice{f: f}, nil
}

func (d *FileDevice) ReadBlock(id int, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("blockdev: read buffer must be %d bytes, got %d", BlockSize, len(buf))
	}
	n, err := unix.Pread(int(d.f.Fd()), buf, int64(id)*BlockSize)
	if err != nil {
		return fmt.Errorf("blockdev: pread block %d: %w", id, err)
	}
	if n != BlockSize {
		return fmt.Errorf("blockdev: short pread on block %d: got %d bytes", id, n)
	}
	return nil
}

func (d *FileDevice) WriteBlock(id int, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("blockdev: write buffer must be %d bytes, got %d", BlockSize, len(buf))
	}
	n, err := unix.Pwrite(int(d.f.Fd()), buf, int64(id)*BlockSize)
	if err != nil {
		return fmt.Errorf("blockdev: pwrite block %d: %w", id, err)
	}
	if n != BlockSize {
		return fmt.Errorf("blockdev: short pwrite on block %d: wrote %d bytes", id, n)
	}
	return nil
}

// Close closes the backing file.
func (d *FileDevice) Close() error { return d.f.Close() }
