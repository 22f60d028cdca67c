package file

import (
	"sync"

	"github.com/sv39edu/sv39kernel/internal/defs"
	"github.com/sv39edu/sv39kernel/internal/fs"
)

// OSInode is the File backing for a regular on-disk file: an offset plus
// the underlying filesystem inode.
type OSInode struct {
	mu       sync.Mutex
	readable bool
	writable bool
	offset   int
	inode    *fs.Inode
}

// newOSInode wraps inode for access with the given (readable, writable)
// permissions, starting at offset 0.
func newOSInode(readable, writable bool, inode *fs.Inode) *OSInode {
	return &OSInode{readable: readable, writable: writable, inode: inode}
}

// OpenFile resolves name against root and opens it per flags: CREATE on a
// missing name makes a new empty
// file; CREATE on an existing file truncates it; without CREATE, a
// missing file is an error. Returns ok=false on any failure (no such file,
// or create failed for lack of a free inode/data block).
func OpenFile(root *fs.Inode, name string, flags defs.OpenFlags) (*OSInode, bool) {
	readable, writable := flags.ReadWrite()
	existing, found := root.Find(name)

	if flags&defs.OCreate != 0 {
		if found {
			existing.Clear()
			return newOSInode(readable, writable, existing), true
		}
		created, ok := root.Create(name)
		if !ok {
			return nil, false
		}
		return newOSInode(readable, writable, created), true
	}

	if !found {
		return nil, false
	}
	if flags&defs.OTrunc != 0 {
		existing.Clear()
	}
	return newOSInode(readable, writable, existing), true
}

func (f *OSInode) Readable() bool { return f.readable }
func (f *OSInode) Writable() bool { return f.writable }

// ReadAll reads the whole file from offset 0, matching open_file's
// read_all helper used to load an ELF image, independent of (and without
// disturbing) this handle's own read offset.
func (f *OSInode) ReadAll() []byte {
	size := int(f.inode.Size())
	buf := make([]byte, size)
	f.inode.ReadAt(0, buf)
	return buf
}

func (f *OSInode) Read(buf UserBuffer) int {
	if !f.readable {
		log.Warn("osinode: read on a write-only file")
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, chunk := range buf.Buffers {
		n := f.inode.ReadAt(f.offset, chunk)
		f.offset += n
		total += n
		if n < len(chunk) {
			break
		}
	}
	return total
}

func (f *OSInode) Write(buf UserBuffer) int {
	if !f.writable {
		log.Warn("osinode: write on a read-only file")
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, chunk := range buf.Buffers {
		n := f.inode.WriteAt(f.offset, chunk)
		f.offset += n
		total += n
	}
	return total
}
