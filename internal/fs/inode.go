package fs

import (
	"github.com/sv39edu/sv39kernel/internal/blockdev"
	"github.com/sv39edu/sv39kernel/internal/ustr"
)

// Inode is an in-memory handle onto one on-disk inode slot, re-reading the
// disk record on every operation (no caching layer; see package doc),
// matching easy_fs's Inode.
type Inode struct {
	inodeID uint32
	efs     *EasyFileSystem
}

// InodeID returns the handle's underlying inode number, used by directory
// listings and OSInode's identity.
func (in *Inode) InodeID() uint32 { return in.inodeID }

// IsDir reports whether this inode is a directory.
func (in *Inode) IsDir() bool {
	in.efs.mu.Lock()
	defer in.efs.mu.Unlock()
	d := in.efs.readDiskInode(in.inodeID)
	return d.isDir()
}

// Size returns the inode's current byte size.
func (in *Inode) Size() uint32 {
	in.efs.mu.Lock()
	defer in.efs.mu.Unlock()
	return in.efs.readDiskInode(in.inodeID).Size
}

// readRaw copies min(len(buf), size-offset) bytes starting at offset from
// d's data blocks into buf, returning the count copied.
func readRaw(dev blockdev.BlockDevice, d diskInode, offset int, buf []byte) int {
	size := int(d.Size)
	if offset >= size {
		return 0
	}
	end := offset + len(buf)
	if end > size {
		end = size
	}
	total := 0
	blockBuf := make([]byte, blockdev.BlockSize)
	for start := offset; start < end; {
		blockNo := start / blockdev.BlockSize
		blockOff := start % blockdev.BlockSize
		chunk := end - start
		if chunk > blockdev.BlockSize-blockOff {
			chunk = blockdev.BlockSize - blockOff
		}
		if err := dev.ReadBlock(int(d.dataBlockID(blockNo, dev)), blockBuf); err != nil {
			panic(err)
		}
		copy(buf[total:total+chunk], blockBuf[blockOff:blockOff+chunk])
		total += chunk
		start += chunk
	}
	return total
}

// writeRaw writes buf at offset into d's data blocks, which must already be
// grown to cover [offset, offset+len(buf)) by the caller.
func writeRaw(dev blockdev.BlockDevice, d diskInode, offset int, buf []byte) int {
	end := offset + len(buf)
	total := 0
	blockBuf := make([]byte, blockdev.BlockSize)
	for start := offset; start < end; {
		blockNo := start / blockdev.BlockSize
		blockOff := start % blockdev.BlockSize
		chunk := end - start
		if chunk > blockdev.BlockSize-blockOff {
			chunk = blockdev.BlockSize - blockOff
		}
		blockID := int(d.dataBlockID(blockNo, dev))
		if blockOff != 0 || chunk != blockdev.BlockSize {
			if err := dev.ReadBlock(blockID, blockBuf); err != nil {
				panic(err)
			}
		}
		copy(blockBuf[blockOff:blockOff+chunk], buf[total:total+chunk])
		if err := dev.WriteBlock(blockID, blockBuf); err != nil {
			panic(err)
		}
		total += chunk
		start += chunk
	}
	return total
}

// ReadAt copies into buf starting at offset, matching File's OSInode
// backing.
func (in *Inode) ReadAt(offset int, buf []byte) int {
	in.efs.mu.Lock()
	defer in.efs.mu.Unlock()
	d := in.efs.readDiskInode(in.inodeID)
	return readRaw(in.efs.dev, d, offset, buf)
}

// WriteAt writes buf at offset, growing the file if needed.
func (in *Inode) WriteAt(offset int, buf []byte) int {
	in.efs.mu.Lock()
	defer in.efs.mu.Unlock()
	d := in.efs.readDiskInode(in.inodeID)
	need := uint32(offset + len(buf))
	if need > d.Size {
		d = in.efs.growTo(in.inodeID, d, need)
	}
	return writeRaw(in.efs.dev, d, offset, buf)
}

// Clear truncates the file to zero length, releasing every data block,
// matching OSInode's handling of O_TRUNC.
func (in *Inode) Clear() {
	in.efs.mu.Lock()
	defer in.efs.mu.Unlock()
	d := in.efs.readDiskInode(in.inodeID)
	in.efs.clear(in.inodeID, d)
}

// listEntries returns every directory entry stored in this (directory)
// inode's data.
func (in *Inode) listEntries() []dirEntry {
	d := in.efs.readDiskInode(in.inodeID)
	n := int(d.Size) / direntSize
	entries := make([]dirEntry, 0, n)
	buf := make([]byte, direntSize)
	for i := 0; i < n; i++ {
		readRaw(in.efs.dev, d, i*direntSize, buf)
		entries = append(entries, decodeDirEntry(buf))
	}
	return entries
}

// Ls lists every file name in a directory inode.
func (in *Inode) Ls() []string {
	in.efs.mu.Lock()
	defer in.efs.mu.Unlock()
	entries := in.listEntries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// Find looks up name in this directory inode, returning the child Inode
// or ok=false if absent.
func (in *Inode) Find(name string) (*Inode, bool) {
	in.efs.mu.Lock()
	defer in.efs.mu.Unlock()
	for _, e := range in.listEntries() {
		if e.Name == name {
			return &Inode{inodeID: e.InodeID, efs: in.efs}, true
		}
	}
	return nil, false
}

// Create makes a new empty file named name in this directory inode and
// returns it, or ok=false if name already exists, is "." or ".." (neither
// names a creatable file), or is too long to fit a directory entry's
// fixed-size name field.
func (in *Inode) Create(name string) (*Inode, bool) {
	u := ustr.Ustr(name)
	if u.Isdot() || u.Isdotdot() || len(name) > direntNameLen {
		return nil, false
	}

	in.efs.mu.Lock()
	defer in.efs.mu.Unlock()

	for _, e := range in.listEntries() {
		if e.Name == name {
			return nil, false
		}
	}

	newID, ok := in.efs.allocInode()
	if !ok {
		return nil, false
	}
	in.efs.writeDiskInode(newID, diskInode{Type: typeFile})

	dirD := in.efs.readDiskInode(in.inodeID)
	entryOffset := int(dirD.Size)
	dirD = in.efs.growTo(in.inodeID, dirD, uint32(entryOffset+direntSize))
	entry := dirEntry{Name: name, InodeID: newID}
	buf := make([]byte, direntSize)
	entry.encode(buf)
	writeRaw(in.efs.dev, dirD, entryOffset, buf)

	return &Inode{inodeID: newID, efs: in.efs}, true
}
