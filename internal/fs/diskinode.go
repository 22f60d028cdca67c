package fs

import (
	"encoding/binary"

	"github.com/sv39edu/sv39kernel/internal/blockdev"
)

// inodeDirectCount bounds a file to inodeDirectCount direct blocks plus one
// level of indirection before running out of room in the fixed-size
// on-disk inode record; matching easy_fs's DIRECT_BOUND but without its
// second indirect level (see package doc).
const (
	inodeDirectCount   = 26
	indirectEntryCount = blockdev.BlockSize / 4 // uint32 entries per indirect block
	diskInodeSize      = 128                    // bytes; fits in 4 per 512-byte block
)

// inodeType distinguishes a plain file from a directory, matching
// easy_fs's DiskInodeType.
type inodeType uint32

const (
	typeFile inodeType = iota
	typeDirectory
)

// diskInode is the fixed-size on-disk record every inode-table slot holds:
// size in bytes, up to inodeDirectCount direct data block ids, one
// indirect block id (itself holding up to indirectEntryCount further data
// block ids), and the inode's type.
type diskInode struct {
	Size     uint32
	Direct   [inodeDirectCount]uint32
	Indirect uint32
	Type     inodeType
}

func (d *diskInode) isDir() bool { return d.Type == typeDirectory }

func (d *diskInode) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], d.Size)
	off := 4
	for _, id := range d.Direct {
		binary.LittleEndian.PutUint32(buf[off:off+4], id)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], d.Indirect)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(d.Type))
}

func decodeDiskInode(buf []byte) diskInode {
	var d diskInode
	d.Size = binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	for i := range d.Direct {
		d.Direct[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	d.Indirect = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	d.Type = inodeType(binary.LittleEndian.Uint32(buf[off : off+4]))
	return d
}

// blocksNeeded returns how many data blocks a file of size bytes occupies.
func blocksNeeded(size uint32) int {
	return int((size + blockdev.BlockSize - 1) / blockdev.BlockSize)
}

// dataBlockCapacity is the largest file size (in blocks) this simplified
// layout can address: direct blocks plus one indirect block's worth.
func dataBlockCapacity() int { return inodeDirectCount + indirectEntryCount }

// dataBlockID returns the absolute device block id holding the
// innerBlock-th block of the file, reading the indirect block from dev
// when innerBlock falls beyond the direct range.
func (d *diskInode) dataBlockID(innerBlock int, dev blockdev.BlockDevice) uint32 {
	if innerBlock < inodeDirectCount {
		return d.Direct[innerBlock]
	}
	idx := innerBlock - inodeDirectCount
	buf := make([]byte, blockdev.BlockSize)
	if err := dev.ReadBlock(int(d.Indirect), buf); err != nil {
		panic(err)
	}
	return binary.LittleEndian.Uint32(buf[idx*4 : idx*4+4])
}

func (d *diskInode) setDataBlockID(innerBlock int, blockID uint32, dev blockdev.BlockDevice) {
	if innerBlock < inodeDirectCount {
		d.Direct[innerBlock] = blockID
		return
	}
	idx := innerBlock - inodeDirectCount
	buf := make([]byte, blockdev.BlockSize)
	if err := dev.ReadBlock(int(d.Indirect), buf); err != nil {
		panic(err)
	}
	binary.LittleEndian.PutUint32(buf[idx*4:idx*4+4], blockID)
	if err := dev.WriteBlock(int(d.Indirect), buf); err != nil {
		panic(err)
	}
}

// direntSize is the fixed on-disk size of one directory entry.
const direntNameLen = 27
const direntSize = direntNameLen + 1 + 4 // name + NUL + inode number

type dirEntry struct {
	Name    string
	InodeID uint32
}

func (e *dirEntry) encode(buf []byte) {
	for i := range buf[:direntNameLen+1] {
		buf[i] = 0
	}
	copy(buf[:direntNameLen], e.Name)
	binary.LittleEndian.PutUint32(buf[direntNameLen+1:direntSize], e.InodeID)
}

func decodeDirEntry(buf []byte) dirEntry {
	n := 0
	for n < direntNameLen+1 && buf[n] != 0 {
		n++
	}
	return dirEntry{
		Name:    string(buf[:n]),
		InodeID: binary.LittleEndian.Uint32(buf[direntNameLen+1 : direntSize]),
	}
}
