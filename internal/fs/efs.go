package fs

import (
	"fmt"
	"sync"

	"github.com/sv39edu/sv39kernel/internal/blockdev"
	"github.com/sv39edu/sv39kernel/internal/klog"
)

var log = klog.For("fs")

const inodesPerBlock = blockdev.BlockSize / diskInodeSize

// EasyFileSystem is the mounted filesystem: the bitmaps and area bounds
// decoded from the superblock, plus the device they live on. One root
// directory inode (id 0) always exists, matching easy_fs's
// EasyFileSystem/root_inode.
type EasyFileSystem struct {
	mu sync.Mutex

	dev blockdev.BlockDevice

	inodeBitmap *Bitmap
	dataBitmap  *Bitmap

	inodeAreaStart int
	dataAreaStart  int
}

// Create formats dev as a fresh image of totalBlocks blocks, sizing the
// inode area from inodeBitmapBlocks, and returns the mounted filesystem
// with an empty root directory already written.
func Create(dev blockdev.BlockDevice, totalBlocks, inodeBitmapBlocks int) (*EasyFileSystem, error) {
	inodeAreaBlocks := (inodeBitmapBlocks*blockBits + inodesPerBlock - 1) / inodesPerBlock
	remaining := totalBlocks - 1 - inodeBitmapBlocks - inodeAreaBlocks
	dataBitmapBlocks := (remaining + blockBits) / (blockBits + 1)
	if dataBitmapBlocks < 1 {
		dataBitmapBlocks = 1
	}
	dataAreaBlocks := remaining - dataBitmapBlocks
	if dataAreaBlocks < 1 {
		return nil, fmt.Errorf("fs: image too small: %d blocks cannot hold inode+data areas", totalBlocks)
	}

	inodeBitmapStart := 1
	inodeAreaStart := inodeBitmapStart + inodeBitmapBlocks
	dataBitmapStart := inodeAreaStart + inodeAreaBlocks
	dataAreaStart := dataBitmapStart + dataBitmapBlocks

	efs := &EasyFileSystem{
		dev:            dev,
		inodeBitmap:    NewBitmap(inodeBitmapStart, inodeBitmapBlocks),
		dataBitmap:     NewBitmap(dataBitmapStart, dataBitmapBlocks),
		inodeAreaStart: inodeAreaStart,
		dataAreaStart:  dataAreaStart,
	}

	zero := make([]byte, blockdev.BlockSize)
	for b := 0; b < totalBlocks; b++ {
		if err := dev.WriteBlock(b, zero); err != nil {
			return nil, err
		}
	}

	sb := superBlock{
		Magic:           efsMagic,
		TotalBlocks:     uint32(totalBlocks),
		InodeBitmapBlks: uint32(inodeBitmapBlocks),
		InodeAreaBlks:   uint32(inodeAreaBlocks),
		DataBitmapBlks:  uint32(dataBitmapBlocks),
		DataAreaBlks:    uint32(dataAreaBlocks),
	}
	buf := make([]byte, blockdev.BlockSize)
	sb.encode(buf)
	if err := dev.WriteBlock(0, buf); err != nil {
		return nil, err
	}

	rootID, ok := efs.inodeBitmap.Alloc(dev)
	if !ok || rootID != 0 {
		return nil, fmt.Errorf("fs: root inode must be allocation 0, got %d ok=%v", rootID, ok)
	}
	efs.writeDiskInode(uint32(rootID), diskInode{Type: typeDirectory})

	log.Infof("created easy-fs image: %d blocks, %d inode slots, %d data blocks", totalBlocks, inodeAreaBlocks*inodesPerBlock, dataAreaBlocks)
	return efs, nil
}

// Open mounts an existing image, validating its superblock.
func Open(dev blockdev.BlockDevice) (*EasyFileSystem, error) {
	sb, err := readSuperBlock(dev)
	if err != nil {
		return nil, err
	}
	if !sb.valid() {
		return nil, fmt.Errorf("fs: invalid superblock magic %#x", sb.Magic)
	}
	inodeBitmapStart := 1
	inodeAreaStart := inodeBitmapStart + int(sb.InodeBitmapBlks)
	dataBitmapStart := inodeAreaStart + int(sb.InodeAreaBlks)
	dataAreaStart := dataBitmapStart + int(sb.DataBitmapBlks)
	return &EasyFileSystem{
		dev:            dev,
		inodeBitmap:    NewBitmap(inodeBitmapStart, int(sb.InodeBitmapBlks)),
		dataBitmap:     NewBitmap(dataBitmapStart, int(sb.DataBitmapBlks)),
		inodeAreaStart: inodeAreaStart,
		dataAreaStart:  dataAreaStart,
	}, nil
}

// RootInode returns the directory inode every path lookup starts from.
func (efs *EasyFileSystem) RootInode() *Inode {
	return &Inode{inodeID: 0, efs: efs}
}

func (efs *EasyFileSystem) inodePos(inodeID uint32) (blockID int, offset int) {
	blockID = efs.inodeAreaStart + int(inodeID)/inodesPerBlock
	offset = int(inodeID) % inodesPerBlock * diskInodeSize
	return
}

func (efs *EasyFileSystem) readDiskInode(inodeID uint32) diskInode {
	blockID, offset := efs.inodePos(inodeID)
	buf := make([]byte, blockdev.BlockSize)
	if err := efs.dev.ReadBlock(blockID, buf); err != nil {
		panic(err)
	}
	return decodeDiskInode(buf[offset : offset+diskInodeSize])
}

func (efs *EasyFileSystem) writeDiskInode(inodeID uint32, d diskInode) {
	blockID, offset := efs.inodePos(inodeID)
	buf := make([]byte, blockdev.BlockSize)
	if err := efs.dev.ReadBlock(blockID, buf); err != nil {
		panic(err)
	}
	d.encode(buf[offset : offset+diskInodeSize])
	if err := efs.dev.WriteBlock(blockID, buf); err != nil {
		panic(err)
	}
}

func (efs *EasyFileSystem) allocInode() (uint32, bool) {
	pos, ok := efs.inodeBitmap.Alloc(efs.dev)
	return uint32(pos), ok
}

func (efs *EasyFileSystem) allocData() (uint32, bool) {
	pos, ok := efs.dataBitmap.Alloc(efs.dev)
	if !ok {
		return 0, false
	}
	return uint32(efs.dataAreaStart + pos), true
}

func (efs *EasyFileSystem) deallocData(blockID uint32) {
	zero := make([]byte, blockdev.BlockSize)
	if err := efs.dev.WriteBlock(int(blockID), zero); err != nil {
		panic(err)
	}
	efs.dataBitmap.Dealloc(efs.dev, int(blockID)-efs.dataAreaStart)
}

// growTo extends d (already the current disk record for inodeID) to hold
// newSize bytes, allocating any newly needed direct/indirect data blocks,
// and persists the updated record.
func (efs *EasyFileSystem) growTo(inodeID uint32, d diskInode, newSize uint32) diskInode {
	oldBlocks := blocksNeeded(d.Size)
	newBlocks := blocksNeeded(newSize)
	if newBlocks > dataBlockCapacity() {
		panic(fmt.Sprintf("fs: file size %d exceeds this filesystem's max addressable size", newSize))
	}
	if newBlocks > inodeDirectCount && d.Indirect == 0 {
		id, ok := efs.allocData()
		if !ok {
			panic("fs: out of data blocks allocating indirect block")
		}
		d.Indirect = id
	}
	for i := oldBlocks; i < newBlocks; i++ {
		id, ok := efs.allocData()
		if !ok {
			panic("fs: out of data blocks")
		}
		d.setDataBlockID(i, id, efs.dev)
	}
	d.Size = newSize
	efs.writeDiskInode(inodeID, d)
	return d
}

// clear releases every data block (and the indirect block, if any) d owns,
// leaving Size 0.
func (efs *EasyFileSystem) clear(inodeID uint32, d diskInode) {
	nb := blocksNeeded(d.Size)
	for i := 0; i < nb; i++ {
		efs.deallocData(d.dataBlockID(i, efs.dev))
	}
	if d.Indirect != 0 {
		efs.deallocData(d.Indirect)
	}
	d.Size = 0
	d.Indirect = 0
	for i := range d.Direct {
		d.Direct[i] = 0
	}
	efs.writeDiskInode(inodeID, d)
}
