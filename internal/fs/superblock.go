package fs

import (
	"encoding/binary"

	"github.com/sv39edu/sv39kernel/internal/blockdev"
)

// efsMagic identifies a valid easy-fs image, matching easy_fs's
// EFS_MAGIC validity check on mount.
const efsMagic = 0x3b800001

// superBlock occupies block 0 of every image: the layout of every other
// region is derived entirely from these five fields, matching easy_fs's
// SuperBlock.
type superBlock struct {
	Magic           uint32
	TotalBlocks     uint32
	InodeBitmapBlks uint32
	InodeAreaBlks   uint32
	DataBitmapBlks  uint32
	DataAreaBlks    uint32
}

func (sb *superBlock) valid() bool { return sb.Magic == efsMagic }

func (sb *superBlock) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], sb.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], sb.TotalBlocks)
	binary.LittleEndian.PutUint32(buf[8:12], sb.InodeBitmapBlks)
	binary.LittleEndian.PutUint32(buf[12:16], sb.InodeAreaBlks)
	binary.LittleEndian.PutUint32(buf[16:20], sb.DataBitmapBlks)
	binary.LittleEndian.PutUint32(buf[20:24], sb.DataAreaBlks)
}

func decodeSuperBlock(buf []byte) superBlock {
	return superBlock{
		Magic:           binary.LittleEndian.Uint32(buf[0:4]),
		TotalBlocks:     binary.LittleEndian.Uint32(buf[4:8]),
		InodeBitmapBlks: binary.LittleEndian.Uint32(buf[8:12]),
		InodeAreaBlks:   binary.LittleEndian.Uint32(buf[12:16]),
		DataBitmapBlks:  binary.LittleEndian.Uint32(buf[16:20]),
		DataAreaBlks:    binary.LittleEndian.Uint32(buf[20:24]),
	}
}

func readSuperBlock(dev blockdev.BlockDevice) (superBlock, error) {
	buf := make([]byte, blockdev.BlockSize)
	if err := dev.ReadBlock(0, buf); err != nil {
		return superBlock{}, err
	}
	return decodeSuperBlock(buf), nil
}
