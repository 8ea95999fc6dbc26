// Package ext4 implements the read path of an ext4 filesystem: superblock
// and group-descriptor loading, inode reads, extent-tree resolution, file
// data assembly and directory decoding. The node bridge in node.go exposes
// it through the generic VFS operation set.
package ext4

import (
	"bytes"
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	"extvfs/internal/blockdev"
	"extvfs/internal/common"
)

// Context is the in-memory state of one mounted filesystem. It is
// immutable after Mount and safe for concurrent readers; per-call scratch
// buffers keep the read path free of shared mutable state.
type Context struct {
	dev        blockdev.Device
	sb         *Superblock
	blockSize  uint32
	blockCount uint64
	groupCount uint32
	groups     []GroupDesc
}

// Mount reads and validates the superblock, loads the group-descriptor
// table and returns a ready Context. Nothing is retained on failure.
func Mount(dev blockdev.Device) (*Context, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", common.ErrInvalidArgument)
	}

	raw := make([]byte, SuperblockSize)
	if _, err := dev.ReadAt(raw, SuperblockOffset); err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	sb := new(Superblock)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, sb); err != nil {
		return nil, fmt.Errorf("decode superblock: %w", err)
	}
	if err := validateSuperblock(sb); err != nil {
		return nil, err
	}

	c := &Context{
		dev:        dev,
		sb:         sb,
		blockSize:  sb.BlockSize(),
		blockCount: sb.BlocksCount(),
		groupCount: sb.GroupCount(),
	}

	groups, err := c.readGroupDescs()
	if err != nil {
		return nil, fmt.Errorf("read group descriptors: %w", err)
	}
	c.groups = groups

	log.Infof("[Ext4] Mounted %s: volume=%q uuid=%s block_size=%d blocks=%d inodes=%d groups=%d",
		dev.Name(), sb.VolumeLabel(), sb.UUIDString(), c.blockSize, c.blockCount,
		sb.InodesCount, c.groupCount)
	return c, nil
}

func validateSuperblock(sb *Superblock) error {
	if sb.Magic != SuperblockMagic {
		return fmt.Errorf("%w: magic 0x%04x", common.ErrInvalidSuperblock, sb.Magic)
	}
	if sb.LogBlockSize > 6 {
		return fmt.Errorf("%w: log block size %d", common.ErrInvalidSuperblock, sb.LogBlockSize)
	}
	if sb.BlocksCount() == 0 {
		return fmt.Errorf("%w: zero block count", common.ErrInvalidSuperblock)
	}
	if sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0 {
		return fmt.Errorf("%w: zero blocks or inodes per group", common.ErrInvalidSuperblock)
	}
	bs := sb.BlockSize()
	is := sb.InodeSizeBytes()
	if is < legacyInodeSize || is > bs || is&(is-1) != 0 {
		return fmt.Errorf("%w: inode size %d", common.ErrInvalidSuperblock, is)
	}
	if ds := sb.DescriptorSize(); ds < legacyDescSize || ds > bs {
		return fmt.Errorf("%w: descriptor size %d", common.ErrInvalidSuperblock, ds)
	}
	return nil
}

// readGroupDescs loads the descriptor table, which starts the block after
// the superblock's block and spans group_count records rounded up to
// whole blocks.
func (c *Context) readGroupDescs() ([]GroupDesc, error) {
	descSize := c.sb.DescriptorSize()
	tableBytes := uint64(c.groupCount) * uint64(descSize)
	tableBlocks := (tableBytes + uint64(c.blockSize) - 1) / uint64(c.blockSize)

	raw := make([]byte, tableBlocks*uint64(c.blockSize))
	start := uint64(c.sb.FirstDataBlock) + 1
	for i := uint64(0); i < tableBlocks; i++ {
		off := i * uint64(c.blockSize)
		if err := c.readBlock(start+i, raw[off:off+uint64(c.blockSize)]); err != nil {
			return nil, err
		}
	}

	groups := make([]GroupDesc, c.groupCount)
	for i := range groups {
		rec := raw[uint64(i)*uint64(descSize):]
		if err := decodeGroupDesc(rec[:descSize], &groups[i]); err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
	}
	return groups, nil
}

// decodeGroupDesc decodes one descriptor record. The high halves are
// honored only when the record is large enough to carry them.
func decodeGroupDesc(rec []byte, out *GroupDesc) error {
	var base GroupDescBase
	if err := binary.Read(bytes.NewReader(rec), binary.LittleEndian, &base); err != nil {
		return fmt.Errorf("%w: descriptor record truncated", common.ErrInvalidSuperblock)
	}
	out.BlockBitmap = uint64(base.BlockBitmapLo)
	out.InodeBitmap = uint64(base.InodeBitmapLo)
	out.InodeTable = uint64(base.InodeTableLo)
	out.FreeBlocksCount = uint32(base.FreeBlocksCountLo)
	out.FreeInodesCount = uint32(base.FreeInodesCountLo)
	out.UsedDirsCount = uint32(base.UsedDirsCountLo)
	out.Flags = base.Flags

	if len(rec) >= 64 {
		var ext GroupDescExt
		if err := binary.Read(bytes.NewReader(rec[32:]), binary.LittleEndian, &ext); err != nil {
			return fmt.Errorf("%w: descriptor record truncated", common.ErrInvalidSuperblock)
		}
		out.BlockBitmap |= uint64(ext.BlockBitmapHi) << 32
		out.InodeBitmap |= uint64(ext.InodeBitmapHi) << 32
		out.InodeTable |= uint64(ext.InodeTableHi) << 32
		out.FreeBlocksCount |= uint32(ext.FreeBlocksCountHi) << 16
		out.FreeInodesCount |= uint32(ext.FreeInodesCountHi) << 16
		out.UsedDirsCount |= uint32(ext.UsedDirsCountHi) << 16
	}
	return nil
}

// Unmount releases the context. The block device stays open; closing it
// belongs to whoever opened it. The Context must not be used afterwards.
func (c *Context) Unmount() {
	log.Debugf("[Ext4] Unmounted %s", c.dev.Name())
	c.groups = nil
	c.dev = nil
}

// Superblock returns the parsed superblock
func (c *Context) Superblock() *Superblock {
	return c.sb
}

// BlockSize returns the filesystem block size in bytes
func (c *Context) BlockSize() uint32 {
	return c.blockSize
}

// BlockCount returns the total number of blocks
func (c *Context) BlockCount() uint64 {
	return c.blockCount
}

// GroupCount returns the number of block groups
func (c *Context) GroupCount() uint32 {
	return c.groupCount
}

// Group returns the descriptor of one block group
func (c *Context) Group(i uint32) (*GroupDesc, error) {
	if i >= c.groupCount {
		return nil, fmt.Errorf("%w: group %d of %d", common.ErrInvalidGroupIndex, i, c.groupCount)
	}
	return &c.groups[i], nil
}

// readBlock reads one filesystem block into p
func (c *Context) readBlock(n uint64, p []byte) error {
	if _, err := c.dev.ReadAt(p[:c.blockSize], int64(n)*int64(c.blockSize)); err != nil {
		return fmt.Errorf("block %d: %w", n, err)
	}
	return nil
}
