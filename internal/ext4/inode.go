package ext4

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"extvfs/internal/common"
)

// ReadInode reads the on-disk record of a 1-based inode number. Inode 0
// is rejected before any device I/O; so is a number whose block group
// falls outside the filesystem.
func (c *Context) ReadInode(ino uint32) (*Inode, error) {
	if ino < 1 {
		return nil, fmt.Errorf("%w: %d", common.ErrInvalidInode, ino)
	}
	group := (ino - 1) / c.sb.InodesPerGroup
	if group >= c.groupCount {
		return nil, fmt.Errorf("%w: %d (group %d of %d)", common.ErrInvalidInode, ino, group, c.groupCount)
	}
	index := uint64((ino - 1) % c.sb.InodesPerGroup)
	inodeSize := uint64(c.sb.InodeSizeBytes())

	// Read the block containing the record and copy it out.
	table := c.groups[group].InodeTable
	blockNum := table + index*inodeSize/uint64(c.blockSize)
	offset := index * inodeSize % uint64(c.blockSize)

	buf := make([]byte, c.blockSize)
	if err := c.readBlock(blockNum, buf); err != nil {
		return nil, fmt.Errorf("inode %d: %w", ino, err)
	}

	in := new(Inode)
	if err := binary.Read(bytes.NewReader(buf[offset:offset+inodeSize]), binary.LittleEndian, in); err != nil {
		return nil, fmt.Errorf("inode %d: decode: %w", ino, err)
	}
	return in, nil
}
