package ext4

import (
	"errors"
	"fmt"

	"extvfs/internal/common"
)

// ReadFileBlock reads one logical block of a file into buf, which must
// hold at least one block. Blocks past the end of the file and holes
// inside it read as zeros rather than failing.
func (c *Context) ReadFileBlock(in *Inode, logical uint64, buf []byte) error {
	if len(buf) < int(c.blockSize) {
		return fmt.Errorf("%w: buffer smaller than block size", common.ErrInvalidArgument)
	}
	buf = buf[:c.blockSize]

	blocks := (in.Size() + uint64(c.blockSize) - 1) / uint64(c.blockSize)
	if logical >= blocks {
		clear(buf)
		return nil
	}

	phys, err := c.ResolveBlock(in, logical)
	if err != nil {
		if errors.Is(err, common.ErrBlockNotMapped) {
			clear(buf)
			return nil
		}
		return err
	}
	return c.readBlock(phys, buf)
}

// ReadSymlink returns the target of a symbolic link inode. Targets short
// enough to fit the block pointer area are stored there inline (a fast
// symlink); longer targets are regular file data behind the extent tree.
func (c *Context) ReadSymlink(in *Inode) (string, error) {
	if in.Mode&ModeTypeMask != ModeSymlink {
		return "", fmt.Errorf("%w: not a symlink", common.ErrInvalidArgument)
	}
	size := in.Size()
	if size == 0 || size > uint64(c.blockSize) {
		return "", fmt.Errorf("%w: symlink target of %d bytes", common.ErrInvalidInode, size)
	}
	if !in.UsesExtents() {
		if size > uint64(len(in.Block)) {
			return "", fmt.Errorf("%w: fast symlink target of %d bytes", common.ErrInvalidInode, size)
		}
		return string(in.Block[:size]), nil
	}
	p := make([]byte, size)
	n, err := c.ReadRange(in, 0, p)
	if err != nil {
		return "", err
	}
	return string(p[:n]), nil
}

// ReadRange reads up to len(p) bytes of file data starting at byte offset
// off. The count is clamped at the file size; a zero count with a nil
// error means off is at or past the end. On error the contents of p are
// unspecified.
func (c *Context) ReadRange(in *Inode, off uint64, p []byte) (int, error) {
	size := in.Size()
	if off >= size || len(p) == 0 {
		return 0, nil
	}
	want := uint64(len(p))
	if off+want > size {
		want = size - off
	}

	bs := uint64(c.blockSize)
	buf := make([]byte, bs)
	var done uint64
	for done < want {
		if err := c.ReadFileBlock(in, (off+done)/bs, buf); err != nil {
			return 0, fmt.Errorf("read at %d: %w", off+done, err)
		}
		from := (off + done) % bs
		n := bs - from
		if n > want-done {
			n = want - done
		}
		copy(p[done:done+n], buf[from:from+n])
		done += n
	}
	return int(done), nil
}
