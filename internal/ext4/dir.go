// Copyright 2026 ExtVFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ext4

import (
	"encoding/binary"
	"fmt"
	"io"

	"extvfs/internal/common"
	"extvfs/internal/vfs"
)

// DirEntry is one decoded directory entry
type DirEntry struct {
	Ino  uint32
	Type vfs.NodeType
	Name string
}

// walkDir invokes fn for every valid (nonzero-inode) entry of the
// directory in on-disk order. fn returns true to stop; the first return
// reports whether it did. Advancing is driven by each entry's rec_len; a
// zero rec_len terminates its block, and so does a record that would
// cross the block boundary.
func (c *Context) walkDir(dir *Inode, fn func(ino uint32, fileType uint8, name []byte) bool) (bool, error) {
	bs := int(c.blockSize)
	blocks := (dir.Size() + uint64(bs) - 1) / uint64(bs)
	buf := make([]byte, bs)

	for b := uint64(0); b < blocks; b++ {
		if err := c.ReadFileBlock(dir, b, buf); err != nil {
			return false, fmt.Errorf("directory block %d: %w", b, err)
		}
		for off := 0; off+DirentHeaderSize <= bs; {
			ino := binary.LittleEndian.Uint32(buf[off:])
			recLen := int(binary.LittleEndian.Uint16(buf[off+4:]))
			nameLen := int(buf[off+6])
			fileType := buf[off+7]
			if recLen == 0 {
				break
			}
			if off+recLen > bs || DirentHeaderSize+nameLen > recLen {
				break
			}
			if ino != 0 {
				name := buf[off+DirentHeaderSize : off+DirentHeaderSize+nameLen]
				if fn(ino, fileType, name) {
					return true, nil
				}
			}
			off += recLen
		}
	}
	return false, nil
}

// FindDirEntry searches a directory for an exact name match and returns
// the matching inode number. There is no case folding.
func (c *Context) FindDirEntry(dir *Inode, name string) (uint32, error) {
	var found uint32
	stopped, err := c.walkDir(dir, func(ino uint32, _ uint8, n []byte) bool {
		if string(n) == name {
			found = ino
			return true
		}
		return false
	})
	if err != nil {
		return 0, err
	}
	if !stopped {
		return 0, fmt.Errorf("%q: %w", name, common.ErrNotFound)
	}
	return found, nil
}

// ReadDirEntry returns the directory entry at an ordinal position,
// counting only valid entries across the whole directory. io.EOF reports
// positions past the last entry. Names longer than the generic limit are
// truncated.
func (c *Context) ReadDirEntry(dir *Inode, index int) (*DirEntry, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: directory index %d", common.ErrInvalidArgument, index)
	}
	var ent *DirEntry
	pos := 0
	stopped, err := c.walkDir(dir, func(ino uint32, fileType uint8, name []byte) bool {
		if pos != index {
			pos++
			return false
		}
		if len(name) > vfs.NameMax {
			name = name[:vfs.NameMax]
		}
		ent = &DirEntry{Ino: ino, Type: direntNodeType(fileType), Name: string(name)}
		return true
	})
	if err != nil {
		return nil, err
	}
	if !stopped {
		return nil, io.EOF
	}
	return ent, nil
}

// direntNodeType translates the on-disk file-type tag. Unknown tags read
// as regular files.
func direntNodeType(t uint8) vfs.NodeType {
	switch t {
	case FileTypeDir:
		return vfs.NodeDir
	case FileTypeSymlink:
		return vfs.NodeSymlink
	case FileTypeCharDev:
		return vfs.NodeCharDevice
	case FileTypeBlockDev:
		return vfs.NodeBlockDevice
	case FileTypeFIFO:
		return vfs.NodePipe
	case FileTypeSocket:
		return vfs.NodeSocket
	default:
		return vfs.NodeFile
	}
}
