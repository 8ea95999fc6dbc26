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

package ext4_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extvfs/internal/blockdev"
	"extvfs/internal/ext4"
)

// TestHandAssembledImage lays out a minimal filesystem byte by byte,
// without the image builder, and walks the whole read path over it:
// superblock, descriptor, root directory, name lookup, extent
// resolution to a known physical block and the file data itself.
func TestHandAssembledImage(t *testing.T) {
	t.Parallel()

	const (
		bs         = 1024
		blocks     = 256
		inodeTable = 5 // blocks 5..12, 32 inodes of 256 bytes
		rootBlock  = 20
		helloIno   = 12
		helloBlock = 100
	)
	img := make([]byte, blocks*bs)

	writeAt := func(off int, vs ...interface{}) {
		var buf bytes.Buffer
		for _, v := range vs {
			require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
		}
		copy(img[off:], buf.Bytes())
	}

	sb := ext4.Superblock{
		InodesCount:     32,
		BlocksCountLo:   blocks,
		FirstDataBlock:  1,
		BlocksPerGroup:  8192,
		InodesPerGroup:  32,
		Magic:           ext4.SuperblockMagic,
		RevLevel:        1,
		FirstInode:      ext4.FirstNonReservedInode,
		InodeSize:       256,
		FeatureIncompat: ext4.FeatureIncompatFiletype | ext4.FeatureIncompatExtents,
	}
	copy(sb.VolumeName[:], "scenario")
	writeAt(ext4.SuperblockOffset, &sb)

	// Descriptor table lives in the block after the superblock's.
	writeAt(2*bs, &ext4.GroupDescBase{
		BlockBitmapLo: 3,
		InodeBitmapLo: 4,
		InodeTableLo:  inodeTable,
	})

	// Root directory: one data block mapped by a single root-level extent.
	root := ext4.Inode{
		Mode:       ext4.ModeDir | 0o755,
		SizeLo:     bs,
		LinksCount: 2,
		Flags:      ext4.InodeFlagExtents,
	}
	var rootTree bytes.Buffer
	require.NoError(t, binary.Write(&rootTree, binary.LittleEndian,
		&ext4.ExtentHeader{Magic: ext4.ExtentMagic, Entries: 1, Max: 4}))
	require.NoError(t, binary.Write(&rootTree, binary.LittleEndian,
		&ext4.Extent{Block: 0, Len: 1, StartLo: rootBlock}))
	copy(root.Block[:], rootTree.Bytes())
	writeAt(inodeTable*bs+(ext4.RootInode-1)*256, &root)

	// Root directory data: ".", ".." and hello.txt, the last entry
	// stretched to the block boundary.
	dirent := func(off int, ino uint32, recLen uint16, fileType uint8, name string) int {
		binary.LittleEndian.PutUint32(img[off:], ino)
		binary.LittleEndian.PutUint16(img[off+4:], recLen)
		img[off+6] = uint8(len(name))
		img[off+7] = fileType
		copy(img[off+8:], name)
		return off + int(recLen)
	}
	off := rootBlock * bs
	off = dirent(off, ext4.RootInode, 12, ext4.FileTypeDir, ".")
	off = dirent(off, ext4.RootInode, 12, ext4.FileTypeDir, "..")
	dirent(off, helloIno, uint16(rootBlock*bs+bs-off), ext4.FileTypeRegular, "hello.txt")

	// hello.txt: two bytes at a fixed physical block.
	hello := ext4.Inode{
		Mode:       ext4.ModeRegular | 0o644,
		SizeLo:     2,
		UIDLo:      1000,
		GIDLo:      1000,
		LinksCount: 1,
		Flags:      ext4.InodeFlagExtents,
	}
	var helloTree bytes.Buffer
	require.NoError(t, binary.Write(&helloTree, binary.LittleEndian,
		&ext4.ExtentHeader{Magic: ext4.ExtentMagic, Entries: 1, Max: 4}))
	require.NoError(t, binary.Write(&helloTree, binary.LittleEndian,
		&ext4.Extent{Block: 0, Len: 1, StartLo: helloBlock}))
	copy(hello.Block[:], helloTree.Bytes())
	writeAt(inodeTable*bs+(helloIno-1)*256, &hello)
	copy(img[helloBlock*bs:], "hi")

	ctx, err := ext4.Mount(blockdev.NewMem("scenario.img", img))
	require.NoError(t, err)
	defer ctx.Unmount()

	assert.Equal(t, "scenario", ctx.Superblock().VolumeLabel())

	gd, err := ctx.Group(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(inodeTable), gd.InodeTable)

	rootIn, err := ctx.ReadInode(ext4.RootInode)
	require.NoError(t, err)
	require.True(t, rootIn.IsDir())

	ino, err := ctx.FindDirEntry(rootIn, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, uint32(helloIno), ino)

	in, err := ctx.ReadInode(ino)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), in.Size())
	assert.Equal(t, uint32(1000), in.UID())

	phys, err := ctx.ResolveBlock(in, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(helloBlock), phys)

	buf := make([]byte, 16)
	n, err := ctx.ReadRange(in, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "hi", string(buf[:n]))
}
