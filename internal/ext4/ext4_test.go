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
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extvfs/internal/blockdev"
	"extvfs/internal/common"
	"extvfs/internal/ext4"
	"extvfs/internal/mkfs"
)

// buildImage assembles the shared fixture: a handful of files, a nested
// directory, a fragmented file whose extent tree needs an index level,
// a sparse file and a symlink.
func buildImage(t *testing.T) *mkfs.Image {
	t.Helper()
	b := mkfs.NewBuilder(mkfs.Options{VolumeName: "fixture"})

	require.NoError(t, b.AddFile("hello.txt", []byte("hello, world\n"), 0o644))
	require.NoError(t, b.AddDir("docs", 0o755))
	require.NoError(t, b.AddFile("docs/readme.md", bytes.Repeat([]byte("readme "), 500), 0o644))
	require.NoError(t, b.AddFile("empty", nil, 0o600))
	require.NoError(t, b.AddFragmentedFile("frag.bin", patternData(12*1024), 2, 0o644))
	require.NoError(t, b.AddSparseFile("sparse.bin", 8*1024, map[uint64][]byte{
		0: []byte("head"),
		6: []byte("tail"),
	}, 0o644))
	require.NoError(t, b.AddSymlink("link", "docs/readme.md"))

	img, err := b.Build()
	require.NoError(t, err)
	return img
}

// patternData makes data where every byte encodes its offset, so any
// misplaced block shows up as a mismatch.
func patternData(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i * 7)
	}
	return p
}

func mountImage(t *testing.T, img *mkfs.Image) *ext4.Context {
	t.Helper()
	ctx, err := ext4.Mount(img.Device("fixture.img"))
	require.NoError(t, err)
	t.Cleanup(ctx.Unmount)
	return ctx
}

func TestMountGeometry(t *testing.T) {
	t.Parallel()

	img := buildImage(t)
	ctx := mountImage(t, img)

	assert.Equal(t, uint32(1024), ctx.BlockSize())
	assert.Equal(t, uint64(512), ctx.BlockCount())
	assert.Equal(t, uint32(1), ctx.GroupCount())
	assert.Equal(t, "fixture", ctx.Superblock().VolumeLabel())
	assert.NotEmpty(t, ctx.Superblock().UUIDString())

	gd, err := ctx.Group(0)
	require.NoError(t, err)
	assert.Equal(t, img.InodeTable, gd.InodeTable)

	_, err = ctx.Group(1)
	assert.ErrorIs(t, err, common.ErrInvalidGroupIndex)
}

func TestMountRejectsBadImages(t *testing.T) {
	t.Parallel()

	t.Run("nil device", func(t *testing.T) {
		_, err := ext4.Mount(nil)
		assert.ErrorIs(t, err, common.ErrInvalidArgument)
	})

	t.Run("zeroed image", func(t *testing.T) {
		dev := blockdev.NewMem("zero.img", make([]byte, 64*1024))
		_, err := ext4.Mount(dev)
		assert.ErrorIs(t, err, common.ErrInvalidSuperblock)
	})

	t.Run("image shorter than the superblock", func(t *testing.T) {
		dev := blockdev.NewMem("tiny.img", make([]byte, 512))
		_, err := ext4.Mount(dev)
		assert.ErrorIs(t, err, common.ErrIO)
	})
}

// countingDevice counts ReadAt calls so tests can prove an operation
// performed no I/O.
type countingDevice struct {
	blockdev.Device
	reads int
}

func (d *countingDevice) ReadAt(p []byte, off int64) (int, error) {
	d.reads++
	return d.Device.ReadAt(p, off)
}

func TestReadInode(t *testing.T) {
	t.Parallel()

	img := buildImage(t)

	t.Run("root directory", func(t *testing.T) {
		ctx := mountImage(t, img)
		in, err := ctx.ReadInode(ext4.RootInode)
		require.NoError(t, err)
		assert.True(t, in.IsDir())
		assert.True(t, in.UsesExtents())
	})

	t.Run("regular file metadata", func(t *testing.T) {
		ctx := mountImage(t, img)
		in, err := ctx.ReadInode(img.Inodes["hello.txt"])
		require.NoError(t, err)
		assert.Equal(t, uint64(len("hello, world\n")), in.Size())
		assert.Equal(t, uint16(ext4.ModeRegular|0o644), in.Mode)
		assert.False(t, in.IsDir())
	})

	t.Run("inode zero is rejected before any read", func(t *testing.T) {
		dev := &countingDevice{Device: img.Device("fixture.img")}
		ctx, err := ext4.Mount(dev)
		require.NoError(t, err)
		defer ctx.Unmount()

		dev.reads = 0
		_, err = ctx.ReadInode(0)
		assert.ErrorIs(t, err, common.ErrInvalidInode)
		assert.Zero(t, dev.reads, "invalid inode number must not touch the device")
	})

	t.Run("inode beyond the last group", func(t *testing.T) {
		ctx := mountImage(t, img)
		_, err := ctx.ReadInode(1 << 20)
		assert.ErrorIs(t, err, common.ErrInvalidInode)
	})
}

func TestResolveBlock(t *testing.T) {
	t.Parallel()

	img := buildImage(t)
	ctx := mountImage(t, img)

	t.Run("contiguous file", func(t *testing.T) {
		in, err := ctx.ReadInode(img.Inodes["docs/readme.md"])
		require.NoError(t, err)

		first, err := ctx.ResolveBlock(in, 0)
		require.NoError(t, err)
		second, err := ctx.ResolveBlock(in, 1)
		require.NoError(t, err)
		assert.Equal(t, first+1, second)
	})

	t.Run("fragmented file resolves through the index level", func(t *testing.T) {
		in, err := ctx.ReadInode(img.Inodes["frag.bin"])
		require.NoError(t, err)

		// Physical runs are two blocks with a gap, so crossing an even
		// logical boundary must not be physically contiguous.
		p1, err := ctx.ResolveBlock(in, 1)
		require.NoError(t, err)
		p2, err := ctx.ResolveBlock(in, 2)
		require.NoError(t, err)
		assert.NotEqual(t, p1+1, p2)
	})

	t.Run("hole in a sparse file", func(t *testing.T) {
		in, err := ctx.ReadInode(img.Inodes["sparse.bin"])
		require.NoError(t, err)

		_, err = ctx.ResolveBlock(in, 0)
		require.NoError(t, err)
		_, err = ctx.ResolveBlock(in, 3)
		assert.ErrorIs(t, err, common.ErrBlockNotMapped)
	})

	t.Run("inode without the extents flag", func(t *testing.T) {
		in, err := ctx.ReadInode(img.Inodes["link"])
		require.NoError(t, err)

		_, err = ctx.ResolveBlock(in, 0)
		assert.ErrorIs(t, err, common.ErrUnsupportedAddressing)
	})
}

func TestReadFileBlock(t *testing.T) {
	t.Parallel()

	img := buildImage(t)
	ctx := mountImage(t, img)
	bs := int(ctx.BlockSize())

	t.Run("buffer shorter than a block", func(t *testing.T) {
		in, err := ctx.ReadInode(img.Inodes["hello.txt"])
		require.NoError(t, err)
		err = ctx.ReadFileBlock(in, 0, make([]byte, bs-1))
		assert.ErrorIs(t, err, common.ErrInvalidArgument)
	})

	t.Run("hole reads back as zeros", func(t *testing.T) {
		in, err := ctx.ReadInode(img.Inodes["sparse.bin"])
		require.NoError(t, err)

		buf := bytes.Repeat([]byte{0xAA}, bs)
		require.NoError(t, ctx.ReadFileBlock(in, 3, buf))
		assert.Equal(t, make([]byte, bs), buf)
	})

	t.Run("block past the end reads back as zeros", func(t *testing.T) {
		in, err := ctx.ReadInode(img.Inodes["hello.txt"])
		require.NoError(t, err)

		buf := bytes.Repeat([]byte{0xAA}, bs)
		require.NoError(t, ctx.ReadFileBlock(in, 100, buf))
		assert.Equal(t, make([]byte, bs), buf)
	})

	t.Run("mapped block carries data", func(t *testing.T) {
		in, err := ctx.ReadInode(img.Inodes["sparse.bin"])
		require.NoError(t, err)

		buf := make([]byte, bs)
		require.NoError(t, ctx.ReadFileBlock(in, 0, buf))
		assert.Equal(t, []byte("head"), buf[:4])
		assert.Equal(t, make([]byte, bs-4), buf[4:])
	})
}

func TestReadRange(t *testing.T) {
	t.Parallel()

	img := buildImage(t)
	ctx := mountImage(t, img)
	data := bytes.Repeat([]byte("readme "), 500)

	in, err := ctx.ReadInode(img.Inodes["docs/readme.md"])
	require.NoError(t, err)

	t.Run("whole file", func(t *testing.T) {
		buf := make([]byte, len(data))
		n, err := ctx.ReadRange(in, 0, buf)
		require.NoError(t, err)
		assert.Equal(t, len(data), n)
		assert.Equal(t, data, buf)
	})

	t.Run("unaligned offset and length", func(t *testing.T) {
		buf := make([]byte, 1500)
		n, err := ctx.ReadRange(in, 700, buf)
		require.NoError(t, err)
		assert.Equal(t, 1500, n)
		assert.Equal(t, data[700:2200], buf)
	})

	t.Run("clamped at end of file", func(t *testing.T) {
		buf := make([]byte, 1000)
		n, err := ctx.ReadRange(in, uint64(len(data))-100, buf)
		require.NoError(t, err)
		assert.Equal(t, 100, n)
		assert.Equal(t, data[len(data)-100:], buf[:n])
	})

	t.Run("offset at or past end of file", func(t *testing.T) {
		n, err := ctx.ReadRange(in, uint64(len(data)), make([]byte, 10))
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = ctx.ReadRange(in, uint64(len(data))+5000, make([]byte, 10))
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("byte-at-a-time equals one call", func(t *testing.T) {
		frag, err := ctx.ReadInode(img.Inodes["frag.bin"])
		require.NoError(t, err)
		want := patternData(12 * 1024)

		got := make([]byte, len(want))
		for off := 0; off < len(want); off += 997 {
			end := off + 997
			if end > len(want) {
				end = len(want)
			}
			n, err := ctx.ReadRange(frag, uint64(off), got[off:end])
			require.NoError(t, err)
			require.Equal(t, end-off, n)
		}
		assert.Equal(t, want, got)
	})

	t.Run("sparse holes read as zeros", func(t *testing.T) {
		sp, err := ctx.ReadInode(img.Inodes["sparse.bin"])
		require.NoError(t, err)

		buf := make([]byte, 8*1024)
		n, err := ctx.ReadRange(sp, 0, buf)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, []byte("head"), buf[:4])
		assert.Equal(t, []byte("tail"), buf[6*1024:6*1024+4])
		assert.Equal(t, make([]byte, 1024-4), buf[4:1024])
	})
}

func TestDirectoryLookups(t *testing.T) {
	t.Parallel()

	img := buildImage(t)
	ctx := mountImage(t, img)

	root, err := ctx.ReadInode(ext4.RootInode)
	require.NoError(t, err)

	t.Run("find by name", func(t *testing.T) {
		ino, err := ctx.FindDirEntry(root, "hello.txt")
		require.NoError(t, err)
		assert.Equal(t, img.Inodes["hello.txt"], ino)

		ino, err = ctx.FindDirEntry(root, "docs")
		require.NoError(t, err)
		assert.Equal(t, img.Inodes["docs"], ino)
	})

	t.Run("name comparison is exact", func(t *testing.T) {
		_, err := ctx.FindDirEntry(root, "hello")
		assert.ErrorIs(t, err, common.ErrNotFound)
		_, err = ctx.FindDirEntry(root, "HELLO.TXT")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("enumeration by ordinal", func(t *testing.T) {
		var names []string
		for i := 0; ; i++ {
			ent, err := ctx.ReadDirEntry(root, i)
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			names = append(names, ent.Name)
		}
		assert.Equal(t, []string{".", "..", "hello.txt", "docs", "empty", "frag.bin", "sparse.bin", "link"}, names)
	})

	t.Run("negative ordinal", func(t *testing.T) {
		_, err := ctx.ReadDirEntry(root, -1)
		assert.ErrorIs(t, err, common.ErrInvalidArgument)
	})

	t.Run("lookup on a non-directory", func(t *testing.T) {
		file, err := ctx.ReadInode(img.Inodes["hello.txt"])
		require.NoError(t, err)
		_, err = ctx.FindDirEntry(file, "anything")
		assert.ErrorIs(t, err, common.ErrNotDir)
	})

	t.Run("nested directory", func(t *testing.T) {
		dir, err := ctx.ReadInode(img.Inodes["docs"])
		require.NoError(t, err)
		ino, err := ctx.FindDirEntry(dir, "readme.md")
		require.NoError(t, err)
		assert.Equal(t, img.Inodes["docs/readme.md"], ino)
	})
}

// TestCorruptedExtentTree patches the fixture after building it: the
// fragmented file's first index child gets its magic bytes flipped, and
// every resolution through that child must fail cleanly.
func TestCorruptedExtentTree(t *testing.T) {
	t.Parallel()

	img := buildImage(t)
	ctx := mountImage(t, img)

	in, err := ctx.ReadInode(img.Inodes["frag.bin"])
	require.NoError(t, err)

	// The root node of a depth-1 tree holds index entries; the child
	// block number sits right after the logical block in each entry.
	hdrDepth := binary.LittleEndian.Uint16(in.Block[6:8])
	require.Equal(t, uint16(1), hdrDepth, "fixture should need an index level")
	leaf := uint64(binary.LittleEndian.Uint32(in.Block[ext4.ExtentHeaderSize+4 : ext4.ExtentHeaderSize+8]))

	img.Data[leaf*uint64(ctx.BlockSize())] ^= 0xFF

	_, err = ctx.ResolveBlock(in, 0)
	assert.ErrorIs(t, err, common.ErrCorruptExtent)

	buf := make([]byte, ctx.BlockSize())
	err = ctx.ReadFileBlock(in, 0, buf)
	assert.ErrorIs(t, err, common.ErrCorruptExtent)
}
