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
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"extvfs/internal/common"
	"extvfs/internal/ext4"
	"extvfs/internal/vfs"
)

func buildRootNode(t *testing.T) (*vfs.Node, *ext4.Context) {
	t.Helper()
	img := buildImage(t)
	ctx := mountImage(t, img)
	root, err := ext4.NewNode(ctx, ext4.RootInode)
	require.NoError(t, err)
	return root, ctx
}

func TestNewNode(t *testing.T) {
	t.Parallel()

	root, _ := buildRootNode(t)
	assert.Equal(t, vfs.NodeDir, root.Type)
	assert.Equal(t, uint64(ext4.RootInode), root.Ino)
	assert.Equal(t, uint32(0o755), root.Mode, "mode keeps permissions only")
	assert.NotZero(t, root.Size)
	assert.False(t, root.Mtime.IsZero())
	require.NotNil(t, root.Ops)
}

func TestNodeFindDir(t *testing.T) {
	t.Parallel()

	root, _ := buildRootNode(t)

	t.Run("regular file", func(t *testing.T) {
		n, err := root.Ops.FindDir(root, "hello.txt")
		require.NoError(t, err)
		assert.Equal(t, "hello.txt", n.Name)
		assert.Equal(t, vfs.NodeFile, n.Type)
		assert.Equal(t, uint64(len("hello, world\n")), n.Size)
	})

	t.Run("symlink keeps its type and target length", func(t *testing.T) {
		n, err := root.Ops.FindDir(root, "link")
		require.NoError(t, err)
		assert.Equal(t, vfs.NodeSymlink, n.Type)
		assert.Equal(t, uint64(len("docs/readme.md")), n.Size)
	})

	t.Run("missing name", func(t *testing.T) {
		_, err := root.Ops.FindDir(root, "nope")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})

	t.Run("lookup under a file", func(t *testing.T) {
		file, err := root.Ops.FindDir(root, "hello.txt")
		require.NoError(t, err)
		_, err = file.Ops.FindDir(file, "child")
		assert.ErrorIs(t, err, common.ErrNotDir)
	})
}

func TestNodeReadDir(t *testing.T) {
	t.Parallel()

	root, _ := buildRootNode(t)

	ent, err := root.Ops.ReadDir(root, 0)
	require.NoError(t, err)
	assert.Equal(t, ".", ent.Name)
	assert.Equal(t, vfs.NodeDir, ent.Type)

	ent, err = root.Ops.ReadDir(root, 2)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", ent.Name)
	assert.Equal(t, vfs.NodeFile, ent.Type)
	assert.NotZero(t, ent.Ino)

	_, err = root.Ops.ReadDir(root, 1000)
	assert.ErrorIs(t, err, io.EOF)

	file, err := root.Ops.FindDir(root, "hello.txt")
	require.NoError(t, err)
	_, err = file.Ops.ReadDir(file, 0)
	assert.ErrorIs(t, err, common.ErrNotDir)
}

func TestNodeReadWrite(t *testing.T) {
	t.Parallel()

	root, _ := buildRootNode(t)
	n, err := root.Ops.FindDir(root, "hello.txt")
	require.NoError(t, err)

	buf := make([]byte, 5)
	got, err := n.Ops.Read(n, 7, buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:got]))

	got, err = n.Ops.Read(n, n.Size+10, buf)
	require.NoError(t, err)
	assert.Zero(t, got, "reads past the end return no data")

	got, err = n.Ops.Write(n, 0, []byte("x"))
	require.NoError(t, err)
	assert.Zero(t, got, "writes consume nothing on a read-only filesystem")

	require.NoError(t, n.Ops.Open(n, 0))
	require.NoError(t, n.Ops.Close(n))
}

func TestNodeReadlink(t *testing.T) {
	t.Parallel()

	root, _ := buildRootNode(t)

	link, err := root.Ops.FindDir(root, "link")
	require.NoError(t, err)
	r, ok := link.Ops.(vfs.Readlinker)
	require.True(t, ok, "symlink nodes expose Readlink")
	target, err := r.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, "docs/readme.md", target)

	file, err := root.Ops.FindDir(root, "hello.txt")
	require.NoError(t, err)
	_, err = file.Ops.(vfs.Readlinker).Readlink(file)
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestNodeStat(t *testing.T) {
	t.Parallel()

	root, _ := buildRootNode(t)
	n, err := root.Ops.FindDir(root, "hello.txt")
	require.NoError(t, err)

	st, err := n.Ops.Stat(n)
	require.NoError(t, err)
	assert.Equal(t, n.Ino, st.Ino)
	assert.Equal(t, uint64(len("hello, world\n")), st.Size)
	assert.Equal(t, uint32(ext4.ModeRegular|0o644), st.Mode, "stat keeps the raw mode")
	assert.Equal(t, uint32(1), st.Nlink)
	assert.Equal(t, uint32(1024), st.BlockSize)
	assert.False(t, st.Mtime.IsZero())
}

func TestDriverRegistration(t *testing.T) {
	t.Parallel()

	assert.Contains(t, vfs.Drivers(), "ext4")
}

func TestDriverMountFlow(t *testing.T) {
	t.Parallel()

	img := buildImage(t)
	v := vfs.New()
	require.NoError(t, v.MountFS("/", "ext4", img.Device("flow.img")))

	h, err := v.Open("/docs/readme.md", 0)
	require.NoError(t, err)
	buf := make([]byte, 7)
	n, err := v.Read(h, buf)
	require.NoError(t, err)
	assert.Equal(t, "readme ", string(buf[:n]))
	require.NoError(t, v.Close(h))

	st, err := v.Stat("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(len("hello, world\n")), st.Size)

	v.Shutdown()
	_, err = v.Stat("/hello.txt")
	assert.ErrorIs(t, err, common.ErrNoRoot)
}

func TestUnknownDriver(t *testing.T) {
	t.Parallel()

	img := buildImage(t)
	v := vfs.New()
	err := v.MountFS("/", "xfs", img.Device("flow.img"))
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}
