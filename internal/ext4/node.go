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
	"fmt"
	"time"

	"extvfs/internal/blockdev"
	"extvfs/internal/common"
	"extvfs/internal/vfs"
)

// nodeOps binds one inode's read path behind the generic VFS operation
// set. Open and Close are stateless no-ops; Write consumes nothing and
// reports no error, honoring the read-only contract. The mutation
// capabilities are deliberately absent.
type nodeOps struct {
	ctx *Context
	ino uint32
	in  *Inode
}

// NewNode instantiates the VFS node for an inode number
func NewNode(ctx *Context, ino uint32) (*vfs.Node, error) {
	in, err := ctx.ReadInode(ino)
	if err != nil {
		return nil, err
	}
	return &vfs.Node{
		Type:  nodeTypeFromMode(in.Mode),
		Size:  in.Size(),
		Mode:  uint32(in.Mode &^ ModeTypeMask),
		UID:   in.UID(),
		GID:   in.GID(),
		Ino:   uint64(ino),
		Atime: time.Unix(int64(in.Atime), 0),
		Mtime: time.Unix(int64(in.Mtime), 0),
		Ctime: time.Unix(int64(in.Ctime), 0),
		Ops:   &nodeOps{ctx: ctx, ino: ino, in: in},
	}, nil
}

// nodeTypeFromMode classifies inode mode bits. Unrecognized modes read as
// regular files rather than failing; exotic inputs stay readable.
func nodeTypeFromMode(mode uint16) vfs.NodeType {
	switch mode & ModeTypeMask {
	case ModeDir:
		return vfs.NodeDir
	case ModeRegular:
		return vfs.NodeFile
	case ModeSymlink:
		return vfs.NodeSymlink
	case ModeCharDev:
		return vfs.NodeCharDevice
	case ModeBlockDev:
		return vfs.NodeBlockDevice
	case ModeFIFO:
		return vfs.NodePipe
	case ModeSocket:
		return vfs.NodeSocket
	default:
		return vfs.NodeFile
	}
}

func (o *nodeOps) Open(*vfs.Node, int) error { return nil }

func (o *nodeOps) Close(*vfs.Node) error { return nil }

func (o *nodeOps) Read(_ *vfs.Node, off uint64, p []byte) (int, error) {
	return o.ctx.ReadRange(o.in, off, p)
}

func (o *nodeOps) Write(*vfs.Node, uint64, []byte) (int, error) {
	return 0, nil
}

func (o *nodeOps) ReadDir(n *vfs.Node, index int) (*vfs.DirEntry, error) {
	if n.Type != vfs.NodeDir {
		return nil, fmt.Errorf("inode %d: %w", o.ino, common.ErrNotDir)
	}
	ent, err := o.ctx.ReadDirEntry(o.in, index)
	if err != nil {
		return nil, err
	}
	return &vfs.DirEntry{Ino: uint64(ent.Ino), Type: ent.Type, Name: ent.Name}, nil
}

func (o *nodeOps) FindDir(n *vfs.Node, name string) (*vfs.Node, error) {
	if n.Type != vfs.NodeDir {
		return nil, fmt.Errorf("inode %d: %w", o.ino, common.ErrNotDir)
	}
	ino, err := o.ctx.FindDirEntry(o.in, name)
	if err != nil {
		return nil, err
	}
	child, err := NewNode(o.ctx, ino)
	if err != nil {
		return nil, err
	}
	child.Name = name
	return child, nil
}

func (o *nodeOps) Readlink(*vfs.Node) (string, error) {
	return o.ctx.ReadSymlink(o.in)
}

func (o *nodeOps) Stat(*vfs.Node) (*vfs.Stat, error) {
	in := o.in
	return &vfs.Stat{
		Ino:       uint64(o.ino),
		Mode:      uint32(in.Mode),
		Nlink:     uint32(in.LinksCount),
		UID:       in.UID(),
		GID:       in.GID(),
		Size:      in.Size(),
		BlockSize: o.ctx.BlockSize(),
		Blocks:    in.Blocks512(),
		Atime:     time.Unix(int64(in.Atime), 0),
		Mtime:     time.Unix(int64(in.Mtime), 0),
		Ctime:     time.Unix(int64(in.Ctime), 0),
	}, nil
}

// Unmount tears down the filesystem context when the VFS unmounts the
// root this ops set belongs to.
func (o *nodeOps) Unmount() error {
	o.ctx.Unmount()
	return nil
}

type driver struct{}

// Mount implements vfs.Driver: it mounts the filesystem and bridges its
// root directory inode.
func (driver) Mount(dev blockdev.Device) (*vfs.Node, error) {
	ctx, err := Mount(dev)
	if err != nil {
		return nil, err
	}
	root, err := NewNode(ctx, RootInode)
	if err != nil {
		ctx.Unmount()
		return nil, err
	}
	return root, nil
}

func init() {
	vfs.Register("ext4", driver{})
}
