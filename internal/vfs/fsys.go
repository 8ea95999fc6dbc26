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

package vfs

import (
	"errors"
	"io"
	"io/fs"
	"time"

	"extvfs/internal/common"
)

// FS returns a read-only io/fs view of the mount tree, rooted at the
// VFS root. Directories opened through it implement fs.ReadDirFile, so
// fs.WalkDir and friends work unmodified.
func FS(v *VFS) fs.FS {
	return &fsView{v: v}
}

type fsView struct {
	v *VFS
}

var _ fs.StatFS = (*fsView)(nil)

func (f *fsView) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	h, err := f.v.Open(fsPath(name), 0)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: mapFSError(err)}
	}
	oh, ok := f.v.handles.Get(h)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: common.ErrInvalidHandle}
	}
	return &fsFile{v: f.v, h: h, node: oh.node}, nil
}

func (f *fsView) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	node, err := f.v.Lookup(fsPath(name))
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: mapFSError(err)}
	}
	return nodeInfo(node), nil
}

// fsPath converts an io/fs name ("." for the root) into a VFS path
func fsPath(name string) string {
	if name == "." {
		return "/"
	}
	return "/" + name
}

// mapFSError translates lookup sentinels into the io/fs ones callers
// test with errors.Is
func mapFSError(err error) error {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return fs.ErrNotExist
	case errors.Is(err, common.ErrInvalidPath), errors.Is(err, common.ErrInvalidArgument):
		return fs.ErrInvalid
	case errors.Is(err, common.ErrReadOnly):
		return fs.ErrPermission
	default:
		return err
	}
}

type fsFile struct {
	v    *VFS
	h    HandleID
	node *Node
}

var (
	_ fs.ReadDirFile = (*fsFile)(nil)
	_ io.Seeker      = (*fsFile)(nil)
	_ io.ReaderAt    = (*fsFile)(nil)
)

func (f *fsFile) Stat() (fs.FileInfo, error) {
	return nodeInfo(f.node), nil
}

func (f *fsFile) Read(p []byte) (int, error) {
	return f.v.Read(f.h, p)
}

func (f *fsFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &fs.PathError{Op: "read", Path: f.node.Name, Err: fs.ErrInvalid}
	}
	return f.v.ReadAt(f.h, p, uint64(off))
}

func (f *fsFile) Seek(offset int64, whence int) (int64, error) {
	pos, err := f.v.Seek(f.h, offset, whence)
	return int64(pos), err
}

func (f *fsFile) Close() error {
	return f.v.Close(f.h)
}

// ReadDir returns up to n entries, continuing from the handle's cursor
// the way os.File does. The dot entries readdir reports are dropped here;
// the io/fs contract excludes them.
func (f *fsFile) ReadDir(n int) ([]fs.DirEntry, error) {
	var out []fs.DirEntry
	for n <= 0 || len(out) < n {
		ent, err := f.v.ReadDir(f.h)
		if errors.Is(err, io.EOF) {
			if n > 0 && len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if ent.Name == "." || ent.Name == ".." {
			continue
		}
		out = append(out, &fsDirEntry{v: f.v, dir: f.node, ent: *ent})
	}
	return out, nil
}

type fsDirEntry struct {
	v   *VFS
	dir *Node
	ent DirEntry
}

func (d *fsDirEntry) Name() string { return d.ent.Name }

func (d *fsDirEntry) IsDir() bool { return d.ent.Type == NodeDir }

func (d *fsDirEntry) Type() fs.FileMode { return typeMode(d.ent.Type) }

func (d *fsDirEntry) Info() (fs.FileInfo, error) {
	if d.dir.Ops == nil {
		return nil, fs.ErrInvalid
	}
	node, err := d.dir.Ops.FindDir(d.dir, d.ent.Name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: d.ent.Name, Err: mapFSError(err)}
	}
	return nodeInfo(node), nil
}

// fsInfo adapts a node to fs.FileInfo
type fsInfo struct {
	name  string
	size  int64
	mode  fs.FileMode
	mtime time.Time
}

func nodeInfo(n *Node) fs.FileInfo {
	name := n.Name
	if name == "" {
		name = "."
	}
	return &fsInfo{
		name:  name,
		size:  int64(n.Size),
		mode:  typeMode(n.Type) | fs.FileMode(n.Mode&0o777),
		mtime: n.Mtime,
	}
}

func (i *fsInfo) Name() string       { return i.name }
func (i *fsInfo) Size() int64        { return i.size }
func (i *fsInfo) Mode() fs.FileMode  { return i.mode }
func (i *fsInfo) ModTime() time.Time { return i.mtime }
func (i *fsInfo) IsDir() bool        { return i.mode.IsDir() }
func (i *fsInfo) Sys() interface{}   { return nil }

func typeMode(t NodeType) fs.FileMode {
	switch t {
	case NodeDir:
		return fs.ModeDir
	case NodeSymlink:
		return fs.ModeSymlink
	case NodeCharDevice:
		return fs.ModeDevice | fs.ModeCharDevice
	case NodeBlockDevice:
		return fs.ModeDevice
	case NodePipe:
		return fs.ModeNamedPipe
	case NodeSocket:
		return fs.ModeSocket
	default:
		return 0
	}
}

// FileMode converts the stat's packed POSIX mode into an fs.FileMode.
func (s *Stat) FileMode() fs.FileMode {
	return typeMode(s.Type()) | fs.FileMode(s.Perm())
}
