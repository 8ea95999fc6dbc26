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
	"fmt"
	"io"
	"os"

	"extvfs/internal/common"
)

// writeIntent covers every open flag that implies mutating the file
const writeIntent = os.O_WRONLY | os.O_RDWR | os.O_APPEND | os.O_CREATE | os.O_TRUNC

// Open resolves a path and allocates a handle for it. Only read access is
// granted; any write intent in flags fails with ErrReadOnly.
func (v *VFS) Open(path string, flags int) (HandleID, error) {
	if flags&writeIntent != 0 {
		return 0, fmt.Errorf("open %s: %w", path, common.ErrReadOnly)
	}
	node, err := v.Lookup(path)
	if err != nil {
		return 0, err
	}
	if err := node.Ops.Open(node, flags); err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	h, err := v.handles.Allocate(node, common.NormalizePath(path), flags)
	if err != nil {
		node.Ops.Close(node)
		return 0, err
	}
	return h, nil
}

// Close releases a handle
func (v *VFS) Close(h HandleID) error {
	oh, ok := v.handles.Get(h)
	if !ok {
		return fmt.Errorf("close: %w", common.ErrInvalidHandle)
	}
	err := oh.node.Ops.Close(oh.node)
	v.handles.Release(h)
	return err
}

// Read reads from the handle's cursor and advances it. It returns io.EOF
// once the cursor reaches the end of the file.
func (v *VFS) Read(h HandleID, p []byte) (int, error) {
	oh, ok := v.handles.Get(h)
	if !ok {
		return 0, fmt.Errorf("read: %w", common.ErrInvalidHandle)
	}
	if oh.node.Type == NodeDir {
		return 0, fmt.Errorf("read %s: %w", oh.path, common.ErrIsDir)
	}
	n, err := oh.node.Ops.Read(oh.node, oh.pos, p)
	if n > 0 {
		v.handles.Advance(h, uint64(n))
	}
	if err != nil {
		return n, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadAt reads at an absolute offset without moving the handle's cursor
func (v *VFS) ReadAt(h HandleID, p []byte, off uint64) (int, error) {
	oh, ok := v.handles.Get(h)
	if !ok {
		return 0, fmt.Errorf("read: %w", common.ErrInvalidHandle)
	}
	if oh.node.Type == NodeDir {
		return 0, fmt.Errorf("read %s: %w", oh.path, common.ErrIsDir)
	}
	n, err := oh.node.Ops.Read(oh.node, off, p)
	if err != nil {
		return n, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write dispatches a write through the node's operation set and advances
// the cursor by whatever it accepted. Read-only filesystems accept
// nothing and report no error.
func (v *VFS) Write(h HandleID, p []byte) (int, error) {
	oh, ok := v.handles.Get(h)
	if !ok {
		return 0, fmt.Errorf("write: %w", common.ErrInvalidHandle)
	}
	n, err := oh.node.Ops.Write(oh.node, oh.pos, p)
	if n > 0 {
		v.handles.Advance(h, uint64(n))
	}
	return n, err
}

// Seek moves the handle's cursor. A handle without write access may not
// be positioned past the end of the file.
func (v *VFS) Seek(h HandleID, offset int64, whence int) (int64, error) {
	oh, ok := v.handles.Get(h)
	if !ok {
		return 0, fmt.Errorf("seek: %w", common.ErrInvalidHandle)
	}

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(oh.pos) + offset
	case io.SeekEnd:
		pos = int64(oh.node.Size) + offset
	default:
		return 0, fmt.Errorf("seek %s: %w: whence %d", oh.path, common.ErrInvalidArgument, whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("seek %s: %w: negative position", oh.path, common.ErrInvalidArgument)
	}
	if oh.flags&writeIntent == 0 && uint64(pos) > oh.node.Size {
		return 0, fmt.Errorf("seek %s: %w: position %d past end of file", oh.path, common.ErrInvalidArgument, pos)
	}

	v.handles.SetPos(h, uint64(pos))
	return pos, nil
}

// ReadDir returns the next entry of an open directory, advancing the
// handle's directory cursor. io.EOF reports the end of the directory.
func (v *VFS) ReadDir(h HandleID) (*DirEntry, error) {
	oh, ok := v.handles.Get(h)
	if !ok {
		return nil, fmt.Errorf("readdir: %w", common.ErrInvalidHandle)
	}
	pos := v.handles.GetDirPos(h)
	ent, err := oh.node.Ops.ReadDir(oh.node, pos)
	if err != nil {
		return nil, err
	}
	v.handles.UpdateDirPos(h, pos+1)
	return ent, nil
}

// ReadDirIndex returns the directory entry at an ordinal position without
// touching the handle's cursor. io.EOF reports positions past the end.
func (v *VFS) ReadDirIndex(h HandleID, index int) (*DirEntry, error) {
	oh, ok := v.handles.Get(h)
	if !ok {
		return nil, fmt.Errorf("readdir: %w", common.ErrInvalidHandle)
	}
	return oh.node.Ops.ReadDir(oh.node, index)
}

// Stat resolves a path and returns its metadata
func (v *VFS) Stat(path string) (*Stat, error) {
	node, err := v.Lookup(path)
	if err != nil {
		return nil, err
	}
	return node.Ops.Stat(node)
}

// StatHandle returns the metadata of an open handle's node
func (v *VFS) StatHandle(h HandleID) (*Stat, error) {
	oh, ok := v.handles.Get(h)
	if !ok {
		return nil, fmt.Errorf("stat: %w", common.ErrInvalidHandle)
	}
	return oh.node.Ops.Stat(oh.node)
}

// resolveParent resolves the directory containing the path's final
// component. The root itself has no parent to resolve within.
func (v *VFS) resolveParent(path string) (*Node, string, error) {
	clean, err := normalize(path)
	if err != nil {
		return nil, "", err
	}
	if clean == "" {
		return nil, "", fmt.Errorf("%q: %w: no parent directory", path, common.ErrInvalidArgument)
	}
	dir, err := v.Lookup(common.ParentPath(clean))
	if err != nil {
		return nil, "", err
	}
	if dir.Type != NodeDir {
		return nil, "", fmt.Errorf("%q: %w", common.ParentPath(clean), common.ErrNotDir)
	}
	return dir, common.BaseName(clean), nil
}

// The mutation dispatchers probe the resolved node's ops for the matching
// capability. A driver without the capability yields ErrNotSupported, never
// a panic.

// Create creates a regular file
func (v *VFS) Create(path string, mode uint32) error {
	dir, name, err := v.resolveParent(path)
	if err != nil {
		return err
	}
	c, ok := dir.Ops.(Creater)
	if !ok {
		return fmt.Errorf("create %s: %w", path, common.ErrNotSupported)
	}
	_, err = c.Create(dir, name, mode)
	return err
}

// Unlink removes a non-directory entry
func (v *VFS) Unlink(path string) error {
	dir, name, err := v.resolveParent(path)
	if err != nil {
		return err
	}
	u, ok := dir.Ops.(Unlinker)
	if !ok {
		return fmt.Errorf("unlink %s: %w", path, common.ErrNotSupported)
	}
	return u.Unlink(dir, name)
}

// Mkdir creates a directory
func (v *VFS) Mkdir(path string, mode uint32) error {
	dir, name, err := v.resolveParent(path)
	if err != nil {
		return err
	}
	m, ok := dir.Ops.(Mkdirer)
	if !ok {
		return fmt.Errorf("mkdir %s: %w", path, common.ErrNotSupported)
	}
	return m.Mkdir(dir, name, mode)
}

// Rmdir removes an empty directory
func (v *VFS) Rmdir(path string) error {
	dir, name, err := v.resolveParent(path)
	if err != nil {
		return err
	}
	r, ok := dir.Ops.(Rmdirer)
	if !ok {
		return fmt.Errorf("rmdir %s: %w", path, common.ErrNotSupported)
	}
	return r.Rmdir(dir, name)
}

// Rename moves an entry to a new name or directory
func (v *VFS) Rename(oldPath, newPath string) error {
	oldDir, oldName, err := v.resolveParent(oldPath)
	if err != nil {
		return err
	}
	newDir, newName, err := v.resolveParent(newPath)
	if err != nil {
		return err
	}
	r, ok := oldDir.Ops.(Renamer)
	if !ok {
		return fmt.Errorf("rename %s: %w", oldPath, common.ErrNotSupported)
	}
	return r.Rename(oldDir, oldName, newDir, newName)
}

// Link creates a hard link to an existing node
func (v *VFS) Link(oldPath, newPath string) error {
	target, err := v.Lookup(oldPath)
	if err != nil {
		return err
	}
	dir, name, err := v.resolveParent(newPath)
	if err != nil {
		return err
	}
	l, ok := dir.Ops.(Linker)
	if !ok {
		return fmt.Errorf("link %s: %w", newPath, common.ErrNotSupported)
	}
	return l.Link(dir, name, target)
}

// Symlink creates a symbolic link carrying the given target string
func (v *VFS) Symlink(target, linkPath string) error {
	dir, name, err := v.resolveParent(linkPath)
	if err != nil {
		return err
	}
	s, ok := dir.Ops.(Symlinker)
	if !ok {
		return fmt.Errorf("symlink %s: %w", linkPath, common.ErrNotSupported)
	}
	return s.Symlink(dir, name, target)
}

// Readlink reads a symbolic link's target
func (v *VFS) Readlink(path string) (string, error) {
	node, err := v.Lookup(path)
	if err != nil {
		return "", err
	}
	r, ok := node.Ops.(Readlinker)
	if !ok {
		return "", fmt.Errorf("readlink %s: %w", path, common.ErrNotSupported)
	}
	return r.Readlink(node)
}

// Chmod changes a node's permission bits
func (v *VFS) Chmod(path string, mode uint32) error {
	node, err := v.Lookup(path)
	if err != nil {
		return err
	}
	c, ok := node.Ops.(Chmoder)
	if !ok {
		return fmt.Errorf("chmod %s: %w", path, common.ErrNotSupported)
	}
	return c.Chmod(node, mode)
}

// Chown changes a node's owner
func (v *VFS) Chown(path string, uid, gid uint32) error {
	node, err := v.Lookup(path)
	if err != nil {
		return err
	}
	c, ok := node.Ops.(Chowner)
	if !ok {
		return fmt.Errorf("chown %s: %w", path, common.ErrNotSupported)
	}
	return c.Chown(node, uid, gid)
}

// Truncate changes a regular file's size
func (v *VFS) Truncate(path string, size uint64) error {
	node, err := v.Lookup(path)
	if err != nil {
		return err
	}
	t, ok := node.Ops.(Truncater)
	if !ok {
		return fmt.Errorf("truncate %s: %w", path, common.ErrNotSupported)
	}
	return t.Truncate(node, size)
}
