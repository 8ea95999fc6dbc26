// Package vfs is the filesystem-independent indirection layer: a mount
// table mapping paths to driver-produced root nodes, a handle table for
// open files and directories, and path resolution that dispatches through
// each node's operation set.
package vfs

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"extvfs/internal/blockdev"
	"extvfs/internal/common"
)

const (
	// MountCap bounds the mount table
	MountCap = 32
	// HandleCap bounds the handle table
	HandleCap = 256
)

// mountEntry records one mounted filesystem: the normalized mount path
// and the filesystem's root node. Traversal substitutes by path, so a
// driver is free to fabricate node values on every lookup.
type mountEntry struct {
	path string
	root *Node
}

// VFS owns the mount table and the handle table. Both are bounded and
// guarded by coarse locks; Lookup and the handle operations are safe for
// concurrent use.
type VFS struct {
	mu      sync.RWMutex
	root    *Node
	mounts  map[string]*mountEntry
	handles *HandleManager
}

// New returns an empty VFS with nothing mounted
func New() *VFS {
	return &VFS{
		mounts:  make(map[string]*mountEntry),
		handles: NewHandleManager(HandleCap),
	}
}

func normalize(path string) (string, error) {
	if len(path) > common.PathMax {
		return "", fmt.Errorf("%w: path longer than %d bytes", common.ErrInvalidPath, common.PathMax)
	}
	return common.NormalizePath(path), nil
}

// Mount installs a filesystem root at the given path. Mounting at "/"
// installs (or replaces) the VFS root; mounting anywhere else requires a
// root and a target path resolving to a directory, which is then flagged
// as a mount point and substituted during traversal.
func (v *VFS) Mount(path string, root *Node) error {
	if root == nil || root.Ops == nil {
		return fmt.Errorf("%w: nil filesystem root", common.ErrInvalidArgument)
	}
	clean, err := normalize(path)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if clean == "" {
		v.root = root
		v.mounts[""] = &mountEntry{path: "", root: root}
		log.Infof("[VFS] Mounted filesystem root")
		return nil
	}

	if v.root == nil {
		return fmt.Errorf("mount /%s: %w", clean, common.ErrNoRoot)
	}
	if len(v.mounts) >= MountCap {
		return fmt.Errorf("%w: mount table full (%d mounts)", common.ErrOutOfResources, len(v.mounts))
	}
	if _, taken := v.mounts[clean]; taken {
		return fmt.Errorf("mount /%s: %w: already a mount point", clean, common.ErrInvalidArgument)
	}
	target, err := v.walk(clean)
	if err != nil {
		return fmt.Errorf("mount /%s: %w", clean, err)
	}
	if target.Type != NodeDir {
		return fmt.Errorf("mount /%s: %w", clean, common.ErrNotDir)
	}

	v.mounts[clean] = &mountEntry{path: clean, root: root}
	log.Infof("[VFS] Mounted filesystem at /%s", clean)
	return nil
}

// MountFS locates a registered driver by name, mounts the filesystem it
// finds on the device, and installs its root at the given path. A failed
// install tears the driver state back down.
func (v *VFS) MountFS(path, fsname string, dev blockdev.Device) error {
	d, err := lookupDriver(fsname)
	if err != nil {
		return err
	}
	root, err := d.Mount(dev)
	if err != nil {
		return fmt.Errorf("mount %s on %s: %w", fsname, dev.Name(), err)
	}
	if err := v.Mount(path, root); err != nil {
		if u, ok := root.Ops.(Unmounter); ok {
			u.Unmount()
		}
		return err
	}
	return nil
}

// Unmount removes the filesystem mounted at the given path and restores
// the node it covered. Unmounting the root is forbidden; Shutdown is the
// teardown path for the whole table.
func (v *VFS) Unmount(path string) error {
	clean, err := normalize(path)
	if err != nil {
		return err
	}
	if clean == "" {
		return fmt.Errorf("unmount /: %w: root cannot be unmounted", common.ErrInvalidArgument)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.mounts[clean]
	if !ok {
		return fmt.Errorf("unmount /%s: %w", clean, common.ErrNotFound)
	}
	delete(v.mounts, clean)
	log.Infof("[VFS] Unmounted filesystem at /%s", clean)

	if u, ok := entry.root.Ops.(Unmounter); ok {
		return u.Unmount()
	}
	return nil
}

// Shutdown releases every handle, unmounts everything including the root,
// and leaves the VFS empty. The instance may be reused afterwards.
func (v *VFS) Shutdown() {
	if n := v.handles.Clear(); n > 0 {
		log.Debugf("[VFS] Dropped %d open handles on shutdown", n)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for path, entry := range v.mounts {
		if path == "" {
			continue
		}
		if u, ok := entry.root.Ops.(Unmounter); ok {
			u.Unmount()
		}
	}
	if v.root != nil {
		if u, ok := v.root.Ops.(Unmounter); ok {
			u.Unmount()
		}
	}
	v.root = nil
	v.mounts = make(map[string]*mountEntry)
	log.Infof("[VFS] Shut down")
}

// Mounts returns the normalized paths of the current mounts, the root
// mount reported as ""
func (v *VFS) Mounts() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	paths := make([]string, 0, len(v.mounts))
	for path := range v.mounts {
		paths = append(paths, path)
	}
	return paths
}

// Lookup resolves a path to its node, substituting mount overrides along
// the way. The final component is substituted too: looking up a mount
// point yields the mounted filesystem's root.
func (v *VFS) Lookup(path string) (*Node, error) {
	clean, err := normalize(path)
	if err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.walk(clean)
}

// walk resolves a normalized path from the root, replacing the resolved
// node with the mounted root wherever the walked prefix is a mount path.
// Callers hold v.mu.
func (v *VFS) walk(path string) (*Node, error) {
	if v.root == nil {
		return nil, common.ErrNoRoot
	}
	node := v.root
	walked := ""
	for _, comp := range common.SplitPath(path) {
		if node.Type != NodeDir {
			return nil, fmt.Errorf("%q: %w", node.Name, common.ErrNotDir)
		}
		if node.Ops == nil {
			return nil, fmt.Errorf("finddir %q: %w", comp, common.ErrNotSupported)
		}
		child, err := node.Ops.FindDir(node, comp)
		if err != nil {
			return nil, err
		}
		node = child
		if walked == "" {
			walked = comp
		} else {
			walked += "/" + comp
		}
		if entry, ok := v.mounts[walked]; ok {
			node = entry.root
		}
	}
	return node, nil
}
