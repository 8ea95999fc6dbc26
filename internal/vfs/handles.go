package vfs

import (
	"fmt"
	"sync"

	"extvfs/internal/common"
)

// HandleID is the type for VFS handles
type HandleID uint64

// openHandle represents an open file or directory
type openHandle struct {
	node   *Node
	path   string // normalized path the handle was opened with
	flags  int
	pos    uint64 // byte cursor for sequential reads
	dirPos int    // ordinal cursor for sequential ReadDir
}

// HandleManager manages VFS handles. The table is bounded; IDs grow
// monotonically and are never reused, so a stale handle can only miss,
// never alias a later open.
type HandleManager struct {
	mu         sync.RWMutex
	handles    map[HandleID]*openHandle
	nextHandle HandleID
	capacity   int
}

// NewHandleManager creates a handle manager holding at most capacity
// handles (0 means unbounded)
func NewHandleManager(capacity int) *HandleManager {
	return &HandleManager{
		handles:    make(map[HandleID]*openHandle),
		nextHandle: 1,
		capacity:   capacity,
	}
}

// Allocate creates a new handle for the given node
func (hm *HandleManager) Allocate(node *Node, path string, flags int) (HandleID, error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if hm.capacity > 0 && len(hm.handles) >= hm.capacity {
		return 0, fmt.Errorf("%w: handle table full (%d open)", common.ErrOutOfResources, len(hm.handles))
	}

	handle := hm.nextHandle
	hm.nextHandle++

	hm.handles[handle] = &openHandle{
		node:  node,
		path:  path,
		flags: flags,
	}

	return handle, nil
}

// Get retrieves a handle's info
func (hm *HandleManager) Get(h HandleID) (*openHandle, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	info, ok := hm.handles[h]
	return info, ok
}

// Release frees a handle, reporting whether it existed
func (hm *HandleManager) Release(h HandleID) bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	_, ok := hm.handles[h]
	delete(hm.handles, h)
	return ok
}

// SetPos moves the byte cursor
func (hm *HandleManager) SetPos(h HandleID, pos uint64) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok {
		info.pos = pos
	}
}

// Advance moves the byte cursor forward after a sequential read
func (hm *HandleManager) Advance(h HandleID, n uint64) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok {
		info.pos += n
	}
}

// UpdateDirPos updates the directory position for ReadDir
func (hm *HandleManager) UpdateDirPos(h HandleID, pos int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok {
		info.dirPos = pos
	}
}

// GetDirPos gets the current directory position
func (hm *HandleManager) GetDirPos(h HandleID) int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	if info, ok := hm.handles[h]; ok {
		return info.dirPos
	}
	return 0
}

// Count returns the number of open handles
func (hm *HandleManager) Count() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.handles)
}

// Clear removes all handles, returning the count of handles cleared.
// The ID counter is not reset, so cleared handles stay dead.
func (hm *HandleManager) Clear() int {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	count := len(hm.handles)
	hm.handles = make(map[HandleID]*openHandle)
	return count
}
