package vfs

import "time"

// NameMax is the longest entry name a directory operation will report.
// Longer on-disk names are truncated, never overflowed.
const NameMax = 255

// NodeType classifies a filesystem node
type NodeType int

const (
	// NodeFile is a regular file
	NodeFile NodeType = iota
	// NodeDir is a directory
	NodeDir
	// NodeSymlink is a symbolic link
	NodeSymlink
	// NodeCharDevice is a character device
	NodeCharDevice
	// NodeBlockDevice is a block device
	NodeBlockDevice
	// NodePipe is a named pipe
	NodePipe
	// NodeSocket is a unix domain socket
	NodeSocket
)

// String returns the human-readable name of the node type
func (t NodeType) String() string {
	switch t {
	case NodeFile:
		return "file"
	case NodeDir:
		return "directory"
	case NodeSymlink:
		return "symlink"
	case NodeCharDevice:
		return "chardev"
	case NodeBlockDevice:
		return "blockdev"
	case NodePipe:
		return "pipe"
	case NodeSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// Node is the filesystem-independent view of one file, directory or special
// node. Drivers instantiate Nodes through their bridge; the VFS dispatches
// every operation through Ops and never looks behind it.
type Node struct {
	Name  string
	Type  NodeType
	Size  uint64
	Mode  uint32 // permission bits; the type tag lives in Type
	UID   uint32
	GID   uint32
	Ino   uint64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time

	// Ops is the operation set supplied by the owning driver.
	Ops NodeOps
}

// DirEntry is one directory entry as reported by ReadDir
type DirEntry struct {
	Ino  uint64
	Type NodeType
	Name string
}

// Stat is the metadata record filled by the Stat operation. Mode packs
// the POSIX type tag and the permission bits the way on-disk inodes do.
type Stat struct {
	Ino       uint64
	Mode      uint32
	Nlink     uint32
	UID       uint32
	GID       uint32
	Size      uint64
	BlockSize uint32
	Blocks    uint64
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
}

// S_IFMT encoding of the Stat.Mode type tag, shared by every supported
// on-disk format.
const (
	StatTypeMask    = 0o170000
	StatTypeSocket  = 0o140000
	StatTypeSymlink = 0o120000
	StatTypeRegular = 0o100000
	StatTypeBlock   = 0o060000
	StatTypeDir     = 0o040000
	StatTypeChar    = 0o020000
	StatTypeFIFO    = 0o010000
)

// Type returns the node type encoded in the stat mode.
func (s *Stat) Type() NodeType {
	switch s.Mode & StatTypeMask {
	case StatTypeDir:
		return NodeDir
	case StatTypeSymlink:
		return NodeSymlink
	case StatTypeChar:
		return NodeCharDevice
	case StatTypeBlock:
		return NodeBlockDevice
	case StatTypeFIFO:
		return NodePipe
	case StatTypeSocket:
		return NodeSocket
	default:
		return NodeFile
	}
}

// IsDir reports whether the stat describes a directory
func (s *Stat) IsDir() bool { return s.Mode&StatTypeMask == StatTypeDir }

// Perm returns the permission bits of the stat mode
func (s *Stat) Perm() uint32 { return s.Mode & 0o777 }

// NodeOps is the operation set every driver supplies for its nodes.
// ReadDir enumerates by ordinal position and returns io.EOF past the last
// entry. Mutating operations are optional capabilities (below) probed by
// the VFS dispatchers, not part of the base set.
type NodeOps interface {
	Open(n *Node, flags int) error
	Close(n *Node) error
	Read(n *Node, off uint64, p []byte) (int, error)
	Write(n *Node, off uint64, p []byte) (int, error)
	ReadDir(n *Node, index int) (*DirEntry, error)
	FindDir(n *Node, name string) (*Node, error)
	Stat(n *Node) (*Stat, error)
}

// Optional capabilities. A driver that cannot perform an operation simply
// does not implement the interface; the VFS reports ErrNotSupported when a
// dispatcher finds the capability missing.

// Creater creates a regular file inside a directory node
type Creater interface {
	Create(n *Node, name string, mode uint32) (*Node, error)
}

// Unlinker removes a non-directory entry from a directory node
type Unlinker interface {
	Unlink(n *Node, name string) error
}

// Mkdirer creates a subdirectory inside a directory node
type Mkdirer interface {
	Mkdir(n *Node, name string, mode uint32) error
}

// Rmdirer removes an empty subdirectory from a directory node
type Rmdirer interface {
	Rmdir(n *Node, name string) error
}

// Renamer moves an entry between directory nodes
type Renamer interface {
	Rename(n *Node, oldName string, newDir *Node, newName string) error
}

// Linker adds a hard link to an existing node
type Linker interface {
	Link(n *Node, name string, target *Node) error
}

// Symlinker creates a symbolic link inside a directory node
type Symlinker interface {
	Symlink(n *Node, name, target string) error
}

// Readlinker reads a symbolic link's target
type Readlinker interface {
	Readlink(n *Node) (string, error)
}

// Chmoder changes a node's permission bits
type Chmoder interface {
	Chmod(n *Node, mode uint32) error
}

// Chowner changes a node's owner
type Chowner interface {
	Chown(n *Node, uid, gid uint32) error
}

// Truncater changes a regular file's size
type Truncater interface {
	Truncate(n *Node, size uint64) error
}

// Unmounter tears down driver state when the VFS unmounts a filesystem
// root. Probed on the root node's ops during Unmount.
type Unmounter interface {
	Unmount() error
}
