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
	"strings"

	"github.com/google/uuid"
)

const (
	// SuperblockOffset is the fixed byte offset of the superblock
	SuperblockOffset = 1024
	// SuperblockSize is the on-disk size of the superblock record
	SuperblockSize = 1024
	// SuperblockMagic identifies an ext-family superblock
	SuperblockMagic = 0xEF53
	// ExtentMagic tags every node of an extent tree
	ExtentMagic = 0xF30A

	// RootInode is the inode number of the root directory
	RootInode = 2
	// FirstNonReservedInode is the lowest inode number available for
	// ordinary files on modern revisions
	FirstNonReservedInode = 11

	// legacyInodeSize is the fixed inode size of revision-0 filesystems
	legacyInodeSize = 128
	// legacyDescSize is the descriptor size when the superblock does not
	// carry one
	legacyDescSize = 32

	// ExtentHeaderSize and ExtentEntrySize are the fixed sizes of the
	// extent-node header and of each index or leaf entry
	ExtentHeaderSize = 12
	ExtentEntrySize  = 12

	// DirentHeaderSize is the fixed prefix of a directory entry before
	// the inline name bytes
	DirentHeaderSize = 8
)

// Superblock feature flags consumed by the read path
const (
	// FeatureIncompatFiletype: directory entries carry a file-type byte
	FeatureIncompatFiletype = 0x0002
	// FeatureIncompatExtents: inodes may use extent trees
	FeatureIncompatExtents = 0x0040
	// FeatureIncompat64Bit: block numbers are 64-bit and descriptors
	// grow to 64 bytes
	FeatureIncompat64Bit = 0x0080
	// FeatureIncompatFlexBG: block groups are aggregated into flex groups
	FeatureIncompatFlexBG = 0x0200
)

// InodeFlagExtents marks an inode whose block storage holds an extent tree
const InodeFlagExtents = 0x00080000

// Inode mode type bits
const (
	ModeTypeMask = 0xF000
	ModeFIFO     = 0x1000
	ModeCharDev  = 0x2000
	ModeDir      = 0x4000
	ModeBlockDev = 0x6000
	ModeRegular  = 0x8000
	ModeSymlink  = 0xA000
	ModeSocket   = 0xC000
)

// Directory entry file-type tags
const (
	FileTypeUnknown  = 0
	FileTypeRegular  = 1
	FileTypeDir      = 2
	FileTypeCharDev  = 3
	FileTypeBlockDev = 4
	FileTypeFIFO     = 5
	FileTypeSocket   = 6
	FileTypeSymlink  = 7
)

// Superblock mirrors the on-disk superblock layout, little-endian, through
// the 64-bit block count. Fields past what the read path consumes are kept
// so the record round-trips bit-for-bit through encoding/binary.
type Superblock struct {
	InodesCount          uint32
	BlocksCountLo        uint32
	RBlocksCountLo       uint32
	FreeBlocksCountLo    uint32
	FreeInodesCount      uint32
	FirstDataBlock       uint32
	LogBlockSize         uint32
	LogClusterSize       uint32
	BlocksPerGroup       uint32
	ClustersPerGroup     uint32
	InodesPerGroup       uint32
	MTime                uint32
	WTime                uint32
	MntCount             uint16
	MaxMntCount          uint16
	Magic                uint16
	State                uint16
	Errors               uint16
	MinorRevLevel        uint16
	LastCheck            uint32
	CheckInterval        uint32
	CreatorOS            uint32
	RevLevel             uint32
	DefResUID            uint16
	DefResGID            uint16
	FirstInode           uint32
	InodeSize            uint16
	BlockGroupNr         uint16
	FeatureCompat        uint32
	FeatureIncompat      uint32
	FeatureROCompat      uint32
	UUID                 [16]byte
	VolumeName           [16]byte
	LastMounted          [64]byte
	AlgorithmUsageBitmap uint32
	PreallocBlocks       uint8
	PreallocDirBlocks    uint8
	ReservedGdtBlocks    uint16
	JournalUUID          [16]byte
	JournalInum          uint32
	JournalDev           uint32
	LastOrphan           uint32
	HashSeed             [4]uint32
	DefHashVersion       uint8
	JnlBackupType        uint8
	DescSize             uint16
	DefaultMountOpts     uint32
	FirstMetaBg          uint32
	MkfsTime             uint32
	JnlBlocks            [17]uint32
	BlocksCountHi        uint32
}

// BlockSize returns the block size in bytes
func (sb *Superblock) BlockSize() uint32 {
	return 1024 << sb.LogBlockSize
}

// BlocksCount returns the 64-bit block count
func (sb *Superblock) BlocksCount() uint64 {
	return uint64(sb.BlocksCountLo) | uint64(sb.BlocksCountHi)<<32
}

// GroupCount returns the number of block groups
func (sb *Superblock) GroupCount() uint32 {
	return uint32((sb.BlocksCount() + uint64(sb.BlocksPerGroup) - 1) / uint64(sb.BlocksPerGroup))
}

// InodeSizeBytes returns the inode record size; revision-0 filesystems
// have no size field and use the legacy 128.
func (sb *Superblock) InodeSizeBytes() uint32 {
	if sb.RevLevel == 0 {
		return legacyInodeSize
	}
	return uint32(sb.InodeSize)
}

// DescriptorSize returns the group descriptor size, defaulting to the
// legacy 32 when the superblock does not specify one.
func (sb *Superblock) DescriptorSize() uint32 {
	if sb.DescSize == 0 {
		return legacyDescSize
	}
	return uint32(sb.DescSize)
}

// HasIncompatFeature reports whether any of the given incompat bits are set
func (sb *Superblock) HasIncompatFeature(mask uint32) bool {
	return sb.FeatureIncompat&mask != 0
}

// VolumeLabel returns the volume name with NUL padding removed
func (sb *Superblock) VolumeLabel() string {
	return strings.TrimRight(string(sb.VolumeName[:]), "\x00")
}

// UUIDString renders the filesystem UUID in canonical form
func (sb *Superblock) UUIDString() string {
	u, err := uuid.FromBytes(sb.UUID[:])
	if err != nil {
		return ""
	}
	return u.String()
}

// GroupDescBase is the legacy 32-byte block-group descriptor
type GroupDescBase struct {
	BlockBitmapLo     uint32
	InodeBitmapLo     uint32
	InodeTableLo      uint32
	FreeBlocksCountLo uint16
	FreeInodesCountLo uint16
	UsedDirsCountLo   uint16
	Flags             uint16
	ExcludeBitmapLo   uint32
	BlockBitmapCsumLo uint16
	InodeBitmapCsumLo uint16
	ItableUnusedLo    uint16
	Checksum          uint16
}

// GroupDescExt holds the high halves appended when the descriptor grows
// to 64 bytes under the 64bit feature
type GroupDescExt struct {
	BlockBitmapHi     uint32
	InodeBitmapHi     uint32
	InodeTableHi      uint32
	FreeBlocksCountHi uint16
	FreeInodesCountHi uint16
	UsedDirsCountHi   uint16
	ItableUnusedHi    uint16
	ExcludeBitmapHi   uint32
	BlockBitmapCsumHi uint16
	InodeBitmapCsumHi uint16
	Reserved          uint32
}

// GroupDesc is the in-memory form of one block-group descriptor with the
// lo/hi halves already combined
type GroupDesc struct {
	BlockBitmap     uint64
	InodeBitmap     uint64
	InodeTable      uint64
	FreeBlocksCount uint32
	FreeInodesCount uint32
	UsedDirsCount   uint32
	Flags           uint16
}

// Inode mirrors the fixed 128-byte on-disk inode record, little-endian.
// The OS-dependent unions are fixed to the Linux interpretation. Larger
// inode sizes pad the record on disk; the extra bytes carry nothing the
// read path needs.
type Inode struct {
	Mode       uint16
	UIDLo      uint16
	SizeLo     uint32
	Atime      uint32
	Ctime      uint32
	Mtime      uint32
	Dtime      uint32
	GIDLo      uint16
	LinksCount uint16
	BlocksLo   uint32
	Flags      uint32
	Version    uint32
	Block      [60]byte
	Generation uint32
	FileACLLo  uint32
	SizeHi     uint32
	ObsoFaddr  uint32
	BlocksHi   uint16
	FileACLHi  uint16
	UIDHi      uint16
	GIDHi      uint16
	ChecksumLo uint16
	Reserved   uint16
}

// Size returns the 64-bit file size
func (in *Inode) Size() uint64 {
	return uint64(in.SizeLo) | uint64(in.SizeHi)<<32
}

// UID returns the owner uid composed from its halves
func (in *Inode) UID() uint32 {
	return uint32(in.UIDLo) | uint32(in.UIDHi)<<16
}

// GID returns the owning gid composed from its halves
func (in *Inode) GID() uint32 {
	return uint32(in.GIDLo) | uint32(in.GIDHi)<<16
}

// Blocks512 returns the 512-byte sector count from the inode
func (in *Inode) Blocks512() uint64 {
	return uint64(in.BlocksLo) | uint64(in.BlocksHi)<<32
}

// UsesExtents reports whether the inode's block storage holds an extent tree
func (in *Inode) UsesExtents() bool {
	return in.Flags&InodeFlagExtents != 0
}

// IsDir reports whether the inode is a directory
func (in *Inode) IsDir() bool {
	return in.Mode&ModeTypeMask == ModeDir
}

// ExtentHeader is the 12-byte header of every extent-tree node
type ExtentHeader struct {
	Magic      uint16
	Entries    uint16
	Max        uint16
	Depth      uint16
	Generation uint32
}

// ExtentIdx is one index entry of an interior extent-tree node
type ExtentIdx struct {
	Block  uint32
	LeafLo uint32
	LeafHi uint16
	Unused uint16
}

// Extent is one leaf entry mapping a contiguous logical run to a
// contiguous physical run
type Extent struct {
	Block   uint32
	Len     uint16
	StartHi uint16
	StartLo uint32
}
