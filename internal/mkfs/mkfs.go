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

// Package mkfs builds small single-block-group ext4 images: superblock,
// descriptor table, bitmaps, inode table, directories and extent-mapped
// files. It backs the mkfs command and gives the parser tests bit-exact
// fixtures without shelling out to external tooling.
package mkfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"extvfs/internal/blockdev"
	"extvfs/internal/common"
	"extvfs/internal/ext4"
)

const inodeSize = 256

// Options controls image geometry
type Options struct {
	BlockSize  uint32 // 1024, 2048 or 4096; default 1024
	Blocks     uint64 // total blocks; default 512
	InodeCount uint32 // default 128
	VolumeName string
	UUID       [16]byte // zero value means a random UUID
}

// Image is a finished filesystem image plus enough geometry for callers
// to locate what the builder placed where.
type Image struct {
	Data       []byte
	BlockSize  uint32
	Blocks     uint64
	InodeTable uint64            // first block of the inode table
	Inodes     map[string]uint32 // normalized path -> inode number
}

// Device wraps the image in an in-memory block device
func (img *Image) Device(name string) *blockdev.MemDevice {
	return blockdev.NewMem(name, img.Data)
}

// InodeOffset returns the byte offset of an inode record within the image
func (img *Image) InodeOffset(ino uint32) uint64 {
	return img.InodeTable*uint64(img.BlockSize) + uint64(ino-1)*inodeSize
}

type entry struct {
	path     string
	mode     uint16
	data     []byte
	target   string            // symlink target
	sparse   map[uint64][]byte // logical block -> chunk
	size     uint64            // explicit size for sparse files
	runLen   int               // physical run length for fragmented files
	children []string          // child names for directories
	ino      uint32
}

func (e *entry) isDir() bool { return e.mode&ext4.ModeTypeMask == ext4.ModeDir }

// Builder collects entries and lays them out on Build
type Builder struct {
	opts  Options
	ents  map[string]*entry
	order []string
}

// NewBuilder returns a builder for an image with the given geometry
func NewBuilder(opts Options) *Builder {
	if opts.BlockSize == 0 {
		opts.BlockSize = 1024
	}
	if opts.Blocks == 0 {
		opts.Blocks = 512
	}
	if opts.InodeCount == 0 {
		opts.InodeCount = 128
	}
	b := &Builder{opts: opts, ents: make(map[string]*entry)}
	b.ents[""] = &entry{path: "", mode: ext4.ModeDir | 0o755}
	return b
}

func (b *Builder) insert(path string, e *entry) (*entry, error) {
	clean := common.NormalizePath(path)
	if clean == "" {
		return nil, fmt.Errorf("%w: cannot replace the root", common.ErrInvalidArgument)
	}
	if _, dup := b.ents[clean]; dup {
		return nil, fmt.Errorf("%w: duplicate path %q", common.ErrInvalidArgument, clean)
	}
	parent, err := b.ensureDir(common.ParentPath(clean))
	if err != nil {
		return nil, err
	}
	e.path = clean
	b.ents[clean] = e
	b.order = append(b.order, clean)
	parent.children = append(parent.children, common.BaseName(clean))
	return e, nil
}

// ensureDir creates the directory chain down to path, returning its entry
func (b *Builder) ensureDir(path string) (*entry, error) {
	clean := common.NormalizePath(path)
	if e, ok := b.ents[clean]; ok {
		if !e.isDir() {
			return nil, fmt.Errorf("%w: %q is not a directory", common.ErrInvalidArgument, clean)
		}
		return e, nil
	}
	return b.insert(clean, &entry{mode: ext4.ModeDir | 0o755})
}

// AddDir adds a directory, creating missing parents
func (b *Builder) AddDir(path string, perm uint16) error {
	e, err := b.ensureDir(path)
	if err != nil {
		return err
	}
	e.mode = ext4.ModeDir | perm&^uint16(ext4.ModeTypeMask)
	return nil
}

// AddFile adds a regular file with contiguous data
func (b *Builder) AddFile(path string, data []byte, perm uint16) error {
	_, err := b.insert(path, &entry{mode: ext4.ModeRegular | perm&^uint16(ext4.ModeTypeMask), data: data})
	return err
}

// AddFragmentedFile adds a regular file whose data is broken into
// physical runs of runBlocks blocks with a one-block gap between runs.
// The logical mapping stays contiguous, so the file reads back
// identically while its extent tree grows one entry per run.
func (b *Builder) AddFragmentedFile(path string, data []byte, runBlocks int, perm uint16) error {
	if runBlocks < 1 {
		return fmt.Errorf("%w: run length %d", common.ErrInvalidArgument, runBlocks)
	}
	_, err := b.insert(path, &entry{mode: ext4.ModeRegular | perm&^uint16(ext4.ModeTypeMask), data: data, runLen: runBlocks})
	return err
}

// AddSparseFile adds a regular file of the given size whose data exists
// only at the chunk blocks; everything between them is an unmapped hole.
func (b *Builder) AddSparseFile(path string, size uint64, chunks map[uint64][]byte, perm uint16) error {
	for logical, chunk := range chunks {
		if len(chunk) > int(b.opts.BlockSize) {
			return fmt.Errorf("%w: chunk at block %d exceeds one block", common.ErrInvalidArgument, logical)
		}
	}
	_, err := b.insert(path, &entry{mode: ext4.ModeRegular | perm&^uint16(ext4.ModeTypeMask), sparse: chunks, size: size})
	return err
}

// AddSymlink adds a fast symlink; the target lives inside the inode and
// must fit its 60-byte block storage
func (b *Builder) AddSymlink(path, target string) error {
	if len(target) >= 60 {
		return fmt.Errorf("%w: symlink target longer than 59 bytes", common.ErrInvalidArgument)
	}
	_, err := b.insert(path, &entry{mode: ext4.ModeSymlink | 0o777, target: target})
	return err
}

// AddSpecial adds a node whose type comes from the mode bits (fifo,
// socket, device); it carries no data
func (b *Builder) AddSpecial(path string, mode uint16) error {
	_, err := b.insert(path, &entry{mode: mode})
	return err
}

// layout tracks block allocation during Build
type layout struct {
	img       []byte
	bs        uint64
	total     uint64
	next      uint64
	usedBlock []bool
}

func (l *layout) alloc(n uint64) (uint64, error) {
	if l.next+n > l.total {
		return 0, fmt.Errorf("%w: image full (%d blocks)", common.ErrOutOfResources, l.total)
	}
	start := l.next
	for i := uint64(0); i < n; i++ {
		l.usedBlock[start+i] = true
	}
	l.next += n
	return start, nil
}

// skip leaves a one-block gap between fragmented runs
func (l *layout) skip() {
	if l.next < l.total {
		l.next++
	}
}

func (l *layout) writeBlock(block uint64, p []byte) {
	copy(l.img[block*l.bs:], p)
}

func putStruct(img []byte, off uint64, v interface{}) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return err
	}
	copy(img[off:], buf.Bytes())
	return nil
}

// Build lays out the image: reserved area, descriptor table, bitmaps,
// inode table, then data blocks in entry order
func (b *Builder) Build() (*Image, error) {
	bs := uint64(b.opts.BlockSize)
	switch b.opts.BlockSize {
	case 1024, 2048, 4096:
	default:
		return nil, fmt.Errorf("%w: block size %d", common.ErrInvalidArgument, b.opts.BlockSize)
	}
	if b.opts.InodeCount < ext4.FirstNonReservedInode {
		return nil, fmt.Errorf("%w: need at least %d inodes", common.ErrInvalidArgument, ext4.FirstNonReservedInode)
	}
	if b.opts.Blocks > bs*8 {
		return nil, fmt.Errorf("%w: %d blocks exceed one block group", common.ErrInvalidArgument, b.opts.Blocks)
	}

	// Assign inode numbers: the root is fixed, everything else starts at
	// the first non-reserved number in insertion order.
	root := b.ents[""]
	root.ino = ext4.RootInode
	next := uint32(ext4.FirstNonReservedInode)
	for _, path := range b.order {
		if next > b.opts.InodeCount {
			return nil, fmt.Errorf("%w: more than %d inodes", common.ErrOutOfResources, b.opts.InodeCount)
		}
		b.ents[path].ino = next
		next++
	}

	// Metadata layout. With 1 KiB blocks the superblock occupies block 1
	// and block 0 is the boot area; larger blocks hold both in block 0.
	var firstDataBlock uint64
	if bs == 1024 {
		firstDataBlock = 1
	}
	descBlock := firstDataBlock + 1
	blockBitmap := descBlock + 1
	inodeBitmap := blockBitmap + 1
	inodeTable := inodeBitmap + 1
	tableBlocks := (uint64(b.opts.InodeCount)*inodeSize + bs - 1) / bs
	dataStart := inodeTable + tableBlocks
	if dataStart >= b.opts.Blocks {
		return nil, fmt.Errorf("%w: %d blocks cannot hold the metadata", common.ErrOutOfResources, b.opts.Blocks)
	}

	l := &layout{
		img:       make([]byte, b.opts.Blocks*bs),
		bs:        bs,
		total:     b.opts.Blocks,
		usedBlock: make([]bool, b.opts.Blocks),
	}
	for i := uint64(0); i < dataStart; i++ {
		l.usedBlock[i] = true
	}
	l.next = dataStart

	// Data pass: directories, file contents and extent trees.
	paths := append([]string{""}, b.order...)
	for _, path := range paths {
		e := b.ents[path]
		if err := b.writeEntry(l, e, inodeTable); err != nil {
			return nil, fmt.Errorf("%q: %w", path, err)
		}
	}

	usedBlocks := uint64(0)
	for _, u := range l.usedBlock {
		if u {
			usedBlocks++
		}
	}
	usedInodes := uint32(10 + len(b.order)) // reserved 1..10 (root included) plus assigned

	// Bitmaps. Bits past the end of the group are conventionally set.
	bbm := make([]byte, bs)
	for i, u := range l.usedBlock {
		if u {
			bbm[i/8] |= 1 << (i % 8)
		}
	}
	for i := b.opts.Blocks; i < bs*8; i++ {
		bbm[i/8] |= 1 << (i % 8)
	}
	l.writeBlock(blockBitmap, bbm)

	ibm := make([]byte, bs)
	for i := uint32(0); i < usedInodes; i++ {
		ibm[i/8] |= 1 << (i % 8)
	}
	for i := uint64(b.opts.InodeCount); i < bs*8; i++ {
		ibm[i/8] |= 1 << (i % 8)
	}
	l.writeBlock(inodeBitmap, ibm)

	// Group descriptor.
	usedDirs := uint16(1)
	for _, path := range b.order {
		if b.ents[path].isDir() {
			usedDirs++
		}
	}
	desc := ext4.GroupDescBase{
		BlockBitmapLo:     uint32(blockBitmap),
		InodeBitmapLo:     uint32(inodeBitmap),
		InodeTableLo:      uint32(inodeTable),
		FreeBlocksCountLo: uint16(b.opts.Blocks - usedBlocks),
		FreeInodesCountLo: uint16(b.opts.InodeCount - usedInodes),
		UsedDirsCountLo:   usedDirs,
	}
	if err := putStruct(l.img, descBlock*bs, &desc); err != nil {
		return nil, err
	}

	// Superblock.
	fsUUID := b.opts.UUID
	if fsUUID == ([16]byte{}) {
		fsUUID = uuid.New()
	}
	now := uint32(time.Now().Unix())
	var logBlockSize uint32
	for 1024<<logBlockSize != b.opts.BlockSize {
		logBlockSize++
	}
	sb := ext4.Superblock{
		InodesCount:       b.opts.InodeCount,
		BlocksCountLo:     uint32(b.opts.Blocks),
		FreeBlocksCountLo: uint32(b.opts.Blocks - usedBlocks),
		FreeInodesCount:   b.opts.InodeCount - usedInodes,
		FirstDataBlock:    uint32(firstDataBlock),
		LogBlockSize:      logBlockSize,
		LogClusterSize:    logBlockSize,
		BlocksPerGroup:    uint32(bs * 8),
		ClustersPerGroup:  uint32(bs * 8),
		InodesPerGroup:    b.opts.InodeCount,
		WTime:             now,
		MaxMntCount:       0xFFFF,
		Magic:             ext4.SuperblockMagic,
		State:             1, // cleanly unmounted
		RevLevel:          1,
		FirstInode:        ext4.FirstNonReservedInode,
		InodeSize:         inodeSize,
		FeatureIncompat:   ext4.FeatureIncompatFiletype | ext4.FeatureIncompatExtents,
		UUID:              fsUUID,
		MkfsTime:          now,
	}
	copy(sb.VolumeName[:], b.opts.VolumeName)
	if err := putStruct(l.img, ext4.SuperblockOffset, &sb); err != nil {
		return nil, err
	}

	inodes := make(map[string]uint32, len(b.ents))
	for path, e := range b.ents {
		inodes[path] = e.ino
	}
	log.Debugf("[Mkfs] Built image: %d blocks of %d, %d inodes used, %d blocks used",
		b.opts.Blocks, bs, usedInodes, usedBlocks)
	return &Image{
		Data:       l.img,
		BlockSize:  b.opts.BlockSize,
		Blocks:     b.opts.Blocks,
		InodeTable: inodeTable,
		Inodes:     inodes,
	}, nil
}

// writeEntry allocates an entry's data blocks, builds its extent tree
// and writes its inode record
func (b *Builder) writeEntry(l *layout, e *entry, inodeTable uint64) error {
	now := uint32(time.Now().Unix())
	in := ext4.Inode{
		Mode:       e.mode,
		Atime:      now,
		Ctime:      now,
		Mtime:      now,
		LinksCount: 1,
	}

	switch {
	case e.isDir():
		blocks, err := b.dirBlocks(e)
		if err != nil {
			return err
		}
		runs, err := writeContiguous(l, blocks)
		if err != nil {
			return err
		}
		if err := writeExtentTree(l, &in, runs); err != nil {
			return err
		}
		size := uint64(len(blocks)) * l.bs
		in.SizeLo = uint32(size)
		in.LinksCount = uint16(2 + countDirs(b, e))
	case e.target != "":
		copy(in.Block[:], e.target)
		in.SizeLo = uint32(len(e.target))
	case e.sparse != nil:
		runs, err := writeSparse(l, e.sparse)
		if err != nil {
			return err
		}
		if err := writeExtentTree(l, &in, runs); err != nil {
			return err
		}
		in.SizeLo = uint32(e.size)
		in.SizeHi = uint32(e.size >> 32)
	case e.mode&ext4.ModeTypeMask == ext4.ModeRegular:
		runs, err := writeData(l, e.data, e.runLen)
		if err != nil {
			return err
		}
		if err := writeExtentTree(l, &in, runs); err != nil {
			return err
		}
		in.SizeLo = uint32(len(e.data))
	}

	// Rounded-up 512-byte sector count, the way stat reports it.
	size := uint64(in.SizeHi)<<32 | uint64(in.SizeLo)
	in.BlocksLo = uint32((size + 511) / 512)

	off := inodeTable*l.bs + uint64(e.ino-1)*inodeSize
	return putStruct(l.img, off, &in)
}

func countDirs(b *Builder, e *entry) int {
	n := 0
	for _, name := range e.children {
		child := b.ents[common.JoinPath(e.path, name)]
		if child != nil && child.isDir() {
			n++
		}
	}
	return n
}

// run is one contiguous logical-to-physical mapping
type run struct {
	logical uint64
	length  uint16
	phys    uint64
}

// writeData writes file data, contiguously or in fragmented runs with
// one-block gaps, and returns the resulting extents
func writeData(l *layout, data []byte, runLen int) ([]run, error) {
	total := (uint64(len(data)) + l.bs - 1) / l.bs
	if total == 0 {
		return nil, nil
	}
	if runLen <= 0 {
		runLen = int(total)
	}

	var runs []run
	var logical uint64
	rest := data
	for logical < total {
		n := uint64(runLen)
		if logical+n > total {
			n = total - logical
		}
		start, err := l.alloc(n)
		if err != nil {
			return nil, err
		}
		chunk := n * l.bs
		if uint64(len(rest)) < chunk {
			chunk = uint64(len(rest))
		}
		l.writeBlock(start, rest[:chunk])
		rest = rest[chunk:]
		runs = append(runs, run{logical: logical, length: uint16(n), phys: start})
		logical += n
		if logical < total {
			l.skip()
		}
	}
	return runs, nil
}

func writeContiguous(l *layout, blocks [][]byte) ([]run, error) {
	if len(blocks) == 0 {
		return nil, nil
	}
	start, err := l.alloc(uint64(len(blocks)))
	if err != nil {
		return nil, err
	}
	for i, blk := range blocks {
		l.writeBlock(start+uint64(i), blk)
	}
	return []run{{logical: 0, length: uint16(len(blocks)), phys: start}}, nil
}

// writeSparse writes one single-block extent per chunk, leaving holes
// between them
func writeSparse(l *layout, chunks map[uint64][]byte) ([]run, error) {
	logicals := make([]uint64, 0, len(chunks))
	for logical := range chunks {
		logicals = append(logicals, logical)
	}
	sortUint64(logicals)

	var runs []run
	for _, logical := range logicals {
		start, err := l.alloc(1)
		if err != nil {
			return nil, err
		}
		l.writeBlock(start, chunks[logical])
		runs = append(runs, run{logical: logical, length: 1, phys: start})
	}
	return runs, nil
}

func sortUint64(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// writeExtentTree stores the runs in the inode's block storage: directly
// when they fit the root node, through one level of index nodes when not
func writeExtentTree(l *layout, in *ext4.Inode, runs []run) error {
	in.Flags |= ext4.InodeFlagExtents

	const rootMax = (60 - ext4.ExtentHeaderSize) / ext4.ExtentEntrySize
	if len(runs) <= rootMax {
		writeExtentNode(in.Block[:], 0, runs, nil)
		return nil
	}

	perLeaf := (int(l.bs) - ext4.ExtentHeaderSize) / ext4.ExtentEntrySize
	var idx []ext4.ExtentIdx
	for start := 0; start < len(runs); start += perLeaf {
		end := start + perLeaf
		if end > len(runs) {
			end = len(runs)
		}
		leafBlock, err := l.alloc(1)
		if err != nil {
			return err
		}
		leaf := make([]byte, l.bs)
		writeExtentNode(leaf, 0, runs[start:end], nil)
		l.writeBlock(leafBlock, leaf)
		idx = append(idx, ext4.ExtentIdx{
			Block:  uint32(runs[start].logical),
			LeafLo: uint32(leafBlock),
			LeafHi: uint16(leafBlock >> 32),
		})
	}
	if len(idx) > rootMax {
		return fmt.Errorf("%w: extent tree needs more than %d index entries", common.ErrOutOfResources, rootMax)
	}
	writeExtentNode(in.Block[:], 1, nil, idx)
	return nil
}

// writeExtentNode serializes one node: depth 0 takes leaf runs, deeper
// nodes take index entries
func writeExtentNode(span []byte, depth uint16, runs []run, idx []ext4.ExtentIdx) {
	n := len(runs) + len(idx)
	max := (len(span) - ext4.ExtentHeaderSize) / ext4.ExtentEntrySize
	hdr := ext4.ExtentHeader{
		Magic:   ext4.ExtentMagic,
		Entries: uint16(n),
		Max:     uint16(max),
		Depth:   depth,
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &hdr)
	for _, r := range runs {
		binary.Write(&buf, binary.LittleEndian, &ext4.Extent{
			Block:   uint32(r.logical),
			Len:     r.length,
			StartHi: uint16(r.phys >> 32),
			StartLo: uint32(r.phys),
		})
	}
	for _, e := range idx {
		binary.Write(&buf, binary.LittleEndian, &e)
	}
	copy(span, buf.Bytes())
}

// dirBlocks packs a directory's entries into rec_len-delimited blocks.
// The last entry of each block stretches to the block boundary.
func (b *Builder) dirBlocks(e *entry) ([][]byte, error) {
	parent := b.ents[common.ParentPath(e.path)]
	if e.path == "" {
		parent = e
	}

	type dirent struct {
		ino      uint32
		name     string
		fileType uint8
	}
	ents := []dirent{
		{ino: e.ino, name: ".", fileType: ext4.FileTypeDir},
		{ino: parent.ino, name: "..", fileType: ext4.FileTypeDir},
	}
	for _, name := range e.children {
		child := b.ents[common.JoinPath(e.path, name)]
		ents = append(ents, dirent{ino: child.ino, name: name, fileType: direntType(child.mode)})
	}

	bs := int(b.opts.BlockSize)
	var blocks [][]byte
	block := make([]byte, bs)
	off := 0
	flush := func(last int) {
		// Stretch the final entry's rec_len to the block boundary.
		binary.LittleEndian.PutUint16(block[last+4:], uint16(bs-last))
		blocks = append(blocks, block)
		block = make([]byte, bs)
		off = 0
	}

	lastOff := 0
	for i, d := range ents {
		if len(d.name) > 255 {
			return nil, fmt.Errorf("%w: name %q", common.ErrInvalidArgument, d.name)
		}
		recLen := ext4.DirentHeaderSize + (len(d.name)+3)&^3
		if off+recLen > bs {
			flush(lastOff)
		}
		binary.LittleEndian.PutUint32(block[off:], d.ino)
		binary.LittleEndian.PutUint16(block[off+4:], uint16(recLen))
		block[off+6] = uint8(len(d.name))
		block[off+7] = d.fileType
		copy(block[off+ext4.DirentHeaderSize:], d.name)
		lastOff = off
		off += recLen
		if i == len(ents)-1 {
			flush(lastOff)
		}
	}
	return blocks, nil
}

func direntType(mode uint16) uint8 {
	switch mode & ext4.ModeTypeMask {
	case ext4.ModeDir:
		return ext4.FileTypeDir
	case ext4.ModeSymlink:
		return ext4.FileTypeSymlink
	case ext4.ModeCharDev:
		return ext4.FileTypeCharDev
	case ext4.ModeBlockDev:
		return ext4.FileTypeBlockDev
	case ext4.ModeFIFO:
		return ext4.FileTypeFIFO
	case ext4.ModeSocket:
		return ext4.FileTypeSocket
	default:
		return ext4.FileTypeRegular
	}
}
