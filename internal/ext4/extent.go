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
	"encoding/binary"
	"fmt"

	"extvfs/internal/common"
)

// maxExtentDepth bounds the tree walk; a deeper root header is corrupt.
const maxExtentDepth = 5

// extentNode is a bounds-checked view over one extent-tree node: the
// inode's 60-byte block storage for the root, one block for everything
// below it.
type extentNode struct {
	span    []byte
	entries int
	depth   int
}

func parseExtentNode(span []byte) (extentNode, error) {
	if len(span) < ExtentHeaderSize {
		return extentNode{}, fmt.Errorf("%w: node shorter than header", common.ErrCorruptExtent)
	}
	if magic := binary.LittleEndian.Uint16(span[0:2]); magic != ExtentMagic {
		return extentNode{}, fmt.Errorf("%w: magic 0x%04x", common.ErrCorruptExtent, magic)
	}
	n := extentNode{
		span:    span,
		entries: int(binary.LittleEndian.Uint16(span[2:4])),
		depth:   int(binary.LittleEndian.Uint16(span[6:8])),
	}
	if ExtentHeaderSize+n.entries*ExtentEntrySize > len(span) {
		return extentNode{}, fmt.Errorf("%w: %d entries overflow a %d-byte node", common.ErrCorruptExtent, n.entries, len(span))
	}
	return n, nil
}

func (n extentNode) entry(i int) []byte {
	off := ExtentHeaderSize + i*ExtentEntrySize
	return n.span[off : off+ExtentEntrySize]
}

// childBlock runs the predecessor search over an interior node: entries
// are sorted by ascending logical start and the last one whose start is
// <= logical wins. Out-of-order or duplicate starts would mis-resolve, so
// they are corruption; no qualifying entry means the block is not mapped.
func (n extentNode) childBlock(logical uint64) (uint64, error) {
	best := -1
	var prev uint64
	for i := 0; i < n.entries; i++ {
		start := uint64(binary.LittleEndian.Uint32(n.entry(i)[0:4]))
		if i > 0 && start <= prev {
			return 0, fmt.Errorf("%w: index entries out of order", common.ErrCorruptExtent)
		}
		prev = start
		if start > logical {
			break
		}
		best = i
	}
	if best < 0 {
		return 0, fmt.Errorf("%w: logical block %d precedes the index", common.ErrBlockNotMapped, logical)
	}
	e := n.entry(best)
	lo := binary.LittleEndian.Uint32(e[4:8])
	hi := binary.LittleEndian.Uint16(e[8:10])
	return uint64(hi)<<32 | uint64(lo), nil
}

// find scans a leaf node for the extent covering the logical block
func (n extentNode) find(logical uint64) (uint64, error) {
	for i := 0; i < n.entries; i++ {
		e := n.entry(i)
		start := uint64(binary.LittleEndian.Uint32(e[0:4]))
		length := uint64(binary.LittleEndian.Uint16(e[4:6]))
		if logical < start || logical >= start+length {
			continue
		}
		physHi := binary.LittleEndian.Uint16(e[6:8])
		physLo := binary.LittleEndian.Uint32(e[8:12])
		phys := uint64(physHi)<<32 | uint64(physLo)
		return phys + (logical - start), nil
	}
	return 0, fmt.Errorf("%w: logical block %d", common.ErrBlockNotMapped, logical)
}

// ResolveBlock maps a logical file block to its physical block by walking
// the inode's extent tree. ErrBlockNotMapped reports a hole, distinct
// from corruption or I/O failure. Only extent addressing is supported;
// legacy indirect addressing fails with ErrUnsupportedAddressing.
func (c *Context) ResolveBlock(in *Inode, logical uint64) (uint64, error) {
	if !c.sb.HasIncompatFeature(FeatureIncompatExtents) {
		return 0, fmt.Errorf("%w: filesystem lacks the extents feature", common.ErrUnsupportedAddressing)
	}
	if !in.UsesExtents() {
		return 0, fmt.Errorf("%w: inode flags 0x%x", common.ErrUnsupportedAddressing, in.Flags)
	}

	// The tree root lives in the inode's block storage.
	node, err := parseExtentNode(in.Block[:])
	if err != nil {
		return 0, err
	}
	if node.depth > maxExtentDepth {
		return 0, fmt.Errorf("%w: depth %d", common.ErrCorruptExtent, node.depth)
	}

	// Interior nodes below the root share one reusable block buffer. The
	// countdown comes from the root header, so a corrupt child claiming
	// extra depth cannot extend the walk.
	var buf []byte
	for remaining := node.depth; remaining > 0; remaining-- {
		child, err := node.childBlock(logical)
		if err != nil {
			return 0, err
		}
		if buf == nil {
			buf = make([]byte, c.blockSize)
		}
		if err := c.readBlock(child, buf); err != nil {
			return 0, fmt.Errorf("extent node: %w", err)
		}
		if node, err = parseExtentNode(buf); err != nil {
			return 0, err
		}
	}

	return node.find(logical)
}
