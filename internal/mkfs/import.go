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

package mkfs

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	log "github.com/sirupsen/logrus"

	"extvfs/internal/ext4"
)

// FileFilter decides whether a host path joins the image.
// relPath is slash-separated and relative to the import root.
type FileFilter func(relPath string, isDir bool) bool

// BuildFileFilter creates a FileFilter that:
// 1. Checks excludes list (force-exclude, highest priority)
// 2. Checks includes list (force-include, overrides gitignore)
// 3. Applies gitignore rules collected from the tree
func BuildFileFilter(root string, gitignoreEnabled bool, includes, excludes []string) FileFilter {
	var matcher *gitignoreMatcher
	if gitignoreEnabled {
		var err error
		matcher, err = newGitignoreMatcher(root)
		if err != nil {
			log.Warnf("[Mkfs] Failed to build gitignore matcher: %v", err)
		}
	}

	under := func(relPath, prefix string) bool {
		return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
	}

	return func(relPath string, isDir bool) bool {
		for _, exc := range excludes {
			if under(relPath, exc) {
				return false
			}
		}
		for _, inc := range includes {
			if under(relPath, inc) {
				return true
			}
		}
		if matcher != nil && matcher.isIgnored(relPath, isDir) {
			return false
		}
		return true
	}
}

// gitignoreMatcher collects .gitignore rules from an import tree. Each
// .gitignore applies below its own directory, the way git scopes them.
type gitignoreMatcher struct {
	matchers []scopedMatcher
}

type scopedMatcher struct {
	dirPrefix string
	ignore    *ignore.GitIgnore
}

func newGitignoreMatcher(root string) (*gitignoreMatcher, error) {
	m := &gitignoreMatcher{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ".gitignore" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		relDir, relErr := filepath.Rel(root, filepath.Dir(path))
		if relErr != nil {
			return nil
		}
		if relDir == "." {
			relDir = ""
		}

		gi := ignore.CompileIgnoreLines(strings.Split(string(data), "\n")...)
		m.matchers = append(m.matchers, scopedMatcher{
			dirPrefix: filepath.ToSlash(relDir),
			ignore:    gi,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *gitignoreMatcher) isIgnored(relPath string, isDir bool) bool {
	for _, sm := range m.matchers {
		scoped := relPath
		if sm.dirPrefix != "" {
			if !strings.HasPrefix(relPath, sm.dirPrefix+"/") {
				continue
			}
			scoped = strings.TrimPrefix(relPath, sm.dirPrefix+"/")
		}
		// Directory patterns like "build/" only match when the path is
		// known to be a directory.
		if sm.ignore.MatchesPath(scoped) {
			return true
		}
		if isDir && sm.ignore.MatchesPath(scoped+"/") {
			return true
		}
	}
	return false
}

// FromDir adds the tree rooted at dir to the builder. Entries the filter
// rejects are skipped, rejected directories wholesale. Device nodes are
// skipped with a log line; fifos and sockets import as bare specials.
func FromDir(b *Builder, dir string, filter FileFilter) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if filter != nil && !filter(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		perm := uint16(info.Mode().Perm())

		switch {
		case d.IsDir():
			return b.AddDir(rel, perm)
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := b.AddSymlink(rel, target); err != nil {
				// Targets too long for inline storage are skipped, not fatal.
				log.Warnf("[Mkfs] Skipping symlink %s: %v", rel, err)
			}
			return nil
		case info.Mode()&os.ModeNamedPipe != 0:
			return b.AddSpecial(rel, ext4.ModeFIFO|perm)
		case info.Mode()&os.ModeSocket != 0:
			return b.AddSpecial(rel, ext4.ModeSocket|perm)
		case info.Mode()&os.ModeDevice != 0:
			log.Debugf("[Mkfs] Skipping device node %s", rel)
			return nil
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return b.AddFile(rel, data, perm)
		}
	})
}

// Autosize grows the image geometry to fit the collected entries, with
// headroom for metadata rounding. Explicitly configured geometry is
// never shrunk. The single-block-group ceiling still applies; oversized
// trees surface as build errors.
func (b *Builder) Autosize() {
	bs := uint64(b.opts.BlockSize)

	need := uint32(ext4.FirstNonReservedInode-1) + uint32(len(b.ents))
	if need > b.opts.InodeCount {
		b.opts.InodeCount = need
	}

	var data uint64
	for _, e := range b.ents {
		switch {
		case e.isDir():
			data += b.dirBlockCount(e)
		case e.target != "":
			// Inline symlink target, no data blocks.
		case e.sparse != nil:
			for _, chunk := range e.sparse {
				data += (uint64(len(chunk)) + bs - 1) / bs
			}
		default:
			data += (uint64(len(e.data)) + bs - 1) / bs
		}
	}

	var firstDataBlock uint64
	if bs == 1024 {
		firstDataBlock = 1
	}
	tableBlocks := (uint64(b.opts.InodeCount)*inodeSize + bs - 1) / bs
	meta := firstDataBlock + 4 + tableBlocks

	total := meta + data + data/8 + 8
	if total > b.opts.Blocks {
		b.opts.Blocks = total
	}
	if b.opts.Blocks > bs*8 {
		b.opts.Blocks = bs * 8
	}
}

// dirBlockCount replays the directory packing arithmetic without
// building the blocks.
func (b *Builder) dirBlockCount(e *entry) uint64 {
	bs := int(b.opts.BlockSize)
	blocks := uint64(1)
	off := 0
	add := func(name string) {
		recLen := ext4.DirentHeaderSize + (len(name)+3)&^3
		if off+recLen > bs {
			blocks++
			off = 0
		}
		off += recLen
	}
	add(".")
	add("..")
	for _, name := range e.children {
		add(name)
	}
	return blocks
}
