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

package commands

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"extvfs/internal/vfs"
)

var (
	extractExcludeFrom string
	extractExcludes    []string
)

var extractCmd = &cobra.Command{
	Use:   "extract <image> <dest> [path]",
	Short: "Extract files from an image into a host directory",
	Long: `Extract the contents of an ext4 image into a host directory,
preserving permissions, symlinks and modification times. With a path
argument only that subtree is extracted.

Examples:
  extvfs extract disk.img ./out
  extvfs extract disk.img ./etc-backup /etc
  extvfs extract disk.img ./out --exclude '*.log' --exclude-from skip.txt`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractExcludeFrom, "exclude-from", "", "File with gitignore-style patterns to skip")
	extractCmd.Flags().StringArrayVar(&extractExcludes, "exclude", nil, "Gitignore-style pattern to skip (repeatable)")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	v, cleanup, err := mountImage(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	dest, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}

	start := "."
	if len(args) > 2 {
		start = strings.Trim(args[2], "/")
		if start == "" {
			start = "."
		}
	}

	skip, err := compileExcludes(extractExcludeFrom, extractExcludes)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	ex := &extractor{v: v, fsys: vfs.FS(v), dest: dest, skip: skip}
	if err := ex.run(start); err != nil {
		return err
	}

	fmt.Printf("Extracted %d files (%d bytes) to %s\n", ex.files, ex.bytes, dest)
	return nil
}

func compileExcludes(file string, patterns []string) (*ignore.GitIgnore, error) {
	switch {
	case file != "":
		gi, err := ignore.CompileIgnoreFileAndLines(file, patterns...)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		return gi, nil
	case len(patterns) > 0:
		return ignore.CompileIgnoreLines(patterns...), nil
	default:
		return nil, nil
	}
}

type extractor struct {
	v    *vfs.VFS
	fsys fs.FS
	dest string
	skip *ignore.GitIgnore

	files int
	bytes int64
	dirs  []savedDir
}

// savedDir defers a directory's mode and mtime until after its
// contents exist. Applying a read-only mode up front would block the
// children, and writing children bumps the mtime.
type savedDir struct {
	path  string
	mode  os.FileMode
	mtime time.Time
}

func (ex *extractor) run(start string) error {
	err := fs.WalkDir(ex.fsys, start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel := relFrom(start, p)
		if rel != "." && ex.skip != nil {
			if ex.skip.MatchesPath(rel) || (d.IsDir() && ex.skip.MatchesPath(rel+"/")) {
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
		}

		target := filepath.Join(ex.dest, filepath.FromSlash(rel))
		switch {
		case d.IsDir():
			return ex.makeDir(rel, target, d)
		case d.Type()&fs.ModeSymlink != 0:
			return ex.makeSymlink(p, target)
		case d.Type()&(fs.ModeDevice|fs.ModeNamedPipe|fs.ModeSocket) != 0:
			log.Debugf("[Extract] Skipping %s: special file", p)
			return nil
		default:
			return ex.copyFile(p, target, d)
		}
	})
	if err != nil {
		return err
	}

	// Deepest directories first, so a restrictive mode never gates a
	// child still waiting for its own.
	for i := len(ex.dirs) - 1; i >= 0; i-- {
		sd := ex.dirs[i]
		if err := os.Chmod(sd.path, sd.mode); err != nil {
			return fmt.Errorf("failed to set mode on %s: %w", sd.path, err)
		}
		_ = os.Chtimes(sd.path, sd.mtime, sd.mtime)
	}
	return nil
}

// relFrom rebases a walk path onto the extraction root, so extracting
// a subtree lands its children directly under dest.
func relFrom(start, p string) string {
	if start == "." {
		return p
	}
	if p == start {
		return "."
	}
	return strings.TrimPrefix(p, start+"/")
}

func (ex *extractor) makeDir(rel, target string, d fs.DirEntry) error {
	if rel == "." {
		// dest itself; the caller created it and its host mode stands.
		return nil
	}
	if err := os.Mkdir(target, 0o755); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if info, err := d.Info(); err == nil {
		ex.dirs = append(ex.dirs, savedDir{path: target, mode: info.Mode().Perm(), mtime: info.ModTime()})
	}
	return nil
}

func (ex *extractor) makeSymlink(p, target string) error {
	linkTarget, err := ex.v.Readlink("/" + p)
	if err != nil {
		return fmt.Errorf("failed to read symlink %s: %w", p, err)
	}
	_ = os.Remove(target)
	if err := os.Symlink(linkTarget, target); err != nil {
		return fmt.Errorf("failed to create symlink %s: %w", target, err)
	}
	ex.files++
	log.Debugf("[Extract] %s -> %s", p, linkTarget)
	return nil
}

func (ex *extractor) copyFile(p, target string, d fs.DirEntry) error {
	src, err := ex.fsys.Open(p)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", p, err)
	}

	if info, ierr := d.Info(); ierr == nil {
		// Chmod after close so the stored bits land past the umask.
		if err := os.Chmod(target, info.Mode().Perm()); err != nil {
			return fmt.Errorf("failed to set mode on %s: %w", target, err)
		}
		_ = os.Chtimes(target, info.ModTime(), info.ModTime())
	}

	ex.files++
	ex.bytes += n
	log.Debugf("[Extract] %s (%d bytes)", p, n)
	return nil
}
