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
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"extvfs/internal/vfs"
)

var (
	treeDirsOnly bool
	treeMaxDepth int
)

var treeCmd = &cobra.Command{
	Use:   "tree <image> [path]",
	Short: "Print the directory tree of an image",
	Long: `Print the directory tree of an ext4 image, starting at the given
path (default: the root).

Examples:
  extvfs tree disk.img
  extvfs tree disk.img /etc
  extvfs tree disk.img -L 2 --dirs-only`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runTree,
}

func init() {
	treeCmd.Flags().BoolVarP(&treeDirsOnly, "dirs-only", "d", false, "List directories only")
	treeCmd.Flags().IntVarP(&treeMaxDepth, "level", "L", 0, "Descend at most this many levels (0 = unlimited)")
	rootCmd.AddCommand(treeCmd)
}

func runTree(cmd *cobra.Command, args []string) error {
	v, cleanup, err := mountImage(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	start := "."
	label := "/"
	if len(args) > 1 {
		label = args[1]
		start = strings.Trim(args[1], "/")
		if start == "" {
			start = "."
		}
	}

	fsys := vfs.FS(v)
	if _, err := fs.Stat(fsys, start); err != nil {
		return fmt.Errorf("failed to stat %s: %w", label, err)
	}

	p := &treePrinter{fsys: fsys, v: v, dirsOnly: treeDirsOnly, maxDepth: treeMaxDepth}
	fmt.Println(label)
	if err := p.walk(start, "", 1); err != nil {
		return err
	}
	fmt.Printf("\n%d directories, %d files\n", p.dirs, p.files)
	return nil
}

type treePrinter struct {
	fsys     fs.FS
	v        *vfs.VFS
	dirsOnly bool
	maxDepth int

	dirs  int
	files int
}

func (p *treePrinter) walk(dir, prefix string, depth int) error {
	if p.maxDepth > 0 && depth > p.maxDepth {
		return nil
	}

	ents, err := fs.ReadDir(p.fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}
	if p.dirsOnly {
		kept := ents[:0]
		for _, ent := range ents {
			if ent.IsDir() {
				kept = append(kept, ent)
			}
		}
		ents = kept
	}

	for i, ent := range ents {
		connector, childPrefix := "├── ", prefix+"│   "
		if i == len(ents)-1 {
			connector, childPrefix = "└── ", prefix+"    "
		}

		name := ent.Name()
		child := dir + "/" + name
		if dir == "." {
			child = name
		}

		switch {
		case ent.IsDir():
			p.dirs++
			fmt.Println(prefix + connector + name)
			if err := p.walk(child, childPrefix, depth+1); err != nil {
				return err
			}
		case ent.Type()&fs.ModeSymlink != 0:
			p.files++
			if target, err := p.v.Readlink("/" + child); err == nil {
				fmt.Println(prefix + connector + name + " -> " + target)
			} else {
				fmt.Println(prefix + connector + name)
			}
		default:
			p.files++
			fmt.Println(prefix + connector + name)
		}
	}
	return nil
}
