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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"extvfs/internal/blockdev"
	"extvfs/internal/catalog"
	"extvfs/internal/common"
	"extvfs/internal/ext4"
	"extvfs/internal/vfs"
)

var indexCmd = &cobra.Command{
	Use:   "index <image>",
	Short: "Index an image into the catalog",
	Long: `Walks an ext4 image and records every file, directory and symlink
in the catalog database. Re-indexing an image replaces its previous
inventory.

Examples:
  extvfs index disk.img
  extvfs index ~/images/rootfs.img`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

var indexLsCmd = &cobra.Command{
	Use:   "ls [image]",
	Short: "List indexed images or one image's contents",
	Long: `Without arguments, lists every image in the catalog. With an image
argument, lists that image's indexed entries; --prefix narrows the
listing to one subtree.`,
	Args: cobra.RangeArgs(0, 1),
	RunE: runIndexLs,
}

var indexSearchCmd = &cobra.Command{
	Use:   "search <pattern>",
	Short: "Search indexed images by file name",
	Long: `Searches every indexed image for entries whose name matches the
pattern. * and ? glob over single path components.

Examples:
  extvfs index search '*.conf'
  extvfs index search passwd`,
	Args: cobra.ExactArgs(1),
	RunE: runIndexSearch,
}

var indexRmCmd = &cobra.Command{
	Use:   "rm <image>",
	Short: "Remove an image from the catalog",
	Long: `Removes an image and its indexed entries from the catalog. The
image file itself is not touched; the path does not need to exist.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndexRm,
}

var indexLsPrefix string

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexLsCmd)
	indexCmd.AddCommand(indexSearchCmd)
	indexCmd.AddCommand(indexRmCmd)
	indexLsCmd.Flags().StringVar(&indexLsPrefix, "prefix", "", "List only entries under this path")
}

func runIndex(cmd *cobra.Command, args []string) error {
	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return fmt.Errorf("image not found: %s", absPath)
	}

	dev, err := blockdev.OpenFile(absPath)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer dev.Close()

	// The superblock fields go into the image row; the same open device
	// then backs the mount the walk runs over.
	fsctx, err := ext4.Mount(dev)
	if err != nil {
		return fmt.Errorf("failed to read superblock: %w", err)
	}
	rec := catalog.ImageRecord{
		Device:     absPath,
		UUID:       fsctx.Superblock().UUIDString(),
		Label:      fsctx.Superblock().VolumeLabel(),
		BlockSize:  fsctx.BlockSize(),
		BlockCount: fsctx.BlockCount(),
	}
	fsctx.Unmount()

	v := vfs.New()
	if err := v.MountFS("/", "ext4", dev); err != nil {
		return fmt.Errorf("failed to mount image: %w", err)
	}
	defer v.Shutdown()

	c, err := openCatalog()
	if err != nil {
		return err
	}
	defer c.Close()

	img, err := c.Index(cmd.Context(), v, rec)
	if err != nil {
		return fmt.Errorf("failed to index %s: %w", absPath, err)
	}

	fmt.Printf("Indexed %s: %d files, %d bytes\n", absPath, img.FileCount, img.TotalSize)
	return nil
}

func runIndexLs(cmd *cobra.Command, args []string) error {
	c, err := openCatalog()
	if err != nil {
		return err
	}
	defer c.Close()

	if len(args) == 0 {
		return printImages(cmd, c)
	}

	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	entries, err := c.Entries(cmd.Context(), absPath, indexLsPrefix)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("not indexed: %s", absPath)
		}
		return fmt.Errorf("failed to list %s: %w", absPath, err)
	}

	for _, e := range entries {
		mode := fs.FileMode(e.Mode & 0o777)
		switch e.Mode & vfs.StatTypeMask {
		case vfs.StatTypeDir:
			mode |= fs.ModeDir
		case vfs.StatTypeSymlink:
			mode |= fs.ModeSymlink
		}
		name := e.Path
		if e.Target != "" {
			name += " -> " + e.Target
		}
		fmt.Printf("%-11s %10d %s %s\n", mode, e.Size, e.Mtime.Format("2006-01-02 15:04"), name)
	}
	return nil
}

func printImages(cmd *cobra.Command, c *catalog.Catalog) error {
	images, err := c.Images(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if len(images) == 0 {
		fmt.Println("No indexed images")
		return nil
	}

	fmt.Printf("Indexed images (%d):\n", len(images))
	for _, img := range images {
		fmt.Printf("  %s\n", img.Device)
		if img.Label != "" {
			fmt.Printf("    label: %s\n", img.Label)
		}
		fmt.Printf("    %d files, %d bytes, indexed %s\n",
			img.FileCount, img.TotalSize,
			time.Unix(img.IndexedAt, 0).Format("2006-01-02 15:04"))
	}
	return nil
}

func runIndexSearch(cmd *cobra.Command, args []string) error {
	c, err := openCatalog()
	if err != nil {
		return err
	}
	defer c.Close()

	hits, err := c.Search(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(hits) == 0 {
		fmt.Println("No matches")
		return nil
	}

	for _, h := range hits {
		fmt.Printf("%s:/%s\n", h.Device, h.Path)
	}
	return nil
}

func runIndexRm(cmd *cobra.Command, args []string) error {
	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	c, err := openCatalog()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Remove(cmd.Context(), absPath); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("not indexed: %s", absPath)
		}
		return fmt.Errorf("failed to remove %s: %w", absPath, err)
	}

	fmt.Printf("Removed %s from the catalog\n", absPath)
	return nil
}
