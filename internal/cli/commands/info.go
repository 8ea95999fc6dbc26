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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"extvfs/internal/blockdev"
	"extvfs/internal/common"
	"extvfs/internal/ext4"
)

var infoCmd = &cobra.Command{
	Use:   "info <image>",
	Short: "Show superblock information for an image",
	Long: `Show the superblock of an ext4 image: label, UUID, geometry, free
space and feature flags, plus the catalog status if the image has been
indexed.

Examples:
  extvfs info disk.img
  extvfs info ~/images/rootfs.img`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	fi, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("image not found: %s", absPath)
	}

	dev, err := blockdev.OpenFile(absPath)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer dev.Close()

	fsctx, err := ext4.Mount(dev)
	if err != nil {
		return fmt.Errorf("failed to read superblock: %w", err)
	}
	defer fsctx.Unmount()

	sb := fsctx.Superblock()
	fmt.Printf("Path: %s\n", absPath)
	fmt.Printf("Size: %d bytes\n", fi.Size())
	if label := sb.VolumeLabel(); label != "" {
		fmt.Printf("Label: %s\n", label)
	}
	fmt.Printf("UUID: %s\n", sb.UUIDString())
	fmt.Printf("Block size: %d\n", fsctx.BlockSize())
	fmt.Printf("Blocks: %d (%d free)\n", fsctx.BlockCount(), sb.FreeBlocksCountLo)
	fmt.Printf("Inodes: %d (%d free)\n", sb.InodesCount, sb.FreeInodesCount)
	fmt.Printf("Block groups: %d\n", fsctx.GroupCount())
	fmt.Printf("Features: %s\n", featureNames(sb.FeatureIncompat))
	if sb.MkfsTime != 0 {
		fmt.Printf("Created: %s\n", time.Unix(int64(sb.MkfsTime), 0).Format(time.RFC3339))
	}

	printCatalogStatus(absPath)
	return nil
}

func featureNames(incompat uint32) string {
	var names []string
	if incompat&ext4.FeatureIncompatFiletype != 0 {
		names = append(names, "filetype")
	}
	if incompat&ext4.FeatureIncompatExtents != 0 {
		names = append(names, "extents")
	}
	if incompat&ext4.FeatureIncompat64Bit != 0 {
		names = append(names, "64bit")
	}
	if incompat&ext4.FeatureIncompatFlexBG != 0 {
		names = append(names, "flex_bg")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

// printCatalogStatus reports whether the image is in the catalog.
// Catalog trouble is not worth failing info over.
func printCatalogStatus(device string) {
	c, err := openCatalog()
	if err != nil {
		return
	}
	defer c.Close()

	image, err := c.Image(context.Background(), device)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			fmt.Println("Indexed: no")
		}
		return
	}
	fmt.Printf("Indexed: %d files, %d bytes, %s\n",
		image.FileCount, image.TotalSize,
		time.Unix(image.IndexedAt, 0).Format(time.RFC3339))
}
