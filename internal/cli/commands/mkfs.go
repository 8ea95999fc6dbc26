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
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"extvfs/internal/mkfs"
)

var (
	mkfsFrom      string
	mkfsBlockSize uint32
	mkfsBlocks    uint64
	mkfsInodes    uint32
	mkfsLabel     string
	mkfsUUID      string
	mkfsGitignore bool
	mkfsIncludes  []string
	mkfsExcludes  []string
	mkfsForce     bool
)

var mkfsCmd = &cobra.Command{
	Use:   "mkfs <output>",
	Short: "Build an ext4 image",
	Long: `Builds an ext4 image, optionally populated from a host directory.
Without an explicit --blocks count the image is sized to fit its
contents.

Examples:
  extvfs mkfs empty.img --blocks 2048
  extvfs mkfs rootfs.img --from ./rootfs --label rootfs
  extvfs mkfs src.img --from . --gitignore --exclude '*.o'`,
	Args: cobra.ExactArgs(1),
	RunE: runMkfs,
}

func init() {
	mkfsCmd.Flags().StringVar(&mkfsFrom, "from", "", "Populate the image from this directory")
	mkfsCmd.Flags().Uint32Var(&mkfsBlockSize, "block-size", 0, "Block size in bytes: 1024, 2048 or 4096")
	mkfsCmd.Flags().Uint64Var(&mkfsBlocks, "blocks", 0, "Total block count (default: sized to fit)")
	mkfsCmd.Flags().Uint32Var(&mkfsInodes, "inodes", 0, "Inode count (default: sized to fit)")
	mkfsCmd.Flags().StringVar(&mkfsLabel, "label", "", "Volume label (up to 16 bytes)")
	mkfsCmd.Flags().StringVar(&mkfsUUID, "uuid", "", "Filesystem UUID (default: random)")
	mkfsCmd.Flags().BoolVar(&mkfsGitignore, "gitignore", false, "Honor .gitignore files under --from")
	mkfsCmd.Flags().StringArrayVar(&mkfsIncludes, "include", nil, "Pattern to import even when ignored (repeatable)")
	mkfsCmd.Flags().StringArrayVar(&mkfsExcludes, "exclude", nil, "Pattern to leave out of the image (repeatable)")
	mkfsCmd.Flags().BoolVarP(&mkfsForce, "force", "f", false, "Overwrite an existing output file")
	rootCmd.AddCommand(mkfsCmd)
}

func runMkfs(cmd *cobra.Command, args []string) error {
	output, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	if !mkfsForce {
		if _, err := os.Stat(output); err == nil {
			return fmt.Errorf("output exists: %s (use --force to overwrite)", output)
		}
	}

	opts := mkfs.Options{
		BlockSize:  mkfsBlockSize,
		Blocks:     mkfsBlocks,
		InodeCount: mkfsInodes,
		VolumeName: mkfsLabel,
	}
	if mkfsUUID != "" {
		id, err := uuid.Parse(mkfsUUID)
		if err != nil {
			return fmt.Errorf("invalid uuid %q: %w", mkfsUUID, err)
		}
		opts.UUID = id
	}

	b := mkfs.NewBuilder(opts)

	if mkfsFrom != "" {
		dir, err := filepath.Abs(mkfsFrom)
		if err != nil {
			return fmt.Errorf("failed to resolve path: %w", err)
		}
		filter := mkfs.BuildFileFilter(dir, mkfsGitignore, mkfsIncludes, mkfsExcludes)
		if err := mkfs.FromDir(b, dir, filter); err != nil {
			return fmt.Errorf("failed to import %s: %w", dir, err)
		}
	}

	if mkfsBlocks == 0 {
		// Sized to fit unless the caller pinned the block count.
		b.Autosize()
	}

	img, err := b.Build()
	if err != nil {
		return fmt.Errorf("failed to build image: %w", err)
	}

	// Overwriting an existing image needs the exclusive lock; a serve
	// or index holding the shared lock wins.
	if _, err := os.Stat(output); err == nil {
		lock, err := lockImage(output)
		if err != nil {
			return err
		}
		defer lock.Unlock()
	}

	if err := os.WriteFile(output, img.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	fmt.Printf("Created %s: %d blocks of %d bytes\n", output, img.Blocks, img.BlockSize)
	if mkfsFrom != "" {
		fmt.Printf("Imported %d entries from %s\n", len(img.Inodes), mkfsFrom)
	}
	return nil
}
