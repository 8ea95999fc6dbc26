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

	"github.com/spf13/cobra"

	"extvfs/internal/vfs"
)

var statCmd = &cobra.Command{
	Use:   "stat <image> <path>...",
	Short: "Show inode metadata for paths inside an image",
	Long: `Show the full stat record of one or more paths inside an ext4 image:
type, mode, link count, ownership, size, block usage and timestamps.

Examples:
  extvfs stat disk.img /etc/passwd
  extvfs stat disk.img / /usr /usr/bin/env`,
	Args: cobra.MinimumNArgs(2),
	RunE: runStat,
}

func init() {
	rootCmd.AddCommand(statCmd)
}

func runStat(cmd *cobra.Command, args []string) error {
	v, cleanup, err := mountImage(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	for i, p := range args[1:] {
		if i > 0 {
			fmt.Println()
		}
		if err := printStat(v, p); err != nil {
			return err
		}
	}
	return nil
}

func printStat(v *vfs.VFS, p string) error {
	st, err := v.Stat(p)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", p, err)
	}

	fmt.Printf("Path: %s\n", p)
	fmt.Printf("Type: %s\n", st.Type())
	fmt.Printf("Mode: %s (%04o)\n", st.FileMode(), st.Perm())
	fmt.Printf("Inode: %d\n", st.Ino)
	fmt.Printf("Links: %d\n", st.Nlink)
	fmt.Printf("Owner: %d:%d\n", st.UID, st.GID)
	fmt.Printf("Size: %d\n", st.Size)
	fmt.Printf("Blocks: %d (block size %d)\n", st.Blocks, st.BlockSize)
	fmt.Printf("Atime: %s\n", st.Atime.Format("2006-01-02 15:04:05"))
	fmt.Printf("Mtime: %s\n", st.Mtime.Format("2006-01-02 15:04:05"))
	fmt.Printf("Ctime: %s\n", st.Ctime.Format("2006-01-02 15:04:05"))

	if st.Type() == vfs.NodeSymlink {
		if target, err := v.Readlink(p); err == nil {
			fmt.Printf("Target: %s\n", target)
		}
	}
	return nil
}
