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
	"io"
	"os"

	"github.com/spf13/cobra"

	"extvfs/internal/vfs"
)

var catCmd = &cobra.Command{
	Use:   "cat <image> <path>...",
	Short: "Print files from an image to stdout",
	Long: `Stream one or more files out of an ext4 image to stdout, in order.

Examples:
  extvfs cat disk.img /etc/hostname
  extvfs cat disk.img /etc/passwd /etc/group > combined.txt`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCat,
}

func init() {
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) error {
	v, cleanup, err := mountImage(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	for _, p := range args[1:] {
		if err := catFile(v, p); err != nil {
			return err
		}
	}
	return nil
}

func catFile(v *vfs.VFS, p string) error {
	h, err := v.Open(p, os.O_RDONLY)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer v.Close(h)

	buf := make([]byte, 64<<10)
	for {
		n, err := v.Read(h, buf)
		if n > 0 {
			if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
	}
}
