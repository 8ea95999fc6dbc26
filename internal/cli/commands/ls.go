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
	"path"

	"github.com/spf13/cobra"

	"extvfs/internal/vfs"
)

var lsCmd = &cobra.Command{
	Use:   "ls <image> [path]",
	Short: "List a directory inside an image",
	Long: `List the entries of a directory inside an ext4 image. With no path
the root directory is listed.

Examples:
  extvfs ls disk.img
  extvfs ls disk.img /etc
  extvfs ls -l disk.img /var/log`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLs,
}

var lsLong bool

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "Long listing: mode, links, size, mtime")
}

func runLs(cmd *cobra.Command, args []string) error {
	v, cleanup, err := mountImage(args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	dir := "/"
	if len(args) > 1 {
		dir = args[1]
	}

	h, err := v.Open(dir, os.O_RDONLY)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", dir, err)
	}
	defer v.Close(h)

	for {
		ent, err := v.ReadDir(h)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", dir, err)
		}
		if ent.Name == "." || ent.Name == ".." {
			continue
		}
		if !lsLong {
			fmt.Println(ent.Name)
			continue
		}
		if err := printLong(v, dir, ent); err != nil {
			return err
		}
	}
	return nil
}

func printLong(v *vfs.VFS, dir string, ent *vfs.DirEntry) error {
	full := path.Join(dir, ent.Name)
	st, err := v.Stat(full)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", full, err)
	}

	name := ent.Name
	if st.Type() == vfs.NodeSymlink {
		if target, err := v.Readlink(full); err == nil {
			name += " -> " + target
		}
	}
	fmt.Printf("%-11s %4d %10d %s %s\n",
		st.FileMode(), st.Nlink, st.Size,
		st.Mtime.Format("2006-01-02 15:04"), name)
	return nil
}
