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

	"github.com/gofrs/flock"

	"extvfs/internal/blockdev"
	"extvfs/internal/catalog"
	"extvfs/internal/server"
	"extvfs/internal/vfs"
)

// mountImage opens an image file and mounts it at the root of a fresh
// VFS. The device holds the shared image lock while mounted, so a
// concurrent mkfs --force cannot rebuild the image out from under the
// reader. The returned cleanup tears down the mount and the device.
func mountImage(path string) (*vfs.VFS, func(), error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve image path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, nil, fmt.Errorf("image not found: %s", absPath)
	}

	dev, err := blockdev.OpenFile(absPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open image: %w", err)
	}
	v := vfs.New()
	if err := v.MountFS("/", "ext4", dev); err != nil {
		dev.Close()
		return nil, nil, fmt.Errorf("failed to mount image: %w", err)
	}
	return v, func() {
		v.Shutdown()
		dev.Close()
	}, nil
}

// lockImage takes the exclusive advisory lock used to rebuild an image
// in place. It fails while any reader holds the device's shared lock.
func lockImage(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("image is in use: %s", path)
	}
	return lock, nil
}

// openCatalog opens the image catalog in the config directory.
func openCatalog() (*catalog.Catalog, error) {
	c, err := catalog.Open(server.CatalogPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	return c, nil
}
