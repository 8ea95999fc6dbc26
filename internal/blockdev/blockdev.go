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

// Package blockdev provides the block device abstraction the filesystem
// drivers read from: a fixed-size byte store addressable at arbitrary byte
// offsets. Callers are responsible for block alignment where it matters.
package blockdev

import (
	"fmt"
	"io"
	"os"

	"github.com/gofrs/flock"

	"extvfs/internal/common"
)

// Device is the read side of a block device. ReadAt must fill the whole
// buffer or return an error; partial reads are never silently returned.
type Device interface {
	io.ReaderAt
	Size() int64
	Name() string
}

// FileDevice is a Device backed by a filesystem image file. The image is
// held under a shared advisory lock for the lifetime of the device so a
// concurrent writer cannot modify it mid-read.
type FileDevice struct {
	f    *os.File
	lock *flock.Flock
	size int64
	name string
}

// OpenFile opens an image file as a read-only block device.
func OpenFile(path string) (*FileDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}

	lock := flock.New(path)
	locked, err := lock.TryRLock()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to acquire image lock: %w", err)
	}
	if !locked {
		f.Close()
		return nil, fmt.Errorf("image %s is locked by a writer", path)
	}

	st, err := f.Stat()
	if err != nil {
		lock.Unlock()
		f.Close()
		return nil, fmt.Errorf("stat image: %w", err)
	}

	return &FileDevice{
		f:    f,
		lock: lock,
		size: st.Size(),
		name: path,
	}, nil
}

// ReadAt reads len(p) bytes at byte offset off. A short read from the
// underlying file is reported as an I/O error, never as partial success.
func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	n, err := d.f.ReadAt(p, off)
	if err != nil {
		return n, fmt.Errorf("%w: read %d bytes at offset %d: %v", common.ErrIO, len(p), off, err)
	}
	return n, nil
}

// Size returns the image size in bytes.
func (d *FileDevice) Size() int64 {
	return d.size
}

// Name returns the image path.
func (d *FileDevice) Name() string {
	return d.name
}

// Close releases the image lock and closes the file.
func (d *FileDevice) Close() error {
	if d.lock != nil {
		d.lock.Unlock()
		d.lock = nil
	}
	return d.f.Close()
}

// MemDevice is a Device backed by an in-memory byte slice. It also accepts
// writes, which the image builder and the tests use.
type MemDevice struct {
	name string
	data []byte
}

// NewMem wraps data as an in-memory block device.
func NewMem(name string, data []byte) *MemDevice {
	return &MemDevice{name: name, data: data}
}

func (d *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(d.data)) {
		return 0, fmt.Errorf("%w: read %d bytes at offset %d beyond device size %d",
			common.ErrIO, len(p), off, len(d.data))
	}
	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("%w: short read of %d bytes at offset %d", common.ErrIO, len(p), off)
	}
	return n, nil
}

func (d *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || int64(len(d.data)) < off+int64(len(p)) {
		return 0, fmt.Errorf("%w: write %d bytes at offset %d beyond device size %d",
			common.ErrIO, len(p), off, len(d.data))
	}
	return copy(d.data[off:], p), nil
}

func (d *MemDevice) Size() int64 {
	return int64(len(d.data))
}

func (d *MemDevice) Name() string {
	return d.name
}

// Bytes exposes the underlying slice.
func (d *MemDevice) Bytes() []byte {
	return d.data
}
