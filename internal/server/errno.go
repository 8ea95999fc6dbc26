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

package server

import (
	"errors"
	"io"
	"os"
	"syscall"

	"extvfs/internal/common"
)

// errnoOf maps the VFS error taxonomy onto syscall errnos. The NFS
// handlers classify failures with os.IsNotExist and friends, so the billy
// adapter hands them *os.PathError values carrying the matching errno.
func errnoOf(err error) syscall.Errno {
	switch {
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrNoRoot):
		return syscall.ENOENT
	case errors.Is(err, common.ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, common.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, common.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, common.ErrNotSupported):
		return syscall.ENOTSUP
	case errors.Is(err, common.ErrInvalidArgument), errors.Is(err, common.ErrInvalidPath):
		return syscall.EINVAL
	case errors.Is(err, common.ErrInvalidHandle):
		return syscall.EBADF
	case errors.Is(err, common.ErrOutOfResources):
		return syscall.EMFILE
	default:
		// Structural corruption and device failures surface as plain I/O
		// errors; the client cannot do anything smarter with them.
		return syscall.EIO
	}
}

// pathError wraps a VFS error for the file server. io.EOF passes through
// untouched; read loops depend on it.
func pathError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return &os.PathError{Op: op, Path: path, Err: errnoOf(err)}
}
