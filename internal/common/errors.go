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

package common

import "errors"

// Structural errors reported by the on-disk parsers.
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrInvalidSuperblock     = errors.New("invalid superblock")
	ErrInvalidGroupIndex     = errors.New("invalid block group index")
	ErrInvalidInode          = errors.New("invalid inode number")
	ErrUnsupportedAddressing = errors.New("inode does not use extent addressing")
	ErrBlockNotMapped        = errors.New("logical block not mapped")
	ErrCorruptExtent         = errors.New("corrupt extent node")
	ErrIO                    = errors.New("I/O error")
)

// Resolution and registry errors reported by the VFS layer.
var (
	ErrNotFound       = errors.New("not found")
	ErrNotDir         = errors.New("not a directory")
	ErrIsDir          = errors.New("is a directory")
	ErrInvalidPath    = errors.New("invalid path")
	ErrInvalidHandle  = errors.New("invalid handle")
	ErrNotSupported   = errors.New("operation not supported")
	ErrReadOnly       = errors.New("read-only filesystem")
	ErrOutOfResources = errors.New("out of resources")
	ErrNoRoot         = errors.New("no root filesystem mounted")
)
