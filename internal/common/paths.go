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

import (
	"path"
	"strings"
)

// PathMax is the longest path the VFS accepts, in bytes.
const PathMax = 512

// VFS paths are always slash-separated regardless of host OS, so the
// helpers below build on package path, not path/filepath.

// NormalizePath cleans p into its canonical root-relative form: "."
// segments collapsed, ".." resolved by popping (never above the root),
// no leading or trailing slashes. The root itself normalizes to "".
func NormalizePath(p string) string {
	// Anchor at the root so ".." cannot escape it.
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// SplitPath returns the components of p from the root down. The root
// itself has no components.
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// JoinPath joins components into one normalized path.
func JoinPath(parts ...string) string {
	return NormalizePath(strings.Join(parts, "/"))
}

// ParentPath returns p's parent, or "" when p is the root or a
// top-level name.
func ParentPath(p string) string {
	p = NormalizePath(p)
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

// BaseName returns the last component of p, or "" for the root.
func BaseName(p string) string {
	p = NormalizePath(p)
	return p[strings.LastIndexByte(p, '/')+1:]
}
