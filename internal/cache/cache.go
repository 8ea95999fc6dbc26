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

// Package cache provides cache implementations for the extvfs serving layer.
//
// An image behind a mount never changes, so cached attributes stay valid
// for as long as the mount table does. Invalidation is therefore coarse:
// the NFS server flushes on unmount and shutdown rather than tracking
// per-operation effects.
package cache

import "os"

// Disabled turns every cache into a pass-through.
// Set via EXTVFS_CACHE=0. Useful for verifying logic without caching and
// for isolating cache-related bugs.
var Disabled = os.Getenv("EXTVFS_CACHE") == "0"
