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

package catalog

import (
	"time"

	"github.com/uptrace/bun"
)

// Bun ORM models for the extvfs catalog database.

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// ImageModel represents one indexed image in the images table
type ImageModel struct {
	bun.BaseModel `bun:"table:images"`

	ID         int64  `bun:"id,pk,autoincrement"`
	Device     string `bun:"device,notnull,unique"`
	UUID       string `bun:"uuid"`
	Label      string `bun:"label"`
	BlockSize  int64  `bun:"block_size,notnull"`
	BlockCount int64  `bun:"block_count,notnull"`
	FileCount  int64  `bun:"file_count,notnull"`  // regular files only
	TotalSize  int64  `bun:"total_size,notnull"`  // sum of file sizes in bytes
	IndexedAt  int64  `bun:"indexed_at,notnull"`  // Unix timestamp
}

// EntryModel represents one node of an indexed image in the entries table.
// Paths are image-relative without a leading slash ("docs/readme.md").
type EntryModel struct {
	bun.BaseModel `bun:"table:entries"`

	ImageID int64  `bun:"image_id,pk"`
	Path    string `bun:"path,pk"`
	Name    string `bun:"name,notnull"`
	Ino     int64  `bun:"ino,notnull"`
	Mode    int64  `bun:"mode,notnull"` // raw mode including type bits
	Size    int64  `bun:"size,notnull"`
	Mtime   int64  `bun:"mtime,notnull"` // Unix timestamp
	Target  string `bun:"target"`        // symlink target, empty otherwise
}

// Entry is the presentation form of an EntryModel.
type Entry struct {
	Path   string
	Name   string
	Ino    uint64
	Mode   uint32
	Size   int64
	Mtime  time.Time
	Target string
}

// ToEntry converts an EntryModel to an Entry
func (m *EntryModel) ToEntry() Entry {
	return Entry{
		Path:   m.Path,
		Name:   m.Name,
		Ino:    uint64(m.Ino),
		Mode:   uint32(m.Mode),
		Size:   m.Size,
		Mtime:  time.Unix(m.Mtime, 0),
		Target: m.Target,
	}
}

// SearchHit is one row of a cross-image name search.
type SearchHit struct {
	Device string `bun:"device"`
	Path   string `bun:"path"`
	Ino    int64  `bun:"ino"`
	Mode   int64  `bun:"mode"`
	Size   int64  `bun:"size"`
}
