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

// Package catalog maintains a SQLite inventory of indexed images: one row
// per image plus one row per node found while walking its tree. The
// catalog is a side index for search and listing; the image itself stays
// the source of truth.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	_ "github.com/tursodatabase/go-libsql"

	"extvfs/internal/util"
)

// Catalog is an open catalog database.
type Catalog struct {
	path  string
	sqlDB *sql.DB
	db    *BunDB
}

func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
// libsql ignores DSN-based _pragma=value parameters, so all PRAGMAs must be
// set explicitly via SQL statements after the connection is opened.
func applyPragmas(db *sql.DB) error {
	// Busy timeout MUST be set first so the subsequent PRAGMAs (especially
	// journal_mode=WAL, which needs exclusive access) wait for locks
	// instead of failing immediately with "database is locked".
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", GetBusyTimeout())); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	// WAL mode: enables concurrent readers during writes.
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	// synchronous=NORMAL: safe against process crashes in WAL mode while
	// avoiding an fsync on every commit.
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return nil
}

// Open opens the catalog database at path, creating the schema on first use.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	// Schema creation is idempotent, so a fresh file and an existing
	// catalog take the same path here.
	if err := execStatements(db, catalogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if err := execStatements(db, initCatalog, SchemaVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}

	bunDB := NewBunDB(db)

	fileType, err := bunDB.GetSchemaInfo(context.Background(), "type")
	if err != nil {
		db.Close()
		return nil, err
	}
	if fileType != "catalog" {
		db.Close()
		return nil, fmt.Errorf("not a catalog database: %s", path)
	}

	log.Debugf("[Catalog] Opened %s (schema v%s)", path, SchemaVersion)
	return &Catalog{path: path, sqlDB: db, db: bunDB}, nil
}

// Close closes the catalog database.
func (c *Catalog) Close() error {
	return c.sqlDB.Close()
}

// Path returns the location of the catalog database file.
func (c *Catalog) Path() string {
	return c.path
}

// DB exposes the underlying query layer.
func (c *Catalog) DB() *BunDB {
	return c.db
}

// Image returns the catalog row for a device.
func (c *Catalog) Image(ctx context.Context, device string) (*ImageModel, error) {
	return c.db.GetImageByDevice(ctx, device)
}

// Images returns all indexed images.
func (c *Catalog) Images(ctx context.Context) ([]ImageModel, error) {
	return c.db.ListImages(ctx)
}

// Entries returns the indexed entries of a device, optionally restricted
// to the subtree under prefix.
func (c *Catalog) Entries(ctx context.Context, device, prefix string) ([]Entry, error) {
	image, err := c.db.GetImageByDevice(ctx, device)
	if err != nil {
		return nil, err
	}
	models, err := c.db.ListEntries(ctx, image.ID, prefix)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(models))
	for i := range models {
		entries[i] = models[i].ToEntry()
	}
	return entries, nil
}

// Search finds entries by name substring across all indexed images.
func (c *Catalog) Search(ctx context.Context, pattern string) ([]SearchHit, error) {
	return c.db.SearchEntries(ctx, pattern)
}

// Remove drops a device and its entries from the catalog.
// Retried on "database is locked" since another extvfs process may
// hold the catalog open concurrently.
func (c *Catalog) Remove(ctx context.Context, device string) error {
	image, err := c.db.GetImageByDevice(ctx, device)
	if err != nil {
		return err
	}
	return util.Retry(ctx, func() error {
		return c.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			return c.db.DeleteImageDataWith(tx, ctx, image.ID)
		})
	}, util.DatabaseRetryOptions(ctx)...)
}
