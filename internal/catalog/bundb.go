package catalog

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"extvfs/internal/common"
)

// BunDB wraps a Bun database instance for type-safe queries.
type BunDB struct {
	*bun.DB
}

// NewBunDB wraps an existing *sql.DB with Bun's type-safe query builder.
func NewBunDB(sqlDB *sql.DB) *BunDB {
	bunDB := bun.NewDB(sqlDB, sqlitedialect.New())
	return &BunDB{DB: bunDB}
}

// --- Schema Info Operations ---

// GetSchemaInfo retrieves a schema info value by key.
func (db *BunDB) GetSchemaInfo(ctx context.Context, key string) (string, error) {
	var info SchemaInfoModel
	err := db.NewSelect().
		Model(&info).
		Where("key = ?", key).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.Value, nil
}

// SetSchemaInfo sets a schema info value (upserts).
func (db *BunDB) SetSchemaInfo(ctx context.Context, key, value string) error {
	_, err := db.NewInsert().
		Model(&SchemaInfoModel{Key: key, Value: value}).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	return err
}

// --- Image Operations ---

// GetImageByDevice retrieves an image row by device path.
// Returns ErrNotFound if the device has not been indexed.
func (db *BunDB) GetImageByDevice(ctx context.Context, device string) (*ImageModel, error) {
	return db.getImageByDeviceWith(db.DB, ctx, device)
}

// GetImageByDeviceWith is like GetImageByDevice but uses the provided
// bun.IDB (for transaction support).
func (db *BunDB) GetImageByDeviceWith(idb bun.IDB, ctx context.Context, device string) (*ImageModel, error) {
	return db.getImageByDeviceWith(idb, ctx, device)
}

func (db *BunDB) getImageByDeviceWith(idb bun.IDB, ctx context.Context, device string) (*ImageModel, error) {
	var image ImageModel
	err := idb.NewSelect().
		Model(&image).
		Where("device = ?", device).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &image, nil
}

// ListImages retrieves all indexed images ordered by device path.
func (db *BunDB) ListImages(ctx context.Context) ([]ImageModel, error) {
	var images []ImageModel
	err := db.NewSelect().
		Model(&images).
		Order("device").
		Scan(ctx)
	return images, err
}

// InsertImageWith inserts a new image row and fills its ID.
// Uses a RETURNING clause because libsql doesn't support LastInsertId.
func (db *BunDB) InsertImageWith(idb bun.IDB, ctx context.Context, image *ImageModel) error {
	_, err := idb.NewInsert().
		Model(image).
		Returning("id").
		Exec(ctx)
	return err
}

// DeleteImageDataWith deletes an image row and all its entries.
func (db *BunDB) DeleteImageDataWith(idb bun.IDB, ctx context.Context, imageID int64) error {
	if _, err := idb.NewDelete().Model((*EntryModel)(nil)).Where("image_id = ?", imageID).Exec(ctx); err != nil {
		return err
	}
	if _, err := idb.NewDelete().Model((*ImageModel)(nil)).Where("id = ?", imageID).Exec(ctx); err != nil {
		return err
	}
	return nil
}

// --- Entry Operations ---

// InsertEntriesWith bulk-inserts a batch of entries.
func (db *BunDB) InsertEntriesWith(idb bun.IDB, ctx context.Context, entries []EntryModel) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := idb.NewInsert().Model(&entries).Exec(ctx)
	return err
}

// GetEntry retrieves a single entry by image-relative path.
// Returns ErrNotFound if the path was not indexed.
func (db *BunDB) GetEntry(ctx context.Context, imageID int64, path string) (*EntryModel, error) {
	var entry EntryModel
	err := db.NewSelect().
		Model(&entry).
		Where("image_id = ?", imageID).
		Where("path = ?", path).
		Scan(ctx)
	if err == sql.ErrNoRows {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListEntries retrieves entries of an image ordered by path.
// A non-empty prefix restricts the listing to that subtree.
func (db *BunDB) ListEntries(ctx context.Context, imageID int64, prefix string) ([]EntryModel, error) {
	q := db.NewSelect().
		Model((*EntryModel)(nil)).
		Where("image_id = ?", imageID)
	if prefix != "" {
		q = q.Where("(path = ? OR path LIKE ?)", prefix, prefix+"/%")
	}
	var entries []EntryModel
	err := q.Order("path").Scan(ctx, &entries)
	return entries, err
}

// CountEntries returns the number of indexed entries for an image.
func (db *BunDB) CountEntries(ctx context.Context, imageID int64) (int64, error) {
	var count sql.NullInt64
	err := db.NewRaw(`SELECT COUNT(*) FROM entries WHERE image_id = ?`, imageID).Scan(ctx, &count)
	if err != nil {
		return 0, err
	}
	if count.Valid {
		return count.Int64, nil
	}
	return 0, nil
}

// SearchEntries finds entries whose name contains the pattern, across all
// indexed images. Results carry the owning device path.
func (db *BunDB) SearchEntries(ctx context.Context, pattern string) ([]SearchHit, error) {
	var hits []SearchHit
	err := db.NewRaw(`
		SELECT img.device, e.path, e.ino, e.mode, e.size
		FROM entries e
		INNER JOIN images img ON e.image_id = img.id
		WHERE e.name LIKE ?
		ORDER BY img.device, e.path
	`, "%"+pattern+"%").Scan(ctx, &hits)
	return hits, err
}
