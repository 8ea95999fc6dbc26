package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"extvfs/internal/common"
	"extvfs/internal/util"
	"extvfs/internal/vfs"
)

// entryBatchSize is the number of entry rows per INSERT statement.
const entryBatchSize = 500

// ImageRecord identifies and describes the image being indexed.
// The caller fills it from the mounted superblock.
type ImageRecord struct {
	Device     string
	UUID       string
	Label      string
	BlockSize  uint32
	BlockCount uint64
}

// Index walks the tree behind v and replaces the catalog's inventory for
// rec.Device. Traversal runs over the io/fs view of the VFS; raw
// attributes come straight from the VFS so inode numbers and type bits
// survive the trip into the database.
func (c *Catalog) Index(ctx context.Context, v *vfs.VFS, rec ImageRecord) (*ImageModel, error) {
	if rec.Device == "" {
		return nil, fmt.Errorf("index: %w: empty device path", common.ErrInvalidArgument)
	}

	entries, fileCount, totalSize, err := collectEntries(v)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", rec.Device, err)
	}

	// The replacement runs in one transaction so readers never observe a
	// half-indexed image. Retried because another extvfs process may hold
	// the catalog open concurrently; each attempt builds a fresh row so a
	// failed insert leaves no stale ID behind.
	image, err := util.RetryWithResult(ctx, func() (*ImageModel, error) {
		image := &ImageModel{
			Device:     rec.Device,
			UUID:       rec.UUID,
			Label:      rec.Label,
			BlockSize:  int64(rec.BlockSize),
			BlockCount: int64(rec.BlockCount),
			FileCount:  fileCount,
			TotalSize:  totalSize,
			IndexedAt:  time.Now().Unix(),
		}
		err := c.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			old, err := c.db.GetImageByDeviceWith(tx, ctx, rec.Device)
			if err != nil && !errors.Is(err, common.ErrNotFound) {
				return err
			}
			if old != nil {
				if err := c.db.DeleteImageDataWith(tx, ctx, old.ID); err != nil {
					return err
				}
			}
			if err := c.db.InsertImageWith(tx, ctx, image); err != nil {
				return err
			}
			for start := 0; start < len(entries); start += entryBatchSize {
				end := start + entryBatchSize
				if end > len(entries) {
					end = len(entries)
				}
				batch := entries[start:end]
				for i := range batch {
					batch[i].ImageID = image.ID
				}
				if err := c.db.InsertEntriesWith(tx, ctx, batch); err != nil {
					return err
				}
			}
			return nil
		})
		return image, err
	}, util.DatabaseRetryOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", rec.Device, err)
	}

	log.Infof("[Catalog] Indexed %s: %d entries (%d files, %d bytes)",
		rec.Device, len(entries), fileCount, totalSize)
	return image, nil
}

// collectEntries walks the mounted tree and builds the entry rows.
// Returns the rows plus the regular-file count and cumulative size.
func collectEntries(v *vfs.VFS) ([]EntryModel, int64, int64, error) {
	fsys := vfs.FS(v)
	var entries []EntryModel
	var files, bytes int64

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			// The root directory is implied by the image row.
			return nil
		}
		st, err := v.Stat("/" + p)
		if err != nil {
			return err
		}
		e := EntryModel{
			Path:  p,
			Name:  d.Name(),
			Ino:   int64(st.Ino),
			Mode:  int64(st.Mode),
			Size:  int64(st.Size),
			Mtime: st.Mtime.Unix(),
		}
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := v.Readlink("/" + p)
			if err != nil {
				return err
			}
			e.Target = target
		}
		if d.Type().IsRegular() {
			files++
			bytes += e.Size
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, 0, 0, err
	}
	return entries, files, bytes, nil
}
