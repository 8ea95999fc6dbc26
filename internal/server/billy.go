package server

import (
	"errors"
	"io"
	"os"
	"path"
	"time"

	billy "github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"
	nfsfile "github.com/willscott/go-nfs/file"

	"extvfs/internal/cache"
	"extvfs/internal/common"
	"extvfs/internal/vfs"
)

// BillyAdapter adapts the read-only VFS to the Billy filesystem interface
type BillyAdapter struct {
	v     *vfs.VFS
	attrs *cache.AttrCache
	uid   uint32 // os.Getuid(), cached at construction
	gid   uint32 // os.Getgid(), cached at construction
}

// NewBillyAdapter creates a Billy adapter for the VFS. Every file is
// reported as owned by the serving user; the export is null-auth and
// read-only, so on-disk ownership would only produce EACCES surprises
// on the client side.
func NewBillyAdapter(v *vfs.VFS, attrs *cache.AttrCache) *BillyAdapter {
	return &BillyAdapter{
		v:     v,
		attrs: attrs,
		uid:   uint32(os.Getuid()),
		gid:   uint32(os.Getgid()),
	}
}

// stat resolves metadata through the attribute cache.
func (b *BillyAdapter) stat(filename string) (*vfs.Stat, error) {
	key := common.NormalizePath(filename)
	if st := b.attrs.Get(key); st != nil {
		return st, nil
	}
	st, err := b.v.Stat(filename)
	if err != nil {
		return nil, err
	}
	b.attrs.Set(key, st)
	return st, nil
}

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	return nil, pathError("create", filename, common.ErrReadOnly)
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyAdapter) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	handle, err := b.v.Open(filename, flag)
	if err != nil {
		return nil, pathError("open", filename, err)
	}
	return &BillyFile{
		adapter: b,
		handle:  handle,
		name:    filename,
	}, nil
}

func (b *BillyAdapter) Stat(filename string) (os.FileInfo, error) {
	st, err := b.stat(filename)
	if err != nil {
		return nil, pathError("stat", filename, err)
	}
	return &BillyFileInfo{
		name:    path.Base(path.Clean("/" + filename)),
		stat:    st,
		adapter: b,
	}, nil
}

// Lstat and Stat are identical: path resolution never follows symlinks,
// so the final component is always the link itself.
func (b *BillyAdapter) Lstat(filename string) (os.FileInfo, error) {
	return b.Stat(filename)
}

func (b *BillyAdapter) Rename(oldpath, newpath string) error {
	return pathError("rename", oldpath, common.ErrReadOnly)
}

func (b *BillyAdapter) Remove(filename string) error {
	return pathError("remove", filename, common.ErrReadOnly)
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyAdapter) TempFile(dir, prefix string) (billy.File, error) {
	return nil, pathError("tempfile", dir, common.ErrReadOnly)
}

func (b *BillyAdapter) ReadDir(dirname string) ([]os.FileInfo, error) {
	handle, err := b.v.Open(dirname, os.O_RDONLY)
	if err != nil {
		return nil, pathError("readdir", dirname, err)
	}
	defer b.v.Close(handle)

	var result []os.FileInfo
	for {
		ent, err := b.v.ReadDir(handle)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, pathError("readdir", dirname, err)
		}
		if ent.Name == "." || ent.Name == ".." {
			continue
		}
		st, err := b.stat(b.Join(dirname, ent.Name))
		if err != nil {
			// An entry that cannot be stat'ed is dropped from the listing
			// rather than failing the whole READDIR.
			log.Debugf("[NFS] Skipping %s: %v", ent.Name, err)
			continue
		}
		result = append(result, &BillyFileInfo{
			name:    ent.Name,
			stat:    st,
			adapter: b,
		})
	}
	return result, nil
}

func (b *BillyAdapter) MkdirAll(filename string, perm os.FileMode) error {
	return pathError("mkdir", filename, common.ErrReadOnly)
}

func (b *BillyAdapter) Symlink(target, link string) error {
	return pathError("symlink", link, common.ErrReadOnly)
}

func (b *BillyAdapter) Readlink(link string) (string, error) {
	target, err := b.v.Readlink(link)
	if err != nil {
		return "", pathError("readlink", link, err)
	}
	return target, nil
}

func (b *BillyAdapter) Chroot(path string) (billy.Filesystem, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) Root() string {
	return "/"
}

// billy.Change interface
func (b *BillyAdapter) Chmod(name string, mode os.FileMode) error {
	return pathError("chmod", name, common.ErrReadOnly)
}

func (b *BillyAdapter) Lchown(name string, uid, gid int) error {
	return pathError("lchown", name, common.ErrReadOnly)
}

func (b *BillyAdapter) Chown(name string, uid, gid int) error {
	return pathError("chown", name, common.ErrReadOnly)
}

func (b *BillyAdapter) Chtimes(name string, atime, mtime time.Time) error {
	return pathError("chtimes", name, common.ErrReadOnly)
}

// Capabilities omits every write capability so go-nfs answers mutation
// RPCs with ROFS before they reach the adapter. The write methods above
// are the backstop for callers that skip the capability check.
func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// BillyFile exposes one open VFS handle as a billy.File. The read
// cursor lives in the VFS handle; Seek and Read delegate to it.
type BillyFile struct {
	adapter *BillyAdapter
	handle  vfs.HandleID
	name    string
}

func (f *BillyFile) Name() string {
	return f.name
}

func (f *BillyFile) Write(p []byte) (n int, err error) {
	return 0, pathError("write", f.name, common.ErrReadOnly)
}

func (f *BillyFile) Read(p []byte) (n int, err error) {
	n, err = f.adapter.v.Read(f.handle, p)
	return n, pathError("read", f.name, err)
}

func (f *BillyFile) ReadAt(p []byte, off int64) (n int, err error) {
	n, err = f.adapter.v.ReadAt(f.handle, p, uint64(off))
	return n, pathError("read", f.name, err)
}

func (f *BillyFile) Seek(offset int64, whence int) (int64, error) {
	pos, err := f.adapter.v.Seek(f.handle, offset, whence)
	if err != nil {
		return 0, pathError("seek", f.name, err)
	}
	return pos, nil
}

func (f *BillyFile) Close() error {
	return pathError("close", f.name, f.adapter.v.Close(f.handle))
}

func (f *BillyFile) Lock() error {
	return nil
}

func (f *BillyFile) Unlock() error {
	return nil
}

func (f *BillyFile) Truncate(size int64) error {
	return pathError("truncate", f.name, common.ErrReadOnly)
}

// BillyFileInfo reports one stat record in os.FileInfo form
type BillyFileInfo struct {
	name    string
	stat    *vfs.Stat
	adapter *BillyAdapter // cached uid/gid source (nil falls back to syscall)
}

func (fi *BillyFileInfo) Name() string {
	return fi.name
}

func (fi *BillyFileInfo) Size() int64 {
	return int64(fi.stat.Size)
}

func (fi *BillyFileInfo) Mode() os.FileMode {
	return fi.stat.FileMode()
}

func (fi *BillyFileInfo) ModTime() time.Time {
	return fi.stat.Mtime
}

func (fi *BillyFileInfo) IsDir() bool {
	return fi.stat.IsDir()
}

func (fi *BillyFileInfo) Sys() interface{} {
	// Return file.FileInfo from go-nfs/file package - this is critical for NFS to work!
	// go-nfs's GetInfo() only recognizes file.FileInfo or *file.FileInfo types
	uid, gid := fi.getUIDGID()
	return &nfsfile.FileInfo{
		Nlink:  fi.stat.Nlink,
		UID:    uid,
		GID:    gid,
		Fileid: fi.stat.Ino,
	}
}

// getUIDGID returns cached uid/gid from the adapter if available, otherwise falls back to syscall.
func (fi *BillyFileInfo) getUIDGID() (uint32, uint32) {
	if fi.adapter != nil {
		return fi.adapter.uid, fi.adapter.gid
	}
	return uint32(os.Getuid()), uint32(os.Getgid())
}
