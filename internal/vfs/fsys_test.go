package vfs

import (
	"errors"
	"io"
	"io/fs"
	"sort"
	"testing"
)

func TestFSOpenAndRead(t *testing.T) {
	v, _ := mountedVFS(t)
	fsys := FS(v)

	f, err := fsys.Open("hello.txt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("content = %q, want \"hello world\"", data)
	}

	info, err := f.Stat()
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Name() != "hello.txt" || info.Size() != int64(len("hello world")) || info.IsDir() {
		t.Errorf("info = %v/%d/dir=%v", info.Name(), info.Size(), info.IsDir())
	}
}

func TestFSNameRules(t *testing.T) {
	v, _ := mountedVFS(t)
	fsys := FS(v)

	for _, bad := range []string{"/hello.txt", "./hello.txt", "docs/../hello.txt", ""} {
		if _, err := fsys.Open(bad); !errors.Is(err, fs.ErrInvalid) {
			t.Errorf("open %q: %v, want fs.ErrInvalid", bad, err)
		}
	}

	if _, err := fsys.Open("missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("open missing: %v, want fs.ErrNotExist", err)
	}

	// The root opens as ".".
	root, err := fsys.Open(".")
	if err != nil {
		t.Fatalf("open root: %v", err)
	}
	defer root.Close()
	info, err := root.Stat()
	if err != nil || !info.IsDir() {
		t.Errorf("root stat = %v %v, want a directory", info, err)
	}
}

func TestFSStat(t *testing.T) {
	v, _ := mountedVFS(t)
	fsys := FS(v).(fs.StatFS)

	info, err := fsys.Stat("docs")
	if err != nil {
		t.Fatalf("stat dir: %v", err)
	}
	if !info.IsDir() || info.Mode()&fs.ModeDir == 0 {
		t.Errorf("docs mode = %v, want a directory", info.Mode())
	}

	if _, err := fsys.Stat("docs/nope"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("stat missing: %v, want fs.ErrNotExist", err)
	}
}

func TestFSReadDirBatches(t *testing.T) {
	v, _ := mountedVFS(t)
	fsys := FS(v)

	f, err := fsys.Open("docs")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dir, ok := f.(fs.ReadDirFile)
	if !ok {
		t.Fatal("directory file should implement fs.ReadDirFile")
	}

	first, err := dir.ReadDir(1)
	if err != nil || len(first) != 1 || first[0].Name() != "a.txt" {
		t.Fatalf("first batch = %v %v", first, err)
	}
	rest, err := dir.ReadDir(10)
	if err != nil || len(rest) != 1 || rest[0].Name() != "b.txt" {
		t.Fatalf("second batch = %v %v", rest, err)
	}
	if _, err := dir.ReadDir(1); err != io.EOF {
		t.Errorf("batch after end: %v, want io.EOF", err)
	}

	// n <= 0 drains without an EOF error.
	f2, _ := fsys.Open("docs")
	defer f2.Close()
	all, err := f2.(fs.ReadDirFile).ReadDir(-1)
	if err != nil || len(all) != 2 {
		t.Errorf("drain = %d entries, %v", len(all), err)
	}

	info, err := all[0].Info()
	if err != nil || info.Name() != "a.txt" {
		t.Errorf("entry info = %v %v", info, err)
	}
}

func TestFSWalk(t *testing.T) {
	v, _ := mountedVFS(t)
	fsys := FS(v)

	var paths []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}

	sort.Strings(paths)
	want := []string{
		".",
		"deep", "deep/nested", "deep/nested/file.bin",
		"docs", "docs/a.txt", "docs/b.txt",
		"hello.txt",
	}
	if len(paths) != len(want) {
		t.Fatalf("walked %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("path[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestFSReadDirSkipsDotEntries(t *testing.T) {
	fake := newFakeFS()
	fake.dotEntries = true
	v := New()
	if err := v.Mount("/", fake.root()); err != nil {
		t.Fatalf("mount root: %v", err)
	}
	fsys := FS(v)

	f, err := fsys.Open("docs")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	all, err := f.(fs.ReadDirFile).ReadDir(-1)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(all) != 2 || all[0].Name() != "a.txt" || all[1].Name() != "b.txt" {
		t.Errorf("entries = %v, want a.txt and b.txt only", all)
	}

	// Batched reads skip them too, without returning short batches.
	f2, _ := fsys.Open("docs")
	defer f2.Close()
	first, err := f2.(fs.ReadDirFile).ReadDir(1)
	if err != nil || len(first) != 1 || first[0].Name() != "a.txt" {
		t.Errorf("first batch = %v %v, want a.txt", first, err)
	}

	// WalkDir never revisits a directory through its dot entries.
	var paths []string
	err = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(paths) != 8 {
		t.Errorf("walked %v, want 8 paths", paths)
	}
}

func TestFSSeekAndReadAt(t *testing.T) {
	v, _ := mountedVFS(t)
	fsys := FS(v)

	f, err := fsys.Open("hello.txt")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	s, ok := f.(io.Seeker)
	if !ok {
		t.Fatal("file should implement io.Seeker")
	}
	if pos, err := s.Seek(6, io.SeekStart); err != nil || pos != 6 {
		t.Fatalf("seek = %d %v", pos, err)
	}
	buf := make([]byte, 5)
	if n, err := f.Read(buf); err != nil || string(buf[:n]) != "world" {
		t.Errorf("read after seek = %q %v", buf[:n], err)
	}

	r, ok := f.(io.ReaderAt)
	if !ok {
		t.Fatal("file should implement io.ReaderAt")
	}
	if n, err := r.ReadAt(buf, 0); err != nil || string(buf[:n]) != "hello" {
		t.Errorf("read at = %q %v", buf[:n], err)
	}
}
