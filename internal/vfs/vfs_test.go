package vfs

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"extvfs/internal/common"
)

// fakeFS is a static in-memory driver for tests. Node names are unique
// across a fixture, and every lookup fabricates a fresh Node value the
// way a real driver bridge does.
type fakeFS struct {
	mu         sync.Mutex
	files      map[string]string   // file name -> content
	dirs       map[string][]string // dir name -> child names
	inos       map[string]uint64
	opens      int
	closes     int
	unmounts   int
	writable   bool
	dotEntries bool // report "." and ".." the way on-disk directories do
}

func newFakeFS() *fakeFS {
	f := &fakeFS{
		files: map[string]string{
			"hello.txt": "hello world",
			"a.txt":     "aaa",
			"b.txt":     "bb",
			"file.bin":  "nested data",
		},
		dirs: map[string][]string{
			"":       {"hello.txt", "docs", "deep"},
			"docs":   {"a.txt", "b.txt"},
			"deep":   {"nested"},
			"nested": {"file.bin"},
		},
		inos: make(map[string]uint64),
	}
	ino := uint64(2)
	for _, name := range []string{"", "hello.txt", "docs", "a.txt", "b.txt", "deep", "nested", "file.bin"} {
		f.inos[name] = ino
		ino++
	}
	return f
}

func (f *fakeFS) isDir(name string) bool {
	_, ok := f.dirs[name]
	return ok
}

func (f *fakeFS) node(name string) *Node {
	n := &Node{Name: name, Ino: f.inos[name], Mode: 0o644, Ops: f}
	if f.isDir(name) {
		n.Type = NodeDir
		n.Mode = 0o755
	} else {
		n.Size = uint64(len(f.files[name]))
	}
	return n
}

func (f *fakeFS) root() *Node { return f.node("") }

func (f *fakeFS) Open(*Node, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return nil
}

func (f *fakeFS) Close(*Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeFS) Read(n *Node, off uint64, p []byte) (int, error) {
	content := f.files[n.Name]
	if off >= uint64(len(content)) {
		return 0, nil
	}
	return copy(p, content[off:]), nil
}

func (f *fakeFS) Write(n *Node, off uint64, p []byte) (int, error) {
	if f.writable {
		return len(p), nil
	}
	return 0, nil
}

func (f *fakeFS) ReadDir(n *Node, index int) (*DirEntry, error) {
	kids, ok := f.dirs[n.Name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", n.Name, common.ErrNotDir)
	}
	if index < 0 {
		return nil, common.ErrInvalidArgument
	}
	if f.dotEntries {
		switch index {
		case 0:
			return &DirEntry{Ino: n.Ino, Type: NodeDir, Name: "."}, nil
		case 1:
			return &DirEntry{Ino: n.Ino, Type: NodeDir, Name: ".."}, nil
		}
		index -= 2
	}
	if index >= len(kids) {
		return nil, io.EOF
	}
	name := kids[index]
	typ := NodeFile
	if f.isDir(name) {
		typ = NodeDir
	}
	return &DirEntry{Ino: f.inos[name], Type: typ, Name: name}, nil
}

func (f *fakeFS) FindDir(n *Node, name string) (*Node, error) {
	kids, ok := f.dirs[n.Name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", n.Name, common.ErrNotDir)
	}
	for _, kid := range kids {
		if kid == name {
			return f.node(kid), nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, common.ErrNotFound)
}

func (f *fakeFS) Stat(n *Node) (*Stat, error) {
	return &Stat{Ino: n.Ino, Mode: n.Mode, Nlink: 1, Size: n.Size, BlockSize: 512}, nil
}

func (f *fakeFS) Unmount() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmounts++
	return nil
}

func mountedVFS(t *testing.T) (*VFS, *fakeFS) {
	t.Helper()
	fs := newFakeFS()
	v := New()
	if err := v.Mount("/", fs.root()); err != nil {
		t.Fatalf("mount root: %v", err)
	}
	return v, fs
}

func TestMountRoot(t *testing.T) {
	v, _ := mountedVFS(t)

	n, err := v.Lookup("/")
	if err != nil {
		t.Fatalf("lookup root: %v", err)
	}
	if n.Type != NodeDir {
		t.Errorf("root type = %v, want dir", n.Type)
	}
	if got := v.Mounts(); len(got) != 1 || got[0] != "" {
		t.Errorf("mounts = %v, want [\"\"]", got)
	}
}

func TestMountValidation(t *testing.T) {
	v := New()

	if err := v.Mount("/", nil); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("nil root: %v, want ErrInvalidArgument", err)
	}
	if err := v.Mount("/", &Node{Type: NodeDir}); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("root without ops: %v, want ErrInvalidArgument", err)
	}
	if err := v.Mount("/mnt", newFakeFS().root()); !errors.Is(err, common.ErrNoRoot) {
		t.Errorf("subpath mount without root: %v, want ErrNoRoot", err)
	}
	if _, err := v.Lookup("/anything"); !errors.Is(err, common.ErrNoRoot) {
		t.Errorf("lookup without root: %v, want ErrNoRoot", err)
	}
}

func TestMountAtSubpath(t *testing.T) {
	v, _ := mountedVFS(t)
	sub := newFakeFS()

	if err := v.Mount("/docs", sub.root()); err != nil {
		t.Fatalf("mount at /docs: %v", err)
	}

	// The final component of a lookup lands on the mounted root.
	n, err := v.Lookup("/docs")
	if err != nil {
		t.Fatalf("lookup mount point: %v", err)
	}
	if n.Ops != NodeOps(sub) {
		t.Error("lookup of the mount point should yield the mounted filesystem's root")
	}

	// Traversal descends into the mounted tree, not the covered one.
	if _, err := v.Lookup("/docs/hello.txt"); err != nil {
		t.Errorf("lookup through mount: %v", err)
	}
	if _, err := v.Lookup("/docs/deep/nested/file.bin"); err != nil {
		t.Errorf("deep lookup through mount: %v", err)
	}
}

func TestMountErrors(t *testing.T) {
	v, _ := mountedVFS(t)
	sub := newFakeFS()

	if err := v.Mount("/hello.txt", sub.root()); !errors.Is(err, common.ErrNotDir) {
		t.Errorf("mount on a file: %v, want ErrNotDir", err)
	}
	if err := v.Mount("/missing", sub.root()); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("mount on a missing path: %v, want ErrNotFound", err)
	}
	if err := v.Mount("/docs", sub.root()); err != nil {
		t.Fatalf("first mount: %v", err)
	}
	if err := v.Mount("/docs", sub.root()); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("second mount at the same path: %v, want ErrInvalidArgument", err)
	}
}

func TestMountTableCap(t *testing.T) {
	// A root whose children are enough directories to exhaust the table.
	wide := &fakeFS{
		files: map[string]string{},
		dirs:  map[string][]string{"": nil},
		inos:  map[string]uint64{"": 2},
	}
	for i := 0; i < MountCap+4; i++ {
		name := fmt.Sprintf("d%02d", i)
		wide.dirs[""] = append(wide.dirs[""], name)
		wide.dirs[name] = nil
		wide.inos[name] = uint64(10 + i)
	}

	v := New()
	if err := v.Mount("/", wide.root()); err != nil {
		t.Fatalf("mount root: %v", err)
	}

	// The root occupies one slot.
	for i := 0; i < MountCap-1; i++ {
		if err := v.Mount(fmt.Sprintf("/d%02d", i), newFakeFS().root()); err != nil {
			t.Fatalf("mount %d: %v", i, err)
		}
	}
	err := v.Mount(fmt.Sprintf("/d%02d", MountCap-1), newFakeFS().root())
	if !errors.Is(err, common.ErrOutOfResources) {
		t.Errorf("mount past cap: %v, want ErrOutOfResources", err)
	}
}

func TestNestedMounts(t *testing.T) {
	v, _ := mountedVFS(t)
	mid := newFakeFS()
	leaf := newFakeFS()

	if err := v.Mount("/docs", mid.root()); err != nil {
		t.Fatalf("mount mid: %v", err)
	}
	if err := v.Mount("/docs/deep", leaf.root()); err != nil {
		t.Fatalf("mount leaf: %v", err)
	}

	n, err := v.Lookup("/docs/deep/hello.txt")
	if err != nil {
		t.Fatalf("lookup through nested mounts: %v", err)
	}
	if n.Ops != NodeOps(leaf) {
		t.Error("nested lookup should resolve inside the innermost mount")
	}
}

func TestUnmount(t *testing.T) {
	v, _ := mountedVFS(t)
	sub := newFakeFS()

	if err := v.Mount("/docs", sub.root()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	if err := v.Unmount("/docs"); err != nil {
		t.Fatalf("unmount: %v", err)
	}
	if sub.unmounts != 1 {
		t.Errorf("unmount hook ran %d times, want 1", sub.unmounts)
	}

	// The covered subtree is visible again.
	n, err := v.Lookup("/docs/a.txt")
	if err != nil {
		t.Fatalf("lookup after unmount: %v", err)
	}
	if n.Name != "a.txt" {
		t.Errorf("resolved %q, want a.txt", n.Name)
	}

	if err := v.Unmount("/docs"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("double unmount: %v, want ErrNotFound", err)
	}
	if err := v.Unmount("/"); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("unmount root: %v, want ErrInvalidArgument", err)
	}
}

func TestShutdown(t *testing.T) {
	v, rootFS := mountedVFS(t)
	sub := newFakeFS()
	if err := v.Mount("/docs", sub.root()); err != nil {
		t.Fatalf("mount: %v", err)
	}
	h, err := v.Open("/hello.txt", 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	v.Shutdown()

	if rootFS.unmounts != 1 || sub.unmounts != 1 {
		t.Errorf("unmount hooks = (%d, %d), want (1, 1)", rootFS.unmounts, sub.unmounts)
	}
	if _, err := v.Lookup("/"); !errors.Is(err, common.ErrNoRoot) {
		t.Errorf("lookup after shutdown: %v, want ErrNoRoot", err)
	}
	if _, err := v.Read(h, make([]byte, 4)); !errors.Is(err, common.ErrInvalidHandle) {
		t.Errorf("read after shutdown: %v, want ErrInvalidHandle", err)
	}

	// The instance is reusable after a shutdown.
	if err := v.Mount("/", newFakeFS().root()); err != nil {
		t.Errorf("remount after shutdown: %v", err)
	}
}

func TestLookupPaths(t *testing.T) {
	v, _ := mountedVFS(t)

	cases := []struct {
		path string
		name string
	}{
		{"/hello.txt", "hello.txt"},
		{"hello.txt", "hello.txt"},
		{"/docs/a.txt", "a.txt"},
		{"/docs/../hello.txt", "hello.txt"},
		{"//docs//b.txt", "b.txt"},
		{"/deep/nested/file.bin", "file.bin"},
		{"/../../hello.txt", "hello.txt"},
	}
	for _, tc := range cases {
		n, err := v.Lookup(tc.path)
		if err != nil {
			t.Errorf("lookup %q: %v", tc.path, err)
			continue
		}
		if n.Name != tc.name {
			t.Errorf("lookup %q = %q, want %q", tc.path, n.Name, tc.name)
		}
	}

	if _, err := v.Lookup("/docs/missing"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("missing file: %v, want ErrNotFound", err)
	}
	if _, err := v.Lookup("/hello.txt/below"); !errors.Is(err, common.ErrNotDir) {
		t.Errorf("descend through a file: %v, want ErrNotDir", err)
	}
	long := "/" + strings.Repeat("x", common.PathMax)
	if _, err := v.Lookup(long); !errors.Is(err, common.ErrInvalidPath) {
		t.Errorf("oversized path: %v, want ErrInvalidPath", err)
	}
}
