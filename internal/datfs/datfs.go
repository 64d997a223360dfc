// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package datfs presents an opened archive as an [io/fs.FS].
// The whole directory tree is known in advance, so it is laid out once
// as a flat slice with each directory's children sorted by name.
package datfs

import (
	"io"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/elliotnunn/brickvault/internal/codecpool"
	"github.com/elliotnunn/brickvault/internal/dat"
	"github.com/elliotnunn/brickvault/internal/filetree"
)

// FS is safe for concurrent use by multiple goroutines.
type FS struct {
	a     *dat.Archive
	pool  *codecpool.Pool
	mtime time.Time
	nodes []node // nodes[0] is the root

	mu      sync.Mutex
	readers map[int]io.ReaderAt
}

var (
	_ fs.ReadDirFS = new(FS)
	_ fs.StatFS    = new(FS)
)

// Our internal representation of a node in the tree
type node struct {
	fsys     *FS
	name     string
	entry    int // -1 for directories
	size     int64
	children []node
}

// New lays out the tree of a. Every file and directory reports mtime.
func New(a *dat.Archive, pool *codecpool.Pool, mtime time.Time) *FS {
	if pool == nil {
		pool = codecpool.New()
	}
	fsys := &FS{a: a, pool: pool, mtime: mtime, readers: make(map[int]io.ReaderAt)}

	type span struct{ first, n int }
	list := []node{{fsys: fsys, name: ".", entry: -1}}
	from := []uint32{filetree.Root}
	spans := []span{{}}
	placed := map[uint32]bool{filetree.Root: true}
	for i := 0; i < len(list); i++ {
		if list[i].entry >= 0 {
			continue
		}
		kids, src := fsys.gather(from[i], placed)
		spans[i] = span{len(list), len(kids)}
		list = append(list, kids...)
		from = append(from, src...)
		for range kids {
			spans = append(spans, span{})
		}
	}
	for i, s := range spans {
		if s.n > 0 {
			list[i].children = list[s.first:][:s.n]
		}
	}
	fsys.nodes = list
	return fsys
}

// gather lists the children of tree node i by name. Nameless nodes are
// seen through, so their children appear alongside their siblings. A tree
// node already in placed is never listed twice.
func (fsys *FS) gather(i uint32, placed map[uint32]bool) ([]node, []uint32) {
	t := fsys.a.Tree
	var kids []node
	var src []uint32
	var walk func(i uint32)
	walk = func(i uint32) {
		for c := range t.Children(i) {
			if placed[c] {
				continue
			}
			placed[c] = true
			n := &t.Nodes[c]
			if n.Segment == "" && !t.IsFile(c) {
				walk(c)
				continue
			}
			if !validName(n.Segment) {
				slog.Debug("datfsSkipName", "node", c, "name", n.Segment)
				continue
			}
			k := node{fsys: fsys, name: n.Segment, entry: -1}
			if t.IsFile(c) {
				k.entry = int(n.File)
				k.size = int64(fsys.a.Entries[k.entry].Decompressed)
			}
			kids = append(kids, k)
			src = append(src, c)
		}
	}
	walk(i)

	order := make([]int, len(kids))
	for j := range order {
		order[j] = j
	}
	slices.SortStableFunc(order, func(a, b int) int { return strings.Compare(kids[a].name, kids[b].name) })
	sortedKids, sortedSrc := make([]node, 0, len(kids)), make([]uint32, 0, len(kids))
	for _, j := range order {
		if n := len(sortedKids); n > 0 && sortedKids[n-1].name == kids[j].name {
			slog.Debug("datfsDuplicateName", "node", src[j], "name", kids[j].name)
			continue
		}
		sortedKids = append(sortedKids, kids[j])
		sortedSrc = append(sortedSrc, src[j])
	}
	return sortedKids, sortedSrc
}

func validName(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsRune(s, '/')
}

func (fsys *FS) lookup(name string) (*node, error) {
	if !fs.ValidPath(name) {
		return nil, fs.ErrInvalid
	}
	n := &fsys.nodes[0]
	if name == "." {
		return n, nil
	}
	for c := range strings.SplitSeq(name, "/") {
		at, ok := slices.BinarySearchFunc(n.children, c, func(e node, s string) int { return strings.Compare(e.name, s) })
		if !ok {
			return nil, fs.ErrNotExist
		}
		n = &n.children[at]
	}
	return n, nil
}

// Open is safe for concurrent use by multiple goroutines.
func (fsys *FS) Open(name string) (_ fs.File, err error) {
	defer func() {
		if err != nil {
			err = &fs.PathError{Op: "open", Path: name, Err: err}
		}
	}()

	n, err := fsys.lookup(name)
	if err != nil {
		return nil, err
	}
	if n.IsDir() {
		return &lister{node: n}, nil
	}
	return &rafile{node: n, SectionReader: io.NewSectionReader(fsys.readerAt(n.entry), 0, n.size)}, nil
}

func (fsys *FS) Stat(name string) (_ fs.FileInfo, err error) {
	n, err := fsys.lookup(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return n, nil
}

func (fsys *FS) ReadDir(name string) (_ []fs.DirEntry, err error) {
	n, err := fsys.lookup(name)
	if err == nil && !n.IsDir() {
		err = fs.ErrInvalid
	}
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	list := make([]fs.DirEntry, len(n.children))
	for i := range list {
		list[i] = fs.FileInfoToDirEntry(&n.children[i])
	}
	return list, nil
}

// Entry returns the archive entry behind a file name.
func (fsys *FS) Entry(name string) (int, bool) {
	n, err := fsys.lookup(name)
	if err != nil || n.IsDir() {
		return 0, false
	}
	return n.entry, true
}

func (n *node) Name() string       { return n.name }
func (n *node) Size() int64        { return n.size }
func (n *node) IsDir() bool        { return n.entry < 0 }
func (n *node) ModTime() time.Time { return n.fsys.mtime }

func (n *node) Mode() fs.FileMode {
	if n.IsDir() {
		return fs.ModeDir | 0o555
	}
	return 0o444
}

// Sys is the dat.Entry of a file.
func (n *node) Sys() any {
	if n.IsDir() {
		return nil
	}
	return n.fsys.a.Entries[n.entry]
}
