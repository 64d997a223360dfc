// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package filetree is the arena of path segments shared by every archive
// version. Nodes refer to each other by index; index 0 is the root.
//
// The children of a node form a singly linked list threaded through
// PrevSibling and entered at FinalChild, so they come out newest first.
package filetree

import (
	"fmt"
	"io/fs"
	"iter"
	"strings"

	"github.com/elliotnunn/brickvault/internal/codec"
)

// Root is the index of the root node.
const Root uint32 = 0

// NoFile marks a node that carries no entry.
const NoFile int32 = -1

type Node struct {
	Parent      uint32 `cbor:"1,keyasint"`
	FinalChild  uint32 `cbor:"2,keyasint"` // 0 for none
	PrevSibling uint32 `cbor:"3,keyasint"` // 0 for none
	Segment     string `cbor:"4,keyasint"` // always lower case
	File        int32  `cbor:"5,keyasint"` // entry index or NoFile
	PathHash    uint64 `cbor:"-"`          // set by Finish for file nodes
}

type Tree struct {
	Nodes  []Node
	Scheme Scheme

	edges  map[edge]uint32
	byHash map[uint64]uint32
}

type edge struct {
	parent  uint32
	segment string
}

// New returns a tree holding only the root.
func New(scheme Scheme, capacity int) *Tree {
	t := &Tree{Scheme: scheme, Nodes: make([]Node, 1, max(1, capacity))}
	t.Nodes[0] = Node{File: NoFile}
	return t
}

func (t *Tree) Len() int { return len(t.Nodes) }

// IsRoot reports whether the path walk stops at i. Some archives have
// several nameless top-level records pointing at index 0 or 0xffff.
func (t *Tree) IsRoot(i uint32) bool {
	n := &t.Nodes[i]
	return i == Root || n.Segment == "" && (n.Parent == 0 || n.Parent == 0xffff)
}

func (t *Tree) IsFile(i uint32) bool { return t.Nodes[i].File != NoFile }

// Add appends a node named segment and makes it parent's final child.
func (t *Tree) Add(parent uint32, segment string) uint32 {
	i := uint32(len(t.Nodes))
	p := &t.Nodes[parent]
	t.Nodes = append(t.Nodes, Node{
		Parent:      parent,
		PrevSibling: p.FinalChild,
		Segment:     strings.ToLower(segment),
		File:        NoFile,
	})
	t.Nodes[parent].FinalChild = i
	if t.edges != nil {
		t.edges[edge{parent, t.Nodes[i].Segment}] = i
	}
	return i
}

// Insert walks path from the root, creating missing nodes, and returns the
// last one. Empty segments are ignored.
func (t *Tree) Insert(path string) uint32 {
	if t.edges == nil {
		t.indexEdges()
	}
	at := Root
	for seg := range strings.FieldsFuncSeq(path, isSep) {
		seg = strings.ToLower(seg)
		if next, ok := t.edges[edge{at, seg}]; ok {
			at = next
		} else {
			at = t.Add(at, seg)
		}
	}
	return at
}

// Lookup finds the node for a path without creating anything.
func (t *Tree) Lookup(path string) (uint32, bool) {
	if t.edges == nil {
		t.indexEdges()
	}
	at := Root
	for seg := range strings.FieldsFuncSeq(path, isSep) {
		next, ok := t.edges[edge{at, strings.ToLower(seg)}]
		if !ok {
			return 0, false
		}
		at = next
	}
	return at, true
}

func isSep(r rune) bool { return r == '\\' || r == '/' }

// Children yields the indices linked from i, newest first.
func (t *Tree) Children(i uint32) iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		limit := len(t.Nodes)
		for c := t.Nodes[i].FinalChild; c != 0 && int(c) < len(t.Nodes) && limit > 0; c = t.Nodes[c].PrevSibling {
			if !yield(c) {
				return
			}
			limit--
		}
	}
}

// Path joins the segments from below the root down to i with backslashes.
func (t *Tree) Path(i uint32) string {
	return string(t.AppendPath(nil, i))
}

// AppendPath is Path into a caller's buffer. It does not allocate when
// buf has room.
func (t *Tree) AppendPath(buf []byte, i uint32) []byte {
	count, size := 0, 0
	for n := i; !t.IsRoot(n) && count < len(t.Nodes); n = t.Nodes[n].Parent {
		count++
		size += len(t.Nodes[n].Segment)
	}
	if count == 0 {
		return buf
	}
	size += count - 1
	buf = append(buf, make([]byte, size)...)
	end := len(buf)
	for n := i; count > 0; n = t.Nodes[n].Parent {
		seg := t.Nodes[n].Segment
		copy(buf[end-len(seg):end], seg)
		end -= len(seg)
		count--
		if count > 0 {
			end--
			buf[end] = '\\'
		}
	}
	return buf
}

// Finish checks that every parent chain ends at a root, stamps each file
// node with its path hash and indexes the tree for GetFile and Lookup.
// It must be called before the tree is shared between goroutines.
func (t *Tree) Finish() error {
	const (
		unseen = iota
		busy
		done
	)
	state := make([]uint8, len(t.Nodes))
	hashes := make([]uint64, len(t.Nodes))
	var visit func(i uint32) error
	visit = func(i uint32) error {
		switch state[i] {
		case done:
			return nil
		case busy:
			return fmt.Errorf("%w: path loop through node %d", codec.ErrFormat, i)
		}
		state[i] = busy
		n := &t.Nodes[i]
		switch {
		case t.IsRoot(i):
			hashes[i] = t.Scheme.basis()
		case int(n.Parent) >= len(t.Nodes):
			return fmt.Errorf("%w: node %d has parent %d of %d", codec.ErrFormat, i, n.Parent, len(t.Nodes))
		default:
			if err := visit(n.Parent); err != nil {
				return err
			}
			hashes[i] = t.Scheme.Chain(hashes[n.Parent], n.Segment, t.IsRoot(n.Parent))
		}
		state[i] = done
		return nil
	}

	t.byHash = make(map[uint64]uint32)
	for i := range t.Nodes {
		if err := visit(uint32(i)); err != nil {
			return err
		}
		n := &t.Nodes[i]
		if n.File == NoFile {
			continue
		}
		n.PathHash = hashes[i]
		if _, dup := t.byHash[n.PathHash]; !dup {
			t.byHash[n.PathHash] = uint32(i)
		}
	}
	t.indexEdges()
	return nil
}

// Alias makes path resolve to node i in GetFile, replacing any earlier
// holder of the same hash.
func (t *Tree) Alias(path string, i uint32) {
	if t.byHash == nil {
		t.byHash = make(map[uint64]uint32)
	}
	t.byHash[t.Scheme.Sum(strings.TrimLeft(path, `\/`))] = i
}

func (t *Tree) indexEdges() {
	t.edges = make(map[edge]uint32, len(t.Nodes))
	for i := len(t.Nodes) - 1; i > 0; i-- {
		n := &t.Nodes[i]
		if t.IsRoot(uint32(i)) {
			continue
		}
		parent := n.Parent
		if int(parent) >= len(t.Nodes) {
			continue
		}
		if t.IsRoot(parent) {
			parent = Root
		}
		t.edges[edge{parent, n.Segment}] = uint32(i)
	}
}

// GetFile hashes path and returns the entry index of the matching file node.
func (t *Tree) GetFile(path string) (int, error) {
	i, ok := t.byHash[t.Scheme.Sum(strings.TrimLeft(path, `\/`))]
	if !ok || t.Nodes[i].File == NoFile {
		return 0, &fs.PathError{Op: "getfile", Path: path, Err: fs.ErrNotExist}
	}
	return int(t.Nodes[i].File), nil
}
