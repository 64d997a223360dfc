// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package dat

import (
	"encoding/binary"
	"strings"

	"github.com/elliotnunn/brickvault/internal/filetree"
)

// This file writes small archives of every revision for the tests.

type wr struct {
	b []byte
	o binary.AppendByteOrder
}

func (w *wr) u16(v int) { w.b = w.o.AppendUint16(w.b, uint16(v)) }
func (w *wr) u32(v int) { w.b = w.o.AppendUint32(w.b, uint32(v)) }
func (w *wr) u64(v int) { w.b = w.o.AppendUint64(w.b, uint64(v)) }
func (w *wr) raw(p []byte) {
	w.b = append(w.b, p...)
}

type sample struct {
	paths []string
	data  [][]byte
}

func newSample(paths ...string) sample {
	s := sample{paths: paths}
	for _, p := range paths {
		s.data = append(s.data, []byte("contents of "+p))
	}
	return s
}

type tnode struct {
	name   string
	parent int
	kids   []int
	file   int
}

// flatten lays the paths out as a node table in depth-first order,
// children in the order their paths first appear.
func flatten(paths []string) []tnode {
	type trie struct {
		name string
		kids []*trie
		file int
	}
	root := &trie{file: -1}
	for i, p := range paths {
		at := root
		for _, seg := range strings.Split(p, `\`) {
			var next *trie
			for _, k := range at.kids {
				if k.name == seg {
					next = k
				}
			}
			if next == nil {
				next = &trie{name: seg, file: -1}
				at.kids = append(at.kids, next)
			}
			at = next
		}
		at.file = i
	}

	var out []tnode
	var visit func(t *trie, parent int) int
	visit = func(t *trie, parent int) int {
		me := len(out)
		out = append(out, tnode{name: t.name, parent: parent, file: t.file})
		for _, k := range t.kids {
			c := visit(k, me)
			out[me].kids = append(out[me].kids, c)
		}
		return me
	}
	visit(root, 0)
	return out
}

func final(nodes []tnode, i int) int {
	if k := nodes[i].kids; len(k) > 0 {
		return k[len(k)-1]
	}
	return 0
}

func prev(nodes []tnode, i int) int {
	if i == 0 {
		return 0
	}
	sibs := nodes[nodes[i].parent].kids
	for j, s := range sibs {
		if s == i && j > 0 {
			return sibs[j-1]
		}
	}
	return 0
}

func namesBlock(nodes []tnode) (block []byte, offsets []int) {
	for i, n := range nodes {
		if i == 0 {
			offsets = append(offsets, -1)
			continue
		}
		offsets = append(offsets, len(block))
		block = append(block, n.name...)
		block = append(block, 0)
	}
	return block, offsets
}

type build struct {
	v         Version
	minor     int
	tree      []string // paths given nodes, default all
	overrides map[int]string
	obfuscate bool
}

// archive lays out the entry data from 0x100 and appends the trailer.
func (s sample) archive(b build) []byte {
	file := make([]byte, 0x100)
	offsets := make([]int, len(s.paths))
	for i, d := range s.data {
		offsets[i] = len(file)
		file = append(file, d...)
	}
	for len(file)%0x100 != 0 {
		file = append(file, 0)
	}
	at := len(file)

	tree := b.tree
	if tree == nil {
		tree = s.paths
	}
	var trailer []byte
	switch {
	case b.v == V1X:
		trailer = s.legacy(offsets)
	case layouts[b.v].bigEndian:
		trailer = s.newFamily(b, tree, offsets)
	default:
		trailer = s.oldFamily(b.v, offsets)
	}
	file = append(file, trailer...)
	if b.v == V1X {
		file = binary.LittleEndian.AppendUint32(file, 0xffffffff)
	}

	hdr := uint32(at)
	if b.obfuscate {
		hdr = ^uint32((at - 0x100) >> 8)
	}
	binary.LittleEndian.PutUint32(file[0:], hdr)
	binary.LittleEndian.PutUint32(file[4:], uint32(len(trailer)))
	return file
}

func (s sample) oldFamily(v Version, offsets []int) []byte {
	w := wr{o: binary.LittleEndian}
	w.u32(-int(v))
	w.u32(len(s.paths))
	for i, off := range offsets {
		w.u32(off >> 8)
		w.u32(len(s.data[i]))
		w.u32(len(s.data[i]))
		w.u32((off & 0xff) << 24)
	}
	if v == V1 {
		for _, p := range s.paths {
			w.u32(int(filetree.FNV32.Sum(p)))
		}
		return w.b
	}

	nodes := flatten(s.paths)
	names, nameAt := namesBlock(nodes)
	w.u32(len(nodes))
	for i, n := range nodes {
		next := final(nodes, i)
		if n.file >= 0 && v != V3 {
			next = -n.file
		}
		w.u16(next)
		w.u16(prev(nodes, i))
		w.u32(nameAt[i])
		if layouts[v].nodeSize == 12 {
			w.u16(n.parent)
			w.u16(max(0, n.file))
		}
	}
	w.u32(len(names))
	w.raw(names)
	if v == V3 {
		for _, p := range s.paths {
			w.u32(int(filetree.FNV32.Sum(p)))
		}
	}
	return w.b
}

func (s sample) legacy(offsets []int) []byte {
	w := wr{o: binary.LittleEndian}
	w.u32(0)
	w.u32(len(s.paths))
	for i, off := range offsets {
		w.u64(off)
		w.u32(0x12345678)
		w.u32(len(s.data[i]))
		w.u32(len(s.data[i]))
		w.u32(0)
	}
	for _, p := range s.paths {
		w.u32(int(filetree.FNV32.Sum(p)))
	}
	return w.b
}

func (s sample) newFamily(b build, tree []string, offsets []int) []byte {
	nodes := flatten(tree)
	names, nameAt := namesBlock(nodes)
	w := wr{o: binary.BigEndian}
	w.u32(0)
	w.raw([]byte(".CC40TAD"))
	w.u32(-int(b.v))
	w.u32(b.minor)
	w.u32(len(s.paths))
	w.u32(len(nodes))
	w.u32(len(names))
	w.raw(names)

	if b.v == V13 {
		w.u32(0)
		for i, n := range nodes {
			w.u32(nameAt[i])
			w.u16(n.parent)
			if b.minor >= 2 {
				w.u16(max(0, n.file))
			}
			w.u16(0)
			if n.file >= 0 {
				w.u16(1)
			} else {
				w.u16(0)
			}
		}
		w.u32(-int(b.v))
		w.u32(len(s.paths))
		for i, off := range offsets {
			if b.minor >= 2 {
				w.u64(off)
			} else {
				w.u32(off)
			}
			w.u32(len(s.data[i]))
			w.u32(len(s.data[i]))
		}
		return w.b
	}

	for i, n := range nodes {
		if b.v == V8 && n.file >= 0 {
			w.u16(-n.file)
		} else {
			w.u16(final(nodes, i))
		}
		w.u16(prev(nodes, i))
		w.u32(nameAt[i])
		w.u16(n.parent)
		if b.v != V8 || b.minor >= 2 {
			w.u16(max(0, n.file))
		}
	}
	w.u32(0)
	w.u32(-int(b.v))
	w.u32(len(s.paths))
	for i, off := range offsets {
		switch {
		case b.v == V8:
			w.u32(off >> 8)
			w.u32(len(s.data[i]))
			w.u32(len(s.data[i]))
			w.u32(off & 0xff)
			continue
		case b.minor >= 2:
			w.u64(off)
		default:
			w.u32(off)
		}
		w.u32(len(s.data[i]))
		w.u32(len(s.data[i]))
	}

	if len(b.overrides) > 0 {
		for _, p := range s.paths {
			w.u32(int(filetree.FNV32.Sum(p)))
		}
		w.u32(len(b.overrides))
		var block wr
		block.o = binary.BigEndian
		for e := range len(s.paths) {
			p, ok := b.overrides[e]
			if !ok {
				continue
			}
			block.raw([]byte(p))
			block.raw([]byte{0})
			if len(p)%2 == 0 {
				block.raw([]byte{0})
			}
			block.u16(e)
		}
		w.u32(len(block.b))
		w.raw(block.b)
	}
	binary.BigEndian.PutUint32(w.b, uint32(len(w.b)-4))
	return w.b
}
