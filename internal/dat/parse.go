// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package dat

import (
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/elliotnunn/brickvault/internal/codec"
	"github.com/elliotnunn/brickvault/internal/filetree"
	"github.com/elliotnunn/brickvault/internal/rawfile"
)

type parser struct {
	layout
	a     *Archive
	c     *rawfile.Cursor
	size  int64
	names fs.FS
}

func (p *parser) parse() error {
	p.a.Tree = filetree.New(p.scheme, 0)
	var err error
	if p.bigEndian {
		err = p.parseNew()
	} else {
		err = p.parseOld()
	}
	if err == nil {
		err = p.c.Err()
	}
	return err
}

// fits rejects a table of n records that could not fit in the trailer.
func (p *parser) fits(n uint32, each int) error {
	if int64(n)*int64(each) > p.size-p.c.Pos() {
		return fmt.Errorf("%w: %d records of %d bytes at %#x overrun the trailer", codec.ErrFormat, n, each, p.c.Pos())
	}
	return p.c.Err()
}

func (p *parser) stringAt(pos int64) string {
	save := p.c.Pos()
	p.c.Seek(pos)
	s := p.c.CString()
	p.c.Seek(save)
	return s
}

func (p *parser) entries(n uint32, minor uint32) error {
	if err := p.fits(n, p.entryBytes(minor)); err != nil {
		return err
	}
	p.a.Entries = make([]Entry, n)
	for i := range p.a.Entries {
		p.a.Entries[i] = p.entry(minor)
	}
	return p.c.Err()
}

func (p *parser) entry(minor uint32) Entry {
	c := p.c
	switch p.packing {
	case packLow:
		off, comp, decomp, packed := c.U32(), c.U32(), c.U32(), c.U32()
		return Entry{
			Offset:       int64(off)<<8 + int64(packed>>24),
			Compressed:   comp,
			Decompressed: decomp & 0x7fffffff,
			Flags:        uint8(packed),
		}
	case packHigh:
		off, comp, decomp, packed := c.U32(), c.U32(), c.U32(), c.U32()
		return Entry{
			Offset:       int64(off)<<8 + int64(packed&0xffffff),
			Compressed:   comp,
			Decompressed: decomp & 0x7fffffff,
			Flags:        uint8(packed >> 24),
		}
	case packTopBit:
		var off int64
		if minor < 2 {
			off = int64(c.U32())
		} else {
			off = c.I64()
		}
		comp, decomp := c.U32(), c.U32()
		return Entry{Offset: off, Compressed: comp, Decompressed: decomp & 0x7fffffff, Flags: uint8(decomp >> 31)}
	case packTopByte:
		var off uint64
		if minor < 2 {
			off = uint64(c.U32())
		} else {
			off = c.U64()
		}
		comp, decomp := c.U32(), c.U32()
		return Entry{Offset: int64(off & 0xffffffffffffff), Compressed: comp, Decompressed: decomp, Flags: uint8(off >> 56)}
	default: // packLegacy
		off := c.I64()
		c.Skip(4) // 0x12345678
		comp, decomp, kind := c.U32(), c.U32(), c.U32()
		return Entry{Offset: off, Compressed: comp, Decompressed: decomp, Flags: uint8(kind)}
	}
}

// The little-endian revisions: entries, then a node table whose names
// block follows it, then sometimes a path hash per entry.
func (p *parser) parseOld() error {
	c := p.c
	c.Seek(4)
	if err := p.entries(c.U32(), 0); err != nil {
		return err
	}
	if p.parents == parentsNone {
		return p.hashedNames()
	}

	count := c.U32()
	if count == 0 {
		return fmt.Errorf("%w: empty node table", codec.ErrFormat)
	}
	if err := p.fits(count, p.nodeSize); err != nil {
		return err
	}
	namesAt := c.Pos() + int64(count)*int64(p.nodeSize) + 4

	t := p.a.Tree
	t.Nodes = make([]filetree.Node, count)
	for i := range t.Nodes {
		next, prev, name := c.I16(), c.U16(), c.I32()
		var parent, file uint16
		if p.nodeSize == 12 {
			parent, file = c.U16(), c.U16()
		}
		n := filetree.Node{
			FinalChild:  uint32(max(0, next)),
			PrevSibling: uint32(prev),
			File:        filetree.NoFile,
		}
		if p.parents == parentsStored {
			n.Parent = uint32(parent)
		}
		if name >= 0 {
			n.Segment = strings.ToLower(p.stringAt(namesAt + int64(name)))
		}
		if i > 0 {
			switch {
			case p.leaves == leavesNegNext && next <= 0:
				n.File = -int32(next)
			case p.leaves == leavesAbsNext && (file != 0 || next <= 0):
				n.File = int32(next)
				if n.File < 0 {
					n.File = -n.File
				}
			}
		}
		t.Nodes[i] = n
	}
	if err := c.Err(); err != nil {
		return err
	}

	if p.parents == parentsWalk {
		if err := p.walkParents(); err != nil {
			return err
		}
	}

	if p.leaves == leavesHashed {
		c.Seek(namesAt - 4)
		c.Seek(namesAt + int64(c.U32()))
		if err := p.hashes(); err != nil {
			return err
		}
		p.matchLeaves()
	}
	return c.Err()
}

// walkParents fills in parent links breadth first from the root, for
// revisions that only store child and sibling links.
func (p *parser) walkParents() error {
	nodes := p.a.Tree.Nodes
	seen := make([]bool, len(nodes))
	seen[0] = true
	queue := []uint32{0}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		for child := nodes[parent].FinalChild; child != 0; child = nodes[child].PrevSibling {
			if int(child) >= len(nodes) {
				return fmt.Errorf("%w: node %d links to node %d of %d", codec.ErrFormat, parent, child, len(nodes))
			}
			if seen[child] {
				break
			}
			seen[child] = true
			nodes[child].Parent = parent
			queue = append(queue, child)
		}
	}
	return nil
}

func (p *parser) hashes() error {
	n := uint32(len(p.a.Entries))
	if err := p.fits(n, 4); err != nil {
		return err
	}
	p.a.Hashes = make([]uint32, n)
	for i := range p.a.Hashes {
		p.a.Hashes[i] = p.c.U32()
	}
	return p.c.Err()
}

// matchLeaves gives each childless node the entry whose stored hash
// matches its path.
func (p *parser) matchLeaves() {
	byHash := make(map[uint32]int32, len(p.a.Hashes))
	for i, h := range p.a.Hashes {
		if _, dup := byHash[h]; !dup {
			byHash[h] = int32(i)
		}
	}
	t := p.a.Tree
	var buf []byte
	for i := 1; i < len(t.Nodes); i++ {
		if t.Nodes[i].FinalChild != 0 {
			continue
		}
		buf = t.AppendPath(buf[:0], uint32(i))
		h := uint32(filetree.FNV32.Sum(string(buf)))
		if e, ok := byHash[h]; ok {
			t.Nodes[i].File = e
		} else {
			slog.Warn("datUnmatchedLeaf", "path", string(buf), "hash", h)
		}
	}
}

// hashedNames names entries from the candidate lists, for revisions with
// no node table at all.
func (p *parser) hashedNames() error {
	if err := p.hashes(); err != nil {
		return err
	}
	dict, err := candidates(p.names)
	if err != nil {
		return err
	}
	t := p.a.Tree
	found := 0
	for i, h := range p.a.Hashes {
		if path, ok := dict[h]; ok {
			if n := t.Insert(path); !t.IsFile(n) {
				t.Nodes[n].File = int32(i)
				found++
				continue
			}
		}
		// placeholders go in entry order, interleaved with the named files
		p.a.nameOrphan(i)
	}
	slog.Debug("datCandidateNames", "matched", found, "of", len(p.a.Hashes), "candidates", len(dict))
	if found < len(p.a.Hashes) {
		slog.Info("datUnnamedEntries", "version", p.a.Version, "count", len(p.a.Hashes)-found, "of", len(p.a.Hashes))
	}
	return nil
}

// The big-endian revisions: a fixed header, a names block at 32, the node
// table, then the entries.
func (p *parser) parseNew() error {
	c := p.c
	c.Seek(16)
	minor, files, count, namesSize := c.U32(), c.U32(), c.U32(), c.U32()
	p.a.Minor = minor
	const namesAt = 32
	c.Seek(namesAt + int64(namesSize))
	if err := c.Err(); err != nil {
		return err
	}
	if p.parents == parentsInserted {
		return p.parseInserted(files, count, namesAt)
	}

	recSize := 12
	if p.leaves == leavesID && minor < 2 {
		recSize = 10
	}
	if count == 0 {
		return fmt.Errorf("%w: empty node table", codec.ErrFormat)
	}
	if err := p.fits(count, recSize); err != nil {
		return err
	}
	t := p.a.Tree
	t.Nodes = make([]filetree.Node, count)
	for i := range t.Nodes {
		var final, prev, parent, file uint16
		var name int32
		if p.leaves == leavesID {
			id := c.I16()
			prev, name, parent = c.U16(), c.I32(), c.U16()
			switch {
			case minor >= 2:
				file = c.U16()
				final = uint16(max(0, id))
			case id < 0:
				file = uint16(-id)
			default:
				final = uint16(id)
			}
		} else {
			final, prev, name, parent, file = c.U16(), c.U16(), c.I32(), c.U16(), c.U16()
		}
		n := filetree.Node{
			Parent:      uint32(parent),
			FinalChild:  uint32(final),
			PrevSibling: uint32(prev),
			File:        filetree.NoFile,
		}
		if name != -1 {
			n.Segment = strings.ToLower(p.stringAt(namesAt + int64(name)))
		}
		if i > 0 && (final == 0 || file != 0) {
			n.File = int32(file)
		}
		t.Nodes[i] = n
	}

	c.Skip(12) // padding, version and entry count again
	if err := p.entries(files, minor); err != nil {
		return err
	}
	if !p.hashTable || !p.orphans() {
		return nil
	}
	if err := p.hashes(); err != nil {
		return err
	}
	return p.overrideTable()
}

// orphans reports whether some entry has no node.
func (p *parser) orphans() bool {
	has := make([]bool, len(p.a.Entries))
	for _, n := range p.a.Tree.Nodes {
		if n.File >= 0 && int(n.File) < len(has) {
			has[n.File] = true
		}
	}
	for _, ok := range has {
		if !ok {
			return true
		}
	}
	return false
}

// overrideTable reads the literal paths listed for entries whose hashes
// collide. Each string is padded to an odd length before its entry number.
func (p *parser) overrideTable() error {
	c := p.c
	count := c.U32()
	c.Skip(4) // block size
	if err := p.fits(count, 4); err != nil {
		return err
	}
	has := make([]bool, len(p.a.Entries))
	for _, n := range p.a.Tree.Nodes {
		if n.File >= 0 && int(n.File) < len(has) {
			has[n.File] = true
		}
	}
	t := p.a.Tree
	for range count {
		path := c.CString()
		if len(path)%2 == 0 {
			c.Skip(1)
		}
		e := c.I16()
		if c.Err() != nil {
			break
		}
		if e < 0 || int(e) >= len(p.a.Entries) {
			slog.Warn("datBadOverride", "path", path, "entry", e)
			continue
		}
		if !has[e] {
			n := t.Insert(path)
			if !t.IsFile(n) {
				t.Nodes[n].File = int32(e)
				has[e] = true
			}
		}
		if p.a.aliases == nil {
			p.a.aliases = make(map[string]int32)
		}
		p.a.aliases[path] = int32(e)
	}
	return c.Err()
}

// parseInserted handles the revision whose records name a folder record
// rather than linking siblings. The tree is rebuilt from the full paths.
func (p *parser) parseInserted(files, count uint32, namesAt int64) error {
	c := p.c
	minor := p.a.Minor
	c.Skip(4)
	recSize := 10
	if minor >= 2 {
		recSize = 12
	}
	if err := p.fits(count, recSize); err != nil {
		return err
	}
	folders := make([]string, count)
	paths := make([]string, files)
	seq := 0
	for i := range count {
		name, folder := c.I32(), c.U16()
		var order uint16
		if minor >= 2 {
			order = c.U16()
		}
		c.Skip(2)
		file := c.I16()
		if name == -1 {
			continue
		}
		if uint32(folder) >= count {
			return fmt.Errorf("%w: record %d names folder %d of %d", codec.ErrFormat, i, folder, count)
		}
		path := folders[folder] + `\` + p.stringAt(namesAt+int64(name))
		if i == count-1 {
			file = 1
		}
		if file == 0 {
			folders[i] = path
			continue
		}
		e := seq
		if minor >= 2 {
			e = int(order)
		}
		seq++
		if e >= len(paths) {
			return fmt.Errorf("%w: record %d names entry %d of %d", codec.ErrFormat, i, e, len(paths))
		}
		paths[e] = path
	}

	c.Skip(8) // version and entry count again
	if err := p.entries(files, minor); err != nil {
		return err
	}
	t := p.a.Tree
	for e, path := range paths {
		if path == "" {
			continue
		}
		n := t.Insert(path)
		if t.IsFile(n) {
			slog.Warn("datDuplicatePath", "path", path, "entry", e)
			continue
		}
		t.Nodes[n].File = int32(e)
	}
	return nil
}
