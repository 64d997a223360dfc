// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package dat parses the index of a DAT archive in any of its known
// revisions into a flat list of entries and a file tree.
package dat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/elliotnunn/brickvault/internal/codec"
	"github.com/elliotnunn/brickvault/internal/filetree"
	"github.com/elliotnunn/brickvault/internal/rawfile"
)

// Entry locates one stored file. Offset is the absolute position of its
// first byte (or first chunk header) in the archive.
type Entry struct {
	Offset       int64  `cbor:"1,keyasint"`
	Compressed   uint32 `cbor:"2,keyasint"`
	Decompressed uint32 `cbor:"3,keyasint"`
	Flags        uint8  `cbor:"4,keyasint"`
	Node         uint32 `cbor:"5,keyasint"` // 0 until the entry has a path
}

// Chunked reports whether the entry is stored as a series of framed chunks
// rather than verbatim. Flags are informational and do not decide this.
func (e Entry) Chunked() bool {
	return e.Compressed != e.Decompressed
}

type Archive struct {
	Version Version
	Minor   uint32
	Entries []Entry
	Tree    *filetree.Tree
	Hashes  []uint32 // stored per-entry path hashes, where the revision has them

	aliases map[string]int32 // literal path to entry
	r       io.ReaderAt
}

// Options tune Open.
type Options struct {
	// Name is the archive's file name. Only the legacy layout needs it.
	Name string

	// Names holds *.list files of candidate paths for revisions that store
	// only path hashes. Without it such entries get placeholder names.
	Names fs.FS
}

const (
	magicLE = 0x3443432e // ".CC4"
	magicBE = 0x2e434334

	maxTrailer = 1 << 30
)

// Open reads the header and trailer of the archive in r.
func Open(r io.ReaderAt, opts Options) (*Archive, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("archive header: %w", truncated(err))
	}
	off, size := trailerAt(hdr)
	if size < 16 || size > maxTrailer {
		return nil, fmt.Errorf("%w: trailer of %d bytes at %#x", codec.ErrFormat, size, off)
	}
	trailer := make([]byte, size)
	if _, err := r.ReadAt(trailer, off); err != nil {
		return nil, fmt.Errorf("trailer at %#x: %w", off, truncated(err))
	}

	v, err := detect(r, opts.Name, off, trailer)
	if err != nil {
		return nil, err
	}
	slog.Debug("datOpen", "version", v, "trailer", off, "size", size)

	a := &Archive{Version: v, r: r}
	p := &parser{
		a:      a,
		layout: layouts[v],
		c:      rawfile.NewCursor(bytes.NewReader(trailer), layouts[v].order()),
		size:   int64(len(trailer)),
		names:  opts.Names,
	}
	if err := p.parse(); err != nil {
		return nil, fmt.Errorf("%v index: %w", v, err)
	}
	if err := a.finish(); err != nil {
		return nil, fmt.Errorf("%v index: %w", v, err)
	}
	return a, nil
}

// trailerAt decodes the leading (offset, size) pair. An offset with its
// top bit set is stored inverted and in 256-byte units.
func trailerAt(hdr [8]byte) (off int64, size uint32) {
	raw := binary.LittleEndian.Uint32(hdr[0:])
	size = binary.LittleEndian.Uint32(hdr[4:])
	if raw&0x80000000 != 0 {
		return int64(^raw)<<8 + 0x100, size
	}
	return int64(raw), size
}

func detect(r io.ReaderAt, name string, off int64, trailer []byte) (Version, error) {
	if strings.EqualFold(pathExt(name), ".dat") {
		var sentinel [4]byte
		if _, err := r.ReadAt(sentinel[:], off+int64(len(trailer))); err == nil &&
			int32(binary.LittleEndian.Uint32(sentinel[:])) == -1 {
			return V1X, nil
		}
	}

	det := int32(binary.LittleEndian.Uint32(trailer[0:]))
	var v int32
	switch m1, m2 := binary.LittleEndian.Uint32(trailer[4:]), binary.LittleEndian.Uint32(trailer[8:]); {
	case det > -20 && det < 0:
		v = -det
	case m1 == magicLE || m1 == magicBE || m2 == magicLE || m2 == magicBE:
		v = int32(binary.BigEndian.Uint32(trailer[12:]))
		if v < 0 {
			v = -v
		}
	default:
		return 0, fmt.Errorf("%w: no version marker in trailer (%#x)", codec.ErrFormat, uint32(det))
	}
	if _, ok := layouts[Version(v)]; v > 0xff || !ok || Version(v) == V1X {
		return 0, fmt.Errorf("%w: unsupported version %d", codec.ErrFormat, v)
	}
	return Version(v), nil
}

func pathExt(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || strings.ContainsAny(name[i:], `/\`) {
		return ""
	}
	return name[i:]
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return codec.ErrTruncated
	}
	return err
}

// finish cross-links entries and file nodes, names any entry the index
// left without a path, and freezes the tree.
func (a *Archive) finish() error {
	for i := range a.Tree.Nodes {
		f := a.Tree.Nodes[i].File
		if f == filetree.NoFile {
			continue
		}
		if int(f) >= len(a.Entries) {
			return fmt.Errorf("%w: node %d names entry %d of %d", codec.ErrFormat, i, f, len(a.Entries))
		}
		if a.Entries[f].Node == 0 {
			a.Entries[f].Node = uint32(i)
		} else {
			a.Tree.Nodes[i].File = filetree.NoFile
			slog.Warn("datSharedEntry", "entry", f, "node", i, "first", a.Entries[f].Node)
		}
	}

	orphans := 0
	for i := range a.Entries {
		if a.Entries[i].Node != 0 {
			continue
		}
		orphans++
		a.Entries[i].Node = a.nameOrphan(i)
	}
	if orphans > 0 {
		slog.Warn("datUnnamedEntries", "version", a.Version, "count", orphans, "of", len(a.Entries))
	}

	if err := a.Tree.Finish(); err != nil {
		return err
	}
	for path, e := range a.aliases {
		if e >= 0 && int(e) < len(a.Entries) {
			a.Tree.Alias(path, a.Entries[e].Node)
		}
	}
	return nil
}

// nameOrphan files entry i under its placeholder path.
func (a *Archive) nameOrphan(i int) uint32 {
	n := a.Tree.Insert(a.placeholder(i))
	if a.Tree.IsFile(n) {
		n = a.Tree.Insert(fmt.Sprintf("%s.%d", a.placeholder(i), i))
	}
	a.Tree.Nodes[n].File = int32(i)
	return n
}

func (a *Archive) placeholder(i int) string {
	if i < len(a.Hashes) {
		return fmt.Sprintf(`unknown\%08x.unk`, a.Hashes[i])
	}
	return fmt.Sprintf(`unknown\%08x.unk`, i)
}

// ReaderAt is the archive the entries point into.
func (a *Archive) ReaderAt() io.ReaderAt { return a.r }

// Path is the root-exclusive, backslash-separated path of entry i.
func (a *Archive) Path(i int) string {
	return a.Tree.Path(a.Entries[i].Node)
}

// Lookup finds an entry by path using the archive's path hash.
func (a *Archive) Lookup(path string) (int, error) {
	return a.Tree.GetFile(path)
}
