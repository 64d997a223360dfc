// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package datfs

import (
	"bytes"
	"errors"
	"io"
	"io/fs"

	"github.com/elliotnunn/brickvault/internal/chunkcache"
	"github.com/elliotnunn/brickvault/internal/dat"
	"github.com/elliotnunn/brickvault/internal/extract"
)

// An Open()ed file, which also satisfies io.ReaderAt and io.Seeker
type rafile struct {
	node *node
	*io.SectionReader
}

func (f *rafile) Close() error               { return nil }
func (f *rafile) Stat() (fs.FileInfo, error) { return f.node, nil }

// An Open()ed directory
type lister struct {
	node     *node
	progress int
}

func (l *lister) Close() error               { return nil }
func (l *lister) Stat() (fs.FileInfo, error) { return l.node, nil }

func (l *lister) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: l.node.name, Err: errIsDir}
}

var errIsDir = errors.New("is a directory")

// Tricky partial-listing semantics
func (l *lister) ReadDir(count int) ([]fs.DirEntry, error) {
	children := l.node.children
	n := len(children) - l.progress
	if n == 0 && count > 0 {
		return nil, io.EOF
	}
	if count > 0 && n > count {
		n = count
	}
	list := make([]fs.DirEntry, n)
	for i := range list {
		list[i] = fs.FileInfoToDirEntry(&children[l.progress+i])
	}
	l.progress += n
	return list, nil
}

var _ fs.ReadDirFile = new(lister) // check satisfies interface

// readerAt returns random access to entry i. Verbatim entries read the
// archive directly. Chunked entries get one cached decoder each, so that
// the chunk cache keeps its checkpoints between opens.
func (fsys *FS) readerAt(i int) io.ReaderAt {
	e := fsys.a.Entries[i]
	if !e.Chunked() {
		return io.NewSectionReader(fsys.a.ReaderAt(), e.Offset, int64(e.Decompressed))
	}

	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if r, ok := fsys.readers[i]; ok {
		return r
	}
	r := chunkcache.New(stepper(extract.NewDecoder(fsys.a.ReaderAt(), fsys.pool), e, e.Offset, 0),
		int64(e.Decompressed), fsys.a.Path(i))
	fsys.readers[i] = r
	return r
}

// stepper decodes the next chunk of e that produces any bytes, starting
// with the frame at pos, which follows done bytes of output. The chunk
// cache serializes calls, so the Decoder is never used concurrently.
func stepper(d *extract.Decoder, e dat.Entry, pos, done int64) chunkcache.Stepper {
	return func() (chunkcache.Stepper, []byte, error) {
		at := pos
		for {
			c, err := extract.ReadHeader(d.ReaderAt(), at)
			if err != nil {
				return nil, nil, err
			}
			b, err := d.Chunk(c)
			if err != nil {
				return nil, nil, err
			}
			at = c.End()
			if len(b) == 0 {
				continue
			}
			b = bytes.Clone(b)
			produced := done + int64(len(b))
			next := stepper(d, e, at, produced)
			if produced >= int64(e.Decompressed) {
				return next, b, io.EOF
			}
			return next, b, nil
		}
	}
}
