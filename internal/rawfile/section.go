// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package rawfile reads fixed-layout binary records from an io.ReaderAt.
package rawfile

import (
	"io"
	"math"
)

// Section returns a view of n bytes of r starting at off. Nested views
// collapse onto the outermost reader.
func Section(r io.ReaderAt, off int64, n int64) *ReaderAt {
	for {
		t, ok := r.(*ReaderAt)
		if !ok {
			break
		}
		if off+n > t.n {
			break
		}
		r, off = t.r, off+t.off
	}
	return &ReaderAt{r, off, n}
}

// ReaderAt is a bounded window onto another io.ReaderAt. Reads that
// cross its end are clipped and report io.EOF.
type ReaderAt struct {
	r      io.ReaderAt
	off, n int64
}

func (s *ReaderAt) Size() int64 { return s.n }

func (s *ReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	if s.n < 0 || s.off < 0 || off < 0 || s.off+off < 0 || off >= s.n {
		return 0, io.EOF
	}

	limit := s.off + s.n
	if limit < s.off { // integer overflow
		limit = math.MaxInt64
	}

	off += s.off
	if max := limit - off; int64(len(p)) > max {
		p = p[:max]
		n, err = s.r.ReadAt(p, off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return s.r.ReadAt(p, off)
}
