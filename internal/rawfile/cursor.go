// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package rawfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/elliotnunn/brickvault/internal/codec"
)

// Cursor reads consecutive fields from an io.ReaderAt. After the first
// failed read every later read returns zero and Err reports the failure,
// so a parser can read a whole record and check once.
//
// A Cursor is not safe for concurrent use, but any number of cursors
// may share one io.ReaderAt.
type Cursor struct {
	r     io.ReaderAt
	pos   int64
	Order binary.ByteOrder
	err   error
	buf   [8]byte
}

func NewCursor(r io.ReaderAt, order binary.ByteOrder) *Cursor {
	return &Cursor{r: r, Order: order}
}

func (c *Cursor) Pos() int64 { return c.pos }

func (c *Cursor) Seek(pos int64) { c.pos = pos }

func (c *Cursor) Skip(n int64) { c.pos += n }

func (c *Cursor) Err() error { return c.err }

// Fail records err unless an earlier error is already held.
func (c *Cursor) Fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// ReadFull fills p from the current position.
func (c *Cursor) ReadFull(p []byte) bool {
	if c.err != nil {
		clear(p)
		return false
	}
	n, err := c.r.ReadAt(p, c.pos)
	if n == len(p) {
		c.pos += int64(n)
		return true
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = codec.ErrTruncated
	}
	c.err = fmt.Errorf("read %d bytes at %#x: %w", len(p), c.pos, err)
	clear(p)
	return false
}

func (c *Cursor) field(n int) []byte {
	p := c.buf[:n]
	c.ReadFull(p)
	return p
}

func (c *Cursor) U8() uint8   { return c.field(1)[0] }
func (c *Cursor) U16() uint16 { return c.Order.Uint16(c.field(2)) }
func (c *Cursor) I16() int16  { return int16(c.U16()) }
func (c *Cursor) U32() uint32 { return c.Order.Uint32(c.field(4)) }
func (c *Cursor) I32() int32  { return int32(c.U32()) }
func (c *Cursor) U64() uint64 { return c.Order.Uint64(c.field(8)) }
func (c *Cursor) I64() int64  { return int64(c.U64()) }

// CString reads up to and including a NUL and returns the text before it.
func (c *Cursor) CString() string {
	var s []byte
	for c.err == nil {
		ch := c.U8()
		if ch == 0 {
			break
		}
		s = append(s, ch)
	}
	return string(s)
}
