// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package rawfile

import (
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/elliotnunn/brickvault/internal/codec"
)

func TestSection(t *testing.T) {
	var abcd io.ReaderAt = strings.NewReader("abcd")
	var r io.ReaderAt

	r = Section(abcd, 0, 4)
	expectRead(t, r, 0, 4, "abcd")
	expectRead(t, r, 0, 5, "abcd EOF")
	expectRead(t, r, 4, 1, " EOF")

	r = Section(abcd, 1, 2)
	expectRead(t, r, 0, 2, "bc")
	expectRead(t, r, 1, 2, "c EOF")

	r = Section(Section(abcd, 1, 3), 1, 1)
	if r.(*ReaderAt).r != abcd {
		t.Error("nested section did not collapse")
	}
	expectRead(t, r, 0, 1, "c")
}

func expectRead(t *testing.T, r io.ReaderAt, off int64, n int, want string) {
	t.Helper()
	p := make([]byte, n)
	got, err := r.ReadAt(p, off)
	s := string(p[:got])
	if err != nil {
		s += " " + err.Error()
	}
	if s != want {
		t.Errorf("ReadAt(%d, %d) = %q, want %q", n, off, s, want)
	}
}

func TestCursor(t *testing.T) {
	data := []byte{
		0x01, 0x02, // u16
		0xff, 0xff, 0xff, 0xfe, // i32
		'h', 'i', 0, // cstring
		1, 0, 0, 0, 0, 0, 0, 0x80, // i64
	}
	c := NewCursor(strings.NewReader(string(data)), binary.BigEndian)
	if got := c.U16(); got != 0x0102 {
		t.Errorf("U16 = %#x", got)
	}
	if got := c.I32(); got != -2 {
		t.Errorf("I32 = %d", got)
	}
	if got := c.CString(); got != "hi" {
		t.Errorf("CString = %q", got)
	}
	c.Order = binary.LittleEndian
	if got := c.U64(); got != 0x8000000000000001 {
		t.Errorf("U64 = %#x", got)
	}
	if c.Err() != nil {
		t.Fatal(c.Err())
	}
	if c.Pos() != int64(len(data)) {
		t.Errorf("Pos = %d", c.Pos())
	}

	if got := c.U32(); got != 0 {
		t.Errorf("read past end returned %d", got)
	}
	if !errors.Is(c.Err(), codec.ErrTruncated) {
		t.Errorf("Err = %v, want ErrTruncated", c.Err())
	}
	c.Seek(0)
	if c.U16() != 0 {
		t.Error("error should be sticky")
	}
}
