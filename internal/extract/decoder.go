// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package extract

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/elliotnunn/brickvault/internal/codec"
	"github.com/elliotnunn/brickvault/internal/codecpool"
	"github.com/elliotnunn/brickvault/internal/dat"
	"github.com/elliotnunn/brickvault/internal/oodle"
	"github.com/elliotnunn/brickvault/internal/refpack"
	"github.com/elliotnunn/brickvault/internal/rnc"
	"github.com/elliotnunn/brickvault/internal/zipx"
)

const (
	initialIn  = 128 << 10
	initialOut = 512 << 10
)

// stateless decompressors, shared by every Decoder
var stateless = [codec.NumKinds]codec.Decompressor{
	codec.Oodle:   oodle.New(),
	codec.Zipx:    zipx.New(),
	codec.RefPack: refpack.New(),
	codec.Rnc:     rnc.New(),
}

// Decoder turns the chunks of one entry at a time into bytes. Its scratch
// buffers grow to the largest chunk seen and are never shrunk. A Decoder
// must not be shared between goroutines; the pool it draws from may be.
type Decoder struct {
	r    io.ReaderAt
	pool *codecpool.Pool
	in   []byte
	out  []byte
}

func NewDecoder(r io.ReaderAt, pool *codecpool.Pool) *Decoder {
	if pool == nil {
		pool = codecpool.New()
	}
	return &Decoder{
		r:    r,
		pool: pool,
		in:   make([]byte, initialIn),
		out:  make([]byte, initialOut),
	}
}

// ReaderAt is the archive the Decoder reads from.
func (d *Decoder) ReaderAt() io.ReaderAt { return d.r }

func grow(b []byte, n int) []byte {
	if n <= cap(b) {
		return b[:cap(b)]
	}
	return make([]byte, max(n, 2*cap(b)))
}

// Chunk decodes c. The result aliases the Decoder's scratch space and is
// valid until the next call. Chunks with an unknown tag decode to nothing.
func (d *Decoder) Chunk(c Chunk) ([]byte, error) {
	if c.Kind == codec.Unknown {
		slog.Warn("unknownChunkTag", "tag", fmt.Sprintf("%q", c.Tag[:]), "at", c.At, "skipped", c.Packed)
		return nil, nil
	}

	d.in = grow(d.in, c.Packed)
	in := d.in[:c.Packed]
	if n, err := d.r.ReadAt(in, c.In); n < len(in) {
		return nil, fmt.Errorf("%v chunk at %#x: %w", c.Kind, c.At, truncated(err))
	}
	if c.Stored {
		return in, nil
	}

	d.out = grow(d.out, c.Size)
	out := d.out[:c.Size]
	n, err := d.decode(c.Kind, in, out)
	if err != nil {
		return nil, fmt.Errorf("%v chunk at %#x: %w", c.Kind, c.At, err)
	}
	if n != c.Size {
		return nil, fmt.Errorf("%v chunk at %#x: %w: made %d of %d bytes", c.Kind, c.At, codec.ErrCorrupt, n, c.Size)
	}
	return out, nil
}

func (d *Decoder) decode(k codec.Kind, in, out []byte) (int, error) {
	if dec := d.pool.Get(k); dec != nil {
		defer d.pool.Return(k, dec)
		return dec.Decompress(in, out)
	}
	if dec := stateless[k]; dec != nil {
		return dec.Decompress(in, out)
	}
	return 0, fmt.Errorf("no decompressor for %v: %w", k, codec.ErrUnavailable)
}

// Entry writes the whole of e to w and returns the byte count.
func (d *Decoder) Entry(e dat.Entry, w io.Writer) (int64, error) {
	if !e.Chunked() {
		n, err := io.Copy(w, io.NewSectionReader(d.r, e.Offset, int64(e.Decompressed)))
		if err == nil && n < int64(e.Decompressed) {
			err = fmt.Errorf("entry at %#x: %w", e.Offset, codec.ErrTruncated)
		}
		return n, err
	}

	var written int64
	for c, err := range Chunks(d.r, e) {
		if err != nil {
			return written, err
		}
		b, err := d.Chunk(c)
		if err != nil {
			return written, err
		}
		n, err := w.Write(b)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	if written != int64(e.Decompressed) {
		return written, fmt.Errorf("%w: chunks made %d of %d bytes", codec.ErrCorrupt, written, e.Decompressed)
	}
	return written, nil
}

// Bytes is Entry into a fresh slice.
func (d *Decoder) Bytes(e dat.Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(e.Decompressed))
	_, err := d.Entry(e, &buf)
	return buf.Bytes(), err
}
