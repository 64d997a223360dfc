// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package extract decodes archive entries, one at a time or across a
// fixed set of workers.
package extract

import (
	"encoding/binary"
	"fmt"
	"io"
	"iter"

	"github.com/elliotnunn/brickvault/internal/codec"
	"github.com/elliotnunn/brickvault/internal/dat"
	"github.com/elliotnunn/brickvault/internal/rnc"
)

// HeaderSize is the length of the frame in front of every chunk.
const HeaderSize = 12

const maxChunk = 1 << 30

// Chunk is one framed piece of an entry.
type Chunk struct {
	Kind   codec.Kind
	Tag    [4]byte
	At     int64 // frame header
	In     int64 // first byte handed to the decoder
	Packed int   // bytes handed to the decoder
	Size   int   // bytes produced, 0 for skipped chunks
	Stored bool  // payload is the output
}

// End is the position of the next frame.
func (c Chunk) End() int64 { return c.In + int64(c.Packed) }

// ReadHeader reads the frame at off. Most frames are a tag, a little-endian
// packed size and a little-endian unpacked size. LZ2K swaps the two sizes
// and stores equal sizes verbatim. RNC frames are whole RNC blocks with
// big-endian sizes, handed to the decoder header and all.
func ReadHeader(r io.ReaderAt, off int64) (Chunk, error) {
	var h [HeaderSize]byte
	if n, err := r.ReadAt(h[:], off); n < len(h) {
		return Chunk{}, fmt.Errorf("chunk header at %#x: %w", off, truncated(err))
	}
	c := Chunk{Tag: [4]byte(h[:4]), At: off, In: off + HeaderSize}
	c.Kind = codec.KindOf(c.Tag)
	a := int64(int32(binary.LittleEndian.Uint32(h[4:])))
	b := int64(int32(binary.LittleEndian.Uint32(h[8:])))

	switch c.Kind {
	case codec.Lz2k:
		a, b = b, a
		c.Stored = a == b
	case codec.Rnc:
		b = int64(binary.BigEndian.Uint32(h[4:]))
		a = int64(binary.BigEndian.Uint32(h[8:])) + rnc.HeaderSize
		c.In = off
	case codec.Unknown:
		b = 0
	}
	if a < 0 || b < 0 || a > maxChunk || b > maxChunk {
		return Chunk{}, fmt.Errorf("%w: %q chunk at %#x claims %d packed, %d unpacked bytes",
			codec.ErrCorrupt, c.Tag[:], off, a, b)
	}
	c.Packed, c.Size = int(a), int(b)
	return c, nil
}

// Chunks yields the frames of a chunked entry until they account for
// its decompressed size. It stops after the first error.
func Chunks(r io.ReaderAt, e dat.Entry) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		at := e.Offset
		for total := int64(0); total < int64(e.Decompressed); {
			c, err := ReadHeader(r, at)
			if !yield(c, err) || err != nil {
				return
			}
			total += int64(c.Size)
			at = c.End()
		}
	}
}

func truncated(err error) error {
	if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
		return codec.ErrTruncated
	}
	return err
}
