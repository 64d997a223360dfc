// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package dflt decodes the DFLT chunk format, a DEFLATE relative with
// renumbered block types (0 dynamic, 1 fixed, 2 stored) and stored blocks
// that carry no complemented length.
package dflt

import (
	"fmt"
	"sync"

	"github.com/elliotnunn/brickvault/internal/codec"
	"github.com/elliotnunn/brickvault/internal/huffman"
)

const (
	maxNumLit  = 288
	maxNumDist = 32
	numCodes   = 19
	endOfBlock = 256
)

var codeOrder = [numCodes]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// indexed by literal/length symbol minus 256
var lengthBase = [...]uint16{
	0, 3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27,
	31, 35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258, 0, 0,
}

var lengthExtra = [...]uint8{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2,
	2, 3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0, 0, 0,
}

var distBase = [...]uint16{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
	257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}

var distExtra = [...]uint8{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
	7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

// Built once upon first use.
var (
	fixedOnce          sync.Once
	fixedLit, fixedDst huffman.Table
)

func fixedInit() {
	fixedOnce.Do(func() {
		var lit [maxNumLit]uint8
		for i := range lit {
			switch {
			case i < 144:
				lit[i] = 8
			case i < 256:
				lit[i] = 9
			case i < 280:
				lit[i] = 7
			default:
				lit[i] = 8
			}
		}
		var dst [maxNumDist]uint8
		for i := range dst {
			dst[i] = 5
		}
		if fixedLit.Build(lit[:]) != nil || fixedDst.Build(dst[:]) != nil {
			panic("fixed DFLT tables")
		}
	})
}

// Decompressor holds the bit reader and tables of one decode.
// It is not safe for concurrent use; pool instances instead.
type Decompressor struct {
	in  []byte
	ip  int
	out []byte
	op  int

	b  uint32 // LSB-first bit buffer
	nb uint

	lit, dist, clen huffman.Table
	lens            [maxNumLit + maxNumDist]uint8
}

func New() *Decompressor {
	fixedInit()
	return new(Decompressor)
}

// Decompress decodes blocks from in until a final block ends,
// writing at most len(out) bytes.
func (d *Decompressor) Decompress(in, out []byte) (n int, err error) {
	fixedInit()
	d.in, d.ip, d.out, d.op = in, 0, out, 0
	d.b, d.nb = 0, 0
	defer func() {
		if r := recover(); r != nil {
			err = codec.Corrupt("DFLT", r)
		}
		n = d.op
		d.in, d.out = nil, nil
	}()

	for {
		final := d.bits(1) == 1
		switch typ := d.bits(2); typ {
		case 0:
			d.readHuffman()
			d.huffmanBlock(&d.lit, &d.dist)
		case 1:
			d.huffmanBlock(&fixedLit, &fixedDst)
		case 2:
			if err := d.storedBlock(); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("DFLT: reserved block type %d: %w", typ, codec.ErrCorrupt)
		}
		if final {
			return d.op, nil
		}
	}
}

// Reset clears the bit state and all tables.
func (d *Decompressor) Reset() {
	*d = Decompressor{}
}

// moreBits tops up the buffer to at least 25 bits, with zeros past the end of input.
func (d *Decompressor) moreBits() {
	for d.nb < 25 {
		var c byte
		if d.ip < len(d.in) {
			c = d.in[d.ip]
			d.ip++
		}
		d.b |= uint32(c) << d.nb
		d.nb += 8
	}
}

func (d *Decompressor) bits(n uint) uint32 {
	if d.nb < n {
		d.moreBits()
	}
	v := d.b & (1<<n - 1)
	d.b >>= n
	d.nb -= n
	return v
}

func (d *Decompressor) sym(h *huffman.Table) int {
	if d.nb < 16 {
		d.moreBits()
	}
	s, n := h.Decode(d.b)
	d.b >>= n
	d.nb -= n
	return int(s)
}

func (d *Decompressor) writeByte(c byte) {
	if d.op < len(d.out) {
		d.out[d.op] = c
		d.op++
	}
}

func (d *Decompressor) readHuffman() {
	nlit := int(d.bits(5)) + 257
	ndist := int(d.bits(5)) + 1
	nclen := int(d.bits(4)) + 4

	clear(d.lens[:])
	for i := range nclen {
		d.lens[codeOrder[i]] = uint8(d.bits(3))
	}
	if err := d.clen.Build(d.lens[:numCodes]); err != nil {
		panic(err)
	}

	n := nlit + ndist
	for i := 0; i < n; {
		x := d.sym(&d.clen)
		if x < 16 {
			d.lens[i] = uint8(x)
			i++
			continue
		}
		var rep int
		var prev uint8
		switch x {
		case 16:
			rep = 3 + int(d.bits(2))
			if i > 0 {
				prev = d.lens[i-1]
			}
		case 17:
			rep = 3 + int(d.bits(3))
		case 18:
			rep = 11 + int(d.bits(7))
		default:
			panic(fmt.Errorf("code length symbol %d", x))
		}
		if i+rep > n {
			panic(fmt.Errorf("code length repeat past %d", n))
		}
		for range rep {
			d.lens[i] = prev
			i++
		}
	}

	if err := d.lit.Build(d.lens[:nlit]); err != nil {
		panic(err)
	}
	if err := d.dist.Build(d.lens[nlit:n]); err != nil {
		panic(err)
	}
}

func (d *Decompressor) huffmanBlock(hl, hd *huffman.Table) {
	for {
		v := d.sym(hl)
		switch {
		case v < 256:
			d.writeByte(byte(v))
			continue
		case v == endOfBlock:
			return
		case v-256 >= len(lengthBase):
			panic(fmt.Errorf("length symbol %d", v))
		}
		length := int(lengthBase[v-256])
		if n := uint(lengthExtra[v-256]); n > 0 {
			length += int(d.bits(n))
		}

		ds := d.sym(hd)
		if ds >= len(distBase) {
			panic(fmt.Errorf("distance symbol %d", ds))
		}
		dist := int(distBase[ds])
		if n := uint(distExtra[ds]); n > 0 {
			dist += int(d.bits(n))
		}

		pos := d.op - dist
		if pos < 0 {
			panic(fmt.Errorf("match %d bytes before start of output", -pos))
		}
		for i := range length {
			if d.op >= len(d.out) {
				break
			}
			d.writeByte(d.out[pos+i])
		}
	}
}

func (d *Decompressor) storedBlock() error {
	if skip := d.nb & 7; skip > 0 {
		d.b >>= skip
		d.nb -= skip
	}

	var hdr [4]byte
	got := 0
	for d.nb > 0 {
		hdr[got] = byte(d.b)
		got++
		d.b >>= 8
		d.nb -= 8
	}
	for got < 2 {
		if d.ip < len(d.in) {
			hdr[got] = d.in[d.ip]
			d.ip++
		}
		got++
	}
	d.b = 0

	length := int(hdr[0]) | int(hdr[1])<<8
	for _, c := range hdr[2:got] {
		d.writeByte(c)
		length--
	}
	if length < 0 {
		return fmt.Errorf("DFLT: stored block shorter than buffered bytes: %w", codec.ErrCorrupt)
	}
	if d.ip+length > len(d.in) {
		return fmt.Errorf("DFLT: stored block of %d bytes with %d left: %w", length, len(d.in)-d.ip, codec.ErrTruncated)
	}
	n := copy(d.out[d.op:], d.in[d.ip:d.ip+length])
	d.op += n
	d.ip += length
	return nil
}
