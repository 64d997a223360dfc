// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package lz2k decodes LZ2K chunks: LZ77 over an 8 KiB window with
// three canonical Huffman tables that are rebuilt after a counted
// number of symbols.
package lz2k

import (
	"github.com/elliotnunn/brickvault/internal/codec"
)

const (
	windowSize = 8192
	windowMask = windowSize - 1

	numLens  = 19  // code-length alphabet
	numSyms  = 510 // literals and match lengths
	numDists = 14  // distance classes
)

// Decompressor is not safe for concurrent use.
type Decompressor struct {
	in []byte
	ip int

	bitstream uint32
	last      byte
	align     uint

	setupLeft uint16
	readOff   uint32
	pending   int // unfinished match bytes, minus one

	window [windowSize]byte

	lens  *table
	large *table
	dists *table
}

func New() *Decompressor {
	return &Decompressor{
		lens:  newTable(numLens, 8),
		large: newTable(numSyms, 12),
		dists: newTable(numDists, 8),
	}
}

// Decompress fills out entirely and returns len(out).
func (d *Decompressor) Decompress(in, out []byte) (n int, err error) {
	if len(out) == 0 {
		return 0, nil
	}
	d.in, d.ip = in, 0
	d.bitstream, d.last, d.align = 0, 0, 0
	d.setupLeft, d.readOff, d.pending = 0, 0, 0
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, codec.Corrupt("LZ2K", r)
		}
		d.in = nil
	}()

	d.load(32)
	for written := 0; written < len(out); {
		size := min(len(out)-written, windowSize)
		d.chunk(size)
		copy(out[written:], d.window[:size])
		written += size
	}
	return len(out), nil
}

// Reset clears the window and all three tables.
func (d *Decompressor) Reset() {
	lens, large, dists := d.lens, d.large, d.dists
	*d = Decompressor{lens: lens, large: large, dists: dists}
	lens.reset()
	large.reset()
	dists.reset()
}

// load consumes n bits from the top of the bitstream, pulling bytes
// as needed (zero past the end of input).
func (d *Decompressor) load(n uint) {
	d.bitstream <<= n
	for n > d.align {
		n -= d.align
		d.bitstream |= uint32(d.last) << n
		d.last = 0
		if d.ip < len(d.in) {
			d.last = d.in[d.ip]
			d.ip++
		}
		d.align = 8
	}
	d.align -= n
	d.bitstream |= uint32(d.last) >> d.align
}

// top returns the next n bits without consuming them.
func (d *Decompressor) top(n uint) uint32 {
	return d.bitstream >> (32 - n)
}

func (d *Decompressor) take(n uint) uint32 {
	v := d.top(n)
	d.load(n)
	return v
}

func (d *Decompressor) sym(t *table) uint16 {
	v := t.decode(d.bitstream)
	d.load(uint(t.lens[v]))
	return v
}

// chunk decodes the next size bytes into the start of the window,
// whose tail still holds the previous chunk as history.
func (d *Decompressor) chunk(size int) {
	w := &d.window
	pos := 0

	d.pending--
	for ; d.pending >= 0; d.pending-- {
		w[pos] = w[d.readOff]
		pos++
		d.readOff = (d.readOff + 1) & windowMask
		if pos == size {
			return
		}
	}

	for pos < size {
		v := d.symbol()
		if v < 256 {
			w[pos] = byte(v)
			pos++
			continue
		}
		dist := d.distance()
		d.readOff = uint32(pos-int(dist)-1) & windowMask
		for d.pending = int(v) - 254; d.pending >= 0; d.pending-- {
			w[pos] = w[d.readOff]
			pos++
			d.readOff = (d.readOff + 1) & windowMask
			if pos == size {
				return
			}
		}
	}
}

func (d *Decompressor) symbol() uint16 {
	if d.setupLeft == 0 {
		d.setupLeft = uint16(d.take(16))
		d.readSmall(d.lens, 5, 3)
		d.readLarge()
		d.readSmall(d.dists, 4, -1)
	}
	d.setupLeft--
	return d.sym(d.large)
}

// distance decodes a class and its extra bits. Class 1 means 1.
func (d *Decompressor) distance() uint32 {
	c := uint(d.sym(d.dists))
	if c <= 1 {
		return uint32(c)
	}
	c--
	return d.take(c) + 1<<c
}

// readSmall reads the code lengths of a small table. Each length is
// 3 bits, with 7 extended by a run of 1 bits. After index special a
// 2-bit count of zero lengths follows.
func (d *Decompressor) readSmall(t *table, bits uint, special int) {
	count := int(d.take(bits))
	if count == 0 {
		t.constant(uint16(d.take(bits)))
		return
	}

	i := 0
	for i < count {
		l := d.top(3)
		n := uint(3)
		if l == 7 {
			mask := uint32(1) << 28
			if d.bitstream&mask == 0 {
				n = 4
			} else {
				c := uint32(0)
				for d.bitstream&mask != 0 {
					mask >>= 1
					c++
				}
				n = uint(c) + 4
				l += c
			}
		}
		d.load(n)
		t.lens[i] = uint8(l)
		i++

		if i == special {
			for range d.take(2) {
				t.lens[i] = 0
				i++
			}
		}
	}
	clear(t.lens[i:])
	t.build()
}

// readLarge reads the literal/length code lengths, themselves coded
// with the code-length table.
func (d *Decompressor) readLarge() {
	t := d.large
	count := int(d.take(9))
	if count == 0 {
		t.constant(uint16(d.take(9)))
		return
	}

	i := 0
	for i < count {
		v := d.sym(d.lens)
		if v > 2 {
			t.lens[i] = uint8(v - 2)
			i++
			continue
		}
		var zeros int
		switch v {
		case 0:
			zeros = 1
		case 1:
			zeros = int(d.take(4)) + 3
		case 2:
			zeros = int(d.take(9)) + 20
		}
		clear(t.lens[i : i+zeros])
		i += zeros
	}
	clear(t.lens[i:])
	t.build()
}
