// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package huffman builds canonical Huffman decode tables for LSB-first
// bitstreams: a 9-bit direct lookup for short codes and a per-length
// threshold walk for the rest.
package huffman

import (
	"fmt"
	"math/bits"

	"github.com/elliotnunn/brickvault/internal/codec"
)

const (
	MaxSymbols = 768
	MaxLen     = 15

	fastBits = 9
	fastSize = 1 << fastBits
	fastMax  = 10 // codes shorter than this go in the direct table
)

// Table is a canonical code. The zero value is empty and decodes nothing.
type Table struct {
	first     [MaxLen + 2]uint32 // first code of each length
	index     [MaxLen + 1]uint32 // symbol slot of the first code of each length
	threshold [MaxLen + 1]uint32 // one past the last code of each length, in a 16-bit frame
	fast      [fastSize]uint16 // symbol slot plus one, zero on a miss
	lens      [MaxSymbols]uint8
	syms      [MaxSymbols]uint16
	n         int
}

// Build replaces the table contents with the code described by lengths,
// where lengths[sym] is the code length of sym and 0 means unused.
// Incomplete codes are accepted; over-subscribed ones are not.
func (t *Table) Build(lengths []uint8) error {
	if len(lengths) > MaxSymbols {
		return fmt.Errorf("huffman: %d symbols: %w", len(lengths), codec.ErrCorrupt)
	}
	var count [MaxLen + 1]uint32
	for _, l := range lengths {
		if l > MaxLen {
			return fmt.Errorf("huffman: code length %d: %w", l, codec.ErrCorrupt)
		}
		count[l]++
	}
	count[0] = 0

	var next [MaxLen + 1]uint32
	code, slot := uint32(0), uint32(0)
	for l := 1; l <= MaxLen; l++ {
		t.first[l] = code
		t.index[l-1] = slot
		next[l] = code
		code += count[l]
		slot += count[l]
		if code > 1<<l {
			return fmt.Errorf("huffman: over-subscribed at length %d: %w", l, codec.ErrCorrupt)
		}
		t.threshold[l-1] = code << (16 - l)
		code <<= 1
	}

	clear(t.fast[:])
	t.n = 0
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		c := next[l]
		next[l]++
		i := c - t.first[l] + t.index[l-1]
		t.lens[i] = l
		t.syms[i] = uint16(sym)
		t.n++
		if l < fastMax {
			rev := uint32(bits.Reverse16(uint16(c))) >> (16 - l)
			for k := rev; k < fastSize; k += 1 << l {
				t.fast[k] = uint16(i) + 1
			}
		}
	}
	return nil
}

// Decode looks up the next symbol in the low bits of buf, which must
// hold at least 16 valid bits or zero padding. It returns the symbol
// and the number of bits it occupied. A code that matches no length
// panics with an error wrapping codec.ErrCorrupt.
func (t *Table) Decode(buf uint32) (sym uint16, n uint) {
	if i := t.fast[buf&(fastSize-1)]; i != 0 {
		return t.syms[i-1], uint(t.lens[i-1])
	}
	rev := uint32(bits.Reverse16(uint16(buf)))
	l := fastMax
	for t.threshold[l-1] <= rev {
		l++
		if l > MaxLen {
			panic(fmt.Errorf("huffman: no code matches %#04x: %w", rev, codec.ErrCorrupt))
		}
	}
	i := rev>>(16-l) - t.first[l] + t.index[l-1]
	if int(i) >= t.n {
		panic(fmt.Errorf("huffman: code %#04x out of range: %w", rev, codec.ErrCorrupt))
	}
	return t.syms[i], uint(l)
}

// Reset empties the table without releasing its storage.
func (t *Table) Reset() {
	*t = Table{}
}
