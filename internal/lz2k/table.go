// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package lz2k

import (
	"fmt"
	"log/slog"
)

const chainSize = 1024

// table is a canonical code read MSB-first. Codes up to pivot bits
// resolve in one lookup of words; longer codes land on a chain node
// (a value at or above n) and continue one bit at a time through p0/p1.
type table struct {
	n     int
	pivot uint
	lens  []uint8
	words []uint16
	p0    [chainSize]uint16
	p1    [chainSize]uint16
}

func newTable(n int, pivot uint) *table {
	return &table{
		n:     n,
		pivot: pivot,
		lens:  make([]uint8, n),
		words: make([]uint16, 1<<pivot),
	}
}

func (t *table) reset() {
	clear(t.lens)
	clear(t.words)
	t.p0 = [chainSize]uint16{}
	t.p1 = [chainSize]uint16{}
}

// constant makes every lookup return sym at a cost of zero bits.
func (t *table) constant(sym uint16) {
	if int(sym) >= t.n {
		panic(fmt.Errorf("constant symbol %d of %d", sym, t.n))
	}
	clear(t.lens)
	for i := range t.words {
		t.words[i] = sym
	}
}

// decode returns the symbol whose code starts at the top of bits.
func (t *table) decode(bits uint32) uint16 {
	v := t.words[bits>>(32-t.pivot)]
	mask := uint32(1) << (31 - t.pivot)
	for int(v) >= t.n {
		if mask == 0 {
			panic(fmt.Errorf("code longer than 32 bits"))
		}
		if bits&mask == 0 {
			v = t.p0[v]
		} else {
			v = t.p1[v]
		}
		mask >>= 1
	}
	return v
}

// build fills words and the chains from lens. All arithmetic is in
// 16 bits; a complete code wraps its running total to exactly zero.
func (t *table) build() {
	var count [17]uint16
	var start [18]uint16
	for _, l := range t.lens {
		if l > 16 {
			panic(fmt.Errorf("code length %d", l))
		}
		count[l]++
	}
	for k := 1; k <= 16; k++ {
		start[k+1] = start[k] + count[k]<<(16-k)
	}
	if start[17] != 0 {
		slog.Debug("lz2kIncompleteTable", "symbols", t.n, "sum", start[17])
	}

	pivot := t.pivot
	var step [17]uint16
	for k := uint(1); k <= 16; k++ {
		if k <= pivot {
			start[k] >>= 16 - pivot
			step[k] = 1 << (pivot - k)
		} else {
			step[k] = 1 << (16 - k)
		}
	}

	if first := start[pivot+1] >> (16 - pivot); first != 0 && first != 1<<pivot {
		clear(t.words[first:])
	}

	mask := uint16(1) << (15 - pivot)
	next := uint16(t.n)
	for sym, l := range t.lens {
		if l == 0 {
			continue
		}
		code := start[l]
		end := code + step[l]
		if uint(l) > pivot {
			slots := t.words
			at := code >> (16 - pivot)
			for range uint(l) - pivot {
				if slots[at] == 0 {
					t.p0[next] = 0
					t.p1[next] = 0
					slots[at] = next
					next++
				}
				at = slots[at]
				if code&mask == 0 {
					slots = t.p0[:]
				} else {
					slots = t.p1[:]
				}
				code <<= 1
			}
			slots[at] = uint16(sym)
		} else {
			for i := code; i < end; i++ {
				t.words[i] = uint16(sym)
			}
		}
		start[l] = end
	}
}
