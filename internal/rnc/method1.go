// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package rnc

import "fmt"

const maxCodes = 16

type code struct {
	depth uint8
	bits  uint16 // canonical code reversed, so the first bit read is bit 0
}

type huffTable [maxCodes]code

// readTable reads a 5-bit count and then a 4-bit depth per symbol.
// Codes are assigned by depth and then by symbol.
func (u *unpacker) readTable(t *huffTable) {
	*t = huffTable{}
	n := int(u.bits(5))
	if n > maxCodes {
		panic(fmt.Errorf("RNC: %d codes in table", n))
	}
	for i := range n {
		t[i].depth = uint8(u.bits(4))
	}
	next := uint32(0)
	for depth := uint8(1); depth <= 16; depth++ {
		for i := range n {
			if t[i].depth == depth {
				t[i].bits = reverse(next, depth)
				next++
			}
		}
		next <<= 1
	}
}

func reverse(v uint32, n uint8) uint16 {
	var r uint16
	for range n {
		r = r<<1 | uint16(v&1)
		v >>= 1
	}
	return r
}

// decode matches one bit at a time. Symbols 0 and 1 stand for
// themselves, symbol i above that for 1<<(i-1) plus i-1 further bits.
func (u *unpacker) decode(t *huffTable) int {
	var acc uint16
	for depth := uint8(1); depth <= 16; depth++ {
		acc |= uint16(u.bit()) << (depth - 1)
		for i, c := range t {
			if c.depth == depth && c.bits == acc {
				if i < 2 {
					return i
				}
				return 1<<(i-1) | int(u.bits(i-1))
			}
		}
	}
	panic(fmt.Errorf("RNC: no code matches %#04x", acc))
}

func (u *unpacker) method1() {
	var raw, offsets, counts huffTable
	for u.done < u.size {
		before := u.done
		u.readTable(&raw)
		u.readTable(&offsets)
		u.readTable(&counts)
		subchunks := int(u.bits(16))
		for i := range subchunks {
			n := u.decode(&raw)
			for range n {
				u.literal()
			}
			u.key = ror(u.key)
			u.done += n
			if i < subchunks-1 {
				offset := u.decode(&offsets) + 1
				count := u.decode(&counts) + 2
				u.copyMatch(count, offset)
			}
		}
		if u.done == before {
			panic(fmt.Errorf("RNC: block produced no output"))
		}
	}
}
