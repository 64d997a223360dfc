// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package rnc unpacks Rob Northen compressed data, methods 1 and 2.
package rnc

import (
	"encoding/binary"
	"fmt"

	"github.com/elliotnunn/brickvault/internal/codec"
)

const (
	HeaderSize = 18

	windowSize = 0xffff
	dictSize   = 0x8000
)

// Header is the fixed big-endian preamble of a packed block.
type Header struct {
	Method      byte
	Unpacked    uint32
	Packed      uint32
	UnpackedCRC uint16
	PackedCRC   uint16
	Leeway      byte
	Chunks      byte
}

func ParseHeader(p []byte) (Header, error) {
	if len(p) < HeaderSize {
		return Header{}, fmt.Errorf("RNC header: %w", codec.ErrTruncated)
	}
	if string(p[:3]) != "RNC" {
		return Header{}, fmt.Errorf("RNC header %q: %w", p[:3], codec.ErrFormat)
	}
	return Header{
		Method:      p[3] & 3,
		Unpacked:    binary.BigEndian.Uint32(p[4:]),
		Packed:      binary.BigEndian.Uint32(p[8:]),
		UnpackedCRC: binary.BigEndian.Uint16(p[12:]),
		PackedCRC:   binary.BigEndian.Uint16(p[14:]),
		Leeway:      p[16],
		Chunks:      p[17],
	}, nil
}

// Decompressor carries the sliding window between flushes. The zero
// value is ready to use.
type Decompressor struct{}

func New() Decompressor { return Decompressor{} }

// Decompress takes a whole packed block, header included, and writes
// the unpacked bytes to out. The packed CRC is verified before anything
// is written, the unpacked CRC after.
func (Decompressor) Decompress(in, out []byte) (n int, err error) {
	h, err := ParseHeader(in)
	if err != nil {
		return 0, err
	}
	end := HeaderSize + int64(h.Packed)
	if end > int64(len(in)) {
		return 0, fmt.Errorf("RNC: %d packed bytes with %d present: %w", h.Packed, len(in)-HeaderSize, codec.ErrTruncated)
	}
	payload := in[HeaderSize:end]
	if got := crc16(0, payload); got != h.PackedCRC {
		return 0, fmt.Errorf("RNC packed CRC %#04x, header says %#04x: %w", got, h.PackedCRC, codec.ErrChecksum)
	}

	u := &unpacker{in: payload, out: out, size: int(h.Unpacked), idx: dictSize}
	defer func() {
		if r := recover(); r != nil {
			n, err = u.op, codec.Corrupt("RNC", r)
		}
	}()

	u.bits(2) // flags, of which encryption is unsupported
	switch h.Method {
	case 1:
		u.method1()
	case 2:
		u.method2()
	default:
		return 0, fmt.Errorf("RNC method %d: %w", h.Method, codec.ErrFormat)
	}
	u.flush(u.idx)

	if u.crc != h.UnpackedCRC {
		return u.op, fmt.Errorf("RNC unpacked CRC %#04x, header says %#04x: %w", u.crc, h.UnpackedCRC, codec.ErrChecksum)
	}
	return u.op, nil
}

type unpacker struct {
	in []byte
	ip int

	bitbuf byte
	nbits  uint

	out  []byte
	op   int
	size int // from the header
	done int

	window [windowSize]byte
	idx    int
	key    uint16
	crc    uint16
}

func (u *unpacker) byte() byte {
	if u.ip >= len(u.in) {
		panic(fmt.Errorf("RNC: read past packed data: %w", codec.ErrTruncated))
	}
	c := u.in[u.ip]
	u.ip++
	return c
}

func (u *unpacker) bit() uint32 {
	if u.nbits == 0 {
		u.bitbuf = u.byte()
		u.nbits = 8
	}
	b := uint32(u.bitbuf >> 7)
	u.bitbuf <<= 1
	u.nbits--
	return b
}

func (u *unpacker) bits(n int) uint32 {
	var v uint32
	for range n {
		v = v<<1 | u.bit()
	}
	return v
}

func (u *unpacker) write(c byte) {
	if u.idx == windowSize {
		u.flush(windowSize)
		copy(u.window[:], u.window[windowSize-dictSize:])
		u.idx = dictSize
	}
	u.window[u.idx] = c
	u.idx++
	u.crc = crctab[byte(u.crc)^c] ^ u.crc>>8
}

// flush moves window[dictSize:end] to the output, dropping whatever
// does not fit.
func (u *unpacker) flush(end int) {
	n := copy(u.out[u.op:], u.window[dictSize:end])
	u.op += n
}

func (u *unpacker) literal() {
	u.write(byte(u.key) ^ u.byte())
}

func (u *unpacker) copyMatch(count, offset int) {
	if offset > dictSize {
		panic(fmt.Errorf("RNC: match offset %d", offset))
	}
	for range count {
		u.write(u.window[u.idx-offset])
	}
	u.done += count
}

func ror(key uint16) uint16 {
	return key>>1 | key<<15
}

func (u *unpacker) method2() {
	for u.done < u.size {
	chunk:
		for {
			if u.bit() == 0 {
				u.literal()
				u.key = ror(u.key)
				u.done++
				continue
			}
			if u.bit() == 1 {
				var count, offset int
				if u.bit() == 1 {
					if u.bit() == 1 {
						count = int(u.byte()) + 8
						if count == 8 {
							u.bit()
							break chunk
						}
					} else {
						count = 3
					}
					offset = u.matchOffset()
				} else {
					count = 2
					offset = int(u.byte()) + 1
				}
				u.copyMatch(count, offset)
				continue
			}

			count := u.matchCount()
			if count != 9 {
				u.copyMatch(count, u.matchOffset())
				continue
			}
			run := int(u.bits(4))<<2 + 12
			for range run {
				u.literal()
			}
			u.key = ror(u.key)
			u.done += run
		}
	}
}

func (u *unpacker) matchCount() int {
	count := int(u.bit()) + 4
	if u.bit() == 1 {
		count = (count-1)<<1 + int(u.bit())
	}
	return count
}

func (u *unpacker) matchOffset() int {
	var offset uint32
	if u.bit() == 1 {
		offset = u.bit()
		if u.bit() == 1 {
			offset = offset<<1 | u.bit() | 4
			if u.bit() == 0 {
				offset = offset<<1 | u.bit()
			}
		} else if offset == 0 {
			offset = u.bit() + 2
		}
	}
	return int(offset<<8|uint32(u.byte())) + 1
}
