// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package filetree

import (
	"unicode"
	"unicode/utf16"
)

// Scheme is the path hash an archive generation uses to find entries.
// Both are FNV-1a style over the upper-cased path in UTF-16 code units,
// so a hash can be continued one segment at a time.
type Scheme uint8

const (
	FNV32 Scheme = iota // nonstandard prime 0x199933
	FNV64
)

const (
	offset32 = 0x811c9dc5
	prime32  = 0x199933
	offset64 = 0xcbf29ce484222325
	prime64  = 0x100000001b3
)

func (s Scheme) String() string {
	if s == FNV32 {
		return "fnv32"
	}
	return "fnv64"
}

func (s Scheme) basis() uint64 {
	if s == FNV32 {
		return offset32
	}
	return offset64
}

// Sum hashes a root-exclusive path. Forward slashes count as backslashes.
func (s Scheme) Sum(path string) uint64 {
	return s.update(s.basis(), path)
}

// Chain extends the hash of a parent path by one segment. Children of the
// root start from the basis without a separator.
func (s Scheme) Chain(parent uint64, segment string, top bool) uint64 {
	if !top {
		parent = s.step(parent, '\\')
	}
	return s.update(parent, segment)
}

func (s Scheme) update(h uint64, text string) uint64 {
	for _, r := range text {
		r = unicode.ToUpper(r)
		switch {
		case r == '/':
			h = s.step(h, '\\')
		case r >= 0x10000:
			hi, lo := utf16.EncodeRune(r)
			h = s.step(s.step(h, uint16(hi)), uint16(lo))
		default:
			h = s.step(h, uint16(r))
		}
	}
	return h
}

func (s Scheme) step(h uint64, c uint16) uint64 {
	if s == FNV32 {
		return uint64((uint32(h) ^ uint32(c)) * prime32)
	}
	return (h ^ uint64(c)) * prime64
}
