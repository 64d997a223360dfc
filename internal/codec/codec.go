// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package codec holds the contract shared by the chunk decompressors
// and the chunk tags that select them.
package codec

import (
	"errors"
	"fmt"
)

var (
	ErrFormat      = errors.New("unrecognised archive format")
	ErrCorrupt     = errors.New("corrupt compressed data")
	ErrChecksum    = fmt.Errorf("checksum mismatch: %w", ErrCorrupt)
	ErrUnavailable = errors.New("decompressor unavailable on this system")
	ErrTruncated   = errors.New("truncated input")
)

// Decompressor expands in into out and returns the number of bytes written.
// An implementation may keep state between calls but must not be used
// by two goroutines at once.
type Decompressor interface {
	Decompress(in, out []byte) (int, error)
}

// Resetter is implemented by decompressors that carry reusable state.
type Resetter interface {
	Reset()
}

// Kind identifies a chunk compression scheme by its 4-byte tag.
type Kind uint8

const (
	Unknown Kind = iota
	Oodle
	Zipx
	Lz2k
	Deflate
	RefPack
	Rnc
	numKinds
)

const NumKinds = int(numKinds)

var tags = [numKinds]string{
	Unknown: "",
	Oodle:   "OODL",
	Zipx:    "ZIPX",
	Lz2k:    "LZ2K",
	Deflate: "DFLT",
	RefPack: "RFPK",
	Rnc:     "RNC\x02",
}

// KindOf maps a chunk tag to its scheme, or Unknown.
func KindOf(tag [4]byte) Kind {
	for k, t := range tags {
		if t != "" && t == string(tag[:]) {
			return Kind(k)
		}
	}
	return Unknown
}

func (k Kind) Tag() string {
	if int(k) < len(tags) {
		return tags[k]
	}
	return ""
}

func (k Kind) String() string {
	switch k {
	case Rnc:
		return "RNC"
	case Unknown:
		return "unknown"
	}
	if t := k.Tag(); t != "" {
		return t
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Corrupt converts a recovered panic value into an error wrapping ErrCorrupt.
// Errors that already carry a sentinel pass through.
func Corrupt(name string, r any) error {
	if err, ok := r.(error); ok {
		if errors.Is(err, ErrCorrupt) || errors.Is(err, ErrTruncated) {
			return err
		}
		return fmt.Errorf("%s: %w: %v", name, ErrCorrupt, err)
	}
	return fmt.Errorf("%s: %w: %v", name, ErrCorrupt, r)
}
