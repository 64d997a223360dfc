// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package oodle calls the vendor's Oodle library for OODL chunks. The
// library is not redistributable, so it is loaded at run time where the
// platform allows and reported as codec.ErrUnavailable elsewhere.
package oodle

import (
	"fmt"

	"github.com/elliotnunn/brickvault/internal/codec"
)

const dllName = "oo2core_8_win64.dll"

// Decompressor forwards to the native library, which keeps no state
// between calls that we can see.
type Decompressor struct{}

func New() Decompressor { return Decompressor{} }

// Available reports whether the native library could be loaded.
func Available() bool {
	return load() == nil
}

func (Decompressor) Decompress(in, out []byte) (int, error) {
	if err := load(); err != nil {
		return 0, fmt.Errorf("OODL: %w", err)
	}
	if len(in) == 0 || len(out) == 0 {
		return 0, nil
	}
	n, err := decompress(in, out)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("OODL: library returned %d: %w", n, codec.ErrCorrupt)
	}
	return n, nil
}
