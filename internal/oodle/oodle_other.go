// Copyright (c) Elliot Nunn
// Licensed under the MIT license

//go:build !windows

package oodle

import (
	"fmt"
	"runtime"

	"github.com/elliotnunn/brickvault/internal/codec"
)

func load() error {
	return fmt.Errorf("%s on %s: %w", dllName, runtime.GOOS, codec.ErrUnavailable)
}

func decompress(in, out []byte) (int, error) {
	return 0, load()
}
