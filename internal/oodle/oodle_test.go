// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package oodle

import (
	"errors"
	"testing"

	"github.com/elliotnunn/brickvault/internal/codec"
)

func TestUnavailableIsReported(t *testing.T) {
	if Available() {
		t.Skip("native library present")
	}
	_, err := New().Decompress([]byte{1, 2, 3}, make([]byte, 8))
	if !errors.Is(err, codec.ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}
