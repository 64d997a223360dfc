// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package refpack decodes RFPK chunks, a headerless variant of the
// RefPack/QFS control-byte scheme.
package refpack

import (
	"fmt"

	"github.com/elliotnunn/brickvault/internal/codec"
)

// Decompressor has no state and may be shared.
type Decompressor struct{}

func New() Decompressor { return Decompressor{} }

// Decompress consumes all of src and returns the number of bytes
// written to dst. Output beyond len(dst) is dropped.
func (Decompressor) Decompress(src, dst []byte) (int, error) {
	srcPos, dstPos := 0, 0

	need := func(n int) error {
		if srcPos+n > len(src) {
			return fmt.Errorf("RFPK: control at %#x wants %d bytes: %w", srcPos, n, codec.ErrTruncated)
		}
		return nil
	}

	for srcPos < len(src) {
		b0 := int(src[srcPos])
		srcPos++

		var plain, match, offset int
		switch {
		case b0 < 0x80:
			if err := need(1); err != nil {
				return dstPos, err
			}
			b1 := int(src[srcPos])
			srcPos++
			plain = (b0 & 0x0c) >> 2       // 0-3
			match = (b0&0x70)>>4 + 3       // 3-10
			offset = (b0&0x03)<<8 + b1 + 1 // 1-1024
		case b0 < 0xc0:
			if err := need(2); err != nil {
				return dstPos, err
			}
			b1, b2 := int(src[srcPos]), int(src[srcPos+1])
			srcPos += 2
			plain = b1 >> 6                // 0-3
			match = b0&0x3f + 4            // 4-67
			offset = (b1&0x3f)<<8 + b2 + 1 // 1-16384
		case b0 < 0xe0:
			if err := need(3); err != nil {
				return dstPos, err
			}
			b1, b2, b3 := int(src[srcPos]), int(src[srcPos+1]), int(src[srcPos+2])
			srcPos += 3
			plain = (b0 & 0x18) >> 3      // 0-3
			match = (b0&0x07)<<7 + b3 + 5 // 5-1028
			offset = b1<<8 + b2 + 1       // 1-65536
		case b0 >= 0xfc:
			plain = b0 - 0xfc // 0-3
		default:
			plain = (b0&0x1f + 1) * 4 // 4-128
		}

		if err := need(plain); err != nil {
			return dstPos, err
		}
		n := copy(dst[dstPos:], src[srcPos:srcPos+plain])
		dstPos += n
		srcPos += plain
		if match > 0 && dstPos-offset < 0 {
			return dstPos, fmt.Errorf("RFPK: match %d bytes back at %#x: %w", offset, dstPos, codec.ErrCorrupt)
		}
		for range match {
			if dstPos >= len(dst) {
				break
			}
			dst[dstPos] = dst[dstPos-offset]
			dstPos++
		}
	}
	return dstPos, nil
}
