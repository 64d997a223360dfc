// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package zipx undoes the ZIPX chunk obfuscation: an RC4 keystream
// keyed with the chunk's own length.
package zipx

import (
	"crypto/rc4"
	"encoding/binary"
)

// Decompressor has no state and may be shared.
type Decompressor struct{}

func New() Decompressor { return Decompressor{} }

// Decompress deciphers in into out. Output length equals input length,
// clipped to len(out).
func (Decompressor) Decompress(in, out []byte) (int, error) {
	var key [4]byte
	binary.LittleEndian.PutUint32(key[:], uint32(len(in)))
	c, err := rc4.NewCipher(key[:])
	if err != nil {
		return 0, err
	}
	n := min(len(in), len(out))
	c.XORKeyStream(out[:n], in[:n])
	return n, nil
}
