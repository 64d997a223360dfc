// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package rnc

var crctab [256]uint16

func init() {
	for i := range uint16(256) {
		k := i
		for range 8 {
			if k&1 != 0 {
				k = (k >> 1) ^ 0xa001
			} else {
				k >>= 1
			}
		}
		crctab[i] = k
	}
}

func crc16(check uint16, buffer []byte) uint16 {
	for _, ch := range buffer {
		check = crctab[byte(check)^ch] ^ check>>8
	}
	return check
}
