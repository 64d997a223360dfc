// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package fileid names a file by where it lives on disk and when it last
// changed. Rewriting or replacing the file changes its ID.
package fileid

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ID = (64 bits of inode number) + (64 bits of hash of (birth time + mtime + size + filename))
type ID [16]byte

var ErrNotRegular = errors.New("not a regular file")

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Inode is the first half of the ID, or zero where the OS has no such thing.
func (id ID) Inode() uint64 { return binary.BigEndian.Uint64(id[:]) }

func newID(ino uint64, birth, mtime time.Time, size int64, name string) ID {
	var id ID
	binary.BigEndian.PutUint64(id[:], ino)

	var b [8 * 5]byte
	binary.BigEndian.PutUint64(b[0:], uint64(birth.Unix()))
	binary.BigEndian.PutUint64(b[8:], uint64(birth.Nanosecond()))
	binary.BigEndian.PutUint64(b[16:], uint64(mtime.Unix()))
	binary.BigEndian.PutUint64(b[24:], uint64(mtime.Nanosecond()))
	binary.BigEndian.PutUint64(b[32:], uint64(size))
	h := xxhash.New()
	h.Write(b[:])
	h.WriteString(filepath.Base(name))
	binary.BigEndian.PutUint64(id[8:], h.Sum64())
	return id
}
