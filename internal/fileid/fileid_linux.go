// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package fileid

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// Get uses statx to get access to the birth time of the file.
// Symlinks are followed.
func Get(name string) (ID, error) {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, name, unix.AT_STATX_SYNC_AS_STAT,
		unix.STATX_TYPE|unix.STATX_INO|unix.STATX_BTIME|unix.STATX_MTIME|unix.STATX_SIZE,
		&stx)
	if err != nil {
		return ID{}, &fs.PathError{Op: "statx", Path: name, Err: err}
	}
	if stx.Mode&unix.S_IFMT != unix.S_IFREG {
		return ID{}, &fs.PathError{Op: "fileid", Path: name, Err: ErrNotRegular}
	}

	var birth time.Time
	if stx.Mask&unix.STATX_BTIME != 0 { // not every filesystem records it
		birth = time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
	}
	mtime := time.Unix(stx.Mtime.Sec, int64(stx.Mtime.Nsec))
	return newID(stx.Ino, birth, mtime, int64(stx.Size), name), nil
}
