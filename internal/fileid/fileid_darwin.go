// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package fileid

import (
	"io/fs"
	"os"
	"syscall"
	"time"
)

func Get(name string) (ID, error) {
	inf, err := os.Stat(name)
	if err != nil {
		return ID{}, err
	}
	if !inf.Mode().IsRegular() {
		return ID{}, &fs.PathError{Op: "fileid", Path: name, Err: ErrNotRegular}
	}
	stat, ok := inf.Sys().(*syscall.Stat_t)
	if !ok {
		return newID(0, time.Time{}, inf.ModTime(), inf.Size(), name), nil
	}
	birth := time.Unix(stat.Birthtimespec.Sec, stat.Birthtimespec.Nsec)
	return newID(stat.Ino, birth, inf.ModTime(), inf.Size(), name), nil
}
