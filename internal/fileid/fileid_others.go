// Copyright (c) Elliot Nunn
// Licensed under the MIT license

//go:build !linux && !darwin

package fileid

import (
	"io/fs"
	"os"
	"time"
)

// Get has no inode or birth time to go on, only size, mtime and name.
func Get(name string) (ID, error) {
	inf, err := os.Stat(name)
	if err != nil {
		return ID{}, err
	}
	if !inf.Mode().IsRegular() {
		return ID{}, &fs.PathError{Op: "fileid", Path: name, Err: ErrNotRegular}
	}
	return newID(0, time.Time{}, inf.ModTime(), inf.Size(), name), nil
}
