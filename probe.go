// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"compress/bzip2"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/therootcompany/xz"
)

// wrapper undoes a whole-file compression layer around an archive.
type wrapper struct {
	name     string
	suffixes string // for changeSuffix
	open     func(io.Reader) (io.Reader, error)
}

// probeWrapper recognizes a compressed archive by its first bytes.
// It returns nil for anything else.
func probeWrapper(r io.ReaderAt) (*wrapper, error) {
	header := make([]byte, 8)
	n, err := r.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	header = header[:n]
	matchAt := func(s string, offset int) bool {
		return len(header) >= offset+len(s) && string(header[offset:][:len(s)]) == s
	}

	switch {
	case matchAt("\x1f\x8b", 0):
		return &wrapper{"gzip", ".gz .gzip", func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		}}, nil
	case matchAt("\x28\xb5\x2f\xfd", 0):
		return &wrapper{"zstd", ".zst .zstd", func(r io.Reader) (io.Reader, error) {
			d, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		}}, nil
	case matchAt("\xfd7zXZ\x00", 0):
		return &wrapper{"xz", ".xz", func(r io.Reader) (io.Reader, error) {
			return xz.NewReader(r, xz.DefaultDictMax)
		}}, nil
	case matchAt("BZh", 0):
		return &wrapper{"bzip2", ".bz .bz2 .bzip2", func(r io.Reader) (io.Reader, error) {
			return bzip2.NewReader(r), nil
		}}, nil
	}
	return nil, nil
}

func changeSuffix(s string, suffixes string) string {
	for _, rule := range strings.Split(suffixes, " ") {
		from, to, _ := strings.Cut(rule, "=")
		if strings.HasSuffix(strings.ToLower(s), from) && len(s) > len(from) {
			return s[:len(s)-len(from)] + to
		}
	}
	return s
}
