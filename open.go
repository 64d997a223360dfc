// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/elliotnunn/brickvault/internal/dat"
	"github.com/elliotnunn/brickvault/internal/indexcache"
)

type archive struct {
	a     *dat.Archive
	f     *os.File
	mtime time.Time
}

func (arc *archive) Close() error { return arc.f.Close() }

// openArchive opens the archive file called name, undoing any
// whole-file compression, and parses or recalls its index.
func openArchive(name string, c common) (*archive, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	arc, err := openFile(f, name, c)
	if err != nil {
		f.Close()
		return nil, err
	}
	return arc, nil
}

func openFile(f *os.File, name string, c common) (*archive, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	var r io.ReaderAt = f
	size := stat.Size()
	datName := filepath.Base(name)

	w, err := probeWrapper(f)
	if err != nil {
		return nil, err
	}
	if w != nil {
		t := time.Now()
		inner, err := w.open(io.NewSectionReader(f, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", w.name, err)
		}
		data, err := io.ReadAll(inner)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", w.name, err)
		}
		if cl, ok := inner.(io.Closer); ok {
			cl.Close()
		}
		r, size = bytes.NewReader(data), int64(len(data))
		datName = changeSuffix(datName, w.suffixes)
		slog.Info("unwrapArchive", "format", w.name, "size", size, "duration", time.Since(t).Truncate(time.Millisecond).String())
	}

	var names fs.FS
	if c.names != "" {
		names = os.DirFS(c.names)
	} else {
		names = os.DirFS(filepath.Dir(name))
	}
	opts := dat.Options{Name: datName, Names: names}

	cache := openCache(c)
	a, err := cache.OpenArchive(name, r, size, opts)
	if cache != nil {
		cache.Close()
	}
	if err != nil {
		return nil, err
	}
	return &archive{a: a, f: f, mtime: stat.ModTime()}, nil
}

// openCache returns nil when the cache is disabled or unavailable,
// for example because another process holds it.
func openCache(c common) *indexcache.Cache {
	if c.noCache || indexcache.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(indexcache.Dir, 0o777); err != nil {
		slog.Warn("indexCacheUnavailable", "dir", indexcache.Dir, "err", err)
		return nil
	}
	cache, err := indexcache.Open(indexcache.Dir)
	if err != nil {
		slog.Warn("indexCacheUnavailable", "dir", indexcache.Dir, "err", err)
		return nil
	}
	return cache
}
