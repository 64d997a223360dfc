// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"fmt"
	"io"
	"io/fs"

	"github.com/elliotnunn/brickvault/internal/codec"
	"github.com/elliotnunn/brickvault/internal/codecpool"
	"github.com/elliotnunn/brickvault/internal/dat"
	"github.com/elliotnunn/brickvault/internal/datfs"
	"github.com/elliotnunn/brickvault/internal/extract"
	"github.com/spf13/pflag"
)

func cmdList(args []string, stdout, stderr io.Writer) error {
	var c common
	var tree bool
	flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.BoolVar(&tree, "tree", false, "walk the directory tree instead of the entry table")
	name, err := parse(flagSet, &c, args)
	if err != nil {
		return err
	}

	arc, err := openArchive(name, c)
	if err != nil {
		return err
	}
	defer arc.Close()

	a := arc.a
	fmt.Fprintf(stdout, "# %v.%d, %d entries, %v paths\n", a.Version, a.Minor, len(a.Entries), a.Tree.Scheme)
	if tree {
		return dumpFS(stdout, datfs.New(a, codecpool.New(), arc.mtime))
	}
	for i, e := range a.Entries {
		fmt.Fprintf(stdout, "%10d %10d %-7s %s\n", e.Decompressed, e.Compressed, codecOf(a, e), a.Path(i))
	}
	return nil
}

// codecOf names the scheme of an entry's first chunk.
func codecOf(a *dat.Archive, e dat.Entry) string {
	if !e.Chunked() {
		return "stored"
	}
	c, err := extract.ReadHeader(a.ReaderAt(), e.Offset)
	if err != nil {
		return "?"
	}
	if c.Kind == codec.Unknown {
		return fmt.Sprintf("%q", c.Tag[:])
	}
	return c.Kind.String()
}

func dumpFS(w io.Writer, fsys fs.FS) error {
	const tfmt = "2006-01-02T15:04:05"
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			fmt.Fprintf(w, "%s\n    dump error: %s\n", p, err.Error())
			return nil
		}
		i, err := d.Info()
		if err != nil {
			fmt.Fprintf(w, "%s\n    dump error: %s\n", p, err.Error())
			return fs.SkipDir
		}
		fmt.Fprintf(w, "%v %10d %s %s\n", i.Mode(), i.Size(), i.ModTime().Format(tfmt), p)
		return nil
	})
}
