// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package dat

import (
	"bufio"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/elliotnunn/brickvault/internal/filetree"
)

const patchPrefix = `__patch__\`

// candidates hashes every path listed in the *.list files at the top of
// fsys. Each path is also tried under the patch directory. The first
// path to claim a hash keeps it.
func candidates(fsys fs.FS) (map[uint32]string, error) {
	dict := make(map[uint32]string)
	if fsys == nil {
		return dict, nil
	}
	lists, err := doublestar.Glob(fsys, "*.list")
	if err != nil {
		return nil, fmt.Errorf("name lists: %w", err)
	}
	for _, name := range lists {
		if path.Base(name) == "builds.list" {
			continue
		}
		if err := readList(fsys, name, dict); err != nil {
			return nil, err
		}
	}
	return dict, nil
}

func readList(fsys fs.FS, name string, dict map[uint32]string) error {
	f, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.ToLower(line)
		for _, p := range [...]string{line, patchPrefix + line} {
			h := uint32(filetree.FNV32.Sum(p))
			if _, ok := dict[h]; !ok {
				dict[h] = p
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
