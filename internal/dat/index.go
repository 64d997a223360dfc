// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package dat

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/elliotnunn/brickvault/internal/codec"
	"github.com/elliotnunn/brickvault/internal/filetree"
)

// Index is the parsed form of an archive's trailer, detached from the
// archive bytes so that it can be stored and reloaded.
type Index struct {
	Version Version          `cbor:"1,keyasint"`
	Minor   uint32           `cbor:"2,keyasint"`
	Scheme  filetree.Scheme  `cbor:"3,keyasint"`
	Entries []Entry          `cbor:"4,keyasint"`
	Nodes   []filetree.Node  `cbor:"5,keyasint"`
	Hashes  []uint32         `cbor:"6,keyasint,omitempty"`
	Aliases map[string]int32 `cbor:"7,keyasint,omitempty"`
}

func (a *Archive) Index() Index {
	return Index{
		Version: a.Version,
		Minor:   a.Minor,
		Scheme:  a.Tree.Scheme,
		Entries: slices.Clone(a.Entries),
		Nodes:   slices.Clone(a.Tree.Nodes),
		Hashes:  slices.Clone(a.Hashes),
		Aliases: maps.Clone(a.aliases),
	}
}

// FromIndex rebuilds an Archive over r from a stored Index.
func FromIndex(r io.ReaderAt, idx Index) (*Archive, error) {
	if _, ok := layouts[idx.Version]; !ok {
		return nil, fmt.Errorf("%w: index of unknown version %d", codec.ErrFormat, idx.Version)
	}
	if len(idx.Nodes) == 0 {
		return nil, fmt.Errorf("%w: index without a root", codec.ErrFormat)
	}
	a := &Archive{
		Version: idx.Version,
		Minor:   idx.Minor,
		Entries: slices.Clone(idx.Entries),
		Tree:    &filetree.Tree{Nodes: slices.Clone(idx.Nodes), Scheme: idx.Scheme},
		Hashes:  idx.Hashes,
		aliases: idx.Aliases,
		r:       r,
	}
	for i := range a.Entries {
		a.Entries[i].Node = 0
	}
	if err := a.finish(); err != nil {
		return nil, fmt.Errorf("cached %v index: %w", a.Version, err)
	}
	return a, nil
}
