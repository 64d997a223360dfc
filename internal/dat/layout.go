// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package dat

import (
	"encoding/binary"
	"fmt"

	"github.com/elliotnunn/brickvault/internal/filetree"
)

// Version is the archive revision number found in the trailer.
type Version uint8

const (
	V1  Version = 1
	V3  Version = 3
	V4  Version = 4
	V5  Version = 5
	V7  Version = 7
	V8  Version = 8
	V11 Version = 11
	V12 Version = 12
	V13 Version = 13

	// V1X is the fixed-layout legacy revision with no version marker.
	V1X Version = 0xf1
)

func (v Version) String() string {
	if v == V1X {
		return "v1x"
	}
	return fmt.Sprintf("v%d", uint8(v))
}

// How an entry record squeezes the compression flags into its fields.
type packing uint8

const (
	packLow     packing = iota // offset<<8 | flags>>24, type in the low byte
	packHigh                   // offset<<8 | flags&0xffffff, type in the high byte
	packTopBit                 // type is bit 31 of the decompressed size
	packTopByte                // type is the top byte of a 64-bit offset
	packLegacy                 // i64 offset, marker, sizes, type word
)

// Where the parent of each node comes from.
type parents uint8

const (
	parentsNone     parents = iota // names come from hash lists
	parentsWalk                    // breadth first over child links from the root
	parentsStored                  // each record carries its parent
	parentsInserted                // paths are rebuilt and inserted
)

// Which nodes are files, and which entry they hold.
type leaves uint8

const (
	leavesHashed   leaves = iota // childless nodes matched by path hash
	leavesNegNext                // a non-positive child link is minus the entry
	leavesAbsNext                // flagged nodes hold |child link|
	leavesField                  // childless or flagged nodes hold the file field
	leavesID                     // v8: a negative id is minus the entry
	leavesOrdered                // v13: order field or running count
)

// layout describes one revision. Every reader in this package is driven
// by these fields rather than by version comparisons.
type layout struct {
	bigEndian bool
	nodeSize  int // old family node record, 0 when there is no node table
	packing   packing
	parents   parents
	leaves    leaves
	hashTable bool // a u32 path hash per entry follows the index
	overrides bool // a table of literal paths follows the hashes
	scheme    filetree.Scheme
}

var layouts = map[Version]layout{
	V1:  {packing: packLow, parents: parentsNone, hashTable: true, scheme: filetree.FNV32},
	V3:  {nodeSize: 8, packing: packLow, parents: parentsWalk, leaves: leavesHashed, hashTable: true, scheme: filetree.FNV32},
	V4:  {nodeSize: 8, packing: packLow, parents: parentsWalk, leaves: leavesNegNext, scheme: filetree.FNV32},
	V5:  {nodeSize: 12, packing: packLow, parents: parentsWalk, leaves: leavesNegNext, scheme: filetree.FNV32},
	V7:  {nodeSize: 12, packing: packLow, parents: parentsStored, leaves: leavesAbsNext, scheme: filetree.FNV32},
	V8:  {bigEndian: true, packing: packHigh, parents: parentsStored, leaves: leavesID, hashTable: true, overrides: true, scheme: filetree.FNV64},
	V11: {bigEndian: true, packing: packTopBit, parents: parentsStored, leaves: leavesField, hashTable: true, overrides: true, scheme: filetree.FNV64},
	V12: {bigEndian: true, packing: packTopBit, parents: parentsStored, leaves: leavesField, scheme: filetree.FNV64},
	V13: {bigEndian: true, packing: packTopByte, parents: parentsInserted, leaves: leavesOrdered, scheme: filetree.FNV64},
	V1X: {packing: packLegacy, parents: parentsNone, hashTable: true, scheme: filetree.FNV32},
}

func (l layout) order() binary.ByteOrder {
	if l.bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// entryBytes is the size of one entry record.
func (l layout) entryBytes(minor uint32) int {
	switch l.packing {
	case packLegacy:
		return 24
	case packTopBit, packTopByte:
		if minor >= 2 {
			return 16
		}
		return 12
	}
	return 16
}
