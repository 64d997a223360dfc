// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package chunkcache gives random access to a stream that can only be
// decoded forward, one chunk at a time. The start of every chunk becomes
// a checkpoint, and decoded chunks are kept in a cache shared by every
// ReaderAt in the process.
package chunkcache

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"
)

// Stepper decodes one chunk and returns the Stepper for the next.
// The last chunk comes with io.EOF. A Stepper may be called again to
// decode the same chunk a second time.
type Stepper func() (Stepper, []byte, error)

// ChunkGuess is the typical decoded chunk size, used to turn the byte
// budget into a cache capacity.
const ChunkGuess = 256 << 10

const minEntries = 16

// Budget is how many bytes of decoded chunks the shared cache aims to
// hold, from BVGB in gigabytes (default 1).
var Budget, capacity = mustBudget()

func mustBudget() (int64, int) {
	b, n, err := parseBudget(os.Getenv("BVGB"))
	if err != nil {
		panic(err)
	}
	return b, n
}

// parseBudget returns the byte budget for a BVGB value and the number of
// typical chunks that fit in it.
func parseBudget(e string) (int64, int, error) {
	gb := 1.0
	if e != "" {
		f, err := strconv.ParseFloat(e, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return 0, 0, fmt.Errorf("malformed BVGB environment variable, should be a number of gigabytes: %q", e)
		}
		gb = f
	}
	b := int64(gb * (1 << 30))
	return b, max(int(b/ChunkGuess), minEntries), nil
}

func New(stepper Stepper, size int64, debugName string) *ReaderAt {
	return &ReaderAt{
		uniq:        monotonic.Add(1),
		debugName:   debugName,
		checkpoints: []checkpoint{{stepper: stepper, offset: 0}},
		size:        size,
	}
}

// A ReaderAt is safe for concurrent use by multiple goroutines.
// Reads are serialized.
type ReaderAt struct {
	mu          sync.Mutex
	uniq        uint64
	debugName   string
	checkpoints []checkpoint
	size        int64
}

type checkpoint struct {
	stepper Stepper
	offset  int64
	err     error // set once the chunk at this checkpoint has been decoded
}

func (r *ReaderAt) Size() int64 {
	return r.size
}

func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, &readError{r.debugName, off}
	}
	if off >= r.size {
		return 0, io.EOF
	}
	var short error
	if off+int64(len(p)) > r.size {
		p = p[:r.size-off]
		short = io.EOF
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// start with the highest checkpoint that starts <= the request
	i := sort.Search(len(r.checkpoints), func(i int) bool {
		return r.checkpoints[i].offset > off
	}) - 1

	for {
		cp := &r.checkpoints[i]
		k := key{r.uniq, cp.offset}
		blob, ok := shared.get(k)

		if !ok { // decode a chunk expensively
			next, newblob, err := cp.stepper()
			if err == nil && len(newblob) == 0 {
				err = io.ErrNoProgress
			}
			blob = newblob
			cp.err = err
			if len(blob) > 0 {
				shared.add(k, blob)
			}
			if err == nil && i+1 == len(r.checkpoints) {
				r.checkpoints = append(r.checkpoints, checkpoint{
					stepper: next,
					offset:  cp.offset + int64(len(blob))})
				cp = &r.checkpoints[i]
			}
			slog.Debug("chunkDecode", "reader", r.debugName, "offset", cp.offset, "size", len(blob))
		}

		// copy bytes into the destination buffer
		n := int(min(max(cp.offset-off, 0), int64(len(p))))
		if destcut, srccut, ok := overlap(off, len(p), cp.offset, len(blob)); ok {
			n = destcut + copy(p[destcut:], blob[srccut:])
		}
		if n == len(p) {
			return n, short
		}
		if cp.err != nil {
			if cp.err == io.EOF && short == nil {
				return n, io.ErrUnexpectedEOF
			}
			return n, cp.err
		}
		i++
	}
}

type readError struct {
	name string
	off  int64
}

func (e *readError) Error() string {
	return "chunkcache: " + e.name + ": negative offset"
}

func overlap(aoffset int64, alen int, boffset int64, blen int) (ainner, binner int, ok bool) {
	if aoffset >= boffset+int64(blen) || boffset >= aoffset+int64(alen) {
		return 0, 0, false
	}

	if aoffset > boffset {
		binner = int(aoffset - boffset)
	} else {
		ainner = int(boffset - aoffset)
	}
	return ainner, binner, true
}

var monotonic atomic.Uint64

type key struct {
	reader uint64
	offset int64
}

func hasher(k key) uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:], k.reader)
	binary.LittleEndian.PutUint64(b[8:], uint64(k.offset))
	return xxhash.Sum64(b[:])
}

// cache wraps the TinyLFU cache, which is not safe for concurrent use.
type cache struct {
	mu  sync.Mutex
	lfu *tinylfu.T[key, []byte]
}

func newCache(n int) *cache {
	return &cache{lfu: tinylfu.New[key, []byte](n, n*10, hasher)}
}

func (c *cache) get(k key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lfu.Get(k)
}

func (c *cache) add(k key, v []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lfu.Add(k, v)
}

var shared = newCache(capacity)
