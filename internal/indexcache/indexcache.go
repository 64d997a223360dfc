// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package indexcache keeps parsed archive indexes on disk, so that
// reopening a large archive does not mean parsing its trailer again.
package indexcache

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble/v2"
	"github.com/elliotnunn/brickvault/internal/dat"
	"github.com/elliotnunn/brickvault/internal/fileid"
	"github.com/fxamacker/cbor/v2"
)

// Dir is where the cache lives, from BVCACHE. Empty means no cache.
var Dir string = calcDir()

func calcDir() string {
	switch e := os.Getenv("BVCACHE"); e {
	case "off":
		return ""
	case "":
		base, err := os.UserCacheDir()
		if err != nil {
			return ""
		}
		return filepath.Join(base, "brickvault")
	default:
		return e
	}
}

// schema prefixes every stored value and changes whenever dat.Index does.
const schema = 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("indexcache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{MaxArrayElements: 1 << 27}.DecMode()
	if err != nil {
		panic("indexcache: CBOR decoder initialization failed: " + err.Error())
	}
}

// Key names an archive, either by its place on disk or by its contents,
// together with the name lists it was opened with.
type Key struct {
	kind  byte // 'f' for a file ID, 'c' for a content fingerprint
	id    [16]byte
	names uint64 // NamesDigest, 0 without lists
}

func (k Key) String() string {
	return fmt.Sprintf("%c/%s/%016x", k.kind, hex.EncodeToString(k.id[:]), k.names)
}

func (k Key) dbKey() []byte {
	b := append([]byte{'i', k.kind}, k.id[:]...)
	return binary.BigEndian.AppendUint64(b, k.names)
}

// WithNames returns k for an archive opened with the given NamesDigest.
func (k Key) WithNames(digest uint64) Key {
	k.names = digest
	return k
}

// NamesDigest hashes the *.list files at the top of fsys, which decide
// the paths of revisions that store only path hashes. It is 0 when there
// are none.
func NamesDigest(fsys fs.FS) (uint64, error) {
	if fsys == nil {
		return 0, nil
	}
	lists, err := doublestar.Glob(fsys, "*.list")
	if err != nil || len(lists) == 0 {
		return 0, err
	}
	slices.Sort(lists)
	h := xxhash.New()
	for _, name := range lists {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return 0, err
		}
		h.WriteString(name)
		h.Write([]byte{0})
		h.Write(binary.BigEndian.AppendUint64(nil, uint64(len(data))))
		h.Write(data)
	}
	return h.Sum64() | 1, nil
}

// KeyOf prefers the file ID of name, falling back on the contents of r.
func KeyOf(name string, r io.ReaderAt, size int64) (Key, error) {
	if name != "" {
		if id, err := fileid.Get(name); err == nil {
			return Key{kind: 'f', id: id}, nil
		} else {
			slog.Debug("fileidFailed", "name", name, "err", err)
		}
	}
	return Fingerprint(r, size)
}

const sampleSize = 64 << 10

// Fingerprint hashes the size and the first and last 64 KiB of r, which
// between them hold the header and the trailer.
func Fingerprint(r io.ReaderAt, size int64) (Key, error) {
	h := xxhash.New()
	buf := make([]byte, min(size, sampleSize))
	for _, off := range []int64{0, max(0, size-sampleSize)} {
		if _, err := r.ReadAt(buf, off); err != nil && err != io.EOF {
			return Key{}, err
		}
		h.Write(buf)
	}
	k := Key{kind: 'c'}
	binary.BigEndian.PutUint64(k.id[:], uint64(size))
	binary.BigEndian.PutUint64(k.id[8:], h.Sum64())
	return k, nil
}

// Cache is safe for concurrent use by multiple goroutines.
type Cache struct {
	db *pebble.DB
}

func Open(dir string) (*Cache, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("index cache %s: %w", dir, err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the stored index for k. A value written by another schema
// counts as absent.
func (c *Cache) Get(k Key) (dat.Index, bool, error) {
	val, closer, err := c.db.Get(k.dbKey())
	if errors.Is(err, pebble.ErrNotFound) {
		return dat.Index{}, false, nil
	} else if err != nil {
		return dat.Index{}, false, err
	}
	defer closer.Close()

	if len(val) == 0 || val[0] != schema {
		return dat.Index{}, false, nil
	}
	var idx dat.Index
	if err := decMode.Unmarshal(val[1:], &idx); err != nil {
		return dat.Index{}, false, fmt.Errorf("index cache %v: %w", k, err)
	}
	return idx, true, nil
}

func (c *Cache) Put(k Key, idx dat.Index) error {
	enc, err := encMode.Marshal(idx)
	if err != nil {
		return err
	}
	return c.db.Set(k.dbKey(), append([]byte{schema}, enc...), pebble.NoSync)
}

func (c *Cache) Delete(k Key) error {
	return c.db.Delete(k.dbKey(), pebble.NoSync)
}

// OpenArchive opens the archive in r, using the stored index when there
// is one and storing it when there is not. A nil Cache just opens.
// Failures of the cache itself are logged and otherwise ignored.
func (c *Cache) OpenArchive(name string, r io.ReaderAt, size int64, opts dat.Options) (*dat.Archive, error) {
	if c == nil {
		return dat.Open(r, opts)
	}

	k, err := KeyOf(name, r, size)
	if err != nil {
		return nil, err
	}
	digest, err := NamesDigest(opts.Names)
	if err != nil {
		return nil, err
	}
	k = k.WithNames(digest)
	idx, ok, err := c.Get(k)
	if err != nil {
		slog.Warn("indexCacheRead", "key", k, "err", err)
	}
	if ok {
		a, err := dat.FromIndex(r, idx)
		if err == nil {
			slog.Debug("indexCacheHit", "key", k, "entries", len(a.Entries))
			return a, nil
		}
		slog.Warn("indexCacheStale", "key", k, "err", err)
		c.Delete(k)
	}

	a, err := dat.Open(r, opts)
	if err != nil {
		return nil, err
	}
	if err := c.Put(k, a.Index()); err != nil {
		slog.Warn("indexCacheWrite", "key", k, "err", err)
	}
	return a, nil
}
