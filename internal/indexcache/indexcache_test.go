// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package indexcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/cockroachdb/pebble/v2"
	"github.com/elliotnunn/brickvault/internal/dat"
	"github.com/elliotnunn/brickvault/internal/filetree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIndex() dat.Index {
	tr := filetree.New(filetree.FNV64, 8)
	paths := []string{`data\one.bin`, `data\two.bin`, `readme.txt`}
	var entries []dat.Entry
	for i, p := range paths {
		tr.Nodes[tr.Insert(p)].File = int32(i)
		entries = append(entries, dat.Entry{Offset: int64(0x100 + 0x10*i), Compressed: 4, Decompressed: 4, Flags: uint8(i)})
	}
	return dat.Index{
		Version: dat.V12,
		Minor:   2,
		Scheme:  filetree.FNV64,
		Entries: entries,
		Nodes:   tr.Nodes,
		Hashes:  []uint32{1, 2, 3},
		Aliases: map[string]int32{`mods\one.bin`: 0},
	}
}

func openCache(t *testing.T, dir string) *Cache {
	t.Helper()
	c, err := Open(dir)
	require.NoError(t, err)
	return c
}

func TestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := openCache(t, dir)
	k, err := Fingerprint(bytes.NewReader([]byte("some archive")), 12)
	require.NoError(t, err)

	_, ok, err := c.Get(k)
	require.NoError(t, err)
	assert.False(t, ok)

	want := sampleIndex()
	require.NoError(t, c.Put(k, want))
	require.NoError(t, c.Close())

	c = openCache(t, dir)
	defer c.Close()
	got, ok, err := c.Get(k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Minor, got.Minor)
	assert.Equal(t, want.Entries, got.Entries)
	assert.Equal(t, want.Hashes, got.Hashes)
	assert.Equal(t, want.Aliases, got.Aliases)
	require.Len(t, got.Nodes, len(want.Nodes))
	for i := range want.Nodes {
		w, g := want.Nodes[i], got.Nodes[i]
		w.PathHash, g.PathHash = 0, 0
		assert.Equal(t, w, g, "node %d", i)
	}

	a, err := dat.FromIndex(bytes.NewReader(make([]byte, 0x200)), got)
	require.NoError(t, err)
	assert.Equal(t, `data\two.bin`, a.Path(1))
}

func TestSchemaMismatchIsMiss(t *testing.T) {
	c := openCache(t, t.TempDir())
	defer c.Close()
	k := Key{kind: 'c'}
	require.NoError(t, c.db.Set(k.dbKey(), []byte{schema + 1, 0xa0}, pebble.NoSync))
	_, ok, err := c.Get(k)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenArchiveUsesCache(t *testing.T) {
	name := filepath.Join(t.TempDir(), "GAME.DAT")
	raw := make([]byte, 0x200) // no trailer, so only the cache can open it
	require.NoError(t, os.WriteFile(name, raw, 0o644))
	r := bytes.NewReader(raw)

	c := openCache(t, t.TempDir())
	defer c.Close()

	_, err := c.OpenArchive(name, r, int64(len(raw)), dat.Options{Name: name})
	assert.Error(t, err)

	k, err := KeyOf(name, r, int64(len(raw)))
	require.NoError(t, err)
	require.NoError(t, c.Put(k, sampleIndex()))

	a, err := c.OpenArchive(name, r, int64(len(raw)), dat.Options{Name: name})
	require.NoError(t, err)
	assert.Len(t, a.Entries, 3)
	i, err := a.Lookup(`mods\one.bin`)
	require.NoError(t, err)
	assert.Equal(t, 0, i)
}

// hashedArchive is a revision 1 archive whose only entry is known by the
// hash of a.txt.
func hashedArchive() []byte {
	le := binary.LittleEndian
	raw := make([]byte, 0x200)
	le.PutUint32(raw[0:], 0x200)
	copy(raw[0x100:], "hello")

	var t []byte
	t = le.AppendUint32(t, uint32(0xffffffff)) // revision 1
	t = le.AppendUint32(t, 1)
	t = le.AppendUint32(t, 0x100>>8)
	t = le.AppendUint32(t, 5)
	t = le.AppendUint32(t, 5)
	t = le.AppendUint32(t, 0)
	t = le.AppendUint32(t, uint32(filetree.FNV32.Sum("a.txt")))
	le.PutUint32(raw[4:], uint32(len(t)))
	return append(raw, t...)
}

func TestNameListsAreKeyed(t *testing.T) {
	name := filepath.Join(t.TempDir(), "GAME.DAT")
	raw := hashedArchive()
	require.NoError(t, os.WriteFile(name, raw, 0o644))
	r := bytes.NewReader(raw)
	size := int64(len(raw))
	placeholder := fmt.Sprintf(`unknown\%08x.unk`, filetree.FNV32.Sum("a.txt"))

	c := openCache(t, t.TempDir())
	defer c.Close()

	a, err := c.OpenArchive(name, r, size, dat.Options{Name: name})
	require.NoError(t, err)
	assert.Equal(t, placeholder, a.Path(0))

	lists := fstest.MapFS{"game.list": {Data: []byte("a.txt\n")}}
	a, err = c.OpenArchive(name, r, size, dat.Options{Name: name, Names: lists})
	require.NoError(t, err)
	assert.Equal(t, "a.txt", a.Path(0))

	// both results stay cached side by side
	a, err = c.OpenArchive(name, r, size, dat.Options{Name: name})
	require.NoError(t, err)
	assert.Equal(t, placeholder, a.Path(0))

	lists["game.list"] = &fstest.MapFile{Data: []byte("b.txt\n")}
	a, err = c.OpenArchive(name, r, size, dat.Options{Name: name, Names: lists})
	require.NoError(t, err)
	assert.Equal(t, placeholder, a.Path(0))
}

func TestNamesDigest(t *testing.T) {
	d, err := NamesDigest(nil)
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = NamesDigest(fstest.MapFS{"readme.txt": {Data: []byte("x")}})
	require.NoError(t, err)
	assert.Zero(t, d)

	d1, err := NamesDigest(fstest.MapFS{"game.list": {Data: []byte("a.txt\n")}})
	require.NoError(t, err)
	d2, err := NamesDigest(fstest.MapFS{"game.list": {Data: []byte("a.txt\nb.txt\n")}})
	require.NoError(t, err)
	assert.NotZero(t, d1)
	assert.NotEqual(t, d1, d2)
}

func TestNilCacheOpens(t *testing.T) {
	var c *Cache
	_, err := c.OpenArchive("", bytes.NewReader(nil), 0, dat.Options{})
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	big := bytes.Repeat([]byte("abcdefgh"), 3*sampleSize/8)
	k1, err := Fingerprint(bytes.NewReader(big), int64(len(big)))
	require.NoError(t, err)

	middle := bytes.Clone(big)
	middle[len(middle)/2] ^= 0xff
	k2, err := Fingerprint(bytes.NewReader(middle), int64(len(middle)))
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "only the ends are sampled")

	tail := bytes.Clone(big)
	tail[len(tail)-1] ^= 0xff
	k3, err := Fingerprint(bytes.NewReader(tail), int64(len(tail)))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}
