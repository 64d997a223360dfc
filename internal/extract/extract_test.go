// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/elliotnunn/brickvault/internal/codec"
	"github.com/elliotnunn/brickvault/internal/codecpool"
	"github.com/elliotnunn/brickvault/internal/dat"
	"github.com/elliotnunn/brickvault/internal/filetree"
	"github.com/elliotnunn/brickvault/internal/zipx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture lays entries out back to back after a blank header.
type fixture struct {
	file    []byte
	paths   []string
	entries []dat.Entry
	want    [][]byte
}

func newFixture() *fixture {
	return &fixture{file: make([]byte, 0x100)}
}

func (f *fixture) add(path string, want []byte, body ...[]byte) {
	e := dat.Entry{Offset: int64(len(f.file)), Decompressed: uint32(len(want))}
	for _, b := range body {
		f.file = append(f.file, b...)
	}
	e.Compressed = uint32(len(f.file) - int(e.Offset))
	f.paths = append(f.paths, path)
	f.entries = append(f.entries, e)
	f.want = append(f.want, want)
}

func (f *fixture) archive(t *testing.T) *dat.Archive {
	t.Helper()
	tr := filetree.New(filetree.FNV64, len(f.paths)+1)
	for i, p := range f.paths {
		tr.Nodes[tr.Insert(p)].File = int32(i)
	}
	a, err := dat.FromIndex(bytes.NewReader(f.file), dat.Index{
		Version: dat.V11,
		Minor:   2,
		Scheme:  filetree.FNV64,
		Entries: f.entries,
		Nodes:   tr.Nodes,
	})
	require.NoError(t, err)
	return a
}

func frame(tag string, a, b int, payload []byte) []byte {
	out := append([]byte(tag), make([]byte, 8)...)
	binary.LittleEndian.PutUint32(out[4:], uint32(a))
	binary.LittleEndian.PutUint32(out[8:], uint32(b))
	return append(out, payload...)
}

func zipxFrame(plain []byte) []byte {
	enc := make([]byte, len(plain))
	zipx.New().Decompress(plain, enc) // the keystream is its own inverse
	return frame("ZIPX", len(enc), len(plain), enc)
}

// refpackFrame holds twelve bytes as a single literal run.
func refpackFrame(twelve string) []byte {
	payload := append([]byte{0xe2}, twelve...)
	payload = append(payload, 0xfc)
	return frame("RFPK", len(payload), len(twelve), payload)
}

func storedDeflateFrame(plain []byte) []byte {
	payload := []byte{0x05, byte(len(plain)), byte(len(plain) >> 8)}
	payload = append(payload, plain...)
	return frame("DFLT", len(payload), len(plain), payload)
}

func storedLz2kFrame(plain []byte) []byte {
	return frame("LZ2K", len(plain), len(plain), plain)
}

func mixed() *fixture {
	f := newFixture()
	f.add(`data\plain.txt`, []byte("stored verbatim"), []byte("stored verbatim"))
	f.add(`data\secret.txt`, []byte("an obfuscated line"), zipxFrame([]byte("an obfuscated line")))
	f.add(`data\packed.bin`, []byte("twelve bytes"), refpackFrame("twelve bytes"))
	f.add(`data\raw.lz`, []byte("lz2k kept raw"), storedLz2kFrame([]byte("lz2k kept raw")))
	f.add(`data\stored.df`, []byte("deflate stored block"), storedDeflateFrame([]byte("deflate stored block")))
	f.add(`data\junk.bin`, []byte("after junk"),
		frame("JUNK", 4, 99, []byte{1, 2, 3, 4}),
		zipxFrame([]byte("after junk")))
	f.add(`two\chunks.bin`, []byte("first chunk!second chunk"),
		refpackFrame("first chunk!"),
		refpackFrame("second chunk"))
	f.add(`two\kinds.bin`, []byte("deflate then zipx"),
		storedDeflateFrame([]byte("deflate ")),
		zipxFrame([]byte("then zipx")))
	f.add(`top.txt`, []byte("x"), []byte("x"))
	f.add(`empty.txt`, []byte{}, nil)
	return f
}

type memSink struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memSink) Create(path string) (io.WriteCloser, error) {
	return &memFile{sink: m, path: path}, nil
}

type memFile struct {
	bytes.Buffer
	sink *memSink
	path string
}

func (f *memFile) Close() error {
	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	if f.sink.files == nil {
		f.sink.files = make(map[string][]byte)
	}
	f.sink.files[f.path] = bytes.Clone(f.Bytes())
	return nil
}

func TestDecoderEntry(t *testing.T) {
	f := mixed()
	a := f.archive(t)
	d := NewDecoder(a.ReaderAt(), nil)
	for i, want := range f.want {
		t.Run(f.paths[i], func(t *testing.T) {
			got, err := d.Bytes(a.Entries[i])
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestReadHeader(t *testing.T) {
	rncHead := []byte("RNC\x02\x00\x00\x00\x64\x00\x00\x00\x32")
	c, err := ReadHeader(bytes.NewReader(rncHead), 0)
	require.NoError(t, err)
	assert.Equal(t, codec.Rnc, c.Kind)
	assert.Equal(t, 100, c.Size)
	assert.Equal(t, 50+18, c.Packed)
	assert.Equal(t, int64(0), c.In, "the block is handed over header and all")
	assert.Equal(t, int64(68), c.End())

	c, err = ReadHeader(bytes.NewReader(frame("LZ2K", 300, 200, nil)), 0)
	require.NoError(t, err)
	assert.Equal(t, 300, c.Size)
	assert.Equal(t, 200, c.Packed)
	assert.False(t, c.Stored)

	c, err = ReadHeader(bytes.NewReader(frame("WHAT", 7, 1000, nil)), 0)
	require.NoError(t, err)
	assert.Equal(t, codec.Unknown, c.Kind)
	assert.Equal(t, 0, c.Size)
	assert.Equal(t, 7, c.Packed)

	_, err = ReadHeader(bytes.NewReader(frame("OODL", -1, 10, nil)), 0)
	assert.ErrorIs(t, err, codec.ErrCorrupt)

	_, err = ReadHeader(bytes.NewReader([]byte("OODL\x01")), 0)
	assert.ErrorIs(t, err, codec.ErrTruncated)
}

func TestShortChunk(t *testing.T) {
	f := newFixture()
	f.add(`short.bin`, make([]byte, 20), frame("RFPK", 14, 20, append(append([]byte{0xe2}, "twelve bytes"...), 0xfc)))
	a := f.archive(t)
	_, err := NewDecoder(a.ReaderAt(), nil).Bytes(a.Entries[0])
	assert.ErrorIs(t, err, codec.ErrCorrupt)
}

func TestTruncatedPayload(t *testing.T) {
	f := newFixture()
	body := zipxFrame([]byte("cut off here"))
	f.add(`cut.bin`, []byte("cut off here"), body[:len(body)-3])
	a := f.archive(t)
	_, err := NewDecoder(a.ReaderAt(), nil).Bytes(a.Entries[0])
	assert.ErrorIs(t, err, codec.ErrTruncated)
}

func TestThreadedMatchesSingle(t *testing.T) {
	f := mixed()
	a := f.archive(t)
	require.Len(t, a.Entries, 10)

	var single, threaded memSink
	res1, err := Run(context.Background(), a, nil, nil, &single, Options{Workers: 1})
	require.NoError(t, err)
	res2, err := Run(context.Background(), a, codecpool.New(), nil, &threaded, Options{Workers: 2})
	require.NoError(t, err)

	assert.Zero(t, Failed(res1))
	assert.Zero(t, Failed(res2))
	assert.Equal(t, single.files, threaded.files)
	for i, want := range f.want {
		assert.Equal(t, want, threaded.files[a.Path(i)], f.paths[i])
		assert.Equal(t, int64(len(want)), res2[i].Written)
	}
}

func TestFailureIsolated(t *testing.T) {
	f := mixed()
	f.add(`bad.bin`, make([]byte, 20), frame("RFPK", 1, 20, []byte{0x00}))
	f.add(`after.bin`, []byte("still fine"), []byte("still fine"))
	a := f.archive(t)

	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprint(workers), func(t *testing.T) {
			var sink memSink
			res, err := Run(context.Background(), a, nil, nil, &sink, Options{Workers: workers})
			require.NoError(t, err)
			assert.Equal(t, 1, Failed(res))
			assert.ErrorIs(t, res[10].Err, codec.ErrTruncated)
			assert.Equal(t, `bad.bin`, res[10].Path)
			assert.Equal(t, []byte("still fine"), sink.files[`after.bin`])
		})
	}
}

func TestProgressAndSubset(t *testing.T) {
	a := mixed().archive(t)
	var calls atomic.Int32
	var last atomic.Int32
	res, err := Run(context.Background(), a, nil, []int{8, 2, 0}, Discard, Options{
		Workers: 2,
		Progress: func(done, total int) {
			calls.Add(1)
			assert.Equal(t, 3, total)
			if done == total {
				last.Store(1)
			}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(1), last.Load())
	assert.Equal(t, []int{8, 2, 0}, []int{res[0].Index, res[1].Index, res[2].Index})
	assert.Equal(t, int64(12), res[1].Written)
}

func TestCancelledBeforeStart(t *testing.T) {
	a := mixed().archive(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var sink memSink
	res, err := Run(ctx, a, nil, nil, &sink, Options{Workers: 4})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.files)
	for _, r := range res {
		assert.ErrorIs(t, r.Err, context.Canceled)
		assert.Zero(t, r.Written)
	}
}

func TestCancelledPartWay(t *testing.T) {
	f := mixed()
	a := f.archive(t)
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprint(workers, " workers"), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var sink memSink
			res, err := Run(ctx, a, nil, nil, &sink, Options{
				Workers:  workers,
				Progress: func(done, total int) { cancel() },
			})
			assert.ErrorIs(t, err, context.Canceled)
			require.Len(t, res, len(a.Entries))

			unreached := 0
			for _, r := range res {
				if r.Err != nil {
					assert.ErrorIs(t, r.Err, context.Canceled, "entry %d", r.Index)
					unreached++
					continue
				}
				assert.Equal(t, f.want[r.Index], sink.files[r.Path], "entry %d", r.Index)
			}
			assert.Positive(t, unreached)
			assert.Equal(t, len(res)-unreached, len(sink.files))
		})
	}
}

func TestDirSink(t *testing.T) {
	f := mixed()
	f.add(`bad.bin`, make([]byte, 20), frame("RFPK", 1, 20, []byte{0x00}))
	a := f.archive(t)
	root := t.TempDir()

	res, err := Run(context.Background(), a, nil, nil, Dir{Root: root}, Options{Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, Failed(res))

	got, err := os.ReadFile(filepath.Join(root, "DATA", "SECRET.TXT"))
	require.NoError(t, err)
	assert.Equal(t, "an obfuscated line", string(got))

	_, err = os.Stat(filepath.Join(root, "BAD.BIN"))
	assert.ErrorIs(t, err, os.ErrNotExist, "failed entries leave nothing behind")

	lower := t.TempDir()
	_, err = Run(context.Background(), a, nil, []int{6}, Dir{Root: lower, Lower: true}, Options{})
	require.NoError(t, err)
	got, err = os.ReadFile(filepath.Join(lower, "two", "chunks.bin"))
	require.NoError(t, err)
	assert.Equal(t, "first chunk!second chunk", string(got))

	_, err = Dir{Root: root}.Create(`..\escape.txt`)
	assert.ErrorIs(t, err, os.ErrInvalid)
}

func TestSelect(t *testing.T) {
	a := mixed().archive(t)

	which, err := Select(a, []string{"data/**"}, []string{"**/*.BIN"})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3, 4}, which)

	which, err = Select(a, nil, []string{"data/**", "two/*"})
	require.NoError(t, err)
	assert.Equal(t, []int{8, 9}, which)

	which, err = Select(a, []string{"nothing/**"}, nil)
	require.NoError(t, err)
	res, err := Run(context.Background(), a, nil, which, Discard, Options{})
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = Select(a, []string{"[oops"}, nil)
	assert.Error(t, err)
}
