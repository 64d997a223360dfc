// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/elliotnunn/brickvault/internal/codecpool"
	"github.com/elliotnunn/brickvault/internal/dat"
	"golang.org/x/sync/errgroup"
)

// MaxWorkers caps Options.Workers.
const MaxWorkers = 16

// Result reports the fate of one entry. Written is the number of bytes
// that reached the sink, even for a failed entry.
type Result struct {
	Index   int
	Path    string
	Written int64
	Err     error
}

// Sink receives extracted entries. Create is called from several
// goroutines at once when Run has more than one worker.
type Sink interface {
	Create(path string) (io.WriteCloser, error)
}

// Aborter is implemented by writers that can discard what they hold
// when the entry fails part way.
type Aborter interface {
	Abort() error
}

type Options struct {
	Workers  int                   // 0 or 1 runs in the calling goroutine
	Progress func(done, total int) // called once per finished entry, from any worker
}

// Run extracts the entries numbered in which (every entry when which is
// nil) into sink. A failed entry does not stop the others; its error is
// in its Result. Cancellation is noticed between entries: entries never
// reached carry the context's error, which Run also returns.
func Run(ctx context.Context, a *dat.Archive, pool *codecpool.Pool, which []int, sink Sink, opts Options) ([]Result, error) {
	if which == nil {
		which = make([]int, len(a.Entries))
		for i := range which {
			which[i] = i
		}
	}
	if pool == nil {
		pool = codecpool.New()
	}

	results := make([]Result, len(which))
	for j, i := range which {
		results[j] = Result{Index: i, Path: a.Path(i)}
	}

	n := len(which)
	workers := min(max(opts.Workers, 1), MaxWorkers, max(n, 1))
	var done atomic.Int64

	// A worker only fails when cancelled. Entry failures go in results.
	work := func(ctx context.Context, lo, hi int) error {
		d := NewDecoder(a.ReaderAt(), pool)
		for j := lo; j < hi; j++ {
			if err := ctx.Err(); err != nil {
				for k := j; k < hi; k++ {
					results[k].Err = err
				}
				return err
			}
			r := &results[j]
			r.Written, r.Err = one(d, a.Entries[r.Index], r.Path, sink)
			if r.Err != nil {
				slog.Warn("extractFailed", "entry", r.Index, "path", r.Path, "err", r.Err)
			}
			if k := done.Add(1); opts.Progress != nil {
				opts.Progress(int(k), n)
			}
		}
		return nil
	}

	if workers == 1 {
		return results, work(ctx, 0, n)
	}

	slog.Debug("extractWorkers", "workers", workers, "entries", n)
	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		lo, hi := w*n/workers, (w+1)*n/workers
		g.Go(func() error {
			return work(gctx, lo, hi)
		})
	}
	return results, g.Wait()
}

func one(d *Decoder, e dat.Entry, path string, sink Sink) (int64, error) {
	w, err := sink.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := d.Entry(e, w)
	if err != nil {
		if ab, ok := w.(Aborter); ok {
			return n, errors.Join(err, ab.Abort())
		}
		w.Close()
		return n, err
	}
	return n, w.Close()
}

// Failed counts the results that carry an error.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Discard is a Sink that only counts.
var Discard Sink = discard{}

type discard struct{}

func (discard) Create(string) (io.WriteCloser, error) { return nopCloser{io.Discard}, nil }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// Dir writes each entry to a file under Root, creating directories as
// needed. Paths are upper-cased unless Lower is set.
type Dir struct {
	Root  string
	Lower bool
}

func (d Dir) Create(path string) (io.WriteCloser, error) {
	rel := filepath.FromSlash(strings.ReplaceAll(path, `\`, "/"))
	if !d.Lower {
		rel = strings.ToUpper(rel)
	}
	if !filepath.IsLocal(rel) {
		return nil, &os.PathError{Op: "extract", Path: path, Err: os.ErrInvalid}
	}
	name := filepath.Join(d.Root, rel)
	if err := os.MkdirAll(filepath.Dir(name), 0o777); err != nil {
		return nil, err
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return &partial{File: f}, nil
}

// partial removes its file when the entry fails.
type partial struct {
	*os.File
}

func (p *partial) Abort() error {
	p.File.Close()
	return os.Remove(p.Name())
}

// Select returns the entries whose paths match at least one include
// pattern (all entries when there are none) and no exclude pattern.
// Patterns are doublestar globs matched against the lower-case path with
// forward slashes.
func Select(a *dat.Archive, include, exclude []string) ([]int, error) {
	for _, p := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("bad pattern %q: %w", p, doublestar.ErrBadPattern)
		}
	}
	which := []int{} // non-nil, since Run reads nil as every entry
	for i := range a.Entries {
		p := strings.ToLower(strings.ReplaceAll(a.Path(i), `\`, "/"))
		if len(include) > 0 && !matchAny(include, p) {
			continue
		}
		if matchAny(exclude, p) {
			continue
		}
		which = append(which, i)
	}
	return which, nil
}

func matchAny(patterns []string, p string) bool {
	for _, pat := range patterns {
		if doublestar.MatchUnvalidated(strings.ToLower(pat), p) {
			return true
		}
	}
	return false
}
