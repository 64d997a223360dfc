// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package codecpool lends out stateful decompressors so that their
// tables and windows are allocated once per concurrent user rather
// than once per chunk.
package codecpool

import (
	"sync"

	"github.com/elliotnunn/brickvault/internal/codec"
	"github.com/elliotnunn/brickvault/internal/dflt"
	"github.com/elliotnunn/brickvault/internal/lz2k"
)

// Pool is safe for concurrent use. An instance is held by at most one
// renter at a time.
type Pool struct {
	mu   sync.Mutex
	idle [codec.NumKinds][]codec.Decompressor
	ctor [codec.NumKinds]func() codec.Decompressor
}

// New returns a pool for the kinds that carry state between chunks.
func New() *Pool {
	p := new(Pool)
	p.ctor[codec.Deflate] = func() codec.Decompressor { return dflt.New() }
	p.ctor[codec.Lz2k] = func() codec.Decompressor { return lz2k.New() }
	return p
}

// Pooled reports whether instances of kind k are recycled here.
func (p *Pool) Pooled(k codec.Kind) bool {
	return int(k) < codec.NumKinds && p.ctor[k] != nil
}

// Rent takes an idle instance, if there is one.
func (p *Pool) Rent(k codec.Kind) (codec.Decompressor, bool) {
	if !p.Pooled(k) {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	stack := p.idle[k]
	if len(stack) == 0 {
		return nil, false
	}
	d := stack[len(stack)-1]
	stack[len(stack)-1] = nil
	p.idle[k] = stack[:len(stack)-1]
	return d, true
}

// Get rents an instance or constructs a fresh one. It returns nil for
// kinds that are not pooled.
func (p *Pool) Get(k codec.Kind) codec.Decompressor {
	if d, ok := p.Rent(k); ok {
		return d
	}
	if !p.Pooled(k) {
		return nil
	}
	return p.ctor[k]()
}

// Return resets d and makes it available to the next renter.
// The caller must not use d afterwards.
func (p *Pool) Return(k codec.Kind, d codec.Decompressor) {
	if d == nil || !p.Pooled(k) {
		return
	}
	if r, ok := d.(codec.Resetter); ok {
		r.Reset()
	}
	p.mu.Lock()
	p.idle[k] = append(p.idle[k], d)
	p.mu.Unlock()
}

// Warm constructs n idle instances of kind k ahead of demand.
func (p *Pool) Warm(k codec.Kind, n int) {
	if !p.Pooled(k) {
		return
	}
	for range n {
		p.Return(k, p.ctor[k]())
	}
}

// Idle counts the instances of kind k waiting to be rented.
func (p *Pool) Idle(k codec.Kind) int {
	if !p.Pooled(k) {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[k])
}
