// Package datafile wraps the physical files a catalog is spread over.
//
// A Handle owns one file's open/close lifecycle and a transient field cache
// that lives for a single open/close bracket. Callers go through With so the
// handle is released on every path:
//
//	err := datafile.With(h, func(h datafile.Handle) error {
//		return parse(h)
//	})
package datafile

import (
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-arbor/pkg/fields"
)

// ErrNotOpen is returned by reads on a closed handle.
var ErrNotOpen = errors.New("data file is not open")

// Handle is one physical data file.
type Handle interface {
	Path() string
	Open() error
	Close() error
	IsOpen() bool
	// OpenCount is the number of successful Open calls over the handle's life.
	OpenCount() int
	// Cache holds parsed fields for the current open bracket. It is cleared
	// on Close.
	Cache() map[string]fields.Array
}

// With opens h, runs fn and closes h, whatever fn returns. A close failure
// is joined with fn's error.
func With(h Handle, fn func(Handle) error) (err error) {
	if err := h.Open(); err != nil {
		return fmt.Errorf("open %s: %w", h.Path(), err)
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close %s: %w", h.Path(), cerr))
		}
	}()
	return fn(h)
}

// base carries the bookkeeping shared by every handle.
type base struct {
	path      string
	openCount int
	cache     map[string]fields.Array
}

func (b *base) Path() string {
	return b.path
}

func (b *base) OpenCount() int {
	return b.openCount
}

func (b *base) Cache() map[string]fields.Array {
	if b.cache == nil {
		b.cache = make(map[string]fields.Array)
	}
	return b.cache
}

func (b *base) opened() {
	b.openCount++
	b.cache = nil
}

func (b *base) closed() {
	b.cache = nil
}
