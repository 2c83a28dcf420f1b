package trace

import (
	"github.com/danmuck/apibus/internal/wire"
	"github.com/rs/zerolog/log"
)

// Ring is a bounded circular log of raw message copies.
type Ring struct {
	nitems  int
	entries [][]byte
	cursor  int
	wrapped bool
	enabled bool
	endian  wire.Endian
}

// NewRing returns a disabled ring with capacity n.
func NewRing(n int) *Ring {
	r := &Ring{}
	r.Configure(n)
	return r
}

// Configure drops all captured entries and sets a new capacity. A ring
// that was enabled stays enabled when the new capacity is non-zero.
func (r *Ring) Configure(n int) {
	if n < 0 {
		n = 0
	}
	wasOn := r.enabled
	*r = Ring{
		nitems: n,
		endian: wire.HostEndian(),
	}
	r.enabled = wasOn && n > 0
}

// SetEnabled toggles capture and returns the previous state.
func (r *Ring) SetEnabled(on bool) (bool, error) {
	if r.nitems == 0 {
		return false, ErrNotConfigured
	}
	prev := r.enabled
	r.enabled = on
	return prev, nil
}

// Reset drops captured entries; capacity and enabled state are kept.
func (r *Ring) Reset() error {
	if r.nitems == 0 {
		return ErrNotConfigured
	}
	r.entries = nil
	r.cursor = 0
	r.wrapped = false
	return nil
}

// Free drops entries and capacity, leaving the ring unconfigured and
// disabled.
func (r *Ring) Free() error {
	if r.nitems == 0 {
		return ErrNotConfigured
	}
	*r = Ring{endian: r.endian}
	return nil
}

// Append stores a private copy of raw. Once full, the oldest entry is
// overwritten and its backing array reused.
func (r *Ring) Append(raw []byte) error {
	if r.nitems == 0 {
		log.Warn().Msg("trace: append to ring with zero capacity")
		return ErrNoCapacity
	}
	if len(r.entries) < r.nitems {
		entry := make([]byte, len(raw))
		copy(entry, raw)
		r.entries = append(r.entries, entry)
		return nil
	}
	r.wrapped = true
	slot := r.cursor
	r.cursor++
	if r.cursor == r.nitems {
		r.cursor = 0
	}
	r.entries[slot] = append(r.entries[slot][:0], raw...)
	return nil
}

// Traverse visits entries oldest first and stops at the first error.
// Empty slots are skipped.
func (r *Ring) Traverse(fn func(msg []byte) error) error {
	visit := func(from, to int) error {
		for i := from; i < to; i++ {
			msg := r.entries[i]
			if len(msg) == 0 {
				continue
			}
			if err := fn(msg); err != nil {
				return err
			}
		}
		return nil
	}
	if !r.wrapped {
		return visit(0, len(r.entries))
	}
	if err := visit(r.cursor, len(r.entries)); err != nil {
		return err
	}
	return visit(0, r.cursor)
}

// Snapshot returns independent copies of the entries, oldest first.
func (r *Ring) Snapshot() [][]byte {
	out := make([][]byte, 0, len(r.entries))
	_ = r.Traverse(func(msg []byte) error {
		c := make([]byte, len(msg))
		copy(c, msg)
		out = append(out, c)
		return nil
	})
	return out
}

func (r *Ring) Len() int            { return len(r.entries) }
func (r *Ring) Cap() int            { return r.nitems }
func (r *Ring) Wrapped() bool       { return r.wrapped }
func (r *Ring) Enabled() bool       { return r.enabled }
func (r *Ring) Endian() wire.Endian { return r.endian }
