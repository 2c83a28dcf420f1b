package trace

import (
	"fmt"

	"github.com/danmuck/apibus/internal/registry"
	"github.com/danmuck/apibus/internal/wire"
)

// Direction selects the received or sent ring.
type Direction int

const (
	RX Direction = iota
	TX
)

func (d Direction) String() string {
	switch d {
	case RX:
		return "rx"
	case TX:
		return "tx"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// DefaultItems is the capacity used when a direction is switched on
// before it was configured.
const DefaultItems = 1024

// Set holds the rings of both directions.
type Set struct {
	rings [2]*Ring
}

// NewSet returns a set with neither direction configured.
func NewSet() *Set {
	return &Set{}
}

func (s *Set) slot(dir Direction) (**Ring, error) {
	if dir != RX && dir != TX {
		return nil, fmt.Errorf("%w: %d", ErrBadDirection, int(dir))
	}
	return &s.rings[dir], nil
}

// Ring returns the ring of dir, or nil when it was never configured.
func (s *Set) Ring(dir Direction) *Ring {
	p, err := s.slot(dir)
	if err != nil {
		return nil
	}
	return *p
}

// Configure resets dir to capacity n.
func (s *Set) Configure(dir Direction, n int) error {
	p, err := s.slot(dir)
	if err != nil {
		return err
	}
	if *p == nil {
		*p = &Ring{}
	}
	(*p).Configure(n)
	return nil
}

// SetEnabled toggles dir and returns its previous state. A direction
// that was never configured gets DefaultItems first; one configured
// with zero capacity, or freed, is left untouched and ErrNotConfigured
// is returned.
func (s *Set) SetEnabled(dir Direction, on bool) (bool, error) {
	p, err := s.slot(dir)
	if err != nil {
		return false, err
	}
	if *p == nil {
		if err := s.Configure(dir, DefaultItems); err != nil {
			return false, err
		}
	}
	return (*p).SetEnabled(on)
}

// Enabled reports whether dir is capturing.
func (s *Set) Enabled(dir Direction) bool {
	r := s.Ring(dir)
	return r != nil && r.Enabled()
}

// Reset drops the captured entries of dir.
func (s *Set) Reset(dir Direction) error {
	p, err := s.slot(dir)
	if err != nil {
		return err
	}
	if *p == nil {
		return ErrNotConfigured
	}
	return (*p).Reset()
}

// Free releases the storage of dir and returns it to the unconfigured
// state.
func (s *Set) Free(dir Direction) error {
	p, err := s.slot(dir)
	if err != nil {
		return err
	}
	if *p == nil {
		return ErrNotConfigured
	}
	return (*p).Free()
}

// Append copies raw into dir.
func (s *Set) Append(dir Direction, raw []byte) error {
	p, err := s.slot(dir)
	if err != nil {
		return err
	}
	if *p == nil {
		return ErrNotConfigured
	}
	return (*p).Append(raw)
}

// Capture appends raw when dir is enabled and the message type asks to
// be traced. Unknown message ids are not captured.
func (s *Set) Capture(reg *registry.Registry, dir Direction, raw []byte) error {
	if !s.Enabled(dir) {
		return nil
	}
	id, err := wire.PeekID(raw)
	if err != nil {
		return err
	}
	d, ok := reg.Entry(id)
	if !ok || !d.Traced {
		return nil
	}
	return s.Append(dir, raw)
}

// Traverse visits the entries of dir oldest first.
func (s *Set) Traverse(dir Direction, fn func(msg []byte) error) error {
	p, err := s.slot(dir)
	if err != nil {
		return err
	}
	if *p == nil {
		return ErrNotConfigured
	}
	return (*p).Traverse(fn)
}
