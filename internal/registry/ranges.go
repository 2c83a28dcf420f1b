package registry

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// InvalidID is returned when no message id could be assigned.
	InvalidID uint16 = 0xffff
	// MaxRangeCount bounds a single module's range request.
	MaxRangeCount = 1024
	// DefaultFirstAvailableID leaves room for the built-in message set.
	DefaultFirstAvailableID uint16 = 16
)

// Range is the contiguous id block owned by one module.
type Range struct {
	Name  string
	First uint16
	Last  uint16
}

// Contains reports whether id falls inside the range.
func (rg Range) Contains(id uint16) bool {
	return id >= rg.First && id <= rg.Last
}

// SetFirstAvailableID moves the allocation cursor. It only affects
// ranges allocated afterwards.
func (r *Registry) SetFirstAvailableID(id uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.firstAvailable = id
}

// FirstAvailableID returns the allocation cursor.
func (r *Registry) FirstAvailableID() uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.firstAvailable
}

// AllocateRange reserves n consecutive ids for module name and returns
// the first one. Failures return InvalidID and leave the cursor alone.
func (r *Registry) AllocateRange(name string, n int) (uint16, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return InvalidID, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rangeByName[name]; ok {
		log.Warn().Str("module", name).Msg("registry: duplicate message range registration")
		return InvalidID, fmt.Errorf("%w: %q", ErrDuplicateRange, name)
	}
	if n <= 0 || n > MaxRangeCount {
		log.Warn().Str("module", name).Int("count", n).Msg("registry: bad number of message ids requested")
		return InvalidID, fmt.Errorf("%w: %d requested by %q", ErrBadCount, n, name)
	}
	if int(r.firstAvailable)+n > int(InvalidID) {
		log.Warn().Str("module", name).Int("count", n).Msg("registry: message id space exhausted")
		return InvalidID, fmt.Errorf("%w: %d requested by %q", ErrRangeExhausted, n, name)
	}

	rg := Range{
		Name:  name,
		First: r.firstAvailable,
		Last:  r.firstAvailable + uint16(n) - 1,
	}
	r.firstAvailable += uint16(n)
	r.rangeByName[name] = len(r.ranges)
	r.ranges = append(r.ranges, rg)
	return rg.First, nil
}

// RangeByName returns the range allocated to module name.
func (r *Registry) RangeByName(name string) (Range, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.rangeByName[strings.TrimSpace(name)]
	if !ok {
		return Range{}, false
	}
	return r.ranges[idx], true
}

// Ranges returns the allocated ranges in allocation order.
func (r *Registry) Ranges() []Range {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Range, len(r.ranges))
	copy(out, r.ranges)
	return out
}
