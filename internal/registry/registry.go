package registry

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry stores descriptors by dense message id.
//
// Registration normally happens once per id at module load; the hot path
// only reads. The lock protects slice growth, not registration order:
// registering the same id from two goroutines is a caller bug.
type Registry struct {
	mu sync.RWMutex

	descs    []Descriptor
	idByName map[string]uint16

	firstAvailable uint16
	ranges         []Range
	rangeByName    map[string]int

	nameCRC map[string]uint16

	versions []Version
	layered  []LayeredHandler
}

// Option configures a new registry.
type Option func(*Registry)

// WithFirstAvailableID moves the range allocation base.
func WithFirstAvailableID(id uint16) Option {
	return func(r *Registry) {
		r.firstAvailable = id
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		idByName:       make(map[string]uint16),
		firstAvailable: DefaultFirstAvailableID,
		rangeByName:    make(map[string]int),
		nameCRC:        make(map[string]uint16),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds d at d.ID. Id 0 is refused without touching any state.
// Rebinding an id to a different handler is logged and the new
// registration wins.
func (r *Registry) Register(d Descriptor) error {
	if d.ID == 0 {
		if d.Name != "" {
			log.Warn().Str("name", d.Name).Msg("registry: trying to register message with a zero msg id")
		} else {
			log.Warn().Msg("registry: trying to register an unnamed message with a zero msg id")
		}
		log.Warn().Msg("registry: was the module's message id range allocated before registration?")
		return ErrReservedID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.validate(d.ID)
	prev := r.descs[d.ID]
	if prev.HasHandler() && !sameHandler(prev, d) {
		log.Warn().
			Uint16("msg_id", d.ID).
			Str("name", d.Name).
			Str("previous", prev.Name).
			Msg("registry: BUG: re-registering message handler, replacing previous handler")
	}
	if prev.Name != "" && prev.Name != d.Name {
		if id, ok := r.idByName[prev.Name]; ok && id == d.ID {
			delete(r.idByName, prev.Name)
		}
	}
	r.descs[d.ID] = d
	if d.Name != "" {
		r.idByName[d.Name] = d.ID
	}
	return nil
}

// Unregister clears the descriptor at id. The id space is not shrunk.
func (r *Registry) Unregister(id uint16) error {
	return r.Register(Descriptor{ID: id})
}

// SetCleanup binds a cleanup function without touching the rest of the
// descriptor.
func (r *Registry) SetCleanup(id uint16, fn CleanupFunc) error {
	if id == 0 {
		return ErrReservedID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validate(id)
	r.descs[id].ID = id
	r.descs[id].Cleanup = fn
	return nil
}

// Lookup returns the descriptor at id when it has a handler. Ids at or
// beyond the current bound report false.
func (r *Registry) Lookup(id uint16) (Descriptor, bool) {
	d, ok := r.Entry(id)
	if !ok || !d.HasHandler() {
		return Descriptor{}, false
	}
	return d, true
}

// Entry returns whatever is stored at id, handler or not.
func (r *Registry) Entry(id uint16) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.descs) {
		return Descriptor{}, false
	}
	return r.descs[id], true
}

// Name returns the registered name of id, or "".
func (r *Registry) Name(id uint16) string {
	d, _ := r.Entry(id)
	return d.Name
}

// IDByName resolves a registered message name.
func (r *Registry) IDByName(name string) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.idByName[name]
	return id, ok
}

// Len is the current bound of the id space.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descs)
}

// validate grows the descriptor slice so id is addressable. Callers hold mu.
func (r *Registry) validate(id uint16) {
	if int(id) < len(r.descs) {
		return
	}
	grown := make([]Descriptor, int(id)+1)
	copy(grown, r.descs)
	r.descs = grown
}
