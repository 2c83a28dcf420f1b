package registry

import (
	"github.com/danmuck/apibus/internal/wire"
	"github.com/rs/zerolog/log"
)

// suspiciousLayeredID flags ids that were probably passed in network order.
const suspiciousLayeredID = 10000

// RegisterLayered binds a platform-dependent post-processing handler to
// a host-order message id.
func (r *Registry) RegisterLayered(id uint16, fn LayeredHandler) error {
	if id == 0 {
		return ErrReservedID
	}
	if id > suspiciousLayeredID {
		log.Warn().
			Uint16("msg_id", id).
			Uint16("swapped", wire.NetToHost16(id)).
			Msg("registry: layered handler id looks byte-swapped")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(id) >= len(r.layered) {
		grown := make([]LayeredHandler, int(id)+1)
		copy(grown, r.layered)
		r.layered = grown
	}
	r.layered[id] = fn
	return nil
}

// CallLayered runs the layered handler for b, or returns rv unchanged
// when none is bound.
func (r *Registry) CallLayered(b *wire.Buffer, rv int) int {
	id, err := b.ID()
	if err != nil {
		return rv
	}
	r.mu.RLock()
	var fn LayeredHandler
	if int(id) < len(r.layered) {
		fn = r.layered[id]
	}
	r.mu.RUnlock()
	if fn == nil {
		return rv
	}
	return fn(b, rv)
}
