package dispatch

import (
	"github.com/danmuck/apibus/internal/wire"
	"github.com/rs/zerolog/log"
)

// PrivilegedCall carries what an in-process caller adds to a dispatch.
type PrivilegedCall struct {
	// Ctx is handed to the descriptor's context handler untouched.
	Ctx any
	// Region, when set, is pushed around the handler and again around
	// the free.
	Region Region
}

// SetFuzzHook installs the hook run before every privileged handler;
// nil removes it.
func (d *Dispatcher) SetFuzzHook(h FuzzHook) {
	if h == nil {
		d.fuzz.Store(nil)
		return
	}
	d.fuzz.Store(&h)
}

// DispatchPrivileged traces, invokes and frees b on behalf of an
// in-process caller. A bounce descriptor keeps its buffer.
func (d *Dispatcher) DispatchPrivileged(b *wire.Buffer, pc PrivilegedCall) {
	id, err := b.ID()
	if err != nil {
		log.Warn().Err(err).Msg("dispatch: malformed privileged message")
		d.freeInRegion(b, pc.Region, false)
		return
	}
	desc, ok := d.reg.Lookup(id)
	d.event("api-msg", id, desc, ok)
	if !ok {
		log.Warn().Uint16("msg_id", id).Msgf("no handler for msg id %d", id)
		d.freeInRegion(b, pc.Region, false)
		return
	}

	d.capture(id, b)
	d.printMessage(desc, b)
	d.invoke(desc, b, call{ctx: pc.Ctx, region: pc.Region, privileged: true})
	d.event("api-msg-done", id, desc, ok)
	d.freeInRegion(b, pc.Region, desc.Bounce)
}

func (d *Dispatcher) freeInRegion(b *wire.Buffer, region Region, bounce bool) {
	if bounce || b == nil {
		return
	}
	if region != nil {
		if restore := region.Push(); restore != nil {
			defer restore()
		}
	}
	d.alloc.Free(b)
}
