package dispatch

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/danmuck/apibus/internal/registry"
	"github.com/danmuck/apibus/internal/trace"
	"github.com/danmuck/apibus/internal/wire"
	"github.com/rs/zerolog/log"
)

// Dispatcher runs messages through the handlers of one registry.
//
// A Dispatcher is safe for concurrent use as long as the shared trace
// rings are only appended to by one goroutine per direction.
type Dispatcher struct {
	reg    *registry.Registry
	traces *trace.Set
	alloc  wire.Allocator

	barrier Barrier

	printMu  sync.Mutex
	printOut io.Writer
	print    atomic.Bool
	eventLog atomic.Bool

	perf atomic.Pointer[[]PerfHook]
	fuzz atomic.Pointer[FuzzHook]

	missingClients atomic.Uint64
}

// Option configures a new dispatcher.
type Option func(*Dispatcher)

// WithBarrier sets the exclusive section used by non mp-safe handlers.
func WithBarrier(b Barrier) Option {
	return func(d *Dispatcher) {
		if b != nil {
			d.barrier = b
		}
	}
}

// WithPrintWriter redirects debug printing, stdout by default.
func WithPrintWriter(w io.Writer) Option {
	return func(d *Dispatcher) {
		if w != nil {
			d.printOut = w
		}
	}
}

// WithPerfHook installs an instrumentation hook.
func WithPerfHook(h PerfHook) Option {
	return func(d *Dispatcher) {
		d.AddPerfHook(h)
	}
}

// New builds a dispatcher. Nil traces and alloc fall back to an empty
// trace set and the heap allocator.
func New(reg *registry.Registry, traces *trace.Set, alloc wire.Allocator, opts ...Option) *Dispatcher {
	if reg == nil {
		reg = registry.New()
	}
	if traces == nil {
		traces = trace.NewSet()
	}
	if alloc == nil {
		alloc = wire.HeapAllocator{}
	}
	d := &Dispatcher{
		reg:      reg,
		traces:   traces,
		alloc:    alloc,
		barrier:  NopBarrier{},
		printOut: os.Stdout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry is the table messages are looked up in.
func (d *Dispatcher) Registry() *registry.Registry { return d.reg }

// Traces is the ring set inbound messages are captured into.
func (d *Dispatcher) Traces() *trace.Set { return d.traces }

// AddPerfHook appends h to the hooks fired around every handler.
func (d *Dispatcher) AddPerfHook(h PerfHook) {
	if h == nil {
		return
	}
	for {
		old := d.perf.Load()
		var next []PerfHook
		if old != nil {
			next = append(next, (*old)...)
		}
		next = append(next, h)
		if d.perf.CompareAndSwap(old, &next) {
			return
		}
	}
}

// SetPrint toggles debug printing and returns the previous state.
func (d *Dispatcher) SetPrint(on bool) bool {
	return d.print.Swap(on)
}

// SetEventLog toggles per-message debug events and returns the previous
// state.
func (d *Dispatcher) SetEventLog(on bool) bool {
	return d.eventLog.Swap(on)
}

// IncMissingClients counts a reply that had no client to go to.
func (d *Dispatcher) IncMissingClients() {
	d.missingClients.Add(1)
}

// MissingClients reports how many replies were dropped for lack of a
// client.
func (d *Dispatcher) MissingClients() uint64 {
	return d.missingClients.Load()
}

// Dispatch runs b through its handler according to p. Unknown and
// malformed messages are logged and released per p; they never stop the
// caller.
func (d *Dispatcher) Dispatch(b *wire.Buffer, p Policy) {
	id, err := b.ID()
	if err != nil {
		log.Warn().Err(err).Str("policy", p.String()).Msg("dispatch: malformed message")
		d.release(b, p.Free, false)
		return
	}
	desc, ok := d.reg.Lookup(id)
	d.event("api-msg", id, desc, ok)
	if !ok {
		log.Warn().Uint16("msg_id", id).Msgf("no handler for msg id %d", id)
		d.release(b, p.Free, false)
		return
	}

	if p.Trace {
		d.capture(id, b)
	}
	d.printMessage(desc, b)
	if p.Invoke {
		d.invoke(desc, b, call{})
	}
	d.event("api-msg-done", id, desc, ok)
	d.release(b, p.Free, desc.Bounce)
}

// Handle is normal inbound handling: trace, invoke, free.
func (d *Dispatcher) Handle(b *wire.Buffer) { d.Dispatch(b, PolicyHandle) }

// HandleNoFree traces and invokes; the caller keeps the buffer.
func (d *Dispatcher) HandleNoFree(b *wire.Buffer) { d.Dispatch(b, PolicyNoFree) }

// HandleNoTraceNoFree only invokes.
func (d *Dispatcher) HandleNoTraceNoFree(b *wire.Buffer) { d.Dispatch(b, PolicyNoTraceNoFree) }

// TraceOnly records b without running its handler.
func (d *Dispatcher) TraceOnly(b *wire.Buffer) { d.Dispatch(b, PolicyTraceOnly) }

// HandleSocket handles messages whose buffer belongs to a socket reader.
func (d *Dispatcher) HandleSocket(b *wire.Buffer) { d.Dispatch(b, PolicyNoFree) }

// Cleanup runs the cleanup function bound to b's id, then frees b.
func (d *Dispatcher) Cleanup(b *wire.Buffer) {
	id, err := b.ID()
	if err != nil {
		log.Warn().Err(err).Msg("dispatch: cleanup of malformed message")
		return
	}
	desc, ok := d.reg.Entry(id)
	if !ok {
		log.Warn().Uint16("msg_id", id).Msgf("dispatch: cleanup: msg id %d too large", id)
		return
	}
	if desc.Cleanup != nil {
		desc.Cleanup(b)
	}
	d.alloc.Free(b)
}

// Replay hands b straight to its handler: no trace, endian fix, barrier
// or free.
func (d *Dispatcher) Replay(b *wire.Buffer) {
	id, err := b.ID()
	if err != nil {
		log.Warn().Err(err).Msg("dispatch: replay of malformed message")
		return
	}
	desc, ok := d.reg.Lookup(id)
	if !ok {
		log.Warn().Uint16("msg_id", id).Msgf("no handler for msg id %d", id)
		return
	}
	callHandler(desc, b, nil, false)
}

// call carries the privileged extras through invoke.
type call struct {
	ctx        any
	region     Region
	privileged bool
}

func (d *Dispatcher) invoke(desc registry.Descriptor, b *wire.Buffer, c call) {
	if !desc.MPSafe {
		d.barrier.Sync(desc.Name)
		defer d.barrier.Release()
	}
	if c.region != nil {
		restore := c.region.Push()
		if restore != nil {
			defer restore()
		}
	}
	if c.privileged {
		if h := d.fuzz.Load(); h != nil && *h != nil {
			(*h)(desc.ID, b)
		}
	}
	if desc.AutoEndian && desc.Endian != nil {
		desc.Endian(b.Bytes())
	}

	hooks := d.perf.Load()
	if hooks != nil {
		for _, h := range *hooks {
			runPerfHook(h, desc.ID, false)
		}
	}
	callHandler(desc, b, c.ctx, c.privileged)
	if hooks != nil {
		for _, h := range *hooks {
			runPerfHook(h, desc.ID, true)
		}
	}
}

// callHandler prefers the context handler for privileged calls and the
// plain handler otherwise.
func callHandler(desc registry.Descriptor, b *wire.Buffer, ctx any, privileged bool) {
	switch {
	case privileged && desc.ContextHandler != nil:
		desc.ContextHandler(b, ctx)
	case desc.Handler != nil:
		desc.Handler(b)
	case desc.ContextHandler != nil:
		desc.ContextHandler(b, ctx)
	}
}

func (d *Dispatcher) capture(id uint16, b *wire.Buffer) {
	if err := d.traces.Capture(d.reg, trace.RX, b.Bytes()); err != nil {
		log.Warn().Err(err).Uint16("msg_id", id).Str("direction", trace.RX.String()).Msg("dispatch: trace capture failed")
	}
}

func (d *Dispatcher) printMessage(desc registry.Descriptor, b *wire.Buffer) {
	if !d.print.Load() {
		return
	}
	d.printMu.Lock()
	defer d.printMu.Unlock()
	fmt.Fprintf(d.printOut, "[%d]: %s\n", desc.ID, desc.Name)
	if desc.Print == nil {
		fmt.Fprintf(d.printOut, "  [no registered print fn for msg %d]\n", desc.ID)
		return
	}
	desc.Print(b.Bytes(), d.printOut)
}

func (d *Dispatcher) event(kind string, id uint16, desc registry.Descriptor, known bool) {
	if !d.eventLog.Load() {
		return
	}
	name := "BOGUS"
	if known && desc.Name != "" {
		name = desc.Name
	}
	ev := log.Debug().Str("event", kind).Uint16("msg_id", id).Str("name", name)
	if kind == "api-msg-done" {
		ev = ev.Bool("barrier", !desc.MPSafe)
	}
	ev.Msg("dispatch: event")
}

func (d *Dispatcher) release(b *wire.Buffer, free, bounce bool) {
	if !free || bounce || b == nil {
		return
	}
	d.alloc.Free(b)
}
