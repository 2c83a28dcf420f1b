package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/apibus/internal/registry"
	"github.com/danmuck/apibus/internal/trace"
	"github.com/danmuck/apibus/internal/wire"
	"github.com/rs/zerolog/log"
)

// Sink accepts outbound messages; Queue and Conn both qualify.
type Sink interface {
	Enqueue(ctx context.Context, b *wire.Buffer) error
}

// Router delivers replies to attached clients by client index and
// records every sent message in the tx trace ring.
type Router struct {
	reg    *registry.Registry
	traces *trace.Set

	mu      sync.RWMutex
	clients map[uint32]Sink
	next    uint32
}

// NewRouter returns a router with no clients attached. Delivered
// replies are TX-traced into traces; client indexes start at 1.
func NewRouter(reg *registry.Registry, traces *trace.Set) *Router {
	return &Router{
		reg:     reg,
		traces:  traces,
		clients: make(map[uint32]Sink),
		next:    1,
	}
}

// Attach registers sink and returns its client index. Indices are never
// reused within one router.
func (r *Router) Attach(sink Sink) (uint32, error) {
	if sink == nil {
		return 0, ErrNilSink
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.next
	r.next++
	r.clients[idx] = sink
	log.Debug().Uint32("client_index", idx).Msg("transport: client attached")
	return idx, nil
}

func (r *Router) Detach(idx uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[idx]; ok {
		delete(r.clients, idx)
		log.Debug().Uint32("client_index", idx).Msg("transport: client detached")
	}
}

func (r *Router) Clients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Send captures b for tracing and hands it to client idx. An unknown
// client is reported with ErrNoClient; trace failures are only logged.
func (r *Router) Send(ctx context.Context, idx uint32, b *wire.Buffer) error {
	r.mu.RLock()
	sink, ok := r.clients[idx]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoClient, idx)
	}
	if r.traces != nil && r.reg != nil {
		if err := r.traces.Capture(r.reg, trace.TX, b.Bytes()); err != nil {
			id, _ := b.ID()
			log.Warn().Err(err).Uint16("msg_id", id).Str("direction", trace.TX.String()).Msg("transport: trace capture failed")
		}
	}
	return sink.Enqueue(ctx, b)
}
