package transport

import (
	"sync"
	"sync/atomic"

	"github.com/danmuck/apibus/internal/wire"
	"github.com/rs/zerolog/log"
)

// PoolStats counts allocator traffic.
type PoolStats struct {
	Allocs      uint64
	Frees       uint64
	DoubleFrees uint64
}

// Pool hands out message buffers and takes them back from the
// dispatcher. Freed backing arrays are recycled.
type Pool struct {
	bufs sync.Pool

	allocs      atomic.Uint64
	frees       atomic.Uint64
	doubleFrees atomic.Uint64
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Alloc returns a zeroed buffer of n bytes.
func (p *Pool) Alloc(n int) *wire.Buffer {
	p.allocs.Add(1)
	if v, ok := p.bufs.Get().(*[]byte); ok && cap(*v) >= n {
		data := (*v)[:n]
		clear(data)
		return wire.NewBuffer(data)
	}
	return wire.NewBuffer(make([]byte, n))
}

// AllocMessage copies raw into a pooled buffer.
func (p *Pool) AllocMessage(raw []byte) *wire.Buffer {
	b := p.Alloc(len(raw))
	copy(b.Data, raw)
	return b
}

// Free implements wire.Allocator. A second free of the same buffer is
// counted and logged, never recycled twice.
func (p *Pool) Free(b *wire.Buffer) {
	if b == nil {
		return
	}
	if !b.Release() {
		p.doubleFrees.Add(1)
		id, _ := b.ID()
		log.Warn().Uint16("msg_id", id).Msg("transport: double free of message buffer")
		return
	}
	p.frees.Add(1)
	data := b.Data[:0]
	b.Data = nil
	b.DataLen = 0
	p.bufs.Put(&data)
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Allocs:      p.allocs.Load(),
		Frees:       p.frees.Load(),
		DoubleFrees: p.doubleFrees.Load(),
	}
}
