package dispatch

import (
	"sync"

	"github.com/danmuck/apibus/internal/wire"
	"github.com/rs/zerolog/log"
)

// Barrier is the runtime's exclusive section. Sync blocks until the
// caller owns it; Release gives it back.
type Barrier interface {
	Sync(name string)
	Release()
}

// NopBarrier is used when every handler is mp-safe or the runtime is
// single threaded.
type NopBarrier struct{}

func (NopBarrier) Sync(string) {}
func (NopBarrier) Release()    {}

// MutexBarrier serializes non mp-safe handlers of one process.
type MutexBarrier struct {
	mu sync.Mutex
}

func (m *MutexBarrier) Sync(string) { m.mu.Lock() }
func (m *MutexBarrier) Release()    { m.mu.Unlock() }

// PerfHook fires right before (after=false) and right after (after=true)
// a handler runs.
type PerfHook func(id uint16, after bool)

// FuzzHook sees every privileged message right before its handler runs
// and may mutate it.
type FuzzHook func(id uint16, b *wire.Buffer)

// Region swaps in an alternate shared-memory region for the duration of
// a privileged call. Push returns the function restoring the previous
// region.
type Region interface {
	Push() (restore func())
}

// runPerfHook isolates instrumentation failures from dispatch.
func runPerfHook(h PerfHook, id uint16, after bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Uint16("msg_id", id).
				Bool("after", after).
				Interface("panic", r).
				Msg("dispatch: perf hook panicked")
		}
	}()
	h(id, after)
}
