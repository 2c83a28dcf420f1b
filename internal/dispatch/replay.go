package dispatch

import (
	"github.com/danmuck/apibus/internal/trace"
	"github.com/danmuck/apibus/internal/wire"
	"github.com/rs/zerolog/log"
)

// ReplayStats summarizes one trace replay.
type ReplayStats struct {
	Total    int
	Replayed int
	Skipped  int
}

// ReplayTrace re-dispatches the entries of a saved trace without tracing
// or freeing them. Ids are translated through the file's message table
// so traces from a build with a different id layout replay correctly;
// entries whose type is unknown here or not marked for replay are
// skipped.
func (d *Dispatcher) ReplayTrace(f *trace.File) (ReplayStats, error) {
	if f == nil {
		return ReplayStats{}, ErrNilTrace
	}
	var remap map[uint16]uint16
	if len(f.Table) > 0 {
		remap = d.reg.Remap(f.Table)
	}
	names := f.Names()

	stats := ReplayStats{Total: len(f.Entries)}
	for i, raw := range f.Entries {
		id, err := wire.PeekID(raw)
		if err != nil {
			log.Warn().Err(err).Int("entry", i).Msg("dispatch: replay skipped malformed entry")
			stats.Skipped++
			continue
		}
		local := id
		if remap != nil {
			mapped, ok := remap[id]
			if !ok {
				log.Warn().Uint16("msg_id", id).Str("key", names[id]).Msg("dispatch: replay skipped message unknown to this registry")
				stats.Skipped++
				continue
			}
			local = mapped
		}
		desc, ok := d.reg.Lookup(local)
		if !ok || !desc.Replay {
			log.Debug().Uint16("msg_id", local).Str("name", desc.Name).Msg("dispatch: replay skipped message")
			stats.Skipped++
			continue
		}

		msg := make([]byte, len(raw))
		copy(msg, raw)
		_ = wire.SetID(msg, local)
		d.HandleNoTraceNoFree(wire.NewBuffer(msg))
		stats.Replayed++
	}
	log.Info().
		Int("total", stats.Total).
		Int("replayed", stats.Replayed).
		Int("skipped", stats.Skipped).
		Msg("dispatch: trace replay complete")
	return stats, nil
}
