package dispatch

import (
	"context"
	"errors"
	"io"

	"github.com/danmuck/apibus/internal/wire"
	"github.com/rs/zerolog/log"
)

// Transport delivers inbound messages. Dequeue blocks until a message
// is available and returns io.EOF once the transport is closed and
// drained.
type Transport interface {
	Dequeue(ctx context.Context) (*wire.Buffer, error)
}

// Serve handles messages from t until ctx is done or t is closed. A
// closed transport is a clean stop.
func (d *Dispatcher) Serve(ctx context.Context, t Transport) error {
	if t == nil {
		return ErrNilTransport
	}
	log.Debug().Msg("dispatch: queue loop started")
	var handled uint64
	for {
		b, err := t.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug().Uint64("handled", handled).Msg("dispatch: transport closed")
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				log.Debug().Uint64("handled", handled).Msg("dispatch: queue loop stopped")
				return ctxErr
			}
			return err
		}
		d.Handle(b)
		handled++
	}
}
