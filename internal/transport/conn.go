package transport

import (
	"context"
	"io"
	"sync"

	"github.com/danmuck/apibus/internal/wire"
)

// Conn carries length-prefixed messages over a byte stream such as a
// unix socket. Reads and writes are serialized independently.
type Conn struct {
	rw     io.ReadWriter
	limits wire.Limits

	rmu sync.Mutex
	wmu sync.Mutex
}

// NewConn frames messages over rw. A zero limits uses the defaults.
func NewConn(rw io.ReadWriter, limits wire.Limits) *Conn {
	if limits.MaxMessageBytes == 0 {
		limits = wire.DefaultLimits()
	}
	return &Conn{rw: rw, limits: limits}
}

// Dequeue reads the next message. ctx is only checked before the read;
// an in-flight read is unblocked by closing the underlying stream.
func (c *Conn) Dequeue(ctx context.Context) (*wire.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.rmu.Lock()
	defer c.rmu.Unlock()
	msg, err := wire.ReadMsg(c.rw, c.limits)
	if err != nil {
		return nil, err
	}
	return wire.NewBuffer(msg), nil
}

func (c *Conn) Enqueue(ctx context.Context, b *wire.Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := wire.WriteMsg(c.rw, b.Bytes())
	return err
}
