package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/apibus/internal/wire"
)

// Queue is a bounded in-process message queue. Enqueue blocks while the
// queue is full; Dequeue drains what is left after Close and then
// reports io.EOF.
type Queue struct {
	ch   chan *wire.Buffer
	done chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewQueue returns an open queue holding up to depth buffers.
func NewQueue(depth int) (*Queue, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadDepth, depth)
	}
	return &Queue{
		ch:   make(chan *wire.Buffer, depth),
		done: make(chan struct{}),
	}, nil
}

func (q *Queue) Enqueue(ctx context.Context, b *wire.Buffer) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- b:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Dequeue(ctx context.Context) (*wire.Buffer, error) {
	select {
	case b, ok := <-q.ch:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting messages. Blocked producers return ErrClosed.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}

func (q *Queue) Len() int { return len(q.ch) }
func (q *Queue) Cap() int { return cap(q.ch) }
