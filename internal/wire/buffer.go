package wire

import (
	"encoding/binary"
	"sync/atomic"
)

// IDLen is the size of the message id that leads every message.
const IDLen = 2

// Buffer is one wire message as delivered by a transport.
//
// DataLen is the transport's declared message length. It bounds every
// read of embedded variable-length data, so a body can never be decoded
// past what the sender said it wrote.
type Buffer struct {
	DataLen uint32
	Data    []byte

	released atomic.Bool
}

// NewBuffer wraps data without copying it.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{DataLen: uint32(len(data)), Data: data}
}

// NewMessage builds a buffer holding id in network order followed by body.
func NewMessage(id uint16, body []byte) *Buffer {
	data := make([]byte, IDLen+len(body))
	binary.BigEndian.PutUint16(data[:IDLen], id)
	copy(data[IDLen:], body)
	return NewBuffer(data)
}

// PeekID reads the message id of a raw wire message.
func PeekID(raw []byte) (uint16, error) {
	if len(raw) < IDLen {
		return 0, ErrShortMessage
	}
	return binary.BigEndian.Uint16(raw[:IDLen]), nil
}

// SetID rewrites the message id of a raw wire message in place.
func SetID(raw []byte, id uint16) error {
	if len(raw) < IDLen {
		return ErrShortMessage
	}
	binary.BigEndian.PutUint16(raw[:IDLen], id)
	return nil
}

// ID returns the host-order message id.
func (b *Buffer) ID() (uint16, error) {
	if b == nil {
		return 0, ErrShortMessage
	}
	return PeekID(b.Bytes())
}

// MaxLength is the largest sane length of anything embedded in the
// message. A nil buffer has no declared length and reports the maximum.
func (b *Buffer) MaxLength() uint32 {
	if b == nil {
		return ^uint32(0)
	}
	return b.DataLen
}

// Bytes returns the declared message bytes. A DataLen larger than the
// backing slice is clamped to the slice.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	if uint64(b.DataLen) > uint64(len(b.Data)) {
		return b.Data
	}
	return b.Data[:b.DataLen]
}

// Clone returns an independently owned copy of the declared bytes.
func (b *Buffer) Clone() []byte {
	src := b.Bytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out
}

// Release marks the buffer as returned to its allocator. It reports
// false when the buffer had already been released.
func (b *Buffer) Release() bool {
	if b == nil {
		return false
	}
	return b.released.CompareAndSwap(false, true)
}

// Released reports whether the buffer was handed back to its allocator.
func (b *Buffer) Released() bool {
	return b != nil && b.released.Load()
}

// Allocator takes ownership of buffers the dispatcher is done with.
type Allocator interface {
	Free(b *Buffer)
}

// HeapAllocator leaves reclamation to the garbage collector and only
// marks buffers released.
type HeapAllocator struct{}

func (HeapAllocator) Free(b *Buffer) {
	b.Release()
}
