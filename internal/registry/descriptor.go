package registry

import (
	"io"
	"reflect"

	"github.com/danmuck/apibus/internal/wire"
)

// Handler consumes one message.
type Handler func(b *wire.Buffer)

// ContextHandler consumes one message together with an opaque execution
// context supplied by a privileged caller.
type ContextHandler func(b *wire.Buffer, ctx any)

// CleanupFunc releases message-owned resources before the buffer is freed.
type CleanupFunc func(b *wire.Buffer)

// EndianFunc converts the multi-byte fields of a raw message to host
// order in place.
type EndianFunc func(data []byte)

// PrintFunc renders a raw message for debugging.
type PrintFunc func(data []byte, w io.Writer)

// ToJSONFunc converts a host-order message to a JSON-ready value.
type ToJSONFunc func(data []byte) (any, error)

// FromJSONFunc converts a decoded JSON value back into a wire message.
type FromJSONFunc func(v any) ([]byte, error)

// LayeredHandler post-processes a message result; rv is the result so far.
type LayeredHandler func(b *wire.Buffer, rv int) int

// Descriptor is everything the bus knows about one message id.
type Descriptor struct {
	ID             uint16
	Name           string
	Handler        Handler
	ContextHandler ContextHandler
	Cleanup        CleanupFunc
	Endian         EndianFunc
	Print          PrintFunc
	PrintJSON      PrintFunc
	ToJSON         ToJSONFunc
	FromJSON       FromJSONFunc

	// Size is the fixed serialized size, 0 for variable-length messages.
	Size int
	// Traced captures the message into trace buffers.
	Traced bool
	// Replay allows the message to be re-dispatched from a saved trace.
	Replay bool
	// MPSafe handlers run without the exclusive section.
	MPSafe bool
	// AutoEndian messages are converted to host order before invocation.
	AutoEndian bool
	// Bounce leaves the buffer with the handler instead of freeing it.
	Bounce bool
}

// HasHandler reports whether the descriptor can be invoked.
func (d Descriptor) HasHandler() bool {
	return d.Handler != nil || d.ContextHandler != nil
}

func sameHandler(a, b Descriptor) bool {
	return funcPointer(a.Handler) == funcPointer(b.Handler) &&
		funcPointer(a.ContextHandler) == funcPointer(b.ContextHandler)
}

func funcPointer(fn any) uintptr {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.IsNil() {
		return 0
	}
	return v.Pointer()
}
