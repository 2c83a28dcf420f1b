package transport

import "errors"

var (
	ErrClosed   = errors.New("transport: closed")
	ErrNilSink  = errors.New("transport: nil sink")
	ErrNoClient = errors.New("transport: no such client")
	ErrBadDepth = errors.New("transport: queue depth must be positive")
)
