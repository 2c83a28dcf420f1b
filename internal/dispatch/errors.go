package dispatch

import "errors"

var (
	ErrNilTransport = errors.New("dispatch: nil transport")
	ErrNilTrace     = errors.New("dispatch: nil trace file")
)
