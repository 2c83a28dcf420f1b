package trace

import "errors"

var (
	ErrBadDirection  = errors.New("trace: bad direction")
	ErrNotConfigured = errors.New("trace: not configured")
	ErrNoCapacity    = errors.New("trace: zero capacity")
	ErrNoData        = errors.New("trace: no data")
	ErrBadHeader     = errors.New("trace: bad file header")
	ErrShortWrite    = errors.New("trace: short write")
)
