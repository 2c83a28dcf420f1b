package registry

import "errors"

var (
	ErrReservedID     = errors.New("registry: message id 0 is reserved")
	ErrBadCount       = errors.New("registry: bad number of message ids")
	ErrDuplicateRange = errors.New("registry: duplicate message range")
	ErrRangeExhausted = errors.New("registry: message id space exhausted")
	ErrEmptyName      = errors.New("registry: empty name")
	ErrRedefined      = errors.New("registry: name+crc already bound")
	ErrNameTooLong    = errors.New("registry: name too long")
	ErrMalformedTable = errors.New("registry: malformed message table")
)
