package memclnt

import "errors"

var (
	ErrShortMessage = errors.New("memclnt: message too short")
	ErrWrongMessage = errors.New("memclnt: unexpected message id")
	ErrBadField     = errors.New("memclnt: bad json field")
	ErrNilRegistry  = errors.New("memclnt: nil registry")
)
