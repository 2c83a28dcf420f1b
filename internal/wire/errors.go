package wire

import "errors"

var (
	ErrShortMessage    = errors.New("wire: message shorter than id header")
	ErrTruncated       = errors.New("wire: truncated data")
	ErrInsaneLength    = errors.New("wire: declared length exceeds message")
	ErrMessageTooLarge = errors.New("wire: message too large")
	ErrShortBuffer     = errors.New("wire: destination buffer too small")
)
