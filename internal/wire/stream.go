package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// LengthPrefixLen is the size of the network-order length in front of
// each message in a stream.
const LengthPrefixLen = 4

// Limits constrains stream decode memory use.
type Limits struct {
	MaxMessageBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes: 8 * 1024 * 1024,
	}
}

// WriteMsg writes one length-prefixed message and returns the bytes written.
func WriteMsg(w io.Writer, msg []byte) (int, error) {
	var prefix [LengthPrefixLen]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(msg)))
	n, err := writeFull(w, prefix[:])
	if err != nil {
		return n, err
	}
	m, err := writeFull(w, msg)
	return n + m, err
}

// ReadMsg reads one length-prefixed message. A clean EOF before the
// prefix is returned as io.EOF; anything shorter is ErrTruncated.
func ReadMsg(r io.Reader, limits Limits) ([]byte, error) {
	var prefix [LengthPrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > limits.MaxMessageBytes {
		return nil, ErrMessageTooLarge
	}
	msg := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, msg); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrTruncated
			}
			return nil, err
		}
	}
	return msg, nil
}

func writeFull(w io.Writer, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	n, err := w.Write(b)
	if err != nil {
		return n, err
	}
	if n != len(b) {
		return n, io.ErrShortWrite
	}
	return n, nil
}
