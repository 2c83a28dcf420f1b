package wire

import (
	"encoding/binary"
	"fmt"
)

// StringHeaderLen is the size of the network-order length in front of
// every embedded API string.
const StringHeaderLen = 4

// PutString writes s as an API string (length, then bytes, no
// terminator) at the start of dst and returns the bytes written.
func PutString(dst []byte, s string) (int, error) {
	total := StringHeaderLen + len(s)
	if len(dst) < total {
		return 0, ErrShortBuffer
	}
	binary.BigEndian.PutUint32(dst[:StringHeaderLen], uint32(len(s)))
	copy(dst[StringHeaderLen:], s)
	return total, nil
}

// AppendString appends s as an API string.
func AppendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// StringSize is the encoded size of s.
func StringSize(s string) int {
	return StringHeaderLen + len(s)
}

// StringAt decodes the API string at off within data. The declared
// length is checked against maxLen (the enclosing message's declared
// length) and against data itself before anything is copied. It returns
// the copied bytes and the offset just past the string.
func StringAt(data []byte, off int, maxLen uint32) ([]byte, int, error) {
	if off < 0 || off > len(data) || len(data)-off < StringHeaderLen {
		return nil, off, ErrTruncated
	}
	n := binary.BigEndian.Uint32(data[off : off+StringHeaderLen])
	if n > maxLen {
		return nil, off, fmt.Errorf("%w: %d > %d", ErrInsaneLength, n, maxLen)
	}
	start := off + StringHeaderLen
	if uint64(n) > uint64(len(data)-start) {
		return nil, off, fmt.Errorf("%w: %d past end of message", ErrInsaneLength, n)
	}
	end := start + int(n)
	out := make([]byte, n)
	copy(out, data[start:end])
	return out, end, nil
}

// String decodes the API string at off in b.
func String(b *Buffer, off int) ([]byte, error) {
	s, _, err := StringAt(b.Bytes(), off, b.MaxLength())
	return s, err
}

// StringLen returns the declared length of the API string at off.
func StringLen(b *Buffer, off int) (uint32, error) {
	data := b.Bytes()
	if off < 0 || off > len(data) || len(data)-off < StringHeaderLen {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint32(data[off : off+StringHeaderLen]), nil
}

// FormatString renders the API string at off for diagnostics. Bad
// lengths render as a placeholder instead of failing.
func FormatString(b *Buffer, off int) string {
	s, err := String(b, off)
	if err != nil {
		n, lerr := StringLen(b, off)
		if lerr != nil {
			return "<truncated string>"
		}
		return fmt.Sprintf("insane string length %d", n)
	}
	return string(s)
}

// CString decodes the API string at off and returns it as a Go string.
// An empty API string decodes to "".
func CString(b *Buffer, off int) (string, error) {
	s, err := String(b, off)
	if err != nil {
		return "", err
	}
	return string(s), nil
}
