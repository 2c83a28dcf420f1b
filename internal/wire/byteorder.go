package wire

import (
	"encoding/binary"
	"math/bits"
)

// Endian tags the byte order of the process that captured a trace.
type Endian uint8

const (
	LittleEndian Endian = 0
	BigEndian    Endian = 1
)

func (e Endian) String() string {
	switch e {
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	default:
		return "unknown"
	}
}

var hostBigEndian = binary.NativeEndian.Uint16([]byte{0x00, 0x01}) == 0x0001

// HostIsBigEndian reports whether the running process is big-endian.
func HostIsBigEndian() bool {
	return hostBigEndian
}

// HostEndian returns the byte order tag of the running process.
func HostEndian() Endian {
	if hostBigEndian {
		return BigEndian
	}
	return LittleEndian
}

func NetToHost16(v uint16) uint16 {
	if hostBigEndian {
		return v
	}
	return bits.ReverseBytes16(v)
}

func NetToHost32(v uint32) uint32 {
	if hostBigEndian {
		return v
	}
	return bits.ReverseBytes32(v)
}

func NetToHost64(v uint64) uint64 {
	if hostBigEndian {
		return v
	}
	return bits.ReverseBytes64(v)
}

func HostToNet16(v uint16) uint16 { return NetToHost16(v) }
func HostToNet32(v uint32) uint32 { return NetToHost32(v) }
func HostToNet64(v uint64) uint64 { return NetToHost64(v) }

// FixNet16 converts the network-order u16 at the start of b to host
// order in place. Short slices are left untouched and reported.
func FixNet16(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	binary.NativeEndian.PutUint16(b, binary.BigEndian.Uint16(b))
	return true
}

// FixNet32 converts the network-order u32 at the start of b to host order.
func FixNet32(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	binary.NativeEndian.PutUint32(b, binary.BigEndian.Uint32(b))
	return true
}

// FixNet64 converts the network-order u64 at the start of b to host order.
func FixNet64(b []byte) bool {
	if len(b) < 8 {
		return false
	}
	binary.NativeEndian.PutUint64(b, binary.BigEndian.Uint64(b))
	return true
}
