package memclnt

import (
	"encoding/binary"

	"github.com/danmuck/apibus/internal/wire"
)

// fix32 converts the u32 at off when it lies inside data.
func fix32(data []byte, off int) {
	if off >= 0 && off <= len(data) {
		wire.FixNet32(data[off:])
	}
}

func fix16(data []byte, off int) {
	if off >= 0 && off <= len(data) {
		wire.FixNet16(data[off:])
	}
}

func endianHeader(data []byte) {
	fix32(data, 2)
	fix32(data, 6)
}

func endianControlPingReply(data []byte) {
	endianHeader(data)
	fix32(data, 10)
	fix32(data, 14)
}

func endianGetFirstMsgIDReply(data []byte) {
	endianHeader(data)
	fix16(data, 10)
}

// endianAPIVersionsReply reads the entry count while it is still in
// network order and never touches bytes past the message.
func endianAPIVersionsReply(data []byte) {
	endianHeader(data)
	if len(data) < apiVersionsReplyFixed {
		return
	}
	count := binary.BigEndian.Uint32(data[10:14])
	fix32(data, 10)
	for i := uint64(0); i < uint64(count); i++ {
		off := uint64(apiVersionsReplyFixed) + i*moduleVersionLen
		if off+12 > uint64(len(data)) {
			return
		}
		fix32(data, int(off))
		fix32(data, int(off)+4)
		fix32(data, int(off)+8)
	}
}
