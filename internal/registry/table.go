package registry

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/multiformats/go-varint"
)

// SerializeTable encodes every name+CRC binding so a trace consumer with
// no compiled message definitions can still name message types.
//
// Layout: u32 network-order count, then per entry a varint id followed
// by the nul-terminated key.
func (r *Registry) SerializeTable() []byte {
	entries := r.NameCRCs()
	out := make([]byte, 4, 4+len(entries)*24)
	binary.BigEndian.PutUint32(out, uint32(len(entries)))
	for _, e := range entries {
		out = append(out, varint.ToUvarint(uint64(e.ID))...)
		out = append(out, e.Key...)
		out = append(out, 0)
	}
	return out
}

// ParseTable decodes a table produced by SerializeTable.
func ParseTable(b []byte) ([]TableEntry, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: short count", ErrMalformedTable)
	}
	count := binary.BigEndian.Uint32(b[:4])
	// Each entry needs at least a one-byte id and a terminator.
	if uint64(count)*2 > uint64(len(b)-4) {
		return nil, fmt.Errorf("%w: count %d exceeds table size", ErrMalformedTable, count)
	}
	out := make([]TableEntry, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		id, n, err := varint.FromUvarint(b[off:])
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d id: %v", ErrMalformedTable, i, err)
		}
		if id > uint64(InvalidID) {
			return nil, fmt.Errorf("%w: entry %d id %d out of range", ErrMalformedTable, i, id)
		}
		off += n
		end := bytes.IndexByte(b[off:], 0)
		if end < 0 {
			return nil, fmt.Errorf("%w: entry %d key not terminated", ErrMalformedTable, i)
		}
		out = append(out, TableEntry{ID: uint16(id), Key: string(b[off : off+end])})
		off += end + 1
	}
	if off != len(b) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTable, len(b)-off)
	}
	return out, nil
}

// Remap translates the ids of a foreign message table into this
// registry's ids by name+CRC. Keys unknown here are left out.
func (r *Registry) Remap(table []TableEntry) map[uint16]uint16 {
	out := make(map[uint16]uint16, len(table))
	for _, e := range table {
		if id, ok := r.LookupNameCRC(e.Key); ok {
			out[e.ID] = id
		}
	}
	return out
}
