package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// InvalidIndex is returned by Index for unknown name+CRC keys.
const InvalidIndex uint32 = 0xffffffff

// NameCRC builds the index key for a message name and its definition CRC.
func NameCRC(name string, crc uint32) string {
	return fmt.Sprintf("%s_%08x", name, crc)
}

// BindNameCRC records key -> id. The index is append-only: an existing
// key is never rebound, so clients that already resolved it keep a
// stable answer.
func (r *Registry) BindNameCRC(key string, id uint16) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.nameCRC[key]; ok {
		log.Warn().
			Str("key", key).
			Uint16("bound", prev).
			Uint16("ignored", id).
			Msg("registry: attempt to redefine name+crc ignored")
		return fmt.Errorf("%w: %q", ErrRedefined, key)
	}
	r.nameCRC[key] = id
	return nil
}

// LookupNameCRC resolves a name+CRC key to its bound id.
func (r *Registry) LookupNameCRC(key string) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameCRC[key]
	return id, ok
}

// Index is LookupNameCRC with the InvalidIndex sentinel for misses.
func (r *Registry) Index(key string) uint32 {
	id, ok := r.LookupNameCRC(key)
	if !ok {
		return InvalidIndex
	}
	return uint32(id)
}

// TableEntry is one (id, name+CRC) pair of the message table.
type TableEntry struct {
	ID  uint16
	Key string
}

// NameCRCs returns the index ordered by id, then key.
func (r *Registry) NameCRCs() []TableEntry {
	r.mu.RLock()
	out := make([]TableEntry, 0, len(r.nameCRC))
	for key, id := range r.nameCRC {
		out = append(out, TableEntry{ID: id, Key: key})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Key < out[j].Key
	})
	return out
}
