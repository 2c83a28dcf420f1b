package trace

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/danmuck/apibus/internal/registry"
	"github.com/danmuck/apibus/internal/wire"
	"github.com/rs/zerolog/log"
)

// NoToJSONNotice marks entries whose message type has no JSON converter.
const NoToJSONNotice = "no registered tojson fn"

// placeholder stands in for entries that could not be converted.
type placeholder struct {
	MsgID   uint16 `json:"_msg_id"`
	MsgName string `json:"_msgname,omitempty"`
	Notice  string `json:"_notice"`
}

// SaveJSON writes r as a JSON array. Each entry is copied, converted to
// host order with its message type's endian function and rendered with
// its JSON converter. Types without a converter render as a placeholder
// object; a failed write aborts the export.
func SaveJSON(w io.Writer, r *Ring, reg *registry.Registry) error {
	if r == nil || r.Cap() == 0 || r.Len() == 0 {
		return ErrNoData
	}
	entries := r.Snapshot()
	cw := &countingWriter{w: w}
	if err := cw.write("json open", []byte("[\n")); err != nil {
		return err
	}
	for i, msg := range entries {
		out, err := entryJSON(reg, msg)
		if err != nil {
			return err
		}
		if err := cw.write("json entry", out); err != nil {
			return err
		}
		if i < len(entries)-1 {
			if err := cw.write("json separator", []byte(",\n")); err != nil {
				return err
			}
		}
	}
	return cw.write("json close", []byte("\n]"))
}

// SaveJSON writes dir as a JSON array.
func (s *Set) SaveJSON(dir Direction, w io.Writer, reg *registry.Registry) error {
	if _, err := s.slot(dir); err != nil {
		return err
	}
	return SaveJSON(w, s.Ring(dir), reg)
}

func entryJSON(reg *registry.Registry, msg []byte) ([]byte, error) {
	id, err := wire.PeekID(msg)
	if err != nil {
		return marshal(placeholder{Notice: err.Error()})
	}
	d, _ := reg.Entry(id)
	if d.ToJSON == nil {
		log.Warn().Uint16("msg_id", id).Str("name", d.Name).Msg("trace: " + NoToJSONNotice)
		return marshal(placeholder{MsgID: id, MsgName: d.Name, Notice: NoToJSONNotice})
	}

	tmp := make([]byte, len(msg))
	copy(tmp, msg)
	if d.Endian != nil {
		d.Endian(tmp)
	}
	v, err := d.ToJSON(tmp)
	if err != nil {
		log.Warn().Err(err).Uint16("msg_id", id).Str("name", d.Name).Msg("trace: tojson failed")
		return marshal(placeholder{MsgID: id, MsgName: d.Name, Notice: err.Error()})
	}
	return marshal(v)
}

func marshal(v any) ([]byte, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("trace: render json: %w", err)
	}
	return out, nil
}
