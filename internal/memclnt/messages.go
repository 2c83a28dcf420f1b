package memclnt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/danmuck/apibus/internal/wire"
)

const (
	headerLen        = wire.IDLen + 8
	moduleNameLen    = 64
	moduleVersionLen = 12 + moduleNameLen

	controlPingReplyLen   = headerLen + 8
	getFirstMsgIDReplyLen = headerLen + 2
	apiVersionsReplyFixed = headerLen + 4
)

// Message is implemented by every memclnt message type.
type Message interface {
	ID() uint16
	Encode() []byte
	fields() map[string]any
}

// RequestHeader leads every request.
type RequestHeader struct {
	ClientIndex uint32
	Context     uint32
}

// ReplyHeader leads every reply.
type ReplyHeader struct {
	Context uint32
	Retval  int32
}

func (h RequestHeader) encode(id uint16, extra int) []byte {
	buf := make([]byte, headerLen, headerLen+extra)
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint32(buf[2:6], h.ClientIndex)
	binary.BigEndian.PutUint32(buf[6:10], h.Context)
	return buf
}

func (h RequestHeader) fields() map[string]any {
	return map[string]any{"client_index": h.ClientIndex, "context": h.Context}
}

func (h ReplyHeader) encode(id uint16, extra int) []byte {
	buf := make([]byte, headerLen, headerLen+extra)
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint32(buf[2:6], h.Context)
	binary.BigEndian.PutUint32(buf[6:10], uint32(h.Retval))
	return buf
}

func (h ReplyHeader) fields() map[string]any {
	return map[string]any{"context": h.Context, "retval": h.Retval}
}

func checkHeader(data []byte, id uint16, min int) error {
	if len(data) < min {
		return fmt.Errorf("%w: %d bytes, need %d", ErrShortMessage, len(data), min)
	}
	if got := binary.BigEndian.Uint16(data[0:2]); got != id {
		return fmt.Errorf("%w: %d, want %d", ErrWrongMessage, got, id)
	}
	return nil
}

func decodeRequestHeader(data []byte, order binary.ByteOrder) RequestHeader {
	return RequestHeader{
		ClientIndex: order.Uint32(data[2:6]),
		Context:     order.Uint32(data[6:10]),
	}
}

func decodeReplyHeader(data []byte, order binary.ByteOrder) ReplyHeader {
	return ReplyHeader{
		Context: order.Uint32(data[2:6]),
		Retval:  int32(order.Uint32(data[6:10])),
	}
}

// ControlPing checks that the bus is alive.
type ControlPing struct {
	RequestHeader
}

func (ControlPing) ID() uint16               { return IDControlPing }
func (m ControlPing) Encode() []byte         { return m.RequestHeader.encode(IDControlPing, 0) }
func (m ControlPing) fields() map[string]any { return m.RequestHeader.fields() }

// DecodeControlPing reads a control_ping whose fixed fields are in order.
func DecodeControlPing(data []byte, order binary.ByteOrder) (ControlPing, error) {
	if err := checkHeader(data, IDControlPing, headerLen); err != nil {
		return ControlPing{}, err
	}
	return ControlPing{decodeRequestHeader(data, order)}, nil
}

type ControlPingReply struct {
	ReplyHeader
	ClientIndex uint32
	VpePID      uint32
}

func (ControlPingReply) ID() uint16 { return IDControlPingReply }

func (m ControlPingReply) Encode() []byte {
	buf := m.ReplyHeader.encode(IDControlPingReply, 8)
	buf = binary.BigEndian.AppendUint32(buf, m.ClientIndex)
	return binary.BigEndian.AppendUint32(buf, m.VpePID)
}

func (m ControlPingReply) fields() map[string]any {
	out := m.ReplyHeader.fields()
	out["client_index"] = m.ClientIndex
	out["vpe_pid"] = m.VpePID
	return out
}

func DecodeControlPingReply(data []byte, order binary.ByteOrder) (ControlPingReply, error) {
	if err := checkHeader(data, IDControlPingReply, controlPingReplyLen); err != nil {
		return ControlPingReply{}, err
	}
	return ControlPingReply{
		ReplyHeader: decodeReplyHeader(data, order),
		ClientIndex: order.Uint32(data[10:14]),
		VpePID:      order.Uint32(data[14:18]),
	}, nil
}

// GetFirstMsgID asks for the first id of a module's range.
type GetFirstMsgID struct {
	RequestHeader
	Name string
}

func (GetFirstMsgID) ID() uint16 { return IDGetFirstMsgID }

func (m GetFirstMsgID) Encode() []byte {
	buf := m.RequestHeader.encode(IDGetFirstMsgID, wire.StringSize(m.Name))
	return wire.AppendString(buf, m.Name)
}

func (m GetFirstMsgID) fields() map[string]any {
	out := m.RequestHeader.fields()
	out["name"] = m.Name
	return out
}

// DecodeGetFirstMsgID bounds the embedded name by the message itself.
func DecodeGetFirstMsgID(data []byte, order binary.ByteOrder) (GetFirstMsgID, error) {
	if err := checkHeader(data, IDGetFirstMsgID, headerLen); err != nil {
		return GetFirstMsgID{}, err
	}
	name, _, err := wire.StringAt(data, headerLen, uint32(len(data)))
	if err != nil {
		return GetFirstMsgID{}, fmt.Errorf("memclnt: get_first_msg_id name: %w", err)
	}
	return GetFirstMsgID{RequestHeader: decodeRequestHeader(data, order), Name: string(name)}, nil
}

type GetFirstMsgIDReply struct {
	ReplyHeader
	FirstMsgID uint16
}

func (GetFirstMsgIDReply) ID() uint16 { return IDGetFirstMsgIDReply }

func (m GetFirstMsgIDReply) Encode() []byte {
	buf := m.ReplyHeader.encode(IDGetFirstMsgIDReply, 2)
	return binary.BigEndian.AppendUint16(buf, m.FirstMsgID)
}

func (m GetFirstMsgIDReply) fields() map[string]any {
	out := m.ReplyHeader.fields()
	out["first_msg_id"] = m.FirstMsgID
	return out
}

func DecodeGetFirstMsgIDReply(data []byte, order binary.ByteOrder) (GetFirstMsgIDReply, error) {
	if err := checkHeader(data, IDGetFirstMsgIDReply, getFirstMsgIDReplyLen); err != nil {
		return GetFirstMsgIDReply{}, err
	}
	return GetFirstMsgIDReply{
		ReplyHeader: decodeReplyHeader(data, order),
		FirstMsgID:  order.Uint16(data[10:12]),
	}, nil
}

type ShowVersion struct {
	RequestHeader
}

func (ShowVersion) ID() uint16               { return IDShowVersion }
func (m ShowVersion) Encode() []byte         { return m.RequestHeader.encode(IDShowVersion, 0) }
func (m ShowVersion) fields() map[string]any { return m.RequestHeader.fields() }

func DecodeShowVersion(data []byte, order binary.ByteOrder) (ShowVersion, error) {
	if err := checkHeader(data, IDShowVersion, headerLen); err != nil {
		return ShowVersion{}, err
	}
	return ShowVersion{decodeRequestHeader(data, order)}, nil
}

type ShowVersionReply struct {
	ReplyHeader
	Program string
	Version string
}

func (ShowVersionReply) ID() uint16 { return IDShowVersionReply }

func (m ShowVersionReply) Encode() []byte {
	buf := m.ReplyHeader.encode(IDShowVersionReply, wire.StringSize(m.Program)+wire.StringSize(m.Version))
	buf = wire.AppendString(buf, m.Program)
	return wire.AppendString(buf, m.Version)
}

func (m ShowVersionReply) fields() map[string]any {
	out := m.ReplyHeader.fields()
	out["program"] = m.Program
	out["version"] = m.Version
	return out
}

func DecodeShowVersionReply(data []byte, order binary.ByteOrder) (ShowVersionReply, error) {
	if err := checkHeader(data, IDShowVersionReply, headerLen); err != nil {
		return ShowVersionReply{}, err
	}
	maxLen := uint32(len(data))
	program, next, err := wire.StringAt(data, headerLen, maxLen)
	if err != nil {
		return ShowVersionReply{}, fmt.Errorf("memclnt: show_version_reply program: %w", err)
	}
	version, _, err := wire.StringAt(data, next, maxLen)
	if err != nil {
		return ShowVersionReply{}, fmt.Errorf("memclnt: show_version_reply version: %w", err)
	}
	return ShowVersionReply{
		ReplyHeader: decodeReplyHeader(data, order),
		Program:     string(program),
		Version:     string(version),
	}, nil
}

type APIVersions struct {
	RequestHeader
}

func (APIVersions) ID() uint16               { return IDAPIVersions }
func (m APIVersions) Encode() []byte         { return m.RequestHeader.encode(IDAPIVersions, 0) }
func (m APIVersions) fields() map[string]any { return m.RequestHeader.fields() }

func DecodeAPIVersions(data []byte, order binary.ByteOrder) (APIVersions, error) {
	if err := checkHeader(data, IDAPIVersions, headerLen); err != nil {
		return APIVersions{}, err
	}
	return APIVersions{decodeRequestHeader(data, order)}, nil
}

// ModuleVersion is one entry of an api_versions_reply. Names are carried
// in a fixed, nul padded field.
type ModuleVersion struct {
	Major uint32
	Minor uint32
	Patch uint32
	Name  string
}

type APIVersionsReply struct {
	ReplyHeader
	Versions []ModuleVersion
}

func (APIVersionsReply) ID() uint16 { return IDAPIVersionsReply }

func (m APIVersionsReply) Encode() []byte {
	buf := m.ReplyHeader.encode(IDAPIVersionsReply, 4+len(m.Versions)*moduleVersionLen)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Versions)))
	for _, v := range m.Versions {
		buf = binary.BigEndian.AppendUint32(buf, v.Major)
		buf = binary.BigEndian.AppendUint32(buf, v.Minor)
		buf = binary.BigEndian.AppendUint32(buf, v.Patch)
		var name [moduleNameLen]byte
		copy(name[:moduleNameLen-1], v.Name)
		buf = append(buf, name[:]...)
	}
	return buf
}

func (m APIVersionsReply) fields() map[string]any {
	out := m.ReplyHeader.fields()
	list := make([]map[string]any, 0, len(m.Versions))
	for _, v := range m.Versions {
		list = append(list, map[string]any{
			"major": v.Major,
			"minor": v.Minor,
			"patch": v.Patch,
			"name":  v.Name,
		})
	}
	out["count"] = uint32(len(m.Versions))
	out["api_versions"] = list
	return out
}

func DecodeAPIVersionsReply(data []byte, order binary.ByteOrder) (APIVersionsReply, error) {
	if err := checkHeader(data, IDAPIVersionsReply, apiVersionsReplyFixed); err != nil {
		return APIVersionsReply{}, err
	}
	count := order.Uint32(data[10:14])
	need := uint64(apiVersionsReplyFixed) + uint64(count)*moduleVersionLen
	if need > uint64(len(data)) {
		return APIVersionsReply{}, fmt.Errorf("%w: %d versions need %d bytes, have %d", ErrShortMessage, count, need, len(data))
	}
	out := APIVersionsReply{
		ReplyHeader: decodeReplyHeader(data, order),
		Versions:    make([]ModuleVersion, 0, count),
	}
	for i := 0; i < int(count); i++ {
		off := apiVersionsReplyFixed + i*moduleVersionLen
		name := data[off+12 : off+moduleVersionLen]
		if n := bytes.IndexByte(name, 0); n >= 0 {
			name = name[:n]
		}
		out.Versions = append(out.Versions, ModuleVersion{
			Major: order.Uint32(data[off : off+4]),
			Minor: order.Uint32(data[off+4 : off+8]),
			Patch: order.Uint32(data[off+8 : off+12]),
			Name:  string(name),
		})
	}
	return out, nil
}
