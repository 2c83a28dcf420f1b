package memclnt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/danmuck/apibus/internal/registry"
)

// decoder reads one message type with its fixed fields in order.
type decoder func(data []byte, order binary.ByteOrder) (Message, error)

// builder constructs a message from decoded JSON fields.
type builder func(m map[string]any) (Message, error)

func printFunc(name string, decode decoder) registry.PrintFunc {
	return func(data []byte, w io.Writer) {
		msg, err := decode(data, binary.BigEndian)
		if err != nil {
			fmt.Fprintf(w, "  %s: %v\n", name, err)
			return
		}
		fields := msg.fields()
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, fields[k])
		}
	}
}

// asDecoder adapts a typed Decode function.
func asDecoder[T Message](fn func([]byte, binary.ByteOrder) (T, error)) decoder {
	return func(data []byte, order binary.ByteOrder) (Message, error) {
		msg, err := fn(data, order)
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
}

// printJSONFunc renders a wire-order message as one line of JSON.
func printJSONFunc(name string, crc uint32, decode decoder, endian registry.EndianFunc) registry.PrintFunc {
	toJSON := toJSONFunc(name, crc, decode)
	return func(data []byte, w io.Writer) {
		host := append([]byte(nil), data...)
		endian(host)
		v, err := toJSON(host)
		if err != nil {
			fmt.Fprintf(w, "{\"_msgname\":%q,\"_error\":%q}\n", name, err.Error())
			return
		}
		out, err := json.Marshal(v)
		if err != nil {
			fmt.Fprintf(w, "{\"_msgname\":%q,\"_error\":%q}\n", name, err.Error())
			return
		}
		fmt.Fprintf(w, "%s\n", out)
	}
}

// toJSONFunc expects data already converted to host order.
func toJSONFunc(name string, crc uint32, decode decoder) registry.ToJSONFunc {
	return func(data []byte) (any, error) {
		msg, err := decode(data, binary.NativeEndian)
		if err != nil {
			return nil, err
		}
		out := msg.fields()
		out["_msgname"] = name
		out["_crc"] = fmt.Sprintf("%08x", crc)
		return out, nil
	}
}

func fromJSONFunc(build builder) registry.FromJSONFunc {
	return func(v any) ([]byte, error) {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected object, got %T", ErrBadField, v)
		}
		msg, err := build(m)
		if err != nil {
			return nil, err
		}
		return msg.Encode(), nil
	}
}

func jsonUint(m map[string]any, key string, max uint64) (uint64, error) {
	raw, ok := m[key]
	if !ok {
		return 0, nil
	}
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrBadField, key, err)
		}
		f = n
	case int:
		f = float64(v)
	case uint32:
		f = float64(v)
	default:
		return 0, fmt.Errorf("%w: %s has type %T", ErrBadField, key, raw)
	}
	if f < 0 || f > float64(max) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s=%v out of range", ErrBadField, key, raw)
	}
	return uint64(f), nil
}

func jsonInt32(m map[string]any, key string) (int32, error) {
	raw, ok := m[key]
	if !ok {
		return 0, nil
	}
	f, ok := raw.(float64)
	if !ok {
		if i, isInt := raw.(int32); isInt {
			return i, nil
		}
		return 0, fmt.Errorf("%w: %s has type %T", ErrBadField, key, raw)
	}
	if f < math.MinInt32 || f > math.MaxInt32 || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s=%v out of range", ErrBadField, key, raw)
	}
	return int32(f), nil
}

func jsonString(m map[string]any, key string) (string, error) {
	raw, ok := m[key]
	if !ok {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s has type %T", ErrBadField, key, raw)
	}
	return s, nil
}

func requestHeaderFromJSON(m map[string]any) (RequestHeader, error) {
	ci, err := jsonUint(m, "client_index", math.MaxUint32)
	if err != nil {
		return RequestHeader{}, err
	}
	ctx, err := jsonUint(m, "context", math.MaxUint32)
	if err != nil {
		return RequestHeader{}, err
	}
	return RequestHeader{ClientIndex: uint32(ci), Context: uint32(ctx)}, nil
}

func replyHeaderFromJSON(m map[string]any) (ReplyHeader, error) {
	ctx, err := jsonUint(m, "context", math.MaxUint32)
	if err != nil {
		return ReplyHeader{}, err
	}
	rv, err := jsonInt32(m, "retval")
	if err != nil {
		return ReplyHeader{}, err
	}
	return ReplyHeader{Context: uint32(ctx), Retval: rv}, nil
}

func controlPingFromJSON(m map[string]any) (Message, error) {
	h, err := requestHeaderFromJSON(m)
	return ControlPing{h}, err
}

func showVersionFromJSON(m map[string]any) (Message, error) {
	h, err := requestHeaderFromJSON(m)
	return ShowVersion{h}, err
}

func apiVersionsFromJSON(m map[string]any) (Message, error) {
	h, err := requestHeaderFromJSON(m)
	return APIVersions{h}, err
}

func getFirstMsgIDFromJSON(m map[string]any) (Message, error) {
	h, err := requestHeaderFromJSON(m)
	if err != nil {
		return nil, err
	}
	name, err := jsonString(m, "name")
	return GetFirstMsgID{RequestHeader: h, Name: name}, err
}

func controlPingReplyFromJSON(m map[string]any) (Message, error) {
	h, err := replyHeaderFromJSON(m)
	if err != nil {
		return nil, err
	}
	ci, err := jsonUint(m, "client_index", math.MaxUint32)
	if err != nil {
		return nil, err
	}
	pid, err := jsonUint(m, "vpe_pid", math.MaxUint32)
	if err != nil {
		return nil, err
	}
	return ControlPingReply{ReplyHeader: h, ClientIndex: uint32(ci), VpePID: uint32(pid)}, nil
}

func getFirstMsgIDReplyFromJSON(m map[string]any) (Message, error) {
	h, err := replyHeaderFromJSON(m)
	if err != nil {
		return nil, err
	}
	first, err := jsonUint(m, "first_msg_id", math.MaxUint16)
	if err != nil {
		return nil, err
	}
	return GetFirstMsgIDReply{ReplyHeader: h, FirstMsgID: uint16(first)}, nil
}

func showVersionReplyFromJSON(m map[string]any) (Message, error) {
	h, err := replyHeaderFromJSON(m)
	if err != nil {
		return nil, err
	}
	program, err := jsonString(m, "program")
	if err != nil {
		return nil, err
	}
	version, err := jsonString(m, "version")
	if err != nil {
		return nil, err
	}
	return ShowVersionReply{ReplyHeader: h, Program: program, Version: version}, nil
}

func apiVersionsReplyFromJSON(m map[string]any) (Message, error) {
	h, err := replyHeaderFromJSON(m)
	if err != nil {
		return nil, err
	}
	out := APIVersionsReply{ReplyHeader: h}
	raw, ok := m["api_versions"]
	if !ok {
		return out, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: api_versions has type %T", ErrBadField, raw)
	}
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: api_versions[%d] has type %T", ErrBadField, i, item)
		}
		var v ModuleVersion
		var parts [3]uint64
		for j, key := range []string{"major", "minor", "patch"} {
			if parts[j], err = jsonUint(entry, key, math.MaxUint32); err != nil {
				return nil, err
			}
		}
		v.Major, v.Minor, v.Patch = uint32(parts[0]), uint32(parts[1]), uint32(parts[2])
		if v.Name, err = jsonString(entry, "name"); err != nil {
			return nil, err
		}
		out.Versions = append(out.Versions, v)
	}
	return out, nil
}
