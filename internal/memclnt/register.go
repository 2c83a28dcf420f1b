package memclnt

import (
	"errors"
	"fmt"

	"github.com/danmuck/apibus/internal/registry"
)

type definition struct {
	id         uint16
	name       string
	crc        uint32
	size       int
	request    bool
	mpSafe     bool
	autoEndian bool
	endian     registry.EndianFunc
	decode     decoder
	build      builder
}

var definitions = []definition{
	{
		id: IDControlPing, name: "control_ping", crc: CRCControlPing, size: headerLen,
		request: true, mpSafe: true, autoEndian: true,
		endian: endianHeader, decode: asDecoder(DecodeControlPing), build: controlPingFromJSON,
	},
	{
		id: IDControlPingReply, name: "control_ping_reply", crc: CRCControlPingReply, size: controlPingReplyLen,
		endian: endianControlPingReply, decode: asDecoder(DecodeControlPingReply), build: controlPingReplyFromJSON,
	},
	{
		id: IDGetFirstMsgID, name: "get_first_msg_id", crc: CRCGetFirstMsgID,
		request: true, mpSafe: true, autoEndian: true,
		endian: endianHeader, decode: asDecoder(DecodeGetFirstMsgID), build: getFirstMsgIDFromJSON,
	},
	{
		id: IDGetFirstMsgIDReply, name: "get_first_msg_id_reply", crc: CRCGetFirstMsgIDReply, size: getFirstMsgIDReplyLen,
		endian: endianGetFirstMsgIDReply, decode: asDecoder(DecodeGetFirstMsgIDReply), build: getFirstMsgIDReplyFromJSON,
	},
	{
		id: IDShowVersion, name: "show_version", crc: CRCShowVersion, size: headerLen,
		request: true, autoEndian: true,
		endian: endianHeader, decode: asDecoder(DecodeShowVersion), build: showVersionFromJSON,
	},
	{
		id: IDShowVersionReply, name: "show_version_reply", crc: CRCShowVersionReply,
		endian: endianHeader, decode: asDecoder(DecodeShowVersionReply), build: showVersionReplyFromJSON,
	},
	{
		id: IDAPIVersions, name: "api_versions", crc: CRCAPIVersions, size: headerLen,
		request: true,
		endian: endianHeader, decode: asDecoder(DecodeAPIVersions), build: apiVersionsFromJSON,
	},
	{
		id: IDAPIVersionsReply, name: "api_versions_reply", crc: CRCAPIVersionsReply,
		endian: endianAPIVersionsReply, decode: asDecoder(DecodeAPIVersionsReply), build: apiVersionsReplyFromJSON,
	},
}

// Names lists the memclnt message names in id order.
func Names() []string {
	out := make([]string, 0, len(definitions))
	for _, def := range definitions {
		out = append(out, def.name)
	}
	return out
}

// Register binds every memclnt message in reg. Requests get svc's
// handlers; replies are registered for tracing and printing only. A nil
// svc registers the message set without handlers, as a trace consumer
// would.
func Register(reg *registry.Registry, svc *Service) error {
	if reg == nil {
		return ErrNilRegistry
	}
	var handlers map[uint16]registry.Handler
	if svc != nil {
		handlers = svc.handlers()
	}
	for _, def := range definitions {
		d := registry.Descriptor{
			ID:         def.id,
			Name:       def.name,
			Handler:    handlers[def.id],
			Endian:     def.endian,
			Print:      printFunc(def.name, def.decode),
			PrintJSON:  printJSONFunc(def.name, def.crc, def.decode, def.endian),
			ToJSON:     toJSONFunc(def.name, def.crc, def.decode),
			FromJSON:   fromJSONFunc(def.build),
			Size:       def.size,
			Traced:     true,
			Replay:     def.request,
			MPSafe:     def.mpSafe,
			AutoEndian: def.autoEndian,
		}
		if err := reg.Register(d); err != nil {
			return fmt.Errorf("memclnt: register %s: %w", def.name, err)
		}
		key := registry.NameCRC(def.name, def.crc)
		if err := reg.BindNameCRC(key, def.id); err != nil && !errors.Is(err, registry.ErrRedefined) {
			return fmt.Errorf("memclnt: bind %s: %w", key, err)
		}
	}
	for _, v := range reg.Versions() {
		if v.Name == ModuleName {
			return nil
		}
	}
	return reg.AddVersion(ModuleName, VersionMajor, VersionMinor, VersionPatch)
}
