package memclnt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/apibus/internal/dispatch"
	"github.com/danmuck/apibus/internal/registry"
	"github.com/danmuck/apibus/internal/testutil/testlog"
	"github.com/danmuck/apibus/internal/trace"
	"github.com/danmuck/apibus/internal/transport"
	"github.com/danmuck/apibus/internal/wire"
)

type bus struct {
	reg     *registry.Registry
	traces  *trace.Set
	replies *transport.Queue
	d       *dispatch.Dispatcher
	client  uint32
}

func newBus(t *testing.T) *bus {
	t.Helper()
	reg := registry.New()
	traces := trace.NewSet()
	if _, err := traces.SetEnabled(trace.TX, true); err != nil {
		t.Fatalf("enable tx: %v", err)
	}
	replies, err := transport.NewQueue(8)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	d := dispatch.New(reg, traces, nil)
	router := transport.NewRouter(reg, traces)
	client, err := router.Attach(replies)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	svc := NewService(reg, router,
		WithProgram("apibusd", "1.2.3"),
		WithPID(4242),
		WithMissingClient(d.IncMissingClients),
	)
	if err := Register(reg, svc); err != nil {
		t.Fatalf("register: %v", err)
	}
	return &bus{reg: reg, traces: traces, replies: replies, d: d, client: client}
}

func (b *bus) next(t *testing.T) []byte {
	t.Helper()
	if b.replies.Len() == 0 {
		t.Fatalf("expected a reply")
	}
	msg, err := b.replies.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	return msg.Bytes()
}

func TestControlPingReply(t *testing.T) {
	testlog.Start(t)
	b := newBus(t)
	b.d.Handle(wire.NewBuffer(ControlPing{RequestHeader{ClientIndex: b.client, Context: 0xdeadbeef}}.Encode()))

	reply, err := DecodeControlPingReply(b.next(t), binary.BigEndian)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := ControlPingReply{ReplyHeader: ReplyHeader{Context: 0xdeadbeef}, ClientIndex: b.client, VpePID: 4242}
	if reply != want {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if got := b.traces.Ring(trace.TX).Len(); got != 1 {
		t.Fatalf("expected reply captured in tx trace, got %d", got)
	}
}

func TestGetFirstMsgID(t *testing.T) {
	testlog.Start(t)
	b := newBus(t)
	first, err := b.reg.AllocateRange("acl", 40)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	b.d.Handle(wire.NewBuffer(GetFirstMsgID{RequestHeader{ClientIndex: b.client, Context: 7}, "acl"}.Encode()))
	reply, err := DecodeGetFirstMsgIDReply(b.next(t), binary.BigEndian)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Retval != RetvalOK || reply.FirstMsgID != first || reply.Context != 7 {
		t.Fatalf("unexpected reply %+v (first=%d)", reply, first)
	}

	b.d.Handle(wire.NewBuffer(GetFirstMsgID{RequestHeader{ClientIndex: b.client, Context: 8}, "nat"}.Encode()))
	reply, _ = DecodeGetFirstMsgIDReply(b.next(t), binary.BigEndian)
	if reply.Retval != RetvalNoSuchModule || reply.FirstMsgID != registry.InvalidID {
		t.Fatalf("unknown module reply %+v", reply)
	}
}

func TestGetFirstMsgIDRejectsInsaneName(t *testing.T) {
	testlog.Start(t)
	b := newBus(t)
	raw := GetFirstMsgID{RequestHeader{ClientIndex: b.client, Context: 9}, "acl"}.Encode()
	binary.BigEndian.PutUint32(raw[headerLen:], 5000)

	if _, err := DecodeGetFirstMsgID(raw, binary.BigEndian); !errors.Is(err, wire.ErrInsaneLength) {
		t.Fatalf("expected ErrInsaneLength, got %v", err)
	}

	b.d.Handle(wire.NewBuffer(raw))
	reply, err := DecodeGetFirstMsgIDReply(b.next(t), binary.BigEndian)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Retval != RetvalInvalidRequest || reply.Context != 9 {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestShowVersionAndAPIVersions(t *testing.T) {
	testlog.Start(t)
	b := newBus(t)
	if err := b.reg.AddVersion("acl", 1, 4, 2); err != nil {
		t.Fatalf("add version: %v", err)
	}

	b.d.Handle(wire.NewBuffer(ShowVersion{RequestHeader{ClientIndex: b.client, Context: 1}}.Encode()))
	sv, err := DecodeShowVersionReply(b.next(t), binary.BigEndian)
	if err != nil {
		t.Fatalf("decode show_version_reply: %v", err)
	}
	if sv.Program != "apibusd" || sv.Version != "1.2.3" || sv.Context != 1 {
		t.Fatalf("unexpected show_version_reply %+v", sv)
	}

	b.d.Handle(wire.NewBuffer(APIVersions{RequestHeader{ClientIndex: b.client, Context: 2}}.Encode()))
	av, err := DecodeAPIVersionsReply(b.next(t), binary.BigEndian)
	if err != nil {
		t.Fatalf("decode api_versions_reply: %v", err)
	}
	want := []ModuleVersion{
		{Major: VersionMajor, Minor: VersionMinor, Patch: VersionPatch, Name: ModuleName},
		{Major: 1, Minor: 4, Patch: 2, Name: "acl"},
	}
	if len(av.Versions) != len(want) {
		t.Fatalf("unexpected versions %+v", av.Versions)
	}
	for i := range want {
		if av.Versions[i] != want[i] {
			t.Fatalf("version %d: got %+v want %+v", i, av.Versions[i], want[i])
		}
	}
}

func TestMissingClientCounted(t *testing.T) {
	testlog.Start(t)
	reg := registry.New()
	d := dispatch.New(reg, nil, nil)
	router := transport.NewRouter(reg, nil)
	closed, _ := transport.NewQueue(1)
	closed.Close()
	idx, err := router.Attach(closed)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	svc := NewService(reg, router, WithMissingClient(d.IncMissingClients))
	if err := Register(reg, svc); err != nil {
		t.Fatalf("register: %v", err)
	}
	d.Handle(wire.NewBuffer(ControlPing{RequestHeader{ClientIndex: idx}}.Encode()))
	d.Handle(wire.NewBuffer(ControlPing{RequestHeader{ClientIndex: idx + 1}}.Encode()))
	if d.MissingClients() != 2 {
		t.Fatalf("expected two missing clients, got %d", d.MissingClients())
	}
}

func TestRegisterIsRepeatable(t *testing.T) {
	testlog.Start(t)
	reg := registry.New()
	for i := 0; i < 2; i++ {
		if err := Register(reg, nil); err != nil {
			t.Fatalf("register #%d: %v", i, err)
		}
	}
	if n := len(reg.Versions()); n != 1 {
		t.Fatalf("expected one version record, got %d", n)
	}
	if id, ok := reg.LookupNameCRC(registry.NameCRC("control_ping", CRCControlPing)); !ok || id != IDControlPing {
		t.Fatalf("control_ping not bound: id=%d ok=%v", id, ok)
	}
	if _, ok := reg.Lookup(IDControlPing); ok {
		t.Fatalf("nil service must not install handlers")
	}
	if d, ok := reg.Entry(IDAPIVersionsReply); !ok || d.ToJSON == nil || !d.Traced {
		t.Fatalf("reply descriptor incomplete: %+v", d)
	}
	if got := Names(); len(got) != 8 || got[0] != "control_ping" {
		t.Fatalf("unexpected names %v", got)
	}
	if err := Register(nil, nil); !errors.Is(err, ErrNilRegistry) {
		t.Fatalf("expected ErrNilRegistry, got %v", err)
	}
}

func TestEndianStaysInsideMessage(t *testing.T) {
	testlog.Start(t)
	raw := APIVersionsReply{Versions: []ModuleVersion{{Major: 1, Name: "a"}}}.Encode()
	// claim far more entries than the message carries
	binary.BigEndian.PutUint32(raw[10:14], 1000)
	endianAPIVersionsReply(raw)
	if got := binary.NativeEndian.Uint32(raw[10:14]); got != 1000 {
		t.Fatalf("count not converted: %d", got)
	}
	if got := binary.NativeEndian.Uint32(raw[14:18]); got != 1 {
		t.Fatalf("major not converted: %d", got)
	}

	endianControlPingReply([]byte{0, 2, 1})
	endianAPIVersionsReply([]byte{0, 8})
}

func TestTraceJSONExport(t *testing.T) {
	testlog.Start(t)
	b := newBus(t)
	b.d.Handle(wire.NewBuffer(ControlPing{RequestHeader{ClientIndex: b.client, Context: 5}}.Encode()))
	b.d.Handle(wire.NewBuffer(ShowVersion{RequestHeader{ClientIndex: b.client, Context: 6}}.Encode()))

	var out bytes.Buffer
	if err := b.traces.SaveJSON(trace.TX, &out, b.reg); err != nil {
		t.Fatalf("save json: %v", err)
	}
	var items []map[string]any
	if err := json.Unmarshal(out.Bytes(), &items); err != nil {
		t.Fatalf("json: %v\n%s", err, out.String())
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0]["_msgname"] != "control_ping_reply" || items[0]["context"] != float64(5) || items[0]["vpe_pid"] != float64(4242) {
		t.Fatalf("unexpected first item %v", items[0])
	}
	if items[1]["_crc"] != "c919bde1" || items[1]["version"] != "1.2.3" {
		t.Fatalf("unexpected second item %v", items[1])
	}

	// each exported object converts back to the original wire bytes
	desc, _ := b.reg.Entry(IDShowVersionReply)
	raw, err := desc.FromJSON(items[1])
	if err != nil {
		t.Fatalf("from json: %v", err)
	}
	if !bytes.Equal(raw, b.traces.Ring(trace.TX).Snapshot()[1]) {
		t.Fatalf("json round trip mismatch: %x", raw)
	}
}

func TestFromJSONRejectsBadFields(t *testing.T) {
	testlog.Start(t)
	reg := registry.New()
	if err := Register(reg, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	desc, _ := reg.Entry(IDGetFirstMsgIDReply)
	for _, in := range []any{
		"not an object",
		map[string]any{"first_msg_id": float64(70000)},
		map[string]any{"context": -1.0},
		map[string]any{"retval": "zero"},
	} {
		if _, err := desc.FromJSON(in); !errors.Is(err, ErrBadField) {
			t.Fatalf("input %v: expected ErrBadField, got %v", in, err)
		}
	}
	desc, _ = reg.Entry(IDAPIVersionsReply)
	raw, err := desc.FromJSON(map[string]any{
		"retval":       float64(-3),
		"api_versions": []any{map[string]any{"name": "acl", "major": float64(2)}},
	})
	if err != nil {
		t.Fatalf("from json: %v", err)
	}
	got, err := DecodeAPIVersionsReply(raw, binary.BigEndian)
	if err != nil || got.Retval != -3 || len(got.Versions) != 1 || got.Versions[0].Name != "acl" || got.Versions[0].Major != 2 {
		t.Fatalf("unexpected decode %+v err=%v", got, err)
	}
}

func TestPrintRendersWireOrder(t *testing.T) {
	testlog.Start(t)
	reg := registry.New()
	if err := Register(reg, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	raw := ControlPingReply{ReplyHeader: ReplyHeader{Context: 77, Retval: -1}, ClientIndex: 2, VpePID: 99}.Encode()

	desc, _ := reg.Entry(IDControlPingReply)
	var out bytes.Buffer
	desc.Print(raw, &out)
	for _, want := range []string{"context: 77", "retval: -1", "vpe_pid: 99"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("print output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	desc.PrintJSON(raw, &out)
	var v map[string]any
	if err := json.Unmarshal(out.Bytes(), &v); err != nil || v["vpe_pid"] != float64(99) {
		t.Fatalf("print json: %v %s", err, out.String())
	}
	if binary.BigEndian.Uint32(raw[14:18]) != 99 {
		t.Fatalf("print json mutated its input")
	}

	out.Reset()
	desc.Print([]byte{0, 2}, &out)
	if !strings.Contains(out.String(), "control_ping_reply") {
		t.Fatalf("short message not reported: %q", out.String())
	}
}
