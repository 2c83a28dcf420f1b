package dispatch

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/danmuck/apibus/internal/registry"
	"github.com/danmuck/apibus/internal/testutil/testlog"
	"github.com/danmuck/apibus/internal/trace"
	"github.com/danmuck/apibus/internal/wire"
	"github.com/stretchr/testify/require"
)

// recorder collects the order in which dispatch steps happen.
type recorder struct {
	events []string
}

func (r *recorder) add(ev string) { r.events = append(r.events, ev) }

type spyBarrier struct{ rec *recorder }

func (s spyBarrier) Sync(name string) { s.rec.add("sync:" + name) }
func (s spyBarrier) Release()         { s.rec.add("release") }

type spyRegion struct{ rec *recorder }

func (s spyRegion) Push() func() {
	s.rec.add("push")
	return func() { s.rec.add("restore") }
}

type spyAlloc struct{ rec *recorder }

func (s spyAlloc) Free(b *wire.Buffer) {
	s.rec.add("free")
	b.Release()
}

func u32Msg(id uint16, v uint32) *wire.Buffer {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, v)
	return wire.NewMessage(id, body)
}

func rxTraces(t *testing.T) *trace.Set {
	t.Helper()
	s := trace.NewSet()
	require.NoError(t, s.Configure(trace.RX, 8))
	_, err := s.SetEnabled(trace.RX, true)
	require.NoError(t, err)
	return s
}

func TestAutoEndianSeesWireOrderAndTraceKeepsIt(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	reg := registry.New()
	var endianSaw, handlerSaw uint32
	require.NoError(t, reg.Register(registry.Descriptor{
		ID:         20,
		Name:       "sw_interface_set_flags",
		Traced:     true,
		AutoEndian: true,
		Endian: func(data []byte) {
			rec.add("endian")
			endianSaw = binary.BigEndian.Uint32(data[2:6])
			wire.FixNet32(data[2:6])
		},
		Handler: func(b *wire.Buffer) {
			rec.add("handler")
			handlerSaw = binary.NativeEndian.Uint32(b.Data[2:6])
		},
	}))
	traces := rxTraces(t)
	d := New(reg, traces, spyAlloc{rec}, WithBarrier(spyBarrier{rec}))

	d.Handle(u32Msg(20, 0x0a0b0c0d))

	require.Equal(t, uint32(0x0a0b0c0d), endianSaw)
	require.Equal(t, uint32(0x0a0b0c0d), handlerSaw)
	require.Equal(t, []string{"sync:sw_interface_set_flags", "endian", "handler", "release", "free"}, rec.events)

	captured := traces.Ring(trace.RX).Snapshot()
	require.Len(t, captured, 1)
	require.Equal(t, u32Msg(20, 0x0a0b0c0d).Data, captured[0])
}

func TestUnknownIDStillHonorsPolicy(t *testing.T) {
	testlog.Start(t)
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{ID: 5, Name: "known", Handler: func(*wire.Buffer) {}}))
	d := New(reg, nil, nil)

	for _, id := range []uint16{4, 6, 900, registry.InvalidID} {
		b := u32Msg(id, 1)
		require.NotPanics(t, func() { d.Handle(b) })
		require.True(t, b.Released(), "id %d must be freed under the free shape", id)

		kept := u32Msg(id, 1)
		require.NotPanics(t, func() { d.HandleNoFree(kept) })
		require.False(t, kept.Released())
	}

	short := wire.NewBuffer([]byte{1})
	require.NotPanics(t, func() { d.Handle(short) })
	require.True(t, short.Released())
}

func TestBounceSuppressesFree(t *testing.T) {
	testlog.Start(t)
	reg := registry.New()
	called := false
	require.NoError(t, reg.Register(registry.Descriptor{
		ID:      30,
		Name:    "bounced",
		Bounce:  true,
		MPSafe:  true,
		Handler: func(*wire.Buffer) { called = true },
	}))
	d := New(reg, nil, nil)
	b := u32Msg(30, 7)
	d.Handle(b)
	require.True(t, called)
	require.False(t, b.Released())

	p := u32Msg(30, 7)
	d.DispatchPrivileged(p, PrivilegedCall{})
	require.False(t, p.Released())
}

func TestCallShapes(t *testing.T) {
	testlog.Start(t)
	reg := registry.New()
	calls := 0
	require.NoError(t, reg.Register(registry.Descriptor{
		ID:      40,
		Name:    "shape",
		Traced:  true,
		MPSafe:  true,
		Handler: func(*wire.Buffer) { calls++ },
	}))

	cases := []struct {
		name     string
		run      func(d *Dispatcher, b *wire.Buffer)
		traced   int
		calls    int
		released bool
	}{
		{"handle", (*Dispatcher).Handle, 1, 1, true},
		{"no-free", (*Dispatcher).HandleNoFree, 1, 1, false},
		{"socket", (*Dispatcher).HandleSocket, 1, 1, false},
		{"no-trace-no-free", (*Dispatcher).HandleNoTraceNoFree, 0, 1, false},
		{"trace-only", (*Dispatcher).TraceOnly, 1, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls = 0
			traces := rxTraces(t)
			d := New(reg, traces, nil)
			b := u32Msg(40, 1)
			tc.run(d, b)
			require.Equal(t, tc.traced, traces.Ring(trace.RX).Len())
			require.Equal(t, tc.calls, calls)
			require.Equal(t, tc.released, b.Released())
		})
	}
}

func TestTraceSkippedWhenDisabledOrUntraced(t *testing.T) {
	testlog.Start(t)
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{ID: 41, Name: "quiet", MPSafe: true, Handler: func(*wire.Buffer) {}}))
	require.NoError(t, reg.Register(registry.Descriptor{ID: 42, Name: "loud", Traced: true, MPSafe: true, Handler: func(*wire.Buffer) {}}))

	traces := trace.NewSet()
	require.NoError(t, traces.Configure(trace.RX, 4))
	d := New(reg, traces, nil)
	d.Handle(u32Msg(42, 1))
	require.Equal(t, 0, traces.Ring(trace.RX).Len())

	_, err := traces.SetEnabled(trace.RX, true)
	require.NoError(t, err)
	d.Handle(u32Msg(41, 1))
	d.Handle(u32Msg(42, 1))
	require.Equal(t, 1, traces.Ring(trace.RX).Len())
}

func TestMPSafeSkipsBarrier(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{ID: 9, Name: "safe", MPSafe: true, Handler: func(*wire.Buffer) { rec.add("handler") }}))
	d := New(reg, nil, nil, WithBarrier(spyBarrier{rec}))
	d.Handle(u32Msg(9, 0))
	require.Equal(t, []string{"handler"}, rec.events)
}

func TestBarrierReleasedWhenHandlerPanics(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{ID: 9, Name: "boom", Handler: func(*wire.Buffer) { panic("boom") }}))
	d := New(reg, nil, nil, WithBarrier(spyBarrier{rec}))
	require.Panics(t, func() { d.Handle(u32Msg(9, 0)) })
	require.Equal(t, []string{"sync:boom", "release"}, rec.events)
}

func TestPerfHooksWrapHandlerAndSurvivePanics(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{ID: 12, Name: "timed", MPSafe: true, Handler: func(*wire.Buffer) { rec.add("handler") }}))
	d := New(reg, nil, nil, WithPerfHook(func(id uint16, after bool) {
		if after {
			rec.add("after")
			return
		}
		rec.add("before")
	}))
	d.AddPerfHook(func(uint16, bool) { panic("hook") })

	b := u32Msg(12, 0)
	require.NotPanics(t, func() { d.Handle(b) })
	require.Equal(t, []string{"before", "handler", "after"}, rec.events)
	require.True(t, b.Released())
}

func TestPrintMode(t *testing.T) {
	testlog.Start(t)
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{
		ID:      50,
		Name:    "with_print",
		MPSafe:  true,
		Handler: func(*wire.Buffer) {},
		Print: func(data []byte, w io.Writer) {
			_, _ = io.WriteString(w, "  body\n")
		},
	}))
	require.NoError(t, reg.Register(registry.Descriptor{ID: 51, Name: "no_print", MPSafe: true, Handler: func(*wire.Buffer) {}}))

	var out bytes.Buffer
	d := New(reg, nil, nil, WithPrintWriter(&out))
	d.Handle(u32Msg(50, 0))
	require.Empty(t, out.String())

	require.False(t, d.SetPrint(true))
	d.Handle(u32Msg(50, 0))
	d.Handle(u32Msg(51, 0))
	require.Equal(t, "[50]: with_print\n  body\n[51]: no_print\n  [no registered print fn for msg 51]\n", out.String())
	require.True(t, d.SetPrint(false))
}

func TestPrivilegedOrderAndContext(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	reg := registry.New()
	var gotCtx any
	require.NoError(t, reg.Register(registry.Descriptor{
		ID:         60,
		Name:       "privileged",
		AutoEndian: true,
		Endian:     func([]byte) { rec.add("endian") },
		ContextHandler: func(b *wire.Buffer, ctx any) {
			rec.add("handler")
			gotCtx = ctx
		},
	}))
	d := New(reg, nil, spyAlloc{rec}, WithBarrier(spyBarrier{rec}), WithPerfHook(func(_ uint16, after bool) {
		if after {
			rec.add("perf-after")
		} else {
			rec.add("perf-before")
		}
	}))
	d.SetFuzzHook(func(id uint16, b *wire.Buffer) { rec.add("fuzz") })

	d.DispatchPrivileged(u32Msg(60, 0), PrivilegedCall{Ctx: "node-ctx", Region: spyRegion{rec}})

	require.Equal(t, "node-ctx", gotCtx)
	require.Equal(t, []string{
		"sync:privileged", "push", "fuzz", "endian", "perf-before", "handler", "perf-after",
		"restore", "release", "push", "free", "restore",
	}, rec.events)

	rec.events = nil
	d.SetFuzzHook(nil)
	d.Handle(u32Msg(60, 0))
	require.Nil(t, gotCtx)
	require.NotContains(t, rec.events, "fuzz")
	require.NotContains(t, rec.events, "push")
}

func TestCleanup(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	reg := registry.New()
	require.NoError(t, reg.SetCleanup(70, func(*wire.Buffer) { rec.add("cleanup") }))
	d := New(reg, nil, spyAlloc{rec})

	d.Cleanup(u32Msg(70, 0))
	require.Equal(t, []string{"cleanup", "free"}, rec.events)

	rec.events = nil
	far := u32Msg(700, 0)
	d.Cleanup(far)
	require.Empty(t, rec.events)
	require.False(t, far.Released())
}

func TestReplayBypassesBarrierAndFree(t *testing.T) {
	testlog.Start(t)
	rec := &recorder{}
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{ID: 8, Name: "r", Handler: func(*wire.Buffer) { rec.add("handler") }}))
	d := New(reg, nil, spyAlloc{rec}, WithBarrier(spyBarrier{rec}))
	b := u32Msg(8, 0)
	d.Replay(b)
	require.Equal(t, []string{"handler"}, rec.events)
	require.False(t, b.Released())
}

func TestMissingClients(t *testing.T) {
	testlog.Start(t)
	d := New(nil, nil, nil)
	d.IncMissingClients()
	d.IncMissingClients()
	require.Equal(t, uint64(2), d.MissingClients())
	require.False(t, d.SetEventLog(true))
	d.Handle(u32Msg(3, 0))
	require.True(t, d.SetEventLog(false))
}

type sliceTransport struct {
	msgs []*wire.Buffer
	err  error
}

func (s *sliceTransport) Dequeue(ctx context.Context) (*wire.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.msgs) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	b := s.msgs[0]
	s.msgs = s.msgs[1:]
	return b, nil
}

func TestServeDrainsUntilClosed(t *testing.T) {
	testlog.Start(t)
	reg := registry.New()
	seen := []uint32{}
	require.NoError(t, reg.Register(registry.Descriptor{ID: 11, Name: "q", MPSafe: true, Handler: func(b *wire.Buffer) {
		seen = append(seen, binary.BigEndian.Uint32(b.Data[2:6]))
	}}))
	d := New(reg, nil, nil)
	msgs := []*wire.Buffer{u32Msg(11, 1), u32Msg(999, 2), wire.NewBuffer([]byte{0}), u32Msg(11, 3)}
	require.NoError(t, d.Serve(context.Background(), &sliceTransport{msgs: append([]*wire.Buffer(nil), msgs...)}))
	require.Equal(t, []uint32{1, 3}, seen)
	for _, b := range msgs {
		require.True(t, b.Released())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.Serve(ctx, &sliceTransport{}), context.Canceled)

	broken := errors.New("queue broken")
	require.ErrorIs(t, d.Serve(context.Background(), &sliceTransport{err: broken}), broken)
	require.ErrorIs(t, d.Serve(context.Background(), nil), ErrNilTransport)
}

func TestReplayTraceRemapsIDs(t *testing.T) {
	testlog.Start(t)
	// capturing side
	src := registry.New()
	require.NoError(t, src.Register(registry.Descriptor{ID: 20, Name: "add_route", Traced: true, Replay: true, MPSafe: true, Handler: func(*wire.Buffer) {}}))
	require.NoError(t, src.Register(registry.Descriptor{ID: 21, Name: "show_route", Traced: true, MPSafe: true, Handler: func(*wire.Buffer) {}}))
	require.NoError(t, src.BindNameCRC(registry.NameCRC("add_route", 0x11), 20))
	require.NoError(t, src.BindNameCRC(registry.NameCRC("show_route", 0x22), 21))
	require.NoError(t, src.BindNameCRC(registry.NameCRC("gone", 0x33), 22))

	traces := rxTraces(t)
	srcD := New(src, traces, nil)
	srcD.TraceOnly(u32Msg(20, 100))
	srcD.TraceOnly(u32Msg(21, 200))
	require.NoError(t, traces.Append(trace.RX, u32Msg(22, 300).Data))

	var file bytes.Buffer
	_, err := traces.Save(trace.RX, &file, src)
	require.NoError(t, err)
	f, err := trace.Load(&file, wire.DefaultLimits())
	require.NoError(t, err)

	// replaying side with a different id layout
	dst := registry.New()
	var replayed []uint32
	require.NoError(t, dst.Register(registry.Descriptor{ID: 35, Name: "add_route", Replay: true, Traced: true, MPSafe: true, Handler: func(b *wire.Buffer) {
		id, _ := b.ID()
		require.Equal(t, uint16(35), id)
		replayed = append(replayed, binary.BigEndian.Uint32(b.Data[2:6]))
	}}))
	require.NoError(t, dst.Register(registry.Descriptor{ID: 36, Name: "show_route", MPSafe: true, Handler: func(*wire.Buffer) {
		t.Fatalf("show_route is not replayable")
	}}))
	require.NoError(t, dst.BindNameCRC(registry.NameCRC("add_route", 0x11), 35))
	require.NoError(t, dst.BindNameCRC(registry.NameCRC("show_route", 0x22), 36))

	dstTraces := rxTraces(t)
	stats, err := New(dst, dstTraces, nil).ReplayTrace(f)
	require.NoError(t, err)
	require.Equal(t, ReplayStats{Total: 3, Replayed: 1, Skipped: 2}, stats)
	require.Equal(t, []uint32{100}, replayed)
	require.Equal(t, 0, dstTraces.Ring(trace.RX).Len())

	_, err = New(dst, nil, nil).ReplayTrace(nil)
	require.ErrorIs(t, err, ErrNilTrace)
}

func TestPolicyString(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, "handle", PolicyHandle.String())
	require.Equal(t, "trace-only", PolicyTraceOnly.String())
	require.Equal(t, "invoke+free", Policy{Invoke: true, Free: true}.String())
	require.True(t, strings.HasPrefix(Policy{}.String(), "none"))
}
