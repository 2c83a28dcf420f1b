package metrics

import (
	"testing"
	"time"

	"github.com/danmuck/apibus/internal/dispatch"
	"github.com/danmuck/apibus/internal/registry"
	"github.com/danmuck/apibus/internal/testutil/testlog"
	"github.com/danmuck/apibus/internal/transport"
	"github.com/danmuck/apibus/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	testlog.Start(t)
	c := NewCollector(registry.New())
	c.WatchDispatcher(dispatch.New(nil, nil, nil))
	c.WatchPool(transport.NewPool())
	r := prometheus.NewRegistry()
	require.NoError(t, c.Register(r))
	require.NoError(t, c.Register(r))
}

func TestObservePairsBeforeAndAfter(t *testing.T) {
	testlog.Start(t)
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{ID: 1, Name: "control_ping", Handler: func(*wire.Buffer) {}}))
	c := NewCollector(reg)
	clock := time.Unix(1700000000, 0)
	c.now = func() time.Time { return clock }

	c.Observe(1, false)
	clock = clock.Add(3 * time.Millisecond)
	c.Observe(1, true)
	c.Observe(1, true) // unmatched after is ignored
	c.Observe(77, false)
	c.Observe(77, true)

	require.Equal(t, 1.0, testutil.ToFloat64(c.messages.WithLabelValues("control_ping")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.messages.WithLabelValues("77")))
	require.Equal(t, 2, testutil.CollectAndCount(c.duration))
	require.Empty(t, c.started)
}

func TestHookCountsDispatchedMessages(t *testing.T) {
	testlog.Start(t)
	reg := registry.New()
	require.NoError(t, reg.Register(registry.Descriptor{ID: 5, Name: "show_version", Handler: func(*wire.Buffer) {}}))
	c := NewCollector(reg)
	pool := transport.NewPool()
	d := dispatch.New(reg, nil, pool, dispatch.WithPerfHook(c.Hook()))
	c.WatchDispatcher(d)
	c.WatchPool(pool)
	r := prometheus.NewRegistry()
	require.NoError(t, c.Register(r))

	for i := 0; i < 3; i++ {
		d.Handle(pool.AllocMessage(wire.NewMessage(5, nil).Data))
	}
	d.Handle(pool.AllocMessage(wire.NewMessage(6, nil).Data))
	d.IncMissingClients()

	require.Equal(t, 3.0, testutil.ToFloat64(c.messages.WithLabelValues("show_version")))
	families, err := r.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() != nil {
				got[mf.GetName()] += m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, 4.0, got["apibus_buffers_allocs_total"])
	require.Equal(t, 4.0, got["apibus_buffers_frees_total"])
	require.Equal(t, 0.0, got["apibus_buffers_double_frees_total"])
	require.Equal(t, 1.0, got["apibus_dispatch_missing_clients_total"])
}
