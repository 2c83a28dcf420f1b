package metrics

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/apibus/internal/dispatch"
	"github.com/danmuck/apibus/internal/registry"
	"github.com/danmuck/apibus/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "apibus"

// Collector turns dispatch perf hooks into per-message prometheus
// series labeled by message name.
//
// Before/after pairs are matched per message id, last in first out.
// Concurrent mp-safe handlers of one id may therefore swap their start
// times; counts are exact, individual durations are approximate.
type Collector struct {
	reg *registry.Registry
	now func() time.Time

	messages *prometheus.CounterVec
	duration *prometheus.HistogramVec

	mu      sync.Mutex
	started map[uint16][]time.Time

	extra []prometheus.Collector
}

// NewCollector returns a collector that labels messages by their name
// in reg.
func NewCollector(reg *registry.Registry) *Collector {
	return &Collector{
		reg: reg,
		now: time.Now,
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "messages_total",
				Help:      "Messages handed to their handler.",
			},
			[]string{"msg"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Handler run time in seconds.",
				Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
			},
			[]string{"msg"},
		),
		started: make(map[uint16][]time.Time),
	}
}

// Hook returns the perf hook to install on a dispatcher.
func (c *Collector) Hook() dispatch.PerfHook {
	return c.Observe
}

// Observe records the start (after=false) or end of one handler run.
func (c *Collector) Observe(id uint16, after bool) {
	now := c.now()
	c.mu.Lock()
	if !after {
		c.started[id] = append(c.started[id], now)
		c.mu.Unlock()
		return
	}
	stack := c.started[id]
	if len(stack) == 0 {
		c.mu.Unlock()
		return
	}
	start := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(c.started, id)
	} else {
		c.started[id] = stack[:len(stack)-1]
	}
	c.mu.Unlock()

	label := c.label(id)
	c.messages.WithLabelValues(label).Inc()
	c.duration.WithLabelValues(label).Observe(now.Sub(start).Seconds())
}

func (c *Collector) label(id uint16) string {
	if c.reg != nil {
		if name := c.reg.Name(id); name != "" {
			return name
		}
	}
	return strconv.Itoa(int(id))
}

// WatchDispatcher exports the dispatcher's missing-client counter.
func (c *Collector) WatchDispatcher(d *dispatch.Dispatcher) {
	c.extra = append(c.extra, prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "missing_clients_total",
			Help:      "Replies dropped because the client was gone.",
		},
		func() float64 { return float64(d.MissingClients()) },
	))
}

// WatchPool exports buffer allocator traffic.
func (c *Collector) WatchPool(p *transport.Pool) {
	for _, m := range []struct {
		name string
		help string
		get  func(transport.PoolStats) uint64
	}{
		{"allocs_total", "Message buffers allocated.", func(s transport.PoolStats) uint64 { return s.Allocs }},
		{"frees_total", "Message buffers released.", func(s transport.PoolStats) uint64 { return s.Frees }},
		{"double_frees_total", "Message buffers released twice.", func(s transport.PoolStats) uint64 { return s.DoubleFrees }},
	} {
		get := m.get
		c.extra = append(c.extra, prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "buffers",
				Name:      m.name,
				Help:      m.help,
			},
			func() float64 { return float64(get(p.Stats())) },
		))
	}
}

// Register adds every series to r. Registering twice is not an error.
func (c *Collector) Register(r prometheus.Registerer) error {
	all := append([]prometheus.Collector{c.messages, c.duration}, c.extra...)
	for _, col := range all {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
