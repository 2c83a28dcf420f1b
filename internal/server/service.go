package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/apibus/internal/config"
	"github.com/danmuck/apibus/internal/dispatch"
	"github.com/danmuck/apibus/internal/memclnt"
	"github.com/danmuck/apibus/internal/metrics"
	"github.com/danmuck/apibus/internal/registry"
	"github.com/danmuck/apibus/internal/trace"
	"github.com/danmuck/apibus/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

const defaultHeartbeat = 30 * time.Second

var ErrAlreadyServing = errors.New("server: already serving")

// Service owns one message bus and its listeners.
type Service struct {
	cfg     config.Config
	version string

	reg     *registry.Registry
	traces  *trace.Set
	pool    *transport.Pool
	inbound *transport.Queue
	router  *transport.Router
	disp    *dispatch.Dispatcher
	prom    *prometheus.Registry

	heartbeat time.Duration
	serving   atomic.Bool
	ready     chan struct{}
	clients   atomic.Int64
	wg        sync.WaitGroup

	mu          sync.Mutex
	socketAddr  net.Addr
	metricsAddr net.Addr
}

type Option func(*Service)

// WithHeartbeat sets how often the status line is logged.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// NewService validates cfg and wires the bus. Nothing listens until
// Serve.
func NewService(cfg config.Config, version string, opts ...Option) (*Service, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:       cfg,
		version:   version,
		heartbeat: defaultHeartbeat,
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.reg = registry.New(registry.WithFirstAvailableID(cfg.FirstMsgID))
	s.traces = trace.NewSet()
	if err := s.configureTraces(); err != nil {
		return nil, err
	}

	inbound, err := transport.NewQueue(cfg.QueueDepth)
	if err != nil {
		return nil, err
	}
	s.inbound = inbound
	s.pool = transport.NewPool()
	s.router = transport.NewRouter(s.reg, s.traces)

	collector := metrics.NewCollector(s.reg)
	s.disp = dispatch.New(s.reg, s.traces, s.pool,
		dispatch.WithBarrier(&dispatch.MutexBarrier{}),
		dispatch.WithPerfHook(collector.Hook()),
	)
	s.disp.SetPrint(cfg.PrintMessages)
	s.disp.SetEventLog(cfg.EventLog)

	svc := memclnt.NewService(s.reg, s.router,
		memclnt.WithProgram("apibusd", version),
		memclnt.WithMissingClient(s.disp.IncMissingClients),
	)
	if err := memclnt.Register(s.reg, svc); err != nil {
		return nil, fmt.Errorf("register memclnt: %w", err)
	}

	collector.WatchDispatcher(s.disp)
	collector.WatchPool(s.pool)
	s.prom = prometheus.NewRegistry()
	s.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := collector.Register(s.prom); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	trace.EnablePostMortem(cfg.PostMortem)
	return s, nil
}

func (s *Service) configureTraces() error {
	for _, d := range []struct {
		dir   trace.Direction
		items int
	}{
		{trace.RX, s.cfg.RxTraceItems},
		{trace.TX, s.cfg.TxTraceItems},
	} {
		if err := s.traces.Configure(d.dir, d.items); err != nil {
			return err
		}
		if !s.cfg.TraceEnabled || d.items == 0 {
			continue
		}
		if _, err := s.traces.SetEnabled(d.dir, true); err != nil {
			return fmt.Errorf("enable %s trace: %w", d.dir, err)
		}
	}
	return nil
}

func (s *Service) Registry() *registry.Registry     { return s.reg }
func (s *Service) Traces() *trace.Set               { return s.traces }
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.disp }
func (s *Service) Clients() int64                   { return s.clients.Load() }

// Ready is closed once every configured listener is bound.
func (s *Service) Ready() <-chan struct{} { return s.ready }

// SocketAddr is the bound client socket, nil before Ready or when the
// socket is disabled.
func (s *Service) SocketAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socketAddr
}

func (s *Service) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsAddr
}

// Run serves until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve binds the listeners and runs the dispatch loop until ctx is
// done or a listener fails. On the way out the inbound queue is
// drained and the post-mortem trace, if enabled, is written.
func (s *Service) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sock net.Listener
	if s.cfg.SocketPath != "" {
		ln, err := listenUnix(s.cfg.SocketPath)
		if err != nil {
			return err
		}
		sock = ln
		defer os.Remove(s.cfg.SocketPath)
	}
	var metricsSrv *http.Server
	var metricsLn net.Listener
	if s.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			if sock != nil {
				_ = sock.Close()
			}
			return fmt.Errorf("metrics listen %s: %w", s.cfg.MetricsAddr, err)
		}
		metricsLn = ln
		metricsSrv = newMetricsServer(s.prom)
	}

	s.mu.Lock()
	if sock != nil {
		s.socketAddr = sock.Addr()
	}
	if metricsLn != nil {
		s.metricsAddr = metricsLn.Addr()
	}
	s.mu.Unlock()

	errs := make(chan error, 3)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := s.disp.Serve(context.Background(), s.inbound); err != nil {
			errs <- fmt.Errorf("dispatch: %w", err)
		}
	}()
	acceptDone := make(chan struct{})
	if sock != nil {
		go func() {
			defer close(acceptDone)
			errs <- s.acceptClients(ctx, sock)
		}()
	} else {
		close(acceptDone)
	}
	if metricsSrv != nil {
		go func() {
			if err := metricsSrv.Serve(metricsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("metrics: %w", err)
			}
		}()
	}

	log.Info().
		Str("socket", addrString(s.SocketAddr())).
		Str("metrics", addrString(s.MetricsAddr())).
		Str("version", s.version).
		Msg("apibusd ready")
	close(s.ready)

	runErr := s.loop(ctx, errs)

	cancel()
	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		done()
	}
	// No client goroutine is added once the accept loop has returned.
	<-acceptDone
	s.wg.Wait()
	s.inbound.Close()
	<-dispatchDone

	trace.DumpPostMortem(s.traces, s.reg)
	log.Info().Uint64("missing_clients", s.disp.MissingClients()).Msg("apibusd stopped")
	return runErr
}

func (s *Service) loop(ctx context.Context, errs <-chan error) error {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if err != nil {
				log.Error().Err(err).Msg("apibusd failed")
				return err
			}
		case <-ticker.C:
			stats := s.pool.Stats()
			log.Info().
				Int64("clients", s.clients.Load()).
				Int("queued", s.inbound.Len()).
				Uint64("missing_clients", s.disp.MissingClients()).
				Uint64("buffers_allocated", stats.Allocs).
				Uint64("buffers_freed", stats.Frees).
				Msg("apibusd heartbeat")
		}
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
