package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/danmuck/apibus/internal/memclnt"
	"github.com/danmuck/apibus/internal/transport"
	"github.com/danmuck/apibus/internal/wire"
	"github.com/rs/zerolog/log"
)

// listenUnix binds path, replacing a stale socket file left by a
// previous run.
func listenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("socket dir: %w", err)
	}
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("socket path %s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("socket listen %s: %w", path, err)
	}
	return ln, nil
}

func (s *Service) acceptClients(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveClient(ctx, nc)
		}()
	}
}

// serveClient attaches nc under a fresh client index, tells the client
// its index with an unsolicited control_ping_reply (context 0), then
// forwards every message it sends to the dispatch queue.
func (s *Service) serveClient(ctx context.Context, nc net.Conn) {
	defer nc.Close()
	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })
	defer stop()

	conn := transport.NewConn(nc, wire.DefaultLimits())
	idx, err := s.router.Attach(conn)
	if err != nil {
		log.Warn().Err(err).Msg("apibusd: attach client failed")
		return
	}
	defer s.router.Detach(idx)

	active := s.clients.Add(1)
	log.Info().Uint32("client_index", idx).Int64("active_clients", active).Msg("apibusd: client connected")
	defer func() {
		remaining := s.clients.Add(-1)
		log.Info().Uint32("client_index", idx).Int64("active_clients", remaining).Msg("apibusd: client disconnected")
	}()

	greeting := memclnt.ControlPingReply{
		ClientIndex: idx,
		VpePID:      uint32(os.Getpid()),
	}
	if err := conn.Enqueue(ctx, wire.NewBuffer(greeting.Encode())); err != nil {
		log.Warn().Err(err).Uint32("client_index", idx).Msg("apibusd: greeting failed")
		return
	}

	for {
		b, err := conn.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warn().Err(err).Uint32("client_index", idx).Msg("apibusd: client read failed")
			}
			return
		}
		if err := s.inbound.Enqueue(ctx, s.pool.AllocMessage(b.Bytes())); err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Uint32("client_index", idx).Msg("apibusd: inbound enqueue failed")
			}
			return
		}
	}
}
