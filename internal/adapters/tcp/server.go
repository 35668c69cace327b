package tcp

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/dkeye/lanrelay/internal/app/orch"
	"github.com/dkeye/lanrelay/internal/core"
	"github.com/dkeye/lanrelay/internal/obs"
	"github.com/dkeye/lanrelay/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Server accepts control connections and feeds their frames to the
// orchestrator.
type Server struct {
	Orch         *orch.Orchestrator
	QueueSize    int
	WriteTimeout time.Duration
	MaxFrameSize int

	mu      sync.Mutex
	conns   map[core.SessionID]*Conn
	closing bool
	wg      sync.WaitGroup
}

// Serve runs the accept loop until ctx is done or ln is closed; other accept
// errors are retried with backoff. On return every accepted connection has
// been closed and its loops have finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.conns == nil {
		s.conns = make(map[core.SessionID]*Conn)
	}
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	log.Info().Str("module", "adapters.tcp").Str("addr", ln.Addr().String()).Msg("control listener started")
	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				break
			}
			// EMFILE and friends: keep the relay up and retry
			delay = acceptBackoff(delay)
			obs.ErrorsTotal.WithLabelValues("tcp_accept").Inc()
			log.Warn().Err(err).Str("module", "adapters.tcp").Dur("retry_in", delay).Msg("accept failed")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		delay = 0
		s.wg.Add(1)
		go s.handle(ctx, nc)
	}

	s.closeAll()
	s.wg.Wait()
	log.Info().Str("module", "adapters.tcp").Msg("control listener stopped")
	return nil
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

func acceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	return min(prev*2, maxAcceptDelay)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for _, c := range s.conns {
		c.Close()
	}
}

func (s *Server) track(sid core.SessionID, c *Conn) {
	s.mu.Lock()
	s.conns[sid] = c
	closing := s.closing
	s.mu.Unlock()
	obs.ControlConnections.Inc()
	if closing {
		c.Close()
	}
}

func (s *Server) untrack(sid core.SessionID) {
	s.mu.Lock()
	delete(s.conns, sid)
	s.mu.Unlock()
	obs.ControlConnections.Dec()
}

func (s *Server) handle(ctx context.Context, nc net.Conn) {
	defer s.wg.Done()

	sid := core.SessionID(uuid.NewString())
	logger := log.With().Str("module", "adapters.tcp").Str("sid", string(sid)).Str("remote", nc.RemoteAddr().String()).Logger()
	logger.Info().Msg("new control connection")

	conn := NewConn(nc, s.QueueSize, s.WriteTimeout)
	s.track(sid, conn)
	defer s.untrack(sid)

	go conn.writePump(ctx, logger)

	d := s.Orch.NewDispatcher(sid, conn)
	defer func() {
		d.Close()
		<-conn.Done()
		logger.Info().Str("username", d.Username()).Msg("control connection closed")
	}()

	r := bufio.NewReaderSize(nc, 64<<10)
	for {
		body, err := protocol.ReadFrame(r, s.MaxFrameSize)
		if err != nil {
			switch {
			case protocol.IsEndOfStream(err):
				logger.Info().Err(err).Msg("peer gone")
			case errors.Is(err, net.ErrClosed):
				logger.Debug().Msg("connection closed locally")
			default:
				obs.ErrorsTotal.WithLabelValues("read").Inc()
				logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		if err := d.Handle(body); err != nil {
			logger.Warn().Err(err).Msg("dropping connection on bad frame")
			return
		}
	}
}
