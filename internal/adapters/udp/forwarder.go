// Package udp fans media datagrams out to every other registered client.
package udp

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/dkeye/lanrelay/internal/core"
	"github.com/dkeye/lanrelay/internal/domain"
	"github.com/dkeye/lanrelay/internal/obs"
	"github.com/dkeye/lanrelay/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxDatagram = 64 << 10

// Sessions is the part of the registry a forwarder reads.
type Sessions interface {
	Snapshot() []core.ClientSession
}

// Forwarder relays datagrams of one media kind. The datagram is sent on
// unmodified; only the sender's username is parsed out of it.
type Forwarder struct {
	kind     domain.MediaKind
	sessions Sessions
	conn     *net.UDPConn
	limiter  *FailureLimiter
	logger   zerolog.Logger
}

func NewForwarder(kind domain.MediaKind, sessions Sessions, conn *net.UDPConn) *Forwarder {
	return &Forwarder{
		kind:     kind,
		sessions: sessions,
		conn:     conn,
		limiter:  NewFailureLimiter(3, 10*time.Second),
		logger:   log.With().Str("module", "adapters.udp").Str("kind", kind.String()).Logger(),
	}
}

func (f *Forwarder) LocalAddr() net.Addr {
	return f.conn.LocalAddr()
}

// Run reads until ctx is done or the socket is closed. Closing is the normal
// way to stop and returns nil.
func (f *Forwarder) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = f.conn.Close() })
	defer stop()

	f.logger.Info().Str("addr", f.conn.LocalAddr().String()).Msg("media forwarder started")
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				f.logger.Info().Msg("media forwarder stopped")
				return nil
			}
			obs.ErrorsTotal.WithLabelValues("udp_read").Inc()
			f.logger.Warn().Err(err).Msg("read error")
			continue
		}
		obs.DatagramsInTotal.WithLabelValues(f.kind.String()).Inc()

		pkt := buf[:n]
		sender, err := protocol.DatagramSender(pkt)
		if err != nil {
			obs.DatagramsDropped.WithLabelValues(f.kind.String()).Inc()
			f.logger.Debug().Err(err).Str("from", from.String()).Msg("dropping datagram")
			continue
		}
		f.forward(sender, pkt)
	}
}

// forward sends pkt to every session with a port for this kind, except the
// sender. Failures are counted and never stop the loop.
func (f *Forwarder) forward(sender string, pkt []byte) int {
	sent := 0
	for _, s := range f.sessions.Snapshot() {
		if s.Username == sender {
			continue
		}
		port := s.Port(f.kind)
		host := s.Host()
		if port == 0 || host == nil {
			continue
		}
		dst := &net.UDPAddr{IP: host, Port: port}
		if _, err := f.conn.WriteToUDP(pkt, dst); err != nil {
			obs.SendFailuresTotal.WithLabelValues(f.kind.String(), "write").Inc()
			key := s.Username + "@" + net.JoinHostPort(host.String(), strconv.Itoa(port))
			if ok, suppressed := f.limiter.Allow(key); ok {
				f.logger.Warn().Err(err).Str("to", s.Username).Str("dst", dst.String()).Int("suppressed", suppressed).Msg("forward failed")
			}
			continue
		}
		sent++
	}
	obs.DatagramsOutTotal.WithLabelValues(f.kind.String()).Add(float64(sent))
	return sent
}
