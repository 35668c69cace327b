package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/dkeye/lanrelay/internal/adapters/udp"
	"github.com/dkeye/lanrelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// MediaSender wraps encoded media payloads in the datagram envelope and sends
// them to one relay media port.
type MediaSender struct {
	username string
	conn     *net.UDPConn
}

// NewMediaSender dials relayAddr over UDP. dscp > 0 marks the packets.
func NewMediaSender(relayAddr, username string, dscp int) (*MediaSender, error) {
	raddr, err := net.ResolveUDPAddr("udp", relayAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", relayAddr, err)
	}
	if dscp > 0 {
		if err := udp.SetDSCP(conn, dscp); err != nil {
			log.Warn().Err(err).Str("module", "client.media").Msg("dscp not applied")
		}
	}
	return &MediaSender{username: username, conn: conn}, nil
}

func (s *MediaSender) Send(payload []byte) error {
	_, err := s.conn.Write(protocol.Datagram{Username: s.username, Payload: payload}.Marshal())
	return err
}

func (s *MediaSender) Close() error {
	return s.conn.Close()
}

// MediaReceiver listens on an ephemeral port for forwarded media.
type MediaReceiver struct {
	username string
	conn     *net.UDPConn
}

// ListenMedia binds host:0. username is the local user, whose own datagrams
// are skipped.
func ListenMedia(host, username string) (*MediaReceiver, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(host)})
	if err != nil {
		return nil, err
	}
	return &MediaReceiver{username: username, conn: conn}, nil
}

func (r *MediaReceiver) Port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Run delivers every well-formed datagram from another user to fn until ctx
// is done or the receiver is closed.
func (r *MediaReceiver) Run(ctx context.Context, fn func(protocol.Datagram)) error {
	stop := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stop()

	buf := make([]byte, 64<<10)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		d, err := protocol.UnmarshalDatagram(buf[:n])
		if err != nil || d.Username == r.username {
			continue
		}
		// buf is reused on the next read
		d.Payload = append([]byte(nil), d.Payload...)
		fn(d)
	}
}

func (r *MediaReceiver) Close() error {
	return r.conn.Close()
}
