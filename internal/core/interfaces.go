package core

import (
	"errors"
	"net"
	"time"

	"github.com/dkeye/lanrelay/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is one encoded control frame, length prefix included.
type Frame []byte

type SessionID string

// ControlConn abstracts a client's control transport.
// Owned by the adapter; the adapter must Close() it.
type ControlConn interface {
	// TrySend queues f without blocking. It returns ErrBackpressure when the
	// outbound queue is full and ErrConnClosed after Close.
	TrySend(Frame) error
	Close()
	RemoteAddr() net.Addr
}

// ClientSession is a copied-out view of one registry entry.
type ClientSession struct {
	Username     string
	SessionID    SessionID
	Conn         ControlConn
	Addr         net.Addr
	VideoPort    int
	AudioPort    int
	RegisteredAt time.Time
}

// Host is the IP datagrams for this user are forwarded to.
func (s ClientSession) Host() net.IP {
	switch a := s.Addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	case nil:
		return nil
	}
	host, _, err := net.SplitHostPort(s.Addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// Port is the announced receive port for kind, 0 if none.
func (s ClientSession) Port(kind domain.MediaKind) int {
	switch kind {
	case domain.Video:
		return s.VideoPort
	case domain.Audio:
		return s.AudioPort
	}
	return 0
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []ClientSession
}

// SessionDTO is a read-only view for APIs (no transport fields).
type SessionDTO struct {
	Username     string    `json:"username"`
	SessionID    SessionID `json:"session_id"`
	Remote       string    `json:"remote"`
	VideoPort    int       `json:"video_port,omitempty"`
	AudioPort    int       `json:"audio_port,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

func (s ClientSession) DTO() SessionDTO {
	dto := SessionDTO{
		Username:     s.Username,
		SessionID:    s.SessionID,
		VideoPort:    s.VideoPort,
		AudioPort:    s.AudioPort,
		RegisteredAt: s.RegisteredAt,
	}
	if s.Addr != nil {
		dto.Remote = s.Addr.String()
	}
	return dto
}
