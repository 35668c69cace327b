package orch

import (
	"sync"

	"github.com/dkeye/lanrelay/internal/app"
	"github.com/dkeye/lanrelay/internal/core"
	"github.com/dkeye/lanrelay/internal/domain"
	"github.com/dkeye/lanrelay/internal/obs"
	"github.com/dkeye/lanrelay/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State int

const (
	AwaitingRegistration State = iota
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingRegistration:
		return "awaiting_registration"
	case Active:
		return "active"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Dispatcher runs the per-connection state machine. Handle is called from the
// connection's read loop only; Close may race with it and is idempotent.
type Dispatcher struct {
	o    *Orchestrator
	sid  core.SessionID
	conn core.ControlConn

	mu       sync.Mutex
	state    State
	username string
	logger   zerolog.Logger
}

func (o *Orchestrator) NewDispatcher(sid core.SessionID, conn core.ControlConn) *Dispatcher {
	return &Dispatcher{
		o:      o,
		sid:    sid,
		conn:   conn,
		logger: log.With().Str("module", "app.orch").Str("sid", string(sid)).Logger(),
	}
}

func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Dispatcher) Username() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.username
}

// Handle decodes one frame body and applies it. A decode error is returned to
// the caller, which ends the connection; every other failure is logged.
func (d *Dispatcher) Handle(body []byte) error {
	m, err := protocol.Unmarshal(body)
	if err != nil {
		obs.ErrorsTotal.WithLabelValues("decode").Inc()
		return err
	}
	if d.State() == Closed {
		return nil
	}
	obs.FramesInTotal.WithLabelValues(m.Kind.String()).Inc()
	obs.FrameSizeBytes.Observe(float64(len(body)))

	// Forwarded frames are the received bytes, not a re-encoding.
	frame := core.Frame(protocol.FrameOf(body))

	switch m.Kind {
	case protocol.KindRegister:
		d.register(m.Username)
	case protocol.KindUDPPortRegister:
		d.o.setMediaPorts(d.sender(m), m.VideoPort, m.AudioPort, d.logger)
	case protocol.KindChat:
		d.relay(m.Kind, frame)
		d.o.publish(app.Event{Type: app.EventChat, Username: d.sender(m), Text: m.Text})
	case protocol.KindFileMeta:
		d.o.fileMeta(d.sender(m), m, d.logger)
		d.relay(m.Kind, frame)
	case protocol.KindFileData:
		d.o.fileData(m, d.logger)
		d.relay(m.Kind, frame)
	case protocol.KindFileRequest:
		// Requests go to everybody, the requester included.
		d.o.Broadcast("", m.Kind, frame)
		d.o.publish(app.Event{Type: app.EventFileRequested, Username: d.sender(m), Filename: m.Filename})
	case protocol.KindScreenStart:
		d.o.screenStart(d.sender(m))
		d.relay(m.Kind, frame)
	case protocol.KindScreenStop:
		d.o.screenStop(d.sender(m))
		d.relay(m.Kind, frame)
	case protocol.KindScreenFrame:
		d.relay(m.Kind, frame)
	case protocol.KindUserList:
		d.logger.Debug().Msg("ignoring user list from client")
	}
	return nil
}

// relay sends frame to everyone but this connection and any other session
// holding its registered name.
func (d *Dispatcher) relay(kind protocol.Kind, frame core.Frame) {
	d.o.broadcast(d.sid, d.Username(), kind, frame)
}

// sender is the name a frame is attributed to: the one it carries, else the
// one this connection registered with.
func (d *Dispatcher) sender(m *protocol.Message) string {
	if m.Username != "" {
		return m.Username
	}
	return d.Username()
}

func (d *Dispatcher) register(username string) {
	if err := domain.ValidateUsername(username); err != nil {
		d.logger.Warn().Err(err).Str("username", username).Msg("register rejected")
		return
	}

	d.mu.Lock()
	prev := d.username
	d.username = username
	d.state = Active
	d.logger = log.With().Str("module", "app.orch").Str("sid", string(d.sid)).Str("username", username).Logger()
	d.mu.Unlock()

	if prev != "" && prev != username {
		d.o.Registry.RemoveSession(prev, d.sid)
	}
	_, replaced := d.o.Registry.Register(username, d.sid, d.conn, d.conn.RemoteAddr())
	if replaced {
		d.logger.Info().Msg("replaced stale session")
	}
	obs.RegisteredClients.Set(float64(d.o.Registry.Len()))

	d.o.publish(app.Event{Type: app.EventUserJoined, Username: username, Users: d.o.Registry.Usernames()})
	d.o.BroadcastUserList()
}

// Close ends the session: the registry entry owned by this connection goes
// away, its unfinished uploads are dropped and everyone gets the new user
// list. The presenter slot is left alone.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.state == Closed {
		d.mu.Unlock()
		return
	}
	d.state = Closed
	username := d.username
	d.mu.Unlock()

	d.conn.Close()
	if username == "" {
		return
	}
	if !d.o.Registry.RemoveSession(username, d.sid) {
		d.logger.Debug().Msg("session already replaced")
		return
	}
	obs.RegisteredClients.Set(float64(d.o.Registry.Len()))
	d.o.dropUploads(username, d.logger)
	d.logger.Info().Msg("client left")
	d.o.publish(app.Event{Type: app.EventUserLeft, Username: username, Users: d.o.Registry.Usernames()})
	d.o.BroadcastUserList()
}
