// Package orch wires the relay state (registry, presenter slot, transfer
// tracker) to the control-frame dispatch and broadcast rules.
package orch

import (
	"errors"

	"github.com/dkeye/lanrelay/internal/app"
	"github.com/dkeye/lanrelay/internal/core"
	"github.com/dkeye/lanrelay/internal/obs"
	"github.com/dkeye/lanrelay/internal/protocol"
	"github.com/dkeye/lanrelay/internal/transfer"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry  *app.Registry
	Presenter *app.PresenterSlot
	Transfers *transfer.Tracker
	Policy    app.Policy

	// Optional.
	Sink   transfer.Sink
	Events *app.EventBus
}

// Broadcast queues frame to every registered session except the one owned
// by from. An empty from reaches everybody. Failed recipients are logged and
// skipped; the slow-peer policy runs for the ones that hit backpressure.
func (o *Orchestrator) Broadcast(from core.SessionID, kind protocol.Kind, frame core.Frame) core.PublishResult {
	return o.broadcast(from, "", kind, frame)
}

// broadcast also skips sessions registered as fromName when it is set.
func (o *Orchestrator) broadcast(from core.SessionID, fromName string, kind protocol.Kind, frame core.Frame) core.PublishResult {
	res := core.PublishResult{}
	var slow []core.ClientSession
	for _, s := range o.Registry.Snapshot() {
		if from != "" && s.SessionID == from {
			continue
		}
		if fromName != "" && s.Username == fromName {
			continue
		}
		if err := s.Conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, s)
			reason := "closed"
			if errors.Is(err, core.ErrBackpressure) {
				reason = "backpressure"
				slow = append(slow, s)
			}
			obs.SendFailuresTotal.WithLabelValues("tcp", reason).Inc()
			log.Warn().Err(err).Str("module", "app.orch").Str("to", s.Username).Str("kind", kind.String()).Msg("send failed")
			continue
		}
		res.SendTo++
	}
	obs.FramesOutTotal.WithLabelValues(kind.String()).Add(float64(res.SendTo))
	log.Debug().Str("module", "app.orch").Str("from", string(from)).Str("kind", kind.String()).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")

	if o.Policy == nil {
		return res
	}
	for _, s := range slow {
		switch o.Policy.OnBackPressure(s) {
		case app.KickMember:
			log.Warn().Str("module", "app.orch").Str("username", s.Username).Msg("kicking slow peer")
			s.Conn.Close()
		case app.DropFrame, app.NoAction:
		}
	}
	return res
}

// BroadcastUserList sends the current sorted user list to every session.
func (o *Orchestrator) BroadcastUserList() {
	users := o.Registry.Usernames()
	frame, err := protocol.Encode(protocol.NewUserList(users))
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Msg("encode user list")
		return
	}
	o.Broadcast("", protocol.KindUserList, frame)
}

// Kick evicts username regardless of which connection owns it and closes
// that connection.
func (o *Orchestrator) Kick(username string) bool {
	s, ok := o.Registry.Get(username)
	if !ok || !o.Registry.RemoveSession(username, s.SessionID) {
		return false
	}
	if s.Conn != nil {
		s.Conn.Close()
	}
	obs.RegisteredClients.Set(float64(o.Registry.Len()))
	o.dropUploads(username, log.With().Str("module", "app.orch").Str("username", username).Logger())
	o.publish(app.Event{Type: app.EventUserLeft, Username: username, Users: o.Registry.Usernames()})
	o.BroadcastUserList()
	log.Info().Str("module", "app.orch").Str("username", username).Msg("kicked")
	return true
}

// Users lists registered sessions for status views.
func (o *Orchestrator) Users() []core.SessionDTO {
	snap := o.Registry.Snapshot()
	out := make([]core.SessionDTO, 0, len(snap))
	for _, s := range snap {
		out = append(out, s.DTO())
	}
	return out
}

func (o *Orchestrator) publish(ev app.Event) {
	if o.Events != nil {
		o.Events.Publish(ev)
	}
}
