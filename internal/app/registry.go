package app

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/lanrelay/internal/core"
	"github.com/dkeye/lanrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry maps usernames to live client sessions. At most one session per
// username; registering again replaces the old entry. Every accessor copies
// out under the lock so callers never touch the map while sending.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*core.ClientSession
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*core.ClientSession),
		now:      time.Now,
	}
}

// Register inserts or overwrites the session for username. replaced is true
// when a previous entry existed; its connection is left to its own read loop.
func (r *Registry) Register(username string, sid core.SessionID, conn core.ControlConn, addr net.Addr) (core.ClientSession, bool) {
	s := &core.ClientSession{
		Username:     username,
		SessionID:    sid,
		Conn:         conn,
		Addr:         addr,
		RegisteredAt: r.now(),
	}

	r.mu.Lock()
	_, replaced := r.sessions[username]
	r.sessions[username] = s
	out := *s
	r.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("username", username).Bool("replaced", replaced).Msg("registered session")
	return out, replaced
}

// SetMediaPort records the UDP receive port for kind. It returns false when
// username is not registered.
func (r *Registry) SetMediaPort(username string, kind domain.MediaKind, port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[username]
	if !ok {
		return false
	}
	switch kind {
	case domain.Video:
		s.VideoPort = port
	case domain.Audio:
		s.AudioPort = port
	default:
		return false
	}
	log.Info().Str("module", "app.registry").Str("username", username).Str("kind", kind.String()).Int("port", port).Msg("updated media port")
	return true
}

// Remove drops username unconditionally. Removing an absent name is a no-op.
func (r *Registry) Remove(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[username]; !ok {
		return false
	}
	delete(r.sessions, username)
	log.Info().Str("module", "app.registry").Str("username", username).Msg("removed session")
	return true
}

// RemoveSession drops username only while it still belongs to sid, so a
// stale connection closing late cannot evict the session that replaced it.
func (r *Registry) RemoveSession(username string, sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[username]
	if !ok || s.SessionID != sid {
		return false
	}
	delete(r.sessions, username)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("username", username).Msg("unbind session")
	return true
}

func (r *Registry) Get(username string) (core.ClientSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[username]
	if !ok {
		return core.ClientSession{}, false
	}
	return *s, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Usernames returns the registered names in sorted order.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Snapshot copies every session, ordered by username.
func (r *Registry) Snapshot() []core.ClientSession {
	r.mu.RLock()
	out := make([]core.ClientSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
