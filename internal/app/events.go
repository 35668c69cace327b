package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventUserJoined     EventType = "user_joined"
	EventUserLeft       EventType = "user_left"
	EventChat           EventType = "chat"
	EventScreenStarted  EventType = "screen_started"
	EventScreenStopped  EventType = "screen_stopped"
	EventFileOffered    EventType = "file_offered"
	EventFileCompleted  EventType = "file_completed"
	EventFileRequested  EventType = "file_requested"
	EventMediaPortsSent EventType = "media_ports"
)

// Event is a status notification for observers. It never carries file or
// media payloads.
type Event struct {
	Type     EventType `json:"type"`
	Username string    `json:"username,omitempty"`
	Text     string    `json:"text,omitempty"`
	Filename string    `json:"filename,omitempty"`
	Size     int64     `json:"size,omitempty"`
	Users    []string  `json:"users,omitempty"`
	At       time.Time `json:"at"`
}

// EventBus fans events out to subscribers. A subscriber whose queue is full
// misses events; Publish never blocks.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	size   int
}

func NewEventBus(queueSize int) *EventBus {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &EventBus{subs: make(map[int]chan Event), size: queueSize}
}

// Subscribe returns a receive channel and a cancel func that closes it.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.size)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().Str("module", "app.events").Int("subscriber", id).Str("type", string(ev.Type)).Msg("subscriber queue full, event dropped")
		}
	}
}

func (b *EventBus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
