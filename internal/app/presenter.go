package app

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// PresenterSlot holds the single active screen sharer, if any.
// There is no queue and no ownership check: the last Start wins and any Stop
// clears the slot.
type PresenterSlot struct {
	mu       sync.Mutex
	username string
}

func NewPresenterSlot() *PresenterSlot {
	return &PresenterSlot{}
}

func (p *PresenterSlot) Start(username string) {
	p.mu.Lock()
	prev := p.username
	p.username = username
	p.mu.Unlock()
	log.Info().Str("module", "app.presenter").Str("username", username).Str("previous", prev).Msg("screen share started")
}

// Stop clears the slot and returns whoever held it. username is only logged.
func (p *PresenterSlot) Stop(username string) string {
	p.mu.Lock()
	prev := p.username
	p.username = ""
	p.mu.Unlock()
	log.Info().Str("module", "app.presenter").Str("username", username).Str("previous", prev).Msg("screen share stopped")
	return prev
}

func (p *PresenterSlot) Current() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.username, p.username != ""
}
