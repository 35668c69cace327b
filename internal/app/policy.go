package app

import (
	"fmt"
	"strings"

	"github.com/dkeye/lanrelay/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop"
	case KickMember:
		return "kick"
	}
	return "none"
}

// Policy decides what happens to a recipient whose outbound queue is full.
type Policy interface {
	OnBackPressure(session core.ClientSession) BackpressureAction
}

// SimplePolicy applies the same action to every slow recipient.
type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(core.ClientSession) BackpressureAction {
	return p.Action
}

// ParsePolicy maps the relay.slow_peer setting to a policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "drop":
		return SimplePolicy{Action: DropFrame}, nil
	case "kick":
		return SimplePolicy{Action: KickMember}, nil
	}
	return nil, fmt.Errorf("unknown slow peer policy %q", name)
}
