package app

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dkeye/meshvoice/internal/domain"
)

// BackpressureAction is what the push hub does with a subscriber whose send
// buffer is full.
type BackpressureAction int

const (
	// DropFrame skips the notification; the subscriber catches up on its next poll.
	DropFrame BackpressureAction = iota
	// KickMember closes the push stream. The presence stays registered.
	KickMember
)

func (a BackpressureAction) String() string {
	switch a {
	case KickMember:
		return "kick"
	default:
		return "drop"
	}
}

func ParseBackpressureAction(raw string) (BackpressureAction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "drop":
		return DropFrame, nil
	case "kick":
		return KickMember, nil
	}
	return DropFrame, fmt.Errorf("unknown backpressure action %q", raw)
}

type Policy interface {
	OnBackPressure(room domain.RoomKey, user domain.UserID) BackpressureAction
	CanModerate(room domain.RoomKey, actor domain.UserID) bool
}

// SimplePolicy applies one backpressure action to every room. Any present
// user may moderate unless Moderators is set.
type SimplePolicy struct {
	Moderators   []domain.UserID
	Backpressure BackpressureAction
}

func (p SimplePolicy) OnBackPressure(domain.RoomKey, domain.UserID) BackpressureAction {
	return p.Backpressure
}

func (p SimplePolicy) CanModerate(_ domain.RoomKey, actor domain.UserID) bool {
	return len(p.Moderators) == 0 || slices.Contains(p.Moderators, actor)
}
