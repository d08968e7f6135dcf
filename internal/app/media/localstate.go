// Package media holds the local media feature controllers: mute and deafen
// state, the per-remote volume mixer and speaking detection.
package media

import "github.com/dkeye/meshvoice/internal/domain"

// LocalState is the local participant's mute/deafen flags plus the forced
// flags last seen in the Directory Service.
type LocalState struct {
	Muted          bool
	Deafened       bool
	ForcedMuted    bool
	ForcedDeafened bool
}

// EffectiveMuted drives whether outgoing audio tracks are enabled.
func (s LocalState) EffectiveMuted() bool {
	return s.Muted || s.Deafened || s.ForcedMuted || s.ForcedDeafened
}

// EffectiveDeafened drives whether remote audio is rendered.
func (s LocalState) EffectiveDeafened() bool {
	return s.Deafened || s.ForcedDeafened
}

// CanToggleMute is false while any force flag is set: a force-deafened user is
// also locked out of the mute control.
func (s LocalState) CanToggleMute() bool {
	return !s.ForcedMuted && !s.ForcedDeafened
}

// CanToggleDeafen only depends on the forced deafen flag.
func (s LocalState) CanToggleDeafen() bool {
	return !s.ForcedDeafened
}

// WithForced copies the moderator flags from a directory row.
func (s LocalState) WithForced(p domain.Participant) LocalState {
	s.ForcedMuted = p.ForcedMuted
	s.ForcedDeafened = p.ForcedDeafened
	return s
}
