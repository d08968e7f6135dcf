package domain

import "time"

// Participant is one Directory Service row: a user present in a room.
type Participant struct {
	UserID         UserID    `json:"user_id"`
	Muted          bool      `json:"muted"`
	Deafened       bool      `json:"deafened"`
	ForcedMuted    bool      `json:"moderator_forced_muted"`
	ForcedDeafened bool      `json:"moderator_forced_deafened"`
	JoinedAt       time.Time `json:"joined_at"`
}

func (p Participant) EffectiveMuted() bool {
	return p.Muted || p.Deafened || p.ForcedMuted || p.ForcedDeafened
}
