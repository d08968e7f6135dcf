package session

import (
	"context"
	"time"

	"github.com/dkeye/meshvoice/internal/app/media"
	"github.com/dkeye/meshvoice/internal/app/mesh"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

type ParticipantStatus struct {
	UserID         domain.UserID `json:"user_id"`
	Self           bool          `json:"self,omitempty"`
	Connection     string        `json:"connection,omitempty"`
	Negotiation    string        `json:"negotiation,omitempty"`
	Muted          bool          `json:"muted"`
	Deafened       bool          `json:"deafened"`
	ForcedMuted    bool          `json:"forced_muted"`
	ForcedDeafened bool          `json:"forced_deafened"`
	EffectiveMuted bool          `json:"effective_muted"`
	Speaking       bool          `json:"speaking"`
	Presenting     bool          `json:"presenting"`
	Volume         float64       `json:"volume"`
}

type Status struct {
	State          State               `json:"state"`
	Room           domain.RoomKey      `json:"room,omitempty"`
	Local          media.LocalState    `json:"local"`
	EffectiveMuted bool                `json:"effective_muted"`
	Sharing        core.ShareKind      `json:"sharing,omitempty"`
	Participants   []ParticipantStatus `json:"participants"`
	LastError      string              `json:"last_error,omitempty"`
	Removed        bool                `json:"removed,omitempty"`
}

// statusTimeout bounds the wait for the owner loop.
const statusTimeout = 500 * time.Millisecond

// Status is a read-only view of the session. Peer connection state is read on
// the owner loop; participants without a connection entry report no connection.
func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		State:          s.state,
		Room:           s.room,
		Local:          s.local,
		EffectiveMuted: s.local.EffectiveMuted(),
		Sharing:        s.sharing,
		Removed:        s.removed,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	roster := s.roster
	rt := s.rt
	s.mu.RUnlock()

	peers := make(map[domain.UserID]mesh.PeerStatus)
	if rt != nil {
		for _, ps := range rt.peerSnapshot() {
			peers[ps.Peer] = ps
		}
	}

	for _, p := range roster {
		ps := ParticipantStatus{
			UserID:         p.UserID,
			Self:           p.UserID == s.cfg.Self,
			Muted:          p.Muted,
			Deafened:       p.Deafened,
			ForcedMuted:    p.ForcedMuted,
			ForcedDeafened: p.ForcedDeafened,
			EffectiveMuted: p.EffectiveMuted(),
			Speaking:       s.speaking.Has(p.UserID),
			Volume:         s.mixer.Volume(p.UserID),
		}
		if ps.Self {
			ps.Muted, ps.Deafened = st.Local.Muted, st.Local.Deafened
			ps.EffectiveMuted = st.EffectiveMuted
			ps.Presenting = st.Sharing != ""
		} else if pc, ok := peers[p.UserID]; ok {
			ps.Connection = pc.State.String()
			ps.Negotiation = pc.Negotiation
			ps.Presenting = pc.Presenting
		}
		st.Participants = append(st.Participants, ps)
	}
	return st
}

// Peer returns the connection state of one peer as seen by the owner loop.
func (s *Session) Peer(user domain.UserID) (mesh.PeerStatus, bool) {
	rt := s.current()
	if rt == nil {
		return mesh.PeerStatus{}, false
	}
	for _, ps := range rt.peerSnapshot() {
		if ps.Peer == user {
			return ps, true
		}
	}
	return mesh.PeerStatus{}, false
}

// PeerCount is the number of live connection entries.
func (s *Session) PeerCount() int {
	if rt := s.current(); rt != nil {
		return len(rt.peerSnapshot())
	}
	return 0
}

func (rt *runtime) peerSnapshot() []mesh.PeerStatus {
	ch := make(chan []mesh.PeerStatus, 1)
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if err := rt.loop.Do(ctx, func() { ch <- rt.mgr.Snapshot() }); err != nil {
		return nil
	}
	return <-ch
}
