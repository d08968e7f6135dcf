package session

import (
	"context"
	"fmt"

	"github.com/dkeye/meshvoice/internal/app/media"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
)

// ToggleMute flips the self mute flag. The change is applied to the local
// tracks first and rolled back if the Directory Service rejects it.
func (s *Session) ToggleMute(ctx context.Context) error {
	return s.toggle(ctx, "mute", media.LocalState.CanToggleMute, func(l *media.LocalState) *bool { return &l.Muted })
}

// ToggleDeafen flips the self deafen flag. Blocked only while force-deafened.
func (s *Session) ToggleDeafen(ctx context.Context) error {
	return s.toggle(ctx, "deafen", media.LocalState.CanToggleDeafen, func(l *media.LocalState) *bool { return &l.Deafened })
}

func (s *Session) toggle(ctx context.Context, name string, allowed func(media.LocalState) bool, field func(*media.LocalState) *bool) error {
	s.op.Lock()
	defer s.op.Unlock()
	rt := s.current()
	if rt == nil {
		return domain.ErrNotActive
	}
	if !allowed(s.Local()) {
		err := fmt.Errorf("%w: %s", domain.ErrForbidden, name)
		s.setLastErr(err)
		return err
	}

	var was bool
	_, next := s.updateLocal(func(cur media.LocalState) media.LocalState {
		f := field(&cur)
		was = *f
		*f = !was
		return cur
	})
	if err := s.dir.SetParticipantState(ctx, rt.room, s.cfg.Self, next.Muted, next.Deafened); err != nil {
		s.updateLocal(func(cur media.LocalState) media.LocalState {
			*field(&cur) = was
			return cur
		})
		metrics.TransportErrorsTotal.WithLabelValues("directory").Inc()
		err = fmt.Errorf("%w: persist %s: %w", domain.ErrTransport, name, err)
		s.setLastErr(err)
		return err
	}
	s.log.Info().Str("control", name).Bool("on", !was).Msg("local control toggled")
	return nil
}

// SetRemoteVolume sets the playback volume of user, clamped to [0,1]. It is
// purely local and remembered across joins.
func (s *Session) SetRemoteVolume(user domain.UserID, v float64) float64 {
	return s.mixer.SetVolume(user, v)
}

type Action string

const (
	ActionKick        Action = "kick"
	ActionForceMute   Action = "force-mute"
	ActionForceDeafen Action = "force-deafen"
)

func ParseAction(raw string) (Action, error) {
	switch a := Action(raw); a {
	case ActionKick, ActionForceMute, ActionForceDeafen:
		return a, nil
	}
	return "", fmt.Errorf("unknown moderation action %q", raw)
}

// Moderate applies a moderator action to user in the current room. Force
// actions toggle the target's forced flag as seen in the latest snapshot.
func (s *Session) Moderate(ctx context.Context, user domain.UserID, action Action) error {
	s.op.Lock()
	defer s.op.Unlock()
	rt := s.current()
	if rt == nil {
		return domain.ErrNotActive
	}
	if s.cfg.CanModerate != nil && !s.cfg.CanModerate(rt.room) {
		return fmt.Errorf("%w: moderation not allowed in %s", domain.ErrForbidden, rt.room)
	}

	var err error
	switch action {
	case ActionKick:
		err = s.dir.KickParticipant(ctx, rt.room, user)
	case ActionForceMute, ActionForceDeafen:
		row, ok := s.participant(user)
		if !ok {
			return fmt.Errorf("%w: %s is not in %s", domain.ErrNotFound, user, rt.room)
		}
		muted, deafened := row.ForcedMuted, row.ForcedDeafened
		if action == ActionForceMute {
			muted = !muted
		} else {
			deafened = !deafened
		}
		err = s.dir.ForceParticipantState(ctx, rt.room, user, muted, deafened)
		if err == nil {
			s.setForced(user, muted, deafened)
		}
	default:
		return fmt.Errorf("unknown moderation action %q", action)
	}
	if err != nil {
		s.setLastErr(err)
		return fmt.Errorf("%s %s: %w", action, user, err)
	}
	s.log.Info().Str("target", string(user)).Str("action", string(action)).Msg("moderation applied")
	return nil
}

func (s *Session) participant(user domain.UserID) (domain.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.roster {
		if p.UserID == user {
			return p, true
		}
	}
	return domain.Participant{}, false
}

// setForced updates the cached roster so a second toggle before the next
// reconciliation flips back.
func (s *Session) setForced(user domain.UserID, muted, deafened bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := make([]domain.Participant, len(s.roster))
	copy(roster, s.roster)
	for i := range roster {
		if roster[i].UserID == user {
			roster[i].ForcedMuted = muted
			roster[i].ForcedDeafened = deafened
		}
	}
	s.roster = roster
}
