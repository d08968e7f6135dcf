package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join registers presence for user and binds it to sid. A binding to another
// room or user is cleared first.
func (o *Orchestrator) Join(ctx context.Context, sid app.SessionID, room domain.RoomKey, user domain.UserID, muted, deafened bool) error {
	if prevRoom, prevUser, ok := o.Registry.RoomOf(sid); ok && (prevRoom != room || prevUser != user) {
		if err := o.Directory.ClearPresence(ctx, prevRoom, prevUser); err != nil {
			return err
		}
		o.Registry.RemoveRoom(sid)
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("from_room", string(prevRoom)).Msg("left previous room")
	}
	if err := o.Directory.SetPresence(ctx, room, user, muted, deafened); err != nil {
		return err
	}
	o.Registry.BindPresence(sid, room, user)
	return nil
}

func (o *Orchestrator) Leave(ctx context.Context, sid app.SessionID, room domain.RoomKey, user domain.UserID) error {
	actor, err := o.actor(sid, room)
	if err != nil {
		return err
	}
	if actor != user {
		return fmt.Errorf("%w: cannot clear presence of %s", domain.ErrForbidden, user)
	}
	if err := o.Directory.ClearPresence(ctx, room, user); err != nil {
		return err
	}
	o.Registry.RemoveRoom(sid)
	return nil
}

func (o *Orchestrator) SetState(ctx context.Context, sid app.SessionID, room domain.RoomKey, user domain.UserID, muted, deafened bool) error {
	actor, err := o.actor(sid, room)
	if err != nil {
		return err
	}
	if actor != user {
		return fmt.Errorf("%w: cannot update %s", domain.ErrForbidden, user)
	}
	return o.Directory.SetParticipantState(ctx, room, user, muted, deafened)
}

func (o *Orchestrator) moderator(sid app.SessionID, room domain.RoomKey) (domain.UserID, error) {
	actor, err := o.actor(sid, room)
	if err != nil {
		return "", err
	}
	if o.Policy != nil && !o.Policy.CanModerate(room, actor) {
		return "", fmt.Errorf("%w: %s may not moderate %s", domain.ErrForbidden, actor, room)
	}
	return actor, nil
}

func (o *Orchestrator) Force(ctx context.Context, sid app.SessionID, room domain.RoomKey, target domain.UserID, forcedMuted, forcedDeafened bool) error {
	actor, err := o.moderator(sid, room)
	if err != nil {
		return err
	}
	if err := o.Directory.ForceParticipantState(ctx, room, target, forcedMuted, forcedDeafened); err != nil {
		return err
	}
	log.Info().Str("module", "app.orch").Str("room", string(room)).Str("actor", string(actor)).Str("target", string(target)).Msg("force state")
	return nil
}

// Kick removes target's row and closes the push streams bound to it.
func (o *Orchestrator) Kick(ctx context.Context, sid app.SessionID, room domain.RoomKey, target domain.UserID) error {
	actor, err := o.moderator(sid, room)
	if err != nil {
		return err
	}
	if err := o.Directory.KickParticipant(ctx, room, target); err != nil {
		return err
	}
	o.KickUser(room, target)
	log.Info().Str("module", "app.orch").Str("room", string(room)).Str("actor", string(actor)).Str("target", string(target)).Msg("kicked")
	return nil
}

func (o *Orchestrator) KickUser(room domain.RoomKey, user domain.UserID) {
	for _, snap := range o.Registry.MembersOfRoom(room) {
		if snap.User == user {
			o.Registry.RemoveRoom(snap.SID)
		}
	}
}

// EvictRoom drops every binding to room and its signal log. Wired to the
// directory's room-empty hook.
func (o *Orchestrator) EvictRoom(room domain.RoomKey) {
	for _, snap := range o.Registry.MembersOfRoom(room) {
		o.Registry.RemoveRoom(snap.SID)
	}
	o.Signals.Prune(room)
	log.Info().Str("module", "app.orch").Str("room", string(room)).Msg("room evicted")
}
