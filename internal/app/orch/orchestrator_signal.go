package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/domain"
)

// AppendSignal appends sig on behalf of the user sid registered in sig.Room.
func (o *Orchestrator) AppendSignal(ctx context.Context, sid app.SessionID, sig domain.Signal) (int64, error) {
	actor, err := o.actor(sid, sig.Room)
	if err != nil {
		return 0, err
	}
	if sig.Sender == "" {
		sig.Sender = actor
	}
	if sig.Sender != actor {
		return 0, fmt.Errorf("%w: sender %s is not %s", domain.ErrForbidden, sig.Sender, actor)
	}
	return o.Signals.Append(ctx, sig)
}

func (o *Orchestrator) QuerySignals(ctx context.Context, room domain.RoomKey, recipient domain.UserID, since int64) ([]domain.Signal, error) {
	return o.Signals.Query(ctx, room, recipient, since)
}

func (o *Orchestrator) LatestSignal(ctx context.Context, room domain.RoomKey, recipient domain.UserID) (int64, error) {
	return o.Signals.LatestID(ctx, room, recipient)
}

// Subscribe opens a notification channel for the user sid registered in room.
// The stream is closed through cancel when the binding goes away.
func (o *Orchestrator) Subscribe(sid app.SessionID, room domain.RoomKey, cancel context.CancelFunc) (user domain.UserID, ids <-chan int64, release func(), err error) {
	user, err = o.actor(sid, room)
	if err != nil {
		return "", nil, nil, err
	}
	ids, unsubscribe := o.Signals.Subscribe(room, user)
	unregister := o.Registry.AddStream(sid, cancel)
	return user, ids, func() {
		unregister()
		unsubscribe()
	}, nil
}
