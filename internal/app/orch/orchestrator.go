// Package orch coordinates the reference server: directory rows, the signal
// log and the client-token registry.
package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/app/store"
	"github.com/dkeye/meshvoice/internal/domain"
)

type Orchestrator struct {
	Directory *store.Directory
	Signals   *store.SignalLog
	Registry  *app.Registry
	Policy    app.Policy
}

// New wires room eviction to the directory.
func New(dir *store.Directory, signals *store.SignalLog, reg *app.Registry, policy app.Policy) *Orchestrator {
	o := &Orchestrator{Directory: dir, Signals: signals, Registry: reg, Policy: policy}
	dir.OnRoomEmpty(o.EvictRoom)
	return o
}

// actor is the user sid registered in room.
func (o *Orchestrator) actor(sid app.SessionID, room domain.RoomKey) (domain.UserID, error) {
	user, ok := o.Registry.Bound(sid, room)
	if !ok {
		return "", fmt.Errorf("%w: no presence registered in %s", domain.ErrForbidden, room)
	}
	return user, nil
}

func (o *Orchestrator) Rooms() []store.RoomInfo {
	return o.Directory.Rooms()
}

func (o *Orchestrator) Participants(ctx context.Context, room domain.RoomKey) ([]domain.Participant, error) {
	return o.Directory.ListParticipants(ctx, room)
}
