package core

import (
	"context"

	"github.com/dkeye/meshvoice/internal/domain"
)

//go:generate mockgen -source=directory_iface.go -destination=mock_directory.go -package=core

// Directory is the Directory Service contract for voice presence rows.
// Authorization for Force/Kick is checked by the caller.
type Directory interface {
	ListParticipants(ctx context.Context, room domain.RoomKey) ([]domain.Participant, error)
	SetPresence(ctx context.Context, room domain.RoomKey, user domain.UserID, muted, deafened bool) error
	ClearPresence(ctx context.Context, room domain.RoomKey, user domain.UserID) error
	SetParticipantState(ctx context.Context, room domain.RoomKey, user domain.UserID, muted, deafened bool) error
	ForceParticipantState(ctx context.Context, room domain.RoomKey, user domain.UserID, forcedMuted, forcedDeafened bool) error
	KickParticipant(ctx context.Context, room domain.RoomKey, user domain.UserID) error
}
