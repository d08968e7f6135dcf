package core

import (
	"context"

	"github.com/dkeye/meshvoice/internal/domain"
)

// SignalRelay is the appendable, room-scoped signal log.
type SignalRelay interface {
	// Append stores sig and returns the relay-assigned id.
	Append(ctx context.Context, sig domain.Signal) (int64, error)
	// Query returns signals of room with id > since that are addressed to recipient,
	// broadcast, or sent by recipient, ascending by id.
	Query(ctx context.Context, room domain.RoomKey, recipient domain.UserID, since int64) ([]domain.Signal, error)
	// LatestID returns the highest id Query could currently return, or 0.
	LatestID(ctx context.Context, room domain.RoomKey, recipient domain.UserID) (int64, error)
}

// SignalNotifier is implemented by relays with a push channel. The returned channel
// receives a value whenever new signals may be available.
type SignalNotifier interface {
	Notify() <-chan struct{}
}
