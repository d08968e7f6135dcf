package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
)

var ErrRelayDown = errors.New("relay unavailable")

// Relay wraps a SignalRelay, recording appended signals and optionally failing.
type Relay struct {
	core.SignalRelay

	FailAppend atomic.Bool
	FailQuery  atomic.Bool

	mu   sync.Mutex
	sent []domain.Signal
}

func NewRelay(inner core.SignalRelay) *Relay {
	return &Relay{SignalRelay: inner}
}

func (r *Relay) Append(ctx context.Context, sig domain.Signal) (int64, error) {
	if r.FailAppend.Load() {
		return 0, ErrRelayDown
	}
	id, err := r.SignalRelay.Append(ctx, sig)
	if err == nil {
		sig.ID = id
		r.mu.Lock()
		r.sent = append(r.sent, sig)
		r.mu.Unlock()
	}
	return id, err
}

func (r *Relay) Query(ctx context.Context, room domain.RoomKey, recipient domain.UserID, since int64) ([]domain.Signal, error) {
	if r.FailQuery.Load() {
		return nil, ErrRelayDown
	}
	return r.SignalRelay.Query(ctx, room, recipient, since)
}

// Sent returns appended signals matching kind from sender to recipient. Empty
// arguments match anything.
func (r *Relay) Sent(kind domain.SignalKind, from, to domain.UserID) []domain.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Signal
	for _, s := range r.sent {
		if (kind == "" || s.Kind == kind) && (from == "" || s.Sender == from) && (to == "" || s.Recipient == to) {
			out = append(out, s)
		}
	}
	return out
}
