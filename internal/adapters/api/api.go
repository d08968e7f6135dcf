// Package api holds the JSON bodies exchanged between the relay server and
// its clients.
package api

import (
	"github.com/dkeye/meshvoice/internal/domain"
)

const (
	// SessionCookie carries the client token a presence is bound to.
	SessionCookie = "meshvoice"

	FrameSignal   = "signal"
	FrameAppended = "appended"
	FrameError    = "error"
)

// StateRequest is the body of presence registration and state updates.
type StateRequest struct {
	Muted    bool `json:"muted"`
	Deafened bool `json:"deafened"`
}

type ForceRequest struct {
	ForcedMuted    bool `json:"moderator_forced_muted"`
	ForcedDeafened bool `json:"moderator_forced_deafened"`
}

type ParticipantsResponse struct {
	Participants []domain.Participant `json:"participants"`
}

type SignalsResponse struct {
	Signals []domain.Signal `json:"signals"`
}

type IDResponse struct {
	ID int64 `json:"id"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Frame is a push notification: new signals up to ID may be queried.
type Frame struct {
	Type  string         `json:"type"`
	Room  domain.RoomKey `json:"room_key,omitempty"`
	ID    int64          `json:"id,omitempty"`
	Error string         `json:"error,omitempty"`
}
