package domain

import (
	"encoding/json"
	"time"
)

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalCandidate:
		return true
	}
	return false
}

// Signal is one entry of the room-scoped relay log. IDs are assigned by the relay
// and strictly increase; an empty Recipient addresses everyone in the room.
type Signal struct {
	ID        int64           `json:"id"`
	Room      RoomKey         `json:"room_key"`
	Sender    UserID          `json:"sender_id"`
	Recipient UserID          `json:"target_id,omitempty"`
	Kind      SignalKind      `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// AddressedTo reports whether a consumer identified by self should process sig.
// Own echoes are excluded even though the relay returns them.
func (s Signal) AddressedTo(self UserID) bool {
	if s.Sender == self {
		return false
	}
	return s.Recipient == "" || s.Recipient == self
}
