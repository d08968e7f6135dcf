package domain

import "errors"

var (
	// ErrCapture: microphone, camera or display acquisition failed.
	ErrCapture = errors.New("media capture failed")
	// ErrTransport: a Signal Relay or Directory Service call failed.
	ErrTransport = errors.New("transport error")
	// ErrNegotiationRace covers stale answers, late candidates and wrong signaling states.
	// It is never returned to callers.
	ErrNegotiationRace = errors.New("negotiation race")
	// ErrForbidden: the control is locked by a moderator force-state.
	ErrForbidden = errors.New("blocked by moderator")
	// ErrKicked: the local user disappeared from the room's participant list.
	ErrKicked = errors.New("removed by moderator")

	ErrNotActive = errors.New("voice session not active")
	ErrRoomFull  = errors.New("room is full")
	ErrNotFound  = errors.New("not found")
)
