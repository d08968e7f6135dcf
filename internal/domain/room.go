package domain

import (
	"errors"
	"strings"
)

const MaxRoomKeyLen = 128

var (
	ErrRoomKeyEmpty   = errors.New("room key empty")
	ErrRoomKeyTooLong = errors.New("room key too long")
)

// RoomKey is an opaque partition key, e.g. "dm:42" or "voice:7".
type RoomKey string

func ParseRoomKey(raw string) (RoomKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrRoomKeyEmpty
	}
	if len(raw) > MaxRoomKeyLen {
		return "", ErrRoomKeyTooLong
	}
	return RoomKey(raw), nil
}
