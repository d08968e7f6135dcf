// Package domain contains entities without transport or lifecycle logic.
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const MaxUserIDLen = 64

var (
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUserIDEmpty   = errors.New("user id empty")
)

type UserID string

// NewUserID returns a random identity for headless participants that were not given one.
func NewUserID() UserID {
	return UserID(uuid.NewString())
}

func ParseUserID(raw string) (UserID, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	return UserID(raw), nil
}

// ShouldInitiate reports whether self is the side that opens the connection to peer.
// Both ends evaluate it independently, so it must stay a pure byte-wise comparison.
func ShouldInitiate(self, peer UserID) bool {
	return self < peer
}
