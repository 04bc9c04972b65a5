// Package domain contains entities without transport logic, just call meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxUserIDLen = 64

var (
	ErrUserIDTooLong = errors.New("user id too long")
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDInvalid = errors.New("user id contains whitespace")
)

// UserID identifies a party on the signaling network.
type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username,omitempty"`
}

// ParseUserID validates a raw identity coming from a query string or flag.
func ParseUserID(raw string) (UserID, error) {
	if len(raw) == 0 {
		return "", ErrUserIDEmpty
	}
	if len(raw) > MaxUserIDLen {
		return "", ErrUserIDTooLong
	}
	if strings.ContainsAny(raw, " \t\r\n") {
		return "", ErrUserIDInvalid
	}
	return UserID(raw), nil
}
