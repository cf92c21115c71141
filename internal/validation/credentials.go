// Package validation checks user supplied names and room codes. It is shared by the server,
// which normalizes what it receives, and the CLI, which rejects bad input before dialing.
package validation

import (
	"errors"
	"regexp"
	"strings"
)

const (
	MaxUsernameLength = 24
	DefaultUsername   = "guest"
)

var (
	validCharsUsername = regexp.MustCompile(`^[A-Za-z\d _.@$!%*?&-]+$`)
	validRoomCode      = regexp.MustCompile(`^\d{6}$`)
)

// ErrInvalidRoomCode is returned for codes that are not exactly six digits.
var ErrInvalidRoomCode = errors.New("room codes are exactly 6 digits")

// Username returns user-friendly errors
func Username(username string) error {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return errors.New("empty username")
	}
	if len(username) > MaxUsernameLength {
		return errors.New("username too long. Must be 24 characters or less")
	}
	if valid := validCharsUsername.MatchString(username); !valid {
		return errors.New("invalid character(s) detected. only letters, numbers, spaces and some symbols allowed")
	}
	return nil
}

// NormalizeUsername trims name and falls back to DefaultUsername when the result would be rejected by Username.
func NormalizeUsername(name string) string {
	name = strings.TrimSpace(name)
	if Username(name) != nil {
		return DefaultUsername
	}
	return name
}

func RoomCode(code string) error {
	if !validRoomCode.MatchString(code) {
		return ErrInvalidRoomCode
	}
	return nil
}
