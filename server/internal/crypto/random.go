package crypto

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	RoomCodeLength = 6

	// RoomCodeSpace is the number of distinct room codes.
	RoomCodeSpace = 1_000_000
)

// GenerateRoomCode returns a uniformly random, zero-padded six digit room code.
func GenerateRoomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(RoomCodeSpace))
	if err != nil {
		// crypto/rand only fails if the OS entropy source is broken
		panic(fmt.Errorf("reading random room code: %w", err))
	}
	return fmt.Sprintf("%0*d", RoomCodeLength, n.Int64())
}
