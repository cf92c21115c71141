// Package bitrate adapts the outbound audio bitrate ceiling of one peer session to the
// packet loss and round-trip time the remote end reports.
package bitrate

import (
	"fmt"
	"strings"
)

// Level is one of the ordered bitrate ceilings. The zero Level is unset.
type Level int

const (
	Low Level = iota + 1
	Medium
	High
)

// Bitrate returns the ceiling for l in bits per second.
func (l Level) Bitrate() int {
	switch l {
	case High:
		return 192_000
	case Medium:
		return 96_000
	default:
		return 48_000
	}
}

func (l Level) String() string {
	switch l {
	case High:
		return "high"
	case Medium:
		return "medium"
	default:
		return "low"
	}
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return High, nil
	case "medium":
		return Medium, nil
	case "low":
		return Low, nil
	default:
		return Medium, fmt.Errorf("unknown bitrate level %q (want low, medium or high)", s)
	}
}

func (l Level) down() Level { return max(l-1, Low) }

func (l Level) up() Level { return min(l+1, High) }

// Thresholds for stepping. Between the degrade and upgrade thresholds the level holds.
const (
	DegradeLoss = 0.15
	DegradeRTT  = 0.4 // seconds
	UpgradeLoss = 0.10
	UpgradeRTT  = 0.25 // seconds
)

// Sample is the quality of the outbound audio flow as observed by the remote end.
type Sample struct {
	// FractionLost is between 0 and 1.
	FractionLost float64

	// RoundTripTime is in seconds.
	RoundTripTime float64
}

// Next returns the level to use after observing s at level current. It moves at most one step.
func Next(current Level, s Sample) Level {
	if s.FractionLost > DegradeLoss || s.RoundTripTime > DegradeRTT {
		return current.down()
	}
	if s.FractionLost < UpgradeLoss && s.RoundTripTime < UpgradeRTT {
		return current.up()
	}
	return current
}
