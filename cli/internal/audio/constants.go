// Package audio captures the microphone into per-peer Opus tracks and plays remote tracks
// through the default output device.
package audio

import (
	"time"

	"github.com/gen2brain/malgo"
	"github.com/pion/webrtc/v4"
)

const (
	NumChannels  = 2
	SampleRate   = 48_000
	samplesPerMs = SampleRate / 1000

	// denotes how many bytes per element
	AudioFormat = malgo.FormatS16

	frameDuration   = 20 * time.Millisecond
	frameDurationMs = 20
	frameSize       = NumChannels * frameDurationMs * samplesPerMs

	// enough for the largest Opus packet
	opusBufferSize = 4_000

	// one second of decoded audio
	playbackCapacity = SampleRate * NumChannels
)

var OpusCodec = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypeOpus,
	ClockRate: SampleRate,
	Channels:  NumChannels,
}
