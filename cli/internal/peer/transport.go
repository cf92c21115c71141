package peer

import (
	"context"

	"github.com/gregriff/jamsesh/cli/internal/bitrate"
	"github.com/pion/webrtc/v4"
)

// Transport is one negotiated media session with a remote peer.
type Transport interface {
	// AttachAudio adds track as the outgoing audio flow. It must be called before CreateOffer.
	AttachAudio(track webrtc.TrackLocal) error

	// CreateOffer creates an offer and applies it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)

	// AcceptOffer applies a remote offer and returns the applied local answer.
	AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AcceptAnswer(answer webrtc.SessionDescription) error
	AddCandidate(candidate webrtc.ICECandidateInit) error

	// OutboundAudioStats reports the outgoing audio flow as seen by the remote end.
	// ok is false until a report has arrived.
	OutboundAudioStats() (s bitrate.Sample, ok bool, err error)
	Close() error
}

// TransportEvents are invoked from transport goroutines.
type TransportEvents struct {
	OnCandidate   func(webrtc.ICECandidateInit)
	OnTrack       func(*webrtc.TrackRemote)
	OnStateChange func(webrtc.PeerConnectionState)
}

// TransportFactory builds the transport for a new session. ctx ends when the session closes;
// NewTransport may block on it, for instance to fetch relay credentials.
type TransportFactory interface {
	NewTransport(ctx context.Context, peerID string, events TransportEvents) (Transport, error)
}

// AudioSender feeds local audio into one peer's outgoing track.
type AudioSender interface {
	Track() webrtc.TrackLocal
	SetMaxBitrate(bps int) error
	Close() error
}

type AudioSource interface {
	NewSender(peerID string, bps int) (AudioSender, error)
}

// Player renders one remote audio flow.
type Player interface {
	Suspend() error
	Resume() error
	Close() error
}

type AudioSink interface {
	Play(peerID string, track *webrtc.TrackRemote) (Player, error)
}

// Signaler delivers negotiation messages to the signaling server.
type Signaler interface {
	Send(v any) error
}
