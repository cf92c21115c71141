// Package wrtc implements peer transports on pion webrtc.
package wrtc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gregriff/jamsesh/cli/configs"
	"github.com/gregriff/jamsesh/cli/internal/bitrate"
	"github.com/gregriff/jamsesh/cli/internal/peer"
	"github.com/gregriff/jamsesh/cli/internal/services/jamsesh"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/webrtc/v4"
	log "github.com/sirupsen/logrus"
)

// ICEServerSource returns the ICE servers for one new connection.
type ICEServerSource func(ctx context.Context) []webrtc.ICEServer

// RelayServers asks the jamsesh server for relay credentials on every call, since they expire,
// and puts stunServer in front of them. A failed request leaves only stunServer.
func RelayServers(client *http.Client, stunServer string) ICEServerSource {
	return func(ctx context.Context) []webrtc.ICEServer {
		relays := jamsesh.FetchICEServers(ctx, client)
		log.Debugf("%d relay servers", len(relays))
		return configs.ICEServers(stunServer, relays)
	}
}

// Factory creates one PeerConnection per remote peer.
type Factory struct {
	// ICEServers is consulted before each connection. Nil means host candidates only.
	ICEServers ICEServerSource
}

func (f *Factory) NewTransport(ctx context.Context, peerID string, events peer.TransportEvents) (peer.Transport, error) {
	t := &Transport{log: log.WithField("peer", peerID)}

	var servers []webrtc.ICEServer
	if f.ICEServers != nil {
		servers = f.ICEServers(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	api, err := configs.NewAPI(func(g stats.Getter) { t.stats.Store(&g) })
	if err != nil {
		return nil, err
	}
	t.pc, err = api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("error creating peer connection: %w", err)
	}

	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			t.log.Debug("ice gathering complete")
			return
		}
		t.log.Debugf("ICE candidate gathered: %s", c.Address)
		if events.OnCandidate != nil {
			events.OnCandidate(c.ToJSON())
		}
	})
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.log.Infof("remote %s track %s", track.Kind(), track.Codec().MimeType)
		if events.OnTrack != nil && track.Kind() == webrtc.RTPCodecTypeAudio {
			events.OnTrack(track)
		}
	})
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.log.Infof("peer connection state has changed: %s", s)
		if events.OnStateChange != nil {
			events.OnStateChange(s)
		}
	})
	return t, nil
}

// Transport is a peer.Transport over a single PeerConnection.
type Transport struct {
	pc    *webrtc.PeerConnection
	log   *log.Entry
	stats atomic.Pointer[stats.Getter]

	mu     sync.Mutex
	sender *webrtc.RTPSender
}

func (t *Transport) AttachAudio(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("error adding track: %w", err)
	}

	// interceptors only see RTCP that is read
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	t.mu.Lock()
	t.sender = sender
	t.mu.Unlock()
	return nil
}

// CreateOffer creates the offer and starts ICE gathering. Without outgoing audio the offer
// still asks to receive it.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	if len(t.pc.GetTransceivers()) == 0 {
		_, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("error adding transceiver: %w", err)
		}
	}

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return offer, fmt.Errorf("error creating offer: %w", err)
	}
	// starts ICE gathering and UDP listeners
	if err = t.pc.SetLocalDescription(offer); err != nil {
		return offer, fmt.Errorf("error setting local description: %w", err)
	}
	return offer, nil
}

// AcceptOffer sets the remote description of the caller given their offer, creates the answer
// and starts ICE gathering.
func (t *Transport) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("error setting remote description: %w", err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return answer, fmt.Errorf("error creating answer: %w", err)
	}
	if err = t.pc.SetLocalDescription(answer); err != nil {
		return answer, fmt.Errorf("error setting local description: %w", err)
	}
	return answer, nil
}

func (t *Transport) AcceptAnswer(answer webrtc.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("error setting remote description: %w", err)
	}
	return nil
}

func (t *Transport) AddCandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

// OutboundAudioStats reads the latest receiver report for the outgoing audio.
func (t *Transport) OutboundAudioStats() (bitrate.Sample, bool, error) {
	t.mu.Lock()
	sender := t.sender
	t.mu.Unlock()
	getter := t.stats.Load()
	if sender == nil || getter == nil {
		return bitrate.Sample{}, false, nil
	}

	encodings := sender.GetParameters().Encodings
	if len(encodings) == 0 {
		return bitrate.Sample{}, false, errors.New("sender has no encodings")
	}
	s, ok := sampleFrom((*getter).Get(uint32(encodings[0].SSRC)))
	return s, ok, nil
}

// sampleFrom converts interceptor stats. ok is false until a report with a round trip
// measurement has arrived.
func sampleFrom(s *stats.Stats) (bitrate.Sample, bool) {
	if s == nil || s.RemoteInboundRTPStreamStats.RoundTripTimeMeasurements == 0 {
		return bitrate.Sample{}, false
	}
	return bitrate.Sample{
		FractionLost:  s.RemoteInboundRTPStreamStats.FractionLost,
		RoundTripTime: s.RemoteInboundRTPStreamStats.RoundTripTime.Seconds(),
	}, true
}

// Close closes the connection, which forces pending track reads to unblock.
func (t *Transport) Close() error {
	if err := t.pc.GracefulClose(); err != nil {
		return fmt.Errorf("cannot gracefully close peer connection: %w", err)
	}
	return nil
}
