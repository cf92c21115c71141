package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/gregriff/jamsesh/cli/internal/peer"
	"github.com/gregriff/jamsesh/cli/internal/ringbuffer"
	"github.com/pion/webrtc/v4"
	log "github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"
)

// Speaker plays remote tracks through the default output device, one device per track.
type Speaker struct {
	ctx *malgo.AllocatedContext
}

func OpenSpeaker() (*Speaker, error) {
	ctx, err := initContext()
	if err != nil {
		return nil, err
	}
	return &Speaker{ctx: ctx}, nil
}

func (s *Speaker) Close() error {
	freeContext(s.ctx)
	return nil
}

// Play starts decoding track into a new playback device.
func (s *Speaker) Play(peerID string, track *webrtc.TrackRemote) (peer.Player, error) {
	p := &Playback{
		peerID: peerID,
		buffer: ringbuffer.New(playbackCapacity),
		log:    log.WithField("peer", peerID),
	}

	// fires every period, asking for the next samples to play
	onSendFrames := func(pOutputSample, _ []byte, _ uint32) {
		p.buffer.Read(pOutputSample)
	}

	var err error
	p.device, err = malgo.InitDevice(s.ctx.Context, deviceConfig(malgo.Playback), malgo.DeviceCallbacks{
		Data: onSendFrames,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating playback device: %w", err)
	}

	decoder, err := opus.NewDecoder(SampleRate, NumChannels)
	if err != nil {
		p.device.Uninit()
		return nil, fmt.Errorf("decoder error: %w", err)
	}

	// ends when the transport closes the track
	go p.decode(track, decoder)
	return p, nil
}

// Playback renders one remote track. It starts suspended.
type Playback struct {
	peerID string
	device *malgo.Device
	buffer *ringbuffer.RingBuffer
	log    *log.Entry

	mu     sync.Mutex
	closed bool
}

func (p *Playback) decode(track *webrtc.TrackRemote, decoder *opus.Decoder) {
	pcm := make([]int16, frameSize*4)
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return // track closed
			}
			p.log.WithError(err).Debug("packet read")
			continue
		}

		n, err := decoder.Decode(packet.Payload, pcm)
		if err != nil {
			p.log.WithError(err).Debug("opus decode")
			continue
		}
		// Decode reports samples per channel
		p.buffer.Write(pcm[:n*NumChannels])
	}
}

// Suspend stops the output device. Decoded audio keeps arriving and is dropped on Resume.
func (p *Playback) Suspend() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.device.IsStarted() {
		return nil
	}
	return p.device.Stop()
}

// Resume starts the output device from the live edge of the stream.
func (p *Playback) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.device.IsStarted() {
		return nil
	}
	// the callback is the only reader and is not running
	p.buffer.Discard()
	return p.device.Start()
}

func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.device.Uninit()
	p.log.Debug("playback device closed")
	return nil
}
