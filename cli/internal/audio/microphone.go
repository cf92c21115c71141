package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/gregriff/jamsesh/cli/internal/peer"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	log "github.com/sirupsen/logrus"
	"gopkg.in/hraban/opus.v2"
)

// pcmBuffer is filled by the capture callback and drained by the encode loop.
type pcmBuffer struct {
	mu   sync.Mutex
	data []int16
}

// frame removes and returns one frame, or nil if a full frame has not been captured yet.
func (b *pcmBuffer) frame() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) < frameSize {
		return nil
	}
	f := make([]int16, frameSize)
	copy(f, b.data)
	b.data = append(b.data[:0], b.data[frameSize:]...)
	return f
}

// Microphone captures the default input device and fans every frame out to one Sender per peer.
// Each sender encodes independently so every peer can get its own bitrate ceiling.
type Microphone struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	pcm    pcmBuffer

	mu      sync.Mutex
	senders map[*Sender]struct{}
}

// OpenMicrophone starts capturing. Run must be called to deliver the audio.
func OpenMicrophone() (*Microphone, error) {
	m := &Microphone{senders: make(map[*Sender]struct{})}

	var err error
	if m.ctx, err = initContext(); err != nil {
		return nil, err
	}

	// fires every period with freshly captured PCM
	onRecvFrames := func(_, pInputSample []byte, _ uint32) {
		m.pcm.mu.Lock()
		m.pcm.data = append(m.pcm.data, bytesToInt16(pInputSample)...)
		m.pcm.mu.Unlock()
	}

	m.device, err = malgo.InitDevice(m.ctx.Context, deviceConfig(malgo.Capture), malgo.DeviceCallbacks{
		Data: onRecvFrames,
	})
	if err != nil {
		freeContext(m.ctx)
		return nil, fmt.Errorf("error creating capture device: %w", err)
	}
	if err := m.device.Start(); err != nil {
		m.device.Uninit()
		freeContext(m.ctx)
		return nil, fmt.Errorf("error starting capture device: %w", err)
	}
	return m, nil
}

// NewSender creates the outgoing track for peerID, encoding at bps.
func (m *Microphone) NewSender(peerID string, bps int) (peer.AudioSender, error) {
	s, err := newSender(peerID, bps)
	if err != nil {
		return nil, err
	}
	s.detach = func() {
		m.mu.Lock()
		delete(m.senders, s)
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.senders[s] = struct{}{}
	m.mu.Unlock()
	return s, nil
}

// Run encodes captured audio for every sender until ctx is done.
func (m *Microphone) Run(ctx context.Context) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := m.pcm.frame()
			if frame == nil {
				continue // wait for more data
			}

			m.mu.Lock()
			for s := range m.senders {
				s.write(frame)
			}
			m.mu.Unlock()
		}
	}
}

func (m *Microphone) Close() error {
	if m.device != nil {
		m.device.Uninit()
	}
	freeContext(m.ctx)
	log.Debug("capture device closed")
	return nil
}

// Sender is one peer's encoder and outgoing track.
type Sender struct {
	peerID string
	track  *webrtc.TrackLocalStaticSample
	detach func()

	mu      sync.Mutex
	encoder *opus.Encoder
	buf     []byte
}

func newSender(peerID string, bps int) (*Sender, error) {
	encoder, err := opus.NewEncoder(SampleRate, NumChannels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("encoder error: %w", err)
	}
	if err := encoder.SetBitrate(bps); err != nil {
		return nil, fmt.Errorf("setting bitrate: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(OpusCodec, "audio", "jamsesh-"+peerID)
	if err != nil {
		return nil, fmt.Errorf("error initializing capture track: %w", err)
	}
	return &Sender{
		peerID:  peerID,
		track:   track,
		encoder: encoder,
		buf:     make([]byte, opusBufferSize),
	}, nil
}

func (s *Sender) Track() webrtc.TrackLocal {
	return s.track
}

// SetMaxBitrate changes the encoder's target bitrate.
func (s *Sender) SetMaxBitrate(bps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encoder.SetBitrate(bps)
}

func (s *Sender) write(frame []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.encoder.Encode(frame, s.buf)
	if err != nil {
		log.WithField("peer", s.peerID).WithError(err).Debug("opus encode")
		return
	}
	if err := s.track.WriteSample(media.Sample{Data: s.buf[:n], Duration: frameDuration}); err != nil {
		log.WithField("peer", s.peerID).WithError(err).Debug("write sample")
	}
}

func (s *Sender) Close() error {
	if s.detach != nil {
		s.detach()
	}
	return nil
}

// bytesToInt16 turns a byte slice of PCM audio into an int16 slice for the opus encoder to use.
func bytesToInt16(b []byte) []int16 {
	result := make([]int16, len(b)/2)
	for i := range result {
		result[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return result
}
