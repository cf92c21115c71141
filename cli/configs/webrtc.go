package configs

import (
	"fmt"

	"github.com/gregriff/jamsesh/cli/internal/audio"
	"github.com/gregriff/jamsesh/internal/schemas"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/stats"
	"github.com/pion/webrtc/v4"
)

// NewAPI creates the webrtc.API for a single peer connection, configured with the Opus audio
// codec and the default RTCP interceptors. onStats receives the statistics getter of the
// connection created from it, which reports what the remote end observes of our outbound audio.
func NewAPI(onStats func(stats.Getter)) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	codecParams := webrtc.RTPCodecParameters{
		RTPCodecCapability: audio.OpusCodec,
		PayloadType:        111,
	}
	if err := mediaEngine.RegisterCodec(codecParams, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("error registering codec: %w", err)
	}

	// NACKs and RTCP reports. Receiver reports carry the loss and round trip time
	// the bitrate controller reacts to.
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("error registering interceptors: %w", err)
	}

	statsInterceptor, err := stats.NewInterceptor()
	if err != nil {
		return nil, fmt.Errorf("error creating stats interceptor: %w", err)
	}
	statsInterceptor.OnNewPeerConnection(func(_ string, getter stats.Getter) {
		if onStats != nil {
			onStats(getter)
		}
	})
	interceptorRegistry.Add(statsInterceptor)

	// prevents packet size overruns
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetReceiveMTU(3_000)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(settingEngine),
	), nil
}

// ICEServers combines the configured STUN server with relay servers handed out by the jamsesh server.
func ICEServers(stunServer string, relays []schemas.ICEServer) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(relays)+1)
	if stunServer != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{stunServer}})
	}
	for _, r := range relays {
		if len(r.URLs) == 0 {
			continue
		}
		servers = append(servers, r.WebRTC())
	}
	return servers
}
