package audio

// these cgo flags disable all miniaudio subsystems that will not be used
// https://miniaud.io/docs/manual/index.html#Building

/*
   #cgo CFLAGS: -DMA_ENABLE_ONLY_SPECIFIC_BACKENDS
   #cgo CFLAGS: -DMA_ENABLE_COREAUDIO -DMA_ENABLE_PULSEAUDIO -DMA_ENABLE_ALSA -DMA_ENABLE_JACK -DMA_ENABLE_WASAPI
   #cgo CFLAGS: -DMA_NO_DECODING -DMA_NO_ENCODING
   #cgo CFLAGS: -DMA_NO_RESOURCE_MANAGER
*/
import "C"

import (
	"fmt"

	"github.com/gen2brain/malgo"
	log "github.com/sirupsen/logrus"
)

func initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debugf("miniaudio: %s", message)
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing device context: %w", err)
	}
	return ctx, nil
}

func freeContext(ctx *malgo.AllocatedContext) {
	if ctx == nil {
		return
	}
	if err := ctx.Uninit(); err != nil {
		log.WithError(err).Warn("uninitializing device context")
	}
	ctx.Free()
}

func deviceConfig(kind malgo.DeviceType) malgo.DeviceConfig {
	cfg := malgo.DefaultDeviceConfig(kind)
	cfg.SampleRate = SampleRate
	cfg.PeriodSizeInMilliseconds = frameDurationMs
	switch kind {
	case malgo.Capture:
		cfg.Capture.Format = AudioFormat
		cfg.Capture.Channels = NumChannels
	case malgo.Playback:
		cfg.Playback.Format = AudioFormat
		cfg.Playback.Channels = NumChannels
		cfg.Alsa.NoMMap = 1
	}
	return cfg
}
