package playback

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// DeviceSink plays raw PCM on the default output device via malgo. It only
// accepts audio/pcm buffers; encoded formats need the exec sink and an
// external player, since this process does no codec work.
type DeviceSink struct {
	sampleRate uint32
	channels   uint32
}

func NewDeviceSink(sampleRate, channels int) (*DeviceSink, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channels must be positive, got %d", channels)
	}
	return &DeviceSink{sampleRate: uint32(sampleRate), channels: uint32(channels)}, nil
}

func (s *DeviceSink) Open(audio []byte, mimeType string) (Resource, error) {
	if mimeType != "audio/pcm" {
		return nil, fmt.Errorf("device sink plays raw pcm only, got %s", mimeType)
	}
	return &deviceResource{
		sink:  s,
		audio: audio,
		done:  make(chan error, 1),
	}, nil
}

type deviceResource struct {
	sink  *DeviceSink
	audio []byte

	mu       sync.Mutex
	cursor   int
	finished bool

	malgoContext *malgo.AllocatedContext
	device       *malgo.Device
	done         chan error
	releaseOnce  sync.Once
}

func (r *deviceResource) Start() error {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("initialize audio context: %w", err)
	}
	r.malgoContext = malgoCtx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = r.sink.channels
	deviceConfig.SampleRate = r.sink.sampleRate

	var callbacks malgo.DeviceCallbacks
	callbacks.Data = func(pOutputSample, pInputSamples []byte, framecount uint32) {
		r.mu.Lock()
		defer r.mu.Unlock()
		n := 0
		if !r.finished {
			n = copy(pOutputSample, r.audio[r.cursor:])
			r.cursor += n
			if r.cursor >= len(r.audio) {
				r.finished = true
				r.done <- nil
			}
		}
		// Zero-fill so the tail of the last period is silence, not garbage.
		for i := n; i < len(pOutputSample); i++ {
			pOutputSample[i] = 0
		}
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		malgoCtx.Uninit()
		malgoCtx.Free()
		r.malgoContext = nil
		return fmt.Errorf("initialize playback device: %w", err)
	}
	r.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		malgoCtx.Uninit()
		malgoCtx.Free()
		r.device = nil
		r.malgoContext = nil
		return fmt.Errorf("start playback device: %w", err)
	}
	return nil
}

func (r *deviceResource) Done() <-chan error {
	return r.done
}

func (r *deviceResource) Release() error {
	r.releaseOnce.Do(func() {
		r.mu.Lock()
		r.finished = true
		r.mu.Unlock()
		if r.device != nil {
			_ = r.device.Stop()
			r.device.Uninit()
			r.device = nil
		}
		if r.malgoContext != nil {
			r.malgoContext.Uninit()
			r.malgoContext.Free()
			r.malgoContext = nil
		}
	})
	return nil
}
