package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures mono float32 frames from a PortAudio input device.
type PortAudioSource struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	frame  Frame
}

// NewPortAudioSource initializes the PortAudio runtime. Callers must invoke
// Terminate when the source will no longer be used.
func NewPortAudioSource() (*PortAudioSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &PortAudioSource{}, nil
}

func (s *PortAudioSource) Open(deviceID int, cfg StreamConfig, onFrame FrameCallback, onStatus StatusCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil
	}

	// The scratch frame is reused across callbacks: every downstream consumer
	// copies what it keeps before the callback returns.
	s.frame = make(Frame, cfg.FrameSize)

	callback := func(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		if flags&portaudio.InputOverflow != 0 && onStatus != nil {
			onStatus("input-overflow")
		}
		frame := s.frame[:copy(s.frame, in)]
		onFrame(frame)
	}

	stream, err := s.openStream(deviceID, cfg, callback)
	if err != nil {
		return &DeviceUnavailableError{DeviceID: deviceID, Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return &DeviceUnavailableError{DeviceID: deviceID, Err: fmt.Errorf("start stream: %w", err)}
	}

	s.stream = stream
	return nil
}

func (s *PortAudioSource) openStream(deviceID int, cfg StreamConfig, callback any) (*portaudio.Stream, error) {
	if deviceID < 0 {
		stream, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), cfg.FrameSize, callback)
		if err != nil {
			return nil, fmt.Errorf("open default stream: %w", err)
		}
		return stream, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	if deviceID >= len(devices) {
		return nil, fmt.Errorf("device index %d out of range (%d devices)", deviceID, len(devices))
	}
	dev := devices[deviceID]
	if dev.MaxInputChannels < 1 {
		return nil, fmt.Errorf("device %q has no input channels", dev.Name)
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.FrameSize

	stream, err := portaudio.OpenStream(params, callback)
	if err != nil {
		return nil, fmt.Errorf("open stream on %q: %w", dev.Name, err)
	}
	return stream, nil
}

func (s *PortAudioSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}
	err := s.stream.Stop()
	if cerr := s.stream.Close(); err == nil {
		err = cerr
	}
	s.stream = nil
	return err
}

// Terminate releases the PortAudio runtime.
func (s *PortAudioSource) Terminate() {
	s.Close()
	portaudio.Terminate()
}
