package audio

import (
	"errors"
	"sync"
)

// MemorySource is an in-process Source fed with samples programmatically.
// It backs tests and the sample-injection path used by integration tooling.
type MemorySource struct {
	mu       sync.Mutex
	open     bool
	cfg      StreamConfig
	onFrame  FrameCallback
	onStatus StatusCallback

	// OpenErr, when set, makes Open fail. Lets tests simulate a missing or
	// busy capture device.
	OpenErr error
}

func (s *MemorySource) Open(deviceID int, cfg StreamConfig, onFrame FrameCallback, onStatus StatusCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return &DeviceUnavailableError{DeviceID: deviceID, Err: s.OpenErr}
	}
	if s.open {
		return errors.New("memory source already open")
	}
	s.open = true
	s.cfg = cfg
	s.onFrame = onFrame
	s.onStatus = onStatus
	return nil
}

func (s *MemorySource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *MemorySource) Close() error {
	s.mu.Lock()
	s.open = false
	s.onFrame = nil
	s.onStatus = nil
	s.mu.Unlock()
	return nil
}

// Feed splits samples into frames of the configured size and delivers them
// through the frame callback. A trailing partial frame is dropped, matching
// fixed-size device delivery.
func (s *MemorySource) Feed(samples []float32) {
	s.mu.Lock()
	onFrame := s.onFrame
	size := s.cfg.FrameSize
	s.mu.Unlock()
	if onFrame == nil || size <= 0 {
		return
	}
	for off := 0; off+size <= len(samples); off += size {
		frame := make(Frame, size)
		copy(frame, samples[off:off+size])
		onFrame(frame)
	}
}

// ReportStatus delivers a device status code, if a stream is open.
func (s *MemorySource) ReportStatus(code string) {
	s.mu.Lock()
	onStatus := s.onStatus
	s.mu.Unlock()
	if onStatus != nil {
		onStatus(code)
	}
}
