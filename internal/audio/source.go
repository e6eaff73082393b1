package audio

import "fmt"

// StreamConfig describes the capture format a source must deliver: mono
// float32 frames of FrameSize samples at SampleRate.
type StreamConfig struct {
	SampleRate int
	FrameSize  int
}

// FrameCallback receives each captured frame. The frame is only valid for the
// duration of the call; implementations that retain samples must copy them.
type FrameCallback func(frame Frame)

// StatusCallback receives device-reported stream conditions such as input
// overflow. Codes are short stable strings suitable for event detail fields.
type StatusCallback func(code string)

// Source abstracts a capture device so the session logic can be exercised
// without real audio hardware.
type Source interface {
	// Open starts delivering frames to onFrame. deviceID selects a capture
	// device; a negative value means the system default.
	Open(deviceID int, cfg StreamConfig, onFrame FrameCallback, onStatus StatusCallback) error
	// Active reports whether the stream is currently open.
	Active() bool
	// Close stops the stream and releases the device. Idempotent.
	Close() error
}

// DeviceUnavailableError reports that the capture device could not be opened.
type DeviceUnavailableError struct {
	DeviceID int
	Err      error
}

func (e *DeviceUnavailableError) Error() string {
	if e.DeviceID < 0 {
		return fmt.Sprintf("default capture device unavailable: %v", e.Err)
	}
	return fmt.Sprintf("capture device %d unavailable: %v", e.DeviceID, e.Err)
}

func (e *DeviceUnavailableError) Unwrap() error {
	return e.Err
}
