package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hushlabs/hush-core/internal/protocol"
	"github.com/hushlabs/hush-core/internal/vad"
)

// ErrAlreadyRecording is returned when Start is called while an episode is in
// progress. The in-flight episode is left untouched.
var ErrAlreadyRecording = errors.New("recording already in progress")

// NotOwnerError reports a Stop whose binding does not own the in-flight
// recording. The session state is left unchanged.
type NotOwnerError struct {
	Requested string
	Owner     string
}

func (e *NotOwnerError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("no recording in progress for binding %q", e.Requested)
	}
	return fmt.Sprintf("recording owned by binding %q, not %q", e.Owner, e.Requested)
}

// SessionConfig carries the capture parameters for recording episodes.
type SessionConfig struct {
	SampleRate          int
	FrameSize           int
	MaxRecordingSeconds int
	// AlwaysOnStream keeps the device stream open between episodes so start
	// latency stays low. Frames outside an episode are discarded.
	AlwaysOnStream bool
	// FilterSilence drops frames the voice gate scores as non-speech instead
	// of buffering them.
	FilterSilence bool
}

// EventFunc receives UI-facing session events. Implementations must be
// best-effort and non-blocking; emission never affects session state.
type EventFunc func(name, detail string)

// Session owns one microphone recording episode at a time: it opens the
// capture stream, routes callback frames through the voice gate into the
// ring buffer, and hands the finalized utterance to whoever stops it.
type Session struct {
	cfg     SessionConfig
	source  Source
	gate    *vad.Gate
	log     *slog.Logger
	onEvent EventFunc
	onLevel func(rms float64)

	mu             sync.Mutex
	recording      bool
	bindingID      string
	buffer         *CaptureBuffer
	warnedFallback bool
}

// NewSession wires a session over the given source. gate may be nil, which
// disables voice-activity gating entirely. onEvent may be nil.
func NewSession(cfg SessionConfig, source Source, gate *vad.Gate, log *slog.Logger, onEvent EventFunc) *Session {
	maxSamples := cfg.SampleRate * cfg.MaxRecordingSeconds
	return &Session{
		cfg:     cfg,
		source:  source,
		gate:    gate,
		log:     log.With(slog.String("component", "audio.session")),
		onEvent: onEvent,
		buffer:  NewCaptureBuffer(maxSamples),
	}
}

// SetLevelFunc installs an optional per-frame RMS hook for level meters. Must
// be called before Start.
func (s *Session) SetLevelFunc(fn func(rms float64)) {
	s.onLevel = fn
}

// Recording reports whether an episode is in flight.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// BindingID returns the owner of the in-flight episode, or "" when idle.
func (s *Session) BindingID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindingID
}

// Start begins a recording episode owned by bindingID, opening the capture
// stream if it is not already running. deviceID < 0 selects the system
// default device.
func (s *Session) Start(bindingID string, deviceID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recording {
		return ErrAlreadyRecording
	}

	if !s.source.Active() {
		cfg := StreamConfig{SampleRate: s.cfg.SampleRate, FrameSize: s.cfg.FrameSize}
		if err := s.source.Open(deviceID, cfg, s.handleFrame, s.handleStatus); err != nil {
			s.emit(protocol.EventStreamOpenFailed, err.Error())
			s.log.Error("failed to open capture stream",
				slog.Int("device_id", deviceID),
				slog.String("error", err.Error()))
			return err
		}
		s.emit(protocol.EventStreamOpened, "")
	}

	s.buffer.Clear()
	if s.gate != nil {
		s.gate.Reset()
	}
	s.recording = true
	s.bindingID = bindingID
	s.warnedFallback = false

	s.emit(protocol.EventRecordingStarted, "")
	s.log.Info("recording started", slog.String("binding_id", bindingID))
	return nil
}

// Stop ends the episode owned by bindingID and returns the buffered
// utterance. A Stop from a non-owning binding is ignored: the session state
// is untouched and a NotOwnerError is returned.
func (s *Session) Stop(bindingID string) (Utterance, error) {
	s.mu.Lock()
	if !s.recording || s.bindingID != bindingID {
		owner := s.bindingID
		s.mu.Unlock()
		s.emit(protocol.EventStopIgnored, bindingID)
		s.log.Warn("ignoring stop from non-owning binding",
			slog.String("requested", bindingID),
			slog.String("owner", owner))
		return Utterance{}, &NotOwnerError{Requested: bindingID, Owner: owner}
	}

	s.recording = false
	s.bindingID = ""
	samples := s.buffer.Snapshot()
	s.buffer.Clear()
	s.mu.Unlock()

	s.closeStreamIfTransient()
	s.emit(protocol.EventRecordingStopped, "")
	s.log.Info("recording stopped",
		slog.String("binding_id", bindingID),
		slog.Int("samples", len(samples)))

	return Utterance{Samples: samples, SampleRate: s.cfg.SampleRate}, nil
}

// Cancel discards the in-flight episode, if any, without producing an
// utterance. Idempotent.
func (s *Session) Cancel() {
	s.mu.Lock()
	wasRecording := s.recording
	s.recording = false
	s.bindingID = ""
	s.buffer.Clear()
	s.mu.Unlock()

	if wasRecording {
		s.closeStreamIfTransient()
		s.emit(protocol.EventRecordingCancelled, "")
		s.log.Info("recording cancelled")
	}
}

// Close releases the capture stream regardless of the always-on setting.
func (s *Session) Close() error {
	s.Cancel()
	return s.source.Close()
}

func (s *Session) closeStreamIfTransient() {
	if s.cfg.AlwaysOnStream {
		return
	}
	if err := s.source.Close(); err != nil {
		s.log.Warn("failed to close capture stream", slog.String("error", err.Error()))
		return
	}
	s.emit(protocol.EventStreamClosed, "")
}

// handleFrame runs on the audio callback path. It must stay cheap: one gate
// evaluation and one ring append, both bounded.
func (s *Session) handleFrame(frame Frame) {
	if s.onLevel != nil {
		s.onLevel(RMS(frame))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return
	}

	if s.gate == nil {
		s.buffer.Append(frame)
		return
	}

	decision, err := s.gate.Evaluate(frame)
	if err != nil {
		// Unexpected frame shape; keep the audio rather than lose speech.
		s.log.Warn("voice gate rejected frame",
			slog.Int("samples", len(frame)),
			slog.String("error", err.Error()))
		s.buffer.Append(frame)
		return
	}
	if decision.Fallback && !s.warnedFallback {
		s.warnedFallback = true
		s.emit(protocol.EventVADFallback, "")
		s.log.Warn("voice activity model failed, falling back to energy gating")
	}
	if !s.cfg.FilterSilence || decision.Speech {
		s.buffer.Append(frame)
	}
}

func (s *Session) handleStatus(code string) {
	s.emit(protocol.EventStreamStatus, code)
	s.log.Warn("capture stream status", slog.String("status", code))
}

func (s *Session) emit(name, detail string) {
	if s.onEvent != nil {
		s.onEvent(name, detail)
	}
}
