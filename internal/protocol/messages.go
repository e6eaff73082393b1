package protocol

import "time"

// PipelineEvent is a best-effort notification broadcast to UI consumers
// (tray, overlay). Delivery failures must never abort the pipeline operation
// that produced the event.
type PipelineEvent struct {
	Name      string    `json:"name"`
	Detail    string    `json:"detail,omitempty"`
	BindingID string    `json:"binding_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is the finalized dictation result broadcast on the bus.
type Transcript struct {
	BindingID   string    `json:"binding_id"`
	Text        string    `json:"text"`
	PostText    string    `json:"post_text,omitempty"`
	Tokens      []int     `json:"tokens,omitempty"`
	DurationSec float64   `json:"duration_sec"`
	Empty       bool      `json:"empty"`
	HistoryID   string    `json:"history_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Command messages let external collaborators (hotkey daemon, settings UI)
// drive the pipeline over the bus.
type StartCommand struct {
	BindingID string `json:"binding_id"`
	DeviceID  int    `json:"device_id"`
}

type StopCommand struct {
	BindingID string `json:"binding_id"`
}

const (
	SubjectCommandStart  = "dictation.cmd.start"
	SubjectCommandStop   = "dictation.cmd.stop"
	SubjectCommandCancel = "dictation.cmd.cancel"
	SubjectEvent         = "dictation.event"
	SubjectTranscript    = "dictation.transcript"
)

// Event names shared with UI consumers.
const (
	EventLoadingStarted     = "loading-started"
	EventLoadingCompleted   = "loading-completed"
	EventLoadingFailed      = "loading-failed"
	EventUnloaded           = "unloaded"
	EventStreamOpened       = "stream-opened"
	EventStreamClosed       = "stream-closed"
	EventStreamOpenFailed   = "stream-open-failed"
	EventStreamStatus       = "stream-status"
	EventRecordingStarted   = "recording-started"
	EventRecordingStopped   = "recording-stopped"
	EventRecordingCancelled = "recording-cancelled"
	EventStopIgnored        = "recording-stop-ignored"
	EventVADFallback        = "vad-fallback"
)
