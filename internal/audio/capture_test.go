package audio

import (
	"testing"
	"time"
)

func sequence(start, n int) Frame {
	frame := make(Frame, n)
	for i := range frame {
		frame[i] = float32(start + i)
	}
	return frame
}

func TestCaptureBufferAppendAndSnapshot(t *testing.T) {
	buf := NewCaptureBuffer(16)
	buf.Append(sequence(0, 4))
	buf.Append(sequence(4, 4))

	snap := buf.Snapshot()
	if len(snap) != 8 {
		t.Fatalf("expected 8 samples, got %d", len(snap))
	}
	for i, v := range snap {
		if v != float32(i) {
			t.Fatalf("sample %d = %f, want %d", i, v, i)
		}
	}
}

func TestCaptureBufferEvictsOldest(t *testing.T) {
	buf := NewCaptureBuffer(8)
	for i := 0; i < 3; i++ {
		buf.Append(sequence(i*4, 4))
	}

	snap := buf.Snapshot()
	if len(snap) != 8 {
		t.Fatalf("expected capacity-bounded length 8, got %d", len(snap))
	}
	// Oldest frame (0..3) evicted; 4..11 remain in order.
	for i, v := range snap {
		if v != float32(i+4) {
			t.Fatalf("sample %d = %f, want %d", i, v, i+4)
		}
	}
}

func TestCaptureBufferOversizedFrame(t *testing.T) {
	buf := NewCaptureBuffer(4)
	buf.Append(sequence(0, 10))

	snap := buf.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(snap))
	}
	for i, v := range snap {
		if v != float32(i+6) {
			t.Fatalf("sample %d = %f, want %d", i, v, i+6)
		}
	}
}

func TestCaptureBufferClearIdempotent(t *testing.T) {
	buf := NewCaptureBuffer(8)
	buf.Append(sequence(0, 4))
	buf.Clear()
	buf.Clear()
	if buf.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d samples", buf.Len())
	}
	if snap := buf.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %d samples", len(snap))
	}

	// Buffer remains usable after clearing.
	buf.Append(sequence(100, 4))
	snap := buf.Snapshot()
	if len(snap) != 4 || snap[0] != 100 {
		t.Fatalf("unexpected snapshot after reuse: %v", snap)
	}
}

func TestCaptureBufferSnapshotIsCopy(t *testing.T) {
	buf := NewCaptureBuffer(8)
	buf.Append(sequence(0, 4))
	snap := buf.Snapshot()
	snap[0] = 999
	if again := buf.Snapshot(); again[0] != 0 {
		t.Fatalf("snapshot mutation leaked into buffer: %v", again)
	}
}

func TestUtteranceDuration(t *testing.T) {
	u := Utterance{Samples: make([]float32, 16000), SampleRate: 16000}
	if u.Duration() != time.Second {
		t.Fatalf("expected 1s, got %v", u.Duration())
	}
	if u.Empty() {
		t.Fatal("expected non-empty utterance")
	}
	if !(Utterance{}).Empty() {
		t.Fatal("expected zero utterance to be empty")
	}
}
