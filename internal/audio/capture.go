package audio

import "sync"

// CaptureBuffer is a bounded ring of mono samples. Appends come from the
// device callback, so the critical section stays short and allocation-free;
// storage is sized once at construction. When the buffer is full the oldest
// samples are evicted so the most recent window is always retained.
type CaptureBuffer struct {
	mu     sync.Mutex
	data   []float32
	start  int
	length int
}

// NewCaptureBuffer creates a buffer holding at most maxSamples samples.
func NewCaptureBuffer(maxSamples int) *CaptureBuffer {
	if maxSamples <= 0 {
		maxSamples = 1
	}
	return &CaptureBuffer{data: make([]float32, maxSamples)}
}

// Append copies the frame into the ring, evicting the oldest samples when
// capacity is exceeded. Safe to call from the audio callback.
func (b *CaptureBuffer) Append(frame Frame) {
	n := len(frame)
	if n == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.data)
	if n >= capacity {
		// Frame alone overflows the ring; keep only its tail.
		copy(b.data, frame[n-capacity:])
		b.start = 0
		b.length = capacity
		return
	}

	write := (b.start + b.length) % capacity
	first := copy(b.data[write:], frame)
	if first < n {
		copy(b.data, frame[first:])
	}

	b.length += n
	if b.length > capacity {
		b.start = (b.start + b.length - capacity) % capacity
		b.length = capacity
	}
}

// Snapshot returns a copy of the buffered samples in capture order. The copy
// is taken under the lock so a concurrent Append cannot tear it.
func (b *CaptureBuffer) Snapshot() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]float32, b.length)
	first := copy(out, b.data[b.start:min(b.start+b.length, len(b.data))])
	if first < b.length {
		copy(out[first:], b.data[:b.length-first])
	}
	return out
}

// Clear discards all buffered samples. Idempotent.
func (b *CaptureBuffer) Clear() {
	b.mu.Lock()
	b.start = 0
	b.length = 0
	b.mu.Unlock()
}

// Len reports the number of buffered samples.
func (b *CaptureBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}
