package pipeline

import (
	"fmt"
	"time"
)

// TimeoutAbandonedError reports a decode that exceeded its deadline. The
// worker goroutine is abandoned: it keeps running until the next cooperative
// cancellation point and its result is discarded.
type TimeoutAbandonedError struct {
	Timeout time.Duration
}

func (e *TimeoutAbandonedError) Error() string {
	return fmt.Sprintf("transcription abandoned after %s", e.Timeout)
}
