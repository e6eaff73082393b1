package vad

import (
	"fmt"
	"sync"

	"github.com/streamer45/silero-vad-go/speech"
)

// SileroModel adapts the Silero streaming detector to the Model interface.
// The detector reports start/end transitions; the adapter tracks whether the
// stream is currently inside a speech segment and scores frames accordingly.
type SileroModel struct {
	mu       sync.Mutex
	detector *speech.Detector
	inSpeech bool
}

// NewSileroModel loads the Silero ONNX model at modelPath. The detector
// expects 16 kHz mono frames of 512 samples.
func NewSileroModel(modelPath string, sampleRate int, threshold float64) (*SileroModel, error) {
	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:  modelPath,
		SampleRate: sampleRate,
		Threshold:  float32(threshold),
	})
	if err != nil {
		return nil, fmt.Errorf("create silero detector: %w", err)
	}
	return &SileroModel{detector: detector}, nil
}

func (m *SileroModel) Probability(frame []float32) (float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, err := m.detector.DetectStreamFrame(frame)
	if err != nil {
		return 0, fmt.Errorf("silero stream frame: %w", err)
	}
	if event != nil {
		if event.IsStart {
			m.inSpeech = true
		}
		if event.IsEnd {
			m.inSpeech = false
		}
	}
	if m.inSpeech {
		return 1, nil
	}
	return 0, nil
}

func (m *SileroModel) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inSpeech = false
	if err := m.detector.Reset(); err != nil {
		return fmt.Errorf("reset silero detector: %w", err)
	}
	return nil
}

func (m *SileroModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.detector == nil {
		return nil
	}
	err := m.detector.Destroy()
	m.detector = nil
	if err != nil {
		return fmt.Errorf("destroy silero detector: %w", err)
	}
	return nil
}
