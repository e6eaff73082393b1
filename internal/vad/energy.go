package vad

import "math"

// Energy gating maps RMS level to a pseudo-probability so the same threshold
// scale works for both backends: a threshold t crosses at an RMS level of
// 0.005 + 0.05*t, which tracks typical close-mic speech levels.
const (
	energyFloor = 0.005
	energySpan  = 0.05
)

func energyScore(frame []float32) float32 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	score := (rms - energyFloor) / energySpan
	return float32(math.Min(1, math.Max(0, score)))
}

// EnergyModel is a stateless RMS-based speech detector. It backs the "energy"
// configuration and serves as the reference fallback when no neural model is
// available.
type EnergyModel struct{}

func NewEnergyModel() *EnergyModel {
	return &EnergyModel{}
}

func (*EnergyModel) Probability(frame []float32) (float32, error) {
	return energyScore(frame), nil
}

func (*EnergyModel) Reset() error { return nil }

func (*EnergyModel) Close() error { return nil }
