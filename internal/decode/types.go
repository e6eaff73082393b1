package decode

import "fmt"

// Spectrogram is a mel feature matrix in bin-major layout: Data[m*Frames+t]
// holds mel bin m at time frame t. Length is the number of valid frames
// reported by the frontend; trailing frames up to Frames are padding.
type Spectrogram struct {
	Data   []float32
	Mels   int
	Frames int
	Length int
}

// Encoded is the encoder output as a time-major sequence of feature vectors,
// one per encoded frame.
type Encoded struct {
	Frames [][]float32
}

// JointState carries the recurrent prediction-network state between joint
// steps. Contents are opaque to the decoder; it only threads them through.
type JointState struct {
	S1 []float32
	S2 []float32
}

// FrontendSession converts raw mono samples into a mel spectrogram.
type FrontendSession interface {
	Features(samples []float32) (Spectrogram, error)
}

// EncoderSession runs the acoustic encoder over a full spectrogram.
type EncoderSession interface {
	Encode(spec Spectrogram) (Encoded, error)
}

// JointSession evaluates one prediction/joint step: given an encoded frame,
// the previously emitted token, and the recurrent state, it produces token
// logits and the successor state.
type JointSession interface {
	NewState() JointState
	Step(encFrame []float32, lastToken int, state JointState) (logits []float32, next JointState, err error)
}

// Inference stages, used to attribute failures to a pipeline model.
const (
	StageFrontend = "frontend"
	StageEncoder  = "encoder"
	StageJoint    = "joint"
)

// InferenceError wraps a model-runtime failure with the stage it occurred in.
type InferenceError struct {
	Stage string
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference failed: %v", e.Stage, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Result is a finalized decode: detokenized text plus the emitted token ids.
// For chunked decodes both are deduplicated across overlap windows, so the
// tokens always detokenize to Text.
type Result struct {
	Text   string
	Tokens []int
}
