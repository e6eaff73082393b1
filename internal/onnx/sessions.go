package onnx

import (
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hushlabs/hush-core/internal/decode"
)

// runner wraps one ONNX Runtime session. Run calls are serialized: the joint
// session is stepped thousands of times per utterance with shared state
// tensors, and the other stages are cheap enough that a mutex costs nothing.
type runner struct {
	mu       sync.Mutex
	sess     *ort.DynamicAdvancedSession
	inNames  []string
	outNames []string
	inInfo   map[string]ort.InputOutputInfo
}

func newRunner(path string, opts *ort.SessionOptions, requiredInputs []string) (*runner, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}

	inInfo := make(map[string]ort.InputOutputInfo, len(inputs))
	inNames := make([]string, len(inputs))
	for i, info := range inputs {
		inNames[i] = info.Name
		inInfo[info.Name] = info
	}
	for _, name := range requiredInputs {
		if _, ok := inInfo[name]; !ok {
			return nil, fmt.Errorf("%s: model has no input %q (has %v)", path, name, inNames)
		}
	}
	outNames := make([]string, len(outputs))
	for i, info := range outputs {
		outNames[i] = info.Name
	}

	sess, err := ort.NewDynamicAdvancedSession(path, inNames, outNames, opts)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", path, err)
	}
	return &runner{sess: sess, inNames: inNames, outNames: outNames, inInfo: inInfo}, nil
}

// run feeds the named inputs in the model's declared order and returns the
// outputs, allocated by the runtime. The caller owns the returned values.
func (r *runner) run(byName map[string]ort.Value) ([]ort.Value, error) {
	ordered := make([]ort.Value, len(r.inNames))
	for i, name := range r.inNames {
		v, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("missing value for input %q", name)
		}
		ordered[i] = v
	}

	outs := make([]ort.Value, len(r.outNames))
	r.mu.Lock()
	err := r.sess.Run(ordered, outs)
	r.mu.Unlock()
	if err != nil {
		destroyAll(outs)
		return nil, err
	}
	return outs, nil
}

func (r *runner) outputIndex(substr string) int {
	for i, name := range r.outNames {
		if strings.Contains(name, substr) {
			return i
		}
	}
	return -1
}

// close serializes with in-flight run calls so the session is never destroyed
// mid-inference. A stale caller stepping the session afterwards gets a runtime
// error, which surfaces as an inference failure.
func (r *runner) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.Destroy()
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}

// frontendSession runs the mel feature extraction graph: waveform in,
// (1, mels, frames) spectrogram out.
type frontendSession struct {
	r *runner
}

func newFrontendSession(path string, opts *ort.SessionOptions) (*frontendSession, error) {
	r, err := newRunner(path, opts, []string{"waveforms", "waveforms_lens"})
	if err != nil {
		return nil, err
	}
	return &frontendSession{r: r}, nil
}

func (s *frontendSession) Features(samples []float32) (decode.Spectrogram, error) {
	wave, err := ort.NewTensor(ort.NewShape(1, int64(len(samples))), samples)
	if err != nil {
		return decode.Spectrogram{}, fmt.Errorf("create waveform tensor: %w", err)
	}
	defer wave.Destroy()
	lens, err := ort.NewTensor(ort.NewShape(1), []int64{int64(len(samples))})
	if err != nil {
		return decode.Spectrogram{}, fmt.Errorf("create waveform length tensor: %w", err)
	}
	defer lens.Destroy()

	outs, err := s.r.run(map[string]ort.Value{"waveforms": wave, "waveforms_lens": lens})
	if err != nil {
		return decode.Spectrogram{}, err
	}
	defer destroyAll(outs)

	feats, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		return decode.Spectrogram{}, fmt.Errorf("unexpected feature tensor type %T", outs[0])
	}
	shape := feats.GetShape()
	if len(shape) != 3 {
		return decode.Spectrogram{}, fmt.Errorf("unexpected feature shape %v", shape)
	}
	mels := int(shape[1])
	frames := int(shape[2])

	length := frames
	if i := s.r.outputIndex("lens"); i > 0 {
		if lt, ok := outs[i].(*ort.Tensor[int64]); ok && len(lt.GetData()) > 0 {
			length = min(int(lt.GetData()[0]), frames)
		}
	}

	data := append([]float32(nil), feats.GetData()...)
	return decode.Spectrogram{Data: data, Mels: mels, Frames: frames, Length: length}, nil
}

func (s *frontendSession) close() error {
	return s.r.close()
}

// encoderSession runs the acoustic encoder: spectrogram in, time-major
// encoded frame vectors out. The encoder emits (1, dim, frames), so the
// output is transposed once here and the decoder indexes frames directly.
type encoderSession struct {
	r *runner
}

func newEncoderSession(path string, opts *ort.SessionOptions) (*encoderSession, error) {
	r, err := newRunner(path, opts, []string{"audio_signal", "length"})
	if err != nil {
		return nil, err
	}
	return &encoderSession{r: r}, nil
}

func (s *encoderSession) Encode(spec decode.Spectrogram) (decode.Encoded, error) {
	signal, err := ort.NewTensor(ort.NewShape(1, int64(spec.Mels), int64(spec.Frames)), spec.Data)
	if err != nil {
		return decode.Encoded{}, fmt.Errorf("create audio_signal tensor: %w", err)
	}
	defer signal.Destroy()
	length, err := ort.NewTensor(ort.NewShape(1), []int64{int64(spec.Length)})
	if err != nil {
		return decode.Encoded{}, fmt.Errorf("create length tensor: %w", err)
	}
	defer length.Destroy()

	outs, err := s.r.run(map[string]ort.Value{"audio_signal": signal, "length": length})
	if err != nil {
		return decode.Encoded{}, err
	}
	defer destroyAll(outs)

	enc, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		return decode.Encoded{}, fmt.Errorf("unexpected encoder tensor type %T", outs[0])
	}
	shape := enc.GetShape()
	if len(shape) != 3 {
		return decode.Encoded{}, fmt.Errorf("unexpected encoder shape %v", shape)
	}
	dim := int(shape[1])
	frames := int(shape[2])
	if i := s.r.outputIndex("length"); i > 0 {
		if lt, ok := outs[i].(*ort.Tensor[int64]); ok && len(lt.GetData()) > 0 {
			frames = min(int(lt.GetData()[0]), frames)
		}
	}

	data := enc.GetData()
	out := make([][]float32, frames)
	for t := 0; t < frames; t++ {
		vec := make([]float32, dim)
		for d := 0; d < dim; d++ {
			vec[d] = data[d*int(shape[2])+t]
		}
		out[t] = vec
	}
	return decode.Encoded{Frames: out}, nil
}

func (s *encoderSession) close() error {
	return s.r.close()
}

// Default recurrent state geometry for parakeet prediction networks, used
// when the graph declares dynamic state dimensions.
var defaultStateShape = []int64{2, 1, 640}

// jointSession runs one prediction/joint step per call.
type jointSession struct {
	r           *runner
	stateShape1 []int64
	stateShape2 []int64
	logitsIdx   int
	state1Idx   int
	state2Idx   int
}

func newJointSession(path string, opts *ort.SessionOptions) (*jointSession, error) {
	r, err := newRunner(path, opts, []string{
		"encoder_outputs", "targets", "target_length", "input_states_1", "input_states_2",
	})
	if err != nil {
		return nil, err
	}

	s := &jointSession{
		r:           r,
		stateShape1: stateShape(r.inInfo["input_states_1"]),
		stateShape2: stateShape(r.inInfo["input_states_2"]),
		logitsIdx:   0,
		state1Idx:   r.outputIndex("states_1"),
		state2Idx:   r.outputIndex("states_2"),
	}
	// Older exports name the state outputs positionally.
	if s.state1Idx < 0 && len(r.outNames) >= 4 {
		s.state1Idx = len(r.outNames) - 2
		s.state2Idx = len(r.outNames) - 1
	}
	return s, nil
}

func stateShape(info ort.InputOutputInfo) []int64 {
	dims := info.Dimensions
	if len(dims) != len(defaultStateShape) {
		return defaultStateShape
	}
	shape := make([]int64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = defaultStateShape[i]
		}
		shape[i] = d
	}
	return shape
}

func elementCount(shape []int64) int {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return int(n)
}

func (s *jointSession) NewState() decode.JointState {
	return decode.JointState{
		S1: make([]float32, elementCount(s.stateShape1)),
		S2: make([]float32, elementCount(s.stateShape2)),
	}
}

func (s *jointSession) Step(encFrame []float32, lastToken int, state decode.JointState) ([]float32, decode.JointState, error) {
	encT, err := ort.NewTensor(ort.NewShape(1, int64(len(encFrame)), 1), encFrame)
	if err != nil {
		return nil, state, fmt.Errorf("create encoder_outputs tensor: %w", err)
	}
	defer encT.Destroy()
	targets, err := ort.NewTensor(ort.NewShape(1, 1), []int32{int32(lastToken)})
	if err != nil {
		return nil, state, fmt.Errorf("create targets tensor: %w", err)
	}
	defer targets.Destroy()
	targetLen, err := ort.NewTensor(ort.NewShape(1), []int32{1})
	if err != nil {
		return nil, state, fmt.Errorf("create target_length tensor: %w", err)
	}
	defer targetLen.Destroy()
	s1, err := ort.NewTensor(ort.NewShape(s.stateShape1...), state.S1)
	if err != nil {
		return nil, state, fmt.Errorf("create input_states_1 tensor: %w", err)
	}
	defer s1.Destroy()
	s2, err := ort.NewTensor(ort.NewShape(s.stateShape2...), state.S2)
	if err != nil {
		return nil, state, fmt.Errorf("create input_states_2 tensor: %w", err)
	}
	defer s2.Destroy()

	outs, err := s.r.run(map[string]ort.Value{
		"encoder_outputs": encT,
		"targets":         targets,
		"target_length":   targetLen,
		"input_states_1":  s1,
		"input_states_2":  s2,
	})
	if err != nil {
		return nil, state, err
	}
	defer destroyAll(outs)

	logitsT, ok := outs[s.logitsIdx].(*ort.Tensor[float32])
	if !ok {
		return nil, state, fmt.Errorf("unexpected logits tensor type %T", outs[s.logitsIdx])
	}
	logits := append([]float32(nil), logitsT.GetData()...)

	next := decode.JointState{S1: state.S1, S2: state.S2}
	if s.state1Idx >= 0 && s.state1Idx < len(outs) {
		if t, ok := outs[s.state1Idx].(*ort.Tensor[float32]); ok {
			next.S1 = append([]float32(nil), t.GetData()...)
		}
	}
	if s.state2Idx >= 0 && s.state2Idx < len(outs) {
		if t, ok := outs[s.state2Idx].(*ort.Tensor[float32]); ok {
			next.S2 = append([]float32(nil), t.GetData()...)
		}
	}
	return logits, next, nil
}

func (s *jointSession) close() error {
	return s.r.close()
}
