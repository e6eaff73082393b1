package decode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Options bound the greedy transducer loop and long-audio chunking.
type Options struct {
	// MaxTokensPerStep caps emissions per encoded frame so a degenerate
	// model cannot loop forever on one frame.
	MaxTokensPerStep int
	// MaxConsecutiveBlanks terminates decoding after a run of blank-only
	// frames, which on trailing silence saves a long tail of no-op steps.
	MaxConsecutiveBlanks int
	// ChunkThresholdSec, ChunkSizeSec and ChunkOverlapSec control chunked
	// decoding of long utterances over the encoded frame sequence.
	ChunkThresholdSec float64
	ChunkSizeSec      float64
	ChunkOverlapSec   float64
	// EncodedFrameSeconds is the audio duration covered by one encoded
	// frame (frontend hop times encoder subsampling).
	EncodedFrameSeconds float64
}

func (o Options) withDefaults() Options {
	if o.MaxTokensPerStep <= 0 {
		o.MaxTokensPerStep = 10
	}
	if o.MaxConsecutiveBlanks <= 0 {
		o.MaxConsecutiveBlanks = 50
	}
	if o.ChunkThresholdSec <= 0 {
		o.ChunkThresholdSec = 30
	}
	if o.ChunkSizeSec <= 0 {
		o.ChunkSizeSec = 30
	}
	if o.ChunkOverlapSec < 0 || o.ChunkOverlapSec >= o.ChunkSizeSec {
		o.ChunkOverlapSec = 2
	}
	if o.EncodedFrameSeconds <= 0 {
		o.EncodedFrameSeconds = 0.08
	}
	return o
}

// Decoder runs greedy transducer decoding over encoder output. It is
// stateless across calls; recurrent state lives only inside one decode.
type Decoder struct {
	encoder EncoderSession
	joint   JointSession
	vocab   *Vocabulary
	opts    Options
	log     *slog.Logger
}

func New(encoder EncoderSession, joint JointSession, vocab *Vocabulary, opts Options, log *slog.Logger) *Decoder {
	return &Decoder{
		encoder: encoder,
		joint:   joint,
		vocab:   vocab,
		opts:    opts.withDefaults(),
		log:     log.With(slog.String("component", "decoder")),
	}
}

// Decode transcribes one spectrogram. The encoder runs once over the full
// input; when the encoded sequence exceeds the chunk threshold it is split
// into overlapping windows that are decoded independently and merged.
// Cancellation is cooperative: ctx is checked between frames.
func (d *Decoder) Decode(ctx context.Context, spec Spectrogram) (Result, error) {
	started := time.Now()

	enc, err := d.encoder.Encode(spec)
	if err != nil {
		return Result{}, &InferenceError{Stage: StageEncoder, Err: err}
	}
	frames := enc.Frames
	if len(frames) == 0 {
		return Result{}, nil
	}

	thresholdFrames := int(d.opts.ChunkThresholdSec / d.opts.EncodedFrameSeconds)
	var res Result
	if len(frames) > thresholdFrames {
		res, err = d.decodeChunked(ctx, frames)
	} else {
		var tokens []int
		tokens, err = d.greedy(ctx, frames)
		if err == nil {
			res = Result{Text: d.vocab.Text(tokens), Tokens: tokens}
		}
	}
	if err != nil {
		return Result{}, err
	}

	d.log.Debug("decode complete",
		slog.Int("encoded_frames", len(frames)),
		slog.Int("tokens", len(res.Tokens)),
		slog.Duration("elapsed", time.Since(started)))
	return res, nil
}

func (d *Decoder) decodeChunked(ctx context.Context, frames [][]float32) (Result, error) {
	chunkFrames := int(d.opts.ChunkSizeSec / d.opts.EncodedFrameSeconds)
	overlapFrames := int(d.opts.ChunkOverlapSec / d.opts.EncodedFrameSeconds)
	step := chunkFrames - overlapFrames

	var words []string
	var allTokens []int
	chunks := 0
	for start := 0; start < len(frames); start += step {
		end := min(start+chunkFrames, len(frames))
		tokens, err := d.greedy(ctx, frames[start:end])
		if err != nil {
			return Result{}, err
		}
		// Text and tokens are deduplicated together so they describe the
		// same transcript.
		var dropped int
		words, dropped = appendMerged(words, strings.Fields(d.vocab.Text(tokens)))
		allTokens = append(allTokens, d.dropLeadingWords(tokens, dropped)...)
		chunks++
		if end == len(frames) {
			break
		}
	}

	d.log.Debug("chunked decode", slog.Int("chunks", chunks), slog.Int("frames", len(frames)))
	return Result{Text: strings.Join(words, " "), Tokens: allTokens}, nil
}

// dropLeadingWords removes the tokens spanning the first n words of a chunk,
// mirroring the words the overlap merge deduplicated. Tokens rendering no
// text fall with the word they sit in.
func (d *Decoder) dropLeadingWords(tokens []int, n int) []int {
	if n <= 0 {
		return tokens
	}
	words := 0
	started := false
	for i, id := range tokens {
		piece := d.vocab.Token(id)
		if piece == "" || (strings.HasPrefix(piece, "<") && strings.HasSuffix(piece, ">")) {
			continue
		}
		if strings.HasPrefix(piece, wordStartMark) || !started {
			words++
			started = true
		}
		if words > n {
			return tokens[i:]
		}
	}
	return nil
}

// greedy is the inner transducer loop: per encoded frame, repeatedly query
// the joint network and emit the argmax token until it produces blank or the
// per-frame cap is hit. Recurrent state advances only on emission, so blank
// steps leave the prediction network untouched.
func (d *Decoder) greedy(ctx context.Context, frames [][]float32) ([]int, error) {
	state := d.joint.NewState()
	last := d.vocab.StartID
	if last < 0 {
		last = d.vocab.BlankID
	}

	tokens := []int{}
	consecutiveBlanks := 0

	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("decode cancelled: %w", err)
		}

		emitted := 0
		for emitted < d.opts.MaxTokensPerStep {
			logits, next, err := d.joint.Step(frame, last, state)
			if err != nil {
				return nil, &InferenceError{Stage: StageJoint, Err: err}
			}
			tok := argmax(logits, d.vocab.Size())
			if tok == d.vocab.BlankID || tok < 0 {
				break
			}
			tokens = append(tokens, tok)
			state = next
			last = tok
			emitted++
		}

		if emitted == 0 {
			consecutiveBlanks++
			if consecutiveBlanks >= d.opts.MaxConsecutiveBlanks {
				d.log.Debug("terminating on blank run", slog.Int("frames", consecutiveBlanks))
				break
			}
		} else {
			consecutiveBlanks = 0
		}
	}
	return tokens, nil
}

// argmax returns the index of the highest logit among the first limit
// entries, first index winning ties so decoding stays deterministic. Logits
// beyond limit belong to auxiliary model heads and are ignored.
func argmax(logits []float32, limit int) int {
	n := min(limit, len(logits))
	if n == 0 {
		return -1
	}
	best := 0
	for i := 1; i < n; i++ {
		if logits[i] > logits[best] {
			best = i
		}
	}
	return best
}
