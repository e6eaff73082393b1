package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hushlabs/hush-core/internal/audio"
	"github.com/hushlabs/hush-core/internal/bus"
	"github.com/hushlabs/hush-core/internal/config"
	"github.com/hushlabs/hush-core/internal/decode"
	"github.com/hushlabs/hush-core/internal/feature"
	"github.com/hushlabs/hush-core/internal/history"
	"github.com/hushlabs/hush-core/internal/model"
	"github.com/hushlabs/hush-core/internal/post"
	"github.com/hushlabs/hush-core/internal/protocol"
)

// encodedFrameSeconds is the audio span of one encoder output frame: a 10ms
// frontend hop times 8x encoder subsampling.
const encodedFrameSeconds = 0.08

// Result is a finalized dictation hand-off.
type Result struct {
	BindingID   string
	Text        string
	PostText    string
	Tokens      []int
	DurationSec float64
	Empty       bool
	HistoryID   string
}

// Deps are the optional collaborators of the pipeline service. Any of them
// may be nil: the service degrades to decode-only operation.
type Deps struct {
	Bus     *bus.Client
	History *history.Store
	Post    post.Processor
}

// Service drives the dictation pipeline end to end: recording episodes on
// one side, model lifecycle and greedy decoding on the other, with bus
// commands, events and transcripts as the outer surface.
type Service struct {
	cfg     config.Config
	log     *slog.Logger
	bus     *bus.Client
	store   *history.Store
	post    post.Processor
	metrics *pipelineMetrics

	session *audio.Session
	models  *model.Controller

	ctx       context.Context
	cancel    context.CancelFunc
	subs      []*nats.Subscription
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu     sync.Mutex
	warmed *model.Bundle
}

func NewService(parent context.Context, cfg config.Config, log *slog.Logger, deps Deps) (*Service, error) {
	metrics, err := newPipelineMetrics()
	if err != nil {
		return nil, fmt.Errorf("create pipeline metrics: %w", err)
	}
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		log:     log.With(slog.String("component", "pipeline")),
		bus:     deps.Bus,
		store:   deps.History,
		post:    deps.Post,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Bind attaches the recording session and model controller. Both are built
// by the caller with PublishEvent as their event sink, so they cannot exist
// before the service does.
func (s *Service) Bind(session *audio.Session, models *model.Controller) {
	s.session = session
	s.models = models
}

// Start subscribes to dictation commands on the bus, when one is connected.
func (s *Service) Start() error {
	if s.session == nil || s.models == nil {
		return errors.New("pipeline service not bound")
	}
	if s.bus == nil {
		return nil
	}

	handlers := map[string]nats.MsgHandler{
		protocol.SubjectCommandStart:  s.handleStart,
		protocol.SubjectCommandStop:   s.handleStop,
		protocol.SubjectCommandCancel: s.handleCancel,
	}
	for subject, handler := range handlers {
		sub, err := s.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Close stops command handling, cancels in-flight work and waits for every
// worker goroutine, abandoned decode workers included: they exit at their
// next cancellation check. Callers must Close the service before tearing
// down the model controller so no worker steps a destroyed session.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		for _, sub := range s.subs {
			_ = sub.Drain()
		}
		s.wg.Wait()
	})
}

func (s *Service) Healthy() bool {
	return s.session != nil && s.models != nil
}

// StartRecording opens a recording episode and warms the model in the
// background so it is usually ready by the time the user stops talking.
func (s *Service) StartRecording(bindingID string, deviceID int) error {
	if err := s.session.Start(bindingID, deviceID); err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.ensureLoaded(s.ctx); err != nil {
			s.log.Warn("model preload failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// StopRecording finalizes the episode owned by bindingID and runs the full
// transcription flow: decode, custom words, post-processing, history,
// transcript broadcast.
func (s *Service) StopRecording(ctx context.Context, bindingID string) (Result, error) {
	utt, err := s.session.Stop(bindingID)
	if err != nil {
		return Result{}, err
	}

	res := Result{BindingID: bindingID, DurationSec: utt.Duration().Seconds()}
	if utt.Empty() {
		res.Empty = true
		s.log.Info("empty utterance, skipping decode", slog.String("binding_id", bindingID))
		s.publishTranscript(res)
		return res, nil
	}

	timeout := time.Duration(s.cfg.Decoder.TimeoutSeconds) * time.Second
	decodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	decoded, err := s.Transcribe(decodeCtx, utt)
	if err != nil {
		return Result{}, err
	}

	res.Text = post.ApplyCustomWords(decoded.Text, s.cfg.Post.CustomWords)
	res.Tokens = decoded.Tokens
	res.PostText = s.postProcess(ctx, res.Text)

	if saved, err := s.store.Save(ctx, history.Entry{
		BindingID:   bindingID,
		Text:        res.Text,
		PostText:    res.PostText,
		ModelID:     s.cfg.Models.Active,
		DurationSec: res.DurationSec,
	}, utt.Samples, utt.SampleRate); err != nil {
		s.log.Warn("failed to save dictation history", slog.String("error", err.Error()))
	} else {
		res.HistoryID = saved.ID
	}

	s.publishTranscript(res)
	return res, nil
}

// CancelRecording discards the in-flight episode.
func (s *Service) CancelRecording() {
	s.session.Cancel()
}

// Transcribe decodes one utterance against the active model. The decode runs
// on a disposable worker goroutine; when ctx expires first the worker is
// abandoned and its eventual result discarded.
func (s *Service) Transcribe(ctx context.Context, utt audio.Utterance) (decode.Result, error) {
	bundle, err := s.ensureLoaded(ctx)
	if err != nil {
		s.metrics.recordError(ctx, "load")
		return decode.Result{}, err
	}

	extractor := feature.NewExtractor(bundle.Frontend, utt.SampleRate)
	decoder := decode.New(bundle.Encoder, bundle.Joint, bundle.Vocab, s.decodeOptions(), s.log)

	type outcome struct {
		res decode.Result
		err error
	}
	ch := make(chan outcome, 1)
	started := time.Now()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		spec, err := extractor.Extract(utt.Samples)
		if err != nil {
			ch <- outcome{err: err}
			return
		}
		res, err := decoder.Decode(ctx, spec)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			stage := "decode"
			var infErr *decode.InferenceError
			if errors.As(o.err, &infErr) {
				stage = infErr.Stage
			}
			s.metrics.recordError(ctx, stage)
			return decode.Result{}, o.err
		}
		s.models.MarkActivity()
		s.metrics.recordDecode(context.WithoutCancel(ctx), bundle.ModelID, time.Since(started), utt.Duration().Seconds())
		s.log.Info("utterance decoded",
			slog.String("model_id", bundle.ModelID),
			slog.Float64("audio_sec", utt.Duration().Seconds()),
			slog.Duration("elapsed", time.Since(started)),
			slog.Int("tokens", len(o.res.Tokens)))
		return o.res, nil
	case <-ctx.Done():
		s.metrics.recordError(context.WithoutCancel(ctx), "timeout")
		s.log.Error("decode timed out, abandoning worker",
			slog.Duration("elapsed", time.Since(started)))
		return decode.Result{}, &TimeoutAbandonedError{Timeout: time.Since(started).Round(time.Millisecond)}
	}
}

func (s *Service) ensureLoaded(ctx context.Context) (*model.Bundle, error) {
	bundle, err := s.models.Acquire(ctx, s.cfg.Models.Active)
	if err != nil {
		return nil, err
	}
	if s.cfg.Models.Warmup {
		s.warmup(ctx, bundle)
	}
	return bundle, nil
}

// warmup pushes one short silent utterance through a freshly loaded bundle
// so the first real dictation does not pay graph-initialization cost.
func (s *Service) warmup(ctx context.Context, bundle *model.Bundle) {
	s.mu.Lock()
	if s.warmed == bundle {
		s.mu.Unlock()
		return
	}
	s.warmed = bundle
	s.mu.Unlock()

	started := time.Now()
	silence := make([]float32, int(float64(s.cfg.Audio.SampleRate)*feature.MinUtteranceSeconds))
	extractor := feature.NewExtractor(bundle.Frontend, s.cfg.Audio.SampleRate)
	decoder := decode.New(bundle.Encoder, bundle.Joint, bundle.Vocab, s.decodeOptions(), s.log)

	spec, err := extractor.Extract(silence)
	if err == nil {
		_, err = decoder.Decode(ctx, spec)
	}
	if err != nil {
		s.log.Warn("model warmup failed", slog.String("error", err.Error()))
		return
	}
	s.log.Info("model warmed up",
		slog.String("model_id", bundle.ModelID),
		slog.Duration("elapsed", time.Since(started)))
}

func (s *Service) decodeOptions() decode.Options {
	return decode.Options{
		MaxTokensPerStep:     s.cfg.Decoder.MaxTokensPerStep,
		MaxConsecutiveBlanks: s.cfg.Decoder.MaxConsecutiveBlanks,
		ChunkThresholdSec:    s.cfg.Decoder.ChunkThresholdSec,
		ChunkSizeSec:         s.cfg.Decoder.ChunkSizeSec,
		ChunkOverlapSec:      s.cfg.Decoder.ChunkOverlapSec,
		EncodedFrameSeconds:  encodedFrameSeconds,
	}
}

func (s *Service) postProcess(ctx context.Context, text string) string {
	if s.post == nil || text == "" {
		return ""
	}
	out, err := s.post.Process(ctx, post.Request{
		Text:        text,
		Prompt:      post.RenderPrompt(s.cfg.Post.Prompt, text),
		System:      s.cfg.Post.System,
		Model:       s.cfg.Post.Model,
		MaxTokens:   s.cfg.Post.MaxTokens,
		Temperature: s.cfg.Post.Temperature,
	})
	if err != nil {
		// The raw transcript is still delivered.
		s.log.Warn("post-processing failed", slog.String("error", err.Error()))
		return ""
	}
	return out
}

// PublishEvent broadcasts a UI event on the bus, best effort. It is the
// event sink for the recording session and the model controller.
func (s *Service) PublishEvent(name, detail string) {
	if name == protocol.EventVADFallback {
		s.metrics.vadFallbacks.Add(s.ctx, 1)
	}
	if s.bus == nil {
		return
	}
	evt := protocol.PipelineEvent{Name: name, Detail: detail, Timestamp: time.Now().UTC()}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectEvent, data); err != nil {
		s.bus.Logger().Warn("failed to publish pipeline event", slog.String("error", err.Error()))
	}
}

func (s *Service) publishTranscript(res Result) {
	s.metrics.transcripts.Add(s.ctx, 1)
	if s.bus == nil {
		return
	}
	msg := protocol.Transcript{
		BindingID:   res.BindingID,
		Text:        res.Text,
		PostText:    res.PostText,
		Tokens:      res.Tokens,
		DurationSec: res.DurationSec,
		Empty:       res.Empty,
		HistoryID:   res.HistoryID,
		Timestamp:   time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal transcript", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectTranscript, data); err != nil {
		s.bus.Logger().Warn("failed to publish transcript", slog.String("error", err.Error()))
	}
}

func (s *Service) handleStart(msg *nats.Msg) {
	var cmd protocol.StartCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.log.Warn("failed to decode start command", slog.String("error", err.Error()))
		return
	}
	deviceID := cmd.DeviceID
	if deviceID == 0 {
		deviceID = s.cfg.Audio.DeviceID
	}
	if err := s.StartRecording(cmd.BindingID, deviceID); err != nil {
		s.log.Warn("start command rejected",
			slog.String("binding_id", cmd.BindingID),
			slog.String("error", err.Error()))
	}
}

func (s *Service) handleStop(msg *nats.Msg) {
	var cmd protocol.StopCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		s.log.Warn("failed to decode stop command", slog.String("error", err.Error()))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.StopRecording(s.ctx, cmd.BindingID); err != nil {
			s.log.Warn("stop command failed",
				slog.String("binding_id", cmd.BindingID),
				slog.String("error", err.Error()))
		}
	}()
}

func (s *Service) handleCancel(msg *nats.Msg) {
	s.CancelRecording()
}
