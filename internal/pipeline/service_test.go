package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hushlabs/hush-core/internal/audio"
	"github.com/hushlabs/hush-core/internal/config"
	"github.com/hushlabs/hush-core/internal/decode"
	"github.com/hushlabs/hush-core/internal/history"
	"github.com/hushlabs/hush-core/internal/model"
	"github.com/hushlabs/hush-core/internal/post"
)

type fixture struct {
	svc    *Service
	src    *audio.MemorySource
	cfg    config.Config
	store  *history.Store
	loader model.Loader
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Models.Backend = "mock"
	cfg.Models.Warmup = false
	cfg.History.Enabled = false
	cfg.Audio.AlwaysOnStream = false
	cfg.Decoder.TimeoutSeconds = 5
	return cfg
}

func newFixture(t *testing.T, cfg config.Config, loader model.Loader) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	var store *history.Store
	if cfg.History.Enabled {
		var err error
		store, err = history.Open(ctx, cfg.History, log)
		if err != nil {
			t.Fatalf("open history: %v", err)
		}
		t.Cleanup(func() { store.Close() })
	}

	proc, err := post.FromConfig(cfg.Post)
	if err != nil {
		t.Fatalf("post processor: %v", err)
	}

	svc, err := NewService(ctx, cfg, log, Deps{History: store, Post: proc})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	src := &audio.MemorySource{}
	session := audio.NewSession(audio.SessionConfig{
		SampleRate:          cfg.Audio.SampleRate,
		FrameSize:           cfg.Audio.FrameSize,
		MaxRecordingSeconds: cfg.Audio.MaxRecordingSeconds,
		AlwaysOnStream:      cfg.Audio.AlwaysOnStream,
	}, src, nil, log, svc.PublishEvent)

	if loader == nil {
		loader = model.NewMockLoader([]int{0, 1, 2})
	}
	controller := model.NewController(cfg.Models, loader, log, svc.PublishEvent)

	svc.Bind(session, controller)
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	// LIFO: drain the service's workers before the controller tears down.
	t.Cleanup(controller.Close)
	t.Cleanup(svc.Close)

	return &fixture{svc: svc, src: src, cfg: cfg, store: store, loader: loader}
}

func feedSeconds(f *fixture, seconds float64) {
	n := int(float64(f.cfg.Audio.SampleRate) * seconds)
	n -= n % f.cfg.Audio.FrameSize
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.1
	}
	f.src.Feed(samples)
}

func TestStopRecordingProducesTranscript(t *testing.T) {
	f := newFixture(t, testConfig(t), nil)

	if err := f.svc.StartRecording("hotkey-1", -1); err != nil {
		t.Fatalf("start: %v", err)
	}
	feedSeconds(f, 2)

	res, err := f.svc.StopRecording(context.Background(), "hotkey-1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if res.Empty {
		t.Fatal("expected non-empty result")
	}
	if res.Text != "hush mock transcript" {
		t.Fatalf("text = %q", res.Text)
	}
	if len(res.Tokens) != 3 {
		t.Fatalf("tokens = %v", res.Tokens)
	}
	if res.DurationSec < 1.9 || res.DurationSec > 2.1 {
		t.Fatalf("duration = %f", res.DurationSec)
	}
}

func TestStopRecordingEmptyUtterance(t *testing.T) {
	f := newFixture(t, testConfig(t), nil)

	if err := f.svc.StartRecording("hotkey-1", -1); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := f.svc.StopRecording(context.Background(), "hotkey-1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !res.Empty || res.Text != "" {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestStopRecordingNotOwnerPassesThrough(t *testing.T) {
	f := newFixture(t, testConfig(t), nil)

	if err := f.svc.StartRecording("hotkey-1", -1); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := f.svc.StopRecording(context.Background(), "intruder")
	var notOwner *audio.NotOwnerError
	if !errors.As(err, &notOwner) {
		t.Fatalf("expected NotOwnerError, got %v", err)
	}
	f.svc.CancelRecording()
}

func TestStopRecordingAppliesCustomWordsAndPost(t *testing.T) {
	cfg := testConfig(t)
	cfg.Post.Enabled = true
	cfg.Post.Mode = "mock"
	cfg.Post.CustomWords = map[string]string{"mock": "golden"}
	f := newFixture(t, cfg, nil)

	if err := f.svc.StartRecording("hotkey-1", -1); err != nil {
		t.Fatalf("start: %v", err)
	}
	feedSeconds(f, 2)
	res, err := f.svc.StopRecording(context.Background(), "hotkey-1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if res.Text != "hush golden transcript" {
		t.Fatalf("custom words not applied: %q", res.Text)
	}
	if res.PostText != "Hush golden transcript." {
		t.Fatalf("post text = %q", res.PostText)
	}
}

func TestStopRecordingSavesHistory(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	cfg.History.Enabled = true
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.History.RecordingsDir = filepath.Join(dir, "recordings")
	f := newFixture(t, cfg, nil)

	if err := f.svc.StartRecording("hotkey-1", -1); err != nil {
		t.Fatalf("start: %v", err)
	}
	feedSeconds(f, 2)
	res, err := f.svc.StopRecording(context.Background(), "hotkey-1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if res.HistoryID == "" {
		t.Fatal("expected history id")
	}

	entry, err := f.store.Get(context.Background(), res.HistoryID)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if entry.Text != res.Text || entry.BindingID != "hotkey-1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if _, err := os.Stat(entry.WavPath); err != nil {
		t.Fatalf("recording not written: %v", err)
	}
}

// delayedLoader wraps the mock bundle with a joint that sleeps per step,
// letting tests drive the decode past its deadline.
type delayedLoader struct {
	inner *model.MockLoader
	delay time.Duration

	mu    sync.Mutex
	joint *delayedJoint
}

func (l *delayedLoader) Load(ctx context.Context, modelID, provider string) (*model.Bundle, error) {
	bundle, err := l.inner.Load(ctx, modelID, provider)
	if err != nil {
		return nil, err
	}
	j := &delayedJoint{inner: bundle.Joint, delay: l.delay}
	l.mu.Lock()
	l.joint = j
	l.mu.Unlock()
	return model.NewBundle(bundle.ModelID, bundle.Provider, bundle.Frontend, bundle.Encoder,
		j, bundle.Vocab, nil), nil
}

func (l *delayedLoader) lastJoint() *delayedJoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.joint
}

type delayedJoint struct {
	inner decode.JointSession
	delay time.Duration
	steps atomic.Int64
}

func (j *delayedJoint) NewState() decode.JointState { return j.inner.NewState() }

func (j *delayedJoint) Step(encFrame []float32, lastToken int, state decode.JointState) ([]float32, decode.JointState, error) {
	j.steps.Add(1)
	time.Sleep(j.delay)
	return j.inner.Step(encFrame, lastToken, state)
}

func TestStopRecordingTimeoutAbandonsDecode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Decoder.TimeoutSeconds = 1
	loader := &delayedLoader{inner: model.NewMockLoader(nil), delay: 100 * time.Millisecond}
	f := newFixture(t, cfg, loader)

	if err := f.svc.StartRecording("hotkey-1", -1); err != nil {
		t.Fatalf("start: %v", err)
	}
	feedSeconds(f, 10) // ~125 encoded frames at 100ms per joint step

	started := time.Now()
	_, err := f.svc.StopRecording(context.Background(), "hotkey-1")
	var timeoutErr *TimeoutAbandonedError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutAbandonedError, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("caller blocked for %v after timeout", elapsed)
	}

	// The session is idle again; a new episode works.
	if err := f.svc.StartRecording("hotkey-2", -1); err != nil {
		t.Fatalf("restart after timeout: %v", err)
	}
	f.svc.CancelRecording()
}

func TestCloseDrainsAbandonedDecodeWorker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Decoder.TimeoutSeconds = 1
	loader := &delayedLoader{inner: model.NewMockLoader(nil), delay: 100 * time.Millisecond}
	f := newFixture(t, cfg, loader)

	if err := f.svc.StartRecording("hotkey-1", -1); err != nil {
		t.Fatalf("start: %v", err)
	}
	feedSeconds(f, 10)
	if _, err := f.svc.StopRecording(context.Background(), "hotkey-1"); err == nil {
		t.Fatal("expected decode timeout")
	}

	// Close must return only once the abandoned worker has stopped stepping
	// the joint session, so teardown can destroy it safely.
	f.svc.Close()
	steps := loader.lastJoint().steps.Load()
	time.Sleep(150 * time.Millisecond)
	if got := loader.lastJoint().steps.Load(); got != steps {
		t.Fatalf("worker still stepping after Close: %d then %d", steps, got)
	}

	f.svc.Close() // idempotent
}

func TestTranscribeLoadFailureSurfaces(t *testing.T) {
	cfg := testConfig(t)
	loader := model.NewMockLoader(nil)
	loader.Err = errors.New("model directory missing")
	f := newFixture(t, cfg, loader)

	if err := f.svc.StartRecording("hotkey-1", -1); err != nil {
		t.Fatalf("start: %v", err)
	}
	feedSeconds(f, 2)
	_, err := f.svc.StopRecording(context.Background(), "hotkey-1")
	var loadErr *model.LoadFailedError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadFailedError, got %v", err)
	}
}

func TestWarmupRunsOncePerBundle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Models.Warmup = true
	f := newFixture(t, cfg, nil)

	if err := f.svc.StartRecording("hotkey-1", -1); err != nil {
		t.Fatalf("start: %v", err)
	}
	feedSeconds(f, 2)
	if _, err := f.svc.StopRecording(context.Background(), "hotkey-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Second utterance reuses the warmed bundle.
	if err := f.svc.StartRecording("hotkey-1", -1); err != nil {
		t.Fatalf("second start: %v", err)
	}
	feedSeconds(f, 2)
	res, err := f.svc.StopRecording(context.Background(), "hotkey-1")
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if res.Text != "hush mock transcript" {
		t.Fatalf("text = %q", res.Text)
	}
}
