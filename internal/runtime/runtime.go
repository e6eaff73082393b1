package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hushlabs/hush-core/internal/audio"
	"github.com/hushlabs/hush-core/internal/bus"
	"github.com/hushlabs/hush-core/internal/config"
	"github.com/hushlabs/hush-core/internal/history"
	"github.com/hushlabs/hush-core/internal/model"
	"github.com/hushlabs/hush-core/internal/natsserver"
	"github.com/hushlabs/hush-core/internal/onnx"
	"github.com/hushlabs/hush-core/internal/pipeline"
	"github.com/hushlabs/hush-core/internal/post"
	"github.com/hushlabs/hush-core/internal/vad"
)

// Runtime assembles the dictation daemon: telemetry, the message bus, the
// audio capture session, the model controller and the pipeline service, plus
// the local HTTP surface for health and metrics.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	busClient   *bus.Client
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component and blocks until ctx is cancelled, then shuts
// down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()
	r.busClient = busClient

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer store.Close()

	processor, err := post.FromConfig(r.cfg.Post)
	if err != nil {
		return fmt.Errorf("failed to build post processor: %w", err)
	}

	svc, err := pipeline.NewService(ctx, r.cfg, r.logger, pipeline.Deps{
		Bus:     busClient,
		History: store,
		Post:    processor,
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline service: %w", err)
	}
	defer svc.Close()

	gate := r.buildGate()
	if gate != nil {
		defer gate.Close()
	}

	source, err := audio.NewPortAudioSource()
	if err != nil {
		return fmt.Errorf("failed to initialize audio: %w", err)
	}
	defer source.Terminate()

	session := audio.NewSession(audio.SessionConfig{
		SampleRate:          r.cfg.Audio.SampleRate,
		FrameSize:           r.cfg.Audio.FrameSize,
		MaxRecordingSeconds: r.cfg.Audio.MaxRecordingSeconds,
		AlwaysOnStream:      r.cfg.Audio.AlwaysOnStream,
		FilterSilence:       r.cfg.VAD.Enabled && r.cfg.VAD.FilterSilence,
	}, source, gate, r.logger, svc.PublishEvent)
	defer session.Close()

	loader, destroyLoader, err := r.buildLoader()
	if err != nil {
		return fmt.Errorf("failed to create model loader: %w", err)
	}
	defer destroyLoader()

	controller := model.NewController(r.cfg.Models, loader, r.logger, svc.PublishEvent)
	defer controller.Close()

	svc.Bind(session, controller)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start pipeline service: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("model", r.cfg.Models.Active),
		slog.String("vad", r.cfg.VAD.Backend))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	// Drain decode workers before the deferred controller and loader teardown
	// destroys the inference sessions they step.
	svc.Close()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildGate constructs the voice gate, preferring the Silero model and
// degrading to energy gating when it cannot be loaded. A missing VAD model
// must not keep dictation from starting.
func (r *Runtime) buildGate() *vad.Gate {
	if !r.cfg.VAD.Enabled {
		return nil
	}

	var detector vad.Model
	if r.cfg.VAD.Backend == "silero" {
		path := r.cfg.VAD.ModelPath
		if path == "" {
			path = filepath.Join(r.cfg.Models.Dir, "silero_vad.onnx")
		}
		silero, err := vad.NewSileroModel(path, r.cfg.Audio.SampleRate, r.cfg.VAD.Threshold)
		if err != nil {
			r.logger.Warn("failed to load silero model, using energy gating",
				slog.String("path", path),
				slog.String("error", err.Error()))
		} else {
			detector = silero
		}
	}
	if detector == nil {
		detector = vad.NewEnergyModel()
	}
	return vad.NewGate(detector, r.cfg.Audio.FrameSize, r.cfg.VAD.Threshold, r.logger)
}

func (r *Runtime) buildLoader() (model.Loader, func(), error) {
	if r.cfg.Models.Backend == "mock" {
		r.logger.Warn("using mock model backend; transcripts will be placeholders")
		return model.NewMockLoader(nil), func() {}, nil
	}
	loader, err := onnx.NewLoader(r.cfg.Models, r.logger)
	if err != nil {
		return nil, nil, err
	}
	return loader, loader.Destroy, nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
