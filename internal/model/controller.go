package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hushlabs/hush-core/internal/config"
	"github.com/hushlabs/hush-core/internal/protocol"
)

// State is the lifecycle phase of the controller's model slot.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateLoadFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateLoadFailed:
		return "load-failed"
	default:
		return "unknown"
	}
}

// Controller owns the lifecycle of the active speech model: single-flight
// loading, CUDA-to-CPU fallback, and idle unloading. Concurrent Acquire calls
// during a load block until that load settles rather than starting their own.
type Controller struct {
	cfg     config.ModelsConfig
	loader  Loader
	log     *slog.Logger
	onEvent func(name, detail string)

	idleAfter time.Duration

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	bundle    *Bundle
	loadErr   error
	lastUsed  time.Time
	idleTimer *time.Timer
}

// NewController wires a controller over the given loader. onEvent may be nil.
func NewController(cfg config.ModelsConfig, loader Loader, log *slog.Logger, onEvent func(name, detail string)) *Controller {
	c := &Controller{
		cfg:       cfg,
		loader:    loader,
		log:       log.With(slog.String("component", "model.controller")),
		onEvent:   onEvent,
		idleAfter: time.Duration(cfg.UnloadAfterMinutes) * time.Minute,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// State reports the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether a bundle is loaded and usable.
func (c *Controller) Ready() bool {
	return c.State() == StateReady
}

// Acquire returns the bundle for modelID, loading it first if necessary.
// A failed previous load does not poison the slot: the next Acquire retries.
func (c *Controller) Acquire(ctx context.Context, modelID string) (*Bundle, error) {
	c.mu.Lock()
	waited := false
	for c.state == StateLoading {
		if err := ctx.Err(); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		waited = true
		c.cond.Wait()
	}
	if c.state == StateReady && c.bundle.ModelID == modelID {
		b := c.bundle
		c.lastUsed = time.Now()
		c.mu.Unlock()
		return b, nil
	}
	if waited && c.state == StateLoadFailed {
		// The load this call piggybacked on failed; report its error rather
		// than immediately dog-piling another attempt.
		err := c.loadErr
		c.mu.Unlock()
		return nil, err
	}

	// This goroutine takes the load; a different already-loaded model is
	// evicted first.
	old := c.bundle
	c.bundle = nil
	c.state = StateLoading
	c.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			c.log.Warn("failed to close previous model", slog.String("error", err.Error()))
		}
	}

	bundle, err := c.load(ctx, modelID)

	c.mu.Lock()
	if err != nil {
		c.state = StateLoadFailed
		c.loadErr = err
	} else {
		c.state = StateReady
		c.bundle = bundle
		c.loadErr = nil
		c.lastUsed = time.Now()
		c.scheduleIdleUnloadLocked()
	}
	c.cond.Broadcast()
	c.mu.Unlock()

	if err != nil {
		c.emit(protocol.EventLoadingFailed, err.Error())
		return nil, err
	}
	c.emit(protocol.EventLoadingCompleted, modelID)
	return bundle, nil
}

func (c *Controller) load(ctx context.Context, modelID string) (*Bundle, error) {
	provider := c.cfg.Provider
	if provider == "" {
		provider = "auto"
	}

	c.emit(protocol.EventLoadingStarted, modelID)
	c.log.Info("loading model",
		slog.String("model_id", modelID),
		slog.String("provider", provider))
	started := time.Now()

	bundle, err := c.loader.Load(ctx, modelID, provider)
	if err != nil && provider != "cpu" && c.cfg.FallbackToCPU {
		c.log.Warn("model load failed, retrying on cpu",
			slog.String("model_id", modelID),
			slog.String("provider", provider),
			slog.String("error", err.Error()))
		cpuBundle, cpuErr := c.loader.Load(ctx, modelID, "cpu")
		if cpuErr == nil {
			bundle, err = cpuBundle, nil
		} else {
			err = errors.Join(err, fmt.Errorf("cpu fallback: %w", cpuErr))
		}
	}
	if err != nil {
		return nil, &LoadFailedError{ModelID: modelID, Provider: provider, Err: err}
	}

	c.log.Info("model loaded",
		slog.String("model_id", modelID),
		slog.String("provider", bundle.Provider),
		slog.Duration("elapsed", time.Since(started)))
	return bundle, nil
}

// MarkActivity records model usage, pushing back the idle-unload deadline.
func (c *Controller) MarkActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUsed = time.Now()
	c.scheduleIdleUnloadLocked()
}

func (c *Controller) scheduleIdleUnloadLocked() {
	if c.idleAfter <= 0 || c.state != StateReady {
		return
	}
	if c.idleTimer == nil {
		c.idleTimer = time.AfterFunc(c.idleAfter, c.idleUnload)
		return
	}
	c.idleTimer.Reset(c.idleAfter)
}

func (c *Controller) idleUnload() {
	d := c.idleAfter

	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return
	}
	idle := time.Since(c.lastUsed)
	if idle < d {
		// Activity raced the timer; rearm for the remainder.
		c.idleTimer.Reset(d - idle)
		c.mu.Unlock()
		return
	}
	bundle := c.bundle
	c.bundle = nil
	c.state = StateUnloaded
	c.mu.Unlock()

	if err := bundle.Close(); err != nil {
		c.log.Warn("failed to close idle model", slog.String("error", err.Error()))
	}
	c.log.Info("unloaded idle model",
		slog.String("model_id", bundle.ModelID),
		slog.Duration("idle", idle))
	c.emit(protocol.EventUnloaded, bundle.ModelID)
}

// Unload releases the loaded bundle, if any. Loads in flight are left to
// settle on their own.
func (c *Controller) Unload() {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return
	}
	bundle := c.bundle
	c.bundle = nil
	c.state = StateUnloaded
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.mu.Unlock()

	if err := bundle.Close(); err != nil {
		c.log.Warn("failed to close model", slog.String("error", err.Error()))
	}
	c.emit(protocol.EventUnloaded, bundle.ModelID)
}

// Close stops the idle timer and unloads the model.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	c.mu.Unlock()
	c.Unload()
}

func (c *Controller) emit(name, detail string) {
	if c.onEvent != nil {
		c.onEvent(name, detail)
	}
}
