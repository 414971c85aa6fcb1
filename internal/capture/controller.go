// Package capture owns the single live recording handle and its lifecycle.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Phase is the authoritative capture lifecycle position.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseAcquiring  Phase = "acquiring"
	PhaseActive     Phase = "active"
	PhaseFinalizing Phase = "finalizing"
)

var phaseEdges = map[Phase][]Phase{
	PhaseIdle:       {PhaseAcquiring},
	PhaseAcquiring:  {PhaseIdle, PhaseActive},
	PhaseActive:     {PhaseFinalizing},
	PhaseFinalizing: {PhaseIdle},
}

type session struct {
	token     uint64
	handle    Handle
	startedAt time.Time
	maxTimer  *time.Timer
	done      chan struct{}
}

// Controller guarantees at most one live capture session.
type Controller struct {
	logger   *slog.Logger
	device   Device
	press    PressState
	sink     Sink
	observer Observer
	cfg      Config

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	phase   Phase
	current *session
	closed  bool

	work sync.WaitGroup
}

// NewController constructs a capture controller with safe default fallbacks.
func NewController(
	logger *slog.Logger,
	device Device,
	press PressState,
	sink Sink,
	observer Observer,
	cfg Config,
) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if sink == nil {
		sink = removeSink{}
	}
	if observer == nil {
		observer = noopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		logger:   logger,
		device:   device,
		press:    press,
		sink:     sink,
		observer: observer,
		cfg:      cfg.withDefaults(),
		ctx:      ctx,
		cancel:   cancel,
		phase:    PhaseIdle,
	}
}

// Phase returns the current lifecycle phase snapshot.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// advance moves to next when the edge is legal. Callers hold c.mu.
func (c *Controller) advance(next Phase) error {
	for _, allowed := range phaseEdges[c.phase] {
		if allowed == next {
			c.phase = next
			return nil
		}
	}
	return fmt.Errorf("invalid capture transition: %s -> %s", c.phase, next)
}

// tokenValid reports whether token still names a physically held press. Callers hold c.mu.
func (c *Controller) tokenValid(token uint64) bool {
	return c.press.Current() == token && c.press.Held()
}

// Start acquires the device for the press identified by token.
//
// The token is re-checked after every asynchronous step; a press released
// mid-acquisition leaves no session behind.
func (c *Controller) Start(ctx context.Context, token uint64) error {
	c.mu.Lock()
	var refused error
	switch {
	case c.closed:
		refused = ErrClosed
	case c.phase == PhaseAcquiring:
		refused = ErrStartInFlight
	case c.phase != PhaseIdle:
		refused = ErrAlreadyActive
	case !c.tokenValid(token):
		refused = ErrStaleToken
	default:
		refused = c.advance(PhaseAcquiring)
	}
	if refused != nil {
		c.observer.CaptureAborted(token, refused)
		c.mu.Unlock()
		c.logger.Debug("capture start refused", "token", token, "error", refused.Error())
		return refused
	}
	c.work.Add(1)
	c.mu.Unlock()
	defer c.work.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopJoin := context.AfterFunc(c.ctx, cancel)
	defer stopJoin()

	if err := c.device.RequestPermission(ctx); err != nil {
		err = markErr(ErrPermissionDenied, err)
		c.abort(token, err)
		return err
	}
	if err := c.revalidate(token); err != nil {
		c.abort(token, err)
		return err
	}

	handle, err := c.device.Open(ctx)
	if err != nil {
		err = markErr(ErrDeviceAcquisition, err)
		c.abort(token, err)
		return err
	}

	c.mu.Lock()
	if err := c.revalidateLocked(token); err != nil {
		_ = c.advance(PhaseIdle)
		c.observer.CaptureAborted(token, err)
		c.mu.Unlock()
		if releaseErr := handle.Release(); releaseErr != nil {
			c.logger.Warn("release stale capture handle failed", "token", token, "error", releaseErr.Error())
		}
		c.logger.Debug("capture acquisition went stale", "token", token, "error", err.Error())
		return err
	}

	active := &session{
		token:     token,
		handle:    handle,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	_ = c.advance(PhaseActive)
	c.current = active
	active.maxTimer = time.AfterFunc(c.cfg.MaxDuration, func() {
		c.stop(active, StopTimeout)
	})
	c.work.Add(1)
	go c.watchLiveness(active)
	c.observer.CaptureStarted(token)
	c.mu.Unlock()

	c.logger.Info("capture started", "token", token)
	return nil
}

func (c *Controller) revalidate(token uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revalidateLocked(token)
}

func (c *Controller) revalidateLocked(token uint64) error {
	if c.closed {
		return ErrClosed
	}
	if !c.tokenValid(token) {
		return ErrStaleToken
	}
	return nil
}

// abort returns an in-flight acquisition to idle.
func (c *Controller) abort(token uint64, err error) {
	c.mu.Lock()
	_ = c.advance(PhaseIdle)
	c.observer.CaptureAborted(token, err)
	c.mu.Unlock()

	if errors.Is(err, ErrStaleToken) || errors.Is(err, ErrClosed) {
		c.logger.Debug("capture acquisition abandoned", "token", token, "error", err.Error())
		return
	}
	c.logger.Warn("capture start failed", "token", token, "error", err.Error())
}

// Stop ends the active session. It reports false when nothing was active.
func (c *Controller) Stop() bool {
	return c.stop(nil, StopRelease)
}

// stop is the single exit path from an active session. When expected is
// non-nil, only that session may be stopped.
func (c *Controller) stop(expected *session, reason StopReason) bool {
	c.mu.Lock()
	active := c.current
	if c.phase != PhaseActive || active == nil || (expected != nil && active != expected) {
		c.mu.Unlock()
		return false
	}

	c.current = nil
	_ = c.advance(PhaseFinalizing)
	active.maxTimer.Stop()
	close(active.done)
	stoppedAt := time.Now()
	c.work.Add(1)
	c.observer.CaptureStopping(reason)
	c.mu.Unlock()

	c.logger.Info("capture stopping",
		"token", active.token,
		"reason", reason,
		"duration_ms", stoppedAt.Sub(active.startedAt).Milliseconds(),
	)
	go c.finalize(active, reason, stoppedAt)
	return true
}

// finalize flushes the handle and routes the artifact to discard or the sink.
func (c *Controller) finalize(active *session, reason StopReason, stoppedAt time.Time) {
	defer c.work.Done()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.cfg.FinalizeTimeout)
	artifact, err := active.handle.Finalize(ctx)
	cancel()

	if artifact.Duration <= 0 {
		artifact.Duration = stoppedAt.Sub(active.startedAt)
	}
	if artifact.StartedAt.IsZero() {
		artifact.StartedAt = active.startedAt
	}

	discard := c.discardReason(reason, artifact, err)

	c.mu.Lock()
	if discard == "" && c.closed {
		discard = DiscardDisposed
	}
	if discard != "" {
		c.observer.CaptureDiscarded(discard)
	} else {
		c.observer.CaptureDelivered(artifact)
	}
	_ = c.advance(PhaseIdle)
	c.mu.Unlock()

	if discard != "" {
		c.logDiscard(active.token, discard, artifact, err)
		if removeErr := artifact.Remove(); removeErr != nil {
			c.logger.Warn("remove discarded artifact failed", "error", removeErr.Error())
		}
		return
	}

	c.sink.Deliver(c.ctx, artifact)
}

func (c *Controller) discardReason(reason StopReason, artifact Artifact, err error) DiscardReason {
	switch {
	case err != nil && errors.Is(err, ErrEmptyCaptureData):
		return DiscardEmpty
	case err != nil:
		return DiscardFinalizeFailed
	case reason == StopDisposed:
		return DiscardDisposed
	case artifact.Duration < c.cfg.MinCapture:
		return DiscardTooShort
	default:
		return ""
	}
}

func (c *Controller) logDiscard(token uint64, reason DiscardReason, artifact Artifact, err error) {
	fields := []any{
		"token", token,
		"reason", reason,
		"duration_ms", artifact.Duration.Milliseconds(),
	}
	if reason == DiscardFinalizeFailed {
		c.logger.Warn("capture finalize failed", append(fields, "error", err.Error())...)
		return
	}
	c.logger.Debug("capture discarded", fields...)
}

// watchLiveness forces stop when the press is no longer reported as held.
func (c *Controller) watchLiveness(active *session) {
	defer c.work.Done()

	ticker := time.NewTicker(c.cfg.LivenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-active.done:
			return
		case <-ticker.C:
			if c.press.Held() && c.press.Current() == active.token {
				continue
			}
			c.stop(active, StopLiveness)
			return
		}
	}
}

// Close disposes the controller: the active session is stopped and discarded,
// acquisitions in flight are abandoned, and pending work is awaited.
func (c *Controller) Close() error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	active := c.current
	c.mu.Unlock()

	if !alreadyClosed && active != nil {
		c.stop(active, StopDisposed)
	}
	c.cancel()
	c.work.Wait()
	return nil
}
