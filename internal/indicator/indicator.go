// Package indicator shows press, recording, and transcribing state on the
// desktop and plays short audio cues. Every call returns immediately; the
// work runs on a background worker.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/liftnote/internal/config"
	"github.com/rbright/liftnote/internal/hypr"
)

const (
	queueSize        = 16
	dispatchTimeout  = 400 * time.Millisecond
	overlayTimeoutMS = 120000

	colorPressed      = "rgb(f9e2af)"
	colorRecording    = hypr.DefaultColor
	colorTranscribing = "rgb(cba6f7)"

	textPressed      = "Hold to record…"
	textRecording    = "Recording…"
	textTranscribing = "Transcribing…"
)

type backend interface {
	notify(ctx context.Context, timeoutMS int, color string, text string) error
	dismiss(ctx context.Context) error
}

// Notifier is the concrete indicator used by the daemon. It routes overlays
// through Hyprland or freedesktop notifications based on config backend.
type Notifier struct {
	cfg     config.IndicatorConfig
	logger  *slog.Logger
	backend backend
	cue     func(context.Context, cueKind) error

	mu     sync.Mutex
	closed bool
	queue  chan func(context.Context)
	done   chan struct{}
	cues   sync.WaitGroup
	// cueMu serializes cue playback so tones never overlap.
	cueMu sync.Mutex
}

// New creates a Notifier and starts its worker. Call Close to stop it.
func New(cfg config.IndicatorConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var b backend = hyprBackend{}
	if strings.EqualFold(strings.TrimSpace(cfg.Backend), "desktop") {
		b = &desktopBackend{appName: cfg.DesktopAppName}
	}
	n := &Notifier{
		cfg:     cfg,
		logger:  logger,
		backend: b,
		queue:   make(chan func(context.Context), queueSize),
		done:    make(chan struct{}),
	}
	n.cue = func(ctx context.Context, kind cueKind) error {
		return emitCue(ctx, kind, cfg)
	}
	go n.run()
	return n
}

// ShowPressed gives immediate feedback that a press registered.
func (n *Notifier) ShowPressed(context.Context) {
	n.overlay(colorPressed, textPressed)
}

// ShowRecording signals capture start and plays the start cue.
func (n *Notifier) ShowRecording(context.Context) {
	n.playCue(cueStart)
	n.overlay(colorRecording, textRecording)
}

// ShowTranscribing signals the upload phase and plays the stop cue.
func (n *Notifier) ShowTranscribing(context.Context) {
	n.playCue(cueStop)
	n.overlay(colorTranscribing, textTranscribing)
}

// Hide dismisses the overlay.
func (n *Notifier) Hide(context.Context) {
	if !n.cfg.Enable {
		return
	}
	n.enqueue(func(ctx context.Context) error { return n.backend.dismiss(ctx) })
}

// Saved plays the cue for a stored journal entry.
func (n *Notifier) Saved(context.Context) {
	n.playCue(cueSaved)
}

// Close drains queued work and waits for cue playback to finish.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	<-n.done
	n.cues.Wait()
}

func (n *Notifier) overlay(color, text string) {
	if !n.cfg.Enable {
		return
	}
	n.enqueue(func(ctx context.Context) error {
		return n.backend.notify(ctx, overlayTimeoutMS, color, text)
	})
}

// enqueue never blocks; callers hold session locks.
func (n *Notifier) enqueue(fn func(context.Context) error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			n.logger.Debug("indicator dispatch failed", "error", err.Error())
		}
	}:
	default:
		n.logger.Debug("indicator queue full; dropping update")
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for job := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		job(ctx)
		cancel()
	}
}

func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.cues.Add(1)
	go func() {
		defer n.cues.Done()
		n.cueMu.Lock()
		defer n.cueMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), cueTimeout)
		defer cancel()
		if err := n.cue(ctx, kind); err != nil {
			n.logger.Debug("indicator audio cue failed", "error", err.Error())
		}
	}()
}

type hyprBackend struct{}

func (hyprBackend) notify(ctx context.Context, timeoutMS int, color string, text string) error {
	return hypr.Notify(ctx, 1, timeoutMS, color, text)
}

func (hyprBackend) dismiss(ctx context.Context) error {
	return hypr.DismissNotify(ctx)
}
