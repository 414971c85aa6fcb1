package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbright/liftnote/internal/audio"
	"github.com/rbright/liftnote/internal/capture"
	"github.com/rbright/liftnote/internal/config"
	"github.com/rbright/liftnote/internal/indicator"
	"github.com/rbright/liftnote/internal/ipc"
	"github.com/rbright/liftnote/internal/journal"
	"github.com/rbright/liftnote/internal/pipeline"
	"github.com/rbright/liftnote/internal/session"
	"github.com/rbright/liftnote/internal/telemetry"
	"github.com/rbright/liftnote/internal/transcribe"
)

const shutdownTimeout = 5 * time.Second

// commandListen owns the socket until ctx is cancelled, turning press and
// release edges into journal entries.
func (r Runner) commandListen(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	sock, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{
		ProbeTimeout: 180 * time.Millisecond,
		Retries:      8,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		if !errors.Is(err, ipc.ErrAlreadyRunning) {
			logger.Error("acquire socket failed", "path", socketPath, "error", err.Error())
		}
		return 1
	}
	defer func() { _ = sock.Close() }()

	store, err := openJournal(ctx, cfg)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	metrics, err := telemetry.New(ctx, telemetry.Config{
		Endpoint: cfg.Telemetry.Endpoint,
		Insecure: cfg.Telemetry.Insecure,
		Interval: cfg.Telemetry.Interval(),
	}, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err.Error())
		}
	}()

	notifier := indicator.New(cfg.Indicator, logger)
	defer notifier.Close()

	device := audio.NewPulseDevice(audio.DeviceConfig{
		Input:    cfg.Audio.Input,
		Fallback: cfg.Audio.Fallback,
		Dir:      cfg.Capture.Dir,
	}, logger)

	controller := newController(cfg, logger, device, metrics, notifier, &entryRecorder{
		store:  store,
		saved:  notifier,
		logger: logger,
		now:    r.Now,
	})
	defer func() { _ = controller.Close() }()

	logger.Info("daemon listening", "socket", socketPath, "journal", store.Path())
	fmt.Fprintf(r.Stdout, "listening on %s\n", socketPath)

	if err := ipc.Serve(ctx, sock, controller); err != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", err)
		return 1
	}
	logger.Info("daemon stopped")
	return 0
}

func newController(
	cfg config.Config,
	logger *slog.Logger,
	device capture.Device,
	metrics *telemetry.Metrics,
	ind session.Indicator,
	recorder *entryRecorder,
) *session.Controller {
	client := transcribe.New(cfg.Transcription.BaseURL, transcribe.WithTimeout(cfg.Transcription.Timeout()))
	return session.NewController(session.Options{
		Logger:        logger,
		Device:        device,
		Processor:     pipeline.New(client, metrics, logger),
		Indicator:     ind,
		Metrics:       metrics,
		OnResult:      recorder.record,
		HoldThreshold: cfg.Capture.HoldThreshold(),
		Capture: capture.Config{
			MaxDuration:      cfg.Capture.MaxDuration(),
			LivenessInterval: cfg.Capture.LivenessInterval(),
			MinCapture:       cfg.Capture.MinCapture(),
			FinalizeTimeout:  cfg.Capture.FinalizeTimeout(),
		},
	})
}

type savedCue interface {
	Saved(context.Context)
}

// entryRecorder stores each transcription as a journal entry for the current day.
type entryRecorder struct {
	store  journal.Store
	saved  savedCue
	logger *slog.Logger
	now    func() time.Time
}

func (e *entryRecorder) record(ctx context.Context, result transcribe.Result) {
	entry, err := e.store.Add(ctx, journal.FromResult(journal.Today(e.now()), result))
	if err != nil {
		e.logger.Error("store journal entry failed", "error", err.Error())
		return
	}
	e.logger.Info("journal entry stored",
		"id", entry.ID,
		"day", entry.Day,
		"position", entry.Position,
		"exercises", len(result.ExtractedLifts),
	)
	if e.saved != nil {
		e.saved.Saved(ctx)
	}
}
