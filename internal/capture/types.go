package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	// ErrPermissionDenied indicates the device refused access to the input source.
	ErrPermissionDenied = errors.New("capture permission denied")
	// ErrDeviceAcquisition indicates the capture handle could not be created.
	ErrDeviceAcquisition = errors.New("capture device acquisition failed")
	// ErrEmptyCaptureData indicates the device finished without usable audio.
	ErrEmptyCaptureData = errors.New("capture produced no audio data")

	// ErrAlreadyActive refuses a start while a session is recording or stopping.
	ErrAlreadyActive = errors.New("capture session already active")
	// ErrStartInFlight refuses a start while another is acquiring the device.
	ErrStartInFlight = errors.New("capture start already in flight")
	// ErrStaleToken marks a start or continuation whose press was released or superseded.
	ErrStaleToken = errors.New("press token is stale")
	// ErrClosed refuses work after Close.
	ErrClosed = errors.New("capture controller closed")
)

// Artifact is a finished recording handed from capture to upload.
type Artifact struct {
	ID        string
	Path      string
	Duration  time.Duration
	Bytes     int64
	StartedAt time.Time
}

// Remove deletes the artifact file. Missing files are not an error.
func (a Artifact) Remove() error {
	if strings.TrimSpace(a.Path) == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact %q: %w", a.Path, err)
	}
	return nil
}

// Device acquires capture handles from an input source.
type Device interface {
	RequestPermission(context.Context) error
	Open(context.Context) (Handle, error)
}

// Handle is one live recording owned exclusively by the Controller.
type Handle interface {
	// Finalize stops recording and flushes the captured audio into an Artifact.
	Finalize(context.Context) (Artifact, error)
	// Release stops recording and drops everything captured so far.
	Release() error
}

// PressState reports the current press token and whether it is physically held.
type PressState interface {
	Current() uint64
	Held() bool
}

// Sink receives artifacts that survived finalize. It owns the artifact file.
type Sink interface {
	Deliver(context.Context, Artifact)
}

// Observer receives lifecycle notifications.
//
// Methods are invoked with the controller lock held, in the order the
// transitions happen, and must not call back into the Controller.
type Observer interface {
	CaptureStarted(token uint64)
	CaptureAborted(token uint64, err error)
	CaptureStopping(reason StopReason)
	CaptureDiscarded(reason DiscardReason)
	CaptureDelivered(artifact Artifact)
}

// StopReason names what ended a recording session.
type StopReason string

const (
	StopRelease  StopReason = "release"
	StopTimeout  StopReason = "timeout"
	StopLiveness StopReason = "liveness"
	StopDisposed StopReason = "disposed"
)

// DiscardReason names why a session produced no artifact. The values are
// used as telemetry attributes.
type DiscardReason string

const (
	DiscardTooShort       DiscardReason = "too_short"
	DiscardDisposed       DiscardReason = "disposed"
	DiscardEmpty          DiscardReason = "empty"
	DiscardFinalizeFailed DiscardReason = "finalize_failed"
)

type noopObserver struct{}

func (noopObserver) CaptureStarted(uint64)         {}
func (noopObserver) CaptureAborted(uint64, error)  {}
func (noopObserver) CaptureStopping(StopReason)    {}
func (noopObserver) CaptureDiscarded(DiscardReason) {}
func (noopObserver) CaptureDelivered(Artifact)     {}

// removeSink drops every delivered artifact.
type removeSink struct{}

func (removeSink) Deliver(_ context.Context, artifact Artifact) {
	_ = artifact.Remove()
}

// Config bounds capture timing.
type Config struct {
	MaxDuration      time.Duration
	LivenessInterval time.Duration
	MinCapture       time.Duration
	FinalizeTimeout  time.Duration
}

// DefaultConfig returns the stock timing: 90s cap, 100ms liveness poll,
// 400ms cancel window, 5s finalize budget.
func DefaultConfig() Config {
	return Config{
		MaxDuration:      90 * time.Second,
		LivenessInterval: 100 * time.Millisecond,
		MinCapture:       400 * time.Millisecond,
		FinalizeTimeout:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxDuration <= 0 {
		c.MaxDuration = def.MaxDuration
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = def.LivenessInterval
	}
	if c.MinCapture < 0 {
		c.MinCapture = 0
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = def.FinalizeTimeout
	}
	return c
}

// markErr tags err with marker unless it already carries a capture class.
func markErr(marker error, err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceAcquisition) {
		return err
	}
	return fmt.Errorf("%w: %w", marker, err)
}
