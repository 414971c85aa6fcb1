// Package config resolves, parses, validates, and defaults liftnote configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by liftnote.
type Config struct {
	Transcription TranscriptionConfig
	Capture       CaptureConfig
	Audio         AudioConfig
	Journal       JournalConfig
	Indicator     IndicatorConfig
	Telemetry     TelemetryConfig
}

// TranscriptionConfig locates the remote transcription service.
type TranscriptionConfig struct {
	BaseURL    string
	HealthPath string
	TimeoutMS  int
}

// CaptureConfig controls gesture and capture timing.
type CaptureConfig struct {
	HoldThresholdMS    int
	MinCaptureMS       int
	MaxDurationMS      int
	LivenessIntervalMS int
	FinalizeTimeoutMS  int
	Dir                string
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// JournalConfig locates the entry database. An empty Path uses the XDG data dir.
type JournalConfig struct {
	Path string
}

// IndicatorConfig controls visual indicator and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool
	Backend        string
	DesktopAppName string
	SoundEnable    bool
	SoundStartFile string
	SoundStopFile  string
	SoundSavedFile string
}

// TelemetryConfig controls OTLP metric export. An empty Endpoint disables export.
type TelemetryConfig struct {
	Endpoint   string
	Insecure   bool
	IntervalMS int
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// Timeout returns the per-request transcription timeout.
func (c TranscriptionConfig) Timeout() time.Duration {
	return millis(c.TimeoutMS)
}

func (c CaptureConfig) HoldThreshold() time.Duration    { return millis(c.HoldThresholdMS) }
func (c CaptureConfig) MinCapture() time.Duration       { return millis(c.MinCaptureMS) }
func (c CaptureConfig) MaxDuration() time.Duration      { return millis(c.MaxDurationMS) }
func (c CaptureConfig) LivenessInterval() time.Duration { return millis(c.LivenessIntervalMS) }
func (c CaptureConfig) FinalizeTimeout() time.Duration  { return millis(c.FinalizeTimeoutMS) }

// Interval returns the metric export period.
func (c TelemetryConfig) Interval() time.Duration {
	return millis(c.IntervalMS)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
