package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := validateBaseURL(cfg.Transcription.BaseURL); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(strings.TrimSpace(cfg.Transcription.HealthPath), "/") {
		return nil, fmt.Errorf("transcription.health_path must start with '/'")
	}
	if cfg.Transcription.TimeoutMS <= 0 {
		return nil, fmt.Errorf("transcription.timeout_ms must be > 0")
	}

	capture := cfg.Capture
	positive := []struct {
		name  string
		value int
	}{
		{"capture.hold_threshold_ms", capture.HoldThresholdMS},
		{"capture.max_duration_ms", capture.MaxDurationMS},
		{"capture.liveness_interval_ms", capture.LivenessIntervalMS},
		{"capture.finalize_timeout_ms", capture.FinalizeTimeoutMS},
	}
	for _, field := range positive {
		if field.value <= 0 {
			return nil, fmt.Errorf("%s must be > 0", field.name)
		}
	}
	if capture.MinCaptureMS < 0 {
		return nil, fmt.Errorf("capture.min_capture_ms must be >= 0")
	}
	if capture.MinCaptureMS >= capture.MaxDurationMS {
		return nil, fmt.Errorf("capture.min_capture_ms must be < capture.max_duration_ms")
	}
	if capture.LivenessIntervalMS >= capture.MaxDurationMS {
		return nil, fmt.Errorf("capture.liveness_interval_ms must be < capture.max_duration_ms")
	}
	if capture.HoldThresholdMS >= capture.MaxDurationMS {
		return nil, fmt.Errorf("capture.hold_threshold_ms must be < capture.max_duration_ms")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend != "hypr" && backend != "desktop" {
		return nil, fmt.Errorf("indicator.backend must be one of: hypr, desktop")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}

	if strings.TrimSpace(cfg.Telemetry.Endpoint) != "" && cfg.Telemetry.IntervalMS <= 0 {
		return nil, fmt.Errorf("telemetry.interval_ms must be > 0 when telemetry.endpoint is set")
	}

	if !cfg.Indicator.SoundEnable {
		for name, path := range map[string]string{
			"indicator.sound_start_file": cfg.Indicator.SoundStartFile,
			"indicator.sound_stop_file":  cfg.Indicator.SoundStopFile,
			"indicator.sound_saved_file": cfg.Indicator.SoundSavedFile,
		} {
			if strings.TrimSpace(path) != "" {
				warnings = append(warnings, Warning{Message: fmt.Sprintf("%s is ignored while indicator.sound_enable=false", name)})
			}
		}
	}

	return warnings, nil
}

func validateBaseURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("transcription.base_url must not be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("transcription.base_url is invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("transcription.base_url must use http or https")
	}
	if parsed.Host == "" {
		return fmt.Errorf("transcription.base_url must include a host")
	}
	return nil
}
