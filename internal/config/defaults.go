package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Transcription: TranscriptionConfig{
			BaseURL:    "http://127.0.0.1:8787",
			HealthPath: "/health",
			TimeoutMS:  30000,
		},
		Capture: CaptureConfig{
			HoldThresholdMS:    250,
			MinCaptureMS:       400,
			MaxDurationMS:      90000,
			LivenessIntervalMS: 100,
			FinalizeTimeoutMS:  5000,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "hypr",
			DesktopAppName: "liftnote",
			SoundEnable:    true,
		},
		Telemetry: TelemetryConfig{
			Insecure:   true,
			IntervalMS: 10000,
		},
	}
}
