// Package doctor runs runtime readiness diagnostics for config, tools, audio,
// the transcription service, and the journal.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/liftnote/internal/audio"
	"github.com/rbright/liftnote/internal/config"
	"github.com/rbright/liftnote/internal/journal"
	"github.com/rbright/liftnote/internal/transcribe"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{checkConfig(cfg)}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "daemon socket directory available", "XDG_RUNTIME_DIR is empty"))

	if cfg.Config.Indicator.Enable {
		if strings.EqualFold(strings.TrimSpace(cfg.Config.Indicator.Backend), "desktop") {
			checks = append(checks, checkBinary("busctl", "desktop indicator backend"))
		} else {
			checks = append(checks, checkBinary("hyprctl", "hypr indicator backend"))
		}
	}

	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkTranscriptionReady(ctx, cfg.Config))
	checks = append(checks, checkJournal(ctx, cfg.Config))

	return Report{Checks: checks}
}

func checkConfig(cfg config.Loaded) Check {
	if !cfg.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("%q not found; using defaults", cfg.Path)}
	}
	message := fmt.Sprintf("loaded %q", cfg.Path)
	if len(cfg.Warnings) > 0 {
		message = fmt.Sprintf("%s (%d warnings)", message, len(cfg.Warnings))
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkTranscriptionReady probes the configured service health endpoint.
func checkTranscriptionReady(ctx context.Context, cfg config.Config) Check {
	client := transcribe.New(cfg.Transcription.BaseURL, transcribe.WithTimeout(probeTimeout))
	url := client.BaseURL() + cfg.Transcription.HealthPath
	if err := client.Ping(ctx, cfg.Transcription.HealthPath); err != nil {
		return Check{Name: "transcription.ready", Pass: false, Message: err.Error()}
	}
	return Check{Name: "transcription.ready", Pass: true, Message: fmt.Sprintf("ready at %s", url)}
}

// checkJournal opens the journal database, creating it when missing.
func checkJournal(ctx context.Context, cfg config.Config) Check {
	path := cfg.Journal.Path
	if strings.TrimSpace(path) == "" {
		var err error
		path, err = journal.DefaultPath()
		if err != nil {
			return Check{Name: "journal", Pass: false, Message: err.Error()}
		}
	}
	store, err := journal.Open(ctx, path)
	if err != nil {
		return Check{Name: "journal", Pass: false, Message: err.Error()}
	}
	_ = store.Close()
	return Check{Name: "journal", Pass: true, Message: fmt.Sprintf("opened %q", path)}
}
