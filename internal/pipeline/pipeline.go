// Package pipeline uploads finished capture artifacts for transcription.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/rbright/liftnote/internal/capture"
	"github.com/rbright/liftnote/internal/telemetry"
	"github.com/rbright/liftnote/internal/transcribe"
)

// Transcriber uploads one audio file and parses the service response.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (transcribe.Result, error)
}

// Pipeline owns one artifact per Process call.
type Pipeline struct {
	transcriber Transcriber
	metrics     *telemetry.Metrics
	logger      *slog.Logger
}

// New constructs a pipeline. metrics and logger may be nil.
func New(transcriber Transcriber, metrics *telemetry.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{transcriber: transcriber, metrics: metrics, logger: logger}
}

// Process uploads artifact and returns the parsed result. It reports false
// for every failure; failures are logged, never returned. The artifact file
// is removed before Process returns.
func (p *Pipeline) Process(ctx context.Context, artifact capture.Artifact) (transcribe.Result, bool) {
	defer p.cleanup(artifact)

	if artifactEmpty(artifact) {
		p.logger.Debug("skip upload of empty capture", "artifact", artifact.ID)
		p.metrics.UploadFinished(ctx, telemetry.OutcomeEmpty)
		return transcribe.Result{}, false
	}

	result, err := p.transcriber.Transcribe(ctx, artifact.Path)
	if err != nil {
		outcome := classify(err)
		p.metrics.UploadFinished(ctx, outcome)
		if outcome == telemetry.OutcomeEmpty {
			p.logger.Debug("no speech in capture", "artifact", artifact.ID)
			return transcribe.Result{}, false
		}
		p.logger.Warn("transcription failed",
			"artifact", artifact.ID,
			"outcome", outcome,
			"error", err.Error(),
		)
		return transcribe.Result{}, false
	}

	p.metrics.UploadFinished(ctx, telemetry.OutcomeOK)
	p.logger.Info("transcription complete",
		"artifact", artifact.ID,
		"duration_ms", artifact.Duration.Milliseconds(),
		"transcript_chars", len(result.Transcript),
		"lift_groups", len(result.ExtractedLifts),
	)
	return result, true
}

func (p *Pipeline) cleanup(artifact capture.Artifact) {
	if err := artifact.Remove(); err != nil {
		p.logger.Warn("remove capture artifact failed", "artifact", artifact.ID, "error", err.Error())
	}
}

// artifactEmpty reports a zero-byte recording. audio.PulseDevice never
// hands one over: it fails Finalize with capture.ErrEmptyCaptureData when no
// PCM arrived. The check covers capture.Device implementations that leave
// Bytes unset or write an empty file. Bytes is trusted when set; otherwise
// the file is checked.
func artifactEmpty(artifact capture.Artifact) bool {
	if artifact.Bytes > 0 {
		return false
	}
	info, err := os.Stat(artifact.Path)
	if err != nil {
		return false
	}
	return info.Size() == 0
}

func classify(err error) string {
	switch {
	case errors.Is(err, transcribe.ErrEmptyTranscript), errors.Is(err, capture.ErrEmptyCaptureData):
		return telemetry.OutcomeEmpty
	case errors.Is(err, transcribe.ErrNetwork):
		return telemetry.OutcomeNetwork
	case errors.Is(err, transcribe.ErrMalformedResponse):
		return telemetry.OutcomeMalformed
	default:
		return telemetry.OutcomeError
	}
}
