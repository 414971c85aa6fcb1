// Package transcribe talks to the remote transcription and combine service.
package transcribe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork covers transport failures and non-2xx responses.
	ErrNetwork = errors.New("transcription service unreachable")
	// ErrMalformedResponse indicates a body that does not match the response contract.
	ErrMalformedResponse = errors.New("malformed transcription response")
	// ErrEmptyTranscript indicates the service heard no usable speech.
	ErrEmptyTranscript = errors.New("empty transcript")
	// ErrInvalidCombine rejects combine requests with fewer than two texts.
	ErrInvalidCombine = errors.New("combine requires at least two non-empty texts")
)

// LiftSet is one logged set within an exercise.
type LiftSet struct {
	Weight float64 `json:"weight,omitempty"`
	Reps   int     `json:"reps,omitempty"`
	Unit   string  `json:"unit,omitempty"`
	Note   string  `json:"note,omitempty"`
}

// ExerciseGroup groups the sets extracted for one exercise.
type ExerciseGroup struct {
	Exercise string    `json:"exercise"`
	Sets     []LiftSet `json:"sets,omitempty"`
}

// Result is the parsed transcription response.
type Result struct {
	Transcript     string
	Summary        string
	ExtractedLifts []ExerciseGroup
}

type transcribeResponse struct {
	Transcript     *string         `json:"transcript"`
	Summary        string          `json:"summary"`
	ExtractedLifts json.RawMessage `json:"extractedLifts"`
}

// decodeResult parses a /transcribe body. transcript is required; the
// optional enrichments are dropped rather than failing the result when they
// do not decode.
func decodeResult(payload []byte) (Result, error) {
	var raw transcribeResponse
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Result{}, fmt.Errorf("%w: decode: %w", ErrMalformedResponse, err)
	}
	if raw.Transcript == nil {
		return Result{}, fmt.Errorf("%w: missing transcript", ErrMalformedResponse)
	}

	transcript := strings.TrimSpace(*raw.Transcript)
	if transcript == "" {
		return Result{}, ErrEmptyTranscript
	}

	result := Result{
		Transcript: transcript,
		Summary:    strings.TrimSpace(raw.Summary),
	}
	if len(raw.ExtractedLifts) > 0 && string(raw.ExtractedLifts) != "null" {
		var groups []ExerciseGroup
		if err := json.Unmarshal(raw.ExtractedLifts, &groups); err == nil {
			result.ExtractedLifts = compactGroups(groups)
		}
	}
	return result, nil
}

func compactGroups(groups []ExerciseGroup) []ExerciseGroup {
	out := make([]ExerciseGroup, 0, len(groups))
	for _, group := range groups {
		group.Exercise = strings.TrimSpace(group.Exercise)
		if group.Exercise == "" {
			continue
		}
		out = append(out, group)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
