package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Transcription *jsoncTranscription `json:"transcription"`
	Capture       *jsoncCapture       `json:"capture"`
	Audio         *jsoncAudio         `json:"audio"`
	Journal       *jsoncJournal       `json:"journal"`
	Indicator     *jsoncIndicator     `json:"indicator"`
	Telemetry     *jsoncTelemetry     `json:"telemetry"`
}

type jsoncTranscription struct {
	BaseURL    *string `json:"base_url"`
	HealthPath *string `json:"health_path"`
	TimeoutMS  *int    `json:"timeout_ms"`
}

type jsoncCapture struct {
	HoldThresholdMS    *int    `json:"hold_threshold_ms"`
	MinCaptureMS       *int    `json:"min_capture_ms"`
	MaxDurationMS      *int    `json:"max_duration_ms"`
	LivenessIntervalMS *int    `json:"liveness_interval_ms"`
	FinalizeTimeoutMS  *int    `json:"finalize_timeout_ms"`
	Dir                *string `json:"dir"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncJournal struct {
	Path *string `json:"path"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	Backend        *string `json:"backend"`
	DesktopAppName *string `json:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
	SoundStartFile *string `json:"sound_start_file"`
	SoundStopFile  *string `json:"sound_stop_file"`
	SoundSavedFile *string `json:"sound_saved_file"`
}

type jsoncTelemetry struct {
	Endpoint   *string `json:"endpoint"`
	Insecure   *bool   `json:"insecure"`
	IntervalMS *int    `json:"interval_ms"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	payload.applyTo(&cfg)

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) {
	if t := payload.Transcription; t != nil {
		setString(&cfg.Transcription.BaseURL, t.BaseURL)
		setString(&cfg.Transcription.HealthPath, t.HealthPath)
		setInt(&cfg.Transcription.TimeoutMS, t.TimeoutMS)
	}

	if c := payload.Capture; c != nil {
		setInt(&cfg.Capture.HoldThresholdMS, c.HoldThresholdMS)
		setInt(&cfg.Capture.MinCaptureMS, c.MinCaptureMS)
		setInt(&cfg.Capture.MaxDurationMS, c.MaxDurationMS)
		setInt(&cfg.Capture.LivenessIntervalMS, c.LivenessIntervalMS)
		setInt(&cfg.Capture.FinalizeTimeoutMS, c.FinalizeTimeoutMS)
		setString(&cfg.Capture.Dir, c.Dir)
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
	}

	if j := payload.Journal; j != nil {
		setString(&cfg.Journal.Path, j.Path)
	}

	if i := payload.Indicator; i != nil {
		setBool(&cfg.Indicator.Enable, i.Enable)
		setString(&cfg.Indicator.Backend, i.Backend)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		setBool(&cfg.Indicator.SoundEnable, i.SoundEnable)
		setString(&cfg.Indicator.SoundStartFile, i.SoundStartFile)
		setString(&cfg.Indicator.SoundStopFile, i.SoundStopFile)
		setString(&cfg.Indicator.SoundSavedFile, i.SoundSavedFile)
	}

	if t := payload.Telemetry; t != nil {
		setString(&cfg.Telemetry.Endpoint, t.Endpoint)
		setBool(&cfg.Telemetry.Insecure, t.Insecure)
		setInt(&cfg.Telemetry.IntervalMS, t.IntervalMS)
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
