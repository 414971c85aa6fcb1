// Package journal stores day-keyed workout entries.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/liftnote/internal/transcribe"
)

// DayLayout is the Entry.Day format.
const DayLayout = "2006-01-02"

var (
	ErrNotFound        = errors.New("journal entry not found")
	ErrInvalidDay      = errors.New("invalid journal day")
	ErrInvalidOrder    = errors.New("order must list every entry of the day exactly once")
	ErrInvalidMerge    = errors.New("merge requires at least two entries from the same day")
	ErrUnknownBodyKind = errors.New("unknown entry body kind")
)

// LineKind tags one TypedLines line.
type LineKind string

const (
	LineLift LineKind = "lift"
	LineNote LineKind = "note"
)

// Line is one rendered line of a typed entry.
type Line struct {
	Kind LineKind `json:"kind"`
	Text string   `json:"text"`
}

// Body is either LegacyText or TypedLines.
type Body interface {
	// PlainText renders the body for display and for combine requests.
	PlainText() string
	kind() string
}

// LegacyText is a free-form entry.
type LegacyText struct {
	Text string `json:"text"`
}

func (b LegacyText) PlainText() string { return b.Text }
func (LegacyText) kind() string        { return "text" }

// TypedLines is an entry made of tagged lines.
type TypedLines struct {
	Lines []Line `json:"lines"`
}

func (b TypedLines) PlainText() string {
	texts := make([]string, 0, len(b.Lines))
	for _, line := range b.Lines {
		texts = append(texts, line.Text)
	}
	return strings.Join(texts, "\n")
}

func (TypedLines) kind() string { return "lines" }

// Entry is one journal card.
type Entry struct {
	ID        string
	Day       string
	Position  int
	Body      Body
	Summary   string
	CreatedAt time.Time
}

// Store persists entries. Implementations are safe for concurrent use.
type Store interface {
	Add(ctx context.Context, entry Entry) (Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	ListDay(ctx context.Context, day string) ([]Entry, error)
	Reorder(ctx context.Context, day string, ids []string) error
	Delete(ctx context.Context, id string) error
	Merge(ctx context.Context, ids []string, body Body) (Entry, error)
	Close() error
}

// ValidateDay checks day against DayLayout.
func ValidateDay(day string) error {
	if _, err := time.Parse(DayLayout, day); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidDay, day, err)
	}
	return nil
}

// Today returns the local calendar day for now.
func Today(now time.Time) string {
	return now.Local().Format(DayLayout)
}

func encodeBody(body Body) (string, []byte, error) {
	if body == nil {
		return "", nil, fmt.Errorf("%w: nil body", ErrUnknownBodyKind)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s body: %w", body.kind(), err)
	}
	return body.kind(), payload, nil
}

// decodeBody resolves a stored body exactly once, at read time.
func decodeBody(kind string, payload []byte) (Body, error) {
	switch kind {
	case LegacyText{}.kind():
		var body LegacyText
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, fmt.Errorf("decode text body: %w", err)
		}
		return body, nil
	case TypedLines{}.kind():
		var body TypedLines
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, fmt.Errorf("decode lines body: %w", err)
		}
		return body, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBodyKind, kind)
	}
}

// FromResult converts a transcription into a new entry for day. Extracted
// lifts become typed lines; otherwise the transcript is kept as text.
func FromResult(day string, result transcribe.Result) Entry {
	entry := Entry{Day: day, Summary: result.Summary}
	if len(result.ExtractedLifts) == 0 {
		entry.Body = LegacyText{Text: result.Transcript}
		return entry
	}

	lines := make([]Line, 0, len(result.ExtractedLifts))
	for _, group := range result.ExtractedLifts {
		lines = append(lines, Line{Kind: LineLift, Text: formatGroup(group)})
		for _, set := range group.Sets {
			if note := strings.TrimSpace(set.Note); note != "" {
				lines = append(lines, Line{Kind: LineNote, Text: note})
			}
		}
	}
	entry.Body = TypedLines{Lines: lines}
	return entry
}

func formatGroup(group transcribe.ExerciseGroup) string {
	if len(group.Sets) == 0 {
		return group.Exercise
	}
	sets := make([]string, 0, len(group.Sets))
	for _, set := range group.Sets {
		sets = append(sets, formatSet(set))
	}
	return group.Exercise + ": " + strings.Join(sets, ", ")
}

func formatSet(set transcribe.LiftSet) string {
	reps := strconv.Itoa(set.Reps)
	if set.Weight <= 0 {
		return reps + " reps"
	}
	weight := strconv.FormatFloat(set.Weight, 'f', -1, 64)
	if unit := strings.TrimSpace(set.Unit); unit != "" {
		weight += " " + unit
	}
	return weight + " x " + reps
}
