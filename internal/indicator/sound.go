package indicator

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"

	"github.com/rbright/liftnote/internal/config"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueSaved
)

const (
	cueSampleRate = 16000
	cueTimeout    = 4 * time.Second
	cueVolume     = 0.18
	cueGap        = 22 * time.Millisecond
	cueRamp       = 5 * time.Millisecond
)

// note is one tone of a cue, pitched in semitones relative to A4.
type note struct {
	semitones int
	length    time.Duration
}

// Start rises, stop falls, saved is a brighter two-note chime.
var cueNotes = map[cueKind][]note{
	cueStart: {{semitones: 12, length: 70 * time.Millisecond}, {semitones: 17, length: 70 * time.Millisecond}},
	cueStop:  {{semitones: 6, length: 120 * time.Millisecond}},
	cueSaved: {{semitones: 9, length: 65 * time.Millisecond}, {semitones: 14, length: 90 * time.Millisecond}},
}

var renderedCues = sync.OnceValue(func() map[cueKind][]int16 {
	out := make(map[cueKind][]int16, len(cueNotes))
	for kind, notes := range cueNotes {
		out[kind] = renderCue(notes)
	}
	return out
})

// emitCue plays the configured cue file when one is set and playable,
// otherwise the synthesized chime.
func emitCue(ctx context.Context, kind cueKind, cfg config.IndicatorConfig) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("play cue: %w", err)
	}
	if path := cuePath(kind, cfg); path != "" {
		if err := playCueFile(ctx, path); err == nil {
			return nil
		}
	}

	samples := cueSamples(kind)
	if len(samples) == 0 {
		return nil
	}
	return playSynthCue(ctx, samples)
}

func cuePath(kind cueKind, cfg config.IndicatorConfig) string {
	switch kind {
	case cueStart:
		return strings.TrimSpace(cfg.SoundStartFile)
	case cueStop:
		return strings.TrimSpace(cfg.SoundStopFile)
	case cueSaved:
		return strings.TrimSpace(cfg.SoundSavedFile)
	default:
		return ""
	}
}

func playCueFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat cue file %q: %w", path, err)
	}

	cmd := exec.CommandContext(ctx, "pw-play", "--media-role", "Notification", path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("play cue file %q: %w", path, err)
	}
	return nil
}

func playSynthCue(ctx context.Context, samples []int16) error {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("liftnote"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if cursor >= len(samples) || ctx.Err() != nil {
			return 0, pulse.EndOfData
		}

		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("liftnote cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}

	return nil
}

func cueSamples(kind cueKind) []int16 {
	return renderedCues()[kind]
}

func noteFrequency(semitones int) float64 {
	return 440 * math.Pow(2, float64(semitones)/12)
}

func renderCue(notes []note) []int16 {
	var pcm []int16
	gap := samplesFor(cueGap)
	for i, n := range notes {
		if i > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
		pcm = append(pcm, renderTone(noteFrequency(n.semitones), n.length, cueVolume)...)
	}
	return pcm
}

// renderTone returns a sine tone with raised-cosine ramps at both ends so the
// stream starts and stops without clicks.
func renderTone(frequencyHz float64, length time.Duration, volume float64) []int16 {
	n := samplesFor(length)
	if n == 0 || frequencyHz <= 0 || volume <= 0 {
		return nil
	}
	ramp := min(samplesFor(cueRamp), n/4)

	pcm := make([]int16, n)
	step := 2 * math.Pi * frequencyHz / cueSampleRate
	for i := range pcm {
		gain := volume * rampGain(min(i, n-1-i), ramp)
		pcm[i] = int16(math.Round(math.Sin(step*float64(i)) * gain * math.MaxInt16))
	}
	return pcm
}

func rampGain(edge, ramp int) float64 {
	if ramp <= 0 || edge >= ramp {
		return 1
	}
	return 0.5 - 0.5*math.Cos(math.Pi*float64(edge)/float64(ramp))
}

func samplesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
