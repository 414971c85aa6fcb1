package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/liftnote/internal/capture"
	"github.com/rbright/liftnote/internal/transcribe"
)

type fakeDevice struct {
	dir         string
	finalizeErr error

	mu       sync.Mutex
	opens    int
	live     int
	maxLive  int
	handles  []*fakeHandle
	released int
}

func (d *fakeDevice) RequestPermission(context.Context) error { return nil }

func (d *fakeDevice) Open(context.Context) (capture.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	d.live++
	if d.live > d.maxLive {
		d.maxLive = d.live
	}
	handle := &fakeHandle{device: d, index: d.opens}
	d.handles = append(d.handles, handle)
	return handle, nil
}

func (d *fakeDevice) done(released bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.live--
	if released {
		d.released++
	}
}

func (d *fakeDevice) stats() (opens, live, maxLive int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens, d.live, d.maxLive
}

func (d *fakeDevice) lastHandle() *fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) == 0 {
		return nil
	}
	return d.handles[len(d.handles)-1]
}

type fakeHandle struct {
	device      *fakeDevice
	index       int
	finalizedAt atomic.Pointer[time.Time]
}

func (h *fakeHandle) Finalize(context.Context) (capture.Artifact, error) {
	now := time.Now()
	h.finalizedAt.Store(&now)
	h.device.done(false)
	if h.device.finalizeErr != nil {
		return capture.Artifact{}, h.device.finalizeErr
	}

	path := filepath.Join(h.device.dir, fmt.Sprintf("capture-%d.wav", h.index))
	data := []byte("RIFF0000WAVEdata")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return capture.Artifact{}, err
	}
	return capture.Artifact{
		ID:    fmt.Sprintf("capture-%d", h.index),
		Path:  path,
		Bytes: int64(len(data)),
	}, nil
}

func (h *fakeHandle) Release() error {
	h.device.done(true)
	return nil
}

type fakeProcessor struct {
	gate chan struct{}

	mu        sync.Mutex
	artifacts []capture.Artifact
}

func (p *fakeProcessor) Process(ctx context.Context, artifact capture.Artifact) (transcribe.Result, bool) {
	defer func() { _ = artifact.Remove() }()

	p.mu.Lock()
	p.artifacts = append(p.artifacts, artifact)
	p.mu.Unlock()

	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return transcribe.Result{}, false
		}
	}
	return transcribe.Result{Transcript: "transcript for " + artifact.ID}, true
}

func (p *fakeProcessor) processed() []capture.Artifact {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]capture.Artifact(nil), p.artifacts...)
}

type resultRecorder struct {
	mu      sync.Mutex
	results []transcribe.Result
}

func (r *resultRecorder) handle(_ context.Context, result transcribe.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *resultRecorder) snapshot() []transcribe.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transcribe.Result(nil), r.results...)
}

type recordingIndicator struct {
	mu    sync.Mutex
	calls []string
}

func (i *recordingIndicator) record(call string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, call)
}

func (i *recordingIndicator) ShowPressed(context.Context)      { i.record("pressed") }
func (i *recordingIndicator) ShowRecording(context.Context)    { i.record("recording") }
func (i *recordingIndicator) ShowTranscribing(context.Context) { i.record("transcribing") }
func (i *recordingIndicator) Hide(context.Context)             { i.record("hide") }

func (i *recordingIndicator) snapshot() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.calls...)
}

type harness struct {
	device    *fakeDevice
	processor Processor
	results   *resultRecorder
	indicator *recordingIndicator
	ctrl      *Controller
}

func newHarness(t *testing.T, device *fakeDevice, processor Processor) *harness {
	t.Helper()
	if device == nil {
		device = &fakeDevice{}
	}
	device.dir = t.TempDir()
	if processor == nil {
		processor = &fakeProcessor{}
	}
	h := &harness{
		device:    device,
		processor: processor,
		results:   &resultRecorder{},
		indicator: &recordingIndicator{},
	}
	h.ctrl = NewController(Options{
		Device:        device,
		Processor:     processor,
		Indicator:     h.indicator,
		OnResult:      h.results.handle,
		HoldThreshold: 250 * time.Millisecond,
		Capture: capture.Config{
			MaxDuration:      90 * time.Second,
			LivenessInterval: 100 * time.Millisecond,
			MinCapture:       400 * time.Millisecond,
			FinalizeTimeout:  time.Second,
		},
	})
	t.Cleanup(func() { _ = h.ctrl.Close() })
	return h
}
