package capture

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakePress struct {
	mu    sync.Mutex
	token uint64
	held  bool
}

func (p *fakePress) Current() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

func (p *fakePress) Held() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

func (p *fakePress) down() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token++
	p.held = true
	return p.token
}

func (p *fakePress) up() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token++
	p.held = false
}

// dropRelease clears the held flag without a token change, as if the release
// event was lost by the input layer.
func (p *fakePress) dropRelease() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = false
}

type fakeHandle struct {
	dir         string
	finalizeErr error
	bytes       int64

	finalizedAt atomic.Pointer[time.Time]
	released    atomic.Bool
}

func (h *fakeHandle) Finalize(context.Context) (Artifact, error) {
	now := time.Now()
	h.finalizedAt.Store(&now)
	if h.finalizeErr != nil {
		return Artifact{}, h.finalizeErr
	}
	path := filepath.Join(h.dir, "capture.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o600); err != nil {
		return Artifact{}, err
	}
	return Artifact{ID: "artifact-1", Path: path, Bytes: h.bytes}, nil
}

func (h *fakeHandle) Release() error {
	h.released.Store(true)
	return nil
}

type fakeDevice struct {
	t *testing.T

	permissionErr  error
	openErr        error
	finalizeErr    error
	permissionGate chan struct{}
	openGate       chan struct{}

	mu      sync.Mutex
	handles []*fakeHandle
	opens   atomic.Int32
}

func (d *fakeDevice) RequestPermission(ctx context.Context) error {
	if d.permissionGate != nil {
		select {
		case <-d.permissionGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return d.permissionErr
}

func (d *fakeDevice) Open(ctx context.Context) (Handle, error) {
	d.opens.Add(1)
	if d.openGate != nil {
		select {
		case <-d.openGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.openErr != nil {
		return nil, d.openErr
	}
	handle := &fakeHandle{dir: d.t.TempDir(), finalizeErr: d.finalizeErr, bytes: 3200}
	d.mu.Lock()
	d.handles = append(d.handles, handle)
	d.mu.Unlock()
	return handle, nil
}

func (d *fakeDevice) lastHandle() *fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) == 0 {
		return nil
	}
	return d.handles[len(d.handles)-1]
}

type fakeSink struct {
	mu        sync.Mutex
	artifacts []Artifact
}

func (s *fakeSink) Deliver(_ context.Context, artifact Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, artifact)
}

func (s *fakeSink) delivered() []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Artifact(nil), s.artifacts...)
}

type recordingObserver struct {
	mu       sync.Mutex
	events   []string
	stops    []StopReason
	discards []DiscardReason
}

func (o *recordingObserver) record(event string) {
	o.events = append(o.events, event)
}

func (o *recordingObserver) CaptureStarted(uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record("started")
}

func (o *recordingObserver) CaptureAborted(uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record("aborted")
}

func (o *recordingObserver) CaptureStopping(reason StopReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record("stopping")
	o.stops = append(o.stops, reason)
}

func (o *recordingObserver) CaptureDiscarded(reason DiscardReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record("discarded")
	o.discards = append(o.discards, reason)
}

func (o *recordingObserver) CaptureDelivered(Artifact) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record("delivered")
}

func (o *recordingObserver) snapshot() ([]string, []StopReason, []DiscardReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...),
		append([]StopReason(nil), o.stops...),
		append([]DiscardReason(nil), o.discards...)
}

type harness struct {
	press    *fakePress
	device   *fakeDevice
	sink     *fakeSink
	observer *recordingObserver
	ctrl     *Controller
}

func newHarness(t *testing.T, device *fakeDevice, cfg Config) *harness {
	t.Helper()
	if device == nil {
		device = &fakeDevice{}
	}
	device.t = t
	h := &harness{
		press:    &fakePress{},
		device:   device,
		sink:     &fakeSink{},
		observer: &recordingObserver{},
	}
	h.ctrl = NewController(nil, device, h.press, h.sink, h.observer, cfg)
	t.Cleanup(func() { _ = h.ctrl.Close() })
	return h
}

func testConfig() Config {
	return Config{
		MaxDuration:      90 * time.Second,
		LivenessInterval: 100 * time.Millisecond,
		MinCapture:       400 * time.Millisecond,
		FinalizeTimeout:  time.Second,
	}
}
