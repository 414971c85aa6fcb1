// Package session is the press-and-hold facade: press events in, display
// state and transcription results out.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/liftnote/internal/capture"
	"github.com/rbright/liftnote/internal/fsm"
	"github.com/rbright/liftnote/internal/gesture"
	"github.com/rbright/liftnote/internal/ipc"
	"github.com/rbright/liftnote/internal/telemetry"
	"github.com/rbright/liftnote/internal/transcribe"
)

// Indicator is the session-facing subset of indicator behavior.
// Implementations must not block.
type Indicator interface {
	ShowPressed(context.Context)
	ShowRecording(context.Context)
	ShowTranscribing(context.Context)
	Hide(context.Context)
}

type noopIndicator struct{}

func (noopIndicator) ShowPressed(context.Context)      {}
func (noopIndicator) ShowRecording(context.Context)    {}
func (noopIndicator) ShowTranscribing(context.Context) {}
func (noopIndicator) Hide(context.Context)             {}

// Processor uploads one artifact and owns its cleanup.
type Processor interface {
	Process(context.Context, capture.Artifact) (transcribe.Result, bool)
}

// ResultHandler receives each successful transcription exactly once.
type ResultHandler func(context.Context, transcribe.Result)

// Options wires a Controller.
type Options struct {
	Logger        *slog.Logger
	Device        capture.Device
	Processor     Processor
	Indicator     Indicator
	Metrics       *telemetry.Metrics
	OnResult      ResultHandler
	HoldThreshold time.Duration
	Capture       capture.Config
}

// Controller owns the gesture classifier and capture controller for one
// input source and projects their lifecycle onto a display state.
type Controller struct {
	logger    *slog.Logger
	processor Processor
	indicator Indicator
	metrics   *telemetry.Metrics
	onResult  ResultHandler

	tracker    *gesture.Tracker
	capture    *capture.Controller
	classifier *gesture.Classifier

	// input serializes press edges from every source.
	input sync.Mutex

	mu      sync.Mutex
	state   fsm.State
	uploads int
	closed  bool
}

// NewController constructs the facade with safe default fallbacks.
func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	indicator := opts.Indicator
	if indicator == nil {
		indicator = noopIndicator{}
	}
	onResult := opts.OnResult
	if onResult == nil {
		onResult = func(context.Context, transcribe.Result) {}
	}

	c := &Controller{
		logger:    logger,
		processor: opts.Processor,
		indicator: indicator,
		metrics:   opts.Metrics,
		onResult:  onResult,
		tracker:   gesture.NewTracker(),
		state:     fsm.StateIdle,
	}
	c.capture = capture.NewController(logger, opts.Device, c.tracker, c, c, opts.Capture)
	c.classifier = gesture.NewClassifier(logger, c.tracker, c.capture, c, opts.HoldThreshold)
	return c
}

// State returns the display state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the idle|recording|transcribing projection.
func (c *Controller) Status() string {
	return fsm.Status(c.State())
}

// OnPressStart handles a raw press-down. It reports false when the press was
// ignored because the controller is busy or closed.
func (c *Controller) OnPressStart() bool {
	c.input.Lock()
	defer c.input.Unlock()

	if c.tracker.Held() {
		c.classifier.PressUp()
	}
	if reason := c.busy(); reason != "" {
		c.logger.Debug("press ignored", "reason", reason)
		return false
	}
	c.classifier.PressDown()
	return true
}

// OnPressEnd handles a raw press-up.
func (c *Controller) OnPressEnd() {
	c.input.Lock()
	defer c.input.Unlock()
	c.classifier.PressUp()
}

func (c *Controller) busy() string {
	c.mu.Lock()
	closed, uploads := c.closed, c.uploads
	c.mu.Unlock()

	switch {
	case closed:
		return "closed"
	case uploads > 0:
		return "transcribing"
	case c.capture.Phase() != capture.PhaseIdle:
		return "capture " + string(c.capture.Phase())
	default:
		return ""
	}
}

// transition applies one display event. Callers hold c.mu. Rejected events
// are logged and ignored; the display never gates capture correctness.
func (c *Controller) transition(event fsm.Event) bool {
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		c.logger.Debug("display transition rejected", "error", err.Error())
		return false
	}
	c.state = next
	return true
}

// Pressed implements gesture.Listener.
func (c *Controller) Pressed(token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transition(fsm.EventPress) {
		c.indicator.ShowPressed(context.Background())
	}
	c.metrics.PressRecorded(context.Background())
}

// Tapped implements gesture.Listener.
func (c *Controller) Tapped(token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transition(fsm.EventTap) {
		c.indicator.Hide(context.Background())
	}
	c.metrics.TapRecorded(context.Background())
}

// CaptureStarted implements capture.Observer.
func (c *Controller) CaptureStarted(token uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transition(fsm.EventCaptureStarted) {
		c.indicator.ShowRecording(context.Background())
	}
	c.metrics.CaptureStarted(context.Background())
}

// CaptureAborted implements capture.Observer.
func (c *Controller) CaptureAborted(token uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == fsm.StatePendingHold && c.transition(fsm.EventCaptureAborted) {
		c.indicator.Hide(context.Background())
	}
}

// CaptureStopping implements capture.Observer.
func (c *Controller) CaptureStopping(reason capture.StopReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transition(fsm.EventStop)
}

// CaptureDiscarded implements capture.Observer.
func (c *Controller) CaptureDiscarded(reason capture.DiscardReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transition(fsm.EventDiscard) {
		c.indicator.Hide(context.Background())
	}
	c.metrics.CaptureDiscarded(context.Background(), string(reason))
}

// CaptureDelivered implements capture.Observer. The upload is counted here,
// before the capture phase returns to idle, so no press can slip in between.
func (c *Controller) CaptureDelivered(artifact capture.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads++
	if c.transition(fsm.EventUpload) {
		c.indicator.ShowTranscribing(context.Background())
	}
	c.metrics.CaptureDuration(context.Background(), artifact.Duration)
}

// Deliver implements capture.Sink.
func (c *Controller) Deliver(ctx context.Context, artifact capture.Artifact) {
	var (
		result transcribe.Result
		ok     bool
	)
	if c.processor != nil {
		result, ok = c.processor.Process(ctx, artifact)
	} else if err := artifact.Remove(); err != nil {
		c.logger.Warn("remove capture artifact failed", "error", err.Error())
	}

	c.mu.Lock()
	c.uploads--
	if c.transition(fsm.EventTranscribed) {
		c.indicator.Hide(context.Background())
	}
	closed := c.closed
	c.mu.Unlock()

	if !ok {
		return
	}
	if closed {
		c.logger.Debug("drop transcription result after close", "artifact", artifact.ID)
		return
	}
	c.onResult(ctx, result)
}

// Handle serves IPC commands for the daemon.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return ipc.Response{OK: true, State: c.Status(), Message: string(c.State())}
	case ipc.CommandPress:
		if !c.OnPressStart() {
			return ipc.Response{OK: false, State: c.Status(), Error: "busy"}
		}
		return ipc.Response{OK: true, State: c.Status(), Message: "pressed"}
	case ipc.CommandRelease:
		c.OnPressEnd()
		return ipc.Response{OK: true, State: c.Status(), Message: "released"}
	default:
		return ipc.Response{OK: false, State: c.Status(), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

// Close disposes the facade. An active capture is discarded, an upload in
// flight is cancelled, and no result is delivered afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.classifier.Close()
	err := c.capture.Close()
	c.indicator.Hide(context.Background())
	return err
}
