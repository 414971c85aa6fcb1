package gesture

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultHoldThreshold is the press duration that separates a tap from a hold.
const DefaultHoldThreshold = 250 * time.Millisecond

// Capturer is the capture surface the classifier drives.
type Capturer interface {
	Start(ctx context.Context, token uint64) error
	Stop() bool
}

// Listener receives press feedback. Methods are invoked with the classifier
// lock held and must not call back into the Classifier.
type Listener interface {
	Pressed(token uint64)
	Tapped(token uint64)
}

// Classifier turns press events into capture start/stop calls.
type Classifier struct {
	logger    *slog.Logger
	tracker   *Tracker
	capturer  Capturer
	listener  Listener
	threshold time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	holdTimer *time.Timer
	confirmed uint64
	closed    bool

	starts sync.WaitGroup
}

type noopListener struct{}

func (noopListener) Pressed(uint64) {}
func (noopListener) Tapped(uint64)  {}

// NewClassifier wires a classifier over tracker and capturer.
// A non-positive threshold selects DefaultHoldThreshold.
func NewClassifier(
	logger *slog.Logger,
	tracker *Tracker,
	capturer Capturer,
	listener Listener,
	threshold time.Duration,
) *Classifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if listener == nil {
		listener = noopListener{}
	}
	if threshold <= 0 {
		threshold = DefaultHoldThreshold
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Classifier{
		logger:    logger,
		tracker:   tracker,
		capturer:  capturer,
		listener:  listener,
		threshold: threshold,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// PressDown starts a new press and arms the hold timer. A press that is
// still held is released first.
func (c *Classifier) PressDown() {
	if c.tracker.Held() {
		c.logger.Debug("press down while held; releasing previous press")
		c.PressUp()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	press := c.tracker.down(time.Now())
	token := press.Token
	c.holdTimer = time.AfterFunc(c.threshold, func() {
		c.confirm(token)
	})
	c.listener.Pressed(token)
}

// confirm runs when the hold timer fires for token.
func (c *Classifier) confirm(token uint64) {
	c.mu.Lock()
	if c.closed || c.tracker.Current() != token || !c.tracker.Held() {
		c.mu.Unlock()
		return
	}
	c.confirmed = token
	c.starts.Add(1)
	c.mu.Unlock()
	defer c.starts.Done()

	c.logger.Debug("hold confirmed", "token", token)
	if err := c.capturer.Start(c.ctx, token); err != nil {
		c.logger.Debug("hold did not start capture", "token", token, "error", err.Error())
	}
}

// PressUp ends the current press. A tap emits Listener.Tapped; a confirmed
// hold stops the capture.
func (c *Classifier) PressUp() {
	c.mu.Lock()
	if !c.tracker.Held() {
		c.mu.Unlock()
		return
	}

	token := c.tracker.Current()
	wasConfirmed := c.confirmed == token
	c.tracker.up()
	if c.holdTimer != nil {
		c.holdTimer.Stop()
		c.holdTimer = nil
	}
	if !wasConfirmed {
		c.listener.Tapped(token)
		c.mu.Unlock()
		c.logger.Debug("tap ignored", "token", token)
		return
	}
	c.mu.Unlock()

	if !c.capturer.Stop() {
		c.logger.Debug("release found no active capture", "token", token)
	}
}

// Close stops the hold timer and waits for confirmed starts to return.
func (c *Classifier) Close() {
	c.mu.Lock()
	c.closed = true
	if c.holdTimer != nil {
		c.holdTimer.Stop()
		c.holdTimer = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.starts.Wait()
}
