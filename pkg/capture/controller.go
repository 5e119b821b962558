// Package capture holds the capture state machine that decides who owns the
// physical keyboard, and the watchdog that reclaims it after passthrough
// traffic goes quiet.
package capture

import (
	"io"
	"log/slog"
	"sync"
	"time"
)

// State is whether the physical device is exclusively grabbed.
//
// The legal transitions are:
//
//	captured --toggle up--------------> released
//	released --toggle up--------------> captured
//	captured --passthrough down-------> released
//	released --countdown reaches zero-> captured
//
// Anything else leaves the state unchanged. Re-entering the current state is
// a no-op.
type State int

const (
	Captured State = iota
	Released
)

func (s State) String() string {
	switch s {
	case Captured:
		return "captured"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Transition reasons recorded in the timeline.
const (
	ReasonStartup     = "startup"
	ReasonToggle      = "toggle"
	ReasonPassthrough = "passthrough"
	ReasonRegrab      = "regrab"
	ReasonShutdown    = "shutdown"
)

const (
	// DefaultTicks is the debounce window in watchdog ticks.
	DefaultTicks = 10
	// DefaultInterval is the watchdog polling interval.
	DefaultInterval = 100 * time.Millisecond

	inactive      = -1
	timelineLimit = 256
)

var timeNow = time.Now

// Grabber is the part of the device the state machine drives. Both calls must
// report the real outcome of the underlying ioctl.
type Grabber interface {
	Grab() error
	Ungrab() error
}

// Transition is one entry of the controller timeline.
type Transition struct {
	State     State
	Reason    string
	Timestamp time.Time
}

// Counters tallies grab ioctl failures.
type Counters struct {
	GrabFailures   int
	UngrabFailures int
}

// Options configures a Controller.
type Options struct {
	Device Grabber
	// Ticks is the countdown armed on every release. Defaults to DefaultTicks.
	Ticks  int
	Logger *slog.Logger
	// OnRelease runs after every transition into Released, outside the lock.
	OnRelease func(reason string)
}

// Controller is the single owner of CaptureState and the regrab countdown.
// Both fields are only read or written with mu held, and state always matches
// the device's actual grab status.
type Controller struct {
	dev       Grabber
	ticks     int
	logger    *slog.Logger
	onRelease func(string)

	mu        sync.Mutex
	state     State
	countdown int
	stopped   bool
	timeline  []Transition
	counters  Counters
}

// NewController constructs a controller in the Released state with the
// countdown inactive. Call Start to take the initial grab.
func NewController(opts Options) *Controller {
	ticks := opts.Ticks
	if ticks <= 0 {
		ticks = DefaultTicks
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{
		dev:       opts.Device,
		ticks:     ticks,
		logger:    logger,
		onRelease: opts.OnRelease,
		state:     Released,
		countdown: inactive,
	}
}

// Start attempts the initial grab. When it fails the controller stays
// Released and the error is returned so the caller can warn loudly.
func (c *Controller) Start() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return c.state, nil
	}
	if err := c.dev.Grab(); err != nil {
		c.counters.GrabFailures++
		return c.state, err
	}
	c.enterLocked(Captured, ReasonStartup)
	return c.state, nil
}

// Toggle flips the state once. A failed ioctl leaves the state where it was;
// a failed grab arms the countdown so the watchdog retries.
func (c *Controller) Toggle() (State, error) {
	c.mu.Lock()
	if c.stopped {
		state := c.state
		c.mu.Unlock()
		return state, nil
	}
	var err error
	released := false
	switch c.state {
	case Captured:
		if err = c.dev.Ungrab(); err != nil {
			c.counters.UngrabFailures++
			c.logger.Error("toggle ungrab failed", "error", err)
			break
		}
		c.enterLocked(Released, ReasonToggle)
		released = true
	case Released:
		if err = c.dev.Grab(); err != nil {
			c.counters.GrabFailures++
			c.countdown = c.ticks
			c.logger.Warn("toggle grab failed; watchdog will retry", "error", err)
			break
		}
		c.enterLocked(Captured, ReasonToggle)
	}
	state := c.state
	c.mu.Unlock()

	if released {
		c.released(ReasonToggle)
	}
	return state, err
}

// ReleaseForPassthrough gives up the grab so a passthrough key can reach the
// desktop, and arms the countdown. When already Released it only re-arms.
// It reports whether this call performed the transition.
func (c *Controller) ReleaseForPassthrough() (bool, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false, nil
	}
	if c.state == Released {
		c.countdown = c.ticks
		c.mu.Unlock()
		return false, nil
	}
	if err := c.dev.Ungrab(); err != nil {
		c.counters.UngrabFailures++
		c.mu.Unlock()
		return false, err
	}
	c.enterLocked(Released, ReasonPassthrough)
	c.mu.Unlock()

	c.released(ReasonPassthrough)
	return true, nil
}

// NoteActivity re-arms the countdown when the device is Released so capture
// is not reclaimed mid-typing. It is a no-op while Captured.
func (c *Controller) NoteActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.state != Released {
		return
	}
	c.countdown = c.ticks
}

// Tick advances the countdown by one. When it reaches zero while Released the
// grab is attempted; either way the countdown goes inactive, so a failed grab
// waits for the next qualifying event instead of retrying every tick.
// It reports whether capture was reclaimed.
func (c *Controller) Tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.countdown < 0 {
		return false
	}
	if c.countdown > 0 {
		c.countdown--
	}
	if c.countdown > 0 {
		return false
	}
	c.countdown = inactive
	if c.state != Released {
		return false
	}
	if err := c.dev.Grab(); err != nil {
		c.counters.GrabFailures++
		c.logger.Warn("regrab failed", "error", err)
		return false
	}
	c.enterLocked(Captured, ReasonRegrab)
	c.logger.Debug("capture reclaimed")
	return true
}

// Shutdown releases the grab and refuses every later transition. It is safe
// to call more than once.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.countdown = inactive
	var err error
	wasCaptured := c.state == Captured
	if wasCaptured {
		if err = c.dev.Ungrab(); err != nil {
			c.counters.UngrabFailures++
		}
	}
	c.enterLocked(Released, ReasonShutdown)
	c.mu.Unlock()

	if wasCaptured {
		c.released(ReasonShutdown)
	}
	return err
}

// State reports the current capture state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Countdown reports the remaining ticks, or -1 when inactive.
func (c *Controller) Countdown() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countdown
}

// Stopped reports whether Shutdown has run.
func (c *Controller) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Timeline returns a copy of the recorded transitions, oldest first.
func (c *Controller) Timeline() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Transition, len(c.timeline))
	copy(out, c.timeline)
	return out
}

// Counters returns the grab failure tallies.
func (c *Controller) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters
}

func (c *Controller) enterLocked(state State, reason string) {
	if state == Released && reason != ReasonShutdown {
		c.countdown = c.ticks
	}
	if state == Captured {
		c.countdown = inactive
	}
	c.state = state
	if len(c.timeline) == timelineLimit {
		c.timeline = append(c.timeline[:0], c.timeline[1:]...)
	}
	c.timeline = append(c.timeline, Transition{State: state, Reason: reason, Timestamp: timeNow().UTC()})
	c.logger.Info("capture state changed", "state", state.String(), "reason", reason)
}

func (c *Controller) released(reason string) {
	if c.onRelease != nil {
		c.onRelease(reason)
	}
}
