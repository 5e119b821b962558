package capture

import (
	"context"
	"time"
)

// Watchdog ticks the controller on a fixed interval for the lifetime of the
// engine.
type Watchdog struct {
	ctrl     *Controller
	interval time.Duration
}

// NewWatchdog constructs a watchdog. A non-positive interval selects
// DefaultInterval.
func NewWatchdog(ctrl *Controller, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watchdog{ctrl: ctrl, interval: interval}
}

// Interval returns the polling interval.
func (w *Watchdog) Interval() time.Duration { return w.interval }

// Tick runs a single watchdog step.
func (w *Watchdog) Tick() bool { return w.ctrl.Tick() }

// Run ticks until ctx is done or the controller has been shut down.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.ctrl.Stopped() {
				return
			}
			w.ctrl.Tick()
		}
	}
}
