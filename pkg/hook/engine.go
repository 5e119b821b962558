// Package hook runs the capture engine: a reader goroutine routes every event
// from the physical keyboard while a watchdog goroutine reclaims the grab
// after passthrough traffic goes quiet.
package hook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/filipyuen/Q9CP/pkg/capture"
	"github.com/filipyuen/Q9CP/pkg/device"
	"github.com/filipyuen/Q9CP/pkg/forward"
	"github.com/filipyuen/Q9CP/pkg/keymap"
)

// Variant selects how passthrough keys reach the desktop.
type Variant string

const (
	// VariantInject releases the grab and replays keys through an external injector.
	VariantInject Variant = "inject"
	// VariantMirror keeps the grab and re-emits events on a uinput clone.
	VariantMirror Variant = "mirror"
)

// DefaultReaderGrace bounds how long shutdown waits for a read that is still
// blocked in the kernel.
const DefaultReaderGrace = 500 * time.Millisecond

var timeNow = time.Now

// Options configures an Engine.
type Options struct {
	Device    device.Device
	Variant   Variant
	Table     *keymap.Table
	Forwarder forward.Forwarder
	Notifier  Notifier
	Logger    *slog.Logger

	// Ticks and Interval tune the regrab watchdog.
	Ticks    int
	Interval time.Duration

	ReaderGrace time.Duration

	// Started, if set, is called once the initial grab has been attempted.
	Started func(capture.State)
}

// Summary describes a finished run.
type Summary struct {
	StartedAt    time.Time
	EndedAt      time.Time
	InitialState capture.State
	Timeline     []capture.Transition
	Counters     Counters
}

// Engine owns the device, the forwarder and the capture state for one run.
type Engine struct {
	opts   Options
	logger *slog.Logger
	ctrl   *capture.Controller
	router *router
}

// New validates opts and builds an engine. Nothing is grabbed until Run.
func New(opts Options) (*Engine, error) {
	if opts.Device == nil {
		return nil, errors.New("device must be provided")
	}
	if opts.Forwarder == nil {
		return nil, errors.New("forwarder must be provided")
	}
	if opts.Notifier == nil {
		return nil, errors.New("notifier must be provided")
	}
	switch opts.Variant {
	case VariantInject, VariantMirror:
	case "":
		opts.Variant = VariantInject
	default:
		return nil, fmt.Errorf("unknown variant %q", opts.Variant)
	}
	if opts.Table == nil {
		opts.Table = keymap.Default()
	}
	if opts.ReaderGrace <= 0 {
		opts.ReaderGrace = DefaultReaderGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &Engine{opts: opts, logger: logger}
	e.ctrl = capture.NewController(capture.Options{
		Device:    opts.Device,
		Ticks:     opts.Ticks,
		Logger:    logger,
		OnRelease: e.releaseHeld,
	})
	e.router = &router{
		variant:  opts.Variant,
		table:    opts.Table,
		ctrl:     e.ctrl,
		fwd:      opts.Forwarder,
		notifier: opts.Notifier,
		logger:   logger,
	}
	return e, nil
}

// Controller exposes the capture state machine for inspection.
func (e *Engine) Controller() *capture.Controller { return e.ctrl }

// Run grabs the device and routes events until ctx is cancelled or the device
// fails. On every exit path the grab is released before the device is closed,
// and the forwarder is closed last. A removed device is reported as an error
// wrapping device.ErrDeviceGone.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	summary := Summary{StartedAt: timeNow().UTC()}

	state, err := e.ctrl.Start()
	if err != nil {
		e.logger.Error("initial grab failed; intercepted keys will leak to the desktop", "error", err)
	}
	summary.InitialState = state
	if e.opts.Started != nil {
		e.opts.Started(state)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		capture.NewWatchdog(e.ctrl, e.opts.Interval).Run(runCtx)
	}()

	readErr := make(chan error, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readErr <- e.readLoop(runCtx)
	}()

	var runErr error
	select {
	case <-runCtx.Done():
	case runErr = <-readErr:
	}
	cancel()

	if shutdownErr := e.shutdown(); shutdownErr != nil {
		e.logger.Warn("shutdown incomplete", "error", shutdownErr)
	}
	wg.Wait()
	select {
	case <-readerDone:
	case <-time.After(e.opts.ReaderGrace):
		// A grabbed evdev fd is in blocking mode, so close does not wake a
		// pending read. The goroutine exits with the next event or the process.
		e.logger.Debug("event reader still blocked after close; abandoning it", "grace", e.opts.ReaderGrace)
	}

	summary.EndedAt = timeNow().UTC()
	summary.Timeline = e.ctrl.Timeline()
	summary.Counters = e.router.snapshot()
	grabs := e.ctrl.Counters()
	summary.Counters.GrabFailures = grabs.GrabFailures
	summary.Counters.UngrabFailures = grabs.UngrabFailures
	e.logSummary(summary)

	if errors.Is(runErr, device.ErrClosed) {
		runErr = nil
	}
	return summary, runErr
}

func (e *Engine) readLoop(ctx context.Context) error {
	for {
		ev, err := e.opts.Device.ReadEvent()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, device.ErrDeviceGone) {
				e.logger.Error("input device removed", "error", err)
			}
			return err
		}
		e.router.handle(ctx, ev)
	}
}

// shutdown runs in a fixed order: release the grab, lift keys held on the
// mirror, close the device, then the forwarder.
func (e *Engine) shutdown() error {
	var errs []error
	if err := e.ctrl.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("ungrab: %w", err))
	}
	if err := e.opts.Forwarder.ReleaseHeld(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := e.opts.Device.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close device: %w", err))
	}
	if err := e.opts.Forwarder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close forwarder: %w", err))
	}
	return errors.Join(errs...)
}

func (e *Engine) releaseHeld(reason string) {
	if err := e.opts.Forwarder.ReleaseHeld(context.Background()); err != nil {
		e.logger.Warn("could not release held keys", "reason", reason, "error", err)
	}
}

func (e *Engine) logSummary(s Summary) {
	uptime := strings.TrimSpace(humanize.RelTime(s.StartedAt, s.EndedAt, "", ""))
	e.logger.Info("hook stopped",
		"uptime", uptime,
		"intercepted", humanize.Comma(int64(s.Counters.Intercepted)),
		"forwarded", humanize.Comma(int64(s.Counters.Forwarded)),
		"forward_failures", s.Counters.ForwardFailures,
		"dropped", s.Counters.Dropped,
		"grab_failures", s.Counters.GrabFailures,
		"transitions", len(s.Timeline),
	)
}
