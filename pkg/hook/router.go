package hook

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	evdev "github.com/holoplot/go-evdev"

	"github.com/filipyuen/Q9CP/pkg/capture"
	"github.com/filipyuen/Q9CP/pkg/forward"
	"github.com/filipyuen/Q9CP/pkg/keymap"
)

// Key event values reported by evdev.
const (
	phaseUp     int32 = 0
	phaseDown   int32 = 1
	phaseRepeat int32 = 2
)

// Notifier reports intercepted key-downs to the consumer.
type Notifier interface {
	Intercepted(code evdev.EvCode) error
}

// Counters tallies what the router did with the events it saw.
type Counters struct {
	Intercepted     int
	Forwarded       int
	ForwardFailures int
	Dropped         int
	GrabFailures    int
	UngrabFailures  int
}

// router classifies raw events and acts on them. It runs on the reader
// goroutine only; the counters are guarded for readers elsewhere.
type router struct {
	variant  Variant
	table    *keymap.Table
	ctrl     *capture.Controller
	fwd      forward.Forwarder
	notifier Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	counters Counters
}

func (r *router) handle(ctx context.Context, ev *evdev.InputEvent) {
	if ev.Type != evdev.EV_KEY {
		if r.variant == VariantMirror && r.ctrl.State() == capture.Captured {
			r.forward(ctx, ev)
		}
		return
	}

	code := ev.Code
	if r.table.IsToggle(code) {
		switch ev.Value {
		case phaseUp:
			state, err := r.ctrl.Toggle()
			if err != nil {
				r.logger.Warn("toggle failed", "key", keymap.Name(code), "state", state.String(), "error", err)
			}
		case phaseDown:
			r.intercept(code)
		}
		return
	}

	if r.table.Classify(code) == keymap.Intercepted {
		if ev.Value == phaseDown {
			r.intercept(code)
		}
		return
	}

	switch r.variant {
	case VariantMirror:
		r.mirrorPassthrough(ctx, ev)
	default:
		r.injectPassthrough(ctx, ev)
	}
}

func (r *router) injectPassthrough(ctx context.Context, ev *evdev.InputEvent) {
	switch ev.Value {
	case phaseDown:
	case phaseRepeat:
		r.ctrl.NoteActivity()
		return
	default:
		return
	}

	released, err := r.ctrl.ReleaseForPassthrough()
	if err != nil {
		r.logger.Warn("release for passthrough failed", "key", keymap.Name(ev.Code), "error", err)
	}
	if !released && err == nil {
		// Already released: the desktop got this key natively and the
		// countdown was re-armed.
		return
	}

	r.forward(ctx, ev)
	r.ctrl.NoteActivity()
}

func (r *router) mirrorPassthrough(ctx context.Context, ev *evdev.InputEvent) {
	if r.ctrl.State() == capture.Captured {
		r.forward(ctx, ev)
		return
	}
	if ev.Value != phaseUp {
		r.ctrl.NoteActivity()
	}
}

func (r *router) forward(ctx context.Context, ev *evdev.InputEvent) {
	err := r.fwd.Forward(ctx, ev)
	countable := ev.Type == evdev.EV_KEY && ev.Value == phaseDown
	switch {
	case err == nil:
		if countable {
			r.count(func(c *Counters) { c.Forwarded++ })
		}
	case errors.Is(err, forward.ErrNoSymbol):
		r.count(func(c *Counters) { c.Dropped++ })
		r.logger.Warn("passthrough key has no injector symbol; dropped", "key", keymap.Name(ev.Code), "code", int(ev.Code))
	default:
		r.count(func(c *Counters) { c.ForwardFailures++ })
		r.logger.Warn("forward failed", "error", err)
	}
}

func (r *router) intercept(code evdev.EvCode) {
	r.count(func(c *Counters) { c.Intercepted++ })
	if err := r.notifier.Intercepted(code); err != nil {
		r.logger.Warn("notification not delivered", "key", keymap.Name(code), "error", err)
		return
	}
	r.logger.Debug("intercepted", "key", keymap.Name(code), "code", int(code))
}

func (r *router) count(fn func(*Counters)) {
	r.mu.Lock()
	fn(&r.counters)
	r.mu.Unlock()
}

func (r *router) snapshot() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters
}
