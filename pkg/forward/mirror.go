package forward

import (
	"context"
	"errors"
	"slices"
	"sync"

	evdev "github.com/holoplot/go-evdev"

	"github.com/filipyuen/Q9CP/pkg/keymap"
)

// Emitter writes one event to a synthetic device and flushes it.
// *device.Mirror satisfies it.
type Emitter interface {
	Emit(ev *evdev.InputEvent) error
	Close() error
}

// Mirror re-emits raw events on a synthetic device and remembers which keys
// it left pressed there.
type Mirror struct {
	out Emitter

	mu   sync.Mutex
	held map[evdev.EvCode]struct{}
}

// NewMirror wraps out.
func NewMirror(out Emitter) *Mirror {
	return &Mirror{out: out, held: make(map[evdev.EvCode]struct{})}
}

// Forward writes ev untouched, key and non-key events alike.
func (m *Mirror) Forward(_ context.Context, ev *evdev.InputEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.out.Emit(ev); err != nil {
		return &Error{Forwarder: "mirror", Action: "write", Key: keyName(ev), Err: err}
	}
	if ev.Type == evdev.EV_KEY {
		switch ev.Value {
		case 0:
			delete(m.held, ev.Code)
		default:
			m.held[ev.Code] = struct{}{}
		}
	}
	return nil
}

// Held returns the codes currently pressed on the synthetic device, sorted.
func (m *Mirror) Held() []evdev.EvCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heldLocked()
}

// ReleaseHeld writes a key-up for every held key so nothing stays stuck when
// the mirror stops receiving events.
func (m *Mirror) ReleaseHeld(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, code := range m.heldLocked() {
		up := &evdev.InputEvent{Type: evdev.EV_KEY, Code: code, Value: 0}
		if err := m.out.Emit(up); err != nil {
			errs = append(errs, &Error{Forwarder: "mirror", Action: "release", Key: keymap.Name(code), Err: err})
			continue
		}
		delete(m.held, code)
	}
	return errors.Join(errs...)
}

// Close releases held keys and destroys the synthetic device.
func (m *Mirror) Close() error {
	releaseErr := m.ReleaseHeld(context.Background())
	return errors.Join(releaseErr, m.out.Close())
}

func (m *Mirror) heldLocked() []evdev.EvCode {
	codes := make([]evdev.EvCode, 0, len(m.held))
	for code := range m.held {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}

func keyName(ev *evdev.InputEvent) string {
	if ev.Type != evdev.EV_KEY {
		return ""
	}
	return keymap.Name(ev.Code)
}
