package device

import (
	"errors"
	"fmt"
	"sync"

	evdev "github.com/holoplot/go-evdev"
)

// ErrMirrorUnsupported is returned when the handle is not backed by a real
// evdev node and so has no capability set to clone.
var ErrMirrorUnsupported = errors.New("device cannot be mirrored")

// outputDevice is satisfied by a uinput-backed *evdev.InputDevice.
type outputDevice interface {
	WriteOne(event *evdev.InputEvent) error
	Close() error
}

var cloneDevice = func(name string, src *evdev.InputDevice) (outputDevice, error) {
	out, err := evdev.CloneDevice(name, src)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Mirror is a synthetic uinput device advertising the physical device's
// capability set.
type Mirror struct {
	name string

	mu     sync.Mutex
	out    outputDevice
	closed bool
}

// CreateMirror clones every event type and code the physical device reports
// into a new uinput device called name.
func (h *Handle) CreateMirror(name string) (*Mirror, error) {
	src, ok := h.dev.(*evdev.InputDevice)
	if !ok {
		return nil, ErrMirrorUnsupported
	}
	out, err := cloneDevice(name, src)
	if err != nil {
		return nil, fmt.Errorf("create uinput mirror of %s: %w", h.path, err)
	}
	return &Mirror{name: name, out: out}, nil
}

// Name returns the name the mirror was registered with.
func (m *Mirror) Name() string { return m.name }

// Emit writes ev followed by a SYN_REPORT marker. Synchronization events are
// written as-is.
func (m *Mirror) Emit(ev *evdev.InputEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := m.out.WriteOne(ev); err != nil {
		return fmt.Errorf("write %s: %w", m.name, err)
	}
	if ev.Type == evdev.EV_SYN {
		return nil
	}
	syn := &evdev.InputEvent{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT}
	if err := m.out.WriteOne(syn); err != nil {
		return fmt.Errorf("sync %s: %w", m.name, err)
	}
	return nil
}

// Close destroys the uinput device.
func (m *Mirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.out.Close()
}
