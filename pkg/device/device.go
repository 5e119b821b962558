// Package device owns the physical evdev input device: exclusive grab,
// blocking event reads and, for the mirroring variant, the uinput clone that
// re-emits passthrough traffic.
package device

import (
	"sync"

	evdev "github.com/holoplot/go-evdev"
)

// Device is the subset of the physical device the hook drives. Grab and
// Ungrab must report the real ioctl outcome. ReadEvent blocks until an event
// arrives or the device fails.
type Device interface {
	Grab() error
	Ungrab() error
	ReadEvent() (*evdev.InputEvent, error)
	Close() error
}

// inputDevice is satisfied by *evdev.InputDevice.
type inputDevice interface {
	Name() (string, error)
	Grab() error
	Ungrab() error
	ReadOne() (*evdev.InputEvent, error)
	Close() error
}

var openDevice = func(path string) (inputDevice, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Handle is an opened physical device.
type Handle struct {
	path string
	name string
	dev  inputDevice

	mu      sync.Mutex
	grabbed bool
	closed  bool
}

// Open opens the evdev node at path. Failures wrap ErrNotFound or
// ErrPermissionDenied when the cause is known.
func Open(path string) (*Handle, error) {
	dev, err := openDevice(path)
	if err != nil {
		return nil, newOpenError(path, err)
	}
	name, err := dev.Name()
	if err != nil {
		name = ""
	}
	return &Handle{path: path, name: name, dev: dev}, nil
}

// Path returns the device node path.
func (h *Handle) Path() string { return h.path }

// Name returns the kernel-reported device name, if any.
func (h *Handle) Name() string { return h.name }

// Grab takes exclusive capture. Grabbing an already grabbed handle is a no-op.
func (h *Handle) Grab() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return &GrabError{Op: "grab", Path: h.path, Err: ErrClosed}
	}
	if h.grabbed {
		return nil
	}
	if err := h.dev.Grab(); err != nil {
		return &GrabError{Op: "grab", Path: h.path, Err: err}
	}
	h.grabbed = true
	return nil
}

// Ungrab releases exclusive capture. Releasing an ungrabbed handle is a no-op.
func (h *Handle) Ungrab() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ungrabLocked()
}

func (h *Handle) ungrabLocked() error {
	if !h.grabbed || h.closed {
		return nil
	}
	if err := h.dev.Ungrab(); err != nil {
		return &GrabError{Op: "ungrab", Path: h.path, Err: err}
	}
	h.grabbed = false
	return nil
}

// Grabbed reports the handle's own view of the grab.
func (h *Handle) Grabbed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.grabbed
}

// ReadEvent blocks for the next raw event. The lock is not held while
// reading.
func (h *Handle) ReadEvent() (*evdev.InputEvent, error) {
	ev, err := h.dev.ReadOne()
	if err != nil {
		return nil, classifyReadError(h.path, err)
	}
	return ev, nil
}

// Close releases any grab and closes the node. The ungrab always runs first.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	ungrabErr := h.ungrabLocked()
	h.closed = true
	if err := h.dev.Close(); err != nil {
		return err
	}
	return ungrabErr
}
