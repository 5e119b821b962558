// Package forward delivers passthrough key events to the desktop, either by
// running an external injector per key or by re-emitting raw events on a
// synthetic uinput device.
package forward

import (
	"context"
	"errors"
	"fmt"

	evdev "github.com/holoplot/go-evdev"
)

var (
	// ErrForward matches every *Error.
	ErrForward = errors.New("forward failed")
	// ErrNoSymbol indicates the key has no injector symbol and cannot be forwarded.
	ErrNoSymbol = errors.New("no injector symbol for key")
	// ErrInjectorMissing indicates the injector binary is not on PATH.
	ErrInjectorMissing = errors.New("injector binary not found")
)

// Forwarder is the capability selected once at startup that makes
// passthrough events reach the desktop.
type Forwarder interface {
	// Forward delivers one event. Implementations decide which phases they act on.
	Forward(ctx context.Context, ev *evdev.InputEvent) error
	// ReleaseHeld lifts every key the forwarder reported as held.
	ReleaseHeld(ctx context.Context) error
	Close() error
}

// Error describes a failed forward. Action is the injector action or "write".
type Error struct {
	Forwarder string
	Action    string
	Key       string
	Err       error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s %s: %v", e.Forwarder, e.Action, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Forwarder, e.Action, e.Key, e.Err)
}

func (e *Error) Is(target error) bool {
	return target == ErrForward
}

func (e *Error) Unwrap() error {
	return e.Err
}
