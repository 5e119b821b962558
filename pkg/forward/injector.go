package forward

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/filipyuen/Q9CP/pkg/keymap"
)

const (
	DefaultInjectorBinary  = "xdotool"
	DefaultInjectorTimeout = 100 * time.Millisecond
)

var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// SymbolLookup maps a key code to the name the injector understands.
type SymbolLookup interface {
	Symbol(code evdev.EvCode) (string, bool)
}

// InjectorOptions configures an Injector.
type InjectorOptions struct {
	Binary   string
	Timeout  time.Duration
	Symbols  SymbolLookup
	LookPath func(string) (string, error)
}

// Injector forwards a key by running the injector binary once for keydown and
// once for keyup.
//
// The keyup is sent immediately after the keydown whatever the physical hold
// duration, because each invocation is a separate short-lived process. Held
// keys and auto-repeat therefore cannot be represented: a held Shift is seen
// by the desktop as a tap.
type Injector struct {
	binary  string
	timeout time.Duration
	symbols SymbolLookup
}

// NewInjector resolves the injector binary and returns ErrInjectorMissing
// when it is not installed.
func NewInjector(opts InjectorOptions) (*Injector, error) {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = DefaultInjectorBinary
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultInjectorTimeout
	}
	symbols := opts.Symbols
	if symbols == nil {
		symbols = keymap.Default()
	}
	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	resolved, err := lookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInjectorMissing, binary, err)
	}
	return &Injector{binary: resolved, timeout: timeout, symbols: symbols}, nil
}

// Binary returns the resolved injector path.
func (i *Injector) Binary() string { return i.binary }

// Forward injects a key-down and the compensating key-up for a Down event.
// Up and Repeat events, and non-key events, are ignored.
func (i *Injector) Forward(ctx context.Context, ev *evdev.InputEvent) error {
	if ev.Type != evdev.EV_KEY || ev.Value != 1 {
		return nil
	}
	symbol, ok := i.symbols.Symbol(ev.Code)
	if !ok {
		return &Error{Forwarder: "inject", Action: "keydown", Key: keymap.Name(ev.Code), Err: ErrNoSymbol}
	}
	if err := i.run(ctx, "keydown", symbol); err != nil {
		return err
	}
	return i.run(ctx, "keyup", symbol)
}

// ReleaseHeld is a no-op: every injected key-down is already paired with a
// key-up.
func (i *Injector) ReleaseHeld(context.Context) error { return nil }

func (i *Injector) Close() error { return nil }

func (i *Injector) run(ctx context.Context, action, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	output, err := runCommand(ctx, i.binary, action, symbol)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		err = fmt.Errorf("timed out after %s: %w", i.timeout, ctx.Err())
	} else if msg := strings.TrimSpace(string(output)); msg != "" {
		err = fmt.Errorf("%w: %s", err, msg)
	}
	return &Error{Forwarder: "inject", Action: action, Key: symbol, Err: err}
}
