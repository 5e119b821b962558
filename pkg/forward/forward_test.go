package forward

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"
)

type call struct {
	name string
	args []string
}

func withRunCommand(t *testing.T, fn func(ctx context.Context, name string, args ...string) ([]byte, error)) {
	t.Helper()
	orig := runCommand
	runCommand = fn
	t.Cleanup(func() { runCommand = orig })
}

func foundPath(name string) (string, error) { return "/usr/bin/" + name, nil }

func keyDown(code evdev.EvCode) *evdev.InputEvent {
	return &evdev.InputEvent{Type: evdev.EV_KEY, Code: code, Value: 1}
}

func TestInjectorSendsDownThenCompensatingUp(t *testing.T) {
	var calls []call
	withRunCommand(t, func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, call{name: name, args: args})
		return nil, nil
	})

	inj, err := NewInjector(InjectorOptions{LookPath: foundPath})
	if err != nil {
		t.Fatalf("new injector: %v", err)
	}
	if err := inj.Forward(context.Background(), keyDown(evdev.KEY_A)); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected two invocations, got %+v", calls)
	}
	want := [][]string{{"keydown", "a"}, {"keyup", "a"}}
	for i, c := range calls {
		if c.name != "/usr/bin/xdotool" || strings.Join(c.args, " ") != strings.Join(want[i], " ") {
			t.Fatalf("call %d: got %s %v", i, c.name, c.args)
		}
	}

	calls = nil
	for _, value := range []int32{0, 2} {
		ev := &evdev.InputEvent{Type: evdev.EV_KEY, Code: evdev.KEY_A, Value: value}
		if err := inj.Forward(context.Background(), ev); err != nil {
			t.Fatalf("forward value %d: %v", value, err)
		}
	}
	if len(calls) != 0 {
		t.Fatalf("up and repeat must not be injected, got %+v", calls)
	}
}

func TestInjectorUnmappedKey(t *testing.T) {
	withRunCommand(t, func(context.Context, string, ...string) ([]byte, error) {
		t.Fatalf("unmapped key must not run the injector")
		return nil, nil
	})
	inj, err := NewInjector(InjectorOptions{LookPath: foundPath})
	if err != nil {
		t.Fatalf("new injector: %v", err)
	}
	err = inj.Forward(context.Background(), keyDown(evdev.KEY_PROG1))
	if !errors.Is(err, ErrNoSymbol) || !errors.Is(err, ErrForward) {
		t.Fatalf("expected ErrNoSymbol forward error, got %v", err)
	}
}

func TestInjectorFailureIsForwardError(t *testing.T) {
	withRunCommand(t, func(context.Context, string, ...string) ([]byte, error) {
		return []byte("Can't open display\n"), errors.New("exit status 1")
	})
	inj, err := NewInjector(InjectorOptions{LookPath: foundPath})
	if err != nil {
		t.Fatalf("new injector: %v", err)
	}
	err = inj.Forward(context.Background(), keyDown(evdev.KEY_A))
	var fe *Error
	if !errors.As(err, &fe) || fe.Action != "keydown" || fe.Key != "a" {
		t.Fatalf("expected keydown forward error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Can't open display") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestInjectorTimeout(t *testing.T) {
	withRunCommand(t, func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	inj, err := NewInjector(InjectorOptions{LookPath: foundPath, Timeout: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new injector: %v", err)
	}
	err = inj.Forward(context.Background(), keyDown(evdev.KEY_A))
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrForward) {
		t.Fatalf("expected deadline forward error, got %v", err)
	}
}

func TestNewInjectorMissingBinary(t *testing.T) {
	_, err := NewInjector(InjectorOptions{
		Binary:   "xdotool",
		LookPath: func(string) (string, error) { return "", errors.New("executable file not found in $PATH") },
	})
	if !errors.Is(err, ErrInjectorMissing) {
		t.Fatalf("expected ErrInjectorMissing, got %v", err)
	}
}

type fakeEmitter struct {
	events []evdev.InputEvent
	err    error
	closed bool
}

func (f *fakeEmitter) Emit(ev *evdev.InputEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeEmitter) Close() error {
	f.closed = true
	return nil
}

func TestMirrorForwardsEverythingAndTracksHeldKeys(t *testing.T) {
	out := &fakeEmitter{}
	m := NewMirror(out)
	ctx := context.Background()

	events := []*evdev.InputEvent{
		{Type: evdev.EV_MSC, Code: evdev.MSC_SCAN, Value: 30},
		{Type: evdev.EV_KEY, Code: evdev.KEY_LEFTSHIFT, Value: 1},
		{Type: evdev.EV_KEY, Code: evdev.KEY_A, Value: 1},
		{Type: evdev.EV_KEY, Code: evdev.KEY_A, Value: 2},
		{Type: evdev.EV_KEY, Code: evdev.KEY_A, Value: 0},
		{Type: evdev.EV_LED, Code: evdev.LED_CAPSL, Value: 1},
	}
	for _, ev := range events {
		if err := m.Forward(ctx, ev); err != nil {
			t.Fatalf("forward: %v", err)
		}
	}
	if len(out.events) != len(events) {
		t.Fatalf("expected %d writes, got %d", len(events), len(out.events))
	}
	held := m.Held()
	if len(held) != 1 || held[0] != evdev.KEY_LEFTSHIFT {
		t.Fatalf("expected shift held, got %v", held)
	}

	if err := m.ReleaseHeld(ctx); err != nil {
		t.Fatalf("release held: %v", err)
	}
	last := out.events[len(out.events)-1]
	if last.Type != evdev.EV_KEY || last.Code != evdev.KEY_LEFTSHIFT || last.Value != 0 {
		t.Fatalf("expected shift key-up, got %+v", last)
	}
	if len(m.Held()) != 0 {
		t.Fatalf("expected nothing held after release")
	}

	if err := m.Close(); err != nil || !out.closed {
		t.Fatalf("close: %v closed=%t", err, out.closed)
	}
}

func TestMirrorWriteFailure(t *testing.T) {
	out := &fakeEmitter{err: errors.New("no such device")}
	m := NewMirror(out)
	err := m.Forward(context.Background(), keyDown(evdev.KEY_A))
	var fe *Error
	if !errors.As(err, &fe) || fe.Forwarder != "mirror" || fe.Key != "KEY_A" {
		t.Fatalf("expected mirror forward error, got %v", err)
	}
	if len(m.Held()) != 0 {
		t.Fatalf("failed write must not mark the key held")
	}
}
