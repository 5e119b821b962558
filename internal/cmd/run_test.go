package cmd

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/holoplot/go-evdev"

	"github.com/filipyuen/Q9CP/pkg/config"
	"github.com/filipyuen/Q9CP/pkg/device"
	"github.com/filipyuen/Q9CP/pkg/forward"
	"github.com/filipyuen/Q9CP/pkg/permissions"
	"github.com/filipyuen/Q9CP/pkg/session"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runFlags(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Bool("plan-only", false, "")
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return fs
}

// scriptedDevice replays events, then blocks until closed. drained is closed
// once the reader asks for more after the script ran out.
type scriptedDevice struct {
	mu       sync.Mutex
	script   []*evdev.InputEvent
	grabbed  bool
	closed   bool
	closeErr error

	done      chan struct{}
	drained   chan struct{}
	closeOnce sync.Once
	drainOnce sync.Once
}

func newScriptedDevice(events ...*evdev.InputEvent) *scriptedDevice {
	return &scriptedDevice{script: events, done: make(chan struct{}), drained: make(chan struct{})}
}

func (d *scriptedDevice) Path() string { return "/dev/input/event7" }
func (d *scriptedDevice) Name() string { return "Test Keyboard" }

func (d *scriptedDevice) Grab() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grabbed = true
	return nil
}

func (d *scriptedDevice) Ungrab() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.grabbed = false
	return nil
}

func (d *scriptedDevice) ReadEvent() (*evdev.InputEvent, error) {
	d.mu.Lock()
	if len(d.script) > 0 {
		ev := d.script[0]
		d.script = d.script[1:]
		d.mu.Unlock()
		return ev, nil
	}
	d.mu.Unlock()
	d.drainOnce.Do(func() { close(d.drained) })
	<-d.done
	return nil, device.ErrClosed
}

func (d *scriptedDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.closeOnce.Do(func() { close(d.done) })
	return d.closeErr
}

type recordingForwarder struct {
	mu        sync.Mutex
	forwarded []evdev.EvCode
	closed    bool
	closeErr  error
}

func (f *recordingForwarder) Forward(_ context.Context, ev *evdev.InputEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwarded = append(f.forwarded, ev.Code)
	return nil
}

func (f *recordingForwarder) ReleaseHeld(context.Context) error { return nil }

func (f *recordingForwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeErr
}

func keyEvent(code evdev.EvCode, value int32) *evdev.InputEvent {
	return &evdev.InputEvent{Type: evdev.EV_KEY, Code: code, Value: value}
}

func stubRunSeams(t *testing.T) {
	t.Helper()
	origRoot, origOpen, origInjector, origSignal := requireRoot, openDevice, newInjector, signalContext
	origTime, origHost, origSave := timeNow, hostname, sessionSave
	t.Cleanup(func() {
		requireRoot, openDevice, newInjector, signalContext = origRoot, origOpen, origInjector, origSignal
		timeNow, hostname, sessionSave = origTime, origHost, origSave
	})
	requireRoot = func() error { return nil }
	hostname = func() (string, error) { return "test-host", nil }
}

func TestRunCommandPlanOnly(t *testing.T) {
	cfg := config.Default()
	ctx := &AppContext{Config: cfg, Logger: newTestLogger()}

	var stdout bytes.Buffer
	if err := runHook(runFlags(t, "-plan-only"), []string{"/dev/input/event3"}, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("runHook returned error: %v", err)
	}

	out := stdout.String()
	for _, want := range []string{"Resolved configuration", "device: /dev/input/event3", "hook.toggle_key: KEY_F10", "inject.binary: xdotool", "(disabled)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in plan output, got %q", want, out)
		}
	}
}

func TestRunCommandRequiresDevicePath(t *testing.T) {
	ctx := &AppContext{Config: config.Default(), Logger: newTestLogger()}
	fs := runFlags(t)
	fs.Usage = func() {}

	err := runHook(fs, nil, ctx, io.Discard, io.Discard)
	if err == nil {
		t.Fatalf("expected usage error")
	}
	if code := ExitCode(err); code != ExitUsage {
		t.Fatalf("expected exit %d, got %d", ExitUsage, code)
	}
}

func TestRunCommandNotPrivileged(t *testing.T) {
	stubRunSeams(t)
	requireRoot = func() error { return permissions.ErrNotPrivileged }
	openDevice = func(string) (hookDevice, error) {
		t.Fatalf("device must not be opened without privilege")
		return nil, nil
	}

	ctx := &AppContext{Config: config.Default(), Logger: newTestLogger()}
	err := runHook(runFlags(t), []string{"/dev/input/event3"}, ctx, io.Discard, io.Discard)
	if !errors.Is(err, permissions.ErrNotPrivileged) {
		t.Fatalf("expected ErrNotPrivileged, got %v", err)
	}
	if code := ExitCode(err); code != ExitNoPermission {
		t.Fatalf("expected exit %d, got %d", ExitNoPermission, code)
	}
}

func TestRunCommandOpenFailure(t *testing.T) {
	stubRunSeams(t)
	openDevice = func(path string) (hookDevice, error) {
		return nil, &device.OpenError{Path: path, Err: errors.New("no such device")}
	}

	ctx := &AppContext{Config: config.Default(), Logger: newTestLogger()}
	err := runHook(runFlags(t), []string{"/dev/input/event99"}, ctx, io.Discard, io.Discard)
	if err == nil {
		t.Fatalf("expected open error")
	}
	if code := ExitCode(err); code != ExitNoInput {
		t.Fatalf("expected exit %d, got %d (%v)", ExitNoInput, code, err)
	}
}

func TestRunCommandMissingInjectorClosesDevice(t *testing.T) {
	stubRunSeams(t)
	dev := newScriptedDevice()
	openDevice = func(string) (hookDevice, error) { return dev, nil }
	newInjector = func(forward.InjectorOptions) (forward.Forwarder, error) {
		return nil, forward.ErrInjectorMissing
	}

	ctx := &AppContext{Config: config.Default(), Logger: newTestLogger()}
	err := runHook(runFlags(t), []string{dev.Path()}, ctx, io.Discard, io.Discard)
	if !errors.Is(err, forward.ErrInjectorMissing) {
		t.Fatalf("expected ErrInjectorMissing, got %v", err)
	}
	if !dev.closed {
		t.Fatalf("device must be closed when the forwarder cannot be built")
	}
}

func TestRunCommandLogsCloseFailuresWhenEngineRejected(t *testing.T) {
	stubRunSeams(t)
	dev := newScriptedDevice()
	dev.closeErr = errors.New("device busy")
	fwd := &recordingForwarder{closeErr: errors.New("injector wedged")}
	openDevice = func(string) (hookDevice, error) { return dev, nil }
	newInjector = func(forward.InjectorOptions) (forward.Forwarder, error) { return fwd, nil }

	cfg := config.Default()
	cfg.Hook.Variant = "telepathy"
	var logs bytes.Buffer
	ctx := &AppContext{Config: cfg, Logger: slog.New(slog.NewTextHandler(&logs, nil))}

	err := runHook(runFlags(t), []string{dev.Path()}, ctx, io.Discard, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "telepathy") {
		t.Fatalf("expected unknown variant error, got %v", err)
	}
	if !dev.closed || !fwd.closed {
		t.Fatalf("device and forwarder must both be closed")
	}
	for _, want := range []string{"device busy", "injector wedged"} {
		if !strings.Contains(logs.String(), want) {
			t.Fatalf("expected close failure %q to be logged, got %q", want, logs.String())
		}
	}
}

func TestRunCommandStreamsAndRecordsSession(t *testing.T) {
	stubRunSeams(t)

	now := time.Date(2024, 5, 12, 9, 30, 0, 0, time.UTC)
	timeNow = func() time.Time { return now }

	dev := newScriptedDevice(
		keyEvent(evdev.KEY_KP1, 1),
		keyEvent(evdev.KEY_KP1, 0),
		keyEvent(evdev.KEY_A, 1),
	)
	fwd := &recordingForwarder{}
	openDevice = func(string) (hookDevice, error) { return dev, nil }
	newInjector = func(opts forward.InjectorOptions) (forward.Forwarder, error) {
		if opts.Binary != "xdotool" {
			t.Fatalf("expected configured injector binary, got %q", opts.Binary)
		}
		return fwd, nil
	}
	signalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		ctx, cancel := context.WithCancel(parent)
		go func() {
			<-dev.drained
			cancel()
		}()
		return ctx, cancel
	}

	cfg := config.Default()
	sessionsDir := t.TempDir()
	cfg.Paths.SessionsDir = sessionsDir
	ctx := &AppContext{Config: cfg, Logger: newTestLogger()}

	var stdout bytes.Buffer
	if err := runHook(runFlags(t), []string{dev.Path()}, ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("runHook returned error: %v", err)
	}

	if got := stdout.String(); got != "KEY:KEY_KP1\n" {
		t.Fatalf("expected a single notification line, got %q", got)
	}
	if len(fwd.forwarded) != 1 || fwd.forwarded[0] != evdev.KEY_A {
		t.Fatalf("expected only KEY_A forwarded, got %v", fwd.forwarded)
	}
	if !fwd.closed {
		t.Fatalf("forwarder must be closed on exit")
	}
	if !dev.closed {
		t.Fatalf("device must be closed on exit")
	}

	rec, err := session.Load(session.Path(sessionsDir, now.Format("20060102_150405")))
	if err != nil {
		t.Fatalf("session record not written: %v", err)
	}
	if rec.Status.State != session.StateCompleted {
		t.Fatalf("expected completed state, got %q", rec.Status.State)
	}
	if rec.Hostname != "test-host" || rec.Device.Name != "Test Keyboard" {
		t.Fatalf("unexpected record identity: %+v", rec)
	}
	if rec.Status.Counters.Intercepted != 1 || rec.Status.Counters.Forwarded != 1 {
		t.Fatalf("unexpected counters: %+v", rec.Status.Counters)
	}
	if len(rec.Status.Timeline) == 0 || rec.Status.Timeline[0].State != "captured" {
		t.Fatalf("expected timeline to open with capture, got %+v", rec.Status.Timeline)
	}
	if rec.Status.StartedAt == nil || rec.Status.EndedAt == nil {
		t.Fatalf("expected lifecycle timestamps in record")
	}
}
