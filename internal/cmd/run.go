package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/filipyuen/Q9CP/internal/buildinfo"
	"github.com/filipyuen/Q9CP/pkg/capture"
	"github.com/filipyuen/Q9CP/pkg/config"
	"github.com/filipyuen/Q9CP/pkg/device"
	"github.com/filipyuen/Q9CP/pkg/forward"
	"github.com/filipyuen/Q9CP/pkg/hook"
	"github.com/filipyuen/Q9CP/pkg/keymap"
	"github.com/filipyuen/Q9CP/pkg/notify"
	"github.com/filipyuen/Q9CP/pkg/permissions"
	"github.com/filipyuen/Q9CP/pkg/session"
)

func newRunCommand() command {
	return command{
		name:        "run",
		usage:       "<device>",
		description: "Grab a keyboard and stream intercepted keys to stdout",
		configure: func(fs *flag.FlagSet) {
			fs.Bool("plan-only", false, "Print the resolved configuration without grabbing the device")
		},
		run: runHook,
	}
}

// hookDevice is an opened physical keyboard.
type hookDevice interface {
	device.Device
	Path() string
	Name() string
}

var (
	timeNow     = time.Now
	hostname    = os.Hostname
	sessionSave = session.Save
	requireRoot = func() error { return permissions.RequireRoot(nil) }
	openDevice  = func(path string) (hookDevice, error) {
		h, err := device.Open(path)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
	createMirror = func(dev hookDevice, name string) (forward.Emitter, error) {
		h, ok := dev.(*device.Handle)
		if !ok {
			return nil, device.ErrMirrorUnsupported
		}
		m, err := h.CreateMirror(name)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	newInjector = func(opts forward.InjectorOptions) (forward.Forwarder, error) {
		inj, err := forward.NewInjector(opts)
		if err != nil {
			return nil, err
		}
		return inj, nil
	}
	signalContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		signal.Ignore(syscall.SIGHUP, syscall.SIGPIPE)
		return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	}
)

func runHook(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	if len(args) != 1 {
		fs.Usage()
		return usageError(errors.New("run requires exactly one device path"))
	}
	path := args[0]
	cfg := ctx.Config
	logger := ctx.Logger

	table, err := cfg.KeyTable()
	if err != nil {
		return err
	}

	if boolFlag(fs, "plan-only") {
		printRunPlan(cfg, table, path, stdout)
		return nil
	}

	if err := requireRoot(); err != nil {
		logger.Error("insufficient privilege", "error", err)
		return err
	}

	dev, err := openDevice(path)
	if err != nil {
		logger.Error("cannot open input device", "device", path, "error", err)
		return fmt.Errorf("open input device: %w", err)
	}
	logger.Info("input device opened", "device", path, "name", dev.Name(), "variant", cfg.Hook.Variant)

	fwd, format, err := buildForwarder(cfg, table, dev)
	if err != nil {
		if closeErr := dev.Close(); closeErr != nil {
			logger.Warn("close input device", "error", closeErr)
		}
		return err
	}

	engine, err := hook.New(hook.Options{
		Device:    dev,
		Variant:   hook.Variant(cfg.Hook.Variant),
		Table:     table,
		Forwarder: fwd,
		Notifier:  notify.New(stdout, format),
		Logger:    logger,
		Ticks:     cfg.Hook.RegrabTicks,
		Interval:  cfg.RegrabInterval(),
		Started: func(state capture.State) {
			logger.Info("hook running", "state", state.String(), "toggle", toggleName(table))
		},
	})
	if err != nil {
		if closeErr := dev.Close(); closeErr != nil {
			logger.Warn("close input device", "error", closeErr)
		}
		if closeErr := fwd.Close(); closeErr != nil {
			logger.Warn("close forwarder", "error", closeErr)
		}
		return err
	}

	rec, recPath := startSession(ctx, dev)

	runCtx, stop := signalContext(context.Background())
	defer stop()

	summary, runErr := engine.Run(runCtx)

	if recPath != "" {
		finishSession(&rec, summary, runErr)
		if err := sessionSave(rec, recPath); err != nil {
			logger.Warn("could not write session record", "path", recPath, "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("hook stopped: %w", runErr)
	}
	return nil
}

func buildForwarder(cfg config.Config, table *keymap.Table, dev hookDevice) (forward.Forwarder, notify.Format, error) {
	switch cfg.Hook.Variant {
	case config.VariantMirror:
		out, err := createMirror(dev, cfg.Mirror.Name)
		if err != nil {
			return nil, 0, fmt.Errorf("create mirror device: %w", err)
		}
		return forward.NewMirror(out), notify.KeyCode, nil
	default:
		inj, err := newInjector(forward.InjectorOptions{
			Binary:  cfg.Inject.Binary,
			Timeout: cfg.InjectTimeout(),
			Symbols: table,
		})
		if err != nil {
			return nil, 0, err
		}
		return inj, notify.KeyName, nil
	}
}

func startSession(ctx *AppContext, dev hookDevice) (session.Record, string) {
	dir := ctx.Config.Paths.SessionsDir
	if dir == "" {
		return session.Record{}, ""
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		ctx.Logger.Warn("session records disabled", "error", err)
		return session.Record{}, ""
	}
	id, err := session.ResolveSessionID(dir, timeNow())
	if err != nil {
		ctx.Logger.Warn("session records disabled", "error", err)
		return session.Record{}, ""
	}
	host, err := hostname()
	if err != nil {
		host = "unknown"
	}
	rec := session.New(session.Options{
		SessionID:    id,
		CreatedAt:    timeNow(),
		Hostname:     host,
		AppVersion:   buildinfo.Version(),
		ConfigSource: ctx.Config.Source,
		Variant:      ctx.Config.Hook.Variant,
		Device:       session.Device{Path: dev.Path(), Name: dev.Name()},
	})
	rec.Status.Summary = "hook running"
	path := session.Path(dir, id)
	if err := sessionSave(rec, path); err != nil {
		ctx.Logger.Warn("could not write session record", "path", path, "error", err)
		return session.Record{}, ""
	}
	ctx.Logger.Debug("session record created", "path", path)
	return rec, path
}

func finishSession(rec *session.Record, summary hook.Summary, runErr error) {
	entries := make([]session.TimelineEntry, 0, len(summary.Timeline))
	for _, tr := range summary.Timeline {
		entries = append(entries, session.TimelineEntry{State: tr.State.String(), Reason: tr.Reason, Timestamp: tr.Timestamp})
	}
	rec.SetTimeline(entries)
	rec.Status.Counters = session.Counters{
		Intercepted:     summary.Counters.Intercepted,
		Forwarded:       summary.Counters.Forwarded,
		ForwardFailures: summary.Counters.ForwardFailures,
		Dropped:         summary.Counters.Dropped,
		GrabFailures:    summary.Counters.GrabFailures,
	}
	ended := summary.EndedAt
	if ended.IsZero() {
		ended = timeNow()
	}
	rec.Finish(ended, runErr)
	if runErr != nil {
		rec.Status.Summary = "hook failed"
		return
	}
	rec.Status.Summary = "hook stopped"
}

func printRunPlan(cfg config.Config, table *keymap.Table, path string, stdout io.Writer) {
	fmt.Fprintf(stdout, "Resolved configuration (source: %s)\n", cfg.Source)
	fmt.Fprintf(stdout, "  device: %s\n", path)
	fmt.Fprintf(stdout, "  hook.variant: %s\n", cfg.Hook.Variant)
	fmt.Fprintf(stdout, "  hook.toggle_key: %s\n", toggleName(table))
	fmt.Fprintf(stdout, "  hook.intercept_keys: %d keys\n", len(interceptedKeys(table)))
	fmt.Fprintf(stdout, "  hook.regrab: %d ticks x %s\n", cfg.Hook.RegrabTicks, cfg.RegrabInterval())
	switch cfg.Hook.Variant {
	case config.VariantMirror:
		fmt.Fprintf(stdout, "  mirror.name: %s\n", cfg.Mirror.Name)
	default:
		fmt.Fprintf(stdout, "  inject.binary: %s\n", cfg.Inject.Binary)
		fmt.Fprintf(stdout, "  inject.timeout: %s\n", cfg.InjectTimeout())
	}
	sessions := cfg.Paths.SessionsDir
	if sessions == "" {
		sessions = "(disabled)"
	}
	fmt.Fprintf(stdout, "  paths.sessions_dir: %s\n", sessions)
	fmt.Fprintf(stdout, "  logging.level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(stdout, "  logging.format: %s\n", cfg.Logging.Format)
}

func toggleName(table *keymap.Table) string {
	code, ok := table.Toggle()
	if !ok {
		return "(none)"
	}
	return keymap.Name(code)
}

func boolFlag(fs *flag.FlagSet, name string) bool {
	f := fs.Lookup(name)
	if f == nil {
		return false
	}
	value, err := strconv.ParseBool(f.Value.String())
	if err != nil {
		return false
	}
	return value
}
