package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"gopkg.in/yaml.v3"

	"github.com/filipyuen/Q9CP/pkg/keymap"
)

const DefaultFileName = "q9hook.yaml"

// MinRegrabWindow is the shortest debounce window accepted. Anything shorter
// recaptures the keyboard in the middle of a single keystroke.
const MinRegrabWindow = 100 * time.Millisecond

// Variants accepted by hook.variant.
const (
	VariantInject = "inject"
	VariantMirror = "mirror"
)

// Config captures the user-adjustable knobs for the hook.
type Config struct {
	Hook    HookConfig    `yaml:"hook"`
	Inject  InjectConfig  `yaml:"inject"`
	Mirror  MirrorConfig  `yaml:"mirror"`
	Paths   PathsConfig   `yaml:"paths"`
	Logging LoggingConfig `yaml:"logging"`

	// Source indicates where the configuration originated (defaults or a file path).
	Source string `yaml:"-"`
}

// HookConfig selects the forwarding variant and the key classification.
type HookConfig struct {
	Variant          string   `yaml:"variant"`
	ToggleKey        string   `yaml:"toggle_key"`
	InterceptKeys    []string `yaml:"intercept_keys"`
	RegrabIntervalMS int      `yaml:"regrab_interval_ms"`
	RegrabTicks      int      `yaml:"regrab_ticks"`
}

// InjectConfig configures the external key injector.
type InjectConfig struct {
	Binary    string `yaml:"binary"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// MirrorConfig configures the synthetic uinput device.
type MirrorConfig struct {
	Name string `yaml:"name"`
}

// PathsConfig controls filesystem locations used by the CLI.
type PathsConfig struct {
	// SessionsDir receives one JSON record per run. Empty disables records.
	SessionsDir string `yaml:"sessions_dir"`
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the baseline configuration used when no overrides are supplied.
func Default() Config {
	intercepted := keymap.DefaultIntercepted()
	names := make([]string, 0, len(intercepted))
	for _, code := range intercepted {
		names = append(names, keymap.Name(code))
	}
	return Config{
		Hook: HookConfig{
			Variant:          VariantInject,
			ToggleKey:        keymap.Name(keymap.DefaultToggle),
			InterceptKeys:    names,
			RegrabIntervalMS: 100,
			RegrabTicks:      10,
		},
		Inject: InjectConfig{
			Binary:    "xdotool",
			TimeoutMS: 100,
		},
		Mirror: MirrorConfig{
			Name: "Virtual Keyboard",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Source: "<defaults>",
	}
}

// Load reads configuration from disk if present, otherwise returning defaults.
// When path is empty, the loader attempts to read ./q9hook.yaml but tolerates a missing file.
func Load(path string) (Config, error) {
	cfg := Default()

	candidate := strings.TrimSpace(path)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}

	file, err := os.Open(candidate)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return cfg, fmt.Errorf("config file %q not found", candidate)
			}
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config file %q: %w", candidate, err)
	}
	defer file.Close()

	if err := decodeYAML(file, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %q: %w", candidate, err)
	}
	cfg.Source = candidate
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// decodeYAML decodes over the defaults already in cfg. Unknown keys are errors.
func decodeYAML(r io.Reader, cfg *Config) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate ensures essential configuration values are present and sensible.
func (c Config) Validate() error {
	if _, err := NormalizeVariant(c.Hook.Variant); err != nil {
		return err
	}
	if _, err := c.KeyTable(); err != nil {
		return err
	}
	if c.Hook.RegrabIntervalMS <= 0 {
		return errors.New("hook.regrab_interval_ms must be positive")
	}
	if c.Hook.RegrabTicks <= 0 {
		return errors.New("hook.regrab_ticks must be positive")
	}
	if window := c.RegrabWindow(); window < MinRegrabWindow {
		return fmt.Errorf("hook.regrab_ticks x hook.regrab_interval_ms is %s, must be at least %s", window, MinRegrabWindow)
	}
	if strings.TrimSpace(c.Inject.Binary) == "" {
		return errors.New("inject.binary must not be empty")
	}
	if c.Inject.TimeoutMS <= 0 {
		return errors.New("inject.timeout_ms must be positive")
	}
	if strings.TrimSpace(c.Mirror.Name) == "" {
		return errors.New("mirror.name must not be empty")
	}
	if _, err := NormalizeLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := NormalizeFormat(c.Logging.Format); err != nil {
		return err
	}
	return nil
}

// KeyTable builds the classification table from the hook section.
func (c Config) KeyTable() (*keymap.Table, error) {
	intercepted, err := keymap.ParseKeys(c.Hook.InterceptKeys)
	if err != nil {
		return nil, fmt.Errorf("hook.intercept_keys: %w", err)
	}
	toggle := evdev.EvCode(evdev.KEY_RESERVED)
	if name := strings.TrimSpace(c.Hook.ToggleKey); name != "" {
		toggle, err = keymap.ParseKey(name)
		if err != nil {
			return nil, fmt.Errorf("hook.toggle_key: %w", err)
		}
	}
	return keymap.New(intercepted, toggle), nil
}

// RegrabInterval returns the watchdog polling interval.
func (c Config) RegrabInterval() time.Duration {
	return time.Duration(c.Hook.RegrabIntervalMS) * time.Millisecond
}

// RegrabWindow is the quiet period after which the watchdog reclaims capture.
func (c Config) RegrabWindow() time.Duration {
	return time.Duration(c.Hook.RegrabTicks) * c.RegrabInterval()
}

// InjectTimeout returns the per-invocation injector timeout.
func (c Config) InjectTimeout() time.Duration {
	return time.Duration(c.Inject.TimeoutMS) * time.Millisecond
}

func (c *Config) normalize() {
	defaults := Default()

	if v, err := NormalizeVariant(c.Hook.Variant); err == nil {
		c.Hook.Variant = v
	}
	c.Hook.ToggleKey = strings.TrimSpace(c.Hook.ToggleKey)
	if c.Hook.InterceptKeys == nil {
		c.Hook.InterceptKeys = defaults.Hook.InterceptKeys
	}
	if c.Hook.RegrabIntervalMS == 0 {
		c.Hook.RegrabIntervalMS = defaults.Hook.RegrabIntervalMS
	}
	if c.Hook.RegrabTicks == 0 {
		c.Hook.RegrabTicks = defaults.Hook.RegrabTicks
	}
	c.Inject.Binary = strings.TrimSpace(c.Inject.Binary)
	if c.Inject.Binary == "" {
		c.Inject.Binary = defaults.Inject.Binary
	}
	if c.Inject.TimeoutMS == 0 {
		c.Inject.TimeoutMS = defaults.Inject.TimeoutMS
	}
	c.Mirror.Name = strings.TrimSpace(c.Mirror.Name)
	if c.Mirror.Name == "" {
		c.Mirror.Name = defaults.Mirror.Name
	}
	if dir := strings.TrimSpace(c.Paths.SessionsDir); dir != "" {
		c.Paths.SessionsDir = filepath.Clean(dir)
	} else {
		c.Paths.SessionsDir = ""
	}
	if level, err := NormalizeLogLevel(c.Logging.Level); err == nil {
		c.Logging.Level = level
	}
	if format, err := NormalizeFormat(c.Logging.Format); err == nil {
		c.Logging.Format = format
	}
}

// NormalizeVariant validates and canonicalizes the forwarding variant.
func NormalizeVariant(variant string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(variant)) {
	case "", "inject", "xdotool", "a":
		return VariantInject, nil
	case "mirror", "uinput", "b":
		return VariantMirror, nil
	default:
		return "", fmt.Errorf("unsupported hook variant %q", variant)
	}
}

// NormalizeLogLevel validates and lowercases known logging levels.
func NormalizeLogLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return "info", nil
	case "debug":
		return "debug", nil
	case "warn", "warning":
		return "warn", nil
	case "error":
		return "error", nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}

// NormalizeFormat validates and canonicalizes logging format identifiers.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "auto":
		return "auto", nil
	case "json":
		return "json", nil
	case "console", "text":
		return "console", nil
	default:
		return "", fmt.Errorf("unsupported log format %q", format)
	}
}
