// Package keymap classifies physical key codes into the intercepted and
// passthrough sets and maps passthrough codes to the symbolic names the
// external key injector understands.
package keymap

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	evdev "github.com/holoplot/go-evdev"
)

// Category tags a key code as consumed by the hook or destined for the desktop.
type Category int

const (
	// Passthrough keys must still reach the desktop.
	Passthrough Category = iota
	// Intercepted keys are reported to the consumer and never forwarded.
	Intercepted
)

func (c Category) String() string {
	switch c {
	case Intercepted:
		return "intercepted"
	case Passthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// DefaultToggle is the key whose release flips exclusive capture on and off.
const DefaultToggle evdev.EvCode = evdev.KEY_F10

// DefaultIntercepted returns the numeric keypad cluster.
func DefaultIntercepted() []evdev.EvCode {
	return []evdev.EvCode{
		evdev.KEY_KP0, evdev.KEY_KP1, evdev.KEY_KP2, evdev.KEY_KP3, evdev.KEY_KP4,
		evdev.KEY_KP5, evdev.KEY_KP6, evdev.KEY_KP7, evdev.KEY_KP8, evdev.KEY_KP9,
		evdev.KEY_KPSLASH, evdev.KEY_KPASTERISK, evdev.KEY_KPMINUS, evdev.KEY_KPPLUS,
		evdev.KEY_KPDOT,
	}
}

// Table is an immutable lookup built once at startup. It is safe for
// concurrent use.
type Table struct {
	intercepted map[evdev.EvCode]struct{}
	toggle      evdev.EvCode
	hasToggle   bool
	symbols     map[evdev.EvCode]string
}

// New builds a table from the intercepted codes and an optional toggle key.
// A zero toggle (KEY_RESERVED) disables the toggle. The toggle key is always
// part of the intercepted set.
func New(intercepted []evdev.EvCode, toggle evdev.EvCode) *Table {
	t := &Table{
		intercepted: make(map[evdev.EvCode]struct{}, len(intercepted)+1),
		symbols:     injectorSymbols,
	}
	for _, code := range intercepted {
		t.intercepted[code] = struct{}{}
	}
	if toggle != evdev.KEY_RESERVED {
		t.toggle = toggle
		t.hasToggle = true
		t.intercepted[toggle] = struct{}{}
	}
	return t
}

// Default returns the reference table: keypad cluster plus F10 as toggle.
func Default() *Table {
	return New(DefaultIntercepted(), DefaultToggle)
}

// Classify reports the category of code. Unknown codes are Passthrough.
func (t *Table) Classify(code evdev.EvCode) Category {
	if _, ok := t.intercepted[code]; ok {
		return Intercepted
	}
	return Passthrough
}

// IsToggle reports whether code is the designated toggle key.
func (t *Table) IsToggle(code evdev.EvCode) bool {
	return t.hasToggle && code == t.toggle
}

// Toggle returns the toggle key, if one is configured.
func (t *Table) Toggle() (evdev.EvCode, bool) {
	return t.toggle, t.hasToggle
}

// Symbol returns the injector name for code. A missing symbol means the key
// can be observed but not forwarded by injection.
func (t *Table) Symbol(code evdev.EvCode) (string, bool) {
	sym, ok := t.symbols[code]
	return sym, ok
}

// Intercepted lists the intercepted codes in ascending order.
func (t *Table) Intercepted() []evdev.EvCode {
	out := make([]evdev.EvCode, 0, len(t.intercepted))
	for code := range t.intercepted {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SymbolEntry pairs a key code with its injector symbol.
type SymbolEntry struct {
	Code   evdev.EvCode
	Symbol string
}

// Symbols lists the injector symbol table in ascending code order.
func (t *Table) Symbols() []SymbolEntry {
	out := make([]SymbolEntry, 0, len(t.symbols))
	for code, sym := range t.symbols {
		out = append(out, SymbolEntry{Code: code, Symbol: sym})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Name returns the kernel identifier for a key code, e.g. KEY_KP1.
func Name(code evdev.EvCode) string {
	return evdev.CodeName(evdev.EV_KEY, code)
}

// keyMax mirrors KEY_MAX from linux/input-event-codes.h.
const keyMax = 0x2ff

var (
	namesOnce sync.Once
	byName    map[string]evdev.EvCode
)

func buildNames() {
	byName = make(map[string]evdev.EvCode, keyMax)
	for c := 0; c <= keyMax; c++ {
		code := evdev.EvCode(c)
		name := evdev.CodeName(evdev.EV_KEY, code)
		if !strings.HasPrefix(name, "KEY_") && !strings.HasPrefix(name, "BTN_") {
			continue
		}
		if _, dup := byName[name]; !dup {
			byName[name] = code
		}
	}
}

// ParseKey resolves a key name such as "KEY_F10", "f10" or "kp1".
func ParseKey(name string) (evdev.EvCode, error) {
	namesOnce.Do(buildNames)
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if normalized == "" {
		return 0, fmt.Errorf("empty key name")
	}
	if !strings.HasPrefix(normalized, "KEY_") && !strings.HasPrefix(normalized, "BTN_") {
		normalized = "KEY_" + normalized
	}
	code, ok := byName[normalized]
	if !ok {
		return 0, fmt.Errorf("unknown key name %q", name)
	}
	return code, nil
}

// ParseKeys resolves every name, failing on the first unknown one.
func ParseKeys(names []string) ([]evdev.EvCode, error) {
	out := make([]evdev.EvCode, 0, len(names))
	for _, name := range names {
		code, err := ParseKey(name)
		if err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}
