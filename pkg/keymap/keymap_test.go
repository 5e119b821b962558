package keymap

import (
	"testing"

	evdev "github.com/holoplot/go-evdev"
)

func TestDefaultTableClassifiesKeypadAndToggle(t *testing.T) {
	table := Default()

	for _, code := range DefaultIntercepted() {
		if got := table.Classify(code); got != Intercepted {
			t.Fatalf("expected %s intercepted, got %s", Name(code), got)
		}
	}
	if table.Classify(evdev.KEY_F10) != Intercepted {
		t.Fatalf("expected toggle key to be intercepted")
	}
	if !table.IsToggle(evdev.KEY_F10) {
		t.Fatalf("expected KEY_F10 to be the toggle")
	}
	if table.IsToggle(evdev.KEY_KP1) {
		t.Fatalf("KEY_KP1 must not be the toggle")
	}

	cases := map[string]evdev.EvCode{
		"letter":   evdev.KEY_A,
		"modifier": evdev.KEY_LEFTSHIFT,
		"enter":    evdev.KEY_ENTER,
		"unmapped": evdev.KEY_PROG1,
	}
	for name, code := range cases {
		t.Run(name, func(t *testing.T) {
			if got := table.Classify(code); got != Passthrough {
				t.Fatalf("expected passthrough, got %s", got)
			}
		})
	}
}

func TestNewWithoutToggle(t *testing.T) {
	table := New([]evdev.EvCode{evdev.KEY_KP1}, evdev.KEY_RESERVED)
	if _, ok := table.Toggle(); ok {
		t.Fatalf("expected no toggle")
	}
	if table.IsToggle(evdev.KEY_RESERVED) {
		t.Fatalf("KEY_RESERVED must never act as toggle")
	}
	if table.Classify(evdev.KEY_F10) != Passthrough {
		t.Fatalf("F10 should pass through when not configured")
	}
	if got := len(table.Intercepted()); got != 1 {
		t.Fatalf("expected one intercepted code, got %d", got)
	}
}

func TestSymbolLookup(t *testing.T) {
	table := Default()

	if sym, ok := table.Symbol(evdev.KEY_A); !ok || sym != "a" {
		t.Fatalf("expected symbol a, got %q (%t)", sym, ok)
	}
	if sym, ok := table.Symbol(evdev.KEY_RIGHTCTRL); !ok || sym != "ctrl" {
		t.Fatalf("expected ctrl, got %q (%t)", sym, ok)
	}
	if _, ok := table.Symbol(evdev.KEY_PROG1); ok {
		t.Fatalf("expected KEY_PROG1 to have no injector symbol")
	}

	entries := table.Symbols()
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Code >= entries[i].Code {
			t.Fatalf("symbols not sorted at %d", i)
		}
	}
}

func TestParseKey(t *testing.T) {
	cases := map[string]evdev.EvCode{
		"KEY_F10": evdev.KEY_F10,
		"f10":     evdev.KEY_F10,
		" kp1 ":   evdev.KEY_KP1,
		"KEY_A":   evdev.KEY_A,
	}
	for input, want := range cases {
		got, err := ParseKey(input)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseKey(%q) = %d, want %d", input, got, want)
		}
	}

	if _, err := ParseKey("KEY_DOES_NOT_EXIST"); err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if _, err := ParseKey(""); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := ParseKeys([]string{"KEY_A", "nope"}); err == nil {
		t.Fatalf("expected ParseKeys to fail on unknown entry")
	}
}

func TestNameRoundTrip(t *testing.T) {
	if got := Name(evdev.KEY_KP1); got != "KEY_KP1" {
		t.Fatalf("expected KEY_KP1, got %q", got)
	}
}
