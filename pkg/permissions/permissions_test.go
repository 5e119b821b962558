package permissions

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

type fakeLookup map[string]string

func (f fakeLookup) get(key string) (string, bool) {
	v, ok := f[key]
	return v, ok
}

func withEUID(t *testing.T, uid int) {
	t.Helper()
	orig := geteuid
	geteuid = func() int { return uid }
	t.Cleanup(func() { geteuid = orig })
}

func TestInterpretPermissionFlag(t *testing.T) {
	cases := map[string]struct {
		value    string
		expected Status
	}{
		"granted":     {"granted", StatusGranted},
		"one":         {"1", StatusGranted},
		"denied":      {"denied", StatusDenied},
		"unsupported": {"unsupported", StatusUnavailable},
		"unknown":     {"", StatusUnknown},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := interpretPermissionFlag("test", tc.value)
			if res.Status != tc.expected {
				t.Fatalf("expected %s, got %s", tc.expected, res.Status)
			}
		})
	}
}

func TestProbeRoot(t *testing.T) {
	empty := fakeLookup{}

	withEUID(t, 0)
	if res := ProbeRoot(empty.get); res.Status != StatusGranted {
		t.Fatalf("expected root granted, got %s", res.Status)
	}
	if err := RequireRoot(empty.get); err != nil {
		t.Fatalf("RequireRoot as root: %v", err)
	}

	withEUID(t, 1000)
	res := ProbeRoot(empty.get)
	if res.Status != StatusDenied || res.Guidance == "" {
		t.Fatalf("expected denied with guidance, got %+v", res)
	}
	if err := RequireRoot(empty.get); !errors.Is(err, ErrNotPrivileged) {
		t.Fatalf("expected ErrNotPrivileged, got %v", err)
	}

	override := fakeLookup{PrivilegeEnv: "yes"}
	if err := RequireRoot(override.get); err != nil {
		t.Fatalf("env override should grant: %v", err)
	}
}

func TestProbeDevice(t *testing.T) {
	dir := t.TempDir()
	node := filepath.Join(dir, "event3")
	if err := os.WriteFile(node, nil, 0o600); err != nil {
		t.Fatalf("create node: %v", err)
	}

	orig := access
	t.Cleanup(func() { access = orig })

	access = func(string, uint32) error { return nil }
	if res := ProbeDevice(node); res.Status != StatusGranted {
		t.Fatalf("expected granted, got %+v", res)
	}

	access = func(string, uint32) error { return unix.EACCES }
	if res := ProbeDevice(node); res.Status != StatusDenied {
		t.Fatalf("expected denied, got %+v", res)
	}

	if res := ProbeDevice(filepath.Join(dir, "event99")); res.Status != StatusUnavailable {
		t.Fatalf("expected unavailable for missing node, got %+v", res)
	}
	if res := ProbeDevice(""); res.Status != StatusUnknown {
		t.Fatalf("expected unknown for empty path, got %+v", res)
	}
}

func TestProbeBinary(t *testing.T) {
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })

	lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	if res := ProbeBinary("xdotool"); res.Status != StatusGranted || res.Message != "/usr/bin/xdotool" {
		t.Fatalf("unexpected result %+v", res)
	}

	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	if res := ProbeBinary("xdotool"); res.Status != StatusUnavailable || res.Guidance == "" {
		t.Fatalf("expected unavailable with guidance, got %+v", res)
	}
}

func TestStatusStringDefaultsToUnknown(t *testing.T) {
	if got := (ProbeResult{}).StatusString(); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}
