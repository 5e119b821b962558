// Package permissions probes whether the process can do what the hook needs:
// grab an evdev node, create a uinput device and run the injector.
package permissions

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// UinputPath is the uinput control node.
const UinputPath = "/dev/uinput"

// PrivilegeEnv overrides the root check, e.g. when CAP_SYS_ADMIN is granted
// without uid 0.
const PrivilegeEnv = "Q9HOOK_PRIVILEGED"

// ErrNotPrivileged is returned when the process may not grab input devices.
var ErrNotPrivileged = errors.New("must run as root to grab input devices")

// Status enumerates coarse permission results.
type Status string

const (
	// StatusUnknown indicates no explicit signal about permission state.
	StatusUnknown Status = "unknown"
	// StatusGranted signals the capability is usable.
	StatusGranted Status = "granted"
	// StatusDenied indicates the capability exists but access is refused.
	StatusDenied Status = "denied"
	// StatusUnavailable reports that the capability is missing entirely.
	StatusUnavailable Status = "unavailable"
)

// ProbeResult represents the coarse state for a permission surface.
type ProbeResult struct {
	Status   Status
	Message  string
	Guidance string
}

// LookupEnvFunc exposes environment probing for testability.
type LookupEnvFunc func(string) (string, bool)

// lookupEnv is declared for swapping in tests.
var lookupEnv = func(key string) (string, bool) {
	return os.LookupEnv(key)
}

var (
	geteuid  = unix.Geteuid
	access   = unix.Access
	lookPath = exec.LookPath
)

// ProbeRoot reports whether the process runs with the privilege needed to
// grab an input device.
func ProbeRoot(lookup LookupEnvFunc) ProbeResult {
	if lookup == nil {
		lookup = lookupEnv
	}
	if value, ok := lookup(PrivilegeEnv); ok {
		return interpretPermissionFlag("privilege", value)
	}
	if euid := geteuid(); euid != 0 {
		return ProbeResult{
			Status:   StatusDenied,
			Message:  fmt.Sprintf("running as uid %d, not root", euid),
			Guidance: "re-run with sudo",
		}
	}
	return ProbeResult{Status: StatusGranted, Message: "running as root"}
}

// RequireRoot returns ErrNotPrivileged unless ProbeRoot grants access.
func RequireRoot(lookup LookupEnvFunc) error {
	res := ProbeRoot(lookup)
	if res.Status == StatusGranted {
		return nil
	}
	return fmt.Errorf("%w (%s)", ErrNotPrivileged, res.Message)
}

// ProbeDevice reports whether path exists and is readable and writable, which
// opening and grabbing an evdev node requires.
func ProbeDevice(path string) ProbeResult {
	return probeNode("input device", path, unix.R_OK|unix.W_OK)
}

// ProbeUinput reports whether the uinput node can be written, which creating
// the mirror device requires.
func ProbeUinput() ProbeResult {
	return probeNode("uinput", UinputPath, unix.W_OK)
}

// ProbeBinary reports whether name resolves on PATH.
func ProbeBinary(name string) ProbeResult {
	name = strings.TrimSpace(name)
	if name == "" {
		return ProbeResult{Status: StatusUnknown, Message: "no binary configured"}
	}
	resolved, err := lookPath(name)
	if err != nil {
		return ProbeResult{
			Status:   StatusUnavailable,
			Message:  fmt.Sprintf("%s not found on PATH", name),
			Guidance: "install it or set inject.binary",
		}
	}
	return ProbeResult{Status: StatusGranted, Message: resolved}
}

func probeNode(label, path string, mode uint32) ProbeResult {
	if strings.TrimSpace(path) == "" {
		return ProbeResult{Status: StatusUnknown, Message: label + " path not set"}
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ProbeResult{Status: StatusUnavailable, Message: path + " does not exist"}
		}
		return ProbeResult{Status: StatusUnknown, Message: err.Error()}
	}
	if err := access(path, mode); err != nil {
		return ProbeResult{
			Status:   StatusDenied,
			Message:  fmt.Sprintf("%s: %v", path, err),
			Guidance: "run as root or add the user to the input group",
		}
	}
	return ProbeResult{Status: StatusGranted, Message: path + " accessible"}
}

func interpretPermissionFlag(name, value string) ProbeResult {
	normalised := strings.ToLower(strings.TrimSpace(value))
	switch normalised {
	case "granted", "allow", "allowed", "yes", "true", "1":
		return ProbeResult{Status: StatusGranted, Message: name + " granted via env override"}
	case "denied", "no", "false", "0", "blocked":
		return ProbeResult{Status: StatusDenied, Message: name + " denied via env override", Guidance: "unset " + PrivilegeEnv + " to use the real uid"}
	case "unavailable", "unsupported":
		return ProbeResult{Status: StatusUnavailable, Message: name + " unavailable via env override"}
	default:
		return ProbeResult{Status: StatusUnknown, Message: name + " state unknown"}
	}
}

// StatusString returns the string representation for reports.
func (p ProbeResult) StatusString() string {
	if p.Status == "" {
		return string(StatusUnknown)
	}
	return string(p.Status)
}
