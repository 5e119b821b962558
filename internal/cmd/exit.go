package cmd

import (
	"errors"

	"github.com/filipyuen/Q9CP/pkg/device"
	"github.com/filipyuen/Q9CP/pkg/permissions"
)

// Process exit codes. 66 and 77 follow sysexits.h.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitUsage        = 2
	ExitNoInput      = 66
	ExitNoPermission = 77
)

var errUsage = errors.New("usage error")

type usageErr struct{ err error }

func (e usageErr) Error() string { return e.err.Error() }

func (e usageErr) Is(target error) bool { return target == errUsage }

func (e usageErr) Unwrap() error { return e.err }

func usageError(err error) error {
	return usageErr{err: err}
}

// ExitCode maps an Execute error to the process exit status.
func ExitCode(err error) int {
	var openErr *device.OpenError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errUsage):
		return ExitUsage
	case errors.Is(err, permissions.ErrNotPrivileged):
		return ExitNoPermission
	case errors.As(err, &openErr):
		return ExitNoInput
	default:
		return ExitFailure
	}
}
