package device

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

var (
	// ErrNotFound indicates the device node does not exist.
	ErrNotFound = errors.New("input device not found")
	// ErrPermissionDenied indicates the process may not open the device node.
	ErrPermissionDenied = errors.New("permission denied opening input device")
	// ErrDeviceGone indicates the device disappeared while the hook was running.
	ErrDeviceGone = errors.New("input device gone")
	// ErrClosed is returned by reads on a handle that was closed locally.
	ErrClosed = errors.New("input device closed")
	// ErrGrab matches every *GrabError.
	ErrGrab = errors.New("exclusive grab failed")
)

// OpenError reports why a device could not be opened.
type OpenError struct {
	Path string
	Err  error
	kind error
}

func (e *OpenError) Error() string {
	if e.kind != nil {
		return fmt.Sprintf("open %s: %v: %v", e.Path, e.kind, e.Err)
	}
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

// Is matches ErrNotFound or ErrPermissionDenied depending on the cause.
func (e *OpenError) Is(target error) bool {
	return e.kind != nil && target == e.kind
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

func newOpenError(path string, err error) error {
	oe := &OpenError{Path: path, Err: err}
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		oe.kind = ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		oe.kind = ErrPermissionDenied
	}
	return oe
}

// GrabError reports a failed EVIOCGRAB ioctl. Op is "grab" or "ungrab".
type GrabError struct {
	Op   string
	Path string
	Err  error
}

func (e *GrabError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *GrabError) Is(target error) bool {
	return target == ErrGrab
}

func (e *GrabError) Unwrap() error {
	return e.Err
}

// Busy reports whether another process already holds the grab.
func (e *GrabError) Busy() bool {
	return errors.Is(e.Err, unix.EBUSY)
}

// Permission reports whether the grab failed for lack of privilege.
func (e *GrabError) Permission() bool {
	return errors.Is(e.Err, unix.EPERM) || errors.Is(e.Err, unix.EACCES)
}

func classifyReadError(path string, err error) error {
	switch {
	case errors.Is(err, os.ErrClosed):
		return ErrClosed
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.EIO), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %s: %w", ErrDeviceGone, path, err)
	default:
		return fmt.Errorf("read %s: %w", path, err)
	}
}
