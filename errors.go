package pcap

import (
	"fmt"
	"os"
	"syscall"

	"github.com/pkg/errors"
)

var (
	// ErrPending no packet is available yet; retry after the next readiness notification
	ErrPending = errors.New("pcap: no packet available")
	// ErrNoSuchDevice the requested interface does not exist
	ErrNoSuchDevice = errors.New("pcap: no such device")
	// ErrUnsupported the platform or interface cannot provide the requested mode
	ErrUnsupported = errors.New("pcap: unsupported")
	// ErrClosed the handle has been closed
	ErrClosed = errors.New("pcap: handle closed")
	// ErrNotBound injection needs a handle bound to a single device
	ErrNotBound = errors.New("pcap: handle not bound to a device")
)

// OpenError a handle could not be opened or configured
type OpenError struct {
	Device string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", deviceName(e.Device), e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// CaptureError a fatal failure on an open handle
type CaptureError struct {
	Op     string
	Device string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, deviceName(e.Device), e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// DriverError an internal hiccup of the capture driver, such as a short or
// malformed record. It is always retried.
type DriverError struct {
	Msg string
}

func (e *DriverError) Error() string { return "driver: " + e.Msg }

// Classify maps a raw read error onto the capture taxonomy: nil stays nil,
// retryable conditions become ErrPending and everything else is returned as is.
// Interrupted syscalls, would-block, timeouts and driver-internal errors are
// retryable; the fatal set is whatever remains.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return ErrPending
	}
	return err
}

// IsTransient reports whether err is retryable in place.
func IsTransient(err error) bool {
	var derr *DriverError
	switch {
	case errors.Is(err, ErrPending),
		errors.Is(err, syscall.EINTR),
		errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.EWOULDBLOCK),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &derr):
		return true
	}
	return false
}

func deviceName(device string) string {
	if device == "" {
		return AnyDevice
	}
	return device
}
