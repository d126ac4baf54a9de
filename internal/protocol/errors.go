package protocol

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// Error types for device communication. CommandQueue interprets these
// to decide whether an attempt is worth retrying; callers only ever see
// the final error after retries are exhausted.

// ErrorType represents the category of error that occurred
type ErrorType int

const (
	// ErrTypeTransport indicates a network-level failure (connection
	// refused, reset, host unreachable)
	ErrTypeTransport ErrorType = iota
	// ErrTypeTimeout indicates the deadline elapsed with no usable response
	ErrTypeTimeout
	// ErrTypeDecode indicates the decrypted bytes were not valid JSON or
	// did not match the expected response shape
	ErrTypeDecode
	// ErrTypeDevice indicates the device answered with a non-zero err_code
	ErrTypeDevice
	// ErrTypeUnsupportedDevice indicates the classifier could not map the
	// device to a known variant when the caller required one
	ErrTypeUnsupportedDevice
	// ErrTypeUnknown indicates an unexpected error
	ErrTypeUnknown
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeTransport:
		return "Transport Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeDecode:
		return "Decode Error"
	case ErrTypeDevice:
		return "Device Error"
	case ErrTypeUnsupportedDevice:
		return "Unsupported Device"
	case ErrTypeUnknown:
		return "Unknown Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// DeviceError represents an error that occurred while talking to a device
type DeviceError struct {
	Type      ErrorType // Category of error
	Message   string    // Human-readable error message
	Err       error     // Underlying error (if any)
	Addr      string    // Device address (for context)
	ErrCode   int       // Device err_code (ErrTypeDevice only)
	Retryable bool      // Whether the error is retryable
}

// Error implements the error interface
func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ClassifyNetError analyzes a raw network error and returns a typed
// DeviceError. Timeouts and connection-level failures are retryable;
// some devices need a fresh connection per attempt, so both categories
// feed the same retry policy.
func ClassifyNetError(err error, addr string) *DeviceError {
	if err == nil {
		return nil
	}

	if os.IsTimeout(err) {
		return &DeviceError{
			Type:      ErrTypeTimeout,
			Message:   "device did not respond before the deadline",
			Err:       err,
			Addr:      addr,
			Retryable: true,
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		msg := "network error"
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			msg = "device refused connection"
		case errors.Is(opErr.Err, syscall.ECONNRESET):
			msg = "connection reset by device"
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			msg = "host unreachable"
		case errors.Is(opErr.Err, syscall.ENETUNREACH):
			msg = "network unreachable"
		}
		return &DeviceError{
			Type:      ErrTypeTransport,
			Message:   msg,
			Err:       err,
			Addr:      addr,
			Retryable: true,
		}
	}

	return &DeviceError{
		Type:      ErrTypeTransport,
		Message:   "network error",
		Err:       err,
		Addr:      addr,
		Retryable: true,
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(addr string, err error) *DeviceError {
	return &DeviceError{
		Type:      ErrTypeTimeout,
		Message:   "device did not respond before the deadline",
		Err:       err,
		Addr:      addr,
		Retryable: true,
	}
}

// NewDecodeError creates a decode error. Decode failures are terminal
// for the response that produced them; retrying the same payload would
// yield the same bytes.
func NewDecodeError(message string, err error) *DeviceError {
	return &DeviceError{
		Type:      ErrTypeDecode,
		Message:   message,
		Err:       err,
		Retryable: false,
	}
}

// NewProtocolError creates an error for a non-zero device err_code
func NewProtocolError(code int, message string) *DeviceError {
	if message == "" {
		message = fmt.Sprintf("device returned err_code %d", code)
	}
	return &DeviceError{
		Type:      ErrTypeDevice,
		Message:   message,
		ErrCode:   code,
		Retryable: false,
	}
}

// NewUnsupportedDeviceError creates an error for an unclassifiable device
func NewUnsupportedDeviceError(addr string, detail string) *DeviceError {
	return &DeviceError{
		Type:      ErrTypeUnsupportedDevice,
		Message:   detail,
		Addr:      addr,
		Retryable: false,
	}
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr) && devErr.Type == ErrTypeTimeout
}

// IsTransportError checks if an error is a network-level error
func IsTransportError(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr) && devErr.Type == ErrTypeTransport
}

// IsDecodeError checks if an error is a decode error
func IsDecodeError(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr) && devErr.Type == ErrTypeDecode
}

// IsDeviceError checks if an error carries a device err_code
func IsDeviceError(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr) && devErr.Type == ErrTypeDevice
}

// IsUnsupportedDevice checks if an error is an unsupported-device error
func IsUnsupportedDevice(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr) && devErr.Type == ErrTypeUnsupportedDevice
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Retryable
	}
	// Unknown errors are not retryable by default
	return false
}
