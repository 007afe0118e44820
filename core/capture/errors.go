package capture

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoDevice         = errors.New("no capture device available")
	ErrAlreadyStarted   = errors.New("capture session already started")
	ErrStopped          = errors.New("capture session stopped")
)

// DeviceError reports that the capture device could not be acquired. It is
// fatal for the session and never retried.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture device error: %v", e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
