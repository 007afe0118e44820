package transport

import (
	"fmt"
)

// UploadError reports a segment the backend refused or never received. The
// session recovers by resuming capture.
type UploadError struct {
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio upload failed: %v", e.Err)
	}
	return fmt.Sprintf("audio upload failed: %s", e.Status)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ConnectivityError is raised once reconnecting gave up. It ends the session.
type ConnectivityError struct {
	Attempts int
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connection lost after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// ParseError marks a response that could not be understood. It is treated as
// if no payload had arrived.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
