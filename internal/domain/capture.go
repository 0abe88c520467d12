package domain

import "errors"

var (
	// ErrNoCapture means no backend produced an image.
	ErrNoCapture = errors.New("no screenshot captured")
	// ErrCaptureMissing means a backend reported success but the file is absent.
	ErrCaptureMissing = errors.New("screenshot file not found")
	// ErrUnsupported means no capture backend exists for this platform.
	ErrUnsupported = errors.New("unsupported platform")
	// ErrTimeout means an external tool exceeded its deadline.
	ErrTimeout = errors.New("external tool timed out")
)

// SessionInfo is the diagnostic payload returned when a WSL capture fails
// but terminal multiplexer state could be read instead.
type SessionInfo struct {
	Sessions string
	Layout   string
}

// Empty reports whether no diagnostic data was collected.
func (s SessionInfo) Empty() bool {
	return s.Sessions == "" && s.Layout == ""
}
