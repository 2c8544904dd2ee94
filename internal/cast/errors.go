package cast

import "errors"

var (
	// ErrUnsupportedDevice means the device carries no control endpoint
	// and cannot be cast to.
	ErrUnsupportedDevice = errors.New("device cannot be controlled")
	// ErrSessionNotActive means an operation was attempted with no
	// connected session.
	ErrSessionNotActive = errors.New("no active cast session")
)
