package soap

import "fmt"

// FaultError is a UPnP SOAP fault or non-transient HTTP rejection from a
// device. Faults are never retried.
type FaultError struct {
	Action      string
	Status      int
	Code        string
	Description string
}

func (e *FaultError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("action %s rejected: http %d", e.Action, e.Status)
	}
	if e.Description == "" {
		return fmt.Sprintf("action %s rejected: upnp error %s", e.Action, e.Code)
	}
	return fmt.Sprintf("action %s rejected: upnp error %s (%s)", e.Action, e.Code, e.Description)
}

// StatusError is a transient HTTP failure (500/502/503/504) from a device.
type StatusError struct {
	Action string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("action %s failed: http %d", e.Action, e.Status)
}

// NetworkError is a transport-level failure below SOAP.
type NetworkError struct {
	Action string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("action %s unreachable: %v", e.Action, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// PlaybackError is returned when the retry budget for transient failures is
// exhausted. Cause is the last observed error.
type PlaybackError struct {
	Action   string
	Attempts int
	Cause    error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("action %s failed after %d attempts: %v", e.Action, e.Attempts, e.Cause)
}

func (e *PlaybackError) Unwrap() error {
	return e.Cause
}
