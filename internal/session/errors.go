package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotReady               = errors.New("document scanner is not ready")
	ErrAlreadyInProgress      = errors.New("another scan is in progress")
	ErrEnvironmentUnavailable = errors.New("host environment is unavailable")
	ErrNoActiveSession        = errors.New("no active scan")
	ErrNoData                 = errors.New("document scanner returned no data")
)

// StartError is returned when the scanning service refuses to start a scan
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("unable to start document scanner: %v", e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
