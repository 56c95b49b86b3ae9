package kernel

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed settles a pending execution whose session shut down.
	ErrSessionClosed = errors.New("kernel session closed")
	// ErrBusy is returned when an execution is already pending on a session.
	ErrBusy = errors.New("execution already in progress")
	// ErrMaxSessions is returned when the manager's session limit is reached.
	ErrMaxSessions = errors.New("maximum session limit reached")
)

// TransportError is a failure talking to the Jupyter server.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
