package mesh

import (
	"errors"
	"fmt"
)

var (
	ErrRemoteDescriptionRejected = errors.New("remote description rejected")
	ErrIceAdditionFailed         = errors.New("ice candidate rejected")
	ErrRollbackRefused           = errors.New("rollback refused")
	ErrNoLocalID                 = errors.New("local id is required")
	ErrSessionStopped            = errors.New("session stopped")
	ErrSignalingClosed           = errors.New("signaling connection closed")
)

// LinkError is an operation failure on one peer link.
type LinkError struct {
	Op       string
	RemoteID string
	Err      error
	Details  string
}

func (e *LinkError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s %s: %v (%s)", e.Op, e.RemoteID, e.Err, e.Details)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.RemoteID, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func NewError(op, remoteID string, err error) *LinkError {
	return &LinkError{Op: op, RemoteID: remoteID, Err: err}
}

// WrapError tags err with a sentinel so callers can match the category with
// errors.Is while the cause stays in the message.
func WrapError(op, remoteID string, kind, cause error) *LinkError {
	return &LinkError{Op: op, RemoteID: remoteID, Err: kind, Details: cause.Error()}
}
