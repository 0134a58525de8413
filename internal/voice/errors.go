package voice

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSession is returned when no session is registered under the id.
	ErrUnknownSession = errors.New("voice: unknown session")
	// ErrInvalidTransition is returned when an event is not allowed in the
	// session's current status, e.g. an update after the call ended.
	ErrInvalidTransition = errors.New("voice: invalid transition")
	// ErrCallMismatch is returned when an event names a call id other than the
	// one the session was provisioned with.
	ErrCallMismatch = errors.New("voice: call id mismatch")
	// ErrProvisionFailed is returned by Create when the provider did not create a call.
	ErrProvisionFailed = errors.New("voice: provisioning failed")
)

// ProvisionError carries the provider's failure reason for a session.
type ProvisionError struct {
	SessionID string
	Reason    string
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("voice: provisioning failed for session %s: %s", e.SessionID, e.Reason)
}

func (e *ProvisionError) Unwrap() error {
	return ErrProvisionFailed
}
