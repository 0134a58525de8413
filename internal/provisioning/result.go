package provisioning

import "strings"

// CallStatus is the provider-reported state of a freshly created call.
type CallStatus string

const (
	CallStatusRegistered   CallStatus = "registered"
	CallStatusOngoing      CallStatus = "ongoing"
	CallStatusError        CallStatus = "error"
	CallStatusNotConnected CallStatus = "not_connected"
)

// Healthy reports whether the call can proceed to an active conversation.
func (s CallStatus) Healthy() bool {
	switch CallStatus(strings.ToLower(strings.TrimSpace(string(s)))) {
	case CallStatusError, CallStatusNotConnected:
		return false
	default:
		return true
	}
}

// Result is the outcome of a single provisioning attempt: either *Provisioned
// or *Failed.
type Result interface {
	isResult()
}

// Provisioned carries the provider credentials for a created call. The call
// may still be degraded; check CallStatus.Healthy.
type Provisioned struct {
	AccessToken string
	CallID      string
	CallStatus  CallStatus
}

// Failed means the provider did not create a call.
type Failed struct {
	Reason string
}

func (*Provisioned) isResult() {}
func (*Failed) isResult()      {}
