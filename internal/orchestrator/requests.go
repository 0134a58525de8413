package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/voice-orchestrator/internal/agents"
	"github.com/wolfman30/voice-orchestrator/internal/analytics"
	"github.com/wolfman30/voice-orchestrator/internal/voice"
)

// ErrInvalidRequest marks requests rejected before reaching any component.
var ErrInvalidRequest = errors.New("orchestrator: invalid request")

const (
	maxFragmentBytes = 16 << 10
	maxIDLength      = 128
)

// Request is the closed set of inbound operations.
type Request interface {
	Validate() error
	isRequest()
}

// InitializeConversation starts a provisioned session.
type InitializeConversation struct {
	SessionID    string         `json:"sessionId,omitempty"`
	AgentID      string         `json:"agentId,omitempty"`
	AgentVersion int            `json:"agentVersion,omitempty"`
	Language     string         `json:"language"`
	PracticeArea string         `json:"practiceArea,omitempty"`
	UserID       string         `json:"userId,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// UpdateConversation carries one transcript fragment and/or speaker change.
type UpdateConversation struct {
	SessionID          string `json:"sessionId"`
	CallID             string `json:"callId"`
	TranscriptFragment string `json:"transcriptFragment,omitempty"`
	CurrentSpeaker     string `json:"currentSpeaker,omitempty"`
}

// EndConversation ends an active session.
type EndConversation struct {
	SessionID string `json:"sessionId"`
	CallID    string `json:"callId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// GetPerformanceReport queries one analytics bucket.
type GetPerformanceReport struct {
	Period  string `json:"period"`
	AgentID string `json:"agentId,omitempty"`
	Bucket  string `json:"bucket,omitempty"`
}

// GetSession reads a session snapshot.
type GetSession struct {
	SessionID string `json:"sessionId"`
}

func (*InitializeConversation) isRequest() {}
func (*UpdateConversation) isRequest()     {}
func (*EndConversation) isRequest()        {}
func (*GetPerformanceReport) isRequest()   {}
func (*GetSession) isRequest()             {}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func validID(field, value string, required bool) error {
	switch {
	case value == "" && required:
		return invalid("%s is required", field)
	case len(value) > maxIDLength:
		return invalid("%s exceeds %d characters", field, maxIDLength)
	case strings.ContainsAny(value, " \t\r\n/"):
		return invalid("%s contains whitespace or '/'", field)
	}
	return nil
}

func (r *InitializeConversation) Validate() error {
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.AgentID = strings.TrimSpace(r.AgentID)
	if err := validID("sessionId", r.SessionID, false); err != nil {
		return err
	}
	if err := validID("agentId", r.AgentID, false); err != nil {
		return err
	}
	if _, ok := agents.ParseLanguage(r.Language); !ok {
		return invalid("language %q is not supported", r.Language)
	}
	if r.AgentVersion < 0 {
		return invalid("agentVersion must be positive")
	}
	return nil
}

func (r *UpdateConversation) Validate() error {
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.CallID = strings.TrimSpace(r.CallID)
	if err := validID("sessionId", r.SessionID, true); err != nil {
		return err
	}
	if err := validID("callId", r.CallID, true); err != nil {
		return err
	}
	if len(r.TranscriptFragment) > maxFragmentBytes {
		return invalid("transcriptFragment exceeds %d bytes", maxFragmentBytes)
	}
	if _, err := voice.ParseSpeaker(r.CurrentSpeaker); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

func (r *EndConversation) Validate() error {
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.CallID = strings.TrimSpace(r.CallID)
	if err := validID("sessionId", r.SessionID, true); err != nil {
		return err
	}
	return validID("callId", r.CallID, false)
}

func (r *GetPerformanceReport) Validate() error {
	if _, err := analytics.ParsePeriod(r.Period); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if _, err := analytics.ParseBucketSelector(r.Bucket); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return validID("agentId", strings.TrimSpace(r.AgentID), false)
}

func (r *GetSession) Validate() error {
	r.SessionID = strings.TrimSpace(r.SessionID)
	return validID("sessionId", r.SessionID, true)
}
