package voice

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/voice-orchestrator/internal/analytics"
	"github.com/wolfman30/voice-orchestrator/internal/provisioning"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusInitializing Status = "Initializing"
	StatusActive       Status = "Active"
	StatusEnded        Status = "Ended"
	StatusFailed       Status = "Failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusFailed
}

// Speaker identifies who is currently talking.
type Speaker string

const (
	SpeakerAgent   Speaker = "agent"
	SpeakerCaller  Speaker = "caller"
	SpeakerUnknown Speaker = "unknown"
)

// ParseSpeaker accepts agent, caller and unknown in any case. Empty input
// yields "" and no error.
func ParseSpeaker(raw string) (Speaker, error) {
	switch s := Speaker(strings.ToLower(strings.TrimSpace(raw))); s {
	case "", SpeakerAgent, SpeakerCaller, SpeakerUnknown:
		return s, nil
	case "user":
		return SpeakerCaller, nil
	default:
		return "", fmt.Errorf("voice: unknown speaker %q", raw)
	}
}

// EndCause records which path drove a session terminal.
type EndCause string

const (
	CauseProvisionFailed   EndCause = "provision_failed"
	CauseProviderUnhealthy EndCause = "provider_unhealthy"
	CauseExplicit          EndCause = "explicit"
	CauseIdleTimeout       EndCause = "idle_timeout"
)

// TranscriptEvent is one accepted fragment. Sequence starts at 1 and follows
// acceptance order.
type TranscriptEvent struct {
	Sequence   int64     `json:"sequence"`
	Speaker    Speaker   `json:"speaker"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	SessionID      string            `json:"sessionId"`
	CallID         string            `json:"callId,omitempty"`
	AgentID        string            `json:"agentId"`
	Language       string            `json:"language"`
	Status         Status            `json:"status"`
	CurrentSpeaker Speaker           `json:"currentSpeaker"`
	Transcript     []TranscriptEvent `json:"transcript,omitempty"`
	StartedAt      *time.Time        `json:"startedAt,omitempty"`
	EndedAt        *time.Time        `json:"endedAt,omitempty"`
	LastActivityAt time.Time         `json:"lastActivityAt"`
	EndCause       EndCause          `json:"endCause,omitempty"`
	EndNote        string            `json:"endNote,omitempty"`
	FailureReason  string            `json:"failureReason,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

// Session is one call's state machine. Every method below assumes mu is held
// by the caller; the registry owns the locking.
type Session struct {
	mu sync.Mutex

	id           string
	agentID      string
	language     string
	agentVersion int
	metadata     map[string]any

	callID      string
	accessToken string
	status      Status
	speaker     Speaker
	transcript  []TranscriptEvent

	createdAt    time.Time
	startedAt    time.Time
	endedAt      time.Time
	lastActivity time.Time

	endCause      EndCause
	endNote       string
	failureReason string
	provisionErr  error
	emitted       bool
	evicted       bool

	// mirrorMu orders writes to the session mirror; mirrored counts transcript
	// events already pushed. mirrorStarted is set once the stored transcript
	// of any earlier session with this id has been cleared.
	mirrorMu      sync.Mutex
	mirrored      int
	mirrorStarted bool
}

func newSession(id, agentID, language string, agentVersion int, metadata map[string]any, now time.Time) *Session {
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	return &Session{
		id:           id,
		agentID:      agentID,
		language:     language,
		agentVersion: agentVersion,
		metadata:     md,
		status:       StatusInitializing,
		speaker:      SpeakerUnknown,
		createdAt:    now,
		lastActivity: now,
	}
}

// applyProvision moves an Initializing session to Active or Failed. A record is
// returned when the session went terminal.
func (s *Session) applyProvision(result provisioning.Result, now time.Time) (*analytics.CompletedCallRecord, error) {
	if s.status != StatusInitializing {
		return nil, fmt.Errorf("%w: provisioning result for %s session", ErrInvalidTransition, s.status)
	}
	switch r := result.(type) {
	case *provisioning.Provisioned:
		if s.callID == "" {
			s.callID = r.CallID
		}
		s.accessToken = r.AccessToken
		if !r.CallStatus.Healthy() {
			s.failureReason = fmt.Sprintf("call status %s", r.CallStatus)
			rec := s.finish(StatusFailed, CauseProviderUnhealthy, now)
			return &rec, nil
		}
		s.status = StatusActive
		s.startedAt = now
		s.lastActivity = now
		return nil, nil
	case *provisioning.Failed:
		s.failureReason = r.Reason
		s.provisionErr = &ProvisionError{SessionID: s.id, Reason: r.Reason}
		rec := s.finish(StatusFailed, CauseProvisionFailed, now)
		return &rec, nil
	default:
		s.failureReason = "unrecognized provisioning result"
		s.provisionErr = &ProvisionError{SessionID: s.id, Reason: s.failureReason}
		rec := s.finish(StatusFailed, CauseProvisionFailed, now)
		return &rec, nil
	}
}

// update appends text (when non-empty) and switches the current speaker (when
// set). An update carrying neither only refreshes the activity clock.
func (s *Session) update(text string, speaker Speaker, now time.Time) (TranscriptEvent, bool, error) {
	if s.status != StatusActive {
		return TranscriptEvent{}, false, fmt.Errorf("%w: update on %s session", ErrInvalidTransition, s.status)
	}
	if speaker != "" {
		s.speaker = speaker
	}
	s.lastActivity = now
	if text == "" {
		return TranscriptEvent{}, false, nil
	}
	ev := TranscriptEvent{
		Sequence:   int64(len(s.transcript)) + 1,
		Speaker:    s.speaker,
		Text:       text,
		ReceivedAt: now,
	}
	s.transcript = append(s.transcript, ev)
	return ev, true, nil
}

// end moves an Active session to Ended.
func (s *Session) end(cause EndCause, now time.Time) (analytics.CompletedCallRecord, error) {
	if s.status != StatusActive {
		return analytics.CompletedCallRecord{}, fmt.Errorf("%w: end on %s session", ErrInvalidTransition, s.status)
	}
	return s.finish(StatusEnded, cause, now), nil
}

// finish is the only way into a terminal status, so the completed-call record
// is built exactly once per session.
func (s *Session) finish(status Status, cause EndCause, now time.Time) analytics.CompletedCallRecord {
	if s.emitted {
		panic("voice: session " + s.id + " finished twice")
	}
	s.emitted = true
	s.status = status
	s.endCause = cause
	s.endedAt = now

	var duration int64
	if !s.startedAt.IsZero() {
		duration = now.Sub(s.startedAt).Milliseconds()
	}
	final := analytics.FinalStatusEnded
	if status == StatusFailed {
		final = analytics.FinalStatusFailed
	}
	return analytics.CompletedCallRecord{
		RecordID:         uuid.NewString(),
		SessionID:        s.id,
		AgentID:          s.agentID,
		Language:         s.language,
		DurationMs:       duration,
		FinalStatus:      final,
		EndReason:        string(cause),
		TranscriptLength: len(s.transcript),
		EndedAt:          now,
	}
}

func (s *Session) snapshot(withTranscript bool) Snapshot {
	snap := Snapshot{
		SessionID:      s.id,
		CallID:         s.callID,
		AgentID:        s.agentID,
		Language:       s.language,
		Status:         s.status,
		CurrentSpeaker: s.speaker,
		LastActivityAt: s.lastActivity,
		EndCause:       s.endCause,
		EndNote:        s.endNote,
		FailureReason:  s.failureReason,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		snap.StartedAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	if len(s.metadata) > 0 {
		snap.Metadata = make(map[string]any, len(s.metadata))
		for k, v := range s.metadata {
			snap.Metadata[k] = v
		}
	}
	if withTranscript {
		snap.Transcript = append([]TranscriptEvent(nil), s.transcript...)
	}
	return snap
}

// Handle is what a caller receives from Create.
type Handle struct {
	SessionID   string
	CallID      string
	AccessToken string
	AgentID     string
	Language    string
	Status      Status
	// FailureReason is set when Status is Failed.
	FailureReason string
	// Existing is true when Create returned a session registered earlier.
	Existing bool
}

func (s *Session) handle(existing bool) Handle {
	return Handle{
		SessionID:   s.id,
		CallID:      s.callID,
		AccessToken: s.accessToken,
		AgentID:     s.agentID,
		Language:    s.language,
		Status:      s.status,
		Existing:    existing,

		FailureReason: s.failureReason,
	}
}
