package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/voice-orchestrator/internal/agents"
	"github.com/wolfman30/voice-orchestrator/internal/analytics"
	"github.com/wolfman30/voice-orchestrator/internal/voice"
	"github.com/wolfman30/voice-orchestrator/pkg/logging"
)

type agentResolver interface {
	Resolve(language agents.Language, practiceArea string) agents.Profile
	Lookup(agentID string) (agents.Profile, bool)
}

type sessionRegistry interface {
	Create(ctx context.Context, req voice.CreateRequest) (voice.Handle, error)
	Dispatch(ctx context.Context, sessionID string, ev voice.Event) (voice.Result, error)
	Get(ctx context.Context, sessionID string) (voice.Snapshot, error)
}

type reportGenerator interface {
	Generate(period analytics.Period, agentID string, bucket analytics.BucketSelector) (analytics.PerformanceReport, error)
}

// Response is the result of a handled Request.
type Response interface {
	isResponse()
}

// InitializeResult answers InitializeConversation.
type InitializeResult struct {
	SessionID   string       `json:"sessionId"`
	CallID      string       `json:"callId,omitempty"`
	AccessToken string       `json:"accessToken,omitempty"`
	AgentID     string       `json:"agentId"`
	Language    string       `json:"language"`
	Status      voice.Status `json:"status"`
	Existing    bool         `json:"existing,omitempty"`
}

// Accepted answers UpdateConversation and EndConversation.
type Accepted struct {
	Accepted bool         `json:"accepted"`
	Status   voice.Status `json:"status"`
	Sequence int64        `json:"sequence,omitempty"`
}

// ReportResult answers GetPerformanceReport.
type ReportResult struct {
	analytics.PerformanceReport
}

// SessionResult answers GetSession.
type SessionResult struct {
	voice.Snapshot
}

func (*InitializeResult) isResponse() {}
func (*Accepted) isResponse()         {}
func (*ReportResult) isResponse()     {}
func (*SessionResult) isResponse()    {}

// Service validates requests and routes them to the directory, the session
// registry, and the report generator.
type Service struct {
	agents   agentResolver
	sessions sessionRegistry
	reports  reportGenerator
	logger   *logging.Logger
}

// NewService wires the components behind the inbound interface.
func NewService(directory agentResolver, sessions sessionRegistry, reports reportGenerator, logger *logging.Logger) *Service {
	if directory == nil || sessions == nil || reports == nil {
		panic("orchestrator: directory, sessions and reports are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{agents: directory, sessions: sessions, reports: reports, logger: logger}
}

// Handle validates req and dispatches it. A response may accompany an error
// when a session was created but failed provisioning.
func (s *Service) Handle(ctx context.Context, req Request) (Response, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	switch r := req.(type) {
	case *InitializeConversation:
		return s.initialize(ctx, r)
	case *UpdateConversation:
		return s.update(ctx, r)
	case *EndConversation:
		return s.end(ctx, r)
	case *GetPerformanceReport:
		return s.report(r)
	case *GetSession:
		snap, err := s.sessions.Get(ctx, r.SessionID)
		if err != nil {
			return nil, err
		}
		return &SessionResult{Snapshot: snap}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported request %T", ErrInvalidRequest, req)
	}
}

// resolveAgent prefers an explicitly named agent and otherwise resolves by
// language and practice area.
func (s *Service) resolveAgent(r *InitializeConversation) agents.Profile {
	if r.AgentID != "" {
		if profile, ok := s.agents.Lookup(r.AgentID); ok {
			return profile
		}
		s.logger.Warn("unknown agent requested, resolving by language", "agent_id", r.AgentID, "language", r.Language)
	}
	lang, _ := agents.ParseLanguage(r.Language)
	return s.agents.Resolve(lang, r.PracticeArea)
}

func (s *Service) initialize(ctx context.Context, r *InitializeConversation) (Response, error) {
	profile := s.resolveAgent(r)

	metadata := make(map[string]any, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		metadata[k] = v
	}
	if r.UserID != "" {
		metadata["userId"] = r.UserID
	}

	start := time.Now()
	handle, err := s.sessions.Create(ctx, voice.CreateRequest{
		SessionID:    r.SessionID,
		AgentID:      profile.AgentID,
		Language:     string(profile.Language),
		AgentVersion: r.AgentVersion,
		Metadata:     metadata,
	})
	res := &InitializeResult{
		SessionID:   handle.SessionID,
		CallID:      handle.CallID,
		AccessToken: handle.AccessToken,
		AgentID:     handle.AgentID,
		Language:    handle.Language,
		Status:      handle.Status,
		Existing:    handle.Existing,
	}
	if err == nil && handle.Status == voice.StatusFailed {
		err = &voice.ProvisionError{SessionID: handle.SessionID, Reason: handle.FailureReason}
	}
	if err != nil {
		var perr *voice.ProvisionError
		if errors.As(err, &perr) {
			res.AccessToken = ""
			s.logger.Warn("conversation initialize failed",
				"session_id", handle.SessionID,
				"agent_id", profile.AgentID,
				"reason", perr.Reason,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return res, err
		}
		return nil, err
	}
	s.logger.Info("conversation initialized",
		"session_id", handle.SessionID,
		"call_id", handle.CallID,
		"agent_id", handle.AgentID,
		"existing", handle.Existing,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (s *Service) update(ctx context.Context, r *UpdateConversation) (Response, error) {
	speaker, _ := voice.ParseSpeaker(r.CurrentSpeaker)
	res, err := s.sessions.Dispatch(ctx, r.SessionID, &voice.UpdateEvent{
		CallID:   r.CallID,
		Fragment: r.TranscriptFragment,
		Speaker:  speaker,
	})
	if err != nil {
		return nil, err
	}
	return &Accepted{Accepted: res.Accepted, Status: res.Status, Sequence: res.Sequence}, nil
}

func (s *Service) end(ctx context.Context, r *EndConversation) (Response, error) {
	res, err := s.sessions.Dispatch(ctx, r.SessionID, &voice.EndEvent{CallID: r.CallID, Reason: r.Reason})
	if err != nil {
		return nil, err
	}
	return &Accepted{Accepted: res.Accepted, Status: res.Status}, nil
}

func (s *Service) report(r *GetPerformanceReport) (Response, error) {
	period, _ := analytics.ParsePeriod(r.Period)
	bucket, _ := analytics.ParseBucketSelector(r.Bucket)
	report, err := s.reports.Generate(period, r.AgentID, bucket)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return &ReportResult{PerformanceReport: report}, nil
}
