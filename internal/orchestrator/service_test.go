package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/voice-orchestrator/internal/agents"
	"github.com/wolfman30/voice-orchestrator/internal/analytics"
	"github.com/wolfman30/voice-orchestrator/internal/provisioning"
	"github.com/wolfman30/voice-orchestrator/internal/voice"
)

type scriptedProvisioner struct {
	mu       sync.Mutex
	calls    int
	agentIDs []string
	statuses []provisioning.CallStatus
	fail     bool
}

func (p *scriptedProvisioner) Provision(_ context.Context, agentID string, _ int) provisioning.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.agentIDs = append(p.agentIDs, agentID)
	if p.fail {
		return &provisioning.Failed{Reason: "provider unavailable"}
	}
	status := provisioning.CallStatusRegistered
	if len(p.statuses) > 0 {
		status = p.statuses[0]
		p.statuses = p.statuses[1:]
	}
	return &provisioning.Provisioned{
		AccessToken: fmt.Sprintf("tok-%d", p.calls),
		CallID:      fmt.Sprintf("call-%d", p.calls),
		CallStatus:  status,
	}
}

type fixture struct {
	svc  *Service
	prov *scriptedProvisioner
	agg  *analytics.Aggregator
}

func newFixture(t *testing.T, prov *scriptedProvisioner) fixture {
	t.Helper()
	dir, err := agents.NewDirectory(agents.DefaultProfiles(), agents.LanguageEnglish)
	require.NoError(t, err)
	agg := analytics.NewAggregator(analytics.AggregatorConfig{Location: time.UTC})
	registry := voice.NewRegistry(voice.RegistryConfig{
		Provisioner: prov,
		Records:     agg,
		IdleTimeout: time.Minute,
	})
	return fixture{
		svc:  NewService(dir, registry, analytics.NewReportGenerator(agg), nil),
		prov: prov,
		agg:  agg,
	}
}

func TestHandle_InitializeSpanishFallsBackToSpanishDefault(t *testing.T) {
	f := newFixture(t, &scriptedProvisioner{})

	resp, err := f.svc.Handle(context.Background(), &InitializeConversation{
		Language:     "es",
		PracticeArea: "personal-injury",
		UserID:       "user-9",
	})
	require.NoError(t, err)
	res := resp.(*InitializeResult)
	assert.Equal(t, "agent-es-1", res.AgentID)
	assert.Equal(t, "es", res.Language)
	assert.Equal(t, "call-1", res.CallID)
	assert.Equal(t, "tok-1", res.AccessToken)
	assert.NotEmpty(t, res.SessionID)

	snapResp, err := f.svc.Handle(context.Background(), &GetSession{SessionID: res.SessionID})
	require.NoError(t, err)
	snap := snapResp.(*SessionResult)
	assert.Equal(t, "user-9", snap.Metadata["userId"])
	assert.Equal(t, voice.StatusActive, snap.Status)
}

func TestHandle_InitializeByAgentID(t *testing.T) {
	f := newFixture(t, &scriptedProvisioner{})

	resp, err := f.svc.Handle(context.Background(), &InitializeConversation{AgentID: "agent-en-imm", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "agent-en-imm", resp.(*InitializeResult).AgentID)

	resp, err = f.svc.Handle(context.Background(), &InitializeConversation{AgentID: "agent-unknown", Language: "es"})
	require.NoError(t, err)
	assert.Equal(t, "agent-es-1", resp.(*InitializeResult).AgentID)
}

func TestHandle_InitializeProvisionFailures(t *testing.T) {
	f := newFixture(t, &scriptedProvisioner{fail: true})

	resp, err := f.svc.Handle(context.Background(), &InitializeConversation{SessionID: "s-hard", Language: "en"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, voice.ErrProvisionFailed))
	require.NotNil(t, resp)
	assert.Equal(t, "s-hard", resp.(*InitializeResult).SessionID)
	assert.Equal(t, voice.StatusFailed, resp.(*InitializeResult).Status)

	soft := newFixture(t, &scriptedProvisioner{statuses: []provisioning.CallStatus{provisioning.CallStatusNotConnected}})
	resp, err = soft.svc.Handle(context.Background(), &InitializeConversation{SessionID: "s-soft", Language: "en"})
	var perr *voice.ProvisionError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Reason, "not_connected")
	res := resp.(*InitializeResult)
	assert.Equal(t, "call-1", res.CallID)
	assert.Empty(t, res.AccessToken)
}

func TestHandle_UpdateAndEnd(t *testing.T) {
	f := newFixture(t, &scriptedProvisioner{})
	ctx := context.Background()
	resp, err := f.svc.Handle(ctx, &InitializeConversation{SessionID: "s1", Language: "en"})
	require.NoError(t, err)
	callID := resp.(*InitializeResult).CallID

	upd, err := f.svc.Handle(ctx, &UpdateConversation{SessionID: "s1", CallID: callID, TranscriptFragment: "Hello", CurrentSpeaker: "agent"})
	require.NoError(t, err)
	assert.Equal(t, &Accepted{Accepted: true, Status: voice.StatusActive, Sequence: 1}, upd)

	_, err = f.svc.Handle(ctx, &UpdateConversation{SessionID: "s1", CallID: "call-other", TranscriptFragment: "x"})
	assert.True(t, errors.Is(err, voice.ErrCallMismatch))

	_, err = f.svc.Handle(ctx, &UpdateConversation{SessionID: "missing", CallID: callID})
	assert.True(t, errors.Is(err, voice.ErrUnknownSession))

	end, err := f.svc.Handle(ctx, &EndConversation{SessionID: "s1", Reason: "done"})
	require.NoError(t, err)
	assert.Equal(t, voice.StatusEnded, end.(*Accepted).Status)

	_, err = f.svc.Handle(ctx, &UpdateConversation{SessionID: "s1", CallID: callID, TranscriptFragment: "late"})
	assert.True(t, errors.Is(err, voice.ErrInvalidTransition))
}

func TestHandle_DailyReportAfterThreeCalls(t *testing.T) {
	prov := &scriptedProvisioner{statuses: []provisioning.CallStatus{
		provisioning.CallStatusRegistered,
		provisioning.CallStatusRegistered,
		provisioning.CallStatusNotConnected,
	}}
	f := newFixture(t, prov)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp, err := f.svc.Handle(ctx, &InitializeConversation{SessionID: fmt.Sprintf("s%d", i), AgentID: "agent-es-1", Language: "es"})
		res := resp.(*InitializeResult)
		if res.Status == voice.StatusFailed {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		_, err = f.svc.Handle(ctx, &EndConversation{SessionID: res.SessionID, CallID: res.CallID})
		require.NoError(t, err)
	}

	resp, err := f.svc.Handle(ctx, &GetPerformanceReport{Period: "daily", AgentID: "agent-es-1"})
	require.NoError(t, err)
	report := resp.(*ReportResult)
	assert.Equal(t, int64(3), report.CallCount)
	assert.Equal(t, int64(1), report.FailureCount)
	assert.InDelta(t, 0.33, report.FailureRate, 0.01)
	assert.True(t, report.Provisional)
}

func TestHandle_Validation(t *testing.T) {
	f := newFixture(t, &scriptedProvisioner{})
	tests := []struct {
		name string
		req  Request
	}{
		{name: "nil request", req: nil},
		{name: "unsupported language", req: &InitializeConversation{Language: "fr"}},
		{name: "missing language", req: &InitializeConversation{}},
		{name: "negative version", req: &InitializeConversation{Language: "en", AgentVersion: -1}},
		{name: "session id with slash", req: &InitializeConversation{SessionID: "a/b", Language: "en"}},
		{name: "update without session", req: &UpdateConversation{CallID: "c"}},
		{name: "update without call", req: &UpdateConversation{SessionID: "s"}},
		{name: "unknown speaker", req: &UpdateConversation{SessionID: "s", CallID: "c", CurrentSpeaker: "robot"}},
		{name: "end without session", req: &EndConversation{}},
		{name: "unknown period", req: &GetPerformanceReport{Period: "hourly"}},
		{name: "unknown bucket", req: &GetPerformanceReport{Period: "daily", Bucket: "next"}},
		{name: "session lookup without id", req: &GetSession{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Handle(context.Background(), tt.req)
			assert.True(t, errors.Is(err, ErrInvalidRequest), "got %v", err)
		})
	}
	assert.Zero(t, f.prov.calls)
}

func TestHandle_UnknownPeriodKeepsSentinel(t *testing.T) {
	f := newFixture(t, &scriptedProvisioner{})
	_, err := f.svc.Handle(context.Background(), &GetPerformanceReport{Period: "yearly"})
	assert.True(t, errors.Is(err, analytics.ErrUnknownPeriod))
}
