package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/voice-orchestrator/internal/agents"
	"github.com/wolfman30/voice-orchestrator/internal/analytics"
	"github.com/wolfman30/voice-orchestrator/internal/orchestrator"
	"github.com/wolfman30/voice-orchestrator/internal/provisioning"
	"github.com/wolfman30/voice-orchestrator/internal/voice"
)

type stubProvisioner struct {
	status provisioning.CallStatus
	fail   bool
	calls  int
}

func (p *stubProvisioner) Provision(context.Context, string, int) provisioning.Result {
	p.calls++
	if p.fail {
		return &provisioning.Failed{Reason: "upstream 503"}
	}
	status := p.status
	if status == "" {
		status = provisioning.CallStatusRegistered
	}
	return &provisioning.Provisioned{AccessToken: "tok", CallID: fmt.Sprintf("call-%d", p.calls), CallStatus: status}
}

func newTestServer(t *testing.T, prov *stubProvisioner) http.Handler {
	t.Helper()
	dir, err := agents.NewDirectory(agents.DefaultProfiles(), agents.LanguageEnglish)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	agg := analytics.NewAggregator(analytics.AggregatorConfig{Location: time.UTC})
	registry := voice.NewRegistry(voice.RegistryConfig{Provisioner: prov, Records: agg, IdleTimeout: time.Minute})
	svc := orchestrator.NewService(dir, registry, analytics.NewReportGenerator(agg), nil)
	h := NewConversationHandler(svc, nil)

	r := chi.NewRouter()
	r.Post("/api/voice/conversations", h.Initialize)
	r.Get("/api/voice/conversations/{sessionID}", h.Session)
	r.Post("/api/voice/conversations/{sessionID}/updates", h.Update)
	r.Post("/api/voice/conversations/{sessionID}/end", h.End)
	r.Get("/api/voice/reports/{period}", h.Report)
	return r
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestConversationLifecycle(t *testing.T) {
	srv := newTestServer(t, &stubProvisioner{})

	rec := do(t, srv, http.MethodPost, "/api/voice/conversations", `{"sessionId":"s1","language":"es","userId":"u1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("initialize status = %d body=%s", rec.Code, rec.Body.String())
	}
	init := decodeBody(t, rec)
	if init["callId"] != "call-1" || init["accessToken"] != "tok" || init["agentId"] != "agent-es-1" {
		t.Fatalf("unexpected initialize response %v", init)
	}

	rec = do(t, srv, http.MethodPost, "/api/voice/conversations", `{"sessionId":"s1","language":"es"}`)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["callId"] != "call-1" {
		t.Fatalf("expected idempotent initialize, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, "/api/voice/conversations/s1/updates", `{"callId":"call-1","transcriptFragment":"Hola","currentSpeaker":"agent"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body=%s", rec.Code, rec.Body.String())
	}
	if upd := decodeBody(t, rec); upd["accepted"] != true || upd["sequence"] != float64(1) {
		t.Fatalf("unexpected update response %v", upd)
	}

	rec = do(t, srv, http.MethodPost, "/api/voice/conversations/s1/end", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d body=%s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/api/voice/conversations/s1", "")
	snap := decodeBody(t, rec)
	if snap["status"] != "Ended" || len(snap["transcript"].([]any)) != 1 {
		t.Fatalf("unexpected snapshot %v", snap)
	}

	rec = do(t, srv, http.MethodGet, "/api/voice/reports/daily?agentId=agent-es-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d", rec.Code)
	}
	report := decodeBody(t, rec)
	if report["callCount"] != float64(1) || report["provisional"] != true {
		t.Fatalf("unexpected report %v", report)
	}
}

func TestConversationErrors(t *testing.T) {
	srv := newTestServer(t, &stubProvisioner{})
	do(t, srv, http.MethodPost, "/api/voice/conversations", `{"sessionId":"s1","language":"en"}`)
	do(t, srv, http.MethodPost, "/api/voice/conversations", `{"sessionId":"s2","language":"en"}`)
	do(t, srv, http.MethodPost, "/api/voice/conversations/s2/end", `{"reason":"hangup"}`)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"malformed json", http.MethodPost, "/api/voice/conversations", `{"language":`, http.StatusBadRequest},
		{"unsupported language", http.MethodPost, "/api/voice/conversations", `{"language":"de"}`, http.StatusBadRequest},
		{"unknown session", http.MethodPost, "/api/voice/conversations/nope/updates", `{"callId":"c"}`, http.StatusNotFound},
		{"missing call id", http.MethodPost, "/api/voice/conversations/s1/updates", `{}`, http.StatusBadRequest},
		{"call mismatch", http.MethodPost, "/api/voice/conversations/s1/updates", `{"callId":"wrong"}`, http.StatusConflict},
		{"update after end", http.MethodPost, "/api/voice/conversations/s2/updates", `{"callId":"call-2","transcriptFragment":"hi"}`, http.StatusConflict},
		{"unknown period", http.MethodGet, "/api/voice/reports/hourly", "", http.StatusBadRequest},
		{"unknown session lookup", http.MethodGet, "/api/voice/conversations/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.path, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			if decodeBody(t, rec)["error"] == "" {
				t.Fatal("expected error message")
			}
		})
	}
}

func TestInitializeProvisionFailureReturnsBadGateway(t *testing.T) {
	for _, prov := range []*stubProvisioner{{fail: true}, {status: provisioning.CallStatusNotConnected}} {
		srv := newTestServer(t, prov)
		rec := do(t, srv, http.MethodPost, "/api/voice/conversations", `{"sessionId":"s-fail","language":"en"}`)
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502 (body %s)", rec.Code, rec.Body.String())
		}
		if body := decodeBody(t, rec); body["sessionId"] != "s-fail" {
			t.Fatalf("expected session id in failure body, got %v", body)
		}
		rec = do(t, srv, http.MethodGet, "/api/voice/conversations/s-fail", "")
		if decodeBody(t, rec)["status"] != "Failed" {
			t.Fatalf("expected failed session to be inspectable, got %s", rec.Body.String())
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{orchestrator.ErrInvalidRequest, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", voice.ErrUnknownSession), http.StatusNotFound},
		{voice.ErrInvalidTransition, http.StatusConflict},
		{voice.ErrCallMismatch, http.StatusConflict},
		{&voice.ProvisionError{Reason: "x"}, http.StatusBadGateway},
		{&agents.ConfigurationError{Reason: "none"}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
