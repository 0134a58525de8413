package provisioning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wolfman30/voice-orchestrator/pkg/logging"
)

func TestNewWebCallClient_Validation(t *testing.T) {
	if _, err := NewWebCallClient(WebCallClientConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
	c, err := NewWebCallClient(WebCallClientConfig{APIKey: "key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.baseURL != defaultProviderBaseURL {
		t.Errorf("baseURL = %q, want %q", c.baseURL, defaultProviderBaseURL)
	}
}

func TestWebCallClient_CreateCall(t *testing.T) {
	var gotReq CreateCallRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != createWebCallPath {
			t.Errorf("path = %s, want %s", r.URL.Path, createWebCallPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok_1","call_id":"call_1","call_status":"registered","agent_id":"agent-en-1"}`))
	}))
	defer srv.Close()

	c, err := NewWebCallClient(WebCallClientConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/",
		Logger:  logging.Default(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp, err := c.CreateCall(context.Background(), CreateCallRequest{AgentID: "agent-en-1", AgentVersion: 4})
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if resp.CallID != "call_1" || resp.AccessToken != "tok_1" || resp.CallStatus != CallStatusRegistered {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if gotReq.AgentID != "agent-en-1" || gotReq.AgentVersion != 4 {
		t.Fatalf("unexpected request body: %+v", gotReq)
	}
}

func TestWebCallClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"agent not found"}`))
	}))
	defer srv.Close()

	c, _ := NewWebCallClient(WebCallClientConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := c.CreateCall(context.Background(), CreateCallRequest{AgentID: "ghost"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestWebCallClient_RequiresAgent(t *testing.T) {
	c, _ := NewWebCallClient(WebCallClientConfig{APIKey: "k"})
	if _, err := c.CreateCall(context.Background(), CreateCallRequest{}); err == nil {
		t.Fatal("expected error for empty agent")
	}
}
